/*
Copyright 2025 The llm-d Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package blockstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/blockstore"
)

func TestInsertAndUsedBytes(t *testing.T) {
	s := blockstore.New()

	s.Insert("a", 10)
	s.Insert("b", 20)

	assert.EqualValues(t, 30, s.UsedBytes())
	assert.Equal(t, 2, s.Len())

	size, ok := s.SizeOf("a")
	assert.True(t, ok)
	assert.EqualValues(t, 10, size)
}

func TestTouchReordersToMRU(t *testing.T) {
	s := blockstore.New()
	s.Insert("a", 1)
	s.Insert("b", 1)
	s.Insert("c", 1)

	// Order is MRU->LRU: c, b, a
	assert.Equal(t, []string{"c", "b", "a"}, s.Keys())

	s.Touch("a")
	assert.Equal(t, []string{"a", "c", "b"}, s.Keys())
}

func TestRemoveLRUEvictsTail(t *testing.T) {
	s := blockstore.New()
	s.Insert("a", 1)
	s.Insert("b", 2)
	s.Insert("c", 3)

	key, size, ok := s.RemoveLRU()
	assert.True(t, ok)
	assert.Equal(t, "a", key)
	assert.EqualValues(t, 1, size)
	assert.False(t, s.Contains("a"))
	assert.EqualValues(t, 5, s.UsedBytes())
}

func TestRemoveLRUOnEmptyStore(t *testing.T) {
	s := blockstore.New()
	_, _, ok := s.RemoveLRU()
	assert.False(t, ok)
}

func TestUpdateSizeAdjustsCounterAndTouches(t *testing.T) {
	s := blockstore.New()
	s.Insert("a", 10)
	s.Insert("b", 5)

	s.UpdateSize("a", 30)
	assert.EqualValues(t, 35, s.UsedBytes())
	assert.Equal(t, []string{"a", "b"}, s.Keys())
}

func TestRemoveTargeted(t *testing.T) {
	s := blockstore.New()
	s.Insert("a", 10)
	s.Insert("b", 5)

	size, ok := s.Remove("a")
	assert.True(t, ok)
	assert.EqualValues(t, 10, size)
	assert.EqualValues(t, 5, s.UsedBytes())
	assert.Equal(t, 1, s.Len())

	_, ok = s.Remove("missing")
	assert.False(t, ok)
}

func TestClearEmptiesStoreAndReturnsKeys(t *testing.T) {
	s := blockstore.New()
	s.Insert("a", 10)
	s.Insert("b", 20)

	keys := s.Clear()
	assert.ElementsMatch(t, []string{"a", "b"}, keys)
	assert.Equal(t, 0, s.Len())
	assert.EqualValues(t, 0, s.UsedBytes())
	assert.Empty(t, s.Keys())

	_, ok := s.SizeOf("a")
	assert.False(t, ok)
}

// TestBijection is a lightweight P1-style property check: every key that
// appears in Keys() has exactly one SizeOf, and Len matches.
func TestBijection(t *testing.T) {
	s := blockstore.New()
	for i, key := range []string{"a", "b", "c", "d"} {
		s.Insert(key, uint64(i+1))
	}

	s.Touch("b")
	s.Remove("a")
	_, _, _ = s.RemoveLRU()

	keys := s.Keys()
	assert.Equal(t, s.Len(), len(keys))

	seen := make(map[string]bool)
	for _, k := range keys {
		assert.False(t, seen[k], "duplicate key in LRU order")
		seen[k] = true
		_, ok := s.SizeOf(k)
		assert.True(t, ok)
	}
}
