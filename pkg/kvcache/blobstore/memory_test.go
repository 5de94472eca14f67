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

package blobstore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/blobstore"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	s := blobstore.NewMemoryStore()
	ctx := t.Context()

	err := s.Put(ctx, "k", []byte("hello"))
	require.NoError(t, err)

	data, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	s := blobstore.NewMemoryStore()
	_, err := s.Get(t.Context(), "missing")
	require.ErrorIs(t, err, blobstore.ErrNotFound)
}

func TestMemoryStoreDeleteIdempotent(t *testing.T) {
	s := blobstore.NewMemoryStore()
	ctx := t.Context()

	require.NoError(t, s.Put(ctx, "k", []byte("v")))
	require.NoError(t, s.Delete(ctx, "k"))
	require.NoError(t, s.Delete(ctx, "k")) // second delete is not an error

	assert.Equal(t, 0, s.Len())
}
