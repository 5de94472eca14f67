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

// Package blockstore tracks per-resident-block size and LRU position, plus
// the aggregate resident-byte counter (spec.md §4.C). It is not safe for
// concurrent use on its own: the engine package serializes all access to
// it under one mutex, matching spec.md §5.
package blockstore

import "container/list"

// entry is the metadata kept per resident object key.
type entry struct {
	size uint64
	elem *list.Element
}

// Store is a mapping from object key to (size, LRU position) plus the
// doubly linked order that position refers to. The front of the order is
// the most-recently-used key; the back is the least-recently-used.
type Store struct {
	order     *list.List // Value is the object key (string)
	entries   map[string]*entry
	usedBytes uint64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		order:   list.New(),
		entries: make(map[string]*entry),
	}
}

// Insert adds a new MRU entry for key. The caller must ensure key is not
// already present; Store is infallible by contract (spec.md §7) since a
// violation here is a bug in the caller, not a recoverable condition.
func (s *Store) Insert(key string, size uint64) {
	elem := s.order.PushFront(key)
	s.entries[key] = &entry{size: size, elem: elem}
	s.usedBytes += size
}

// UpdateSize adjusts the size of an already-present key and touches it to
// MRU, matching a Store rewrite of an existing block.
func (s *Store) UpdateSize(key string, newSize uint64) {
	e, ok := s.entries[key]
	if !ok {
		return
	}

	s.usedBytes = s.usedBytes - e.size + newSize
	e.size = newSize
	s.order.MoveToFront(e.elem)
}

// Touch moves key to MRU if present; it is a no-op otherwise.
func (s *Store) Touch(key string) {
	if e, ok := s.entries[key]; ok {
		s.order.MoveToFront(e.elem)
	}
}

// RemoveLRU pops the tail of the order (the least-recently-used key) and
// shrinks usedBytes accordingly. ok is false if the store is empty.
func (s *Store) RemoveLRU() (key string, size uint64, ok bool) {
	back := s.order.Back()
	if back == nil {
		return "", 0, false
	}

	key, _ = back.Value.(string)
	e := s.entries[key]
	s.order.Remove(back)
	delete(s.entries, key)
	s.usedBytes -= e.size

	return key, e.size, true
}

// Remove deletes a specific key regardless of its LRU position.
func (s *Store) Remove(key string) (size uint64, ok bool) {
	e, ok := s.entries[key]
	if !ok {
		return 0, false
	}

	s.order.Remove(e.elem)
	delete(s.entries, key)
	s.usedBytes -= e.size

	return e.size, true
}

// SizeOf returns the size of key, if resident.
func (s *Store) SizeOf(key string) (uint64, bool) {
	e, ok := s.entries[key]
	if !ok {
		return 0, false
	}

	return e.size, true
}

// Contains reports whether key is currently resident.
func (s *Store) Contains(key string) bool {
	_, ok := s.entries[key]
	return ok
}

// UsedBytes is the sum of sizes over every resident entry (spec.md I2).
func (s *Store) UsedBytes() uint64 {
	return s.usedBytes
}

// Len is the number of resident entries. Used by tests to assert the P1
// metadata/LRU bijection.
func (s *Store) Len() int {
	return len(s.entries)
}

// Keys returns the resident keys from MRU to LRU. Intended for tests and
// snapshotting, not the hot path.
func (s *Store) Keys() []string {
	keys := make([]string, 0, s.order.Len())
	for e := s.order.Front(); e != nil; e = e.Next() {
		key, _ := e.Value.(string)
		keys = append(keys, key)
	}

	return keys
}

// Clear drops every resident entry and returns the keys that were present,
// for an administrative reset (engine.Clear). The Store is empty on return.
func (s *Store) Clear() []string {
	keys := s.Keys()

	s.order.Init()
	s.entries = make(map[string]*entry)
	s.usedBytes = 0

	return keys
}
