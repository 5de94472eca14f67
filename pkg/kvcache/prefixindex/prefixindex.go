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

// Package prefixindex maps prefix fingerprints to the highest contiguous
// block index known to be resident (spec.md §4.D). Only the high-water
// mark is kept, not a per-block bitmap, which is what keeps lookup O(1)
// per candidate prefix length instead of proportional to block count.
//
// Index is bounded by a hashicorp/golang-lru cache so an unbounded stream
// of distinct prefixes (e.g. churn from many short-lived sessions) cannot
// grow the index without limit; an evicted prefix record behaves exactly
// like one that was never stored, which is a conforming "no record"
// outcome under spec.md §4.D.
package prefixindex

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/fingerprint"
)

// defaultMaxPrefixes bounds the number of tracked prefix records.
const defaultMaxPrefixes = 1_000_000

// Config holds the configuration for the prefix index.
type Config struct {
	// MaxPrefixes is the maximum number of distinct prefix fingerprints
	// tracked at once. Least-recently-touched records are dropped first.
	MaxPrefixes int `json:"maxPrefixes"`
}

// DefaultConfig returns the default prefix index configuration.
func DefaultConfig() *Config {
	return &Config{MaxPrefixes: defaultMaxPrefixes}
}

// Index is the prefix-fingerprint-to-hwm map described by spec.md §4.D.
// Every method here is assumed to be called while the engine already holds
// its own lock; Index performs no internal synchronization.
type Index struct {
	records *lru.Cache[fingerprint.Key, uint32]
}

// New creates an Index from cfg, or DefaultConfig() if cfg is nil.
func New(cfg *Config) (*Index, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	records, err := lru.New[fingerprint.Key, uint32](cfg.MaxPrefixes)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prefix index: %w", err)
	}

	return &Index{records: records}, nil
}

// Lookup returns the hwm for pk, if a record exists.
func (idx *Index) Lookup(pk fingerprint.Key) (hwm uint32, ok bool) {
	return idx.records.Get(pk)
}

// RecordStore applies a single block Store to the prefix record for pk, per
// spec.md §4.D: a fresh record is created only at index 0; an existing
// record only advances by exactly one block; a rewrite of the current hwm
// is idempotent; any other (non-contiguous) index leaves the record
// unchanged.
func (idx *Index) RecordStore(pk fingerprint.Key, index uint32) {
	hwm, ok := idx.records.Get(pk)

	switch {
	case !ok && index == 0:
		idx.records.Add(pk, 0)
	case ok && index == hwm+1:
		idx.records.Add(pk, index)
	default:
		// Idempotent rewrite (index == hwm) or a non-contiguous store:
		// the contract does not extend the matchable range in either case.
	}
}

// Forget drops the record for pk. Used only by the engine's optional strict
// HWM walk-back on eviction (spec.md §9).
func (idx *Index) Forget(pk fingerprint.Key) {
	idx.records.Remove(pk)
}

// SetHWM forcibly sets the hwm for pk, bypassing the contiguity check in
// RecordStore. Used only by the engine's optional strict HWM walk-back: when
// a block below the current hwm is evicted, the owning prefix's hwm must be
// able to move backward, which RecordStore's append-only contract disallows.
func (idx *Index) SetHWM(pk fingerprint.Key, hwm uint32) {
	idx.records.Add(pk, hwm)
}

// Len reports the number of tracked prefix records. Used by tests.
func (idx *Index) Len() int {
	return idx.records.Len()
}

// Purge drops every tracked prefix record, for an administrative reset
// (engine.Clear).
func (idx *Index) Purge() {
	idx.records.Purge()
}

// Record is one tracked prefix fingerprint and its current high-water mark.
type Record struct {
	PK  fingerprint.Key
	HWM uint32
}

// Records returns every tracked prefix record, in no particular order, for
// point-in-time introspection (engine.Snapshot). Peek does not touch LRU
// recency, so calling this never itself evicts a record.
func (idx *Index) Records() []Record {
	keys := idx.records.Keys()
	out := make([]Record, 0, len(keys))

	for _, pk := range keys {
		if hwm, ok := idx.records.Peek(pk); ok {
			out = append(out, Record{PK: pk, HWM: hwm})
		}
	}

	return out
}
