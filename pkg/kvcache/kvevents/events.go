// Copyright 2025 The llm-d Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package kvevents

import (
	"github.com/vmihailenco/msgpack/v5"
)

const (
	// BlockAdmittedEventTag tags a BlockAdmitted event.
	BlockAdmittedEventTag = "BlockAdmitted"
	// BlockEvictedEventTag tags a BlockEvicted event.
	BlockEvictedEventTag = "BlockEvicted"
	// CacheClearedEventTag tags a CacheCleared event.
	CacheClearedEventTag = "CacheCleared"
)

// event is a marker interface for cache lifecycle events.
type event interface {
	isEvent()
	ToTaggedUnion() []any
}

// EventBatch is a batch of events emitted by one engine instance.
type EventBatch struct {
	_          struct{} `msgpack:",array"`
	TS         float64
	ProducerID string
	Events     []msgpack.RawMessage
}

// BlockAdmitted reports that a block committed into the metadata store
// (blob PUT followed by prefix-index/block-store commit).
type BlockAdmitted struct {
	_           struct{} `msgpack:",array"`
	ModelID     string
	Fingerprint string
	BlockIndex  uint32
	SizeBytes   uint64
}

// ToTaggedUnion implements event.
func (b BlockAdmitted) ToTaggedUnion() []any {
	return []any{
		BlockAdmittedEventTag,
		b.ModelID,
		b.Fingerprint,
		b.BlockIndex,
		b.SizeBytes,
	}
}

func (BlockAdmitted) isEvent() {}

// BlockEvicted reports that the eviction loop reclaimed a block: its
// metadata entry was removed before the underlying blob DELETE was issued.
type BlockEvicted struct {
	_           struct{} `msgpack:",array"`
	ModelID     string
	Fingerprint string
	BlockIndex  uint32
}

// ToTaggedUnion implements event.
func (b BlockEvicted) ToTaggedUnion() []any {
	return []any{
		BlockEvictedEventTag,
		b.ModelID,
		b.Fingerprint,
		b.BlockIndex,
	}
}

func (BlockEvicted) isEvent() {}

// CacheCleared reports that every block for a model was dropped, e.g. by
// an administrative reset.
type CacheCleared struct {
	_       struct{} `msgpack:",array"`
	ModelID string
}

// ToTaggedUnion implements event.
func (c CacheCleared) ToTaggedUnion() []any {
	return []any{
		CacheClearedEventTag,
		c.ModelID,
	}
}

func (CacheCleared) isEvent() {}
