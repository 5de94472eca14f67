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
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// fakeSink records every decoded event it receives, guarded by a mutex since
// dispatch can be called from multiple pool workers.
type fakeSink struct {
	mu       sync.Mutex
	admitted []BlockAdmitted
	evicted  []BlockEvicted
	cleared  []CacheCleared
}

func (s *fakeSink) OnBlockAdmitted(_ context.Context, _ string, ev BlockAdmitted) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.admitted = append(s.admitted, ev)
}

func (s *fakeSink) OnBlockEvicted(_ context.Context, _ string, ev BlockEvicted) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evicted = append(s.evicted, ev)
}

func (s *fakeSink) OnCacheCleared(_ context.Context, _ string, ev CacheCleared) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, ev)
}

// encodeBatch mirrors Publisher.send's wire format: each event is tagged,
// marshaled, and collected into an EventBatch.
func encodeBatch(t *testing.T, producerID string, events ...event) []byte {
	t.Helper()

	raws := make([]msgpack.RawMessage, 0, len(events))
	for _, ev := range events {
		raw, err := msgpack.Marshal(ev.ToTaggedUnion())
		require.NoError(t, err)
		raws = append(raws, raw)
	}

	payload, err := msgpack.Marshal(&EventBatch{ProducerID: producerID, Events: raws})
	require.NoError(t, err)

	return payload
}

func TestProcessMessageDispatchesBlockAdmitted(t *testing.T) {
	sink := &fakeSink{}
	p := NewPool(&Config{Concurrency: 2}, sink)

	payload := encodeBatch(t, "producer-1", BlockAdmitted{
		ModelID:     "demo-model",
		Fingerprint: "abc123",
		BlockIndex:  2,
		SizeBytes:   4096,
	})

	p.processMessage(t.Context(), &Message{Payload: payload, ProducerID: "producer-1"})

	require.Len(t, sink.admitted, 1)
	assert.Equal(t, "demo-model", sink.admitted[0].ModelID)
	assert.Equal(t, "abc123", sink.admitted[0].Fingerprint)
	assert.EqualValues(t, 2, sink.admitted[0].BlockIndex)
	assert.EqualValues(t, 4096, sink.admitted[0].SizeBytes)
}

func TestProcessMessageDispatchesMixedBatch(t *testing.T) {
	sink := &fakeSink{}
	p := NewPool(&Config{Concurrency: 2}, sink)

	payload := encodeBatch(t, "producer-1",
		BlockAdmitted{ModelID: "m", Fingerprint: "pk", BlockIndex: 0, SizeBytes: 10},
		BlockEvicted{ModelID: "m", Fingerprint: "pk", BlockIndex: 0},
		CacheCleared{ModelID: "m"},
	)

	p.processMessage(t.Context(), &Message{Payload: payload, ProducerID: "producer-1"})

	assert.Len(t, sink.admitted, 1)
	assert.Len(t, sink.evicted, 1)
	assert.Len(t, sink.cleared, 1)
}

func TestProcessMessageDropsUndecodableBatch(t *testing.T) {
	sink := &fakeSink{}
	p := NewPool(&Config{Concurrency: 2}, sink)

	p.processMessage(t.Context(), &Message{Payload: []byte("not msgpack"), ProducerID: "producer-1"})

	assert.Empty(t, sink.admitted)
	assert.Empty(t, sink.evicted)
	assert.Empty(t, sink.cleared)
}

func TestAddTaskShardsSameProducerConsistently(t *testing.T) {
	p := NewPool(&Config{Concurrency: 4}, &fakeSink{})

	p.AddTask(&Message{ProducerID: "producer-a"})
	p.AddTask(&Message{ProducerID: "producer-a"})
	p.AddTask(&Message{ProducerID: "producer-b"})

	var total int
	var sawTwo bool
	for _, q := range p.queues {
		switch l := q.Len(); l {
		case 2:
			sawTwo = true
			total += l
		case 0, 1:
			total += l
		default:
			t.Fatalf("unexpected queue length %d", l)
		}
	}

	assert.Equal(t, 3, total)
	assert.True(t, sawTwo, "producer-a's two messages should land on the same shard")
}
