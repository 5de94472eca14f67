package kvevents_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/kvevents"
)

func TestBlockAdmittedRoundTrip(t *testing.T) {
	ev := kvevents.BlockAdmitted{
		ModelID:     "llama-7b",
		Fingerprint: "abc123",
		BlockIndex:  3,
		SizeBytes:   4096,
	}

	raw, err := msgpack.Marshal(ev.ToTaggedUnion())
	assert.NoError(t, err)

	var taggedUnion []msgpack.RawMessage
	assert.NoError(t, msgpack.Unmarshal(raw, &taggedUnion))
	assert.Len(t, taggedUnion, 5)

	var tag string
	assert.NoError(t, msgpack.Unmarshal(taggedUnion[0], &tag))
	assert.Equal(t, kvevents.BlockAdmittedEventTag, tag)
}

func TestBlockEvictedRoundTrip(t *testing.T) {
	ev := kvevents.BlockEvicted{ModelID: "llama-7b", Fingerprint: "abc123", BlockIndex: 3}

	raw, err := msgpack.Marshal(ev.ToTaggedUnion())
	assert.NoError(t, err)

	var taggedUnion []msgpack.RawMessage
	assert.NoError(t, msgpack.Unmarshal(raw, &taggedUnion))
	assert.Len(t, taggedUnion, 4)
}

func TestCacheClearedRoundTrip(t *testing.T) {
	ev := kvevents.CacheCleared{ModelID: "llama-7b"}

	raw, err := msgpack.Marshal(ev.ToTaggedUnion())
	assert.NoError(t, err)

	var taggedUnion []msgpack.RawMessage
	assert.NoError(t, msgpack.Unmarshal(raw, &taggedUnion))
	assert.Len(t, taggedUnion, 2)

	var tag string
	assert.NoError(t, msgpack.Unmarshal(taggedUnion[0], &tag))
	assert.Equal(t, kvevents.CacheClearedEventTag, tag)
}
