package snapshot_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/snapshot"
)

func testEngine() snapshot.Engine {
	return snapshot.Engine{
		ModelID:       "llama-7b",
		BlockSize:     16,
		CapacityBytes: 1 << 30,
		UsedBytes:     4096,
		Prefixes: []snapshot.Prefix{
			{Fingerprint: "abc123", HWM: 2},
		},
		Blocks: []snapshot.Block{
			{ObjectKey: "llama-7b/b16/abc123/0.kv", SizeBytes: 2048},
			{ObjectKey: "llama-7b/b16/abc123/1.kv", SizeBytes: 2048},
		},
	}
}

func TestDumpIsDeterministic(t *testing.T) {
	e := testEngine()

	a, err := snapshot.Dump(e)
	require.NoError(t, err)

	b, err := snapshot.Dump(e)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestDumpLoadRoundTrip(t *testing.T) {
	e := testEngine()

	data, err := snapshot.Dump(e)
	require.NoError(t, err)

	got, err := snapshot.Load(data)
	require.NoError(t, err)
	assert.Equal(t, e, got)
}
