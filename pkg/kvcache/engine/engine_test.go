package engine_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/blobstore"
	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/engine"
)

func newTestEngine(t *testing.T, blockSize uint32, capacityBytes uint64) (*engine.Engine, blobstore.Store) {
	t.Helper()

	blob := blobstore.NewMemoryStore()
	cfg := &engine.Config{
		ModelID:         "demo-model",
		BlockSizeTokens: blockSize,
		CapacityBytes:   capacityBytes,
		GCPollInterval:  20 * time.Millisecond,
	}

	e, err := engine.New(t.Context(), cfg, blob)
	require.NoError(t, err)
	t.Cleanup(e.Close)

	return e, blob
}

func TestBlockAlignmentRejectsPartial(t *testing.T) {
	e, _ := newTestEngine(t, 4, 1<<30)
	ctx := t.Context()

	matched, handles := e.Lookup(ctx, []uint32{10, 11, 12})
	assert.Equal(t, uint32(0), matched)
	assert.Empty(t, handles)

	err := e.Store(ctx, []uint32{10, 11, 12}, 0, []byte("x"))
	require.ErrorIs(t, err, engine.ErrInvalidArg)
}

func TestSingleBlockRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t, 2, 1<<30)
	ctx := t.Context()

	tokens := []uint32{7, 8}
	require.NoError(t, e.Store(ctx, tokens, 0, []byte("hello")))

	matched, handles := e.Lookup(ctx, tokens)
	require.Equal(t, uint32(2), matched)
	require.Len(t, handles, 1)

	data, err := e.Load(ctx, handles[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestLongestPrefixPreference(t *testing.T) {
	e, _ := newTestEngine(t, 2, 1<<30)
	ctx := t.Context()

	short := []uint32{1, 2}
	long := []uint32{1, 2, 3, 4}

	require.NoError(t, e.Store(ctx, short, 0, []byte("s0")))
	require.NoError(t, e.Store(ctx, long, 0, []byte("l0")))
	require.NoError(t, e.Store(ctx, long, 1, []byte("l1")))

	matched, handles := e.Lookup(ctx, []uint32{1, 2, 3, 4, 5, 6})
	require.Equal(t, uint32(4), matched)
	require.Len(t, handles, 2)

	data0, err := e.Load(ctx, handles[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("l0"), data0)

	data1, err := e.Load(ctx, handles[1])
	require.NoError(t, err)
	assert.Equal(t, []byte("l1"), data1)
}

func TestNonContiguousStoreDoesNotExtendPrefix(t *testing.T) {
	e, _ := newTestEngine(t, 2, 1<<30)
	ctx := t.Context()

	tokens := []uint32{1, 2, 3, 4, 5, 6}

	require.NoError(t, e.Store(ctx, tokens, 2, []byte("block2")))

	matched, handles := e.Lookup(ctx, tokens)
	assert.Equal(t, uint32(0), matched)
	assert.Empty(t, handles)
}

func TestCapacityAndEviction(t *testing.T) {
	const blockSize = 4 // bytes per stored block in this test
	e, blob := newTestEngine(t, 2, 3*blockSize)
	ctx := t.Context()

	keys := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		tokens := []uint32{uint32(100 + i), uint32(200 + i)}
		require.NoError(t, e.Store(ctx, tokens, 0, []byte("AAAA")))

		matched, handles := e.Lookup(ctx, tokens)
		require.Equal(t, uint32(2), matched)
		keys = append(keys, handles[0].ObjectKey)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && e.UsedBytes() > 3*blockSize {
		time.Sleep(10 * time.Millisecond)
	}

	assert.LessOrEqual(t, e.UsedBytes(), uint64(3*blockSize))

	present := 0
	for _, k := range keys {
		if _, err := blob.Get(ctx, k); err == nil {
			present++
		}
	}
	assert.Equal(t, 3, present, "exactly one stored block should have been evicted")
}

func TestStaleHandle(t *testing.T) {
	e, _ := newTestEngine(t, 2, 1<<30)
	ctx := t.Context()

	tokens := []uint32{1, 2}
	require.NoError(t, e.Store(ctx, tokens, 0, []byte("abcd")))

	matched, handles := e.Lookup(ctx, tokens)
	require.Equal(t, uint32(2), matched)
	require.Len(t, handles, 1)
	ref := handles[0]

	e.SetCapacityBytes(1) // tiny capacity forces eviction before Load

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && e.UsedBytes() > 1 {
		time.Sleep(10 * time.Millisecond)
	}

	_, err := e.Load(ctx, ref)
	require.ErrorIs(t, err, engine.ErrStaleHandle)
}

func TestClearDropsAllBlocksAndPrefixes(t *testing.T) {
	e, blob := newTestEngine(t, 2, 1<<30)
	ctx := t.Context()

	tokens := []uint32{1, 2, 3, 4}
	require.NoError(t, e.Store(ctx, tokens, 0, []byte("l0")))
	require.NoError(t, e.Store(ctx, tokens, 1, []byte("l1")))

	matched, handles := e.Lookup(ctx, tokens)
	require.Equal(t, uint32(4), matched)
	require.Len(t, handles, 2)

	e.Clear(ctx)

	assert.Equal(t, uint64(0), e.UsedBytes())

	matched, after := e.Lookup(ctx, tokens)
	assert.Equal(t, uint32(0), matched)
	assert.Empty(t, after)

	for _, h := range handles {
		_, err := blob.Get(ctx, h.ObjectKey)
		assert.Error(t, err)
	}
}

func TestSnapshotReflectsResidentState(t *testing.T) {
	e, _ := newTestEngine(t, 2, 1<<30)
	ctx := t.Context()

	require.NoError(t, e.Store(ctx, []uint32{1, 2, 3, 4}, 0, []byte("l0")))
	require.NoError(t, e.Store(ctx, []uint32{1, 2, 3, 4}, 1, []byte("l11")))

	snap := e.Snapshot()
	assert.Equal(t, "demo-model", snap.ModelID)
	assert.EqualValues(t, 2, snap.BlockSize)
	assert.EqualValues(t, 1<<30, snap.CapacityBytes)
	assert.EqualValues(t, 5, snap.UsedBytes)
	require.Len(t, snap.Blocks, 2)
	require.Len(t, snap.Prefixes, 1)
	assert.EqualValues(t, 1, snap.Prefixes[0].HWM)

	var total uint64
	for _, b := range snap.Blocks {
		total += b.SizeBytes
	}
	assert.EqualValues(t, snap.UsedBytes, total)
}

func TestSetCapacityBytesTriggersEviction(t *testing.T) {
	e, _ := newTestEngine(t, 2, 1<<30)
	ctx := t.Context()

	require.NoError(t, e.Store(ctx, []uint32{1, 2}, 0, []byte("abcd")))
	require.Equal(t, uint64(4), e.UsedBytes())

	e.SetCapacityBytes(0)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && e.UsedBytes() > 0 {
		time.Sleep(10 * time.Millisecond)
	}

	assert.Equal(t, uint64(0), e.UsedBytes())
}
