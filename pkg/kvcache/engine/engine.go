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

// Package engine orchestrates Lookup/Load/Store and the background
// eviction loop described in spec.md §4.E and §5, under a single
// engine-wide mutex. It is the only package that holds fingerprint,
// blockstore, prefixindex, and blobstore together; none of those packages
// know about each other.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/klog/v2"

	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/blobstore"
	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/blockstore"
	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/fingerprint"
	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/hotcache"
	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/kvevents"
	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/logging"
	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/metrics"
	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/prefixindex"
	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/snapshot"
)

// BlockRef is an opaque handle to one resident block, returned by Lookup
// and consumed by Load. Its validity is not guaranteed between the two
// calls: Load on a handle whose block was evicted meanwhile returns
// ErrStaleHandle.
type BlockRef struct {
	ObjectKey string
	Size      uint64
	Index     uint32
}

// Engine is the cache described by spec.md §4.E. It must be constructed
// with New and torn down with Close, which joins the eviction worker.
type Engine struct {
	cfg        Config
	blob       blobstore.Store
	hot        *hotcache.Cache
	publisher  *kvevents.Publisher
	producerID string

	mu   sync.Mutex
	cond *sync.Cond
	stop bool
	wg   sync.WaitGroup
	sf   singleflight.Group

	blocks   *blockstore.Store
	prefixes *prefixindex.Index
}

// New constructs an Engine from cfg. If blob is nil, a MinioStore is built
// from cfg.S3 (after ApplyEnvDefaults); passing a non-nil blob (e.g. an
// in-memory fake) is how tests and the benchmark harness avoid a real
// S3-compatible endpoint.
func New(ctx context.Context, cfg *Config, blob blobstore.Store) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.ApplyEnvDefaults()

	if cfg.BlockSizeTokens == 0 {
		return nil, fmt.Errorf("%w: block_size_tokens must be > 0", ErrInvalidArg)
	}
	if len(cfg.ModelID) > 65535 {
		return nil, fmt.Errorf("%w: model_id exceeds 65535 bytes", ErrInvalidArg)
	}

	if blob == nil {
		minioStore, err := blobstore.NewMinioStore(cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to construct blob store: %v", ErrConfigError, err)
		}
		blob = minioStore
	}

	prefixes, err := prefixindex.New(cfg.PrefixIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to construct prefix index: %v", ErrConfigError, err)
	}

	var hot *hotcache.Cache
	if cfg.HotCache != nil {
		hot, err = hotcache.New(cfg.HotCache)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to construct hot cache: %v", ErrConfigError, err)
		}
	}

	producerID, _ := os.Hostname()
	if producerID == "" {
		producerID = cfg.ModelID
	}
	producerID = fmt.Sprintf("%s-%d", producerID, os.Getpid())

	var publisher *kvevents.Publisher
	if cfg.Events != nil {
		publisher = kvevents.NewPublisher(ctx, cfg.Events, producerID)
	}

	e := &Engine{
		cfg:        *cfg,
		blob:       blob,
		hot:        hot,
		publisher:  publisher,
		producerID: producerID,
		blocks:     blockstore.New(),
		prefixes:   prefixes,
	}
	e.cond = sync.NewCond(&e.mu)

	metrics.Register()
	metrics.CapacityBytes.Set(float64(cfg.CapacityBytes))

	if cfg.MetricsLoggingInterval > 0 {
		// non-blocking; runs until ctx is canceled.
		metrics.StartMetricsLogging(ctx, cfg.MetricsLoggingInterval)
	}

	e.wg.Add(1)
	go e.gcLoop(ctx)

	// gcLoop blocks on cond.Wait when used_bytes is within capacity; this
	// goroutine periodically broadcasts so it re-checks at least once per
	// GCPollInterval even with no intervening Store/SetCapacityBytes call,
	// matching the bounded-timeout wait in spec.md §4.E step 1.
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()

		ticker := time.NewTicker(cfg.GCPollInterval)
		defer ticker.Stop()

		for range ticker.C {
			e.mu.Lock()
			stop := e.stop
			e.cond.Broadcast()
			e.mu.Unlock()

			if stop {
				return
			}
		}
	}()

	return e, nil
}

// Close stops the eviction worker and its poll ticker and waits for both to
// exit. It does not abort in-flight blob calls (spec.md §5).
func (e *Engine) Close() {
	e.mu.Lock()
	e.stop = true
	e.cond.Broadcast()
	e.mu.Unlock()

	e.wg.Wait()

	if e.hot != nil {
		_ = e.hot.Close()
	}
}

// Lookup implements spec.md §4.E: it prefers the longest block-aligned
// prefix and returns the materialized handles for the first fingerprint
// known to the index, truncating to the longest contiguous run actually
// resident in the metadata store.
func (e *Engine) Lookup(ctx context.Context, tokens []uint32) (matchedTokens uint32, handles []BlockRef) {
	start := time.Now()
	metrics.LookupRequests.Inc()
	defer func() { metrics.LookupLatency.Observe(time.Since(start).Seconds()) }()

	b := e.cfg.BlockSizeTokens
	n := uint32(len(tokens))
	k := (n / b) * b
	if k == 0 {
		return 0, nil
	}

	logger := klog.FromContext(ctx).V(logging.TRACE)

	e.mu.Lock()
	defer e.mu.Unlock()

	for ; k >= b; k -= b {
		pk, err := fingerprint.Compute(tokens[:k], b, e.cfg.ModelID)
		if err != nil {
			logger.Error(err, "failed to compute fingerprint during lookup")
			return 0, nil
		}

		hwm, ok := e.prefixes.Lookup(pk)
		if !ok {
			continue
		}

		m := min(k/b, hwm+1)
		out := make([]BlockRef, 0, m)

		for i := uint32(0); i < m; i++ {
			key := fingerprint.ObjectKey(e.cfg.ModelID, b, pk, i)

			size, resident := e.blocks.SizeOf(key)
			if !resident {
				for _, h := range out {
					e.blocks.Touch(h.ObjectKey)
				}

				matched := i * b
				if matched > 0 {
					metrics.LookupHits.Inc()
				}

				return matched, out
			}

			out = append(out, BlockRef{ObjectKey: key, Size: size, Index: i})
		}

		for _, h := range out {
			e.blocks.Touch(h.ObjectKey)
		}

		metrics.LookupHits.Inc()

		return m * b, out
	}

	return 0, nil
}

// Load fetches the bytes for ref, preferring the hot cache when configured.
func (e *Engine) Load(ctx context.Context, ref BlockRef) ([]byte, error) {
	if e.hot != nil {
		if data, ok := e.hot.Get(ctx, ref.ObjectKey); ok {
			e.touchIfResident(ref.ObjectKey)
			return data, nil
		}
	}

	data, err := e.blob.Get(ctx, ref.ObjectKey)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrStaleHandle, ref.ObjectKey)
		}

		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	e.touchIfResident(ref.ObjectKey)

	if e.hot != nil {
		e.hot.Set(ctx, ref.ObjectKey, data)
	}

	return data, nil
}

func (e *Engine) touchIfResident(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.blocks.Touch(key)
}

// Store commits one block: blob PUT, then metadata insert/update and
// prefix-index extension under the lock, per spec.md §4.E and §5's
// PUT-then-metadata ordering contract. Concurrent Store calls for the
// identical object key are collapsed via singleflight so a duplicate
// upload from racing callers does not double the PUT traffic.
//
// The prefix fingerprint covers every whole block of tokens, so all blocks
// stored for one token sequence share one prefix record and a Lookup of
// that sequence (or a longer one) matches them together.
func (e *Engine) Store(ctx context.Context, tokens []uint32, blockIndex uint32, data []byte) error {
	b := e.cfg.BlockSizeTokens
	needed := (blockIndex + 1) * b
	if uint32(len(tokens)) < needed {
		return fmt.Errorf("%w: have %d tokens, need %d for block index %d", ErrInvalidArg, len(tokens), needed, blockIndex)
	}

	aligned := (uint32(len(tokens)) / b) * b
	pk, err := fingerprint.Compute(tokens[:aligned], b, e.cfg.ModelID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigError, err)
	}
	key := fingerprint.ObjectKey(e.cfg.ModelID, b, pk, blockIndex)

	_, err, _ = e.sf.Do(key, func() (any, error) {
		if putErr := e.blob.Put(ctx, key, data); putErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransient, putErr)
		}

		if e.hot != nil {
			e.hot.Set(ctx, key, data)
		}

		e.mu.Lock()
		size := uint64(len(data))
		if _, resident := e.blocks.SizeOf(key); resident {
			e.blocks.UpdateSize(key, size)
		} else {
			e.blocks.Insert(key, size)
			metrics.Admissions.Inc()
		}
		e.prefixes.RecordStore(pk, blockIndex)

		usedBytes := e.blocks.UsedBytes()
		over := usedBytes > e.cfg.CapacityBytes
		metrics.UsedBytes.Set(float64(usedBytes))
		e.mu.Unlock()

		if over {
			e.mu.Lock()
			e.cond.Broadcast()
			e.mu.Unlock()
		}

		if e.publisher != nil {
			e.publisher.Publish(ctx, kvevents.BlockAdmitted{
				ModelID:     e.cfg.ModelID,
				Fingerprint: pk.String(),
				BlockIndex:  blockIndex,
				SizeBytes:   size,
			})
		}

		return nil, nil
	})

	return err
}

// UsedBytes is the current sum of resident block sizes.
func (e *Engine) UsedBytes() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.blocks.UsedBytes()
}

// CapacityBytes is the current soft capacity bound.
func (e *Engine) CapacityBytes() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.cfg.CapacityBytes
}

// SetCapacityBytes changes the soft capacity bound, waking the eviction
// worker if the new bound is already exceeded.
func (e *Engine) SetCapacityBytes(cap uint64) {
	e.mu.Lock()
	e.cfg.CapacityBytes = cap
	over := e.blocks.UsedBytes() > cap
	if over {
		e.cond.Broadcast()
	}
	e.mu.Unlock()

	metrics.CapacityBytes.Set(float64(cap))
}

// Snapshot returns a point-in-time, deterministically-serializable view of
// the engine's resident state (block sizes + LRU order, prefix hwms, and
// capacity), for operational triage and test assertions. It takes the same
// lock Lookup/Store take, so a Snapshot never observes a torn commit.
func (e *Engine) Snapshot() snapshot.Engine {
	e.mu.Lock()
	defer e.mu.Unlock()

	keys := e.blocks.Keys()
	blocks := make([]snapshot.Block, 0, len(keys))
	for _, key := range keys {
		size, _ := e.blocks.SizeOf(key)
		blocks = append(blocks, snapshot.Block{ObjectKey: key, SizeBytes: size})
	}

	records := e.prefixes.Records()
	prefixes := make([]snapshot.Prefix, 0, len(records))
	for _, r := range records {
		prefixes = append(prefixes, snapshot.Prefix{Fingerprint: r.PK.String(), HWM: r.HWM})
	}

	return snapshot.Engine{
		ModelID:       e.cfg.ModelID,
		BlockSize:     e.cfg.BlockSizeTokens,
		CapacityBytes: e.cfg.CapacityBytes,
		UsedBytes:     e.blocks.UsedBytes(),
		Prefixes:      prefixes,
		Blocks:        blocks,
	}
}

// Clear drops every resident block for this engine's model: an
// administrative reset rather than ordinary capacity-driven eviction. Blob
// DELETEs and hot-cache evictions run unlocked, matching the eviction
// loop's lock discipline; a failed DELETE is logged, not surfaced, since
// the metadata commit (the source of truth for residency) has already
// happened by the time DELETE is attempted.
func (e *Engine) Clear(ctx context.Context) {
	logger := klog.FromContext(ctx).WithName("kvcache-gc")

	e.mu.Lock()
	keys := e.blocks.Clear()
	e.prefixes.Purge()
	metrics.UsedBytes.Set(0)
	e.mu.Unlock()

	for _, key := range keys {
		if delErr := e.blob.Delete(ctx, key); delErr != nil {
			logger.Error(delErr, "failed to delete object during cache clear; it may leak", "key", key)
		}
		if e.hot != nil {
			e.hot.Evict(ctx, key)
		}
		metrics.Evictions.Inc()
	}

	if e.publisher != nil {
		e.publisher.Publish(ctx, kvevents.CacheCleared{ModelID: e.cfg.ModelID})
	}
}

// gcLoop is the background reclamation worker described in spec.md §4.E.
func (e *Engine) gcLoop(ctx context.Context) {
	defer e.wg.Done()

	logger := klog.FromContext(ctx).WithName("kvcache-gc")

	e.mu.Lock()
	for {
		for !e.stop && e.blocks.UsedBytes() <= e.cfg.CapacityBytes {
			e.cond.Wait()
		}

		if e.stop {
			e.mu.Unlock()
			return
		}

		for e.blocks.UsedBytes() > e.cfg.CapacityBytes {
			key, _, ok := e.blocks.RemoveLRU()
			if !ok {
				break
			}
			metrics.UsedBytes.Set(float64(e.blocks.UsedBytes()))

			e.mu.Unlock()

			if delErr := e.blob.Delete(ctx, key); delErr != nil {
				logger.Error(delErr, "failed to delete evicted object; it may leak", "key", key)
			}
			if e.hot != nil {
				e.hot.Evict(ctx, key)
			}
			metrics.Evictions.Inc()

			pk, idx, parseErr := fingerprint.ParseObjectKey(key)
			if parseErr == nil && e.publisher != nil {
				e.publisher.Publish(ctx, kvevents.BlockEvicted{
					ModelID:     e.cfg.ModelID,
					Fingerprint: pk.String(),
					BlockIndex:  idx,
				})
			}

			e.mu.Lock()

			if e.cfg.StrictHWM && parseErr == nil {
				if hwm, ok := e.prefixes.Lookup(pk); ok && idx <= hwm {
					if idx == 0 {
						e.prefixes.Forget(pk)
					} else {
						e.prefixes.SetHWM(pk, idx-1)
					}
				}
			}
		}
	}
}
