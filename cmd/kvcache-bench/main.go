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

// Command kvcache-bench drives a synthetic, multi-threaded workload against
// an Engine: a mix of prefix reuse (simulating repeated system prompts) and
// fresh random token sequences, each iteration doing a Lookup, an optional
// Store of the next missing block, and an optional Load of a matched block.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/blobstore"
	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/engine"
	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/snapshot"
)

type benchConfig struct {
	iterations    int
	threads       int
	numPrefixes   int
	reuseProb     float64
	blockSize     uint32
	avgBlockBytes int
	capacityBytes uint64

	s3Bucket     string
	inMemory     bool
	dumpSnapshot bool
}

type stats struct {
	ops          atomic.Int64
	hits         atomic.Int64
	bytesStored  atomic.Int64
	getLatencyMs atomic.Int64 // accumulated, microsecond resolution
	putLatencyMs atomic.Int64
	gets         atomic.Int64
	puts         atomic.Int64
}

func main() {
	klog.InitFlags(nil)

	cfg := benchConfig{}
	flag.IntVar(&cfg.iterations, "iterations", 50000, "total lookup/store/load iterations across all threads")
	flag.IntVar(&cfg.threads, "threads", 8, "number of concurrent worker goroutines")
	flag.IntVar(&cfg.numPrefixes, "num-prefixes", 10000, "number of synthetic prefixes pre-generated for reuse")
	flag.Float64Var(&cfg.reuseProb, "reuse-prob", 0.30, "probability a worker reuses a pre-generated prefix instead of a fresh random sequence")
	blockSize := flag.Uint("block-size", 256, "tokens per block")
	flag.IntVar(&cfg.avgBlockBytes, "avg-block-bytes", 1<<20, "bytes per stored block")
	capacity := flag.Uint64("capacity-bytes", 10<<30, "soft capacity bound in bytes")
	flag.StringVar(&cfg.s3Bucket, "s3-bucket", "", "S3 bucket name; empty uses an in-process memory store instead of a real endpoint")
	flag.BoolVar(&cfg.dumpSnapshot, "dump-snapshot", false, "dump a canonical-CBOR snapshot of the final engine state for operational triage")
	flag.Parse()

	cfg.blockSize = uint32(*blockSize)
	cfg.capacityBytes = *capacity
	cfg.inMemory = cfg.s3Bucket == ""

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		klog.FromContext(ctx).Error(err, "benchmark failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg benchConfig) error {
	logger := klog.FromContext(ctx)

	var blob blobstore.Store
	if cfg.inMemory {
		blob = blobstore.NewMemoryStore()
	}

	engineCfg := &engine.Config{
		ModelID:         "bench-model",
		BlockSizeTokens: cfg.blockSize,
		CapacityBytes:   cfg.capacityBytes,
	}
	if !cfg.inMemory {
		engineCfg.S3.Bucket = cfg.s3Bucket
	}

	e, err := engine.New(ctx, engineCfg, blob)
	if err != nil {
		return fmt.Errorf("failed to construct engine: %w", err)
	}
	defer e.Close()

	logger.Info("generating synthetic prefixes", "count", cfg.numPrefixes)
	prefixes := generatePrefixes(cfg)

	allStats := make([]*stats, cfg.threads)
	var wg sync.WaitGroup

	start := time.Now()
	logger.Info("starting workers", "threads", cfg.threads, "iterations", cfg.iterations)

	for i := 0; i < cfg.threads; i++ {
		s := &stats{}
		allStats[i] = s

		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			workerLoop(ctx, e, cfg, prefixes, s, workerID)
		}(i)
	}

	wg.Wait()
	duration := time.Since(start)

	report(duration, allStats, e)

	if cfg.dumpSnapshot {
		if err := dumpSnapshot(logger, e); err != nil {
			return fmt.Errorf("failed to dump engine snapshot: %w", err)
		}
	}

	return nil
}

// dumpSnapshot encodes the engine's final resident state as canonical CBOR
// and logs its size, the way an operator would capture it for offline
// inspection of an invariant violation.
func dumpSnapshot(logger klog.Logger, e *engine.Engine) error {
	snap := e.Snapshot()

	data, err := snapshot.Dump(snap)
	if err != nil {
		return err
	}

	logger.Info("engine snapshot",
		"bytes", len(data),
		"blocks", len(snap.Blocks),
		"prefixes", len(snap.Prefixes))

	return nil
}

func generatePrefixes(cfg benchConfig) [][]uint32 {
	gen := rand.New(rand.NewSource(0))
	prefixes := make([][]uint32, cfg.numPrefixes)

	for i := range prefixes {
		numBlocks := 1 + gen.Intn(8)
		tokens := make([]uint32, numBlocks*int(cfg.blockSize))
		for j := range tokens {
			tokens[j] = uint32(gen.Intn(100000))
		}
		prefixes[i] = tokens
	}

	return prefixes
}

func workerLoop(ctx context.Context, e *engine.Engine, cfg benchConfig, prefixes [][]uint32, s *stats, workerID int) {
	gen := rand.New(rand.NewSource(int64(workerID) + 1))
	perWorker := cfg.iterations / cfg.threads

	for i := 0; i < perWorker; i++ {
		var tokens []uint32
		if gen.Float64() < cfg.reuseProb {
			tokens = prefixes[gen.Intn(len(prefixes))]
		} else {
			numBlocks := 1 + gen.Intn(8)
			tokens = make([]uint32, numBlocks*int(cfg.blockSize))
			for j := range tokens {
				tokens[j] = uint32(gen.Intn(100000))
			}
		}

		matched, handles := e.Lookup(ctx, tokens)
		s.ops.Add(1)
		if matched > 0 {
			s.hits.Add(1)
		}

		fullBlocks := len(tokens) / int(cfg.blockSize)
		matchedBlocks := int(matched) / int(cfg.blockSize)

		if matchedBlocks < fullBlocks {
			blockBytes := make([]byte, cfg.avgBlockBytes)
			for j := range blockBytes {
				blockBytes[j] = byte(workerID)
			}

			putStart := time.Now()
			if err := e.Store(ctx, tokens, uint32(matchedBlocks), blockBytes); err == nil {
				s.bytesStored.Add(int64(len(blockBytes)))
			}
			s.putLatencyMs.Add(time.Since(putStart).Microseconds())
			s.puts.Add(1)
		}

		if len(handles) > 0 {
			ref := handles[gen.Intn(len(handles))]

			getStart := time.Now()
			_, _ = e.Load(ctx, ref)
			s.getLatencyMs.Add(time.Since(getStart).Microseconds())
			s.gets.Add(1)
		}
	}
}

func report(duration time.Duration, allStats []*stats, e *engine.Engine) {
	var totalOps, totalHits, totalBytes, totalGetUs, totalPutUs, totalGets, totalPuts int64
	for _, s := range allStats {
		totalOps += s.ops.Load()
		totalHits += s.hits.Load()
		totalBytes += s.bytesStored.Load()
		totalGetUs += s.getLatencyMs.Load()
		totalPutUs += s.putLatencyMs.Load()
		totalGets += s.gets.Load()
		totalPuts += s.puts.Load()
	}

	opsPerSec := float64(totalOps) / duration.Seconds()
	hitRatio := 0.0
	if totalOps > 0 {
		hitRatio = float64(totalHits) / float64(totalOps)
	}
	avgGetMs, avgPutMs := 0.0, 0.0
	if totalGets > 0 {
		avgGetMs = float64(totalGetUs) / float64(totalGets) / 1000
	}
	if totalPuts > 0 {
		avgPutMs = float64(totalPutUs) / float64(totalPuts) / 1000
	}

	fmt.Println("--- Results ---")
	fmt.Printf("Total duration: %.2f s\n", duration.Seconds())
	fmt.Printf("Ops/sec: %.2f\n", opsPerSec)
	fmt.Printf("Hit ratio: %.2f%%\n", hitRatio*100)
	fmt.Printf("Bytes stored: %.2f MiB\n", float64(totalBytes)/(1024*1024))
	fmt.Printf("Average GET latency: %.2f ms\n", avgGetMs)
	fmt.Printf("Average PUT latency: %.2f ms\n", avgPutMs)
	fmt.Printf("Final used bytes: %.2f MiB / %.2f MiB\n",
		float64(e.UsedBytes())/(1024*1024), float64(e.CapacityBytes())/(1024*1024))
}
