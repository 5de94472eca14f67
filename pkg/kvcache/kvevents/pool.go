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
	"hash/fnv"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"

	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/logging"
)

// Sink receives decoded events from the subscriber pool. Implementations
// are never the source of truth for cache residency (that's always the
// producing engine's own metadata store); a Sink observes the feed for
// purposes like cross-instance visibility or metrics mirroring.
type Sink interface {
	OnBlockAdmitted(ctx context.Context, producerID string, ev BlockAdmitted)
	OnBlockEvicted(ctx context.Context, producerID string, ev BlockEvicted)
	OnCacheCleared(ctx context.Context, producerID string, ev CacheCleared)
}

// Config configures the consumer-side event processing pool.
type Config struct {
	// ZMQEndpoint is the ZMQ address to connect to (e.g., "tcp://engine:5557").
	ZMQEndpoint string `json:"zmqEndpoint"`
	// TopicFilter is the ZMQ subscription filter (e.g., "kv@").
	TopicFilter string `json:"topicFilter"`
	// Concurrency is the number of parallel workers to run.
	Concurrency int `json:"concurrency"`
}

// DefaultConfig returns a default configuration for the event processing pool.
func DefaultConfig() *Config {
	return &Config{
		ZMQEndpoint: "tcp://127.0.0.1:5557",
		TopicFilter: "kv@",
		Concurrency: 4,
	}
}

// Message is one frame read from the ZMQ feed.
type Message struct {
	Topic   string
	Payload []byte
	Seq     uint64
	// ProducerID identifies the engine instance that emitted the event,
	// extracted from the topic.
	ProducerID string
}

// Pool is a sharded worker pool that processes events from a ZMQ subscriber.
// Events from the same producer are always routed to the same worker, so a
// producer's admissions and evictions are observed in emission order.
type Pool struct {
	queues      []workqueue.TypedRateLimitingInterface[*Message]
	concurrency int
	subscriber  *zmqSubscriber
	sink        Sink
	wg          sync.WaitGroup
}

// NewPool creates a Pool with a sharded worker setup.
func NewPool(cfg *Config, sink Sink) *Pool {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	p := &Pool{
		queues:      make([]workqueue.TypedRateLimitingInterface[*Message], cfg.Concurrency),
		concurrency: cfg.Concurrency,
		sink:        sink,
	}

	for i := 0; i < p.concurrency; i++ {
		p.queues[i] = workqueue.NewTypedRateLimitingQueue(workqueue.DefaultTypedControllerRateLimiter[*Message]())
	}

	p.subscriber = newZMQSubscriber(p, cfg.ZMQEndpoint, cfg.TopicFilter)

	return p
}

// Start begins the worker pool and the ZMQ subscriber. Non-blocking.
func (p *Pool) Start(ctx context.Context) {
	logger := klog.FromContext(ctx)
	logger.Info("starting sharded event processing pool", "workers", p.concurrency)

	p.wg.Add(p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		go p.worker(ctx, i)
	}

	go p.subscriber.Start(ctx)
}

// Shutdown gracefully stops the pool and its subscriber.
func (p *Pool) Shutdown(ctx context.Context) {
	logger := klog.FromContext(ctx)
	logger.Info("shutting down event processing pool")

	for _, queue := range p.queues {
		queue.ShutDown()
	}

	p.wg.Wait()
	logger.Info("event processing pool shut down")
}

// AddTask is called by the subscriber to enqueue a received message. The
// producer identifier is hashed to pick a shard so one producer's events
// always land on the same worker.
func (p *Pool) AddTask(task *Message) {
	h := fnv.New32a()
	if _, err := h.Write([]byte(task.ProducerID)); err != nil {
		return
	}

	//nolint:gosec // concurrency overflowing uint32 is not a realistic concern
	queueIndex := h.Sum32() % uint32(p.concurrency)
	p.queues[queueIndex].Add(task)
}

func (p *Pool) worker(ctx context.Context, workerIndex int) {
	defer p.wg.Done()
	queue := p.queues[workerIndex]
	for {
		task, shutdown := queue.Get()
		if shutdown {
			return
		}

		func(task *Message) {
			defer queue.Done(task)
			p.processMessage(ctx, task)
			queue.Forget(task)
		}(task)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// processMessage deserializes the message payload and dispatches each
// decoded event to the Sink.
func (p *Pool) processMessage(ctx context.Context, msg *Message) {
	debugLogger := klog.FromContext(ctx).V(logging.DEBUG)
	debugLogger.Info("processing event batch", "topic", msg.Topic, "seq", msg.Seq)

	var batch EventBatch
	if err := msgpack.Unmarshal(msg.Payload, &batch); err != nil {
		debugLogger.Error(err, "failed to unmarshal event batch, dropping message")
		return
	}

	for _, rawEvent := range batch.Events {
		var taggedUnion []msgpack.RawMessage
		if err := msgpack.Unmarshal(rawEvent, &taggedUnion); err != nil {
			debugLogger.Error(err, "failed to unmarshal tagged union, skipping event")
			continue
		}

		if len(taggedUnion) < 1 {
			debugLogger.Error(nil, "malformed tagged union, no tag element")
			continue
		}

		var tag string
		if err := msgpack.Unmarshal(taggedUnion[0], &tag); err != nil {
			debugLogger.Error(err, "failed to unmarshal tag, skipping event")
			continue
		}

		payloadBytes, err := msgpack.Marshal(taggedUnion[1:])
		if err != nil {
			debugLogger.Error(err, "failed to re-marshal payload, skipping event")
			continue
		}

		p.dispatch(ctx, msg.ProducerID, tag, payloadBytes, debugLogger)
	}
}

func (p *Pool) dispatch(ctx context.Context, producerID, tag string, payload []byte, debugLogger klog.Logger) {
	switch tag {
	case BlockAdmittedEventTag:
		var ev BlockAdmitted
		if err := msgpack.Unmarshal(payload, &ev); err != nil {
			debugLogger.Error(err, "failed to unmarshal BlockAdmitted")
			return
		}
		p.sink.OnBlockAdmitted(ctx, producerID, ev)
	case BlockEvictedEventTag:
		var ev BlockEvicted
		if err := msgpack.Unmarshal(payload, &ev); err != nil {
			debugLogger.Error(err, "failed to unmarshal BlockEvicted")
			return
		}
		p.sink.OnBlockEvicted(ctx, producerID, ev)
	case CacheClearedEventTag:
		var ev CacheCleared
		if err := msgpack.Unmarshal(payload, &ev); err != nil {
			debugLogger.Error(err, "failed to unmarshal CacheCleared")
			return
		}
		p.sink.OnCacheCleared(ctx, producerID, ev)
	default:
		debugLogger.Info("unknown event tag", "tag", tag)
	}
}
