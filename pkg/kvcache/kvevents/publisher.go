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
	"encoding/binary"

	zmq "github.com/pebbe/zmq4"
	"github.com/vmihailenco/msgpack/v5"
	"k8s.io/klog/v2"

	"github.com/rezafmk/promptcachemiddlelayer/pkg/kvcache/logging"
)

// PublisherConfig configures the outbound event feed. An engine with no
// PublisherConfig simply never emits events; nothing about cache
// correctness depends on a subscriber being present.
type PublisherConfig struct {
	// ZMQEndpoint is the address the PUB socket binds to, e.g. "tcp://*:5557".
	ZMQEndpoint string `json:"zmqEndpoint"`
	// Topic prefixes every published frame's topic, which is
	// "<Topic>@<producer-id>", e.g. "kv@<producer-id>" for Topic "kv".
	Topic string `json:"topic"`
	// QueueDepth bounds the number of events buffered for the send loop;
	// while the buffer is full, Publish drops each new event. The feed is
	// advisory: a full queue sheds load rather than blocking the caller (the
	// eviction loop, or a Store commit).
	QueueDepth int `json:"queueDepth"`
}

// DefaultPublisherConfig returns sane defaults for the outbound event feed.
func DefaultPublisherConfig() *PublisherConfig {
	return &PublisherConfig{
		ZMQEndpoint: "tcp://*:5557",
		Topic:       "kv",
		QueueDepth:  1024,
	}
}

// Publisher batches and emits BlockAdmitted/BlockEvicted/CacheCleared
// events over a ZMQ PUB socket. Publish never blocks the caller on network
// I/O: batches are queued to a background goroutine that owns the socket.
type Publisher struct {
	producerID string
	topic      string
	endpoint   string
	queue      chan event
	seq        uint64
}

// NewPublisher constructs a Publisher for producerID (typically the
// engine's own instance identifier) and starts its background send loop.
func NewPublisher(ctx context.Context, cfg *PublisherConfig, producerID string) *Publisher {
	if cfg == nil {
		cfg = DefaultPublisherConfig()
	}

	p := &Publisher{
		producerID: producerID,
		topic:      cfg.Topic,
		endpoint:   cfg.ZMQEndpoint,
		queue:      make(chan event, cfg.QueueDepth),
	}

	go p.run(ctx)

	return p
}

// Publish enqueues an event for delivery. If the outbound queue is full the
// event is dropped and logged; the feed is best-effort.
func (p *Publisher) Publish(ctx context.Context, ev event) {
	select {
	case p.queue <- ev:
	default:
		klog.FromContext(ctx).V(logging.DEBUG).Info("event feed queue full, dropping event", "producer", p.producerID)
	}
}

func (p *Publisher) run(ctx context.Context) {
	logger := klog.FromContext(ctx).WithName("kvevents-publisher")

	pub, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		logger.Error(err, "failed to create publisher socket")
		return
	}
	defer pub.Close()

	if err := pub.Bind(p.endpoint); err != nil {
		logger.Error(err, "failed to bind publisher socket", "endpoint", p.endpoint)
		return
	}
	logger.Info("bound event publisher socket", "endpoint", p.endpoint)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue:
			p.send(logger, ev, pub)
		}
	}
}

func (p *Publisher) send(logger klog.Logger, ev event, pub *zmq.Socket) {
	rawEvent, err := msgpack.Marshal(ev.ToTaggedUnion())
	if err != nil {
		logger.Error(err, "failed to marshal event")
		return
	}

	batch := EventBatch{
		ProducerID: p.producerID,
		Events:     []msgpack.RawMessage{rawEvent},
	}

	payload, err := msgpack.Marshal(&batch)
	if err != nil {
		logger.Error(err, "failed to marshal event batch")
		return
	}

	p.seq++
	seqBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBytes, p.seq)

	topic := p.topic + "@" + p.producerID
	if _, err := pub.SendMessage(topic, seqBytes, payload); err != nil {
		logger.Error(err, "failed to send event batch", "topic", topic)
	}
}
