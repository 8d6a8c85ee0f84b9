// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package broker provides the in-process message broker the pipeline is
// built on: named FIFO work queues shared by competing consumers, and
// fanout topics that copy every publish into each subscriber's own queue.
package broker

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/senstream/featurepipe/core"
	"github.com/senstream/featurepipe/metrics"
)

// Well-known queue and topic names.
const (
	AudioStream = "audio_stream"
	FeaturesA   = "features_a"
	FeaturesB   = "features_b"
)

var (
	ErrUnknownQueue = errors.New("unknown queue")
	ErrUnknownTopic = errors.New("unknown topic")
	ErrQueueFull    = errors.New("queue full")
)

// Config holds broker settings.
type Config struct {
	// QueueCapacity bounds each work queue. Publish to a full queue fails
	// with ErrQueueFull instead of blocking the producer.
	QueueCapacity int `yaml:"queue_capacity"`

	// SubscriberCapacity bounds each fanout subscriber queue. A full
	// subscriber loses its copy of the publish (slow-consumer policy).
	SubscriberCapacity int `yaml:"subscriber_capacity"`

	// AutoCreate creates queues and topics on first use. When disabled,
	// operating on an unknown name is a hard error.
	AutoCreate bool `yaml:"auto_create"`
}

// DefaultConfig returns sensible broker defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:      4096,
		SubscriberCapacity: 4096,
		AutoCreate:         true,
	}
}

// Validate checks the configuration for correctness.
func (c Config) Validate() error {
	if c.QueueCapacity <= 0 {
		return errors.New("broker queue capacity must be positive")
	}
	if c.SubscriberCapacity <= 0 {
		return errors.New("broker subscriber capacity must be positive")
	}
	return nil
}

// Broker owns all queues and topics. It is an explicitly constructed
// instance injected into every dependent component; there is no process
// global. Safe for concurrent use.
type Broker struct {
	mu     sync.RWMutex
	queues map[string]*workQueue
	topics map[string]*topic
	cfg    Config
	logger *slog.Logger
}

// New creates an empty broker.
func New(cfg Config, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.SubscriberCapacity <= 0 {
		cfg.SubscriberCapacity = DefaultConfig().SubscriberCapacity
	}

	return &Broker{
		queues: make(map[string]*workQueue),
		topics: make(map[string]*topic),
		cfg:    cfg,
		logger: logger,
	}
}

// EnsureQueue creates the named work queue if it does not exist yet.
// Safe to call repeatedly.
func (b *Broker) EnsureQueue(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.queues[name]; !ok {
		b.queues[name] = newWorkQueue(name, b.cfg.QueueCapacity)
	}
}

// EnsureTopic creates the named fanout topic if it does not exist yet.
// Safe to call repeatedly.
func (b *Broker) EnsureTopic(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.topics[name]; !ok {
		b.topics[name] = newTopic(name)
	}
}

func (b *Broker) queue(name string) (*workQueue, error) {
	b.mu.RLock()
	q, ok := b.queues[name]
	b.mu.RUnlock()
	if ok {
		return q, nil
	}

	if !b.cfg.AutoCreate {
		return nil, ErrUnknownQueue
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok = b.queues[name]; !ok {
		q = newWorkQueue(name, b.cfg.QueueCapacity)
		b.queues[name] = q
	}
	return q, nil
}

func (b *Broker) topicByName(name string) (*topic, error) {
	b.mu.RLock()
	t, ok := b.topics[name]
	b.mu.RUnlock()
	if ok {
		return t, nil
	}

	if !b.cfg.AutoCreate {
		return nil, ErrUnknownTopic
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok = b.topics[name]; !ok {
		t = newTopic(name)
		b.topics[name] = t
	}
	return t, nil
}

// Publish appends an envelope to a work queue. It never blocks: a full
// queue fails fast with ErrQueueFull.
func (b *Broker) Publish(queueName string, env *core.Envelope) error {
	q, err := b.queue(queueName)
	if err != nil {
		return err
	}

	if err := q.publish(env); err != nil {
		return err
	}

	metrics.PublishedTotal.WithLabelValues(queueName).Inc()
	return nil
}

// Consume removes and returns one envelope from a work queue, blocking up
// to timeout. An elapsed timeout is not an error: it returns (nil, nil).
// Every published envelope is delivered to exactly one Consume call.
func (b *Broker) Consume(queueName string, timeout time.Duration) (*core.Envelope, error) {
	q, err := b.queue(queueName)
	if err != nil {
		return nil, err
	}

	env := q.consume(timeout)
	if env != nil {
		metrics.ConsumedTotal.WithLabelValues(queueName).Inc()
	}
	return env, nil
}

// Depth returns the number of envelopes pending in a work queue.
func (b *Broker) Depth(queueName string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	q, ok := b.queues[queueName]
	if !ok {
		return 0
	}
	return q.depth()
}

// Subscribe registers a new independent subscriber queue on a fanout topic
// and returns its handle. Subscribers only receive envelopes published
// after registration; there is no replay. Callers that must not miss
// messages subscribe before the publishers they care about start.
func (b *Broker) Subscribe(topicName string) (*Subscription, error) {
	t, err := b.topicByName(topicName)
	if err != nil {
		return nil, err
	}
	return t.subscribe(b.cfg.SubscriberCapacity), nil
}

// Unsubscribe detaches a subscriber from its topic. Pending envelopes in
// the subscriber's queue are discarded.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.RLock()
	t, ok := b.topics[sub.topic]
	b.mu.RUnlock()
	if ok {
		t.unsubscribe(sub)
	}
}

// PublishFanout copies the envelope into every subscriber queue registered
// at call time. With no subscribers the publish completes with no effect.
// Each subscriber present in the snapshot gets exactly one whole copy.
func (b *Broker) PublishFanout(topicName string, env *core.Envelope) error {
	t, err := b.topicByName(topicName)
	if err != nil {
		return err
	}

	delivered, dropped := t.publish(env)
	if delivered > 0 {
		metrics.FanoutDeliveredTotal.WithLabelValues(topicName).Add(float64(delivered))
	}
	if dropped > 0 {
		metrics.FanoutDroppedTotal.WithLabelValues(topicName).Add(float64(dropped))
		b.logger.Warn("fanout subscriber overrun, copies dropped",
			slog.String("topic", topicName),
			slog.Int("dropped", dropped))
	}
	return nil
}

// SubscriberCount returns the number of active subscribers on a topic.
func (b *Broker) SubscriberCount(topicName string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.topics[topicName]
	if !ok {
		return 0
	}
	return t.subscriberCount()
}

// PurgeAll clears the contents of every work queue and every subscriber
// queue while preserving queue, topic, and subscription identities, so
// publish/consume/subscribe keep working without re-registration.
func (b *Broker) PurgeAll() {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, q := range b.queues {
		q.purge()
	}
	for _, t := range b.topics {
		t.purge()
	}
	b.logger.Debug("broker purged",
		slog.Int("queues", len(b.queues)),
		slog.Int("topics", len(b.topics)))
}
