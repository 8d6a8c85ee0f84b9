// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"time"

	"github.com/senstream/featurepipe/core"
)

// QueueHandle binds a broker to one named work queue, giving pipeline
// stages a source/sink pair without knowing queue names.
type QueueHandle struct {
	b    *Broker
	name string
}

// WorkQueue returns a handle on the named work queue, creating it.
func (b *Broker) WorkQueue(name string) *QueueHandle {
	b.EnsureQueue(name)
	return &QueueHandle{b: b, name: name}
}

// Consume pulls one envelope from the queue, blocking up to timeout.
func (h *QueueHandle) Consume(timeout time.Duration) (*core.Envelope, error) {
	return h.b.Consume(h.name, timeout)
}

// Publish appends one envelope to the queue.
func (h *QueueHandle) Publish(env *core.Envelope) error {
	return h.b.Publish(h.name, env)
}

// TopicHandle binds a broker to one fanout topic as a publish sink.
type TopicHandle struct {
	b    *Broker
	name string
}

// Topic returns a publish handle on the named fanout topic, creating it.
func (b *Broker) Topic(name string) *TopicHandle {
	b.EnsureTopic(name)
	return &TopicHandle{b: b, name: name}
}

// Publish fans the envelope out to every current subscriber.
func (h *TopicHandle) Publish(env *core.Envelope) error {
	return h.b.PublishFanout(h.name, env)
}
