// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sync"
	"time"

	"github.com/senstream/featurepipe/core"
)

// topic is a registry of independent subscriber queues. publish works
// against a consistent snapshot of the registered subscribers, so a
// subscribe racing with a publish either gets the whole copy or none.
type topic struct {
	name string
	mu   sync.RWMutex
	subs []*Subscription
}

func newTopic(name string) *topic {
	return &topic{name: name}
}

func (t *topic) subscribe(capacity int) *Subscription {
	sub := &Subscription{
		topic: t.name,
		ch:    make(chan *core.Envelope, capacity),
	}

	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()

	return sub
}

func (t *topic) unsubscribe(sub *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, s := range t.subs {
		if s == sub {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			return
		}
	}
}

// publish delivers a deep copy of env to every subscriber in the current
// snapshot. Returns delivered and dropped copy counts.
func (t *topic) publish(env *core.Envelope) (delivered, dropped int) {
	t.mu.RLock()
	subs := make([]*Subscription, len(t.subs))
	copy(subs, t.subs)
	t.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.ch <- env.Clone():
			delivered++
		default:
			dropped++
		}
	}
	return delivered, dropped
}

func (t *topic) subscriberCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

func (t *topic) purge() {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, sub := range t.subs {
		sub.purge()
	}
}

// Subscription is one subscriber's private queue on a fanout topic.
// Envelopes arrive in the topic's publish order.
type Subscription struct {
	topic string
	ch    chan *core.Envelope
}

// Topic returns the name of the topic this subscription is bound to.
func (s *Subscription) Topic() string {
	return s.topic
}

// Consume removes and returns the next envelope, blocking up to timeout.
// An elapsed timeout returns (nil, nil), mirroring Broker.Consume.
func (s *Subscription) Consume(timeout time.Duration) (*core.Envelope, error) {
	if timeout <= 0 {
		select {
		case env := <-s.ch:
			return env, nil
		default:
			return nil, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-s.ch:
		return env, nil
	case <-timer.C:
		return nil, nil
	}
}

// Pending returns the number of undelivered envelopes in this subscription.
func (s *Subscription) Pending() int {
	return len(s.ch)
}

func (s *Subscription) purge() {
	for {
		select {
		case <-s.ch:
		default:
			return
		}
	}
}
