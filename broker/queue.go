// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"time"

	"github.com/senstream/featurepipe/core"
)

// workQueue is a bounded FIFO shared by competing consumers. The channel
// gives exactly-one-consumer delivery and per-queue FIFO ordering without
// extra locking; purge only drains, it never closes the channel.
type workQueue struct {
	name string
	ch   chan *core.Envelope
}

func newWorkQueue(name string, capacity int) *workQueue {
	return &workQueue{
		name: name,
		ch:   make(chan *core.Envelope, capacity),
	}
}

func (q *workQueue) publish(env *core.Envelope) error {
	select {
	case q.ch <- env:
		return nil
	default:
		return ErrQueueFull
	}
}

// consume blocks up to timeout. A non-positive timeout polls without
// waiting. Returns nil when no envelope arrived in time.
func (q *workQueue) consume(timeout time.Duration) *core.Envelope {
	if timeout <= 0 {
		select {
		case env := <-q.ch:
			return env
		default:
			return nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case env := <-q.ch:
		return env
	case <-timer.C:
		return nil
	}
}

func (q *workQueue) depth() int {
	return len(q.ch)
}

func (q *workQueue) purge() {
	for {
		select {
		case <-q.ch:
		default:
			return
		}
	}
}
