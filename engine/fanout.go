// Copyright 2026 The CallWave Authors
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

package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/callwave-ai/callengine/asyncqueue"
	"github.com/callwave-ai/callengine/asynctask"
)

// defaultPublishGraceTimeout is how long Publish waits on a full subscriber
// queue before dropping the subscriber.
const defaultPublishGraceTimeout = 100 * time.Millisecond

// Subscriber consumes session events. OnEvent runs on the subscriber's own
// delivery goroutine, never on the pipeline's hot path; a returned error is
// logged and delivery continues.
type Subscriber interface {
	OnEvent(event SessionEvent) error
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(event SessionEvent) error

func (f SubscriberFunc) OnEvent(event SessionEvent) error { return f(event) }

// SnapshotFunc produces the events a late subscriber receives before live
// delivery begins, typically the current state of every open session.
type SnapshotFunc func() []SessionEvent

type fanoutMember struct {
	name  string
	sub   Subscriber
	queue *asyncqueue.Queue[SessionEvent]
}

// EventFanout mirrors session events to external consumers. Each subscriber
// gets a bounded delivery queue drained by its own task, so one slow consumer
// cannot stall the pipeline or its peers. A subscriber whose queue stays full
// past the grace timeout is dropped rather than allowed to apply backpressure
// inward.
type EventFanout struct {
	mu           sync.Mutex
	members      map[string]*fanoutMember
	tasks        asynctask.Group
	queueDepth   int
	graceTimeout time.Duration
	snapshot     SnapshotFunc
	closed       bool
}

type EventFanoutParams struct {
	// QueueDepth bounds each subscriber's delivery queue.
	QueueDepth int

	// GraceTimeout is how long Publish waits on a full subscriber queue
	// before dropping the subscriber. Zero means the default.
	GraceTimeout time.Duration

	// Snapshot, when set, is invoked on Subscribe to replay current state to
	// the new subscriber before live events.
	Snapshot SnapshotFunc
}

func NewEventFanout(params EventFanoutParams) *EventFanout {
	if params.QueueDepth < 1 {
		params.QueueDepth = 1
	}
	if params.GraceTimeout <= 0 {
		params.GraceTimeout = defaultPublishGraceTimeout
	}
	return &EventFanout{
		members:      make(map[string]*fanoutMember),
		queueDepth:   params.QueueDepth,
		graceTimeout: params.GraceTimeout,
		snapshot:     params.Snapshot,
	}
}

// Subscribe registers a named subscriber. If a snapshot function is
// configured, the snapshot events are enqueued first so the subscriber joins
// with a consistent view. Re-subscribing an existing name replaces the old
// subscription.
func (f *EventFanout) Subscribe(name string, sub Subscriber) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	if old, ok := f.members[name]; ok {
		old.queue.Close()
	}

	m := &fanoutMember{
		name:  name,
		sub:   sub,
		queue: asyncqueue.NewBounded[SessionEvent](f.queueDepth),
	}
	f.tasks.Go(context.Background(), func(ctx context.Context) error {
		for {
			event, ok := m.queue.Get()
			if !ok {
				return nil
			}
			if err := m.sub.OnEvent(event); err != nil {
				Logger().Warn("event subscriber returned error",
					slog.String("subscriber", m.name), slog.String("error", err.Error()))
			}
		}
	})
	f.members[name] = m

	if f.snapshot != nil {
		for _, event := range f.snapshot() {
			if !m.queue.TryPut(event) {
				break
			}
		}
	}
}

// Unsubscribe removes a subscriber and lets its queue drain.
func (f *EventFanout) Unsubscribe(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.members[name]; ok {
		m.queue.Close()
		delete(f.members, name)
	}
}

// Publish delivers one event to every subscriber. A full subscriber queue is
// given the grace timeout to make room; a consumer still stalled after that
// has fallen irrecoverably behind and is dropped with a warning rather than
// allowed to stall delivery.
func (f *EventFanout) Publish(event SessionEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for name, m := range f.members {
		if !m.queue.PutTimeout(event, f.graceTimeout) {
			Logger().Warn("event subscriber queue overflow, dropping subscriber",
				slog.String("subscriber", name))
			m.queue.Close()
			delete(f.members, name)
		}
	}
}

// Close detaches every subscriber and waits for their queues to drain.
func (f *EventFanout) Close() {
	f.mu.Lock()
	f.closed = true
	for name, m := range f.members {
		m.queue.Close()
		delete(f.members, name)
	}
	f.mu.Unlock()

	if err := f.tasks.AwaitAll(); err != nil {
		Logger().Warn("event delivery task failed", slog.String("error", err.Error()))
	}
}
