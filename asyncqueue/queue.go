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

package asyncqueue

import (
	"sync"
	"time"
)

// Queue is a FIFO queue coordinated with a condition variable.
//
// A queue created with New is unbounded. A queue created with NewBounded
// blocks producers once the capacity is reached, which is how pipeline stages
// apply backpressure to their upstream stage instead of buffering without
// limit.
//
// Closing a queue wakes every blocked producer and consumer. Consumers drain
// the remaining values, then receive ok=false.
type Queue[T any] struct {
	cond     *sync.Cond
	values   []T
	capacity int // <= 0 means unbounded
	closed   bool
}

func New[T any]() *Queue[T] {
	return &Queue[T]{
		cond: sync.NewCond(&sync.Mutex{}),
	}
}

// NewBounded creates a queue which holds at most capacity values.
// A capacity <= 0 yields an unbounded queue.
func NewBounded[T any](capacity int) *Queue[T] {
	return &Queue[T]{
		cond:     sync.NewCond(&sync.Mutex{}),
		capacity: capacity,
	}
}

// Put appends v, blocking while the queue is at capacity.
// It reports false if the queue is (or becomes) closed.
func (q *Queue[T]) Put(v T) bool {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	for q.isFull() && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return false
	}
	q.put(v)
	return true
}

// TryPut appends v only if there is room right now.
func (q *Queue[T]) TryPut(v T) bool {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	if q.closed || q.isFull() {
		return false
	}
	q.put(v)
	return true
}

// PutTimeout appends v, blocking at most timeout while the queue is full.
// It reports false on timeout or if the queue is closed.
func (q *Queue[T]) PutTimeout(v T, timeout time.Duration) bool {
	timedOut := false
	timer := time.AfterFunc(timeout, func() {
		q.cond.L.Lock()
		timedOut = true
		q.cond.L.Unlock()
		q.cond.Broadcast()
	})
	defer timer.Stop()

	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	for q.isFull() && !q.closed && !timedOut {
		q.cond.Wait()
	}
	if q.closed || q.isFull() {
		return false
	}
	q.put(v)
	return true
}

// Get removes and returns the oldest value, blocking while the queue is
// empty. It reports ok=false once the queue is closed and drained.
func (q *Queue[T]) Get() (T, bool) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	for len(q.values) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.values) == 0 {
		var zero T
		return zero, false
	}
	return q.get(), true
}

// GetTimeout is like Get but gives up after timeout.
func (q *Queue[T]) GetTimeout(timeout time.Duration) (T, bool) {
	timedOut := false
	timer := time.AfterFunc(timeout, func() {
		q.cond.L.Lock()
		timedOut = true
		q.cond.L.Unlock()
		q.cond.Broadcast()
	})
	defer timer.Stop()

	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	for len(q.values) == 0 && !q.closed && !timedOut {
		q.cond.Wait()
	}
	if len(q.values) == 0 {
		var zero T
		return zero, false
	}
	return q.get(), true
}

// GetNoWait removes and returns the oldest value only if one is available.
func (q *Queue[T]) GetNoWait() (T, bool) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()

	if len(q.values) == 0 {
		var zero T
		return zero, false
	}
	return q.get(), true
}

// Close marks the queue closed. Put calls fail from now on; Get calls keep
// draining buffered values. Closing an already-closed queue is a no-op.
func (q *Queue[T]) Close() {
	q.cond.L.Lock()
	q.closed = true
	q.cond.L.Unlock()
	q.cond.Broadcast()
}

func (q *Queue[T]) IsClosed() bool {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	return q.closed
}

func (q *Queue[T]) IsEmpty() bool {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	return len(q.values) == 0
}

func (q *Queue[T]) Len() int {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	return len(q.values)
}

func (q *Queue[T]) isFull() bool {
	return q.capacity > 0 && len(q.values) >= q.capacity
}

func (q *Queue[T]) put(v T) {
	q.values = append(q.values, v)
	q.cond.Broadcast()
}

func (q *Queue[T]) get() T {
	v := q.values[0]
	copy(q.values[:len(q.values)-1], q.values[1:])
	clear(q.values[len(q.values)-1:]) // helps GC
	q.values = q.values[:len(q.values)-1]
	q.cond.Broadcast()
	return v
}
