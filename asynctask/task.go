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

package asynctask

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Task is a cancellable unit of concurrent work. It wraps one goroutine whose
// context is cancelled by Cancel and whose outcome is retrieved with Await.
// A Task recovers panics into errors, so a failing stage call can never take
// down the process.
type Task[T any] struct {
	mu       *sync.RWMutex
	cond     *sync.Cond
	cancel   context.CancelFunc
	canceled bool
	done     bool
	result   Result[T]
}

type Result[T any] struct {
	Value T
	Error error
}

var taskCanceledErr = errors.New("task has been canceled")

func TaskCanceledErr() error { return taskCanceledErr }

// Await blocks until the task function has returned and yields its result.
func (t *Task[T]) Await() Result[T] {
	t.cond.L.Lock()
	for !t.done {
		t.cond.Wait()
	}
	t.cond.L.Unlock()
	return t.result
}

func (t *Task[T]) IsDone() bool {
	t.mu.RLock()
	done := t.done
	t.mu.RUnlock()
	return done
}

func (t *Task[T]) IsCanceled() bool {
	t.mu.RLock()
	canceled := t.canceled
	t.mu.RUnlock()
	return canceled
}

// Cancel cancels the task's context. The task function decides how quickly it
// reacts; Await still returns its final result, with TaskCanceledErr joined in.
func (t *Task[T]) Cancel() {
	t.mu.Lock()
	if !t.done && !t.canceled {
		t.cancel()
		t.canceled = true
	}
	t.mu.Unlock()
}

type TaskFunc[T any] = func(context.Context) (T, error)

// CreateTask starts fn on its own goroutine with a context nested inside ctx.
// Cancelling ctx cancels the task transitively.
func CreateTask[T any](ctx context.Context, fn TaskFunc[T]) *Task[T] {
	var cancel context.CancelFunc
	ctx, cancel = context.WithCancel(ctx)
	mu := new(sync.RWMutex)
	t := &Task[T]{
		mu:     mu,
		cond:   sync.NewCond(mu),
		cancel: cancel,
	}

	go func() {
		var value T
		var err error

		defer func() {
			if r := recover(); r != nil {
				err = errors.Join(err, fmt.Errorf("task panicked: %v", r))
			}

			t.cond.L.Lock()
			if t.canceled {
				err = errors.Join(err, TaskCanceledErr())
			}
			t.result = Result[T]{Value: value, Error: err}
			t.done = true
			t.cond.L.Unlock()
			t.cond.Broadcast()

			cancel()
		}()

		value, err = fn(ctx)
	}()

	return t
}

type TaskNoValue = Task[struct{}]

func CreateTaskNoValue(ctx context.Context, fn func(context.Context) error) *TaskNoValue {
	return CreateTask[struct{}](ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
}

// Group tracks tasks that belong to one cancellation scope, e.g. every stage
// call of a single conversational turn. Cancelling the group cancels each
// member; AwaitAll joins their errors.
type Group struct {
	mu    sync.Mutex
	tasks []*TaskNoValue
}

// Go starts fn as a member of the group.
func (g *Group) Go(ctx context.Context, fn func(context.Context) error) *TaskNoValue {
	task := CreateTaskNoValue(ctx, fn)
	g.mu.Lock()
	g.tasks = append(g.tasks, task)
	g.mu.Unlock()
	return task
}

// Cancel cancels every member task that is still running.
func (g *Group) Cancel() {
	for _, task := range g.members() {
		if !task.IsDone() {
			task.Cancel()
		}
	}
}

// AwaitAll waits for every member and returns their joined errors.
// Cancellation errors are not treated as failures.
func (g *Group) AwaitAll() error {
	var err error
	for _, task := range g.members() {
		result := task.Await()
		if result.Error != nil && !errors.Is(result.Error, taskCanceledErr) {
			err = errors.Join(err, result.Error)
		}
	}
	return err
}

func (g *Group) members() []*TaskNoValue {
	g.mu.Lock()
	defer g.mu.Unlock()
	tasks := make([]*TaskNoValue, len(g.tasks))
	copy(tasks, g.tasks)
	return tasks
}
