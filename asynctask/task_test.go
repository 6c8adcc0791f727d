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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskAwait(t *testing.T) {
	task := CreateTask(t.Context(), func(context.Context) (int, error) {
		return 42, nil
	})

	result := task.Await()
	require.NoError(t, result.Error)
	assert.Equal(t, 42, result.Value)
	assert.True(t, task.IsDone())
	assert.False(t, task.IsCanceled())
}

func TestTaskCancel(t *testing.T) {
	started := make(chan struct{})
	task := CreateTaskNoValue(t.Context(), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	<-started
	task.Cancel()

	result := task.Await()
	assert.True(t, task.IsCanceled())
	assert.ErrorIs(t, result.Error, TaskCanceledErr())
}

func TestTaskRecoversPanic(t *testing.T) {
	task := CreateTaskNoValue(t.Context(), func(context.Context) error {
		panic("boom")
	})

	result := task.Await()
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "boom")
}

func TestGroupCancelAll(t *testing.T) {
	var g Group
	started := make(chan struct{}, 2)
	for range 2 {
		g.Go(t.Context(), func(ctx context.Context) error {
			started <- struct{}{}
			<-ctx.Done()
			return nil
		})
	}
	<-started
	<-started

	g.Cancel()

	done := make(chan error, 1)
	go func() { done <- g.AwaitAll() }()
	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation must not surface as a failure")
	case <-time.After(time.Second):
		t.Fatal("AwaitAll did not return after Cancel")
	}
}

func TestGroupAwaitAllJoinsErrors(t *testing.T) {
	var g Group
	wantErr := errors.New("stage failed")
	g.Go(t.Context(), func(context.Context) error { return nil })
	g.Go(t.Context(), func(context.Context) error { return wantErr })

	err := g.AwaitAll()
	assert.ErrorIs(t, err, wantErr)
}
