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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryRejectsDuplicateCallIDs(t *testing.T) {
	r := NewSessionRegistry()
	params := CallSessionParams{CallID: "call-1", Agent: &AgentConfig{ID: "a"}, QueueDepth: 4}

	_, err := r.Open(t.Context(), params)
	require.NoError(t, err)

	_, err = r.Open(t.Context(), params)
	require.Error(t, err)
	assert.ErrorAs(t, err, &DuplicateSessionError{})
	assert.Equal(t, 1, r.Len())
}

func TestRegistryCloseIsIdempotent(t *testing.T) {
	r := NewSessionRegistry()
	session, err := r.Open(t.Context(), CallSessionParams{
		CallID: "call-1", Agent: &AgentConfig{ID: "a"}, QueueDepth: 4,
	})
	require.NoError(t, err)

	closed := r.Close("call-1", "hang up")
	require.Same(t, session, closed)
	assert.Equal(t, StateEnded, session.State())
	assert.True(t, session.Inbound().IsClosed())
	assert.Error(t, session.Context().Err())

	// Second close and closes for unknown calls are no-ops.
	assert.Nil(t, r.Close("call-1", "again"))
	assert.Nil(t, r.Close("call-2", "unknown"))
	assert.Zero(t, r.Len())
}

func TestRegistryReopenAfterClose(t *testing.T) {
	r := NewSessionRegistry()
	params := CallSessionParams{CallID: "call-1", Agent: &AgentConfig{ID: "a"}, QueueDepth: 4}

	first, err := r.Open(t.Context(), params)
	require.NoError(t, err)
	r.Close("call-1", "done")

	second, err := r.Open(t.Context(), params)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRegistryCloseAll(t *testing.T) {
	r := NewSessionRegistry()
	for _, callID := range []string{"call-1", "call-2", "call-3"} {
		_, err := r.Open(t.Context(), CallSessionParams{
			CallID: callID, Agent: &AgentConfig{ID: "a"}, QueueDepth: 4,
		})
		require.NoError(t, err)
	}

	r.CloseAll("shutdown")
	assert.Zero(t, r.Len())
}
