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
)

// SessionRegistry owns the mapping from call IDs to live sessions. Opening an
// already-open call fails; closing is idempotent.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*CallSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*CallSession),
	}
}

// Open creates and registers a session for callID. A session already
// registered under the same call ID yields DuplicateSessionError.
func (r *SessionRegistry) Open(ctx context.Context, params CallSessionParams) (*CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[params.CallID]; ok {
		return nil, DuplicateSessionError{CallID: params.CallID}
	}

	session := NewCallSession(ctx, params)
	r.sessions[params.CallID] = session
	return session, nil
}

// Get returns the live session for callID.
func (r *SessionRegistry) Get(callID string) (*CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[callID]
	if !ok {
		return nil, SessionNotFoundError{CallID: callID}
	}
	return session, nil
}

// Close tears down the session for callID and removes it from the registry.
// Closing an unknown or already-closed call is a no-op: telephony layers
// deliver end-of-call notifications at least once, not exactly once.
func (r *SessionRegistry) Close(callID, reason string) *CallSession {
	r.mu.Lock()
	session, ok := r.sessions[callID]
	if ok {
		delete(r.sessions, callID)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	// Force the terminal transition before cancelling work, so observers see
	// ended exactly once and late transitions get rejected.
	if session.State() != StateEnded {
		if err := session.Machine().Transition(StateEnded, reason); err != nil {
			Logger().Warn("error forcing session to ended",
				slog.String("call_id", callID), slog.String("error", err.Error()))
		}
	}
	session.close()
	return session
}

// Len reports the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll tears down every live session.
func (r *SessionRegistry) CloseAll(reason string) {
	r.mu.Lock()
	callIDs := make([]string, 0, len(r.sessions))
	for callID := range r.sessions {
		callIDs = append(callIDs, callID)
	}
	r.mu.Unlock()

	for _, callID := range callIDs {
		r.Close(callID, reason)
	}
}
