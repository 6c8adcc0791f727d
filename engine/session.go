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
	"sync"
	"time"

	"github.com/callwave-ai/callengine/asyncqueue"
	"github.com/google/uuid"
)

// CallSession is all per-call state: identity, the state machine, the turn
// log, and the inbound audio queue feeding the pipeline. Sessions are created
// by the registry on call start and torn down exactly once on call end.
type CallSession struct {
	// ID is the engine-assigned session identifier.
	ID string

	// CallID is the telephony layer's identifier for the call.
	CallID string

	Agent     *AgentConfig
	CreatedAt time.Time

	machine *StateMachine
	ctx     context.Context
	cancel  context.CancelFunc

	// inbound carries caller audio to the pipeline coordinator. Bounded:
	// a telephony layer producing faster than recognition consumes is
	// backpressured here.
	inbound *asyncqueue.Queue[AudioChunk]

	mu       sync.RWMutex
	turns    []Turn
	turnSeq  uint64
	closeOne sync.Once
}

type CallSessionParams struct {
	CallID     string
	Agent      *AgentConfig
	QueueDepth int

	// OnTransition observes every state change of this session's machine.
	OnTransition TransitionFunc
}

func NewCallSession(ctx context.Context, params CallSessionParams) *CallSession {
	ctx, cancel := context.WithCancel(ctx)
	return &CallSession{
		ID:        uuid.NewString(),
		CallID:    params.CallID,
		Agent:     params.Agent,
		CreatedAt: time.Now(),
		machine:   NewStateMachine(params.OnTransition),
		ctx:       ctx,
		cancel:    cancel,
		inbound:   asyncqueue.NewBounded[AudioChunk](params.QueueDepth),
	}
}

// State returns the session's current call state.
func (s *CallSession) State() CallState { return s.machine.Current() }

// Machine exposes the session's state machine to the pipeline coordinator.
func (s *CallSession) Machine() *StateMachine { return s.machine }

// Context is cancelled when the session closes. Every stage call for this
// session nests inside it.
func (s *CallSession) Context() context.Context { return s.ctx }

// Inbound is the caller-audio intake queue.
func (s *CallSession) Inbound() *asyncqueue.Queue[AudioChunk] { return s.inbound }

// NextTurnSeq allocates the next turn sequence number.
func (s *CallSession) NextTurnSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnSeq++
	return s.turnSeq
}

// AppendTurn records a completed turn. Turns are immutable once appended.
func (s *CallSession) AppendTurn(turn Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, turn)
}

// Turns returns a copy of the session's turn log.
func (s *CallSession) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// RecentTurns returns up to n most recent turns, oldest first.
func (s *CallSession) RecentTurns(n int) []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || len(s.turns) == 0 {
		return nil
	}
	if n > len(s.turns) {
		n = len(s.turns)
	}
	out := make([]Turn, n)
	copy(out, s.turns[len(s.turns)-n:])
	return out
}

// close tears the session down: cancels in-flight work and closes the inbound
// queue so the pipeline drains and exits. Idempotent.
func (s *CallSession) close() {
	s.closeOne.Do(func() {
		s.cancel()
		s.inbound.Close()
	})
}
