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
	"log/slog"
	"slices"
	"sync"
)

// CallState is one phase of a call's lifecycle.
type CallState string

const (
	StateInit       CallState = "init"
	StateConnecting CallState = "connecting"
	StateGreeting   CallState = "greeting"
	StateListening  CallState = "listening"
	StateThinking   CallState = "thinking"
	StateResponding CallState = "responding"
	StateFallback   CallState = "fallback"
	StateEscalated  CallState = "escalated"
	StateEnded      CallState = "ended"
)

// legalTransitions enumerates the transition table. Anything not listed fails
// closed: the call is routed to fallback, never silently ignored.
var legalTransitions = map[CallState][]CallState{
	StateInit:       {StateConnecting, StateEnded},
	StateConnecting: {StateGreeting, StateListening, StateFallback, StateEnded},
	StateGreeting:   {StateListening, StateFallback, StateEnded},
	StateListening:  {StateThinking, StateFallback, StateEnded},
	StateThinking:   {StateResponding, StateFallback, StateEscalated, StateEnded},
	StateResponding: {StateListening, StateFallback, StateEnded},
	StateFallback:   {StateListening, StateEscalated, StateEnded},
	StateEscalated:  {StateEnded},
	StateEnded:      {},
}

// TransitionFunc observes every state change, including the fail-closed
// reroute to fallback.
type TransitionFunc func(from, to CallState, reason string)

// StateMachine is the deterministic controller for one call's lifecycle.
// It is mutated by the session's own pipeline coordinator and, during
// barge-in, by the inbound audio path, so transitions are serialized with a
// mutex. Ended is terminal: every transition attempted afterwards is
// rejected and logged, never rerouted.
type StateMachine struct {
	mu           sync.Mutex
	current      CallState
	onTransition TransitionFunc
}

func NewStateMachine(onTransition TransitionFunc) *StateMachine {
	return &StateMachine{
		current:      StateInit,
		onTransition: onTransition,
	}
}

// Current returns the current call state.
func (m *StateMachine) Current() CallState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition moves the machine to the given state. An illegal transition
// returns InvalidTransitionError; unless the machine has already ended, it
// also routes the call to fallback (fail closed).
func (m *StateMachine) Transition(to CallState, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == StateEnded {
		err := InvalidTransitionError{From: StateEnded, To: to}
		Logger().Warn("transition attempted after terminal state",
			slog.String("to", string(to)), slog.String("reason", reason))
		return err
	}

	if !slices.Contains(legalTransitions[m.current], to) {
		err := InvalidTransitionError{From: m.current, To: to}
		Logger().Warn("illegal call state transition, failing closed to fallback",
			slog.String("from", string(m.current)), slog.String("to", string(to)),
			slog.String("reason", reason))
		if slices.Contains(legalTransitions[m.current], StateFallback) {
			m.set(StateFallback, "fail-closed: "+reason)
		}
		return err
	}

	m.set(to, reason)
	return nil
}

// TransitionIf performs the transition only when the machine is still in
// `from`. It reports whether the transition happened. This is the barge-in
// path: the inbound audio task moves responding -> listening out of band only
// if the turn has not already finished.
func (m *StateMachine) TransitionIf(from, to CallState, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != from || !slices.Contains(legalTransitions[from], to) {
		return false
	}
	m.set(to, reason)
	return true
}

func (m *StateMachine) set(to CallState, reason string) {
	from := m.current
	m.current = to
	if m.onTransition != nil {
		m.onTransition(from, to, reason)
	}
}
