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

import "time"

// SessionEvent is an event mirrored outward by the event fan-out.
type SessionEvent interface {
	isSessionEvent()

	// EventSessionID returns the session the event belongs to.
	EventSessionID() string
}

// StateChangedEvent reports a state machine transition.
type StateChangedEvent struct {
	SessionID string
	From      CallState
	To        CallState
	Reason    string
	At        time.Time
}

func (StateChangedEvent) isSessionEvent()          {}
func (e StateChangedEvent) EventSessionID() string { return e.SessionID }

// TranscriptFragmentEvent reports a piece of transcribed caller speech.
type TranscriptFragmentEvent struct {
	SessionID string
	Text      string
	Final     bool
	At        time.Time
}

func (TranscriptFragmentEvent) isSessionEvent()          {}
func (e TranscriptFragmentEvent) EventSessionID() string { return e.SessionID }

// TurnCompletedEvent reports a completed turn, including its outcome tag.
// This is also the engine's emission point for the durable record
// collaborator.
type TurnCompletedEvent struct {
	SessionID string
	AgentID   string
	Turn      Turn
	At        time.Time
}

func (TurnCompletedEvent) isSessionEvent()          {}
func (e TurnCompletedEvent) EventSessionID() string { return e.SessionID }

// ErrorEvent reports a pipeline or adapter error.
type ErrorEvent struct {
	SessionID string
	Stage     Stage
	Err       error
	At        time.Time
}

func (ErrorEvent) isSessionEvent()          {}
func (e ErrorEvent) EventSessionID() string { return e.SessionID }
