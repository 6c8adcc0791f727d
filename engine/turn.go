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

// TurnOutcome tags how a turn concluded.
type TurnOutcome string

const (
	TurnOutcomeNormal    TurnOutcome = "normal"
	TurnOutcomeFallback  TurnOutcome = "fallback"
	TurnOutcomeEscalated TurnOutcome = "escalated"
)

// Turn is one caller-utterance/agent-response exchange. Appended by the
// pipeline coordinator once its generation cycle completes; immutable
// afterwards.
type Turn struct {
	// Seq is monotonic per session, never reused or skipped.
	Seq uint64

	CallerText string
	AgentText  string

	// Confidence and Sentiment are provider signals; the Has flags report
	// whether the provider supplied them.
	Confidence    float64
	HasConfidence bool
	Sentiment     float64
	HasSentiment  bool

	StartedAt time.Time
	EndedAt   time.Time

	Outcome TurnOutcome
}
