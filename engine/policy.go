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

// Decision is the recovery action chosen for a failed or suspect turn.
type Decision string

const (
	// DecisionRetry retries the same stage call within the current utterance.
	DecisionRetry Decision = "retry"

	// DecisionFallback plays the scripted fallback utterance.
	DecisionFallback Decision = "fallback"

	// DecisionEscalate hands the call to a human operator.
	DecisionEscalate Decision = "escalate"
)

// FailureContext describes the condition the policy must decide on.
type FailureContext struct {
	Stage Stage
	Err   error

	// Attempts already made for the current utterance, including the failed one.
	Attempts int

	// ConsecutiveFallbacks is how many fallback outcomes immediately precede
	// this failure in the session.
	ConsecutiveFallbacks int

	// Intent is the caller intent detected by generation, if any.
	Intent string
}

// Policy is the fallback/escalation decision logic. It is a pure function of
// its inputs and has no side effects, so it is testable in isolation. Only
// the state machine consults it.
type Policy struct {
	MaxAttempts             int
	MaxConsecutiveFallbacks int
	EscalateIntents         []string
}

func NewPolicy(cfg Config, agent *AgentConfig) Policy {
	p := Policy{
		MaxAttempts:             cfg.StageRetries,
		MaxConsecutiveFallbacks: cfg.MaxConsecutiveFallbacks,
	}
	if agent != nil {
		p.EscalateIntents = agent.EscalateIntents
	}
	return p
}

// Decide returns the recovery action for the given state and failure.
func (p Policy) Decide(state CallState, failure FailureContext) Decision {
	if p.intentEscalates(failure.Intent) {
		return DecisionEscalate
	}

	if IsTransientAdapterError(failure.Err) && failure.Attempts < p.MaxAttempts {
		return DecisionRetry
	}

	// Exhausted retries and non-retryable conditions (low confidence among
	// them) fall back. A session already at the consecutive-fallback limit
	// escalates instead of looping on the script.
	if p.MaxConsecutiveFallbacks > 0 && failure.ConsecutiveFallbacks >= p.MaxConsecutiveFallbacks {
		return DecisionEscalate
	}
	return DecisionFallback
}

// ShouldEscalateAfterFallback reports whether the session must escalate now
// that consecutiveFallbacks fallback outcomes have occurred in a row.
func (p Policy) ShouldEscalateAfterFallback(consecutiveFallbacks int) bool {
	return p.MaxConsecutiveFallbacks > 0 && consecutiveFallbacks >= p.MaxConsecutiveFallbacks
}

func (p Policy) intentEscalates(intent string) bool {
	if intent == "" {
		return false
	}
	for _, v := range p.EscalateIntents {
		if v == intent {
			return true
		}
	}
	return false
}
