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
	"errors"
	"fmt"
)

// AdapterTimeoutError reports that an external capability call exceeded its
// deadline, or that a stage intake queue stayed full past the configured
// timeout. Transient: subject to the per-utterance retry policy.
type AdapterTimeoutError struct {
	Stage Stage
	Cause error
}

func (e AdapterTimeoutError) Error() string {
	return fmt.Sprintf("%s adapter timed out: %v", e.Stage, e.Cause)
}

func (e AdapterTimeoutError) Unwrap() error { return e.Cause }

// AdapterUnavailableError reports a transient provider failure (network
// error, 5xx-equivalent). Subject to the per-utterance retry policy.
type AdapterUnavailableError struct {
	Stage Stage
	Cause error
}

func (e AdapterUnavailableError) Error() string {
	return fmt.Sprintf("%s adapter unavailable: %v", e.Stage, e.Cause)
}

func (e AdapterUnavailableError) Unwrap() error { return e.Cause }

// LowConfidenceError reports that generation produced a reply below the
// configured confidence threshold. Never retried; routes to fallback.
type LowConfidenceError struct {
	Confidence float64
	Threshold  float64
}

func (e LowConfidenceError) Error() string {
	return fmt.Sprintf("generation confidence %.3f below threshold %.3f", e.Confidence, e.Threshold)
}

// DuplicateSessionError reports an Open for a call ID which is already
// registered. Integration error: rejected, never silently corrected.
type DuplicateSessionError struct {
	CallID string
}

func (e DuplicateSessionError) Error() string {
	return fmt.Sprintf("session already exists for call %q", e.CallID)
}

// SessionNotFoundError reports an operation on an unknown call ID.
type SessionNotFoundError struct {
	CallID string
}

func (e SessionNotFoundError) Error() string {
	return fmt.Sprintf("no session for call %q", e.CallID)
}

// InvalidTransitionError reports a state transition outside the legal table.
// Programming/integration error: logged and rejected.
type InvalidTransitionError struct {
	From CallState
	To   CallState
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid call state transition %s -> %s", e.From, e.To)
}

// IsTransientAdapterError reports whether err is retryable under the stage
// retry policy.
func IsTransientAdapterError(err error) bool {
	var timeoutErr AdapterTimeoutError
	var unavailableErr AdapterUnavailableError
	return errors.As(err, &timeoutErr) || errors.As(err, &unavailableErr)
}
