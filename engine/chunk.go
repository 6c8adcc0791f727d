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

import "fmt"

// Stage identifies which pipeline stage a chunk originates from.
type Stage string

const (
	StageTelephony   Stage = "telephony"
	StageRecognition Stage = "recognition"
	StageGeneration  Stage = "generation"
	StageSynthesis   Stage = "synthesis"
	StageMemory      Stage = "memory"
)

// AudioChunk is the unit of audio flowing through the pipeline.
// Within one stage's output stream, Seq is strictly increasing and gap-free.
type AudioChunk struct {
	SessionID string
	Stage     Stage
	Seq       uint64
	Data      AudioData

	// EndOfUtterance marks the last chunk of a caller utterance.
	EndOfUtterance bool
}

// TranscriptFragment is a piece of transcribed caller speech.
// Final marks an end-of-utterance boundary.
type TranscriptFragment struct {
	SessionID string
	Seq       uint64
	Text      string
	Final     bool
}

// Sequencer enforces the per-stage ordering invariant: sequence numbers must
// be delivered strictly increasing with no gaps. Chunks arriving ahead of the
// expected sequence are buffered until the gap fills; chunks at or below an
// already-delivered sequence are rejected. A Sequencer never reorders
// silently.
type Sequencer[T any] struct {
	next    uint64
	pending map[uint64]T
}

// NewSequencer creates a sequencer expecting `start` as the first sequence.
func NewSequencer[T any](start uint64) *Sequencer[T] {
	return &Sequencer[T]{
		next:    start,
		pending: make(map[uint64]T),
	}
}

// Push accepts one chunk and returns the run of chunks that became
// deliverable, in order. An error is returned for duplicates and for
// sequences already delivered.
func (s *Sequencer[T]) Push(seq uint64, v T) ([]T, error) {
	if seq < s.next {
		return nil, fmt.Errorf("chunk sequence %d already delivered (next expected %d)", seq, s.next)
	}
	if _, ok := s.pending[seq]; ok {
		return nil, fmt.Errorf("duplicate chunk sequence %d", seq)
	}
	s.pending[seq] = v

	var out []T
	for {
		v, ok := s.pending[s.next]
		if !ok {
			break
		}
		delete(s.pending, s.next)
		out = append(out, v)
		s.next++
	}
	return out, nil
}

// Pending reports how many chunks are buffered waiting for a gap to fill.
func (s *Sequencer[T]) Pending() int { return len(s.pending) }

// Next returns the next expected sequence number.
func (s *Sequencer[T]) Next() uint64 { return s.next }
