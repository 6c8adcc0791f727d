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

package util

import "iter"

// SeqErr is a lazily produced sequence whose terminal error is available once
// the sequence has been consumed. Adapter streaming results follow this shape.
type SeqErr[T any] interface {
	Seq() iter.Seq[T]
	Error() error
}

// SeqErrFunc builds a SeqErr from a yield function that may fail.
func SeqErrFunc[T any](fn func(yield func(T) bool) error) SeqErr[T] {
	return &seqErrFunc[T]{fn: fn}
}

type seqErrFunc[T any] struct {
	fn  func(yield func(T) bool) error
	err error
}

func (s *seqErrFunc[T]) seq(yield func(T) bool) { s.err = s.fn(yield) }
func (s *seqErrFunc[T]) Seq() iter.Seq[T]       { return s.seq }
func (s *seqErrFunc[T]) Error() error           { return s.err }

// SeqErrOf yields the given values and then terminates with err (which may be
// nil). Handy for scripted fakes in tests.
func SeqErrOf[T any](err error, values ...T) SeqErr[T] {
	return SeqErrFunc(func(yield func(T) bool) error {
		for _, v := range values {
			if !yield(v) {
				return nil
			}
		}
		return err
	})
}
