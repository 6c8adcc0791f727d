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

// Package enginetesting provides scripted fakes for the engine's capability
// adapters and collaborators.
package enginetesting

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/callwave-ai/callengine/asyncqueue"
	"github.com/callwave-ai/callengine/engine"
	"github.com/callwave-ai/callengine/memory"
)

// FakeRecognitionModel emits one scripted utterance per end-of-utterance
// audio chunk it receives.
type FakeRecognitionModel struct {
	Utterances []string

	// CreateSessionError, when set, fails session creation.
	CreateSessionError error
}

func (m *FakeRecognitionModel) ModelName() string { return "fake-recognition" }

func (m *FakeRecognitionModel) CreateSession(ctx context.Context, params engine.RecognitionSessionParams) (engine.RecognitionSession, error) {
	if m.CreateSessionError != nil {
		return nil, m.CreateSessionError
	}
	return &FakeRecognitionSession{
		input:      params.Input,
		utterances: m.Utterances,
	}, nil
}

// FakeRecognitionSession drains the input queue and yields a final transcript
// fragment for every chunk marked EndOfUtterance.
type FakeRecognitionSession struct {
	input      *asyncqueue.Queue[engine.AudioChunk]
	utterances []string

	Err error
}

func (s *FakeRecognitionSession) Fragments(ctx context.Context) engine.RecognitionFragments {
	return &fakeRecognitionFragments{s: s}
}

func (s *FakeRecognitionSession) Close(context.Context) error { return nil }

type fakeRecognitionFragments struct {
	s   *FakeRecognitionSession
	err error
}

func (f *fakeRecognitionFragments) Seq() iter.Seq[engine.TranscriptFragment] {
	return func(yield func(engine.TranscriptFragment) bool) {
		var seq uint64
		idx := 0
		for {
			chunk, ok := f.s.input.Get()
			if !ok {
				f.err = f.s.Err
				return
			}
			if !chunk.EndOfUtterance || idx >= len(f.s.utterances) {
				continue
			}
			seq++
			fragment := engine.TranscriptFragment{
				Seq:   seq,
				Text:  f.s.utterances[idx],
				Final: true,
			}
			idx++
			if !yield(fragment) {
				return
			}
		}
	}
}

func (f *fakeRecognitionFragments) Error() error { return f.err }

// BlockingRecognitionModel creates sessions that never read the input queue
// and whose fragment stream ends only when the session is closed, the way an
// adapter stuck on an external transport behaves.
type BlockingRecognitionModel struct {
	mu       sync.Mutex
	sessions []*BlockingRecognitionSession
}

func (m *BlockingRecognitionModel) ModelName() string { return "blocking-recognition" }

func (m *BlockingRecognitionModel) CreateSession(ctx context.Context, params engine.RecognitionSessionParams) (engine.RecognitionSession, error) {
	s := &BlockingRecognitionSession{done: make(chan struct{})}
	m.mu.Lock()
	m.sessions = append(m.sessions, s)
	m.mu.Unlock()
	return s, nil
}

// Sessions returns every session created so far.
func (m *BlockingRecognitionModel) Sessions() []*BlockingRecognitionSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*BlockingRecognitionSession, len(m.sessions))
	copy(out, m.sessions)
	return out
}

type BlockingRecognitionSession struct {
	done chan struct{}
	once sync.Once
}

func (s *BlockingRecognitionSession) Fragments(ctx context.Context) engine.RecognitionFragments {
	return &blockingRecognitionFragments{s: s}
}

func (s *BlockingRecognitionSession) Close(context.Context) error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// Closed reports whether the session has been closed.
func (s *BlockingRecognitionSession) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

type blockingRecognitionFragments struct {
	s *BlockingRecognitionSession
}

func (f *blockingRecognitionFragments) Seq() iter.Seq[engine.TranscriptFragment] {
	return func(yield func(engine.TranscriptFragment) bool) {
		<-f.s.done
	}
}

func (f *blockingRecognitionFragments) Error() error { return nil }

// FakeGenerationTurn scripts one generation call.
type FakeGenerationTurn struct {
	Segments []string
	Err      error

	Confidence    float64
	HasConfidence bool
	Sentiment     float64
	HasSentiment  bool
	Intent        string
}

// FakeGenerationModel replays scripted turns in order. Once the script is
// exhausted it echoes the transcript back. It also tracks the peak number of
// concurrent Run calls.
type FakeGenerationModel struct {
	mu     sync.Mutex
	script []FakeGenerationTurn
	idx    int
	calls  []engine.GenerationParams

	active int
	peak   int
}

func NewFakeGenerationModel(script ...FakeGenerationTurn) *FakeGenerationModel {
	return &FakeGenerationModel{script: script}
}

func (m *FakeGenerationModel) ModelName() string { return "fake-generation" }

func (m *FakeGenerationModel) Run(ctx context.Context, params engine.GenerationParams) engine.GenerationRunResult {
	m.mu.Lock()
	m.calls = append(m.calls, params)
	m.active++
	if m.active > m.peak {
		m.peak = m.active
	}
	turn := FakeGenerationTurn{Segments: []string{"You said: " + params.Transcript + "."}}
	if m.idx < len(m.script) {
		turn = m.script[m.idx]
		m.idx++
	}
	m.mu.Unlock()

	return &fakeGenerationRunResult{model: m, turn: turn}
}

// Calls returns the parameters of every Run invocation so far.
func (m *FakeGenerationModel) Calls() []engine.GenerationParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.GenerationParams, len(m.calls))
	copy(out, m.calls)
	return out
}

// ConcurrentPeak reports the maximum number of Run calls that were in flight
// at the same time.
func (m *FakeGenerationModel) ConcurrentPeak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

type fakeGenerationRunResult struct {
	model *FakeGenerationModel
	turn  FakeGenerationTurn
	err   error
}

func (r *fakeGenerationRunResult) Seq() iter.Seq[string] {
	return func(yield func(string) bool) {
		defer func() {
			r.model.mu.Lock()
			r.model.active--
			r.model.mu.Unlock()
		}()
		if r.turn.Err != nil {
			r.err = r.turn.Err
			return
		}
		for _, segment := range r.turn.Segments {
			if !yield(segment) {
				return
			}
		}
	}
}

func (r *fakeGenerationRunResult) Error() error { return r.err }

func (r *fakeGenerationRunResult) Confidence() (float64, bool) {
	return r.turn.Confidence, r.turn.HasConfidence
}

func (r *fakeGenerationRunResult) Sentiment() (float64, bool) {
	return r.turn.Sentiment, r.turn.HasSentiment
}

func (r *fakeGenerationRunResult) Intent() (string, bool) {
	return r.turn.Intent, r.turn.Intent != ""
}

// FakeSynthesisModel yields ChunkCount PCM16 chunks per run, pausing
// ChunkDelay between them so tests can interrupt an emission in progress.
type FakeSynthesisModel struct {
	ChunkCount int
	ChunkDelay time.Duration
	Err        error

	mu   sync.Mutex
	runs []string
}

func (m *FakeSynthesisModel) ModelName() string { return "fake-synthesis" }

func (m *FakeSynthesisModel) Run(ctx context.Context, text string, settings engine.SynthesisSettings) engine.SynthesisRunResult {
	m.mu.Lock()
	m.runs = append(m.runs, text)
	m.mu.Unlock()
	return &fakeSynthesisRunResult{ctx: ctx, model: m}
}

// Runs returns the text of every Run invocation so far.
func (m *FakeSynthesisModel) Runs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.runs))
	copy(out, m.runs)
	return out
}

type fakeSynthesisRunResult struct {
	ctx   context.Context
	model *FakeSynthesisModel
	err   error
}

func (r *fakeSynthesisRunResult) Seq() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if r.model.Err != nil {
			r.err = r.model.Err
			return
		}
		count := r.model.ChunkCount
		if count <= 0 {
			count = 2
		}
		for range count {
			if r.model.ChunkDelay > 0 {
				select {
				case <-r.ctx.Done():
					return
				case <-time.After(r.model.ChunkDelay):
				}
			}
			if r.ctx.Err() != nil {
				return
			}
			if !yield([]byte{0x01, 0x00, 0x02, 0x00}) {
				return
			}
		}
	}
}

func (r *fakeSynthesisRunResult) Error() error { return r.err }

// FakeProvider returns the configured fakes regardless of model name.
type FakeProvider struct {
	Recognition engine.RecognitionModel
	Generation  engine.GenerationModel
	Synthesis   engine.SynthesisModel
}

func (p *FakeProvider) GetRecognitionModel(string) (engine.RecognitionModel, error) {
	return p.Recognition, nil
}

func (p *FakeProvider) GetGenerationModel(string) (engine.GenerationModel, error) {
	return p.Generation, nil
}

func (p *FakeProvider) GetSynthesisModel(string) (engine.SynthesisModel, error) {
	return p.Synthesis, nil
}

// FakeRetriever returns scripted records, optionally after a delay or with an
// error. A Delay longer than the caller's deadline simulates a slow memory
// backend.
type FakeRetriever struct {
	Records []memory.Record
	Err     error
	Delay   time.Duration
}

func (r *FakeRetriever) Retrieve(ctx context.Context, query, agentID string, limit int) ([]memory.Record, error) {
	if r.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.Delay):
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}
	if limit > 0 && len(r.Records) > limit {
		return r.Records[:limit], nil
	}
	return r.Records, nil
}

// CaptureTelephony records everything the engine sends outward.
type CaptureTelephony struct {
	mu        sync.Mutex
	chunks    map[string][]engine.AudioChunk
	transfers map[string]int

	EmitError error
}

func NewCaptureTelephony() *CaptureTelephony {
	return &CaptureTelephony{
		chunks:    make(map[string][]engine.AudioChunk),
		transfers: make(map[string]int),
	}
}

func (t *CaptureTelephony) EmitOutboundAudioChunk(callID string, chunk engine.AudioChunk) error {
	if t.EmitError != nil {
		return t.EmitError
	}
	t.mu.Lock()
	t.chunks[callID] = append(t.chunks[callID], chunk)
	t.mu.Unlock()
	return nil
}

func (t *CaptureTelephony) RequestHumanTransfer(callID string) error {
	t.mu.Lock()
	t.transfers[callID]++
	t.mu.Unlock()
	return nil
}

// OutboundChunks returns the chunks emitted for callID so far.
func (t *CaptureTelephony) OutboundChunks(callID string) []engine.AudioChunk {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]engine.AudioChunk, len(t.chunks[callID]))
	copy(out, t.chunks[callID])
	return out
}

// TransferCount reports how often a human transfer was requested for callID.
func (t *CaptureTelephony) TransferCount(callID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.transfers[callID]
}

// CollectingSubscriber gathers every event it receives and lets tests wait
// for one matching a predicate.
type CollectingSubscriber struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []engine.SessionEvent
}

func NewCollectingSubscriber() *CollectingSubscriber {
	s := &CollectingSubscriber{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *CollectingSubscriber) OnEvent(event engine.SessionEvent) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	s.cond.Broadcast()
	return nil
}

// Events returns a copy of everything received so far.
func (s *CollectingSubscriber) Events() []engine.SessionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]engine.SessionEvent, len(s.events))
	copy(out, s.events)
	return out
}

// WaitFor blocks until an event matching pred has been received, or the
// timeout elapses. It reports whether a match arrived.
func (s *CollectingSubscriber) WaitFor(timeout time.Duration, pred func(engine.SessionEvent) bool) bool {
	_, ok := s.WaitFrom(0, timeout, pred)
	return ok
}

// WaitFrom is WaitFor starting at event index start. It returns the index
// just past the match, so sequential waits can ignore already-matched events.
func (s *CollectingSubscriber) WaitFrom(start int, timeout time.Duration, pred func(engine.SessionEvent) bool) (int, bool) {
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() { s.cond.Broadcast() })
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	checked := start
	for {
		for i, event := range s.events[checked:] {
			if pred(event) {
				return checked + i + 1, true
			}
		}
		checked = len(s.events)
		if time.Now().After(deadline) {
			return checked, false
		}
		s.cond.Wait()
	}
}
