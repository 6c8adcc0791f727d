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

package engine_test

import (
	"errors"
	"testing"
	"time"

	"github.com/callwave-ai/callengine/engine"
	"github.com/callwave-ai/callengine/enginetesting"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCallID = "call-1"

type testEnv struct {
	engine    *engine.Engine
	telephony *enginetesting.CaptureTelephony
	gen       *enginetesting.FakeGenerationModel
	syn       *enginetesting.FakeSynthesisModel
	sub       *enginetesting.CollectingSubscriber

	// cursor makes sequential waits consume the event log in order, so a
	// wait never matches an event from an earlier phase of the test.
	cursor int
}

type testEnvParams struct {
	config      *engine.Config
	agent       *engine.AgentConfig
	retriever   *enginetesting.FakeRetriever
	script      []enginetesting.FakeGenerationTurn
	synthesis   *enginetesting.FakeSynthesisModel
	recognition engine.RecognitionModel
}

func newTestEnv(t *testing.T, params testEnvParams) *testEnv {
	t.Helper()

	cfg := engine.DefaultConfig()
	cfg.RetryInitialInterval = time.Millisecond
	cfg.StageTimeout = 2 * time.Second
	if params.config != nil {
		cfg = *params.config
	}

	agent := params.agent
	if agent == nil {
		agent = &engine.AgentConfig{
			ID:                "support",
			Name:              "Support Agent",
			Instructions:      "Help the caller.",
			FallbackScript:    engine.DefaultFallbackScript,
			EscalationMessage: engine.DefaultEscalationMessage,
		}
	}

	syn := params.synthesis
	if syn == nil {
		syn = &enginetesting.FakeSynthesisModel{ChunkCount: 2}
	}
	gen := enginetesting.NewFakeGenerationModel(params.script...)
	telephony := enginetesting.NewCaptureTelephony()

	var retriever *enginetesting.FakeRetriever
	if params.retriever != nil {
		retriever = params.retriever
	}
	var contexts *engine.ContextManager
	if retriever != nil {
		contexts = engine.NewContextManager(retriever, cfg)
	}

	recognition := params.recognition
	if recognition == nil {
		recognition = &enginetesting.FakeRecognitionModel{
			Utterances: []string{
				"utterance one", "utterance two", "utterance three", "utterance four",
			},
		}
	}

	e, err := engine.NewEngine(engine.EngineParams{
		Config: cfg,
		Agents: map[string]*engine.AgentConfig{agent.ID: agent},
		Provider: &enginetesting.FakeProvider{
			Recognition: recognition,
			Generation:  gen,
			Synthesis:   syn,
		},
		Contexts:  contexts,
		Telephony: telephony,
	})
	require.NoError(t, err)
	t.Cleanup(e.Close)

	sub := enginetesting.NewCollectingSubscriber()
	e.Subscribe("test", sub)

	return &testEnv{engine: e, telephony: telephony, gen: gen, syn: syn, sub: sub}
}

func (env *testEnv) startCall(t *testing.T, agentID string) *engine.CallSession {
	t.Helper()
	session, err := env.engine.NotifyCallStart(t.Context(), testCallID, agentID)
	require.NoError(t, err)
	return session
}

func (env *testEnv) pushUtterance(t *testing.T, seq uint64) {
	t.Helper()
	err := env.engine.PushInboundAudioChunk(testCallID, engine.AudioChunk{
		Stage:          engine.StageTelephony,
		Seq:            seq,
		Data:           make(engine.AudioData, 240),
		EndOfUtterance: true,
	})
	require.NoError(t, err)
}

func (env *testEnv) waitForState(t *testing.T, state engine.CallState) {
	t.Helper()
	next, ok := env.sub.WaitFrom(env.cursor, 2*time.Second, func(e engine.SessionEvent) bool {
		sc, isState := e.(engine.StateChangedEvent)
		return isState && sc.To == state
	})
	require.True(t, ok, "timed out waiting for state %s", state)
	env.cursor = next
}

func (env *testEnv) waitForTurn(t *testing.T, outcome engine.TurnOutcome) engine.Turn {
	t.Helper()
	var turn engine.Turn
	next, ok := env.sub.WaitFrom(env.cursor, 2*time.Second, func(e engine.SessionEvent) bool {
		tc, isTurn := e.(engine.TurnCompletedEvent)
		if isTurn && tc.Turn.Outcome == outcome {
			turn = tc.Turn
			return true
		}
		return false
	})
	require.True(t, ok, "timed out waiting for %s turn", outcome)
	env.cursor = next
	return turn
}

func TestEngineNormalTurn(t *testing.T) {
	env := newTestEnv(t, testEnvParams{
		script: []enginetesting.FakeGenerationTurn{
			{Segments: []string{"We are open weekdays nine to six."}, Confidence: 0.9, HasConfidence: true},
		},
	})
	session := env.startCall(t, "support")
	env.waitForState(t, engine.StateListening)

	env.pushUtterance(t, 1)

	turn := env.waitForTurn(t, engine.TurnOutcomeNormal)
	assert.Equal(t, "utterance one", turn.CallerText)
	assert.Equal(t, "We are open weekdays nine to six.", turn.AgentText)
	assert.True(t, turn.HasConfidence)

	env.waitForState(t, engine.StateListening)
	assert.Equal(t, engine.StateListening, session.State())
	assert.NotEmpty(t, env.telephony.OutboundChunks(testCallID))

	// Outbound chunk sequences are strictly increasing and gap-free.
	chunks := env.telephony.OutboundChunks(testCallID)
	for i, chunk := range chunks {
		assert.Equal(t, uint64(i+1), chunk.Seq)
		assert.Equal(t, engine.StageSynthesis, chunk.Stage)
	}
}

func TestEngineGreetingIsSpoken(t *testing.T) {
	env := newTestEnv(t, testEnvParams{
		agent: &engine.AgentConfig{
			ID:                "support",
			Greeting:          "Hello, thanks for calling.",
			FallbackScript:    engine.DefaultFallbackScript,
			EscalationMessage: engine.DefaultEscalationMessage,
		},
	})
	env.startCall(t, "support")

	env.waitForState(t, engine.StateGreeting)
	env.waitForState(t, engine.StateListening)
	assert.Contains(t, env.syn.Runs(), "Hello, thanks for calling.")
}

func TestEngineRejectsDuplicateCallStart(t *testing.T) {
	env := newTestEnv(t, testEnvParams{})
	env.startCall(t, "support")

	_, err := env.engine.NotifyCallStart(t.Context(), testCallID, "support")
	require.Error(t, err)
	assert.ErrorAs(t, err, &engine.DuplicateSessionError{})
}

func TestEngineUnknownAgent(t *testing.T) {
	env := newTestEnv(t, testEnvParams{})
	_, err := env.engine.NotifyCallStart(t.Context(), testCallID, "nope")
	assert.Error(t, err)
}

func TestEngineCallEndIsIdempotent(t *testing.T) {
	env := newTestEnv(t, testEnvParams{})
	session := env.startCall(t, "support")
	env.waitForState(t, engine.StateListening)

	env.engine.NotifyCallEnd(testCallID, "hang up")
	env.engine.NotifyCallEnd(testCallID, "hang up again")
	env.engine.NotifyCallEnd("unknown-call", "noise")

	assert.Equal(t, engine.StateEnded, session.State())
	err := env.engine.PushInboundAudioChunk(testCallID, engine.AudioChunk{Seq: 1})
	assert.ErrorAs(t, err, &engine.SessionNotFoundError{})
}

func TestEngineInboundReorderingIsBuffered(t *testing.T) {
	env := newTestEnv(t, testEnvParams{
		script: []enginetesting.FakeGenerationTurn{
			{Segments: []string{"Understood."}, Confidence: 0.9, HasConfidence: true},
		},
	})
	env.startCall(t, "support")
	env.waitForState(t, engine.StateListening)

	// Chunk 2 arrives before chunk 1; the utterance must still complete once
	// the gap fills.
	require.NoError(t, env.engine.PushInboundAudioChunk(testCallID, engine.AudioChunk{
		Seq: 2, Data: make(engine.AudioData, 240), EndOfUtterance: true,
	}))
	require.NoError(t, env.engine.PushInboundAudioChunk(testCallID, engine.AudioChunk{
		Seq: 1, Data: make(engine.AudioData, 240),
	}))

	env.waitForTurn(t, engine.TurnOutcomeNormal)

	// Duplicates and regressions are rejected, never silently reordered.
	err := env.engine.PushInboundAudioChunk(testCallID, engine.AudioChunk{
		Seq: 2, Data: make(engine.AudioData, 240),
	})
	assert.Error(t, err)
}

func TestEngineGenerationFailuresRouteToFallback(t *testing.T) {
	unavailable := engine.AdapterUnavailableError{Stage: engine.StageGeneration, Cause: errors.New("boom")}
	env := newTestEnv(t, testEnvParams{
		script: []enginetesting.FakeGenerationTurn{
			{Err: unavailable}, {Err: unavailable}, {Err: unavailable},
		},
	})
	session := env.startCall(t, "support")
	env.waitForState(t, engine.StateListening)

	env.pushUtterance(t, 1)

	env.waitForState(t, engine.StateFallback)
	turn := env.waitForTurn(t, engine.TurnOutcomeFallback)
	assert.Equal(t, engine.DefaultFallbackScript, turn.AgentText)

	env.waitForState(t, engine.StateListening)
	assert.Equal(t, engine.StateListening, session.State())

	// The retry budget was spent before falling back.
	assert.Len(t, env.gen.Calls(), 3)
	assert.Contains(t, env.syn.Runs(), engine.DefaultFallbackScript)
}

func TestEngineLowConfidenceIsNeverRetried(t *testing.T) {
	env := newTestEnv(t, testEnvParams{
		script: []enginetesting.FakeGenerationTurn{
			{Segments: []string{"Not sure about that."}, Confidence: 0.05, HasConfidence: true},
		},
	})
	env.startCall(t, "support")
	env.waitForState(t, engine.StateListening)

	env.pushUtterance(t, 1)

	env.waitForTurn(t, engine.TurnOutcomeFallback)
	assert.Len(t, env.gen.Calls(), 1)
}

func TestEngineTwoConsecutiveFallbacksEscalate(t *testing.T) {
	env := newTestEnv(t, testEnvParams{
		script: []enginetesting.FakeGenerationTurn{
			{Segments: []string{"mumble"}, Confidence: 0.05, HasConfidence: true},
			{Segments: []string{"mumble"}, Confidence: 0.05, HasConfidence: true},
		},
	})
	session := env.startCall(t, "support")
	env.waitForState(t, engine.StateListening)

	env.pushUtterance(t, 1)
	env.waitForTurn(t, engine.TurnOutcomeFallback)
	env.waitForState(t, engine.StateListening)

	env.pushUtterance(t, 2)
	env.waitForState(t, engine.StateEscalated)
	env.waitForState(t, engine.StateEnded)

	assert.Equal(t, 1, env.telephony.TransferCount(testCallID))
	assert.Equal(t, engine.StateEnded, session.State())
	assert.Contains(t, env.syn.Runs(), engine.DefaultEscalationMessage)
}

func TestEngineEscalationIntent(t *testing.T) {
	env := newTestEnv(t, testEnvParams{
		agent: &engine.AgentConfig{
			ID:                "support",
			EscalateIntents:   []string{"cancel_account"},
			FallbackScript:    engine.DefaultFallbackScript,
			EscalationMessage: engine.DefaultEscalationMessage,
		},
		script: []enginetesting.FakeGenerationTurn{
			{Segments: []string{"Sure, let me check."}, Confidence: 0.9, HasConfidence: true, Intent: "cancel_account"},
		},
	})
	env.startCall(t, "support")
	env.waitForState(t, engine.StateListening)

	env.pushUtterance(t, 1)

	env.waitForState(t, engine.StateEscalated)
	env.waitForTurn(t, engine.TurnOutcomeEscalated)
	env.waitForState(t, engine.StateEnded)
	assert.Equal(t, 1, env.telephony.TransferCount(testCallID))
}

func TestEngineBargeInCancelsSynthesis(t *testing.T) {
	env := newTestEnv(t, testEnvParams{
		synthesis: &enginetesting.FakeSynthesisModel{ChunkCount: 200, ChunkDelay: 10 * time.Millisecond},
		script: []enginetesting.FakeGenerationTurn{
			{Segments: []string{"This is a very long answer that keeps going."}, Confidence: 0.9, HasConfidence: true},
		},
	})
	session := env.startCall(t, "support")
	env.waitForState(t, engine.StateListening)

	env.pushUtterance(t, 1)
	env.waitForState(t, engine.StateResponding)

	// Caller speech above the energy threshold while the agent is responding.
	loud := make(engine.AudioData, 240)
	for i := range loud {
		loud[i] = 8000
	}
	require.NoError(t, env.engine.PushInboundAudioChunk(testCallID, engine.AudioChunk{Seq: 2, Data: loud}))
	require.NoError(t, env.engine.PushInboundAudioChunk(testCallID, engine.AudioChunk{Seq: 3, Data: loud}))

	env.waitForState(t, engine.StateListening)
	assert.Equal(t, engine.StateListening, session.State())

	// No further outbound audio for the cancelled turn.
	time.Sleep(50 * time.Millisecond)
	count := len(env.telephony.OutboundChunks(testCallID))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, count, len(env.telephony.OutboundChunks(testCallID)))

	// The interrupted turn was not recorded.
	assert.Empty(t, session.Turns())
}

func TestEngineNoConcurrentGeneration(t *testing.T) {
	env := newTestEnv(t, testEnvParams{
		script: []enginetesting.FakeGenerationTurn{
			{Segments: []string{"one"}, Confidence: 0.9, HasConfidence: true},
			{Segments: []string{"two"}, Confidence: 0.9, HasConfidence: true},
			{Segments: []string{"three"}, Confidence: 0.9, HasConfidence: true},
		},
	})
	env.startCall(t, "support")
	env.waitForState(t, engine.StateListening)

	for seq := uint64(1); seq <= 3; seq++ {
		env.pushUtterance(t, seq)
	}

	ok := env.sub.WaitFor(5*time.Second, func(e engine.SessionEvent) bool {
		tc, isTurn := e.(engine.TurnCompletedEvent)
		return isTurn && tc.Turn.Seq == 3
	})
	require.True(t, ok)
	assert.Equal(t, 1, env.gen.ConcurrentPeak())
}

func TestEngineCallEndUnblocksStalledRecognition(t *testing.T) {
	// A recognition adapter stuck on its transport neither reads the input
	// queue nor ends its fragment stream on its own. Ending the call must
	// still return promptly: teardown closes the recognition session, which
	// is what unblocks the fragment loop.
	rec := &enginetesting.BlockingRecognitionModel{}
	env := newTestEnv(t, testEnvParams{recognition: rec})
	env.startCall(t, "support")
	env.waitForState(t, engine.StateListening)

	done := make(chan struct{})
	go func() {
		env.engine.NotifyCallEnd(testCallID, "caller hung up")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("NotifyCallEnd did not return; the fragment loop is still blocked on recognition")
	}

	sessions := rec.Sessions()
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Closed())
}

func TestEngineIntakeBackpressureTimesOut(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.RetryInitialInterval = time.Millisecond
	cfg.QueueDepth = 1
	cfg.QueueFullTimeout = 50 * time.Millisecond

	// Recognition never drains the intake queue, so the second chunk cannot
	// be accepted within the timeout.
	env := newTestEnv(t, testEnvParams{
		config:      &cfg,
		recognition: &enginetesting.BlockingRecognitionModel{},
	})
	env.startCall(t, "support")
	env.waitForState(t, engine.StateListening)

	require.NoError(t, env.engine.PushInboundAudioChunk(testCallID, engine.AudioChunk{
		Seq: 1, Data: make(engine.AudioData, 240),
	}))

	err := env.engine.PushInboundAudioChunk(testCallID, engine.AudioChunk{
		Seq: 2, Data: make(engine.AudioData, 240),
	})
	var timeoutErr engine.AdapterTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, engine.StageRecognition, timeoutErr.Stage)

	// The failure is also mirrored to subscribers.
	ok := env.sub.WaitFor(2*time.Second, func(e engine.SessionEvent) bool {
		ee, isErr := e.(engine.ErrorEvent)
		return isErr && ee.Stage == engine.StageRecognition
	})
	assert.True(t, ok)
}

func TestEngineMemoryTimeoutDegradesContext(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.RetryInitialInterval = time.Millisecond
	cfg.MemoryTimeout = 10 * time.Millisecond

	env := newTestEnv(t, testEnvParams{
		config:    &cfg,
		retriever: &enginetesting.FakeRetriever{Delay: time.Second},
		script: []enginetesting.FakeGenerationTurn{
			{Segments: []string{"Answered without memory."}, Confidence: 0.9, HasConfidence: true},
		},
	})
	env.startCall(t, "support")
	env.waitForState(t, engine.StateListening)

	env.pushUtterance(t, 1)

	turn := env.waitForTurn(t, engine.TurnOutcomeNormal)
	assert.Equal(t, "Answered without memory.", turn.AgentText)

	calls := env.gen.Calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].Context.Records)
}
