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
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/callwave-ai/callengine/asynctask"
	"github.com/cenkalti/backoff/v4"
)

// minSynthesisSegmentLength keeps synthesis segments from degenerating into
// single-word fragments.
const minSynthesisSegmentLength = 20

// PipelineCoordinator drives one session's Recognition -> Generation ->
// Synthesis loop. One coordinator per session; the fragment loop processes
// utterances strictly in order, so two generation calls for the same session
// are never in flight at once.
type PipelineCoordinator struct {
	session     *CallSession
	cfg         Config
	recognition RecognitionModel
	generation  GenerationModel
	synthesis   SynthesisModel
	contexts    *ContextManager
	policy      Policy
	telephony   TelephonyCollaborator
	fanout      *EventFanout

	// onEscalated is invoked after the escalation path completes; the engine
	// uses it to end the call.
	onEscalated func(callID string)

	recognitionSession RecognitionSession
	detector           *EnergyDetector
	loopTask           *asynctask.TaskNoValue

	// inboundSeq enforces ordering on the telephony intake; only PushAudio
	// touches it.
	inboundSeq   *Sequencer[AudioChunk]
	inboundSeqMu sync.Mutex

	mu                   sync.Mutex
	respondCancel        context.CancelFunc
	outSeq               uint64
	consecutiveFallbacks int
	transferOnce         sync.Once
}

type PipelineCoordinatorParams struct {
	Session     *CallSession
	Config      Config
	Recognition RecognitionModel
	Generation  GenerationModel
	Synthesis   SynthesisModel
	Contexts    *ContextManager
	Policy      Policy
	Telephony   TelephonyCollaborator
	Fanout      *EventFanout
	OnEscalated func(callID string)
}

func NewPipelineCoordinator(params PipelineCoordinatorParams) *PipelineCoordinator {
	return &PipelineCoordinator{
		session:     params.Session,
		cfg:         params.Config,
		recognition: params.Recognition,
		generation:  params.Generation,
		synthesis:   params.Synthesis,
		contexts:    params.Contexts,
		policy:      params.Policy,
		telephony:   params.Telephony,
		fanout:      params.Fanout,
		onEscalated: params.OnEscalated,
		detector: NewEnergyDetector(EnergyConfig{
			SpeechThreshold: params.Config.BargeInThreshold,
			SpeechFrames:    params.Config.BargeInFrames,
		}),
		inboundSeq: NewSequencer[AudioChunk](1),
	}
}

// Start opens the recognition session and launches the fragment loop.
func (p *PipelineCoordinator) Start(ctx context.Context) error {
	if err := p.session.Machine().Transition(StateConnecting, "call start"); err != nil {
		return err
	}

	recognitionSession, err := p.recognition.CreateSession(ctx, RecognitionSessionParams{
		Input: p.session.Inbound(),
		Settings: RecognitionSettings{
			Language: "",
		},
	})
	if err != nil {
		return AdapterUnavailableError{Stage: StageRecognition, Cause: err}
	}
	p.recognitionSession = recognitionSession

	p.loopTask = asynctask.CreateTaskNoValue(p.session.Context(), func(ctx context.Context) error {
		return p.run(ctx)
	})
	return nil
}

// PushAudio accepts one inbound chunk from the telephony layer. It enforces
// the sequence invariant, performs barge-in detection while the agent is
// responding, and applies backpressure: a full intake queue past the
// configured timeout is a recognition stage timeout, surfaced to the caller
// rather than buffered without limit.
func (p *PipelineCoordinator) PushAudio(chunk AudioChunk) error {
	p.inboundSeqMu.Lock()
	deliverable, err := p.inboundSeq.Push(chunk.Seq, chunk)
	p.inboundSeqMu.Unlock()
	if err != nil {
		return err
	}

	for _, c := range deliverable {
		if p.session.State() == StateResponding && p.detector.ProcessFrame(c.Data) {
			p.bargeIn()
		}

		if p.session.Inbound().IsClosed() {
			return SessionNotFoundError{CallID: p.session.CallID}
		}
		if !p.session.Inbound().PutTimeout(c, p.cfg.QueueFullTimeout) {
			if p.session.Inbound().IsClosed() {
				return SessionNotFoundError{CallID: p.session.CallID}
			}
			err := AdapterTimeoutError{
				Stage: StageRecognition,
				Cause: errors.New("intake queue full past timeout"),
			}
			p.publishError(StageRecognition, err)
			return err
		}
	}
	return nil
}

// bargeIn cancels the in-flight synthesis and returns the session to
// listening. Runs on the inbound audio path; must stay non-blocking.
func (p *PipelineCoordinator) bargeIn() {
	p.mu.Lock()
	cancel := p.respondCancel
	p.respondCancel = nil
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.detector.Reset()

	if p.session.Machine().TransitionIf(StateResponding, StateListening, "barge-in") {
		Logger().Info("barge-in detected, response interrupted",
			slog.String("session_id", p.session.ID))
	}
}

// run is the fragment loop: greet, then accumulate transcript fragments into
// utterances and run one turn per utterance.
func (p *PipelineCoordinator) run(ctx context.Context) error {
	defer func() {
		if err := p.recognitionSession.Close(context.WithoutCancel(ctx)); err != nil {
			Logger().Warn("error closing recognition session",
				slog.String("session_id", p.session.ID), slog.String("error", err.Error()))
		}
	}()

	p.greet(ctx)

	var utterance strings.Builder
	fragments := p.recognitionSession.Fragments(ctx)
	for fragment := range fragments.Seq() {
		p.fanout.Publish(TranscriptFragmentEvent{
			SessionID: p.session.ID,
			Text:      fragment.Text,
			Final:     fragment.Final,
			At:        time.Now(),
		})

		utterance.WriteString(fragment.Text)
		if !fragment.Final {
			continue
		}

		text := strings.TrimSpace(utterance.String())
		utterance.Reset()
		if text == "" {
			continue
		}
		p.runTurn(ctx, text)

		if p.session.State() == StateEnded {
			break
		}
	}

	if err := fragments.Error(); err != nil && !errors.Is(err, context.Canceled) {
		p.publishError(StageRecognition, err)
		return err
	}
	return nil
}

// greet speaks the agent's configured greeting, then opens the floor.
func (p *PipelineCoordinator) greet(ctx context.Context) {
	if p.session.Agent.Greeting == "" {
		if err := p.session.Machine().Transition(StateListening, "no greeting configured"); err != nil {
			Logger().Warn("greeting transition failed", slog.String("error", err.Error()))
		}
		return
	}

	if err := p.session.Machine().Transition(StateGreeting, "greeting"); err != nil {
		return
	}
	if err := p.speak(ctx, p.session.Agent.Greeting); err != nil && !errors.Is(err, context.Canceled) {
		Logger().Warn("greeting synthesis failed",
			slog.String("session_id", p.session.ID), slog.String("error", err.Error()))
	}
	if err := p.session.Machine().Transition(StateListening, "greeting complete"); err != nil {
		Logger().Warn("greeting transition failed", slog.String("error", err.Error()))
	}
}

type generationOutput struct {
	reply         string
	confidence    float64
	hasConfidence bool
	sentiment     float64
	hasSentiment  bool
	intent        string
}

// runTurn executes one full turn for a completed caller utterance.
func (p *PipelineCoordinator) runTurn(ctx context.Context, utterance string) {
	startedAt := time.Now()
	if err := p.session.Machine().Transition(StateThinking, "utterance complete"); err != nil {
		return
	}

	bundle := p.contexts.BuildContext(ctx, p.session, utterance)

	out, err := p.generateWithRetries(ctx, GenerationParams{
		Transcript: utterance,
		Context:    bundle,
		Settings: GenerationSettings{
			Instructions: p.session.Agent.Instructions,
		},
	})
	if err != nil {
		p.handleFailure(ctx, utterance, startedAt, StageGeneration, err)
		return
	}

	if p.session.Agent.ShouldEscalateIntent(out.intent) {
		Logger().Info("escalation intent detected",
			slog.String("session_id", p.session.ID), slog.String("intent", out.intent))
		p.escalate(ctx, utterance, startedAt, "escalation intent: "+out.intent)
		return
	}

	threshold := p.cfg.ConfidenceThreshold
	if p.session.Agent.ConfidenceThreshold != nil {
		threshold = *p.session.Agent.ConfidenceThreshold
	}
	if out.hasConfidence && out.confidence < threshold {
		err := LowConfidenceError{Confidence: out.confidence, Threshold: threshold}
		p.publishError(StageGeneration, err)
		p.handleFailure(ctx, utterance, startedAt, StageGeneration, err)
		return
	}

	if err := p.session.Machine().Transition(StateResponding, "reply ready"); err != nil {
		return
	}

	if err := p.speak(ctx, out.reply); err != nil {
		if errors.Is(err, context.Canceled) {
			// Barge-in: the inbound path already moved the machine back to
			// listening. The interrupted turn is not recorded.
			return
		}
		p.handleFailure(ctx, utterance, startedAt, StageSynthesis, err)
		return
	}

	turn := Turn{
		Seq:           p.session.NextTurnSeq(),
		CallerText:    utterance,
		AgentText:     out.reply,
		Confidence:    out.confidence,
		HasConfidence: out.hasConfidence,
		Sentiment:     out.sentiment,
		HasSentiment:  out.hasSentiment,
		StartedAt:     startedAt,
		EndedAt:       time.Now(),
		Outcome:       TurnOutcomeNormal,
	}
	p.completeTurn(turn)

	p.mu.Lock()
	p.consecutiveFallbacks = 0
	p.mu.Unlock()

	if p.session.State() == StateResponding {
		if err := p.session.Machine().Transition(StateListening, "turn complete"); err != nil {
			Logger().Warn("turn completion transition failed", slog.String("error", err.Error()))
		}
	}
}

// generateWithRetries runs generation under the per-utterance retry budget.
// Transient adapter errors back off exponentially; anything else goes
// straight to the policy.
func (p *PipelineCoordinator) generateWithRetries(ctx context.Context, params GenerationParams) (generationOutput, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryInitialInterval

	for attempts := 1; ; attempts++ {
		out, err := p.generateOnce(ctx, params)
		if err == nil {
			return out, nil
		}
		p.publishError(StageGeneration, err)

		decision := p.policy.Decide(p.session.State(), FailureContext{
			Stage:                StageGeneration,
			Err:                  err,
			Attempts:             attempts,
			ConsecutiveFallbacks: p.currentConsecutiveFallbacks(),
		})
		if decision != DecisionRetry {
			return generationOutput{}, err
		}

		Logger().Info("retrying generation",
			slog.String("session_id", p.session.ID), slog.Int("attempt", attempts),
			slog.String("error", err.Error()))
		if err := sleepContext(ctx, bo.NextBackOff()); err != nil {
			return generationOutput{}, err
		}
	}
}

func (p *PipelineCoordinator) generateOnce(ctx context.Context, params GenerationParams) (generationOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	result := p.generation.Run(ctx, params)
	var reply strings.Builder
	for segment := range result.Seq() {
		reply.WriteString(segment)
	}
	if err := result.Error(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return generationOutput{}, AdapterTimeoutError{Stage: StageGeneration, Cause: err}
		}
		return generationOutput{}, err
	}

	out := generationOutput{reply: strings.TrimSpace(reply.String())}
	out.confidence, out.hasConfidence = result.Confidence()
	out.sentiment, out.hasSentiment = result.Sentiment()
	out.intent, _ = result.Intent()
	return out, nil
}

// speak synthesizes text segment by segment and streams the audio outward.
// At most one synthesis call is in flight at a time. The whole utterance is
// cancellable via the respond scope, which barge-in tears down.
func (p *PipelineCoordinator) speak(ctx context.Context, text string) error {
	speakCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	p.respondCancel = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.respondCancel = nil
		p.mu.Unlock()
	}()

	settings := SynthesisSettings{
		Voice: p.session.Agent.Voice,
	}
	for _, segment := range SplitSentences(text, minSynthesisSegmentLength) {
		if err := speakCtx.Err(); err != nil {
			return err
		}
		if err := p.synthesizeSegment(speakCtx, segment, settings); err != nil {
			return err
		}
	}
	return nil
}

func (p *PipelineCoordinator) synthesizeSegment(ctx context.Context, segment string, settings SynthesisSettings) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.cfg.RetryInitialInterval

	for attempts := 1; ; attempts++ {
		err := p.synthesizeOnce(ctx, segment, settings)
		if err == nil || errors.Is(err, context.Canceled) {
			return err
		}
		p.publishError(StageSynthesis, err)

		if !IsTransientAdapterError(err) || attempts >= p.cfg.StageRetries {
			return err
		}
		Logger().Info("retrying synthesis",
			slog.String("session_id", p.session.ID), slog.Int("attempt", attempts),
			slog.String("error", err.Error()))
		if err := sleepContext(ctx, bo.NextBackOff()); err != nil {
			return err
		}
	}
}

func (p *PipelineCoordinator) synthesizeOnce(ctx context.Context, segment string, settings SynthesisSettings) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.StageTimeout)
	defer cancel()

	result := p.synthesis.Run(ctx, segment, settings)

	// Byte streams may split a PCM16 sample across reads; carry the odd byte.
	var rem []byte
	for data := range result.Seq() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(rem) > 0 {
			data = append(rem, data...)
			rem = nil
		}
		if len(data)%2 != 0 {
			rem = []byte{data[len(data)-1]}
			data = data[:len(data)-1]
		}
		audio, err := AudioDataFromBytes(data)
		if err != nil {
			return err
		}
		if err := p.emitAudio(audio); err != nil {
			return err
		}
	}
	// A stream interrupted by cancellation may end without reporting an
	// error of its own.
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return AdapterTimeoutError{Stage: StageSynthesis, Cause: err}
		}
		return err
	}
	if err := result.Error(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return AdapterTimeoutError{Stage: StageSynthesis, Cause: err}
		}
		return err
	}
	return nil
}

func (p *PipelineCoordinator) emitAudio(data AudioData) error {
	p.mu.Lock()
	p.outSeq++
	seq := p.outSeq
	p.mu.Unlock()

	return p.telephony.EmitOutboundAudioChunk(p.session.CallID, AudioChunk{
		SessionID: p.session.ID,
		Stage:     StageSynthesis,
		Seq:       seq,
		Data:      data,
	})
}

// handleFailure routes a failed turn through the policy: scripted fallback,
// then escalation once the consecutive-fallback limit is hit.
func (p *PipelineCoordinator) handleFailure(ctx context.Context, utterance string, startedAt time.Time, stage Stage, cause error) {
	decision := p.policy.Decide(p.session.State(), FailureContext{
		Stage:                stage,
		Err:                  cause,
		Attempts:             p.cfg.StageRetries,
		ConsecutiveFallbacks: p.currentConsecutiveFallbacks(),
	})
	if decision == DecisionEscalate {
		p.escalate(ctx, utterance, startedAt, cause.Error())
		return
	}

	if err := p.session.Machine().Transition(StateFallback, cause.Error()); err != nil {
		Logger().Warn("fallback transition failed", slog.String("error", err.Error()))
	}

	if err := p.speak(ctx, p.session.Agent.FallbackScript); err != nil && !errors.Is(err, context.Canceled) {
		Logger().Warn("fallback synthesis failed",
			slog.String("session_id", p.session.ID), slog.String("error", err.Error()))
	}

	turn := Turn{
		Seq:        p.session.NextTurnSeq(),
		CallerText: utterance,
		AgentText:  p.session.Agent.FallbackScript,
		StartedAt:  startedAt,
		EndedAt:    time.Now(),
		Outcome:    TurnOutcomeFallback,
	}
	p.completeTurn(turn)

	p.mu.Lock()
	p.consecutiveFallbacks++
	count := p.consecutiveFallbacks
	p.mu.Unlock()

	if p.policy.ShouldEscalateAfterFallback(count) {
		p.escalateFromFallback(ctx, "consecutive fallback limit reached")
		return
	}

	if err := p.session.Machine().Transition(StateListening, "fallback complete"); err != nil {
		Logger().Warn("fallback recovery transition failed", slog.String("error", err.Error()))
	}
}

// escalate hands the call to a human from the thinking state.
func (p *PipelineCoordinator) escalate(ctx context.Context, utterance string, startedAt time.Time, reason string) {
	if err := p.session.Machine().Transition(StateEscalated, reason); err != nil {
		Logger().Warn("escalation transition failed", slog.String("error", err.Error()))
	}

	turn := Turn{
		Seq:        p.session.NextTurnSeq(),
		CallerText: utterance,
		AgentText:  p.session.Agent.EscalationMessage,
		StartedAt:  startedAt,
		EndedAt:    time.Now(),
		Outcome:    TurnOutcomeEscalated,
	}
	p.finishEscalation(ctx, &turn)
}

// escalateFromFallback escalates after the final fallback turn has already
// been recorded.
func (p *PipelineCoordinator) escalateFromFallback(ctx context.Context, reason string) {
	if err := p.session.Machine().Transition(StateEscalated, reason); err != nil {
		Logger().Warn("escalation transition failed", slog.String("error", err.Error()))
	}
	p.finishEscalation(ctx, nil)
}

func (p *PipelineCoordinator) finishEscalation(ctx context.Context, turn *Turn) {
	if err := p.speak(ctx, p.session.Agent.EscalationMessage); err != nil && !errors.Is(err, context.Canceled) {
		Logger().Warn("escalation synthesis failed",
			slog.String("session_id", p.session.ID), slog.String("error", err.Error()))
	}

	p.transferOnce.Do(func() {
		if err := p.telephony.RequestHumanTransfer(p.session.CallID); err != nil {
			Logger().Error("human transfer request failed",
				slog.String("call_id", p.session.CallID), slog.String("error", err.Error()))
		}
	})

	if turn != nil {
		p.completeTurn(*turn)
	}

	if p.onEscalated != nil {
		p.onEscalated(p.session.CallID)
	}
}

func (p *PipelineCoordinator) completeTurn(turn Turn) {
	p.session.AppendTurn(turn)
	p.fanout.Publish(TurnCompletedEvent{
		SessionID: p.session.ID,
		AgentID:   p.session.Agent.ID,
		Turn:      turn,
		At:        time.Now(),
	})
}

func (p *PipelineCoordinator) currentConsecutiveFallbacks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveFallbacks
}

func (p *PipelineCoordinator) publishError(stage Stage, err error) {
	p.fanout.Publish(ErrorEvent{
		SessionID: p.session.ID,
		Stage:     stage,
		Err:       err,
		At:        time.Now(),
	})
}

// stop ends the recognition stream and waits for the fragment loop to finish.
// Closing the recognition session here, not just the input queue, unblocks an
// adapter that is still waiting on its transport; session Close is idempotent
// so the loop's own deferred Close stays safe.
func (p *PipelineCoordinator) stop() {
	if p.recognitionSession != nil {
		if err := p.recognitionSession.Close(context.Background()); err != nil {
			Logger().Debug("error closing recognition session",
				slog.String("session_id", p.session.ID), slog.String("error", err.Error()))
		}
	}
	if p.loopTask != nil {
		p.loopTask.Await()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
