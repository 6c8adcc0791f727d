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
	"cmp"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/callwave-ai/callengine/asyncqueue"
	"github.com/callwave-ai/callengine/asynctask"
	"github.com/gorilla/websocket"
)

const (
	// recognitionEventInactivityTimeout is the timeout for inactivity in
	// event processing.
	recognitionEventInactivityTimeout = 1000 * time.Second

	// recognitionSessionCreationTimeout is the timeout waiting for the
	// session.created event.
	recognitionSessionCreationTimeout = 10 * time.Second

	// recognitionSessionUpdateTimeout is the timeout waiting for the
	// session.updated event.
	recognitionSessionUpdateTimeout = 10 * time.Second
)

const DefaultOpenAIRecognitionWebsocketURL = "wss://api.openai.com/v1/realtime?intent=transcription"

var defaultTurnDetection = map[string]any{"type": "semantic_vad"}

type recognitionErrorSentinel struct{ err error }
type recognitionCompleteSentinel struct{}
type recognitionWebsocketDoneSentinel struct{}

type recognitionOutputValue interface {
	isRecognitionOutputValue()
}

type recognitionOutputFragment TranscriptFragment

func (recognitionOutputFragment) isRecognitionOutputValue()   {}
func (recognitionErrorSentinel) isRecognitionOutputValue()    {}
func (recognitionCompleteSentinel) isRecognitionOutputValue() {}

type recognitionEventValue interface {
	isRecognitionEventValue()
}

type recognitionEventMap map[string]any

func (recognitionEventMap) isRecognitionEventValue()              {}
func (recognitionWebsocketDoneSentinel) isRecognitionEventValue() {}

type recognitionTimeoutError struct{ error }

// waitForRecognitionEvent waits for an event from eventQueue whose type is in
// expectedTypes within the specified timeout.
func waitForRecognitionEvent(
	eventQueue *asyncqueue.Queue[map[string]any],
	expectedTypes []string,
	timeout time.Duration,
) (map[string]any, error) {
	startTime := time.Now()
	for {
		remaining := timeout - time.Since(startTime)
		if remaining <= 0 {
			return nil, recognitionTimeoutError{error: fmt.Errorf("timeout waiting for event(s): %v", expectedTypes)}
		}
		event, ok := eventQueue.GetTimeout(remaining)
		if !ok {
			continue
		}
		eventType, _ := event["type"].(string)
		if slices.Contains(expectedTypes, eventType) {
			return event, nil
		}
		if eventType == "error" {
			return nil, fmt.Errorf("error event: %v", event["error"])
		}
	}
}

// OpenAIRecognitionSession transcribes one call's audio over the OpenAI
// realtime websocket API. Utterance boundaries come from the server's turn
// detection: delta events become non-final fragments and each completed
// transcription closes an utterance with a final fragment.
type OpenAIRecognitionSession struct {
	websocketURL  string
	client        OpenaiClient
	model         string
	settings      RecognitionSettings
	turnDetection map[string]any

	inputQueue  *asyncqueue.Queue[AudioChunk]
	outputQueue *asyncqueue.Queue[recognitionOutputValue]
	websocket   *websocket.Conn
	wsMu        sync.Mutex
	eventQueue  *asyncqueue.Queue[recognitionEventValue]
	stateQueue  *asyncqueue.Queue[map[string]any]
	fragmentSeq uint64
	closed      atomic.Bool
	closeOnce   sync.Once

	listenerTask      *asynctask.TaskNoValue
	processEventsTask *asynctask.TaskNoValue
	streamAudioTask   *asynctask.TaskNoValue
	connectionTask    *asynctask.TaskNoValue
	storedError       error
}

type OpenAIRecognitionSessionParams struct {
	Input    *asyncqueue.Queue[AudioChunk]
	Client   OpenaiClient
	Model    string
	Settings RecognitionSettings

	// Optional, defaults to DefaultOpenAIRecognitionWebsocketURL.
	WebsocketURL string
}

func NewOpenAIRecognitionSession(params OpenAIRecognitionSessionParams) *OpenAIRecognitionSession {
	turnDetection := params.Settings.TurnDetection
	if len(turnDetection) == 0 {
		turnDetection = defaultTurnDetection
	}

	return &OpenAIRecognitionSession{
		websocketURL:  cmp.Or(params.WebsocketURL, DefaultOpenAIRecognitionWebsocketURL),
		client:        params.Client,
		model:         params.Model,
		settings:      params.Settings,
		turnDetection: turnDetection,

		inputQueue:  params.Input,
		outputQueue: asyncqueue.New[recognitionOutputValue](),
		eventQueue:  asyncqueue.New[recognitionEventValue](),
		stateQueue:  asyncqueue.New[map[string]any](),
	}
}

// shutdown closes the websocket and ends the fragment stream. Every teardown
// path funnels through it, so read or write failures observed after shutdown
// count as a normal end of stream, not as adapter errors.
func (s *OpenAIRecognitionSession) shutdown() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.wsMu.Lock()
		c := s.websocket
		s.wsMu.Unlock()
		if c != nil {
			if err := c.Close(); err != nil {
				Logger().Debug("error closing websocket connection",
					slog.String("error", err.Error()))
			}
		}
		s.outputQueue.Put(recognitionCompleteSentinel{})
	})
}

func (s *OpenAIRecognitionSession) eventListener(ctx context.Context) (err error) {
	if s.websocket == nil {
		return errors.New("websocket not initialized")
	}

	defer func() {
		if err != nil {
			s.outputQueue.Put(recognitionErrorSentinel{err: err})
			err = AdapterUnavailableError{Stage: StageRecognition, Cause: err}
		}
	}()

	for {
		_, message, err := s.websocket.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || s.closed.Load() {
				break
			}
			return fmt.Errorf("error reading websocket message: %w", err)
		}

		var event map[string]any
		err = json.Unmarshal(message, &event)
		if err != nil {
			return fmt.Errorf("error JSON-unmarshaling websocket message: %w", err)
		}

		eventType, _ := event["type"].(string)
		if eventType == "error" {
			return fmt.Errorf("error event: %v", event["error"])
		}
		if slices.Contains([]string{
			"session.updated",
			"transcription_session.updated",
			"session.created",
			"transcription_session.created",
		}, eventType) {
			s.stateQueue.Put(event)
		}

		s.eventQueue.Put(recognitionEventMap(event))
	}

	s.eventQueue.Put(recognitionWebsocketDoneSentinel{})
	return nil
}

func (s *OpenAIRecognitionSession) configureSession() error {
	if s.websocket == nil {
		return errors.New("websocket not initialized")
	}
	transcription := map[string]any{"model": s.model}
	if s.settings.Language != "" {
		transcription["language"] = s.settings.Language
	}
	if s.settings.Prompt != "" {
		transcription["prompt"] = s.settings.Prompt
	}
	return s.websocket.WriteJSON(map[string]any{
		"type": "transcription_session.update",
		"session": map[string]any{
			"input_audio_format":        "pcm16",
			"input_audio_transcription": transcription,
			"turn_detection":            s.turnDetection,
		},
	})
}

func (s *OpenAIRecognitionSession) setupConnection(ctx context.Context, c *websocket.Conn) (err error) {
	s.wsMu.Lock()
	s.websocket = c
	s.wsMu.Unlock()
	s.listenerTask = asynctask.CreateTaskNoValue(ctx, s.eventListener)

	defer func() {
		if err != nil {
			s.outputQueue.Put(recognitionErrorSentinel{err: err})
		}
	}()

	_, err = waitForRecognitionEvent(
		s.stateQueue,
		[]string{"session.created", "transcription_session.created"},
		recognitionSessionCreationTimeout,
	)
	if err != nil {
		if errors.As(err, &recognitionTimeoutError{}) {
			err = AdapterTimeoutError{Stage: StageRecognition, Cause: err}
		}
		return err
	}

	if err = s.configureSession(); err != nil {
		return err
	}

	_, err = waitForRecognitionEvent(
		s.stateQueue,
		[]string{"session.updated", "transcription_session.updated"},
		recognitionSessionUpdateTimeout,
	)
	if err != nil {
		if errors.As(err, &recognitionTimeoutError{}) {
			err = AdapterTimeoutError{Stage: StageRecognition, Cause: err}
		}
		return err
	}
	return nil
}

func (s *OpenAIRecognitionSession) nextFragment(text string, final bool) recognitionOutputFragment {
	s.fragmentSeq++
	return recognitionOutputFragment{
		Seq:   s.fragmentSeq,
		Text:  text,
		Final: final,
	}
}

func (s *OpenAIRecognitionSession) handleEvents(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			s.outputQueue.Put(recognitionErrorSentinel{err: err})
		}
	}()

loop:
	for {
		event, ok := s.eventQueue.GetTimeout(recognitionEventInactivityTimeout)
		if !ok {
			// No new events for a while. Assume the session is done.
			break
		}

		switch event := event.(type) {
		case recognitionWebsocketDoneSentinel:
			break loop
		case recognitionEventMap:
			eventType, _ := event["type"].(string)
			switch eventType {
			case "conversation.item.input_audio_transcription.delta":
				delta, _ := event["delta"].(string)
				if delta != "" {
					s.outputQueue.Put(s.nextFragment(delta, false))
				}
			case "conversation.item.input_audio_transcription.completed":
				transcript, _ := event["transcript"].(string)
				// An empty final fragment still closes the utterance; the
				// transcript text was already delivered through deltas.
				s.outputQueue.Put(s.nextFragment(transcript, true))
			}
		default:
			// This would be an unrecoverable implementation bug, so a panic is appropriate.
			panic(fmt.Errorf("unexpected recognitionEventValue type %T", event))
		}
	}

	s.outputQueue.Put(recognitionCompleteSentinel{})
	return nil
}

func (s *OpenAIRecognitionSession) streamAudio(ctx context.Context) error {
	if s.websocket == nil {
		return errors.New("websocket not initialized")
	}

	for {
		chunk, ok := s.inputQueue.Get()
		if !ok {
			break
		}

		err := s.websocket.WriteJSON(map[string]any{
			"type":  "input_audio_buffer.append",
			"audio": base64.StdEncoding.EncodeToString(chunk.Data.Bytes()),
		})
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || s.closed.Load() {
				return nil
			}
			err = fmt.Errorf("websocket writing error: %w", err)
			s.outputQueue.Put(recognitionErrorSentinel{err: err})
			return err
		}
	}

	// A closed input queue means the caller is done sending audio. Closing
	// the connection ends the fragment stream, per the session contract.
	s.shutdown()
	return nil
}

func (s *OpenAIRecognitionSession) processWebsocketConnection(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			s.outputQueue.Put(recognitionErrorSentinel{err: err})
		}
	}()

	header := make(http.Header)
	if s.client.APIKey.Valid() {
		header.Set("Authorization", "Bearer "+s.client.APIKey.Value)
	}
	header.Set("OpenAI-Beta", "realtime=v1")
	c, _, err := websocket.DefaultDialer.DialContext(ctx, s.websocketURL, header)
	if err != nil {
		return AdapterUnavailableError{
			Stage: StageRecognition,
			Cause: fmt.Errorf("websocket connection error: %w", err),
		}
	}
	defer func() {
		if err != nil {
			s.shutdown()
		}
	}()

	if s.closed.Load() {
		// The session was closed while dialing; the connection is unwanted.
		if e := c.Close(); e != nil {
			Logger().Debug("error closing websocket connection",
				slog.String("error", e.Error()))
		}
		return nil
	}

	if err = s.setupConnection(ctx, c); err != nil {
		return err
	}

	s.processEventsTask = asynctask.CreateTaskNoValue(ctx, s.handleEvents)
	s.streamAudioTask = asynctask.CreateTaskNoValue(ctx, s.streamAudio)

	s.listenerTask.Await()
	return nil
}

func (s *OpenAIRecognitionSession) checkErrors() {
	tasks := []*asynctask.TaskNoValue{
		s.connectionTask,
		s.processEventsTask,
		s.streamAudioTask,
		s.listenerTask,
	}
	for _, t := range tasks {
		if t != nil && t.IsDone() {
			if err := t.Await().Error; err != nil {
				s.storedError = err
			}
		}
	}
}

func (s *OpenAIRecognitionSession) cleanupTasks() {
	tasks := []*asynctask.TaskNoValue{
		s.connectionTask,
		s.processEventsTask,
		s.streamAudioTask,
		s.listenerTask,
	}
	for _, t := range tasks {
		if t != nil && !t.IsDone() {
			t.Cancel()
		}
	}
}

func (s *OpenAIRecognitionSession) Fragments(ctx context.Context) RecognitionFragments {
	return &openAIRecognitionFragments{ctx: ctx, s: s}
}

// Close ends the fragment stream and tears the session down. Idempotent, and
// safe to call from outside the goroutine consuming Fragments: it is what
// unblocks a consumer still waiting on the transport.
func (s *OpenAIRecognitionSession) Close(context.Context) error {
	s.shutdown()
	s.cleanupTasks()
	return nil
}

type openAIRecognitionFragments struct {
	ctx context.Context
	s   *OpenAIRecognitionSession
	err error
}

func (o *openAIRecognitionFragments) Seq() iter.Seq[TranscriptFragment] {
	ctx := o.ctx
	s := o.s
	return func(yield func(TranscriptFragment) bool) {
		canYield := true // once yield returns false, stop yielding, but finish consuming the queue

		// Cancelling the consumer's context must end the stream even while
		// the listener is blocked reading the websocket.
		stopWatch := context.AfterFunc(ctx, s.shutdown)
		defer stopWatch()

		s.connectionTask = asynctask.CreateTaskNoValue(ctx, s.processWebsocketConnection)

	loop:
		for {
			value, ok := s.outputQueue.Get()
			if !ok {
				break
			}

			switch v := value.(type) {
			case recognitionOutputFragment:
				if canYield {
					canYield = yield(TranscriptFragment(v))
				}
			case recognitionErrorSentinel, recognitionCompleteSentinel:
				break loop
			default:
				// This would be an unrecoverable implementation bug, so a panic is appropriate.
				panic(fmt.Errorf("unexpected recognitionOutputValue type %T", v))
			}
		}

		s.shutdown()

		s.checkErrors()
		o.err = errors.Join(o.err, s.storedError)
	}
}

func (o *openAIRecognitionFragments) Error() error { return o.err }

// OpenAIRecognitionModel is a speech-to-text model backed by the OpenAI
// realtime transcription API.
type OpenAIRecognitionModel struct {
	model  string
	client OpenaiClient
}

func NewOpenAIRecognitionModel(modelName string, client OpenaiClient) *OpenAIRecognitionModel {
	return &OpenAIRecognitionModel{
		model:  modelName,
		client: client,
	}
}

func (m *OpenAIRecognitionModel) ModelName() string { return m.model }

func (m *OpenAIRecognitionModel) CreateSession(ctx context.Context, params RecognitionSessionParams) (RecognitionSession, error) {
	return NewOpenAIRecognitionSession(OpenAIRecognitionSessionParams{
		Input:    params.Input,
		Client:   m.client,
		Model:    m.model,
		Settings: params.Settings,
	}), nil
}
