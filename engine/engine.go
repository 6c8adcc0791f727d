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

// Package engine orchestrates voice calls between a telephony layer and the
// speech capability adapters: per-call state machines, the streaming
// Recognition -> Generation -> Synthesis pipeline with backpressure and
// barge-in, conversational context assembly, scripted fallback and human
// escalation, and event fan-out to external consumers.
package engine

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TelephonyCollaborator is the engine's outward dependency on the call/media
// layer. The engine never reaches the network itself; it hands outbound audio
// and transfer requests to this collaborator.
type TelephonyCollaborator interface {
	// EmitOutboundAudioChunk delivers one synthesized audio chunk to the
	// caller.
	EmitOutboundAudioChunk(callID string, chunk AudioChunk) error

	// RequestHumanTransfer hands the call to a human operator. The engine
	// invokes it at most once per session.
	RequestHumanTransfer(callID string) error
}

// Engine is the call orchestration facade. The telephony layer drives it with
// call lifecycle notifications and inbound audio; everything per-call happens
// on session-owned tasks behind it.
type Engine struct {
	cfg       Config
	agents    map[string]*AgentConfig
	provider  ModelProvider
	contexts  *ContextManager
	telephony TelephonyCollaborator
	registry  *SessionRegistry
	fanout    *EventFanout

	mu           sync.Mutex
	coordinators map[string]*PipelineCoordinator
	closed       bool
}

type EngineParams struct {
	Config Config

	// Agents maps agent IDs to their definitions, as loaded by
	// LoadAgentConfigDir.
	Agents map[string]*AgentConfig

	// Provider creates the recognition, generation and synthesis models.
	Provider ModelProvider

	// Contexts assembles per-turn conversational context. Required; use a
	// ContextManager with a nil retriever to run without long-term memory.
	Contexts *ContextManager

	// Telephony receives outbound audio and transfer requests.
	Telephony TelephonyCollaborator
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Provider == nil {
		return nil, fmt.Errorf("engine: model provider is required")
	}
	if params.Telephony == nil {
		return nil, fmt.Errorf("engine: telephony collaborator is required")
	}
	if params.Contexts == nil {
		params.Contexts = NewContextManager(nil, params.Config)
	}

	e := &Engine{
		cfg:          params.Config,
		agents:       params.Agents,
		provider:     params.Provider,
		contexts:     params.Contexts,
		telephony:    params.Telephony,
		registry:     NewSessionRegistry(),
		coordinators: make(map[string]*PipelineCoordinator),
	}
	e.fanout = NewEventFanout(EventFanoutParams{
		QueueDepth: params.Config.FanoutQueueDepth,
		Snapshot:   e.snapshotEvents,
	})
	return e, nil
}

// NotifyCallStart opens a session for callID and starts its pipeline.
// A second start for a live call ID fails with DuplicateSessionError.
func (e *Engine) NotifyCallStart(ctx context.Context, callID, agentID string) (*CallSession, error) {
	agent, ok := e.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("engine: unknown agent %q", agentID)
	}

	recognition, err := e.provider.GetRecognitionModel(cmp.Or(agent.RecognitionModel, e.cfg.RecognitionModel))
	if err != nil {
		return nil, err
	}
	generation, err := e.provider.GetGenerationModel(cmp.Or(agent.GenerationModel, e.cfg.GenerationModel))
	if err != nil {
		return nil, err
	}
	synthesis, err := e.provider.GetSynthesisModel(cmp.Or(agent.SynthesisModel, e.cfg.SynthesisModel))
	if err != nil {
		return nil, err
	}

	var session *CallSession
	session, err = e.registry.Open(ctx, CallSessionParams{
		CallID:     callID,
		Agent:      agent,
		QueueDepth: e.cfg.QueueDepth,
		OnTransition: func(from, to CallState, reason string) {
			e.fanout.Publish(StateChangedEvent{
				SessionID: session.ID,
				From:      from,
				To:        to,
				Reason:    reason,
				At:        time.Now(),
			})
		},
	})
	if err != nil {
		return nil, err
	}

	coordinator := NewPipelineCoordinator(PipelineCoordinatorParams{
		Session:     session,
		Config:      e.cfg,
		Recognition: recognition,
		Generation:  generation,
		Synthesis:   synthesis,
		Contexts:    e.contexts,
		Policy:      NewPolicy(e.cfg, agent),
		Telephony:   e.telephony,
		Fanout:      e.fanout,
		// Runs on the session's own fragment loop, which NotifyCallEnd joins,
		// so the teardown must happen off that goroutine.
		OnEscalated: func(callID string) {
			go e.NotifyCallEnd(callID, "escalated to human operator")
		},
	})

	if err := coordinator.Start(ctx); err != nil {
		e.registry.Close(callID, "pipeline start failed")
		return nil, err
	}

	e.mu.Lock()
	e.coordinators[callID] = coordinator
	e.mu.Unlock()

	Logger().Info("call session started",
		slog.String("call_id", callID), slog.String("session_id", session.ID),
		slog.String("agent_id", agentID))
	return session, nil
}

// PushInboundAudioChunk feeds one caller audio chunk into the session's
// pipeline.
func (e *Engine) PushInboundAudioChunk(callID string, chunk AudioChunk) error {
	e.mu.Lock()
	coordinator, ok := e.coordinators[callID]
	e.mu.Unlock()
	if !ok {
		return SessionNotFoundError{CallID: callID}
	}
	return coordinator.PushAudio(chunk)
}

// NotifyCallEnd tears the session down. Safe to call more than once and for
// unknown call IDs: telephony stop events are delivered at least once.
func (e *Engine) NotifyCallEnd(callID, reason string) {
	e.mu.Lock()
	coordinator, ok := e.coordinators[callID]
	if ok {
		delete(e.coordinators, callID)
	}
	e.mu.Unlock()

	session := e.registry.Close(callID, cmp.Or(reason, "call ended"))
	if session == nil && !ok {
		return
	}

	if coordinator != nil {
		coordinator.stop()
	}
	Logger().Info("call session ended",
		slog.String("call_id", callID), slog.String("reason", reason))
}

// Session returns the live session for callID.
func (e *Engine) Session(callID string) (*CallSession, error) {
	return e.registry.Get(callID)
}

// Subscribe attaches a named event consumer. It first receives a snapshot of
// every live session's state, then live events.
func (e *Engine) Subscribe(name string, sub Subscriber) {
	e.fanout.Subscribe(name, sub)
}

// Unsubscribe detaches a named event consumer.
func (e *Engine) Unsubscribe(name string) {
	e.fanout.Unsubscribe(name)
}

// snapshotEvents renders the current state of every live session as events,
// so late subscribers join with a consistent view.
func (e *Engine) snapshotEvents() []SessionEvent {
	e.mu.Lock()
	coordinators := make([]*PipelineCoordinator, 0, len(e.coordinators))
	for _, c := range e.coordinators {
		coordinators = append(coordinators, c)
	}
	e.mu.Unlock()

	now := time.Now()
	events := make([]SessionEvent, 0, len(coordinators))
	for _, c := range coordinators {
		state := c.session.State()
		events = append(events, StateChangedEvent{
			SessionID: c.session.ID,
			From:      state,
			To:        state,
			Reason:    "snapshot",
			At:        now,
		})
	}
	return events
}

// Close ends every live call and shuts the fan-out down.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	callIDs := make([]string, 0, len(e.coordinators))
	for callID := range e.coordinators {
		callIDs = append(callIDs, callID)
	}
	e.mu.Unlock()

	for _, callID := range callIDs {
		e.NotifyCallEnd(callID, "engine shutdown")
	}
	e.fanout.Close()
}
