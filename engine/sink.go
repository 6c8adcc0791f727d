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

	"github.com/callwave-ai/callengine/memory"
)

// TurnStoreSubscriber persists completed turns to a durable store. It runs as
// a fan-out subscriber, so storage latency never touches the pipeline.
type TurnStoreSubscriber struct {
	store memory.TurnStore
}

func NewTurnStoreSubscriber(store memory.TurnStore) *TurnStoreSubscriber {
	return &TurnStoreSubscriber{store: store}
}

// OnEvent implements Subscriber. Only turn completions are persisted.
func (s *TurnStoreSubscriber) OnEvent(event SessionEvent) error {
	e, ok := event.(TurnCompletedEvent)
	if !ok {
		return nil
	}
	return s.store.SaveTurn(context.Background(), memory.TurnRecord{
		SessionID:  e.SessionID,
		AgentID:    e.AgentID,
		Seq:        e.Turn.Seq,
		CallerText: e.Turn.CallerText,
		AgentText:  e.Turn.AgentText,
		Outcome:    string(e.Turn.Outcome),
		Confidence: e.Turn.Confidence,
		Sentiment:  e.Turn.Sentiment,
		StartedAt:  e.Turn.StartedAt,
		EndedAt:    e.Turn.EndedAt,
	})
}
