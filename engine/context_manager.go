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
	"log/slog"
	"slices"
	"time"

	"github.com/callwave-ai/callengine/memory"
)

// ContextBundle is the conversational context merged into one generation
// request: recent turns plus ranked long-term memory records.
type ContextBundle struct {
	Turns   []Turn
	Records []memory.Record
}

// Size returns the bundle's text size in characters, the unit the budget is
// expressed in.
func (b ContextBundle) Size() int {
	size := 0
	for _, t := range b.Turns {
		size += len(t.CallerText) + len(t.AgentText)
	}
	for _, r := range b.Records {
		size += len(r.Text)
	}
	return size
}

// ContextManager builds the context bundle for each turn. Memory retrieval is
// best-effort: failures and timeouts degrade the bundle to short-term history
// alone, they never fail the turn.
type ContextManager struct {
	retriever      memory.Retriever
	shortTermTurns int
	maxRecords     int
	budget         int
	timeout        time.Duration
}

func NewContextManager(retriever memory.Retriever, cfg Config) *ContextManager {
	return &ContextManager{
		retriever:      retriever,
		shortTermTurns: cfg.ShortTermTurns,
		maxRecords:     cfg.MemoryRecords,
		budget:         cfg.ContextBudgetChars,
		timeout:        cfg.MemoryTimeout,
	}
}

// BuildContext combines the session's recent turns with memory records
// retrieved for the latest caller utterance.
func (m *ContextManager) BuildContext(ctx context.Context, session *CallSession, utterance string) ContextBundle {
	bundle := ContextBundle{
		Turns: session.RecentTurns(m.shortTermTurns),
	}

	if m.retriever != nil && m.maxRecords > 0 && utterance != "" {
		queryCtx, cancel := context.WithTimeout(ctx, m.timeout)
		records, err := m.retriever.Retrieve(queryCtx, utterance, session.Agent.ID, m.maxRecords)
		cancel()
		if err != nil {
			Logger().Warn("memory retrieval failed, degrading to short-term history",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()))
		} else {
			bundle.Records = dedupeRecords(records)
		}
	}

	return m.truncate(bundle)
}

// dedupeRecords keeps the highest-relevance instance per document and sorts
// by descending relevance.
func dedupeRecords(records []memory.Record) []memory.Record {
	best := make(map[string]memory.Record, len(records))
	for _, r := range records {
		if prev, ok := best[r.DocumentID]; !ok || r.Relevance > prev.Relevance {
			best[r.DocumentID] = r
		}
	}

	out := make([]memory.Record, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b memory.Record) int {
		if c := cmp.Compare(b.Relevance, a.Relevance); c != 0 {
			return c
		}
		return cmp.Compare(a.DocumentID, b.DocumentID)
	})
	return out
}

// truncate trims the bundle to the size budget. Low-relevance memory records
// go first; only then are the oldest turns dropped.
func (m *ContextManager) truncate(bundle ContextBundle) ContextBundle {
	if m.budget <= 0 {
		return bundle
	}
	for bundle.Size() > m.budget && len(bundle.Records) > 0 {
		bundle.Records = bundle.Records[:len(bundle.Records)-1]
	}
	for bundle.Size() > m.budget && len(bundle.Turns) > 1 {
		bundle.Turns = bundle.Turns[1:]
	}
	return bundle
}
