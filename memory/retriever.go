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

// Package memory defines the long-term memory contracts of the call
// orchestration engine: retrieval of context records for prompt enrichment,
// and the durable sink for completed turns.
//
// Records are written by an external ingestion process; the engine only reads
// them. Retrieval is best-effort by design: a failing or slow retriever
// degrades a turn to short-term history, it never fails it.
package memory

import (
	"context"
	"time"
)

// Record is one retrieved context snippet. Read-only to the engine.
type Record struct {
	// DocumentID identifies the source document; retrieval results are
	// deduplicated on it.
	DocumentID string

	// AgentID scopes the record to one agent's knowledge.
	AgentID string

	// Relevance is the embedding-derived score, higher is better.
	Relevance float64

	Text string
}

// Retriever answers ranked memory queries for one agent.
type Retriever interface {
	// Retrieve returns up to limit records ranked by descending relevance.
	Retrieve(ctx context.Context, query, agentID string, limit int) ([]Record, error)
}

// TurnRecord is the durable form of one completed turn, as handed to the
// persisted-record collaborator.
type TurnRecord struct {
	SessionID  string
	AgentID    string
	Seq        uint64
	CallerText string
	AgentText  string
	Outcome    string
	Confidence float64
	Sentiment  float64
	StartedAt  time.Time
	EndedAt    time.Time
}

// TurnStore durably stores completed turns. The engine's obligation is only
// to emit them; storage backends live behind this interface.
type TurnStore interface {
	SaveTurn(ctx context.Context, record TurnRecord) error
}
