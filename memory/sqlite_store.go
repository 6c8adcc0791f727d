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

package memory

import (
	"cmp"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a SQLite-backed Retriever and TurnStore.
//
// By default it uses a shared in-memory database that is lost when the
// process ends. For persistent storage, provide a file path.
//
// Retrieval ranks records by lexical term overlap with the query. The store
// does not compute embeddings; an external ingestion process is expected to
// have pre-scored record relevance, which is combined with the overlap score.
type SQLiteStore struct {
	dbDSN        string
	recordsTable string
	turnsTable   string
	db           *sql.DB
	mu           sync.Mutex
}

type SQLiteStoreParams struct {
	// Optional database data source name.
	// Defaults to "file::memory:?cache=shared".
	DBDataSourceName string

	// Optional name of the table holding memory records.
	// Defaults to "memory_records".
	RecordsTable string

	// Optional name of the table holding completed turns.
	// Defaults to "call_turns".
	TurnsTable string
}

// NewSQLiteStore opens the database and creates the schema if needed.
func NewSQLiteStore(ctx context.Context, params SQLiteStoreParams) (_ *SQLiteStore, err error) {
	s := &SQLiteStore{
		dbDSN:        cmp.Or(params.DBDataSourceName, "file::memory:?cache=shared"),
		recordsTable: cmp.Or(params.RecordsTable, "memory_records"),
		turnsTable:   cmp.Or(params.TurnsTable, "call_turns"),
	}

	defer func() {
		if err != nil {
			if e := s.Close(); e != nil {
				err = errors.Join(err, e)
			}
		}
	}()

	s.db, err = sql.Open("sqlite3", s.dbDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite3 database: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `PRAGMA journal_mode=WAL`)
	if err != nil {
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}

	err = s.initDB(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initDB(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s" (
			document_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			relevance REAL NOT NULL DEFAULT 0,
			text TEXT NOT NULL,
			PRIMARY KEY (document_id, agent_id)
		)
	`, s.recordsTable))
	if err != nil {
		return fmt.Errorf("error creating records table: %w", err)
	}

	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s" (
			session_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			caller_text TEXT NOT NULL,
			agent_text TEXT NOT NULL,
			outcome TEXT NOT NULL,
			confidence REAL NOT NULL DEFAULT 0,
			sentiment REAL NOT NULL DEFAULT 0,
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NOT NULL,
			PRIMARY KEY (session_id, seq)
		)
	`, s.turnsTable))
	if err != nil {
		return fmt.Errorf("error creating turns table: %w", err)
	}
	return nil
}

// AddRecord inserts or replaces one memory record. Normally invoked by the
// external ingestion process; exposed for tests and tooling.
func (s *SQLiteStore) AddRecord(ctx context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT OR REPLACE INTO "%s" (document_id, agent_id, relevance, text)
		VALUES (?, ?, ?, ?)
	`, s.recordsTable), record.DocumentID, record.AgentID, record.Relevance, record.Text)
	if err != nil {
		return fmt.Errorf("error inserting memory record: %w", err)
	}
	return nil
}

// Retrieve implements Retriever with lexical overlap ranking.
func (s *SQLiteStore) Retrieve(ctx context.Context, query, agentID string, limit int) (_ []Record, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT document_id, agent_id, relevance, text FROM "%s"
		WHERE agent_id = ?
	`, s.recordsTable), agentID)
	if err != nil {
		return nil, fmt.Errorf("error querying memory records: %w", err)
	}
	defer func() {
		if e := rows.Close(); e != nil {
			err = errors.Join(err, fmt.Errorf("error closing sql.Rows: %w", e))
		}
	}()

	terms := queryTerms(query)

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.DocumentID, &r.AgentID, &r.Relevance, &r.Text); err != nil {
			return nil, fmt.Errorf("error scanning memory record: %w", err)
		}
		overlap := termOverlap(terms, r.Text)
		if overlap == 0 {
			continue
		}
		r.Relevance *= overlap
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memory records: %w", err)
	}

	slices.SortFunc(records, func(a, b Record) int {
		return cmp.Compare(b.Relevance, a.Relevance)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// SaveTurn implements TurnStore.
func (s *SQLiteStore) SaveTurn(ctx context.Context, record TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO "%s"
			(session_id, agent_id, seq, caller_text, agent_text, outcome, confidence, sentiment, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.turnsTable),
		record.SessionID, record.AgentID, record.Seq, record.CallerText, record.AgentText,
		record.Outcome, record.Confidence, record.Sentiment, record.StartedAt, record.EndedAt)
	if err != nil {
		return fmt.Errorf("error inserting turn record: %w", err)
	}
	return nil
}

// Turns returns the stored turns of one session in sequence order.
func (s *SQLiteStore) Turns(ctx context.Context, sessionID string) (_ []TurnRecord, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT session_id, agent_id, seq, caller_text, agent_text, outcome, confidence, sentiment, started_at, ended_at
		FROM "%s" WHERE session_id = ? ORDER BY seq ASC
	`, s.turnsTable), sessionID)
	if err != nil {
		return nil, fmt.Errorf("error querying turn records: %w", err)
	}
	defer func() {
		if e := rows.Close(); e != nil {
			err = errors.Join(err, fmt.Errorf("error closing sql.Rows: %w", e))
		}
	}()

	var records []TurnRecord
	for rows.Next() {
		var r TurnRecord
		err := rows.Scan(&r.SessionID, &r.AgentID, &r.Seq, &r.CallerText, &r.AgentText,
			&r.Outcome, &r.Confidence, &r.Sentiment, &r.StartedAt, &r.EndedAt)
		if err != nil {
			return nil, fmt.Errorf("error scanning turn record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turn records: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func queryTerms(query string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, t := range strings.Fields(strings.ToLower(query)) {
		t = strings.Trim(t, ".,!?;:\"'")
		if len(t) >= 3 {
			terms[t] = struct{}{}
		}
	}
	return terms
}

// termOverlap returns the fraction of query terms present in text.
func termOverlap(terms map[string]struct{}, text string) float64 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	matches := 0
	for t := range terms {
		if strings.Contains(lower, t) {
			matches++
		}
	}
	return float64(matches) / float64(len(terms))
}
