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
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockPgRows struct {
	records []Record
	idx     int
	scanErr error
	rowsErr error
	closed  bool
}

func (m *mockPgRows) Next() bool {
	if m.idx >= len(m.records) {
		return false
	}
	m.idx++
	return true
}

func (m *mockPgRows) Scan(dest ...any) error {
	if m.scanErr != nil {
		return m.scanErr
	}
	r := m.records[m.idx-1]
	*(dest[0].(*string)) = r.DocumentID
	*(dest[1].(*string)) = r.AgentID
	*(dest[2].(*float64)) = r.Relevance
	*(dest[3].(*string)) = r.Text
	return nil
}

func (m *mockPgRows) Err() error { return m.rowsErr }
func (m *mockPgRows) Close()     { m.closed = true }

type pgCall struct {
	sql  string
	args []any
}

type mockPgConn struct {
	queryRows *mockPgRows
	queryErr  error
	execErr   error

	queries []pgCall
	execs   []pgCall
	closed  bool
}

func (m *mockPgConn) Query(_ context.Context, sql string, args ...any) (PgRowsInterface, error) {
	m.queries = append(m.queries, pgCall{sql: sql, args: args})
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	return m.queryRows, nil
}

func (m *mockPgConn) Exec(_ context.Context, sql string, args ...any) (any, error) {
	m.execs = append(m.execs, pgCall{sql: sql, args: args})
	if m.execErr != nil {
		return nil, m.execErr
	}
	return nil, nil
}

func (m *mockPgConn) Close(context.Context) error {
	m.closed = true
	return nil
}

func newTestPgStore(t *testing.T, conn *mockPgConn) *PgStore {
	t.Helper()
	s, err := NewPgStore(t.Context(), PgStoreParams{Conn: conn})
	require.NoError(t, err)
	return s
}

func TestPgStoreInitCreatesSchema(t *testing.T) {
	conn := &mockPgConn{}
	newTestPgStore(t, conn)

	require.Len(t, conn.execs, 2)
	assert.Contains(t, conn.execs[0].sql, "memory_records")
	assert.Contains(t, conn.execs[1].sql, "call_turns")
}

func TestPgStoreInitFailureClosesConn(t *testing.T) {
	conn := &mockPgConn{execErr: errors.New("boom")}

	_, err := NewPgStore(t.Context(), PgStoreParams{Conn: conn})
	assert.Error(t, err)
	assert.True(t, conn.closed)
}

func TestPgStoreCustomTableNames(t *testing.T) {
	conn := &mockPgConn{}
	_, err := NewPgStore(t.Context(), PgStoreParams{
		Conn:         conn,
		RecordsTable: "kb_records",
		TurnsTable:   "kb_turns",
	})
	require.NoError(t, err)

	require.Len(t, conn.execs, 2)
	assert.Contains(t, conn.execs[0].sql, "kb_records")
	assert.Contains(t, conn.execs[1].sql, "kb_turns")
}

func TestPgStoreRetrieve(t *testing.T) {
	rows := &mockPgRows{records: []Record{
		{DocumentID: "billing", AgentID: "support", Relevance: 0.9, Text: "Invoices are issued monthly."},
		{DocumentID: "refunds", AgentID: "support", Relevance: 0.4, Text: "Refunds take five days."},
	}}
	conn := &mockPgConn{queryRows: rows}
	s := newTestPgStore(t, conn)

	got, err := s.Retrieve(t.Context(), "invoices", "support", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "billing", got[0].DocumentID)
	assert.True(t, rows.closed)

	require.Len(t, conn.queries, 1)
	q := conn.queries[0]
	assert.True(t, strings.Contains(q.sql, "ts_rank"))
	assert.Equal(t, []any{"invoices", "support", 5}, q.args)
}

func TestPgStoreRetrieveDefaultsLimit(t *testing.T) {
	conn := &mockPgConn{queryRows: &mockPgRows{}}
	s := newTestPgStore(t, conn)

	_, err := s.Retrieve(t.Context(), "anything", "support", 0)
	require.NoError(t, err)
	require.Len(t, conn.queries, 1)
	assert.Equal(t, 10, conn.queries[0].args[2])
}

func TestPgStoreRetrieveQueryError(t *testing.T) {
	conn := &mockPgConn{queryErr: errors.New("connection reset")}
	s := newTestPgStore(t, conn)

	_, err := s.Retrieve(t.Context(), "anything", "support", 5)
	assert.ErrorContains(t, err, "connection reset")
}

func TestPgStoreAddRecord(t *testing.T) {
	conn := &mockPgConn{}
	s := newTestPgStore(t, conn)

	err := s.AddRecord(t.Context(), Record{
		DocumentID: "billing", AgentID: "support", Relevance: 0.7, Text: "Invoices are issued monthly.",
	})
	require.NoError(t, err)

	require.Len(t, conn.execs, 3) // two schema statements plus the insert
	insert := conn.execs[2]
	assert.Contains(t, insert.sql, "ON CONFLICT")
	assert.Equal(t, []any{"billing", "support", 0.7, "Invoices are issued monthly."}, insert.args)
}

func TestPgStoreSaveTurn(t *testing.T) {
	conn := &mockPgConn{}
	s := newTestPgStore(t, conn)

	started := time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)
	err := s.SaveTurn(t.Context(), TurnRecord{
		SessionID: "sess-1", AgentID: "support", Seq: 3,
		CallerText: "hello", AgentText: "hi", Outcome: "NORMAL",
		Confidence: 0.9, Sentiment: -0.1,
		StartedAt: started, EndedAt: started.Add(time.Second),
	})
	require.NoError(t, err)

	require.Len(t, conn.execs, 3)
	insert := conn.execs[2]
	assert.Contains(t, insert.sql, "INSERT INTO")
	require.Len(t, insert.args, 10)
	assert.Equal(t, "sess-1", insert.args[0])
	assert.Equal(t, uint64(3), insert.args[2])
	assert.Equal(t, "NORMAL", insert.args[5])
}

func TestPgStoreClose(t *testing.T) {
	conn := &mockPgConn{}
	s := newTestPgStore(t, conn)

	require.NoError(t, s.Close(t.Context()))
	assert.True(t, conn.closed)
}
