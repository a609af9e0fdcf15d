// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// SQLService persists sessions via database/sql across PostgreSQL,
// MySQL, and SQLite (spec §1 domain stack, §4.5 "Two implementations:
// in-memory and SQL"). Unlike the in-memory service, which simulates
// staleness against a frozen snapshot timestamp, SQLService enforces
// the stale-session check as a real compare-and-swap UPDATE against
// the sessions row, so the guarantee holds across process restarts and
// concurrent writers on different hosts.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/solacelabs/agentmesh/pkg/agent"
)

const (
	createSessionsTableSQL = `
CREATE TABLE IF NOT EXISTS mesh_sessions (
    id VARCHAR(255) NOT NULL,
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    state_json TEXT NOT NULL,
    last_update_time TIMESTAMP NOT NULL,
    PRIMARY KEY (app_name, user_id, id)
);
CREATE INDEX IF NOT EXISTS idx_mesh_sessions_app_user ON mesh_sessions(app_name, user_id);
`
	createEventsTableSQLSQLite = `
CREATE TABLE IF NOT EXISTS mesh_session_events (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    event_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mesh_session_events_session ON mesh_session_events(app_name, user_id, session_id, seq);
`
	createEventsTableSQLPostgres = `
CREATE TABLE IF NOT EXISTS mesh_session_events (
    seq SERIAL PRIMARY KEY,
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    event_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mesh_session_events_session ON mesh_session_events(app_name, user_id, session_id, seq);
`
	createEventsTableSQLMySQL = `
CREATE TABLE IF NOT EXISTS mesh_session_events (
    seq BIGINT PRIMARY KEY AUTO_INCREMENT,
    app_name VARCHAR(255) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    event_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mesh_session_events_session ON mesh_session_events(app_name, user_id, session_id, seq);
`
)

// SQLService is a database/sql-backed Service. Supports "postgres",
// "mysql", and "sqlite" dialects, matching the teacher's three-way
// driver selection in its own SQL-backed services.
type SQLService struct {
	db      *sql.DB
	dialect string
}

// NewSQLService opens the schema against db. dialect selects
// placeholder style and auto-increment syntax.
func NewSQLService(db *sql.DB, dialect string) (*SQLService, error) {
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("session: unsupported dialect %q (postgres, mysql, sqlite)", dialect)
	}
	s := &SQLService{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("session: init schema: %w", err)
	}
	return s, nil
}

func (s *SQLService) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createSessionsTableSQL); err != nil {
		return err
	}

	eventsSQL := createEventsTableSQLSQLite
	switch s.dialect {
	case "postgres":
		eventsSQL = createEventsTableSQLPostgres
	case "mysql":
		eventsSQL = createEventsTableSQLMySQL
	}
	_, err := s.db.ExecContext(ctx, eventsSQL)
	return err
}

// ph returns the i-th (1-based) placeholder for the service's dialect.
func (s *SQLService) ph(i int) string {
	if s.dialect == "postgres" {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func (s *SQLService) Get(ctx context.Context, req *GetRequest) (*GetResponse, error) {
	q := fmt.Sprintf(`SELECT state_json, last_update_time FROM mesh_sessions WHERE app_name = %s AND user_id = %s AND id = %s`,
		s.ph(1), s.ph(2), s.ph(3))

	var stateJSON string
	var lastUpdate time.Time
	err := s.db.QueryRowContext(ctx, q, req.AppName, req.UserID, req.SessionID).Scan(&stateJSON, &lastUpdate)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: get: %w", err)
	}

	events, err := s.loadEvents(ctx, req.AppName, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}

	state := make(map[string]any)
	if stateJSON != "" {
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			return nil, fmt.Errorf("session: unmarshal state: %w", err)
		}
	}

	sess := &sqlSession{
		svc: s, id: req.SessionID, appName: req.AppName, userID: req.UserID,
		state: newMemoryState(state), lastUpdateTime: lastUpdate,
	}
	sess.events = &memoryEvents{events: events}

	return &GetResponse{Session: sess.view()}, nil
}

func (s *SQLService) Create(ctx context.Context, req *CreateRequest) (*CreateResponse, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	stateJSON, err := json.Marshal(req.State)
	if err != nil {
		return nil, fmt.Errorf("session: marshal initial state: %w", err)
	}

	now := time.Now()
	q := fmt.Sprintf(`INSERT INTO mesh_sessions (id, app_name, user_id, state_json, last_update_time) VALUES (%s, %s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	if _, err := s.db.ExecContext(ctx, q, sessionID, req.AppName, req.UserID, string(stateJSON), now); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}

	sess := &sqlSession{
		svc: s, id: sessionID, appName: req.AppName, userID: req.UserID,
		state: newMemoryState(req.State), lastUpdateTime: now, events: &memoryEvents{},
	}
	return &CreateResponse{Session: sess.view()}, nil
}

// AppendEvent enforces the stale-session check as a real
// compare-and-swap UPDATE: the WHERE clause requires last_update_time
// to still equal what the caller observed (spec §4.5). Zero rows
// affected means a concurrent writer moved it first.
func (s *SQLService) AppendEvent(ctx context.Context, session Session, event *agent.Event) error {
	dto, err := eventToDTO(event)
	if err != nil {
		return fmt.Errorf("session: marshal event: %w", err)
	}
	eventJSON, err := json.Marshal(dto)
	if err != nil {
		return fmt.Errorf("session: marshal event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	casQuery := fmt.Sprintf(`UPDATE mesh_sessions SET last_update_time = %s WHERE app_name = %s AND user_id = %s AND id = %s AND last_update_time = %s`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4), s.ph(5))
	res, err := tx.ExecContext(ctx, casQuery, now, session.AppName(), session.UserID(), session.ID(), session.LastUpdateTime())
	if err != nil {
		return fmt.Errorf("session: stale check: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session: stale check rows affected: %w", err)
	}
	if n == 0 {
		return &StaleSessionError{SessionID: session.ID()}
	}

	insertQuery := fmt.Sprintf(`INSERT INTO mesh_session_events (app_name, user_id, session_id, event_json) VALUES (%s, %s, %s, %s)`,
		s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	if _, err := tx.ExecContext(ctx, insertQuery, session.AppName(), session.UserID(), session.ID(), string(eventJSON)); err != nil {
		return fmt.Errorf("session: insert event: %w", err)
	}

	if len(event.Actions.StateDelta) > 0 {
		if err := s.mergeStateDelta(ctx, tx, session, event.Actions.StateDelta); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	if ss, ok := session.(*sqlSession); ok {
		ss.lastUpdateTime = now
	}
	return nil
}

func (s *SQLService) mergeStateDelta(ctx context.Context, tx *sql.Tx, session Session, delta map[string]any) error {
	q := fmt.Sprintf(`SELECT state_json FROM mesh_sessions WHERE app_name = %s AND user_id = %s AND id = %s`, s.ph(1), s.ph(2), s.ph(3))
	var stateJSON string
	if err := tx.QueryRowContext(ctx, q, session.AppName(), session.UserID(), session.ID()).Scan(&stateJSON); err != nil {
		return fmt.Errorf("session: reload state: %w", err)
	}
	state := make(map[string]any)
	if stateJSON != "" {
		if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
			return fmt.Errorf("session: unmarshal state: %w", err)
		}
	}
	for k, v := range delta {
		state[k] = v
	}
	merged, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("session: marshal merged state: %w", err)
	}
	upd := fmt.Sprintf(`UPDATE mesh_sessions SET state_json = %s WHERE app_name = %s AND user_id = %s AND id = %s`, s.ph(1), s.ph(2), s.ph(3), s.ph(4))
	_, err = tx.ExecContext(ctx, upd, string(merged), session.AppName(), session.UserID(), session.ID())
	return err
}

func (s *SQLService) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	q := fmt.Sprintf(`SELECT id FROM mesh_sessions WHERE app_name = %s AND user_id = %s`, s.ph(1), s.ph(2))
	rows, err := s.db.QueryContext(ctx, q, req.AppName, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("session: list scan: %w", err)
		}
		resp, err := s.Get(ctx, &GetRequest{AppName: req.AppName, UserID: req.UserID, SessionID: id})
		if err != nil {
			return nil, err
		}
		out = append(out, resp.Session)
	}
	return &ListResponse{Sessions: out}, rows.Err()
}

func (s *SQLService) Delete(ctx context.Context, req *DeleteRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("session: begin tx: %w", err)
	}
	defer tx.Rollback()

	delEvents := fmt.Sprintf(`DELETE FROM mesh_session_events WHERE app_name = %s AND user_id = %s AND session_id = %s`, s.ph(1), s.ph(2), s.ph(3))
	if _, err := tx.ExecContext(ctx, delEvents, req.AppName, req.UserID, req.SessionID); err != nil {
		return fmt.Errorf("session: delete events: %w", err)
	}
	delSession := fmt.Sprintf(`DELETE FROM mesh_sessions WHERE app_name = %s AND user_id = %s AND id = %s`, s.ph(1), s.ph(2), s.ph(3))
	if _, err := tx.ExecContext(ctx, delSession, req.AppName, req.UserID, req.SessionID); err != nil {
		return fmt.Errorf("session: delete session: %w", err)
	}
	return tx.Commit()
}

func (s *SQLService) loadEvents(ctx context.Context, appName, userID, sessionID string) ([]*agent.Event, error) {
	q := fmt.Sprintf(`SELECT event_json FROM mesh_session_events WHERE app_name = %s AND user_id = %s AND session_id = %s ORDER BY seq ASC`,
		s.ph(1), s.ph(2), s.ph(3))
	rows, err := s.db.QueryContext(ctx, q, appName, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("session: load events: %w", err)
	}
	defer rows.Close()

	var events []*agent.Event
	for rows.Next() {
		var eventJSON string
		if err := rows.Scan(&eventJSON); err != nil {
			return nil, fmt.Errorf("session: scan event: %w", err)
		}
		var dto eventDTO
		if err := json.Unmarshal([]byte(eventJSON), &dto); err != nil {
			return nil, fmt.Errorf("session: unmarshal event: %w", err)
		}
		events = append(events, dto.toEvent())
	}
	return events, rows.Err()
}

// sqlSession is the live session type returned by SQLService before
// being wrapped as an immutable view; it mirrors memorySession's shape
// so the two backends share sessionView/filteringEvents.
type sqlSession struct {
	svc            *SQLService
	id             string
	appName        string
	userID         string
	state          *memoryState
	events         *memoryEvents
	lastUpdateTime time.Time
}

// sqlSession is constructed fresh on every Get/Create/List call directly
// from the rows read at that moment, so — unlike memorySession, which
// is a long-lived object shared via the in-memory store's map — it is
// already a snapshot: LastUpdateTime changes only when an AppendEvent
// through this session succeeds, and AppendEvent's compare-and-swap is
// what catches a stale caller.
func (s *sqlSession) ID() string                { return s.id }
func (s *sqlSession) AppName() string           { return s.appName }
func (s *sqlSession) UserID() string            { return s.userID }
func (s *sqlSession) State() agent.State        { return s.state }
func (s *sqlSession) Events() agent.Events      { return &filteringEvents{raw: s.events} }
func (s *sqlSession) LastUpdateTime() time.Time { return s.lastUpdateTime }
func (s *sqlSession) view() Session             { return s }

var (
	_ Session = (*sqlSession)(nil)
	_ Service = (*SQLService)(nil)
)
