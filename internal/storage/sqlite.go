// Copyright 2025 AgentLens Authors
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

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "modernc.org/sqlite"

	"github.com/agentlens/agentlens/internal/event"
	"github.com/agentlens/agentlens/internal/log"
	"github.com/agentlens/agentlens/internal/pipeline"
)

// schemaVersion is bumped when the schema changes; migrations run at open.
const schemaVersion = 1

// SQLiteStore is the durable store for runs and steps. Blobs are opaque: the
// store persists them byte-exact and only the pipeline (driven by blob_codec)
// interprets them at read time.
type SQLiteStore struct {
	db     *sql.DB
	pipe   *pipeline.Pipeline
	logger *slog.Logger
}

// Options configures the store.
type Options struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns caps the connection pool. With WAL mode SQLite handles
	// multiple concurrent readers; the default is 5.
	MaxOpenConns int
}

// Open opens (and migrates) the store. The pipeline is used only on the read
// path, to decode blobs.
func Open(opts Options, pipe *pipeline.Pipeline, logger *slog.Logger) (*SQLiteStore, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	// WAL mode so readers never block the writer on the query paths.
	// Foreign keys are per-connection in SQLite, so they are set in the DSN
	// and apply to every pooled connection.
	connStr := opts.Path
	if opts.Path != ":memory:" {
		connStr = "file:" + opts.Path +
			"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxConns := opts.MaxOpenConns
	if maxConns == 0 {
		maxConns = 5
	}
	if opts.Path == ":memory:" {
		// Each pooled connection would otherwise see its own empty in-memory
		// database.
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	store := &SQLiteStore{db: db, pipe: pipe, logger: logger}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at_ms INTEGER NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at_ms INTEGER NOT NULL,
			ended_at_ms INTEGER,
			duration_ms INTEGER,
			agent_type TEXT,
			user_id TEXT,
			session_id TEXT,
			parent_run_id TEXT,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at_ms DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_user_id ON runs(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_session_id ON runs(session_id)`,

		`CREATE TABLE IF NOT EXISTS steps (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			event_id INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			name TEXT,
			status TEXT NOT NULL,
			timestamp_ms INTEGER NOT NULL,
			duration_ms INTEGER,
			parent_event_id INTEGER,
			blob BLOB NOT NULL,
			blob_codec TEXT NOT NULL,
			UNIQUE(run_id, event_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_run_id ON steps(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_run_id_timestamp ON steps(run_id, timestamp_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_steps_timestamp ON steps(timestamp_ms)`,

		fmt.Sprintf(`INSERT OR IGNORE INTO schema_version (version, applied_at_ms) VALUES (%d, %d)`,
			schemaVersion, time.Now().UnixMilli()),
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB returns the underlying handle, for tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// --- write path (invoked by the storage exporter) ---

type runInsert struct {
	ID          string
	Name        string
	StartedAtMS int64
	AgentType   string
	UserID      string
	SessionID   string
	ParentRunID string
	Metadata    map[string]any
}

type runEndUpdate struct {
	RunID      string
	Status     event.RunStatus
	EndedAtMS  int64
	DurationMS int64
}

type stepInsert struct {
	RunID         string
	EventID       int64
	Type          event.Type
	Name          string
	Status        event.Status
	TimestampMS   int64
	DurationMS    int64
	ParentEventID int64
	Blob          []byte
	Codec         string
}

// batchOp is one ordered operation within a batch commit. Exactly one field
// is set for run lifecycle changes; Step may accompany InsertRun/UpdateRun so
// the run_start/run_end step lands in the same transaction as its row change.
type batchOp struct {
	InsertRun *runInsert
	UpdateRun *runEndUpdate
	Step      *stepInsert
}

// commitBatch applies all operations of one batch in a single transaction,
// preserving order. Steps whose run row does not exist (and is not created
// earlier in the same batch) are skipped with a warning, keeping referential
// integrity without failing the batch.
func (s *SQLiteStore) commitBatch(ctx context.Context, ops []batchOp) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin batch: %w", err)
		}
		defer tx.Rollback()

		known := make(map[string]bool)
		for _, op := range ops {
			if op.InsertRun != nil {
				if err := insertRunTx(ctx, tx, op.InsertRun); err != nil {
					return err
				}
				known[op.InsertRun.ID] = true
			}
			if op.UpdateRun != nil {
				if err := updateRunTx(ctx, tx, op.UpdateRun); err != nil {
					return err
				}
			}
			if op.Step != nil {
				exists, err := runExistsTx(ctx, tx, known, op.Step.RunID)
				if err != nil {
					return err
				}
				if !exists {
					s.logger.Warn("dropping step for unknown run",
						slog.String(log.RunIDKey, op.Step.RunID),
						slog.String(log.EventTypeKey, string(op.Step.Type)))
					continue
				}
				if err := insertStepTx(ctx, tx, op.Step); err != nil {
					return err
				}
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit batch: %w", err)
		}
		return nil
	})
}

func insertRunTx(ctx context.Context, tx *sql.Tx, r *runInsert) error {
	metadata, err := json.Marshal(r.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, name, status, started_at_ms, agent_type, user_id, session_id, parent_run_id, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		r.ID, r.Name, string(event.RunRunning), r.StartedAtMS,
		nullString(r.AgentType), nullString(r.UserID), nullString(r.SessionID),
		nullString(r.ParentRunID), string(metadata),
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.ID, err)
	}
	return nil
}

func updateRunTx(ctx context.Context, tx *sql.Tx, u *runEndUpdate) error {
	// Status only ever moves running → completed | failed.
	_, err := tx.ExecContext(ctx, `
		UPDATE runs SET status = ?, ended_at_ms = ?, duration_ms = ?
		WHERE id = ? AND status = ?`,
		string(u.Status), u.EndedAtMS, u.DurationMS, u.RunID, string(event.RunRunning),
	)
	if err != nil {
		return fmt.Errorf("update run %s: %w", u.RunID, err)
	}
	return nil
}

func runExistsTx(ctx context.Context, tx *sql.Tx, known map[string]bool, runID string) (bool, error) {
	if known[runID] {
		return true, nil
	}
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, runID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check run %s: %w", runID, err)
	}
	known[runID] = true
	return true, nil
}

func insertStepTx(ctx context.Context, tx *sql.Tx, st *stepInsert) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO steps (run_id, event_id, event_type, name, status, timestamp_ms, duration_ms, parent_event_id, blob, blob_codec)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, event_id) DO NOTHING`,
		st.RunID, st.EventID, string(st.Type), nullString(st.Name), string(st.Status),
		st.TimestampMS, nullInt(st.DurationMS), nullInt(st.ParentEventID),
		st.Blob, st.Codec,
	)
	if err != nil {
		return fmt.Errorf("insert step %d of run %s: %w", st.EventID, st.RunID, err)
	}
	return nil
}

// withRetry retries transient SQLite failures (busy/locked) with exponential
// backoff, up to 3 attempts. Other errors fail immediately.
func (s *SQLiteStore) withRetry(ctx context.Context, fn func() error) error {
	operation := func() (struct{}, error) {
		if err := fn(); err != nil {
			if isTransient(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = 50 * time.Millisecond

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(3),
	)
	return err
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}
