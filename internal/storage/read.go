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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentlens/agentlens/internal/log"
)

// Compile-time check that SQLiteStore satisfies the read contract.
var _ ReadStore = (*SQLiteStore)(nil)

// ListRuns returns the matching page of runs plus the total match count,
// ordered by started_at_ms descending.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]Run, int64, error) {
	where := " WHERE 1=1"
	args := []any{}

	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.UserID != "" {
		where += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.SessionID != "" {
		where += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Search != "" {
		where += " AND name LIKE ? COLLATE NOCASE"
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.StartedAfter > 0 {
		where += " AND started_at_ms >= ?"
		args = append(args, filter.StartedAfter)
	}
	if filter.StartedBefore > 0 {
		where += " AND started_at_ms <= ?"
		args = append(args, filter.StartedBefore)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT id, name, status, started_at_ms, ended_at_ms, duration_ms,
		agent_type, user_id, session_id, parent_run_id, metadata
		FROM runs` + where + ` ORDER BY started_at_ms DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]Run, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	return runs, total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run          Run
		endedAt      sql.NullInt64
		duration     sql.NullInt64
		agentType    sql.NullString
		userID       sql.NullString
		sessionID    sql.NullString
		parentRunID  sql.NullString
		metadataJSON sql.NullString
	)
	err := row.Scan(&run.ID, &run.Name, &run.Status, &run.StartedAtMS,
		&endedAt, &duration, &agentType, &userID, &sessionID, &parentRunID, &metadataJSON)
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if endedAt.Valid {
		run.EndedAtMS = &endedAt.Int64
	}
	if duration.Valid {
		run.DurationMS = &duration.Int64
	}
	run.AgentType = agentType.String
	run.UserID = userID.String
	run.SessionID = sessionID.String
	run.ParentRunID = parentRunID.String
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &run.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal run metadata: %w", err)
		}
	}
	return &run, nil
}

// GetRun returns a run row plus its step and error counts.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*RunDetail, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, status, started_at_ms, ended_at_ms,
		duration_ms, agent_type, user_id, session_id, parent_run_id, metadata
		FROM runs WHERE id = ?`, runID)

	run, err := scanRun(row)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, err
	}

	detail := &RunDetail{Run: *run}
	err = s.db.QueryRowContext(ctx, `SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN event_type = 'error' THEN 1 ELSE 0 END), 0)
		FROM steps WHERE run_id = ?`, runID).Scan(&detail.StepCount, &detail.ErrorCount)
	if err != nil {
		return nil, fmt.Errorf("count steps for run %s: %w", runID, err)
	}
	return detail, nil
}

// GetSteps returns a run's steps ordered by (timestamp_ms, event_id), with
// payloads decoded via the pipeline.
func (s *SQLiteStore) GetSteps(ctx context.Context, runID string, filter StepFilter) ([]Step, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	query := `SELECT id, run_id, event_id, event_type, name, status, timestamp_ms,
		duration_ms, parent_event_id, blob, blob_codec
		FROM steps WHERE run_id = ?`
	args := []any{runID}

	if filter.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, filter.EventType)
	}
	query += " ORDER BY timestamp_ms ASC, event_id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []Step
	for rows.Next() {
		step, blob, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		step.Data, err = s.decodeBlob(blob, step.BlobCodec)
		if err != nil {
			// A decode failure on one row must not hide the rest of the
			// timeline; surface the failure in place of the payload.
			s.logger.Error("failed to decode step blob",
				slog.String(log.RunIDKey, runID), slog.Int64("step_id", step.ID),
				log.Error(err))
			step.Data = map[string]any{"__decode_error__": err.Error()}
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

func scanStep(row rowScanner) (*Step, []byte, error) {
	var (
		step     Step
		name     sql.NullString
		duration sql.NullInt64
		parent   sql.NullInt64
		blob     []byte
	)
	err := row.Scan(&step.ID, &step.RunID, &step.EventID, &step.Type, &name,
		&step.Status, &step.TimestampMS, &duration, &parent, &blob, &step.BlobCodec)
	if err != nil {
		return nil, nil, fmt.Errorf("scan step: %w", err)
	}
	step.Name = name.String
	step.DurationMS = duration.Int64
	step.ParentEventID = parent.Int64
	return &step, blob, nil
}

func (s *SQLiteStore) decodeBlob(blob []byte, codec string) (map[string]any, error) {
	ev, err := s.pipe.Decode(blob, codec)
	if err != nil {
		return nil, err
	}
	return ev.Document(), nil
}

// GetTimeline returns the compact per-event summary used by the UI, without
// decoding blobs.
func (s *SQLiteStore) GetTimeline(ctx context.Context, runID string) ([]TimelineEntry, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, event_id, event_type, name, timestamp_ms,
		duration_ms, status, parent_event_id
		FROM steps WHERE run_id = ? ORDER BY timestamp_ms ASC, event_id ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("query timeline: %w", err)
	}
	defer rows.Close()

	var entries []TimelineEntry
	for rows.Next() {
		var (
			entry    TimelineEntry
			name     sql.NullString
			duration sql.NullInt64
			parent   sql.NullInt64
		)
		if err := rows.Scan(&entry.ID, &entry.EventID, &entry.Type, &name,
			&entry.TimestampMS, &duration, &entry.Status, &parent); err != nil {
			return nil, fmt.Errorf("scan timeline entry: %w", err)
		}
		entry.Name = name.String
		entry.DurationMS = duration.Int64
		entry.ParentEventID = parent.Int64
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// GetStepData returns the fully decoded payload document of one step.
func (s *SQLiteStore) GetStepData(ctx context.Context, runID string, stepID int64) (map[string]any, error) {
	var (
		blob  []byte
		codec string
	)
	err := s.db.QueryRowContext(ctx, `SELECT blob, blob_codec FROM steps
		WHERE run_id = ? AND id = ?`, runID, stepID).Scan(&blob, &codec)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("step %d of run %s: %w", stepID, runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get step data: %w", err)
	}
	return s.decodeBlob(blob, codec)
}

// ExportRun returns the run with its full ordered, decoded timeline.
func (s *SQLiteStore) ExportRun(ctx context.Context, runID string) (*RunExport, error) {
	detail, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	steps, err := s.GetSteps(ctx, runID, StepFilter{})
	if err != nil {
		return nil, err
	}
	return &RunExport{Run: *detail, Steps: steps}, nil
}

// DeleteRun removes a run and, by cascade, all its steps.
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// Stats aggregates run and step counts plus the database size.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		RunsByStatus: make(map[string]int64),
		StepsByType:  make(map[string]int64),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count runs: %w", err)
	}
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.RunsByStatus[status] = count
		stats.TotalRuns += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM steps GROUP BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("count steps: %w", err)
	}
	for rows.Next() {
		var (
			eventType string
			count     int64
		)
		if err := rows.Scan(&eventType, &count); err != nil {
			rows.Close()
			return nil, err
		}
		stats.StepsByType[eventType] = count
		stats.TotalSteps += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-24 * time.Hour).UnixMilli()
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE started_at_ms > ?`, cutoff).Scan(&stats.RecentRuns24h); err != nil {
		return nil, err
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()`).Scan(&stats.DBSizeBytes); err != nil {
		return nil, err
	}

	return stats, nil
}

// Prune deletes runs started before now minus olderThanDays; steps cascade.
// Returns the number of runs removed.
func (s *SQLiteStore) Prune(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", olderThanDays)
	}
	cutoff := time.Now().AddDate(0, 0, -olderThanDays).UnixMilli()

	var deleted int64
	err := s.withRetry(ctx, func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at_ms < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("prune runs: %w", err)
		}
		deleted, _ = result.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("pruned old runs",
			slog.Int64("count", deleted), slog.Int("older_than_days", olderThanDays))
	}
	return deleted, nil
}

// Vacuum reclaims free space.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// Backup writes an atomic snapshot of the database to path.
func (s *SQLiteStore) Backup(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return fmt.Errorf("backup to %s: %w", path, err)
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
