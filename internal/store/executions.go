package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// AppendExecution records one schedule run. The id is generated when empty.
func (s *Store) AppendExecution(ctx context.Context, e ExecutionRecord) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.ExecutedAt.IsZero() {
		e.ExecutedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO executions(id, owner_id, schedule_id, executed_at, status, err, took_ms)
		 VALUES(?,?,?,?,?,?,?)`,
		e.ID, e.OwnerID, e.ScheduleID, ms(e.ExecutedAt), string(e.Status),
		nullStr(e.Error), e.Duration.Milliseconds(),
	)
	return err
}

// ListExecutions returns up to limit most recent runs of one schedule,
// newest first. limit <= 0 means a default cap.
func (s *Store) ListExecutions(ctx context.Context, ownerID, scheduleID string, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, schedule_id, executed_at, status, err, took_ms
		 FROM executions
		 WHERE owner_id = ? AND schedule_id = ?
		 ORDER BY executed_at DESC LIMIT ?`,
		ownerID, scheduleID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutionRecord
	for rows.Next() {
		var (
			e        ExecutionRecord
			at       int64
			status   string
			errField sql.NullString
			tookMS   int64
		)
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.ScheduleID, &at, &status, &errField, &tookMS); err != nil {
			return nil, err
		}
		e.ExecutedAt = fromMS(at)
		e.Status = ExecStatus(status)
		e.Error = errField.String
		e.Duration = time.Duration(tookMS) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneExecutions deletes the owner's execution rows older than the cutoff
// and reports how many were removed.
func (s *Store) PruneExecutions(ctx context.Context, ownerID string, olderThan time.Time) (int64, error) {
	r, err := s.db.ExecContext(ctx,
		`DELETE FROM executions WHERE owner_id = ? AND executed_at < ?`,
		ownerID, ms(olderThan),
	)
	if err != nil {
		return 0, err
	}
	return r.RowsAffected()
}
