package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const scheduleCols = `owner_id, id, description, cron_expr, timezone, payload,
	enabled, next_run_at, last_run_at, created_at, updated_at`

// SyncSchedules replaces the owner's schedule set with the given rows:
// matching ids are updated in place, new ids inserted, and ids absent from
// the input deleted together with their execution log rows. Incoming rows
// must already carry the NextRunAt the caller computed.
func (s *Store) SyncSchedules(ctx context.Context, ownerID string, incoming []Schedule) (SyncResult, error) {
	var res SyncResult

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	existing := map[string]bool{}
	rows, err := tx.QueryContext(ctx, `SELECT id FROM schedules WHERE owner_id = ?`, ownerID)
	if err != nil {
		return res, err
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return res, err
		}
		existing[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return res, err
	}

	now := time.Now()
	seen := map[string]bool{}
	for _, sc := range incoming {
		seen[sc.ID] = true
		if existing[sc.ID] {
			_, err = tx.ExecContext(ctx,
				`UPDATE schedules
				 SET description = ?, cron_expr = ?, timezone = ?, payload = ?,
				     enabled = ?, next_run_at = ?, updated_at = ?
				 WHERE owner_id = ? AND id = ?`,
				sc.Description, sc.CronExpr, sc.Timezone, sc.Payload,
				sc.Enabled, msPtr(sc.NextRunAt), ms(now),
				ownerID, sc.ID,
			)
			res.Updated++
		} else {
			_, err = tx.ExecContext(ctx,
				`INSERT INTO schedules(`+scheduleCols+`) VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
				ownerID, sc.ID, sc.Description, sc.CronExpr, sc.Timezone, sc.Payload,
				sc.Enabled, msPtr(sc.NextRunAt), nil, ms(now), ms(now),
			)
			res.Added++
		}
		if err != nil {
			return SyncResult{}, err
		}
	}

	for id := range existing {
		if seen[id] {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM executions WHERE owner_id = ? AND schedule_id = ?`, ownerID, id); err != nil {
			return SyncResult{}, err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM schedules WHERE owner_id = ? AND id = ?`, ownerID, id); err != nil {
			return SyncResult{}, err
		}
		res.Removed++
	}

	if err := tx.Commit(); err != nil {
		return SyncResult{}, err
	}
	return res, nil
}

// SetScheduleEnabled flips the enabled flag and stores the matching
// NextRunAt (nil when disabling).
func (s *Store) SetScheduleEnabled(ctx context.Context, ownerID, id string, enabled bool, nextRunAt *time.Time) error {
	r, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET enabled = ?, next_run_at = ?, updated_at = ?
		 WHERE owner_id = ? AND id = ?`,
		enabled, msPtr(nextRunAt), ms(time.Now()), ownerID, id,
	)
	if err != nil {
		return err
	}
	return checkFound(r, id)
}

// UpdateScheduleRun records the outcome of a dispatch: the advanced next
// occurrence (nil when the expression no longer parses) and the run time.
func (s *Store) UpdateScheduleRun(ctx context.Context, ownerID, id string, nextRunAt *time.Time, lastRunAt time.Time) error {
	r, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET next_run_at = ?, last_run_at = ?, updated_at = ?
		 WHERE owner_id = ? AND id = ?`,
		msPtr(nextRunAt), ms(lastRunAt), ms(time.Now()), ownerID, id,
	)
	if err != nil {
		return err
	}
	return checkFound(r, id)
}

// DisableSchedule clears NextRunAt and the enabled flag without touching
// LastRunAt. Used when a stored expression stops parsing at dispatch time.
func (s *Store) DisableSchedule(ctx context.Context, ownerID, id string) error {
	return s.SetScheduleEnabled(ctx, ownerID, id, false, nil)
}

// DueSchedules returns enabled schedules whose next run is at or before now.
func (s *Store) DueSchedules(ctx context.Context, ownerID string, now time.Time) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules
		 WHERE owner_id = ? AND enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?`,
		ownerID, ms(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

// SoonestEnabled returns the enabled schedule with the earliest next run,
// or nil when none is armed.
func (s *Store) SoonestEnabled(ctx context.Context, ownerID string) (*Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules
		 WHERE owner_id = ? AND enabled = 1 AND next_run_at IS NOT NULL
		 ORDER BY next_run_at ASC LIMIT 1`,
		ownerID,
	)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// GetSchedule returns one schedule by id.
func (s *Store) GetSchedule(ctx context.Context, ownerID, id string) (Schedule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules WHERE owner_id = ? AND id = ?`,
		ownerID, id,
	)
	sc, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, fmt.Errorf("schedule %q: %w", id, ErrNotFound)
	}
	return sc, err
}

// ListSchedules returns the owner's schedules, soonest next run first,
// schedules without one last.
func (s *Store) ListSchedules(ctx context.Context, ownerID string) ([]Schedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduleCols+` FROM schedules
		 WHERE owner_id = ?
		 ORDER BY next_run_at IS NULL, next_run_at ASC, id ASC`,
		ownerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSchedules(rows)
}

func scanSchedule(row rowScanner) (Schedule, error) {
	var (
		sc               Schedule
		next, last       sql.NullInt64
		created, updated int64
	)
	err := row.Scan(&sc.OwnerID, &sc.ID, &sc.Description, &sc.CronExpr, &sc.Timezone,
		&sc.Payload, &sc.Enabled, &next, &last, &created, &updated)
	if err != nil {
		return Schedule{}, err
	}
	sc.NextRunAt = fromMSPtr(next)
	sc.LastRunAt = fromMSPtr(last)
	sc.CreatedAt = fromMS(created)
	sc.UpdatedAt = fromMS(updated)
	return sc, nil
}

func scanSchedules(rows *sql.Rows) ([]Schedule, error) {
	var out []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func checkFound(r sql.Result, id string) error {
	n, err := r.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("schedule %q: %w", id, ErrNotFound)
	}
	return nil
}
