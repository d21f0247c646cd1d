package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const reminderCols = `owner_id, id, trigger_at, payload, target, status, created_at`

// InsertReminder stores a new pending reminder. The id is caller-supplied
// and must be unique within the owner; an existing row is never overwritten.
func (s *Store) InsertReminder(ctx context.Context, r Reminder) error {
	if r.Status == "" {
		r.Status = StatusPending
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders(`+reminderCols+`) VALUES(?,?,?,?,?,?,?)`,
		r.OwnerID, r.ID, ms(r.TriggerAt), r.Payload, r.Target, string(r.Status), ms(r.CreatedAt),
	)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("reminder %q: %w", r.ID, ErrDuplicateID)
	}
	return err
}

// UpdateReminderStatus moves a reminder to a new status. Transitions out of
// a terminal status are rejected, which is what makes duplicate alarm fires
// and double cancels harmless.
func (s *Store) UpdateReminderStatus(ctx context.Context, ownerID, id string, next ReminderStatus) error {
	var cur string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM reminders WHERE owner_id = ? AND id = ?`,
		ownerID, id,
	).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reminder %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if ReminderStatus(cur).Terminal() {
		return fmt.Errorf("reminder %q is %s: %w", id, cur, ErrInvalidTransition)
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ? WHERE owner_id = ? AND id = ?`,
		string(next), ownerID, id,
	)
	return err
}

// DueReminders returns every pending reminder whose trigger time is at or
// before now. No ordering is guaranteed; the dispatcher processes the set
// as a whole.
func (s *Store) DueReminders(ctx context.Context, ownerID string, now time.Time) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM reminders
		 WHERE owner_id = ? AND status = ? AND trigger_at <= ?`,
		ownerID, string(StatusPending), ms(now),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReminders(rows)
}

// SoonestPending returns the pending reminder with the earliest trigger
// time, or nil when none remain.
func (s *Store) SoonestPending(ctx context.Context, ownerID string) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderCols+` FROM reminders
		 WHERE owner_id = ? AND status = ?
		 ORDER BY trigger_at ASC LIMIT 1`,
		ownerID, string(StatusPending),
	)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListReminders returns the owner's reminders ascending by trigger time,
// optionally filtered by status.
func (s *Store) ListReminders(ctx context.Context, ownerID string, statuses ...ReminderStatus) ([]Reminder, error) {
	q := `SELECT ` + reminderCols + ` FROM reminders WHERE owner_id = ?`
	args := []any{ownerID}
	if len(statuses) > 0 {
		q += ` AND status IN (?` + strings.Repeat(",?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	q += ` ORDER BY trigger_at ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReminders(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (Reminder, error) {
	var (
		r                Reminder
		trigger, created int64
		status           string
	)
	err := row.Scan(&r.OwnerID, &r.ID, &trigger, &r.Payload, &r.Target, &status, &created)
	if err != nil {
		return Reminder{}, err
	}
	r.TriggerAt = fromMS(trigger)
	r.CreatedAt = fromMS(created)
	r.Status = ReminderStatus(status)
	return r, nil
}

func scanReminders(rows *sql.Rows) ([]Reminder, error) {
	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite reports constraint failures by message; there is no
	// exported sentinel to compare against.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}
