package store

import (
	"errors"
	"time"
)

var (
	ErrDuplicateID       = errors.New("id already exists")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type ReminderStatus string

const (
	StatusPending   ReminderStatus = "pending"
	StatusCancelled ReminderStatus = "cancelled"
	StatusCompleted ReminderStatus = "completed"
	StatusFailed    ReminderStatus = "failed"
)

// Terminal reports whether no further transition is permitted.
func (s ReminderStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusFailed
}

// Reminder is a one-shot timed item. The payload and target are opaque to
// the scheduler; only the delivery layer interprets them.
type Reminder struct {
	ID        string
	OwnerID   string
	TriggerAt time.Time
	Payload   string
	Target    string
	Status    ReminderStatus
	CreatedAt time.Time
}

// Schedule is a cron-based recurring item. NextRunAt is non-nil exactly
// when the schedule is enabled and its expression parses.
type Schedule struct {
	ID          string
	OwnerID     string
	Description string
	CronExpr    string
	Timezone    string
	Payload     string
	Enabled     bool
	NextRunAt   *time.Time
	LastRunAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ExecStatus string

const (
	ExecCompleted ExecStatus = "completed"
	ExecFailed    ExecStatus = "failed"
)

// ExecutionRecord is one audit row for a schedule run. Append-only; never
// consulted for scheduling decisions.
type ExecutionRecord struct {
	ID         string
	OwnerID    string
	ScheduleID string
	ExecutedAt time.Time
	Status     ExecStatus
	Error      string
	Duration   time.Duration
}

// SyncResult summarizes a full-replace schedule sync.
type SyncResult struct {
	Added   int
	Updated int
	Removed int
}

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}
