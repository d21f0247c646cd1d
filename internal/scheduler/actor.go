// Package scheduler implements the per-owner timed-task actor: durable
// one-shot reminders and cron-based recurring schedules, with a single
// armed wake-up timer per owner pointing at the earliest pending item.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"remindd/internal/cron"
	"remindd/internal/store"
	"remindd/pkg/logx"
)

// Actor owns all timed items of one owner. Every operation runs under one
// mutex, so mutations, alarm recomputation and dispatch never interleave
// for the same owner. Actors for different owners are fully independent.
type Actor struct {
	ownerID  string
	cfg      Config
	st       *store.Store
	notifier Notifier
	runner   Runner
	clock    Clock
	timer    Timer
	log      logx.Logger

	mu sync.Mutex
	// armedAt mirrors the platform timer; it is derived state, always
	// recomputable from the store.
	armedAt *time.Time
}

func newActor(ownerID string, cfg Config, deps Deps) *Actor {
	a := &Actor{
		ownerID:  ownerID,
		cfg:      cfg,
		st:       deps.Store,
		notifier: deps.Notifier,
		runner:   deps.Runner,
		clock:    deps.Clock,
		log:      deps.Log.With(logx.String("owner", ownerID)),
	}
	if deps.NewTimer != nil {
		a.timer = deps.NewTimer(a.OnAlarm)
	} else {
		a.timer = newWakeupTimer(a.OnAlarm)
	}
	return a
}

func (a *Actor) OwnerID() string { return a.ownerID }

// Schedule stores a new one-shot reminder and rearms the wake-up.
// The trigger time may lag "now" by at most the grace period.
func (a *Actor) Schedule(ctx context.Context, r store.Reminder) (store.Reminder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	if r.TriggerAt.Before(now.Add(-a.cfg.GracePeriod)) {
		return store.Reminder{}, fmt.Errorf("reminder %q at %s: %w",
			r.ID, r.TriggerAt.Format(time.RFC3339), ErrPastTrigger)
	}

	r.OwnerID = a.ownerID
	r.Status = store.StatusPending
	r.CreatedAt = now
	if err := a.st.InsertReminder(ctx, r); err != nil {
		return store.Reminder{}, err
	}
	a.recomputeAlarm(ctx)
	return r, nil
}

// Cancel moves a pending reminder to cancelled. Cancelling an already
// delivered or cancelled reminder is rejected, not a no-op.
func (a *Actor) Cancel(ctx context.Context, id string) error {
	return a.finish(ctx, id, store.StatusCancelled)
}

// Complete marks a pending reminder done without delivering it.
func (a *Actor) Complete(ctx context.Context, id string) error {
	return a.finish(ctx, id, store.StatusCompleted)
}

func (a *Actor) finish(ctx context.Context, id string, st store.ReminderStatus) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.st.UpdateReminderStatus(ctx, a.ownerID, id, st); err != nil {
		return err
	}
	a.recomputeAlarm(ctx)
	return nil
}

// List returns the owner's reminders ascending by trigger time, optionally
// filtered by status.
func (a *Actor) List(ctx context.Context, statuses ...store.ReminderStatus) ([]store.Reminder, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.ListReminders(ctx, a.ownerID, statuses...)
}

// SyncRecurring replaces the owner's recurring schedules with the given
// definition set. Every expression is validated up front; a bad definition
// rejects the whole set without touching stored state.
func (a *Actor) SyncRecurring(ctx context.Context, defs []Definition) (store.SyncResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, d := range defs {
		if err := cron.Validate(d.CronExpr, d.Timezone); err != nil {
			return store.SyncResult{}, fmt.Errorf("definition %q: %w", d.ID, err)
		}
	}

	now := a.clock.Now()
	rows := make([]store.Schedule, 0, len(defs))
	for _, d := range defs {
		sc := store.Schedule{
			ID:          d.ID,
			OwnerID:     a.ownerID,
			Description: d.Description,
			CronExpr:    d.CronExpr,
			Timezone:    d.Timezone,
			Payload:     d.Payload,
			Enabled:     d.Enabled,
		}
		if d.Enabled {
			next, err := cron.Next(d.CronExpr, d.Timezone, now)
			if err != nil {
				return store.SyncResult{}, fmt.Errorf("definition %q: %w", d.ID, err)
			}
			if !next.IsZero() {
				sc.NextRunAt = &next
			}
		}
		rows = append(rows, sc)
	}

	res, err := a.st.SyncSchedules(ctx, a.ownerID, rows)
	if err != nil {
		return store.SyncResult{}, err
	}
	a.log.Info("recurring schedules synced",
		logx.Int("added", res.Added), logx.Int("updated", res.Updated), logx.Int("removed", res.Removed))
	a.recomputeAlarm(ctx)
	return res, nil
}

// ToggleRecurring enables or disables one schedule. Enabling computes a
// fresh next occurrence from now; disabling clears it without deleting
// the row.
func (a *Actor) ToggleRecurring(ctx context.Context, id string, enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	sc, err := a.st.GetSchedule(ctx, a.ownerID, id)
	if err != nil {
		return err
	}

	var nextRunAt *time.Time
	if enabled {
		next, err := cron.Next(sc.CronExpr, sc.Timezone, a.clock.Now())
		if err != nil {
			return fmt.Errorf("schedule %q: %w", id, err)
		}
		if !next.IsZero() {
			nextRunAt = &next
		}
	}
	if err := a.st.SetScheduleEnabled(ctx, a.ownerID, id, enabled, nextRunAt); err != nil {
		return err
	}
	a.recomputeAlarm(ctx)
	return nil
}

// ListRecurring returns the owner's recurring schedules, soonest first.
func (a *Actor) ListRecurring(ctx context.Context) ([]store.Schedule, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.ListSchedules(ctx, a.ownerID)
}

// ListExecutions returns recent runs of one schedule, newest first.
func (a *Actor) ListExecutions(ctx context.Context, scheduleID string, limit int) ([]store.ExecutionRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.ListExecutions(ctx, a.ownerID, scheduleID, limit)
}

// RunNow executes one schedule out of band. The run is logged like any
// other, but NextRunAt is left alone: a manual run is additional, not a
// replacement of the scheduled occurrence.
func (a *Actor) RunNow(ctx context.Context, scheduleID string) (store.ExecutionRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sc, err := a.st.GetSchedule(ctx, a.ownerID, scheduleID)
	if err != nil {
		return store.ExecutionRecord{}, err
	}

	rec := a.runSchedule(ctx, sc)
	if err := a.st.AppendExecution(ctx, rec); err != nil {
		return store.ExecutionRecord{}, err
	}
	return rec, nil
}

// Rearm rebuilds the wake-up timer from stored state. Called once on
// startup; the armed instant is derived, never the source of truth.
func (a *Actor) Rearm(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recomputeAlarm(ctx)
}

// Close disarms the timer. Pending items stay in the store and are rearmed
// on the next start.
func (a *Actor) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timer.Disarm()
	a.armedAt = nil
}

// runSchedule invokes the runner with a bounded timeout and builds the
// execution record.
func (a *Actor) runSchedule(ctx context.Context, sc store.Schedule) store.ExecutionRecord {
	runCtx, cancel := context.WithTimeout(ctx, a.cfg.RunTimeout)
	defer cancel()

	start := a.clock.Now()
	err := a.runner.Run(runCtx, a.ownerID, sc.ID, sc.Payload)
	elapsed := a.clock.Now().Sub(start)

	rec := store.ExecutionRecord{
		OwnerID:    a.ownerID,
		ScheduleID: sc.ID,
		ExecutedAt: start,
		Status:     store.ExecCompleted,
		Duration:   elapsed,
	}
	if err != nil {
		rec.Status = store.ExecFailed
		rec.Error = err.Error()
		a.log.Warn("schedule run failed",
			logx.String("schedule", sc.ID), logx.Duration("dur", elapsed), logx.Err(err))
	} else {
		a.log.Info("schedule run completed",
			logx.String("schedule", sc.ID), logx.Duration("dur", elapsed))
	}
	return rec
}
