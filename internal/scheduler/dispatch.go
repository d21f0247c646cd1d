package scheduler

import (
	"context"
	"time"

	"remindd/internal/cron"
	"remindd/internal/store"
	"remindd/pkg/logx"
)

// OnAlarm is the wake-up entry point, invoked by the timer (at-least-once:
// the host may re-fire after a crash). It must always return normally —
// a propagated panic would trigger host-level retries and risk duplicate
// delivery — so everything is caught and logged here. Re-processing is
// harmless because due queries filter on pending/enabled state.
func (a *Actor) OnAlarm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("alarm handler panicked", logx.Any("panic", r))
		}
	}()

	a.dispatch(context.Background())
}

func (a *Actor) dispatch(ctx context.Context) {
	now := a.clock.Now()

	due, err := a.st.DueReminders(ctx, a.ownerID, now)
	if err != nil {
		a.log.Error("due reminders read failed", logx.Err(err))
	}
	for _, r := range due {
		a.deliverReminder(ctx, r)
	}

	dueSchedules, err := a.st.DueSchedules(ctx, a.ownerID, now)
	if err != nil {
		a.log.Error("due schedules read failed", logx.Err(err))
	}
	for _, sc := range dueSchedules {
		a.fireSchedule(ctx, sc, now)
	}

	if n, err := a.st.PruneExecutions(ctx, a.ownerID, now.Add(-a.cfg.Retention)); err != nil {
		a.log.Warn("execution prune failed", logx.Err(err))
	} else if n > 0 {
		a.log.Debug("execution log pruned", logx.Int64("removed", n))
	}

	a.recomputeAlarm(ctx)
}

// deliverReminder sends one due reminder and moves it to a terminal
// status. Failures are terminal: there is no redelivery, so a flaky
// channel can never double-send. Each reminder is isolated; an error here
// never stops the loop.
func (a *Actor) deliverReminder(ctx context.Context, r store.Reminder) {
	sendCtx, cancel := context.WithTimeout(ctx, a.cfg.SendTimeout)
	err := a.notifier.Send(sendCtx, r.Target, r.Payload)
	cancel()

	status := store.StatusCompleted
	if err != nil {
		status = store.StatusFailed
		a.log.Warn("reminder delivery failed", logx.String("reminder", r.ID), logx.Err(err))
	} else {
		a.log.Info("reminder delivered", logx.String("reminder", r.ID))
	}

	if uerr := a.st.UpdateReminderStatus(ctx, a.ownerID, r.ID, status); uerr != nil {
		a.log.Error("reminder status update failed",
			logx.String("reminder", r.ID), logx.String("status", string(status)), logx.Err(uerr))
	}
}

// fireSchedule runs one due schedule, logs the execution, and advances
// NextRunAt to the next calendar occurrence whether or not the run
// succeeded — a persistently failing schedule moves on instead of firing
// in a tight loop.
func (a *Actor) fireSchedule(ctx context.Context, sc store.Schedule, now time.Time) {
	rec := a.runSchedule(ctx, sc)
	if err := a.st.AppendExecution(ctx, rec); err != nil {
		a.log.Error("execution append failed", logx.String("schedule", sc.ID), logx.Err(err))
	}

	next, err := cron.Next(sc.CronExpr, sc.Timezone, now)
	if err != nil {
		// The stored expression no longer parses (e.g. a removed timezone).
		// Disable instead of leaving a stale NextRunAt that would refire.
		a.log.Error("schedule expression unusable, disabling",
			logx.String("schedule", sc.ID), logx.Err(err))
		if derr := a.st.DisableSchedule(ctx, a.ownerID, sc.ID); derr != nil {
			a.log.Error("schedule disable failed", logx.String("schedule", sc.ID), logx.Err(derr))
		}
		return
	}

	var nextPtr *time.Time
	if !next.IsZero() {
		nextPtr = &next
	}
	if uerr := a.st.UpdateScheduleRun(ctx, a.ownerID, sc.ID, nextPtr, now); uerr != nil {
		a.log.Error("schedule advance failed", logx.String("schedule", sc.ID), logx.Err(uerr))
	}
}
