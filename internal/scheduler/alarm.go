package scheduler

import (
	"context"
	"time"

	"remindd/pkg/logx"
)

// recomputeAlarm reconciles the armed wake-up with stored state: the
// earliest of the soonest pending reminder and the soonest enabled
// schedule, or none when both sets are empty. This is the only path that
// arms or clears the timer. Caller holds a.mu.
func (a *Actor) recomputeAlarm(ctx context.Context) {
	rem, err := a.st.SoonestPending(ctx, a.ownerID)
	if err != nil {
		// Keep the current alarm rather than guessing from a failed read.
		a.log.Error("soonest pending read failed", logx.Err(err))
		return
	}
	sch, err := a.st.SoonestEnabled(ctx, a.ownerID)
	if err != nil {
		a.log.Error("soonest enabled read failed", logx.Err(err))
		return
	}

	var want *time.Time
	if rem != nil {
		want = &rem.TriggerAt
	}
	if sch != nil && sch.NextRunAt != nil {
		if want == nil || sch.NextRunAt.Before(*want) {
			want = sch.NextRunAt
		}
	}

	switch {
	case want == nil:
		if a.armedAt != nil {
			a.timer.Disarm()
			a.armedAt = nil
			a.log.Debug("alarm cleared")
		}
	case a.armedAt == nil || !a.armedAt.Equal(*want):
		at := *want
		a.timer.Arm(at)
		a.armedAt = &at
		a.log.Debug("alarm armed", logx.Time("at", at))
	default:
		// Unchanged; avoid a redundant rearm.
	}
}

// ArmedAt reports the currently armed wake-up instant, nil when idle.
func (a *Actor) ArmedAt() *time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.armedAt == nil {
		return nil
	}
	at := *a.armedAt
	return &at
}
