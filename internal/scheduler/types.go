package scheduler

import (
	"context"
	"errors"
	"time"
)

// ErrPastTrigger rejects reminders scheduled further in the past than the
// configured grace period.
var ErrPastTrigger = errors.New("trigger time is in the past")

// Clock provides "now". Injectable so tests can drive time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall clock.
func SystemClock() Clock { return systemClock{} }

// Timer is the single wake-up primitive of one owner. Arm replaces any
// armed instant; timers never stack.
type Timer interface {
	Arm(at time.Time)
	Disarm()
}

// Notifier delivers a one-shot reminder payload to its opaque target.
type Notifier interface {
	Send(ctx context.Context, target, payload string) error
}

// Runner executes a recurring schedule's payload.
type Runner interface {
	Run(ctx context.Context, ownerID, scheduleID, payload string) error
}

// Definition is one incoming recurring-schedule definition for SyncRecurring.
type Definition struct {
	ID          string
	Description string
	CronExpr    string
	Timezone    string
	Payload     string
	Enabled     bool
}

type Config struct {
	GracePeriod time.Duration // tolerance for marginally past trigger times
	SendTimeout time.Duration // bound on one Notifier.Send
	RunTimeout  time.Duration // bound on one Runner.Run
	Retention   time.Duration // execution log age cutoff
}

func (c Config) withDefaults() Config {
	if c.GracePeriod <= 0 {
		c.GracePeriod = time.Minute
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 2 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 30 * 24 * time.Hour
	}
	return c
}
