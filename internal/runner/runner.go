// Package runner provides TaskRunner implementations for recurring
// schedules. The scheduler only sees the Run contract; what "running" a
// payload means is decided here.
package runner

import (
	"context"
	"errors"
	"sync"

	"remindd/internal/scheduler"
	"remindd/pkg/logx"
)

// NotifyRunner delivers schedule payloads through a Notifier to a fixed
// per-owner target, which is what the daemon wires for config-defined
// schedules.
type NotifyRunner struct {
	notifier scheduler.Notifier
	log      logx.Logger

	mu      sync.RWMutex
	targets map[string]string // owner id -> target descriptor
}

func NewNotifyRunner(notifier scheduler.Notifier, targets map[string]string, log logx.Logger) *NotifyRunner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &NotifyRunner{notifier: notifier, targets: targets, log: log}
}

// SetTargets swaps the owner target map on config reload.
func (r *NotifyRunner) SetTargets(targets map[string]string) {
	r.mu.Lock()
	r.targets = targets
	r.mu.Unlock()
}

func (r *NotifyRunner) Run(ctx context.Context, ownerID, scheduleID, payload string) error {
	r.mu.RLock()
	target, ok := r.targets[ownerID]
	r.mu.RUnlock()
	if !ok {
		return errors.New("no delivery target configured for owner " + ownerID)
	}
	return r.notifier.Send(ctx, target, payload)
}

// LogRunner records the run and succeeds. Useful for dry runs and as the
// fallback when no notifier is configured.
type LogRunner struct {
	log logx.Logger
}

func NewLogRunner(log logx.Logger) *LogRunner {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogRunner{log: log}
}

func (r *LogRunner) Run(ctx context.Context, ownerID, scheduleID, payload string) error {
	r.log.Info("schedule run (log only)",
		logx.String("owner", ownerID),
		logx.String("schedule", scheduleID),
		logx.Int("payload_len", len(payload)))
	return nil
}
