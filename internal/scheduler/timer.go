package scheduler

import (
	"sync"
	"time"
)

// wakeupTimer arms a single time.Timer. Re-arming stops the previous timer
// first, upholding the one-outstanding-timer-per-owner constraint. An
// instant already in the past fires immediately.
type wakeupTimer struct {
	fire func()

	mu sync.Mutex
	t  *time.Timer
}

func newWakeupTimer(fire func()) *wakeupTimer {
	return &wakeupTimer{fire: fire}
}

func (w *wakeupTimer) Arm(at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.t != nil {
		w.t.Stop()
	}
	w.t = time.AfterFunc(time.Until(at), w.fire)
}

func (w *wakeupTimer) Disarm() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.t != nil {
		w.t.Stop()
		w.t = nil
	}
}
