package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/cron"
	"remindd/internal/store"
	"remindd/pkg/logx"
)

// ---- fakes ----

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type manualTimer struct {
	mu      sync.Mutex
	armed   *time.Time
	arms    int
	disarms int
}

func (m *manualTimer) Arm(at time.Time) {
	m.mu.Lock()
	m.armed = &at
	m.arms++
	m.mu.Unlock()
}

func (m *manualTimer) Disarm() {
	m.mu.Lock()
	m.armed = nil
	m.disarms++
	m.mu.Unlock()
}

func (m *manualTimer) armedAt() *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.armed == nil {
		return nil
	}
	at := *m.armed
	return &at
}

type sendCall struct{ target, payload string }

type fakeNotifier struct {
	mu        sync.Mutex
	sends     []sendCall
	failures  map[string]error // by target
	panicNext bool
}

func (n *fakeNotifier) Send(ctx context.Context, target, payload string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.panicNext {
		n.panicNext = false
		panic("notifier exploded")
	}
	if err, ok := n.failures[target]; ok {
		return err
	}
	n.sends = append(n.sends, sendCall{target, payload})
	return nil
}

func (n *fakeNotifier) sent() []sendCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sendCall(nil), n.sends...)
}

type runCall struct{ owner, schedule, payload string }

type fakeRunner struct {
	mu   sync.Mutex
	runs []runCall
	err  error
}

func (r *fakeRunner) Run(ctx context.Context, ownerID, scheduleID, payload string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, runCall{ownerID, scheduleID, payload})
	return r.err
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

// ---- harness ----

type testEnv struct {
	clock  *fakeClock
	notif  *fakeNotifier
	run    *fakeRunner
	st     *store.Store
	svc    *Service
	actor  *Actor
	timers []*manualTimer
}

// One fake timer is handed out per actor; env.timer() is the first
// (single-owner tests only ever create one).
func (e *testEnv) timer() *manualTimer { return e.timers[0] }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	env := &testEnv{
		clock: &fakeClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)},
		notif: &fakeNotifier{failures: map[string]error{}},
		run:   &fakeRunner{},
		st:    st,
	}

	svc, err := New(Config{GracePeriod: time.Minute}, Deps{
		Store:    st,
		Notifier: env.notif,
		Runner:   env.run,
		Clock:    env.clock,
		NewTimer: func(fire func()) Timer {
			mt := &manualTimer{}
			env.timers = append(env.timers, mt)
			return mt
		},
		Log: logx.Nop(),
	})
	require.NoError(t, err)

	env.svc = svc
	env.actor = svc.Owner("owner1")
	return env
}

func (e *testEnv) schedule(t *testing.T, id string, at time.Time) store.Reminder {
	t.Helper()
	r, err := e.actor.Schedule(context.Background(), store.Reminder{
		ID:        id,
		TriggerAt: at,
		Payload:   "msg " + id,
		Target:    "100",
	})
	require.NoError(t, err)
	return r
}

func dailySix() Definition {
	return Definition{
		ID:       "daily",
		CronExpr: "0 6 * * *",
		Timezone: "America/New_York",
		Payload:  "morning",
		Enabled:  true,
	}
}

// ---- reminders ----

func TestAlarmTracksEarliestPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()

	env.schedule(t, "late", now.Add(2*time.Hour))
	require.NotNil(t, env.timer().armedAt())
	assert.True(t, env.timer().armedAt().Equal(now.Add(2*time.Hour)))

	// Earlier reminder pulls the alarm forward.
	env.schedule(t, "early", now.Add(30*time.Minute))
	assert.True(t, env.timer().armedAt().Equal(now.Add(30*time.Minute)))

	// Cancelling it falls back to the remaining one.
	require.NoError(t, env.actor.Cancel(ctx, "early"))
	assert.True(t, env.timer().armedAt().Equal(now.Add(2*time.Hour)))

	// Completing the last clears the alarm entirely.
	require.NoError(t, env.actor.Complete(ctx, "late"))
	assert.Nil(t, env.timer().armedAt())
	assert.Nil(t, env.actor.ArmedAt())
}

func TestAlarmUnchangedIsNoRearm(t *testing.T) {
	env := newTestEnv(t)
	now := env.clock.Now()

	env.schedule(t, "a", now.Add(time.Hour))
	arms := env.timer().arms

	// A later reminder doesn't move the minimum, so the timer is untouched.
	env.schedule(t, "b", now.Add(2*time.Hour))
	assert.Equal(t, arms, env.timer().arms)
}

func TestScheduleDuplicateID(t *testing.T) {
	env := newTestEnv(t)
	now := env.clock.Now()

	env.schedule(t, "r1", now.Add(time.Hour))
	_, err := env.actor.Schedule(context.Background(), store.Reminder{
		ID: "r1", TriggerAt: now.Add(2 * time.Hour),
	})
	require.ErrorIs(t, err, store.ErrDuplicateID)

	rows, err := env.actor.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSchedulePastTrigger(t *testing.T) {
	env := newTestEnv(t)
	now := env.clock.Now()

	_, err := env.actor.Schedule(context.Background(), store.Reminder{
		ID: "old", TriggerAt: now.Add(-2 * time.Minute),
	})
	require.ErrorIs(t, err, ErrPastTrigger)

	// Inside the grace period is accepted.
	_, err = env.actor.Schedule(context.Background(), store.Reminder{
		ID: "barely", TriggerAt: now.Add(-30 * time.Second), Target: "100",
	})
	require.NoError(t, err)
}

func TestCancelTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()

	require.ErrorIs(t, env.actor.Cancel(ctx, "missing"), store.ErrNotFound)

	env.schedule(t, "r1", now.Add(time.Hour))
	require.NoError(t, env.actor.Cancel(ctx, "r1"))
	require.ErrorIs(t, env.actor.Cancel(ctx, "r1"), store.ErrInvalidTransition)
	require.ErrorIs(t, env.actor.Complete(ctx, "r1"), store.ErrInvalidTransition)
}

func TestOnAlarmDeliversAllDue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()

	env.schedule(t, "r1", now.Add(time.Second))
	env.schedule(t, "r2", now.Add(2*time.Second))
	env.schedule(t, "keep", now.Add(time.Hour))

	env.clock.Advance(5 * time.Second)
	env.actor.OnAlarm()

	assert.Len(t, env.notif.sent(), 2)

	completed, err := env.actor.List(ctx, store.StatusCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	// The next alarm reflects only the remaining pending reminder.
	require.NotNil(t, env.timer().armedAt())
	assert.True(t, env.timer().armedAt().Equal(now.Add(time.Hour)))
}

func TestDeliveryFailureIsTerminalAndIsolated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()

	env.notif.failures["666"] = errors.New("chat unreachable")

	_, err := env.actor.Schedule(ctx, store.Reminder{ID: "bad", TriggerAt: now.Add(time.Second), Target: "666"})
	require.NoError(t, err)
	env.schedule(t, "good", now.Add(time.Second))

	env.clock.Advance(2 * time.Second)
	env.actor.OnAlarm()

	failed, err := env.actor.List(ctx, store.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "bad", failed[0].ID)

	completed, err := env.actor.List(ctx, store.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "good", completed[0].ID)

	// A duplicate fire finds nothing due: no resend, no status churn.
	sends := len(env.notif.sent())
	env.actor.OnAlarm()
	assert.Len(t, env.notif.sent(), sends)
}

func TestOnAlarmNeverPanics(t *testing.T) {
	env := newTestEnv(t)
	now := env.clock.Now()

	env.schedule(t, "r1", now.Add(time.Second))
	env.notif.panicNext = true
	env.clock.Advance(2 * time.Second)

	require.NotPanics(t, func() { env.actor.OnAlarm() })

	// The interrupted item is still pending and delivered on the refire.
	require.NotPanics(t, func() { env.actor.OnAlarm() })
	assert.Len(t, env.notif.sent(), 1)
}

// ---- recurring ----

func TestSyncRecurringArmsAlarm(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.actor.SyncRecurring(ctx, []Definition{dailySix()})
	require.NoError(t, err)
	assert.Equal(t, store.SyncResult{Added: 1}, res)

	// 2025-06-10 12:00 UTC is 08:00 in New York; the next 06:00 there is
	// the following morning, 10:00 UTC.
	want := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
	require.NotNil(t, env.timer().armedAt())
	assert.True(t, env.timer().armedAt().Equal(want))
}

func TestSyncRecurringRejectsBadExpression(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	defs := []Definition{dailySix(), {ID: "broken", CronExpr: "nope", Enabled: true}}
	_, err := env.actor.SyncRecurring(ctx, defs)
	require.ErrorIs(t, err, cron.ErrBadExpression)

	// Whole set rejected: nothing stored, nothing armed.
	rows, err := env.actor.ListRecurring(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Nil(t, env.timer().armedAt())
}

func TestRecurringFireAdvancesEvenOnFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.actor.SyncRecurring(ctx, []Definition{dailySix()})
	require.NoError(t, err)

	firstRun := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
	env.clock.Set(firstRun.Add(time.Second))
	env.run.err = errors.New("runner down")

	env.actor.OnAlarm()

	assert.Equal(t, 1, env.run.count())

	execs, err := env.actor.ListExecutions(ctx, "daily", 10)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, store.ExecFailed, execs[0].Status)
	assert.Equal(t, "runner down", execs[0].Error)

	// Advanced to the next calendar occurrence despite the failure.
	rows, err := env.actor.ListRecurring(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].NextRunAt)
	wantNext := time.Date(2025, 6, 12, 10, 0, 0, 0, time.UTC)
	assert.True(t, rows[0].NextRunAt.Equal(wantNext))
	require.NotNil(t, rows[0].LastRunAt)
	assert.True(t, rows[0].LastRunAt.Equal(firstRun.Add(time.Second)))

	// Same occurrence never reprocessed.
	env.actor.OnAlarm()
	assert.Equal(t, 1, env.run.count())
}

func TestToggleRecurring(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.actor.SyncRecurring(ctx, []Definition{dailySix()})
	require.NoError(t, err)
	require.NotNil(t, env.timer().armedAt())

	require.NoError(t, env.actor.ToggleRecurring(ctx, "daily", false))
	assert.Nil(t, env.timer().armedAt())

	rows, err := env.actor.ListRecurring(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Enabled)
	assert.Nil(t, rows[0].NextRunAt)

	// Re-enabling two days later computes a fresh occurrence from "now",
	// not the stale pre-disable value.
	env.clock.Advance(48 * time.Hour)
	require.NoError(t, env.actor.ToggleRecurring(ctx, "daily", true))

	want := time.Date(2025, 6, 13, 10, 0, 0, 0, time.UTC)
	require.NotNil(t, env.timer().armedAt())
	assert.True(t, env.timer().armedAt().Equal(want))

	require.ErrorIs(t, env.actor.ToggleRecurring(ctx, "missing", true), store.ErrNotFound)
}

func TestSyncRemovalCascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	second := dailySix()
	second.ID = "weekly"
	second.CronExpr = "0 8 * * 1"
	_, err := env.actor.SyncRecurring(ctx, []Definition{dailySix(), second})
	require.NoError(t, err)

	_, err = env.actor.RunNow(ctx, "weekly")
	require.NoError(t, err)

	res, err := env.actor.SyncRecurring(ctx, []Definition{dailySix()})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Removed)

	execs, err := env.actor.ListExecutions(ctx, "weekly", 10)
	require.NoError(t, err)
	assert.Empty(t, execs)

	// Armed instant now comes from the surviving schedule alone.
	want := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
	require.NotNil(t, env.timer().armedAt())
	assert.True(t, env.timer().armedAt().Equal(want))
}

func TestRunNowDoesNotAdvance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.actor.SyncRecurring(ctx, []Definition{dailySix()})
	require.NoError(t, err)

	before, err := env.actor.ListRecurring(ctx)
	require.NoError(t, err)
	require.NotNil(t, before[0].NextRunAt)

	rec, err := env.actor.RunNow(ctx, "daily")
	require.NoError(t, err)
	assert.Equal(t, store.ExecCompleted, rec.Status)
	assert.Equal(t, 1, env.run.count())

	after, err := env.actor.ListRecurring(ctx)
	require.NoError(t, err)
	require.NotNil(t, after[0].NextRunAt)
	assert.True(t, after[0].NextRunAt.Equal(*before[0].NextRunAt))
	assert.Nil(t, after[0].LastRunAt)

	execs, err := env.actor.ListExecutions(ctx, "daily", 10)
	require.NoError(t, err)
	assert.Len(t, execs, 1)

	_, err = env.actor.RunNow(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

// ---- mixed + lifecycle ----

func TestAlarmMinAcrossKinds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()

	_, err := env.actor.SyncRecurring(ctx, []Definition{dailySix()})
	require.NoError(t, err)
	schedNext := time.Date(2025, 6, 11, 10, 0, 0, 0, time.UTC)
	assert.True(t, env.timer().armedAt().Equal(schedNext))

	// A reminder before the schedule wins the minimum.
	env.schedule(t, "sooner", now.Add(time.Hour))
	assert.True(t, env.timer().armedAt().Equal(now.Add(time.Hour)))

	require.NoError(t, env.actor.Cancel(ctx, "sooner"))
	assert.True(t, env.timer().armedAt().Equal(schedNext))
}

func TestServiceStartRearmsFromStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := env.clock.Now()

	env.schedule(t, "r1", now.Add(time.Hour))
	env.svc.Stop()
	assert.Nil(t, env.timer().armedAt())

	// A fresh service over the same store recomputes the alarm.
	var timers []*manualTimer
	svc2, err := New(Config{GracePeriod: time.Minute}, Deps{
		Store:    env.st,
		Notifier: env.notif,
		Runner:   env.run,
		Clock:    env.clock,
		NewTimer: func(fire func()) Timer {
			mt := &manualTimer{}
			timers = append(timers, mt)
			return mt
		},
		Log: logx.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, svc2.Start(ctx))
	defer svc2.Stop()

	require.Len(t, timers, 1)
	require.NotNil(t, timers[0].armedAt())
	assert.True(t, timers[0].armedAt().Equal(now.Add(time.Hour)))
}

func TestOwnersAreIndependent(t *testing.T) {
	env := newTestEnv(t)
	now := env.clock.Now()

	a := env.svc.Owner("alice")
	b := env.svc.Owner("bob")

	_, err := a.Schedule(context.Background(), store.Reminder{ID: "r", TriggerAt: now.Add(time.Hour), Target: "1"})
	require.NoError(t, err)
	_, err = b.Schedule(context.Background(), store.Reminder{ID: "r", TriggerAt: now.Add(2 * time.Hour), Target: "2"})
	require.NoError(t, err)

	// owner1's actor was created first (timer 0); alice and bob follow.
	require.Len(t, env.timers, 3)
	assert.True(t, env.timers[1].armedAt().Equal(now.Add(time.Hour)))
	assert.True(t, env.timers[2].armedAt().Equal(now.Add(2*time.Hour)))
}
