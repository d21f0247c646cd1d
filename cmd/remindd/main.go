package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	sd "github.com/coreos/go-systemd/v22/daemon"

	"remindd/internal/config"
	"remindd/internal/notify"
	"remindd/internal/runner"
	"remindd/internal/scheduler"
	"remindd/internal/store"
	"remindd/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console,
		File:    logx.FileConfig{Enabled: cfg.Log.File.Enabled, Path: cfg.Log.File.Path},
	})
	defer logSvc.Close()

	st, err := store.Open(store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.Storage.BusyTimeout.Std(),
	}, log)
	if err != nil {
		return err
	}
	defer st.Close()

	var notifier scheduler.Notifier
	notifier, err = notify.New(notify.Config{
		Token:      cfg.Telegram.Token,
		RatePerSec: cfg.Telegram.RatePerSec,
	}, log)
	var taskRunner scheduler.Runner
	nr := (*runner.NotifyRunner)(nil)
	switch {
	case err == nil:
		nr = runner.NewNotifyRunner(notifier, ownerTargets(cfg), log)
		taskRunner = nr
	case errors.Is(err, notify.ErrDisabled):
		// No token configured: run schedules in log-only mode and fail
		// reminder deliveries honestly.
		log.Warn("telegram token missing; deliveries disabled")
		notifier = disabledNotifier{}
		taskRunner = runner.NewLogRunner(log)
	default:
		return err
	}

	sched, err := scheduler.New(scheduler.Config{
		GracePeriod: cfg.Scheduler.GracePeriod.Std(),
		SendTimeout: cfg.Scheduler.SendTimeout.Std(),
		RunTimeout:  cfg.Scheduler.RunTimeout.Std(),
		Retention:   cfg.Scheduler.Retention.Std(),
	}, scheduler.Deps{
		Store:    st,
		Notifier: notifier,
		Runner:   taskRunner,
		Log:      log,
	})
	if err != nil {
		return err
	}

	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	var syncMu sync.Mutex
	synced := applyConfig(ctx, sched, cfg, nil, log)

	// Reload recurring definitions when the config file changes. A change
	// is a full replace per owner, so dropping an owner from the file
	// removes their schedules too.
	go func() {
		_ = config.Watch(ctx, cfgPath, log, func(next *config.Config) {
			if nr != nil {
				nr.SetTargets(ownerTargets(next))
			}
			syncMu.Lock()
			synced = applyConfig(ctx, sched, next, synced, log)
			syncMu.Unlock()
		})
	}()

	_, _ = sd.SdNotify(false, sd.SdNotifyReady)
	log.Info("remindd ready", logx.String("config", cfgPath))

	<-ctx.Done()
	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
	return ctx.Err()
}

// applyConfig syncs every configured owner's schedule definitions and
// clears owners that disappeared since the previous sync. Returns the set
// of owner ids synced this round.
func applyConfig(ctx context.Context, sched *scheduler.Service, cfg *config.Config, previous map[string]bool, log logx.Logger) map[string]bool {
	current := map[string]bool{}
	for _, o := range cfg.Owners {
		current[o.ID] = true
		defs := make([]scheduler.Definition, 0, len(o.Schedules))
		for _, sc := range o.Schedules {
			defs = append(defs, scheduler.Definition{
				ID:          sc.ID,
				Description: sc.Description,
				CronExpr:    sc.Cron,
				Timezone:    sc.Timezone,
				Payload:     sc.Payload,
				Enabled:     !sc.Disabled,
			})
		}
		if _, err := sched.Owner(o.ID).SyncRecurring(ctx, defs); err != nil {
			log.Error("schedule sync failed", logx.String("owner", o.ID), logx.Err(err))
		}
	}
	for id := range previous {
		if current[id] {
			continue
		}
		if _, err := sched.Owner(id).SyncRecurring(ctx, nil); err != nil {
			log.Error("schedule removal failed", logx.String("owner", id), logx.Err(err))
		}
	}
	return current
}

func ownerTargets(cfg *config.Config) map[string]string {
	targets := make(map[string]string, len(cfg.Owners))
	for _, o := range cfg.Owners {
		if o.Target != "" {
			targets[o.ID] = o.Target
		}
	}
	return targets
}

// disabledNotifier fails every send; dispatch records the failure instead
// of crashing.
type disabledNotifier struct{}

func (disabledNotifier) Send(ctx context.Context, target, payload string) error {
	return notify.ErrDisabled
}
