package scheduler

import (
	"context"
	"errors"
	"sync"

	"remindd/internal/store"
	"remindd/pkg/logx"
)

// Deps carries everything an actor composes. Clock and NewTimer default to
// the system clock and the in-process wake-up timer; tests substitute both.
type Deps struct {
	Store    *store.Store
	Notifier Notifier
	Runner   Runner
	Clock    Clock
	NewTimer func(fire func()) Timer
	Log      logx.Logger
}

// Service is the per-owner actor registry. Actors are created lazily on
// first use and live until Stop; they share nothing but the store handle.
type Service struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex
	actors  map[string]*Actor
	stopped bool
}

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("scheduler: store is required")
	}
	if deps.Notifier == nil {
		return nil, errors.New("scheduler: notifier is required")
	}
	if deps.Runner == nil {
		return nil, errors.New("scheduler: runner is required")
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	if deps.Log.IsZero() {
		deps.Log = logx.Nop()
	}
	return &Service{
		cfg:    cfg.withDefaults(),
		deps:   deps,
		actors: map[string]*Actor{},
	}, nil
}

// Start rebuilds the wake-up timer of every owner with persisted state.
// Alarm instants are derived, so a restart simply recomputes them from
// the store.
func (s *Service) Start(ctx context.Context) error {
	owners, err := s.deps.Store.Owners(ctx)
	if err != nil {
		return err
	}
	for _, id := range owners {
		s.Owner(id).Rearm(ctx)
	}
	s.deps.Log.Info("scheduler started", logx.Int("owners", len(owners)))
	return nil
}

// Stop disarms all timers. Pending items stay durable.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	actors := make([]*Actor, 0, len(s.actors))
	for _, a := range s.actors {
		actors = append(actors, a)
	}
	s.mu.Unlock()

	for _, a := range actors {
		a.Close()
	}
	s.deps.Log.Info("scheduler stopped", logx.Int("owners", len(actors)))
}

// Owner returns the actor for the given owner key, creating it on first
// use.
func (s *Service) Owner(ownerID string) *Actor {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.actors[ownerID]; ok {
		return a
	}
	a := newActor(ownerID, s.cfg, s.deps)
	s.actors[ownerID] = a
	return a
}
