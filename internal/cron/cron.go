// Package cron computes occurrence times for five-field cron expressions.
//
// Evaluation is pure: no state is kept between calls, and DST transitions
// are resolved by the calendar arithmetic of the underlying parser, not by
// the caller.
package cron

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	robfig "github.com/robfig/cron/v3"
)

var (
	ErrBadExpression = errors.New("invalid cron expression")
	ErrBadTimezone   = errors.New("invalid timezone")
)

// Standard five-field specs plus descriptors like @daily.
var parser = robfig.NewParser(
	robfig.Minute | robfig.Hour | robfig.Dom | robfig.Month | robfig.Dow | robfig.Descriptor,
)

// Location lookups hit the filesystem on some platforms; cache them.
var (
	locMu    sync.Mutex
	locCache = map[string]*time.Location{}
)

// Next returns the first occurrence of expr strictly after the given instant,
// evaluated in the named IANA timezone. An empty tz means UTC.
//
// A zero return time means the expression yields no further occurrence.
func Next(expr, tz string, after time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	loc, err := LoadLocation(tz)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after.In(loc)), nil
}

// Parse validates expr and returns its schedule.
func Parse(expr string) (robfig.Schedule, error) {
	sched, err := parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadExpression, expr, err)
	}
	return sched, nil
}

// Validate reports whether both the expression and the timezone are usable.
func Validate(expr, tz string) error {
	if _, err := Parse(expr); err != nil {
		return err
	}
	if _, err := LoadLocation(tz); err != nil {
		return err
	}
	return nil
}

// LoadLocation resolves an IANA timezone name, defaulting empty to UTC.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC, nil
	}

	locMu.Lock()
	defer locMu.Unlock()
	if loc, ok := locCache[tz]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrBadTimezone, tz, err)
	}
	locCache[tz] = loc
	return loc, nil
}
