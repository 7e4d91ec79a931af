package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/melih/lighthouse-appliance/internal/logger"
)

// NotReadyError is returned when the database never answered. It carries the
// diagnostic snapshot taken after the last tick.
type NotReadyError struct {
	Ticks       int
	Elapsed     time.Duration
	Diagnostics Diagnostics
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("database not ready after %d checks (%s)", e.Ticks, e.Elapsed)
}

func (e *NotReadyError) Unwrap() error { return ErrNotReady }

// WaitPolicy sets the tick budget and the escalation ticks for the database wait.
type WaitPolicy struct {
	Interval      time.Duration
	MaxTicks      int
	ManualStartAt int
	DiagnosticsAt int
}

// DatabaseWaiter waits for the database ping, self-healing at ManualStartAt and
// logging a snapshot at DiagnosticsAt.
type DatabaseWaiter struct {
	ping      Probe
	starter   *ManualStarter
	diagnoser *Diagnoser
	clock     Clock
	policy    WaitPolicy
}

// NewDatabaseWaiter creates a DatabaseWaiter. starter and diagnoser may be nil.
func NewDatabaseWaiter(ping Probe, starter *ManualStarter, diagnoser *Diagnoser, clock Clock, policy WaitPolicy) *DatabaseWaiter {
	return &DatabaseWaiter{
		ping:      ping,
		starter:   starter,
		diagnoser: diagnoser,
		clock:     clock,
		policy:    policy,
	}
}

// Wait blocks until the database answers, the budget runs out or ctx is done.
func (w *DatabaseWaiter) Wait(ctx context.Context) (Outcome, error) {
	logger.InfoCtx(ctx, "waiting for database", "max_checks", w.policy.MaxTicks, "interval", w.policy.Interval)

	out, err := Await(ctx, w.clock, w.ping, Policy{
		Interval:    w.policy.Interval,
		MaxTicks:    w.policy.MaxTicks,
		Escalations: w.escalations(),
	})
	switch {
	case err == nil:
		logger.InfoCtx(ctx, "database ready", "checks", out.Ticks, "elapsed", out.Elapsed, "by", out.ReadyBy)
		return out, nil
	case errors.Is(err, ErrNotReady):
		nre := &NotReadyError{Ticks: out.Ticks, Elapsed: out.Elapsed}
		if w.diagnoser != nil {
			nre.Diagnostics = w.diagnoser.Collect(ctx)
		}
		logger.ErrorCtx(ctx, "database did not become ready", "checks", out.Ticks, "elapsed", out.Elapsed)
		return out, nre
	default:
		return out, fmt.Errorf("database wait interrupted: %w", err)
	}
}

func (w *DatabaseWaiter) escalations() []Escalation {
	var escs []Escalation
	if w.starter != nil && w.policy.ManualStartAt > 0 {
		escs = append(escs, Escalation{
			AtTick: w.policy.ManualStartAt,
			Name:   "manual-start",
			Run: func(ctx context.Context, tick int) bool {
				return w.starter.Attempt(ctx)
			},
		})
	}
	if w.diagnoser != nil && w.policy.DiagnosticsAt > 0 {
		escs = append(escs, Escalation{
			AtTick: w.policy.DiagnosticsAt,
			Name:   "diagnostics",
			Run: func(ctx context.Context, tick int) bool {
				logger.WarnCtx(ctx, "database still not ready", "check", tick, "diagnostics", w.diagnoser.Collect(ctx).String())
				return false
			},
		})
	}
	return escs
}
