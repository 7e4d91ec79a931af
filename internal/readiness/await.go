// Package readiness drives the bounded wait for the appliance database.
//
// Await is a generic tick loop: a probe is run once per tick, escalation callbacks
// fire at fixed ticks, and the loop ends READY on the first successful probe or
// FAILED when the tick budget is spent. Probe, escalations and clock are injected so
// the state machine itself stays pure.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// State of the readiness state machine.
type State int

const (
	StateWaiting State = iota
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateReady:
		return "READY"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrNotReady is returned when the tick budget is exhausted.
var ErrNotReady = errors.New("condition not met within tick budget")

// Probe reports whether the awaited condition holds.
type Probe func(ctx context.Context) bool

// Escalation runs once, at tick AtTick, if the condition still does not hold.
// Run returns true only when it verified the condition itself (for example a
// manual start followed by a successful liveness re-check).
type Escalation struct {
	AtTick int
	Name   string
	Run    func(ctx context.Context, tick int) bool
}

// Policy bounds the wait.
type Policy struct {
	Interval    time.Duration
	MaxTicks    int
	Escalations []Escalation
}

// Outcome describes how the wait ended.
type Outcome struct {
	State   State
	Ticks   int
	Elapsed time.Duration
	// ReadyBy is "probe" or the name of the escalation that verified readiness.
	ReadyBy string
}

// Await runs probe once per tick until it succeeds or MaxTicks ticks have run.
// The first probe happens immediately; Interval separates consecutive ticks.
func Await(ctx context.Context, clock Clock, probe Probe, policy Policy) (Outcome, error) {
	if policy.MaxTicks < 1 {
		return Outcome{State: StateFailed}, fmt.Errorf("invalid tick budget %d", policy.MaxTicks)
	}

	start := clock.Now()
	out := Outcome{State: StateWaiting}

	for tick := 1; tick <= policy.MaxTicks; tick++ {
		out.Ticks = tick

		if probe(ctx) {
			out.State = StateReady
			out.ReadyBy = "probe"
			out.Elapsed = clock.Now().Sub(start)
			return out, nil
		}

		for _, esc := range policy.Escalations {
			if esc.AtTick != tick || esc.Run == nil {
				continue
			}
			if esc.Run(ctx, tick) {
				out.State = StateReady
				out.ReadyBy = esc.Name
				out.Elapsed = clock.Now().Sub(start)
				return out, nil
			}
		}

		if tick == policy.MaxTicks {
			break
		}
		if err := clock.Sleep(ctx, policy.Interval); err != nil {
			out.Elapsed = clock.Now().Sub(start)
			return out, err
		}
	}

	out.State = StateFailed
	out.Elapsed = clock.Now().Sub(start)
	return out, ErrNotReady
}
