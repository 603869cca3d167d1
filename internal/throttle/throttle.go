// Package throttle implements the bounded-sleep knob between indexed
// items (spec.md §4.10).
package throttle

import (
	"context"
	"sync/atomic"
	"time"
)

// Throttle converts a 0..20 Config.throttle value into a per-cost-unit
// sleep duration and sleeps accordingly, checking for cancellation so a
// shutdown request is honored before each sleep (spec.md §5 cancellation).
// factor is held as an atomic int64 of nanoseconds so SetLevel can be
// called concurrently with SleepForCost from the Processor goroutine
// (spec.md §6 control surface's set_int_option("Throttle", ...)).
type Throttle struct {
	factor atomic.Int64
}

// New builds a Throttle from the 0..20 Config.throttle knob. 0 means no
// sleep; 20 implies ~100ms per 100 cost units, i.e. 1ms/unit (spec.md §4.10).
func New(level int) *Throttle {
	t := &Throttle{}
	t.SetLevel(level)
	return t
}

// SetLevel reconfigures the sleep factor from a 0..20 throttle knob,
// clamping out-of-range values.
func (t *Throttle) SetLevel(level int) {
	if level < 0 {
		level = 0
	}
	if level > 20 {
		level = 20
	}
	// Linear scale: level 20 => 1000us/unit (100 units => 100ms).
	t.factor.Store(int64(time.Duration(level) * 50 * time.Microsecond))
}

// SleepForCost sleeps cost*factor, or returns ctx.Err() immediately if ctx
// is already done.
func (t *Throttle) SleepForCost(ctx context.Context, cost int) error {
	factor := time.Duration(t.factor.Load())
	if factor == 0 || cost <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	d := factor * time.Duration(cost)
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
