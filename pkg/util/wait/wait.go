package wait

import (
	"context"
	"github.com/tsundata/vhm/pkg/util/runtime"
	"math/rand"
	"time"
)

// Jitter returns a time.Duration between duration and duration + maxFactor *
// duration.
//
// This allows clients to avoid converging on periodic behavior. If maxFactor
// is 0.0, a suggested default value will be chosen.
func Jitter(duration time.Duration, maxFactor float64) time.Duration {
	if maxFactor <= 0.0 {
		maxFactor = 1.0
	}
	wait := duration + time.Duration(rand.Float64()*maxFactor*float64(duration))
	return wait
}

// UntilWithContext loops until ctx is done, running f every period.
// The period is measured after f returns.
func UntilWithContext(ctx context.Context, f func(context.Context), period time.Duration) {
	JitterUntilWithContext(ctx, f, period, 0.0)
}

// JitterUntilWithContext is UntilWithContext with the period jittered by
// jitterFactor before every run when jitterFactor is positive.
//
// A panic in f is logged and re-raised by runtime.HandleCrash.
func JitterUntilWithContext(ctx context.Context, f func(context.Context), period time.Duration, jitterFactor float64) {
	var t *time.Timer
	defer func() {
		if t != nil {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		func() {
			defer runtime.HandleCrash()
			f(ctx)
		}()

		next := period
		if jitterFactor > 0.0 {
			next = Jitter(period, jitterFactor)
		}
		if t == nil {
			t = time.NewTimer(next)
		} else {
			t.Reset(next)
		}

		// NOTE: b/c there is no priority selection in golang
		// it is possible for this to race, meaning we could
		// trigger t.C and ctx.Done, and t.C select falls through.
		// In order to mitigate we re-check ctx.Done at the beginning
		// of every loop to prevent extra executions of f().
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
