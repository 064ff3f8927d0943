package player

import (
	"context"
	"time"

	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Announcer collapses bursts of state-change signals into low-frequency
// pushes to the voice channel's description field. Signals are delivered
// through a capacity-1 channel; a signal arriving while one is already
// pending is dropped, which is exactly the coalescing we want.
type Announcer struct {
	debounce time.Duration
	limiter  *rate.Limiter
	signal   chan struct{}
	push     func(ctx context.Context) error
}

// NewAnnouncer creates an announcer. push renders and delivers the current
// status; minInterval bounds the push frequency.
func NewAnnouncer(debounce, minInterval time.Duration, push func(ctx context.Context) error) *Announcer {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if minInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(minInterval), 1)
	}
	return &Announcer{
		debounce: debounce,
		limiter:  limiter,
		signal:   make(chan struct{}, 1),
		push:     push,
	}
}

// Notify signals that the status changed. Never blocks.
func (a *Announcer) Notify() {
	select {
	case a.signal <- struct{}{}:
	default:
	}
}

// Run processes signals until the context is cancelled. Push failures are
// logged and swallowed; the announcer is best-effort.
func (a *Announcer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.signal:
		}

		if !a.waitQuiet(ctx) {
			return
		}

		if !a.waitTurn(ctx) {
			return
		}

		if err := a.push(ctx); err != nil {
			zlog.Warn().Msgf("announcer: status push failed: %v", err)
			continue
		}
		a.limiter.Allow()
	}
}

// waitTurn blocks until the limiter holds a full token, leaving it
// unspent. The token is charged after the push succeeds, so the minimum
// interval applies between successful pushes and a failure retries
// without delay.
func (a *Announcer) waitTurn(ctx context.Context) bool {
	if a.limiter.Limit() == rate.Inf {
		return true
	}
	for {
		tokens := a.limiter.Tokens()
		if tokens >= 1 {
			return true
		}
		wait := time.Duration((1 - tokens) / float64(a.limiter.Limit()) * float64(time.Second))
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		if !a.sleep(ctx, wait) {
			return false
		}
	}
}

// sleep blocks for d, returning false when the context ends first.
func (a *Announcer) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// waitQuiet sleeps the debounce window, restarting whenever another signal
// lands mid-wait. Returns false when the context ends.
func (a *Announcer) waitQuiet(ctx context.Context) bool {
	if a.debounce <= 0 {
		return true
	}

	timer := time.NewTimer(a.debounce)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-a.signal:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(a.debounce)
		case <-timer.C:
			return true
		}
	}
}
