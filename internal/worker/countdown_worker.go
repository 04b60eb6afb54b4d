package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
)

// CountdownTarget is the session surface the countdown drives.
type CountdownTarget interface {
	Status() model.SessionStatus
	RemainingSeconds() int
	Tick(elapsedSeconds int, now time.Time) (*model.Result, error)
}

// CountdownOption configures a Countdown.
type CountdownOption func(*Countdown)

// OnTick is called with the remaining seconds after every tick that did not
// end the session.
func OnTick(fn func(remaining int)) CountdownOption {
	return func(c *Countdown) { c.onTick = fn }
}

// OnExpire is called once with the Result when a tick runs the clock out.
func OnExpire(fn func(*model.Result)) CountdownOption {
	return func(c *Countdown) { c.onExpire = fn }
}

// Countdown wakes up at a fixed interval and feeds the elapsed whole seconds
// into one session. It halts for good once the session leaves IN_PROGRESS.
// It never grades by itself: expiry grading happens inside Tick.
type Countdown struct {
	target   CountdownTarget
	clock    Clock
	interval time.Duration
	log      zerolog.Logger

	onTick   func(int)
	onExpire func(*model.Result)

	started  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewCountdown creates a countdown for target. Call Run in a goroutine.
func NewCountdown(target CountdownTarget, clock Clock, interval time.Duration, log zerolog.Logger, opts ...CountdownOption) *Countdown {
	c := &Countdown{
		target:   target,
		clock:    clock,
		interval: interval,
		log:      log.With().Str("component", "countdown").Logger(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run blocks until the session is terminal, ctx is done or Cancel/Stop is
// called. A Countdown runs at most once.
func (c *Countdown) Run(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		return
	}
	defer close(c.done)

	last := c.clock.Now()
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	var carry time.Duration

	for {
		if c.target.Status() != model.SessionStatusInProgress {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case now := <-ticker.C():
			// Stop may race with a pending wake-up; a stopped countdown must
			// not tick, because that tick could grade.
			select {
			case <-c.stop:
				return
			default:
			}
			if c.target.Status() != model.SessionStatusInProgress {
				return
			}

			carry += now.Sub(last)
			last = now
			whole := int(carry / time.Second)
			if whole <= 0 {
				continue
			}
			carry -= time.Duration(whole) * time.Second

			res, err := c.target.Tick(whole, now)
			if err != nil {
				if errors.Is(err, model.ErrInvalidTransition) {
					// Submitted between our status check and Tick.
					c.log.Debug().Err(err).Msg("Countdown halted by terminal session")
				} else {
					c.log.Error().Err(err).Msg("Tick failed, halting countdown")
				}
				return
			}
			if res != nil {
				if c.onExpire != nil {
					c.onExpire(res)
				}
				return
			}
			if c.onTick != nil {
				c.onTick(c.target.RemainingSeconds())
			}
		}
	}
}

// Cancel asks Run to return without waiting for it. Safe to call from the
// countdown's own goroutine and more than once.
func (c *Countdown) Cancel() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Stop cancels and waits for Run to return if it was started.
func (c *Countdown) Stop() {
	c.Cancel()
	if c.started.Load() {
		<-c.done
	}
}

// Done is closed when Run returns.
func (c *Countdown) Done() <-chan struct{} {
	return c.done
}
