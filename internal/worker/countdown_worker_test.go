package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/session"
)

// manualClock only moves when Advance is called. Advance hands the new time to
// every live ticker and blocks until the countdown has received it.
type manualClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*manualTicker
	created chan struct{}
	once    sync.Once
}

func newManualClock(epoch time.Time) *manualClock {
	return &manualClock{now: epoch, created: make(chan struct{})}
}

func (m *manualClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *manualClock) NewTicker(time.Duration) Ticker {
	t := &manualTicker{c: make(chan time.Time), stopped: make(chan struct{})}
	m.mu.Lock()
	m.tickers = append(m.tickers, t)
	m.mu.Unlock()
	m.once.Do(func() { close(m.created) })
	return t
}

func (m *manualClock) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	now := m.now
	tickers := append([]*manualTicker(nil), m.tickers...)
	m.mu.Unlock()

	for _, t := range tickers {
		t.fire(now)
	}
}

func (m *manualClock) waitTicker(t *testing.T) {
	t.Helper()
	select {
	case <-m.created:
	case <-time.After(2 * time.Second):
		t.Fatal("countdown never created its ticker")
	}
}

type manualTicker struct {
	c        chan time.Time
	stopped  chan struct{}
	stopOnce sync.Once
}

func (t *manualTicker) C() <-chan time.Time { return t.c }

func (t *manualTicker) Stop() {
	t.stopOnce.Do(func() { close(t.stopped) })
}

func (t *manualTicker) fire(now time.Time) {
	select {
	case t.c <- now:
	case <-t.stopped:
	}
}

var epoch = time.Date(2024, 1, 25, 13, 0, 0, 0, time.UTC)

func startedSession(t *testing.T, duration int) *session.Session {
	t.Helper()
	bank, err := model.NewQuestionBank("timer", "Timer", duration, []model.Question{
		{ID: 1, Prompt: "p", Options: []string{"a", "b"}, CorrectOptionIndex: 0, Category: "C"},
	})
	if err != nil {
		t.Fatalf("bank: %v", err)
	}
	s, err := session.New(uuid.New(), bank)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if err := s.Start(epoch); err != nil {
		t.Fatalf("start: %v", err)
	}
	return s
}

func waitDone(t *testing.T, c *Countdown) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("countdown did not halt")
	}
}

func TestCountdownExpiresSession(t *testing.T) {
	s := startedSession(t, 3)
	clock := newManualClock(epoch)
	ticks := make(chan int, 8)
	expired := make(chan *model.Result, 1)

	c := NewCountdown(s, clock, time.Second, zerolog.Nop(),
		OnTick(func(r int) { ticks <- r }),
		OnExpire(func(r *model.Result) { expired <- r }),
	)
	go c.Run(context.Background())
	clock.waitTicker(t)

	for _, want := range []int{2, 1} {
		clock.Advance(time.Second)
		if got := <-ticks; got != want {
			t.Fatalf("expected %d remaining, got %d", want, got)
		}
	}
	clock.Advance(time.Second)
	waitDone(t, c)

	select {
	case res := <-expired:
		if res.Reason != model.SubmitReasonTimeExpired || res.TimeTakenSeconds != 3 {
			t.Fatalf("unexpected result %+v", res)
		}
		if !res.SubmittedAt.Equal(epoch.Add(3 * time.Second)) {
			t.Fatalf("submitted at %v", res.SubmittedAt)
		}
	default:
		t.Fatal("OnExpire was not called")
	}
	if s.Status() != model.SessionStatusSubmitted || s.RemainingSeconds() != 0 {
		t.Fatalf("unexpected session state %s %d", s.Status(), s.RemainingSeconds())
	}

	// Further wake-ups find no listener and must not block or tick.
	clock.Advance(time.Second)
	if len(ticks) != 0 {
		t.Fatalf("tick after expiry")
	}
}

func TestCountdownCarriesSubSecondRemainder(t *testing.T) {
	s := startedSession(t, 10)
	clock := newManualClock(epoch)
	ticks := make(chan int, 8)

	c := NewCountdown(s, clock, 500*time.Millisecond, zerolog.Nop(),
		OnTick(func(r int) { ticks <- r }),
	)
	go c.Run(context.Background())
	clock.waitTicker(t)

	clock.Advance(600 * time.Millisecond)
	clock.Advance(600 * time.Millisecond)
	if got := <-ticks; got != 9 {
		t.Fatalf("expected 9 remaining after 1.2s, got %d", got)
	}
	clock.Advance(800 * time.Millisecond)
	if got := <-ticks; got != 8 {
		t.Fatalf("expected 8 remaining after 2.0s, got %d", got)
	}

	c.Stop()
}

func TestCountdownHaltsAfterManualSubmit(t *testing.T) {
	s := startedSession(t, 60)
	clock := newManualClock(epoch)
	expired := make(chan *model.Result, 1)

	c := NewCountdown(s, clock, time.Second, zerolog.Nop(),
		OnExpire(func(r *model.Result) { expired <- r }),
	)
	go c.Run(context.Background())
	clock.waitTicker(t)

	if _, err := s.Submit(epoch.Add(5*time.Second), model.SubmitReasonUserRequested); err != nil {
		t.Fatalf("submit: %v", err)
	}
	clock.Advance(time.Second)
	waitDone(t, c)

	if len(expired) != 0 {
		t.Fatal("countdown reported expiry for a manually submitted session")
	}
	res, _ := s.Result()
	if res.Reason != model.SubmitReasonUserRequested {
		t.Fatalf("reason = %s", res.Reason)
	}
}

func TestCountdownStopDoesNotGrade(t *testing.T) {
	s := startedSession(t, 2)
	clock := newManualClock(epoch)

	c := NewCountdown(s, clock, time.Second, zerolog.Nop())
	go c.Run(context.Background())
	clock.waitTicker(t)

	c.Stop()
	waitDone(t, c)

	if s.Status() != model.SessionStatusInProgress {
		t.Fatalf("stop changed status to %s", s.Status())
	}
	if _, ok := s.Result(); ok {
		t.Fatal("stop produced a result")
	}

	// Stop is idempotent.
	c.Stop()
}

func TestCountdownHonoursContext(t *testing.T) {
	s := startedSession(t, 2)
	clock := newManualClock(epoch)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewCountdown(s, clock, time.Second, zerolog.Nop())
	go c.Run(ctx)
	clock.waitTicker(t)

	cancel()
	waitDone(t, c)
	if s.RemainingSeconds() != 2 {
		t.Fatalf("remaining changed to %d", s.RemainingSeconds())
	}
}

func TestCountdownStopBeforeRun(t *testing.T) {
	s := startedSession(t, 2)
	c := NewCountdown(s, newManualClock(epoch), time.Second, zerolog.Nop())
	c.Stop()

	go c.Run(context.Background())
	waitDone(t, c)
	if s.Status() != model.SessionStatusInProgress {
		t.Fatalf("status = %s", s.Status())
	}
}
