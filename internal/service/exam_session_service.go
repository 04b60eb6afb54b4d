package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/session"
	"github.com/stemsi/exstem-engine/internal/worker"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrBankNotFound    = errors.New("question bank not found")
	ErrNotSubmitted    = errors.New("session has not been submitted")
)

// handoffTimeout bounds the result hand-off and event publish done from the
// submit hook.
const handoffTimeout = 5 * time.Second

// ResultSink receives every graded result exactly once.
type ResultSink interface {
	Enqueue(ctx context.Context, res *model.Result) error
	Cached(ctx context.Context, sessionID uuid.UUID) (*model.Result, error)
}

// ResultReader looks up results that have been persisted. A missing result is
// (nil, nil).
type ResultReader interface {
	GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.Result, error)
}

// EventPublisher broadcasts live session events.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.SessionEvent) error
}

// Stats is a point-in-time count of the registry.
type Stats struct {
	Banks      int `json:"banks"`
	NotStarted int `json:"not_started"`
	InProgress int `json:"in_progress"`
	Submitted  int `json:"submitted"`
}

type liveSession struct {
	sess      *session.Session
	countdown *worker.Countdown
	log       zerolog.Logger
}

// ExamSessionService owns the in-memory sessions of this process and wires
// each one to its countdown, the result sink and the event channel.
type ExamSessionService struct {
	sink         ResultSink
	archive      ResultReader
	events       EventPublisher
	clock        worker.Clock
	tickInterval time.Duration
	log          zerolog.Logger

	mu       sync.RWMutex
	banks    map[string]*model.QuestionBank
	sessions map[uuid.UUID]*liveSession
}

// NewExamSessionService creates a new ExamSessionService. archive may be nil,
// in which case evicted results are only served while the sink caches them.
func NewExamSessionService(sink ResultSink, archive ResultReader, events EventPublisher, clock worker.Clock, tickInterval time.Duration, log zerolog.Logger) *ExamSessionService {
	return &ExamSessionService{
		sink:         sink,
		archive:      archive,
		events:       events,
		clock:        clock,
		tickInterval: tickInterval,
		log:          logger.Component(log, "exam_session_service"),
		banks:        make(map[string]*model.QuestionBank),
		sessions:     make(map[uuid.UUID]*liveSession),
	}
}

// ─── Banks ─────────────────────────────────────────────────────────────────

// RegisterBank makes bank available for new sessions. Registering an id again
// replaces it for future sessions only; running sessions keep their bank.
func (s *ExamSessionService) RegisterBank(bank *model.QuestionBank) error {
	if bank == nil || bank.Len() == 0 {
		return fmt.Errorf("register bank: %w", model.ErrEmptyBank)
	}

	s.mu.Lock()
	_, replaced := s.banks[bank.ID]
	s.banks[bank.ID] = bank
	s.mu.Unlock()

	s.log.Info().
		Str("bank_id", bank.ID).
		Int("questions", bank.Len()).
		Bool("replaced", replaced).
		Msg("Question bank registered")
	return nil
}

// ListBanks returns every registered bank ordered by id.
func (s *ExamSessionService) ListBanks() []model.BankSummary {
	s.mu.RLock()
	out := make([]model.BankSummary, 0, len(s.banks))
	for _, b := range s.banks {
		out = append(out, b.Summary())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ─── Lifecycle ─────────────────────────────────────────────────────────────

// Create opens a NOT_STARTED session on bankID.
func (s *ExamSessionService) Create(ctx context.Context, bankID string) (model.Progress, error) {
	s.mu.RLock()
	bank, ok := s.banks[bankID]
	s.mu.RUnlock()
	if !ok {
		return model.Progress{}, fmt.Errorf("bank %q: %w", bankID, ErrBankNotFound)
	}

	id := uuid.New()
	sess, err := session.New(id, bank, session.WithSubmitHook(func(res *model.Result) {
		s.onSubmit(id, res)
	}))
	if err != nil {
		return model.Progress{}, fmt.Errorf("create session: %w", err)
	}

	live := &liveSession{sess: sess, log: logger.Session(s.log, id)}

	s.mu.Lock()
	s.sessions[id] = live
	s.mu.Unlock()

	live.log.Info().Str("bank_id", bankID).Msg("Session created")
	return sess.Progress(), nil
}

// Start begins the attempt and arms its countdown.
func (s *ExamSessionService) Start(ctx context.Context, id uuid.UUID) (model.Progress, error) {
	live, err := s.get(id)
	if err != nil {
		return model.Progress{}, err
	}

	now := s.clock.Now()
	if err := live.sess.Start(now); err != nil {
		return model.Progress{}, err
	}

	cd := worker.NewCountdown(live.sess, s.clock, s.tickInterval, live.log,
		worker.OnTick(func(remaining int) {
			s.publish(id, model.EventTick, model.SessionStatusInProgress, remaining, nil)
		}),
		worker.OnExpire(func(res *model.Result) {
			live.log.Info().Int("percentage", res.Percentage).Msg("Session time expired")
			s.publish(id, model.EventExpired, model.SessionStatusSubmitted, 0, res)
		}),
	)

	s.mu.Lock()
	_, still := s.sessions[id]
	if still {
		live.countdown = cd
	}
	s.mu.Unlock()

	// Discarded while starting: leave it without a clock rather than let an
	// orphan countdown grade it.
	if still {
		go cd.Run(context.Background())
	}

	live.log.Info().
		Int("duration_seconds", live.sess.Bank().DurationSeconds).
		Msg("Session started")
	s.publish(id, model.EventStarted, model.SessionStatusInProgress, live.sess.RemainingSeconds(), nil)

	return live.sess.Progress(), nil
}

// Submit ends the attempt on the taker's request. Repeated calls return the
// same Result.
func (s *ExamSessionService) Submit(ctx context.Context, id uuid.UUID) (*model.Result, error) {
	live, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return live.sess.Submit(s.clock.Now(), model.SubmitReasonUserRequested)
}

// Tick advances a session's clock by elapsedSeconds of simulated time.
func (s *ExamSessionService) Tick(ctx context.Context, id uuid.UUID, elapsedSeconds int) (model.Progress, *model.Result, error) {
	live, err := s.get(id)
	if err != nil {
		return model.Progress{}, nil, err
	}
	res, err := live.sess.Tick(elapsedSeconds, s.clock.Now())
	if err != nil {
		return model.Progress{}, nil, err
	}
	if res != nil {
		s.publish(id, model.EventExpired, model.SessionStatusSubmitted, 0, res)
	}
	return live.sess.Progress(), res, nil
}

// Discard drops a session without grading it.
func (s *ExamSessionService) Discard(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	live, ok := s.sessions[id]
	var cd *worker.Countdown
	if ok {
		cd = live.countdown
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}

	live.sess.Abandon()
	if cd != nil {
		cd.Stop()
	}

	live.log.Info().Str("status", string(live.sess.Status())).Msg("Session discarded")
	s.publish(id, model.EventDiscarded, live.sess.Status(), live.sess.RemainingSeconds(), nil)
	return nil
}

// ─── Ledger and navigation ─────────────────────────────────────────────────

// RecordAnswer stores an answer and returns the updated progress.
func (s *ExamSessionService) RecordAnswer(ctx context.Context, id uuid.UUID, questionID, optionIndex int) (model.Progress, error) {
	live, err := s.get(id)
	if err != nil {
		return model.Progress{}, err
	}
	if err := live.sess.RecordAnswer(questionID, optionIndex); err != nil {
		return model.Progress{}, err
	}
	return live.sess.Progress(), nil
}

// ClearAnswer marks a question unanswered again.
func (s *ExamSessionService) ClearAnswer(ctx context.Context, id uuid.UUID, questionID int) (model.Progress, error) {
	live, err := s.get(id)
	if err != nil {
		return model.Progress{}, err
	}
	if err := live.sess.ClearAnswer(questionID); err != nil {
		return model.Progress{}, err
	}
	return live.sess.Progress(), nil
}

// ToggleFlag flips a question's review flag.
func (s *ExamSessionService) ToggleFlag(ctx context.Context, id uuid.UUID, questionID int) (bool, error) {
	live, err := s.get(id)
	if err != nil {
		return false, err
	}
	return live.sess.ToggleFlag(questionID)
}

// MoveTo jumps to the question at index and returns it.
func (s *ExamSessionService) MoveTo(ctx context.Context, id uuid.UUID, index int) (model.QuestionForTaker, error) {
	return s.navigate(id, func(sess *session.Session) error { return sess.MoveTo(index) })
}

// Next moves forward one question and returns it.
func (s *ExamSessionService) Next(ctx context.Context, id uuid.UUID) (model.QuestionForTaker, error) {
	return s.navigate(id, (*session.Session).Next)
}

// Previous moves back one question and returns it.
func (s *ExamSessionService) Previous(ctx context.Context, id uuid.UUID) (model.QuestionForTaker, error) {
	return s.navigate(id, (*session.Session).Previous)
}

func (s *ExamSessionService) navigate(id uuid.UUID, move func(*session.Session) error) (model.QuestionForTaker, error) {
	live, err := s.get(id)
	if err != nil {
		return model.QuestionForTaker{}, err
	}
	if err := move(live.sess); err != nil {
		return model.QuestionForTaker{}, err
	}
	return live.sess.CurrentQuestion()
}

// ─── Queries ───────────────────────────────────────────────────────────────

// Progress returns the progress view of a session.
func (s *ExamSessionService) Progress(ctx context.Context, id uuid.UUID) (model.Progress, error) {
	live, err := s.get(id)
	if err != nil {
		return model.Progress{}, err
	}
	return live.sess.Progress(), nil
}

// CurrentQuestion returns the question under the cursor.
func (s *ExamSessionService) CurrentQuestion(ctx context.Context, id uuid.UUID) (model.QuestionForTaker, error) {
	live, err := s.get(id)
	if err != nil {
		return model.QuestionForTaker{}, err
	}
	return live.sess.CurrentQuestion()
}

// Result returns a submitted session's Result. Evicted sessions are served
// from the sink's cache while it still holds them, then from the archive.
func (s *ExamSessionService) Result(ctx context.Context, id uuid.UUID) (*model.Result, error) {
	live, err := s.get(id)
	if err == nil {
		res, ok := live.sess.Result()
		if !ok {
			return nil, fmt.Errorf("session %s in status %s: %w", id, live.sess.Status(), ErrNotSubmitted)
		}
		return res, nil
	}

	res, cacheErr := s.sink.Cached(ctx, id)
	if cacheErr != nil {
		return nil, fmt.Errorf("lookup cached result: %w", cacheErr)
	}
	if res != nil {
		return res, nil
	}
	if s.archive == nil {
		return nil, err
	}

	res, archiveErr := s.archive.GetBySessionID(ctx, id)
	if archiveErr != nil {
		return nil, fmt.Errorf("lookup persisted result: %w", archiveErr)
	}
	if res == nil {
		return nil, err
	}
	return res, nil
}

// Stats counts registered banks and sessions by status.
func (s *ExamSessionService) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Banks: len(s.banks)}
	for _, live := range s.sessions {
		switch live.sess.Status() {
		case model.SessionStatusNotStarted:
			st.NotStarted++
		case model.SessionStatusInProgress:
			st.InProgress++
		case model.SessionStatusSubmitted:
			st.Submitted++
		}
	}
	return st
}

// ─── Housekeeping ──────────────────────────────────────────────────────────

// EvictSubmitted forgets sessions submitted before cutoff and reports how many
// were removed.
func (s *ExamSessionService) EvictSubmitted(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, live := range s.sessions {
		res, ok := live.sess.Result()
		if ok && res.SubmittedAt.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted
}

// RunRetention evicts submitted sessions older than retention every interval
// until ctx is done. Call in a goroutine.
func (s *ExamSessionService) RunRetention(ctx context.Context, interval, retention time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if n := s.EvictSubmitted(s.clock.Now().Add(-retention)); n > 0 {
				s.log.Info().Int("evicted", n).Msg("Submitted sessions evicted")
			}
		}
	}
}

// Shutdown stops every countdown without grading and drops all sessions.
func (s *ExamSessionService) Shutdown() {
	s.mu.Lock()
	lives := make([]*liveSession, 0, len(s.sessions))
	countdowns := make([]*worker.Countdown, 0, len(s.sessions))
	for id, live := range s.sessions {
		live.sess.Abandon()
		lives = append(lives, live)
		if live.countdown != nil {
			countdowns = append(countdowns, live.countdown)
		}
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, cd := range countdowns {
		cd.Stop()
	}
	inProgress := 0
	for _, live := range lives {
		if live.sess.Status() == model.SessionStatusInProgress {
			inProgress++
		}
	}
	s.log.Info().Int("sessions", len(lives)).Int("abandoned_in_progress", inProgress).Msg("Session registry shut down")
}

// ─── Internals ─────────────────────────────────────────────────────────────

func (s *ExamSessionService) get(id uuid.UUID) (*liveSession, error) {
	s.mu.RLock()
	live, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return live, nil
}

// onSubmit runs once per session on whichever goroutine won the terminal
// transition. It may be the countdown itself, so it only cancels it.
func (s *ExamSessionService) onSubmit(id uuid.UUID, res *model.Result) {
	s.mu.RLock()
	live, ok := s.sessions[id]
	var cd *worker.Countdown
	if ok {
		cd = live.countdown
	}
	s.mu.RUnlock()

	if cd != nil {
		cd.Cancel()
	}

	log := logger.Session(s.log, id)
	log.Info().
		Str("reason", string(res.Reason)).
		Int("score", res.Score).
		Int("percentage", res.Percentage).
		Int("time_taken_seconds", res.TimeTakenSeconds).
		Msg("Session submitted")

	ctx, cancel := context.WithTimeout(context.Background(), handoffTimeout)
	defer cancel()

	if err := s.sink.Enqueue(ctx, res); err != nil {
		log.Error().Err(err).Msg("Result hand-off failed")
	}
	s.publishCtx(ctx, id, model.EventSubmitted, model.SessionStatusSubmitted, res.DurationSeconds-res.TimeTakenSeconds, res)
}

func (s *ExamSessionService) publish(id uuid.UUID, typ model.EventType, status model.SessionStatus, remaining int, res *model.Result) {
	ctx, cancel := context.WithTimeout(context.Background(), handoffTimeout)
	defer cancel()
	s.publishCtx(ctx, id, typ, status, remaining, res)
}

func (s *ExamSessionService) publishCtx(ctx context.Context, id uuid.UUID, typ model.EventType, status model.SessionStatus, remaining int, res *model.Result) {
	ev := model.SessionEvent{
		Type:             typ,
		SessionID:        id,
		Status:           status,
		RemainingSeconds: remaining,
		Clock:            model.FormatClock(remaining),
		Result:           res,
		At:               s.clock.Now(),
	}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("session_id", id.String()).Str("event", string(typ)).Msg("Event publish failed")
	}
}
