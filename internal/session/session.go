// Package session drives a single learner through a question set under one
// of the three modes. All mutation is event-driven (answer, navigate, tick,
// finish) and serialized by the session mutex; the countdown tick is the only
// autonomously firing event and is stopped on every terminal transition.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"agile-quiz-service/internal/clock"
	"agile-quiz-service/internal/domain"
	"agile-quiz-service/internal/scoring"
)

const (
	// DefaultExamBudget is the exam wall-clock budget in seconds (60 min).
	DefaultExamBudget = 3600
	// DefaultAdvanceDelay is how long learning mode shows feedback before
	// moving to the next question.
	DefaultAdvanceDelay = 1500 * time.Millisecond
)

// Submitter hands the terminal result to the persistence pipeline.
type Submitter interface {
	Submit(ctx context.Context, result domain.QuizResult) error
}

// SubmitterFunc adapts a function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, result domain.QuizResult) error

func (f SubmitterFunc) Submit(ctx context.Context, result domain.QuizResult) error {
	return f(ctx, result)
}

// Config carries everything a session needs up front.
type Config struct {
	SessionID    string
	LearnerID    string
	Mode         domain.Mode
	Set          domain.QuestionSet
	ExamBudget   int           // seconds; DefaultExamBudget if zero
	AdvanceDelay time.Duration // learning auto-advance; DefaultAdvanceDelay if zero
	Clock        clock.Clock   // clock.Wall{} if nil
	Sink         Submitter
}

// Session owns one learner's in-progress attempt.
type Session struct {
	mu sync.Mutex

	id        string
	learnerID string
	mode      domain.Mode
	set       domain.QuestionSet

	answers []*domain.AnswerRecord
	current int
	elapsed int
	correct int
	state   domain.SessionState

	examBudget   int
	advanceDelay time.Duration
	clk          clock.Clock
	sink         Submitter

	result  *domain.QuizResult
	sinkErr error

	stopTick      func()
	cancelAdvance func()
}

// New builds a session in the Configuring state.
func New(cfg Config) (*Session, error) {
	if !cfg.Mode.Valid() {
		return nil, domain.ErrInvalidMode
	}
	if len(cfg.Set.Questions) == 0 {
		return nil, domain.ErrQuestionSetEmpty
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.ExamBudget <= 0 {
		cfg.ExamBudget = DefaultExamBudget
	}
	if cfg.AdvanceDelay <= 0 {
		cfg.AdvanceDelay = DefaultAdvanceDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Wall{}
	}
	return &Session{
		id:           cfg.SessionID,
		learnerID:    cfg.LearnerID,
		mode:         cfg.Mode,
		set:          cfg.Set,
		answers:      make([]*domain.AnswerRecord, len(cfg.Set.Questions)),
		state:        domain.SessionConfiguring,
		examBudget:   cfg.ExamBudget,
		advanceDelay: cfg.AdvanceDelay,
		clk:          cfg.Clock,
		sink:         cfg.Sink,
	}, nil
}

// Start moves Configuring → InProgress, resets the elapsed counter and, in
// exam mode, starts the one-second countdown.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.SessionConfiguring {
		return domain.ErrSessionNotInProgress
	}
	s.state = domain.SessionInProgress
	s.elapsed = 0
	if s.mode == domain.ModeExam {
		s.stopTick = s.clk.TickEvery(time.Second, s.tick)
	}
	return nil
}

// SelectAnswer records (or in test/exam mode overwrites) the answer for the
// current question. Learning mode locks each answer once given and schedules
// the auto-advance.
func (s *Session) SelectAnswer(option int) (domain.AnswerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.SessionInProgress {
		return domain.AnswerRecord{}, domain.ErrSessionNotInProgress
	}
	question := s.set.Questions[s.current]
	if option < 0 || option >= len(question.Options) {
		return domain.AnswerRecord{}, domain.ErrInvalidOption
	}
	if s.mode == domain.ModeLearning && s.answers[s.current] != nil {
		return domain.AnswerRecord{}, domain.ErrAnswerLocked
	}

	selected := option
	record := &domain.AnswerRecord{
		QuestionID:       question.ID,
		SelectedOption:   &selected,
		IsCorrect:        scoring.Correct(question, option),
		AnsweredAtOffset: s.elapsed,
	}
	s.answers[s.current] = record
	s.recountLocked()

	if s.mode == domain.ModeLearning {
		from := s.current
		s.cancelAdvance = s.clk.After(s.advanceDelay, func() { s.autoAdvance(from) })
	}
	return *record, nil
}

// Navigate jumps to the given question. Out-of-range targets are a no-op;
// skipping is permitted and settled as skipped at finish time.
func (s *Session) Navigate(to int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.SessionInProgress {
		return
	}
	if to < 0 || to >= len(s.set.Questions) {
		return
	}
	s.cancelAdvanceLocked()
	s.current = to
}

// Finish transitions to Completed, computes the QuizResult and hands it to
// the pipeline. It is idempotent: repeated calls return the same result and
// trigger exactly one submission. The returned error reports submission
// trouble only; the session is terminal either way.
func (s *Session) Finish(ctx context.Context) (domain.QuizResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finishLocked(ctx, false)
}

func (s *Session) finishLocked(ctx context.Context, expired bool) (domain.QuizResult, error) {
	switch s.state {
	case domain.SessionCompleted, domain.SessionExpired:
		return *s.result, nil
	case domain.SessionConfiguring:
		return domain.QuizResult{}, domain.ErrSessionNotInProgress
	}

	s.stopTimersLocked()
	if expired {
		s.state = domain.SessionExpired
	} else {
		s.state = domain.SessionCompleted
	}

	result := s.buildResultLocked(expired)
	s.result = &result
	if s.sink != nil {
		s.sinkErr = s.sink.Submit(ctx, result)
	}
	return result, s.sinkErr
}

// buildResultLocked settles unanswered questions as skipped and computes the
// score invariants.
func (s *Session) buildResultLocked(expired bool) domain.QuizResult {
	answers := make([]domain.AnswerRecord, len(s.set.Questions))
	correct := 0
	categories := map[string]int{}
	for i, question := range s.set.Questions {
		if s.answers[i] == nil {
			answers[i] = domain.AnswerRecord{QuestionID: question.ID}
			continue
		}
		answers[i] = *s.answers[i]
		if answers[i].IsCorrect {
			correct++
			if question.Category != "" {
				categories[question.Category]++
			}
		}
	}
	if len(categories) == 0 {
		categories = nil
	}
	total := len(s.set.Questions)
	return domain.QuizResult{
		ResultID:       uuid.NewString(),
		LearnerID:      s.learnerID,
		Mode:           s.mode,
		CorrectCount:   correct,
		TotalQuestions: total,
		Percentage:     scoring.Percentage(correct, total),
		ElapsedSeconds: s.elapsed,
		Expired:        expired,
		Answers:        answers,
		CategoryScores: categories,
		SubmittedAt:    s.clk.Now(),
	}
}

// tick fires once per second while an exam is in progress.
func (s *Session) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.SessionInProgress {
		return
	}
	s.elapsed++
	if s.elapsed >= s.examBudget {
		_, _ = s.finishLocked(context.Background(), true)
	}
}

// autoAdvance moves learning mode to the next question after the feedback
// delay, unless the learner already navigated away or the session ended.
func (s *Session) autoAdvance(from int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != domain.SessionInProgress || s.current != from {
		return
	}
	if s.current < len(s.set.Questions)-1 {
		s.current++
	}
}

func (s *Session) recountLocked() {
	correct := 0
	for _, a := range s.answers {
		if a != nil && a.IsCorrect {
			correct++
		}
	}
	s.correct = correct
}

func (s *Session) cancelAdvanceLocked() {
	if s.cancelAdvance != nil {
		s.cancelAdvance()
		s.cancelAdvance = nil
	}
}

func (s *Session) stopTimersLocked() {
	if s.stopTick != nil {
		s.stopTick()
		s.stopTick = nil
	}
	s.cancelAdvanceLocked()
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// LearnerID returns the owning learner.
func (s *Session) LearnerID() string { return s.learnerID }

// Mode returns the session mode.
func (s *Session) Mode() domain.Mode { return s.mode }

// State returns the current lifecycle state.
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CurrentIndex returns the question position the learner is on.
func (s *Session) CurrentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Question returns the question at the current position.
func (s *Session) Question() domain.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set.Questions[s.current]
}

// Progress is the live statistic shown while answering; it is not
// authoritative until Finish.
type Progress struct {
	Answered       int `json:"answered"`
	Correct        int `json:"correct"`
	Total          int `json:"total"`
	CurrentIndex   int `json:"currentIndex"`
	ElapsedSeconds int `json:"elapsedSeconds"`
}

// Progress reports answered/correct counts and the elapsed time so far.
func (s *Session) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	answered := 0
	for _, a := range s.answers {
		if a != nil {
			answered++
		}
	}
	return Progress{
		Answered:       answered,
		Correct:        s.correct,
		Total:          len(s.set.Questions),
		CurrentIndex:   s.current,
		ElapsedSeconds: s.elapsed,
	}
}
