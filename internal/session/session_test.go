package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"agile-quiz-service/internal/clock"
	"agile-quiz-service/internal/domain"
)

type captureSink struct {
	results []domain.QuizResult
}

func (c *captureSink) Submit(_ context.Context, r domain.QuizResult) error {
	c.results = append(c.results, r)
	return nil
}

func questionSet(n int) domain.QuestionSet {
	set := domain.QuestionSet{ID: "set-1", Title: "Agile basics"}
	for i := 0; i < n; i++ {
		set.Questions = append(set.Questions, domain.Question{
			ID:            fmt.Sprintf("q%d", i+1),
			Prompt:        fmt.Sprintf("Question %d", i+1),
			Options:       []string{"a", "b", "c", "d"},
			CorrectOption: 1,
			Category:      "scrum",
		})
	}
	return set
}

func startSession(t *testing.T, mode domain.Mode, n int, sink Submitter, clk clock.Clock) *Session {
	t.Helper()
	s, err := New(Config{
		LearnerID: "learner-1",
		Mode:      mode,
		Set:       questionSet(n),
		Clock:     clk,
		Sink:      sink,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	return s
}

func TestSkipSemantics(t *testing.T) {
	sink := &captureSink{}
	s := startSession(t, domain.ModeTest, 10, sink, clock.NewManual(time.Unix(1700000000, 0)))

	// Answer 7 questions: 5 correct, 2 wrong; skip the last 3.
	for i := 0; i < 7; i++ {
		s.Navigate(i)
		option := 1
		if i >= 5 {
			option = 0
		}
		if _, err := s.SelectAnswer(option); err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
	}

	result, err := s.Finish(context.Background())
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if result.CorrectCount != 5 {
		t.Fatalf("expected 5 correct, got %d", result.CorrectCount)
	}
	if result.TotalQuestions != 10 || result.Percentage != 50 {
		t.Fatalf("expected 10 questions at 50%%, got %d at %d%%", result.TotalQuestions, result.Percentage)
	}
	skipped := 0
	for _, a := range result.Answers {
		if a.Skipped() {
			skipped++
		}
	}
	if skipped != 3 {
		t.Fatalf("expected 3 skipped records, got %d", skipped)
	}
	if result.CategoryScores["scrum"] != 5 {
		t.Fatalf("expected category tally 5, got %v", result.CategoryScores)
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	sink := &captureSink{}
	s := startSession(t, domain.ModeTest, 3, sink, clock.NewManual(time.Unix(1700000000, 0)))
	if _, err := s.SelectAnswer(1); err != nil {
		t.Fatalf("answer: %v", err)
	}

	first, err := s.Finish(context.Background())
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	second, err := s.Finish(context.Background())
	if err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if first.ResultID != second.ResultID || first.Percentage != second.Percentage {
		t.Fatalf("expected identical results, got %+v vs %+v", first, second)
	}
	if len(sink.results) != 1 {
		t.Fatalf("expected exactly one submission, got %d", len(sink.results))
	}
	if s.State() != domain.SessionCompleted {
		t.Fatalf("expected completed state, got %s", s.State())
	}
}

func TestExamExpiresOnBudget(t *testing.T) {
	sink := &captureSink{}
	clk := clock.NewManual(time.Unix(1700000000, 0))
	s, err := New(Config{
		LearnerID:  "learner-1",
		Mode:       domain.ModeExam,
		Set:        questionSet(5),
		ExamBudget: 10,
		Clock:      clk,
		Sink:       sink,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// No learner interaction at all; the final tick must still settle it.
	clk.Advance(10 * time.Second)

	if s.State() != domain.SessionExpired {
		t.Fatalf("expected expired state, got %s", s.State())
	}
	if len(sink.results) != 1 {
		t.Fatalf("expected a submitted result, got %d", len(sink.results))
	}
	result := sink.results[0]
	if !result.Expired || result.ElapsedSeconds != 10 {
		t.Fatalf("expected expired result at 10s, got %+v", result)
	}
	if result.TotalQuestions != 5 || result.CorrectCount != 0 {
		t.Fatalf("expected 0/5, got %d/%d", result.CorrectCount, result.TotalQuestions)
	}

	// Further ticks after the terminal transition must not mutate anything.
	clk.Advance(5 * time.Second)
	if got, _ := s.Finish(context.Background()); got.ElapsedSeconds != 10 {
		t.Fatalf("expired session mutated after deadline: %+v", got)
	}
}

func TestLearningModeAutoAdvancesAndLocks(t *testing.T) {
	clk := clock.NewManual(time.Unix(1700000000, 0))
	s := startSession(t, domain.ModeLearning, 3, &captureSink{}, clk)

	if _, err := s.SelectAnswer(1); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := s.SelectAnswer(0); err != domain.ErrAnswerLocked {
		t.Fatalf("expected locked answer, got %v", err)
	}
	if s.CurrentIndex() != 0 {
		t.Fatalf("must not advance before the feedback delay")
	}

	clk.Advance(2 * time.Second)
	if s.CurrentIndex() != 1 {
		t.Fatalf("expected auto-advance to question 1, got %d", s.CurrentIndex())
	}
}

func TestNavigateCancelsPendingAdvance(t *testing.T) {
	clk := clock.NewManual(time.Unix(1700000000, 0))
	s := startSession(t, domain.ModeLearning, 3, &captureSink{}, clk)

	if _, err := s.SelectAnswer(1); err != nil {
		t.Fatalf("answer: %v", err)
	}
	s.Navigate(2)
	clk.Advance(2 * time.Second)
	if s.CurrentIndex() != 2 {
		t.Fatalf("manual navigation must win over auto-advance, got %d", s.CurrentIndex())
	}
}

func TestTestModeAllowsChangingAnswer(t *testing.T) {
	s := startSession(t, domain.ModeTest, 2, &captureSink{}, clock.NewManual(time.Unix(1700000000, 0)))

	if _, err := s.SelectAnswer(0); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	record, err := s.SelectAnswer(1)
	if err != nil {
		t.Fatalf("re-answer: %v", err)
	}
	if !record.IsCorrect {
		t.Fatalf("expected overwrite with the correct option")
	}
	if got := s.Progress().Correct; got != 1 {
		t.Fatalf("running correct count should be 1, got %d", got)
	}
}

func TestNavigateOutOfRangeIsNoop(t *testing.T) {
	s := startSession(t, domain.ModeTest, 2, &captureSink{}, clock.NewManual(time.Unix(1700000000, 0)))
	s.Navigate(-1)
	s.Navigate(2)
	if s.CurrentIndex() != 0 {
		t.Fatalf("out-of-range navigation must not move, got %d", s.CurrentIndex())
	}
}

func TestRejectsInvalidConfiguration(t *testing.T) {
	if _, err := New(Config{Mode: "sprint", Set: questionSet(1)}); err != domain.ErrInvalidMode {
		t.Fatalf("expected invalid mode, got %v", err)
	}
	if _, err := New(Config{Mode: domain.ModeTest}); err != domain.ErrQuestionSetEmpty {
		t.Fatalf("expected empty set error, got %v", err)
	}
}
