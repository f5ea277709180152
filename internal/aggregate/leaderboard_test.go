package aggregate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"agile-quiz-service/internal/domain"
	"agile-quiz-service/internal/infra/memory"
)

type staticSource struct {
	results    []domain.QuizResult
	provenance domain.Provenance
	err        error
	reconciles int
}

func (s *staticSource) Reconcile(context.Context) (int, int, error) {
	s.reconciles++
	return 0, 0, nil
}

func (s *staticSource) List(_ context.Context, learnerID string) ([]domain.QuizResult, domain.Provenance, error) {
	if s.err != nil {
		return nil, s.provenance, s.err
	}
	if learnerID == "" {
		return s.results, s.provenance, nil
	}
	var out []domain.QuizResult
	for _, r := range s.results {
		if r.LearnerID == learnerID {
			out = append(out, r)
		}
	}
	return out, s.provenance, nil
}

func result(id, learner string, pct, elapsed int, at time.Time) domain.QuizResult {
	return domain.QuizResult{
		ResultID:       id,
		LearnerID:      learner,
		Mode:           domain.ModeTest,
		Percentage:     pct,
		TotalQuestions: 10,
		CorrectCount:   pct / 10,
		ElapsedSeconds: elapsed,
		SubmittedAt:    at,
	}
}

func newTestEngine(source ResultSource) *Engine {
	roster := memory.NewRoster(map[string]string{
		"a": "Ana",
		"b": "Marko",
	})
	return New(source, roster, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAttemptsTieBreak(t *testing.T) {
	base := time.Unix(1700000000, 0)
	source := &staticSource{
		provenance: domain.ProvenanceLive,
		results: []domain.QuizResult{
			result("r1", "a", 80, 40, base),
			result("r2", "a", 90, 60, base.Add(time.Hour)),
			result("r3", "b", 85, 50, base.Add(2*time.Hour)),
		},
	}
	engine := newTestEngine(source)

	rows, provenance, err := engine.Leaderboard(context.Background(), 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if provenance != domain.ProvenanceLive {
		t.Fatalf("expected live provenance, got %s", provenance)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	// Both average 85.0; A's two attempts beat B's one.
	first, second := rows[0], rows[1]
	if first.LearnerID != "a" || first.Rank != 1 || first.Attempts != 2 {
		t.Fatalf("expected learner a first on attempts tie-break, got %+v", first)
	}
	if first.AveragePercentage != 85.0 || first.BestPercentage != 90 {
		t.Fatalf("unexpected stats for a: %+v", first)
	}
	if second.LearnerID != "b" || second.Rank != 2 || second.AveragePercentage != 85.0 {
		t.Fatalf("unexpected stats for b: %+v", second)
	}
	if first.DisplayName != "Ana" || second.DisplayName != "Marko" {
		t.Fatalf("roster names not applied: %+v %+v", first, second)
	}
	if source.reconciles != 1 {
		t.Fatalf("expected one reconcile before aggregation, got %d", source.reconciles)
	}
}

func TestLeaderboardIsDeterministic(t *testing.T) {
	base := time.Unix(1700000000, 0)
	source := &staticSource{
		provenance: domain.ProvenanceLive,
		results: []domain.QuizResult{
			result("r1", "c", 70, 30, base.Add(3*time.Hour)),
			result("r2", "a", 70, 45, base),
			result("r3", "b", 70, 50, base.Add(time.Hour)),
			result("r4", "d", 95, 20, base.Add(2*time.Hour)),
		},
	}
	engine := newTestEngine(source)

	first, _, err := engine.Leaderboard(context.Background(), 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, _, err := engine.Leaderboard(context.Background(), 0)
		if err != nil {
			t.Fatalf("leaderboard %d: %v", i, err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("ordering changed between runs:\n%+v\n%+v", first, again)
		}
	}
	// All-70 tie resolves by earliest first attempt: a, b, c.
	want := []string{"d", "a", "b", "c"}
	for i, id := range want {
		if first[i].LearnerID != id {
			t.Fatalf("position %d: want %s, got %s", i, id, first[i].LearnerID)
		}
	}
}

func TestAverageRoundsToOneDecimal(t *testing.T) {
	base := time.Unix(1700000000, 0)
	source := &staticSource{
		provenance: domain.ProvenanceLive,
		results: []domain.QuizResult{
			result("r1", "a", 70, 31, base),
			result("r2", "a", 80, 32, base.Add(time.Minute)),
			result("r3", "a", 85, 33, base.Add(2*time.Minute)),
		},
	}
	rows, _, err := newTestEngine(source).Leaderboard(context.Background(), 1)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if rows[0].AveragePercentage != 78.3 {
		t.Fatalf("expected 78.3 average, got %v", rows[0].AveragePercentage)
	}
	if rows[0].AverageElapsedSeconds != 32.0 {
		t.Fatalf("expected 32.0 avg elapsed, got %v", rows[0].AverageElapsedSeconds)
	}
}

func TestDegradedEmptySetStaysEmpty(t *testing.T) {
	source := &staticSource{provenance: domain.ProvenanceDegraded}
	rows, provenance, err := newTestEngine(source).Leaderboard(context.Background(), 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if provenance != domain.ProvenanceDegraded {
		t.Fatalf("expected degraded provenance, got %s", provenance)
	}
	if len(rows) != 0 {
		t.Fatalf("an empty degraded set must never grow placeholder rows, got %+v", rows)
	}
}

func TestSourceErrorPropagates(t *testing.T) {
	source := &staticSource{provenance: domain.ProvenanceDegraded, err: errors.New("buffer unreadable")}
	if _, _, err := newTestEngine(source).Leaderboard(context.Background(), 10); err == nil {
		t.Fatalf("expected error from source")
	}
}

func TestLearnerStats(t *testing.T) {
	base := time.Unix(1700000000, 0)
	source := &staticSource{
		provenance: domain.ProvenanceLive,
		results: []domain.QuizResult{
			result("r1", "a", 80, 40, base),
			result("r2", "b", 95, 30, base.Add(time.Minute)),
		},
	}
	engine := newTestEngine(source)

	stats, _, err := engine.LearnerStats(context.Background(), "a")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Rank != 2 || stats.Attempts != 1 || stats.BestPercentage != 80 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	empty, _, err := engine.LearnerStats(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if empty.Rank != 0 || empty.Attempts != 0 {
		t.Fatalf("unknown learner should get a zero row, got %+v", empty)
	}
}
