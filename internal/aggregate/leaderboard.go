// Package aggregate folds the visible result history into per-learner
// statistics and rankings. Rows are recomputed on every request and never
// persisted; the fold is deterministic because the sort order is total.
package aggregate

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"agile-quiz-service/internal/domain"
)

// ResultSource is the pipeline's read contract plus the opportunistic
// reconcile trigger run before each aggregation.
type ResultSource interface {
	Reconcile(ctx context.Context) (flushed, remaining int, err error)
	List(ctx context.Context, learnerID string) ([]domain.QuizResult, domain.Provenance, error)
}

// Roster resolves learner ids to display names; an external collaborator.
type Roster interface {
	DisplayName(learnerID string) (string, bool)
}

// Engine computes leaderboards and per-learner stats.
type Engine struct {
	source ResultSource
	roster Roster
	logger *slog.Logger
}

func New(source ResultSource, roster Roster, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{source: source, roster: roster, logger: logger}
}

// Leaderboard returns the top rows ordered by average percentage. Ties break
// on more attempts, then earliest first attempt, then learner id, so repeated
// invocations over the same results are identical. topN <= 0 returns all rows.
// An empty degraded set yields an empty board, never fabricated rows.
func (e *Engine) Leaderboard(ctx context.Context, topN int) ([]domain.LeaderboardRow, domain.Provenance, error) {
	rows, provenance, err := e.fold(ctx)
	if err != nil {
		return nil, provenance, err
	}
	if topN > 0 && len(rows) > topN {
		rows = rows[:topN]
	}
	return rows, provenance, nil
}

// LearnerStats returns one learner's row out of the full ranking. A learner
// with no visible results gets a zero row with Rank 0.
func (e *Engine) LearnerStats(ctx context.Context, learnerID string) (domain.LeaderboardRow, domain.Provenance, error) {
	rows, provenance, err := e.fold(ctx)
	if err != nil {
		return domain.LeaderboardRow{}, provenance, err
	}
	for _, row := range rows {
		if row.LearnerID == learnerID {
			return row, provenance, nil
		}
	}
	return domain.LeaderboardRow{
		LearnerID:   learnerID,
		DisplayName: e.displayName(learnerID),
	}, provenance, nil
}

type group struct {
	learnerID    string
	count        int
	sumPct       int
	bestPct      int
	sumElapsed   int
	firstAttempt time.Time
}

func (e *Engine) fold(ctx context.Context) ([]domain.LeaderboardRow, domain.Provenance, error) {
	// Opportunistic retry of buffered writes; an outage here is not fatal.
	if _, _, err := e.source.Reconcile(ctx); err != nil {
		e.logger.Warn("reconcile before aggregation failed", "error", err)
	}

	results, provenance, err := e.source.List(ctx, "")
	if err != nil {
		return nil, provenance, err
	}

	groups := make(map[string]*group)
	order := make([]string, 0)
	for _, r := range results {
		g, ok := groups[r.LearnerID]
		if !ok {
			g = &group{learnerID: r.LearnerID, firstAttempt: r.SubmittedAt}
			groups[r.LearnerID] = g
			order = append(order, r.LearnerID)
		}
		g.count++
		g.sumPct += r.Percentage
		g.sumElapsed += r.ElapsedSeconds
		if r.Percentage > g.bestPct {
			g.bestPct = r.Percentage
		}
		if r.SubmittedAt.Before(g.firstAttempt) {
			g.firstAttempt = r.SubmittedAt
		}
	}

	rows := make([]domain.LeaderboardRow, 0, len(groups))
	for _, id := range order {
		g := groups[id]
		rows = append(rows, domain.LeaderboardRow{
			LearnerID:             g.learnerID,
			DisplayName:           e.displayName(g.learnerID),
			Attempts:              g.count,
			AveragePercentage:     round1(float64(g.sumPct) / float64(g.count)),
			BestPercentage:        g.bestPct,
			AverageElapsedSeconds: round1(float64(g.sumElapsed) / float64(g.count)),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.AveragePercentage != b.AveragePercentage {
			return a.AveragePercentage > b.AveragePercentage
		}
		if a.Attempts != b.Attempts {
			return a.Attempts > b.Attempts
		}
		fa, fb := groups[a.LearnerID].firstAttempt, groups[b.LearnerID].firstAttempt
		if !fa.Equal(fb) {
			return fa.Before(fb)
		}
		return a.LearnerID < b.LearnerID
	})
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, provenance, nil
}

func (e *Engine) displayName(learnerID string) string {
	if e.roster != nil {
		if name, ok := e.roster.DisplayName(learnerID); ok {
			return name
		}
	}
	return learnerID
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
