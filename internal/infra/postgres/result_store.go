package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"agile-quiz-service/internal/domain"
)

// ResultStore persists quiz results as JSONB rows keyed by the
// client-generated result id. Inserting the same id twice is a no-op, which
// makes retries after a lost ack safe.
type ResultStore struct {
	pool *pgxpool.Pool
}

func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

func (s *ResultStore) SaveResult(ctx context.Context, result domain.QuizResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO quiz_results (id, learner_id, submitted_at, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`,
		result.ResultID, result.LearnerID, result.SubmittedAt, payload,
	)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

// ListResults returns stored results, oldest first. An empty learnerID lists
// every learner's results.
func (s *ResultStore) ListResults(ctx context.Context, learnerID string) ([]domain.QuizResult, error) {
	query := `SELECT data FROM quiz_results ORDER BY submitted_at ASC, id ASC`
	args := []any{}
	if learnerID != "" {
		query = `SELECT data FROM quiz_results WHERE learner_id=$1 ORDER BY submitted_at ASC, id ASC`
		args = append(args, learnerID)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var out []domain.QuizResult
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		var result domain.QuizResult
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		out = append(out, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return out, nil
}
