// Package sqlite implements the local write buffer as a durable,
// insertion-ordered sqlite queue so unconfirmed results survive restarts.
package sqlite

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"agile-quiz-service/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS buffered_results (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	result_id TEXT NOT NULL UNIQUE,
	learner_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_attempt_at TEXT NOT NULL
);`

// Buffer is a capped write buffer; Append past the cap evicts the oldest
// record and returns it so the loss is observable.
type Buffer struct {
	db  *sqlx.DB
	cap int
}

// Open creates (or reopens) the buffer file. cap <= 0 defaults to 100.
func Open(path string, cap int) (*Buffer, error) {
	if cap <= 0 {
		cap = 100
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create buffer dir: %w", err)
		}
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open buffer db: %w", err)
	}
	// sqlite has a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init buffer schema: %w", err)
	}
	return &Buffer{db: db, cap: cap}, nil
}

func (b *Buffer) Close() error {
	return b.db.Close()
}

type bufferedRow struct {
	Seq           int64  `db:"seq"`
	ResultID      string `db:"result_id"`
	LearnerID     string `db:"learner_id"`
	Payload       string `db:"payload"`
	Attempts      int    `db:"attempts"`
	LastAttemptAt string `db:"last_attempt_at"`
}

func (b *Buffer) Append(record domain.BufferedRecord) (*domain.QuizResult, error) {
	payload, err := json.Marshal(record.Result)
	if err != nil {
		return nil, fmt.Errorf("marshal buffered result: %w", err)
	}

	tx, err := b.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO buffered_results (result_id, learner_id, payload, attempts, last_attempt_at)
		 VALUES (?, ?, ?, ?, ?)`,
		record.Result.ResultID, record.Result.LearnerID, string(payload),
		record.Attempts, record.LastAttemptAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return nil, fmt.Errorf("append buffered result: %w", err)
	}

	var evicted *domain.QuizResult
	var count int
	if err := tx.Get(&count, `SELECT COUNT(*) FROM buffered_results`); err != nil {
		return nil, fmt.Errorf("count buffered results: %w", err)
	}
	if count > b.cap {
		var oldest bufferedRow
		if err := tx.Get(&oldest, `SELECT * FROM buffered_results ORDER BY seq ASC LIMIT 1`); err != nil {
			return nil, fmt.Errorf("find oldest buffered result: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM buffered_results WHERE seq = ?`, oldest.Seq); err != nil {
			return nil, fmt.Errorf("evict oldest buffered result: %w", err)
		}
		var result domain.QuizResult
		if err := json.Unmarshal([]byte(oldest.Payload), &result); err != nil {
			return nil, fmt.Errorf("unmarshal evicted result: %w", err)
		}
		evicted = &result
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return evicted, nil
}

func (b *Buffer) List() ([]domain.BufferedRecord, error) {
	var rows []bufferedRow
	if err := b.db.Select(&rows, `SELECT * FROM buffered_results ORDER BY seq ASC`); err != nil {
		return nil, fmt.Errorf("list buffered results: %w", err)
	}
	out := make([]domain.BufferedRecord, 0, len(rows))
	for _, row := range rows {
		var result domain.QuizResult
		if err := json.Unmarshal([]byte(row.Payload), &result); err != nil {
			return nil, fmt.Errorf("unmarshal buffered result %s: %w", row.ResultID, err)
		}
		at, err := time.Parse(time.RFC3339Nano, row.LastAttemptAt)
		if err != nil {
			return nil, fmt.Errorf("parse attempt time for %s: %w", row.ResultID, err)
		}
		out = append(out, domain.BufferedRecord{
			Result:        result,
			Attempts:      row.Attempts,
			LastAttemptAt: at,
		})
	}
	return out, nil
}

func (b *Buffer) Remove(resultID string) error {
	res, err := b.db.Exec(`DELETE FROM buffered_results WHERE result_id = ?`, resultID)
	if err != nil {
		return fmt.Errorf("remove buffered result: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrResultNotBuffered
	}
	return nil
}

func (b *Buffer) MarkAttempt(resultID string, attempts int, at time.Time) error {
	res, err := b.db.Exec(
		`UPDATE buffered_results SET attempts = ?, last_attempt_at = ? WHERE result_id = ?`,
		attempts, at.UTC().Format(time.RFC3339Nano), resultID,
	)
	if err != nil {
		return fmt.Errorf("mark buffered attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrResultNotBuffered
	}
	return nil
}
