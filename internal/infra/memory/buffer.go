package memory

import (
	"sync"
	"time"

	"agile-quiz-service/internal/domain"
)

// Buffer is an in-memory, insertion-ordered write buffer capped at the most
// recent cap records. It mirrors the sqlite buffer's contract for tests and
// for running without a buffer file.
type Buffer struct {
	mu      sync.Mutex
	cap     int
	records []domain.BufferedRecord
}

func NewBuffer(cap int) *Buffer {
	if cap <= 0 {
		cap = 100
	}
	return &Buffer{cap: cap}
}

func (b *Buffer) Append(record domain.BufferedRecord) (*domain.QuizResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, record)
	if len(b.records) <= b.cap {
		return nil, nil
	}
	evicted := b.records[0].Result
	b.records = b.records[1:]
	return &evicted, nil
}

func (b *Buffer) List() ([]domain.BufferedRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.BufferedRecord, len(b.records))
	copy(out, b.records)
	return out, nil
}

func (b *Buffer) Remove(resultID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, r := range b.records {
		if r.Result.ResultID == resultID {
			b.records = append(b.records[:i], b.records[i+1:]...)
			return nil
		}
	}
	return domain.ErrResultNotBuffered
}

func (b *Buffer) MarkAttempt(resultID string, attempts int, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.records {
		if b.records[i].Result.ResultID == resultID {
			b.records[i].Attempts = attempts
			b.records[i].LastAttemptAt = at
			return nil
		}
	}
	return domain.ErrResultNotBuffered
}

// Len reports the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}
