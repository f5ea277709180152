// Package persist makes submitted results eventually durable. A submit tries
// the remote store first and falls back to the local write buffer; reconcile
// drains the buffer against the remote store using each result's stable id as
// an idempotency key, so retries never duplicate.
package persist

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"agile-quiz-service/internal/domain"
)

// DefaultTimeout bounds every remote store call so callers never hang on the
// network.
const DefaultTimeout = 5 * time.Second

// RemoteStore is the client for the durable remote result store. SaveResult
// must be idempotent on QuizResult.ResultID.
type RemoteStore interface {
	SaveResult(ctx context.Context, result domain.QuizResult) error
	// ListResults returns results for one learner, or all when learnerID is empty.
	ListResults(ctx context.Context, learnerID string) ([]domain.QuizResult, error)
}

// Buffer is the durable, insertion-ordered queue of unconfirmed results.
type Buffer interface {
	// Append enqueues a record. When the cap is hit the oldest record is
	// evicted and returned so the loss can be surfaced.
	Append(record domain.BufferedRecord) (evicted *domain.QuizResult, err error)
	// List returns buffered records oldest first.
	List() ([]domain.BufferedRecord, error)
	Remove(resultID string) error
	MarkAttempt(resultID string, attempts int, at time.Time) error
}

// Status tells the caller where a submitted result currently lives.
type Status string

const (
	// StatusStored means the remote store confirmed the write.
	StatusStored Status = "stored"
	// StatusBuffered means the result is queued locally and will sync later.
	StatusBuffered Status = "buffered"
)

// Receipt is the non-blocking outcome of Submit. EvictedResultID is set only
// when buffering pushed out the oldest unconfirmed record; that is the single
// observable data-loss condition.
type Receipt struct {
	Status          Status `json:"status"`
	EvictedResultID string `json:"evictedResultId,omitempty"`
}

// Pipeline orchestrates the remote store and the local write buffer.
type Pipeline struct {
	remote  RemoteStore
	buffer  Buffer
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	// serializes reconcile runs so overlapping triggers cannot double-write
	reconcileMu sync.Mutex
}

// Option configures a Pipeline.
type Option func(*Pipeline)

func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) { p.timeout = d }
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

func New(remote RemoteStore, buffer Buffer, logger *slog.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		remote:  remote,
		buffer:  buffer,
		timeout: DefaultTimeout,
		logger:  logger,
		now:     time.Now,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit attempts a direct remote write and buffers the result on failure.
// The returned error is reserved for local buffer failures; a mere remote
// outage yields StatusBuffered and no error.
func (p *Pipeline) Submit(ctx context.Context, result domain.QuizResult) (Receipt, error) {
	if err := p.saveRemote(ctx, result); err == nil {
		return Receipt{Status: StatusStored}, nil
	} else {
		p.logger.Warn("remote store unavailable, buffering result",
			"result_id", result.ResultID,
			"learner_id", result.LearnerID,
			"error", err)
	}

	evicted, err := p.buffer.Append(domain.BufferedRecord{
		Result:        result,
		Attempts:      1,
		LastAttemptAt: p.now(),
	})
	if err != nil {
		return Receipt{}, err
	}
	receipt := Receipt{Status: StatusBuffered}
	if evicted != nil {
		receipt.EvictedResultID = evicted.ResultID
		p.logger.Warn("local buffer overflow, oldest unconfirmed result evicted",
			"evicted_result_id", evicted.ResultID,
			"evicted_learner_id", evicted.LearnerID)
	}
	return receipt, nil
}

// Reconcile retries every buffered record oldest-first. Confirmed records
// leave the buffer; failures stay queued with an incremented attempt count.
func (p *Pipeline) Reconcile(ctx context.Context) (flushed, remaining int, err error) {
	p.reconcileMu.Lock()
	defer p.reconcileMu.Unlock()

	records, err := p.buffer.List()
	if err != nil {
		return 0, 0, err
	}
	for _, record := range records {
		if err := p.saveRemote(ctx, record.Result); err != nil {
			remaining++
			if markErr := p.buffer.MarkAttempt(record.Result.ResultID, record.Attempts+1, p.now()); markErr != nil {
				p.logger.Warn("failed to record retry attempt", "result_id", record.Result.ResultID, "error", markErr)
			}
			continue
		}
		if err := p.buffer.Remove(record.Result.ResultID); err != nil {
			return flushed, remaining, err
		}
		flushed++
	}
	if flushed > 0 || remaining > 0 {
		p.logger.Info("reconcile finished", "flushed", flushed, "remaining", remaining)
	}
	return flushed, remaining, nil
}

// List returns the union of remote and buffered results, de-duplicated by
// result id with the remote copy authoritative. Provenance is degraded when
// the remote store could not be read.
func (p *Pipeline) List(ctx context.Context, learnerID string) ([]domain.QuizResult, domain.Provenance, error) {
	provenance := domain.ProvenanceLive

	listCtx, cancel := context.WithTimeout(ctx, p.timeout)
	remote, err := p.remote.ListResults(listCtx, learnerID)
	cancel()
	if err != nil {
		p.logger.Warn("remote store read failed, serving buffered results only", "error", err)
		provenance = domain.ProvenanceDegraded
		remote = nil
	}

	buffered, err := p.buffer.List()
	if err != nil {
		if provenance == domain.ProvenanceDegraded {
			return nil, provenance, err
		}
		p.logger.Warn("local buffer read failed, serving remote results only", "error", err)
		buffered = nil
	}

	seen := make(map[string]struct{}, len(remote))
	merged := make([]domain.QuizResult, 0, len(remote)+len(buffered))
	for _, r := range remote {
		seen[r.ResultID] = struct{}{}
		merged = append(merged, r)
	}
	for _, b := range buffered {
		if learnerID != "" && b.Result.LearnerID != learnerID {
			continue
		}
		if _, ok := seen[b.Result.ResultID]; ok {
			continue
		}
		merged = append(merged, b.Result)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].SubmittedAt.Equal(merged[j].SubmittedAt) {
			return merged[i].SubmittedAt.Before(merged[j].SubmittedAt)
		}
		return merged[i].ResultID < merged[j].ResultID
	})
	return merged, provenance, nil
}

func (p *Pipeline) saveRemote(ctx context.Context, result domain.QuizResult) error {
	saveCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.remote.SaveResult(saveCtx, result)
}
