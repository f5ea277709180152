package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"agile-quiz-service/internal/domain"
)

type countingLoader struct {
	SetLoader
	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.SetLoader.LoadQuestionSet(ctx, setID)
}

func sampleSet() domain.QuestionSet {
	return domain.QuestionSet{
		ID: "set-1",
		Questions: []domain.Question{
			{ID: "q1", Prompt: "What is 2 + 2?", Options: []string{"3", "4"}, CorrectOption: 1},
		},
	}
}

func TestQuestionBankCachesWithinTTL(t *testing.T) {
	loader := &countingLoader{
		SetLoader: NewStaticLoader(map[string]domain.QuestionSet{"set-1": sampleSet()}),
	}
	bank := NewQuestionBank(loader, time.Minute)

	if _, err := bank.QuestionSet(context.Background(), "set-1"); err != nil {
		t.Fatalf("get: %v", err)
	}
	if _, err := bank.QuestionSet(context.Background(), "set-1"); err != nil {
		t.Fatalf("cached get: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected one loader call, got %d", loader.calls)
	}
}

func TestQuestionBankReloadsAfterExpiry(t *testing.T) {
	loader := &countingLoader{
		SetLoader: NewStaticLoader(map[string]domain.QuestionSet{"set-1": sampleSet()}),
	}
	bank := NewQuestionBank(loader, time.Minute)

	now := time.Unix(1700000000, 0)
	bank.clock = func() time.Time { return now }

	if _, err := bank.QuestionSet(context.Background(), "set-1"); err != nil {
		t.Fatalf("get: %v", err)
	}

	// jitter keeps expiry within 10% above the base TTL
	now = now.Add(2 * time.Minute)
	if _, err := bank.QuestionSet(context.Background(), "set-1"); err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after expiry, got %d calls", loader.calls)
	}
}

func TestQuestionBankCollapsesConcurrentMisses(t *testing.T) {
	loader := &countingLoader{
		SetLoader: NewStaticLoader(map[string]domain.QuestionSet{"set-1": sampleSet()}),
	}
	bank := NewQuestionBank(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := bank.QuestionSet(context.Background(), "set-1"); err != nil {
				t.Errorf("get: %v", err)
			}
		}()
	}
	wg.Wait()

	if loader.calls != 1 {
		t.Fatalf("expected singleflight to collapse misses, got %d calls", loader.calls)
	}
}

func TestQuestionBankPropagatesNotFound(t *testing.T) {
	bank := NewQuestionBank(NewStaticLoader(nil), time.Minute)
	if _, err := bank.QuestionSet(context.Background(), "ghost"); err != domain.ErrQuestionSetNotFound {
		t.Fatalf("expected not-found, got %v", err)
	}
}
