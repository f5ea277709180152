package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"agile-quiz-service/internal/domain"
)

// SetLoader fetches question set content from a backing store (e.g., Postgres).
type SetLoader interface {
	LoadQuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error)
}

// QuestionCache caches whole question sets in Redis as JSON values and falls
// back to a loader on cache miss. Concurrent misses for the same set collapse
// into a single loader call.
type QuestionCache struct {
	client *redis.Client
	loader SetLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuestionCache(client *redis.Client, loader SetLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) QuestionSet(ctx context.Context, setID string) (domain.QuestionSet, error) {
	key := c.key(setID)

	if set, ok := c.fromCache(ctx, key); ok {
		return set, nil
	}

	result, err, _ := c.sf.Do(setID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if set, ok := c.fromCache(ctx, key); ok {
			return set, nil
		}

		set, err := c.loader.LoadQuestionSet(ctx, setID)
		if err != nil {
			return domain.QuestionSet{}, err
		}

		payload, err := json.Marshal(set)
		if err != nil {
			return domain.QuestionSet{}, fmt.Errorf("marshal question set: %w", err)
		}
		// best effort; a failed write just means the next call misses again
		_ = c.client.Set(ctx, key, payload, c.ttlWithJitter()).Err()

		return set, nil
	})
	if err != nil {
		return domain.QuestionSet{}, err
	}
	return result.(domain.QuestionSet), nil
}

func (c *QuestionCache) fromCache(ctx context.Context, key string) (domain.QuestionSet, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.QuestionSet{}, false
	}
	var set domain.QuestionSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return domain.QuestionSet{}, false
	}
	return set, true
}

func (c *QuestionCache) key(setID string) string {
	return "question_set:" + setID
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
