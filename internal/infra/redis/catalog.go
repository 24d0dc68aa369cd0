package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"exam-attempt-service/internal/app"
	"exam-attempt-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Catalog caches exam definitions in Redis and falls back to a loader on cache miss.
// Each exam is stored as JSON under exam:{examID}:definition with a jittered TTL.
// exam:{examID}:generation is bumped on every invalidation; fills only write when
// the generation they started under is still current.
type Catalog struct {
	client *redis.Client
	loader app.ExamLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewCatalog(client *redis.Client, loader app.ExamLoader, ttl time.Duration) *Catalog {
	return &Catalog{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *Catalog) GetExam(ctx context.Context, examID string) (domain.Exam, error) {
	if exam, ok := c.cached(ctx, examID); ok {
		return exam, nil
	}

	result, err, _ := c.sf.Do(examID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if exam, ok := c.cached(ctx, examID); ok {
			return exam, nil
		}

		gen, genErr := c.generation(ctx, c.client, examID)

		exam, err := c.loader.LoadExam(ctx, examID)
		if err != nil {
			return domain.Exam{}, err
		}

		if c.ttl <= 0 || genErr != nil {
			return exam, nil
		}
		data, err := json.Marshal(exam)
		if err != nil {
			return domain.Exam{}, fmt.Errorf("marshal exam: %w", err)
		}
		// Cache fill is best effort; the loaded exam is still served.
		_ = c.fill(ctx, examID, gen, data)
		return exam, nil
	})
	if err != nil {
		return domain.Exam{}, err
	}
	return result.(domain.Exam), nil
}

// Invalidate deletes the cached definition and bumps its generation so fills
// already in flight on any instance do not write the old exam back.
func (c *Catalog) Invalidate(ctx context.Context, examID string) error {
	c.sf.Forget(examID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.genKey(examID))
		pipe.Del(ctx, c.key(examID))
		return nil
	})
	return err
}

// fill writes the definition unless the exam was invalidated after gen was read.
func (c *Catalog) fill(ctx context.Context, examID string, gen int64, data []byte) error {
	return c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := c.generation(ctx, tx, examID)
		if err != nil {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, c.key(examID), data, c.ttlWithJitter())
			return nil
		})
		return err
	}, c.genKey(examID))
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (c *Catalog) generation(ctx context.Context, cmd getter, examID string) (int64, error) {
	gen, err := cmd.Get(ctx, c.genKey(examID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *Catalog) cached(ctx context.Context, examID string) (domain.Exam, bool) {
	data, err := c.client.Get(ctx, c.key(examID)).Bytes()
	if err != nil {
		// redis.Nil on a miss; other errors fall through to the loader too.
		return domain.Exam{}, false
	}
	var exam domain.Exam
	if err := json.Unmarshal(data, &exam); err != nil {
		return domain.Exam{}, false
	}
	return exam, true
}

func (c *Catalog) key(examID string) string {
	return "exam:" + examID + ":definition"
}

func (c *Catalog) genKey(examID string) string {
	return "exam:" + examID + ":generation"
}

func (c *Catalog) ttlWithJitter() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
