package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"exam-attempt-service/internal/app"
	"exam-attempt-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// Catalog caches exams with TTL to avoid repeated store hits.
type Catalog struct {
	loader app.ExamLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedExam
	// gens counts invalidations per exam; a fill that started under an older
	// generation is served to its caller but not cached.
	gens map[string]uint64
}

type cachedExam struct {
	exam      domain.Exam
	expiresAt time.Time
}

func NewCatalog(loader app.ExamLoader, ttl time.Duration) *Catalog {
	return &Catalog{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedExam),
		gens:   make(map[string]uint64),
	}
}

func (c *Catalog) GetExam(ctx context.Context, examID string) (domain.Exam, error) {
	if exam, ok := c.lookup(examID); ok {
		return exam, nil
	}

	result, err, _ := c.sf.Do(examID, func() (interface{}, error) {
		if exam, ok := c.lookup(examID); ok {
			return exam, nil
		}

		c.mu.RLock()
		gen := c.gens[examID]
		c.mu.RUnlock()

		exam, err := c.loader.LoadExam(ctx, examID)
		if err != nil {
			return domain.Exam{}, err
		}
		if c.ttl > 0 {
			c.mu.Lock()
			if c.gens[examID] == gen {
				c.cache[examID] = cachedExam{
					exam:      exam,
					expiresAt: c.clock().Add(c.ttlWithJitterLocked()),
				}
			}
			c.mu.Unlock()
		}
		return exam, nil
	})
	if err != nil {
		return domain.Exam{}, err
	}
	return result.(domain.Exam), nil
}

// Invalidate drops the cached copy so the next read reloads it.
func (c *Catalog) Invalidate(_ context.Context, examID string) error {
	c.mu.Lock()
	delete(c.cache, examID)
	c.gens[examID]++
	c.mu.Unlock()
	c.sf.Forget(examID)
	return nil
}

func (c *Catalog) lookup(examID string) (domain.Exam, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[examID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Exam{}, false
	}
	return entry.exam, true
}

func (c *Catalog) ttlWithJitterLocked() time.Duration {
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
