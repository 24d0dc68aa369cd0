package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"exam-attempt-service/internal/domain"
)

type countingLoader struct {
	calls atomic.Int32
	exam  domain.Exam
}

func (l *countingLoader) LoadExam(_ context.Context, examID string) (domain.Exam, error) {
	l.calls.Add(1)
	time.Sleep(10 * time.Millisecond)
	if examID != l.exam.ID {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	return l.exam, nil
}

func TestCatalogCachesAndDedupes(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{exam: domain.Exam{ID: "exam-1", Title: "Cached"}}
	catalog := NewCatalog(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := catalog.GetExam(ctx, "exam-1"); err != nil {
				t.Errorf("get exam: %v", err)
			}
		}()
	}
	wg.Wait()
	if _, err := catalog.GetExam(ctx, "exam-1"); err != nil {
		t.Fatalf("get exam: %v", err)
	}
	if got := loader.calls.Load(); got != 1 {
		t.Fatalf("expected one load, got %d", got)
	}

	if err := catalog.Invalidate(ctx, "exam-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := catalog.GetExam(ctx, "exam-1"); err != nil {
		t.Fatalf("get exam: %v", err)
	}
	if got := loader.calls.Load(); got != 2 {
		t.Fatalf("expected reload after invalidate, got %d loads", got)
	}
}

func TestCatalogExpiresAndSkipsMisses(t *testing.T) {
	ctx := context.Background()
	loader := &countingLoader{exam: domain.Exam{ID: "exam-1"}}
	catalog := NewCatalog(loader, time.Minute)
	now := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	catalog.clock = func() time.Time { return now }

	if _, err := catalog.GetExam(ctx, "exam-1"); err != nil {
		t.Fatalf("get exam: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := catalog.GetExam(ctx, "exam-1"); err != nil {
		t.Fatalf("get exam: %v", err)
	}
	if got := loader.calls.Load(); got != 2 {
		t.Fatalf("expected reload after expiry, got %d loads", got)
	}

	for i := 0; i < 2; i++ {
		if _, err := catalog.GetExam(ctx, "missing"); !errors.Is(err, domain.ErrExamNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	}
	if got := loader.calls.Load(); got != 4 {
		t.Fatalf("expected misses to hit the loader each time, got %d loads", got)
	}
}

// pausingLoader reads the exam, then holds the first load until released.
type pausingLoader struct {
	*ExamStore
	loaded  chan struct{}
	release chan struct{}
	once    sync.Once
}

func (l *pausingLoader) LoadExam(ctx context.Context, examID string) (domain.Exam, error) {
	exam, err := l.ExamStore.LoadExam(ctx, examID)
	first := false
	l.once.Do(func() { first = true })
	if first {
		close(l.loaded)
		<-l.release
	}
	return exam, err
}

func TestCatalogInvalidateDuringFill(t *testing.T) {
	ctx := context.Background()
	store := NewExamStore(domain.Exam{
		ID: "exam-1", Title: "Edited", Duration: time.Minute, Active: true,
		Questions: []domain.Question{
			{ID: "q1", Options: []string{"A", "B"}, CorrectAnswer: "A", Marks: 5},
		},
	})
	loader := &pausingLoader{ExamStore: store, loaded: make(chan struct{}), release: make(chan struct{})}
	catalog := NewCatalog(loader, 10*time.Minute)

	done := make(chan error, 1)
	go func() {
		_, err := catalog.GetExam(ctx, "exam-1")
		done <- err
	}()
	<-loader.loaded

	if _, err := store.SaveQuestion(ctx, domain.Question{
		ID: "q1", ExamID: "exam-1", Options: []string{"A", "B"}, CorrectAnswer: "B", Marks: 7,
	}); err != nil {
		t.Fatalf("save question: %v", err)
	}
	if err := catalog.Invalidate(ctx, "exam-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	close(loader.release)
	if err := <-done; err != nil {
		t.Fatalf("get exam: %v", err)
	}

	exam, err := catalog.GetExam(ctx, "exam-1")
	if err != nil {
		t.Fatalf("get exam: %v", err)
	}
	q := exam.Questions[0]
	if q.CorrectAnswer != "B" || q.Marks != 7 || exam.TotalMarks != 7 {
		t.Fatalf("stale exam cached after invalidate: correct=%q marks=%d total=%d", q.CorrectAnswer, q.Marks, exam.TotalMarks)
	}
}
