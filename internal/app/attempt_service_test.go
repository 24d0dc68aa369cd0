package app_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"exam-attempt-service/internal/app"
	"exam-attempt-service/internal/domain"
	"exam-attempt-service/internal/infra/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/sync/errgroup"
)

// stepClock advances one second per reading so submissions never share an instant.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func testExams() []domain.Exam {
	fiveByTwo := make([]domain.Question, 5)
	for i := range fiveByTwo {
		fiveByTwo[i] = domain.Question{
			ID:            fmt.Sprintf("q%d", i+1),
			Text:          fmt.Sprintf("question %d", i+1),
			Options:       []string{"right", "wrong"},
			CorrectAnswer: "right",
			Marks:         2,
			Difficulty:    domain.DifficultyEasy,
		}
	}
	return []domain.Exam{
		{ID: "exam-1", Title: "Ranking", Duration: 30 * time.Minute, Active: true, Questions: fiveByTwo},
		{
			ID: "exam-2", Title: "Halves", Duration: 10 * time.Minute, Active: true,
			Questions: []domain.Question{
				{ID: "a", Text: "a", Options: []string{"x", "y"}, CorrectAnswer: "x", Marks: 5, Difficulty: domain.DifficultyEasy},
				{ID: "b", Text: "b", Options: []string{"x", "y"}, CorrectAnswer: "y", Marks: 5, Difficulty: domain.DifficultyHard},
			},
		},
		{ID: "closed", Title: "Closed", Duration: time.Minute, Active: false},
		{ID: "empty", Title: "No questions", Duration: time.Minute, Active: true},
	}
}

type fixture struct {
	service *app.AttemptService
	store   *memory.AttemptStore
	metrics *app.Metrics
	clock   *stepClock
}

func newFixture(t *testing.T, repo func(*memory.AttemptStore) app.AttemptRepository, opts ...app.Option) *fixture {
	t.Helper()
	store := memory.NewAttemptStore()
	var attempts app.AttemptRepository = store
	if repo != nil {
		attempts = repo(store)
	}
	clock := newStepClock()
	metrics := app.NewMetrics(prometheus.NewRegistry())
	catalog := memory.NewCatalog(memory.NewExamStore(testExams()...), time.Minute)
	opts = append([]app.Option{
		app.WithClock(clock.Now),
		app.WithMetrics(metrics),
		app.WithLearnerDirectory(memory.NewLearnerDirectory(map[string]string{"L1": "Ada"})),
	}, opts...)
	return &fixture{
		service: app.NewAttemptService(attempts, catalog, opts...),
		store:   store,
		metrics: metrics,
		clock:   clock,
	}
}

// answersFor marks the first n of exam-1's questions correct.
func answersFor(n int) domain.Answers {
	answers := domain.Answers{}
	for i := 1; i <= 5; i++ {
		if i <= n {
			answers[fmt.Sprintf("q%d", i)] = "right"
		} else {
			answers[fmt.Sprintf("q%d", i)] = "wrong"
		}
	}
	return answers
}

func startAndSubmit(t *testing.T, f *fixture, examID, learnerID string, answers domain.Answers) domain.Submission {
	t.Helper()
	ctx := context.Background()
	if _, err := f.service.StartAttempt(ctx, examID, learnerID); err != nil {
		t.Fatalf("start %s: %v", learnerID, err)
	}
	sub, err := f.service.SubmitAttempt(ctx, examID, learnerID, answers)
	if err != nil {
		t.Fatalf("submit %s: %v", learnerID, err)
	}
	return sub
}

func TestStartAttemptIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	first, err := f.service.StartAttempt(ctx, "exam-1", "L1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if first.State() != domain.AttemptActive || first.TotalMarks != 10 {
		t.Fatalf("unexpected attempt %+v", first)
	}
	if got := first.Deadline.Sub(first.StartedAt); got != 30*time.Minute {
		t.Fatalf("expected 30m deadline window, got %v", got)
	}

	second, err := f.service.StartAttempt(ctx, "exam-1", "L1")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second.ID != first.ID || !second.StartedAt.Equal(first.StartedAt) {
		t.Fatalf("expected the same attempt and timer, got %+v vs %+v", second, first)
	}
	if got := testutil.ToFloat64(f.metrics.AttemptsStarted); got != 1 {
		t.Fatalf("expected one attempt counted, got %v", got)
	}
}

func TestConcurrentStartCreatesOneAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	ids := make([]string, 20)
	var g errgroup.Group
	for i := range ids {
		i := i
		g.Go(func() error {
			a, err := f.service.StartAttempt(ctx, "exam-1", "L1")
			ids[i] = a.ID
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("start: %v", err)
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("expected a single attempt id, got %v", ids)
		}
	}
}

func TestStartAttemptErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	if _, err := f.service.StartAttempt(ctx, "missing", "L1"); !errors.Is(err, domain.ErrExamNotFound) {
		t.Fatalf("expected exam not found, got %v", err)
	}
	if _, err := f.service.StartAttempt(ctx, "closed", "L1"); !errors.Is(err, domain.ErrInactiveExam) {
		t.Fatalf("expected inactive exam, got %v", err)
	}
	if _, err := f.service.GetAttempt(ctx, "closed", "L1"); !errors.Is(err, domain.ErrAttemptNotFound) {
		t.Fatalf("expected no attempt recorded, got %v", err)
	}
}

func TestSubmitScoresAttempt(t *testing.T) {
	f := newFixture(t, nil)

	sub := startAndSubmit(t, f, "exam-2", "L1", domain.Answers{"a": "x", "b": "x"})
	if sub.Attempt.Score != 5 || sub.Attempt.TotalMarks != 10 || sub.Attempt.Percentage != 50 {
		t.Fatalf("expected 5/10 = 50%%, got %+v", sub.Attempt)
	}
	if sub.Rank != 1 || sub.Attempt.Rank != 1 || sub.Stale {
		t.Fatalf("expected rank 1, got %+v", sub)
	}
	if r := sub.Detail["b"]; r.IsCorrect || r.CorrectAnswer != "y" || r.Answer == nil || *r.Answer != "x" {
		t.Fatalf("unexpected detail for b: %+v", r)
	}
	if sub.Attempt.SubmittedAt == nil || sub.Attempt.SubmittedAt.Before(sub.Attempt.StartedAt) {
		t.Fatalf("submit time must not precede start")
	}

	got, err := f.service.GetAttempt(context.Background(), "exam-2", "L1")
	if err != nil {
		t.Fatalf("get attempt: %v", err)
	}
	if got.ID != sub.Attempt.ID || !got.Submitted() {
		t.Fatalf("expected submitted attempt back, got %+v", got)
	}
}

func TestSubmitTwiceFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	startAndSubmit(t, f, "exam-1", "L1", answersFor(5))

	if _, err := f.service.SubmitAttempt(ctx, "exam-1", "L1", answersFor(5)); !errors.Is(err, domain.ErrNoActiveAttempt) {
		t.Fatalf("expected no active attempt, got %v", err)
	}
	if _, err := f.service.SubmitAttempt(ctx, "exam-1", "never-started", answersFor(1)); !errors.Is(err, domain.ErrNoActiveAttempt) {
		t.Fatalf("expected no active attempt, got %v", err)
	}
}

func TestSubmitRejectsInvalidPayload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.service.StartAttempt(ctx, "exam-1", "L1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.service.SubmitAttempt(ctx, "exam-1", "L1", domain.Answers{"": "right"}); !errors.Is(err, domain.ErrInvalidAnswerPayload) {
		t.Fatalf("expected invalid payload, got %v", err)
	}
	if _, err := f.service.GetAttempt(ctx, "exam-1", "L1"); err != nil {
		t.Fatalf("attempt should still be active: %v", err)
	}
}

func TestSubmitExamWithoutQuestions(t *testing.T) {
	f := newFixture(t, nil)
	sub := startAndSubmit(t, f, "empty", "L1", domain.Answers{"q1": "anything"})
	if sub.Attempt.Score != 0 || sub.Attempt.TotalMarks != 0 || sub.Attempt.Percentage != 0 {
		t.Fatalf("expected 0/0 = 0%%, got %+v", sub.Attempt)
	}
}

func TestRankingAndAnalytics(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	startAndSubmit(t, f, "exam-1", "L1", answersFor(4))
	startAndSubmit(t, f, "exam-1", "L2", answersFor(4))
	last := startAndSubmit(t, f, "exam-1", "L3", answersFor(3))
	if last.Rank != 3 {
		t.Fatalf("expected L3 ranked 3, got %d", last.Rank)
	}

	summary, err := f.service.GetAnalytics(ctx, "exam-1")
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if summary.AttemptCount != 3 || summary.AveragePercentage != 73.33 ||
		summary.HighestPercentage != 80 || summary.LowestPercentage != 60 || summary.TopScorerID != "L1" {
		t.Fatalf("unexpected summary %+v", summary)
	}

	lb, err := f.service.GetLeaderboard(ctx, "exam-1", "L2", 2)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if lb.TotalAttempts != 3 || len(lb.Entries) != 2 {
		t.Fatalf("expected 2 of 3 entries, got %d of %d", len(lb.Entries), lb.TotalAttempts)
	}
	if lb.Entries[0].LearnerID != "L1" || lb.Entries[0].DisplayName != "Ada" || lb.Entries[0].Position != 1 {
		t.Fatalf("unexpected leader %+v", lb.Entries[0])
	}
	if lb.Entries[1].DisplayName != "L2" {
		t.Fatalf("expected learner id as fallback display name, got %q", lb.Entries[1].DisplayName)
	}
	if lb.RequesterPosition == nil || lb.RequesterPosition.Position != 2 {
		t.Fatalf("expected requester at 2, got %+v", lb.RequesterPosition)
	}

	lb, err = f.service.GetLeaderboard(ctx, "exam-1", "nobody", 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 3 || lb.RequesterPosition != nil {
		t.Fatalf("expected all entries and no requester row, got %+v", lb)
	}
}

func TestResubmissionRanksBestAttempt(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	startAndSubmit(t, f, "exam-1", "L1", answersFor(2))
	startAndSubmit(t, f, "exam-1", "L2", answersFor(3))
	retry := startAndSubmit(t, f, "exam-1", "L1", answersFor(5))
	if retry.Rank != 1 {
		t.Fatalf("expected retry ranked first, got %d", retry.Rank)
	}

	lb, err := f.service.GetLeaderboard(ctx, "exam-1", "L1", 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if lb.TotalAttempts != 3 {
		t.Fatalf("expected every submitted attempt ranked, got %d", lb.TotalAttempts)
	}
	if lb.RequesterPosition == nil || lb.RequesterPosition.AttemptID != retry.Attempt.ID {
		t.Fatalf("expected requester row to be the best attempt, got %+v", lb.RequesterPosition)
	}
}

func TestAnalyticsBeforeSubmissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	if _, err := f.service.GetAnalytics(ctx, "exam-1"); !errors.Is(err, domain.ErrAnalyticsNotFound) {
		t.Fatalf("expected analytics not found, got %v", err)
	}
	if _, err := f.service.GetAnalytics(ctx, "missing"); !errors.Is(err, domain.ErrExamNotFound) {
		t.Fatalf("expected exam not found, got %v", err)
	}
	lb, err := f.service.GetLeaderboard(ctx, "exam-1", "L1", 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(lb.Entries) != 0 || lb.TotalAttempts != 0 {
		t.Fatalf("expected empty leaderboard, got %+v", lb)
	}
}

func TestConcurrentSubmissions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	const learners = 50
	for i := 0; i < learners; i++ {
		if _, err := f.service.StartAttempt(ctx, "exam-1", fmt.Sprintf("L%02d", i)); err != nil {
			t.Fatalf("start: %v", err)
		}
	}

	var g errgroup.Group
	for i := 0; i < learners; i++ {
		i := i
		g.Go(func() error {
			_, err := f.service.SubmitAttempt(ctx, "exam-1", fmt.Sprintf("L%02d", i), answersFor(i%6))
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("submit: %v", err)
	}

	summary, err := f.service.GetAnalytics(ctx, "exam-1")
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if summary.AttemptCount != learners {
		t.Fatalf("expected %d attempts, got %d", learners, summary.AttemptCount)
	}

	lb, err := f.service.GetLeaderboard(ctx, "exam-1", "", 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	positions := make([]int, 0, len(lb.Entries))
	for i, e := range lb.Entries {
		positions = append(positions, e.Position)
		if i > 0 && e.Percentage > lb.Entries[i-1].Percentage {
			t.Fatalf("leaderboard out of order at %d", i)
		}
	}
	sort.Ints(positions)
	for i, p := range positions {
		if p != i+1 {
			t.Fatalf("ranks are not a permutation of 1..%d: %v", learners, positions)
		}
	}
}

// conflictingRepo fails every critical section while conflicts is set.
type conflictingRepo struct {
	*memory.AttemptStore
	conflicts atomic.Bool
	calls     atomic.Int32
}

func (r *conflictingRepo) InExam(ctx context.Context, examID string, fn func(tx app.ExamTx) error) error {
	r.calls.Add(1)
	if r.conflicts.Load() {
		return fmt.Errorf("advisory lock: %w", domain.ErrConcurrencyConflict)
	}
	return r.AttemptStore.InExam(ctx, examID, fn)
}

func TestSubmitFallsBackToStaleAndRepairs(t *testing.T) {
	ctx := context.Background()
	var repo *conflictingRepo
	f := newFixture(t, func(s *memory.AttemptStore) app.AttemptRepository {
		repo = &conflictingRepo{AttemptStore: s}
		return repo
	}, app.WithMaxRetries(2), app.WithRetryBackoff(0))

	startAndSubmit(t, f, "exam-1", "L1", answersFor(2))

	repo.conflicts.Store(true)
	before := repo.calls.Load()
	sub := startAndSubmit(t, f, "exam-1", "L2", answersFor(5))
	if got := repo.calls.Load() - before; got != 3 {
		t.Fatalf("expected 1 try plus 2 retries, got %d", got)
	}
	if !sub.Stale || sub.Rank != 0 || sub.Attempt.Score != 10 {
		t.Fatalf("expected stale unranked submission with score kept, got %+v", sub)
	}
	if got := testutil.ToFloat64(f.metrics.StaleSubmissions); got != 1 {
		t.Fatalf("expected one stale submission counted, got %v", got)
	}

	// The attempt is submitted even though ranking was skipped.
	if _, err := f.service.SubmitAttempt(ctx, "exam-1", "L2", answersFor(5)); !errors.Is(err, domain.ErrNoActiveAttempt) {
		t.Fatalf("expected no active attempt after stale submit, got %v", err)
	}

	// While conflicts persist the repair fails loudly instead of serving stale data.
	if _, err := f.service.GetAnalytics(ctx, "exam-1"); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected conflict while repair cannot run, got %v", err)
	}

	repo.conflicts.Store(false)
	summary, err := f.service.GetAnalytics(ctx, "exam-1")
	if err != nil {
		t.Fatalf("analytics: %v", err)
	}
	if summary.Stale || summary.AttemptCount != 2 || summary.TopScorerID != "L2" {
		t.Fatalf("expected repaired summary led by L2, got %+v", summary)
	}

	lb, err := f.service.GetLeaderboard(ctx, "exam-1", "L2", 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if lb.RequesterPosition == nil || lb.RequesterPosition.Position != 1 {
		t.Fatalf("expected L2 ranked first after repair, got %+v", lb.RequesterPosition)
	}
}

func TestRecomputeExam(t *testing.T) {
	ctx := context.Background()
	hub := app.NewHub()
	f := newFixture(t, nil, app.WithNotifier(hub))
	updates, cancel := hub.Subscribe("exam-1")
	defer cancel()

	startAndSubmit(t, f, "exam-1", "L1", answersFor(3))
	<-updates

	if err := f.service.RecomputeExam(ctx, "exam-1"); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	select {
	case u := <-updates:
		if u.ExamID != "exam-1" {
			t.Fatalf("unexpected update %+v", u)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected an update after recompute")
	}
	if err := f.service.RecomputeExam(ctx, "missing"); !errors.Is(err, domain.ErrExamNotFound) {
		t.Fatalf("expected exam not found, got %v", err)
	}
}

func TestLeaderboardRequesterMatchesEntries(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	startAndSubmit(t, f, "exam-1", "L1", answersFor(1))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 20; i++ {
		learner := fmt.Sprintf("fast-%02d", i)
		g.Go(func() error {
			if _, err := f.service.StartAttempt(gctx, "exam-1", learner); err != nil {
				return err
			}
			_, err := f.service.SubmitAttempt(gctx, "exam-1", learner, answersFor(5))
			return err
		})
	}
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			for j := 0; j < 25; j++ {
				lb, err := f.service.GetLeaderboard(gctx, "exam-1", "L1", 0)
				if err != nil {
					return err
				}
				if lb.RequesterPosition == nil {
					return fmt.Errorf("missing requester position")
				}
				for _, e := range lb.Entries {
					if e.LearnerID == "L1" && e.Position != lb.RequesterPosition.Position {
						return fmt.Errorf("entry at %d but requester position %d", e.Position, lb.RequesterPosition.Position)
					}
				}
				if len(lb.Entries) != lb.TotalAttempts {
					return fmt.Errorf("page of %d for total %d", len(lb.Entries), lb.TotalAttempts)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("leaderboard read: %v", err)
	}

	lb, err := f.service.GetLeaderboard(ctx, "exam-1", "L1", 0)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if lb.RequesterPosition.Position != 21 || lb.TotalAttempts != 21 {
		t.Fatalf("expected L1 last of 21, got %d of %d", lb.RequesterPosition.Position, lb.TotalAttempts)
	}
}
