package memory

import (
	"context"
	"sort"
	"sync"

	"exam-attempt-service/internal/app"
	"exam-attempt-service/internal/domain"
)

// AttemptStore is an in-memory implementation of app.AttemptRepository.
// Each exam has its own critical-section mutex, so submissions to different
// exams never wait on each other.
type AttemptStore struct {
	mu    sync.Mutex
	exams map[string]*examAttempts
}

type examAttempts struct {
	critical sync.Mutex // held for the whole of InExam

	mu        sync.RWMutex
	attempts  []domain.Attempt
	analytics *domain.AnalyticsSummary
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{exams: make(map[string]*examAttempts)}
}

func (s *AttemptStore) exam(examID string) *examAttempts {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exams[examID]
	if !ok {
		e = &examAttempts{}
		s.exams[examID] = e
	}
	return e
}

func (s *AttemptStore) GetOrCreateActive(_ context.Context, candidate domain.Attempt) (domain.Attempt, error) {
	e := s.exam(candidate.ExamID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if active, ok := findActive(e.attempts, candidate.LearnerID); ok {
		return active, nil
	}
	e.attempts = append(e.attempts, candidate)
	return candidate, nil
}

func (s *AttemptStore) ActiveAttempt(_ context.Context, examID, learnerID string) (domain.Attempt, error) {
	e := s.exam(examID)
	e.mu.RLock()
	defer e.mu.RUnlock()
	if active, ok := findActive(e.attempts, learnerID); ok {
		return active, nil
	}
	return domain.Attempt{}, domain.ErrNoActiveAttempt
}

func (s *AttemptStore) LatestAttempt(_ context.Context, examID, learnerID string) (domain.Attempt, error) {
	e := s.exam(examID)
	e.mu.RLock()
	defer e.mu.RUnlock()
	if active, ok := findActive(e.attempts, learnerID); ok {
		return active, nil
	}
	var latest *domain.Attempt
	for i := range e.attempts {
		a := &e.attempts[i]
		if a.LearnerID != learnerID || !a.Submitted() {
			continue
		}
		if latest == nil || a.SubmittedAt.After(*latest.SubmittedAt) {
			latest = a
		}
	}
	if latest == nil {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	return *latest, nil
}

func (s *AttemptStore) Standings(_ context.Context, examID, learnerID string, limit int) (app.Standings, error) {
	e := s.exam(examID)
	e.mu.RLock()
	submitted := make([]domain.Attempt, 0, len(e.attempts))
	var best *domain.Attempt
	for _, a := range e.attempts {
		if !a.Submitted() {
			continue
		}
		submitted = append(submitted, a)
		if learnerID != "" && a.LearnerID == learnerID && (best == nil || aheadOf(a, *best)) {
			b := a
			best = &b
		}
	}
	e.mu.RUnlock()

	sort.Slice(submitted, func(i, j int) bool {
		return app.RankLess(submitted[i], submitted[j])
	})
	total := len(submitted)
	if limit > 0 && limit < total {
		submitted = submitted[:limit]
	}
	return app.Standings{Page: submitted, Total: total, Best: best}, nil
}

func (s *AttemptStore) Analytics(_ context.Context, examID string) (domain.AnalyticsSummary, error) {
	e := s.exam(examID)
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.analytics == nil {
		return domain.AnalyticsSummary{}, domain.ErrAnalyticsNotFound
	}
	return *e.analytics, nil
}

func (s *AttemptStore) InExam(ctx context.Context, examID string, fn func(tx app.ExamTx) error) error {
	e := s.exam(examID)
	e.critical.Lock()
	defer e.critical.Unlock()

	tx := e.begin()
	if err := fn(tx); err != nil {
		return err
	}
	return e.commit(tx)
}

func (s *AttemptStore) SaveUnranked(_ context.Context, attempt domain.Attempt) error {
	e := s.exam(attempt.ExamID)
	e.mu.Lock()
	defer e.mu.Unlock()
	i := indexOf(e.attempts, attempt.ID)
	if i < 0 || e.attempts[i].Submitted() {
		return domain.ErrNoActiveAttempt
	}
	attempt.Rank = 0
	e.attempts[i] = attempt
	if e.analytics == nil {
		e.analytics = &domain.AnalyticsSummary{ExamID: attempt.ExamID}
	}
	e.analytics.Stale = true
	return nil
}

func (s *AttemptStore) DeleteExam(_ context.Context, examID string) error {
	s.mu.Lock()
	delete(s.exams, examID)
	s.mu.Unlock()
	return nil
}

// examTx works on a snapshot and records what to write back on commit.
type examTx struct {
	attempts  []domain.Attempt
	changed   map[string]struct{}
	submitted map[string]struct{}
	analytics *domain.AnalyticsSummary
}

func (e *examAttempts) begin() *examTx {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &examTx{
		attempts:  append([]domain.Attempt(nil), e.attempts...),
		changed:   make(map[string]struct{}),
		submitted: make(map[string]struct{}),
	}
}

func (e *examAttempts) commit(tx *examTx) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id := range tx.submitted {
		if i := indexOf(e.attempts, id); i < 0 || e.attempts[i].Submitted() {
			return domain.ErrNoActiveAttempt
		}
	}
	for id := range tx.changed {
		i := indexOf(e.attempts, id)
		if i < 0 {
			continue
		}
		e.attempts[i] = tx.attempts[indexOf(tx.attempts, id)]
	}
	if tx.analytics != nil {
		summary := *tx.analytics
		// An unranked save that landed mid-transaction keeps the exam stale.
		summary.Stale = countSubmitted(e.attempts) != summary.AttemptCount
		e.analytics = &summary
	}
	return nil
}

func (tx *examTx) ActiveAttempt(_ context.Context, learnerID string) (domain.Attempt, error) {
	if active, ok := findActive(tx.attempts, learnerID); ok {
		return active, nil
	}
	return domain.Attempt{}, domain.ErrNoActiveAttempt
}

func (tx *examTx) SubmittedAttempts(_ context.Context) ([]domain.Attempt, error) {
	out := make([]domain.Attempt, 0, len(tx.attempts))
	for _, a := range tx.attempts {
		if a.Submitted() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (tx *examTx) SaveSubmitted(_ context.Context, attempt domain.Attempt) error {
	i := indexOf(tx.attempts, attempt.ID)
	if i < 0 || tx.attempts[i].Submitted() {
		return domain.ErrNoActiveAttempt
	}
	tx.attempts[i] = attempt
	tx.changed[attempt.ID] = struct{}{}
	tx.submitted[attempt.ID] = struct{}{}
	return nil
}

func (tx *examTx) SaveRanks(_ context.Context, ranks map[string]int) error {
	for i := range tx.attempts {
		rank, ok := ranks[tx.attempts[i].ID]
		if !ok || tx.attempts[i].Rank == rank {
			continue
		}
		tx.attempts[i].Rank = rank
		tx.changed[tx.attempts[i].ID] = struct{}{}
	}
	return nil
}

func (tx *examTx) SaveAnalytics(_ context.Context, summary domain.AnalyticsSummary) error {
	summary.Stale = false
	tx.analytics = &summary
	return nil
}

func findActive(attempts []domain.Attempt, learnerID string) (domain.Attempt, bool) {
	for _, a := range attempts {
		if a.LearnerID == learnerID && !a.Submitted() {
			return a, true
		}
	}
	return domain.Attempt{}, false
}

func countSubmitted(attempts []domain.Attempt) int {
	n := 0
	for _, a := range attempts {
		if a.Submitted() {
			n++
		}
	}
	return n
}

func indexOf(attempts []domain.Attempt, id string) int {
	for i := range attempts {
		if attempts[i].ID == id {
			return i
		}
	}
	return -1
}

// aheadOf prefers the lower stored rank; unranked attempts fall back to the ranking key.
func aheadOf(a, b domain.Attempt) bool {
	switch {
	case a.Rank > 0 && b.Rank > 0:
		return a.Rank < b.Rank
	case a.Rank > 0:
		return true
	case b.Rank > 0:
		return false
	}
	return app.RankLess(a, b)
}
