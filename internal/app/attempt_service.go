package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"exam-attempt-service/internal/domain"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const defaultMaxRetries = 3

// AttemptService contains the attempt lifecycle use cases: start, submit, ranking,
// analytics and leaderboard reads.
type AttemptService struct {
	attempts   AttemptRepository
	catalog    ExamCatalog
	learners   LearnerDirectory
	notifier   Notifier
	metrics    *Metrics
	log        *zap.Logger
	now        func() time.Time
	newID      func() string
	maxRetries int
	backoff    time.Duration
}

// Option configures an AttemptService.
type Option func(*AttemptService)

func WithLogger(log *zap.Logger) Option {
	return func(s *AttemptService) { s.log = log }
}

func WithMetrics(m *Metrics) Option {
	return func(s *AttemptService) { s.metrics = m }
}

func WithNotifier(n Notifier) Option {
	return func(s *AttemptService) { s.notifier = n }
}

func WithLearnerDirectory(d LearnerDirectory) Option {
	return func(s *AttemptService) { s.learners = d }
}

// WithClock is used by tests for deterministic timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *AttemptService) { s.now = now }
}

// WithMaxRetries bounds how often a conflicting recompute is re-run.
func WithMaxRetries(n int) Option {
	return func(s *AttemptService) {
		if n >= 0 {
			s.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the base pause between conflicting recomputes.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *AttemptService) { s.backoff = d }
}

func NewAttemptService(attempts AttemptRepository, catalog ExamCatalog, opts ...Option) *AttemptService {
	s := &AttemptService{
		attempts:   attempts,
		catalog:    catalog,
		log:        zap.NewNop(),
		now:        time.Now,
		newID:      uuid.NewString,
		maxRetries: defaultMaxRetries,
		backoff:    10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(prometheus.NewRegistry())
	}
	return s
}

// StartAttempt returns the learner's active attempt for the exam, creating one if needed.
// Calling it again before submitting returns the same attempt and does not reset its timer.
func (s *AttemptService) StartAttempt(ctx context.Context, examID, learnerID string) (domain.Attempt, error) {
	active, err := s.attempts.ActiveAttempt(ctx, examID, learnerID)
	if err == nil {
		return active, nil
	}
	if !errors.Is(err, domain.ErrNoActiveAttempt) {
		return domain.Attempt{}, fmt.Errorf("find active attempt: %w", err)
	}

	exam, err := s.catalog.GetExam(ctx, examID)
	if err != nil {
		return domain.Attempt{}, err
	}
	if !exam.Active {
		return domain.Attempt{}, domain.ErrInactiveExam
	}

	now := s.now()
	candidate := domain.Attempt{
		ID:         s.newID(),
		ExamID:     examID,
		LearnerID:  learnerID,
		StartedAt:  now,
		Deadline:   now.Add(exam.Duration),
		TotalMarks: exam.TotalMarks,
	}
	attempt, err := s.attempts.GetOrCreateActive(ctx, candidate)
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("start attempt: %w", err)
	}
	if attempt.ID == candidate.ID {
		s.metrics.AttemptsStarted.Inc()
		s.log.Info("attempt started",
			zap.String("examId", examID),
			zap.String("learnerId", learnerID),
			zap.String("attemptId", attempt.ID))
	}
	return attempt, nil
}

// GetAttempt returns the learner's active attempt, else their most recent submitted one.
func (s *AttemptService) GetAttempt(ctx context.Context, examID, learnerID string) (domain.Attempt, error) {
	return s.attempts.LatestAttempt(ctx, examID, learnerID)
}

// SubmitAttempt scores the learner's active attempt, moves it to submitted and re-ranks
// the exam in one critical section. If the recompute keeps losing races the score is
// still saved and the exam is flagged stale for the next read to repair.
func (s *AttemptService) SubmitAttempt(ctx context.Context, examID, learnerID string, answers domain.Answers) (domain.Submission, error) {
	started := time.Now()
	defer func() { s.metrics.SubmitDuration.Observe(time.Since(started).Seconds()) }()

	if err := ValidateAnswers(answers); err != nil {
		return domain.Submission{}, err
	}
	exam, err := s.catalog.GetExam(ctx, examID)
	if err != nil {
		return domain.Submission{}, err
	}

	var result domain.Submission
	err = s.inExamWithRetry(ctx, examID, func(tx ExamTx) error {
		active, err := tx.ActiveAttempt(ctx, learnerID)
		if err != nil {
			return err
		}
		graded := gradeAttempt(active, exam, answers, s.now())
		if err := tx.SaveSubmitted(ctx, graded); err != nil {
			return err
		}
		ranked, err := s.recomputeLocked(ctx, tx, examID)
		if err != nil {
			return err
		}
		graded.Rank = rankMap(ranked)[graded.ID]
		result = domain.Submission{Attempt: graded, Rank: graded.Rank, Detail: graded.Detail}
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConcurrencyConflict):
		s.log.Warn("recompute retries exhausted, saving unranked",
			zap.String("examId", examID),
			zap.String("learnerId", learnerID),
			zap.Error(err))
		result, err = s.submitUnranked(ctx, exam, learnerID, answers)
		if err != nil {
			return domain.Submission{}, err
		}
	default:
		return domain.Submission{}, err
	}

	s.metrics.AttemptsSubmitted.Inc()
	s.log.Info("attempt submitted",
		zap.String("examId", examID),
		zap.String("learnerId", learnerID),
		zap.String("attemptId", result.Attempt.ID),
		zap.Int("score", result.Attempt.Score),
		zap.Int("rank", result.Rank),
		zap.Bool("stale", result.Stale))
	s.publish(ctx, examID)
	return result, nil
}

func (s *AttemptService) submitUnranked(ctx context.Context, exam domain.Exam, learnerID string, answers domain.Answers) (domain.Submission, error) {
	active, err := s.attempts.ActiveAttempt(ctx, exam.ID, learnerID)
	if err != nil {
		return domain.Submission{}, err
	}
	graded := gradeAttempt(active, exam, answers, s.now())
	if err := s.attempts.SaveUnranked(ctx, graded); err != nil {
		return domain.Submission{}, fmt.Errorf("save unranked attempt: %w", err)
	}
	s.metrics.StaleSubmissions.Inc()
	return domain.Submission{Attempt: graded, Detail: graded.Detail, Stale: true}, nil
}

// RecomputeExam re-ranks every submitted attempt of the exam and rebuilds its analytics.
func (s *AttemptService) RecomputeExam(ctx context.Context, examID string) error {
	if _, err := s.catalog.GetExam(ctx, examID); err != nil {
		return err
	}
	if err := s.recompute(ctx, examID); err != nil {
		return err
	}
	s.publish(ctx, examID)
	return nil
}

func (s *AttemptService) recompute(ctx context.Context, examID string) error {
	return s.inExamWithRetry(ctx, examID, func(tx ExamTx) error {
		_, err := s.recomputeLocked(ctx, tx, examID)
		return err
	})
}

// recomputeLocked must run inside InExam.
func (s *AttemptService) recomputeLocked(ctx context.Context, tx ExamTx, examID string) ([]domain.Attempt, error) {
	submitted, err := tx.SubmittedAttempts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load submitted attempts: %w", err)
	}
	ranked := RankAttempts(submitted)
	if err := tx.SaveRanks(ctx, rankMap(ranked)); err != nil {
		return nil, fmt.Errorf("save ranks: %w", err)
	}
	if summary, ok := Summarize(examID, ranked, s.now()); ok {
		if err := tx.SaveAnalytics(ctx, summary); err != nil {
			return nil, fmt.Errorf("save analytics: %w", err)
		}
	}
	return ranked, nil
}

func (s *AttemptService) inExamWithRetry(ctx context.Context, examID string, fn func(tx ExamTx) error) error {
	var err error
	for i := 0; i <= s.maxRetries; i++ {
		err = s.attempts.InExam(ctx, examID, fn)
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		s.metrics.RecomputeConflicts.Inc()
		s.log.Debug("recompute conflict", zap.String("examId", examID), zap.Int("try", i+1), zap.Error(err))
		if i == s.maxRetries || s.backoff <= 0 {
			continue
		}
		select {
		case <-time.After(s.backoff * time.Duration(i+1)):
		case <-ctx.Done():
			return err
		}
	}
	return err
}

// GetAnalytics returns the exam's summary, repairing it first when it is stale.
func (s *AttemptService) GetAnalytics(ctx context.Context, examID string) (domain.AnalyticsSummary, error) {
	if _, err := s.catalog.GetExam(ctx, examID); err != nil {
		return domain.AnalyticsSummary{}, err
	}
	summary, err := s.attempts.Analytics(ctx, examID)
	if err != nil {
		return domain.AnalyticsSummary{}, err
	}
	if !summary.Stale {
		return summary, nil
	}
	if err := s.repairStale(ctx, examID); err != nil {
		return domain.AnalyticsSummary{}, err
	}
	return s.attempts.Analytics(ctx, examID)
}

// GetLeaderboard lists submitted attempts in rank order with the requester's best row.
// Positions are the stored ranks. limit <= 0 returns every entry.
func (s *AttemptService) GetLeaderboard(ctx context.Context, examID, requesterID string, limit int) (domain.Leaderboard, error) {
	if _, err := s.catalog.GetExam(ctx, examID); err != nil {
		return domain.Leaderboard{}, err
	}
	summary, err := s.attempts.Analytics(ctx, examID)
	switch {
	case err == nil && summary.Stale:
		if err := s.repairStale(ctx, examID); err != nil {
			return domain.Leaderboard{}, err
		}
	case err != nil && !errors.Is(err, domain.ErrAnalyticsNotFound):
		return domain.Leaderboard{}, err
	}

	standings, err := s.attempts.Standings(ctx, examID, requesterID, limit)
	if err != nil {
		return domain.Leaderboard{}, fmt.Errorf("read standings: %w", err)
	}
	attempts, total, requester := standings.Page, standings.Total, standings.Best

	ids := make([]string, 0, len(attempts)+1)
	for _, a := range attempts {
		ids = append(ids, a.LearnerID)
	}
	if requester != nil {
		ids = append(ids, requester.LearnerID)
	}
	names := s.displayNames(ctx, ids)

	lb := domain.Leaderboard{
		ExamID:        examID,
		Entries:       make([]domain.LeaderboardEntry, 0, len(attempts)),
		TotalAttempts: total,
		UpdatedAt:     s.now(),
	}
	for _, a := range attempts {
		lb.Entries = append(lb.Entries, leaderboardEntry(a, names))
	}
	if requester != nil {
		entry := leaderboardEntry(*requester, names)
		lb.RequesterPosition = &entry
	}
	return lb, nil
}

func (s *AttemptService) repairStale(ctx context.Context, examID string) error {
	s.metrics.StaleRecomputes.Inc()
	s.log.Info("recomputing stale exam", zap.String("examId", examID))
	if err := s.recompute(ctx, examID); err != nil {
		return fmt.Errorf("recompute stale exam: %w", err)
	}
	return nil
}

func (s *AttemptService) displayNames(ctx context.Context, ids []string) map[string]string {
	if s.learners == nil || len(ids) == 0 {
		return nil
	}
	names, err := s.learners.DisplayNames(ctx, ids)
	if err != nil {
		s.log.Warn("display names unavailable", zap.Error(err))
		return nil
	}
	return names
}

func (s *AttemptService) publish(ctx context.Context, examID string) {
	if s.notifier == nil {
		return
	}
	update := domain.LeaderboardUpdate{ExamID: examID, At: s.now()}
	if err := s.notifier.Publish(ctx, update); err != nil {
		s.log.Warn("publish leaderboard update failed", zap.String("examId", examID), zap.Error(err))
	}
}

func leaderboardEntry(a domain.Attempt, names map[string]string) domain.LeaderboardEntry {
	name := names[a.LearnerID]
	if name == "" {
		name = a.LearnerID
	}
	entry := domain.LeaderboardEntry{
		Position:    a.Rank,
		AttemptID:   a.ID,
		LearnerID:   a.LearnerID,
		DisplayName: name,
		Score:       a.Score,
		TotalMarks:  a.TotalMarks,
		Percentage:  a.Percentage,
	}
	if a.SubmittedAt != nil {
		entry.SubmittedAt = *a.SubmittedAt
	}
	return entry
}
