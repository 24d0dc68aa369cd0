package app

import (
	"context"

	"exam-attempt-service/internal/domain"
)

// ExamLoader fetches an exam with its questions from a backing store.
type ExamLoader interface {
	LoadExam(ctx context.Context, examID string) (domain.Exam, error)
}

// ExamStore persists exams and questions. Question writes recompute the exam's total marks
// in the same write and return the refreshed exam.
type ExamStore interface {
	ExamLoader
	SaveExam(ctx context.Context, exam domain.Exam) (domain.Exam, error)
	SaveQuestion(ctx context.Context, question domain.Question) (domain.Exam, error)
	DeleteQuestion(ctx context.Context, examID, questionID string) (domain.Exam, error)
	DeleteExam(ctx context.Context, examID string) error
}

// ExamCatalog serves exam definitions to the engine, usually through a cache.
type ExamCatalog interface {
	GetExam(ctx context.Context, examID string) (domain.Exam, error)
	Invalidate(ctx context.Context, examID string) error
}

// ExamTx is the view of one exam's attempts inside its critical section.
// Writes become visible only when the enclosing InExam call returns nil.
type ExamTx interface {
	ActiveAttempt(ctx context.Context, learnerID string) (domain.Attempt, error)
	SubmittedAttempts(ctx context.Context) ([]domain.Attempt, error)
	SaveSubmitted(ctx context.Context, attempt domain.Attempt) error
	SaveRanks(ctx context.Context, ranks map[string]int) error
	SaveAnalytics(ctx context.Context, summary domain.AnalyticsSummary) error
}

// Standings is one consistent read of an exam's submitted attempts.
type Standings struct {
	// Page holds submitted attempts in rank order.
	Page  []domain.Attempt
	Total int
	// Best is the requester's best-ranked attempt, nil when they have none.
	Best *domain.Attempt
}

// AttemptRepository abstracts how attempts and analytics are stored (in-memory, Postgres).
type AttemptRepository interface {
	// GetOrCreateActive inserts candidate unless the learner already has an active
	// attempt for the exam, in which case the existing one is returned.
	GetOrCreateActive(ctx context.Context, candidate domain.Attempt) (domain.Attempt, error)
	ActiveAttempt(ctx context.Context, examID, learnerID string) (domain.Attempt, error)
	LatestAttempt(ctx context.Context, examID, learnerID string) (domain.Attempt, error)
	// Standings reads the leaderboard page and learnerID's best attempt from one
	// snapshot. limit <= 0 means all; an empty learnerID skips the lookup.
	Standings(ctx context.Context, examID, learnerID string, limit int) (Standings, error)
	Analytics(ctx context.Context, examID string) (domain.AnalyticsSummary, error)

	// InExam runs fn serialized against every other InExam call for the same exam,
	// atomically. Calls for different exams do not contend.
	InExam(ctx context.Context, examID string, fn func(tx ExamTx) error) error
	// SaveUnranked persists a scored attempt without ranking it and flags the exam's
	// analytics stale.
	SaveUnranked(ctx context.Context, attempt domain.Attempt) error

	DeleteExam(ctx context.Context, examID string) error
}

// LearnerDirectory resolves public display names.
type LearnerDirectory interface {
	DisplayNames(ctx context.Context, learnerIDs []string) (map[string]string, error)
}

// Notifier publishes leaderboard changes to subscribers.
type Notifier interface {
	Publish(ctx context.Context, update domain.LeaderboardUpdate) error
}
