package domain

import "errors"

var (
	// ErrExamNotFound is returned when an exam id does not resolve to a catalog entry.
	ErrExamNotFound = errors.New("exam not found")
	// ErrQuestionNotFound indicates a question id does not belong to the exam.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrAttemptNotFound is returned when a learner has no attempt for an exam.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAnalyticsNotFound is returned when no submission has produced a summary yet.
	ErrAnalyticsNotFound = errors.New("analytics not found")
	// ErrInactiveExam is returned when starting an exam whose active flag is off.
	ErrInactiveExam = errors.New("exam is not active")
	// ErrNoActiveAttempt covers submit-without-start and double submit.
	ErrNoActiveAttempt = errors.New("no active attempt")
	// ErrInvalidAnswerPayload indicates a malformed answer map.
	ErrInvalidAnswerPayload = errors.New("invalid answer payload")
	// ErrConcurrencyConflict means the rank and analytics recompute lost a race.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrInvalidExam and ErrInvalidQuestion reject catalog writes that break the data model.
	ErrInvalidExam     = errors.New("invalid exam")
	ErrInvalidQuestion = errors.New("invalid question")
)

// IsNotFound reports whether err is any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrExamNotFound) ||
		errors.Is(err, ErrQuestionNotFound) ||
		errors.Is(err, ErrAttemptNotFound) ||
		errors.Is(err, ErrAnalyticsNotFound)
}
