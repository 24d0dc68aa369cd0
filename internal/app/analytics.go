package app

import (
	"math"
	"time"

	"exam-attempt-service/internal/domain"
)

// Summarize builds the analytics row from attempts already ordered by RankAttempts.
// It returns false for an empty set so callers keep the previous summary.
func Summarize(examID string, ranked []domain.Attempt, now time.Time) (domain.AnalyticsSummary, bool) {
	if len(ranked) == 0 {
		return domain.AnalyticsSummary{}, false
	}
	highest := math.Inf(-1)
	lowest := math.Inf(1)
	sum := 0.0
	for _, a := range ranked {
		sum += a.Percentage
		highest = math.Max(highest, a.Percentage)
		lowest = math.Min(lowest, a.Percentage)
	}
	average := round2(sum / float64(len(ranked)))
	average = math.Max(lowest, math.Min(highest, average))

	return domain.AnalyticsSummary{
		ExamID:            examID,
		AttemptCount:      len(ranked),
		AveragePercentage: average,
		HighestPercentage: highest,
		LowestPercentage:  lowest,
		TopScorerID:       ranked[0].LearnerID,
		UpdatedAt:         now,
	}, true
}
