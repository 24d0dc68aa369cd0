package app

import (
	"fmt"
	"math"
	"time"

	"exam-attempt-service/internal/domain"
)

// ValidateAnswers rejects answer maps that cannot be scored.
func ValidateAnswers(answers domain.Answers) error {
	for questionID := range answers {
		if questionID == "" {
			return fmt.Errorf("%w: empty question id", domain.ErrInvalidAnswerPayload)
		}
	}
	return nil
}

// Grade scores answers against questions by exact, case-sensitive match.
// Answers for unknown questions are ignored and missing answers score zero.
// An empty answer is still compared but recorded as null.
func Grade(questions []domain.Question, answers domain.Answers) (score, total int, detail map[string]domain.QuestionResult) {
	detail = make(map[string]domain.QuestionResult, len(questions))
	for _, q := range questions {
		total += q.Marks
		result := domain.QuestionResult{CorrectAnswer: q.CorrectAnswer}
		answer, ok := answers[q.ID]
		if ok && answer == q.CorrectAnswer {
			result.IsCorrect = true
			result.Marks = q.Marks
			score += q.Marks
		}
		if ok && answer != "" {
			result.Answer = &answer
		}
		detail[q.ID] = result
	}
	return score, total, detail
}

// Percentage is 100*score/total rounded to two decimals, or 0 when total is 0.
func Percentage(score, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := round2(100 * float64(score) / float64(total))
	return math.Max(0, math.Min(100, p))
}

// gradeAttempt moves an active attempt to submitted.
func gradeAttempt(active domain.Attempt, exam domain.Exam, answers domain.Answers, now time.Time) domain.Attempt {
	score, total, detail := Grade(exam.Questions, answers)
	submitted := active
	if now.Before(active.StartedAt) {
		now = active.StartedAt
	}
	submitted.SubmittedAt = &now
	submitted.Score = score
	submitted.TotalMarks = total
	submitted.Percentage = Percentage(score, total)
	submitted.Detail = detail
	submitted.Rank = 0
	return submitted
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
