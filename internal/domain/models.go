package domain

import "time"

// Difficulty tags a question.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// Valid reports whether d is one of the known tags.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return true
	}
	return false
}

// Question models a single-answer multiple choice question.
// CorrectAnswer is compared to submitted answers by exact string equality.
type Question struct {
	ID            string     `json:"id" yaml:"id"`
	ExamID        string     `json:"examId" yaml:"-"`
	Text          string     `json:"text" yaml:"text"`
	Options       []string   `json:"options" yaml:"options"`
	CorrectAnswer string     `json:"correctAnswer" yaml:"correctAnswer"`
	Marks         int        `json:"marks" yaml:"marks"`
	Difficulty    Difficulty `json:"difficulty" yaml:"difficulty"`
	Position      int        `json:"position" yaml:"-"`
}

// Exam is a catalog entry together with its question set.
// TotalMarks is derived from Questions and only written by the catalog.
type Exam struct {
	ID         string        `json:"id" yaml:"id"`
	CourseID   string        `json:"courseId" yaml:"courseId"`
	ScheduleID string        `json:"scheduleId" yaml:"scheduleId"`
	Title      string        `json:"title" yaml:"title"`
	TotalMarks int           `json:"totalMarks" yaml:"-"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
	Active     bool          `json:"active" yaml:"active"`
	Questions  []Question    `json:"questions" yaml:"questions"`
}

// SumMarks adds up the marks of every question.
func (e Exam) SumMarks() int {
	total := 0
	for _, q := range e.Questions {
		total += q.Marks
	}
	return total
}

// AttemptState is derived from the attempt's submit timestamp.
type AttemptState string

const (
	AttemptActive    AttemptState = "ACTIVE"
	AttemptSubmitted AttemptState = "SUBMITTED"
)

// QuestionResult is the audit record of how one question was scored.
type QuestionResult struct {
	Answer        *string `json:"answer"`
	CorrectAnswer string  `json:"correctAnswer"`
	IsCorrect     bool    `json:"isCorrect"`
	Marks         int     `json:"marks"`
}

// Attempt is one learner's instance of taking one exam.
type Attempt struct {
	ID          string                    `json:"id"`
	ExamID      string                    `json:"examId"`
	LearnerID   string                    `json:"learnerId"`
	StartedAt   time.Time                 `json:"startedAt"`
	Deadline    time.Time                 `json:"deadline"`
	SubmittedAt *time.Time                `json:"submittedAt,omitempty"`
	Score       int                       `json:"score"`
	TotalMarks  int                       `json:"totalMarks"`
	Percentage  float64                   `json:"percentage"`
	Rank        int                       `json:"rank,omitempty"` // 0 while unranked
	Detail      map[string]QuestionResult `json:"detail,omitempty"`
}

// State reports whether the attempt is still active.
func (a Attempt) State() AttemptState {
	if a.SubmittedAt == nil {
		return AttemptActive
	}
	return AttemptSubmitted
}

// Submitted is shorthand for State() == AttemptSubmitted.
func (a Attempt) Submitted() bool {
	return a.SubmittedAt != nil
}

// Answers maps question ids to the learner's chosen option.
type Answers map[string]string

// Submission is the outcome of a successful submit.
type Submission struct {
	Attempt Attempt                   `json:"attempt"`
	Rank    int                       `json:"rank"`
	Detail  map[string]QuestionResult `json:"detail"`
	// Stale is set when the score was saved but ranking is pending recompute.
	Stale bool `json:"stale,omitempty"`
}

// AnalyticsSummary is a recomputable cache over an exam's submitted attempts.
type AnalyticsSummary struct {
	ExamID            string    `json:"examId"`
	AttemptCount      int       `json:"attemptCount"`
	AveragePercentage float64   `json:"averagePercentage"`
	HighestPercentage float64   `json:"highestPercentage"`
	LowestPercentage  float64   `json:"lowestPercentage"`
	TopScorerID       string    `json:"topScorerId"`
	Stale             bool      `json:"stale,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// LeaderboardEntry is a display row of a submitted attempt.
type LeaderboardEntry struct {
	Position    int       `json:"position"`
	AttemptID   string    `json:"attemptId"`
	LearnerID   string    `json:"learnerId"`
	DisplayName string    `json:"displayName"`
	Score       int       `json:"score"`
	TotalMarks  int       `json:"totalMarks"`
	Percentage  float64   `json:"percentage"`
	SubmittedAt time.Time `json:"submittedAt"`
}

// Leaderboard is the ordered read projection for one exam.
type Leaderboard struct {
	ExamID            string             `json:"examId"`
	Entries           []LeaderboardEntry `json:"entries"`
	RequesterPosition *LeaderboardEntry  `json:"requesterPosition,omitempty"`
	TotalAttempts     int                `json:"totalAttempts"`
	UpdatedAt         time.Time          `json:"updatedAt"`
}

// LeaderboardUpdate signals that an exam's ranking changed.
type LeaderboardUpdate struct {
	ExamID string    `json:"examId"`
	At     time.Time `json:"at"`
}
