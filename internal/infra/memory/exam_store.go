package memory

import (
	"context"
	"sort"
	"sync"

	"exam-attempt-service/internal/domain"
)

// ExamStore is an in-memory app.ExamStore (useful for tests/demos).
type ExamStore struct {
	mu    sync.RWMutex
	exams map[string]domain.Exam
}

func NewExamStore(seed ...domain.Exam) *ExamStore {
	s := &ExamStore{exams: make(map[string]domain.Exam)}
	for _, exam := range seed {
		for i := range exam.Questions {
			exam.Questions[i].ExamID = exam.ID
			if exam.Questions[i].Position == 0 {
				exam.Questions[i].Position = i + 1
			}
		}
		exam.TotalMarks = exam.SumMarks()
		s.exams[exam.ID] = cloneExam(exam)
	}
	return s
}

func (s *ExamStore) LoadExam(_ context.Context, examID string) (domain.Exam, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exam, ok := s.exams[examID]
	if !ok {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	return cloneExam(exam), nil
}

// SaveExam upserts header fields; the question set and total marks are left alone.
func (s *ExamStore) SaveExam(_ context.Context, exam domain.Exam) (domain.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.exams[exam.ID]
	if !ok {
		current = domain.Exam{ID: exam.ID}
	}
	current.CourseID = exam.CourseID
	current.ScheduleID = exam.ScheduleID
	current.Title = exam.Title
	current.Duration = exam.Duration
	current.Active = exam.Active
	current.TotalMarks = current.SumMarks()
	s.exams[exam.ID] = current
	return cloneExam(current), nil
}

func (s *ExamStore) SaveQuestion(_ context.Context, question domain.Question) (domain.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exam, ok := s.exams[question.ExamID]
	if !ok {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	questions := append([]domain.Question(nil), exam.Questions...)
	replaced := false
	for i := range questions {
		if questions[i].ID == question.ID {
			question.Position = questions[i].Position
			questions[i] = question
			replaced = true
			break
		}
	}
	if !replaced {
		question.Position = nextPosition(questions)
		questions = append(questions, question)
	}
	exam.Questions = questions
	exam.TotalMarks = exam.SumMarks()
	s.exams[exam.ID] = exam
	return cloneExam(exam), nil
}

func (s *ExamStore) DeleteQuestion(_ context.Context, examID, questionID string) (domain.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exam, ok := s.exams[examID]
	if !ok {
		return domain.Exam{}, domain.ErrExamNotFound
	}
	questions := make([]domain.Question, 0, len(exam.Questions))
	for _, q := range exam.Questions {
		if q.ID != questionID {
			questions = append(questions, q)
		}
	}
	if len(questions) == len(exam.Questions) {
		return domain.Exam{}, domain.ErrQuestionNotFound
	}
	exam.Questions = questions
	exam.TotalMarks = exam.SumMarks()
	s.exams[examID] = exam
	return cloneExam(exam), nil
}

func (s *ExamStore) DeleteExam(_ context.Context, examID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exams[examID]; !ok {
		return domain.ErrExamNotFound
	}
	delete(s.exams, examID)
	return nil
}

func nextPosition(questions []domain.Question) int {
	max := 0
	for _, q := range questions {
		if q.Position > max {
			max = q.Position
		}
	}
	return max + 1
}

func cloneExam(exam domain.Exam) domain.Exam {
	out := exam
	out.Questions = make([]domain.Question, len(exam.Questions))
	for i, q := range exam.Questions {
		q.Options = append([]string(nil), q.Options...)
		out.Questions[i] = q
	}
	sort.SliceStable(out.Questions, func(i, j int) bool {
		return out.Questions[i].Position < out.Questions[j].Position
	})
	return out
}
