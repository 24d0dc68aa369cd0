package app

import (
	"context"
	"fmt"

	"exam-attempt-service/internal/domain"
	"go.uber.org/zap"
)

// ExamCascade removes data owned by an exam outside the exam store.
type ExamCascade interface {
	DeleteExam(ctx context.Context, examID string) error
}

// CatalogService is the question-management glue: it validates catalog writes, keeps
// total marks derived from the question set and invalidates the catalog cache.
type CatalogService struct {
	store   ExamStore
	catalog ExamCatalog
	cascade ExamCascade
	log     *zap.Logger
}

func NewCatalogService(store ExamStore, catalog ExamCatalog, cascade ExamCascade, log *zap.Logger) *CatalogService {
	if log == nil {
		log = zap.NewNop()
	}
	return &CatalogService{store: store, catalog: catalog, cascade: cascade, log: log}
}

// GetExam reads straight from the store, bypassing the cache.
func (s *CatalogService) GetExam(ctx context.Context, examID string) (domain.Exam, error) {
	return s.store.LoadExam(ctx, examID)
}

// SaveExam upserts the exam header and any questions it carries.
func (s *CatalogService) SaveExam(ctx context.Context, exam domain.Exam) (domain.Exam, error) {
	if err := validateExam(exam); err != nil {
		return domain.Exam{}, err
	}
	for _, q := range exam.Questions {
		q.ExamID = exam.ID
		if err := validateQuestion(q); err != nil {
			return domain.Exam{}, err
		}
	}

	saved, err := s.store.SaveExam(ctx, exam)
	if err != nil {
		return domain.Exam{}, fmt.Errorf("save exam: %w", err)
	}
	for _, q := range exam.Questions {
		q.ExamID = exam.ID
		if saved, err = s.store.SaveQuestion(ctx, q); err != nil {
			return domain.Exam{}, fmt.Errorf("save question %s: %w", q.ID, err)
		}
	}
	s.invalidate(ctx, exam.ID)
	s.log.Info("exam saved",
		zap.String("examId", saved.ID),
		zap.Int("questions", len(saved.Questions)),
		zap.Int("totalMarks", saved.TotalMarks))
	return saved, nil
}

// SaveQuestion upserts a question and returns the exam with recomputed total marks.
func (s *CatalogService) SaveQuestion(ctx context.Context, question domain.Question) (domain.Exam, error) {
	if err := validateQuestion(question); err != nil {
		return domain.Exam{}, err
	}
	exam, err := s.store.SaveQuestion(ctx, question)
	if err != nil {
		return domain.Exam{}, err
	}
	s.invalidate(ctx, question.ExamID)
	return exam, nil
}

// DeleteQuestion removes a question and returns the exam with recomputed total marks.
func (s *CatalogService) DeleteQuestion(ctx context.Context, examID, questionID string) (domain.Exam, error) {
	exam, err := s.store.DeleteQuestion(ctx, examID, questionID)
	if err != nil {
		return domain.Exam{}, err
	}
	s.invalidate(ctx, examID)
	return exam, nil
}

// DeleteExam removes the exam, its questions, attempts and analytics.
func (s *CatalogService) DeleteExam(ctx context.Context, examID string) error {
	if s.cascade != nil {
		if err := s.cascade.DeleteExam(ctx, examID); err != nil {
			return fmt.Errorf("delete exam attempts: %w", err)
		}
	}
	if err := s.store.DeleteExam(ctx, examID); err != nil {
		return err
	}
	s.invalidate(ctx, examID)
	s.log.Info("exam deleted", zap.String("examId", examID))
	return nil
}

func (s *CatalogService) invalidate(ctx context.Context, examID string) {
	if s.catalog == nil {
		return
	}
	if err := s.catalog.Invalidate(ctx, examID); err != nil {
		s.log.Warn("catalog invalidate failed", zap.String("examId", examID), zap.Error(err))
	}
}

func validateExam(exam domain.Exam) error {
	switch {
	case exam.ID == "":
		return fmt.Errorf("%w: id is required", domain.ErrInvalidExam)
	case exam.Title == "":
		return fmt.Errorf("%w: title is required", domain.ErrInvalidExam)
	case exam.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive", domain.ErrInvalidExam)
	}
	return nil
}

// validateQuestion does not check that the correct answer is one of the options.
func validateQuestion(q domain.Question) error {
	switch {
	case q.ID == "" || q.ExamID == "":
		return fmt.Errorf("%w: id and exam id are required", domain.ErrInvalidQuestion)
	case q.Text == "":
		return fmt.Errorf("%w: text is required", domain.ErrInvalidQuestion)
	case len(q.Options) < 2:
		return fmt.Errorf("%w: at least two options are required", domain.ErrInvalidQuestion)
	case q.Marks <= 0:
		return fmt.Errorf("%w: marks must be positive", domain.ErrInvalidQuestion)
	case !q.Difficulty.Valid():
		return fmt.Errorf("%w: unknown difficulty %q", domain.ErrInvalidQuestion, q.Difficulty)
	}
	return nil
}
