package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"exam-attempt-service/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ExamStore reads and writes exams and questions. Every question write
// recomputes exams.total_marks in the same transaction.
type ExamStore struct {
	pool *pgxpool.Pool
}

func NewExamStore(pool *pgxpool.Pool) *ExamStore {
	return &ExamStore{pool: pool}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

func (s *ExamStore) LoadExam(ctx context.Context, examID string) (domain.Exam, error) {
	return loadExam(ctx, s.pool, examID)
}

func loadExam(ctx context.Context, q querier, examID string) (domain.Exam, error) {
	var (
		exam            domain.Exam
		durationSeconds int64
	)
	err := q.QueryRow(ctx, `
		SELECT id, course_id, schedule_id, title, total_marks, duration_seconds, active
		FROM exams
		WHERE id = $1
	`, examID).Scan(&exam.ID, &exam.CourseID, &exam.ScheduleID, &exam.Title, &exam.TotalMarks, &durationSeconds, &exam.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Exam{}, domain.ErrExamNotFound
		}
		return domain.Exam{}, fmt.Errorf("load exam: %w", err)
	}
	exam.Duration = time.Duration(durationSeconds) * time.Second

	rows, err := q.Query(ctx, `
		SELECT id, position, text, options, correct_answer, marks, difficulty
		FROM questions
		WHERE exam_id = $1
		ORDER BY position, id
	`, examID)
	if err != nil {
		return domain.Exam{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		question := domain.Question{ExamID: examID}
		var difficulty string
		if err := rows.Scan(&question.ID, &question.Position, &question.Text, &question.Options,
			&question.CorrectAnswer, &question.Marks, &difficulty); err != nil {
			return domain.Exam{}, fmt.Errorf("scan question: %w", err)
		}
		question.Difficulty = domain.Difficulty(difficulty)
		exam.Questions = append(exam.Questions, question)
	}
	if err := rows.Err(); err != nil {
		return domain.Exam{}, fmt.Errorf("load questions: %w", err)
	}
	return exam, nil
}

// SaveExam upserts header fields. total_marks is recomputed, never taken from the input.
func (s *ExamStore) SaveExam(ctx context.Context, exam domain.Exam) (domain.Exam, error) {
	var saved domain.Exam
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO exams (id, course_id, schedule_id, title, duration_seconds, active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				course_id = EXCLUDED.course_id,
				schedule_id = EXCLUDED.schedule_id,
				title = EXCLUDED.title,
				duration_seconds = EXCLUDED.duration_seconds,
				active = EXCLUDED.active,
				updated_at = now()
		`, exam.ID, exam.CourseID, exam.ScheduleID, exam.Title, int64(exam.Duration/time.Second), exam.Active); err != nil {
			return fmt.Errorf("upsert exam: %w", err)
		}
		if err := recomputeTotalMarks(ctx, tx, exam.ID); err != nil {
			return err
		}
		var err error
		saved, err = loadExam(ctx, tx, exam.ID)
		return err
	})
	return saved, err
}

func (s *ExamStore) SaveQuestion(ctx context.Context, question domain.Question) (domain.Exam, error) {
	var saved domain.Exam
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if err := lockExam(ctx, tx, question.ExamID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO questions (exam_id, id, position, text, options, correct_answer, marks, difficulty)
			VALUES ($1, $2, (SELECT COALESCE(MAX(position), 0) + 1 FROM questions WHERE exam_id = $1), $3, $4, $5, $6, $7)
			ON CONFLICT (exam_id, id) DO UPDATE SET
				text = EXCLUDED.text,
				options = EXCLUDED.options,
				correct_answer = EXCLUDED.correct_answer,
				marks = EXCLUDED.marks,
				difficulty = EXCLUDED.difficulty
		`, question.ExamID, question.ID, question.Text, question.Options, question.CorrectAnswer,
			question.Marks, string(question.Difficulty)); err != nil {
			return fmt.Errorf("upsert question: %w", err)
		}
		if err := recomputeTotalMarks(ctx, tx, question.ExamID); err != nil {
			return err
		}
		var err error
		saved, err = loadExam(ctx, tx, question.ExamID)
		return err
	})
	return saved, err
}

func (s *ExamStore) DeleteQuestion(ctx context.Context, examID, questionID string) (domain.Exam, error) {
	var saved domain.Exam
	err := s.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		if err := lockExam(ctx, tx, examID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM questions WHERE exam_id = $1 AND id = $2`, examID, questionID)
		if err != nil {
			return fmt.Errorf("delete question: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrQuestionNotFound
		}
		if err := recomputeTotalMarks(ctx, tx, examID); err != nil {
			return err
		}
		saved, err = loadExam(ctx, tx, examID)
		return err
	})
	return saved, err
}

// DeleteExam relies on ON DELETE CASCADE for questions, attempts and analytics.
func (s *ExamStore) DeleteExam(ctx context.Context, examID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM exams WHERE id = $1`, examID)
	if err != nil {
		return fmt.Errorf("delete exam: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrExamNotFound
	}
	return nil
}

func lockExam(ctx context.Context, tx pgx.Tx, examID string) error {
	var id string
	err := tx.QueryRow(ctx, `SELECT id FROM exams WHERE id = $1 FOR UPDATE`, examID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrExamNotFound
	}
	if err != nil {
		return fmt.Errorf("lock exam: %w", err)
	}
	return nil
}

func recomputeTotalMarks(ctx context.Context, tx pgx.Tx, examID string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE exams
		SET total_marks = (SELECT COALESCE(SUM(marks), 0) FROM questions WHERE exam_id = $1),
			updated_at = now()
		WHERE id = $1
	`, examID); err != nil {
		return fmt.Errorf("recompute total marks: %w", err)
	}
	return nil
}
