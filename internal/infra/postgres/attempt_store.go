package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"exam-attempt-service/internal/app"
	"exam-attempt-service/internal/domain"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"
)

// Postgres SQLSTATEs that mean the critical section lost a race.
var conflictCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available (lock_timeout)
}

type attemptRow struct {
	bun.BaseModel `bun:"table:attempts,alias:a"`

	ID          string                           `bun:"id,pk"`
	ExamID      string                           `bun:"exam_id"`
	LearnerID   string                           `bun:"learner_id"`
	StartedAt   time.Time                        `bun:"started_at"`
	Deadline    time.Time                        `bun:"deadline"`
	SubmittedAt *time.Time                       `bun:"submitted_at"`
	Score       int                              `bun:"score"`
	TotalMarks  int                              `bun:"total_marks"`
	Percentage  float64                          `bun:"percentage"`
	Rank        *int                             `bun:"rank"`
	Detail      map[string]domain.QuestionResult `bun:"detail,type:jsonb"`
}

type analyticsRow struct {
	bun.BaseModel `bun:"table:exam_analytics"`

	ExamID            string    `bun:"exam_id,pk"`
	AttemptCount      int       `bun:"attempt_count"`
	AveragePercentage float64   `bun:"average_percentage"`
	HighestPercentage float64   `bun:"highest_percentage"`
	LowestPercentage  float64   `bun:"lowest_percentage"`
	TopScorerID       string    `bun:"top_scorer_id"`
	Stale             bool      `bun:"stale"`
	UpdatedAt         time.Time `bun:"updated_at"`
}

// AttemptStore implements app.AttemptRepository on Postgres. InExam runs in one
// transaction holding a transaction-scoped advisory lock on the exam id.
type AttemptStore struct {
	db          *bun.DB
	lockTimeout time.Duration
}

func NewAttemptStore(db *bun.DB, lockTimeout time.Duration) *AttemptStore {
	return &AttemptStore{db: db, lockTimeout: lockTimeout}
}

func (s *AttemptStore) GetOrCreateActive(ctx context.Context, candidate domain.Attempt) (domain.Attempt, error) {
	row := toRow(candidate)
	// A concurrent submit can retire the existing active row between the insert and
	// the read, so retry a few times.
	for i := 0; i < 3; i++ {
		if _, err := s.db.NewInsert().
			Model(&row).
			On("CONFLICT (exam_id, learner_id) WHERE submitted_at IS NULL DO NOTHING").
			Exec(ctx); err != nil {
			return domain.Attempt{}, fmt.Errorf("insert attempt: %w", err)
		}
		active, err := s.ActiveAttempt(ctx, candidate.ExamID, candidate.LearnerID)
		if !errors.Is(err, domain.ErrNoActiveAttempt) {
			return active, err
		}
	}
	return domain.Attempt{}, domain.ErrConcurrencyConflict
}

func (s *AttemptStore) ActiveAttempt(ctx context.Context, examID, learnerID string) (domain.Attempt, error) {
	return selectActive(ctx, s.db, examID, learnerID, false)
}

func (s *AttemptStore) LatestAttempt(ctx context.Context, examID, learnerID string) (domain.Attempt, error) {
	var row attemptRow
	err := s.db.NewSelect().
		Model(&row).
		Where("exam_id = ? AND learner_id = ?", examID, learnerID).
		OrderExpr("(submitted_at IS NULL) DESC, submitted_at DESC, started_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, domain.ErrAttemptNotFound
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("select latest attempt: %w", err)
	}
	return row.toDomain(), nil
}

// rankOrder sorts by the exact score/total ratio; a zero total counts as 0%.
const rankOrder = "COALESCE(score::numeric / NULLIF(total_marks, 0), 0) DESC, submitted_at ASC, id ASC"

func (s *AttemptStore) Standings(ctx context.Context, examID, learnerID string, limit int) (app.Standings, error) {
	var out app.Standings
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	err := s.db.RunInTx(ctx, opts, func(ctx context.Context, tx bun.Tx) error {
		var rows []attemptRow
		q := tx.NewSelect().
			Model(&rows).
			Where("exam_id = ? AND submitted_at IS NOT NULL", examID).
			OrderExpr(rankOrder)
		if limit > 0 {
			q = q.Limit(limit)
		}
		if err := q.Scan(ctx); err != nil {
			return fmt.Errorf("select submitted attempts: %w", err)
		}
		total, err := tx.NewSelect().
			Model((*attemptRow)(nil)).
			Where("exam_id = ? AND submitted_at IS NOT NULL", examID).
			Count(ctx)
		if err != nil {
			return fmt.Errorf("count submitted attempts: %w", err)
		}
		out.Page, out.Total = toDomainList(rows), total

		if learnerID == "" {
			return nil
		}
		var row attemptRow
		err = tx.NewSelect().
			Model(&row).
			Where("exam_id = ? AND learner_id = ? AND submitted_at IS NOT NULL", examID, learnerID).
			OrderExpr("rank ASC NULLS LAST, " + rankOrder).
			Limit(1).
			Scan(ctx)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil
		case err != nil:
			return fmt.Errorf("select best attempt: %w", err)
		}
		best := row.toDomain()
		out.Best = &best
		return nil
	})
	if err != nil {
		return app.Standings{}, err
	}
	return out, nil
}

func (s *AttemptStore) Analytics(ctx context.Context, examID string) (domain.AnalyticsSummary, error) {
	var row analyticsRow
	err := s.db.NewSelect().Model(&row).Where("exam_id = ?", examID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AnalyticsSummary{}, domain.ErrAnalyticsNotFound
	}
	if err != nil {
		return domain.AnalyticsSummary{}, fmt.Errorf("select analytics: %w", err)
	}
	return domain.AnalyticsSummary{
		ExamID:            row.ExamID,
		AttemptCount:      row.AttemptCount,
		AveragePercentage: row.AveragePercentage,
		HighestPercentage: row.HighestPercentage,
		LowestPercentage:  row.LowestPercentage,
		TopScorerID:       row.TopScorerID,
		Stale:             row.Stale,
		UpdatedAt:         row.UpdatedAt,
	}, nil
}

func (s *AttemptStore) InExam(ctx context.Context, examID string, fn func(tx app.ExamTx) error) error {
	err := s.db.RunInTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted}, func(ctx context.Context, tx bun.Tx) error {
		if s.lockTimeout > 0 {
			if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext(?))", examID); err != nil {
			return fmt.Errorf("lock exam %s: %w", examID, err)
		}
		return fn(&examTx{tx: tx, examID: examID})
	})
	return classify(err)
}

func (s *AttemptStore) SaveUnranked(ctx context.Context, attempt domain.Attempt) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := updateSubmitted(ctx, tx, attempt); err != nil {
			return err
		}
		_, err := tx.NewInsert().
			Model(&analyticsRow{ExamID: attempt.ExamID, Stale: true, UpdatedAt: time.Now()}).
			On("CONFLICT (exam_id) DO UPDATE").
			Set("stale = TRUE").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("flag analytics stale: %w", err)
		}
		return nil
	})
	return classify(err)
}

func (s *AttemptStore) DeleteExam(ctx context.Context, examID string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*analyticsRow)(nil)).Where("exam_id = ?", examID).Exec(ctx); err != nil {
			return fmt.Errorf("delete analytics: %w", err)
		}
		if _, err := tx.NewDelete().Model((*attemptRow)(nil)).Where("exam_id = ?", examID).Exec(ctx); err != nil {
			return fmt.Errorf("delete attempts: %w", err)
		}
		return nil
	})
}

type examTx struct {
	tx     bun.Tx
	examID string
}

func (t *examTx) ActiveAttempt(ctx context.Context, learnerID string) (domain.Attempt, error) {
	return selectActive(ctx, t.tx, t.examID, learnerID, true)
}

func (t *examTx) SubmittedAttempts(ctx context.Context) ([]domain.Attempt, error) {
	var rows []attemptRow
	err := t.tx.NewSelect().
		Model(&rows).
		Where("exam_id = ? AND submitted_at IS NOT NULL", t.examID).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return toDomainList(rows), nil
}

func (t *examTx) SaveSubmitted(ctx context.Context, attempt domain.Attempt) error {
	return updateSubmitted(ctx, t.tx, attempt)
}

func (t *examTx) SaveRanks(ctx context.Context, ranks map[string]int) error {
	for id, rank := range ranks {
		if _, err := t.tx.NewUpdate().
			Model((*attemptRow)(nil)).
			Set("rank = ?", rank).
			Where("id = ? AND rank IS DISTINCT FROM ?", id, rank).
			Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (t *examTx) SaveAnalytics(ctx context.Context, summary domain.AnalyticsSummary) error {
	row := analyticsRow{
		ExamID:            t.examID,
		AttemptCount:      summary.AttemptCount,
		AveragePercentage: summary.AveragePercentage,
		HighestPercentage: summary.HighestPercentage,
		LowestPercentage:  summary.LowestPercentage,
		TopScorerID:       summary.TopScorerID,
		Stale:             false,
		UpdatedAt:         summary.UpdatedAt,
	}
	_, err := t.tx.NewInsert().
		Model(&row).
		On("CONFLICT (exam_id) DO UPDATE").
		Set("attempt_count = EXCLUDED.attempt_count").
		Set("average_percentage = EXCLUDED.average_percentage").
		Set("highest_percentage = EXCLUDED.highest_percentage").
		Set("lowest_percentage = EXCLUDED.lowest_percentage").
		Set("top_scorer_id = EXCLUDED.top_scorer_id").
		Set("stale = EXCLUDED.stale").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return err
	}

	// The upsert holds the row lock, so any unranked save either committed before it
	// and shows up in this count, or is still waiting to flag the row stale.
	live, err := t.tx.NewSelect().
		Model((*attemptRow)(nil)).
		Where("exam_id = ? AND submitted_at IS NOT NULL", t.examID).
		Count(ctx)
	if err != nil {
		return err
	}
	if live == summary.AttemptCount {
		return nil
	}
	_, err = t.tx.NewUpdate().
		Model((*analyticsRow)(nil)).
		Set("stale = TRUE").
		Where("exam_id = ?", t.examID).
		Exec(ctx)
	return err
}

func selectActive(ctx context.Context, db bun.IDB, examID, learnerID string, forUpdate bool) (domain.Attempt, error) {
	var row attemptRow
	q := db.NewSelect().
		Model(&row).
		Where("exam_id = ? AND learner_id = ? AND submitted_at IS NULL", examID, learnerID).
		Limit(1)
	if forUpdate {
		q = q.For("UPDATE")
	}
	err := q.Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Attempt{}, domain.ErrNoActiveAttempt
	}
	if err != nil {
		return domain.Attempt{}, fmt.Errorf("select active attempt: %w", err)
	}
	return row.toDomain(), nil
}

// updateSubmitted only touches a row that is still active, so a double submit
// that races past the read fails with ErrNoActiveAttempt.
func updateSubmitted(ctx context.Context, db bun.IDB, attempt domain.Attempt) error {
	row := toRow(attempt)
	res, err := db.NewUpdate().
		Model(&row).
		Column("submitted_at", "score", "total_marks", "percentage", "rank", "detail").
		Where("id = ? AND submitted_at IS NULL", attempt.ID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNoActiveAttempt
	}
	return nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		if _, ok := conflictCodes[pgErr.Field('C')]; ok {
			return fmt.Errorf("%w: %v", domain.ErrConcurrencyConflict, err)
		}
	}
	return err
}

func toRow(a domain.Attempt) attemptRow {
	row := attemptRow{
		ID:          a.ID,
		ExamID:      a.ExamID,
		LearnerID:   a.LearnerID,
		StartedAt:   a.StartedAt,
		Deadline:    a.Deadline,
		SubmittedAt: a.SubmittedAt,
		Score:       a.Score,
		TotalMarks:  a.TotalMarks,
		Percentage:  a.Percentage,
		Detail:      a.Detail,
	}
	if a.Rank > 0 {
		rank := a.Rank
		row.Rank = &rank
	}
	return row
}

func (r attemptRow) toDomain() domain.Attempt {
	a := domain.Attempt{
		ID:          r.ID,
		ExamID:      r.ExamID,
		LearnerID:   r.LearnerID,
		StartedAt:   r.StartedAt,
		Deadline:    r.Deadline,
		SubmittedAt: r.SubmittedAt,
		Score:       r.Score,
		TotalMarks:  r.TotalMarks,
		Percentage:  r.Percentage,
		Detail:      r.Detail,
	}
	if r.Rank != nil {
		a.Rank = *r.Rank
	}
	return a
}

func toDomainList(rows []attemptRow) []domain.Attempt {
	out := make([]domain.Attempt, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}
