package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
)

// LearnerDirectory reads public display names from the learners table.
type LearnerDirectory struct {
	pool *pgxpool.Pool
}

func NewLearnerDirectory(pool *pgxpool.Pool) *LearnerDirectory {
	return &LearnerDirectory{pool: pool}
}

func (d *LearnerDirectory) DisplayNames(ctx context.Context, learnerIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(learnerIDs))
	if len(learnerIDs) == 0 {
		return names, nil
	}
	rows, err := d.pool.Query(ctx, `SELECT id, display_name FROM learners WHERE id = ANY($1)`, learnerIDs)
	if err != nil {
		return nil, fmt.Errorf("query learners: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan learner: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}

// UpsertLearner records a display name; used by seeding and tests.
func (d *LearnerDirectory) UpsertLearner(ctx context.Context, id, displayName string) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO learners (id, display_name) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET display_name = EXCLUDED.display_name
	`, id, displayName)
	return err
}
