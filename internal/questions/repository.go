// Package questions serves level question sets. Answers never leave the
// server; scoring is done against the stored answer column.
package questions

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/itfiesta/escape-backend/internal/models"
)

// Repository reads the question bank.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a questions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListByLevel returns all questions for a level in insertion order.
func (r *Repository) ListByLevel(ctx context.Context, level int) ([]models.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, level, text, options, answer, marks, scenario_id, stage, title
		 FROM escape_questions WHERE level = $1 ORDER BY scenario_id, stage, id`, level)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Question
	for rows.Next() {
		var q models.Question
		if err := rows.Scan(&q.ID, &q.Level, &q.Text, &q.Options, &q.Answer,
			&q.Marks, &q.ScenarioID, &q.Stage, &q.Title); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}
