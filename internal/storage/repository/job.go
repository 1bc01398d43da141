package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/brandonlmk/jobs-marketplace/internal/models"
)

// GetJob возвращает вакансию по ID.
func (s *Storage) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	const op = "storage.GetJob"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, account_id, profile_id, title, industry, schedule, pay_rate,
				scope, status, shortlist_count, created_at
			  FROM jobs WHERE id = $1`
	row := s.DB.QueryRowContext(ctx, query, id)

	var result models.Job
	err := row.Scan(&result.ID, &result.AccountID, &result.ProfileID, &result.Title,
		&result.Industry, &result.Schedule, &result.PayRate, &result.Scope,
		&result.Status, &result.ShortlistCount, &result.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}

// PublishJob переводит вакансию из draft в published. Повторная
// публикация ничего не меняет и возвращает false.
func (s *Storage) PublishJob(ctx context.Context, id int64) (bool, error) {
	const op = "storage.PublishJob"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE jobs SET status = 'published' WHERE id = $1 AND status = 'draft'`
	result, err := s.DB.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

// IncrementShortlistCount увеличивает счётчик шортлистов вакансии.
func (s *Storage) IncrementShortlistCount(ctx context.Context, id int64) error {
	const op = "storage.IncrementShortlistCount"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE jobs SET shortlist_count = shortlist_count + 1 WHERE id = $1`
	result, err := s.DB.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	return nil
}
