package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/brandonlmk/jobs-marketplace/internal/models"
)

// CreateSubscription вставляет подписку и возвращает её ID. Частичный
// уникальный индекс по (account_id) WHERE status = 'active' не даёт
// завести вторую активную подписку.
func (s *Storage) CreateSubscription(ctx context.Context, sub models.Subscription) (int64, error) {
	const op = "storage.CreateSubscription"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscriptions (account_id, plan_id, start_date, end_date, status)
			  VALUES ($1, $2, $3, $4, $5)
			  RETURNING id`
	var newID int64
	err := s.DB.QueryRowContext(ctx, query,
		sub.AccountID, sub.PlanID, sub.StartDate, sub.EndDate, sub.Status).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// GetActiveSubscription возвращает активную подписку аккаунта.
func (s *Storage) GetActiveSubscription(ctx context.Context, accountID string) (*models.Subscription, error) {
	const op = "storage.GetActiveSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, account_id, plan_id, start_date, end_date, last_distribution, status
			  FROM subscriptions
			  WHERE account_id = $1 AND status = 'active'`
	row := s.DB.QueryRowContext(ctx, query, accountID)

	var result models.Subscription
	err := row.Scan(&result.ID, &result.AccountID, &result.PlanID, &result.StartDate,
		&result.EndDate, &result.LastDistribution, &result.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}

// ListActiveSubscriptions возвращает все активные подписки.
func (s *Storage) ListActiveSubscriptions(ctx context.Context) ([]models.Subscription, error) {
	const op = "storage.ListActiveSubscriptions"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, account_id, plan_id, start_date, end_date, last_distribution, status
			  FROM subscriptions
			  WHERE status = 'active'
			  ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []models.Subscription
	for rows.Next() {
		var item models.Subscription
		if err := rows.Scan(&item.ID, &item.AccountID, &item.PlanID, &item.StartDate,
			&item.EndDate, &item.LastDistribution, &item.Status); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ClaimDistribution отмечает месячное начисление подписки одним
// условным обновлением: сравнение last_distribution с prev гарантирует,
// что из конкурентных очисток начисление достаётся ровно одной.
func (s *Storage) ClaimDistribution(ctx context.Context, id int64, prev *time.Time, next time.Time) (bool, error) {
	const op = "storage.ClaimDistribution"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET last_distribution = $2
			  WHERE id = $1 AND status = 'active'
			  AND last_distribution IS NOT DISTINCT FROM $3`
	result, err := s.DB.ExecContext(ctx, query, id, next, prev)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

// ListDueQueuedSubscriptions возвращает отложенные подписки, чья дата
// начала уже наступила к моменту now.
func (s *Storage) ListDueQueuedSubscriptions(ctx context.Context, now time.Time) ([]models.Subscription, error) {
	const op = "storage.ListDueQueuedSubscriptions"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, account_id, plan_id, start_date, end_date, last_distribution, status
			  FROM subscriptions
			  WHERE status = 'queued' AND start_date <= $1
			  ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []models.Subscription
	for rows.Next() {
		var item models.Subscription
		if err := rows.Scan(&item.ID, &item.AccountID, &item.PlanID, &item.StartDate,
			&item.EndDate, &item.LastDistribution, &item.Status); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// ActivateSubscription переводит отложенную подписку в active одним
// условным обновлением: дата начала должна наступить, а активной
// подписки у аккаунта быть не должно. Возвращает true при переводе.
func (s *Storage) ActivateSubscription(ctx context.Context, id int64, now time.Time) (bool, error) {
	const op = "storage.ActivateSubscription"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = 'active'
			  WHERE id = $1 AND status = 'queued' AND start_date <= $2
			  AND NOT EXISTS (
			      SELECT 1 FROM subscriptions a
			      WHERE a.account_id = subscriptions.account_id AND a.status = 'active'
			  )`
	result, err := s.DB.ExecContext(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

// MarkSubscriptionExpired переводит подписку в expired. Возвращает
// true, если перевод выполнил именно этот вызов.
func (s *Storage) MarkSubscriptionExpired(ctx context.Context, id int64) (bool, error) {
	const op = "storage.MarkSubscriptionExpired"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = 'expired'
			  WHERE id = $1 AND status = 'active'`
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
