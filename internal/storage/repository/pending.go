package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/brandonlmk/jobs-marketplace/internal/models"
)

// CreatePendingAction вставляет новое отложенное действие в статусе
// pending и возвращает его ID.
func (s *Storage) CreatePendingAction(ctx context.Context, kind, requesterID string, payload models.ActionPayload) (int64, error) {
	const op = "storage.CreatePendingAction"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	payloadRaw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	query := `INSERT INTO pending_actions (kind, requester_id, payload, status)
			  VALUES ($1, $2, $3, 'pending')
			  RETURNING id`
	var newID int64
	err = s.DB.QueryRowContext(ctx, query, kind, requesterID, payloadRaw).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// GetPendingAction возвращает отложенное действие по ID.
func (s *Storage) GetPendingAction(ctx context.Context, id int64) (*models.PendingAction, error) {
	const op = "storage.GetPendingAction"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, kind, requester_id, payload, status, created_at, decided_at
			  FROM pending_actions WHERE id = $1`
	row := s.DB.QueryRowContext(ctx, query, id)

	var result models.PendingAction
	var payloadRaw []byte
	err := row.Scan(&result.ID, &result.Kind, &result.RequesterID, &payloadRaw,
		&result.Status, &result.CreatedAt, &result.DecidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(payloadRaw, &result.Payload); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}

// DecidePendingAction переводит действие из pending в status одним
// условным обновлением и возвращает решённое действие. Ровно один
// конкурентный вызов получает строку; остальные — models.ErrNotFound,
// по которому вызывающий отличает «уже решено» от «не существует».
func (s *Storage) DecidePendingAction(ctx context.Context, id int64, status string) (*models.PendingAction, error) {
	const op = "storage.DecidePendingAction"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE pending_actions
			  SET status = $2, decided_at = now()
			  WHERE id = $1 AND status = 'pending'
			  RETURNING id, kind, requester_id, payload, status, created_at, decided_at`
	row := s.DB.QueryRowContext(ctx, query, id, status)

	var result models.PendingAction
	var payloadRaw []byte
	err := row.Scan(&result.ID, &result.Kind, &result.RequesterID, &payloadRaw,
		&result.Status, &result.CreatedAt, &result.DecidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(payloadRaw, &result.Payload); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}
