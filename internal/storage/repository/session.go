package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/brandonlmk/jobs-marketplace/internal/models"
)

// StartSession начинает диалог в сессии. Вставка либо условное
// обновление выполняются одним оператором: если в сессии уже идёт
// диалог (current_step не NULL), строка не меняется и возвращается
// models.ErrConflict.
func (s *Storage) StartSession(ctx context.Context, sessionID, dialog, firstStep string) error {
	const op = "storage.StartSession"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO sessions (session_id, dialog, current_step, scratch, created_at)
			  VALUES ($1, $2, $3, '{}'::jsonb, now())
			  ON CONFLICT (session_id) DO UPDATE
			  SET dialog = EXCLUDED.dialog,
			      current_step = EXCLUDED.current_step,
			      scratch = '{}'::jsonb,
			      created_at = now()
			  WHERE sessions.current_step IS NULL`
	result, err := s.DB.ExecContext(ctx, query, sessionID, dialog, firstStep)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrConflict)
	}
	return nil
}

// GetSession возвращает сессию по идентификатору. Неизвестная сессия —
// models.ErrNotFound.
func (s *Storage) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	const op = "storage.GetSession"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT session_id, dialog, COALESCE(current_step, ''), scratch, created_at
			  FROM sessions WHERE session_id = $1`
	row := s.DB.QueryRowContext(ctx, query, sessionID)

	var result models.Session
	var scratchRaw []byte
	err := row.Scan(&result.SessionID, &result.Dialog, &result.CurrentStep,
		&scratchRaw, &result.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(scratchRaw, &result.Scratch); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}

// AdvanceSession записывает поле текущего шага в scratch и переводит
// сессию на следующий шаг одним условным обновлением. Сравнение с
// fromStep отсекает ход, проигравший гонку: тогда возвращается
// models.ErrStaleTurn.
func (s *Storage) AdvanceSession(ctx context.Context, sessionID, fromStep, field, value, nextStep string) error {
	const op = "storage.AdvanceSession"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE sessions
			  SET scratch = scratch || jsonb_build_object($3::text, $4::text),
			      current_step = NULLIF($5, '')
			  WHERE session_id = $1 AND current_step = $2`
	result, err := s.DB.ExecContext(ctx, query, sessionID, fromStep, field, value, nextStep)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrStaleTurn)
	}
	return nil
}

// ClearSession завершает диалог и очищает scratch. Операция
// безусловна и идемпотентна: повторный вызов ничего не меняет.
func (s *Storage) ClearSession(ctx context.Context, sessionID string) error {
	const op = "storage.ClearSession"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE sessions
			  SET current_step = NULL, scratch = '{}'::jsonb
			  WHERE session_id = $1`
	if _, err := s.DB.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
