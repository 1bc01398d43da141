package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/brandonlmk/jobs-marketplace/internal/models"
)

// CreateProfile вставляет профиль и возвращает его ID.
func (s *Storage) CreateProfile(ctx context.Context, profile models.Profile) (int64, error) {
	const op = "storage.CreateProfile"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	attrsRaw, err := json.Marshal(profile.Attrs)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	query := `INSERT INTO profiles (uid, account_id, kind, attrs)
			  VALUES ($1, $2, $3, $4)
			  RETURNING id`
	var newID int64
	err = s.DB.QueryRowContext(ctx, query,
		profile.UID, profile.AccountID, profile.Kind, attrsRaw).Scan(&newID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newID, nil
}

// GetProfile возвращает профиль по ID.
func (s *Storage) GetProfile(ctx context.Context, id int64) (*models.Profile, error) {
	const op = "storage.GetProfile"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, uid, account_id, kind, attrs, created_at
			  FROM profiles WHERE id = $1`
	return s.scanProfile(s.DB.QueryRowContext(ctx, query, id), op)
}

// ListProfiles возвращает профили аккаунта.
func (s *Storage) ListProfiles(ctx context.Context, accountID string) ([]models.Profile, error) {
	const op = "storage.ListProfiles"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, uid, account_id, kind, attrs, created_at
			  FROM profiles WHERE account_id = $1 ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var result []models.Profile
	for rows.Next() {
		var item models.Profile
		var attrsRaw []byte
		if err := rows.Scan(&item.ID, &item.UID, &item.AccountID, &item.Kind,
			&attrsRaw, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if err := json.Unmarshal(attrsRaw, &item.Attrs); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// UpdateProfileAttr обновляет одно поле анкеты. Список разрешённых
// полей проверяет вызывающий; имя поля попадает в запрос только как
// аргумент jsonb_build_object.
func (s *Storage) UpdateProfileAttr(ctx context.Context, id int64, attr, value string) error {
	const op = "storage.UpdateProfileAttr"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE profiles
			  SET attrs = attrs || jsonb_build_object($2::text, $3::text)
			  WHERE id = $1`
	result, err := s.DB.ExecContext(ctx, query, id, attr, value)
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

func (s *Storage) scanProfile(row *sql.Row, op string) (*models.Profile, error) {
	var result models.Profile
	var attrsRaw []byte
	err := row.Scan(&result.ID, &result.UID, &result.AccountID, &result.Kind,
		&attrsRaw, &result.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(attrsRaw, &result.Attrs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}
