package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/brandonlmk/jobs-marketplace/internal/models"
)

// SubmitJobForReview одной транзакцией списывает cost токенов,
// вставляет вакансию в статусе draft и регистрирует отложенное
// действие job-post. Возвращает ID вакансии и действия. Любой сбой,
// включая нехватку баланса, откатывает транзакцию целиком: списание
// без зарегистрированного действия невозможно.
func (s *Storage) SubmitJobForReview(ctx context.Context, accountID string, cost int, job models.Job) (int64, int64, error) {
	const op = "storage.SubmitJobForReview"
	select {
	case <-ctx.Done():
		return 0, 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	if err := debitTokensTx(ctx, tx, accountID, cost); err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}

	query := `INSERT INTO jobs (account_id, profile_id, title, industry, schedule, pay_rate, scope, status)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, 'draft')
			  RETURNING id`
	var jobID int64
	err = tx.QueryRowContext(ctx, query,
		job.AccountID, job.ProfileID, job.Title, job.Industry, job.Schedule,
		job.PayRate, job.Scope).Scan(&jobID)
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}

	actionID, err := createPendingActionTx(ctx, tx, models.ActionKindJobPost, accountID,
		models.ActionPayload{JobID: &jobID, DebitedTokens: cost})
	if err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("%s: %w", op, err)
	}
	return jobID, actionID, nil
}

// SubmitJobRepost одной транзакцией списывает cost токенов и
// регистрирует действие job-repost для существующей вакансии.
// Возвращает ID действия; контракт отката тот же, что у
// SubmitJobForReview.
func (s *Storage) SubmitJobRepost(ctx context.Context, accountID string, cost int, jobID int64) (int64, error) {
	const op = "storage.SubmitJobRepost"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback()

	if err := debitTokensTx(ctx, tx, accountID, cost); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	actionID, err := createPendingActionTx(ctx, tx, models.ActionKindJobRepost, accountID,
		models.ActionPayload{JobID: &jobID, DebitedTokens: cost})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return actionID, nil
}

func debitTokensTx(ctx context.Context, tx *sql.Tx, accountID string, amount int) error {
	query := `UPDATE ledger_accounts
			  SET token_balance = token_balance - $2
			  WHERE account_id = $1 AND token_balance >= $2`
	result, err := tx.ExecContext(ctx, query, accountID, amount)
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return models.ErrInsufficientBalance
	}
	return nil
}

func createPendingActionTx(ctx context.Context, tx *sql.Tx, kind, requesterID string, payload models.ActionPayload) (int64, error) {
	payloadRaw, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	query := `INSERT INTO pending_actions (kind, requester_id, payload, status)
			  VALUES ($1, $2, $3, 'pending')
			  RETURNING id`
	var id int64
	if err := tx.QueryRowContext(ctx, query, kind, requesterID, payloadRaw).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}
