package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/brandonlmk/jobs-marketplace/internal/models"
)

// SweptAccount счёт, обнулённый очисткой просроченных балансов.
type SweptAccount struct {
	AccountID    string
	TokenBalance int
}

// CreditTokens зачисляет amount токенов на счёт, создавая его при
// первом зачислении. Срок действия берётся как максимум из текущего
// и нового, поэтому зачисление никогда не сокращает срок.
func (s *Storage) CreditTokens(ctx context.Context, accountID string, amount int, expiry time.Time) (*models.LedgerAccount, error) {
	const op = "storage.CreditTokens"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO ledger_accounts (account_id, token_balance, token_expiry)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (account_id) DO UPDATE
			  SET token_balance = ledger_accounts.token_balance + EXCLUDED.token_balance,
			      token_expiry = GREATEST(COALESCE(ledger_accounts.token_expiry, EXCLUDED.token_expiry),
			                              EXCLUDED.token_expiry)
			  RETURNING account_id, token_balance, token_expiry, shortlist_balance`
	row := s.DB.QueryRowContext(ctx, query, accountID, amount, expiry)

	var result models.LedgerAccount
	err := row.Scan(&result.AccountID, &result.TokenBalance, &result.TokenExpiry,
		&result.ShortlistBalance)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}

// RefundTokens возвращает amount токенов, если срок действия баланса
// ещё не истёк на момент now. Возвращает true, если возврат состоялся.
func (s *Storage) RefundTokens(ctx context.Context, accountID string, amount int, now time.Time) (bool, error) {
	const op = "storage.RefundTokens"
	select {
	case <-ctx.Done():
		return false, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE ledger_accounts
			  SET token_balance = token_balance + $2
			  WHERE account_id = $1 AND token_expiry IS NOT NULL AND token_expiry > $3`
	result, err := s.DB.ExecContext(ctx, query, accountID, amount, now)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rowsAffected > 0, nil
}

// CreditShortlist зачисляет amount кредитов шортлиста. Срока действия
// у кредитов шортлиста нет.
func (s *Storage) CreditShortlist(ctx context.Context, accountID string, amount int) (*models.LedgerAccount, error) {
	const op = "storage.CreditShortlist"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO ledger_accounts (account_id, shortlist_balance)
			  VALUES ($1, $2)
			  ON CONFLICT (account_id) DO UPDATE
			  SET shortlist_balance = ledger_accounts.shortlist_balance + EXCLUDED.shortlist_balance
			  RETURNING account_id, token_balance, token_expiry, shortlist_balance`
	row := s.DB.QueryRowContext(ctx, query, accountID, amount)

	var result models.LedgerAccount
	err := row.Scan(&result.AccountID, &result.TokenBalance, &result.TokenExpiry,
		&result.ShortlistBalance)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}

// DebitShortlist списывает amount кредитов шортлиста одним условным
// обновлением. При нехватке баланса строка не меняется и возвращается
// models.ErrInsufficientBalance.
func (s *Storage) DebitShortlist(ctx context.Context, accountID string, amount int) error {
	const op = "storage.DebitShortlist"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE ledger_accounts
			  SET shortlist_balance = shortlist_balance - $2
			  WHERE account_id = $1 AND shortlist_balance >= $2`
	result, err := s.DB.ExecContext(ctx, query, accountID, amount)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, models.ErrInsufficientBalance)
	}
	return nil
}

// GetLedgerAccount возвращает счёт по идентификатору аккаунта.
func (s *Storage) GetLedgerAccount(ctx context.Context, accountID string) (*models.LedgerAccount, error) {
	const op = "storage.GetLedgerAccount"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT account_id, token_balance, token_expiry, shortlist_balance
			  FROM ledger_accounts WHERE account_id = $1`
	row := s.DB.QueryRowContext(ctx, query, accountID)

	var result models.LedgerAccount
	err := row.Scan(&result.AccountID, &result.TokenBalance, &result.TokenExpiry,
		&result.ShortlistBalance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &result, nil
}

// SweepExpiredTokens обнуляет балансы со сроком действия не позже now
// и возвращает затронутые счета. Обнулённые строки теряют срок
// действия, поэтому повторная очистка их не находит.
func (s *Storage) SweepExpiredTokens(ctx context.Context, now time.Time) ([]SweptAccount, error) {
	const op = "storage.SweepExpiredTokens"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `WITH expired AS (
			      SELECT account_id, token_balance
			      FROM ledger_accounts
			      WHERE token_expiry <= $1 AND token_balance > 0
			      FOR UPDATE
			  )
			  UPDATE ledger_accounts la
			  SET token_balance = 0, token_expiry = NULL
			  FROM expired e
			  WHERE la.account_id = e.account_id
			  RETURNING e.account_id, e.token_balance`
	rows, err := s.DB.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var swept []SweptAccount
	for rows.Next() {
		var item SweptAccount
		if err := rows.Scan(&item.AccountID, &item.TokenBalance); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		swept = append(swept, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return swept, nil
}
