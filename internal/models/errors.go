package models

import (
	"errors"
	"fmt"
)

// Ошибки ядра. Валидационные ошибки и нехватка баланса обратимы и
// превращаются на границе компонента в сообщение пользователю,
// остальные завершают текущую операцию.
var (
	// ErrNotFound неизвестная сессия или отложенное действие.
	ErrNotFound = errors.New("not found")
	// ErrConflict попытка начать диалог при уже активном.
	ErrConflict = errors.New("dialog already active")
	// ErrInsufficientBalance отказ в списании без изменения баланса.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrStaleTurn ход, проигравший гонку за текущий шаг сессии;
	// пользователю предлагается начать диалог заново.
	ErrStaleTurn = errors.New("stale dialog turn")
)

// ValidationError некорректный ввод пользователя на шаге диалога.
// Шаг не продвигается, пользователю повторяется тот же вопрос.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError создает ValidationError для поля field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation сообщает, является ли ошибка валидационной.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
