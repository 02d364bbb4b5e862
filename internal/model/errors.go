package model

import (
	"errors"
	"fmt"
)

// Виды ошибок, которые видит вызывающая сторона.
var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrInvalidState     = errors.New("invalid state")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError описывает некорректное значение конкретного поля.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError создаёт ошибку валидации поля.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// StateError означает, что операция запрещена текущим состоянием сущности.
type StateError struct {
	Message string
}

func (e *StateError) Error() string {
	return e.Message
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrInvalidState).
func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// Сообщения о запрещённых переходах состояния.
var (
	ErrSettledExpenseEdit   = &StateError{Message: "cannot edit a settled expense"}
	ErrSettledExpenseDelete = &StateError{Message: "cannot delete a settled expense"}
	ErrFriendHasUnsettled   = &StateError{Message: "cannot delete friend with unsettled expenses"}
)

// Unavailable оборачивает инфраструктурную ошибку хранилища.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
