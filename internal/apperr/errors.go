// Package apperr содержит типизированные ошибки предметной области.
//
// Сервисы возвращают эти значения без обёрток либо оборачивают через %w,
// поэтому вызывающий код проверяет их только через errors.Is / errors.As.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCredentials   = errors.New("invalid credentials")
	ErrAccountDisabled      = errors.New("account disabled")
	ErrInvalidPlatform      = errors.New("invalid platform")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionExpired       = errors.New("session expired")
	ErrTokenInvalid         = errors.New("token invalid")
	ErrLicenseExpired       = errors.New("license expired")
	ErrSeatLimitReached     = errors.New("seat limit reached")
	ErrMemberNotFound       = errors.New("member not found")
	ErrNotInRoster          = errors.New("not in roster")
	ErrAlreadyInOtherRoster = errors.New("already in other roster")
	ErrUnknownPermission    = errors.New("unknown permission")
	ErrPendingRequestExists = errors.New("pending request exists")
	ErrNoPendingRequest     = errors.New("no pending request")
	ErrStorage              = errors.New("storage error")

	ErrInvalidInput         = errors.New("invalid input")
	ErrUserNotFound         = errors.New("user not found")
	ErrEmailTaken           = errors.New("email already registered")
	ErrForbidden            = errors.New("forbidden")
	ErrLicenseNotFound      = errors.New("license not found")
	ErrLicenseAlreadyActive = errors.New("license already active")
	ErrNoSeatsInUse         = errors.New("no seats in use")
	ErrRequestNotFound      = errors.New("license request not found")
	ErrRequestProcessed     = errors.New("license request already processed")
	ErrResetCodeInvalid     = errors.New("reset code invalid or expired")
	ErrTooManyRequests      = errors.New("too many requests")
)

// UnknownPermissionError сообщает, какой именно ключ не входит в словарь прав.
type UnknownPermissionError struct {
	Key string
}

func (e *UnknownPermissionError) Error() string {
	return fmt.Sprintf("unknown permission: %q", e.Key)
}

// Is позволяет сравнивать с ErrUnknownPermission.
func (e *UnknownPermissionError) Is(target error) bool {
	return target == ErrUnknownPermission
}

// UnknownPermission создаёт ошибку для ключа key.
func UnknownPermission(key string) error {
	return &UnknownPermissionError{Key: key}
}

// StorageError оборачивает сбой базы данных или кеша.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// Storage оборачивает err в StorageError. Ошибки отмены контекста остаются
// доступными через errors.Is, так как StorageError реализует Unwrap.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Validation возвращает ErrInvalidInput с пояснением.
func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
