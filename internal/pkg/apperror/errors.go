package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	ErrCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized           ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden              ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest             ErrorCode = "BAD_REQUEST"
	ErrCodeValidation             ErrorCode = "VALIDATION_ERROR"
	ErrCodeInternal               ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidStateTransition ErrorCode = "INVALID_STATE_TRANSITION"
	ErrCodeInsufficientBalance    ErrorCode = "INSUFFICIENT_BALANCE"
	ErrCodeInvalidSeller          ErrorCode = "INVALID_SELLER"
	ErrCodeInvalidNotice          ErrorCode = "INVALID_NOTICE"
	ErrCodeConfiguration          ErrorCode = "CONFIGURATION_ERROR"
	ErrCodeLedgerInvariant        ErrorCode = "LEDGER_INVARIANT"
	ErrCodeRateLimited            ErrorCode = "RATE_LIMITED"
	// ErrCodeTransient: сбой хранилища, запрос можно безопасно повторить.
	ErrCodeTransient ErrorCode = "TRANSIENT"
)

type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is сравнивает ошибки по коду. Текст сообщения не учитывается.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

func Newf(code ErrorCode, format string, args ...any) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Cause:      err,
	}
}

func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	case ErrCodeBadRequest, ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeInvalidStateTransition, ErrCodeInsufficientBalance:
		return http.StatusConflict
	case ErrCodeInvalidSeller, ErrCodeInvalidNotice, ErrCodeConfiguration:
		return http.StatusUnprocessableEntity
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf возвращает код ошибки или ErrCodeInternal для неизвестных ошибок.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

func hasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

func IsForbidden(err error) bool {
	return hasCode(err, ErrCodeForbidden)
}

func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

func IsInvalidStateTransition(err error) bool {
	return hasCode(err, ErrCodeInvalidStateTransition)
}

func IsInsufficientBalance(err error) bool {
	return hasCode(err, ErrCodeInsufficientBalance)
}

func IsConfiguration(err error) bool {
	return hasCode(err, ErrCodeConfiguration)
}

// IsTransient сообщает, можно ли повторить операцию.
func IsTransient(err error) bool {
	return hasCode(err, ErrCodeTransient)
}

// IsBusiness сообщает, что ошибка является ожидаемым нарушением бизнес-правила,
// которое повтором не исправить.
func IsBusiness(err error) bool {
	switch CodeOf(err) {
	case ErrCodeNotFound, ErrCodeForbidden, ErrCodeValidation, ErrCodeBadRequest,
		ErrCodeInvalidStateTransition, ErrCodeInsufficientBalance,
		ErrCodeInvalidSeller, ErrCodeInvalidNotice, ErrCodeConfiguration:
		return true
	}
	return false
}

var (
	ErrSessionNotFound        = New(ErrCodeNotFound, "сессия не найдена")
	ErrWalletNotFound         = New(ErrCodeNotFound, "баланс не найден")
	ErrSellerNotFound         = New(ErrCodeNotFound, "продавец не найден")
	ErrUnauthorized           = New(ErrCodeUnauthorized, "требуется авторизация")
	ErrForbidden              = New(ErrCodeForbidden, "недостаточно прав")
	ErrNotParticipant         = New(ErrCodeForbidden, "вы не участник этой сессии")
	ErrInvalidStateTransition = New(ErrCodeInvalidStateTransition, "переход недопустим в текущем статусе")
	ErrInsufficientBalance    = New(ErrCodeInsufficientBalance, "недостаточно доступных единиц")
	ErrInvalidSeller          = New(ErrCodeInvalidSeller, "продавец недоступен для бронирования")
	ErrInvalidNotice          = New(ErrCodeInvalidNotice, "время сессии нарушает минимальный срок уведомления")
	ErrFeeCapExceeded         = New(ErrCodeConfiguration, "суммарная комиссия превышает допустимый максимум")
)
