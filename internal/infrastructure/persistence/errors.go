package persistence

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"

	"github.com/lib/pq"

	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
)

const pqUniqueViolation = "23505"

// mapError переводит ошибки драйвера в коды приложения.
// Сбои сериализации, взаимные блокировки и обрывы соединения считаются временными.
func mapError(err error, message string) error {
	if err == nil {
		return nil
	}

	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return err
	}

	if isTransient(err) {
		return apperror.Wrap(err, apperror.ErrCodeTransient, message)
	}
	return apperror.Wrap(err, apperror.ErrCodeInternal, message)
}

func isTransient(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, sql.ErrTxDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		// 40: transaction rollback (40001 serialization_failure, 40P01 deadlock_detected),
		// 08: connection exception, 57: operator intervention (admin shutdown).
		case "40", "08", "57":
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
