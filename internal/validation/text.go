// Package validation: проверки пользовательского текста, который сохраняется вместе с сессией.
package validation

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
)

// Константы валидации
const (
	MaxTopicLength  = 500
	MaxReasonLength = 1000
)

// ValidateLength проверяет длину строки в символах.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return apperror.Newf(apperror.ErrCodeValidation, "%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return apperror.Newf(apperror.ErrCodeValidation, "%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// NormalizeText обрезает пробелы по краям и отклоняет управляющие символы, кроме переводов строки и табуляции.
func NormalizeText(fieldName, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	for _, r := range value {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return "", apperror.Newf(apperror.ErrCodeValidation, "%s содержит недопустимые символы", fieldName)
		}
	}
	if err := ValidateLength(fieldName, value, 0, max); err != nil {
		return "", err
	}
	return value, nil
}

// SessionTopic нормализует тему сессии. Пустая тема допустима.
func SessionTopic(topic string) (string, error) {
	return NormalizeText("тема", topic, MaxTopicLength)
}

// Reason нормализует причину отмены или отклонения. Пустая причина превращается в nil.
func Reason(reason *string) (*string, error) {
	if reason == nil {
		return nil, nil
	}
	v, err := NormalizeText("причина", *reason, MaxReasonLength)
	if err != nil || v == "" {
		return nil, err
	}
	return &v, nil
}
