package valueobject

import (
	"fmt"

	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
)

// Cents: денежная сумма в минимальных единицах валюты.
type Cents int64

func NewCents(amount int64) (Cents, error) {
	if amount < 0 {
		return 0, apperror.New(apperror.ErrCodeValidation, "сумма не может быть отрицательной")
	}
	return Cents(amount), nil
}

// Times возвращает стоимость units единиц по цене c за единицу.
func (c Cents) Times(units Units) Cents {
	return c * Cents(units)
}

func (c Cents) String() string {
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s$%d.%02d", sign, c/100, c%100)
}
