package valueobject

import (
	"strconv"

	"github.com/ignatzorin/timemarket-backend/internal/pkg/apperror"
)

// MinutesPerUnit: длительность одной единицы времени продавца.
const MinutesPerUnit = 30

// Units: количество получасовых единиц.
type Units int

func NewUnits(n int) (Units, error) {
	if n <= 0 {
		return 0, apperror.New(apperror.ErrCodeValidation, "количество единиц должно быть положительным")
	}
	return Units(n), nil
}

func (u Units) Minutes() int {
	return int(u) * MinutesPerUnit
}

func (u Units) Hours() float64 {
	return float64(u.Minutes()) / 60
}

// String форматирует единицы как в интерфейсе бронирования: "30 min", "1 hour", "1.5 hours".
func (u Units) String() string {
	if u == 1 {
		return "30 min"
	}
	hours := strconv.FormatFloat(u.Hours(), 'f', -1, 64)
	if u == 2 {
		return hours + " hour"
	}
	return hours + " hours"
}
