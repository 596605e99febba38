package payout

import (
	"context"

	"github.com/ignatzorin/timemarket-backend/internal/domain/entity"
)

// Executor переводит деньги продавцу во внешней системе и возвращает ссылку на перевод.
// idempotencyKey стабилен для сессии: повтор после сбоя не должен создавать второй перевод.
type Executor interface {
	Execute(ctx context.Context, payout *entity.Payout, idempotencyKey string) (externalRef string, err error)
}

// ManualExecutor ничего не переводит: выплата проводится вручную по выгрузке.
type ManualExecutor struct{}

func (ManualExecutor) Execute(_ context.Context, payout *entity.Payout, _ string) (string, error) {
	return "manual:" + payout.SessionID.String(), nil
}
