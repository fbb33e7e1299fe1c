package client

import (
	"context"
	"encoding/json"

	"mealcheck/internal/domain/checkin"
)

// Remote сервис регистрации и питания. Submit идемпотентен по clientActionId.
// Ошибка означает сбой связи (checkin.ErrTransientNetwork), отказ сервера
// приходит как ответ со статусом rejected.
type Remote interface {
	Submit(ctx context.Context, kind checkin.ActionKind, clientActionID string, payload json.RawMessage) (checkin.SubmitResponse, error)
	Ping(ctx context.Context) error
}
