package client

import (
	"context"

	"mealcheck/internal/domain/checkin"
)

// Store долговременное хранилище отложенных действий, ключ - clientActionId.
// List возвращает действия в порядке создания.
type Store interface {
	Get(ctx context.Context, clientActionID string) (*checkin.PendingAction, error)
	Put(ctx context.Context, action *checkin.PendingAction) error
	Delete(ctx context.Context, clientActionID string) error
	List(ctx context.Context, status checkin.ActionStatus) ([]*checkin.PendingAction, error)
	Close() error
}
