package attendance

import (
	"context"

	"mealcheck/internal/domain/checkin"
)

// Outcome сохраненный итог применения клиентского действия
type Outcome struct {
	ClientActionID string
	Kind           checkin.ActionKind
	Status         checkin.SubmitStatus
	Reason         string
}

// Repository интерфейс хранилища посещаемости.
// Каждый Save* атомарно записывает данные и итог действия; повтор того же
// clientActionId возвращает ErrDuplicateAction.
type Repository interface {
	FindOutcome(ctx context.Context, clientActionID string) (*Outcome, error)
	RegistrationExists(ctx context.Context, registrationID string) (bool, error)

	SaveRegistration(ctx context.Context, clientActionID string, reg checkin.RegistrationPayload) error
	SaveMealScan(ctx context.Context, clientActionID string, scan checkin.MealScanPayload) error
	SaveAuditEntry(ctx context.Context, clientActionID string, entry checkin.AuditPayload) error
	SaveRejection(ctx context.Context, clientActionID string, kind checkin.ActionKind, reason string) error

	CountAttendance(ctx context.Context, registrationID, mealSessionID string) (int, error)
	Ping(ctx context.Context) error
}
