package checkin

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) registrationOp() huma.Operation {
	return huma.Operation{
		OperationID: "registrations-create",
		Method:      http.MethodPost,
		Path:        "/api/v1/registrations",
		Summary:     "Регистрация участника на месте",
		Description: "Идемпотентно по client_action_id. Повтор возвращает already_applied или исходный отказ.",
		Tags:        []string{"check-in"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) mealScanOp() huma.Operation {
	return huma.Operation{
		OperationID: "meal-scans-create",
		Method:      http.MethodPost,
		Path:        "/api/v1/meal-scans",
		Summary:     "Отметка посещения",
		Description: "Первый принятый скан пары регистрация/сессия выигрывает, остальные получают ALREADY_CHECKED_IN.",
		Tags:        []string{"check-in"},
		Middlewares: h.middleware,
	}
}

func (h *Handler) auditEntryOp() huma.Operation {
	return huma.Operation{
		OperationID: "audit-entries-create",
		Method:      http.MethodPost,
		Path:        "/api/v1/audit-entries",
		Summary:     "Запись в журнал неуспешных сканов",
		Tags:        []string{"audit"},
		Middlewares: h.middleware,
	}
}
