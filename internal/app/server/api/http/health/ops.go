package health

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

func (h *Handler) healthCheckOp() huma.Operation {
	return huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/v1/health",
		Summary:     "Проверка связи",
		Description: "Станции вызывают операцию как probe доступности. 503, если хранилище недоступно.",
		Tags:        []string{"stations"},
		Middlewares: h.middleware,
	}
}
