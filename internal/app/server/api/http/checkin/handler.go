package checkin

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"golang.org/x/exp/slog"

	"mealcheck/internal/domain/attendance"
	"mealcheck/internal/domain/checkin"
	"mealcheck/internal/metrics"
)

type Handler struct {
	service    attendance.Servicer
	log        *slog.Logger
	middleware huma.Middlewares
}

func NewHandler(service attendance.Servicer, log *slog.Logger, mws huma.Middlewares) *Handler {
	return &Handler{
		service:    service,
		log:        log,
		middleware: mws,
	}
}

func (h *Handler) SetupRoutes(api huma.API) {
	huma.Register(api, h.registrationOp(), h.registration)
	huma.Register(api, h.mealScanOp(), h.mealScan)
	huma.Register(api, h.auditEntryOp(), h.auditEntry)
}

func (h *Handler) registration(ctx context.Context, input *registrationInput) (*output, error) {
	resp, err := h.service.SubmitRegistration(ctx, input.Body)
	return h.respond(checkin.KindRegistrationCreate, input.Body.ClientActionID, resp, err)
}

func (h *Handler) mealScan(ctx context.Context, input *mealScanInput) (*output, error) {
	resp, err := h.service.SubmitMealScan(ctx, input.Body)
	return h.respond(checkin.KindMealScan, input.Body.ClientActionID, resp, err)
}

func (h *Handler) auditEntry(ctx context.Context, input *auditInput) (*output, error) {
	resp, err := h.service.SubmitAuditEntry(ctx, input.Body)
	return h.respond(checkin.KindAuditWrite, input.Body.ClientActionID, resp, err)
}

// respond ошибки хранилища отдаются как 500: станция повторит действие позже
func (h *Handler) respond(kind checkin.ActionKind, id string, resp checkin.SubmitResponse, err error) (*output, error) {
	if err != nil {
		h.log.Error("failed to apply client action", "kind", kind, "client_action_id", id, "error", err)
		metrics.SubmissionsTotal.WithLabelValues(string(kind), "error").Inc()
		return nil, huma.Error500InternalServerError("failed to apply action")
	}

	metrics.SubmissionsTotal.WithLabelValues(string(kind), string(resp.Status)).Inc()
	return &output{Body: resp}, nil
}
