package attendance

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"golang.org/x/exp/slog"

	"mealcheck/internal/domain/checkin"
)

// Servicer применяет действия станций. Все методы идемпотентны по clientActionId.
type Servicer interface {
	SubmitRegistration(ctx context.Context, req checkin.RegistrationRequest) (checkin.SubmitResponse, error)
	SubmitMealScan(ctx context.Context, req checkin.MealScanRequest) (checkin.SubmitResponse, error)
	SubmitAuditEntry(ctx context.Context, req checkin.AuditRequest) (checkin.SubmitResponse, error)
}

type Service struct {
	repo     Repository
	validate *validator.Validate
	log      *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		validate: validator.New(),
		log:      log.With(slog.String("component", "attendance")),
	}
}

// SubmitRegistration создает регистрацию, созданную на месте
func (s *Service) SubmitRegistration(ctx context.Context, req checkin.RegistrationRequest) (checkin.SubmitResponse, error) {
	id := req.ClientActionID
	if resp, ok, err := s.replay(ctx, id); err != nil || ok {
		return resp, err
	}

	if err := s.validate.Struct(req.Payload); err != nil {
		s.log.Debug("registration payload rejected", "client_action_id", id, "error", err)
		return s.reject(ctx, id, checkin.KindRegistrationCreate, checkin.ReasonInvalidPayload)
	}

	err := s.repo.SaveRegistration(ctx, id, req.Payload)
	switch {
	case err == nil:
		s.log.Info("registration applied", "client_action_id", id, "registration_id", req.Payload.RegistrationID)
		return checkin.SubmitResponse{Status: checkin.SubmitApplied}, nil
	case errors.Is(err, ErrDuplicateAction):
		return s.mustReplay(ctx, id)
	case errors.Is(err, ErrDuplicateRegistration):
		return s.reject(ctx, id, checkin.KindRegistrationCreate, checkin.ReasonDuplicateRegistration)
	default:
		return checkin.SubmitResponse{}, fmt.Errorf("save registration: %w", err)
	}
}

// SubmitMealScan отмечает посещение. Первый принятый скан пары
// регистрация/сессия выигрывает, остальные отклоняются.
func (s *Service) SubmitMealScan(ctx context.Context, req checkin.MealScanRequest) (checkin.SubmitResponse, error) {
	id := req.ClientActionID
	if resp, ok, err := s.replay(ctx, id); err != nil || ok {
		return resp, err
	}

	if req.Payload.RegistrationID == "" {
		return s.reject(ctx, id, checkin.KindMealScan, checkin.ReasonInvalidPayload)
	}

	exists, err := s.repo.RegistrationExists(ctx, req.Payload.RegistrationID)
	if err != nil {
		return checkin.SubmitResponse{}, fmt.Errorf("lookup registration: %w", err)
	}
	if !exists {
		return s.reject(ctx, id, checkin.KindMealScan, checkin.ReasonUnknownRegistration)
	}

	err = s.repo.SaveMealScan(ctx, id, req.Payload)
	switch {
	case err == nil:
		s.log.Info("meal scan applied",
			"client_action_id", id,
			"registration_id", req.Payload.RegistrationID,
			"meal_session_id", req.Payload.MealSessionID,
		)
		return checkin.SubmitResponse{Status: checkin.SubmitApplied}, nil
	case errors.Is(err, ErrDuplicateAction):
		return s.mustReplay(ctx, id)
	case errors.Is(err, ErrAlreadyCheckedIn):
		return s.reject(ctx, id, checkin.KindMealScan, checkin.ReasonAlreadyCheckedIn)
	case errors.Is(err, ErrUnknownRegistration):
		// регистрация удалена между проверкой и записью
		return s.reject(ctx, id, checkin.KindMealScan, checkin.ReasonUnknownRegistration)
	default:
		return checkin.SubmitResponse{}, fmt.Errorf("save meal scan: %w", err)
	}
}

// SubmitAuditEntry добавляет запись в журнал неуспешных сканов.
// Записи журнала только добавляются.
func (s *Service) SubmitAuditEntry(ctx context.Context, req checkin.AuditRequest) (checkin.SubmitResponse, error) {
	id := req.ClientActionID
	if resp, ok, err := s.replay(ctx, id); err != nil || ok {
		return resp, err
	}

	err := s.repo.SaveAuditEntry(ctx, id, req.Payload)
	switch {
	case err == nil:
		s.log.Debug("audit entry applied", "client_action_id", id, "result", req.Payload.DecodeResult)
		return checkin.SubmitResponse{Status: checkin.SubmitApplied}, nil
	case errors.Is(err, ErrDuplicateAction):
		return s.mustReplay(ctx, id)
	default:
		return checkin.SubmitResponse{}, fmt.Errorf("save audit entry: %w", err)
	}
}

// replay возвращает исходный итог, если действие уже обрабатывалось
func (s *Service) replay(ctx context.Context, id string) (checkin.SubmitResponse, bool, error) {
	outcome, err := s.repo.FindOutcome(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return checkin.SubmitResponse{}, false, nil
	}
	if err != nil {
		return checkin.SubmitResponse{}, false, fmt.Errorf("find outcome: %w", err)
	}

	s.log.Debug("replayed client action", "client_action_id", id, "status", outcome.Status)
	if outcome.Status == checkin.SubmitRejected {
		return checkin.SubmitResponse{Status: checkin.SubmitRejected, Reason: outcome.Reason}, true, nil
	}
	return checkin.SubmitResponse{Status: checkin.SubmitAlreadyApplied}, true, nil
}

func (s *Service) mustReplay(ctx context.Context, id string) (checkin.SubmitResponse, error) {
	resp, ok, err := s.replay(ctx, id)
	if err != nil {
		return resp, err
	}
	if !ok {
		return resp, fmt.Errorf("outcome for %s vanished after conflict", id)
	}
	return resp, nil
}

func (s *Service) reject(ctx context.Context, id string, kind checkin.ActionKind, reason string) (checkin.SubmitResponse, error) {
	err := s.repo.SaveRejection(ctx, id, kind, reason)
	if errors.Is(err, ErrDuplicateAction) {
		return s.mustReplay(ctx, id)
	}
	if err != nil {
		return checkin.SubmitResponse{}, fmt.Errorf("save rejection: %w", err)
	}

	s.log.Info("client action rejected", "client_action_id", id, "kind", kind, "reason", reason)
	return checkin.SubmitResponse{Status: checkin.SubmitRejected, Reason: reason}, nil
}
