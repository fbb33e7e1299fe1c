package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"mealcheck/internal/domain/checkin"
)

// Recorder записывает валидные сканы: сначала на сервер, при сбое связи в очередь.
// RECEIVED -> ATTEMPTING_REMOTE -> CONFIRMED | QUEUED_LOCAL | REJECTED
type Recorder struct {
	remote    Remote
	queue     *Queue
	auditor   *Auditor
	state     *StateHolder
	validate  *validator.Validate
	timeout   time.Duration
	stationID string
	log       *slog.Logger
	nowFunc   func() time.Time
	newID     func() string

	mu   sync.Mutex
	seen map[string]struct{}
}

func NewRecorder(remote Remote, queue *Queue, auditor *Auditor, state *StateHolder, timeout time.Duration, stationID string, log *slog.Logger) *Recorder {
	return &Recorder{
		remote:    remote,
		queue:     queue,
		auditor:   auditor,
		state:     state,
		validate:  validator.New(),
		timeout:   timeout,
		stationID: stationID,
		log:       log.With(slog.String("component", "recorder")),
		nowFunc:   time.Now,
		newID:     func() string { return uuid.NewString() },
		seen:      make(map[string]struct{}),
	}
}

// Seed восстанавливает защиту от повторов по отметкам, ожидающим отправки
func (r *Recorder) Seed(ctx context.Context) error {
	pending, err := r.queue.Pending(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range pending {
		if a.Kind != checkin.KindMealScan {
			continue
		}
		var p checkin.MealScanPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			r.log.Warn("skipping unreadable queued scan", "client_action_id", a.ClientActionID, "error", err)
			continue
		}
		r.seen[p.ScanEvent().DuplicateKey()] = struct{}{}
	}
	return nil
}

// RecordScan никогда не возвращает ошибку: исход скана описывает ScanResult
func (r *Recorder) RecordScan(ctx context.Context, ev checkin.ScanEvent) checkin.ScanResult {
	if ev.DecodeResult != checkin.ResultValid {
		r.auditor.RecordFailedScan(ctx, ev)
		return rejected(ev)
	}

	key := ev.DuplicateKey()
	if !r.reserve(key) {
		failed := ev.WithResult(checkin.ResultAlreadyCheckedIn, "already recorded on this station")
		r.auditor.RecordFailedScan(ctx, failed)
		return rejected(failed)
	}

	payload, err := json.Marshal(checkin.NewMealScanPayload(ev))
	if err != nil {
		r.release(key)
		failed := ev.WithResult(checkin.ResultMalformed, err.Error())
		r.auditor.RecordFailedScan(ctx, failed)
		return rejected(failed)
	}
	clientActionID := r.newID()

	if r.state.Snapshot().IsOnline && !r.behindQueue(ctx, ev.RegistrationID) {
		resp, err := r.submit(ctx, checkin.KindMealScan, clientActionID, payload)
		switch {
		case err == nil && resp.Accepted():
			r.log.Info("scan confirmed", "registration_id", ev.RegistrationID, "meal_session_id", ev.MealSessionID)
			return checkin.ScanResult{Recorded: true, Mode: checkin.ModeRemote, Event: ev}
		case err == nil:
			result := checkin.RejectionResult(resp.Reason)
			if result != checkin.ResultAlreadyCheckedIn {
				r.release(key)
			}
			failed := ev.WithResult(result, resp.Reason)
			r.auditor.RecordFailedScan(ctx, failed)
			return rejected(failed)
		default:
			r.log.Warn("remote check-in failed, queuing", "registration_id", ev.RegistrationID, "error", err)
		}
	}

	// повторно используем clientActionId: если сервер успел применить
	// запрос до таймаута, повтор вернет already_applied
	err = r.queue.Enqueue(ctx, &checkin.PendingAction{
		ClientActionID: clientActionID,
		Kind:           checkin.KindMealScan,
		Payload:        payload,
		RegistrationID: ev.RegistrationID,
		CreatedAt:      ev.ScannedAt,
		Status:         checkin.StatusPending,
	})
	if err != nil {
		r.release(key)
		r.log.Error("failed to queue scan", "registration_id", ev.RegistrationID, "error", err)
		r.auditor.RecordFailedScan(ctx, ev.WithResult(checkin.ResultNetworkError, err.Error()))
		return checkin.ScanResult{
			Recorded: false,
			Reason:   checkin.ResultStorageFailure,
			Detail:   err.Error(),
			Event:    ev,
		}
	}

	r.log.Info("scan queued", "registration_id", ev.RegistrationID, "client_action_id", clientActionID)
	return checkin.ScanResult{Recorded: true, Mode: checkin.ModeQueued, Event: ev}
}

// RegisterParticipant регистрирует участника на месте по той же схеме:
// сервер, при сбое связи очередь (REGISTRATION_CREATE)
func (r *Recorder) RegisterParticipant(ctx context.Context, form checkin.RegistrationForm) checkin.ScanResult {
	now := r.nowFunc()
	ev := checkin.ScanEvent{
		ID:        r.newID(),
		EventID:   form.EventID,
		ScannedBy: r.stationID,
		ScannedAt: now,
	}

	if err := r.validate.Struct(form); err != nil {
		return checkin.ScanResult{Reason: checkin.ResultMalformed, Detail: err.Error(), Event: ev}
	}

	ev.RegistrationID = r.newID()
	ev.DecodeResult = checkin.ResultValid
	payload, err := json.Marshal(checkin.RegistrationPayload{
		RegistrationID: ev.RegistrationID,
		EventID:        form.EventID,
		FullName:       form.FullName,
		Email:          form.Email,
		Phone:          form.Phone,
		CreatedBy:      r.stationID,
		CreatedAt:      now,
	})
	if err != nil {
		return checkin.ScanResult{Reason: checkin.ResultMalformed, Detail: err.Error(), Event: ev}
	}
	clientActionID := r.newID()

	if r.state.Snapshot().IsOnline {
		resp, err := r.submit(ctx, checkin.KindRegistrationCreate, clientActionID, payload)
		switch {
		case err == nil && resp.Accepted():
			r.log.Info("registration confirmed", "registration_id", ev.RegistrationID)
			return checkin.ScanResult{Recorded: true, Mode: checkin.ModeRemote, Event: ev}
		case err == nil:
			r.log.Warn("registration rejected", "reason", resp.Reason)
			return checkin.ScanResult{Reason: checkin.RejectionResult(resp.Reason), Detail: resp.Reason, Event: ev}
		default:
			r.log.Warn("remote registration failed, queuing", "error", err)
		}
	}

	err = r.queue.Enqueue(ctx, &checkin.PendingAction{
		ClientActionID: clientActionID,
		Kind:           checkin.KindRegistrationCreate,
		Payload:        payload,
		RegistrationID: ev.RegistrationID,
		CreatedAt:      now,
		Status:         checkin.StatusPending,
	})
	if err != nil {
		r.log.Error("failed to queue registration", "error", err)
		return checkin.ScanResult{Reason: checkin.ResultStorageFailure, Detail: err.Error(), Event: ev}
	}

	r.log.Info("registration queued", "registration_id", ev.RegistrationID, "client_action_id", clientActionID)
	return checkin.ScanResult{Recorded: true, Mode: checkin.ModeQueued, Event: ev}
}

// behindQueue сообщает, что у регистрации есть неотправленные действия.
// Отметка тогда встает в очередь за ними, чтобы сервер применил их по порядку.
func (r *Recorder) behindQueue(ctx context.Context, registrationID string) bool {
	waiting, err := r.queue.Outstanding(ctx, registrationID)
	if err != nil {
		r.log.Warn("failed to check queue, scan will be queued", "registration_id", registrationID, "error", err)
		return true
	}
	if waiting {
		r.log.Debug("earlier actions are queued, skipping remote attempt", "registration_id", registrationID)
	}
	return waiting
}

// Forget снимает защиту от повтора для отметки, которую сервер отклонил
// не как повторную: после исправления регистрации скан можно повторить
func (r *Recorder) Forget(ev checkin.ScanEvent) {
	if ev.DecodeResult == checkin.ResultAlreadyCheckedIn {
		return
	}
	r.release(ev.DuplicateKey())
}

func (r *Recorder) submit(ctx context.Context, kind checkin.ActionKind, id string, payload json.RawMessage) (checkin.SubmitResponse, error) {
	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.remote.Submit(rctx, kind, id, payload)
	if err != nil {
		return resp, fmt.Errorf("submit %s: %w", kind, err)
	}
	return resp, nil
}

// reserve занимает пару регистрация/сессия, false если она уже отмечена
func (r *Recorder) reserve(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[key]; ok {
		return false
	}
	r.seen[key] = struct{}{}
	return true
}

func (r *Recorder) release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, key)
}

func rejected(ev checkin.ScanEvent) checkin.ScanResult {
	return checkin.ScanResult{
		Recorded: false,
		Reason:   ev.DecodeResult,
		Detail:   ev.Reason,
		Event:    ev,
	}
}
