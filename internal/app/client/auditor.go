package client

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"golang.org/x/exp/slog"

	"mealcheck/internal/domain/checkin"
)

// Auditor пишет в журнал каждый неуспешный скан. Записи только добавляются:
// сначала напрямую на сервер, при сбое через очередь (AUDIT_WRITE).
type Auditor struct {
	remote  Remote
	queue   *Queue
	state   *StateHolder
	timeout time.Duration
	log     *slog.Logger
}

func NewAuditor(remote Remote, queue *Queue, state *StateHolder, timeout time.Duration, log *slog.Logger) *Auditor {
	return &Auditor{
		remote:  remote,
		queue:   queue,
		state:   state,
		timeout: timeout,
		log:     log.With(slog.String("component", "auditor")),
	}
}

// RecordFailedScan никогда не возвращает ошибку вызывающему.
// clientActionId записи аудита совпадает с ID события сканирования.
func (a *Auditor) RecordFailedScan(ctx context.Context, ev checkin.ScanEvent) {
	payload, err := json.Marshal(checkin.NewAuditPayload(ev))
	if err != nil {
		a.log.Error("failed to encode audit entry", "scan_event_id", ev.ID, "error", err)
		return
	}

	a.log.Info("failed scan",
		"scan_event_id", ev.ID,
		"result", ev.DecodeResult,
		"registration_id", ev.RegistrationID,
		"reason", ev.Reason,
	)

	if a.state.Snapshot().IsOnline {
		rctx, cancel := context.WithTimeout(ctx, a.timeout)
		resp, err := a.remote.Submit(rctx, checkin.KindAuditWrite, ev.ID, payload)
		cancel()

		switch {
		case err == nil && resp.Accepted():
			a.log.Debug("audit entry written", "scan_event_id", ev.ID)
			return
		case err == nil:
			// сервер не принял запись; сохраняем локально для разбора
			a.enqueue(ctx, ev, payload)
			if err := a.queue.MarkFailed(ctx, ev.ID, resp.Reason); err != nil {
				a.log.Error("failed to mark audit entry", "scan_event_id", ev.ID, "error", err)
			}
			return
		default:
			a.log.Debug("audit write deferred", "scan_event_id", ev.ID, "error", err)
		}
	}

	a.enqueue(ctx, ev, payload)
}

func (a *Auditor) enqueue(ctx context.Context, ev checkin.ScanEvent, payload json.RawMessage) {
	err := a.queue.Enqueue(ctx, &checkin.PendingAction{
		ClientActionID: ev.ID,
		Kind:           checkin.KindAuditWrite,
		Payload:        payload,
		CreatedAt:      ev.ScannedAt,
		Status:         checkin.StatusPending,
	})
	if err != nil && !errors.Is(err, checkin.ErrDuplicateAction) {
		a.log.Error("audit entry lost: local storage unavailable", "scan_event_id", ev.ID, "error", err)
	}
}
