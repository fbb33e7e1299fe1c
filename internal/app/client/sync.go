package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/exp/slog"
	"golang.org/x/sync/singleflight"

	"mealcheck/internal/domain/checkin"
	"mealcheck/internal/metrics"
)

// runTimeout ограничивает прогон, который продолжается после отмены вызвавшего
const runTimeout = 5 * time.Minute

// Reconciler отправляет очередь на сервер. Одновременно выполняется
// не больше одного прогона, параллельные вызовы ждут его результат.
type Reconciler struct {
	queue       *Queue
	remote      Remote
	auditor     *Auditor
	state       *StateHolder
	group       singleflight.Group
	timeout     time.Duration
	runTimeout  time.Duration
	maxFailures int
	log         *slog.Logger
	nowFunc     func() time.Time

	// onScanRejected получает отметку, окончательно отклоненную сервером
	onScanRejected func(checkin.ScanEvent)

	mu      sync.Mutex
	closed  bool
	closing context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

func NewReconciler(queue *Queue, remote Remote, auditor *Auditor, state *StateHolder, timeout time.Duration, maxFailures int, log *slog.Logger) *Reconciler {
	closing, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		queue:       queue,
		remote:      remote,
		auditor:     auditor,
		state:       state,
		timeout:     timeout,
		runTimeout:  runTimeout,
		maxFailures: maxFailures,
		log:         log.With(slog.String("component", "reconciler")),
		nowFunc:     time.Now,
		closing:     closing,
		cancel:      cancel,
	}
}

// OnScanRejected задает обработчик окончательно отклоненных отметок
func (r *Reconciler) OnScanRejected(fn func(checkin.ScanEvent)) {
	r.onScanRejected = fn
}

// SyncNow запускает прогон или присоединяется к уже идущему. Прогон не
// зависит от ctx вызвавшего: при его отмене вызов возвращается сразу,
// а остальные участники получают полный результат.
func (r *Reconciler) SyncNow(ctx context.Context) checkin.SyncResult {
	start := r.nowFunc()
	ch := r.group.DoChan("sync", func() (interface{}, error) {
		if !r.begin() {
			return checkin.SyncResult{
				StartTime: start,
				Errors:    []checkin.SyncError{{Reason: "reconciler closed"}},
			}, nil
		}
		defer r.running.Done()

		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.runTimeout)
		defer cancel()
		stop := context.AfterFunc(r.closing, cancel)
		defer stop()

		return r.drain(runCtx), nil
	})

	select {
	case res := <-ch:
		return res.Val.(checkin.SyncResult)
	case <-ctx.Done():
		return checkin.SyncResult{
			StartTime: start,
			Errors:    []checkin.SyncError{{Reason: ctx.Err().Error(), Retryable: true}},
			Duration:  r.nowFunc().Sub(start),
		}
	}
}

// Close прерывает текущий прогон и ждет его завершения
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.running.Wait()
}

func (r *Reconciler) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.running.Add(1)
	return true
}

func (r *Reconciler) drain(ctx context.Context) checkin.SyncResult {
	start := r.nowFunc()
	result := checkin.SyncResult{
		StartTime: start,
		Errors:    []checkin.SyncError{},
	}

	r.state.setSyncing(true)
	defer r.state.setSyncing(false)

	if !r.state.Snapshot().IsOnline {
		r.log.Debug("sync skipped: offline")
		result.Offline = true
		return result
	}

	actions, err := r.queue.Pending(ctx)
	if err != nil {
		r.log.Error("failed to read queue", "error", err)
		result.Errors = append(result.Errors, checkin.SyncError{Reason: err.Error(), Retryable: true})
		result.Duration = r.nowFunc().Sub(start)
		return result
	}

	r.log.Info("sync started", "pending", len(actions))

	// регистрации, у которых более раннее действие еще не отправлено
	blocked := make(map[string]bool)
	failures := 0

	for i, a := range actions {
		if ctx.Err() != nil {
			result.Deferred += len(actions) - i
			break
		}
		if failures >= r.maxFailures {
			r.log.Warn("sync stopped: server looks unavailable", "consecutive_failures", failures)
			result.Deferred += len(actions) - i
			break
		}
		if a.RegistrationID != "" && blocked[a.RegistrationID] {
			result.Deferred++
			continue
		}
		if !a.Due(r.nowFunc()) {
			if a.RegistrationID != "" {
				blocked[a.RegistrationID] = true
			}
			result.Deferred++
			continue
		}

		switch r.process(ctx, a, &result) {
		case outcomeSynced:
			failures = 0
		case outcomeRetry:
			failures++
			if a.RegistrationID != "" {
				blocked[a.RegistrationID] = true
			}
		case outcomeFailed:
			failures = 0
		}
	}

	now := r.nowFunc()
	r.state.setLastSync(now)
	result.Success = len(result.Errors) == 0 && result.Deferred == 0
	result.Duration = now.Sub(start)
	metrics.SyncDuration.Observe(result.Duration.Seconds())
	if _, err := r.queue.Stats(ctx); err != nil {
		r.log.Warn("failed to refresh queue stats", "error", err)
	}

	r.log.Info("sync finished",
		"success", result.Success,
		"synced_registrations", result.SyncedRegistrations,
		"synced_scans", result.SyncedScans,
		"synced_audits", result.SyncedAudits,
		"deferred", result.Deferred,
		"errors", len(result.Errors),
		"duration", result.Duration,
	)
	return result
}

type outcome int

const (
	outcomeSynced outcome = iota
	outcomeRetry
	outcomeFailed
)

func (r *Reconciler) process(ctx context.Context, a *checkin.PendingAction, result *checkin.SyncResult) outcome {
	if err := r.queue.MarkSyncing(ctx, a.ClientActionID); err != nil {
		result.Errors = append(result.Errors, syncError(a, err.Error(), true))
		return outcomeRetry
	}

	rctx, cancel := context.WithTimeout(ctx, r.timeout)
	resp, err := r.remote.Submit(rctx, a.Kind, a.ClientActionID, a.Payload)
	cancel()

	if err != nil {
		if mErr := r.queue.MarkRetry(ctx, a.ClientActionID, err); mErr != nil {
			r.log.Error("failed to schedule retry", "client_action_id", a.ClientActionID, "error", mErr)
		}
		metrics.SyncActionsTotal.WithLabelValues(string(a.Kind), "retry").Inc()
		result.Errors = append(result.Errors, syncError(a, err.Error(), true))
		return outcomeRetry
	}

	if resp.Accepted() {
		if err := r.queue.MarkSynced(ctx, a.ClientActionID); err != nil {
			// сервер идемпотентен: повтор вернет already_applied
			r.log.Error("failed to remove synced action", "client_action_id", a.ClientActionID, "error", err)
		}
		metrics.SyncActionsTotal.WithLabelValues(string(a.Kind), "synced").Inc()
		switch a.Kind {
		case checkin.KindRegistrationCreate:
			result.SyncedRegistrations++
		case checkin.KindMealScan:
			result.SyncedScans++
		case checkin.KindAuditWrite:
			result.SyncedAudits++
		}
		return outcomeSynced
	}

	if err := r.queue.MarkFailed(ctx, a.ClientActionID, resp.Reason); err != nil {
		r.log.Error("failed to mark action failed", "client_action_id", a.ClientActionID, "error", err)
	}
	metrics.SyncActionsTotal.WithLabelValues(string(a.Kind), "rejected").Inc()
	result.Errors = append(result.Errors, syncError(a, resp.Reason, false))

	if a.Kind == checkin.KindMealScan {
		var p checkin.MealScanPayload
		if err := json.Unmarshal(a.Payload, &p); err != nil {
			r.log.Error("failed to decode rejected scan", "client_action_id", a.ClientActionID, "error", err)
		} else {
			ev := p.ScanEvent().WithResult(checkin.RejectionResult(resp.Reason), resp.Reason)
			r.auditor.RecordFailedScan(ctx, ev)
			if r.onScanRejected != nil {
				r.onScanRejected(ev)
			}
		}
	}
	return outcomeFailed
}

func syncError(a *checkin.PendingAction, reason string, retryable bool) checkin.SyncError {
	return checkin.SyncError{
		ClientActionID: a.ClientActionID,
		Kind:           a.Kind,
		Reason:         reason,
		Retryable:      retryable,
	}
}
