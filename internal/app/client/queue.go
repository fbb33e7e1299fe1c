package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"mealcheck/internal/domain/checkin"
	"mealcheck/internal/metrics"
)

// Queue долговременная очередь отложенных действий.
// Действие удаляется только после подтверждения сервером.
type Queue struct {
	store   Store
	log     *slog.Logger
	mu      sync.Mutex
	nowFunc func() time.Time
	jitter  func(time.Duration) time.Duration

	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// QueueStats размер очереди по типам действий
type QueueStats struct {
	Registrations int
	Scans         int
	Audits        int
	Failed        int
}

// Total число действий, ожидающих отправки
func (s QueueStats) Total() int {
	return s.Registrations + s.Scans + s.Audits
}

func NewQueue(store Store, baseBackoff, maxBackoff time.Duration, log *slog.Logger) *Queue {
	return &Queue{
		store:       store,
		log:         log.With(slog.String("component", "queue")),
		nowFunc:     time.Now,
		jitter:      halfJitter,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
}

// Enqueue сохраняет новое действие. Повтор clientActionId - ErrDuplicateAction.
func (q *Queue) Enqueue(ctx context.Context, a *checkin.PendingAction) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.store.Get(ctx, a.ClientActionID)
	if err == nil {
		return checkin.ErrDuplicateAction
	}
	if !errors.Is(err, checkin.ErrNotFound) {
		return storageErr(err)
	}

	stored := a.Clone()
	stored.Status = checkin.StatusPending
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = q.nowFunc()
	}
	if err := q.store.Put(ctx, stored); err != nil {
		return storageErr(err)
	}

	q.log.Debug("action enqueued", "client_action_id", a.ClientActionID, "kind", a.Kind)
	return nil
}

// Get возвращает действие по clientActionId
func (q *Queue) Get(ctx context.Context, clientActionID string) (*checkin.PendingAction, error) {
	a, err := q.store.Get(ctx, clientActionID)
	if errors.Is(err, checkin.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, storageErr(err)
	}
	return a, nil
}

// Pending возвращает все PENDING действия в порядке создания
func (q *Queue) Pending(ctx context.Context) ([]*checkin.PendingAction, error) {
	actions, err := q.store.List(ctx, checkin.StatusPending)
	if err != nil {
		return nil, storageErr(err)
	}
	return actions, nil
}

// Outstanding сообщает, есть ли у регистрации действия в PENDING или SYNCING
func (q *Queue) Outstanding(ctx context.Context, registrationID string) (bool, error) {
	if registrationID == "" {
		return false, nil
	}
	for _, status := range []checkin.ActionStatus{checkin.StatusPending, checkin.StatusSyncing} {
		actions, err := q.store.List(ctx, status)
		if err != nil {
			return false, storageErr(err)
		}
		for _, a := range actions {
			if a.RegistrationID == registrationID {
				return true, nil
			}
		}
	}
	return false, nil
}

// Failed возвращает действия, отклоненные сервером
func (q *Queue) Failed(ctx context.Context) ([]*checkin.PendingAction, error) {
	actions, err := q.store.List(ctx, checkin.StatusFailedPermanent)
	if err != nil {
		return nil, storageErr(err)
	}
	return actions, nil
}

func (q *Queue) MarkSyncing(ctx context.Context, clientActionID string) error {
	return q.update(ctx, clientActionID, func(a *checkin.PendingAction) {
		a.Status = checkin.StatusSyncing
		a.LastAttemptAt = q.nowFunc()
	})
}

// MarkSynced удаляет подтвержденное сервером действие
func (q *Queue) MarkSynced(ctx context.Context, clientActionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.store.Delete(ctx, clientActionID); err != nil {
		return storageErr(err)
	}
	q.log.Debug("action synced", "client_action_id", clientActionID)
	return nil
}

// MarkRetry возвращает действие в PENDING и откладывает следующую попытку
func (q *Queue) MarkRetry(ctx context.Context, clientActionID string, cause error) error {
	return q.update(ctx, clientActionID, func(a *checkin.PendingAction) {
		now := q.nowFunc()
		a.AttemptCount++
		a.LastAttemptAt = now
		a.LastError = cause.Error()
		a.NextAttemptAt = now.Add(q.Backoff(a.AttemptCount))
		a.Status = checkin.StatusPending

		q.log.Debug("action scheduled for retry",
			"client_action_id", clientActionID,
			"attempt", a.AttemptCount,
			"next_attempt_at", a.NextAttemptAt,
			"error", cause,
		)
	})
}

// MarkFailed переводит действие в FAILED_PERMANENT. Запись сохраняется для разбора.
func (q *Queue) MarkFailed(ctx context.Context, clientActionID, reason string) error {
	return q.update(ctx, clientActionID, func(a *checkin.PendingAction) {
		a.AttemptCount++
		a.LastAttemptAt = q.nowFunc()
		a.LastError = reason
		a.Status = checkin.StatusFailedPermanent

		q.log.Warn("action failed permanently", "client_action_id", clientActionID, "kind", a.Kind, "reason", reason)
	})
}

// Recover возвращает в PENDING действия, оставшиеся в SYNCING после аварийного завершения
func (q *Queue) Recover(ctx context.Context) (int, error) {
	return q.requeue(ctx, checkin.StatusSyncing, false)
}

// RetryFailed возвращает FAILED_PERMANENT действия в очередь по команде оператора
func (q *Queue) RetryFailed(ctx context.Context) (int, error) {
	return q.requeue(ctx, checkin.StatusFailedPermanent, true)
}

// Stats считает размер очереди и обновляет метрики
func (q *Queue) Stats(ctx context.Context) (QueueStats, error) {
	var st QueueStats
	for _, status := range []checkin.ActionStatus{checkin.StatusPending, checkin.StatusSyncing} {
		actions, err := q.store.List(ctx, status)
		if err != nil {
			return st, storageErr(err)
		}
		for _, a := range actions {
			switch a.Kind {
			case checkin.KindRegistrationCreate:
				st.Registrations++
			case checkin.KindMealScan:
				st.Scans++
			case checkin.KindAuditWrite:
				st.Audits++
			}
		}
	}

	failed, err := q.store.List(ctx, checkin.StatusFailedPermanent)
	if err != nil {
		return st, storageErr(err)
	}
	st.Failed = len(failed)

	metrics.PendingActions.WithLabelValues(string(checkin.KindRegistrationCreate)).Set(float64(st.Registrations))
	metrics.PendingActions.WithLabelValues(string(checkin.KindMealScan)).Set(float64(st.Scans))
	metrics.PendingActions.WithLabelValues(string(checkin.KindAuditWrite)).Set(float64(st.Audits))
	metrics.FailedActions.Set(float64(st.Failed))
	return st, nil
}

// Backoff задержка перед попыткой attempt: base*2^(attempt-1), не больше max, с джиттером
func (q *Queue) Backoff(attempt int) time.Duration {
	d := q.baseBackoff
	for i := 1; i < attempt && d < q.maxBackoff; i++ {
		d *= 2
	}
	if d > q.maxBackoff {
		d = q.maxBackoff
	}
	return q.jitter(d)
}

// halfJitter случайная задержка в [d/2, d]
func halfJitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + rand.N(d-half+1)
}

func (q *Queue) requeue(ctx context.Context, from checkin.ActionStatus, resetAttempts bool) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	actions, err := q.store.List(ctx, from)
	if err != nil {
		return 0, storageErr(err)
	}
	for _, a := range actions {
		a.Status = checkin.StatusPending
		a.NextAttemptAt = time.Time{}
		if resetAttempts {
			a.AttemptCount = 0
			a.LastError = ""
		}
		if err := q.store.Put(ctx, a); err != nil {
			return 0, storageErr(err)
		}
	}

	if len(actions) > 0 {
		q.log.Info("actions requeued", "from", from, "count", len(actions))
	}
	return len(actions), nil
}

func (q *Queue) update(ctx context.Context, clientActionID string, fn func(a *checkin.PendingAction)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	a, err := q.store.Get(ctx, clientActionID)
	if errors.Is(err, checkin.ErrNotFound) {
		return err
	}
	if err != nil {
		return storageErr(err)
	}

	fn(a)
	if err := q.store.Put(ctx, a); err != nil {
		return storageErr(err)
	}
	return nil
}

func storageErr(err error) error {
	return &checkin.DomainError{
		Err:     checkin.ErrStorageFailure,
		Message: fmt.Sprintf("local storage: %v", err),
		Code:    string(checkin.ResultStorageFailure),
	}
}
