package checkin

import (
	"encoding/json"
	"time"
)

// ActionKind тип отложенного действия
type ActionKind string

const (
	KindRegistrationCreate ActionKind = "REGISTRATION_CREATE"
	KindMealScan           ActionKind = "MEAL_SCAN"
	KindAuditWrite         ActionKind = "AUDIT_WRITE"
)

// ActionStatus статус отложенного действия
type ActionStatus string

const (
	StatusPending         ActionStatus = "PENDING"
	StatusSyncing         ActionStatus = "SYNCING"
	StatusSynced          ActionStatus = "SYNCED"
	StatusFailedPermanent ActionStatus = "FAILED_PERMANENT"
)

// DecodeResult результат классификации скана
type DecodeResult string

const (
	ResultValid               DecodeResult = "VALID"
	ResultMalformed           DecodeResult = "MALFORMED"
	ResultExpired             DecodeResult = "EXPIRED"
	ResultUnknownRegistration DecodeResult = "UNKNOWN_REGISTRATION"
	ResultAlreadyCheckedIn    DecodeResult = "ALREADY_CHECKED_IN"
	ResultNetworkError        DecodeResult = "NETWORK_ERROR"
	// ResultStorageFailure используется только как причина отказа, когда
	// локальное хранилище недоступно.
	ResultStorageFailure DecodeResult = "STORAGE_FAILURE"
)

// PendingAction единица работы, ожидающая отправки на сервер.
// ClientActionID назначается при создании и больше не меняется.
type PendingAction struct {
	ClientActionID string          `json:"client_action_id"`
	Kind           ActionKind      `json:"kind"`
	Payload        json.RawMessage `json:"payload"`
	RegistrationID string          `json:"registration_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	AttemptCount   int             `json:"attempt_count"`
	LastAttemptAt  time.Time       `json:"last_attempt_at,omitempty"`
	LastError      string          `json:"last_error,omitempty"`
	NextAttemptAt  time.Time       `json:"next_attempt_at"`
	Status         ActionStatus    `json:"status"`
}

// Due сообщает, можно ли отправлять действие в момент now
func (a *PendingAction) Due(now time.Time) bool {
	return a.Status == StatusPending && !a.NextAttemptAt.After(now)
}

// Clone возвращает независимую копию
func (a *PendingAction) Clone() *PendingAction {
	c := *a
	if a.Payload != nil {
		c.Payload = append(json.RawMessage(nil), a.Payload...)
	}
	return &c
}

// ScanContext контекст, в котором выполняется сканирование
type ScanContext struct {
	EventID       string `json:"event_id"`
	MealSessionID string `json:"meal_session_id,omitempty"`
	ScannedBy     string `json:"scanned_by"`
}

// ScanEvent неизменяемая запись одной попытки сканирования
type ScanEvent struct {
	ID             string       `json:"id"`
	QRPayloadRaw   string       `json:"qr_payload_raw"`
	DecodeResult   DecodeResult `json:"decode_result"`
	RegistrationID string       `json:"registration_id,omitempty"`
	EventID        string       `json:"event_id,omitempty"`
	MealSessionID  string       `json:"meal_session_id,omitempty"`
	ScannedBy      string       `json:"scanned_by"`
	ScannedAt      time.Time    `json:"scanned_at"`
	Reason         string       `json:"reason,omitempty"`
}

// WithResult возвращает копию события с другой классификацией.
// Исходное событие не меняется.
func (e ScanEvent) WithResult(result DecodeResult, reason string) ScanEvent {
	e.DecodeResult = result
	e.Reason = reason
	return e
}

// DuplicateKey ключ локальной защиты от повторного сканирования
func (e ScanEvent) DuplicateKey() string {
	return e.RegistrationID + "|" + e.MealSessionID
}

// Mode способ, которым был записан скан
type Mode string

const (
	ModeRemote Mode = "REMOTE"
	ModeQueued Mode = "QUEUED"
)

// ScanResult результат записи скана для UI
type ScanResult struct {
	Recorded bool         `json:"recorded"`
	Mode     Mode         `json:"mode,omitempty"`
	Reason   DecodeResult `json:"reason,omitempty"`
	Detail   string       `json:"detail,omitempty"`
	Event    ScanEvent    `json:"event"`
}

// SyncState состояние синхронизации в рамках текущего процесса
type SyncState struct {
	IsOnline       bool      `json:"is_online"`
	SyncInProgress bool      `json:"sync_in_progress"`
	LastSyncAt     time.Time `json:"last_sync_at,omitempty"`
}

// SyncStats статистика для UI
type SyncStats struct {
	IsOnline             bool      `json:"is_online"`
	PendingRegistrations int       `json:"pending_registrations"`
	PendingScans         int       `json:"pending_scans"`
	PendingAudits        int       `json:"pending_audits"`
	TotalPending         int       `json:"total_pending"`
	FailedPermanent      int       `json:"failed_permanent"`
	LastSyncAt           time.Time `json:"last_sync_at,omitempty"`
	SyncInProgress       bool      `json:"sync_in_progress"`
}

// SyncError ошибка отдельного действия при синхронизации
type SyncError struct {
	ClientActionID string     `json:"client_action_id"`
	Kind           ActionKind `json:"kind,omitempty"`
	Reason         string     `json:"reason"`
	Retryable      bool       `json:"retryable"`
}

// SyncResult результат одного прогона синхронизации. Deferred - действия,
// отложенные из-за backoff или более раннего неотправленного действия той же
// регистрации. Success означает, что очередь разобрана полностью.
type SyncResult struct {
	Success             bool          `json:"success"`
	SyncedRegistrations int           `json:"synced_registrations"`
	SyncedScans         int           `json:"synced_scans"`
	SyncedAudits        int           `json:"synced_audits"`
	Deferred            int           `json:"deferred"`
	Errors              []SyncError   `json:"errors"`
	Offline             bool          `json:"offline,omitempty"`
	StartTime           time.Time     `json:"start_time"`
	Duration            time.Duration `json:"duration"`
}
