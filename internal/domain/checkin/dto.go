package checkin

import (
	"time"
)

// DTO (Data Transfer Objects) для обмена с сервером регистрации и питания

// RegistrationPayload данные для регистрации участника на месте
type RegistrationPayload struct {
	RegistrationID string    `json:"registration_id" validate:"required" doc:"Client generated registration id"`
	EventID        string    `json:"event_id" validate:"required"`
	FullName       string    `json:"full_name" validate:"required,max=200"`
	Email          string    `json:"email" validate:"required,email"`
	Phone          string    `json:"phone,omitempty" validate:"omitempty,max=32"`
	CreatedBy      string    `json:"created_by" validate:"required"`
	CreatedAt      time.Time `json:"created_at" format:"date-time"`
}

// MealScanPayload данные для отметки посещения
type MealScanPayload struct {
	ScanEventID    string    `json:"scan_event_id"`
	RegistrationID string    `json:"registration_id"`
	EventID        string    `json:"event_id"`
	MealSessionID  string    `json:"meal_session_id,omitempty" doc:"Empty for event-level check-in"`
	ScannedBy      string    `json:"scanned_by"`
	ScannedAt      time.Time `json:"scanned_at" format:"date-time"`
}

// AuditPayload запись журнала неуспешных сканов
type AuditPayload struct {
	ScanEventID    string       `json:"scan_event_id"`
	QRPayloadRaw   string       `json:"qr_payload_raw"`
	DecodeResult   DecodeResult `json:"decode_result"`
	RegistrationID string       `json:"registration_id,omitempty"`
	EventID        string       `json:"event_id,omitempty"`
	MealSessionID  string       `json:"meal_session_id,omitempty"`
	ScannedBy      string       `json:"scanned_by"`
	ScannedAt      time.Time    `json:"scanned_at" format:"date-time"`
	Reason         string       `json:"reason,omitempty"`
}

// NewMealScanPayload собирает данные отметки из события сканирования
func NewMealScanPayload(e ScanEvent) MealScanPayload {
	return MealScanPayload{
		ScanEventID:    e.ID,
		RegistrationID: e.RegistrationID,
		EventID:        e.EventID,
		MealSessionID:  e.MealSessionID,
		ScannedBy:      e.ScannedBy,
		ScannedAt:      e.ScannedAt,
	}
}

// ScanEvent восстанавливает событие сканирования из отложенной отметки
func (p MealScanPayload) ScanEvent() ScanEvent {
	return ScanEvent{
		ID:             p.ScanEventID,
		DecodeResult:   ResultValid,
		RegistrationID: p.RegistrationID,
		EventID:        p.EventID,
		MealSessionID:  p.MealSessionID,
		ScannedBy:      p.ScannedBy,
		ScannedAt:      p.ScannedAt,
	}
}

// NewAuditPayload собирает запись аудита из события сканирования
func NewAuditPayload(e ScanEvent) AuditPayload {
	return AuditPayload{
		ScanEventID:    e.ID,
		QRPayloadRaw:   e.QRPayloadRaw,
		DecodeResult:   e.DecodeResult,
		RegistrationID: e.RegistrationID,
		EventID:        e.EventID,
		MealSessionID:  e.MealSessionID,
		ScannedBy:      e.ScannedBy,
		ScannedAt:      e.ScannedAt,
		Reason:         e.Reason,
	}
}

// RegistrationRequest запрос на создание регистрации
type RegistrationRequest struct {
	ClientActionID string              `json:"client_action_id" minLength:"1" doc:"Idempotency key"`
	Payload        RegistrationPayload `json:"payload"`
}

// MealScanRequest запрос на отметку посещения
type MealScanRequest struct {
	ClientActionID string          `json:"client_action_id" minLength:"1" doc:"Idempotency key"`
	Payload        MealScanPayload `json:"payload"`
}

// AuditRequest запрос на запись в журнал аудита
type AuditRequest struct {
	ClientActionID string       `json:"client_action_id" minLength:"1" doc:"Idempotency key"`
	Payload        AuditPayload `json:"payload"`
}

// SubmitStatus итог применения действия на сервере
type SubmitStatus string

const (
	SubmitApplied        SubmitStatus = "applied"
	SubmitAlreadyApplied SubmitStatus = "already_applied"
	SubmitRejected       SubmitStatus = "rejected"
)

// Причины отказа, которые возвращает сервер
const (
	ReasonAlreadyCheckedIn      = "ALREADY_CHECKED_IN"
	ReasonUnknownRegistration   = "UNKNOWN_REGISTRATION"
	ReasonDuplicateRegistration = "DUPLICATE_REGISTRATION"
	ReasonInvalidPayload        = "INVALID_PAYLOAD"
)

// SubmitResponse ответ сервера на любое действие
type SubmitResponse struct {
	Status SubmitStatus `json:"status" enum:"applied,already_applied,rejected"`
	Reason string       `json:"reason,omitempty"`
}

// Accepted сообщает, что сервер принял действие (в том числе повтор)
func (r SubmitResponse) Accepted() bool {
	return r.Status == SubmitApplied || r.Status == SubmitAlreadyApplied
}

// RejectionResult переводит причину отказа сервера в классификацию скана
func RejectionResult(reason string) DecodeResult {
	switch reason {
	case ReasonAlreadyCheckedIn:
		return ResultAlreadyCheckedIn
	case ReasonInvalidPayload:
		return ResultMalformed
	default:
		return ResultUnknownRegistration
	}
}

// RegistrationForm данные формы регистрации на месте
type RegistrationForm struct {
	EventID  string `json:"event_id" validate:"required"`
	FullName string `json:"full_name" validate:"required,max=200"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone,omitempty" validate:"omitempty,max=32"`
}
