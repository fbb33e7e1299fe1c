// Package memory хранилище посещаемости в памяти процесса.
// Используется в тестах и при запуске сервера без DATABASE_URI.
package memory

import (
	"context"
	"sync"

	"mealcheck/internal/domain/attendance"
	"mealcheck/internal/domain/checkin"
)

type AttendanceRepository struct {
	mu            sync.RWMutex
	outcomes      map[string]attendance.Outcome
	registrations map[string]checkin.RegistrationPayload
	emails        map[string]string
	attendance    map[string]checkin.MealScanPayload
	audit         []checkin.AuditPayload
}

func NewAttendanceRepository() *AttendanceRepository {
	return &AttendanceRepository{
		outcomes:      make(map[string]attendance.Outcome),
		registrations: make(map[string]checkin.RegistrationPayload),
		emails:        make(map[string]string),
		attendance:    make(map[string]checkin.MealScanPayload),
	}
}

// Seed добавляет предварительные регистрации (импорт списка участников)
func (r *AttendanceRepository) Seed(regs ...checkin.RegistrationPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range regs {
		r.registrations[reg.RegistrationID] = reg
		r.emails[emailKey(reg.EventID, reg.Email)] = reg.RegistrationID
	}
}

func (r *AttendanceRepository) FindOutcome(_ context.Context, clientActionID string) (*attendance.Outcome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.outcomes[clientActionID]
	if !ok {
		return nil, attendance.ErrNotFound
	}
	return &o, nil
}

func (r *AttendanceRepository) RegistrationExists(_ context.Context, registrationID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.registrations[registrationID]
	return ok, nil
}

func (r *AttendanceRepository) SaveRegistration(_ context.Context, clientActionID string, reg checkin.RegistrationPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.outcomes[clientActionID]; ok {
		return attendance.ErrDuplicateAction
	}
	if _, ok := r.registrations[reg.RegistrationID]; ok {
		return attendance.ErrDuplicateRegistration
	}
	if _, ok := r.emails[emailKey(reg.EventID, reg.Email)]; ok {
		return attendance.ErrDuplicateRegistration
	}

	r.registrations[reg.RegistrationID] = reg
	r.emails[emailKey(reg.EventID, reg.Email)] = reg.RegistrationID
	r.applied(clientActionID, checkin.KindRegistrationCreate)
	return nil
}

func (r *AttendanceRepository) SaveMealScan(_ context.Context, clientActionID string, scan checkin.MealScanPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.outcomes[clientActionID]; ok {
		return attendance.ErrDuplicateAction
	}
	if _, ok := r.registrations[scan.RegistrationID]; !ok {
		return attendance.ErrUnknownRegistration
	}
	key := attendanceKey(scan.RegistrationID, scan.MealSessionID)
	if _, ok := r.attendance[key]; ok {
		return attendance.ErrAlreadyCheckedIn
	}

	r.attendance[key] = scan
	r.applied(clientActionID, checkin.KindMealScan)
	return nil
}

func (r *AttendanceRepository) SaveAuditEntry(_ context.Context, clientActionID string, entry checkin.AuditPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.outcomes[clientActionID]; ok {
		return attendance.ErrDuplicateAction
	}

	r.audit = append(r.audit, entry)
	r.applied(clientActionID, checkin.KindAuditWrite)
	return nil
}

func (r *AttendanceRepository) SaveRejection(_ context.Context, clientActionID string, kind checkin.ActionKind, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.outcomes[clientActionID]; ok {
		return attendance.ErrDuplicateAction
	}

	r.outcomes[clientActionID] = attendance.Outcome{
		ClientActionID: clientActionID,
		Kind:           kind,
		Status:         checkin.SubmitRejected,
		Reason:         reason,
	}
	return nil
}

func (r *AttendanceRepository) CountAttendance(_ context.Context, registrationID, mealSessionID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.attendance[attendanceKey(registrationID, mealSessionID)]; ok {
		return 1, nil
	}
	return 0, nil
}

func (r *AttendanceRepository) Ping(context.Context) error {
	return nil
}

// AuditEntries возвращает копию журнала аудита
func (r *AttendanceRepository) AuditEntries() []checkin.AuditPayload {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]checkin.AuditPayload, len(r.audit))
	copy(out, r.audit)
	return out
}

func (r *AttendanceRepository) applied(clientActionID string, kind checkin.ActionKind) {
	r.outcomes[clientActionID] = attendance.Outcome{
		ClientActionID: clientActionID,
		Kind:           kind,
		Status:         checkin.SubmitApplied,
	}
}

func attendanceKey(registrationID, mealSessionID string) string {
	return registrationID + "|" + mealSessionID
}

func emailKey(eventID, email string) string {
	return eventID + "|" + email
}
