package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/exp/slog"

	"mealcheck/internal/domain/attendance"
	"mealcheck/internal/domain/checkin"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"

	constraintClientAction     = "client_actions_pkey"
	constraintRegistration     = "registrations_pkey"
	constraintEventEmail       = "registrations_event_email_key"
	constraintMealAttendance   = "meal_attendance_registration_session_key"
	constraintMealRegistration = "meal_attendance_registration_id_fkey"
)

type AttendanceRepository struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewAttendanceRepository(pool *pgxpool.Pool, log *slog.Logger) *AttendanceRepository {
	return &AttendanceRepository{
		pool: pool,
		log:  log.With("component", "attendance_repository"),
	}
}

func (r *AttendanceRepository) FindOutcome(ctx context.Context, clientActionID string) (*attendance.Outcome, error) {
	const query = `
		SELECT client_action_id, kind, status, COALESCE(reason, '')
		FROM client_actions
		WHERE client_action_id = $1`

	var o attendance.Outcome
	err := r.pool.QueryRow(ctx, query, clientActionID).Scan(&o.ClientActionID, &o.Kind, &o.Status, &o.Reason)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, attendance.ErrNotFound
		}
		return nil, fmt.Errorf("find outcome: %w", err)
	}
	return &o, nil
}

func (r *AttendanceRepository) RegistrationExists(ctx context.Context, registrationID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM registrations WHERE registration_id = $1)`, registrationID).
		Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("registration exists: %w", err)
	}
	return exists, nil
}

func (r *AttendanceRepository) SaveRegistration(ctx context.Context, clientActionID string, reg checkin.RegistrationPayload) error {
	return r.withOutcome(ctx, clientActionID, checkin.KindRegistrationCreate, func(tx pgx.Tx) error {
		const query = `
			INSERT INTO registrations (registration_id, event_id, full_name, email, phone, created_by, created_at)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`

		_, err := tx.Exec(ctx, query,
			reg.RegistrationID, reg.EventID, reg.FullName, reg.Email, reg.Phone, reg.CreatedBy, reg.CreatedAt)
		switch constraintOf(err) {
		case constraintRegistration, constraintEventEmail:
			return attendance.ErrDuplicateRegistration
		}
		return err
	})
}

func (r *AttendanceRepository) SaveMealScan(ctx context.Context, clientActionID string, scan checkin.MealScanPayload) error {
	return r.withOutcome(ctx, clientActionID, checkin.KindMealScan, func(tx pgx.Tx) error {
		const query = `
			INSERT INTO meal_attendance
				(client_action_id, scan_event_id, registration_id, event_id, meal_session_id, scanned_by, scanned_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`

		_, err := tx.Exec(ctx, query,
			clientActionID, scan.ScanEventID, scan.RegistrationID, scan.EventID, scan.MealSessionID,
			scan.ScannedBy, scan.ScannedAt)
		return mealScanError(err)
	})
}

func (r *AttendanceRepository) SaveAuditEntry(ctx context.Context, clientActionID string, entry checkin.AuditPayload) error {
	return r.withOutcome(ctx, clientActionID, checkin.KindAuditWrite, func(tx pgx.Tx) error {
		const query = `
			INSERT INTO scan_audit
				(client_action_id, scan_event_id, qr_payload_raw, decode_result, registration_id,
				 event_id, meal_session_id, scanned_by, scanned_at, reason)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, NULLIF($10, ''))`

		_, err := tx.Exec(ctx, query,
			clientActionID, entry.ScanEventID, entry.QRPayloadRaw, string(entry.DecodeResult), entry.RegistrationID,
			entry.EventID, entry.MealSessionID, entry.ScannedBy, entry.ScannedAt, entry.Reason)
		return err
	})
}

func (r *AttendanceRepository) SaveRejection(ctx context.Context, clientActionID string, kind checkin.ActionKind, reason string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO client_actions (client_action_id, kind, status, reason) VALUES ($1, $2, $3, $4)`,
		clientActionID, string(kind), string(checkin.SubmitRejected), reason)
	if constraintOf(err) == constraintClientAction {
		return attendance.ErrDuplicateAction
	}
	if err != nil {
		return fmt.Errorf("save rejection: %w", err)
	}
	return nil
}

func (r *AttendanceRepository) CountAttendance(ctx context.Context, registrationID, mealSessionID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM meal_attendance WHERE registration_id = $1 AND meal_session_id = $2`,
		registrationID, mealSessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count attendance: %w", err)
	}
	return n, nil
}

func (r *AttendanceRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// withOutcome в одной транзакции фиксирует итог действия и выполняет запись.
// Первым вставляется итог: параллельный повтор того же clientActionId
// ждет на уникальном ключе и получает ErrDuplicateAction.
func (r *AttendanceRepository) withOutcome(ctx context.Context, clientActionID string, kind checkin.ActionKind, apply func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			r.log.Warn("rollback failed", "client_action_id", clientActionID, "error", rbErr)
		}
	}()

	_, err = tx.Exec(ctx,
		`INSERT INTO client_actions (client_action_id, kind, status) VALUES ($1, $2, $3)`,
		clientActionID, string(kind), string(checkin.SubmitApplied))
	if constraintOf(err) == constraintClientAction {
		return attendance.ErrDuplicateAction
	}
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}

	if err := apply(tx); err != nil {
		if errors.Is(err, attendance.ErrAlreadyCheckedIn) ||
			errors.Is(err, attendance.ErrDuplicateRegistration) ||
			errors.Is(err, attendance.ErrUnknownRegistration) {
			return err
		}
		r.log.Error("failed to apply client action", "client_action_id", clientActionID, "kind", kind, "error", err)
		return fmt.Errorf("apply %s: %w", kind, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// mealScanError переводит нарушения ограничений meal_attendance в ошибки домена
func mealScanError(err error) error {
	switch constraintOf(err) {
	case constraintMealAttendance:
		return attendance.ErrAlreadyCheckedIn
	case constraintMealRegistration:
		return attendance.ErrUnknownRegistration
	}
	return err
}

// constraintOf возвращает имя нарушенного ограничения уникальности или внешнего ключа
func constraintOf(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == uniqueViolation || pgErr.Code == foreignKeyViolation) {
		return pgErr.ConstraintName
	}
	return ""
}
