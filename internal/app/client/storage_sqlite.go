package client

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mealcheck/internal/domain/checkin"
)

//go:embed schema.sql
var schemaSQL string

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=FULL")
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы данных: %w", err)
	}
	// один писатель
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка инициализации таблиц: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, clientActionID string) (*checkin.PendingAction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT client_action_id, kind, payload, registration_id, created_at, attempt_count,
		       last_attempt_at, last_error, next_attempt_at, status
		FROM pending_actions
		WHERE client_action_id = ?`, clientActionID)

	a, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, checkin.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения действия: %w", err)
	}
	return a, nil
}

// Put вставляет или обновляет действие. Порядок вставки сохраняется (rowid).
func (s *SQLiteStore) Put(ctx context.Context, a *checkin.PendingAction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_actions (client_action_id, kind, payload, registration_id, created_at,
		                             attempt_count, last_attempt_at, last_error, next_attempt_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(client_action_id) DO UPDATE SET
			attempt_count = excluded.attempt_count,
			last_attempt_at = excluded.last_attempt_at,
			last_error = excluded.last_error,
			next_attempt_at = excluded.next_attempt_at,
			status = excluded.status`,
		a.ClientActionID, string(a.Kind), []byte(a.Payload), a.RegistrationID, unixNano(a.CreatedAt),
		a.AttemptCount, unixNano(a.LastAttemptAt), a.LastError, unixNano(a.NextAttemptAt), string(a.Status))
	if err != nil {
		return fmt.Errorf("ошибка сохранения действия: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, clientActionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_actions WHERE client_action_id = ?`, clientActionID); err != nil {
		return fmt.Errorf("ошибка удаления действия: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, status checkin.ActionStatus) ([]*checkin.PendingAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT client_action_id, kind, payload, registration_id, created_at, attempt_count,
		       last_attempt_at, last_error, next_attempt_at, status
		FROM pending_actions
		WHERE status = ?
		ORDER BY created_at, rowid`, string(status))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка действий: %w", err)
	}
	defer rows.Close()

	var actions []*checkin.PendingAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения действия: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAction(row rowScanner) (*checkin.PendingAction, error) {
	var (
		a                                   checkin.PendingAction
		kind, status                        string
		payload                             []byte
		createdAt, lastAttempt, nextAttempt int64
	)
	err := row.Scan(&a.ClientActionID, &kind, &payload, &a.RegistrationID, &createdAt, &a.AttemptCount,
		&lastAttempt, &a.LastError, &nextAttempt, &status)
	if err != nil {
		return nil, err
	}

	a.Kind = checkin.ActionKind(kind)
	a.Status = checkin.ActionStatus(status)
	a.Payload = payload
	a.CreatedAt = fromUnixNano(createdAt)
	a.LastAttemptAt = fromUnixNano(lastAttempt)
	a.NextAttemptAt = fromUnixNano(nextAttempt)
	return &a, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
