// Package storage выбирает хранилище посещаемости по конфигурации сервера.
package storage

import (
	"context"

	"golang.org/x/exp/slog"

	"mealcheck/internal/app/server/config"
	"mealcheck/internal/domain/attendance"
	"mealcheck/internal/infrastructure/storage/memory"
	"mealcheck/internal/infrastructure/storage/postgres"
)

// Storage репозиторий посещаемости с освобождением ресурсов
type Storage interface {
	attendance.Repository
	Close() error
}

type memoryStorage struct {
	*memory.AttendanceRepository
}

func (memoryStorage) Close() error { return nil }

type postgresStorage struct {
	*postgres.AttendanceRepository
	st *postgres.Storage
}

func (p postgresStorage) Close() error { return p.st.Close() }

// New возвращает postgres при заданном DATABASE_URI и хранилище в памяти иначе
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (Storage, error) {
	if cfg.DB.DatabaseURI == "" {
		log.Warn("DATABASE_URI is empty, using in-memory storage")
		return memoryStorage{memory.NewAttendanceRepository()}, nil
	}

	st, err := postgres.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("connected to postgres")
	return postgresStorage{
		AttendanceRepository: postgres.NewAttendanceRepository(st.Pool(), log),
		st:                   st,
	}, nil
}
