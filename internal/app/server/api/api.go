// GET  /api/v1/health         # Проверка связи (станции используют как probe)
// POST /api/v1/registrations  # Регистрация на месте
// POST /api/v1/meal-scans     # Отметка посещения
// POST /api/v1/audit-entries  # Журнал неуспешных сканов
// GET  /metrics               # Метрики prometheus

package api

import (
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slog"

	checkinAPI "mealcheck/internal/app/server/api/http/checkin"
	healthAPI "mealcheck/internal/app/server/api/http/health"
	"mealcheck/internal/app/server/api/http/middleware"
	"mealcheck/internal/app/server/api/http/middleware/logger"
	"mealcheck/internal/domain/attendance"
)

type Handlers struct {
	Health  *healthAPI.Handler
	Checkin *checkinAPI.Handler
}

// New создает *chi.Mux со всеми операциями через huma.Register
func New(repo attendance.Repository, log *slog.Logger) *chi.Mux {
	mux := chi.NewMux()
	mux.Handle("/metrics", promhttp.Handler())

	config := huma.DefaultConfig("Mealcheck API", "1.0.0")
	API := humachi.New(mux, config)

	h := handlers(repo, log)
	h.Health.SetupRoutes(API)
	h.Checkin.SetupRoutes(API)

	return mux
}

func handlers(repo attendance.Repository, log *slog.Logger) *Handlers {
	loggerMW := logger.New(log)
	chain := middleware.NewChain(loggerMW.Middleware())

	healthHandler := healthAPI.NewHandler(repo, log, chain.For())

	service := attendance.NewService(repo, log)
	checkinHandler := checkinAPI.NewHandler(service, log, chain.For(middleware.IdempotencyKey))

	return &Handlers{
		Health:  healthHandler,
		Checkin: checkinHandler,
	}
}
