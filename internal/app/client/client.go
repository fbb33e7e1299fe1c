package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/exp/slog"

	"mealcheck/internal/app/client/config"
	"mealcheck/internal/domain/checkin"
	"mealcheck/internal/domain/qr"
	"mealcheck/internal/metrics"
)

// App движок станции сканирования
type App struct {
	config     *config.Config
	log        *slog.Logger
	store      Store
	remote     Remote
	decoder    *qr.Decoder
	state      *StateHolder
	queue      *Queue
	auditor    *Auditor
	recorder   *Recorder
	reconciler *Reconciler
	monitor    *Monitor
}

// Option подменяет зависимости App (тесты, встраивание)
type Option func(*App)

func WithStore(s Store) Option {
	return func(a *App) { a.store = s }
}

func WithRemote(r Remote) Option {
	return func(a *App) { a.remote = r }
}

func WithDecoder(d *qr.Decoder) Option {
	return func(a *App) { a.decoder = d }
}

// New собирает движок, восстанавливает очередь после перезапуска
// и заполняет защиту от повторных сканов
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*App, error) {
	app := &App{
		config: cfg,
		log:    log,
		state:  NewStateHolder(),
	}
	for _, opt := range opts {
		opt(app)
	}

	if app.decoder == nil {
		key, err := qr.DeriveKey(cfg.QRSecret)
		if err != nil {
			return nil, fmt.Errorf("ошибка получения ключа QR: %w", err)
		}
		app.decoder = qr.NewDecoder(key)
	}

	if app.remote == nil {
		app.remote = NewHTTPClient(cfg, log)
	}

	if app.store == nil {
		sqliteStore, err := NewSQLiteStore(cfg.DataPath)
		switch {
		case err == nil:
			app.store = sqliteStore
		case cfg.IsProd():
			return nil, fmt.Errorf("ошибка инициализации очереди: %w", err)
		default:
			// Fallback на in-memory хранилище: очередь не переживет перезапуск
			log.Warn("SQLite недоступен, используется in-memory очередь", "path", cfg.DataPath, "error", err)
			app.store = NewMemoryStore()
		}
	}

	app.queue = NewQueue(app.store, cfg.BaseBackoff, cfg.MaxBackoff, log)
	app.auditor = NewAuditor(app.remote, app.queue, app.state, cfg.RequestTimeout, log)
	app.recorder = NewRecorder(app.remote, app.queue, app.auditor, app.state, cfg.RequestTimeout, cfg.StationID, log)
	app.reconciler = NewReconciler(app.queue, app.remote, app.auditor, app.state, cfg.RequestTimeout, cfg.MaxConsecutiveFailures, log)
	app.reconciler.OnScanRejected(app.recorder.Forget)
	app.monitor = NewMonitor(app.remote, app.state, app.reconciler, cfg.ProbeInterval, cfg.SyncInterval, cfg.RequestTimeout, log)

	recovered, err := app.queue.Recover(ctx)
	if err != nil {
		app.reconciler.Close()
		app.store.Close()
		return nil, fmt.Errorf("ошибка восстановления очереди: %w", err)
	}
	if recovered > 0 {
		log.Warn("interrupted sync recovered", "actions", recovered)
	}
	if err := app.recorder.Seed(ctx); err != nil {
		app.reconciler.Close()
		app.store.Close()
		return nil, fmt.Errorf("ошибка чтения очереди: %w", err)
	}
	if _, err := app.queue.Stats(ctx); err != nil {
		log.Warn("failed to read queue stats", "error", err)
	}

	return app, nil
}

// RecordScan разбирает код и записывает скан. Не блокирует дольше таймаута запроса.
func (a *App) RecordScan(ctx context.Context, raw string, sc checkin.ScanContext) checkin.ScanResult {
	if sc.ScannedBy == "" {
		sc.ScannedBy = a.config.StationID
	}

	ev := a.decoder.Decode(raw, sc)
	res := a.recorder.RecordScan(ctx, ev)

	result := checkin.ResultValid
	if !res.Recorded {
		result = res.Reason
	}
	metrics.ScansTotal.WithLabelValues(string(result), string(res.Mode)).Inc()
	return res
}

// RegisterParticipant регистрирует участника на месте
func (a *App) RegisterParticipant(ctx context.Context, form checkin.RegistrationForm) checkin.ScanResult {
	return a.recorder.RegisterParticipant(ctx, form)
}

// GetSyncStats статистика очереди и состояния связи
func (a *App) GetSyncStats(ctx context.Context) (checkin.SyncStats, error) {
	qs, err := a.queue.Stats(ctx)
	if err != nil {
		return checkin.SyncStats{}, err
	}
	st := a.state.Snapshot()

	return checkin.SyncStats{
		IsOnline:             st.IsOnline,
		PendingRegistrations: qs.Registrations,
		PendingScans:         qs.Scans,
		PendingAudits:        qs.Audits,
		TotalPending:         qs.Total(),
		FailedPermanent:      qs.Failed,
		LastSyncAt:           st.LastSyncAt,
		SyncInProgress:       st.SyncInProgress,
	}, nil
}

// ForceSyncNow ручной запуск синхронизации. Если станция считает себя
// офлайн, сначала проверяется связь.
func (a *App) ForceSyncNow(ctx context.Context) checkin.SyncResult {
	if !a.state.Snapshot().IsOnline {
		a.monitor.Probe(ctx)
	}
	return a.reconciler.SyncNow(ctx)
}

// NotifyConnectivity сигнал платформы о смене состояния сети
func (a *App) NotifyConnectivity(ctx context.Context, online bool) {
	a.monitor.Notify(ctx, online)
}

// Probe проверяет доступность сервера
func (a *App) Probe(ctx context.Context) bool {
	return a.monitor.Probe(ctx)
}

// State снимок SyncState
func (a *App) State() checkin.SyncState {
	return a.state.Snapshot()
}

// Subscribe подписка на изменения SyncState
func (a *App) Subscribe() (<-chan checkin.SyncState, func()) {
	return a.state.Subscribe()
}

// FailedActions действия, отклоненные сервером
func (a *App) FailedActions(ctx context.Context) ([]*checkin.PendingAction, error) {
	return a.queue.Failed(ctx)
}

// RetryFailed возвращает отклоненные действия в очередь
func (a *App) RetryFailed(ctx context.Context) (int, error) {
	return a.queue.RetryFailed(ctx)
}

// Run запускает фоновый мониторинг связи и синхронизацию до отмены ctx
func (a *App) Run(ctx context.Context) error {
	if a.config.MetricsAddress != "" {
		srv := &http.Server{
			Addr:              a.config.MetricsAddress,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.log.Info("metrics endpoint started", "address", a.config.MetricsAddress)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("metrics endpoint stopped", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	a.log.Info("station started",
		"server", a.config.ServerAddress,
		"station", a.config.StationID,
		"env", a.config.Env,
	)
	return a.monitor.Run(ctx)
}

// Close дожидается текущей синхронизации и освобождает локальное хранилище
func (a *App) Close() error {
	a.reconciler.Close()
	return a.store.Close()
}
