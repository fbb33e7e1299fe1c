package client

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slog"

	"mealcheck/internal/domain/checkin"
)

// Monitor отслеживает доступность сервера и запускает синхронизацию:
// при переходе offline -> online и периодически, пока станция онлайн.
type Monitor struct {
	remote        Remote
	state         *StateHolder
	reconciler    *Reconciler
	probeInterval time.Duration
	syncInterval  time.Duration
	timeout       time.Duration
	log           *slog.Logger

	trigger chan struct{}
	wg      sync.WaitGroup
}

func NewMonitor(remote Remote, state *StateHolder, reconciler *Reconciler, probeInterval, syncInterval, timeout time.Duration, log *slog.Logger) *Monitor {
	return &Monitor{
		remote:        remote,
		state:         state,
		reconciler:    reconciler,
		probeInterval: probeInterval,
		syncInterval:  syncInterval,
		timeout:       timeout,
		log:           log.With(slog.String("component", "connectivity")),
		trigger:       make(chan struct{}, 1),
	}
}

// State снимок состояния синхронизации
func (m *Monitor) State() checkin.SyncState {
	return m.state.Snapshot()
}

// Probe проверяет доступность сервера и обновляет состояние
func (m *Monitor) Probe(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.remote.Ping(pctx)
	if err != nil {
		m.log.Debug("probe failed", "error", err)
	}
	m.set(err == nil)
	return err == nil
}

// Notify принимает сигнал платформы. Сигнал "онлайн" подтверждается проверкой,
// так как сеть может быть доступна без доступа к серверу.
func (m *Monitor) Notify(ctx context.Context, online bool) {
	if !online {
		m.set(false)
		return
	}
	m.Probe(ctx)
}

// Run выполняет проверки и синхронизацию до отмены ctx
func (m *Monitor) Run(ctx context.Context) error {
	m.Probe(ctx)

	probeTicker := time.NewTicker(m.probeInterval)
	defer probeTicker.Stop()
	syncTicker := time.NewTicker(m.syncInterval)
	defer syncTicker.Stop()

	m.log.Info("connectivity monitor started",
		"probe_interval", m.probeInterval,
		"sync_interval", m.syncInterval,
	)

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			m.log.Info("connectivity monitor stopped")
			return nil
		case <-probeTicker.C:
			m.Probe(ctx)
		case <-syncTicker.C:
			if m.state.Snapshot().IsOnline {
				m.startSync(ctx, "periodic")
			}
		case <-m.trigger:
			m.startSync(ctx, "reconnect")
		}
	}
}

func (m *Monitor) set(online bool) {
	was := m.state.SetOnline(online)
	switch {
	case !was && online:
		m.log.Info("station is online")
		select {
		case m.trigger <- struct{}{}:
		default:
		}
	case was && !online:
		m.log.Warn("station is offline")
	}
}

func (m *Monitor) startSync(ctx context.Context, reason string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		res := m.reconciler.SyncNow(ctx)
		m.log.Debug("background sync done", "trigger", reason, "success", res.Success, "errors", len(res.Errors))
	}()
}
