// Package metrics коллекторы prometheus станции и сервера.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ScansTotal число сканов по классификации и способу записи
	ScansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealcheck_scans_total",
			Help: "Total number of processed scans",
		},
		[]string{"result", "mode"},
	)

	// SyncActionsTotal итоги отправки отложенных действий
	SyncActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealcheck_sync_actions_total",
			Help: "Total number of pending actions processed by sync",
		},
		[]string{"kind", "outcome"},
	)

	// SyncDuration длительность прогона синхронизации
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mealcheck_sync_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// PendingActions размер локальной очереди
	PendingActions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mealcheck_pending_actions",
			Help: "Number of actions waiting in the local queue by kind",
		},
		[]string{"kind"},
	)

	// FailedActions число действий в FAILED_PERMANENT
	FailedActions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mealcheck_failed_actions",
			Help: "Number of permanently failed actions kept for inspection",
		},
	)

	// Online состояние связи станции (1 - онлайн)
	Online = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mealcheck_online",
			Help: "Whether the station considers the remote service reachable",
		},
	)

	// SubmissionsTotal решения сервера по действиям станций
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealcheck_submissions_total",
			Help: "Total number of client actions submitted to the server",
		},
		[]string{"kind", "status"},
	)

	// HTTPRequestsTotal запросы к API сервера
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mealcheck_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration длительность обработки запросов
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mealcheck_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// SetOnline выставляет gauge связи
func SetOnline(online bool) {
	if online {
		Online.Set(1)
		return
	}
	Online.Set(0)
}
