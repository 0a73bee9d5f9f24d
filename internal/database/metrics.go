// metrics.go — Prometheus-метрики пулов и сессий Storage Core.
// Регистрирует метрики: sc_sessions_started_total, sc_session_acquire_seconds,
// sc_pool_exhausted_total, sc_sessions_rolled_back_total, sc_queries_total.
package database

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики сессий и пулов
var (
	// sessionsStartedTotal — общее количество открытых сессий.
	sessionsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sc_sessions_started_total",
			Help: "Общее количество открытых транзакционных сессий",
		},
		[]string{"intent"},
	)

	// sessionAcquireSeconds — гистограмма длительности получения сессии.
	sessionAcquireSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sc_session_acquire_seconds",
			Help:    "Длительность получения сессии из пула в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"intent"},
	)

	// poolExhaustedTotal — отказы из-за исчерпания пула.
	poolExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sc_pool_exhausted_total",
			Help: "Количество отказов получения сессии из-за исчерпания пула",
		},
		[]string{"intent"},
	)

	// sessionsRolledBackTotal — сессии, завершённые откатом.
	sessionsRolledBackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sc_sessions_rolled_back_total",
			Help: "Количество сессий, завершённых откатом транзакции",
		},
		[]string{"intent"},
	)

	// queriesTotal — общее количество SQL-запросов через сессии.
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sc_queries_total",
			Help: "Общее количество SQL-запросов, выполненных через сессии",
		},
		[]string{"intent"},
	)
)
