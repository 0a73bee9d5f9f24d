package migrate

// Метрики миграций:
//   sc_migrations_applied_total  — применённые шаги
//   sc_migrations_reverted_total — откатанные шаги
//   sc_migration_step_seconds    — длительность шага по направлениям

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	migrationsAppliedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sc_migrations_applied_total",
		Help: "Количество успешно применённых шагов миграций.",
	})

	migrationsRevertedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sc_migrations_reverted_total",
		Help: "Количество успешно откатанных шагов миграций.",
	})

	migrationStepSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sc_migration_step_seconds",
		Help:    "Длительность одного шага миграции в секундах.",
		Buckets: prometheus.DefBuckets,
	}, []string{"direction"})
)
