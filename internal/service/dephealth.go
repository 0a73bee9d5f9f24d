// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Storage Core мониторит свои пулы подключений:
//   - db-write — пул записи (SQL checker через существующий *sql.DB, critical)
//   - db-read — пул реплики чтения, если настроена (non-critical)
//
// Connection pool mode предпочтителен, т.к. отражает реальную способность
// сервиса работать с базой данных и может обнаружить исчерпание пула.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck" // PostgreSQL checker (pool mode)
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/config"
	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/database"
)

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
//
// Поддерживается только движок postgresql: pgcheck работает поверх
// протокола postgres, а для sqlite сетевой мониторинг не имеет смысла.
//
// Проверки выполняются через существующие *sql.DB фабрики сессий
// (connection pool mode), что позволяет обнаружить исчерпание пула
// и отражает реальную способность сервиса работать с базой данных.
func NewDephealthService(
	serviceID string,
	group string,
	cfg *config.Config,
	factory *database.SessionFactory,
	logger *slog.Logger,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, cfg, factory, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	serviceID string,
	group string,
	cfg *config.Config,
	factory *database.SessionFactory,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(serviceID, group, cfg, factory, logger,
		dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(
	serviceID string,
	group string,
	cfg *config.Config,
	factory *database.SessionFactory,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	if cfg.Write.Engine != config.EnginePostgres {
		return nil, fmt.Errorf("%w: мониторинг зависимостей поддерживается только для postgresql, настроен движок %q",
			ErrValidation, cfg.Write.Engine)
	}

	opts := []dephealth.Option{
		dephealth.WithLogger(logger),
		// Пул записи — connection pool mode через существующий *sql.DB.
		// Используем pgcheck.New + dephealth.AddDependency напрямую,
		// чтобы не тянуть contrib/sqldb с транзитивной зависимостью на MySQL.
		dephealth.AddDependency("db-write", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(factory.WriteDB())),
			dephealth.FromURL(poolURL(&cfg.Write)),
			dephealth.CheckInterval(cfg.DephealthCheckInterval),
			dephealth.Critical(true),
		),
	}
	// Реплика чтения не критична: при её отказе запросы чтения
	// обслуживает пул записи
	if cfg.Read != nil {
		opts = append(opts,
			dephealth.AddDependency("db-read", dephealth.TypePostgres,
				pgcheck.New(pgcheck.WithDB(factory.ReadDB())),
				dephealth.FromURL(poolURL(cfg.Read)),
				dephealth.CheckInterval(cfg.DephealthCheckInterval),
				dephealth.Critical(false),
			),
		)
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// poolURL строит URL пула для лейблов метрик. Пароль не включается.
func poolURL(p *config.PoolConfig) string {
	return fmt.Sprintf("postgres://%s:%d/%s", p.Host, p.Port, p.Database)
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
