package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/database"
)

// trackingTable — учётная таблица применённых миграций: по строке на
// версию, а не единственная пара (версия, флаг dirty).
const trackingTable = "schema_migrations"

// Ошибки менеджера миграций.
var (
	// ErrConfirmationRequired возвращается из Reset без подтверждения.
	ErrConfirmationRequired = errors.New("reset требует явного подтверждения")
)

// Direction — направление шага миграции.
type Direction string

const (
	// DirectionUp — применение миграции.
	DirectionUp Direction = "up"
	// DirectionDown — откат миграции.
	DirectionDown Direction = "down"
)

// StepError — отказ одного шага миграции. Шаги до отказавшего уже
// зафиксированы, шаги после — не начинались.
type StepError struct {
	// Version — версия отказавшего шага
	Version string
	// Description — описание шага
	Description string
	// Direction — направление шага
	Direction Direction
	// Err — первопричина
	Err error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("миграция %s (%s, %s): %v", e.Version, e.Description, e.Direction, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// State — состояние миграции в отчёте status.
type State string

const (
	// StatePending — миграция ожидает применения.
	StatePending State = "pending"
	// StateApplied — миграция применена.
	StateApplied State = "applied"
)

// StatusEntry — одна строка отчёта status.
type StatusEntry struct {
	// Version — строковая версия
	Version string
	// Description — описание миграции
	Description string
	// State — текущее состояние
	State State
	// AppliedAt — время применения, Unix-миллисекунды (0 — не применялась)
	AppliedAt int64
}

// Report — итог операции status.
type Report struct {
	// Entries — миграции по возрастанию версии
	Entries []StatusEntry
	// Warnings — замечания: нарушенный порядок, неизвестные версии,
	// нестандартная ширина
	Warnings []string
}

// trackRow — строка учётной таблицы.
type trackRow struct {
	Version     string
	Description string
	AppliedAt   int64
}

// Manager применяет и откатывает миграции. Каждый шаг выполняется в
// собственной транзакции вместе со своей учётной записью; при отказе
// шага применённые до него шаги остаются зафиксированными.
type Manager struct {
	factory *database.SessionFactory
	source  *Source
	logger  *slog.Logger
}

// NewManager создаёт менеджер миграций поверх фабрики сессий.
func NewManager(factory *database.SessionFactory, source *Source, logger *slog.Logger) *Manager {
	return &Manager{
		factory: factory,
		source:  source,
		logger:  logger.With(slog.String("component", "migrate")),
	}
}

// ensureTracking создаёт учётную таблицу, если её ещё нет.
func (m *Manager) ensureTracking(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + trackingTable + ` (
		version VARCHAR(32) PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at BIGINT NOT NULL
	)`
	err := m.factory.WithSession(ctx, database.IntentWrite, func(s *database.Session) error {
		_, err := s.ExecContext(ctx, ddl)
		return err
	})
	if err != nil {
		return fmt.Errorf("ошибка создания учётной таблицы миграций: %w", err)
	}
	return nil
}

// appliedRows читает учётную таблицу по возрастанию версии. Чтение идёт
// через пул записи: реплика чтения может отставать от применённых шагов.
func (m *Manager) appliedRows(ctx context.Context) ([]trackRow, error) {
	var rows []trackRow
	err := m.factory.WithSession(ctx, database.IntentWrite, func(s *database.Session) error {
		rs, err := s.QueryContext(ctx, `SELECT version, description, applied_at FROM `+trackingTable)
		if err != nil {
			return err
		}
		defer rs.Close() //nolint:errcheck // закрытие после полного чтения

		for rs.Next() {
			var r trackRow
			if err := rs.Scan(&r.Version, &r.Description, &r.AppliedAt); err != nil {
				return err
			}
			rows = append(rows, r)
		}
		return rs.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения учётной таблицы миграций: %w", err)
	}

	sort.Slice(rows, func(i, j int) bool {
		return compareVersions(rows[i].Version, rows[j].Version) < 0
	})
	return rows, nil
}

// compareVersions сравнивает версии численно; неразбираемые версии
// упорядочиваются после разбираемых, между собой — лексикографически.
func compareVersions(a, b string) int {
	av, aerr := strconv.ParseUint(a, 10, 64)
	bv, berr := strconv.ParseUint(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		}
		return 0
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	default:
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	}
}

// Status возвращает список всех миграций с их состоянием и замечания:
// применённые версии без файлов в источнике, ожидающие версии ниже уже
// применённых, нестандартная ширина версий.
func (m *Manager) Status(ctx context.Context) (*Report, error) {
	if err := m.ensureTracking(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedRows(ctx)
	if err != nil {
		return nil, err
	}

	appliedBy := make(map[string]trackRow, len(applied))
	for _, r := range applied {
		appliedBy[r.Version] = r
	}

	report := &Report{}
	report.Warnings = append(report.Warnings, m.source.Warnings()...)

	var maxApplied uint64
	var maxAppliedRaw string
	for _, r := range applied {
		v, err := strconv.ParseUint(r.Version, 10, 64)
		if err != nil {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("в учётной таблице версия %q не разбирается как число", r.Version))
			continue
		}
		if v > maxApplied {
			maxApplied = v
			maxAppliedRaw = r.Version
		}
	}

	for _, def := range m.source.Definitions() {
		entry := StatusEntry{
			Version:     def.RawVersion,
			Description: def.Description,
			State:       StatePending,
		}
		if row, ok := appliedBy[def.RawVersion]; ok {
			entry.State = StateApplied
			entry.AppliedAt = row.AppliedAt
		} else if maxAppliedRaw != "" && def.Version < maxApplied {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("миграция %s ожидает применения ниже уже применённой %s: порядок нарушен", def.RawVersion, maxAppliedRaw))
		}
		report.Entries = append(report.Entries, entry)
	}

	for _, r := range applied {
		if _, ok := m.source.ByVersion(r.Version); ok {
			continue
		}
		report.Entries = append(report.Entries, StatusEntry{
			Version:     r.Version,
			Description: r.Description,
			State:       StateApplied,
			AppliedAt:   r.AppliedAt,
		})
		report.Warnings = append(report.Warnings,
			fmt.Sprintf("миграция %s применена, но отсутствует в источнике", r.Version))
	}

	sort.Slice(report.Entries, func(i, j int) bool {
		return compareVersions(report.Entries[i].Version, report.Entries[j].Version) < 0
	})
	return report, nil
}

// Up применяет ожидающие миграции по возрастанию версии, не более steps
// штук (steps <= 0 — все). Возвращает версии применённых шагов; при
// отказе шага — их же вместе с *StepError отказавшего.
func (m *Manager) Up(ctx context.Context, steps int) ([]string, error) {
	if err := m.ensureTracking(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedRows(ctx)
	if err != nil {
		return nil, err
	}
	appliedSet := make(map[string]struct{}, len(applied))
	for _, r := range applied {
		appliedSet[r.Version] = struct{}{}
	}

	var pending []Definition
	for _, def := range m.source.Definitions() {
		if _, ok := appliedSet[def.RawVersion]; !ok {
			pending = append(pending, def)
		}
	}
	if steps > 0 && len(pending) > steps {
		pending = pending[:steps]
	}

	var done []string
	for _, def := range pending {
		if err := m.applyStep(ctx, def, DirectionUp); err != nil {
			return done, err
		}
		done = append(done, def.RawVersion)
	}
	return done, nil
}

// Down откатывает применённые миграции в обратном порядке применения
// (последняя применённая — первой), не более steps штук (steps <= 0 —
// все). Возвращает версии отменённых шагов; при отказе шага — их же
// вместе с *StepError отказавшего.
func (m *Manager) Down(ctx context.Context, steps int) ([]string, error) {
	if err := m.ensureTracking(ctx); err != nil {
		return nil, err
	}
	applied, err := m.appliedRows(ctx)
	if err != nil {
		return nil, err
	}

	// порядок отката — строго обратный порядку применения: по убыванию
	// applied_at, при равенстве — по убыванию версии
	targets := make([]trackRow, len(applied))
	copy(targets, applied)
	sort.Slice(targets, func(i, j int) bool {
		if targets[i].AppliedAt != targets[j].AppliedAt {
			return targets[i].AppliedAt > targets[j].AppliedAt
		}
		return compareVersions(targets[i].Version, targets[j].Version) > 0
	})
	if steps > 0 && len(targets) > steps {
		targets = targets[:steps]
	}

	var done []string
	for _, row := range targets {
		def, ok := m.source.ByVersion(row.Version)
		if !ok {
			return done, fmt.Errorf("миграция %s применена, но отсутствует в источнике — откат невозможен", row.Version)
		}
		if err := m.applyStep(ctx, *def, DirectionDown); err != nil {
			return done, err
		}
		done = append(done, def.RawVersion)
	}
	return done, nil
}

// Reset откатывает все применённые миграции и применяет весь источник
// заново. Без confirm операция отклоняется: reset уничтожает данные.
func (m *Manager) Reset(ctx context.Context, confirm bool) (reverted, applied []string, err error) {
	if !confirm {
		return nil, nil, ErrConfirmationRequired
	}

	m.logger.Warn("Запущен reset: все миграции будут откатаны и применены заново")

	reverted, err = m.Down(ctx, 0)
	if err != nil {
		return reverted, nil, err
	}
	applied, err = m.Up(ctx, 0)
	return reverted, applied, err
}

// applyStep выполняет один шаг миграции в собственной транзакции: SQL
// направления и изменение учётной записи фиксируются атомарно.
func (m *Manager) applyStep(ctx context.Context, def Definition, dir Direction) error {
	start := time.Now()

	err := m.factory.WithSession(ctx, database.IntentWrite, func(s *database.Session) error {
		text := def.UpSQL
		if dir == DirectionDown {
			text = def.DownSQL
		}
		for _, stmt := range splitStatements(text) {
			if _, err := s.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}

		if dir == DirectionUp {
			_, err := s.ExecContext(ctx,
				`INSERT INTO `+trackingTable+` (version, description, applied_at) VALUES ($1, $2, $3)`,
				def.RawVersion, def.Description, time.Now().UnixMilli())
			return err
		}
		_, err := s.ExecContext(ctx,
			`DELETE FROM `+trackingTable+` WHERE version = $1`,
			def.RawVersion)
		return err
	})

	migrationStepSeconds.WithLabelValues(string(dir)).Observe(time.Since(start).Seconds())
	if err != nil {
		m.logger.Error("Шаг миграции завершился ошибкой",
			slog.String("version", def.RawVersion),
			slog.String("direction", string(dir)),
			slog.Any("error", err))
		return &StepError{
			Version:     def.RawVersion,
			Description: def.Description,
			Direction:   dir,
			Err:         err,
		}
	}

	if dir == DirectionUp {
		migrationsAppliedTotal.Inc()
		m.logger.Info("Миграция применена",
			slog.String("version", def.RawVersion),
			slog.String("description", def.Description))
	} else {
		migrationsRevertedTotal.Inc()
		m.logger.Info("Миграция откатана",
			slog.String("version", def.RawVersion),
			slog.String("description", def.Description))
	}
	return nil
}
