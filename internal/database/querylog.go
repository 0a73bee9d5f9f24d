// querylog.go — журналирование SQL-запросов на уровне debug.
package database

import (
	"log/slog"
	"strings"
	"time"
)

// QueryLog журналирует выполнение SQL-запросов сессии. В журнал попадает
// текст запроса с плейсхолдерами и количество аргументов; значения
// аргументов не журналируются никогда.
type QueryLog struct {
	logger  *slog.Logger
	enabled bool
}

// NewQueryLog создаёт журнал запросов. При enabled=false все вызовы
// Observe — no-op, накладные расходы не замеряются.
func NewQueryLog(logger *slog.Logger, enabled bool) *QueryLog {
	return &QueryLog{
		logger:  logger.With(slog.String("component", "query_log")),
		enabled: enabled,
	}
}

// Enabled сообщает, включено ли журналирование.
func (q *QueryLog) Enabled() bool {
	return q != nil && q.enabled
}

// Observe записывает выполненный запрос: текст, число аргументов,
// длительность и ошибку, если она была.
func (q *QueryLog) Observe(intent Intent, query string, argCount int, start time.Time, err error) {
	if !q.Enabled() {
		return
	}

	attrs := []any{
		slog.String("intent", string(intent)),
		slog.String("query", compactSQL(query)),
		slog.Int("args", argCount),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.Any("err", err))
	}
	q.logger.Debug("SQL-запрос выполнен", attrs...)
}

// compactSQL схлопывает переводы строк и повторные пробелы,
// чтобы многострочный SQL занимал одну строку журнала.
func compactSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
