// Пакет repository — доступ к данным Storage Core: обобщённый
// CRUD-репозиторий и репозиторий метаданных файлов поверх
// транзакционных сессий.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Ошибки уровня репозитория.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт: запись уже существует.
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// DBTX — минимальный интерфейс исполнителя запросов.
// Реализуется database.Session. Запросы используют нумерованные
// плейсхолдеры $N; преобразование под движок выполняет сессия.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Row — одна строка результата запроса (sql.Row или sql.Rows).
type Row interface {
	Scan(dest ...any) error
}

// nowMillis — текущее время в Unix-миллисекундах.
func nowMillis() int64 {
	return time.Now().UnixMilli()
}
