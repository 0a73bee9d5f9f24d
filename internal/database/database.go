// Пакет database — построение DSN, пулы подключений database/sql и
// транзакционные сессии Storage Core.
//
// Поддерживаются движки: sqlite (modernc.org/sqlite), mysql
// (go-sql-driver/mysql) и postgresql (pgx через database/sql).
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"

	// Регистрация драйвера postgresql (имя "pgx").
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/config"
)

var (
	// ErrConfiguration — некорректная или неполная конфигурация подключения.
	ErrConfiguration = errors.New("некорректная конфигурация подключения")
	// ErrPoolExhausted — свободное соединение не получено за отведённый таймаут.
	ErrPoolExhausted = errors.New("пул подключений исчерпан")
)

// BuildDSN строит строку подключения и имя драйвера database/sql для
// заданного пула. Функция чистая: никаких сетевых обращений, только
// валидация полей и форматирование.
func BuildDSN(p config.PoolConfig) (dsn string, driverName string, err error) {
	switch p.Engine {
	case config.EngineSQLite:
		if p.Database == "" {
			return "", "", fmt.Errorf("%w: sqlite: не задан путь к файлу базы", ErrConfiguration)
		}
		return sqliteDSN(p.Database), "sqlite", nil

	case config.EngineMySQL:
		if err := validateNetworked(p); err != nil {
			return "", "", err
		}
		mc := gomysql.NewConfig()
		mc.User = p.User
		mc.Passwd = p.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
		mc.DBName = p.Database
		// RowsAffected должен считать совпавшие строки, как в postgresql
		// и sqlite, иначе идемпотентные UPDATE выглядят как отсутствие записи
		mc.ClientFoundRows = true
		if p.Charset != "" {
			mc.Params = map[string]string{"charset": p.Charset}
		}
		return mc.FormatDSN(), "mysql", nil

	case config.EnginePostgres:
		if err := validateNetworked(p); err != nil {
			return "", "", err
		}
		parts := []string{
			"host=" + p.Host,
			"port=" + strconv.Itoa(p.Port),
			"dbname=" + p.Database,
			"user=" + p.User,
		}
		if p.Password != "" {
			parts = append(parts, "password="+p.Password)
		}
		sslMode := p.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		parts = append(parts, "sslmode="+sslMode)
		if p.Charset != "" {
			parts = append(parts, "client_encoding="+p.Charset)
		}
		return strings.Join(parts, " "), "pgx", nil

	default:
		return "", "", fmt.Errorf("%w: неизвестный движок %q", ErrConfiguration, p.Engine)
	}
}

// sqliteDSN дополняет путь к файлу busy_timeout-прагмой: конкурентные
// транзакции без неё завершаются SQLITE_BUSY. Пути с собственными
// параметрами и ":memory:" передаются как есть.
func sqliteDSN(path string) string {
	if path == ":memory:" || strings.HasPrefix(path, "file:") || strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(10000)"
}

// validateNetworked проверяет обязательные поля сетевых движков.
func validateNetworked(p config.PoolConfig) error {
	if p.Host == "" {
		return fmt.Errorf("%w: %s: не задан host", ErrConfiguration, p.Engine)
	}
	if p.Port <= 0 || p.Port > 65535 {
		return fmt.Errorf("%w: %s: некорректный порт %d", ErrConfiguration, p.Engine, p.Port)
	}
	if p.Database == "" {
		return fmt.Errorf("%w: %s: не задано имя базы данных", ErrConfiguration, p.Engine)
	}
	if p.User == "" {
		return fmt.Errorf("%w: %s: не задан пользователь", ErrConfiguration, p.Engine)
	}
	return nil
}

// Open открывает пул подключений по конфигурации и проверяет его ping-ом.
// Размеры отображаются на database/sql так: PoolSize — idle-соединения,
// PoolSize+MaxOverflow — максимум открытых, Recycle — время жизни соединения.
func Open(ctx context.Context, p config.PoolConfig, logger *slog.Logger) (*sql.DB, error) {
	dsn, driverName, err := BuildDSN(p)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия пула подключений: %w", err)
	}

	db.SetMaxIdleConns(p.PoolSize)
	db.SetMaxOpenConns(p.PoolSize + p.MaxOverflow)
	db.SetConnMaxLifetime(p.Recycle)

	// Проверяем подключение
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка подключения к базе данных: %w", err)
	}

	attrs := []any{
		slog.String("engine", string(p.Engine)),
		slog.String("database", p.Database),
		slog.Int("pool_size", p.PoolSize),
		slog.Int("max_overflow", p.MaxOverflow),
	}
	if p.Engine.Networked() {
		attrs = append(attrs, slog.String("host", p.Host), slog.Int("port", p.Port))
	}
	logger.Info("Пул подключений открыт", attrs...)

	return db, nil
}
