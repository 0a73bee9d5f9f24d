// Пакет config — загрузка и валидация конфигурации Storage Core
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Engine — тип движка базы данных.
type Engine string

// Поддерживаемые движки.
const (
	EngineSQLite   Engine = "sqlite"
	EngineMySQL    Engine = "mysql"
	EnginePostgres Engine = "postgresql"
)

// ParseEngine преобразует строку в Engine.
// Принимает "postgres" как синоним "postgresql".
func ParseEngine(s string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlite":
		return EngineSQLite, nil
	case "mysql":
		return EngineMySQL, nil
	case "postgresql", "postgres":
		return EnginePostgres, nil
	default:
		return "", fmt.Errorf("неизвестный движок %q, допустимые: sqlite, mysql, postgresql", s)
	}
}

// Networked сообщает, требует ли движок сетевого подключения.
// Для sqlite pre-ping и проверки зависимостей не имеют смысла.
func (e Engine) Networked() bool {
	return e == EngineMySQL || e == EnginePostgres
}

// PoolConfig — параметры одного пула подключений (write или read).
type PoolConfig struct {
	// Движок базы данных
	Engine Engine
	// Хост сервера БД (mysql, postgresql)
	Host string
	// Порт сервера БД
	Port int
	// Имя базы данных; для sqlite — путь к файлу или ":memory:"
	Database string
	// Имя пользователя
	User string
	// Пароль; поддерживает подстановку секретов вида ${VAR}
	Password string
	// Кодировка клиента: charset для mysql, client_encoding для postgresql
	Charset string
	// Режим SSL для postgresql: disable, require, verify-ca, verify-full
	SSLMode string
	// Базовый размер пула (max idle connections)
	PoolSize int
	// Допустимое превышение размера пула (overflow)
	MaxOverflow int
	// Максимальное время жизни соединения (recycle)
	Recycle time.Duration
	// Таймаут ожидания свободного соединения из пула
	AcquireTimeout time.Duration
	// Проверять соединение ping-ом перед выдачей (только сетевые движки)
	PrePing bool
	// Журналировать SQL-запросы на уровне debug
	Debug bool
}

// Config содержит все параметры конфигурации Storage Core.
type Config struct {
	// --- Логирование ---

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Пулы подключений ---

	// Пул для записи (обязательный)
	Write PoolConfig
	// Пул для чтения; nil, если реплика не настроена
	Read *PoolConfig

	// --- Миграции ---

	// Каталог с файлами миграций (для генерации новых)
	MigrationsDir string

	// --- Кэш метаданных ---

	// Максимальное число записей в LRU-кэше
	CacheSize int
	// Время жизни записи в кэше
	CacheTTL time.Duration

	// --- Мониторинг ---

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Логирование ---

	// SC_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SC_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SC_LOG_LEVEL: %w", err)
	}

	// SC_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("SC_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SC_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Пул записи ---

	write, err := loadPool("SC_DB", nil)
	if err != nil {
		return nil, err
	}
	cfg.Write = *write

	// --- Пул чтения ---

	// Реплика включается заданием SC_DB_READ_HOST (для sqlite не поддерживается);
	// незаданные параметры наследуются от пула записи.
	if os.Getenv("SC_DB_READ_HOST") != "" {
		if !cfg.Write.Engine.Networked() {
			return nil, fmt.Errorf("SC_DB_READ_HOST: реплика чтения не поддерживается для движка %q", cfg.Write.Engine)
		}
		read, err := loadPool("SC_DB_READ", &cfg.Write)
		if err != nil {
			return nil, err
		}
		cfg.Read = read
	}

	// --- Миграции ---

	// SC_MIGRATIONS_DIR — каталог файлов миграций (по умолчанию internal/migrate/migrations)
	cfg.MigrationsDir = getEnvDefault("SC_MIGRATIONS_DIR", "internal/migrate/migrations")

	// --- Кэш метаданных ---

	// SC_CACHE_SIZE — размер LRU-кэша (по умолчанию 1000)
	cfg.CacheSize, err = getEnvInt("SC_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("SC_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("SC_CACHE_SIZE: значение %d должно быть положительным", cfg.CacheSize)
	}

	// SC_CACHE_TTL — время жизни записи в кэше (по умолчанию 5m)
	cfg.CacheTTL, err = getEnvDuration("SC_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SC_CACHE_TTL: %w", err)
	}

	// --- Мониторинг ---

	// SC_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("SC_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SC_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// loadPool загружает параметры пула с заданным префиксом переменных.
// Если fallback не nil (пул чтения), незаданные параметры наследуются от него;
// иначе отсутствие обязательных параметров — ошибка.
func loadPool(prefix string, fallback *PoolConfig) (*PoolConfig, error) {
	p := &PoolConfig{}
	var err error

	// <prefix>_ENGINE — движок; пул чтения всегда использует движок пула записи
	if fallback != nil {
		p.Engine = fallback.Engine
	} else {
		p.Engine, err = ParseEngine(getEnvDefault(prefix+"_ENGINE", "sqlite"))
		if err != nil {
			return nil, fmt.Errorf("%s_ENGINE: %w", prefix, err)
		}
	}

	switch p.Engine {
	case EngineSQLite:
		// <prefix>_NAME — путь к файлу базы (по умолчанию storage.db)
		p.Database = getEnvDefault(prefix+"_NAME", "storage.db")

	case EngineMySQL, EnginePostgres:
		defaultPort := 5432
		defaultCharset := "utf8"
		if p.Engine == EngineMySQL {
			defaultPort = 3306
			defaultCharset = "utf8mb4"
		}
		if fallback != nil {
			defaultPort = fallback.Port
			defaultCharset = fallback.Charset
		}

		// <prefix>_HOST — обязательный для сетевых движков
		p.Host, err = getEnvRequired(prefix + "_HOST")
		if err != nil {
			return nil, err
		}

		// <prefix>_PORT — порт сервера (по умолчанию 5432 / 3306)
		p.Port, err = getEnvInt(prefix+"_PORT", defaultPort)
		if err != nil {
			return nil, fmt.Errorf("%s_PORT: %w", prefix, err)
		}
		if p.Port < 1 || p.Port > 65535 {
			return nil, fmt.Errorf("%s_PORT: значение %d вне допустимого диапазона 1-65535", prefix, p.Port)
		}

		// <prefix>_NAME — имя базы данных
		p.Database, err = getEnvInherited(prefix+"_NAME", fallback, func(f *PoolConfig) string { return f.Database })
		if err != nil {
			return nil, err
		}

		// <prefix>_USER — имя пользователя
		p.User, err = getEnvInherited(prefix+"_USER", fallback, func(f *PoolConfig) string { return f.User })
		if err != nil {
			return nil, err
		}

		// <prefix>_PASSWORD — пароль; значение вида ${VAR} подставляется из окружения
		p.Password, err = getEnvInherited(prefix+"_PASSWORD", fallback, func(f *PoolConfig) string { return f.Password })
		if err != nil {
			return nil, err
		}
		p.Password, err = expandSecret(p.Password)
		if err != nil {
			return nil, fmt.Errorf("%s_PASSWORD: %w", prefix, err)
		}

		// <prefix>_CHARSET — кодировка клиента (по умолчанию utf8mb4 / utf8)
		p.Charset = getEnvDefault(prefix+"_CHARSET", defaultCharset)

		// <prefix>_SSL_MODE — режим SSL postgresql (по умолчанию disable)
		if p.Engine == EnginePostgres {
			defaultSSL := "disable"
			if fallback != nil {
				defaultSSL = fallback.SSLMode
			}
			p.SSLMode = getEnvDefault(prefix+"_SSL_MODE", defaultSSL)
			validSSLModes := map[string]bool{
				"disable": true, "require": true, "verify-ca": true, "verify-full": true,
			}
			if !validSSLModes[p.SSLMode] {
				return nil, fmt.Errorf("%s_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", prefix, p.SSLMode)
			}
		}
	}

	// --- Параметры пула ---

	defaultPoolSize, defaultOverflow := 5, 10
	defaultRecycle, defaultAcquire := 30*time.Minute, 30*time.Second
	defaultPrePing := p.Engine.Networked()
	defaultDebug := false
	if fallback != nil {
		defaultPoolSize, defaultOverflow = fallback.PoolSize, fallback.MaxOverflow
		defaultRecycle, defaultAcquire = fallback.Recycle, fallback.AcquireTimeout
		defaultPrePing, defaultDebug = fallback.PrePing, fallback.Debug
	}

	// <prefix>_POOL_SIZE — базовый размер пула (по умолчанию 5)
	p.PoolSize, err = getEnvInt(prefix+"_POOL_SIZE", defaultPoolSize)
	if err != nil {
		return nil, fmt.Errorf("%s_POOL_SIZE: %w", prefix, err)
	}
	if p.PoolSize < 1 {
		return nil, fmt.Errorf("%s_POOL_SIZE: значение %d должно быть положительным", prefix, p.PoolSize)
	}

	// <prefix>_MAX_OVERFLOW — превышение размера пула (по умолчанию 10)
	p.MaxOverflow, err = getEnvInt(prefix+"_MAX_OVERFLOW", defaultOverflow)
	if err != nil {
		return nil, fmt.Errorf("%s_MAX_OVERFLOW: %w", prefix, err)
	}
	if p.MaxOverflow < 0 {
		return nil, fmt.Errorf("%s_MAX_OVERFLOW: значение %d не может быть отрицательным", prefix, p.MaxOverflow)
	}

	// <prefix>_RECYCLE — максимальное время жизни соединения (по умолчанию 30m)
	p.Recycle, err = getEnvDuration(prefix+"_RECYCLE", defaultRecycle)
	if err != nil {
		return nil, fmt.Errorf("%s_RECYCLE: %w", prefix, err)
	}

	// <prefix>_ACQUIRE_TIMEOUT — таймаут ожидания соединения (по умолчанию 30s)
	p.AcquireTimeout, err = getEnvDuration(prefix+"_ACQUIRE_TIMEOUT", defaultAcquire)
	if err != nil {
		return nil, fmt.Errorf("%s_ACQUIRE_TIMEOUT: %w", prefix, err)
	}

	// <prefix>_PRE_PING — ping перед выдачей соединения (по умолчанию true для сетевых движков)
	p.PrePing, err = getEnvBool(prefix+"_PRE_PING", defaultPrePing)
	if err != nil {
		return nil, fmt.Errorf("%s_PRE_PING: %w", prefix, err)
	}

	// <prefix>_DEBUG — журналирование SQL-запросов (по умолчанию false)
	p.Debug, err = getEnvBool(prefix+"_DEBUG", defaultDebug)
	if err != nil {
		return nil, fmt.Errorf("%s_DEBUG: %w", prefix, err)
	}

	return p, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// secretRe — плейсхолдер секрета вида ${VAR}.
var secretRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandSecret подставляет значения переменных окружения вместо
// плейсхолдеров ${VAR}. Неразрешимый плейсхолдер — ошибка конфигурации.
func expandSecret(s string) (string, error) {
	var missing []string
	expanded := secretRe.ReplaceAllStringFunc(s, func(m string) string {
		name := secretRe.FindStringSubmatch(m)[1]
		val := os.Getenv(name)
		if val == "" {
			missing = append(missing, name)
		}
		return val
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("секрет не задан: переменная окружения %s пуста", strings.Join(missing, ", "))
	}
	return expanded, nil
}

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInherited возвращает значение переменной окружения, значение из
// родительского пула (для реплики чтения) или ошибку, если переменная
// обязательна и не задана.
func getEnvInherited(key string, fallback *PoolConfig, get func(*PoolConfig) string) (string, error) {
	if val := os.Getenv(key); val != "" {
		return val, nil
	}
	if fallback != nil {
		return get(fallback), nil
	}
	return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
