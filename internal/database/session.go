// session.go — фабрика транзакционных сессий поверх пулов записи и чтения.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/config"
)

// Intent — назначение сессии: чтение или запись.
type Intent string

const (
	// IntentRead — сессия для чтения; обслуживается пулом реплики, если он настроен.
	IntentRead Intent = "read"
	// IntentWrite — сессия для записи; всегда обслуживается основным пулом.
	IntentWrite Intent = "write"
)

// ErrSessionFinished — попытка зафиксировать уже завершённую сессию.
var ErrSessionFinished = errors.New("сессия уже завершена")

// SessionFactory владеет пулами подключений и выдаёт транзакционные
// сессии по назначению. Если реплика чтения не настроена, оба назначения
// обслуживает пул записи.
type SessionFactory struct {
	write    *sql.DB
	read     *sql.DB
	writeCfg config.PoolConfig
	readCfg  config.PoolConfig
	writeLog *QueryLog
	readLog  *QueryLog
	logger   *slog.Logger
}

// NewSessionFactory открывает пулы по конфигурации и проверяет их ping-ом.
// Недоступность любой из баз — ошибка конструктора.
func NewSessionFactory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*SessionFactory, error) {
	log := logger.With(slog.String("component", "session_factory"))

	write, err := Open(ctx, cfg.Write, log)
	if err != nil {
		return nil, fmt.Errorf("пул записи: %w", err)
	}

	f := &SessionFactory{
		write:    write,
		read:     write,
		writeCfg: cfg.Write,
		readCfg:  cfg.Write,
		writeLog: NewQueryLog(log, cfg.Write.Debug),
		logger:   log,
	}
	f.readLog = f.writeLog

	if cfg.Read != nil {
		read, err := Open(ctx, *cfg.Read, log)
		if err != nil {
			write.Close()
			return nil, fmt.Errorf("пул чтения: %w", err)
		}
		f.read = read
		f.readCfg = *cfg.Read
		f.readLog = NewQueryLog(log, cfg.Read.Debug)
	}

	return f, nil
}

// pool возвращает пул, его конфигурацию и журнал запросов для назначения.
func (f *SessionFactory) pool(intent Intent) (*sql.DB, config.PoolConfig, *QueryLog) {
	if intent == IntentRead {
		return f.read, f.readCfg, f.readLog
	}
	return f.write, f.writeCfg, f.writeLog
}

// Acquire выделяет соединение из пула, соответствующего назначению, и
// начинает на нём транзакцию. Ожидание свободного соединения ограничено
// AcquireTimeout пула; по его истечении возвращается ErrPoolExhausted.
// На время жизни выданной сессии таймаут не распространяется.
func (f *SessionFactory) Acquire(ctx context.Context, intent Intent) (*Session, error) {
	db, pcfg, qlog := f.pool(intent)

	acquireCtx := ctx
	cancel := func() {}
	if pcfg.AcquireTimeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, pcfg.AcquireTimeout)
	}
	defer cancel()

	start := time.Now()

	conn, err := db.Conn(acquireCtx)
	if err != nil {
		return nil, f.acquireError(ctx, acquireCtx, intent, pcfg, err)
	}

	// pre-ping отлавливает мёртвые соединения сетевых движков до начала
	// транзакции: проверяется именно выданное соединение
	if pcfg.PrePing && pcfg.Engine.Networked() {
		if err := conn.PingContext(acquireCtx); err != nil {
			conn.Close() //nolint:errcheck // соединение неисправно
			return nil, f.acquireError(ctx, acquireCtx, intent, pcfg, err)
		}
	}

	opts := &sql.TxOptions{}
	if intent == IntentRead && pcfg.Engine.Networked() {
		opts.ReadOnly = true
	}

	// sql.Tx живёт не дольше контекста, переданного в BeginTx, поэтому
	// транзакция начинается на контексте вызывающего; acquireCtx
	// ограничивает только получение соединения
	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		conn.Close() //nolint:errcheck // соединение возвращается в пул
		return nil, f.acquireError(ctx, acquireCtx, intent, pcfg, err)
	}

	sessionAcquireSeconds.WithLabelValues(string(intent)).Observe(time.Since(start).Seconds())
	sessionsStartedTotal.WithLabelValues(string(intent)).Inc()

	return &Session{
		conn:   conn,
		tx:     tx,
		intent: intent,
		engine: pcfg.Engine,
		qlog:   qlog,
	}, nil
}

// acquireError классифицирует ошибку получения сессии: истечение таймаута
// пула при живом внешнем контексте — исчерпание пула.
func (f *SessionFactory) acquireError(ctx, acquireCtx context.Context, intent Intent, pcfg config.PoolConfig, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && acquireCtx.Err() != nil && ctx.Err() == nil {
		poolExhaustedTotal.WithLabelValues(string(intent)).Inc()
		f.logger.Warn("Пул подключений исчерпан",
			slog.String("intent", string(intent)),
			slog.Duration("timeout", pcfg.AcquireTimeout),
		)
		return fmt.Errorf("%w: свободное соединение не получено за %s", ErrPoolExhausted, pcfg.AcquireTimeout)
	}
	return fmt.Errorf("ошибка начала транзакции: %w", err)
}

// WithSession выполняет fn в рамках одной сессии: commit при успехе fn,
// rollback при ошибке. Сессия освобождается на любом пути выполнения.
func (f *SessionFactory) WithSession(ctx context.Context, intent Intent, fn func(s *Session) error) error {
	s, err := f.Acquire(ctx, intent)
	if err != nil {
		return err
	}
	defer s.Rollback() //nolint:errcheck // откат после коммита — no-op

	if err := fn(s); err != nil {
		return err
	}
	return s.Commit()
}

// WriteDB возвращает низкоуровневый пул записи (для проверок зависимостей).
func (f *SessionFactory) WriteDB() *sql.DB { return f.write }

// ReadDB возвращает низкоуровневый пул чтения.
func (f *SessionFactory) ReadDB() *sql.DB { return f.read }

// Engine возвращает движок пула записи.
func (f *SessionFactory) Engine() config.Engine { return f.writeCfg.Engine }

// HasReadReplica сообщает, настроен ли отдельный пул чтения.
func (f *SessionFactory) HasReadReplica() bool { return f.read != f.write }

// Close закрывает оба пула подключений.
func (f *SessionFactory) Close() error {
	var errs []error
	if err := f.write.Close(); err != nil {
		errs = append(errs, fmt.Errorf("пул записи: %w", err))
	}
	if f.read != f.write {
		if err := f.read.Close(); err != nil {
			errs = append(errs, fmt.Errorf("пул чтения: %w", err))
		}
	}
	f.logger.Info("Пулы подключений закрыты")
	return errors.Join(errs...)
}

// Session — транзакционная сессия поверх одного соединения пула.
// Запросы выполняются внутри транзакции; Commit или Rollback завершают
// её и возвращают соединение в пул. Как и sql.Tx, сессия не
// потокобезопасна.
type Session struct {
	conn   *sql.Conn
	tx     *sql.Tx
	intent Intent
	engine config.Engine
	qlog   *QueryLog
	done   bool
}

// Intent возвращает назначение сессии.
func (s *Session) Intent() Intent { return s.intent }

// ExecContext выполняет запрос без результирующих строк.
func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	query = Rebind(s.engine, query)
	queriesTotal.WithLabelValues(string(s.intent)).Inc()
	if !s.qlog.Enabled() {
		return s.tx.ExecContext(ctx, query, args...)
	}
	start := time.Now()
	res, err := s.tx.ExecContext(ctx, query, args...)
	s.qlog.Observe(s.intent, query, len(args), start, err)
	return res, err
}

// QueryContext выполняет запрос, возвращающий строки.
func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	query = Rebind(s.engine, query)
	queriesTotal.WithLabelValues(string(s.intent)).Inc()
	if !s.qlog.Enabled() {
		return s.tx.QueryContext(ctx, query, args...)
	}
	start := time.Now()
	rows, err := s.tx.QueryContext(ctx, query, args...)
	s.qlog.Observe(s.intent, query, len(args), start, err)
	return rows, err
}

// QueryRowContext выполняет запрос, возвращающий одну строку.
// Ошибка выполнения откладывается до Scan, поэтому в журнал не попадает.
func (s *Session) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	query = Rebind(s.engine, query)
	queriesTotal.WithLabelValues(string(s.intent)).Inc()
	if !s.qlog.Enabled() {
		return s.tx.QueryRowContext(ctx, query, args...)
	}
	start := time.Now()
	row := s.tx.QueryRowContext(ctx, query, args...)
	s.qlog.Observe(s.intent, query, len(args), start, nil)
	return row
}

// Commit фиксирует транзакцию и возвращает соединение в пул.
func (s *Session) Commit() error {
	if s.done {
		return ErrSessionFinished
	}
	s.done = true
	defer s.conn.Close() //nolint:errcheck // возврат соединения в пул
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("ошибка фиксации транзакции: %w", err)
	}
	return nil
}

// Rollback откатывает транзакцию и возвращает соединение в пул.
// Повторный вызов и вызов после Commit безопасны (no-op).
func (s *Session) Rollback() error {
	if s.done {
		return nil
	}
	s.done = true
	defer s.conn.Close() //nolint:errcheck // возврат соединения в пул
	sessionsRolledBackTotal.WithLabelValues(string(s.intent)).Inc()
	if err := s.tx.Rollback(); err != nil {
		return fmt.Errorf("ошибка отката транзакции: %w", err)
	}
	return nil
}
