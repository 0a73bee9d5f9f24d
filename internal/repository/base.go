// base.go — обобщённый CRUD-репозиторий для таблиц со служебной схемой:
// текстовый первичный ключ id, метки времени created_at/updated_at и
// deleted_at для мягкого удаления.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/database"
)

// Mapping описывает отображение записи T на таблицу: имя таблицы,
// колонки и функции упаковки и сканирования. Колонка id обязана идти
// первой; created_at, updated_at и deleted_at обязаны присутствовать.
type Mapping[T any] struct {
	// Table — имя таблицы
	Table string
	// Columns — все колонки в порядке Values и Scan
	Columns []string
	// Values возвращает значения колонок записи в порядке Columns
	Values func(rec *T) []any
	// Scan читает одну строку результата в запись
	Scan func(row Row) (*T, error)
}

// Assignment — присваивание одной колонке при частичном обновлении.
type Assignment struct {
	// Column — имя колонки; проверяется по схеме таблицы
	Column string
	// Value — новое значение
	Value any
}

// Base — обобщённый репозиторий поверх Mapping. Все запросы
// параметризованы; имена колонок проходят проверку по схеме.
type Base[T any] struct {
	db   DBTX
	m    Mapping[T]
	cols string
}

// NewBase создаёт обобщённый репозиторий поверх исполнителя запросов.
func NewBase[T any](db DBTX, m Mapping[T]) *Base[T] {
	return &Base[T]{db: db, m: m, cols: strings.Join(m.Columns, ", ")}
}

// hasColumn проверяет имя колонки по схеме таблицы.
func (b *Base[T]) hasColumn(name string) bool {
	for _, c := range b.m.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Insert вставляет запись. Нарушение ограничения уникальности — ErrConflict.
func (b *Base[T]) Insert(ctx context.Context, rec *T) error {
	placeholders := make([]string, len(b.m.Columns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		b.m.Table, b.cols, strings.Join(placeholders, ", "))

	if _, err := b.db.ExecContext(ctx, query, b.m.Values(rec)...); err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: запись нарушает ограничение уникальности", ErrConflict)
		}
		return fmt.Errorf("ошибка вставки в %s: %w", b.m.Table, err)
	}
	return nil
}

// GetByID возвращает запись по первичному ключу. При includeDeleted=false
// мягко удалённые записи считаются отсутствующими.
func (b *Base[T]) GetByID(ctx context.Context, id string, includeDeleted bool) (*T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", b.cols, b.m.Table)
	if !includeDeleted {
		query += " AND deleted_at IS NULL"
	}

	rec, err := b.m.Scan(b.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи из %s: %w", b.m.Table, err)
	}
	return rec, nil
}

// GetWhere возвращает первую запись по условию. Предназначен для выборок
// по колонкам с ограничением уникальности.
func (b *Base[T]) GetWhere(ctx context.Context, where string, args ...any) (*T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", b.cols, b.m.Table, where)

	rec, err := b.m.Scan(b.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи из %s: %w", b.m.Table, err)
	}
	return rec, nil
}

// Update выполняет частичное обновление активной записи и переводит
// updated_at в now. Отсутствие активной записи — ErrNotFound.
func (b *Base[T]) Update(ctx context.Context, id string, now int64, assigns ...Assignment) error {
	if len(assigns) == 0 {
		return nil
	}

	sets := make([]string, 0, len(assigns)+1)
	args := make([]any, 0, len(assigns)+2)
	argNum := 1
	for _, a := range assigns {
		if !b.hasColumn(a.Column) {
			return fmt.Errorf("неизвестная колонка %q таблицы %s", a.Column, b.m.Table)
		}
		sets = append(sets, fmt.Sprintf("%s = $%d", a.Column, argNum))
		args = append(args, a.Value)
		argNum++
	}
	sets = append(sets, fmt.Sprintf("updated_at = $%d", argNum))
	args = append(args, now)
	argNum++

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = $%d AND deleted_at IS NULL",
		b.m.Table, strings.Join(sets, ", "), argNum)
	args = append(args, id)

	res, err := b.db.ExecContext(ctx, query, args...)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: обновление нарушает ограничение уникальности", ErrConflict)
		}
		return fmt.Errorf("ошибка обновления %s: %w", b.m.Table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения числа затронутых строк: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDelete помечает запись удалённой. Повторное удаление — no-op:
// операция идемпотентна. Отсутствующая запись — ErrNotFound.
func (b *Base[T]) SoftDelete(ctx context.Context, id string, now int64) error {
	query := fmt.Sprintf("UPDATE %s SET deleted_at = $1, updated_at = $2 WHERE id = $3 AND deleted_at IS NULL",
		b.m.Table)

	res, err := b.db.ExecContext(ctx, query, now, now, id)
	if err != nil {
		return fmt.Errorf("ошибка мягкого удаления из %s: %w", b.m.Table, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("ошибка получения числа затронутых строк: %w", err)
	}
	if affected > 0 {
		return nil
	}

	// Строка не затронута: запись либо уже удалена, либо не существует
	if _, err := b.GetByID(ctx, id, true); err != nil {
		return err
	}
	return nil
}

// List возвращает записи по условию where (без слова WHERE; пустая
// строка — без фильтрации) с сортировкой и пагинацией. Колонка
// сортировки проверяется по схеме; limit <= 0 отключает пагинацию.
func (b *Base[T]) List(ctx context.Context, where string, args []any, orderBy string, desc bool, limit, offset int) ([]*T, error) {
	query := fmt.Sprintf("SELECT %s FROM %s", b.cols, b.m.Table)
	if where != "" {
		query += " WHERE " + where
	}
	if orderBy != "" {
		if !b.hasColumn(orderBy) {
			return nil, fmt.Errorf("недопустимая колонка сортировки %q", orderBy)
		}
		dir := "ASC"
		if desc {
			dir = "DESC"
		}
		query += fmt.Sprintf(" ORDER BY %s %s", orderBy, dir)
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
		args = append(args, limit, offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка из %s: %w", b.m.Table, err)
	}
	defer rows.Close()

	var result []*T
	for rows.Next() {
		rec, err := b.m.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи из %s: %w", b.m.Table, err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// Count возвращает количество записей по условию where.
func (b *Base[T]) Count(ctx context.Context, where string, args []any) (int, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", b.m.Table)
	if where != "" {
		query += " WHERE " + where
	}

	var count int
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта записей в %s: %w", b.m.Table, err)
	}
	return count, nil
}
