package migrate

import "embed"

// migrationsFS — встроенный каталог миграций Storage Core.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultSource загружает встроенные миграции Storage Core: схему
// таблицы files и её индексы. DDL рассчитан на sqlite и postgresql;
// для mysql частичный уникальный индекс по контрольной сумме выражается
// средствами развёртывания.
func DefaultSource() (*Source, error) {
	return LoadSource(migrationsFS, "migrations")
}
