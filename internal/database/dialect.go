// dialect.go — сглаживание различий движков: плейсхолдеры и
// классификация ошибок уникальности.
package database

import (
	"errors"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/config"
)

// mysqlErrDupEntry — код ошибки MySQL ER_DUP_ENTRY.
const mysqlErrDupEntry = 1062

// Rebind преобразует нумерованные плейсхолдеры $1..$N в ? для mysql.
// sqlite и postgresql принимают $N без преобразования.
// Запросы модуля не содержат символа $ в строковых литералах, а номера
// плейсхолдеров идут по возрастанию без повторов — порядок аргументов
// при замене на ? сохраняется.
func Rebind(engine config.Engine, query string) string {
	if engine != config.EngineMySQL || !strings.ContainsRune(query, '$') {
		return query
	}

	var b strings.Builder
	b.Grow(len(query))
	for i := 0; i < len(query); i++ {
		if query[i] != '$' || i+1 >= len(query) || !isDigit(query[i+1]) {
			b.WriteByte(query[i])
			continue
		}
		b.WriteByte('?')
		for i+1 < len(query) && isDigit(query[i+1]) {
			i++
		}
	}
	return b.String()
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

// IsUniqueViolation сообщает, вызвана ли ошибка нарушением ограничения
// уникальности. Проверяются типизированные ошибки всех трёх драйверов,
// поэтому движок передавать не нужно.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}

	var myErr *gomysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlErrDupEntry
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	return false
}
