// Пакет migrate — версионные SQL-миграции Storage Core: загрузка из
// файловой системы, применение и откат с учётом по строке на миграцию,
// генерация новых файлов.
package migrate

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// versionWidth — ширина версии: метка времени ГГГГММДДЧЧММСС плюс
// двузначный счётчик внутри секунды.
const versionWidth = 16

// Definition — одна миграция: версия, описание и SQL обоих направлений.
type Definition struct {
	// Version — числовое значение версии
	Version uint64
	// RawVersion — версия как префикс имени файла (с сохранением ширины)
	RawVersion string
	// Description — идентификатор из имени файла
	Description string
	// UpSQL — содержимое up-файла
	UpSQL string
	// DownSQL — содержимое down-файла
	DownSQL string
}

// Source — упорядоченный набор миграций, загруженный из каталога.
// Порядок — по возрастанию числового значения версии.
type Source struct {
	defs     []Definition
	byRaw    map[string]*Definition
	warnings []string
}

// Definitions возвращает миграции по возрастанию версии.
func (s *Source) Definitions() []Definition {
	return s.defs
}

// ByVersion возвращает миграцию по строковой версии.
func (s *Source) ByVersion(raw string) (*Definition, bool) {
	d, ok := s.byRaw[raw]
	return d, ok
}

// Warnings возвращает замечания загрузки: нестандартная ширина версии,
// потеря ведущих нулей при числовом разборе.
func (s *Source) Warnings() []string {
	return s.warnings
}

// Len возвращает количество миграций.
func (s *Source) Len() int {
	return len(s.defs)
}

// migrationFileRe — имя файла миграции: <цифры>_<описание>.<up|down>.sql.
var migrationFileRe = regexp.MustCompile(`^(\d+)_(.+)\.(up|down)\.sql$`)

// LoadSource загружает миграции из каталога dir файловой системы fsys.
// Перечисление и чтение пар файлов выполняет драйвер iofs golang-migrate;
// дубликаты версий отвергаются на этом уровне. Миграция без down-файла —
// ошибка: каждая миграция обязана быть обратимой.
func LoadSource(fsys fs.FS, dir string) (*Source, error) {
	drv, err := iofs.New(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения каталога миграций: %w", err)
	}
	defer drv.Close() //nolint:errcheck // закрытие источника iofs всегда успешно

	src := &Source{byRaw: make(map[string]*Definition)}

	rawVersions, err := scanRawVersions(fsys, dir)
	if err != nil {
		return nil, err
	}

	version, err := drv.First()
	if errors.Is(err, fs.ErrNotExist) {
		return src, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка перечисления миграций: %w", err)
	}

	for {
		def, err := readDefinition(drv, version, rawVersions)
		if err != nil {
			return nil, err
		}
		src.defs = append(src.defs, def)

		next, err := drv.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ошибка перечисления миграций: %w", err)
		}
		version = next
	}

	for i := range src.defs {
		src.byRaw[src.defs[i].RawVersion] = &src.defs[i]
	}
	src.warnings = versionWarnings(src.defs)
	return src, nil
}

// readDefinition читает пару файлов одной версии через драйвер iofs.
func readDefinition(drv source.Driver, version uint, rawVersions map[uint64]string) (Definition, error) {
	upRC, identifier, err := drv.ReadUp(version)
	if err != nil {
		return Definition{}, fmt.Errorf("миграция %d: ошибка чтения up-файла: %w", version, err)
	}
	upSQL, err := io.ReadAll(upRC)
	upRC.Close() //nolint:errcheck // чтение из embed.FS
	if err != nil {
		return Definition{}, fmt.Errorf("миграция %d: ошибка чтения up-файла: %w", version, err)
	}

	downRC, _, err := drv.ReadDown(version)
	if errors.Is(err, fs.ErrNotExist) {
		return Definition{}, fmt.Errorf("миграция %d (%s): отсутствует down-файл — отмена невозможна", version, identifier)
	}
	if err != nil {
		return Definition{}, fmt.Errorf("миграция %d: ошибка чтения down-файла: %w", version, err)
	}
	downSQL, err := io.ReadAll(downRC)
	downRC.Close() //nolint:errcheck // чтение из embed.FS
	if err != nil {
		return Definition{}, fmt.Errorf("миграция %d: ошибка чтения down-файла: %w", version, err)
	}

	raw, ok := rawVersions[uint64(version)]
	if !ok {
		raw = strconv.FormatUint(uint64(version), 10)
	}

	return Definition{
		Version:     uint64(version),
		RawVersion:  raw,
		Description: identifier,
		UpSQL:       string(upSQL),
		DownSQL:     string(downSQL),
	}, nil
}

// scanRawVersions собирает строковые префиксы версий из имён файлов:
// драйвер iofs хранит версии числами и теряет ведущие нули.
func scanRawVersions(fsys fs.FS, dir string) (map[uint64]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения каталога миграций: %w", err)
	}

	raw := make(map[uint64]string)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := migrationFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		v, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("миграция %s: версия вне диапазона uint64", e.Name())
		}
		raw[v] = m[1]
	}
	return raw, nil
}

// versionWarnings проверяет версии на соответствие фиксированной ширине
// и единообразие: смешанная ширина ломает совпадение лексикографического
// и числового порядка.
func versionWarnings(defs []Definition) []string {
	var warnings []string
	widths := make(map[int][]string)

	for _, d := range defs {
		widths[len(d.RawVersion)] = append(widths[len(d.RawVersion)], d.RawVersion)
		if len(d.RawVersion) != versionWidth {
			warnings = append(warnings,
				fmt.Sprintf("версия %s не соответствует %d-значному формату ГГГГММДДЧЧММССNN", d.RawVersion, versionWidth))
		}
	}

	if len(widths) > 1 {
		var sizes []int
		for w := range widths {
			sizes = append(sizes, w)
		}
		sort.Ints(sizes)
		parts := make([]string, len(sizes))
		for i, w := range sizes {
			parts[i] = strconv.Itoa(w)
		}
		warnings = append(warnings,
			fmt.Sprintf("смешанная ширина версий (%s знаков): лексикографический и числовой порядок могут расходиться", strings.Join(parts, ", ")))
	}
	return warnings
}

// dollarTagRe — открывающий тег долларового квотирования postgresql.
var dollarTagRe = regexp.MustCompile(`^\$([A-Za-z_][A-Za-z0-9_]*)?\$`)

// splitStatements разбивает текст файла миграции на отдельные
// SQL-выражения по ';'. Учитываются строковые литералы, квотированные
// идентификаторы, долларовое квотирование postgresql и комментарии:
// драйверы database/sql выполняют по одному выражению за вызов.
func splitStatements(text string) []string {
	var stmts []string
	var b strings.Builder

	flush := func() {
		stmt := strings.TrimSpace(b.String())
		b.Reset()
		if stmt != "" {
			stmts = append(stmts, stmt)
		}
	}

	for i := 0; i < len(text); {
		switch c := text[i]; {
		case c == ';':
			flush()
			i++
		case c == '-' && i+1 < len(text) && text[i+1] == '-':
			// строчный комментарий до конца строки
			for i < len(text) && text[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(text) && text[i+1] == '*':
			// блочный комментарий
			if end := strings.Index(text[i+2:], "*/"); end < 0 {
				i = len(text)
			} else {
				i += 2 + end + 2
			}
		case c == '\'' || c == '"' || c == '`':
			i = copyQuoted(&b, text, i)
		case c == '$':
			i = copyDollarQuoted(&b, text, i)
		default:
			b.WriteByte(c)
			i++
		}
	}
	flush()
	return stmts
}

// copyQuoted копирует квотированный фрагмент начиная с открывающей
// кавычки. Удвоенная кавычка внутри литерала — экранирование.
func copyQuoted(b *strings.Builder, text string, start int) int {
	quote := text[start]
	b.WriteByte(quote)
	for i := start + 1; i < len(text); i++ {
		b.WriteByte(text[i])
		if text[i] == quote {
			if i+1 < len(text) && text[i+1] == quote {
				i++
				b.WriteByte(text[i])
				continue
			}
			return i + 1
		}
	}
	return len(text)
}

// copyDollarQuoted копирует блок $tag$...$tag$ целиком либо одиночный '$'.
func copyDollarQuoted(b *strings.Builder, text string, start int) int {
	tag := dollarTagRe.FindString(text[start:])
	if tag == "" {
		b.WriteByte('$')
		return start + 1
	}
	rest := text[start+len(tag):]
	end := strings.Index(rest, tag)
	if end < 0 {
		b.WriteString(text[start:])
		return len(text)
	}
	total := len(tag) + end + len(tag)
	b.WriteString(text[start : start+total])
	return start + total
}
