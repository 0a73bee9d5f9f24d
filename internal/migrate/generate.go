package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrDuplicateVersion возвращается, когда внутри одной секунды исчерпан
// счётчик версий 00-99.
var ErrDuplicateVersion = errors.New("версия миграции уже существует")

// GeneratedMigration — результат генерации пары файлов миграции.
type GeneratedMigration struct {
	// Version — присвоенная версия
	Version string
	// UpPath — путь up-файла
	UpPath string
	// DownPath — путь down-файла
	DownPath string
}

// slugRe — последовательности символов, не входящих в идентификатор.
var slugRe = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// Generate создаёт пару файлов миграции в каталоге dir. Версия — метка
// времени now в UTC формата ГГГГММДДЧЧММСС с двузначным счётчиком:
// ширина всегда 16 знаков, числовой и лексикографический порядок
// совпадают. Повторная генерация в ту же секунду наращивает счётчик;
// после 99 возвращается ErrDuplicateVersion.
func Generate(dir, description string, now time.Time) (*GeneratedMigration, error) {
	slug := slugify(description)
	if slug == "" {
		return nil, fmt.Errorf("описание миграции не содержит допустимых символов: %q", description)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога миграций: %w", err)
	}

	base := now.UTC().Format("20060102150405")
	version, err := nextVersion(dir, base)
	if err != nil {
		return nil, err
	}

	gen := &GeneratedMigration{
		Version:  version,
		UpPath:   filepath.Join(dir, version+"_"+slug+".up.sql"),
		DownPath: filepath.Join(dir, version+"_"+slug+".down.sql"),
	}

	up := fmt.Sprintf("-- Миграция %s: %s\n\n", version, description)
	down := fmt.Sprintf("-- Откат миграции %s: %s\n\n", version, description)

	if err := os.WriteFile(gen.UpPath, []byte(up), 0o644); err != nil {
		return nil, fmt.Errorf("ошибка записи up-файла: %w", err)
	}
	if err := os.WriteFile(gen.DownPath, []byte(down), 0o644); err != nil {
		os.Remove(gen.UpPath) //nolint:errcheck // неполная пара не должна остаться
		return nil, fmt.Errorf("ошибка записи down-файла: %w", err)
	}
	return gen, nil
}

// nextVersion подбирает счётчик внутри секунды base: следующий за
// максимальным из уже занятых, чтобы версии росли монотонно даже после
// удаления файлов.
func nextVersion(dir, base string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("ошибка чтения каталога миграций: %w", err)
	}

	next := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := migrationFileRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		prefix := m[1]
		if len(prefix) != versionWidth || !strings.HasPrefix(prefix, base) {
			continue
		}
		n, err := strconv.Atoi(prefix[len(base):])
		if err != nil {
			continue
		}
		if n+1 > next {
			next = n + 1
		}
	}

	if next > 99 {
		return "", fmt.Errorf("%w: в пределах секунды %s исчерпан счётчик 00-99", ErrDuplicateVersion, base)
	}
	return fmt.Sprintf("%s%02d", base, next), nil
}

// slugify приводит описание к идентификатору для имени файла: буквы и
// цифры в нижнем регистре, остальное — одиночные '_'.
func slugify(description string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(strings.TrimSpace(description)), "_")
	return strings.Trim(s, "_")
}
