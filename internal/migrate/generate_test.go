package migrate

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// generateAt — момент генерации, одинаковый во всех тестах.
var generateAt = time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

func TestGenerate_VersionFormat(t *testing.T) {
	dir := t.TempDir()

	gen, err := Generate(dir, "create files table", generateAt)
	if err != nil {
		t.Fatalf("Generate() вернул ошибку: %v", err)
	}

	if gen.Version != "2026082512000000" {
		t.Errorf("Version = %q, ожидается %q", gen.Version, "2026082512000000")
	}
	if len(gen.Version) != versionWidth {
		t.Errorf("len(Version) = %d, ожидается %d", len(gen.Version), versionWidth)
	}

	wantUp := filepath.Join(dir, "2026082512000000_create_files_table.up.sql")
	if gen.UpPath != wantUp {
		t.Errorf("UpPath = %q, ожидается %q", gen.UpPath, wantUp)
	}

	up, err := os.ReadFile(gen.UpPath)
	if err != nil {
		t.Fatalf("up-файл не создан: %v", err)
	}
	if !strings.Contains(string(up), gen.Version) {
		t.Errorf("up-файл не содержит версию %s", gen.Version)
	}
	if _, err := os.ReadFile(gen.DownPath); err != nil {
		t.Fatalf("down-файл не создан: %v", err)
	}
}

func TestGenerate_CounterWithinSecond(t *testing.T) {
	dir := t.TempDir()

	first, err := Generate(dir, "first", generateAt)
	if err != nil {
		t.Fatalf("Generate() вернул ошибку: %v", err)
	}
	second, err := Generate(dir, "second", generateAt)
	if err != nil {
		t.Fatalf("Generate() вернул ошибку: %v", err)
	}

	if first.Version != "2026082512000000" || second.Version != "2026082512000001" {
		t.Errorf("версии = %s, %s, ожидается наращивание счётчика", first.Version, second.Version)
	}
}

func TestGenerate_CounterMonotonicAfterDelete(t *testing.T) {
	dir := t.TempDir()

	first, err := Generate(dir, "first", generateAt)
	if err != nil {
		t.Fatalf("Generate() вернул ошибку: %v", err)
	}
	if _, err := Generate(dir, "second", generateAt); err != nil {
		t.Fatalf("Generate() вернул ошибку: %v", err)
	}

	// удаление ранней пары не должно освобождать её номер
	os.Remove(first.UpPath)
	os.Remove(first.DownPath)

	third, err := Generate(dir, "third", generateAt)
	if err != nil {
		t.Fatalf("Generate() вернул ошибку: %v", err)
	}
	if third.Version != "2026082512000002" {
		t.Errorf("Version = %q, ожидается %q", third.Version, "2026082512000002")
	}
}

func TestGenerate_CounterExhausted(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"2026082512000099_last.up.sql", "2026082512000099_last.down.sql"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;\n"), 0o644); err != nil {
			t.Fatalf("подготовка файла: %v", err)
		}
	}

	_, err := Generate(dir, "overflow", generateAt)
	if !errors.Is(err, ErrDuplicateVersion) {
		t.Errorf("Generate() = %v, ожидается ErrDuplicateVersion", err)
	}
}

func TestGenerate_OtherSecondIgnoresCounter(t *testing.T) {
	dir := t.TempDir()

	if _, err := Generate(dir, "first", generateAt); err != nil {
		t.Fatalf("Generate() вернул ошибку: %v", err)
	}

	next, err := Generate(dir, "second", generateAt.Add(time.Second))
	if err != nil {
		t.Fatalf("Generate() вернул ошибку: %v", err)
	}
	if next.Version != "2026082512000100" {
		t.Errorf("Version = %q, ожидается счётчик 00 новой секунды", next.Version)
	}
}

func TestGenerate_Slug(t *testing.T) {
	tests := []struct {
		description string
		want        string
	}{
		{"Add files table!", "add_files_table"},
		{"  много   пробелов  ", "много_пробелов"},
		{"Создание таблицы", "создание_таблицы"},
		{"v2.0-rc/1", "v2_0_rc_1"},
	}

	for _, tt := range tests {
		if got := slugify(tt.description); got != tt.want {
			t.Errorf("slugify(%q) = %q, ожидается %q", tt.description, got, tt.want)
		}
	}
}

func TestGenerate_EmptyDescription(t *testing.T) {
	for _, description := range []string{"", "   ", "!!!"} {
		if _, err := Generate(t.TempDir(), description, generateAt); err == nil {
			t.Errorf("Generate(%q) = nil, ожидается ошибка о пустом описании", description)
		}
	}
}

func TestGenerate_RoundTripsThroughLoader(t *testing.T) {
	dir := t.TempDir()

	gen, err := Generate(dir, "loadable migration", generateAt)
	if err != nil {
		t.Fatalf("Generate() вернул ошибку: %v", err)
	}

	src, err := LoadSource(os.DirFS(dir), ".")
	if err != nil {
		t.Fatalf("LoadSource() вернул ошибку: %v", err)
	}
	if src.Len() != 1 {
		t.Fatalf("Len() = %d, ожидается 1", src.Len())
	}

	def := src.Definitions()[0]
	if def.RawVersion != gen.Version {
		t.Errorf("RawVersion = %q, ожидается %q", def.RawVersion, gen.Version)
	}
	if def.Description != "loadable_migration" {
		t.Errorf("Description = %q, ожидается %q", def.Description, "loadable_migration")
	}
	if len(src.Warnings()) != 0 {
		t.Errorf("Warnings() = %v, ожидается пусто", src.Warnings())
	}
}
