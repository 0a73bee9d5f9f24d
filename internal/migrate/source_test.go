package migrate

import (
	"reflect"
	"strings"
	"testing"
	"testing/fstest"
)

// fixtureFS собирает файловую систему с каталогом migrations.
func fixtureFS(files map[string]string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for name, content := range files {
		fsys["migrations/"+name] = &fstest.MapFile{Data: []byte(content)}
	}
	return fsys
}

func TestLoadSource_Ascending(t *testing.T) {
	fsys := fixtureFS(map[string]string{
		"2024010100000001_second.up.sql":   "CREATE TABLE b (id TEXT);",
		"2024010100000001_second.down.sql": "DROP TABLE b;",
		"2024010100000000_first.up.sql":    "CREATE TABLE a (id TEXT);",
		"2024010100000000_first.down.sql":  "DROP TABLE a;",
	})

	src, err := LoadSource(fsys, "migrations")
	if err != nil {
		t.Fatalf("LoadSource() вернул ошибку: %v", err)
	}
	if src.Len() != 2 {
		t.Fatalf("Len() = %d, ожидается 2", src.Len())
	}

	defs := src.Definitions()
	if defs[0].RawVersion != "2024010100000000" || defs[1].RawVersion != "2024010100000001" {
		t.Errorf("порядок версий = [%s, %s], ожидается возрастание", defs[0].RawVersion, defs[1].RawVersion)
	}
	if defs[0].Description != "first" {
		t.Errorf("Description = %q, ожидается %q", defs[0].Description, "first")
	}
	if !strings.Contains(defs[0].UpSQL, "CREATE TABLE a") {
		t.Errorf("UpSQL = %q, ожидается текст up-файла", defs[0].UpSQL)
	}
	if !strings.Contains(defs[0].DownSQL, "DROP TABLE a") {
		t.Errorf("DownSQL = %q, ожидается текст down-файла", defs[0].DownSQL)
	}
	if len(src.Warnings()) != 0 {
		t.Errorf("Warnings() = %v, ожидается пусто", src.Warnings())
	}
}

func TestLoadSource_PreservesLeadingZeros(t *testing.T) {
	fsys := fixtureFS(map[string]string{
		"0000000000000001_init.up.sql":   "SELECT 1;",
		"0000000000000001_init.down.sql": "SELECT 1;",
	})

	src, err := LoadSource(fsys, "migrations")
	if err != nil {
		t.Fatalf("LoadSource() вернул ошибку: %v", err)
	}

	def := src.Definitions()[0]
	if def.RawVersion != "0000000000000001" {
		t.Errorf("RawVersion = %q, ожидается сохранение ведущих нулей", def.RawVersion)
	}
	if def.Version != 1 {
		t.Errorf("Version = %d, ожидается 1", def.Version)
	}
	if got, ok := src.ByVersion("0000000000000001"); !ok || got.Description != "init" {
		t.Errorf("ByVersion() = %v, %v, ожидается миграция init", got, ok)
	}
}

func TestLoadSource_MissingDown(t *testing.T) {
	fsys := fixtureFS(map[string]string{
		"2024010100000000_oneway.up.sql": "CREATE TABLE a (id TEXT);",
	})

	_, err := LoadSource(fsys, "migrations")
	if err == nil {
		t.Fatal("LoadSource() = nil, ожидается ошибка об отсутствии down-файла")
	}
	if !strings.Contains(err.Error(), "down") {
		t.Errorf("ошибка %q не упоминает down-файл", err)
	}
}

func TestLoadSource_DuplicateVersion(t *testing.T) {
	// разные префиксы с одинаковым числовым значением версии
	fsys := fixtureFS(map[string]string{
		"001_a.up.sql":   "SELECT 1;",
		"001_a.down.sql": "SELECT 1;",
		"1_b.up.sql":     "SELECT 1;",
		"1_b.down.sql":   "SELECT 1;",
	})

	if _, err := LoadSource(fsys, "migrations"); err == nil {
		t.Fatal("LoadSource() = nil, ожидается ошибка о дубликате версии")
	}
}

func TestLoadSource_Empty(t *testing.T) {
	fsys := fixtureFS(map[string]string{"readme.txt": "нет миграций"})

	src, err := LoadSource(fsys, "migrations")
	if err != nil {
		t.Fatalf("LoadSource() вернул ошибку: %v", err)
	}
	if src.Len() != 0 {
		t.Errorf("Len() = %d, ожидается 0", src.Len())
	}
}

func TestLoadSource_WidthWarnings(t *testing.T) {
	fsys := fixtureFS(map[string]string{
		"1_short.up.sql":                 "SELECT 1;",
		"1_short.down.sql":               "SELECT 1;",
		"2024010100000000_full.up.sql":   "SELECT 1;",
		"2024010100000000_full.down.sql": "SELECT 1;",
	})

	src, err := LoadSource(fsys, "migrations")
	if err != nil {
		t.Fatalf("LoadSource() вернул ошибку: %v", err)
	}

	warnings := strings.Join(src.Warnings(), "\n")
	if !strings.Contains(warnings, "не соответствует") {
		t.Errorf("Warnings() = %v, ожидается замечание о ширине версии 1", src.Warnings())
	}
	if !strings.Contains(warnings, "смешанная ширина") {
		t.Errorf("Warnings() = %v, ожидается замечание о смешанной ширине", src.Warnings())
	}
}

func TestDefaultSource(t *testing.T) {
	src, err := DefaultSource()
	if err != nil {
		t.Fatalf("DefaultSource() вернул ошибку: %v", err)
	}
	if src.Len() != 2 {
		t.Fatalf("Len() = %d, ожидается 2 встроенные миграции", src.Len())
	}

	defs := src.Definitions()
	if defs[0].RawVersion != "2024010100000000" || defs[0].Description != "create_files_table" {
		t.Errorf("первая миграция = %s (%s), ожидается создание таблицы files", defs[0].RawVersion, defs[0].Description)
	}
	if !strings.Contains(defs[0].UpSQL, "CREATE TABLE IF NOT EXISTS files") {
		t.Errorf("UpSQL первой миграции не содержит DDL таблицы files")
	}
	if !strings.Contains(defs[0].UpSQL, "WHERE deleted_at IS NULL") {
		t.Errorf("UpSQL первой миграции не содержит частичный уникальный индекс по checksum")
	}
	if defs[1].Description != "index_files_file_type" {
		t.Errorf("вторая миграция = %q, ожидается индекс по типу файла", defs[1].Description)
	}
	if len(src.Warnings()) != 0 {
		t.Errorf("Warnings() = %v, ожидается пусто", src.Warnings())
	}
}

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "два выражения",
			text: "CREATE TABLE a (id TEXT);\nCREATE TABLE b (id TEXT);",
			want: []string{"CREATE TABLE a (id TEXT)", "CREATE TABLE b (id TEXT)"},
		},
		{
			name: "точка с запятой в строковом литерале",
			text: "INSERT INTO t (v) VALUES ('a;b');",
			want: []string{"INSERT INTO t (v) VALUES ('a;b')"},
		},
		{
			name: "экранированная кавычка",
			text: "INSERT INTO t (v) VALUES ('it''s; fine');",
			want: []string{"INSERT INTO t (v) VALUES ('it''s; fine')"},
		},
		{
			name: "строчный комментарий",
			text: "-- комментарий; с точкой с запятой\nSELECT 1;",
			want: []string{"SELECT 1"},
		},
		{
			name: "блочный комментарий",
			text: "SELECT /* a; b */ 1;",
			want: []string{"SELECT  1"},
		},
		{
			name: "долларовое квотирование",
			text: "CREATE FUNCTION f() RETURNS void AS $$ BEGIN; END $$ LANGUAGE plpgsql;",
			want: []string{"CREATE FUNCTION f() RETURNS void AS $$ BEGIN; END $$ LANGUAGE plpgsql"},
		},
		{
			name: "без завершающей точки с запятой",
			text: "SELECT 1",
			want: []string{"SELECT 1"},
		},
		{
			name: "только комментарии",
			text: "-- ничего\n/* пусто */",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitStatements(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitStatements(%q) = %q, ожидается %q", tt.text, got, tt.want)
			}
		})
	}
}
