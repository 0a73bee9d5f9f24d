package repository

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/config"
	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/database"
	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/domain/model"
	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/migrate"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newSQLiteFactory открывает фабрику сессий над временным файлом sqlite
// и применяет встроенные миграции.
func newSQLiteFactory(t *testing.T) *database.SessionFactory {
	t.Helper()

	cfg := &config.Config{
		Write: config.PoolConfig{
			Engine:         config.EngineSQLite,
			Database:       filepath.Join(t.TempDir(), "test.db"),
			PoolSize:       2,
			MaxOverflow:    2,
			Recycle:        time.Minute,
			AcquireTimeout: 5 * time.Second,
		},
	}

	f, err := database.NewSessionFactory(context.Background(), cfg, testLogger())
	if err != nil {
		t.Fatalf("NewSessionFactory() ошибка: %v", err)
	}
	t.Cleanup(func() { f.Close() })

	src, err := migrate.DefaultSource()
	if err != nil {
		t.Fatalf("DefaultSource() ошибка: %v", err)
	}
	if _, err := migrate.NewManager(f, src, testLogger()).Up(context.Background(), 0); err != nil {
		t.Fatalf("применение миграций: %v", err)
	}
	return f
}

// inSession выполняет fn над репозиторием в рамках одной сессии записи.
func inSession(f *database.SessionFactory, fn func(repo FileRepository) error) error {
	return f.WithSession(context.Background(), database.IntentWrite, func(s *database.Session) error {
		return fn(NewFileRepository(s))
	})
}

func newFileRecord(checksum string) *model.FileRecord {
	return &model.FileRecord{
		ID:             uuid.New().String(),
		Filename:       "doc.pdf",
		StoragePath:    "files/doc.pdf",
		FileType:       "pdf",
		Size:           1024,
		Checksum:       checksum,
		StorageBackend: "local",
	}
}

func TestFileCRUD(t *testing.T) {
	f := newSQLiteFactory(t)
	ctx := context.Background()

	rec := newFileRecord("sha256:aaa")

	// Create
	if err := inSession(f, func(repo FileRepository) error {
		return repo.Create(ctx, rec)
	}); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if rec.CreatedAt == 0 || rec.UpdatedAt == 0 {
		t.Error("CreatedAt/UpdatedAt не установлены после Create")
	}

	// GetByID
	var got *model.FileRecord
	if err := inSession(f, func(repo FileRepository) error {
		var err error
		got, err = repo.GetByID(ctx, rec.ID, false)
		return err
	}); err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.Filename != "doc.pdf" || got.Checksum != "sha256:aaa" || got.Size != 1024 {
		t.Errorf("GetByID() = %+v, хотели исходную запись", got)
	}
	if !got.Active() {
		t.Error("Active() = false для неудалённой записи")
	}

	// GetByChecksum
	if err := inSession(f, func(repo FileRepository) error {
		var err error
		got, err = repo.GetByChecksum(ctx, "sha256:aaa")
		return err
	}); err != nil {
		t.Fatalf("GetByChecksum() ошибка: %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("GetByChecksum().ID = %q, хотели %q", got.ID, rec.ID)
	}

	// UpdateMetadata
	name, path := "renamed.pdf", "files/renamed.pdf"
	if err := inSession(f, func(repo FileRepository) error {
		return repo.UpdateMetadata(ctx, rec.ID, FileMetadataUpdate{Filename: &name, StoragePath: &path})
	}); err != nil {
		t.Fatalf("UpdateMetadata() ошибка: %v", err)
	}
	if err := inSession(f, func(repo FileRepository) error {
		var err error
		got, err = repo.GetByID(ctx, rec.ID, false)
		return err
	}); err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.Filename != "renamed.pdf" || got.StoragePath != "files/renamed.pdf" {
		t.Errorf("после UpdateMetadata: Filename=%q, StoragePath=%q", got.Filename, got.StoragePath)
	}
	if got.StorageBackend != "local" {
		t.Errorf("StorageBackend = %q, не должен меняться при частичном обновлении", got.StorageBackend)
	}
	if got.UpdatedAt < got.CreatedAt {
		t.Errorf("UpdatedAt = %d раньше CreatedAt = %d", got.UpdatedAt, got.CreatedAt)
	}

	// SoftDelete
	if err := inSession(f, func(repo FileRepository) error {
		return repo.SoftDelete(ctx, rec.ID)
	}); err != nil {
		t.Fatalf("SoftDelete() ошибка: %v", err)
	}
	err := inSession(f, func(repo FileRepository) error {
		_, err := repo.GetByID(ctx, rec.ID, false)
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() после удаления = %v, хотели ErrNotFound", err)
	}

	// Мягко удалённая запись видна с includeDeleted
	if err := inSession(f, func(repo FileRepository) error {
		var err error
		got, err = repo.GetByID(ctx, rec.ID, true)
		return err
	}); err != nil {
		t.Fatalf("GetByID(includeDeleted) ошибка: %v", err)
	}
	if got.DeletedAt == nil || got.Active() {
		t.Error("DeletedAt не установлен после SoftDelete")
	}
}

func TestFileChecksumDedup(t *testing.T) {
	f := newSQLiteFactory(t)
	ctx := context.Background()

	first := newFileRecord("sha256:dup")
	if err := inSession(f, func(repo FileRepository) error {
		return repo.Create(ctx, first)
	}); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	// Create с занятой контрольной суммой — конфликт
	err := inSession(f, func(repo FileRepository) error {
		return repo.Create(ctx, newFileRecord("sha256:dup"))
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Create() дубликата = %v, хотели ErrConflict", err)
	}

	// CreateOrGet возвращает существующую запись без новой строки
	var got *model.FileRecord
	var created bool
	if err := inSession(f, func(repo FileRepository) error {
		var err error
		got, created, err = repo.CreateOrGet(ctx, newFileRecord("sha256:dup"))
		return err
	}); err != nil {
		t.Fatalf("CreateOrGet() ошибка: %v", err)
	}
	if created {
		t.Error("created = true, хотели возврат существующей записи")
	}
	if got.ID != first.ID {
		t.Errorf("CreateOrGet().ID = %q, хотели ID первой записи %q", got.ID, first.ID)
	}

	var count int
	if err := inSession(f, func(repo FileRepository) error {
		var err error
		count, err = repo.Count(ctx, FileListFilters{})
		return err
	}); err != nil {
		t.Fatalf("Count() ошибка: %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, дедупликация не должна создавать строк", count)
	}

	// Новая контрольная сумма создаёт запись
	if err := inSession(f, func(repo FileRepository) error {
		var err error
		_, created, err = repo.CreateOrGet(ctx, newFileRecord("sha256:new"))
		return err
	}); err != nil {
		t.Fatalf("CreateOrGet() ошибка: %v", err)
	}
	if !created {
		t.Error("created = false для новой контрольной суммы")
	}
}

func TestFileChecksumReuseAfterSoftDelete(t *testing.T) {
	f := newSQLiteFactory(t)
	ctx := context.Background()

	first := newFileRecord("sha256:reuse")
	if err := inSession(f, func(repo FileRepository) error {
		return repo.Create(ctx, first)
	}); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if err := inSession(f, func(repo FileRepository) error {
		return repo.SoftDelete(ctx, first.ID)
	}); err != nil {
		t.Fatalf("SoftDelete() ошибка: %v", err)
	}

	// Контрольная сумма удалённой записи свободна для новой
	second := newFileRecord("sha256:reuse")
	var got *model.FileRecord
	var created bool
	if err := inSession(f, func(repo FileRepository) error {
		var err error
		got, created, err = repo.CreateOrGet(ctx, second)
		return err
	}); err != nil {
		t.Fatalf("CreateOrGet() после удаления ошибка: %v", err)
	}
	if !created {
		t.Error("created = false, хотели новую запись после мягкого удаления")
	}
	if got.ID == first.ID {
		t.Error("CreateOrGet() вернул удалённую запись вместо новой")
	}

	// Активная запись по сумме — новая; удалённая сохранена
	if err := inSession(f, func(repo FileRepository) error {
		active, err := repo.GetByChecksum(ctx, "sha256:reuse")
		if err != nil {
			return err
		}
		if active.ID != second.ID {
			t.Errorf("GetByChecksum().ID = %q, хотели %q", active.ID, second.ID)
		}
		old, err := repo.GetByID(ctx, first.ID, true)
		if err != nil {
			return err
		}
		if old.DeletedAt == nil {
			t.Error("удалённая запись потеряла отметку DeletedAt")
		}
		return nil
	}); err != nil {
		t.Fatalf("проверка записей ошибка: %v", err)
	}
}

func TestFileMarkIndexed(t *testing.T) {
	f := newSQLiteFactory(t)
	ctx := context.Background()

	rec := newFileRecord("sha256:idx")
	if err := inSession(f, func(repo FileRepository) error {
		return repo.Create(ctx, rec)
	}); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	readBack := func() *model.FileRecord {
		var got *model.FileRecord
		if err := inSession(f, func(repo FileRepository) error {
			var err error
			got, err = repo.GetByID(ctx, rec.ID, false)
			return err
		}); err != nil {
			t.Fatalf("GetByID() ошибка: %v", err)
		}
		return got
	}

	// Первая индексация
	if err := inSession(f, func(repo FileRepository) error {
		return repo.MarkIndexed(ctx, rec.ID, 1000)
	}); err != nil {
		t.Fatalf("MarkIndexed() ошибка: %v", err)
	}
	got := readBack()
	if !got.Indexed || got.IndexedAt == nil || *got.IndexedAt != 1000 {
		t.Errorf("после MarkIndexed: Indexed=%v, IndexedAt=%v, хотели true/1000", got.Indexed, got.IndexedAt)
	}

	// Повторная индексация перезаписывает отметку: последний вызов выигрывает
	if err := inSession(f, func(repo FileRepository) error {
		return repo.MarkIndexed(ctx, rec.ID, 2000)
	}); err != nil {
		t.Fatalf("повторный MarkIndexed() ошибка: %v", err)
	}
	got = readBack()
	if got.IndexedAt == nil || *got.IndexedAt != 2000 {
		t.Errorf("IndexedAt = %v, хотели перезапись на 2000", got.IndexedAt)
	}

	// Вызов с теми же значениями — без ошибки
	if err := inSession(f, func(repo FileRepository) error {
		return repo.MarkIndexed(ctx, rec.ID, 2000)
	}); err != nil {
		t.Errorf("идемпотентный MarkIndexed() ошибка: %v", err)
	}

	// Несуществующая и удалённая записи
	err := inSession(f, func(repo FileRepository) error {
		return repo.MarkIndexed(ctx, uuid.New().String(), 3000)
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkIndexed() неизвестного ID = %v, хотели ErrNotFound", err)
	}

	if err := inSession(f, func(repo FileRepository) error {
		return repo.SoftDelete(ctx, rec.ID)
	}); err != nil {
		t.Fatalf("SoftDelete() ошибка: %v", err)
	}
	err = inSession(f, func(repo FileRepository) error {
		return repo.MarkIndexed(ctx, rec.ID, 4000)
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkIndexed() удалённой записи = %v, хотели ErrNotFound", err)
	}
}

func TestFileSoftDeleteIdempotent(t *testing.T) {
	f := newSQLiteFactory(t)
	ctx := context.Background()

	rec := newFileRecord("sha256:del")
	if err := inSession(f, func(repo FileRepository) error {
		return repo.Create(ctx, rec)
	}); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := inSession(f, func(repo FileRepository) error {
			return repo.SoftDelete(ctx, rec.ID)
		}); err != nil {
			t.Errorf("SoftDelete() вызов %d ошибка: %v", i+1, err)
		}
	}

	err := inSession(f, func(repo FileRepository) error {
		return repo.SoftDelete(ctx, uuid.New().String())
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("SoftDelete() неизвестного ID = %v, хотели ErrNotFound", err)
	}
}

func TestFileList(t *testing.T) {
	f := newSQLiteFactory(t)
	ctx := context.Background()

	mk := func(checksum, fileType, backend string, createdAt int64) *model.FileRecord {
		rec := newFileRecord(checksum)
		rec.FileType = fileType
		rec.StorageBackend = backend
		rec.CreatedAt = createdAt
		return rec
	}

	oldest := mk("sha256:l1", "pdf", "local", 1000)
	middle := mk("sha256:l2", "txt", "local", 2000)
	newest := mk("sha256:l3", "pdf", "s3", 3000)

	for _, rec := range []*model.FileRecord{oldest, middle, newest} {
		if err := inSession(f, func(repo FileRepository) error {
			return repo.Create(ctx, rec)
		}); err != nil {
			t.Fatalf("Create() ошибка: %v", err)
		}
	}

	list := func(filters FileListFilters, limit, offset int) []*model.FileRecord {
		var got []*model.FileRecord
		if err := inSession(f, func(repo FileRepository) error {
			var err error
			got, err = repo.List(ctx, filters, limit, offset)
			return err
		}); err != nil {
			t.Fatalf("List() ошибка: %v", err)
		}
		return got
	}

	// Новые записи первыми
	got := list(FileListFilters{}, 0, 0)
	if len(got) != 3 {
		t.Fatalf("List() вернул %d записей, хотели 3", len(got))
	}
	if got[0].ID != newest.ID || got[1].ID != middle.ID || got[2].ID != oldest.ID {
		t.Errorf("порядок списка = [%s %s %s], хотели новые первыми",
			got[0].Checksum, got[1].Checksum, got[2].Checksum)
	}

	// Пагинация
	page := list(FileListFilters{}, 2, 0)
	if len(page) != 2 || page[0].ID != newest.ID {
		t.Errorf("страница 1 = %d записей, хотели 2 начиная с новейшей", len(page))
	}
	page = list(FileListFilters{}, 2, 2)
	if len(page) != 1 || page[0].ID != oldest.ID {
		t.Errorf("страница 2 = %d записей, хотели 1 старейшую", len(page))
	}

	// Фильтр по типу файла
	pdf := "pdf"
	got = list(FileListFilters{FileType: &pdf}, 0, 0)
	if len(got) != 2 {
		t.Errorf("List(pdf) вернул %d записей, хотели 2", len(got))
	}

	// Фильтр по бэкенду
	s3 := "s3"
	got = list(FileListFilters{StorageBackend: &s3}, 0, 0)
	if len(got) != 1 || got[0].ID != newest.ID {
		t.Errorf("List(s3) = %d записей, хотели только новейшую", len(got))
	}

	// Фильтр по статусу индексации
	if err := inSession(f, func(repo FileRepository) error {
		return repo.MarkIndexed(ctx, middle.ID, 5000)
	}); err != nil {
		t.Fatalf("MarkIndexed() ошибка: %v", err)
	}
	indexed := true
	got = list(FileListFilters{Indexed: &indexed}, 0, 0)
	if len(got) != 1 || got[0].ID != middle.ID {
		t.Errorf("List(indexed) = %d записей, хотели только проиндексированную", len(got))
	}
	notIndexed := false
	got = list(FileListFilters{Indexed: &notIndexed}, 0, 0)
	if len(got) != 2 {
		t.Errorf("List(not indexed) = %d записей, хотели 2", len(got))
	}

	// Удалённые скрыты по умолчанию и видны с IncludeDeleted
	if err := inSession(f, func(repo FileRepository) error {
		return repo.SoftDelete(ctx, oldest.ID)
	}); err != nil {
		t.Fatalf("SoftDelete() ошибка: %v", err)
	}
	if got = list(FileListFilters{}, 0, 0); len(got) != 2 {
		t.Errorf("List() после удаления = %d записей, хотели 2", len(got))
	}
	if got = list(FileListFilters{IncludeDeleted: true}, 0, 0); len(got) != 3 {
		t.Errorf("List(IncludeDeleted) = %d записей, хотели 3", len(got))
	}

	// Count с теми же фильтрами
	var count int
	if err := inSession(f, func(repo FileRepository) error {
		var err error
		count, err = repo.Count(ctx, FileListFilters{FileType: &pdf})
		return err
	}); err != nil {
		t.Fatalf("Count() ошибка: %v", err)
	}
	if count != 1 {
		t.Errorf("Count(pdf) = %d, хотели 1 активную", count)
	}
}

func TestFileUpdateMetadata(t *testing.T) {
	f := newSQLiteFactory(t)
	ctx := context.Background()

	rec := newFileRecord("sha256:meta")
	if err := inSession(f, func(repo FileRepository) error {
		return repo.Create(ctx, rec)
	}); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	// Пустое обновление — no-op
	if err := inSession(f, func(repo FileRepository) error {
		return repo.UpdateMetadata(ctx, rec.ID, FileMetadataUpdate{})
	}); err != nil {
		t.Errorf("UpdateMetadata() без полей ошибка: %v", err)
	}

	// Обновление одного поля не трогает остальные
	backend := "s3"
	if err := inSession(f, func(repo FileRepository) error {
		return repo.UpdateMetadata(ctx, rec.ID, FileMetadataUpdate{StorageBackend: &backend})
	}); err != nil {
		t.Fatalf("UpdateMetadata() ошибка: %v", err)
	}
	var got *model.FileRecord
	if err := inSession(f, func(repo FileRepository) error {
		var err error
		got, err = repo.GetByID(ctx, rec.ID, false)
		return err
	}); err != nil {
		t.Fatalf("GetByID() ошибка: %v", err)
	}
	if got.StorageBackend != "s3" || got.Filename != "doc.pdf" {
		t.Errorf("после частичного обновления: Backend=%q, Filename=%q", got.StorageBackend, got.Filename)
	}

	// Несуществующая запись
	name := "x"
	err := inSession(f, func(repo FileRepository) error {
		return repo.UpdateMetadata(ctx, uuid.New().String(), FileMetadataUpdate{Filename: &name})
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateMetadata() неизвестного ID = %v, хотели ErrNotFound", err)
	}
}

func TestFileGetNotFound(t *testing.T) {
	f := newSQLiteFactory(t)
	ctx := context.Background()

	err := inSession(f, func(repo FileRepository) error {
		_, err := repo.GetByID(ctx, uuid.New().String(), false)
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() = %v, хотели ErrNotFound", err)
	}

	err = inSession(f, func(repo FileRepository) error {
		_, err := repo.GetByChecksum(ctx, "sha256:missing")
		return err
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByChecksum() = %v, хотели ErrNotFound", err)
	}
}
