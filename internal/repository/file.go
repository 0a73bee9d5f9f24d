package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/domain/model"
)

// FileRepository — интерфейс CRUD и дедупликации для таблицы files.
type FileRepository interface {
	// Create создаёт запись файла. Активный дубликат контрольной суммы — ErrConflict.
	Create(ctx context.Context, f *model.FileRecord) error
	// CreateOrGet создаёт запись или возвращает существующую активную
	// с той же контрольной суммой; created=true, если запись создана этим вызовом.
	CreateOrGet(ctx context.Context, f *model.FileRecord) (rec *model.FileRecord, created bool, err error)
	// GetByID возвращает запись по UUID; мягко удалённые видны только
	// при includeDeleted=true.
	GetByID(ctx context.Context, id string, includeDeleted bool) (*model.FileRecord, error)
	// GetByChecksum возвращает активную запись по контрольной сумме.
	GetByChecksum(ctx context.Context, checksum string) (*model.FileRecord, error)
	// UpdateMetadata обновляет имя, путь и бэкенд хранения файла.
	UpdateMetadata(ctx context.Context, id string, upd FileMetadataUpdate) error
	// MarkIndexed помечает файл проиндексированным. Повторный вызов
	// перезаписывает отметку времени: последняя индексация выигрывает.
	MarkIndexed(ctx context.Context, id string, indexedAt int64) error
	// SoftDelete помечает запись удалённой; повторное удаление — no-op.
	SoftDelete(ctx context.Context, id string) error
	// List возвращает записи по фильтрам, новые первыми (created_at DESC).
	List(ctx context.Context, filters FileListFilters, limit, offset int) ([]*model.FileRecord, error)
	// Count возвращает количество записей по фильтрам.
	Count(ctx context.Context, filters FileListFilters) (int, error)
}

// FileListFilters — фильтры для списка файлов.
type FileListFilters struct {
	// FileType — нормализованное расширение файла
	FileType *string
	// StorageBackend — метка бэкенда содержимого
	StorageBackend *string
	// Indexed — статус индексации
	Indexed *bool
	// IncludeDeleted — включать мягко удалённые записи
	IncludeDeleted bool
}

// FileMetadataUpdate — частичное обновление метаданных файла.
// nil-поле остаётся без изменений.
type FileMetadataUpdate struct {
	Filename       *string
	StoragePath    *string
	StorageBackend *string
}

// fileMapping — отображение model.FileRecord на таблицу files.
var fileMapping = Mapping[model.FileRecord]{
	Table: "files",
	Columns: []string{
		"id", "filename", "storage_path", "file_type", "size", "checksum",
		"storage_backend", "indexed", "indexed_at", "created_at", "updated_at", "deleted_at",
	},
	Values: func(f *model.FileRecord) []any {
		return []any{
			f.ID, f.Filename, f.StoragePath, f.FileType, f.Size, f.Checksum,
			f.StorageBackend, f.Indexed, f.IndexedAt, f.CreatedAt, f.UpdatedAt, f.DeletedAt,
		}
	},
	Scan: func(row Row) (*model.FileRecord, error) {
		f := &model.FileRecord{}
		if err := row.Scan(
			&f.ID, &f.Filename, &f.StoragePath, &f.FileType, &f.Size, &f.Checksum,
			&f.StorageBackend, &f.Indexed, &f.IndexedAt, &f.CreatedAt, &f.UpdatedAt, &f.DeletedAt,
		); err != nil {
			return nil, err
		}
		return f, nil
	},
}

// fileRepo — реализация FileRepository.
type fileRepo struct {
	base *Base[model.FileRecord]
}

// NewFileRepository создаёт репозиторий метаданных файлов.
func NewFileRepository(db DBTX) FileRepository {
	return &fileRepo{base: NewBase(db, fileMapping)}
}

func (r *fileRepo) Create(ctx context.Context, f *model.FileRecord) error {
	// Активный дубликат контрольной суммы обнаруживаем до вставки:
	// частичный уникальный индекс ловит только гонку конкурентных вставок
	if f.Checksum != "" {
		if _, err := r.GetByChecksum(ctx, f.Checksum); err == nil {
			return fmt.Errorf("%w: файл с такой контрольной суммой уже существует", ErrConflict)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
	}

	if f.CreatedAt == 0 {
		f.CreatedAt = nowMillis()
	}
	if f.UpdatedAt == 0 {
		f.UpdatedAt = f.CreatedAt
	}
	return r.base.Insert(ctx, f)
}

func (r *fileRepo) CreateOrGet(ctx context.Context, f *model.FileRecord) (*model.FileRecord, bool, error) {
	if f.Checksum != "" {
		existing, err := r.GetByChecksum(ctx, f.Checksum)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	if f.CreatedAt == 0 {
		f.CreatedAt = nowMillis()
	}
	if f.UpdatedAt == 0 {
		f.UpdatedAt = f.CreatedAt
	}
	if err := r.base.Insert(ctx, f); err != nil {
		if errors.Is(err, ErrConflict) && f.Checksum != "" {
			// Проигрыш гонки конкурентной вставки: пытаемся вернуть
			// победителя. В postgresql транзакция после нарушения уже
			// прервана — тогда конфликт отдаётся вызывающему для
			// повтора в новой сессии.
			if existing, getErr := r.GetByChecksum(ctx, f.Checksum); getErr == nil {
				return existing, false, nil
			}
			return nil, false, fmt.Errorf("%w: файл с такой контрольной суммой уже существует", ErrConflict)
		}
		return nil, false, err
	}
	return f, true, nil
}

func (r *fileRepo) GetByID(ctx context.Context, id string, includeDeleted bool) (*model.FileRecord, error) {
	return r.base.GetByID(ctx, id, includeDeleted)
}

func (r *fileRepo) GetByChecksum(ctx context.Context, checksum string) (*model.FileRecord, error) {
	return r.base.GetWhere(ctx, "checksum = $1 AND deleted_at IS NULL", checksum)
}

func (r *fileRepo) UpdateMetadata(ctx context.Context, id string, upd FileMetadataUpdate) error {
	var assigns []Assignment
	if upd.Filename != nil {
		assigns = append(assigns, Assignment{Column: "filename", Value: *upd.Filename})
	}
	if upd.StoragePath != nil {
		assigns = append(assigns, Assignment{Column: "storage_path", Value: *upd.StoragePath})
	}
	if upd.StorageBackend != nil {
		assigns = append(assigns, Assignment{Column: "storage_backend", Value: *upd.StorageBackend})
	}
	if len(assigns) == 0 {
		return nil
	}
	return r.base.Update(ctx, id, nowMillis(), assigns...)
}

func (r *fileRepo) MarkIndexed(ctx context.Context, id string, indexedAt int64) error {
	return r.base.Update(ctx, id, nowMillis(),
		Assignment{Column: "indexed", Value: true},
		Assignment{Column: "indexed_at", Value: indexedAt},
	)
}

func (r *fileRepo) SoftDelete(ctx context.Context, id string) error {
	return r.base.SoftDelete(ctx, id, nowMillis())
}

// buildFileWhere строит условие фильтрации и аргументы для списка файлов.
func buildFileWhere(filters FileListFilters, startArg int) (string, []any) {
	var conditions []string
	var args []any
	argNum := startArg

	if !filters.IncludeDeleted {
		conditions = append(conditions, "deleted_at IS NULL")
	}
	if filters.FileType != nil {
		conditions = append(conditions, fmt.Sprintf("file_type = $%d", argNum))
		args = append(args, *filters.FileType)
		argNum++
	}
	if filters.StorageBackend != nil {
		conditions = append(conditions, fmt.Sprintf("storage_backend = $%d", argNum))
		args = append(args, *filters.StorageBackend)
		argNum++
	}
	if filters.Indexed != nil {
		conditions = append(conditions, fmt.Sprintf("indexed = $%d", argNum))
		args = append(args, *filters.Indexed)
	}

	return strings.Join(conditions, " AND "), args
}

func (r *fileRepo) List(ctx context.Context, filters FileListFilters, limit, offset int) ([]*model.FileRecord, error) {
	where, args := buildFileWhere(filters, 1)
	return r.base.List(ctx, where, args, "created_at", true, limit, offset)
}

func (r *fileRepo) Count(ctx context.Context, filters FileListFilters) (int, error) {
	where, args := buildFileWhere(filters, 1)
	return r.base.Count(ctx, where, args)
}
