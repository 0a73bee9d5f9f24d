// files.go — сервис метаданных файлов: регистрация с дедупликацией по
// контрольной сумме, выборка с кэшем, отметка индексации, мягкое удаление.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/database"
	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/domain/model"
	"github.com/sanjibdevnathlabs/ragtrial/storage-core/internal/repository"
)

// UploadParams — параметры регистрации файла.
type UploadParams struct {
	// Filename — оригинальное имя файла
	Filename string
	// Content — поток содержимого; читается целиком для подсчёта
	// контрольной суммы и размера
	Content io.Reader
	// StoragePath — путь содержимого в бэкенде хранения
	StoragePath string
	// StorageBackend — метка бэкенда хранения (по умолчанию local)
	StorageBackend string
}

// UploadResult — результат регистрации файла.
type UploadResult struct {
	// Record — созданная или существующая запись
	Record *model.FileRecord
	// Created — true, если запись создана этим вызовом
	Created bool
}

// FilesService — сервис метаданных файлов поверх фабрики сессий.
// Каждая операция выполняется в собственной транзакционной сессии.
type FilesService struct {
	factory *database.SessionFactory
	cache   *CacheService
	logger  *slog.Logger
}

// NewFilesService создаёт сервис метаданных файлов.
func NewFilesService(factory *database.SessionFactory, cache *CacheService, logger *slog.Logger) *FilesService {
	return &FilesService{
		factory: factory,
		cache:   cache,
		logger:  logger.With(slog.String("component", "files_service")),
	}
}

// Upload регистрирует файл: потоковым чтением считает SHA-256 и размер,
// нормализует тип по расширению и создаёт запись. Повторная регистрация
// того же содержимого возвращает существующую запись с Created=false.
func (s *FilesService) Upload(ctx context.Context, params UploadParams) (*UploadResult, error) {
	if params.Filename == "" {
		return nil, fmt.Errorf("%w: не задано имя файла", ErrValidation)
	}
	if params.Content == nil {
		return nil, fmt.Errorf("%w: не задано содержимое файла", ErrValidation)
	}
	backend := params.StorageBackend
	if backend == "" {
		backend = "local"
	}

	checksum, size, err := hashContent(params.Content)
	if err != nil {
		return nil, fmt.Errorf("подсчёт контрольной суммы: %w", err)
	}

	rec := &model.FileRecord{
		ID:             uuid.New().String(),
		Filename:       params.Filename,
		StoragePath:    params.StoragePath,
		FileType:       normalizeFileType(params.Filename),
		Size:           size,
		Checksum:       checksum,
		StorageBackend: backend,
	}

	var result *UploadResult
	// Проигрыш гонки дедупликации прерывает транзакцию postgresql;
	// конфликт повторяется один раз в новой сессии
	for attempt := 0; attempt < 2; attempt++ {
		err = s.factory.WithSession(ctx, database.IntentWrite, func(sess *database.Session) error {
			got, created, err := repository.NewFileRepository(sess).CreateOrGet(ctx, rec)
			if err != nil {
				return err
			}
			result = &UploadResult{Record: got, Created: created}
			return nil
		})
		if err == nil || !errors.Is(err, repository.ErrConflict) {
			break
		}
	}
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: контрольная сумма %s", ErrConflict, checksum)
		}
		return nil, fmt.Errorf("регистрация файла: %w", err)
	}

	s.cache.Set(result.Record.ID, result.Record)
	if result.Created {
		s.logger.Info("Файл зарегистрирован",
			slog.String("file_id", result.Record.ID),
			slog.String("filename", params.Filename),
			slog.String("checksum", checksum),
			slog.Int64("size", size),
		)
	} else {
		s.logger.Info("Дубликат содержимого: возвращена существующая запись",
			slog.String("file_id", result.Record.ID),
			slog.String("checksum", checksum),
		)
	}
	return result, nil
}

// Get возвращает активную запись файла, используя кэш метаданных.
func (s *FilesService) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	if rec, ok := s.cache.Get(id); ok {
		return rec, nil
	}

	var rec *model.FileRecord
	err := s.factory.WithSession(ctx, database.IntentRead, func(sess *database.Session) error {
		var err error
		rec, err = repository.NewFileRepository(sess).GetByID(ctx, id, false)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение файла: %w", err)
	}

	s.cache.Set(id, rec)
	return rec, nil
}

// List возвращает записи по фильтрам, новые первыми, и общее количество.
func (s *FilesService) List(ctx context.Context, filters repository.FileListFilters, limit, offset int) ([]*model.FileRecord, int, error) {
	var files []*model.FileRecord
	var total int
	err := s.factory.WithSession(ctx, database.IntentRead, func(sess *database.Session) error {
		repo := repository.NewFileRepository(sess)
		var err error
		if files, err = repo.List(ctx, filters, limit, offset); err != nil {
			return err
		}
		total, err = repo.Count(ctx, filters)
		return err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("получение списка файлов: %w", err)
	}
	return files, total, nil
}

// UpdateMetadata обновляет имя, путь или бэкенд хранения файла и
// возвращает обновлённую запись.
func (s *FilesService) UpdateMetadata(ctx context.Context, id string, upd repository.FileMetadataUpdate) (*model.FileRecord, error) {
	var rec *model.FileRecord
	err := s.factory.WithSession(ctx, database.IntentWrite, func(sess *database.Session) error {
		repo := repository.NewFileRepository(sess)
		if err := repo.UpdateMetadata(ctx, id, upd); err != nil {
			return err
		}
		var err error
		rec, err = repo.GetByID(ctx, id, false)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("обновление метаданных: %w", err)
	}

	s.cache.Set(id, rec)
	s.logger.Info("Метаданные файла обновлены", slog.String("file_id", id))
	return rec, nil
}

// MarkIndexed помечает файл проиндексированным текущим моментом.
// Повторный вызов перезаписывает отметку: последняя индексация выигрывает.
func (s *FilesService) MarkIndexed(ctx context.Context, id string) error {
	err := s.factory.WithSession(ctx, database.IntentWrite, func(sess *database.Session) error {
		return repository.NewFileRepository(sess).MarkIndexed(ctx, id, time.Now().UnixMilli())
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("отметка индексации: %w", err)
	}

	s.cache.Delete(id)
	s.logger.Info("Файл помечен проиндексированным", slog.String("file_id", id))
	return nil
}

// Delete мягко удаляет запись файла. Повторное удаление — no-op.
func (s *FilesService) Delete(ctx context.Context, id string) error {
	err := s.factory.WithSession(ctx, database.IntentWrite, func(sess *database.Session) error {
		return repository.NewFileRepository(sess).SoftDelete(ctx, id)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("удаление файла: %w", err)
	}

	s.cache.Delete(id)
	s.logger.Info("Файл помечен удалённым", slog.String("file_id", id))
	return nil
}

// hashContent потоково считает SHA-256 и размер содержимого.
func hashContent(r io.Reader) (checksum string, size int64, err error) {
	hasher := sha256.New()
	size, err = io.Copy(hasher, r)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}

// normalizeFileType выводит тип файла из расширения имени: нижний
// регистр без точки; имя без расширения — bin.
func normalizeFileType(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if ext == "" {
		return "bin"
	}
	return ext
}
