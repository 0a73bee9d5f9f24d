package model

// FileRecord — запись метаданных файла.
// Хранится в таблице files.
type FileRecord struct {
	// ID — UUID файла (задаётся при создании записи)
	ID string
	// Filename — оригинальное имя файла
	Filename string
	// StoragePath — путь к содержимому файла в бэкенде хранения
	StoragePath string
	// FileType — нормализованное расширение файла без точки (pdf, txt, md, ...)
	FileType string
	// Size — размер файла в байтах
	Size int64
	// Checksum — SHA-256 контрольная сумма содержимого (hex, 64 символа)
	Checksum string
	// StorageBackend — метка бэкенда содержимого (local, s3, ...)
	StorageBackend string
	// Indexed — проиндексирован ли файл поисковым конвейером
	Indexed bool
	// IndexedAt — время последней индексации, Unix-миллисекунды (nil — не индексировался)
	IndexedAt *int64
	// CreatedAt — время создания записи, Unix-миллисекунды
	CreatedAt int64
	// UpdatedAt — время последнего обновления, Unix-миллисекунды
	UpdatedAt int64
	// DeletedAt — время мягкого удаления, Unix-миллисекунды (nil — запись активна)
	DeletedAt *int64
}

// Active сообщает, активна ли запись (не удалена мягко).
func (f *FileRecord) Active() bool {
	return f.DeletedAt == nil
}
