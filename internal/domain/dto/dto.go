// Пакет dto — входные DTO операций Archive Engine.
// Поля DTO — контракт очереди заданий; транспортная кодировка (JSON)
// задаётся тегами. Каждый DTO валидирует собственные структурные
// инварианты методом Validate.
package dto

import (
	"fmt"
	"strings"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
)

// CreateFileDTO — регистрация нового исходного файла.
type CreateFileDTO struct {
	// Name — имя файла
	Name string `json:"name"`
	// ContentRef — ключ содержимого в blob-хранилище
	ContentRef string `json:"content_ref"`
	// OwnerID — владелец
	OwnerID string `json:"owner_id"`
}

// Validate проверяет структурные инварианты DTO.
func (d *CreateFileDTO) Validate() error {
	if d.Name == "" {
		return apperrors.Validation("имя файла не задано")
	}
	if d.ContentRef == "" {
		return apperrors.Validation("content_ref не задан")
	}
	if d.OwnerID == "" {
		return apperrors.Validation("owner_id не задан")
	}
	return nil
}

// CreateArchiveDTO — регистрация загруженного архива.
type CreateArchiveDTO struct {
	// Name — имя архива (расширение определяет формат, если Format пуст)
	Name string `json:"name"`
	// Format — заявленный формат ("" = определить по имени/сигнатуре)
	Format string `json:"format,omitempty"`
	// FileIDs — идентификаторы исходных файлов (опционально)
	FileIDs []string `json:"file_ids,omitempty"`
	// OwnerID — владелец
	OwnerID string `json:"owner_id"`
	// ContentRef — ключ байтов архива в blob-хранилище
	ContentRef string `json:"content_ref"`
}

func (d *CreateArchiveDTO) Validate() error {
	if d.Name == "" {
		return apperrors.Validation("имя архива не задано")
	}
	if d.OwnerID == "" {
		return apperrors.Validation("owner_id не задан")
	}
	if d.ContentRef == "" {
		return apperrors.Validation("content_ref не задан")
	}
	if d.Format != "" {
		if _, err := model.ParseFormat(d.Format); err != nil {
			return apperrors.UnsupportedFormat(err.Error())
		}
	}
	return nil
}

// ExtractArchiveDTO — распаковка архива в blob-хранилище.
type ExtractArchiveDTO struct {
	ArchiveID string `json:"archive_id"`
	// Password — пароль для зашифрованных архивов (опционально)
	Password string `json:"password,omitempty"`
}

func (d *ExtractArchiveDTO) Validate() error {
	if d.ArchiveID == "" {
		return apperrors.Validation("archive_id не задан")
	}
	return nil
}

// CompressFilesDTO — упаковка набора файлов в новый архив.
type CompressFilesDTO struct {
	// FileIDs — идентификаторы исходных файлов (непустой список)
	FileIDs []string `json:"file_ids"`
	// Name — имя результирующего архива
	Name string `json:"name"`
	// Format — целевой формат
	Format string `json:"format"`
	// CompressionLevel — уровень сжатия (0 = по умолчанию 6)
	CompressionLevel int `json:"compression_level,omitempty"`
	// Password — пароль шифрования (опционально)
	Password string `json:"password,omitempty"`
	// OwnerID — владелец результата
	OwnerID string `json:"owner_id"`
}

func (d *CompressFilesDTO) Validate() error {
	if len(d.FileIDs) == 0 {
		return apperrors.Validation("список file_ids пуст")
	}
	for _, id := range d.FileIDs {
		if id == "" {
			return apperrors.Validation("список file_ids содержит пустой идентификатор")
		}
	}
	if d.OwnerID == "" {
		return apperrors.Validation("owner_id не задан")
	}
	if _, err := model.ParseFormat(d.Format); err != nil {
		return apperrors.UnsupportedFormat(err.Error())
	}
	if d.CompressionLevel < 0 || d.CompressionLevel > 9 {
		return apperrors.Validation(fmt.Sprintf("недопустимый уровень сжатия: %d", d.CompressionLevel))
	}
	return nil
}

// AddFilesToArchiveDTO — добавление файлов в существующий архив.
type AddFilesToArchiveDTO struct {
	ArchiveID string   `json:"archive_id"`
	FileIDs   []string `json:"file_ids"`
	// Password — пароль, если архив зашифрован
	Password string `json:"password,omitempty"`
}

func (d *AddFilesToArchiveDTO) Validate() error {
	if d.ArchiveID == "" {
		return apperrors.Validation("archive_id не задан")
	}
	if len(d.FileIDs) == 0 {
		return apperrors.Validation("список file_ids пуст")
	}
	return nil
}

// RemoveFilesFromArchiveDTO — удаление записей из архива по путям.
type RemoveFilesFromArchiveDTO struct {
	ArchiveID  string   `json:"archive_id"`
	EntryPaths []string `json:"entry_paths"`
	// Password — пароль, если архив зашифрован
	Password string `json:"password,omitempty"`
}

func (d *RemoveFilesFromArchiveDTO) Validate() error {
	if d.ArchiveID == "" {
		return apperrors.Validation("archive_id не задан")
	}
	if len(d.EntryPaths) == 0 {
		return apperrors.Validation("список entry_paths пуст")
	}
	for i, p := range d.EntryPaths {
		normalized, err := model.NormalizeEntryPath(p)
		if err != nil {
			return apperrors.Validation(err.Error())
		}
		d.EntryPaths[i] = normalized
	}
	return nil
}

// EncryptArchiveDTO — шифрование архива паролем.
type EncryptArchiveDTO struct {
	ArchiveID string `json:"archive_id"`
	Password  string `json:"password"`
}

func (d *EncryptArchiveDTO) Validate() error {
	if d.ArchiveID == "" {
		return apperrors.Validation("archive_id не задан")
	}
	if d.Password == "" {
		return apperrors.Validation("пароль не задан")
	}
	return nil
}

// DecryptArchiveDTO — снятие шифрования с архива.
type DecryptArchiveDTO struct {
	ArchiveID string `json:"archive_id"`
	Password  string `json:"password"`
}

func (d *DecryptArchiveDTO) Validate() error {
	if d.ArchiveID == "" {
		return apperrors.Validation("archive_id не задан")
	}
	if d.Password == "" {
		return apperrors.Validation("пароль не задан")
	}
	return nil
}

// CrackArchiveDTO — подбор пароля архива.
// Операции crack_archive и crack_archive_password исторического API
// объединены: обе параметризуются стратегией.
type CrackArchiveDTO struct {
	ArchiveID string `json:"archive_id"`
	// Strategy — dictionary или bruteforce
	Strategy string `json:"strategy"`
	// WordlistRef — ключ словаря в blob-хранилище (для dictionary)
	WordlistRef string `json:"wordlist_ref,omitempty"`
	// Charset — алфавит перебора (для bruteforce, "" = по умолчанию)
	Charset string `json:"charset,omitempty"`
	// MaxLength — максимальная длина пароля (для bruteforce, 0 = 6)
	MaxLength int `json:"max_length,omitempty"`
	// Checkpoint — индекс возобновления словарного поиска
	Checkpoint int64 `json:"checkpoint,omitempty"`
}

func (d *CrackArchiveDTO) Validate() error {
	if d.ArchiveID == "" {
		return apperrors.Validation("archive_id не задан")
	}
	strategy, err := model.ParseCrackStrategy(d.Strategy)
	if err != nil {
		return apperrors.Validation(err.Error())
	}
	switch strategy {
	case model.StrategyDictionary:
		if d.WordlistRef == "" {
			return apperrors.Validation("wordlist_ref обязателен для стратегии dictionary")
		}
	case model.StrategyBruteforce:
		if d.MaxLength < 0 {
			return apperrors.Validation(fmt.Sprintf("недопустимая max_length: %d", d.MaxLength))
		}
	}
	if d.Checkpoint < 0 {
		return apperrors.Validation(fmt.Sprintf("недопустимый checkpoint: %d", d.Checkpoint))
	}
	return nil
}

// ConvertArchiveDTO — конвертация архива в другой формат.
type ConvertArchiveDTO struct {
	ArchiveID    string `json:"archive_id"`
	TargetFormat string `json:"target_format"`
	// Password — пароль исходного архива, если он зашифрован
	Password string `json:"password,omitempty"`
}

func (d *ConvertArchiveDTO) Validate() error {
	if d.ArchiveID == "" {
		return apperrors.Validation("archive_id не задан")
	}
	if _, err := model.ParseFormat(d.TargetFormat); err != nil {
		return apperrors.UnsupportedFormat(err.Error())
	}
	return nil
}

// DecompressArchiveDTO — распаковка с опциональным выбором записей.
type DecompressArchiveDTO struct {
	ArchiveID string `json:"archive_id"`
	// Password — пароль для зашифрованных архивов
	Password string `json:"password,omitempty"`
	// ExtractAll — распаковать все записи (по умолчанию true при пустом FilePaths)
	ExtractAll bool `json:"extract_all,omitempty"`
	// FilePaths — подмножество путей для распаковки
	FilePaths []string `json:"file_paths,omitempty"`
}

func (d *DecompressArchiveDTO) Validate() error {
	if d.ArchiveID == "" {
		return apperrors.Validation("archive_id не задан")
	}
	if !d.ExtractAll && len(d.FilePaths) == 0 {
		return apperrors.Validation("не указаны пути распаковки: задайте extract_all или file_paths")
	}
	for i, p := range d.FilePaths {
		normalized, err := model.NormalizeEntryPath(p)
		if err != nil {
			return apperrors.Validation(err.Error())
		}
		d.FilePaths[i] = normalized
	}
	return nil
}

// CleanupFilesDTO — запуск очистки: workspace-директории и архивы
// в корзине старше порога удаляются (кроме находящихся под блокировкой).
type CleanupFilesDTO struct {
	// OlderThanSeconds — порог возраста в секундах (0 = настроенный retention)
	OlderThanSeconds int64 `json:"older_than_seconds,omitempty"`
}

func (d *CleanupFilesDTO) Validate() error {
	if d.OlderThanSeconds < 0 {
		return apperrors.Validation(fmt.Sprintf("недопустимый порог older_than_seconds: %d", d.OlderThanSeconds))
	}
	return nil
}

// RestoreTrashDTO — восстановление архива из корзины.
type RestoreTrashDTO struct {
	ArchiveID string `json:"archive_id"`
}

func (d *RestoreTrashDTO) Validate() error {
	if d.ArchiveID == "" {
		return apperrors.Validation("archive_id не задан")
	}
	return nil
}

// FileFilterDTO — фильтр листинга архивов.
type FileFilterDTO struct {
	// OwnerID — владелец (обязателен)
	OwnerID string `json:"owner_id"`
	// Pattern — подстрока имени (опционально)
	Pattern string `json:"pattern,omitempty"`
	// Category — категория: archive, trash ("" = archive)
	Category string `json:"category,omitempty"`
	// SortBy — поле сортировки: created_at, name, size
	SortBy string `json:"sort_by,omitempty"`
	// SortOrder — направление: asc, desc
	SortOrder string `json:"sort_order,omitempty"`
	// Limit — количество результатов (0 = все)
	Limit int `json:"limit,omitempty"`
	// Offset — смещение
	Offset int `json:"offset,omitempty"`
}

func (d *FileFilterDTO) Validate() error {
	if d.OwnerID == "" {
		return apperrors.Validation("owner_id не задан")
	}
	switch d.Category {
	case "", "archive", "trash":
	default:
		return apperrors.Validation(fmt.Sprintf("неизвестная категория: %q", d.Category))
	}
	switch d.SortBy {
	case "", "created_at", "name", "size":
	default:
		return apperrors.Validation(fmt.Sprintf("недопустимое поле сортировки: %q", d.SortBy))
	}
	switch strings.ToLower(d.SortOrder) {
	case "", "asc", "desc":
	default:
		return apperrors.Validation(fmt.Sprintf("недопустимое направление сортировки: %q", d.SortOrder))
	}
	if d.Limit < 0 || d.Offset < 0 {
		return apperrors.Validation("limit и offset должны быть неотрицательными")
	}
	return nil
}
