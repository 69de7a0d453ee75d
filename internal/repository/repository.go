// Пакет repository — слой доступа к метаданным Archive Engine.
// Таблицы: archive_registry (метаданные архивов), archive_trash
// (записи корзины), archive_processing (состояние заданий).
// Все запросы — чистый SQL через pgx, без ORM. Для юнит-тестов
// и автономного запуска есть in-memory реализация.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ListFilter — фильтр листинга архивов владельца.
type ListFilter struct {
	// OwnerID — владелец (обязателен)
	OwnerID string
	// Pattern — подстрока имени ("" = без фильтра)
	Pattern string
	// Status — фильтр по статусу ("" = без фильтра)
	Status model.ArchiveStatus
	// SortBy — поле сортировки: created_at (по умолчанию), name, size
	SortBy string
	// SortOrder — направление: asc, desc (по умолчанию)
	SortOrder string
	// Limit — количество результатов (0 = все)
	Limit int
	// Offset — смещение
	Offset int
}

// ArchiveRepository — доступ к archive_registry.
type ArchiveRepository interface {
	// Save создаёт или обновляет метаданные архива (upsert по archive_id).
	Save(ctx context.Context, info *model.ArchiveInfo) error
	// Load возвращает метаданные архива или ErrNotFound.
	Load(ctx context.Context, archiveID string) (*model.ArchiveInfo, error)
	// ListByOwner возвращает архивы владельца по фильтру
	// и общее количество без учёта пагинации.
	ListByOwner(ctx context.Context, filter ListFilter) ([]*model.ArchiveInfo, int, error)
	// Delete удаляет метаданные архива. Возвращает ErrNotFound,
	// если записи не было.
	Delete(ctx context.Context, archiveID string) error
}

// TrashRepository — доступ к archive_trash.
type TrashRepository interface {
	// PutTrash создаёт запись корзины.
	PutTrash(ctx context.Context, rec *model.TrashRecord) error
	// GetTrash возвращает запись корзины или ErrNotFound.
	GetTrash(ctx context.Context, archiveID string) (*model.TrashRecord, error)
	// DeleteTrash удаляет запись корзины (идемпотентно).
	DeleteTrash(ctx context.Context, archiveID string) error
	// ListExpiredTrash возвращает записи с истёкшим сроком хранения.
	ListExpiredTrash(ctx context.Context, now time.Time) ([]*model.TrashRecord, error)
}

// ProcessingRepository — доступ к archive_processing.
// Терминальные записи обеспечивают идемпотентность at-least-once
// доставки: повтор задания с тем же job_id получает сохранённый результат.
type ProcessingRepository interface {
	// CreateProcessing регистрирует начало обработки задания.
	CreateProcessing(ctx context.Context, info *model.ArchiveProcessingInfo) error
	// CompleteProcessing записывает терминальное состояние задания.
	CompleteProcessing(ctx context.Context, info *model.ArchiveProcessingInfo) error
	// GetProcessing возвращает состояние задания или ErrNotFound.
	GetProcessing(ctx context.Context, jobID string) (*model.ArchiveProcessingInfo, error)
}

// Store — совокупный интерфейс хранилища метаданных.
type Store interface {
	ArchiveRepository
	TrashRepository
	ProcessingRepository
}
