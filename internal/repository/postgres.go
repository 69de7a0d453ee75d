package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
)

// archiveColumns — список столбцов таблицы archive_registry для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const archiveColumns = `archive_id, owner_id, name, format, storage_key,
	size, entry_count, encrypted, status, created_at, updated_at`

// processingColumns — столбцы таблицы archive_processing.
const processingColumns = `job_id, archive_id, operation, status,
	error_code, error_message, result, started_at, completed_at`

// PostgresStore — реализация Store через pgx.
type PostgresStore struct {
	db DBTX
}

// NewPostgres создаёт хранилище метаданных поверх PostgreSQL.
func NewPostgres(db DBTX) *PostgresStore {
	return &PostgresStore{db: db}
}

// --- archive_registry ---

func (s *PostgresStore) Save(ctx context.Context, info *model.ArchiveInfo) error {
	query := `
		INSERT INTO archive_registry (` + archiveColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (archive_id) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			name = EXCLUDED.name,
			format = EXCLUDED.format,
			storage_key = EXCLUDED.storage_key,
			size = EXCLUDED.size,
			entry_count = EXCLUDED.entry_count,
			encrypted = EXCLUDED.encrypted,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at`

	_, err := s.db.Exec(ctx, query,
		info.ArchiveID, info.OwnerID, info.Name, string(info.Format), info.StorageKey,
		info.Size, info.EntryCount, info.Encrypted, string(info.Status),
		info.CreatedAt, info.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка сохранения архива: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, archiveID string) (*model.ArchiveInfo, error) {
	query := fmt.Sprintf(`SELECT %s FROM archive_registry WHERE archive_id = $1`, archiveColumns)

	info := &model.ArchiveInfo{}
	var format, status string
	err := s.db.QueryRow(ctx, query, archiveID).Scan(
		&info.ArchiveID, &info.OwnerID, &info.Name, &format, &info.StorageKey,
		&info.Size, &info.EntryCount, &info.Encrypted, &status,
		&info.CreatedAt, &info.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения архива: %w", err)
	}
	info.Format = model.ArchiveFormat(format)
	info.Status = model.ArchiveStatus(status)
	return info, nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, filter ListFilter) ([]*model.ArchiveInfo, int, error) {
	where, args := buildListWhere(filter)
	argNum := len(args) + 1

	orderBy := buildOrderBy(filter.SortBy, filter.SortOrder)

	limit := filter.Limit
	if limit <= 0 {
		// 0 = все: в SQL выражаем большим значением, сохраняя единый запрос
		limit = 1 << 30
	}
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM archive_registry %s %s LIMIT $%d OFFSET $%d`,
		archiveColumns, where, orderBy, argNum, argNum+1,
	)
	dataArgs := append(append([]any{}, args...), limit, filter.Offset)

	rows, err := s.db.Query(ctx, dataQuery, dataArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка листинга архивов: %w", err)
	}
	defer rows.Close()

	var result []*model.ArchiveInfo
	for rows.Next() {
		info := &model.ArchiveInfo{}
		var format, status string
		if err := rows.Scan(
			&info.ArchiveID, &info.OwnerID, &info.Name, &format, &info.StorageKey,
			&info.Size, &info.EntryCount, &info.Encrypted, &status,
			&info.CreatedAt, &info.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования архива: %w", err)
		}
		info.Format = model.ArchiveFormat(format)
		info.Status = model.ArchiveStatus(status)
		result = append(result, info)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	// Общее количество с теми же фильтрами, без LIMIT/OFFSET.
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM archive_registry %s`, where)
	var total int
	if err := s.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта архивов: %w", err)
	}

	return result, total, nil
}

func (s *PostgresStore) Delete(ctx context.Context, archiveID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM archive_registry WHERE archive_id = $1`, archiveID)
	if err != nil {
		return fmt.Errorf("ошибка удаления архива: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// buildListWhere строит WHERE-условие и аргументы листинга архивов.
func buildListWhere(filter ListFilter) (whereClause string, args []any) {
	conditions := []string{"owner_id = $1"}
	args = append(args, filter.OwnerID)
	argNum := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, string(filter.Status))
		argNum++
	}
	if filter.Pattern != "" {
		conditions = append(conditions, fmt.Sprintf("name ILIKE $%d", argNum))
		args = append(args, "%"+filter.Pattern+"%")
		argNum++
	}

	where := "WHERE " + conditions[0]
	for _, c := range conditions[1:] {
		where += " AND " + c
	}
	return where, args
}

// buildOrderBy строит ORDER BY по whitelist полей сортировки.
func buildOrderBy(sortBy, sortOrder string) string {
	column := map[string]string{
		"created_at": "created_at",
		"name":       "name",
		"size":       "size",
	}[sortBy]
	if column == "" {
		column = "created_at"
	}
	direction := "DESC"
	if sortOrder == "asc" {
		direction = "ASC"
	}
	return fmt.Sprintf("ORDER BY %s %s", column, direction)
}

// --- archive_trash ---

func (s *PostgresStore) PutTrash(ctx context.Context, rec *model.TrashRecord) error {
	query := `
		INSERT INTO archive_trash (archive_id, deleted_at, retention_deadline)
		VALUES ($1, $2, $3)
		ON CONFLICT (archive_id) DO UPDATE SET
			deleted_at = EXCLUDED.deleted_at,
			retention_deadline = EXCLUDED.retention_deadline`

	_, err := s.db.Exec(ctx, query, rec.ArchiveID, rec.DeletedAt, rec.RetentionDeadline)
	if err != nil {
		return fmt.Errorf("ошибка создания записи корзины: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTrash(ctx context.Context, archiveID string) (*model.TrashRecord, error) {
	rec := &model.TrashRecord{}
	err := s.db.QueryRow(ctx,
		`SELECT archive_id, deleted_at, retention_deadline FROM archive_trash WHERE archive_id = $1`,
		archiveID,
	).Scan(&rec.ArchiveID, &rec.DeletedAt, &rec.RetentionDeadline)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения записи корзины: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) DeleteTrash(ctx context.Context, archiveID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM archive_trash WHERE archive_id = $1`, archiveID)
	if err != nil {
		return fmt.Errorf("ошибка удаления записи корзины: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListExpiredTrash(ctx context.Context, now time.Time) ([]*model.TrashRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT archive_id, deleted_at, retention_deadline
		 FROM archive_trash
		 WHERE retention_deadline <= $1
		 ORDER BY retention_deadline`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка листинга корзины: %w", err)
	}
	defer rows.Close()

	var result []*model.TrashRecord
	for rows.Next() {
		rec := &model.TrashRecord{}
		if err := rows.Scan(&rec.ArchiveID, &rec.DeletedAt, &rec.RetentionDeadline); err != nil {
			return nil, fmt.Errorf("ошибка сканирования записи корзины: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации корзины: %w", err)
	}
	return result, nil
}

// --- archive_processing ---

func (s *PostgresStore) CreateProcessing(ctx context.Context, info *model.ArchiveProcessingInfo) error {
	resultJSON, err := marshalResult(info.Result)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO archive_processing (` + processingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (job_id) DO NOTHING`

	_, err = s.db.Exec(ctx, query,
		info.JobID, info.ArchiveID, info.Operation, string(info.Status),
		info.ErrorCode, info.ErrorMessage, resultJSON, info.StartedAt, info.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка регистрации задания: %w", err)
	}
	return nil
}

func (s *PostgresStore) CompleteProcessing(ctx context.Context, info *model.ArchiveProcessingInfo) error {
	resultJSON, err := marshalResult(info.Result)
	if err != nil {
		return err
	}
	query := `
		UPDATE archive_processing
		SET status = $2, error_code = $3, error_message = $4,
			result = $5, completed_at = $6
		WHERE job_id = $1`

	tag, err := s.db.Exec(ctx, query,
		info.JobID, string(info.Status), info.ErrorCode, info.ErrorMessage,
		resultJSON, info.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("ошибка завершения задания: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) GetProcessing(ctx context.Context, jobID string) (*model.ArchiveProcessingInfo, error) {
	query := fmt.Sprintf(`SELECT %s FROM archive_processing WHERE job_id = $1`, processingColumns)

	info := &model.ArchiveProcessingInfo{}
	var status string
	var resultJSON []byte
	err := s.db.QueryRow(ctx, query, jobID).Scan(
		&info.JobID, &info.ArchiveID, &info.Operation, &status,
		&info.ErrorCode, &info.ErrorMessage, &resultJSON,
		&info.StartedAt, &info.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения задания: %w", err)
	}
	info.Status = model.ProcessingStatus(status)
	if len(resultJSON) > 0 {
		if err := json.Unmarshal(resultJSON, &info.Result); err != nil {
			return nil, fmt.Errorf("ошибка разбора результата задания: %w", err)
		}
	}
	return info, nil
}

// marshalResult сериализует результат задания в JSON для колонки jsonb.
func marshalResult(result map[string]any) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации результата задания: %w", err)
	}
	return data, nil
}
