package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/dto"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
	"github.com/arturkryukov/docstore/archive-engine/internal/repository"
)

// DeleteArchive перемещает архив в корзину. Байты не удаляются:
// до истечения срока хранения архив можно восстановить. Дедлайн
// хранения фиксируется в момент удаления и не продлевается.
func (s *ArchiveService) DeleteArchive(ctx context.Context, jobID, archiveID string) (*model.ArchiveProcessingInfo, error) {
	if archiveID == "" {
		return nil, apperrors.Validation("archive_id не задан")
	}

	return s.runJob(ctx, jobID, archiveID, "delete_archive", func(ctx context.Context) (map[string]any, error) {
		release, err := s.locks.Acquire(ctx, archiveID)
		if err != nil {
			return nil, err
		}
		defer release()

		info, err := s.loadArchive(ctx, archiveID)
		if err != nil {
			return nil, err
		}
		if info.Status == model.StatusTrashed {
			// Повторное удаление идемпотентно: дедлайн не сдвигается.
			rec, err := s.store.GetTrash(ctx, archiveID)
			if err != nil {
				return nil, apperrors.Storage("не удалось прочитать запись корзины", err)
			}
			return trashResult(archiveID, rec), nil
		}
		if !info.Status.CanTransitionTo(model.StatusTrashed) {
			return nil, apperrors.ArchiveNotFound(archiveID)
		}

		now := time.Now().UTC()
		rec := &model.TrashRecord{
			ArchiveID:         archiveID,
			DeletedAt:         now,
			RetentionDeadline: now.Add(s.cfg.TrashRetention),
		}
		if err := s.store.PutTrash(ctx, rec); err != nil {
			return nil, apperrors.Storage("не удалось создать запись корзины", err)
		}

		info.Status = model.StatusTrashed
		if err := s.saveArchive(ctx, info); err != nil {
			return nil, err
		}

		s.logger.Info("Архив перемещён в корзину",
			slog.String("archive_id", archiveID),
			slog.Time("retention_deadline", rec.RetentionDeadline),
		)
		return trashResult(archiveID, rec), nil
	})
}

// RestoreTrash восстанавливает архив из корзины до истечения срока
// хранения. После дедлайна архив для восстановления не существует,
// даже если очистка до него ещё не дошла.
func (s *ArchiveService) RestoreTrash(ctx context.Context, jobID string, d dto.RestoreTrashDTO) (*model.ArchiveProcessingInfo, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	return s.runJob(ctx, jobID, d.ArchiveID, "restore_trash", func(ctx context.Context) (map[string]any, error) {
		release, err := s.locks.Acquire(ctx, d.ArchiveID)
		if err != nil {
			return nil, err
		}
		defer release()

		info, err := s.loadArchive(ctx, d.ArchiveID)
		if err != nil {
			return nil, err
		}
		if info.Status != model.StatusTrashed {
			return nil, apperrors.Validation("архив не находится в корзине")
		}

		rec, err := s.store.GetTrash(ctx, d.ArchiveID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperrors.ArchiveNotFound(d.ArchiveID)
			}
			return nil, apperrors.Storage("не удалось прочитать запись корзины", err)
		}
		if !rec.Restorable(time.Now().UTC()) {
			return nil, apperrors.ArchiveNotFound(d.ArchiveID)
		}

		info.Status = model.StatusReady
		if err := s.saveArchive(ctx, info); err != nil {
			return nil, err
		}
		if err := s.store.DeleteTrash(ctx, d.ArchiveID); err != nil {
			return nil, apperrors.Storage("не удалось удалить запись корзины", err)
		}

		s.logger.Info("Архив восстановлен из корзины",
			slog.String("archive_id", d.ArchiveID),
		)
		return archiveResult(info), nil
	})
}

// trashResult — результат операции удаления в корзину.
func trashResult(archiveID string, rec *model.TrashRecord) map[string]any {
	return map[string]any{
		"archive_id":         archiveID,
		"deleted_at":         rec.DeletedAt.Format(time.RFC3339),
		"retention_deadline": rec.RetentionDeadline.Format(time.RFC3339),
	}
}

// ListArchives возвращает архивы владельца по фильтру.
// Категория trash выбирает содержимое корзины, archive — активные.
func (s *ArchiveService) ListArchives(ctx context.Context, d dto.FileFilterDTO) ([]*model.ArchiveInfo, int, error) {
	if err := d.Validate(); err != nil {
		return nil, 0, err
	}

	status := model.StatusReady
	if d.Category == "trash" {
		status = model.StatusTrashed
	}

	list, total, err := s.store.ListByOwner(ctx, repository.ListFilter{
		OwnerID:   d.OwnerID,
		Pattern:   d.Pattern,
		Status:    status,
		SortBy:    d.SortBy,
		SortOrder: strings.ToLower(d.SortOrder),
		Limit:     d.Limit,
		Offset:    d.Offset,
	})
	if err != nil {
		return nil, 0, apperrors.Storage("не удалось получить список архивов", err)
	}
	return list, total, nil
}
