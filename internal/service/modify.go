package service

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arturkryukov/docstore/archive-engine/internal/codec"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/dto"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
)

// AddFilesToArchive добавляет исходные файлы в существующий архив.
// Контейнеры не допускают надёжной инкрементальной записи, поэтому
// архив переупаковывается целиком и атомарно заменяется в хранилище.
func (s *ArchiveService) AddFilesToArchive(ctx context.Context, jobID string, d dto.AddFilesToArchiveDTO) (*model.ArchiveProcessingInfo, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	return s.rewriteArchive(ctx, jobID, "add_files", d.ArchiveID, d.Password, d.Password,
		func(ctx context.Context, stageDir string) error {
			return s.stageFiles(ctx, stageDir, d.FileIDs)
		},
		func(info *model.ArchiveInfo) {})
}

// RemoveFilesFromArchive удаляет записи из архива по путям.
// Путь каталога удаляет всё поддерево. Отсутствующая запись —
// ошибка file_not_found.
func (s *ArchiveService) RemoveFilesFromArchive(ctx context.Context, jobID string, d dto.RemoveFilesFromArchiveDTO) (*model.ArchiveProcessingInfo, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	return s.rewriteArchive(ctx, jobID, "remove_files", d.ArchiveID, d.Password, d.Password,
		func(ctx context.Context, stageDir string) error {
			for _, entryPath := range d.EntryPaths {
				target := filepath.Join(stageDir, filepath.FromSlash(strings.TrimSuffix(entryPath, "/")))
				if _, err := os.Stat(target); err != nil {
					if os.IsNotExist(err) {
						return apperrors.FileNotFound(entryPath)
					}
					return apperrors.Processing("не удалось проверить запись архива", err)
				}
				if err := os.RemoveAll(target); err != nil {
					return apperrors.Processing("не удалось удалить запись архива", err)
				}
			}
			return nil
		},
		func(info *model.ArchiveInfo) {})
}

// EncryptArchive шифрует архив паролем. Поддерживается только zip:
// остальные форматы отвечают unsupported_format.
func (s *ArchiveService) EncryptArchive(ctx context.Context, jobID string, d dto.EncryptArchiveDTO) (*model.ArchiveProcessingInfo, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	return s.rewriteArchiveChecked(ctx, jobID, "encrypt_archive", d.ArchiveID, "", d.Password,
		func(info *model.ArchiveInfo) error {
			if info.Encrypted {
				return apperrors.Validation("архив уже зашифрован")
			}
			return nil
		},
		func(ctx context.Context, stageDir string) error { return nil },
		func(info *model.ArchiveInfo) { info.Encrypted = true })
}

// DecryptArchive снимает шифрование с архива. Требует верный пароль.
func (s *ArchiveService) DecryptArchive(ctx context.Context, jobID string, d dto.DecryptArchiveDTO) (*model.ArchiveProcessingInfo, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	return s.rewriteArchiveChecked(ctx, jobID, "decrypt_archive", d.ArchiveID, d.Password, "",
		func(info *model.ArchiveInfo) error {
			if !info.Encrypted {
				return apperrors.Validation("архив не зашифрован")
			}
			return nil
		},
		func(ctx context.Context, stageDir string) error { return nil },
		func(info *model.ArchiveInfo) { info.Encrypted = false })
}

// rewriteArchive — rewriteArchiveChecked без дополнительной
// предпроверки метаданных.
func (s *ArchiveService) rewriteArchive(ctx context.Context, jobID, operation, archiveID, extractPassword, compressPassword string, mutate func(context.Context, string) error, updateMeta func(*model.ArchiveInfo)) (*model.ArchiveProcessingInfo, error) {
	return s.rewriteArchiveChecked(ctx, jobID, operation, archiveID, extractPassword, compressPassword,
		func(*model.ArchiveInfo) error { return nil }, mutate, updateMeta)
}

// rewriteArchiveChecked — общий цикл модификации архива:
// блокировка → выгрузка → распаковка → mutate → переупаковка →
// загрузка под новым ключом → обновление метаданных → удаление
// старого blob-а. Старый объект удаляется последним: при сбое
// до фиксации метаданных архив остаётся читаемым.
func (s *ArchiveService) rewriteArchiveChecked(ctx context.Context, jobID, operation, archiveID, extractPassword, compressPassword string, precheck func(*model.ArchiveInfo) error, mutate func(context.Context, string) error, updateMeta func(*model.ArchiveInfo)) (*model.ArchiveProcessingInfo, error) {
	return s.runJob(ctx, jobID, archiveID, operation, func(ctx context.Context) (map[string]any, error) {
		release, err := s.locks.Acquire(ctx, archiveID)
		if err != nil {
			return nil, err
		}
		defer release()

		info, err := s.loadReadyArchive(ctx, archiveID)
		if err != nil {
			return nil, err
		}
		if err := precheck(info); err != nil {
			return nil, err
		}
		if info.Encrypted && extractPassword == "" {
			return nil, apperrors.PasswordProtected(archiveID)
		}

		c, err := s.codecs.Get(info.Format)
		if err != nil {
			return nil, err
		}

		wsp, err := s.ws.Create(operation, jobOrRandom(jobID))
		if err != nil {
			return nil, err
		}
		defer wsp.Discard()

		localPath, err := s.stageArchive(ctx, wsp, info)
		if err != nil {
			return nil, err
		}

		entries, err := codec.Rewrite(ctx, c, localPath, wsp.Dir, extractPassword,
			codec.CompressOptions{Password: compressPassword},
			func(stageDir string) error { return mutate(ctx, stageDir) })
		if err != nil {
			if e, ok := err.(*apperrors.Error); ok {
				return nil, e.WithContext(archiveID, operation)
			}
			return nil, err
		}

		newKey, size, err := s.uploadArchive(ctx, localPath, info.Name)
		if err != nil {
			return nil, err
		}

		oldKey := info.StorageKey
		info.StorageKey = newKey
		info.Size = size
		info.EntryCount = 0
		for _, e := range entries {
			if !e.IsDirectory {
				info.EntryCount++
			}
		}
		updateMeta(info)
		if err := s.saveArchive(ctx, info); err != nil {
			return nil, err
		}

		if oldKey != "" {
			if derr := s.blobs.Delete(ctx, oldKey); derr != nil {
				// Осиротевший blob подберёт фоновая очистка при следующем
				// несовпадении ключей; операция уже зафиксирована.
				s.logger.Warn("Не удалось удалить прежний объект архива",
					slog.String("archive_id", archiveID),
					slog.String("key", oldKey),
					slog.String("error", derr.Error()),
				)
			}
		}

		s.logger.Info("Архив переупакован",
			slog.String("archive_id", archiveID),
			slog.String("operation", operation),
			slog.Int("entries", info.EntryCount),
			slog.Int64("size", size),
		)
		return archiveResult(info), nil
	})
}

// ConvertArchive перепаковывает архив в другой формат. Исходный архив
// не изменяется: результат регистрируется как новый архив владельца.
func (s *ArchiveService) ConvertArchive(ctx context.Context, jobID string, d dto.ConvertArchiveDTO) (*model.ArchiveProcessingInfo, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	targetFormat, _ := model.ParseFormat(d.TargetFormat)

	return s.runJob(ctx, jobID, d.ArchiveID, "convert_archive", func(ctx context.Context) (map[string]any, error) {
		release, err := s.locks.Acquire(ctx, d.ArchiveID)
		if err != nil {
			return nil, err
		}
		defer release()

		info, err := s.loadReadyArchive(ctx, d.ArchiveID)
		if err != nil {
			return nil, err
		}
		if info.Format == targetFormat {
			return nil, apperrors.Validation("архив уже в целевом формате")
		}
		if info.Encrypted && d.Password == "" {
			return nil, apperrors.PasswordProtected(d.ArchiveID)
		}

		src, err := s.codecs.Get(info.Format)
		if err != nil {
			return nil, err
		}
		dst, err := s.codecs.Get(targetFormat)
		if err != nil {
			return nil, err
		}

		wsp, err := s.ws.Create("convert_archive", jobOrRandom(jobID))
		if err != nil {
			return nil, err
		}
		defer wsp.Discard()

		srcPath, err := s.stageArchive(ctx, wsp, info)
		if err != nil {
			return nil, err
		}

		newName := stripArchiveExt(info.Name) + "." + string(targetFormat)
		dstPath := wsp.Path(newName)
		entries, err := codec.Convert(ctx, src, dst, srcPath, dstPath, wsp.Dir, d.Password, codec.CompressOptions{})
		if err != nil {
			if e, ok := err.(*apperrors.Error); ok {
				return nil, e.WithContext(d.ArchiveID, "convert_archive")
			}
			return nil, err
		}

		key, size, err := s.uploadArchive(ctx, dstPath, newName)
		if err != nil {
			return nil, err
		}

		entryCount := 0
		for _, e := range entries {
			if !e.IsDirectory {
				entryCount++
			}
		}

		now := time.Now().UTC()
		converted := &model.ArchiveInfo{
			ArchiveID:  uuid.New().String(),
			OwnerID:    info.OwnerID,
			Name:       newName,
			Format:     targetFormat,
			StorageKey: key,
			Size:       size,
			EntryCount: entryCount,
			Status:     model.StatusReady,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.saveArchive(ctx, converted); err != nil {
			return nil, err
		}

		s.logger.Info("Архив конвертирован",
			slog.String("source_archive_id", d.ArchiveID),
			slog.String("archive_id", converted.ArchiveID),
			slog.String("target_format", string(targetFormat)),
		)
		return archiveResult(converted), nil
	})
}
