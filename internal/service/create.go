package service

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arturkryukov/docstore/archive-engine/internal/codec"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/dto"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
	"github.com/arturkryukov/docstore/archive-engine/internal/storage/blobstore"
)

// CreateFile регистрирует исходный файл: загруженные байты
// перекладываются в бакет files под каноническим ключом.
// Идентификатор файла — его ключ в хранилище; отдельной таблицы
// для исходных файлов нет.
func (s *ArchiveService) CreateFile(ctx context.Context, jobID string, d dto.CreateFileDTO) (*model.ArchiveProcessingInfo, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	return s.runJob(ctx, jobID, "", "create_file", func(ctx context.Context) (map[string]any, error) {
		size, err := s.guardSize(ctx, d.ContentRef)
		if err != nil {
			return nil, err
		}

		fileKey := d.ContentRef
		if !strings.HasPrefix(d.ContentRef, blobstore.BucketFiles+"/") {
			fileKey = blobstore.MakeKey(blobstore.BucketFiles, d.Name)
			err := s.withStorageRetry(ctx, "copy", func() error {
				rc, gerr := s.blobs.Get(ctx, d.ContentRef)
				if gerr != nil {
					return gerr
				}
				defer rc.Close()
				_, perr := s.blobs.Put(ctx, fileKey, rc)
				return perr
			})
			if err != nil {
				if errors.Is(err, blobstore.ErrNotExist) {
					return nil, apperrors.FileNotFound(d.ContentRef)
				}
				return nil, err
			}
		}

		s.logger.Info("Файл зарегистрирован",
			slog.String("file_id", fileKey),
			slog.String("owner_id", d.OwnerID),
			slog.Int64("size", size),
		)
		return map[string]any{
			"file_id": fileKey,
			"name":    d.Name,
			"size":    size,
		}, nil
	})
}

// CreateArchive регистрирует загруженный архив: формат сверяется
// с сигнатурой содержимого, оглавление пересчитывается, байты
// фиксируются в бакете archive.
func (s *ArchiveService) CreateArchive(ctx context.Context, jobID string, d dto.CreateArchiveDTO) (*model.ArchiveProcessingInfo, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	archiveID := uuid.New().String()
	return s.runJob(ctx, jobID, archiveID, "create_archive", func(ctx context.Context) (map[string]any, error) {
		size, err := s.guardSize(ctx, d.ContentRef)
		if err != nil {
			return nil, err
		}

		wsp, err := s.ws.Create("create_archive", jobOrRandom(jobID))
		if err != nil {
			return nil, err
		}
		defer wsp.Discard()

		localPath := wsp.Path("incoming")
		err = s.withStorageRetry(ctx, "download", func() error {
			_, derr := blobstore.Download(ctx, s.blobs, d.ContentRef, localPath)
			return derr
		})
		if err != nil {
			if errors.Is(err, blobstore.ErrNotExist) {
				return nil, apperrors.FileNotFound(d.ContentRef)
			}
			return nil, err
		}

		detected, err := s.codecs.Detect(localPath)
		if err != nil {
			return nil, err
		}
		// Заявленный формат обязан совпасть с сигнатурой содержимого.
		if d.Format != "" {
			declared, _ := model.ParseFormat(d.Format)
			if declared != detected {
				return nil, apperrors.InvalidFileFormat(d.Name)
			}
		} else if fromName, err := model.FormatFromFilename(d.Name); err == nil && fromName != detected {
			return nil, apperrors.InvalidFileFormat(d.Name)
		}

		c, err := s.codecs.Get(detected)
		if err != nil {
			return nil, err
		}
		encrypted := s.detectEncryption(ctx, c, localPath)

		entryCount := 0
		entries, err := c.List(ctx, localPath, "")
		if err != nil {
			// Зашифрованное оглавление (7z) пересчитать нельзя.
			if !apperrors.IsAuth(err) {
				return nil, err
			}
		} else {
			for _, e := range entries {
				if !e.IsDirectory {
					entryCount++
				}
			}
		}

		now := time.Now().UTC()
		info := &model.ArchiveInfo{
			ArchiveID:  archiveID,
			OwnerID:    d.OwnerID,
			Name:       d.Name,
			Format:     detected,
			Size:       size,
			EntryCount: entryCount,
			Encrypted:  encrypted,
			Status:     model.StatusCreated,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.saveArchive(ctx, info); err != nil {
			return nil, err
		}

		key, _, err := s.uploadArchive(ctx, localPath, d.Name)
		if err != nil {
			return nil, err
		}
		info.StorageKey = key
		info.Status = model.StatusReady
		if err := s.saveArchive(ctx, info); err != nil {
			return nil, err
		}

		s.logger.Info("Архив зарегистрирован",
			slog.String("archive_id", archiveID),
			slog.String("format", string(detected)),
			slog.Int64("size", size),
			slog.Bool("encrypted", encrypted),
		)
		return archiveResult(info), nil
	})
}

// CompressFiles упаковывает набор исходных файлов в новый архив.
func (s *ArchiveService) CompressFiles(ctx context.Context, jobID string, d dto.CompressFilesDTO) (*model.ArchiveProcessingInfo, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	format, _ := model.ParseFormat(d.Format)
	archiveID := uuid.New().String()

	return s.runJob(ctx, jobID, archiveID, "compress_files", func(ctx context.Context) (map[string]any, error) {
		c, err := s.codecs.Get(format)
		if err != nil {
			return nil, err
		}

		wsp, err := s.ws.Create("compress_files", jobOrRandom(jobID))
		if err != nil {
			return nil, err
		}
		defer wsp.Discard()

		srcDir, err := wsp.Subdir("src")
		if err != nil {
			return nil, err
		}
		if err := s.stageFiles(ctx, srcDir, d.FileIDs); err != nil {
			return nil, err
		}

		name := d.Name
		if name == "" {
			name = "archive." + string(format)
		}
		archivePath := wsp.Path(archiveFileName(name, format))
		entries, err := c.Compress(ctx, archivePath, srcDir, codec.CompressOptions{
			Level:    d.CompressionLevel,
			Password: d.Password,
		})
		if err != nil {
			return nil, err
		}

		key, size, err := s.uploadArchive(ctx, archivePath, name)
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
		info := &model.ArchiveInfo{
			ArchiveID:  archiveID,
			OwnerID:    d.OwnerID,
			Name:       name,
			Format:     format,
			StorageKey: key,
			Size:       size,
			EntryCount: entryCount,
			Encrypted:  d.Password != "",
			Status:     model.StatusReady,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.saveArchive(ctx, info); err != nil {
			return nil, err
		}

		s.logger.Info("Файлы упакованы в архив",
			slog.String("archive_id", archiveID),
			slog.String("format", string(format)),
			slog.Int("entries", entryCount),
			slog.Int64("size", size),
		)
		return archiveResult(info), nil
	})
}

// stageFiles выгружает исходные файлы в директорию упаковки.
// Идентификатор файла — ключ в бакете files; имя записи в архиве —
// базовое имя ключа.
func (s *ArchiveService) stageFiles(ctx context.Context, destDir string, fileIDs []string) error {
	seen := make(map[string]bool, len(fileIDs))
	for _, fileID := range fileIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := filepath.Base(fileID)
		if seen[name] {
			// Коллизия базовых имён: уточняем префиксом.
			name = uuid.New().String()[:8] + "_" + name
		}
		seen[name] = true

		err := s.withStorageRetry(ctx, "download", func() error {
			_, derr := blobstore.Download(ctx, s.blobs, fileID, filepath.Join(destDir, name))
			return derr
		})
		if err != nil {
			if errors.Is(err, blobstore.ErrNotExist) {
				return apperrors.FileNotFound(fileID)
			}
			return err
		}
	}
	return nil
}

// jobOrRandom возвращает идентификатор рабочей директории:
// job_id задания либо случайный для синхронных вызовов.
func jobOrRandom(jobID string) string {
	if jobID != "" {
		return jobID
	}
	return uuid.New().String()
}
