package service

import (
	"context"
	"log/slog"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/dto"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
	"github.com/arturkryukov/docstore/archive-engine/internal/storage/blobstore"
)

// ExtractArchive распаковывает архив целиком: каждая файловая запись
// становится объектом бакета extracted с префиксом задания.
func (s *ArchiveService) ExtractArchive(ctx context.Context, jobID string, d dto.ExtractArchiveDTO) (*model.ArchiveProcessingInfo, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return s.extract(ctx, jobID, "extract_archive", d.ArchiveID, d.Password, nil)
}

// DecompressArchive распаковывает архив целиком или выбранное
// подмножество записей. Путь каталога в file_paths выбирает всё
// его поддерево.
func (s *ArchiveService) DecompressArchive(ctx context.Context, jobID string, d dto.DecompressArchiveDTO) (*model.ArchiveProcessingInfo, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	only := d.FilePaths
	if d.ExtractAll {
		only = nil
	}
	return s.extract(ctx, jobID, "decompress_archive", d.ArchiveID, d.Password, only)
}

// extract — общий путь распаковки. only — подмножество
// нормализованных путей (nil = все записи).
func (s *ArchiveService) extract(ctx context.Context, jobID, operation, archiveID, password string, only []string) (*model.ArchiveProcessingInfo, error) {
	runID := jobOrRandom(jobID)
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
		if info.Encrypted && password == "" {
			return nil, apperrors.PasswordProtected(archiveID)
		}

		c, err := s.codecs.Get(info.Format)
		if err != nil {
			return nil, err
		}

		wsp, err := s.ws.Create(operation, runID)
		if err != nil {
			return nil, err
		}
		defer wsp.Discard()

		localPath, err := s.stageArchive(ctx, wsp, info)
		if err != nil {
			return nil, err
		}
		destDir, err := wsp.Subdir("out")
		if err != nil {
			return nil, err
		}

		entries, err := c.Extract(ctx, localPath, destDir, password, only)
		if err != nil {
			if e, ok := err.(*apperrors.Error); ok {
				return nil, e.WithContext(archiveID, operation)
			}
			return nil, err
		}
		// Каждый запрошенный путь обязан разрешиться хотя бы в одну
		// запись; частично отсутствующее подмножество — ошибка.
		for _, want := range only {
			if !selectorMatched(entries, want) {
				return nil, apperrors.FileNotFound(want)
			}
		}

		result := &model.ExtractedArchiveInfo{
			ArchiveID: archiveID,
			JobID:     jobID,
			CreatedAt: time.Now().UTC(),
		}
		for _, entry := range entries {
			if entry.IsDirectory {
				continue
			}
			key := path.Join(blobstore.BucketExtracted, runID, entry.Path)
			localFile := filepath.Join(destDir, filepath.FromSlash(entry.Path))
			err := s.withStorageRetry(ctx, "upload", func() error {
				_, uerr := blobstore.Upload(ctx, s.blobs, key, localFile)
				return uerr
			})
			if err != nil {
				return nil, err
			}
			result.Outputs = append(result.Outputs, model.ExtractedEntry{
				Entry:      entry,
				StorageKey: key,
			})
			result.TotalSize += entry.Size
		}

		s.logger.Info("Архив распакован",
			slog.String("archive_id", archiveID),
			slog.Int("outputs", len(result.Outputs)),
			slog.Int64("total_size", result.TotalSize),
		)
		return toResultMap(result), nil
	})
}

// selectorMatched проверяет, разрешился ли селектор подмножества
// хотя бы в одну распакованную запись. Селектор с завершающим "/"
// покрывает поддерево каталога.
func selectorMatched(entries []model.FileEntryInfo, want string) bool {
	for _, e := range entries {
		if e.Path == want {
			return true
		}
		if strings.HasSuffix(want, "/") && strings.HasPrefix(e.Path, want) {
			return true
		}
	}
	return false
}
