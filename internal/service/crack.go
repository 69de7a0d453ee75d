package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/arturkryukov/docstore/archive-engine/internal/codec"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/dto"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
	"github.com/arturkryukov/docstore/archive-engine/internal/storage/blobstore"
)

// defaultBruteforceMaxLength — длина перебора, если DTO её не задаёт.
const defaultBruteforceMaxLength = 6

// CrackArchive подбирает пароль зашифрованного архива.
// Стратегия dictionary читает словарь из blob-хранилища и
// поддерживает возобновление с checkpoint; bruteforce ограничен
// настроенным потолком пространства перебора. Найденный пароль
// возвращается в результате задания, метаданные архива не меняются.
func (s *ArchiveService) CrackArchive(ctx context.Context, jobID string, d dto.CrackArchiveDTO) (*model.ArchiveProcessingInfo, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	strategy, _ := model.ParseCrackStrategy(d.Strategy)

	return s.runJob(ctx, jobID, d.ArchiveID, "crack_archive", func(ctx context.Context) (map[string]any, error) {
		release, err := s.locks.Acquire(ctx, d.ArchiveID)
		if err != nil {
			return nil, err
		}
		defer release()

		info, err := s.loadReadyArchive(ctx, d.ArchiveID)
		if err != nil {
			return nil, err
		}
		if !info.Encrypted {
			return nil, apperrors.Validation("архив не зашифрован, подбор пароля не требуется")
		}

		c, err := s.codecs.Get(info.Format)
		if err != nil {
			return nil, err
		}

		wsp, err := s.ws.Create("crack_archive", jobOrRandom(jobID))
		if err != nil {
			return nil, err
		}
		defer wsp.Discard()

		localPath, err := s.stageArchive(ctx, wsp, info)
		if err != nil {
			return nil, err
		}

		check := s.passwordChecker(c, localPath, d.ArchiveID)

		var attempt *model.CrackAttempt
		switch strategy {
		case model.StrategyDictionary:
			rc, gerr := s.blobs.Get(ctx, d.WordlistRef)
			if gerr != nil {
				if errors.Is(gerr, blobstore.ErrNotExist) {
					return nil, apperrors.FileNotFound(d.WordlistRef)
				}
				return nil, gerr
			}
			defer rc.Close()
			attempt, err = s.cracker.Dictionary(ctx, check, rc, d.Checkpoint)
		case model.StrategyBruteforce:
			charset := d.Charset
			if charset == "" {
				charset = s.cfg.CrackCharset
			}
			maxLength := d.MaxLength
			if maxLength == 0 {
				maxLength = defaultBruteforceMaxLength
			}
			attempt, err = s.cracker.Bruteforce(ctx, check, charset, maxLength)
		}
		if err != nil {
			if e, ok := err.(*apperrors.Error); ok {
				return nil, e.WithContext(d.ArchiveID, "crack_archive")
			}
			return nil, err
		}

		s.logger.Info("Подбор пароля архива завершён",
			slog.String("archive_id", d.ArchiveID),
			slog.String("strategy", string(strategy)),
			slog.String("outcome", string(attempt.Outcome)),
			slog.Int64("attempts", attempt.Attempts),
		)

		result := toResultMap(attempt)
		result["archive_id"] = d.ArchiveID
		return result, nil
	})
}

// passwordChecker адаптирует проверку пароля кодека под подборщик.
// Ошибка password_protected для пустых кандидатов трактуется как
// несовпадение, unsupported_format прерывает поиск.
func (s *ArchiveService) passwordChecker(c codec.Codec, localPath, archiveID string) func(ctx context.Context, password string) error {
	return func(ctx context.Context, password string) error {
		err := c.CheckPassword(ctx, localPath, password)
		if apperrors.CodeOf(err) == apperrors.CodePasswordProtected {
			return apperrors.WrongPassword(archiveID)
		}
		return err
	}
}
