package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/dto"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
	"github.com/arturkryukov/docstore/archive-engine/internal/service"
)

// Имена операций очереди заданий.
const (
	OpCreateFile        = "create_file"
	OpCreateArchive     = "create_archive"
	OpExtractArchive    = "extract_archive"
	OpCompressFiles     = "compress_files"
	OpAddFiles          = "add_files"
	OpRemoveFiles       = "remove_files"
	OpEncryptArchive    = "encrypt_archive"
	OpDecryptArchive    = "decrypt_archive"
	OpCrackArchive      = "crack_archive"
	OpConvertArchive    = "convert_archive"
	OpDecompressArchive = "decompress_archive"
	OpCleanupFiles      = "cleanup_files"
	OpDeleteArchive     = "delete_archive"
	OpRestoreTrash      = "restore_trash"
)

// Dispatcher отображает операции конвертов на методы сервиса.
type Dispatcher struct {
	svc *service.ArchiveService
}

// NewDispatcher создаёт диспетчер операций.
func NewDispatcher(svc *service.ArchiveService) *Dispatcher {
	return &Dispatcher{svc: svc}
}

// deleteArchivePayload — полезная нагрузка операции delete_archive.
type deleteArchivePayload struct {
	ArchiveID string `json:"archive_id"`
}

// Dispatch выполняет операцию конверта и возвращает терминальное
// состояние задания. Неизвестная операция — validation_error.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) (*model.ArchiveProcessingInfo, error) {
	if env.JobID == "" {
		return nil, apperrors.Validation("конверт задания не содержит job_id")
	}

	switch env.Operation {
	case OpCreateFile:
		var p dto.CreateFileDTO
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return d.svc.CreateFile(ctx, env.JobID, p)
	case OpCreateArchive:
		var p dto.CreateArchiveDTO
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return d.svc.CreateArchive(ctx, env.JobID, p)
	case OpExtractArchive:
		var p dto.ExtractArchiveDTO
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return d.svc.ExtractArchive(ctx, env.JobID, p)
	case OpCompressFiles:
		var p dto.CompressFilesDTO
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return d.svc.CompressFiles(ctx, env.JobID, p)
	case OpAddFiles:
		var p dto.AddFilesToArchiveDTO
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return d.svc.AddFilesToArchive(ctx, env.JobID, p)
	case OpRemoveFiles:
		var p dto.RemoveFilesFromArchiveDTO
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return d.svc.RemoveFilesFromArchive(ctx, env.JobID, p)
	case OpEncryptArchive:
		var p dto.EncryptArchiveDTO
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return d.svc.EncryptArchive(ctx, env.JobID, p)
	case OpDecryptArchive:
		var p dto.DecryptArchiveDTO
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return d.svc.DecryptArchive(ctx, env.JobID, p)
	case OpCrackArchive:
		var p dto.CrackArchiveDTO
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return d.svc.CrackArchive(ctx, env.JobID, p)
	case OpConvertArchive:
		var p dto.ConvertArchiveDTO
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return d.svc.ConvertArchive(ctx, env.JobID, p)
	case OpDecompressArchive:
		var p dto.DecompressArchiveDTO
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return d.svc.DecompressArchive(ctx, env.JobID, p)
	case OpCleanupFiles:
		var p dto.CleanupFilesDTO
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return d.svc.CleanupFiles(ctx, env.JobID, p)
	case OpDeleteArchive:
		var p deleteArchivePayload
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return d.svc.DeleteArchive(ctx, env.JobID, p.ArchiveID)
	case OpRestoreTrash:
		var p dto.RestoreTrashDTO
		if err := unmarshalPayload(env.Payload, &p); err != nil {
			return nil, err
		}
		return d.svc.RestoreTrash(ctx, env.JobID, p)
	default:
		return nil, apperrors.Validation(fmt.Sprintf("неизвестная операция: %q", env.Operation))
	}
}

// unmarshalPayload разбирает полезную нагрузку конверта.
func unmarshalPayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return apperrors.Validation(fmt.Sprintf("нечитаемая полезная нагрузка: %v", err))
	}
	return nil
}

// errorCode возвращает машиночитаемый код ошибки задания.
func errorCode(err error) string {
	return apperrors.CodeOf(err)
}
