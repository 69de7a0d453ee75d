// Пакет service — оркестрация операций Archive Engine.
//
// Сервис связывает кодеки форматов, blob-хранилище, рабочие
// директории заданий и репозитории метаданных. Все мутирующие
// операции выполняются под блокировкой архива и проходят через
// таблицу archive_processing: повторная доставка задания с тем же
// job_id возвращает сохранённый терминальный результат.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/docstore/archive-engine/internal/codec"
	"github.com/arturkryukov/docstore/archive-engine/internal/config"
	"github.com/arturkryukov/docstore/archive-engine/internal/cracker"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
	"github.com/arturkryukov/docstore/archive-engine/internal/repository"
	"github.com/arturkryukov/docstore/archive-engine/internal/storage/blobstore"
	"github.com/arturkryukov/docstore/archive-engine/internal/storage/workspace"
)

// Prometheus метрики операций
var (
	// operationsTotal — количество операций по типу и исходу.
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ae_operations_total",
		Help: "Общее количество операций по типу и исходу",
	}, []string{"operation", "outcome"})

	// operationDuration — длительность операций по типу.
	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ae_operation_duration_seconds",
		Help:    "Длительность операций в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
	}, []string{"operation"})

	// cacheHitsTotal — попадания в кэш снимков метаданных.
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ae_metadata_cache_hits_total",
		Help: "Попадания в кэш снимков метаданных архивов",
	})

	// cacheMissesTotal — промахи кэша снимков метаданных.
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ae_metadata_cache_misses_total",
		Help: "Промахи кэша снимков метаданных архивов",
	})
)

// ArchiveService — оркестратор операций над архивами.
type ArchiveService struct {
	cfg     *config.Config
	store   repository.Store
	blobs   blobstore.Gateway
	ws      *workspace.Manager
	codecs  *codec.Registry
	cracker *cracker.Cracker
	locks   *lockArena
	sweeper *Sweeper
	// cache — кэш снимков метаданных для read-only запросов.
	// Мутирующие операции читают напрямую и инвалидируют запись.
	cache  *expirable.LRU[string, *model.ArchiveInfo]
	logger *slog.Logger
}

// New создаёт сервис архивов со всеми зависимостями.
func New(cfg *config.Config, store repository.Store, blobs blobstore.Gateway, ws *workspace.Manager, logger *slog.Logger) *ArchiveService {
	s := &ArchiveService{
		cfg:     cfg,
		store:   store,
		blobs:   blobs,
		ws:      ws,
		codecs:  codec.NewRegistry(),
		cracker: cracker.New(cfg.CrackWorkers, cfg.CrackMaxSpace, cfg.CrackMaxWordlist, logger),
		locks:   newLockArena(),
		cache:   expirable.NewLRU[string, *model.ArchiveInfo](cfg.CacheSize, nil, cfg.CacheTTL),
		logger:  logger.With(slog.String("component", "archive_service")),
	}
	s.sweeper = newSweeper(cfg, store, blobs, ws, s.locks, logger)
	return s
}

// Sweeper возвращает фоновую очистку для запуска из main.
func (s *ArchiveService) Sweeper() *Sweeper {
	return s.sweeper
}

// runJob оборачивает мутирующую операцию: идемпотентность по job_id,
// регистрация в archive_processing, метрики и терминальный результат.
// fn возвращает JSON-сериализуемый результат операции.
func (s *ArchiveService) runJob(ctx context.Context, jobID, archiveID, operation string, fn func(ctx context.Context) (map[string]any, error)) (*model.ArchiveProcessingInfo, error) {
	start := time.Now()

	if jobID != "" {
		existing, err := s.store.GetProcessing(ctx, jobID)
		if err == nil && existing.IsTerminal() {
			s.logger.Info("Повторная доставка завершённого задания",
				slog.String("job_id", jobID),
				slog.String("operation", operation),
				slog.String("status", string(existing.Status)),
			)
			operationsTotal.WithLabelValues(operation, "replay").Inc()
			return existing, nil
		}
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.Storage("не удалось прочитать состояние задания", err)
		}
	}

	info := &model.ArchiveProcessingInfo{
		JobID:     jobID,
		ArchiveID: archiveID,
		Operation: operation,
		Status:    model.ProcessingRunning,
		StartedAt: start.UTC(),
	}
	if jobID != "" {
		if err := s.store.CreateProcessing(ctx, info); err != nil {
			return nil, apperrors.Storage("не удалось зарегистрировать задание", err)
		}
	}

	result, opErr := fn(ctx)

	completedAt := time.Now().UTC()
	info.CompletedAt = &completedAt
	if opErr != nil {
		info.Status = model.ProcessingFailed
		info.ErrorCode = apperrors.CodeOf(opErr)
		info.ErrorMessage = opErr.Error()
		operationsTotal.WithLabelValues(operation, "error").Inc()
		s.logger.Error("Операция завершилась ошибкой",
			slog.String("job_id", jobID),
			slog.String("operation", operation),
			slog.String("archive_id", archiveID),
			slog.String("error_code", info.ErrorCode),
			slog.String("error", opErr.Error()),
		)
	} else {
		info.Status = model.ProcessingCompleted
		info.Result = result
		operationsTotal.WithLabelValues(operation, "success").Inc()
		s.logger.Info("Операция завершена",
			slog.String("job_id", jobID),
			slog.String("operation", operation),
			slog.String("archive_id", archiveID),
			slog.Duration("duration", time.Since(start)),
		)
	}
	operationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

	if jobID != "" {
		if err := s.store.CompleteProcessing(ctx, info); err != nil {
			s.logger.Error("Не удалось записать терминальное состояние задания",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
	}

	return info, opErr
}

// loadArchive читает метаданные архива напрямую, минуя кэш.
// Используется мутирующими операциями под блокировкой.
func (s *ArchiveService) loadArchive(ctx context.Context, archiveID string) (*model.ArchiveInfo, error) {
	info, err := s.store.Load(ctx, archiveID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.ArchiveNotFound(archiveID)
		}
		return nil, apperrors.Storage("не удалось прочитать метаданные архива", err)
	}
	return info, nil
}

// loadArchiveCached читает метаданные через кэш снимков.
// Только для read-only запросов: снимок может отставать на CacheTTL.
func (s *ArchiveService) loadArchiveCached(ctx context.Context, archiveID string) (*model.ArchiveInfo, error) {
	if info, ok := s.cache.Get(archiveID); ok {
		cacheHitsTotal.Inc()
		return info, nil
	}
	cacheMissesTotal.Inc()

	info, err := s.loadArchive(ctx, archiveID)
	if err != nil {
		return nil, err
	}
	s.cache.Add(archiveID, info)
	return info, nil
}

// loadReadyArchive читает метаданные и требует статус ready.
func (s *ArchiveService) loadReadyArchive(ctx context.Context, archiveID string) (*model.ArchiveInfo, error) {
	info, err := s.loadArchive(ctx, archiveID)
	if err != nil {
		return nil, err
	}
	if !info.IsReady() {
		// Архив в корзине или не дозагружен — для операций его нет.
		return nil, apperrors.ArchiveNotFound(archiveID)
	}
	return info, nil
}

// saveArchive сохраняет метаданные и инвалидирует кэш снимков.
func (s *ArchiveService) saveArchive(ctx context.Context, info *model.ArchiveInfo) error {
	info.UpdatedAt = time.Now().UTC()
	if err := s.store.Save(ctx, info); err != nil {
		return apperrors.Storage("не удалось сохранить метаданные архива", err)
	}
	s.cache.Remove(info.ArchiveID)
	return nil
}

// withStorageRetry повторяет обращение к blob-хранилищу с
// экспоненциальной задержкой. Повторяются только транспортные
// ошибки storage_error; отсутствие объекта не повторяется.
func (s *ArchiveService) withStorageRetry(ctx context.Context, op string, fn func() error) error {
	backoff := s.cfg.StorageRetryBackoff
	var err error
	for attempt := 1; attempt <= s.cfg.StorageRetries; attempt++ {
		err = fn()
		if err == nil || !retryableStorageError(err) {
			return err
		}
		if attempt == s.cfg.StorageRetries {
			break
		}
		s.logger.Warn("Повтор обращения к blob-хранилищу",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}

// retryableStorageError отличает транспортные сбои хранилища
// от отсутствия объекта.
func retryableStorageError(err error) bool {
	if errors.Is(err, blobstore.ErrNotExist) {
		return false
	}
	return apperrors.CodeOf(err) == apperrors.CodeStorage
}

// stageArchive выгружает байты архива из хранилища в рабочую
// директорию и возвращает локальный путь.
func (s *ArchiveService) stageArchive(ctx context.Context, wsp *workspace.Workspace, info *model.ArchiveInfo) (string, error) {
	localPath := wsp.Path(archiveFileName(info.Name, info.Format))
	err := s.withStorageRetry(ctx, "download", func() error {
		_, derr := blobstore.Download(ctx, s.blobs, info.StorageKey, localPath)
		return derr
	})
	if err != nil {
		if errors.Is(err, blobstore.ErrNotExist) {
			return "", apperrors.ArchiveNotFound(info.ArchiveID)
		}
		return "", err
	}
	return localPath, nil
}

// uploadArchive загружает локальный файл архива в хранилище под новым
// ключом и возвращает ключ и размер.
func (s *ArchiveService) uploadArchive(ctx context.Context, localPath, name string) (string, int64, error) {
	key := blobstore.MakeKey(blobstore.BucketArchive, name)
	var size int64
	err := s.withStorageRetry(ctx, "upload", func() error {
		n, uerr := blobstore.Upload(ctx, s.blobs, key, localPath)
		size = n
		return uerr
	})
	if err != nil {
		return "", 0, err
	}
	return key, size, nil
}

// archiveFileName строит имя локального файла архива с корректным
// расширением формата.
func archiveFileName(name string, format model.ArchiveFormat) string {
	if f, err := model.FormatFromFilename(name); err == nil && f == format {
		return name
	}
	return stripArchiveExt(name) + "." + string(format)
}

// stripArchiveExt убирает известное расширение архива из имени.
func stripArchiveExt(name string) string {
	lower := strings.ToLower(name)
	for _, suffix := range []string{".tar.gz", ".tgz", ".zip", ".rar", ".7z", ".tar", ".gz"} {
		if strings.HasSuffix(lower, suffix) {
			return name[:len(name)-len(suffix)]
		}
	}
	return name
}

// detectEncryption определяет, защищён ли архив паролем:
// проверка пустого пароля возвращает парольную ошибку для
// зашифрованных архивов и nil либо unsupported_format для остальных.
func (s *ArchiveService) detectEncryption(ctx context.Context, c codec.Codec, path string) bool {
	err := c.CheckPassword(ctx, path, "")
	return apperrors.IsAuth(err)
}

// toResultMap сериализует результат операции в map для
// archive_processing через JSON.
func toResultMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"marshal_error": err.Error()}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"marshal_error": err.Error()}
	}
	return m
}

// archiveResult — результат операции, создавшей или изменившей архив.
// Сериализуется через JSON, чтобы типы значений совпадали с
// результатом, прочитанным из JSONB-колонки archive_processing.
func archiveResult(info *model.ArchiveInfo) map[string]any {
	return toResultMap(info)
}

// guardSize проверяет размер объекта против настроенного максимума.
func (s *ArchiveService) guardSize(ctx context.Context, key string) (int64, error) {
	var size int64
	err := s.withStorageRetry(ctx, "size", func() error {
		n, serr := s.blobs.Size(ctx, key)
		size = n
		return serr
	})
	if err != nil {
		if errors.Is(err, blobstore.ErrNotExist) {
			return 0, apperrors.FileNotFound(key)
		}
		return 0, err
	}
	if size > s.cfg.MaxUploadSize {
		return 0, apperrors.FileTooLarge(size, s.cfg.MaxUploadSize)
	}
	return size, nil
}

// GetArchiveInfo возвращает снимок метаданных архива.
// Read-only запрос: обслуживается из кэша снимков.
func (s *ArchiveService) GetArchiveInfo(ctx context.Context, archiveID string) (*model.ArchiveInfo, error) {
	info, err := s.loadArchiveCached(ctx, archiveID)
	if err != nil {
		return nil, err
	}
	if info.Status == model.StatusPurged {
		return nil, apperrors.ArchiveNotFound(archiveID)
	}
	return info, nil
}

// ListArchiveEntries возвращает оглавление архива.
func (s *ArchiveService) ListArchiveEntries(ctx context.Context, archiveID, password string) ([]model.FileEntryInfo, error) {
	info, err := s.loadArchiveCached(ctx, archiveID)
	if err != nil {
		return nil, err
	}
	if !info.IsReady() {
		return nil, apperrors.ArchiveNotFound(archiveID)
	}

	c, err := s.codecs.Get(info.Format)
	if err != nil {
		return nil, err
	}

	wsp, err := s.ws.Create("list", fmt.Sprintf("%s-%d", archiveID, time.Now().UnixNano()))
	if err != nil {
		return nil, err
	}
	defer wsp.Discard()

	localPath, err := s.stageArchive(ctx, wsp, info)
	if err != nil {
		return nil, err
	}

	entries, err := c.List(ctx, localPath, password)
	if err != nil {
		if e, ok := err.(*apperrors.Error); ok {
			return nil, e.WithContext(archiveID, "list")
		}
		return nil, err
	}
	return entries, nil
}
