package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/docstore/archive-engine/internal/config"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/apperrors"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/dto"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
	"github.com/arturkryukov/docstore/archive-engine/internal/repository"
	"github.com/arturkryukov/docstore/archive-engine/internal/storage/blobstore"
	"github.com/arturkryukov/docstore/archive-engine/internal/storage/workspace"
)

// Prometheus метрики фоновой очистки
var (
	// sweepRunsTotal — количество запусков очистки.
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ae_sweep_runs_total",
		Help: "Общее количество запусков фоновой очистки",
	})

	// sweepPurgedTotal — безвозвратно удалённые архивы.
	sweepPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ae_sweep_purged_archives_total",
		Help: "Общее количество архивов, удалённых из корзины безвозвратно",
	})

	// sweepSkippedTotal — архивы, пропущенные из-за блокировки.
	sweepSkippedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ae_sweep_skipped_locked_total",
		Help: "Общее количество архивов, пропущенных очисткой из-за активной блокировки",
	})

	// sweepWorkspacesTotal — удалённые брошенные рабочие директории.
	sweepWorkspacesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ae_sweep_stale_workspaces_total",
		Help: "Общее количество удалённых брошенных рабочих директорий",
	})

	// sweepErrorsTotal — ошибки очистки (элемент пропущен).
	sweepErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ae_sweep_errors_total",
		Help: "Общее количество ошибок фоновой очистки",
	})

	// sweepDurationSeconds — длительность цикла очистки.
	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ae_sweep_duration_seconds",
		Help:    "Длительность цикла фоновой очистки в секундах",
		Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// SweepResult — итоги одного цикла очистки.
type SweepResult struct {
	// PurgedArchives — архивы, удалённые из корзины безвозвратно
	PurgedArchives int `json:"purged_archives"`
	// SkippedLocked — архивы, пропущенные из-за активной блокировки
	SkippedLocked int `json:"skipped_locked"`
	// StaleWorkspaces — удалённые брошенные рабочие директории
	StaleWorkspaces int `json:"stale_workspaces"`
	// Errors — количество ошибок (элементы пропущены)
	Errors int `json:"errors"`
	// Duration — длительность цикла
	Duration time.Duration `json:"duration"`
}

// Sweeper — фоновая очистка: безвозвратное удаление архивов с
// истёкшим сроком хранения в корзине и брошенных рабочих директорий.
// Архив под активной блокировкой пропускается и удаляется следующим
// циклом: очистка никогда не отбирает архив у выполняющейся операции.
type Sweeper struct {
	store    repository.Store
	blobs    blobstore.Gateway
	ws       *workspace.Manager
	locks    *lockArena
	interval time.Duration
	staleAge time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func newSweeper(cfg *config.Config, store repository.Store, blobs blobstore.Gateway, ws *workspace.Manager, locks *lockArena, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		blobs:    blobs,
		ws:       ws,
		locks:    locks,
		interval: cfg.SweepInterval,
		staleAge: cfg.StaleWorkspaceAge,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// Start запускает периодическую очистку. Повторный запуск — no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(runCtx)

	s.logger.Info("Фоновая очистка запущена",
		slog.Duration("interval", s.interval),
		slog.Duration("stale_workspace_age", s.staleAge),
	)
}

// Stop останавливает периодическую очистку и ждёт завершения цикла.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("Фоновая очистка остановлена")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx, 0); err != nil {
				s.logger.Error("Цикл очистки завершился ошибкой",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce выполняет один цикл очистки. staleAgeOverride заменяет
// настроенный порог возраста рабочих директорий (0 = из конфигурации).
// Ошибки отдельных элементов логируются и пропускаются; цикл
// прерывается только отменой контекста.
func (s *Sweeper) RunOnce(ctx context.Context, staleAgeOverride time.Duration) (*SweepResult, error) {
	start := time.Now()
	result := &SweepResult{}
	sweepRunsTotal.Inc()

	if err := s.purgeExpired(ctx, result); err != nil {
		return result, err
	}
	if err := s.removeStaleWorkspaces(ctx, staleAgeOverride, result); err != nil {
		return result, err
	}

	result.Duration = time.Since(start)
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	s.logger.Info("Цикл очистки завершён",
		slog.Int("purged_archives", result.PurgedArchives),
		slog.Int("skipped_locked", result.SkippedLocked),
		slog.Int("stale_workspaces", result.StaleWorkspaces),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// purgeExpired безвозвратно удаляет архивы с истёкшим сроком корзины.
// Порядок: blob → метаданные → запись корзины. При сбое после
// удаления blob-а запись корзины остаётся и повтор идемпотентен:
// отсутствие blob-а ошибкой не считается.
func (s *Sweeper) purgeExpired(ctx context.Context, result *SweepResult) error {
	expired, err := s.store.ListExpiredTrash(ctx, time.Now().UTC())
	if err != nil {
		return apperrors.Cleanup("не удалось получить список просроченной корзины", err)
	}

	for _, rec := range expired {
		if err := ctx.Err(); err != nil {
			return err
		}

		release, ok := s.locks.TryAcquire(rec.ArchiveID)
		if !ok {
			result.SkippedLocked++
			sweepSkippedTotal.Inc()
			s.logger.Debug("Архив пропущен: активная блокировка",
				slog.String("archive_id", rec.ArchiveID),
			)
			continue
		}

		if err := s.purgeOne(ctx, rec); err != nil {
			result.Errors++
			sweepErrorsTotal.Inc()
			s.logger.Error("Не удалось удалить архив из корзины",
				slog.String("archive_id", rec.ArchiveID),
				slog.String("error", err.Error()),
			)
		} else {
			result.PurgedArchives++
			sweepPurgedTotal.Inc()
			s.logger.Info("Архив удалён безвозвратно",
				slog.String("archive_id", rec.ArchiveID),
				slog.Time("retention_deadline", rec.RetentionDeadline),
			)
		}
		release()
	}
	return nil
}

// purgeOne удаляет один архив: blob, метаданные, запись корзины.
func (s *Sweeper) purgeOne(ctx context.Context, rec *model.TrashRecord) error {
	info, err := s.store.Load(ctx, rec.ArchiveID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		// Осиротевшая запись корзины после частичного прошлого удаления.
	case err != nil:
		return apperrors.Cleanup("не удалось прочитать метаданные архива", err)
	default:
		if info.StorageKey != "" {
			if err := s.blobs.Delete(ctx, info.StorageKey); err != nil {
				return apperrors.Cleanup("не удалось удалить объект архива", err)
			}
		}
		if err := s.store.Delete(ctx, rec.ArchiveID); err != nil && !errors.Is(err, repository.ErrNotFound) {
			return apperrors.Cleanup("не удалось удалить метаданные архива", err)
		}
	}

	if err := s.store.DeleteTrash(ctx, rec.ArchiveID); err != nil {
		return apperrors.Cleanup("не удалось удалить запись корзины", err)
	}
	return nil
}

// removeStaleWorkspaces удаляет брошенные рабочие директории.
func (s *Sweeper) removeStaleWorkspaces(ctx context.Context, override time.Duration, result *SweepResult) error {
	maxAge := s.staleAge
	if override > 0 {
		maxAge = override
	}

	stale, err := s.ws.ListStale(maxAge)
	if err != nil {
		return err
	}
	for _, entry := range stale {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.RemoveAll(entry.Dir); err != nil {
			result.Errors++
			sweepErrorsTotal.Inc()
			s.logger.Error("Не удалось удалить рабочую директорию",
				slog.String("dir", entry.Dir),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.StaleWorkspaces++
		sweepWorkspacesTotal.Inc()
		s.logger.Info("Удалена брошенная рабочая директория",
			slog.String("dir", entry.Dir),
			slog.Time("mod_time", entry.ModTime),
		)
	}
	return nil
}

// CleanupFiles выполняет очистку по запросу из очереди заданий.
// Порог older_than_seconds влияет на возраст рабочих директорий;
// дедлайны корзины зафиксированы при удалении и порогом не меняются.
func (s *ArchiveService) CleanupFiles(ctx context.Context, jobID string, d dto.CleanupFilesDTO) (*model.ArchiveProcessingInfo, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	return s.runJob(ctx, jobID, "", "cleanup_files", func(ctx context.Context) (map[string]any, error) {
		override := time.Duration(d.OlderThanSeconds) * time.Second
		result, err := s.sweeper.RunOnce(ctx, override)
		if err != nil {
			if e, ok := err.(*apperrors.Error); ok {
				return nil, e
			}
			return nil, apperrors.Cleanup("очистка завершилась ошибкой", err)
		}
		return toResultMap(result), nil
	})
}
