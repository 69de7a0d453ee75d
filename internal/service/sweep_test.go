package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/dto"
	"github.com/arturkryukov/docstore/archive-engine/internal/repository"
)

// trashExpired помещает архив в корзину и отодвигает дедлайн в прошлое.
func trashExpired(t *testing.T, svc *ArchiveService, store *repository.MemoryStore, archiveID string) {
	t.Helper()
	ctx := context.Background()

	if _, err := svc.DeleteArchive(ctx, "", archiveID); err != nil {
		t.Fatalf("удаление в корзину завершилось ошибкой: %v", err)
	}
	rec, err := store.GetTrash(ctx, archiveID)
	if err != nil {
		t.Fatal(err)
	}
	rec.RetentionDeadline = time.Now().UTC().Add(-time.Minute)
	if err := store.PutTrash(ctx, rec); err != nil {
		t.Fatal(err)
	}
}

func TestSweeperPurgesExpired(t *testing.T) {
	svc, store, blobs := newTestService(t)
	ctx := context.Background()

	archiveID := compressTestArchive(t, svc, blobs, "")
	info, err := store.Load(ctx, archiveID)
	if err != nil {
		t.Fatal(err)
	}
	trashExpired(t, svc, store, archiveID)

	result, err := svc.Sweeper().RunOnce(ctx, 0)
	if err != nil {
		t.Fatalf("цикл очистки завершился ошибкой: %v", err)
	}
	if result.PurgedArchives != 1 || result.Errors != 0 {
		t.Fatalf("ожидался 1 удалённый архив без ошибок: %+v", result)
	}

	// Blob, метаданные и запись корзины удалены.
	exists, err := blobs.Exists(ctx, info.StorageKey)
	if err != nil || exists {
		t.Errorf("объект архива должен быть удалён: %v", err)
	}
	if _, err := store.Load(ctx, archiveID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("метаданные должны быть удалены: %v", err)
	}
	if _, err := store.GetTrash(ctx, archiveID); !errors.Is(err, repository.ErrNotFound) {
		t.Errorf("запись корзины должна быть удалена: %v", err)
	}

	// Повторный цикл идемпотентен.
	result, err = svc.Sweeper().RunOnce(ctx, 0)
	if err != nil || result.PurgedArchives != 0 {
		t.Errorf("повторный цикл не должен ничего удалять: %+v (ошибка %v)", result, err)
	}
}

func TestSweeperSkipsLocked(t *testing.T) {
	svc, store, blobs := newTestService(t)
	ctx := context.Background()

	archiveID := compressTestArchive(t, svc, blobs, "")
	trashExpired(t, svc, store, archiveID)

	// Архив под активной операцией не удаляется из-под неё.
	release, err := svc.locks.Acquire(ctx, archiveID)
	if err != nil {
		t.Fatal(err)
	}

	result, err := svc.Sweeper().RunOnce(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if result.SkippedLocked != 1 || result.PurgedArchives != 0 {
		t.Errorf("заблокированный архив должен быть пропущен: %+v", result)
	}
	if _, err := store.Load(ctx, archiveID); err != nil {
		t.Errorf("метаданные пропущенного архива должны сохраниться: %v", err)
	}

	// После освобождения блокировки следующий цикл удаляет архив.
	release()
	result, err = svc.Sweeper().RunOnce(ctx, 0)
	if err != nil || result.PurgedArchives != 1 {
		t.Errorf("после освобождения архив должен быть удалён: %+v (ошибка %v)", result, err)
	}
}

func TestSweeperRemovesStaleWorkspaces(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// Брошенная директория задания и свежая директория.
	staleDir := filepath.Join(svc.ws.Root(), "extract_task_abandoned")
	freshDir := filepath.Join(svc.ws.Root(), "compress_task_active")
	for _, dir := range []string{staleDir, freshDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			t.Fatal(err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(staleDir, old, old); err != nil {
		t.Fatal(err)
	}

	result, err := svc.Sweeper().RunOnce(ctx, 0)
	if err != nil {
		t.Fatalf("цикл очистки завершился ошибкой: %v", err)
	}
	if result.StaleWorkspaces != 1 {
		t.Fatalf("ожидалась 1 удалённая директория: %+v", result)
	}
	if _, err := os.Stat(staleDir); !os.IsNotExist(err) {
		t.Error("брошенная директория должна быть удалена")
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Error("свежая директория должна сохраниться")
	}
}

// TestSweeperKeepsActiveWorkspace — директория выполняющегося задания
// переживает очистку даже с агрессивным порогом: удаление отложенных
// ресурсов никогда не происходит из-под живой операции.
func TestSweeperKeepsActiveWorkspace(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	wsp, err := svc.ws.Create("crack_archive", "job-live")
	if err != nil {
		t.Fatal(err)
	}
	defer wsp.Discard()
	old := time.Now().Add(-2 * time.Minute)
	if err := os.Chtimes(wsp.Dir, old, old); err != nil {
		t.Fatal(err)
	}

	result, err := svc.Sweeper().RunOnce(ctx, time.Minute)
	if err != nil {
		t.Fatalf("цикл очистки завершился ошибкой: %v", err)
	}
	if result.StaleWorkspaces != 0 {
		t.Errorf("директория живого задания не должна удаляться: %+v", result)
	}
	if _, err := os.Stat(wsp.Dir); err != nil {
		t.Errorf("директория живого задания должна сохраниться: %v", err)
	}
}

func TestCleanupFilesOperation(t *testing.T) {
	svc, store, blobs := newTestService(t)
	ctx := context.Background()

	archiveID := compressTestArchive(t, svc, blobs, "")
	trashExpired(t, svc, store, archiveID)

	// Свежая директория подпадает под явно заданный порог.
	dir := filepath.Join(svc.ws.Root(), "list_task_recent")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-10 * time.Minute)
	if err := os.Chtimes(dir, old, old); err != nil {
		t.Fatal(err)
	}

	info, err := svc.CleanupFiles(ctx, "job-clean", dto.CleanupFilesDTO{OlderThanSeconds: 60})
	if err != nil {
		t.Fatalf("операция очистки завершилась ошибкой: %v", err)
	}
	if info.Result["purged_archives"] != float64(1) {
		t.Errorf("ожидался 1 удалённый архив: %+v", info.Result)
	}
	if info.Result["stale_workspaces"] != float64(1) {
		t.Errorf("ожидалась 1 удалённая директория: %+v", info.Result)
	}
}

func TestSweeperStartStop(t *testing.T) {
	svc, _, _ := newTestService(t)
	sw := svc.Sweeper()
	sw.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw.Start(ctx)
	sw.Start(ctx) // повторный запуск — no-op
	time.Sleep(30 * time.Millisecond)
	sw.Stop()
	sw.Stop() // повторная остановка безопасна
}
