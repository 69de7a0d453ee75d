package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
)

func newArchive(owner, name string, size int64, createdAt time.Time) *model.ArchiveInfo {
	return &model.ArchiveInfo{
		ArchiveID:  uuid.New().String(),
		OwnerID:    owner,
		Name:       name,
		Format:     model.FormatZip,
		StorageKey: "archive/" + name,
		Size:       size,
		Status:     model.StatusReady,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func TestMemorySaveLoadDelete(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()

	info := newArchive("user-1", "docs.zip", 100, time.Now().UTC())
	if err := store.Save(ctx, info); err != nil {
		t.Fatalf("сохранение завершилось ошибкой: %v", err)
	}

	loaded, err := store.Load(ctx, info.ArchiveID)
	if err != nil {
		t.Fatalf("загрузка завершилась ошибкой: %v", err)
	}
	if loaded.Name != "docs.zip" || loaded.Status != model.StatusReady {
		t.Errorf("загружены неверные метаданные: %+v", loaded)
	}

	// Защитная копия: мутация результата не влияет на хранилище.
	loaded.Name = "mutated"
	again, _ := store.Load(ctx, info.ArchiveID)
	if again.Name != "docs.zip" {
		t.Error("хранилище должно возвращать защитные копии")
	}

	if err := store.Delete(ctx, info.ArchiveID); err != nil {
		t.Fatalf("удаление завершилось ошибкой: %v", err)
	}
	if _, err := store.Load(ctx, info.ArchiveID); !errors.Is(err, ErrNotFound) {
		t.Errorf("после удаления ожидался ErrNotFound, получено: %v", err)
	}
	if err := store.Delete(ctx, info.ArchiveID); !errors.Is(err, ErrNotFound) {
		t.Errorf("повторное удаление: ожидался ErrNotFound, получено: %v", err)
	}
}

func TestMemoryListByOwner(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, name := range []string{"alpha.zip", "beta.tar", "gamma.zip"} {
		info := newArchive("user-1", name, int64(100*(i+1)), base.Add(time.Duration(i)*time.Minute))
		if err := store.Save(ctx, info); err != nil {
			t.Fatal(err)
		}
	}
	// Чужой архив и архив в корзине не попадают в выборку по фильтрам.
	other := newArchive("user-2", "other.zip", 10, base)
	if err := store.Save(ctx, other); err != nil {
		t.Fatal(err)
	}
	trashed := newArchive("user-1", "old.zip", 10, base)
	trashed.Status = model.StatusTrashed
	if err := store.Save(ctx, trashed); err != nil {
		t.Fatal(err)
	}

	// По умолчанию: новые первые.
	list, total, err := store.ListByOwner(ctx, ListFilter{OwnerID: "user-1", Status: model.StatusReady})
	if err != nil {
		t.Fatalf("листинг завершился ошибкой: %v", err)
	}
	if total != 3 || len(list) != 3 {
		t.Fatalf("ожидалось 3 архива, получено %d (total %d)", len(list), total)
	}
	if list[0].Name != "gamma.zip" {
		t.Errorf("сортировка по умолчанию: ожидался gamma.zip первым, получен %s", list[0].Name)
	}

	// Фильтр по подстроке имени.
	list, total, err = store.ListByOwner(ctx, ListFilter{OwnerID: "user-1", Pattern: "ZIP", Status: model.StatusReady})
	if err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Errorf("фильтр по подстроке: ожидалось 2, получено %d", total)
	}

	// Сортировка по размеру по возрастанию + пагинация.
	list, total, err = store.ListByOwner(ctx, ListFilter{
		OwnerID: "user-1", Status: model.StatusReady,
		SortBy: "size", SortOrder: "asc", Limit: 2, Offset: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(list) != 2 {
		t.Fatalf("пагинация: ожидалось 2 из 3, получено %d из %d", len(list), total)
	}
	if list[0].Size != 200 {
		t.Errorf("после offset=1 по размеру ожидался 200, получен %d", list[0].Size)
	}

	// Статус trashed выбирается отдельно.
	_, total, err = store.ListByOwner(ctx, ListFilter{OwnerID: "user-1", Status: model.StatusTrashed})
	if err != nil || total != 1 {
		t.Errorf("корзина: ожидался 1 архив, получено %d (ошибка %v)", total, err)
	}
}

func TestMemoryTrash(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	recent := &model.TrashRecord{
		ArchiveID:         uuid.New().String(),
		DeletedAt:         now,
		RetentionDeadline: now.Add(time.Hour),
	}
	expired := &model.TrashRecord{
		ArchiveID:         uuid.New().String(),
		DeletedAt:         now.Add(-2 * time.Hour),
		RetentionDeadline: now.Add(-time.Hour),
	}
	for _, rec := range []*model.TrashRecord{recent, expired} {
		if err := store.PutTrash(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.GetTrash(ctx, recent.ArchiveID)
	if err != nil {
		t.Fatalf("получение записи корзины завершилось ошибкой: %v", err)
	}
	if !got.Restorable(now) {
		t.Error("запись до дедлайна должна быть восстановимой")
	}

	list, err := store.ListExpiredTrash(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ArchiveID != expired.ArchiveID {
		t.Errorf("ожидалась одна просроченная запись %s, получено: %+v", expired.ArchiveID, list)
	}

	if err := store.DeleteTrash(ctx, expired.ArchiveID); err != nil {
		t.Fatal(err)
	}
	// Идемпотентность.
	if err := store.DeleteTrash(ctx, expired.ArchiveID); err != nil {
		t.Errorf("повторное удаление записи корзины должно быть идемпотентным: %v", err)
	}
	if _, err := store.GetTrash(ctx, expired.ArchiveID); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидался ErrNotFound, получено: %v", err)
	}
}

func TestMemoryProcessingIdempotency(t *testing.T) {
	store := NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	info := &model.ArchiveProcessingInfo{
		JobID:     "job-1",
		ArchiveID: uuid.New().String(),
		Operation: "extract_archive",
		Status:    model.ProcessingRunning,
		StartedAt: now,
	}
	if err := store.CreateProcessing(ctx, info); err != nil {
		t.Fatalf("регистрация задания завершилась ошибкой: %v", err)
	}

	// Завершаем задание.
	completedAt := now.Add(time.Second)
	done := *info
	done.Status = model.ProcessingCompleted
	done.Result = map[string]any{"entries": 3}
	done.CompletedAt = &completedAt
	if err := store.CompleteProcessing(ctx, &done); err != nil {
		t.Fatalf("завершение задания завершилось ошибкой: %v", err)
	}

	// Повторная регистрация того же job_id не затирает терминальный результат.
	if err := store.CreateProcessing(ctx, info); err != nil {
		t.Fatalf("повторная регистрация завершилась ошибкой: %v", err)
	}
	got, err := store.GetProcessing(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.ProcessingCompleted || !got.IsTerminal() {
		t.Errorf("терминальный результат должен сохраняться: %+v", got)
	}
	if got.Result["entries"] != 3 {
		t.Errorf("результат задания искажён: %v", got.Result)
	}

	// Завершение незарегистрированного задания.
	unknown := &model.ArchiveProcessingInfo{JobID: "job-missing", Status: model.ProcessingFailed}
	if err := store.CompleteProcessing(ctx, unknown); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидался ErrNotFound, получено: %v", err)
	}
}
