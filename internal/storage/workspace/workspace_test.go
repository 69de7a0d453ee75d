package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCreateAndDiscard(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("не удалось создать менеджер: %v", err)
	}

	ws, err := m.Create("compress", "job-123")
	if err != nil {
		t.Fatalf("создание рабочей директории завершилось ошибкой: %v", err)
	}
	if filepath.Base(ws.Dir) != "compress_task_job-123" {
		t.Errorf("неожиданное имя директории: %s", filepath.Base(ws.Dir))
	}
	if _, err := os.Stat(ws.Dir); err != nil {
		t.Fatalf("директория должна существовать: %v", err)
	}

	if err := os.WriteFile(ws.Path("a.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	sub, err := ws.Subdir("stage")
	if err != nil {
		t.Fatalf("создание поддиректории завершилось ошибкой: %v", err)
	}
	if _, err := os.Stat(sub); err != nil {
		t.Fatal(err)
	}

	if err := ws.Discard(); err != nil {
		t.Fatalf("удаление завершилось ошибкой: %v", err)
	}
	if _, err := os.Stat(ws.Dir); !os.IsNotExist(err) {
		t.Error("директория должна быть удалена")
	}
}

// TestCreateReplacesLeftover — повторная доставка задания получает
// чистую директорию вместо остатков прерванного запуска.
func TestCreateReplacesLeftover(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	ws1, err := m.Create("extract", "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ws1.Path("leftover.bin"), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}

	ws2, err := m.Create("extract", "job-1")
	if err != nil {
		t.Fatalf("повторное создание завершилось ошибкой: %v", err)
	}
	if _, err := os.Stat(ws2.Path("leftover.bin")); !os.IsNotExist(err) {
		t.Error("остатки прерванного запуска должны быть удалены")
	}
}

func TestListStale(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root)
	if err != nil {
		t.Fatal(err)
	}

	// Брошенная директория после аварии процесса: существует на диске,
	// но не зарегистрирована живой.
	abandoned := filepath.Join(root, "convert_task_old-job")
	if err := os.MkdirAll(abandoned, 0o750); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(abandoned, old, old); err != nil {
		t.Fatal(err)
	}

	// Свежая директория и посторонний файл не попадают в результат.
	if _, err := m.Create("convert", "fresh-job"); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "random.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	stale, err := m.ListStale(time.Hour)
	if err != nil {
		t.Fatalf("перечисление завершилось ошибкой: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("ожидалась 1 устаревшая директория, получено %d", len(stale))
	}
	if stale[0].Dir != abandoned {
		t.Errorf("ожидалась директория %s, получена %s", abandoned, stale[0].Dir)
	}
}

// TestListStaleSkipsActive — директория живого задания не считается
// брошенной, как бы давно она ни изменялась: долгий подбор пароля может
// не трогать свою директорию дольше любого порога.
func TestListStaleSkipsActive(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root)
	if err != nil {
		t.Fatal(err)
	}

	ws, err := m.Create("crack_archive", "job-live")
	if err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(ws.Dir, old, old); err != nil {
		t.Fatal(err)
	}

	stale, err := m.ListStale(time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 0 {
		t.Fatalf("директория живого задания не должна попадать в список: %v", stale)
	}

	// После Discard имя освобождается: воссозданная вручную директория
	// того же задания снова подлежит очистке.
	if err := ws.Discard(); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(ws.Dir, 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(ws.Dir, old, old); err != nil {
		t.Fatal(err)
	}
	stale, err = m.ListStale(time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].Dir != ws.Dir {
		t.Errorf("после завершения задания директория должна считаться брошенной: %v", stale)
	}
}

func TestSanitizeComponent(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	ws, err := m.Create("../evil", "job/../1")
	if err != nil {
		t.Fatal(err)
	}
	base := filepath.Base(ws.Dir)
	if base != "evil_task_job1" {
		t.Errorf("компоненты имени должны быть очищены, получено: %s", base)
	}
}
