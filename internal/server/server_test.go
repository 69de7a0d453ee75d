package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arturkryukov/docstore/archive-engine/internal/api/handlers"
	"github.com/arturkryukov/docstore/archive-engine/internal/config"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
	"github.com/arturkryukov/docstore/archive-engine/internal/repository"
	"github.com/arturkryukov/docstore/archive-engine/internal/service"
	"github.com/arturkryukov/docstore/archive-engine/internal/storage/blobstore"
	"github.com/arturkryukov/docstore/archive-engine/internal/storage/workspace"
)

// fakeChecker — подменная проверка готовности зависимости.
type fakeChecker struct {
	status  string
	message string
}

func (c fakeChecker) CheckReady() (string, string) { return c.status, c.message }

func newTestRouter(t *testing.T, ready map[string]handlers.ReadyChecker) (http.Handler, *repository.MemoryStore) {
	t.Helper()

	cfg := &config.Config{
		Port:                8080,
		DataDir:             t.TempDir(),
		TempDir:             t.TempDir(),
		MaxUploadSize:       10 << 20,
		TrashRetention:      time.Hour,
		SweepInterval:       time.Hour,
		StaleWorkspaceAge:   time.Hour,
		CrackWorkers:        2,
		CrackMaxSpace:       1000,
		CrackCharset:        "ab",
		CrackMaxWordlist:    100,
		TaskQueue:           "archive.tasks",
		ResultQueue:         "archive.results",
		StorageRetries:      1,
		StorageRetryBackoff: time.Millisecond,
		CacheSize:           16,
		CacheTTL:            time.Minute,
		ShutdownTimeout:     time.Second,
	}
	blobs, err := blobstore.NewFS(cfg.DataDir)
	if err != nil {
		t.Fatal(err)
	}
	ws, err := workspace.NewManager(cfg.TempDir)
	if err != nil {
		t.Fatal(err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemory()
	svc := service.New(cfg, store, blobs, ws, logger)
	return Routes(handlers.New(cfg, svc, ready, logger), logger), store
}

func doGet(t *testing.T, router http.Handler, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("ответ %s не является JSON: %v", path, err)
	}
	return rec, body
}

func TestHealthLive(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec, body := doGet(t, router, "/health/live")
	if rec.Code != http.StatusOK {
		t.Fatalf("неожиданный статус: %d", rec.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("ожидался статус ok: %v", body)
	}
}

func TestHealthReady(t *testing.T) {
	router, _ := newTestRouter(t, map[string]handlers.ReadyChecker{
		"database": fakeChecker{status: "ok", message: "подключение установлено"},
	})

	rec, body := doGet(t, router, "/health/ready")
	if rec.Code != http.StatusOK {
		t.Fatalf("все проверки в порядке, ожидался 200: %d %v", rec.Code, body)
	}
	if body["status"] != "ok" {
		t.Errorf("ожидался общий статус ok: %v", body)
	}
}

func TestHealthReadyFailingDependency(t *testing.T) {
	router, _ := newTestRouter(t, map[string]handlers.ReadyChecker{
		"database": fakeChecker{status: "fail", message: "нет подключения"},
	})

	rec, body := doGet(t, router, "/health/ready")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("сбой зависимости должен дать 503: %d", rec.Code)
	}
	if body["status"] != "fail" {
		t.Errorf("ожидался общий статус fail: %v", body)
	}
}

func TestGetStatus(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec, body := doGet(t, router, "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("неожиданный статус: %d", rec.Code)
	}
	if body["service"] != "archive-engine" {
		t.Errorf("неверное имя сервиса: %v", body["service"])
	}
	formats, _ := body["supported_formats"].([]any)
	if len(formats) != len(model.SupportedFormats) {
		t.Errorf("неполный список форматов: %v", formats)
	}
}

func TestListArchives(t *testing.T) {
	router, store := newTestRouter(t, nil)

	now := time.Now().UTC()
	if err := store.Save(t.Context(), &model.ArchiveInfo{
		ArchiveID:  "arch-1",
		OwnerID:    "user-1",
		Name:       "docs.zip",
		Format:     model.FormatZip,
		StorageKey: "archives/arch-1",
		Size:       128,
		Status:     model.StatusReady,
		CreatedAt:  now,
		UpdatedAt:  now,
	}); err != nil {
		t.Fatal(err)
	}

	rec, body := doGet(t, router, "/api/v1/archives?owner_id=user-1")
	if rec.Code != http.StatusOK {
		t.Fatalf("неожиданный статус: %d %v", rec.Code, body)
	}
	if total, _ := body["total"].(float64); total != 1 {
		t.Errorf("ожидался один архив: %v", body)
	}

	// owner_id обязателен.
	rec, body = doGet(t, router, "/api/v1/archives")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("листинг без owner_id должен дать 400: %d", rec.Code)
	}
	if body["error_code"] != "validation_error" {
		t.Errorf("неверный код ошибки: %v", body["error_code"])
	}

	// Некорректный limit.
	rec, _ = doGet(t, router, "/api/v1/archives?owner_id=user-1&limit=abc")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("нечисловой limit должен дать 400: %d", rec.Code)
	}
}

func TestGetArchiveNotFound(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec, body := doGet(t, router, "/api/v1/archives/missing")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("неизвестный архив должен дать 404: %d", rec.Code)
	}
	if body["error_code"] != "archive_not_found" {
		t.Errorf("неверный код ошибки: %v", body["error_code"])
	}
}

func TestListEntriesNotFound(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	rec, body := doGet(t, router, "/api/v1/archives/missing/entries")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("оглавление неизвестного архива должно дать 404: %d %v", rec.Code, body)
	}
}
