// health.go — health endpoints Archive Engine.
//
// /health/live  — процесс жив, всегда 200.
// /health/ready — проверки зависимостей: каталоги данных и временных
// файлов (проба записи), PostgreSQL. Любой сбой — 503 и статус fail.
package handlers

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/arturkryukov/docstore/archive-engine/internal/config"
)

// ReadyChecker — проверка готовности внешней зависимости.
// Реализуется repository.ReadinessChecker.
type ReadyChecker interface {
	CheckReady() (status string, message string)
}

// healthProbeFile — имя файла пробы записи в проверяемых каталогах.
const healthProbeFile = ".health_check"

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс способен отвечать на запросы.
func (h *Handler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": config.Version,
	})
}

// HealthReady обрабатывает GET /health/ready.
// Выполняет проверки зависимостей и возвращает 200 (ok) либо 503 (fail).
func (h *Handler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	checks := make(map[string]map[string]string)
	overall := "ok"

	// Каталог данных: blob-хранилище должно быть доступно на запись.
	checks["data_dir"] = writeProbe(h.cfg.DataDir)
	// Каталог временных файлов: рабочие области операций.
	checks["temp_dir"] = writeProbe(h.cfg.TempDir)

	// Внешние зависимости (PostgreSQL).
	for name, checker := range h.ready {
		status, message := checker.CheckReady()
		checks[name] = map[string]string{"status": status, "message": message}
	}

	statusCode := http.StatusOK
	for _, check := range checks {
		if check["status"] != "ok" {
			overall = "fail"
			statusCode = http.StatusServiceUnavailable
			break
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"status": overall,
		"checks": checks,
	})
}

// writeProbe проверяет каталог пробой записи.
func writeProbe(dir string) map[string]string {
	probe := filepath.Join(dir, healthProbeFile)
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return map[string]string{"status": "fail", "message": err.Error()}
	}
	_ = os.Remove(probe)
	return map[string]string{"status": "ok", "message": "каталог доступен на запись"}
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
