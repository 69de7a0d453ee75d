// status.go — GET /api/v1/status: сводка о сервисе.
package handlers

import (
	"net/http"

	"github.com/arturkryukov/docstore/archive-engine/internal/config"
	"github.com/arturkryukov/docstore/archive-engine/internal/domain/model"
)

// statusResponse — тело ответа /api/v1/status.
type statusResponse struct {
	Service          string   `json:"service"`
	Version          string   `json:"version"`
	SupportedFormats []string `json:"supported_formats"`
	TaskQueue        string   `json:"task_queue"`
	ResultQueue      string   `json:"result_queue"`
	MaxUploadSize    int64    `json:"max_upload_size"`
}

// GetStatus обрабатывает GET /api/v1/status.
func (h *Handler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	formats := make([]string, 0, len(model.SupportedFormats))
	for _, f := range model.SupportedFormats {
		formats = append(formats, string(f))
	}

	writeJSON(w, http.StatusOK, statusResponse{
		Service:          "archive-engine",
		Version:          config.Version,
		SupportedFormats: formats,
		TaskQueue:        h.cfg.TaskQueue,
		ResultQueue:      h.cfg.ResultQueue,
		MaxUploadSize:    h.cfg.MaxUploadSize,
	})
}
