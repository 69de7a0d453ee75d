// Пакет handlers — HTTP-обработчики служебного API Archive Engine.
//
// Операции над архивами выполняются через очередь заданий; HTTP-API
// отдаёт только health, метрики и read-only представление метаданных.
package handlers

import (
	"log/slog"

	"github.com/arturkryukov/docstore/archive-engine/internal/config"
	"github.com/arturkryukov/docstore/archive-engine/internal/service"
)

// Handler — HTTP-обработчики служебного API.
type Handler struct {
	cfg    *config.Config
	svc    *service.ArchiveService
	ready  map[string]ReadyChecker
	logger *slog.Logger
}

// New создаёт набор обработчиков.
// ready — именованные проверки готовности внешних зависимостей
// для /health/ready (nil допустим).
func New(cfg *config.Config, svc *service.ArchiveService, ready map[string]ReadyChecker, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:    cfg,
		svc:    svc,
		ready:  ready,
		logger: logger.With(slog.String("component", "api")),
	}
}
