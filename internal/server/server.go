// Пакет server — HTTP-сервер служебного API Archive Engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arturkryukov/docstore/archive-engine/internal/api/handlers"
	"github.com/arturkryukov/docstore/archive-engine/internal/api/middleware"
	"github.com/arturkryukov/docstore/archive-engine/internal/config"
)

// Server — HTTP-сервер с маршрутизацией и graceful shutdown.
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// Routes собирает маршрутизатор служебного API.
func Routes(h *handlers.Handler, logger *slog.Logger) chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	// Health и метрики
	router.Get("/health/live", h.HealthLive)
	router.Get("/health/ready", h.HealthReady)
	router.Handle("/metrics", promhttp.Handler())

	// Служебный API: read-only представление метаданных.
	// Операции над архивами идут через очередь заданий.
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Get("/archives", h.ListArchives)
		r.Get("/archives/{archiveID}", h.GetArchive)
		r.Get("/archives/{archiveID}/entries", h.ListEntries)
	})

	return router
}

// New создаёт сервер с настроенными маршрутами.
func New(cfg *config.Config, h *handlers.Handler, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      Routes(h, logger),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger.With(slog.String("component", "server")),
	}
}

// Run запускает сервер и блокируется до отмены контекста.
// После отмены выполняется graceful shutdown в пределах таймаута.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP сервер запущен", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("сбой HTTP сервера: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Остановка HTTP сервера")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка остановки HTTP сервера: %w", err)
	}
	s.logger.Info("HTTP сервер остановлен")
	return nil
}
