// Точка входа Archive Engine — модуля обработки архивов.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/arturkryukov/docstore/archive-engine/internal/api/handlers"
	"github.com/arturkryukov/docstore/archive-engine/internal/config"
	"github.com/arturkryukov/docstore/archive-engine/internal/queue"
	"github.com/arturkryukov/docstore/archive-engine/internal/repository"
	"github.com/arturkryukov/docstore/archive-engine/internal/server"
	"github.com/arturkryukov/docstore/archive-engine/internal/service"
	"github.com/arturkryukov/docstore/archive-engine/internal/storage/blobstore"
	"github.com/arturkryukov/docstore/archive-engine/internal/storage/workspace"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Archive Engine запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("task_queue", cfg.TaskQueue),
	)

	// Контекст жизни процесса: отменяется по SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Инициализация компонентов ---

	// 1. PostgreSQL: миграции и пул соединений
	if err := repository.Migrate(cfg.DatabaseURL, logger); err != nil {
		logger.Error("Ошибка применения миграций", slog.String("error", err.Error()))
		os.Exit(1)
	}
	pool, err := repository.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()
	store := repository.NewPostgres(pool)

	// 2. Blob-хранилище
	blobs, err := blobstore.NewFS(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации blob-хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Рабочие области заданий
	ws, err := workspace.NewManager(cfg.TempDir)
	if err != nil {
		logger.Error("Ошибка инициализации рабочих областей", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Сервис обработки архивов и фоновая очистка
	svc := service.New(cfg, store, blobs, ws, logger)
	svc.Sweeper().Start(ctx)
	defer svc.Sweeper().Stop()

	// 5. Потребитель очереди заданий
	consumer, err := queue.NewConsumer(cfg, svc, logger)
	if err != nil {
		logger.Error("Ошибка подключения к RabbitMQ", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer consumer.Close()

	consumerErr := make(chan error, 1)
	go func() {
		consumerErr <- consumer.Start(ctx)
	}()

	// 6. Служебный HTTP-сервер (health, metrics, status)
	h := handlers.New(cfg, svc, map[string]handlers.ReadyChecker{
		"database": repository.NewReadinessChecker(pool),
	}, logger)
	srv := server.New(cfg, h, logger)

	// Сервер блокируется до отмены контекста
	if err := srv.Run(ctx); err != nil {
		logger.Error("Сбой HTTP сервера", slog.String("error", err.Error()))
		stop()
	}

	// Дожидаемся завершения потребителя очереди
	if err := <-consumerErr; err != nil {
		logger.Error("Сбой потребителя очереди", slog.String("error", err.Error()))
	}

	logger.Info("Archive Engine остановлен")
}
