// Пакет config — загрузка и валидация конфигурации Archive Engine
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Archive Engine.
type Config struct {
	// Порт служебного HTTP-сервера (health, metrics, status)
	Port int
	// Путь к корню blob-хранилища
	DataDir string
	// Путь к корню временных рабочих директорий заданий
	TempDir string
	// Максимальный размер входного архива в байтах
	MaxUploadSize int64
	// Срок хранения архивов в корзине до безвозвратного удаления
	TrashRetention time.Duration
	// Интервал запуска фоновой очистки
	SweepInterval time.Duration
	// Возраст, после которого брошенная рабочая директория считается мусором
	StaleWorkspaceAge time.Duration
	// Количество воркеров подбора пароля (0 = GOMAXPROCS)
	CrackWorkers int
	// Потолок размера пространства полного перебора
	CrackMaxSpace int64
	// Алфавит полного перебора по умолчанию
	CrackCharset string
	// Максимальное количество слов словаря
	CrackMaxWordlist int64
	// Строка подключения PostgreSQL (обязательный параметр)
	DatabaseURL string
	// URL подключения RabbitMQ (обязательный параметр)
	AMQPUrl string
	// Имя очереди входящих заданий
	TaskQueue string
	// Имя очереди результатов
	ResultQueue string
	// Предельная длительность обработки одного задания
	JobTimeout time.Duration
	// Количество повторов обращения к blob-хранилищу
	StorageRetries int
	// Базовая задержка между повторами обращения к blob-хранилищу
	StorageRetryBackoff time.Duration
	// Размер кэша снимков метаданных архивов
	CacheSize int
	// Время жизни записи кэша снимков
	CacheTTL time.Duration
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown служебного HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// AE_PORT — порт служебного HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("AE_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("AE_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("AE_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// AE_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("AE_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// AE_TEMP_DIR — корень рабочих директорий (по умолчанию системный temp)
	cfg.TempDir = getEnvDefault("AE_TEMP_DIR", os.TempDir())

	// AE_MAX_UPLOAD_SIZE — максимальный размер архива (по умолчанию 100 MB)
	cfg.MaxUploadSize, err = getEnvInt64("AE_MAX_UPLOAD_SIZE", 104857600)
	if err != nil {
		return nil, fmt.Errorf("AE_MAX_UPLOAD_SIZE: %w", err)
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("AE_MAX_UPLOAD_SIZE: значение должно быть положительным")
	}

	// AE_TRASH_RETENTION — срок хранения в корзине (по умолчанию 7 суток)
	cfg.TrashRetention, err = getEnvDuration("AE_TRASH_RETENTION", 168*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("AE_TRASH_RETENTION: %w", err)
	}
	if cfg.TrashRetention <= 0 {
		return nil, fmt.Errorf("AE_TRASH_RETENTION: значение должно быть положительным")
	}

	// AE_SWEEP_INTERVAL — интервал фоновой очистки (по умолчанию 1h)
	cfg.SweepInterval, err = getEnvDuration("AE_SWEEP_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("AE_SWEEP_INTERVAL: %w", err)
	}

	// AE_STALE_WORKSPACE_AGE — возраст брошенной рабочей директории (по умолчанию 24h)
	cfg.StaleWorkspaceAge, err = getEnvDuration("AE_STALE_WORKSPACE_AGE", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("AE_STALE_WORKSPACE_AGE: %w", err)
	}

	// AE_CRACK_WORKERS — воркеры подбора пароля (по умолчанию GOMAXPROCS)
	cfg.CrackWorkers, err = getEnvInt("AE_CRACK_WORKERS", 0)
	if err != nil {
		return nil, fmt.Errorf("AE_CRACK_WORKERS: %w", err)
	}
	if cfg.CrackWorkers < 0 {
		return nil, fmt.Errorf("AE_CRACK_WORKERS: значение должно быть неотрицательным")
	}
	if cfg.CrackWorkers == 0 {
		cfg.CrackWorkers = runtime.GOMAXPROCS(0)
	}

	// AE_CRACK_MAX_SPACE — потолок пространства перебора (по умолчанию 10M кандидатов)
	cfg.CrackMaxSpace, err = getEnvInt64("AE_CRACK_MAX_SPACE", 10000000)
	if err != nil {
		return nil, fmt.Errorf("AE_CRACK_MAX_SPACE: %w", err)
	}
	if cfg.CrackMaxSpace <= 0 {
		return nil, fmt.Errorf("AE_CRACK_MAX_SPACE: значение должно быть положительным")
	}

	// AE_CRACK_CHARSET — алфавит перебора по умолчанию
	cfg.CrackCharset = getEnvDefault("AE_CRACK_CHARSET", "abcdefghijklmnopqrstuvwxyz0123456789")

	// AE_CRACK_MAX_WORDLIST — предел словаря (по умолчанию 1M слов)
	cfg.CrackMaxWordlist, err = getEnvInt64("AE_CRACK_MAX_WORDLIST", 1000000)
	if err != nil {
		return nil, fmt.Errorf("AE_CRACK_MAX_WORDLIST: %w", err)
	}

	// AE_DATABASE_URL — обязательный
	cfg.DatabaseURL, err = getEnvRequired("AE_DATABASE_URL")
	if err != nil {
		return nil, err
	}

	// AE_AMQP_URL — обязательный
	cfg.AMQPUrl, err = getEnvRequired("AE_AMQP_URL")
	if err != nil {
		return nil, err
	}

	// AE_TASK_QUEUE — очередь входящих заданий (по умолчанию archive.tasks)
	cfg.TaskQueue = getEnvDefault("AE_TASK_QUEUE", "archive.tasks")

	// AE_RESULT_QUEUE — очередь результатов (по умолчанию archive.results)
	cfg.ResultQueue = getEnvDefault("AE_RESULT_QUEUE", "archive.results")

	// AE_JOB_TIMEOUT — предельная длительность задания (по умолчанию 10m)
	cfg.JobTimeout, err = getEnvDuration("AE_JOB_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("AE_JOB_TIMEOUT: %w", err)
	}

	// AE_STORAGE_RETRIES — повторы обращения к хранилищу (по умолчанию 3)
	cfg.StorageRetries, err = getEnvInt("AE_STORAGE_RETRIES", 3)
	if err != nil {
		return nil, fmt.Errorf("AE_STORAGE_RETRIES: %w", err)
	}
	if cfg.StorageRetries < 1 {
		return nil, fmt.Errorf("AE_STORAGE_RETRIES: значение должно быть >= 1")
	}

	// AE_STORAGE_RETRY_BACKOFF — базовая задержка повтора (по умолчанию 200ms)
	cfg.StorageRetryBackoff, err = getEnvDuration("AE_STORAGE_RETRY_BACKOFF", 200*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("AE_STORAGE_RETRY_BACKOFF: %w", err)
	}

	// AE_CACHE_SIZE — размер кэша снимков (по умолчанию 1024)
	cfg.CacheSize, err = getEnvInt("AE_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("AE_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize < 1 {
		return nil, fmt.Errorf("AE_CACHE_SIZE: значение должно быть >= 1")
	}

	// AE_CACHE_TTL — время жизни записи кэша (по умолчанию 30s)
	cfg.CacheTTL, err = getEnvDuration("AE_CACHE_TTL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AE_CACHE_TTL: %w", err)
	}

	// AE_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("AE_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("AE_LOG_LEVEL: %w", err)
	}

	// AE_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("AE_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("AE_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// AE_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("AE_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("AE_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
