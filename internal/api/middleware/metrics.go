// metrics.go — Prometheus HTTP метрики служебного API Archive Engine.
// Регистрирует метрики: ae_http_requests_total,
// ae_http_request_duration_seconds. Бизнес-метрики операций
// регистрируются в сервисном слое.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ae_http_requests_total",
			Help: "Общее количество HTTP-запросов к Archive Engine",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ae_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Archive Engine в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Нормализуем путь для лейблов метрик
			// (заменяем идентификаторы на {id} для предотвращения кардинальности)
			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newMetricsResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// metricsResponseWriter — обёртка для перехвата статус-кода.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// normalizePath заменяет идентификаторы архивов на {id} для
// предотвращения взрывного роста кардинальности метрик.
// /api/v1/archives/a1b2... → /api/v1/archives/{id}
func normalizePath(path string) string {
	const archivesPrefix = "/api/v1/archives/"
	switch {
	case path == "/health/live", path == "/health/ready", path == "/metrics",
		path == "/api/v1/status", path == "/api/v1/archives":
		return path
	case strings.HasPrefix(path, archivesPrefix):
		rest := path[len(archivesPrefix):]
		if idx := strings.IndexByte(rest, '/'); idx >= 0 {
			return archivesPrefix + "{id}" + rest[idx:]
		}
		return archivesPrefix + "{id}"
	}
	return path
}
