// metrics.go — Prometheus HTTP метрики DICOM Viewer.
// Регистрирует метрики: dv_http_requests_total, dv_http_request_duration_seconds.
// Нормализация путей предотвращает взрывной рост кардинальности.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики DICOM Viewer
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dv_http_requests_total",
			Help: "Общее количество HTTP-запросов к DICOM Viewer",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dv_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к DICOM Viewer в секундах",
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

			normalizedPath := normalizePath(r.URL.Path)

			wrapped := newResponseWriter(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.statusCode)

			httpRequestsTotal.WithLabelValues(r.Method, normalizedPath, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, normalizedPath).Observe(duration)
		})
	}
}

// normalizePath заменяет идентификаторы Orthanc и исследований на {id}.
// /api/orthanc/instances/0a1b.../preview → /api/orthanc/instances/{id}/preview
// /api/studies/0a1b... → /api/studies/{id}
// Прочие пути под /api/orthanc/ сводятся к /api/orthanc/*.
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/api/search/studies", "/api/sync", "/api/sync/status",
		"/api/statistics", "/api/auth/login", "/api/auth/logout",
		"/api/openapi.yaml":
		return path
	}

	if id, ok := strings.CutPrefix(path, "/api/studies/"); ok && id != "" && !strings.Contains(id, "/") {
		return "/api/studies/{id}"
	}

	rest, ok := strings.CutPrefix(path, "/api/orthanc/")
	if !ok {
		return "other"
	}

	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 2 && (parts[0] == "studies" || parts[0] == "series" || parts[0] == "instances"):
		return "/api/orthanc/" + parts[0] + "/{id}"
	case len(parts) == 3 && parts[0] == "instances" && (parts[2] == "file" || parts[2] == "preview"):
		return "/api/orthanc/instances/{id}/" + parts[2]
	default:
		return "/api/orthanc/*"
	}
}
