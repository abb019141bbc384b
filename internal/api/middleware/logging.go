// logging.go — журнал HTTP-запросов DICOM Viewer через slog.
// Пишет маршрут в нормализованном виде (как в метриках) и пользователя сессии;
// строку запроса не пишет: параметр q содержит имена пациентов.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// responseWriter — перехват статус-кода и размера ответа.
// Используется журналом и метриками.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap позволяет http.ResponseController получить доступ к оригинальному ResponseWriter.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// requestEntry — поля записи журнала, заполняемые внутренними middleware.
// Сессия проверяется глубже по цепочке, её контекст наружу не возвращается.
type requestEntry struct {
	user string
}

const contextKeyLogEntry contextKey = "log_entry"

// setLoggedUser передаёт имя пользователя в запись журнала запроса.
func setLoggedUser(ctx context.Context, user string) {
	if e, ok := ctx.Value(contextKeyLogEntry).(*requestEntry); ok {
		e.user = user
	}
}

// RequestLogger возвращает middleware журнала запросов.
// Уровень: INFO (1xx-3xx), WARN (4xx), ERROR (5xx);
// пробы Kubernetes и /metrics с успешным ответом пишутся на DEBUG.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			entry := &requestEntry{}
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r.WithContext(context.WithValue(r.Context(), contextKeyLogEntry, entry)))

			route := normalizePath(r.URL.Path)
			level := slog.LevelInfo
			switch {
			case wrapped.statusCode >= 500:
				level = slog.LevelError
			case wrapped.statusCode >= 400:
				level = slog.LevelWarn
			case isMonitoringPath(r.URL.Path):
				level = slog.LevelDebug
			}

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("route", route),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
				slog.String("remote_addr", r.RemoteAddr),
			}
			// Исходный путь нужен только там, где маршрут скрыл идентификаторы
			if route != r.URL.Path {
				attrs = append(attrs, slog.String("path", r.URL.Path))
			}
			if entry.user != "" {
				attrs = append(attrs, slog.String("user", entry.user))
			}

			logger.LogAttrs(r.Context(), level, "HTTP запрос", attrs...)
		})
	}
}

func isMonitoringPath(path string) bool {
	return path == "/health/live" || path == "/health/ready" || path == "/metrics"
}
