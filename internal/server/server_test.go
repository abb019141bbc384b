package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/dicomviewer/internal/config"
)

// pingRegistrar регистрирует единственный маршрут /ping.
type pingRegistrar struct{}

func (pingRegistrar) RegisterRoutes(r chi.Router) {
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})
}

// tagMiddleware дописывает тег в заголовок X-Order.
func tagMiddleware(tag string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Add("X-Order", tag)
			next.ServeHTTP(w, r)
		})
	}
}

func testConfig() *config.Config {
	return &config.Config{
		Port:             0,
		HTTPReadTimeout:  time.Second,
		HTTPWriteTimeout: time.Second,
		HTTPIdleTimeout:  time.Second,
		ShutdownTimeout:  time.Second,
	}
}

func TestNew_RoutesAndMiddlewareOrder(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := New(testConfig(), logger, pingRegistrar{}, tagMiddleware("a"), tagMiddleware("b"))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	if rec.Code != http.StatusOK || rec.Body.String() != "pong" {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
	if got := strings.Join(rec.Header().Values("X-Order"), ","); got != "a,b" {
		t.Errorf("порядок middleware = %q, ожидался a,b", got)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, ожидался 404", rec.Code)
	}
}

func TestShutdown_NotStarted(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	srv := New(testConfig(), logger, pingRegistrar{})
	if err := srv.Shutdown(); err != nil {
		t.Errorf("Shutdown() ошибка: %v", err)
	}
}
