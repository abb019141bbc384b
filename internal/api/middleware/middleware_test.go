package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/dicomviewer/internal/api/openapi"
	"github.com/bigkaa/dicomviewer/internal/auth"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health/live", "/health/live"},
		{"/api/search/studies", "/api/search/studies"},
		{"/api/studies/6e2c0ec2-5d99c8ca", "/api/studies/{id}"},
		{"/api/orthanc/studies/6e2c0ec2", "/api/orthanc/studies/{id}"},
		{"/api/orthanc/series/abc", "/api/orthanc/series/{id}"},
		{"/api/orthanc/instances/abc", "/api/orthanc/instances/{id}"},
		{"/api/orthanc/instances/abc/file", "/api/orthanc/instances/{id}/file"},
		{"/api/orthanc/instances/abc/preview", "/api/orthanc/instances/{id}/preview"},
		{"/api/orthanc/patients/p1/studies", "/api/orthanc/*"},
		{"/assets/app.js", "other"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, ожидалось %q", tt.path, got, tt.want)
		}
	}
}

func TestMetricsMiddleware_PassesStatus(t *testing.T) {
	handler := MetricsMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sync/status", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, ожидался 418", rec.Code)
	}
}

func TestRequestLogger_Levels(t *testing.T) {
	tests := []struct {
		status int
		path   string
		want   string
	}{
		{http.StatusOK, "/api/search/studies", "level=INFO"},
		{http.StatusNotFound, "/api/studies/x", "level=WARN"},
		{http.StatusBadGateway, "/api/orthanc/studies/x", "level=ERROR"},
		{http.StatusOK, "/health/live", "level=DEBUG"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

			handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("body"))
			}))
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			out := buf.String()
			if !strings.Contains(out, tt.want) {
				t.Errorf("лог %q не содержит %q", out, tt.want)
			}
			if !strings.Contains(out, "bytes=4") {
				t.Errorf("лог %q не содержит размер ответа", out)
			}
		})
	}
}

// TestRequestLogger_RouteAndUser: маршрут пишется нормализованным, строка
// запроса (имена пациентов) в журнал не попадает, пользователь берётся из сессии.
func TestRequestLogger_RouteAndUser(t *testing.T) {
	tm := auth.NewTokenManager(strings.Repeat("k", 32), time.Hour, "dicom-viewer")
	token, _, err := tm.Issue("radiologo")
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handler := RequestLogger(logger)(
		NewSessionAuth(tm, false, testLogger()).Middleware()(
			http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}),
		),
	)

	req := httptest.NewRequest(http.MethodGet, "/api/orthanc/instances/1.2.840.10008/preview?q=Doe", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	handler.ServeHTTP(httptest.NewRecorder(), req)

	out := buf.String()
	for _, want := range []string{
		"route=/api/orthanc/instances/{id}/preview",
		"path=/api/orthanc/instances/1.2.840.10008/preview",
		"user=radiologo",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("лог %q не содержит %q", out, want)
		}
	}
	if strings.Contains(out, "Doe") {
		t.Errorf("строка запроса попала в лог: %q", out)
	}
}

func TestRequestLogger_AnonymousFixedRoute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil))

	out := buf.String()
	if !strings.Contains(out, "route=/api/auth/logout") {
		t.Errorf("лог %q не содержит маршрут", out)
	}
	if strings.Contains(out, "path=") || strings.Contains(out, "user=") {
		t.Errorf("лишние поля в логе: %q", out)
	}
}

func newTestValidator(t *testing.T) func(http.Handler) http.Handler {
	t.Helper()
	doc, err := openapi.Load()
	if err != nil {
		t.Fatalf("openapi.Load() ошибка: %v", err)
	}
	v, err := NewRequestValidator(doc, testLogger())
	if err != nil {
		t.Fatalf("NewRequestValidator ошибка: %v", err)
	}
	return v.Middleware()
}

// TestRequestValidator_ErrorBody: клиент получает короткое сообщение,
// детали схемы остаются в журнале.
func TestRequestValidator_ErrorBody(t *testing.T) {
	handler := newTestValidator(t)(okHandler(nil))

	tests := []struct {
		name        string
		target      string
		contentType string
		body        string
		want        string
	}{
		{"параметр", "/api/orthanc/instances/i1/preview?viewport=5000", "", "", "Parámetro inválido: viewport"},
		{"тело", "/api/auth/login", "application/json", `{"username":"a"}`, MsgInvalidBody},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method := http.MethodGet
			if tt.body != "" {
				method = http.MethodPost
			}
			req := httptest.NewRequest(method, tt.target, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, ожидался 400", rec.Code)
			}
			var body struct {
				Error string `json:"error"`
				Code  string `json:"code"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("тело ответа не JSON: %v", err)
			}
			if body.Code != "VALIDATION_ERROR" {
				t.Errorf("code = %q", body.Code)
			}
			if body.Error != tt.want {
				t.Errorf("error = %q, ожидалось %q", body.Error, tt.want)
			}
			for _, leak := range []string{"schema", "maximum", "property", "Error at"} {
				if strings.Contains(body.Error, leak) {
					t.Errorf("сообщение раскрывает детали валидации: %q", body.Error)
				}
			}
		})
	}
}

func TestRequestValidator(t *testing.T) {
	handler := newTestValidator(t)(okHandler(nil))

	tests := []struct {
		name        string
		method      string
		target      string
		contentType string
		body        string
		want        int
	}{
		{"поиск без параметров", http.MethodGet, "/api/search/studies", "", "", http.StatusOK},
		{"нечисловая страница", http.MethodGet, "/api/search/studies?q=John&page=abc", "", "", http.StatusOK},
		{"превью по умолчанию", http.MethodGet, "/api/orthanc/instances/i1/preview", "", "", http.StatusOK},
		{"превью 512", http.MethodGet, "/api/orthanc/instances/i1/preview?viewport=512", "", "", http.StatusOK},
		{"превью 0", http.MethodGet, "/api/orthanc/instances/i1/preview?viewport=0", "", "", http.StatusBadRequest},
		{"превью текст", http.MethodGet, "/api/orthanc/instances/i1/preview?viewport=big", "", "", http.StatusBadRequest},
		{"превью 5000", http.MethodGet, "/api/orthanc/instances/i1/preview?viewport=5000", "", "", http.StatusBadRequest},
		{"недокументированный маршрут", http.MethodGet, "/api/orthanc/patients/p1", "", "", http.StatusOK},
		{"страница UI", http.MethodGet, "/viewer", "", "", http.StatusOK},
		{"login JSON", http.MethodPost, "/api/auth/login", "application/json", `{"username":"a","password":"b"}`, http.StatusOK},
		{"login без пароля", http.MethodPost, "/api/auth/login", "application/json", `{"username":"a"}`, http.StatusBadRequest},
		{"login форма", http.MethodPost, "/api/auth/login", "application/x-www-form-urlencoded", "username=a&password=b", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, ожидался %d (тело: %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}
