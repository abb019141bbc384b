// handler.go — основной обработчик API DICOM Viewer.
// Объединяет health, поиск, синхронизацию, вход и шлюз к архиву.
// Маршруты регистрируются на chi.Router через RegisterRoutes.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/dicomviewer/internal/api/openapi"
	"github.com/bigkaa/dicomviewer/internal/auth"
	"github.com/bigkaa/dicomviewer/internal/domain/model"
	"github.com/bigkaa/dicomviewer/internal/orthanc"
	"github.com/bigkaa/dicomviewer/internal/service"
)

// StudySearcher — поиск по локальному кэшу исследований.
type StudySearcher interface {
	Search(ctx context.Context, query string, page int) (*service.SearchResult, error)
	GetStudy(ctx context.Context, id string) (*model.StudyRecord, error)
	CountAll(ctx context.Context) (int, error)
}

// SyncRunner — синхронизация кэша с архивом.
type SyncRunner interface {
	Sync(ctx context.Context) (*model.SyncResult, error)
	IsRunning() bool
	LastRun(ctx context.Context) (*model.SyncRun, error)
}

// ArchiveGateway — доступ к архиву Orthanc.
type ArchiveGateway interface {
	Study(ctx context.Context, id string) (json.RawMessage, error)
	Series(ctx context.Context, id string) (json.RawMessage, error)
	Instance(ctx context.Context, id string) (json.RawMessage, error)
	Statistics(ctx context.Context) (*orthanc.Statistics, error)
	Stream(ctx context.Context, endpoint, path string, query url.Values) (*http.Response, error)
}

// TokenIssuer — выпуск сессионных токенов.
type TokenIssuer interface {
	Issue(username string) (string, time.Time, error)
	TTL() time.Duration
}

// APIHandler — основной обработчик API DICOM Viewer.
type APIHandler struct {
	health       *HealthHandler
	search       StudySearcher
	sync         SyncRunner
	archive      ArchiveGateway
	tokens       TokenIssuer
	credentials  auth.Credentials
	cookieSecure bool
	logger       *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	search StudySearcher,
	sync SyncRunner,
	archive ArchiveGateway,
	tokens TokenIssuer,
	credentials auth.Credentials,
	cookieSecure bool,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:       health,
		search:       search,
		sync:         sync,
		archive:      archive,
		tokens:       tokens,
		credentials:  credentials,
		cookieSecure: cookieSecure,
		logger:       logger.With(slog.String("component", "api_handler")),
	}
}

// RegisterRoutes регистрирует все маршруты API.
func (h *APIHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)
	r.Get("/metrics", h.health.GetMetrics)

	r.Get("/api/openapi.yaml", h.GetOpenAPISpec)

	r.Post("/api/auth/login", h.Login)
	r.Post("/api/auth/logout", h.Logout)
	r.Get("/logout", h.LogoutPage)

	r.Get("/api/search/studies", h.SearchStudies)
	r.Get("/api/studies/{studyId}", h.GetStudy)

	r.Post("/api/sync", h.TriggerSync)
	r.Get("/api/sync/status", h.SyncStatus)

	r.Get("/api/statistics", h.GetStatistics)

	r.Get("/api/orthanc/studies/{studyId}", h.OrthancStudy)
	r.Get("/api/orthanc/series/{seriesId}", h.OrthancSeries)
	r.Get("/api/orthanc/instances/{instanceId}", h.OrthancInstance)
	r.Get("/api/orthanc/instances/{instanceId}/file", h.OrthancInstanceFile)
	r.Get("/api/orthanc/instances/{instanceId}/preview", h.OrthancInstancePreview)
	r.Get("/api/orthanc/*", h.OrthancProxy)
}

// GetOpenAPISpec — GET /api/openapi.yaml.
func (h *APIHandler) GetOpenAPISpec(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(openapi.Spec())
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
