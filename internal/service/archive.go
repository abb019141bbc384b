// archive.go — шлюз к архиву Orthanc: кэшируемые JSON-метаданные
// и потоковая выдача бинарных ресурсов (DICOM-файлы, превью).
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/dicomviewer/internal/orthanc"
)

// archiveRequestsTotal — обращения к архиву по endpoint и результату.
var archiveRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dv_archive_requests_total",
	Help: "Количество запросов к архиву Orthanc.",
}, []string{"endpoint", "status"})

// archivePingTimeout — таймаут проверки готовности архива.
const archivePingTimeout = 3 * time.Second

// ArchiveClient — операции клиента Orthanc, используемые шлюзом.
type ArchiveClient interface {
	GetStudy(ctx context.Context, id string) (json.RawMessage, error)
	GetSeries(ctx context.Context, id string) (json.RawMessage, error)
	GetInstance(ctx context.Context, id string) (json.RawMessage, error)
	Statistics(ctx context.Context) (*orthanc.Statistics, error)
	Open(ctx context.Context, path string, query url.Values) (*http.Response, error)
	Ping(ctx context.Context) error
}

// ArchiveService — доступ к архиву с LRU-кэшем JSON-метаданных.
type ArchiveService struct {
	client ArchiveClient
	cache  *CacheService
	logger *slog.Logger
}

// NewArchiveService создаёт шлюз к архиву.
func NewArchiveService(client ArchiveClient, cache *CacheService, logger *slog.Logger) *ArchiveService {
	return &ArchiveService{
		client: client,
		cache:  cache,
		logger: logger.With(slog.String("component", "archive_service")),
	}
}

// Study возвращает метаданные исследования (кэшируются).
func (s *ArchiveService) Study(ctx context.Context, id string) (json.RawMessage, error) {
	return s.cached(ctx, "studies", "/studies/"+id, func(ctx context.Context) (json.RawMessage, error) {
		return s.client.GetStudy(ctx, id)
	})
}

// Series возвращает метаданные серии (кэшируются).
func (s *ArchiveService) Series(ctx context.Context, id string) (json.RawMessage, error) {
	return s.cached(ctx, "series", "/series/"+id, func(ctx context.Context) (json.RawMessage, error) {
		return s.client.GetSeries(ctx, id)
	})
}

// Instance возвращает метаданные экземпляра (кэшируются).
func (s *ArchiveService) Instance(ctx context.Context, id string) (json.RawMessage, error) {
	return s.cached(ctx, "instances", "/instances/"+id, func(ctx context.Context) (json.RawMessage, error) {
		return s.client.GetInstance(ctx, id)
	})
}

// cached возвращает ответ из кэша или запрашивает архив и кэширует успешный ответ.
func (s *ArchiveService) cached(
	ctx context.Context,
	endpoint, key string,
	fetch func(context.Context) (json.RawMessage, error),
) (json.RawMessage, error) {
	if raw, ok := s.cache.Get(key); ok {
		s.logger.Debug("Кэш hit", slog.String("key", key))
		return raw, nil
	}

	raw, err := fetch(ctx)
	archiveRequestsTotal.WithLabelValues(endpoint, statusLabel(err)).Inc()
	if err != nil {
		return nil, err
	}

	s.cache.Set(key, raw)
	return raw, nil
}

// Statistics возвращает счётчики архива (без кэша).
func (s *ArchiveService) Statistics(ctx context.Context) (*orthanc.Statistics, error) {
	stats, err := s.client.Statistics(ctx)
	archiveRequestsTotal.WithLabelValues("statistics", statusLabel(err)).Inc()
	return stats, err
}

// Stream открывает ресурс архива для потоковой передачи клиенту.
// Вызывающий обязан закрыть resp.Body.
func (s *ArchiveService) Stream(ctx context.Context, endpoint, path string, query url.Values) (*http.Response, error) {
	resp, err := s.client.Open(ctx, path, query)
	archiveRequestsTotal.WithLabelValues(endpoint, statusLabel(err)).Inc()
	if err != nil {
		s.logger.Debug("Ошибка запроса к архиву",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	return resp, nil
}

// CheckReady проверяет доступность архива для /health/ready.
func (s *ArchiveService) CheckReady() (status string, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), archivePingTimeout)
	defer cancel()

	if err := s.client.Ping(ctx); err != nil {
		return "fail", "orthanc недоступен: " + err.Error()
	}
	return "ok", "orthanc доступен"
}

// statusLabel — значение метки status для метрики запросов к архиву.
func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var statusErr *orthanc.StatusError
	if errors.As(err, &statusErr) {
		return strconv.Itoa(statusErr.StatusCode)
	}
	return "error"
}
