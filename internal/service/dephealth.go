// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// DICOM Viewer мониторит:
//   - Orthanc — HTTP checker к DV_DEPHEALTH_ORTHANC_PATH (critical)
//   - PostgreSQL — SQL checker через существующий pgxpool (только при DV_DB_DRIVER=postgres)
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
	"github.com/prometheus/client_golang/prometheus"
)

// DephealthParams — параметры мониторинга зависимостей.
type DephealthParams struct {
	// ServiceID — имя вершины графа текущего приложения
	ServiceID string
	// Group — имя группы в метриках (DV_DEPHEALTH_GROUP)
	Group string
	// OrthancURL — базовый URL архива
	OrthancURL string
	// OrthancHealthPath — путь health check архива
	OrthancHealthPath string
	// PostgresDB — *sql.DB из pgxpool через stdlib.OpenDBFromPool (nil для SQLite)
	PostgresDB *sql.DB
	// PostgresURL — URL PostgreSQL для меток (без пароля)
	PostgresURL string
	// CheckInterval — интервал проверки (DV_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
}

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга зависимостей.
// Метрики регистрируются в глобальном Prometheus registry.
func NewDephealthService(params DephealthParams, logger *slog.Logger) (*DephealthService, error) {
	return newDephealthService(params, logger)
}

// NewDephealthServiceWithRegisterer создаёт сервис с указанным Prometheus registerer.
// Используется в тестах для изоляции метрик.
func NewDephealthServiceWithRegisterer(
	params DephealthParams,
	logger *slog.Logger,
	registerer prometheus.Registerer,
) (*DephealthService, error) {
	return newDephealthService(params, logger, dephealth.WithRegisterer(registerer))
}

// newDephealthService — внутренний конструктор.
func newDephealthService(
	params DephealthParams,
	logger *slog.Logger,
	extraOpts ...dephealth.Option,
) (*DephealthService, error) {
	healthPath := params.OrthancHealthPath
	if healthPath == "" {
		healthPath = "/system"
	}

	orthancOpts := []dephealth.DependencyOption{
		dephealth.FromURL(params.OrthancURL),
		dephealth.WithHTTPHealthPath(healthPath),
		dephealth.CheckInterval(params.CheckInterval),
		dephealth.Critical(true),
	}
	if parsed, err := url.Parse(params.OrthancURL); err == nil && parsed.Scheme == "https" {
		orthancOpts = append(orthancOpts, dephealth.WithHTTPTLSSkipVerify(false))
	}

	opts := make([]dephealth.Option, 0, 3+len(extraOpts))
	opts = append(opts,
		dephealth.WithLogger(logger),
		dephealth.HTTP("orthanc", orthancOpts...),
	)
	if params.PostgresDB != nil {
		// PostgreSQL — connection pool mode через существующий pgxpool
		opts = append(opts, dephealth.AddDependency("postgresql", dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(params.PostgresDB)),
			dephealth.FromURL(params.PostgresURL),
			dephealth.CheckInterval(params.CheckInterval),
			dephealth.Critical(true),
		))
	}
	opts = append(opts, extraOpts...)

	dh, err := dephealth.New(params.ServiceID, params.Group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
