// Точка входа DICOM Viewer — backend просмотрщика исследований Orthanc.
// Загружает конфигурацию, открывает локальное хранилище метаданных,
// создаёт клиент архива, сервисный слой и API handlers,
// запускает синхронизацию по расписанию, topologymetrics
// и HTTP-сервер с сессионной аутентификацией и graceful shutdown.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/dicomviewer/internal/api/handlers"
	"github.com/bigkaa/dicomviewer/internal/api/middleware"
	"github.com/bigkaa/dicomviewer/internal/api/openapi"
	"github.com/bigkaa/dicomviewer/internal/auth"
	"github.com/bigkaa/dicomviewer/internal/config"
	"github.com/bigkaa/dicomviewer/internal/database"
	"github.com/bigkaa/dicomviewer/internal/orthanc"
	"github.com/bigkaa/dicomviewer/internal/repository"
	"github.com/bigkaa/dicomviewer/internal/server"
	"github.com/bigkaa/dicomviewer/internal/service"
)

func main() {
	// 1. Загрузка конфигурации (.env опционален, окружение имеет приоритет)
	loaded, err := config.LoadDotEnv(".env")
	if err != nil {
		slog.Error("Ошибка чтения .env", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("DICOM Viewer запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("db_driver", cfg.DBDriver),
		slog.Bool("dotenv", loaded),
	)

	if cfg.UsesDefaultAdminCredentials() {
		logger.Warn("Используются учётные данные администратора по умолчанию, задайте DV_ADMIN_USERNAME и DV_ADMIN_PASSWORD")
	}

	// 3. Локальное хранилище: миграции и подключение
	ctx := context.Background()
	db, err := database.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка открытия хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	repos, err := repository.New(db)
	if err != nil {
		logger.Error("Ошибка создания репозиториев", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Клиент архива Orthanc
	var clientOpts []orthanc.Option
	if cfg.OrthancAuthHeader != "" {
		clientOpts = append(clientOpts, orthanc.WithAuthHeader(cfg.OrthancAuthHeader))
	}
	if cfg.OrthancCACert != "" {
		clientOpts = append(clientOpts, orthanc.WithCACert(cfg.OrthancCACert))
	}
	archiveClient, err := orthanc.New(
		cfg.OrthancURL,
		cfg.OrthancUsername,
		cfg.OrthancPassword,
		cfg.OrthancTimeout,
		logger,
		clientOpts...,
	)
	if err != nil {
		logger.Error("Ошибка создания клиента Orthanc", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Клиент Orthanc создан", slog.String("url", archiveClient.BaseURL()))

	// 5. Services
	cacheSvc := service.NewCacheService(cfg.CacheMaxSize, cfg.CacheTTL)
	archiveSvc := service.NewArchiveService(archiveClient, cacheSvc, logger)
	searchSvc := service.NewStudySearchService(repos.Studies, cfg.SearchPageSize, logger)
	syncSvc := service.NewStudySyncService(
		archiveClient, repos.Studies, repos.SyncRuns,
		service.SyncOptions{
			Schedule:     cfg.SyncSchedule,
			RunOnStart:   cfg.SyncOnStart,
			FetchTimeout: cfg.SyncFetchTimeout,
			PruneMissing: cfg.SyncPruneMissing,
		},
		logger,
	).WithMetadataCache(cacheSvc)

	// 6. Сессионные токены (HS256) и, опционально, JWKS внешнего IdP
	tokenMgr := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL, cfg.JWTIssuer)
	if cfg.JWTJWKSURL != "" {
		jwks, jwksErr := auth.NewJWKS(cfg.JWTJWKSURL, cfg.JWTJWKSRefreshInterval, logger)
		if jwksErr != nil {
			logger.Error("Ошибка инициализации JWKS", slog.String("error", jwksErr.Error()))
			os.Exit(1)
		}
		tokenMgr = tokenMgr.WithJWKS(jwks)
		logger.Info("JWKS подключён", slog.String("jwks_url", cfg.JWTJWKSURL))
	}

	// 7. topologymetrics — мониторинг зависимостей (Orthanc + PostgreSQL)
	var pgDB *sql.DB
	if db.Pool != nil {
		// Проверка PostgreSQL через существующий пул соединений
		pgDB = stdlib.OpenDBFromPool(db.Pool)
		defer pgDB.Close()
	}

	var dephealthSvc *service.DephealthService
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthParams{
		ServiceID:         "dicom-viewer",
		Group:             cfg.DephealthGroup,
		OrthancURL:        archiveClient.BaseURL(),
		OrthancHealthPath: cfg.DephealthOrthancPath,
		PostgresDB:        pgDB,
		PostgresURL:       cfg.DatabaseURL(),
		CheckInterval:     cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", startErr.Error()),
		)
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 8. Синхронизация по расписанию
	if cfg.SyncEnabled {
		if err := syncSvc.Start(ctx); err != nil {
			logger.Error("Ошибка запуска синхронизации", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		logger.Info("Синхронизация по расписанию отключена (DV_SYNC_ENABLED=false)")
	}

	// 9. Handlers
	healthHandler := handlers.NewHealthHandler(
		database.NewReadinessChecker(db),
		archiveSvc,
	)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		searchSvc,
		syncSvc,
		archiveSvc,
		tokenMgr,
		auth.Credentials{Username: cfg.AdminUsername, Password: cfg.AdminPassword},
		cfg.CookieSecure,
		logger,
	)

	// 10. Middleware в порядке применения
	doc, err := openapi.Load()
	if err != nil {
		logger.Error("Ошибка загрузки OpenAPI-спецификации", slog.String("error", err.Error()))
		os.Exit(1)
	}
	validator, err := middleware.NewRequestValidator(doc, logger)
	if err != nil {
		logger.Error("Ошибка создания валидатора запросов", slog.String("error", err.Error()))
		os.Exit(1)
	}
	sessionAuth := middleware.NewSessionAuth(tokenMgr, cfg.CookieSecure, logger)

	// 11. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler,
		middleware.RequestLogger(logger),
		middleware.MetricsMiddleware(),
		sessionAuth.Middleware(),
		validator.Middleware(),
	)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 12. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	syncSvc.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("DICOM Viewer остановлен")
}
