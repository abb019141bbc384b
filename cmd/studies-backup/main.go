// Точка входа задания резервного копирования кэша исследований.
// Выгружает все записи локального хранилища в S3 (JSON Lines + gzip)
// и удаляет устаревшие копии. Запускается как CronJob.
package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/bigkaa/dicomviewer/internal/backup"
	"github.com/bigkaa/dicomviewer/internal/config"
	"github.com/bigkaa/dicomviewer/internal/database"
	"github.com/bigkaa/dicomviewer/internal/repository"
)

// backupConfig — параметры S3 (переменные с префиксом BACKUP_).
type backupConfig struct {
	Bucket    string        `envconfig:"S3_BUCKET" required:"true"`
	Endpoint  string        `envconfig:"S3_ENDPOINT"`
	Region    string        `envconfig:"S3_REGION" default:"us-east-1"`
	AccessKey string        `envconfig:"S3_ACCESS_KEY" required:"true"`
	SecretKey string        `envconfig:"S3_SECRET_KEY" required:"true"`
	PathStyle bool          `envconfig:"S3_PATH_STYLE" default:"true"`
	Prefix    string        `envconfig:"PREFIX" default:"dicom-viewer/"`
	Keep      int           `envconfig:"KEEP" default:"7"`
	Timeout   time.Duration `envconfig:"TIMEOUT" default:"30m"`
}

func main() {
	// 1. Конфигурация хранилища (DV_*) и S3 (BACKUP_*)
	if _, err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("Ошибка чтения .env", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cfg, err := config.LoadStorage()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var bcfg backupConfig
	if err := envconfig.Process("BACKUP", &bcfg); err != nil {
		slog.Error("Ошибка загрузки конфигурации BACKUP_*", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("Резервное копирование запускается",
		slog.String("version", config.Version),
		slog.String("db_driver", cfg.DBDriver),
		slog.String("bucket", bcfg.Bucket),
		slog.String("prefix", bcfg.Prefix),
		slog.Int("keep", bcfg.Keep),
	)

	if err := run(cfg, &bcfg, logger); err != nil {
		logger.Error("Резервное копирование завершилось с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(cfg *config.Config, bcfg *backupConfig, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), bcfg.Timeout)
	defer cancel()

	// 2. Локальное хранилище
	db, err := database.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	repos, err := repository.New(db)
	if err != nil {
		return err
	}

	// 3. S3-клиент
	client, err := backup.NewS3Client(ctx, backup.S3Config{
		Endpoint:  bcfg.Endpoint,
		Region:    bcfg.Region,
		AccessKey: bcfg.AccessKey,
		SecretKey: bcfg.SecretKey,
		PathStyle: bcfg.PathStyle,
	})
	if err != nil {
		return err
	}

	// 4. Выгрузка, загрузка и ротация
	exporter := backup.NewExporter(repos.Studies, client, backup.Options{
		Bucket: bcfg.Bucket,
		Prefix: bcfg.Prefix,
		Keep:   bcfg.Keep,
	}, logger)

	result, err := exporter.Run(ctx)
	if err != nil {
		return err
	}

	logger.Info("Резервное копирование завершено",
		slog.String("key", result.Key),
		slog.Int("studies", result.Studies),
		slog.Int64("bytes", result.Bytes),
		slog.Int("deleted", len(result.Deleted)),
	)
	return nil
}
