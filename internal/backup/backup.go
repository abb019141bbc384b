// Пакет backup — резервное копирование локального кэша исследований в S3.
// Все записи выгружаются в JSON Lines со сжатием gzip, архив загружается
// в бакет, после чего старые архивы под тем же префиксом удаляются.
package backup

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/bigkaa/dicomviewer/internal/domain/model"
)

// objectSuffix — расширение объектов резервных копий.
const objectSuffix = ".jsonl.gz"

// keyTimeLayout — формат времени в имени объекта.
const keyTimeLayout = "2006-01-02T15-04-05Z"

// S3API — операции S3, используемые заданием.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// StudySource — потоковое чтение всех исследований кэша.
type StudySource interface {
	All(ctx context.Context, fn func(*model.StudyRecord) error) error
}

// Options — параметры резервного копирования.
type Options struct {
	// Bucket — бакет S3
	Bucket string
	// Prefix — префикс ключей объектов (например, "dicom-viewer/")
	Prefix string
	// Keep — сколько последних копий хранить
	Keep int
	// TempDir — каталог для временного файла (пусто — системный)
	TempDir string
}

// Result — итог резервного копирования.
type Result struct {
	Key     string
	Studies int
	Bytes   int64
	Deleted []string
}

// Exporter — выгрузка кэша исследований в S3.
type Exporter struct {
	studies StudySource
	s3      S3API
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

// NewExporter создаёт задание резервного копирования.
func NewExporter(studies StudySource, client S3API, opts Options, logger *slog.Logger) *Exporter {
	if opts.Keep < 1 {
		opts.Keep = 1
	}
	return &Exporter{
		studies: studies,
		s3:      client,
		opts:    opts,
		logger:  logger.With(slog.String("component", "backup")),
		now:     time.Now,
	}
}

// Run выполняет выгрузку, загрузку и ротацию.
func (e *Exporter) Run(ctx context.Context) (*Result, error) {
	tmp, err := os.CreateTemp(e.opts.TempDir, "studies-*"+objectSuffix)
	if err != nil {
		return nil, fmt.Errorf("создание временного файла: %w", err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	count, err := WriteArchive(ctx, e.studies, tmp)
	if err != nil {
		return nil, err
	}

	size, err := tmp.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("размер архива: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("перемотка архива: %w", err)
	}

	key := ObjectKey(e.opts.Prefix, e.now())
	_, err = e.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(e.opts.Bucket),
		Key:           aws.String(key),
		Body:          tmp,
		ContentLength: aws.Int64(size),
		ContentType:   aws.String("application/gzip"),
	})
	if err != nil {
		return nil, fmt.Errorf("загрузка %s в S3: %w", key, err)
	}

	e.logger.Info("Резервная копия загружена",
		slog.String("bucket", e.opts.Bucket),
		slog.String("key", key),
		slog.Int("studies", count),
		slog.Int64("bytes", size),
	)

	deleted, err := e.Rotate(ctx)
	if err != nil {
		return nil, err
	}

	return &Result{Key: key, Studies: count, Bytes: size, Deleted: deleted}, nil
}

// Rotate удаляет старые копии под префиксом, оставляя Keep последних.
// Ошибка удаления отдельного объекта логируется и не прерывает ротацию.
func (e *Exporter) Rotate(ctx context.Context) ([]string, error) {
	var objects []types.Object

	paginator := s3.NewListObjectsV2Paginator(e.s3, &s3.ListObjectsV2Input{
		Bucket: aws.String(e.opts.Bucket),
		Prefix: aws.String(e.opts.Prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("список объектов S3: %w", err)
		}
		for _, obj := range page.Contents {
			if strings.HasSuffix(aws.ToString(obj.Key), objectSuffix) {
				objects = append(objects, obj)
			}
		}
	}

	if len(objects) <= e.opts.Keep {
		e.logger.Debug("Ротация не требуется",
			slog.Int("objects", len(objects)),
			slog.Int("keep", e.opts.Keep),
		)
		return nil, nil
	}

	// Новые первыми; при равном времени решает ключ (в нём метка времени)
	sort.Slice(objects, func(i, j int) bool {
		ti, tj := aws.ToTime(objects[i].LastModified), aws.ToTime(objects[j].LastModified)
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return aws.ToString(objects[i].Key) > aws.ToString(objects[j].Key)
	})

	var deleted []string
	for _, obj := range objects[e.opts.Keep:] {
		key := aws.ToString(obj.Key)
		_, err := e.s3.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(e.opts.Bucket),
			Key:    obj.Key,
		})
		if err != nil {
			e.logger.Error("Ошибка удаления старой копии",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.logger.Info("Удалена старая копия", slog.String("key", key))
		deleted = append(deleted, key)
	}

	return deleted, nil
}

// WriteArchive записывает все исследования в w как JSON Lines со сжатием gzip.
// Возвращает количество записей.
func WriteArchive(ctx context.Context, src StudySource, w io.Writer) (int, error) {
	gz := gzip.NewWriter(w)
	buf := bufio.NewWriter(gz)
	enc := json.NewEncoder(buf)

	count := 0
	err := src.All(ctx, func(rec *model.StudyRecord) error {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("кодирование исследования %s: %w", rec.ID, err)
		}
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("выгрузка исследований: %w", err)
	}

	if err := buf.Flush(); err != nil {
		return 0, fmt.Errorf("запись архива: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, fmt.Errorf("завершение gzip: %w", err)
	}
	return count, nil
}

// ObjectKey формирует ключ объекта копии: <prefix>studies-<UTC время>.jsonl.gz.
func ObjectKey(prefix string, t time.Time) string {
	return prefix + "studies-" + t.UTC().Format(keyTimeLayout) + objectSuffix
}
