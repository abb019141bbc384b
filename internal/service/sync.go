// sync.go — сервис синхронизации локального кэша исследований с архивом Orthanc.
//
// StudySyncService по расписанию robfig/cron (DV_SYNC_SCHEDULE) выполняет Sync:
//  1. GET /studies?expand с ограничением по времени (DV_SYNC_FETCH_TIMEOUT)
//  2. Маппинг в StudyRecord: очистка полей, значения по умолчанию, пропуск записей без ID
//  3. UpsertMany в одной транзакции (и удаление отсутствующих при DV_SYNC_PRUNE_MISSING)
//  4. Запись результата в sync_runs
//
// Одновременно выполняется не более одной синхронизации: повторный вызов
// во время работы сразу возвращает ErrSyncInProgress.
//
// Prometheus-метрики:
//   - dv_sync_runs_total — запуски по результату (success, failed, skipped)
//   - dv_sync_duration_seconds — длительность синхронизации
//   - dv_sync_studies_total — обработанные исследования по операциям
//   - dv_sync_last_success_timestamp_seconds — время последней успешной синхронизации
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/robfig/cron/v3"

	"github.com/bigkaa/dicomviewer/internal/domain/model"
	"github.com/bigkaa/dicomviewer/internal/repository"
	"github.com/bigkaa/dicomviewer/internal/sanitize"
)

// Prometheus-метрики синхронизации.
var (
	syncRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_sync_runs_total",
		Help: "Количество запусков синхронизации по результату.",
	}, []string{"result"}) // result: success, failed, skipped

	syncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dv_sync_duration_seconds",
		Help:    "Длительность синхронизации кэша исследований с Orthanc.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s … ~204s
	})

	syncStudiesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_sync_studies_total",
		Help: "Количество обработанных исследований при синхронизации.",
	}, []string{"operation"}) // operation: added, updated, deleted, skipped

	syncLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dv_sync_last_success_timestamp_seconds",
		Help: "Unix-время последней успешной синхронизации.",
	})
)

// recordRunTimeout — таймаут записи результата в sync_runs.
const recordRunTimeout = 5 * time.Second

// StudySource — источник полного списка исследований (архив Orthanc).
type StudySource interface {
	ListStudiesExpanded(ctx context.Context) ([]model.RemoteStudy, error)
}

// SyncOptions — параметры синхронизации из конфигурации.
type SyncOptions struct {
	// Schedule — расписание robfig/cron (например, "@every 24h")
	Schedule string
	// RunOnStart — выполнить синхронизацию сразу при Start
	RunOnStart bool
	// FetchTimeout — таймаут получения списка исследований
	FetchTimeout time.Duration
	// PruneMissing — удалять строки, отсутствующие в архиве
	PruneMissing bool
}

// MetadataCache — кэш метаданных архива, сбрасываемый после синхронизации.
type MetadataCache interface {
	Purge()
}

// StudySyncService — синхронизация кэша исследований по расписанию и по запросу.
type StudySyncService struct {
	source  StudySource
	studies repository.StudyRepository
	runs    repository.SyncRunRepository
	cache   MetadataCache
	opts    SyncOptions
	logger  *slog.Logger

	running atomic.Bool

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStudySyncService создаёт сервис синхронизации.
func NewStudySyncService(
	source StudySource,
	studies repository.StudyRepository,
	runs repository.SyncRunRepository,
	opts SyncOptions,
	logger *slog.Logger,
) *StudySyncService {
	return &StudySyncService{
		source:  source,
		studies: studies,
		runs:    runs,
		opts:    opts,
		logger:  logger.With(slog.String("component", "study_sync")),
	}
}

// WithMetadataCache подключает кэш метаданных архива: после успешной
// синхронизации, изменившей хотя бы одно исследование, он сбрасывается.
func (s *StudySyncService) WithMetadataCache(cache MetadataCache) *StudySyncService {
	s.cache = cache
	return s
}

// Start регистрирует задачу в планировщике cron и, если включено,
// запускает первую синхронизацию немедленно в отдельной горутине.
// Вызывается один раз при старте приложения.
func (s *StudySyncService) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c := cron.New(cron.WithChain(cron.Recover(cronLogger{s.logger})))
	if _, err := c.AddFunc(s.opts.Schedule, func() { s.runScheduled(ctx, "schedule") }); err != nil {
		cancel()
		return fmt.Errorf("некорректное расписание синхронизации %q: %w", s.opts.Schedule, err)
	}

	s.cancel = cancel
	s.cron = c
	c.Start()

	s.logger.Info("Периодическая синхронизация исследований запущена",
		slog.String("schedule", s.opts.Schedule),
		slog.Bool("run_on_start", s.opts.RunOnStart),
		slog.Bool("prune_missing", s.opts.PruneMissing),
	)

	if s.opts.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runScheduled(ctx, "startup")
		}()
	}

	return nil
}

// Stop останавливает планировщик, отменяет текущую синхронизацию и ждёт её завершения.
func (s *StudySyncService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.wg.Wait()
	s.logger.Info("Периодическая синхронизация исследований остановлена")
}

// runScheduled выполняет Sync из планировщика и логирует результат.
// Ошибки не фатальны: следующая попытка будет по расписанию.
func (s *StudySyncService) runScheduled(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}

	result, err := s.Sync(ctx)
	switch {
	case errors.Is(err, ErrSyncInProgress):
		s.logger.Info("Синхронизация уже выполняется, запуск пропущен",
			slog.String("trigger", trigger),
		)
	case err != nil:
		s.logger.Error("Ошибка синхронизации исследований",
			slog.String("trigger", trigger),
			slog.String("error", err.Error()),
		)
	default:
		s.logger.Info("Синхронизация исследований завершена",
			slog.String("trigger", trigger),
			slog.Int("fetched", result.Fetched),
			slog.Int("added", result.Added),
			slog.Int("updated", result.Updated),
			slog.Int("deleted", result.Deleted),
			slog.Int("skipped", result.Skipped),
			slog.Int64("duration_ms", result.DurationMs),
		)
	}
}

// IsRunning сообщает, выполняется ли синхронизация в данный момент.
func (s *StudySyncService) IsRunning() bool {
	return s.running.Load()
}

// LastRun возвращает последний запуск синхронизации или ErrNotFound.
func (s *StudySyncService) LastRun(ctx context.Context) (*model.SyncRun, error) {
	run, err := s.runs.Latest(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение последней синхронизации: %w", err)
	}
	return run, nil
}

// Sync выполняет одну синхронизацию. Безопасен для конкурентного вызова:
// пока идёт синхронизация, остальные вызовы сразу получают ErrSyncInProgress.
func (s *StudySyncService) Sync(ctx context.Context) (*model.SyncResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		syncRunsTotal.WithLabelValues("skipped").Inc()
		return nil, ErrSyncInProgress
	}
	defer s.running.Store(false)

	startedAt := time.Now().UTC()
	result, err := s.syncOnce(ctx, startedAt)
	finishedAt := time.Now().UTC()

	syncDuration.Observe(finishedAt.Sub(startedAt).Seconds())
	s.recordRun(ctx, startedAt, finishedAt, result, err)

	if err != nil {
		syncRunsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}

	syncRunsTotal.WithLabelValues("success").Inc()
	syncStudiesTotal.WithLabelValues("added").Add(float64(result.Added))
	syncStudiesTotal.WithLabelValues("updated").Add(float64(result.Updated))
	syncStudiesTotal.WithLabelValues("deleted").Add(float64(result.Deleted))
	syncStudiesTotal.WithLabelValues("skipped").Add(float64(result.Skipped))
	syncLastSuccess.Set(float64(finishedAt.Unix()))

	if s.cache != nil && result.Added+result.Updated+result.Deleted > 0 {
		s.cache.Purge()
		s.logger.Debug("Кэш метаданных архива сброшен после синхронизации")
	}

	return result, nil
}

// syncOnce — получение, маппинг и запись в одной транзакции.
// Возвращает частично заполненный результат и при ошибке (для sync_runs).
func (s *StudySyncService) syncOnce(ctx context.Context, startedAt time.Time) (*model.SyncResult, error) {
	result := &model.SyncResult{StartedAt: startedAt}

	fetchCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
	remote, err := s.source.ListStudiesExpanded(fetchCtx)
	cancel()
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrArchiveUnavailable, err)
	}
	result.Fetched = len(remote)

	records, skipped := MapRemoteStudies(remote)
	result.Skipped = skipped
	if skipped > 0 {
		s.logger.Warn("Пропущены исследования без идентификатора",
			slog.Int("skipped", skipped),
		)
	}

	stats, err := s.studies.UpsertMany(ctx, records, repository.UpsertOptions{
		PruneMissing: s.opts.PruneMissing,
	})
	if err != nil {
		return result, fmt.Errorf("запись исследований в кэш: %w", err)
	}

	result.Added = stats.Added
	result.Updated = stats.Updated
	result.Deleted = stats.Deleted
	result.DurationMs = time.Since(startedAt).Milliseconds()
	return result, nil
}

// recordRun сохраняет запуск в sync_runs. Ошибка записи только логируется.
// Запись выполняется и после отмены ctx (например, при остановке сервиса).
func (s *StudySyncService) recordRun(
	ctx context.Context,
	startedAt, finishedAt time.Time,
	result *model.SyncResult,
	syncErr error,
) {
	run := &model.SyncRun{
		ID:         uuid.New().String(),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Status:     model.SyncStatusSuccess,
	}
	if result != nil {
		run.Fetched = result.Fetched
		run.Added = result.Added
		run.Updated = result.Updated
		run.Deleted = result.Deleted
		run.Skipped = result.Skipped
	}
	if syncErr != nil {
		run.Status = model.SyncStatusFailed
		msg := sanitize.Default(syncErr.Error())
		run.ErrorMessage = &msg
		// Транзакция откатилась — в кэш ничего не записано
		run.Added, run.Updated, run.Deleted = 0, 0, 0
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordRunTimeout)
	defer cancel()

	if err := s.runs.Create(recordCtx, run); err != nil {
		s.logger.Warn("Ошибка записи истории синхронизации",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()),
		)
	}
}

// MapRemoteStudies преобразует ответ архива в строки кэша.
// Все текстовые поля очищаются с ограничением длины, отсутствующие получают
// значения по умолчанию. Записи без ID пропускаются и учитываются в skipped.
// Повторяющийся ID в пакете обрабатывается как обновление (побеждает последний).
func MapRemoteStudies(remote []model.RemoteStudy) ([]*model.StudyRecord, int) {
	records := make([]*model.StudyRecord, 0, len(remote))
	skipped := 0

	for i := range remote {
		rec, ok := MapRemoteStudy(&remote[i])
		if !ok {
			skipped++
			continue
		}
		records = append(records, rec)
	}

	return records, skipped
}

// MapRemoteStudy преобразует одно исследование архива.
// Возвращает false, если идентификатор пуст после очистки.
func MapRemoteStudy(r *model.RemoteStudy) (*model.StudyRecord, bool) {
	id := sanitize.String(r.ID, sanitize.MaxIdentifier)
	if id == "" {
		return nil, false
	}

	p := r.PatientMainDicomTags
	m := r.MainDicomTags

	return &model.StudyRecord{
		ID:              id,
		PatientName:     sanitize.OrDefault(p.PatientName, sanitize.MaxDefault, model.DefaultPatientName),
		PatientID:       sanitize.Optional(p.PatientID, sanitize.MaxIdentifier),
		PatientSex:      sanitize.OrDefault(p.PatientSex, sanitize.MaxShort, model.DefaultUnknown),
		InstitutionName: sanitize.OrDefault(m.InstitutionName, sanitize.MaxDefault, model.DefaultUnknown),
		StudyDate:       sanitize.Optional(m.StudyDate, sanitize.MaxShort),
		Description:     sanitize.OrDefault(m.StudyDescription, sanitize.MaxDefault, model.DefaultDescription),
		RawRecord:       r.Raw,
	}, true
}

// cronLogger — адаптер slog для внутреннего логгера robfig/cron.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, slog.String("error", err.Error()))...)
}
