// search.go — поиск исследований в локальном кэше с постраничной выдачей.
// Сервис только читает хранилище.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/dicomviewer/internal/domain/model"
	"github.com/bigkaa/dicomviewer/internal/repository"
)

// Prometheus-метрики поиска.
var (
	searchTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_search_total",
		Help: "Общее количество поисковых запросов.",
	})
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dv_search_duration_seconds",
		Help:    "Длительность поисковых запросов.",
		Buckets: prometheus.DefBuckets,
	})
)

// SearchResult — страница результатов поиска.
type SearchResult struct {
	// Studies — исследования текущей страницы
	Studies []*model.StudyRecord
	// Total — общее количество совпадений
	Total int
	// CurrentPage — номер страницы (с 1)
	CurrentPage int
	// TotalPages — ceil(Total / pageSize)
	TotalPages int
}

// StudySearchService — поиск исследований и получение записи по ID.
type StudySearchService struct {
	studies  repository.StudyRepository
	pageSize int
	logger   *slog.Logger
}

// NewStudySearchService создаёт сервис поиска.
// pageSize — фиксированный размер страницы (DV_SEARCH_PAGE_SIZE).
func NewStudySearchService(
	studies repository.StudyRepository,
	pageSize int,
	logger *slog.Logger,
) *StudySearchService {
	if pageSize < 1 {
		pageSize = 1
	}
	return &StudySearchService{
		studies:  studies,
		pageSize: pageSize,
		logger:   logger.With(slog.String("component", "search_service")),
	}
}

// PageSize возвращает размер страницы.
func (s *StudySearchService) PageSize() int {
	return s.pageSize
}

// Search возвращает страницу page исследований, подходящих под query.
// page < 1 приводится к 1. Страница за последней возвращается пустой,
// без запроса к хранилищу.
func (s *StudySearchService) Search(ctx context.Context, query string, page int) (*SearchResult, error) {
	start := time.Now()
	searchTotal.Inc()

	if page < 1 {
		page = 1
	}

	total, err := s.studies.Count(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("подсчёт исследований: %w", err)
	}
	totalPages := (total + s.pageSize - 1) / s.pageSize

	// page <= totalPages гарантирует, что смещение не переполнит int
	studies := []*model.StudyRecord{}
	if page <= totalPages {
		studies, err = s.studies.Query(ctx, repository.StudyQuery{
			Limit:  s.pageSize,
			Offset: (page - 1) * s.pageSize,
			Term:   query,
		})
		if err != nil {
			return nil, fmt.Errorf("поиск исследований: %w", err)
		}
	}

	duration := time.Since(start)
	searchDuration.Observe(duration.Seconds())

	s.logger.Debug("Поиск выполнен",
		slog.Int("page", page),
		slog.Int("total", total),
		slog.Int("returned", len(studies)),
		slog.Duration("duration", duration),
	)

	return &SearchResult{
		Studies:     studies,
		Total:       total,
		CurrentPage: page,
		TotalPages:  totalPages,
	}, nil
}

// GetStudy возвращает исследование из локального кэша вместе с исходной записью.
func (s *StudySearchService) GetStudy(ctx context.Context, id string) (*model.StudyRecord, error) {
	study, err := s.studies.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("получение исследования: %w", err)
	}
	return study, nil
}

// CountAll возвращает количество исследований в локальном кэше.
func (s *StudySearchService) CountAll(ctx context.Context) (int, error) {
	total, err := s.studies.Count(ctx, "")
	if err != nil {
		return 0, fmt.Errorf("подсчёт исследований: %w", err)
	}
	return total, nil
}
