// Пакет service — бизнес-логика DICOM Viewer.
// CacheService — LRU-кэш JSON-метаданных Orthanc с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша. resource — тип ресурса архива: studies, series, instances.
var (
	cacheLookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_archive_cache_lookups_total",
		Help: "Обращения к кэшу метаданных архива по типу ресурса и результату (hit/miss).",
	}, []string{"resource", "result"})
	cacheEvictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dv_archive_cache_evictions_total",
		Help: "Записи, покинувшие кэш метаданных архива (вытеснение, TTL, сброс).",
	}, []string{"resource"})
	cachePurgesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dv_archive_cache_purges_total",
		Help: "Полные сбросы кэша метаданных архива после синхронизации.",
	})
)

// CacheService — LRU-кэш ответов Orthanc с автоматическим TTL.
// Ключ — путь ресурса архива: "/studies/{id}", "/series/{id}", "/instances/{id}".
type CacheService struct {
	cache *expirable.LRU[string, json.RawMessage]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	onEvict := func(key string, _ json.RawMessage) {
		cacheEvictionsTotal.WithLabelValues(resourceKind(key)).Inc()
	}
	return &CacheService{cache: expirable.NewLRU[string, json.RawMessage](maxSize, onEvict, ttl)}
}

// Get возвращает закэшированный ответ.
func (c *CacheService) Get(key string) (json.RawMessage, bool) {
	val, ok := c.cache.Get(key)
	result := "miss"
	if ok {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(resourceKind(key), result).Inc()
	return val, ok
}

// Set добавляет или обновляет запись в кэше.
func (c *CacheService) Set(key string, value json.RawMessage) {
	c.cache.Add(key, value)
}

// Purge очищает кэш. Вызывается синхронизацией, когда состав архива изменился.
func (c *CacheService) Purge() {
	cachePurgesTotal.Inc()
	c.cache.Purge()
}

// Len возвращает количество записей в кэше.
func (c *CacheService) Len() int {
	return c.cache.Len()
}

// resourceKind — первый сегмент ключа. Ограничен известными типами,
// чтобы метка не росла по кардинальности.
func resourceKind(key string) string {
	kind, _, _ := strings.Cut(strings.TrimPrefix(key, "/"), "/")
	switch kind {
	case "studies", "series", "instances":
		return kind
	default:
		return "other"
	}
}
