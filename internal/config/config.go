// Пакет config — загрузка и валидация конфигурации DICOM Viewer
// из переменных окружения (префикс DV_).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Драйверы локального хранилища метаданных.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Учётные данные администратора по умолчанию.
const (
	defaultAdminUsername = "admin"
	defaultAdminPassword = "admin123"
)

// minJWTSecretLength — минимальная длина секрета подписи сессионных токенов.
const minJWTSecretLength = 32

// Config содержит все параметры конфигурации DICOM Viewer.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration

	// --- Локальное хранилище ---

	// Драйвер: sqlite (по умолчанию) или postgres
	DBDriver string
	// Путь к файлу SQLite
	SQLitePath string
	// busy_timeout SQLite
	SQLiteBusyTimeout time.Duration

	// Параметры PostgreSQL (только для DBDriver=postgres)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	DBMaxConns int

	// --- Orthanc ---

	// Базовый URL Orthanc REST API
	OrthancURL string
	// Учётные данные basic auth
	OrthancUsername string
	OrthancPassword string
	// Готовый заголовок Authorization (альтернатива паре логин/пароль)
	OrthancAuthHeader string
	// Таймаут HTTP-клиента Orthanc
	OrthancTimeout time.Duration
	// Путь к CA-сертификату для TLS к Orthanc (опционально)
	OrthancCACert string

	// --- Синхронизация ---

	SyncEnabled bool
	// Расписание в формате robfig/cron (по умолчанию @every 24h)
	SyncSchedule string
	// Выполнить синхронизацию сразу при старте
	SyncOnStart bool
	// Таймаут получения полного списка исследований
	SyncFetchTimeout time.Duration
	// Удалять исследования, отсутствующие в архиве
	SyncPruneMissing bool

	// --- Поиск и кэш ---

	// Фиксированный размер страницы поиска
	SearchPageSize int
	// Максимальный размер LRU-кэша метаданных Orthanc
	CacheMaxSize int
	// TTL записи LRU-кэша
	CacheTTL time.Duration

	// --- Аутентификация ---

	JWTSecret string
	JWTTTL    time.Duration
	JWTIssuer string
	// JWKS внешнего IdP (опционально, RS256 Bearer-токены)
	JWTJWKSURL             string
	JWTJWKSRefreshInterval time.Duration

	AdminUsername string
	AdminPassword string
	// Флаг Secure для cookie auth_token
	CookieSecure bool

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
	// Путь health check Orthanc для dephealth
	DephealthOrthancPath string
}

// LoadDotEnv загружает переменные из файла .env, если он существует.
// Уже заданные переменные окружения не перезаписываются.
func LoadDotEnv(path string) (bool, error) {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("загрузка %s: %w", path, err)
	}
	return true, nil
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:gocyclo,funlen // линейная загрузка параметров
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// DV_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("DV_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("DV_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("DV_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	// DV_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DV_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DV_LOG_LEVEL: %w", err)
	}

	// DV_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DV_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DV_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("DV_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_HTTP_READ_TIMEOUT: %w", err)
	}

	// Запись длиннее из-за передачи DICOM-файлов
	cfg.HTTPWriteTimeout, err = getEnvDuration("DV_HTTP_WRITE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_HTTP_WRITE_TIMEOUT: %w", err)
	}

	cfg.HTTPIdleTimeout, err = getEnvDuration("DV_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_HTTP_IDLE_TIMEOUT: %w", err)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("DV_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Локальное хранилище ---

	if err := loadDatabase(cfg); err != nil {
		return nil, err
	}

	// --- Orthanc ---

	if err := loadOrthanc(cfg); err != nil {
		return nil, err
	}

	// --- Синхронизация ---

	cfg.SyncEnabled, err = getEnvBool("DV_SYNC_ENABLED", true)
	if err != nil {
		return nil, fmt.Errorf("DV_SYNC_ENABLED: %w", err)
	}

	cfg.SyncSchedule = getEnvDefault("DV_SYNC_SCHEDULE", "@every 24h")
	if _, err := cron.ParseStandard(cfg.SyncSchedule); err != nil {
		return nil, fmt.Errorf("DV_SYNC_SCHEDULE: некорректное расписание %q: %w", cfg.SyncSchedule, err)
	}

	cfg.SyncOnStart, err = getEnvBool("DV_SYNC_ON_START", true)
	if err != nil {
		return nil, fmt.Errorf("DV_SYNC_ON_START: %w", err)
	}

	cfg.SyncFetchTimeout, err = getEnvDurationPositive("DV_SYNC_FETCH_TIMEOUT", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DV_SYNC_FETCH_TIMEOUT: %w", err)
	}

	cfg.SyncPruneMissing, err = getEnvBool("DV_SYNC_PRUNE_MISSING", false)
	if err != nil {
		return nil, fmt.Errorf("DV_SYNC_PRUNE_MISSING: %w", err)
	}

	// --- Поиск и кэш ---

	cfg.SearchPageSize, err = getEnvInt("DV_SEARCH_PAGE_SIZE", 10)
	if err != nil {
		return nil, fmt.Errorf("DV_SEARCH_PAGE_SIZE: %w", err)
	}
	if cfg.SearchPageSize < 1 || cfg.SearchPageSize > 1000 {
		return nil, fmt.Errorf("DV_SEARCH_PAGE_SIZE: значение %d вне диапазона 1-1000", cfg.SearchPageSize)
	}

	cfg.CacheMaxSize, err = getEnvInt("DV_CACHE_MAX_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("DV_CACHE_MAX_SIZE: %w", err)
	}
	if cfg.CacheMaxSize < 1 {
		return nil, fmt.Errorf("DV_CACHE_MAX_SIZE: значение должно быть > 0")
	}

	cfg.CacheTTL, err = getEnvDurationPositive("DV_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DV_CACHE_TTL: %w", err)
	}

	// --- Аутентификация ---

	if err := loadAuth(cfg); err != nil {
		return nil, err
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("DV_DEPHEALTH_GROUP", "dicom-viewer")

	cfg.DephealthCheckInterval, err = getEnvDurationPositive("DV_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DV_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	cfg.DephealthOrthancPath = getEnvDefault("DV_DEPHEALTH_ORTHANC_PATH", "/system")

	return cfg, nil
}

// LoadStorage загружает только параметры логирования и локального хранилища.
// Используется заданиями, которым не нужны Orthanc и аутентификация.
func LoadStorage() (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("DV_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("DV_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("DV_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DV_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	if err := loadDatabase(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDatabase загружает параметры локального хранилища.
func loadDatabase(cfg *Config) error {
	var err error

	cfg.DBDriver = strings.ToLower(getEnvDefault("DV_DB_DRIVER", DriverSQLite))

	switch cfg.DBDriver {
	case DriverSQLite:
		cfg.SQLitePath = getEnvDefault("DV_SQLITE_PATH", "data/studies.db")
		cfg.SQLiteBusyTimeout, err = getEnvDurationPositive("DV_SQLITE_BUSY_TIMEOUT", 5*time.Second)
		if err != nil {
			return fmt.Errorf("DV_SQLITE_BUSY_TIMEOUT: %w", err)
		}
	case DriverPostgres:
		if cfg.DBHost, err = getEnvRequired("DV_DB_HOST"); err != nil {
			return err
		}
		if cfg.DBName, err = getEnvRequired("DV_DB_NAME"); err != nil {
			return err
		}
		if cfg.DBUser, err = getEnvRequired("DV_DB_USER"); err != nil {
			return err
		}
		if cfg.DBPassword, err = getEnvRequired("DV_DB_PASSWORD"); err != nil {
			return err
		}
		cfg.DBPort, err = getEnvInt("DV_DB_PORT", 5432)
		if err != nil {
			return fmt.Errorf("DV_DB_PORT: %w", err)
		}
		cfg.DBSSLMode = getEnvDefault("DV_DB_SSL_MODE", "disable")
		cfg.DBMaxConns, err = getEnvInt("DV_DB_MAX_CONNS", 10)
		if err != nil {
			return fmt.Errorf("DV_DB_MAX_CONNS: %w", err)
		}
		if cfg.DBMaxConns < 1 {
			return fmt.Errorf("DV_DB_MAX_CONNS: значение должно быть > 0")
		}
	default:
		return fmt.Errorf("DV_DB_DRIVER: недопустимый драйвер %q, допустимые: sqlite, postgres", cfg.DBDriver)
	}

	return nil
}

// loadOrthanc загружает параметры подключения к Orthanc.
func loadOrthanc(cfg *Config) error {
	var err error

	cfg.OrthancURL, err = getEnvRequired("DV_ORTHANC_URL")
	if err != nil {
		return err
	}
	if u, parseErr := url.Parse(cfg.OrthancURL); parseErr != nil || u.Host == "" {
		return fmt.Errorf("DV_ORTHANC_URL: некорректный URL %q", cfg.OrthancURL)
	}

	cfg.OrthancAuthHeader = os.Getenv("DV_ORTHANC_AUTH_HEADER")
	cfg.OrthancUsername = os.Getenv("DV_ORTHANC_USERNAME")
	cfg.OrthancPassword = os.Getenv("DV_ORTHANC_PASSWORD")
	if cfg.OrthancAuthHeader == "" && (cfg.OrthancUsername == "" || cfg.OrthancPassword == "") {
		return fmt.Errorf("DV_ORTHANC_USERNAME/DV_ORTHANC_PASSWORD: обязательны, если не задан DV_ORTHANC_AUTH_HEADER")
	}

	cfg.OrthancTimeout, err = getEnvDurationPositive("DV_ORTHANC_TIMEOUT", 30*time.Second)
	if err != nil {
		return fmt.Errorf("DV_ORTHANC_TIMEOUT: %w", err)
	}

	cfg.OrthancCACert = os.Getenv("DV_ORTHANC_CA_CERT")
	return nil
}

// loadAuth загружает параметры сессионных токенов и учётную запись администратора.
func loadAuth(cfg *Config) error {
	var err error

	cfg.JWTSecret, err = getEnvRequired("DV_JWT_SECRET")
	if err != nil {
		return err
	}
	if len(cfg.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("DV_JWT_SECRET: длина должна быть не менее %d байт", minJWTSecretLength)
	}

	cfg.JWTTTL, err = getEnvDurationPositive("DV_JWT_TTL", 24*time.Hour)
	if err != nil {
		return fmt.Errorf("DV_JWT_TTL: %w", err)
	}

	cfg.JWTIssuer = getEnvDefault("DV_JWT_ISSUER", "dicom-viewer")
	cfg.JWTJWKSURL = os.Getenv("DV_JWT_JWKS_URL")

	cfg.JWTJWKSRefreshInterval, err = getEnvDurationPositive("DV_JWT_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return fmt.Errorf("DV_JWT_JWKS_REFRESH_INTERVAL: %w", err)
	}

	cfg.AdminUsername = getEnvDefault("DV_ADMIN_USERNAME", defaultAdminUsername)
	cfg.AdminPassword = getEnvDefault("DV_ADMIN_PASSWORD", defaultAdminPassword)

	cfg.CookieSecure, err = getEnvBool("DV_COOKIE_SECURE", false)
	if err != nil {
		return fmt.Errorf("DV_COOKIE_SECURE: %w", err)
	}

	return nil
}

// UsesDefaultAdminCredentials — true, если логин или пароль администратора не заданы явно.
func (c *Config) UsesDefaultAdminCredentials() bool {
	return c.AdminUsername == defaultAdminUsername && c.AdminPassword == defaultAdminPassword
}

// DatabaseDSN возвращает DSN для подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s pool_max_conns=%d",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode, c.DBMaxConns,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для меток dephealth).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%d/%s", c.DBHost, c.DBPort, c.DBName)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvDurationPositive — getEnvDuration с проверкой значения > 0.
func getEnvDurationPositive(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
