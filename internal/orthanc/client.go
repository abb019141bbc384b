// Пакет orthanc — HTTP-клиент REST API архива Orthanc.
// Все запросы отправляются с заранее вычисленным заголовком Authorization (basic auth).
// Поддерживает TLS с кастомным CA (DV_ORTHANC_CA_CERT).
package orthanc

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/bigkaa/dicomviewer/internal/domain/model"
)

// maxErrorBody — сколько байт тела ответа с ошибкой сохраняется в StatusError.
const maxErrorBody = 4096

// ErrNotFound — архив ответил 404.
var ErrNotFound = errors.New("объект не найден в архиве")

// StatusError — архив вернул статус вне диапазона 2xx.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("orthanc вернул статус %d: %s", e.StatusCode, e.Body)
}

// Is позволяет проверять 404 через errors.Is(err, ErrNotFound).
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Statistics — ответ GET /statistics.
type Statistics struct {
	CountPatients   int    `json:"CountPatients"`
	CountStudies    int    `json:"CountStudies"`
	CountSeries     int    `json:"CountSeries"`
	CountInstances  int    `json:"CountInstances"`
	TotalDiskSizeMB int64  `json:"TotalDiskSizeMB"`
	TotalDiskSize   string `json:"TotalDiskSize,omitempty"`
}

// Option — дополнительная настройка клиента.
type Option func(*options)

type options struct {
	authHeader string
	caCertPath string
}

// WithAuthHeader задаёт готовое значение заголовка Authorization
// вместо пары логин/пароль.
func WithAuthHeader(header string) Option {
	return func(o *options) { o.authHeader = header }
}

// WithCACert добавляет CA-сертификат в пул доверия TLS.
func WithCACert(path string) Option {
	return func(o *options) { o.caCertPath = path }
}

// Client — HTTP-клиент Orthanc.
type Client struct {
	baseURL      string
	authHeader   string
	httpClient   *http.Client
	streamClient *http.Client
	timeout      time.Duration
	logger       *slog.Logger
}

// New создаёт клиент Orthanc.
// baseURL нормализуется: схема по умолчанию http, завершающий слэш удаляется.
func New(baseURL, username, password string, timeout time.Duration, logger *slog.Logger, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	normalized, err := NormalizeURL(baseURL)
	if err != nil {
		return nil, err
	}

	// timeout ограничивает весь запрос метаданных (getJSON) и ожидание
	// заголовков потокового ответа (Open). Выгрузку списка исследований
	// и чтение тела потока ограничивает только ctx вызывающего.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if o.caCertPath != "" {
		tlsConfig, err := buildTLSConfig(o.caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата Orthanc: %w", err)
		}
		transport.TLSClientConfig = tlsConfig
		logger.Info("CA-сертификат Orthanc добавлен в пул доверия",
			slog.String("ca_cert", o.caCertPath),
		)
	}

	authHeader := o.authHeader
	if authHeader == "" && (username != "" || password != "") {
		authHeader = BasicAuthHeader(username, password)
	}

	return &Client{
		baseURL:      normalized,
		authHeader:   authHeader,
		httpClient:   &http.Client{Transport: transport},
		streamClient: &http.Client{Transport: streamTransport(transport, timeout)},
		timeout:      timeout,
		logger:       logger.With(slog.String("component", "orthanc_client")),
	}, nil
}

// streamTransport — копия base с ограничением ожидания заголовков ответа.
func streamTransport(base *http.Transport, headerTimeout time.Duration) *http.Transport {
	t := base.Clone()
	t.ResponseHeaderTimeout = headerTimeout
	return t
}

// BaseURL возвращает нормализованный базовый URL архива.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// BasicAuthHeader кодирует пару логин/пароль в значение заголовка Authorization.
func BasicAuthHeader(username, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password))
}

// NormalizeURL добавляет схему http при её отсутствии и убирает завершающий слэш.
func NormalizeURL(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", errors.New("пустой URL Orthanc")
	}
	if !strings.Contains(rawURL, "://") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("некорректный URL Orthanc %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("в URL Orthanc %q отсутствует хост", rawURL)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("в %s нет PEM-сертификатов", caCertPath)
	}

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

// Open выполняет GET по пути архива и возвращает ответ с открытым телом.
// Вызывающий обязан закрыть resp.Body. Статус вне 2xx возвращается как *StatusError.
// Заголовки ответа ожидаются не дольше timeout клиента, чтение тела не ограничено.
func (c *Client) Open(ctx context.Context, path string, query url.Values) (*http.Response, error) {
	return c.do(ctx, c.streamClient, path, query)
}

func (c *Client) do(ctx context.Context, hc *http.Client, path string, query url.Values) (*http.Response, error) {
	reqURL := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("создание запроса %s: %w", path, err)
	}
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос %s к Orthanc: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Debug("Orthanc вернул ошибку",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return resp, nil
}

// getJSON выполняет GET метаданных не дольше timeout клиента.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dest any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.decode(ctx, path, query, dest)
}

// decode выполняет GET и декодирует JSON-ответ в dest.
// Длительность ограничена только ctx вызывающего.
func (c *Client) decode(ctx context.Context, path string, query url.Values, dest any) error {
	resp, err := c.do(ctx, c.httpClient, path, query)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("декодирование ответа %s: %w", path, err)
	}
	return nil
}

// ListStudiesExpanded возвращает полный список исследований.
// GET /studies?expand — каждый элемент сохраняет исходный JSON в Raw.
// Срок выгрузки задаёт ctx (DV_SYNC_FETCH_TIMEOUT), а не timeout клиента.
func (c *Client) ListStudiesExpanded(ctx context.Context) ([]model.RemoteStudy, error) {
	var studies []model.RemoteStudy
	if err := c.decode(ctx, "/studies?expand", nil, &studies); err != nil {
		return nil, err
	}
	return studies, nil
}

// GetStudy возвращает метаданные исследования (GET /studies/{id}).
func (c *Client) GetStudy(ctx context.Context, id string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/studies/"+url.PathEscape(id))
}

// GetSeries возвращает метаданные серии (GET /series/{id}).
func (c *Client) GetSeries(ctx context.Context, id string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/series/"+url.PathEscape(id))
}

// GetInstance возвращает метаданные экземпляра (GET /instances/{id}).
func (c *Client) GetInstance(ctx context.Context, id string) (json.RawMessage, error) {
	return c.getRaw(ctx, "/instances/"+url.PathEscape(id))
}

func (c *Client) getRaw(ctx context.Context, path string) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, path, nil, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Statistics возвращает счётчики архива (GET /statistics).
func (c *Client) Statistics(ctx context.Context) (*Statistics, error) {
	var stats Statistics
	if err := c.getJSON(ctx, "/statistics", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// Ping проверяет доступность архива (GET /system).
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Open(ctx, "/system", nil)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}
