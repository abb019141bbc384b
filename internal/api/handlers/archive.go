// archive.go — шлюз к архиву Orthanc: метаданные, DICOM-файлы, превью,
// статистика и прозрачный прокси /api/orthanc/*.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/dicomviewer/internal/api/errors"
	"github.com/bigkaa/dicomviewer/internal/orthanc"
)

// Cache-Control для ресурсов архива.
const (
	cacheStudy    = "private, max-age=1800"
	cacheSeries   = "private, max-age=3600"
	cacheInstance = "public, max-age=3600"
	cacheFile     = "public, max-age=31536000, immutable"
	cachePreview  = "public, max-age=86400"
)

// Параметры превью.
const (
	defaultViewport = 256
	maxViewport     = 4096
)

// msgArchiveUnavailable — сообщение клиенту при недоступном архиве.
const msgArchiveUnavailable = "El archivo DICOM no está disponible"

// statisticsResponse — статистика архива и локального кэша.
type statisticsResponse struct {
	Archive      *orthanc.Statistics `json:"archive"`
	LocalStudies int                 `json:"localStudies"`
}

// OrthancStudy — GET /api/orthanc/studies/{studyId}.
func (h *APIHandler) OrthancStudy(w http.ResponseWriter, r *http.Request) {
	raw, err := h.archive.Study(r.Context(), chi.URLParam(r, "studyId"))
	h.writeMetadata(w, raw, err, cacheStudy)
}

// OrthancSeries — GET /api/orthanc/series/{seriesId}.
func (h *APIHandler) OrthancSeries(w http.ResponseWriter, r *http.Request) {
	raw, err := h.archive.Series(r.Context(), chi.URLParam(r, "seriesId"))
	h.writeMetadata(w, raw, err, cacheSeries)
}

// OrthancInstance — GET /api/orthanc/instances/{instanceId}.
func (h *APIHandler) OrthancInstance(w http.ResponseWriter, r *http.Request) {
	raw, err := h.archive.Instance(r.Context(), chi.URLParam(r, "instanceId"))
	h.writeMetadata(w, raw, err, cacheInstance)
}

// OrthancInstanceFile — GET /api/orthanc/instances/{instanceId}/file.
func (h *APIHandler) OrthancInstanceFile(w http.ResponseWriter, r *http.Request) {
	path := "/instances/" + url.PathEscape(chi.URLParam(r, "instanceId")) + "/file"
	h.stream(w, r, "file", path, nil, cacheFile, "application/dicom")
}

// OrthancInstancePreview — GET /api/orthanc/instances/{instanceId}/preview?viewport=N.
func (h *APIHandler) OrthancInstancePreview(w http.ResponseWriter, r *http.Request) {
	var viewport *int
	if err := runtime.BindQueryParameter("form", true, false, "viewport", r.URL.Query(), &viewport); err != nil {
		apierrors.ValidationError(w, "viewport debe ser un número entero")
		return
	}

	size := defaultViewport
	if viewport != nil {
		size = *viewport
	}
	if size < 1 || size > maxViewport {
		apierrors.ValidationError(w, "viewport debe estar entre 1 y "+strconv.Itoa(maxViewport))
		return
	}

	path := "/instances/" + url.PathEscape(chi.URLParam(r, "instanceId")) + "/preview"
	query := url.Values{"viewport": {strconv.Itoa(size)}}
	h.stream(w, r, "preview", path, query, cachePreview, "image/jpeg")
}

// OrthancProxy — GET /api/orthanc/*: прозрачный прокси остальных ресурсов архива.
func (h *APIHandler) OrthancProxy(w http.ResponseWriter, r *http.Request) {
	path := "/" + strings.TrimLeft(chi.URLParam(r, "*"), "/")
	h.stream(w, r, "proxy", path, r.URL.Query(), "", "")
}

// GetStatistics — GET /api/statistics.
func (h *APIHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.archive.Statistics(r.Context())
	if err != nil {
		h.writeArchiveError(w, err)
		return
	}

	local, err := h.search.CountAll(r.Context())
	if err != nil {
		h.logger.Error("Ошибка подсчёта исследований",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Error al obtener las estadísticas")
		return
	}

	writeJSON(w, http.StatusOK, statisticsResponse{
		Archive:      stats,
		LocalStudies: local,
	})
}

// writeMetadata записывает JSON-метаданные архива с заголовком Cache-Control.
func (h *APIHandler) writeMetadata(w http.ResponseWriter, raw json.RawMessage, err error, cacheControl string) {
	if err != nil {
		h.writeArchiveError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", cacheControl)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// stream передаёт тело ответа архива клиенту без буферизации.
// Пустой cacheControl — заголовок не выставляется.
// Пустой defaultType — Content-Type берётся только из ответа архива.
func (h *APIHandler) stream(
	w http.ResponseWriter, r *http.Request,
	endpoint, path string, query url.Values,
	cacheControl, defaultType string,
) {
	resp, err := h.archive.Stream(r.Context(), endpoint, path, query)
	if err != nil {
		h.writeArchiveError(w, err)
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultType
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	if cacheControl != "" {
		w.Header().Set("Cache-Control", cacheControl)
	}

	w.WriteHeader(resp.StatusCode)
	if n, err := io.Copy(w, resp.Body); err != nil {
		h.logger.Debug("Передача ответа архива прервана",
			slog.String("path", path),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()),
		)
	}
}

// writeArchiveError транслирует ошибку архива в HTTP-ответ:
// non-2xx архива ретранслируется с тем же статусом, сбой транспорта → 502.
func (h *APIHandler) writeArchiveError(w http.ResponseWriter, err error) {
	var statusErr *orthanc.StatusError
	if errors.As(err, &statusErr) {
		apierrors.ArchiveStatus(w, statusErr.StatusCode, archiveStatusMessage(statusErr.StatusCode))
		return
	}

	h.logger.Warn("Архив недоступен", slog.String("error", err.Error()))
	apierrors.ArchiveUnavailable(w, msgArchiveUnavailable)
}

// archiveStatusMessage — сообщение клиенту для статуса архива.
func archiveStatusMessage(status int) string {
	switch status {
	case http.StatusNotFound:
		return "Recurso no encontrado en el archivo DICOM"
	case http.StatusUnauthorized, http.StatusForbidden:
		return "Acceso denegado por el archivo DICOM"
	default:
		return "Error del archivo DICOM: " + strconv.Itoa(status)
	}
}
