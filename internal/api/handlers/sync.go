// sync.go — обработчики POST /api/sync и GET /api/sync/status.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/dicomviewer/internal/api/errors"
	"github.com/bigkaa/dicomviewer/internal/domain/model"
	"github.com/bigkaa/dicomviewer/internal/service"
)

// syncStatusResponse — состояние синхронизации.
type syncStatusResponse struct {
	Running bool           `json:"running"`
	LastRun *model.SyncRun `json:"lastRun,omitempty"`
}

// TriggerSync — POST /api/sync. Запускает синхронизацию и ждёт результата.
func (h *APIHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.sync.Sync(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrSyncInProgress):
			apierrors.Conflict(w, "La sincronización ya está en curso")
		case errors.Is(err, service.ErrArchiveUnavailable):
			h.logger.Warn("Синхронизация по запросу: архив недоступен",
				slog.String("error", err.Error()),
			)
			apierrors.ArchiveUnavailable(w, "El archivo DICOM no está disponible")
		default:
			h.logger.Error("Синхронизация по запросу завершилась ошибкой",
				slog.String("error", err.Error()),
			)
			apierrors.InternalError(w, "Error en la sincronización")
		}
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// SyncStatus — GET /api/sync/status.
func (h *APIHandler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	resp := syncStatusResponse{Running: h.sync.IsRunning()}

	run, err := h.sync.LastRun(r.Context())
	switch {
	case err == nil:
		resp.LastRun = run
	case errors.Is(err, service.ErrNotFound):
	default:
		h.logger.Error("Ошибка получения истории синхронизаций",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Error al obtener el estado de la sincronización")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
