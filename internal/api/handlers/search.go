// search.go — обработчики GET /api/search/studies и GET /api/studies/{studyId}.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/dicomviewer/internal/api/errors"
	"github.com/bigkaa/dicomviewer/internal/domain/model"
	"github.com/bigkaa/dicomviewer/internal/service"
)

// MsgSearchFailed — сообщение об ошибке поиска для клиента.
const MsgSearchFailed = "Error en la búsqueda de estudios"

// searchResponse — ответ поиска исследований.
// При ошибке заполняется Error, а список пуст.
type searchResponse struct {
	Error       string               `json:"error,omitempty"`
	Studies     []*model.StudyRecord `json:"studies"`
	Total       int                  `json:"total"`
	CurrentPage int                  `json:"currentPage"`
	TotalPages  int                  `json:"totalPages"`
}

// studyDetailsResponse — запись кэша вместе с представлением для UI.
type studyDetailsResponse struct {
	Study *model.StudyRecord `json:"study"`
	View  model.StudyView    `json:"view"`
}

// SearchStudies — GET /api/search/studies?q=&page=.
// Параметры не отклоняются: отсутствующая или нечисловая страница → 1.
func (h *APIHandler) SearchStudies(w http.ResponseWriter, r *http.Request) {
	var query, pageRaw *string
	if err := runtime.BindQueryParameter("form", true, false, "q", r.URL.Query(), &query); err != nil {
		query = nil
	}
	if err := runtime.BindQueryParameter("form", true, false, "page", r.URL.Query(), &pageRaw); err != nil {
		pageRaw = nil
	}

	term := ""
	if query != nil {
		term = *query
	}
	page := parsePage(pageRaw)

	result, err := h.search.Search(r.Context(), term, page)
	if err != nil {
		h.logger.Error("Ошибка поиска исследований",
			slog.String("query", term),
			slog.Int("page", page),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, searchResponse{
			Error:       MsgSearchFailed,
			Studies:     []*model.StudyRecord{},
			CurrentPage: page,
		})
		return
	}

	studies := result.Studies
	if studies == nil {
		studies = []*model.StudyRecord{}
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Studies:     studies,
		Total:       result.Total,
		CurrentPage: result.CurrentPage,
		TotalPages:  result.TotalPages,
	})
}

// GetStudy — GET /api/studies/{studyId}.
func (h *APIHandler) GetStudy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "studyId")

	study, err := h.search.GetStudy(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Estudio no encontrado")
			return
		}
		h.logger.Error("Ошибка получения исследования",
			slog.String("study_id", id),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Error al obtener el estudio")
		return
	}

	writeJSON(w, http.StatusOK, studyDetailsResponse{
		Study: study,
		View:  model.FormatStudy(study),
	})
}

// parsePage преобразует параметр page в номер страницы (минимум 1).
func parsePage(raw *string) int {
	if raw == nil {
		return 1
	}
	page, err := strconv.Atoi(*raw)
	if err != nil || page < 1 {
		return 1
	}
	return page
}
