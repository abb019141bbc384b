// auth.go — вход и выход: POST /api/auth/login, POST /api/auth/logout, GET /logout.
package handlers

import (
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/dicomviewer/internal/api/errors"
	"github.com/bigkaa/dicomviewer/internal/api/middleware"
)

// maxLoginBody — ограничение размера тела запроса входа.
const maxLoginBody = 4096

// loginRequest — учётные данные из JSON или формы.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse — ответ успешного входа.
type loginResponse struct {
	Username  string    `json:"username"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login — POST /api/auth/login. Принимает JSON или application/x-www-form-urlencoded.
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeLogin(w, r)
	if !ok {
		apierrors.ValidationError(w, "Solicitud de inicio de sesión inválida")
		return
	}

	if !h.credentials.Match(req.Username, req.Password) {
		h.logger.Warn("Неудачная попытка входа",
			slog.String("username", req.Username),
			slog.String("remote_addr", r.RemoteAddr),
		)
		apierrors.Unauthorized(w, "Credenciales inválidas")
		return
	}

	token, expiresAt, err := h.tokens.Issue(req.Username)
	if err != nil {
		h.logger.Error("Ошибка выпуска токена",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Error al iniciar sesión")
		return
	}

	middleware.SetSessionCookie(w, token, int(h.tokens.TTL().Seconds()), h.cookieSecure)
	h.logger.Info("Пользователь вошёл", slog.String("username", req.Username))

	writeJSON(w, http.StatusOK, loginResponse{
		Username:  req.Username,
		ExpiresAt: expiresAt.UTC(),
	})
}

// Logout — POST /api/auth/logout.
func (h *APIHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	middleware.ClearSessionCookie(w, h.cookieSecure)
	w.WriteHeader(http.StatusNoContent)
}

// LogoutPage — GET /logout: удаляет cookie и возвращает на страницу входа.
func (h *APIHandler) LogoutPage(w http.ResponseWriter, r *http.Request) {
	middleware.ClearSessionCookie(w, h.cookieSecure)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// decodeLogin разбирает тело запроса входа по Content-Type.
func decodeLogin(w http.ResponseWriter, r *http.Request) (loginRequest, bool) {
	var req loginRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginBody)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return req, false
		}
		req.Username = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
	default:
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, false
		}
	}

	return req, req.Username != "" && req.Password != ""
}
