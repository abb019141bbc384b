// auth.go — сессионная аутентификация DICOM Viewer.
// Токен берётся из cookie auth_token или заголовка Authorization: Bearer.
// Для /api/* ошибки возвращаются как 401 JSON, для страниц выполняется
// редирект на /login.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/dicomviewer/internal/api/errors"
	"github.com/bigkaa/dicomviewer/internal/auth"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims — claims сессионного токена в контексте запроса.
	ContextKeyClaims contextKey = "session_claims"
)

// Сообщения 401 для API-запросов.
const (
	MsgUnauthorized   = "No autorizado"
	MsgInvalidSession = "Sesión inválida"
	MsgExpiredSession = "Sesión expirada"
)

// Адреса редиректа для страниц.
const (
	loginPath            = "/login"
	loginInvalidRedirect = "/login?error=invalid"
	loginExpiredRedirect = "/login?error=expired"
)

// publicPaths — пути, доступные без сессии.
var publicPaths = map[string]bool{
	"/metrics":          true,
	"/api/auth/login":   true,
	"/api/auth/logout":  true,
	"/api/openapi.yaml": true,
	"/login":            true,
	"/logout":           true,
}

// TokenVerifier — проверка сессионного токена.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*auth.Claims, error)
}

// SessionAuth — middleware проверки сессии.
type SessionAuth struct {
	verifier     TokenVerifier
	cookieSecure bool
	logger       *slog.Logger
}

// NewSessionAuth создаёт middleware проверки сессии.
// cookieSecure — флаг Secure для очищаемой cookie.
func NewSessionAuth(verifier TokenVerifier, cookieSecure bool, logger *slog.Logger) *SessionAuth {
	return &SessionAuth{
		verifier:     verifier,
		cookieSecure: cookieSecure,
		logger:       logger.With(slog.String("component", "session_auth")),
	}
}

// Middleware возвращает HTTP middleware проверки сессии.
func (a *SessionAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if IsPublicPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			api := isAPIPath(r.URL.Path)

			token := tokenFromRequest(r)
			if token == "" {
				if api {
					apierrors.Unauthorized(w, MsgUnauthorized)
				} else {
					http.Redirect(w, r, loginPath, http.StatusSeeOther)
				}
				return
			}

			claims, err := a.verifier.Verify(r.Context(), token)
			if err != nil {
				a.logger.Debug("Сессия отклонена",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				ClearSessionCookie(w, a.cookieSecure)

				expired := errors.Is(err, auth.ErrTokenExpired)
				switch {
				case api && expired:
					apierrors.Unauthorized(w, MsgExpiredSession)
				case api:
					apierrors.Unauthorized(w, MsgInvalidSession)
				case expired:
					http.Redirect(w, r, loginExpiredRedirect, http.StatusSeeOther)
				default:
					http.Redirect(w, r, loginInvalidRedirect, http.StatusSeeOther)
				}
				return
			}

			setLoggedUser(r.Context(), claims.Name())
			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IsPublicPath — true для путей, не требующих сессии:
// health-пробы, метрики, вход/выход и контракт API.
// Точка в пути публичности не даёт: идентификаторы DICOM (UID) содержат точки.
func IsPublicPath(path string) bool {
	return publicPaths[path] || strings.HasPrefix(path, "/health/")
}

// isAPIPath — запрос к JSON API.
func isAPIPath(path string) bool {
	return path == "/api" || strings.HasPrefix(path, "/api/")
}

// tokenFromRequest извлекает токен из cookie или заголовка Authorization.
func tokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(auth.CookieName); err == nil && c.Value != "" {
		return c.Value
	}

	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// SetSessionCookie устанавливает cookie с сессионным токеном.
func SetSessionCookie(w http.ResponseWriter, token string, maxAge int, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie удаляет cookie с сессионным токеном.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	SetSessionCookie(w, "", -1, secure)
}

// ClaimsFromContext извлекает claims сессии из контекста запроса.
// Возвращает nil, если запрос прошёл без аутентификации.
func ClaimsFromContext(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(ContextKeyClaims).(*auth.Claims)
	return claims
}
