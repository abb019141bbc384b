// openapi.go — валидация входящих запросов по OpenAPI-контракту.
// Проверяются только задокументированные маршруты /api/*,
// остальные запросы передаются дальше без изменений.
package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	apierrors "github.com/bigkaa/dicomviewer/internal/api/errors"
)

// Сообщения клиенту. Текст ошибки kin-openapi (схема, значения) уходит только в журнал.
const (
	MsgInvalidRequest = "Solicitud inválida"
	MsgInvalidBody    = "Cuerpo de la solicitud inválido"
)

// validationMessage — сообщение клиенту по ошибке валидации.
func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if !errors.As(err, &reqErr) {
		return MsgInvalidRequest
	}
	switch {
	case reqErr.Parameter != nil:
		return "Parámetro inválido: " + reqErr.Parameter.Name
	case reqErr.RequestBody != nil:
		return MsgInvalidBody
	default:
		return MsgInvalidRequest
	}
}

// RequestValidator — middleware валидации запросов по контракту.
type RequestValidator struct {
	router routers.Router
	logger *slog.Logger
}

// NewRequestValidator создаёт валидатор по загруженному контракту.
func NewRequestValidator(doc *openapi3.T, logger *slog.Logger) (*RequestValidator, error) {
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("создание OpenAPI-маршрутизатора: %w", err)
	}
	return &RequestValidator{
		router: router,
		logger: logger.With(slog.String("component", "openapi_validator")),
	}, nil
}

// Middleware возвращает HTTP middleware валидации.
// Нарушение контракта → 400 VALIDATION_ERROR.
func (v *RequestValidator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isAPIPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			// Маршрут не описан в контракте (catch-all прокси) — пропускаем
			route, pathParams, err := v.router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				},
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				v.logger.Debug("Запрос не прошёл валидацию",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				apierrors.ValidationError(w, validationMessage(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
