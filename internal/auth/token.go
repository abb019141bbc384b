// Пакет auth — сессионные токены DICOM Viewer.
// TokenManager выпускает HS256 JWT для входа по логину/паролю и проверяет их.
// Дополнительно может принимать RS256-токены внешнего IdP через JWKS.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CookieName — имя cookie с сессионным токеном.
const CookieName = "auth_token"

// jwksClientTimeout — таймаут HTTP-клиента JWKS.
const jwksClientTimeout = 10 * time.Second

// Ошибки проверки токена.
var (
	// ErrTokenExpired — срок действия токена истёк.
	ErrTokenExpired = errors.New("срок действия токена истёк")
	// ErrTokenInvalid — токен повреждён, подписан чужим ключом или не прошёл проверку claims.
	ErrTokenInvalid = errors.New("невалидный токен")
)

// Claims — claims сессионного токена.
type Claims struct {
	jwt.RegisteredClaims
	// Username — имя пользователя (HS256-токены)
	Username string `json:"username,omitempty"`
	// PreferredUsername — имя пользователя в токенах внешнего IdP
	PreferredUsername string `json:"preferred_username,omitempty"`
}

// Name возвращает имя пользователя из доступных claims.
func (c *Claims) Name() string {
	switch {
	case c.Username != "":
		return c.Username
	case c.PreferredUsername != "":
		return c.PreferredUsername
	default:
		return c.Subject
	}
}

// TokenManager — выпуск и проверка сессионных токенов.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	jwks   keyfunc.Keyfunc
}

// NewTokenManager создаёт менеджер HS256-токенов.
func NewTokenManager(secret string, ttl time.Duration, issuer string) *TokenManager {
	return &TokenManager{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: issuer,
	}
}

// WithJWKS включает приём RS256-токенов, подписанных ключами из JWKS.
func (m *TokenManager) WithJWKS(k keyfunc.Keyfunc) *TokenManager {
	m.jwks = k
	return m
}

// TTL возвращает время жизни выпускаемых токенов.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue выпускает токен для пользователя.
func (m *TokenManager) Issue(username string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(m.ttl)

	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   username,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Username: username,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("подпись токена: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify проверяет подпись и срок действия токена.
// Возвращает ErrTokenExpired или ErrTokenInvalid.
func (m *TokenManager) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	methods := []string{jwt.SigningMethodHS256.Alg()}
	if m.jwks != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, m.keyfunc(ctx),
		jwt.WithValidMethods(methods),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}

	// Issuer проверяется только для собственных токенов
	if token.Method.Alg() == jwt.SigningMethodHS256.Alg() && claims.Issuer != m.issuer {
		return nil, fmt.Errorf("%w: неожиданный issuer %q", ErrTokenInvalid, claims.Issuer)
	}
	if claims.Name() == "" {
		return nil, fmt.Errorf("%w: отсутствует sub", ErrTokenInvalid)
	}

	return claims, nil
}

// keyfunc выбирает ключ проверки по алгоритму токена.
func (m *TokenManager) keyfunc(ctx context.Context) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		switch t.Method.Alg() {
		case jwt.SigningMethodHS256.Alg():
			return m.secret, nil
		case jwt.SigningMethodRS256.Alg():
			if m.jwks != nil {
				return m.jwks.KeyfuncCtx(ctx)(t)
			}
		}
		return nil, fmt.Errorf("неподдерживаемый алгоритм подписи %s", t.Method.Alg())
	}
}

// NewJWKS создаёт keyfunc по JWKS внешнего IdP с фоновым обновлением ключей.
// Старт не блокируется, если IdP ещё недоступен.
func NewJWKS(jwksURL string, refreshInterval time.Duration, logger *slog.Logger) (keyfunc.Keyfunc, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: jwksClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}
	return k, nil
}

// Credentials — учётные данные администратора для входа.
type Credentials struct {
	Username string
	Password string
}

// Match сравнивает логин и пароль за постоянное время.
func (c Credentials) Match(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(c.Username))
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(c.Password))
	return userOK&passOK == 1
}
