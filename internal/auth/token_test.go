package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key-dv"

var testSecret = strings.Repeat("s", 32)

// generateTestKey генерирует RSA ключ для тестов.
func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}
	data, _ := json.Marshal(jwks)
	return data
}

// signRS256 подписывает claims ключом key.
func signRS256(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestTokenManager_IssueVerify(t *testing.T) {
	m := NewTokenManager(testSecret, time.Hour, "dicom-viewer")

	token, expiresAt, err := m.Issue("admin")
	if err != nil {
		t.Fatalf("Issue ошибка: %v", err)
	}
	if time.Until(expiresAt) < 59*time.Minute {
		t.Errorf("expiresAt = %v, ожидался ~1h", expiresAt)
	}

	claims, err := m.Verify(context.Background(), token)
	if err != nil {
		t.Fatalf("Verify ошибка: %v", err)
	}
	if claims.Name() != "admin" || claims.Subject != "admin" {
		t.Errorf("claims = %+v", claims)
	}
	if claims.ID == "" {
		t.Error("jti не заполнен")
	}
	if claims.Issuer != "dicom-viewer" {
		t.Errorf("Issuer = %q", claims.Issuer)
	}
}

func TestTokenManager_UniqueJTI(t *testing.T) {
	m := NewTokenManager(testSecret, time.Hour, "dicom-viewer")
	a, _, _ := m.Issue("admin")
	b, _, _ := m.Issue("admin")
	if a == b {
		t.Error("два токена совпадают, ожидался уникальный jti")
	}
}

func TestTokenManager_Expired(t *testing.T) {
	m := NewTokenManager(testSecret, -time.Minute, "dicom-viewer")
	token, _, err := m.Issue("admin")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := m.Verify(context.Background(), token); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, ожидался ErrTokenExpired", err)
	}
}

func TestTokenManager_Invalid(t *testing.T) {
	m := NewTokenManager(testSecret, time.Hour, "dicom-viewer")
	other := NewTokenManager(strings.Repeat("o", 32), time.Hour, "dicom-viewer")
	foreignIssuer := NewTokenManager(testSecret, time.Hour, "someone-else")

	otherToken, _, _ := other.Issue("admin")
	issuerToken, _, _ := foreignIssuer.Issue("admin")
	noExp, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin", "iss": "dicom-viewer",
	}).SignedString([]byte(testSecret))

	tests := []struct {
		name  string
		token string
	}{
		{"мусор", "not-a-token"},
		{"пустой", ""},
		{"чужой секрет", otherToken},
		{"чужой issuer", issuerToken},
		{"без exp", noExp},
		{"RS256 без JWKS", signRS256(t, generateTestKey(t), jwt.MapClaims{
			"sub": "u", "exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Verify(context.Background(), tt.token)
			if !errors.Is(err, ErrTokenInvalid) {
				t.Errorf("err = %v, ожидался ErrTokenInvalid", err)
			}
		})
	}
}

func TestTokenManager_JWKS(t *testing.T) {
	key := generateTestKey(t)
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc: %v", err)
	}

	m := NewTokenManager(testSecret, time.Hour, "dicom-viewer").WithJWKS(kf)

	valid := signRS256(t, key, jwt.MapClaims{
		"sub":                "kc-user-1",
		"preferred_username": "radiologist",
		"iss":                "https://idp.test/realms/pacs",
		"exp":                jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	claims, err := m.Verify(context.Background(), valid)
	if err != nil {
		t.Fatalf("Verify ошибка: %v", err)
	}
	if claims.Name() != "radiologist" {
		t.Errorf("Name() = %q, ожидался radiologist", claims.Name())
	}

	expired := signRS256(t, key, jwt.MapClaims{
		"sub": "kc-user-1",
		"exp": jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	if _, err := m.Verify(context.Background(), expired); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("err = %v, ожидался ErrTokenExpired", err)
	}

	foreign := signRS256(t, generateTestKey(t), jwt.MapClaims{
		"sub": "kc-user-1",
		"exp": jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if _, err := m.Verify(context.Background(), foreign); !errors.Is(err, ErrTokenInvalid) {
		t.Errorf("err = %v, ожидался ErrTokenInvalid", err)
	}

	// Собственные HS256-токены по-прежнему принимаются
	own, _, _ := m.Issue("admin")
	if _, err := m.Verify(context.Background(), own); err != nil {
		t.Errorf("HS256 Verify ошибка: %v", err)
	}
}

func TestCredentials_Match(t *testing.T) {
	c := Credentials{Username: "admin", Password: "secret"}

	tests := []struct {
		user, pass string
		want       bool
	}{
		{"admin", "secret", true},
		{"admin", "wrong", false},
		{"other", "secret", false},
		{"", "", false},
		{"admin", "secret2", false},
	}
	for _, tt := range tests {
		if got := c.Match(tt.user, tt.pass); got != tt.want {
			t.Errorf("Match(%q, %q) = %v, ожидалось %v", tt.user, tt.pass, got, tt.want)
		}
	}
}
