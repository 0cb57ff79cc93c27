package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(sub string, roles ...string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Roles: roles,
	}
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, req *http.Request) (Identity, error) {
	t.Helper()
	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())
	var got Identity
	err := mw(func(c echo.Context) error {
		got, _ = IdentityFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})(c)
	return got, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected HTTP %d, got nil error", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	uid := uuid.New()
	tokenStr := createTestToken(t, validClaims(uid.String(), "doctor"), testSigningKey)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	id, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != uid {
		t.Errorf("expected user %s, got %s", uid, id.UserID)
	}
	if !id.HasRole("doctor") || id.HasRole("admin") {
		t.Errorf("unexpected roles %v", id.Roles)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := validClaims(uuid.NewString(), "patient")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	tokenStr := createTestToken(t, claims, testSigningKey)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	tokenStr := createTestToken(t, validClaims(uuid.NewString()), []byte("another-key"))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_NonUUIDSubject(t *testing.T) {
	tokenStr := createTestToken(t, validClaims("user-123", "patient"), testSigningKey)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), req)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_IssuerAndAudience(t *testing.T) {
	claims := validClaims(uuid.NewString(), "patient")
	claims.Issuer = "https://id.example.org"
	claims.Audience = jwt.ClaimStrings{"telemed"}
	tokenStr := createTestToken(t, claims, testSigningKey)

	cfg := JWTConfig{SigningKey: testSigningKey, Issuer: "https://id.example.org", Audience: "telemed"}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	if _, err := runMiddleware(t, JWTMiddleware(cfg), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.Audience = "other"
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	_, err := runMiddleware(t, JWTMiddleware(cfg), req)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_JWKS(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kty": "RSA",
				"kid": "k1",
				"n":   base64.RawURLEncoding.EncodeToString(priv.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(priv.E)).Bytes()),
			}},
		})
	}))
	defer srv.Close()

	uid := uuid.New()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, validClaims(uid.String(), "patient"))
	token.Header["kid"] = "k1"
	tokenStr, err := token.SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)
	id, err := runMiddleware(t, JWTMiddleware(JWTConfig{JWKSURL: srv.URL}), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != uid {
		t.Errorf("expected user %s, got %s", uid, id.UserID)
	}
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	cfg := JWTConfig{SigningKey: testSigningKey, Skipper: func(echo.Context) bool { return true }}
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	if _, err := runMiddleware(t, JWTMiddleware(cfg), req); err != nil {
		t.Fatalf("expected skipped request to pass, got %v", err)
	}
}

func TestDevAuthMiddleware_Defaults(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	id, err := runMiddleware(t, DevAuthMiddleware(nil), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != uuid.Nil {
		t.Errorf("expected nil user id, got %s", id.UserID)
	}
	if len(id.Roles) != 1 || id.Roles[0] != "admin" {
		t.Errorf("expected roles=[admin], got %v", id.Roles)
	}
}

func TestDevAuthMiddleware_Headers(t *testing.T) {
	uid := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderDevUserID, uid.String())
	req.Header.Set(HeaderDevRole, "patient, doctor")

	id, err := runMiddleware(t, DevAuthMiddleware(nil), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != uid {
		t.Errorf("expected %s, got %s", uid, id.UserID)
	}
	if !id.HasRole("patient") || !id.HasRole("doctor") || id.HasRole("admin") {
		t.Errorf("unexpected roles %v", id.Roles)
	}
}

func TestDevAuthMiddleware_InvalidUserID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderDevUserID, "not-a-uuid")
	_, err := runMiddleware(t, DevAuthMiddleware(nil), req)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestDevAuthMiddleware_DelegatesBearer(t *testing.T) {
	uid := uuid.New()
	tokenStr := createTestToken(t, validClaims(uid.String(), "doctor"), testSigningKey)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tokenStr)

	id, err := runMiddleware(t, DevAuthMiddleware(JWTMiddleware(JWTConfig{SigningKey: testSigningKey})), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.UserID != uid || !id.HasRole("doctor") {
		t.Errorf("expected token identity, got %+v", id)
	}
}
