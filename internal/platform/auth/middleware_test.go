package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
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

func validClaims(subject, role, typ string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-" + subject,
			Subject:   subject,
			Issuer:    "medibook",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role:      role,
		TokenType: typ,
	}
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, header string) (echo.Context, *bool, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	err := mw(func(c echo.Context) error {
		called = true
		return c.String(http.StatusOK, "ok")
	})(c)
	return c, &called, err
}

func expectStatus(t *testing.T, err error, status int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != status {
		t.Errorf("expected %d, got %d", status, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_OptionalAllowsGuests(t *testing.T) {
	c, called, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Optional: true}), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !*called {
		t.Fatal("expected handler to run for guest")
	}
	if uid := UserIDFromContext(c.Request().Context()); uid != "" {
		t.Errorf("expected no user id for guest, got %q", uid)
	}
}

func TestJWTMiddleware_OptionalStillRejectsBadToken(t *testing.T) {
	_, called, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Optional: true}), "Bearer garbage")
	expectStatus(t, err, http.StatusUnauthorized)
	if *called {
		t.Error("handler must not run with an invalid token")
	}
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
			_, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), tt.header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	token := createTestToken(t, validClaims("user-1", RoleDoctor, TokenAccess), testSigningKey)

	c, called, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "medibook"}), "Bearer "+token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !*called {
		t.Fatal("expected handler to be called")
	}
	ctx := c.Request().Context()
	if uid := UserIDFromContext(ctx); uid != "user-1" {
		t.Errorf("expected user-1, got %q", uid)
	}
	if role := RoleFromContext(ctx); role != RoleDoctor {
		t.Errorf("expected doctor role, got %q", role)
	}
	if jti := TokenIDFromContext(ctx); jti != "jti-user-1" {
		t.Errorf("expected jti-user-1, got %q", jti)
	}
	if TokenExpiryFromContext(ctx).IsZero() {
		t.Error("expected token expiry in context")
	}
}

func TestJWTMiddleware_RejectsRefreshToken(t *testing.T) {
	token := createTestToken(t, validClaims("user-1", RolePatient, TokenRefresh), testSigningKey)
	_, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	token := createTestToken(t, validClaims("user-1", RolePatient, TokenAccess), []byte("other-key"))
	_, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongIssuer(t *testing.T) {
	claims := validClaims("user-1", RolePatient, TokenAccess)
	claims.Issuer = "someone-else"
	token := createTestToken(t, claims, testSigningKey)
	_, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "medibook"}), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Expired(t *testing.T) {
	claims := validClaims("user-1", RolePatient, TokenAccess)
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))
	token := createTestToken(t, claims, testSigningKey)
	_, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_MissingExpiry(t *testing.T) {
	claims := validClaims("user-1", RolePatient, TokenAccess)
	claims.ExpiresAt = nil
	token := createTestToken(t, claims, testSigningKey)
	_, _, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Revoked(t *testing.T) {
	store := NewMemoryRevocationStore(time.Minute)
	defer store.Close()

	claims := validClaims("user-1", RolePatient, TokenAccess)
	_ = store.Revoke(context.Background(), claims.ID, time.Now().Add(time.Hour))
	token := createTestToken(t, claims, testSigningKey)

	_, called, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Revocations: store}), "Bearer "+token)
	expectStatus(t, err, http.StatusUnauthorized)
	if *called {
		t.Error("handler must not run with a revoked token")
	}
}

func TestDevAuthMiddleware_HeaderIdentity(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(DevUserHeader, "dev-doctor")
	req.Header.Set(DevRoleHeader, RoleDoctor)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var gotUID, gotRole string
	err := DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey})(func(c echo.Context) error {
		gotUID = UserIDFromContext(c.Request().Context())
		gotRole = RoleFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUID != "dev-doctor" || gotRole != RoleDoctor {
		t.Errorf("expected dev-doctor/doctor, got %q/%q", gotUID, gotRole)
	}
}

func TestDevAuthMiddleware_FallsBackToJWT(t *testing.T) {
	_, _, err := runMiddleware(t, DevAuthMiddleware(JWTConfig{SigningKey: testSigningKey}), "Bearer nope")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestContextHelpers_Empty(t *testing.T) {
	ctx := context.Background()
	if UserIDFromContext(ctx) != "" || RoleFromContext(ctx) != "" || TokenIDFromContext(ctx) != "" {
		t.Error("expected empty values from bare context")
	}
	if !TokenExpiryFromContext(ctx).IsZero() {
		t.Error("expected zero expiry from bare context")
	}
}
