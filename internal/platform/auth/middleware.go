package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	UserIDKey      contextKey = "user_id"
	UserRoleKey    contextKey = "user_role"
	TokenIDKey     contextKey = "token_id"
	TokenExpiryKey contextKey = "token_expiry"
)

// Roles a verified token can carry.
const (
	RolePatient = "patient"
	RoleDoctor  = "doctor"
	RoleAdmin   = "admin"
)

// Token types. Refresh tokens are never accepted as bearer credentials.
const (
	TokenAccess  = "access"
	TokenRefresh = "refresh"
)

// Dev-mode identity headers, honoured only by DevAuthMiddleware.
const (
	DevUserHeader = "X-Dev-User-ID"
	DevRoleHeader = "X-Dev-Role"
)

type Claims struct {
	jwt.RegisteredClaims
	Role      string `json:"role"`
	TokenType string `json:"typ"`
}

type JWTConfig struct {
	Issuer     string
	SigningKey []byte
	// Revocations is consulted for every token; nil disables the check.
	Revocations RevocationStore
	// Optional lets requests without an Authorization header through as guests.
	Optional bool
}

var (
	errMissingHeader = errors.New("missing authorization header")
	errBadFormat     = errors.New("invalid authorization format")
)

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errMissingHeader
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errBadFormat
	}
	return strings.TrimSpace(parts[1]), nil
}

// ParseToken verifies signature, issuer, expiry and token type.
func ParseToken(tokenStr string, key []byte, issuer, wantType string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired()}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	}, opts...)
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.TokenType != wantType {
		return nil, errors.New("wrong token type")
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, errors.New("token missing subject or id")
	}
	return claims, nil
}

func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := bearerToken(c.Request())
			if errors.Is(err, errMissingHeader) && cfg.Optional {
				return next(c)
			}
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			claims, err := ParseToken(tokenStr, cfg.SigningKey, cfg.Issuer, TokenAccess)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			ctx := c.Request().Context()
			if cfg.Revocations != nil {
				revoked, err := cfg.Revocations.IsRevoked(ctx, claims.ID)
				if err != nil {
					return echo.NewHTTPError(http.StatusServiceUnavailable, "token revocation check unavailable").SetInternal(err)
				}
				if revoked {
					return echo.NewHTTPError(http.StatusUnauthorized, "token has been revoked")
				}
			}

			var expiry time.Time
			if claims.ExpiresAt != nil {
				expiry = claims.ExpiresAt.Time
			}
			c.SetRequest(c.Request().WithContext(WithIdentity(ctx, claims.Subject, claims.Role, claims.ID, expiry)))
			return next(c)
		}
	}
}

// DevAuthMiddleware trusts X-Dev-User-ID / X-Dev-Role when no bearer token is
// sent and otherwise behaves like JWTMiddleware. Never enable outside
// development.
func DevAuthMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	verify := JWTMiddleware(cfg)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		verified := verify(next)
		return func(c echo.Context) error {
			req := c.Request()
			if req.Header.Get("Authorization") == "" {
				if uid := req.Header.Get(DevUserHeader); uid != "" {
					role := req.Header.Get(DevRoleHeader)
					if role == "" {
						role = RolePatient
					}
					c.SetRequest(req.WithContext(WithIdentity(req.Context(), uid, role, "", time.Time{})))
					return next(c)
				}
			}
			return verified(c)
		}
	}
}

// WithIdentity stores a verified caller on ctx.
func WithIdentity(ctx context.Context, userID, role, jti string, expiry time.Time) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	ctx = context.WithValue(ctx, UserRoleKey, role)
	ctx = context.WithValue(ctx, TokenIDKey, jti)
	ctx = context.WithValue(ctx, TokenExpiryKey, expiry)
	return ctx
}

func UserIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(UserIDKey).(string)
	return uid
}

func RoleFromContext(ctx context.Context) string {
	role, _ := ctx.Value(UserRoleKey).(string)
	return role
}

func TokenIDFromContext(ctx context.Context) string {
	jti, _ := ctx.Value(TokenIDKey).(string)
	return jti
}

func TokenExpiryFromContext(ctx context.Context) time.Time {
	exp, _ := ctx.Value(TokenExpiryKey).(time.Time)
	return exp
}
