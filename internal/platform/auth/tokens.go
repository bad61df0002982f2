package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenPair is the result of a successful sign-in or refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Issuer signs HS256 access and refresh tokens.
type Issuer struct {
	Issuer     string
	SigningKey []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

func (i *Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

func (i *Issuer) sign(subject, role, typ string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    i.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role:      role,
		TokenType: typ,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.SigningKey)
}

// IssuePair creates a fresh access/refresh pair for the user.
func (i *Issuer) IssuePair(userID, role string) (*TokenPair, error) {
	access, err := i.sign(userID, role, TokenAccess, i.AccessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := i.sign(userID, role, TokenRefresh, i.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(i.AccessTTL.Seconds()),
	}, nil
}

// Parse verifies a token of the given type issued by this issuer.
func (i *Issuer) Parse(token, wantType string) (*Claims, error) {
	return ParseToken(token, i.SigningKey, i.Issuer, wantType)
}
