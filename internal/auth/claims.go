package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// CustomClaims extends JWT standard claims with sekolah-core-specific fields.
type CustomClaims struct {
	jwt.RegisteredClaims
	Role  Role   `json:"role"`
	Email string `json:"email,omitempty"`
}

// defaultTokenTTL applies when no validity window is configured.
const defaultTokenTTL = time.Hour

// GenerateToken creates a signed session token for a user.
//
// The token embeds the user id (sub), role, email, issued-at, expiry, and a
// random jti. The jti guarantees two logins for the same user at any time
// produce distinct token strings.
func GenerateToken(user *User, secret string, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	// JWT numeric dates carry second precision; truncate so the returned
	// expiry matches what the token itself says.
	now := time.Now().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		Role:  user.Role,
		Email: user.Email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing session token: %w", err)
	}
	return signed, expiresAt, nil
}

// ParseToken validates and parses a session token, returning the custom claims.
// It checks the signature, expiry (exclusive: a token expiring exactly now is
// already expired), and required fields.
//
// Expired tokens return ErrTokenExpired; every other failure returns
// ErrTokenInvalid. Callers present both identically to clients — the
// distinction exists for server-side logs only.
func ParseToken(tokenString, secret string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	if claims.Role == "" {
		return nil, fmt.Errorf("%w: missing role", ErrTokenInvalid)
	}

	return claims, nil
}
