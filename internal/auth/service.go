package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/adityarama/sekolah-core/internal/infrastructure/logging"
)

// Service implements the credential check, token issuance, request
// authorisation and token revocation flows on top of the user store and
// the revocation registry.
type Service struct {
	users    UserRepository
	revoked  RevocationRepository
	secret   string
	tokenTTL time.Duration
	logger   *logging.Logger
}

// NewService creates an auth service. A zero ttl falls back to the
// package default of one hour.
func NewService(users UserRepository, revoked RevocationRepository, secret string, ttl time.Duration, logger *logging.Logger) *Service {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		users:    users,
		revoked:  revoked,
		secret:   secret,
		tokenTTL: ttl,
		logger:   logger,
	}
}

// TokenTTL returns the configured token lifetime.
func (s *Service) TokenTTL() time.Duration {
	return s.tokenTTL
}

// Authenticate checks an email/password pair and issues a fresh signed
// token on success. Unknown email, wrong password and deactivated
// accounts all return ErrInvalidCredentials; the distinction is logged
// server-side only.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		// Burn a hash anyway so response timing doesn't reveal
		// whether the account exists.
		_, _ = VerifyPassword(password, dummyHash) //nolint:errcheck // timing equaliser
		s.logger.Info("login rejected", "reason", "unknown_email")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	ok, err := VerifyPassword(password, user.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verifying password: %w", err)
	}
	if !ok {
		s.logger.Info("login rejected", "reason", "bad_password", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		s.logger.Info("login rejected", "reason", "inactive_account", "user_id", user.ID)
		return nil, ErrInvalidCredentials
	}

	token, expiresAt, err := GenerateToken(user, s.secret, s.tokenTTL)
	if err != nil {
		return nil, fmt.Errorf("issuing token: %w", err)
	}

	s.logger.Info("login succeeded", "user_id", user.ID, "role", string(user.Role))

	return &Session{
		Token:     token,
		Role:      user.Role,
		ExpiresAt: expiresAt,
		User:      user,
	}, nil
}

// Authorize validates a bearer token against the revocation registry and
// signature/expiry checks, then enforces the role allow-list. The checks
// run in a fixed order so each rejection has exactly one cause:
//
//  1. empty token          -> ErrTokenMissing
//  2. revoked token        -> ErrTokenRevoked (checked before the
//     signature, so a revoked-then-expired token still reads as revoked)
//  3. bad signature/expiry -> ErrTokenInvalid / ErrTokenExpired
//  4. role not allowed     -> ErrForbidden
//
// A registry lookup failure is returned as-is so the caller can fail
// closed instead of admitting a possibly revoked token.
func (s *Service) Authorize(ctx context.Context, rawToken string, required ...Role) (*Principal, error) {
	if rawToken == "" {
		return nil, ErrTokenMissing
	}

	revoked, err := s.revoked.IsRevoked(ctx, HashToken(rawToken))
	if err != nil {
		return nil, fmt.Errorf("revocation check: %w", err)
	}
	if revoked {
		return nil, ErrTokenRevoked
	}

	claims, err := ParseToken(rawToken, s.secret)
	if err != nil {
		return nil, err
	}

	principal := &Principal{
		UserID: claims.Subject,
		Email:  claims.Email,
		Role:   claims.Role,
	}

	if !RoleAllowed(principal.Role, required) {
		return nil, ErrForbidden
	}

	return principal, nil
}

// Revoke places a token on the durable deny-list. The operation is
// idempotent and succeeds for any token string, including garbage: a
// malformed token can't be used anyway, and logout must not fail.
func (s *Service) Revoke(ctx context.Context, rawToken string) error {
	if rawToken == "" {
		return nil
	}

	// Take the deny-list expiry from the token itself so the entry ages
	// out exactly when the token would stop validating. Unparseable
	// tokens get the maximum possible lifetime as the safe bound.
	expiresAt := time.Now().UTC().Add(s.tokenTTL)
	if claims, err := ParseToken(rawToken, s.secret); err == nil && claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time.UTC()
	}

	entry := RevokedToken{
		TokenHash: HashToken(rawToken),
		ExpiresAt: expiresAt,
		RevokedAt: time.Now().UTC(),
	}
	if err := s.revoked.Revoke(ctx, entry); err != nil {
		return err
	}

	s.logger.Info("token revoked")
	return nil
}

// HashToken returns the hex SHA-256 digest of a raw token. Only the
// digest is stored, so the deny-list never holds usable credentials.
func HashToken(rawToken string) string {
	sum := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(sum[:])
}

// dummyHash is a valid Argon2id hash of a throwaway string, used to
// equalise response time for unknown-email logins.
var dummyHash = func() string {
	h, err := HashPassword("timing-equaliser")
	if err != nil {
		panic(err)
	}
	return h
}()
