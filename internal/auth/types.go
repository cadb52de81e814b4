package auth

import (
	"errors"
	"strings"
	"time"
)

// Role represents an authorisation tier in the system.
type Role string

const (
	// RoleUser is a regular account (students, parents). Read-mostly access
	// to the public site; no content management.
	RoleUser Role = "user"

	// RoleGuru is a staff member (teachers). Manages classroom-facing
	// content but not accounts or system settings.
	RoleGuru Role = "guru"

	// RoleAdmin has full control: all content, user accounts, audit trail.
	RoleAdmin Role = "admin"
)

// ValidRoles is the closed set of valid account roles.
var ValidRoles = []Role{RoleUser, RoleGuru, RoleAdmin}

// IsValidRole returns true if the role is a member of the closed enumeration.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// RoleAllowed reports whether a principal's role satisfies a route's
// required-role set. An empty set means any authenticated principal.
func RoleAllowed(role Role, required []Role) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if role == r {
			return true
		}
	}
	return false
}

// NormalizeEmail canonicalises an email address for storage and lookup.
// Emails are unique case-insensitively, so they are always stored lowercased.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// User represents an authenticated account.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"` // never serialised
	Role         Role      `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedBy    string    `json:"created_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Principal is the verified identity resulting from a successful
// authorisation check. Protected handlers consult it instead of
// re-reading the user store.
type Principal struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
}

// Session is the result of a successful login: a signed bearer token plus
// the identity it represents.
type Session struct {
	Token     string    `json:"token"`
	Role      Role      `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
	User      *User     `json:"user"`
}

// RevokedToken is a deny-list entry for one explicitly invalidated token.
type RevokedToken struct {
	TokenHash string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	RevokedAt time.Time `json:"revoked_at"`
}

// Sentinel errors for auth operations.
var (
	// ErrInvalidCredentials covers unknown email, wrong password, and
	// deactivated accounts alike, so login failures don't reveal which
	// accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserNotFound       = errors.New("user not found")
	ErrEmailExists        = errors.New("email already registered")
	ErrTokenMissing       = errors.New("no token supplied")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenInvalid       = errors.New("invalid token")
	ErrForbidden          = errors.New("insufficient role")
)
