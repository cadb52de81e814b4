// Package auth provides authentication and authorisation for sekolah-core.
//
// It implements a 3-tier role model (user → guru → admin) with:
//   - Argon2id password hashing (OWASP 2025 recommendation)
//   - Self-contained HS256 session tokens (id, role, expiry baked in)
//   - A durable token revocation registry so logout kills a session
//     server-side, immediately, and across restarts
//   - Role allow-list enforcement per protected route
//
// Because role and expiry are embedded in the token at issuance, a role
// change or account deactivation takes effect only when the token expires
// or is explicitly revoked. Shorten the configured TTL if stronger
// freshness is needed.
package auth
