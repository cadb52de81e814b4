// Package api provides the HTTP REST surface of the auth subsystem:
// login, logout, session introspection, admin user management and the
// audit trail.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Every protected route runs behind two middleware layers: the auth
// middleware resolves the bearer token into a Principal (rejecting
// missing, revoked, expired and malformed tokens), and requireRole
// enforces a per-route role allow-list on top of it.
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
