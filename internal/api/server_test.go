package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/adityarama/sekolah-core/internal/audit"
	"github.com/adityarama/sekolah-core/internal/auth"
	"github.com/adityarama/sekolah-core/internal/infrastructure/config"
	"github.com/adityarama/sekolah-core/internal/infrastructure/logging"
)

const testJWTSecret = "test-secret-key-at-least-32-characters-long"

// setupTestDB creates a temp-file SQLite database with the full schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	f, err := os.CreateTemp("", "api-test-*.db")
	if err != nil {
		t.Fatalf("creating temp db: %v", err)
	}
	dbPath := f.Name()
	f.Close()
	t.Cleanup(func() { os.Remove(dbPath) })

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE users (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			role          TEXT NOT NULL DEFAULT 'user',
			is_active     INTEGER NOT NULL DEFAULT 1,
			created_by    TEXT,
			created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			updated_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
			FOREIGN KEY (created_by) REFERENCES users(id) ON DELETE SET NULL
		) STRICT;

		CREATE TABLE revoked_tokens (
			token_hash TEXT PRIMARY KEY,
			expires_at TEXT NOT NULL,
			revoked_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE TABLE audit_logs (
			id          TEXT PRIMARY KEY,
			action      TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id   TEXT,
			user_id     TEXT,
			source      TEXT NOT NULL,
			details     TEXT,
			created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("applying schema: %v", err)
	}

	return db
}

// testServer builds a Server over a fresh database and returns it with
// its router and the underlying database handle.
func testServer(t *testing.T) (*Server, http.Handler, *sql.DB) {
	t.Helper()

	db := setupTestDB(t)
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")

	userRepo := auth.NewUserRepository(db)
	svc := auth.NewService(userRepo, auth.NewRevocationRepository(db), testJWTSecret, 0, log)

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		Security: config.SecurityConfig{
			JWT: config.JWTConfig{
				Secret:   testJWTSecret,
				TokenTTL: 15,
			},
			RateLimit: config.RateLimitConfig{Enabled: false},
		},
		Logger:      log,
		AuthService: svc,
		UserRepo:    userRepo,
		AuditRepo:   audit.NewRepository(db),
		Version:     "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return srv, srv.buildRouter(), db
}

// seedUser inserts an active user with the given role. The password is
// always "test-password".
func seedUser(t *testing.T, db *sql.DB, email string, role auth.Role) *auth.User {
	t.Helper()

	hash, err := auth.HashPassword("test-password")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	user := &auth.User{
		Name:         email,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := auth.NewUserRepository(db).Create(context.Background(), user); err != nil {
		t.Fatalf("creating test user %s: %v", email, err)
	}
	return user
}

// doJSON performs a request against the router with an optional JSON body
// and bearer token.
func doJSON(t *testing.T, router http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshalling body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// login authenticates a seeded user and returns the session token.
func login(t *testing.T, router http.Handler, email string) string {
	t.Helper()

	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    email,
		"password": "test-password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding login response: %v", err)
	}
	return resp.Token
}

func TestHealth(t *testing.T) {
	_, router, _ := testServer(t)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding health body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestLogin(t *testing.T) {
	_, router, db := testServer(t)
	user := seedUser(t, db, "teacher@school.test", auth.RoleGuru)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "teacher@school.test",
		"password": "test-password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Token == "" {
		t.Error("token should not be empty")
	}
	if resp.Role != auth.RoleGuru {
		t.Errorf("role = %q, want %q", resp.Role, auth.RoleGuru)
	}
	if resp.User == nil || resp.User.ID != user.ID {
		t.Error("response should carry the user record")
	}

	// Password hash must never appear in the response body.
	if bytes.Contains(rec.Body.Bytes(), []byte("argon2id")) {
		t.Error("response leaks the password hash")
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	_, router, db := testServer(t)
	seedUser(t, db, "known@school.test", auth.RoleUser)

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"wrong password", map[string]string{"email": "known@school.test", "password": "wrong"}, http.StatusUnauthorized},
		{"unknown email", map[string]string{"email": "nobody@school.test", "password": "test-password"}, http.StatusUnauthorized},
		{"missing fields", map[string]string{"email": "known@school.test"}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestProtectedRoute_TokenRejections(t *testing.T) {
	_, router, db := testServer(t)
	seedUser(t, db, "user@school.test", auth.RoleUser)
	token := login(t, router, "user@school.test")

	// Valid token passes.
	if rec := doJSON(t, router, http.MethodGet, "/api/v1/auth/me", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("me with valid token status = %d", rec.Code)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"no header", ""},
		{"bare token without scheme", token},
		{"wrong scheme", "Basic " + token},
		{"garbage token", "Bearer not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			var e Error
			if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
				t.Fatalf("decoding error body: %v", err)
			}
			// Every rejection shares one envelope so the response does
			// not reveal why the token failed.
			if e.Code != ErrCodeUnauthorized || e.Message != "authentication required" {
				t.Errorf("envelope = %+v, want uniform unauthorised envelope", e)
			}
		})
	}
}

func TestLogout_RevokesToken(t *testing.T) {
	_, router, db := testServer(t)
	seedUser(t, db, "leaver@school.test", auth.RoleUser)
	token := login(t, router, "leaver@school.test")

	if rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/logout", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("logout status = %d", rec.Code)
	}

	// The token is dead immediately after the logout response.
	if rec := doJSON(t, router, http.MethodGet, "/api/v1/auth/me", token, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("me after logout status = %d, want 401", rec.Code)
	}

	// Logging out again, or with no token at all, still succeeds.
	if rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/logout", token, nil); rec.Code != http.StatusOK {
		t.Errorf("repeat logout status = %d, want 200", rec.Code)
	}
	if rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/logout", "", nil); rec.Code != http.StatusOK {
		t.Errorf("logout without token status = %d, want 200", rec.Code)
	}
}

func TestProtectedRoute_RegistryOutage(t *testing.T) {
	_, router, db := testServer(t)
	seedUser(t, db, "outage@school.test", auth.RoleUser)
	token := login(t, router, "outage@school.test")

	db.Close()

	// Fail closed, but with a status distinct from 401 so clients do not
	// discard their session over a transient store outage.
	rec := doJSON(t, router, http.MethodGet, "/api/v1/auth/me", token, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status during outage = %d, want 503", rec.Code)
	}
}

func TestRoleEnforcement(t *testing.T) {
	_, router, db := testServer(t)
	seedUser(t, db, "admin@school.test", auth.RoleAdmin)
	seedUser(t, db, "guru@school.test", auth.RoleGuru)
	seedUser(t, db, "student@school.test", auth.RoleUser)

	adminToken := login(t, router, "admin@school.test")
	guruToken := login(t, router, "guru@school.test")
	studentToken := login(t, router, "student@school.test")

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		want   int
	}{
		{"admin lists users", http.MethodGet, "/api/v1/users", adminToken, http.StatusOK},
		{"guru cannot list users", http.MethodGet, "/api/v1/users", guruToken, http.StatusForbidden},
		{"student cannot list users", http.MethodGet, "/api/v1/users", studentToken, http.StatusForbidden},
		{"admin reads audit", http.MethodGet, "/api/v1/audit", adminToken, http.StatusOK},
		{"guru cannot read audit", http.MethodGet, "/api/v1/audit", guruToken, http.StatusForbidden},
		{"admin sees staff overview", http.MethodGet, "/api/v1/staff/overview", adminToken, http.StatusOK},
		{"guru sees staff overview", http.MethodGet, "/api/v1/staff/overview", guruToken, http.StatusOK},
		{"student cannot see staff overview", http.MethodGet, "/api/v1/staff/overview", studentToken, http.StatusForbidden},
		{"any role reads own identity", http.MethodGet, "/api/v1/auth/me", studentToken, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, tt.method, tt.path, tt.token, nil)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body: %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestMe_DeletedAccount(t *testing.T) {
	_, router, db := testServer(t)
	user := seedUser(t, db, "ghost@school.test", auth.RoleUser)
	token := login(t, router, "ghost@school.test")

	if err := auth.NewUserRepository(db).Delete(context.Background(), user.ID); err != nil {
		t.Fatalf("deleting user: %v", err)
	}

	// The token still validates, but the account is gone.
	rec := doJSON(t, router, http.MethodGet, "/api/v1/auth/me", token, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("me for deleted account status = %d, want 401", rec.Code)
	}
}

func TestChangePassword(t *testing.T) {
	_, router, db := testServer(t)
	seedUser(t, db, "rotate@school.test", auth.RoleUser)
	token := login(t, router, "rotate@school.test")

	// Wrong current password is rejected.
	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/change-password", token, map[string]string{
		"current_password": "wrong",
		"new_password":     "brand-new-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("change with wrong current status = %d, want 401", rec.Code)
	}

	// Short new password is rejected.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/auth/change-password", token, map[string]string{
		"current_password": "test-password",
		"new_password":     "short",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("change with short password status = %d, want 400", rec.Code)
	}

	// Valid rotation succeeds and the new password logs in.
	rec = doJSON(t, router, http.MethodPost, "/api/v1/auth/change-password", token, map[string]string{
		"current_password": "test-password",
		"new_password":     "brand-new-password",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("change password status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "rotate@school.test",
		"password": "brand-new-password",
	})
	if rec.Code != http.StatusOK {
		t.Errorf("login with new password status = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "rotate@school.test",
		"password": "test-password",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("login with old password status = %d, want 401", rec.Code)
	}
}

func TestLoginRateLimit(t *testing.T) {
	srv, _, db := testServer(t)
	seedUser(t, db, "limited@school.test", auth.RoleUser)

	srv.secCfg.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 3}
	router := srv.buildRouter()

	body := map[string]string{"email": "limited@school.test", "password": "wrong"}
	for i := 0; i < 3; i++ {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", body)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, rec.Code)
		}
	}

	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("throttled attempt status = %d, want 429", rec.Code)
	}

	// Other endpoints are not throttled.
	if rec := doJSON(t, router, http.MethodGet, "/api/v1/health", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health during throttle status = %d, want 200", rec.Code)
	}
}

func TestAuditTrail_RecordsActivity(t *testing.T) {
	_, router, db := testServer(t)
	seedUser(t, db, "admin@school.test", auth.RoleAdmin)
	seedUser(t, db, "watched@school.test", auth.RoleUser)

	adminToken := login(t, router, "admin@school.test")
	login(t, router, "watched@school.test")
	doJSON(t, router, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email": "watched@school.test", "password": "wrong",
	})

	rec := doJSON(t, router, http.MethodGet, "/api/v1/audit?action=login", adminToken, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit list status = %d", rec.Code)
	}

	var result struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding audit response: %v", err)
	}
	if result.Total != 2 {
		t.Errorf("login audit entries = %d, want 2", result.Total)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/v1/audit?action=login_failed", adminToken, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decoding audit response: %v", err)
	}
	if result.Total != 1 {
		t.Errorf("failed-login audit entries = %d, want 1", result.Total)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	db := setupTestDB(t)
	userRepo := auth.NewUserRepository(db)
	svc := auth.NewService(userRepo, auth.NewRevocationRepository(db), testJWTSecret, 0, log)

	tests := []struct {
		name string
		deps Deps
	}{
		{"missing logger", Deps{AuthService: svc, UserRepo: userRepo}},
		{"missing auth service", Deps{Logger: log, UserRepo: userRepo}},
		{"missing user repo", Deps{Logger: log, AuthService: svc}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.deps); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	srv, _, _ := testServer(t)

	panicking := srv.recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(fmt.Errorf("boom"))
	}))

	rec := httptest.NewRecorder()
	panicking.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status after panic = %d, want 500", rec.Code)
	}
}
