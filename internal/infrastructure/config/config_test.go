package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// testSecret is a 32+ character signing secret for config validation tests.
const testSecret = "0123456789abcdef0123456789abcdef"

// writeConfigFile writes YAML content to a temp file and returns its path.
func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfigFile(t, `
security:
  jwt:
    secret: "`+testSecret+`"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("API.Port = %d, want 8080", cfg.API.Port)
	}
	if cfg.Database.Path != "./data/sekolah.db" {
		t.Errorf("Database.Path = %q, want default", cfg.Database.Path)
	}
	if !cfg.Database.WALMode {
		t.Error("Database.WALMode should default to true")
	}
	if cfg.Security.JWT.TokenTTL != 60 {
		t.Errorf("JWT.TokenTTL = %d, want 60", cfg.Security.JWT.TokenTTL)
	}
	if got := cfg.GetTokenTTL(); got != 60*time.Minute {
		t.Errorf("GetTokenTTL() = %v, want 60m", got)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
api:
  port: 9090
database:
  path: "/tmp/test.db"
security:
  jwt:
    secret: "`+testSecret+`"
    token_ttl: 15
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want /tmp/test.db", cfg.Database.Path)
	}
	if cfg.Security.JWT.TokenTTL != 15 {
		t.Errorf("JWT.TokenTTL = %d, want 15", cfg.Security.JWT.TokenTTL)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfigFile(t, `
database:
  path: "/tmp/from-file.db"
security:
  jwt:
    secret: "file-secret-is-not-long-enough!!!"
`)

	t.Setenv("SEKOLAH_DATABASE_PATH", "/tmp/from-env.db")
	t.Setenv("SEKOLAH_JWT_SECRET", testSecret)
	t.Setenv("SEKOLAH_API_PORT", "7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/from-env.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.Security.JWT.Secret != testSecret {
		t.Error("JWT.Secret should come from environment")
	}
	if cfg.API.Port != 7070 {
		t.Errorf("API.Port = %d, want 7070", cfg.API.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("Load() should fail for missing file")
	}
}

func TestValidate_MissingSecret(t *testing.T) {
	path := writeConfigFile(t, `
api:
  port: 8080
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() should fail without a signing secret")
	}
	if !strings.Contains(err.Error(), "secret") {
		t.Errorf("error %q should mention the secret", err)
	}
}

func TestValidate_ShortSecret(t *testing.T) {
	path := writeConfigFile(t, `
security:
  jwt:
    secret: "too-short"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() should reject a short signing secret")
	}
}

func TestValidate_BadPort(t *testing.T) {
	path := writeConfigFile(t, `
api:
  port: 99999
security:
  jwt:
    secret: "`+testSecret+`"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() should reject an out-of-range port")
	}
}

func TestValidate_NonPositiveTTL(t *testing.T) {
	path := writeConfigFile(t, `
security:
  jwt:
    secret: "`+testSecret+`"
    token_ttl: -5
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() should reject a non-positive token TTL")
	}
}
