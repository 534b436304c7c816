package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfigFile(t, ""))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("server.port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Storage.DefaultBackend != "local" {
		t.Errorf("storage.default_backend = %q, want local", cfg.Storage.DefaultBackend)
	}
	if cfg.RateLimit.Window != 60*time.Second {
		t.Errorf("rate_limit.window = %v, want 60s", cfg.RateLimit.Window)
	}
	if cfg.RateLimit.IPLimit != 100 {
		t.Errorf("rate_limit.ip_limit = %d, want 100", cfg.RateLimit.IPLimit)
	}
	if cfg.Vulndb.BaseURL != "https://api.osv.dev" {
		t.Errorf("vulndb.base_url = %q", cfg.Vulndb.BaseURL)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 9999
rate_limit:
  backend: memory
  window: 30s
  endpoints:
    tokens:create: 2
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("server.port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.RateLimit.Window != 30*time.Second {
		t.Errorf("rate_limit.window = %v, want 30s", cfg.RateLimit.Window)
	}
	if got := cfg.RateLimit.LimitFor("tokens:create"); got != 2 {
		t.Errorf("LimitFor(tokens:create) = %d, want 2", got)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("AT_DATABASE_HOST", "db.internal")
	cfg, err := Load(writeConfigFile(t, "database:\n  host: localhost\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("database.host = %q, want db.internal", cfg.Database.Host)
	}
}

func TestLoad_ExpandsSecretReferences(t *testing.T) {
	t.Setenv("SECRET_DB_PASS", "hunter2")
	cfg, err := Load(writeConfigFile(t, "database:\n  password: ${SECRET_DB_PASS}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Password != "hunter2" {
		t.Errorf("database.password = %q, want hunter2", cfg.Database.Password)
	}
}

func TestValidate_RejectsS3WithoutBucket(t *testing.T) {
	_, err := Load(writeConfigFile(t, "storage:\n  default_backend: s3\n"))
	if err == nil {
		t.Fatal("expected error for s3 backend without bucket")
	}
}

func TestValidate_RejectsRedisBackendWithoutAddr(t *testing.T) {
	_, err := Load(writeConfigFile(t, "rate_limit:\n  backend: redis\n"))
	if err == nil {
		t.Fatal("expected error for redis rate limit backend without redis.addr")
	}
}

func TestValidate_RejectsOIDCWithoutIssuer(t *testing.T) {
	_, err := Load(writeConfigFile(t, "auth:\n  oidc:\n    enabled: true\n    audience: aud\n"))
	if err == nil {
		t.Fatal("expected error for enabled OIDC without issuer_url")
	}
}

func TestLimitFor_FallsBackToDefault(t *testing.T) {
	r := RateLimitConfig{Endpoints: map[string]int{"tokens:list": 10}}
	if got := r.LimitFor("tokens:list"); got != 10 {
		t.Errorf("LimitFor(tokens:list) = %d, want 10", got)
	}
	if got := r.LimitFor("unknown"); got != defaultEndpointLimit {
		t.Errorf("LimitFor(unknown) = %d, want %d", got, defaultEndpointLimit)
	}
}

func TestGetDSN(t *testing.T) {
	c := DatabaseConfig{Host: "h", Port: 5432, Name: "n", User: "u", Password: "p", SSLMode: "disable"}
	want := "host=h port=5432 user=u password=p dbname=n sslmode=disable"
	if got := c.GetDSN(); got != want {
		t.Errorf("GetDSN() = %q, want %q", got, want)
	}
}
