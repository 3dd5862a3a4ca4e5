package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "board.yaml")
	yml := `
addr: ":9000"
data_dir: "` + dir + `"
secrets:
  editor: "from-yaml"
  admin: "admin-yaml"
keepalive:
  bots: 1
  interval: 90s
backup:
  keep: 3
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("SECRET_PASSWORD", "from-env")
	t.Setenv("MODERATOR_PASSWORD", "master")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("addr=%q want :9000", cfg.Addr)
	}
	if cfg.Secrets.Editor != "from-env" {
		t.Fatalf("env should override yaml: editor=%q", cfg.Secrets.Editor)
	}
	if cfg.Secrets.Admin != "admin-yaml" || cfg.Secrets.ModeratorMaster != "master" {
		t.Fatalf("secrets mismatch: %+v", cfg.Secrets)
	}
	if cfg.KeepAlive.Bots != 1 || cfg.KeepAlive.Interval != 90*time.Second {
		t.Fatalf("keepalive mismatch: %+v", cfg.KeepAlive)
	}
	if cfg.KeepAlive.PingInterval != 30*time.Second {
		t.Fatalf("unset yaml field should keep default: ping=%s", cfg.KeepAlive.PingInterval)
	}
	if cfg.DataFile != filepath.Join(dir, "data.json") {
		t.Fatalf("data file=%q", cfg.DataFile)
	}
	if cfg.Backup.Keep != 3 {
		t.Fatalf("backup keep=%d want 3", cfg.Backup.Keep)
	}
}

func TestApplyEnv_PortAndPublicURLFallback(t *testing.T) {
	cfg := Defaults()
	env := map[string]string{
		"PORT":                "7777",
		"RENDER_EXTERNAL_URL": "https://board.example.com/",
		"KEEPALIVE_ENABLED":   "false",
		"RATE_LIMIT_RPS":      "2.5",
		"TRUST_PROXY":         "true",
		"MAX_BODY_BYTES":      "1024",
		"BACKUP_INTERVAL":     "bogus",
	}
	cfg.applyEnv(func(k string) string { return env[k] })
	cfg.Normalize()

	if cfg.Addr != ":7777" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.PublicURL != "https://board.example.com" {
		t.Fatalf("public url=%q", cfg.PublicURL)
	}
	if cfg.SelfURL() != "https://board.example.com" {
		t.Fatalf("self url=%q", cfg.SelfURL())
	}
	if cfg.KeepAlive.Enabled {
		t.Fatalf("keepalive should be disabled")
	}
	if cfg.RateLimit.RPS != 2.5 {
		t.Fatalf("rps=%v want 2.5", cfg.RateLimit.RPS)
	}
	if !cfg.HTTP.TrustProxy || cfg.HTTP.MaxBodyBytes != 1024 {
		t.Fatalf("http=%+v", cfg.HTTP)
	}
	if cfg.Backup.Interval != 10*time.Minute {
		t.Fatalf("bad duration should keep default, got %s", cfg.Backup.Interval)
	}
}

func TestSelfURL_Loopback(t *testing.T) {
	cfg := Defaults()
	cfg.Addr = "0.0.0.0:8123"
	if got := cfg.SelfURL(); got != "http://127.0.0.1:8123" {
		t.Fatalf("self url=%q", got)
	}
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.PublicURL = "not a url"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid public url rejected")
	}

	cfg = Defaults()
	cfg.Mirror.Enabled = true
	cfg.Mirror.Bucket = "b"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected incomplete mirror config rejected")
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.example.yaml"))
	if err != nil {
		t.Fatalf("Load example: %v", err)
	}
	if cfg.Backup.Keep != 48 || cfg.RateLimit.Burst != 20 || cfg.KeepAlive.StartDelay != 2*time.Second {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.RateLimit.RPS != 0 || cfg.HTTP.MaxBodyBytes != 50<<20 || cfg.HTTP.TrustProxy {
		t.Fatalf("http=%+v rate=%+v", cfg.HTTP, cfg.RateLimit)
	}
	if cfg.Index.Path != filepath.Join(cfg.DataDir, "index", "board.sqlite") {
		t.Fatalf("index path=%s", cfg.Index.Path)
	}
}
