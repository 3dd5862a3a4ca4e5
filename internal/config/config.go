package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Addr      string `yaml:"addr"`
	PublicURL string `yaml:"public_url"`
	DataDir   string `yaml:"data_dir"`
	DataFile  string `yaml:"data_file"`
	StaticDir string `yaml:"static_dir"`
	LogLevel  string `yaml:"log_level"`

	HTTP      HTTP      `yaml:"http"`
	Secrets   Secrets   `yaml:"secrets"`
	KeepAlive KeepAlive `yaml:"keepalive"`
	Backup    Backup    `yaml:"backup"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Index     Index     `yaml:"index"`
	Mirror    Mirror    `yaml:"mirror"`
}

// Secrets are compared verbatim. An empty secret never matches.
type Secrets struct {
	Editor          string `yaml:"editor"`
	Admin           string `yaml:"admin"`
	ModeratorMaster string `yaml:"moderator_master"`
	ThemeToggle     string `yaml:"theme_toggle"`
}

type KeepAlive struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	StartDelay   time.Duration `yaml:"start_delay"`
	Bots         int           `yaml:"bots"`
	PingInterval time.Duration `yaml:"ping_interval"`
	Reconnect    time.Duration `yaml:"reconnect"`
}

type Backup struct {
	Interval time.Duration `yaml:"interval"`
	Keep     int           `yaml:"keep"`
	Archive  bool          `yaml:"archive"`
}

type HTTP struct {
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Enable only behind a reverse proxy that sets those headers.
	TrustProxy bool `yaml:"trust_proxy"`
}

// RateLimit throttles mutating routes per client. RPS 0 disables it.
type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type Index struct {
	Disabled bool   `yaml:"disabled"`
	Path     string `yaml:"path"`
}

type Mirror struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`
	Workers         int    `yaml:"workers"`
}

// Load reads the optional YAML file at path, then applies environment
// overrides. An empty path yields defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	cfg.applyEnv(os.Getenv)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		Addr:     ":5000",
		DataDir:  "./data",
		LogLevel: "info",
		KeepAlive: KeepAlive{
			Enabled:      true,
			Interval:     5 * time.Minute,
			StartDelay:   2 * time.Second,
			Bots:         3,
			PingInterval: 30 * time.Second,
			Reconnect:    5 * time.Second,
		},
		Backup: Backup{
			Interval: 10 * time.Minute,
			Keep:     48,
			Archive:  true,
		},
		HTTP: HTTP{
			MaxBodyBytes: 50 << 20,
		},
		RateLimit: RateLimit{
			Burst: 20,
		},
		Mirror: Mirror{
			Workers: 2,
		},
	}
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv("PORT")); v != "" {
		c.Addr = ":" + v
	}
	setString(&c.PublicURL, getenv("PUBLIC_URL"))
	if c.PublicURL == "" {
		setString(&c.PublicURL, getenv("RENDER_EXTERNAL_URL"))
	}
	setString(&c.DataDir, getenv("DATA_DIR"))
	setString(&c.DataFile, getenv("DATA_FILE"))
	setString(&c.StaticDir, getenv("STATIC_DIR"))
	setString(&c.LogLevel, getenv("LOG_LEVEL"))

	setString(&c.Secrets.Editor, getenv("SECRET_PASSWORD"))
	setString(&c.Secrets.Admin, getenv("ADMIN_PASSWORD"))
	setString(&c.Secrets.ModeratorMaster, getenv("MODERATOR_PASSWORD"))
	setString(&c.Secrets.ThemeToggle, getenv("THEME_PASSWORD"))

	c.KeepAlive.Enabled = envBool(getenv, "KEEPALIVE_ENABLED", c.KeepAlive.Enabled)
	c.KeepAlive.Interval = envDuration(getenv, "KEEPALIVE_INTERVAL", c.KeepAlive.Interval)
	c.KeepAlive.Bots = envInt(getenv, "KEEPALIVE_BOTS", c.KeepAlive.Bots)

	c.Backup.Interval = envDuration(getenv, "BACKUP_INTERVAL", c.Backup.Interval)
	c.Backup.Keep = envInt(getenv, "BACKUP_KEEP", c.Backup.Keep)

	if v := strings.TrimSpace(getenv("RATE_LIMIT_RPS")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
			c.RateLimit.RPS = f
		}
	}
	c.RateLimit.Burst = envInt(getenv, "RATE_LIMIT_BURST", c.RateLimit.Burst)
	c.HTTP.MaxBodyBytes = int64(envInt(getenv, "MAX_BODY_BYTES", int(c.HTTP.MaxBodyBytes)))
	c.HTTP.TrustProxy = envBool(getenv, "TRUST_PROXY", c.HTTP.TrustProxy)

	c.Index.Disabled = envBool(getenv, "INDEX_DISABLED", c.Index.Disabled)

	c.Mirror.Enabled = envBool(getenv, "R2_MIRROR", c.Mirror.Enabled)
	setString(&c.Mirror.Endpoint, getenv("R2_ENDPOINT"))
	setString(&c.Mirror.Bucket, getenv("R2_BUCKET"))
	setString(&c.Mirror.AccessKeyID, getenv("R2_ACCESS_KEY_ID"))
	setString(&c.Mirror.SecretAccessKey, getenv("R2_SECRET_ACCESS_KEY"))
	setString(&c.Mirror.Prefix, getenv("R2_PREFIX"))
	c.Mirror.Workers = envInt(getenv, "R2_UPLOAD_WORKERS", c.Mirror.Workers)
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Addr = strings.TrimSpace(c.Addr)
	if c.Addr == "" {
		c.Addr = ":5000"
	}
	c.PublicURL = strings.TrimRight(strings.TrimSpace(c.PublicURL), "/")
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if strings.TrimSpace(c.DataFile) == "" {
		c.DataFile = filepath.Join(c.DataDir, "data.json")
	}
	if strings.TrimSpace(c.Index.Path) == "" {
		c.Index.Path = filepath.Join(c.DataDir, "index", "board.sqlite")
	}
	if c.KeepAlive.Interval <= 0 {
		c.KeepAlive.Interval = 5 * time.Minute
	}
	if c.KeepAlive.StartDelay < 0 {
		c.KeepAlive.StartDelay = 0
	}
	if c.KeepAlive.Bots < 0 {
		c.KeepAlive.Bots = 0
	}
	if c.KeepAlive.PingInterval <= 0 {
		c.KeepAlive.PingInterval = 30 * time.Second
	}
	if c.KeepAlive.Reconnect <= 0 {
		c.KeepAlive.Reconnect = 5 * time.Second
	}
	if c.Backup.Keep < 0 {
		c.Backup.Keep = 0
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		c.HTTP.MaxBodyBytes = 50 << 20
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 1
	}
	if c.Mirror.Workers <= 0 {
		c.Mirror.Workers = 1
	}
}

// SelfURL is the base URL the keep-alive task talks to: the public URL when
// configured, otherwise the loopback listener.
func (c Config) SelfURL() string {
	if c.PublicURL != "" {
		return c.PublicURL
	}
	port := c.Addr
	if i := strings.LastIndex(port, ":"); i >= 0 {
		port = port[i+1:]
	}
	return "http://127.0.0.1:" + port
}

func (c Config) Validate() error {
	if c.PublicURL != "" {
		u, err := url.Parse(c.PublicURL)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("public_url must be an absolute http(s) url: %q", c.PublicURL)
		}
	}
	if c.RateLimit.RPS < 0 {
		return fmt.Errorf("rate_limit.rps must be >= 0")
	}
	if c.Mirror.Enabled {
		if c.Mirror.Endpoint == "" || c.Mirror.Bucket == "" || c.Mirror.AccessKeyID == "" || c.Mirror.SecretAccessKey == "" {
			return fmt.Errorf("mirror enabled but endpoint/bucket/access_key_id/secret_access_key are not fully set")
		}
	}
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func envBool(getenv func(string) string, key string, def bool) bool {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(getenv func(string) string, key string, def int) int {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func envDuration(getenv func(string) string, key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
