package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Realtime   RealtimeConfig   `yaml:"realtime"`
	Portal     PortalConfig     `yaml:"portal"`
	StatusFeed StatusFeedConfig `yaml:"status_feed"`
	Session    SessionConfig    `yaml:"session"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// Enabled reports whether both VAPID keys are present.
func (p PushConfig) Enabled() bool {
	return p.PublicKey != "" && p.PrivateKey != ""
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	RateLimitPerSec float64       `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int           `yaml:"rate_limit_burst"`
	CacheTTLSeconds int           `yaml:"cache_ttl_seconds"`
	CacheTTL        time.Duration `yaml:"-"`
}

// DatabaseConfig holds the database connection configuration.
// Driver is either "postgres" or "sqlite".
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// RealtimeConfig selects the realtime state store backend.
type RealtimeConfig struct {
	Backend             string        `yaml:"backend"` // "memory" or "gorm"
	PollIntervalSeconds int           `yaml:"poll_interval_seconds"`
	PollInterval        time.Duration `yaml:"-"`
}

// PortalConfig holds the settings for the VTOP credential-forwarding proxy.
// Either APIURL or Executable may be set; APIURL wins when both are.
type PortalConfig struct {
	APIURL         string        `yaml:"api_url"`
	Executable     string        `yaml:"executable"`
	HTTPProxy      string        `yaml:"http_proxy"`
	TimeoutSeconds int           `yaml:"timeout_seconds"`
	Timeout        time.Duration `yaml:"-"`
}

// StatusFeedConfig holds the MQTT settings for faculty status reports.
type StatusFeedConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      byte   `yaml:"qos"`
}

// SessionConfig controls how long idle watch sessions are kept.
type SessionConfig struct {
	IdleTTLMinutes int           `yaml:"idle_ttl_minutes"`
	IdleTTL        time.Duration `yaml:"-"`
}

// Load reads the configuration from the given path.
// A .env file in the working directory, when present, is loaded first so
// that its variables can override file values.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("VTOP_API_URL"); v != "" {
		cfg.Portal.APIURL = v
	}
	if v := os.Getenv("VTOP_EXECUTABLE"); v != "" {
		cfg.Portal.Executable = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("Warning: ignoring invalid PORT %q: %v", v, err)
		} else {
			cfg.Server.Port = port
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 2
	}
	cfg.Server.CacheTTL = time.Duration(cfg.Server.CacheTTLSeconds) * time.Second

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Realtime.Backend == "" {
		cfg.Realtime.Backend = "gorm"
	}
	if cfg.Realtime.PollIntervalSeconds <= 0 {
		cfg.Realtime.PollIntervalSeconds = 5
	}
	cfg.Realtime.PollInterval = time.Duration(cfg.Realtime.PollIntervalSeconds) * time.Second

	// Zero means no client-side timeout: the portal call waits for the full scrape.
	if cfg.Portal.TimeoutSeconds > 0 {
		cfg.Portal.Timeout = time.Duration(cfg.Portal.TimeoutSeconds) * time.Second
	}

	if cfg.StatusFeed.Topic == "" {
		cfg.StatusFeed.Topic = "faculty/+/status"
	}
	if cfg.StatusFeed.ClientID == "" {
		cfg.StatusFeed.ClientID = "facultyd"
	}

	if cfg.Session.IdleTTLMinutes <= 0 {
		cfg.Session.IdleTTLMinutes = 60
	}
	cfg.Session.IdleTTL = time.Duration(cfg.Session.IdleTTLMinutes) * time.Minute

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}
}
