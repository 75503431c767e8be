package sessionauth

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config controls engine behavior. Obtain a populated value with
// [DefaultConfig] and override fields as needed.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Challenge ChallengeConfig `koanf:"challenge"`
	Storage   StorageConfig   `koanf:"storage"`
	Routes    RoutesConfig    `koanf:"routes"`
	API       APIConfig       `koanf:"api"`
	Audit     AuditConfig     `koanf:"audit"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Logging   LoggingConfig   `koanf:"logging"`
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig shapes the one-time code screen.
type ChallengeConfig struct {
	CodeLength     int           `koanf:"code_length"`
	ResendCooldown time.Duration `koanf:"resend_cooldown"`
	TickInterval   time.Duration `koanf:"tick_interval"`
	// FailureFlash is how long Failed() stays true after a rejected code.
	FailureFlash time.Duration `koanf:"failure_flash"`
}

/*
====================================
STORAGE CONFIG
====================================
*/

// StorageConfig names the persisted records.
type StorageConfig struct {
	SnapshotKey string `koanf:"snapshot_key"`
	PendingKey  string `koanf:"pending_key"`
	// RedisPrefix and RedisTTL apply only to the redis backend.
	RedisPrefix string        `koanf:"redis_prefix"`
	RedisTTL    time.Duration `koanf:"redis_ttl"`
}

/*
====================================
ROUTES CONFIG
====================================
*/

// RoutesConfig is the host application's route table.
type RoutesConfig struct {
	Login      string `koanf:"login"`
	Verify     string `koanf:"verify"`
	Dashboard  string `koanf:"dashboard"`
	Superadmin string `koanf:"superadmin"`
}

/*
====================================
API CONFIG
====================================
*/

// APIConfig configures the protected API client.
type APIConfig struct {
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size"`
	DropIfFull bool `koanf:"drop_if_full"`
	// DeliveryTimeout bounds one sink call so a stalled sink cannot wedge
	// delivery. Zero disables the bound.
	DeliveryTimeout time.Duration `koanf:"delivery_timeout"`
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled                 bool `koanf:"enabled"`
	EnableLatencyHistograms bool `koanf:"latency_histograms"`
}

/*
====================================
LOGGING CONFIG
====================================
*/

// LoggingConfig sets the minimum level of the engine logger.
type LoggingConfig struct {
	Level string `koanf:"level"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Challenge: ChallengeConfig{
			CodeLength:     6,
			ResendCooldown: 60 * time.Second,
			TickInterval:   time.Second,
			FailureFlash:   600 * time.Millisecond,
		},
		Storage: StorageConfig{
			SnapshotKey: "reviewpulse_user",
			PendingKey:  "reviewpulse_pending_email",
			RedisPrefix: "rp",
			RedisTTL:    7 * 24 * time.Hour,
		},
		Routes: RoutesConfig{
			Login:      "/login",
			Verify:     "/auth/verify",
			Dashboard:  "/dashboard",
			Superadmin: "/superadmin",
		},
		API: APIConfig{
			BaseURL: "http://localhost:5000/api",
			Timeout: 10 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,

			DeliveryTimeout: 2 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

// Validate reports the first invalid setting in c.
func (c *Config) Validate() error {
	// Challenge
	if c.Challenge.CodeLength <= 0 || c.Challenge.CodeLength > 12 {
		return errors.New("Challenge CodeLength must be between 1 and 12")
	}
	if c.Challenge.TickInterval <= 0 {
		return errors.New("Challenge TickInterval must be > 0")
	}
	if c.Challenge.ResendCooldown < 0 {
		return errors.New("Challenge ResendCooldown must be >= 0")
	}
	if c.Challenge.ResendCooldown%c.Challenge.TickInterval != 0 {
		return errors.New("Challenge ResendCooldown must be a multiple of TickInterval")
	}
	if c.Challenge.FailureFlash < 0 {
		return errors.New("Challenge FailureFlash must be >= 0")
	}

	// Storage
	if strings.TrimSpace(c.Storage.SnapshotKey) == "" {
		return errors.New("Storage SnapshotKey must be set")
	}
	if strings.TrimSpace(c.Storage.PendingKey) == "" {
		return errors.New("Storage PendingKey must be set")
	}
	if c.Storage.SnapshotKey == c.Storage.PendingKey {
		return errors.New("Storage SnapshotKey and PendingKey must differ")
	}
	if c.Storage.RedisTTL < 0 {
		return errors.New("Storage RedisTTL must be >= 0")
	}

	// Routes
	for name, p := range map[string]string{
		"Login":      c.Routes.Login,
		"Verify":     c.Routes.Verify,
		"Dashboard":  c.Routes.Dashboard,
		"Superadmin": c.Routes.Superadmin,
	} {
		if !strings.HasPrefix(p, "/") {
			return errors.New("Routes " + name + " must be an absolute path")
		}
	}
	if c.Routes.Dashboard == c.Routes.Superadmin || c.Routes.Login == c.Routes.Verify {
		return errors.New("Routes entries must be distinct")
	}

	// API
	if c.API.Timeout <= 0 {
		return errors.New("API Timeout must be > 0")
	}
	if c.API.BaseURL != "" {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("API BaseURL must be an absolute URL")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Audit.DeliveryTimeout < 0 {
		return errors.New("Audit DeliveryTimeout must be >= 0")
	}

	// Logging
	if c.Logging.Level != "" {
		if _, err := zerolog.ParseLevel(c.Logging.Level); err != nil {
			return errors.New("Logging Level is not a valid level")
		}
	}

	return nil
}

func (c ChallengeConfig) cooldownTicks() int {
	return int(c.ResendCooldown / c.TickInterval)
}
