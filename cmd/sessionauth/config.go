package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/reviewpulse/sessionauth"
	"github.com/reviewpulse/sessionauth/provider/cognito"
	"github.com/spf13/pflag"
)

// cliConfig is the engine config plus what the CLI host needs to wire a
// provider and a store.
type cliConfig struct {
	sessionauth.Config `koanf:",squash"`

	StateDir      string         `koanf:"state_dir"`
	Store         string         `koanf:"store"`
	RedisAddr     string         `koanf:"redis_addr"`
	VerifyIDToken bool           `koanf:"verify_id_token"`
	Cognito       cognito.Config `koanf:"cognito"`
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"state-dir":        "state_dir",
	"store":            "store",
	"redis-addr":       "redis_addr",
	"log-level":        "logging.level",
	"api-url":          "api.base_url",
	"cognito-region":   "cognito.region",
	"cognito-pool":     "cognito.user_pool_id",
	"cognito-client":   "cognito.client_id",
	"cognito-endpoint": "cognito.endpoint",
	"verify-id-token":  "verify_id_token",
	"metrics-latency":  "metrics.latency_histograms",
	"audit":            "audit.enabled",
	"resend-cooldown":  "challenge.resend_cooldown",
}

func registerConfigFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "YAML config file (default $XDG_CONFIG_HOME/sessionauth/config.yaml if present)")
	fs.String("state-dir", "", "directory for persisted session state")
	fs.String("store", "", "session store: file or redis")
	fs.String("redis-addr", "", "redis address for --store=redis")
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("api-url", "", "protected API base URL")
	fs.String("cognito-region", "", "Cognito region")
	fs.String("cognito-pool", "", "Cognito user pool id")
	fs.String("cognito-client", "", "Cognito app client id")
	fs.String("cognito-endpoint", "", "Cognito endpoint override")
	fs.Bool("verify-id-token", false, "read profile attributes from the verified ID token")
	fs.Bool("metrics-latency", false, "record provider latency histograms")
	fs.Bool("audit", false, "write audit events to stderr")
	fs.Duration("resend-cooldown", 0, "resend cooldown on the code screen")
}

func defaultStateDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "sessionauth")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "sessionauth")
	}
	return ".sessionauth"
}

// loadConfig layers file values and then changed flags over the defaults.
func loadConfig(fs *pflag.FlagSet) (cliConfig, error) {
	cfg := cliConfig{
		Config:   sessionauth.DefaultConfig(),
		StateDir: defaultStateDir(),
		Store:    "file",
	}

	k := koanf.New(".")

	path, _ := fs.GetString("config")
	explicit := path != ""
	if !explicit {
		path = filepath.Join(defaultStateDir(), "config.yaml")
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return cliConfig{}, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	flags := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	})
	if err := k.Load(flags, nil); err != nil {
		return cliConfig{}, fmt.Errorf("load flags: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cliConfig{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if err := cfg.validate(); err != nil {
		return cliConfig{}, err
	}
	return cfg, nil
}

func (c *cliConfig) validate() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}
	switch c.Store {
	case "file":
		if strings.TrimSpace(c.StateDir) == "" {
			return errors.New("state_dir must be set for the file store")
		}
	case "redis":
		if strings.TrimSpace(c.RedisAddr) == "" {
			return errors.New("redis_addr must be set for the redis store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	return nil
}
