package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 19999
)

// Config contains the runtime configuration: the host config file
// (<state dir>/openclaw.json) layered under OPENCLAW_* env overrides.
type Config struct {
	StateDir string

	Enabled bool
	Host    string
	Port    int

	// Gateway auth token; empty means open (loopback and trusted-proxy
	// callers are always allowed).
	AuthToken string

	LogLevel  string
	LogPretty bool

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Optional Postgres history backend; empty selects the file store.
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
}

// Addr returns the listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// fileConfig mirrors the subset of openclaw.json this channel reads.
// Pointer fields distinguish "absent" from zero values.
type fileConfig struct {
	Channels struct {
		PWAChat struct {
			Enabled *bool   `json:"enabled"`
			Host    *string `json:"host"`
			Port    *int    `json:"port"`
		} `json:"pwa-chat"`
	} `json:"channels"`
	Gateway struct {
		Auth struct {
			Token *string `json:"token"`
		} `json:"auth"`
	} `json:"gateway"`
}

// LoadConfig resolves the state dir, reads openclaw.json if present, and
// applies env overrides. A missing config file is not an error; a malformed
// one is.
func LoadConfig() (Config, error) {
	stateDir := EnvString("OPENCLAW_STATE_DIR", "")
	if stateDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home dir: %w", err)
		}
		stateDir = filepath.Join(home, ".openclaw")
	}

	cfg := Config{
		StateDir: stateDir,

		Enabled: true,
		Host:    defaultHost,
		Port:    defaultPort,

		LogLevel:  EnvString("OPENCLAW_LOG_LEVEL", "info"),
		LogPretty: EnvBool("OPENCLAW_LOG_PRETTY", false),

		ReadHeaderTimeout: EnvDuration("OPENCLAW_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		IdleTimeout:       EnvDuration("OPENCLAW_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("OPENCLAW_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("OPENCLAW_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("OPENCLAW_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("OPENCLAW_DB_MIN_CONNS", 0),
	}

	fc, err := readFileConfig(filepath.Join(stateDir, "openclaw.json"))
	if err != nil {
		return Config{}, err
	}
	if fc != nil {
		if v := fc.Channels.PWAChat.Enabled; v != nil {
			cfg.Enabled = *v
		}
		if v := fc.Channels.PWAChat.Host; v != nil && *v != "" {
			cfg.Host = *v
		}
		if v := fc.Channels.PWAChat.Port; v != nil && *v > 0 && *v <= 65535 {
			cfg.Port = *v
		}
		if v := fc.Gateway.Auth.Token; v != nil {
			cfg.AuthToken = *v
		}
	}

	cfg.Enabled = EnvBool("OPENCLAW_PWA_ENABLED", cfg.Enabled)
	cfg.Host = EnvString("OPENCLAW_PWA_HOST", cfg.Host)
	if p := EnvInt("OPENCLAW_PWA_PORT", cfg.Port); p > 0 && p <= 65535 {
		cfg.Port = p
	}
	cfg.AuthToken = EnvString("OPENCLAW_GATEWAY_TOKEN", cfg.AuthToken)

	return cfg, nil
}

func readFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &fc, nil
}
