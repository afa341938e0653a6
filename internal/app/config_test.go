package app

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "openclaw.json"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENCLAW_STATE_DIR", dir)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.StateDir != dir {
		t.Fatalf("StateDir=%q want=%q", cfg.StateDir, dir)
	}
	if !cfg.Enabled {
		t.Fatalf("channel must default to enabled")
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 19999 {
		t.Fatalf("unexpected defaults host=%q port=%d", cfg.Host, cfg.Port)
	}
	if cfg.Addr() != "127.0.0.1:19999" {
		t.Fatalf("Addr=%q", cfg.Addr())
	}
	if cfg.AuthToken != "" {
		t.Fatalf("token must default empty")
	}
}

func TestLoadConfig_FromFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENCLAW_STATE_DIR", dir)

	writeConfigFile(t, dir, `{
		"channels": {"pwa-chat": {"enabled": false, "host": "0.0.0.0", "port": 28080}},
		"gateway": {"auth": {"token": "file-token"}}
	}`)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Enabled {
		t.Fatalf("file must disable the channel")
	}
	if cfg.Host != "0.0.0.0" || cfg.Port != 28080 {
		t.Fatalf("file values not applied: host=%q port=%d", cfg.Host, cfg.Port)
	}
	if cfg.AuthToken != "file-token" {
		t.Fatalf("token=%q", cfg.AuthToken)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENCLAW_STATE_DIR", dir)

	writeConfigFile(t, dir, `{
		"channels": {"pwa-chat": {"enabled": false, "port": 28080}},
		"gateway": {"auth": {"token": "file-token"}}
	}`)

	t.Setenv("OPENCLAW_PWA_ENABLED", "true")
	t.Setenv("OPENCLAW_PWA_PORT", "28081")
	t.Setenv("OPENCLAW_GATEWAY_TOKEN", "env-token")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if !cfg.Enabled {
		t.Fatalf("env must re-enable the channel")
	}
	if cfg.Port != 28081 {
		t.Fatalf("env port not applied: %d", cfg.Port)
	}
	if cfg.AuthToken != "env-token" {
		t.Fatalf("token=%q", cfg.AuthToken)
	}
}

func TestLoadConfig_MissingFileOK(t *testing.T) {
	t.Setenv("OPENCLAW_STATE_DIR", t.TempDir())

	if _, err := LoadConfig(); err != nil {
		t.Fatalf("missing config file must not fail: %v", err)
	}
}

func TestLoadConfig_MalformedFileFails(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENCLAW_STATE_DIR", dir)
	writeConfigFile(t, dir, "{broken")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("malformed config file must fail loudly")
	}
}

func TestLoadConfig_RejectsInvalidPort(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OPENCLAW_STATE_DIR", dir)
	writeConfigFile(t, dir, `{"channels": {"pwa-chat": {"port": 99999}}}`)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 19999 {
		t.Fatalf("out-of-range port must keep default, got %d", cfg.Port)
	}
}
