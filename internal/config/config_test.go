package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewConfigDefaultsWhenMissing(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CHATUP_API_URL", "")
	cfg, err := NewConfig(home)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if cfg.Settings.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", cfg.Settings.Version)
	}
	if cfg.BaseURL() != DefaultBaseURL {
		t.Fatalf("expected default base url, got %s", cfg.BaseURL())
	}
	if cfg.APITimeout() != DefaultAPITimeout {
		t.Fatalf("expected default timeout, got %s", cfg.APITimeout())
	}
	if cfg.DatabasePath() != filepath.Join(home, "state", "chatup.db") {
		t.Fatalf("unexpected database path %s", cfg.DatabasePath())
	}
}

func TestInitHomeDirWritesParsableDefaultConfig(t *testing.T) {
	home := t.TempDir()
	if err := InitHomeDir(home); err != nil {
		t.Fatalf("InitHomeDir: %v", err)
	}
	for _, dir := range []string{"logs", "state"} {
		if info, err := os.Stat(filepath.Join(home, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s directory, err=%v", dir, err)
		}
	}
	cfg, err := NewConfig(home)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.RefreshDelay() != 500*time.Millisecond {
		t.Fatalf("refresh delay = %s", cfg.RefreshDelay())
	}
	if cfg.ResumeWindow() != 30*time.Minute {
		t.Fatalf("resume window = %s", cfg.ResumeWindow())
	}
	if !cfg.Settings.UI.RenderMarkdown {
		t.Fatalf("expected markdown rendering enabled by default")
	}
}

func TestNewConfigParsesYamlAndNormalizes(t *testing.T) {
	home := t.TempDir()
	configYAML := strings.TrimSpace(`
version: 1
api:
  base_url: https://chat.example.com/
  timeout: 5
history:
  refresh_delay: 2s
  refresh_burst: 0
session:
  resume_window: 1h
`)
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := NewConfig(home)
	if err != nil {
		t.Fatalf("NewConfig returned error: %v", err)
	}
	if cfg.BaseURL() != "https://chat.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.BaseURL())
	}
	if cfg.APITimeout() != 5*time.Second {
		t.Fatalf("integer timeout should be seconds, got %s", cfg.APITimeout())
	}
	if cfg.RefreshDelay() != 2*time.Second {
		t.Fatalf("refresh delay = %s", cfg.RefreshDelay())
	}
	if cfg.RefreshBurst() != DefaultRefreshBurst {
		t.Fatalf("expected burst default, got %d", cfg.RefreshBurst())
	}
	if cfg.ResumeWindow() != time.Hour {
		t.Fatalf("resume window = %s", cfg.ResumeWindow())
	}
}

func TestNewConfigValidation(t *testing.T) {
	home := t.TempDir()
	configYAML := strings.TrimSpace(`
version: 1
api:
  base_url: ftp://chat.example.com
`)
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewConfig(home); err == nil {
		t.Fatalf("expected validation error but got none")
	}
}

func TestEnvOverridesWin(t *testing.T) {
	home := t.TempDir()
	t.Setenv("CHATUP_API_URL", "http://10.0.0.5:8080")
	t.Setenv("CHATUP_API_TIMEOUT", "750ms")
	t.Setenv("CHATUP_RESUME_WINDOW", "0s")
	cfg, err := NewConfig(home)
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	if cfg.BaseURL() != "http://10.0.0.5:8080" {
		t.Fatalf("base url = %s", cfg.BaseURL())
	}
	if cfg.APITimeout() != 750*time.Millisecond {
		t.Fatalf("timeout = %s", cfg.APITimeout())
	}
	if cfg.ResumeWindow() != 0 {
		t.Fatalf("resume window = %s", cfg.ResumeWindow())
	}
}

func TestSetBaseURLPersists(t *testing.T) {
	home := t.TempDir()
	cfg := Default(home)
	if err := cfg.SetBaseURL("http://localhost:9000/"); err != nil {
		t.Fatalf("SetBaseURL: %v", err)
	}
	reloaded, err := NewConfig(home)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.BaseURL() != "http://localhost:9000" {
		t.Fatalf("persisted base url = %s", reloaded.BaseURL())
	}
}

func TestResolveHomeHonorsEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CHATUP_HOME", dir)
	got, err := ResolveHome()
	if err != nil {
		t.Fatalf("ResolveHome: %v", err)
	}
	if got != filepath.Clean(dir) {
		t.Fatalf("ResolveHome = %s, want %s", got, dir)
	}
}
