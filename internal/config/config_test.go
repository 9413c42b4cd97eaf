package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write error: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.ServerURL != "ws://localhost:3030" {
		t.Errorf("expected default server url, got %q", cfg.ServerURL)
	}
	if !cfg.AutoConnect {
		t.Error("expected autoConnect to default to true")
	}
	if !cfg.ShowNotifications {
		t.Error("expected showNotifications to default to true")
	}
	if cfg.Name == "" {
		t.Error("expected a default name")
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
serverUrl: wss://presence.example.com/ws
autoConnect: false
showNotifications: false
name: alice
avatar: https://example.com/alice.png
workspaces:
  - root: /proj
    id: repo-1
  - root: /other
relay:
  listenAddr: 0.0.0.0:4000
  maxConns: 100
  idleTimeout: 10m
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.ServerURL != "wss://presence.example.com/ws" {
		t.Errorf("unexpected server url %q", cfg.ServerURL)
	}
	if cfg.AutoConnect || cfg.ShowNotifications {
		t.Errorf("expected both flags false, got autoConnect=%v showNotifications=%v", cfg.AutoConnect, cfg.ShowNotifications)
	}
	if cfg.Name != "alice" {
		t.Errorf("expected name alice, got %q", cfg.Name)
	}
	if len(cfg.Workspaces) != 2 || cfg.Workspaces[0].Root != "/proj" || cfg.Workspaces[0].ID != "repo-1" {
		t.Errorf("unexpected workspaces %+v", cfg.Workspaces)
	}
	if cfg.Relay.ListenAddr != "0.0.0.0:4000" || cfg.Relay.MaxConns != 100 {
		t.Errorf("unexpected relay %+v", cfg.Relay)
	}
	if cfg.Relay.IdleTimeout != 10*time.Minute {
		t.Errorf("expected 10m idle timeout, got %v", cfg.Relay.IdleTimeout)
	}
	if cfg.Relay.RateLimit != 30 {
		t.Errorf("expected default rate limit to survive, got %d", cfg.Relay.RateLimit)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, "serverUrl: ws://file:1\n")
	t.Setenv("PRESENCE_SERVERURL", "ws://env:2")
	t.Setenv("PRESENCE_SHOWNOTIFICATIONS", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	if cfg.ServerURL != "ws://env:2" {
		t.Errorf("expected env to win, got %q", cfg.ServerURL)
	}
	if cfg.ShowNotifications {
		t.Error("expected showNotifications overridden to false")
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestValidateServerURL(t *testing.T) {
	for _, raw := range []string{"http://localhost:3030", "localhost:3030", "ws://"} {
		cfg := Default()
		cfg.ServerURL = raw
		if err := cfg.Validate(); err == nil {
			t.Errorf("expected %q to be rejected", raw)
		}
	}

	cfg := Default()
	cfg.ServerURL = "wss://example.com"
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected wss url to be accepted: %v", err)
	}
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := writeConfig(t, "serverUrl: ftp://nope\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}
