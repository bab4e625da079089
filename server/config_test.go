// ABOUTME: Tests for environment-based configuration and the loopback bind guard.
package server

import (
	"errors"
	"testing"
	"time"

	"github.com/2389-research/cardgate/gate"
	"github.com/2389-research/cardgate/sched"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CARDGATE_HOME", "CARDGATE_BIND", "CARDGATE_ALLOW_REMOTE",
		"CARDGATE_PUBLIC_BASE_URL", "CARDGATE_TELEGRAM_BOT_TOKEN",
		"CARDGATE_TELEGRAM_CHAT_ID", "CARDGATE_TELEGRAM_API_BASE",
		"CARDGATE_SETTINGS",
	} {
		t.Setenv(key, "")
	}
}

func TestConfigDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Bind != "127.0.0.1:8090" {
		t.Errorf("bind: got %q, want %q", cfg.Bind, "127.0.0.1:8090")
	}
	if cfg.Home == "" {
		t.Error("home should default to a data directory")
	}
	if cfg.AllowRemote {
		t.Error("allow_remote should default to false")
	}
	if cfg.PublicBaseURL != "http://127.0.0.1:8090" {
		t.Errorf("public base url: got %q", cfg.PublicBaseURL)
	}
}

func TestConfigFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CARDGATE_HOME", "/var/lib/cardgate")
	t.Setenv("CARDGATE_BIND", "localhost:9000")
	t.Setenv("CARDGATE_TELEGRAM_BOT_TOKEN", "tok123")
	t.Setenv("CARDGATE_TELEGRAM_CHAT_ID", "424242")
	t.Setenv("CARDGATE_PUBLIC_BASE_URL", "https://cards.example.com")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Home != "/var/lib/cardgate" {
		t.Errorf("home: got %q", cfg.Home)
	}
	if cfg.Bind != "localhost:9000" {
		t.Errorf("bind: got %q", cfg.Bind)
	}
	if cfg.TelegramToken != "tok123" || cfg.TelegramChatID != "424242" {
		t.Errorf("telegram: got token=%q chat=%q", cfg.TelegramToken, cfg.TelegramChatID)
	}
	if cfg.PublicBaseURL != "https://cards.example.com" {
		t.Errorf("public base url: got %q", cfg.PublicBaseURL)
	}
}

func TestConfigRejectsNonLoopbackBind(t *testing.T) {
	clearEnv(t)
	t.Setenv("CARDGATE_BIND", "0.0.0.0:8090")

	_, err := ConfigFromEnv()
	if !errors.Is(err, ErrNonLoopbackBind) {
		t.Fatalf("expected ErrNonLoopbackBind, got %v", err)
	}
}

func TestConfigAllowsRemoteWhenOptedIn(t *testing.T) {
	clearEnv(t)
	t.Setenv("CARDGATE_BIND", "0.0.0.0:8090")
	t.Setenv("CARDGATE_ALLOW_REMOTE", "true")

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if !cfg.AllowRemote {
		t.Error("allow_remote should be true")
	}
}

func TestRequireLoopback(t *testing.T) {
	tests := []struct {
		bind string
		ok   bool
	}{
		{"127.0.0.1:8090", true},
		{"127.0.0.2:8090", true},
		{"[::1]:8090", true},
		{"localhost:8090", true},
		{"0.0.0.0:8090", false},
		{"192.168.1.5:8090", false},
		{"example.com:8090", false},
	}
	for _, tt := range tests {
		err := requireLoopback(tt.bind)
		if tt.ok && err != nil {
			t.Errorf("requireLoopback(%q): unexpected error %v", tt.bind, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("requireLoopback(%q): expected an error", tt.bind)
		}
	}
}

func TestLoadSettingsDefaultsWhenMissing(t *testing.T) {
	ttls, err := LoadSettings("")
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if ttls != sched.DefaultTTLs() {
		t.Errorf("ttls: got %+v, want defaults", ttls)
	}

	ttls, err = LoadSettings("/nonexistent/settings.yaml")
	if err != nil {
		t.Fatalf("LoadSettings missing file: %v", err)
	}
	if ttls.For(gate.GatePhrase) != 24*time.Hour {
		t.Errorf("phrase ttl: got %v, want 24h", ttls.For(gate.GatePhrase))
	}
}
