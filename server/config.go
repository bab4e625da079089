// ABOUTME: Service configuration loaded from CARDGATE_* environment variables.
// ABOUTME: Refuses non-loopback binds unless remote access is explicitly enabled.
package server

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// ErrNonLoopbackBind rejects accidentally public binds. The status API is
// unauthenticated by design, so exposure must be a deliberate choice.
var ErrNonLoopbackBind = errors.New(
	"CARDGATE_BIND is a non-loopback address but CARDGATE_ALLOW_REMOTE is not true; the API is unauthenticated, set CARDGATE_ALLOW_REMOTE=true only behind a trust boundary",
)

// Config holds service configuration loaded from environment variables.
type Config struct {
	Home            string // Data directory (CARDGATE_HOME, default: ~/.cardgate)
	Bind            string // Socket address (CARDGATE_BIND, default: 127.0.0.1:8090)
	AllowRemote     bool   // Allow non-loopback binds (CARDGATE_ALLOW_REMOTE, default: false)
	PublicBaseURL   string // Public URL for webhook registration (CARDGATE_PUBLIC_BASE_URL)
	TelegramToken   string // Bot token (CARDGATE_TELEGRAM_BOT_TOKEN)
	TelegramChatID  string // Approver chat id (CARDGATE_TELEGRAM_CHAT_ID)
	TelegramAPIBase string // Bot API base override, used in tests (CARDGATE_TELEGRAM_API_BASE)
	SettingsPath    string // Optional YAML settings file (CARDGATE_SETTINGS)
}

// ConfigFromEnv loads configuration from CARDGATE_* environment variables
// with sensible defaults.
func ConfigFromEnv() (*Config, error) {
	home := os.Getenv("CARDGATE_HOME")
	if home == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = "/tmp"
		}
		home = filepath.Join(homeDir, ".cardgate")
	}

	bind := envOrDefault("CARDGATE_BIND", "127.0.0.1:8090")

	allowRemote := false
	if v := os.Getenv("CARDGATE_ALLOW_REMOTE"); v == "true" || v == "1" || v == "yes" {
		allowRemote = true
	}

	if !allowRemote {
		if err := requireLoopback(bind); err != nil {
			return nil, err
		}
	}

	publicBaseURL := envOrDefault("CARDGATE_PUBLIC_BASE_URL", fmt.Sprintf("http://%s", bind))

	return &Config{
		Home:            home,
		Bind:            bind,
		AllowRemote:     allowRemote,
		PublicBaseURL:   publicBaseURL,
		TelegramToken:   os.Getenv("CARDGATE_TELEGRAM_BOT_TOKEN"),
		TelegramChatID:  os.Getenv("CARDGATE_TELEGRAM_CHAT_ID"),
		TelegramAPIBase: os.Getenv("CARDGATE_TELEGRAM_API_BASE"),
		SettingsPath:    os.Getenv("CARDGATE_SETTINGS"),
	}, nil
}

// requireLoopback checks both IP literals and hostnames; only 127.0.0.0/8,
// ::1, and "localhost" are considered safe.
func requireLoopback(bind string) error {
	host, _, err := net.SplitHostPort(bind)
	if err != nil || host == "" {
		return nil
	}
	ip := net.ParseIP(host)
	switch {
	case ip != nil && ip.IsLoopback():
		return nil
	case ip == nil && host == "localhost":
		return nil
	default:
		return fmt.Errorf("%w: CARDGATE_BIND=%s", ErrNonLoopbackBind, bind)
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
