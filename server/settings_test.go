// ABOUTME: Tests for the YAML gate TTL settings file.
package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	return path
}

func TestLoadSettingsOverrides(t *testing.T) {
	path := writeSettings(t, `
gate_ttls:
  phrase: 6h
  image: 12h
  preview: 48h
`)

	ttls, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if ttls.Phrase != 6*time.Hour {
		t.Errorf("phrase: got %v, want 6h", ttls.Phrase)
	}
	if ttls.Image != 12*time.Hour {
		t.Errorf("image: got %v, want 12h", ttls.Image)
	}
	if ttls.Preview != 48*time.Hour {
		t.Errorf("preview: got %v, want 48h", ttls.Preview)
	}
}

func TestLoadSettingsPartialOverride(t *testing.T) {
	path := writeSettings(t, `
gate_ttls:
  image: 1h
`)

	ttls, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if ttls.Image != time.Hour {
		t.Errorf("image: got %v, want 1h", ttls.Image)
	}
	if ttls.Phrase != 24*time.Hour || ttls.Preview != 24*time.Hour {
		t.Errorf("unset ttls should stay at defaults, got %+v", ttls)
	}
}

func TestLoadSettingsRejectsBadDurations(t *testing.T) {
	for name, content := range map[string]string{
		"unparseable": "gate_ttls:\n  phrase: soon\n",
		"negative":    "gate_ttls:\n  image: -2h\n",
		"zero":        "gate_ttls:\n  preview: 0s\n",
		"not yaml":    "gate_ttls: [",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadSettings(writeSettings(t, content)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
