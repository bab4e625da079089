// ABOUTME: Tests for the minimal .env loader.
package server

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `
# comment line
CARDGATE_TEST_PLAIN=value1
CARDGATE_TEST_QUOTED="quoted value"
CARDGATE_TEST_SINGLE='single quoted'
CARDGATE_TEST_SPACES =  padded

not-a-pair
=nokey
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}

	// t.Setenv registers the restore; Unsetenv makes the key absent for real.
	for _, key := range []string{
		"CARDGATE_TEST_PLAIN", "CARDGATE_TEST_QUOTED",
		"CARDGATE_TEST_SINGLE", "CARDGATE_TEST_SPACES",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}

	tests := map[string]string{
		"CARDGATE_TEST_PLAIN":  "value1",
		"CARDGATE_TEST_QUOTED": "quoted value",
		"CARDGATE_TEST_SINGLE": "single quoted",
		"CARDGATE_TEST_SPACES": "padded",
	}
	for key, want := range tests {
		if got := os.Getenv(key); got != want {
			t.Errorf("%s: got %q, want %q", key, got, want)
		}
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("CARDGATE_TEST_EXISTING=overwritten\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("CARDGATE_TEST_EXISTING", "original")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("CARDGATE_TEST_EXISTING"); got != "original" {
		t.Errorf("existing var: got %q, want %q", got, "original")
	}
}

func TestLoadDotEnvMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing file should be fine, got %v", err)
	}
}
