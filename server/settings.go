// ABOUTME: Optional YAML settings file for per-gate response deadlines.
// ABOUTME: Missing file means defaults; a present but invalid file is an error.
package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389-research/cardgate/sched"
)

// Settings is the YAML settings file shape:
//
//	gate_ttls:
//	  phrase: 24h
//	  image: 12h
//	  preview: 48h
type Settings struct {
	GateTTLs struct {
		Phrase  string `yaml:"phrase"`
		Image   string `yaml:"image"`
		Preview string `yaml:"preview"`
	} `yaml:"gate_ttls"`
}

// LoadSettings reads the settings file and resolves gate TTLs. A missing
// path (or empty string) yields the 24-hour defaults.
func LoadSettings(path string) (sched.TTLs, error) {
	ttls := sched.DefaultTTLs()
	if path == "" {
		return ttls, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ttls, nil
	}
	if err != nil {
		return ttls, fmt.Errorf("read settings: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return ttls, fmt.Errorf("parse settings: %w", err)
	}

	if ttls.Phrase, err = ttlOrDefault(s.GateTTLs.Phrase, ttls.Phrase); err != nil {
		return ttls, fmt.Errorf("gate_ttls.phrase: %w", err)
	}
	if ttls.Image, err = ttlOrDefault(s.GateTTLs.Image, ttls.Image); err != nil {
		return ttls, fmt.Errorf("gate_ttls.image: %w", err)
	}
	if ttls.Preview, err = ttlOrDefault(s.GateTTLs.Preview, ttls.Preview); err != nil {
		return ttls, fmt.Errorf("gate_ttls.preview: %w", err)
	}
	return ttls, nil
}

func ttlOrDefault(raw string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("ttl must be positive, got %s", d)
	}
	return d, nil
}
