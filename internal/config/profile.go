package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is the optional YAML overlay read by chatctl. Empty fields keep
// the values loaded from the environment.
type Profile struct {
	User           string `yaml:"user"`
	APIBase        string `yaml:"api_base"`
	Mode           string `yaml:"mode"`
	Database       string `yaml:"database"`
	Language       string `yaml:"language"`
	SessionMinutes int    `yaml:"session_minutes"`
	HistoryWindow  int    `yaml:"history_window"`
	City           string `yaml:"city"`
}

// ReadProfile parses the YAML profile at path.
func ReadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing profile: %w", err)
	}
	return &p, nil
}

// Apply overlays the non-empty profile fields onto cfg.
func (p *Profile) Apply(cfg *Config) error {
	if p == nil {
		return nil
	}
	if p.APIBase != "" {
		cfg.Remote.BaseURL = strings.TrimRight(p.APIBase, "/")
	}
	if p.Mode != "" {
		mode := strings.ToLower(p.Mode)
		if mode != ModeRemote && mode != ModeDirect {
			return fmt.Errorf("invalid profile mode: %q", p.Mode)
		}
		cfg.Remote.Mode = mode
	}
	if p.Database != "" {
		cfg.Storage.Driver = DriverSQLite
		cfg.Storage.DSN = p.Database
	}
	if p.Language != "" {
		cfg.Chat.VoiceLanguage = p.Language
	}
	if p.SessionMinutes > 0 {
		cfg.Chat.SessionTTL = time.Duration(p.SessionMinutes) * time.Minute
	}
	if p.HistoryWindow > 0 {
		cfg.Chat.HistoryWindow = p.HistoryWindow
	}
	return nil
}
