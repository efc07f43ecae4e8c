// Package config provides configuration management for go-vibium-sync.
package config

import "time"

// Config holds all configuration options for the CLI.
type Config struct {
	// Target
	URL string `json:"url"`

	// Clicker
	ClickerPath string `json:"clicker_path"` // empty = $CLICKER_PATH, then $PATH
	Port        int    `json:"port"`         // 0 = clicker chooses
	Headed      bool   `json:"headed"`
	Endpoint    string `json:"endpoint"` // connect instead of launching

	// Timeouts
	CallTimeout    time.Duration `json:"call_timeout"`
	FindTimeout    time.Duration `json:"find_timeout"`
	StartupTimeout time.Duration `json:"startup_timeout"`
	GracePeriod    time.Duration `json:"grace_period"`

	// Script
	Find       string        `json:"find"`
	Click      bool          `json:"click"`
	Type       string        `json:"type"`
	Attribute  string        `json:"attribute"`
	Screenshot string        `json:"screenshot"`
	Hold       time.Duration `json:"hold"` // keep the browser open after the script

	// Observability
	MetricsAddr string `json:"metrics_addr"`
	MetricsDump string `json:"metrics_dump"`
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
	TUIEnabled  bool   `json:"tui_enabled"`

	// Diagnostic modes
	PrintCmd      bool `json:"print_cmd"`
	SkipPreflight bool `json:"skip_preflight"`
	Version       bool `json:"version"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Timeouts
		CallTimeout:    60 * time.Second,
		FindTimeout:    30 * time.Second,
		StartupTimeout: 10 * time.Second,
		GracePeriod:    3 * time.Second,

		// Observability
		MetricsAddr: "127.0.0.1:17191",
		Verbose:     false,
		LogFormat:   "text",
		TUIEnabled:  false,
	}
}

// HasScript reports whether any element step was requested.
func (c *Config) HasScript() bool {
	return c.Find != ""
}
