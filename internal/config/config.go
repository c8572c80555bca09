// Package config loads and validates the bridge's YAML configuration, per
// SPEC_FULL.md §3 and §4.8. Grounded on adnanabbasy-ComX-Bridge's
// pkg/config package (default-then-file-then-validate loading shape,
// go-playground/validator struct-tag validation) and nerrad567-gray-logic-
// stack's config package (nested per-concern config structs).
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure, per SPEC_FULL.md §3.
type Config struct {
	BLEAdapter      string  `yaml:"ble_adapter"`
	FTMSDeviceName  string  `yaml:"ftms_device_name" validate:"required"`
	ScanIntervalS   float64 `yaml:"scan_interval_s" validate:"gt=0"`
	StatsIntervalMS int     `yaml:"stats_interval_ms" validate:"gte=200,lte=5000"`
	AutoStartBridge bool    `yaml:"auto_start_bridge"`
	AutoMode        bool    `yaml:"auto_mode"`
	HTTPAddr        string  `yaml:"http_addr"`
	LogLevel        string  `yaml:"log_level"`
	LogFormat       string  `yaml:"log_format"`
}

// Default returns the documented defaults from SPEC_FULL.md §4.8.
func Default() Config {
	return Config{
		BLEAdapter:      "default",
		FTMSDeviceName:  "FTMS Bridge",
		ScanIntervalS:   5.0,
		StatsIntervalMS: 750,
		AutoStartBridge: true,
		AutoMode:        true,
		HTTPAddr:        "127.0.0.1:8090",
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// Load reads path as YAML over the documented defaults, then validates the
// result. A missing file is returned as-is (os.ReadFile's error, typically
// wrapping fs.ErrNotExist); the caller decides whether to fall back to
// Default() or exit, per SPEC_FULL.md §4.8.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return Config{}, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}
