// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 3DCloud

// Package config loads the client configuration from YAML and supplies
// sensible defaults for everything that is not overridden.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level client configuration.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Printer    PrinterConfig    `yaml:"printer"`
	Log        LogConfig        `yaml:"log"`
}

// ConnectionConfig controls how the serial (or WebSocket) link is opened
// and retried.
type ConnectionConfig struct {
	Port           string        `yaml:"port"`
	BaudRate       int           `yaml:"baud_rate"`
	ConnectRetries int           `yaml:"connect_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	StartupTimeout time.Duration `yaml:"startup_timeout"`
}

// PrinterConfig controls print execution behavior.
type PrinterConfig struct {
	// PollInterval is how often M105 is issued when the firmware lacks
	// native periodic temperature reporting.
	PollInterval time.Duration `yaml:"poll_interval"`

	// MaxFanPercent caps M106 fan speed commands; 100 disables rescaling.
	MaxFanPercent float64 `yaml:"max_fan_percent"`

	// Materials configures one entry per extruder, used to synthesize
	// heating and priming for UltiGCode-style files.
	Materials []MaterialConfig `yaml:"materials"`

	Sequences SequencesConfig `yaml:"sequences"`
}

// MaterialConfig describes the material loaded in one extruder.
type MaterialConfig struct {
	Name              string  `yaml:"name"`
	HotendTemperature float64 `yaml:"hotend_temperature"`
	BedTemperature    float64 `yaml:"bed_temperature"`
	RetractionLength  float64 `yaml:"retraction_length"`
	PrimeLength       float64 `yaml:"prime_length"`
}

// SequencesConfig holds the G-code blocks run around a print.
type SequencesConfig struct {
	Start  []string `yaml:"start"`
	End    []string `yaml:"end"`
	Cancel []string `yaml:"cancel"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig reads a YAML configuration file, layered on top of the
// defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return config, nil
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Connection: ConnectionConfig{
			BaudRate:       115200,
			ConnectRetries: 5,
			RetryDelay:     2 * time.Second,
			StartupTimeout: 10 * time.Second,
		},
		Printer: PrinterConfig{
			PollInterval:  time.Second,
			MaxFanPercent: 100,
			Materials: []MaterialConfig{
				{
					Name:              "PLA",
					HotendTemperature: 210,
					BedTemperature:    60,
					RetractionLength:  6.5,
					PrimeLength:       20,
				},
			},
			Sequences: SequencesConfig{
				End: []string{
					"M104 S0",
					"M140 S0",
					"M84",
				},
				Cancel: []string{
					"M104 S0",
					"M140 S0",
					"M107",
					"M84",
				},
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
