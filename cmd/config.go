// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Edward GCB

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config supplies defaults for the persistent connection flags. Values set
// on the command line always win over the file.
type Config struct {
	Port        string `yaml:"port"`
	Baud        int    `yaml:"baud"`
	HIDPath     string `yaml:"hid_path"`
	URL         string `yaml:"url"`
	Username    string `yaml:"username"`
	NoSSLVerify bool   `yaml:"no_ssl_verify"`
	Capture     string `yaml:"capture"`
	Verbose     bool   `yaml:"verbose"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Baud: 115200,
	}
}

// DefaultConfigPath is where the config file lives unless --config says
// otherwise.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "optium", "config.yaml")
}

// LoadConfig reads a YAML config file on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}
