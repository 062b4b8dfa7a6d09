package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML overlay on top of environment variables.
// Every field has a default, so the server runs without a config file.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Gateway struct {
		PingInterval string `yaml:"ping_interval"`
		ReadTimeout  string `yaml:"read_timeout"`
	} `yaml:"gateway"`
	Orchestrator struct {
		WarningMarks []string `yaml:"warning_marks"`
		Workers      int      `yaml:"workers"`
	} `yaml:"orchestrator"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// parseDuration reads an optional duration string, falling back when empty.
func parseDuration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", value, err)
	}
	return d, nil
}

// parseDurations converts warning mark strings like "30m" into durations.
func parseDurations(values []string) ([]time.Duration, error) {
	marks := make([]time.Duration, 0, len(values))
	for _, v := range values {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		marks = append(marks, d)
	}
	return marks, nil
}
