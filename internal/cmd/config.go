package main

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML file for limits and origins. Everything has a
// default; the file only exists to override.
type Config struct {
	Server struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Limits struct {
		RateWindowSeconds   int `yaml:"rate_window_seconds"`
		RateMaxPerWindow    int `yaml:"rate_max_per_window"`
		VerifyWindowMinutes int `yaml:"verify_window_minutes"`
		CacheTTLSeconds     int `yaml:"cache_ttl_seconds"`
	} `yaml:"limits"`
	ExemptNetworks []string `yaml:"exempt_networks"`
}

func defaultConfig() *Config {
	var config Config
	config.Server.AllowedOrigins = []string{"*"}
	config.Limits.RateWindowSeconds = 60
	config.Limits.RateMaxPerWindow = 900
	config.Limits.VerifyWindowMinutes = 10
	config.Limits.CacheTTLSeconds = 5
	config.ExemptNetworks = []string{"127.0.0.1", "::1"}
	return &config
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
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
