package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config is the flat runtime options record. Fields mirror the settings file
// at ~/.config/polyclaude-proxy/config.json; env vars override the file and
// flags override env.
type Config struct {
	Port              int    `json:"port"`
	Host              string `json:"host"`
	APIKey            string `json:"apiKey,omitempty"`
	DevMode           bool   `json:"devMode"`
	DefaultCooldownMs int64  `json:"defaultCooldownMs"`
	Strategy          string `json:"strategy,omitempty"`

	// RedisAddr enables the redis-backed usage-stats store when set.
	RedisAddr     string `json:"redisAddr,omitempty"`
	RedisPassword string `json:"redisPassword,omitempty"`
	RedisDB       int    `json:"redisDB,omitempty"`

	HealthScore *HealthScoreConfig `json:"healthScore,omitempty"`
	TokenBucket *TokenBucketConfig `json:"tokenBucket,omitempty"`
	Quota       *QuotaConfig       `json:"quota,omitempty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Port:              DefaultPort,
		Host:              "0.0.0.0",
		DefaultCooldownMs: DefaultCooldownMs,
	}
}

// Load merges the settings file (if present) and environment overrides into c.
func (c *Config) Load() error {
	path := filepath.Join(ConfigDir(), "config.json")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Port = port
		}
	}
	if v := os.Getenv("HOST"); v != "" {
		c.Host = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if os.Getenv("DEV_MODE") == "true" {
		c.DevMode = true
	}
	if c.DefaultCooldownMs <= 0 {
		c.DefaultCooldownMs = DefaultCooldownMs
	}
	return nil
}
