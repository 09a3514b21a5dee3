// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the screens service configuration.
//
// # Description
//
// Values are resolved in three layers: built-in defaults, then an optional
// YAML file named by SCREENS_CONFIG, then environment variables. API keys are
// never read here; each LLM backend reads its own key from the environment
// or from /run/secrets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting of the screens service.
type Config struct {
	Port int `yaml:"port"`

	LLM LLMConfig `yaml:"llm"`

	// StepBudget caps structural operations per turn.
	StepBudget int `yaml:"step_budget"`

	// MaxRounds caps model calls per turn.
	MaxRounds int `yaml:"max_rounds"`

	// SystemPromptPath, when set, replaces the built-in agent prompt and is
	// reloaded when the file changes.
	SystemPromptPath string `yaml:"system_prompt_path"`

	// OTelEndpoint is the OTLP gRPC collector. Empty disables export;
	// "stdout" pretty-prints spans.
	OTelEndpoint string `yaml:"otel_endpoint"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// KeepAliveInterval is how often an idle event stream gets a comment.
	KeepAliveInterval time.Duration `yaml:"keepalive_interval"`

	GinMode string `yaml:"gin_mode"`
}

// LLMConfig selects the model backend. Empty fields fall back to the
// backend's own environment variables.
type LLMConfig struct {
	Backend     string   `yaml:"backend"`
	Model       string   `yaml:"model"`
	BaseURL     string   `yaml:"base_url"`
	Temperature *float32 `yaml:"temperature"`
	MaxTokens   *int     `yaml:"max_tokens"`
}

// RateLimitConfig bounds requests per client IP on /v1/screens.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:              12220,
		LLM:               LLMConfig{Backend: "openai"},
		StepBudget:        25,
		MaxRounds:         40,
		RateLimit:         RateLimitConfig{RPS: 2, Burst: 5},
		KeepAliveInterval: 15 * time.Second,
		GinMode:           "release",
	}
}

// Load builds the configuration from defaults, SCREENS_CONFIG, and the
// environment.
//
// # Outputs
//
//   - Config: The resolved configuration.
//   - error: When the YAML file cannot be read or parsed, or a value is out
//     of range.
func Load() (Config, error) {
	cfg := Default()
	if path := os.Getenv("SCREENS_CONFIG"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvInt("SCREENS_PORT", c.Port)
	c.LLM.Backend = getEnvString("LLM_BACKEND_TYPE", c.LLM.Backend)
	c.StepBudget = getEnvInt("SCREENS_STEP_BUDGET", c.StepBudget)
	c.MaxRounds = getEnvInt("SCREENS_MAX_ROUNDS", c.MaxRounds)
	c.SystemPromptPath = getEnvString("SCREENS_SYSTEM_PROMPT_PATH", c.SystemPromptPath)
	c.OTelEndpoint = getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTelEndpoint)
	c.RateLimit.RPS = getEnvFloat("SCREENS_RATE_LIMIT_RPS", c.RateLimit.RPS)
	c.RateLimit.Burst = getEnvInt("SCREENS_RATE_LIMIT_BURST", c.RateLimit.Burst)
	c.KeepAliveInterval = getEnvDuration("SCREENS_KEEPALIVE_INTERVAL", c.KeepAliveInterval)
	c.GinMode = getEnvString("GIN_MODE", c.GinMode)
}

// Validate rejects values the service cannot run with.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.StepBudget < 1 {
		return fmt.Errorf("step_budget must be at least 1, got %d", c.StepBudget)
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if c.KeepAliveInterval < 0 {
		return fmt.Errorf("keepalive_interval must not be negative")
	}
	return nil
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
