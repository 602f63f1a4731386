// Package config loads runtime configuration from the environment and an
// optional YAML file
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Environment string `yaml:"environment"`
	Port        int    `yaml:"port"`

	// Inference service
	InferenceURL   string        `yaml:"inference_url"`
	ModelName      string        `yaml:"model_name"`
	Sample         bool          `yaml:"sample"`
	Temperature    float64       `yaml:"softmax_temperature"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// Observability
	SentryDSN string `yaml:"sentry_dsn"`
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first when present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		Port:           getEnvInt("PORT", 8080),
		InferenceURL:   getEnv("INFERENCE_URL", "http://localhost:5000"),
		ModelName:      getEnv("MODEL_NAME", "v01_drums"),
		Sample:         getEnv("SAMPLE", "false") == "true",
		Temperature:    getEnvFloat("SOFTMAX_TEMPERATURE", 0.6),
		RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 2*time.Minute),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
	}
}

// LoadFile overlays the values set in a YAML file onto c
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// IsProduction reports whether the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}
