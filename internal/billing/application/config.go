package application

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	billing "estate-billing/internal/billing/domain"

	"gopkg.in/yaml.v3"
)

const (
	defaultBatchSize = 200
	defaultWorkers   = 4
)

// Config tunes charge runs.
type Config struct {
	BatchSize     int                   `yaml:"batch_size"`
	Workers       int                   `yaml:"workers"`
	SelectionMode billing.SelectionMode `yaml:"tariff_selection"`
	StrictTariffs bool                  `yaml:"strict_tariffs"`
	Currency      string                `yaml:"currency"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     defaultBatchSize,
		Workers:       defaultWorkers,
		SelectionMode: billing.SelectFirstMatch,
		Currency:      "VND",
	}
}

// LoadConfig reads env defaults, then overlays the yaml file named by BILLING_CONFIG.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	cfg.BatchSize = getenvIntDefault("BILLING_BATCH_SIZE", cfg.BatchSize)
	cfg.Workers = getenvIntDefault("BILLING_WORKERS", cfg.Workers)
	cfg.SelectionMode = billing.SelectionMode(getenvDefault("BILLING_TARIFF_SELECTION", string(cfg.SelectionMode)))
	cfg.StrictTariffs = getenvBoolDefault("BILLING_STRICT_TARIFFS", cfg.StrictTariffs)
	cfg.Currency = getenvDefault("CURRENCY", cfg.Currency)

	if path := os.Getenv("BILLING_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("billing config %s: %w", path, err)
		}
	}
	return cfg.normalize()
}

func (c Config) normalize() (Config, error) {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	mode, err := billing.ParseSelectionMode(string(c.SelectionMode))
	if err != nil {
		return c, err
	}
	c.SelectionMode = mode
	return c, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBoolDefault(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
