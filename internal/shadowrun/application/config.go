package application

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Thresholds defines when a shadow recalculation raises an alert.
type Thresholds struct {
	TotalAbs       int64   `yaml:"total_abs" json:"total_abs"`
	TotalPct       float64 `yaml:"total_pct" json:"total_pct"`
	ChangedUnits   int     `yaml:"changed_units" json:"changed_units"`
	MissingTariffs int     `yaml:"missing_tariffs" json:"missing_tariffs"`
}

// Config defines shadowrun configuration.
type Config struct {
	Defaults      Thresholds     `yaml:"defaults"`
	Schedule      ScheduleConfig `yaml:"schedule"`
	StorageRoot   string         `yaml:"storage_root"`
	WebhookURL    string         `yaml:"webhook_url"`
	PublicBaseURL string         `yaml:"public_base_url"`

	// NotifyTemplate is a text/template body for alerts; empty uses the default.
	NotifyTemplate string `yaml:"notify_template"`
}

// ScheduleConfig defines the daily schedule.
type ScheduleConfig struct {
	DailyAt string `yaml:"daily_at"`
	// Lookback is the number of periods before the current one that are
	// rechecked on every scheduled run.
	Lookback int `yaml:"lookback"`
}

// DefaultThresholds alert on any amount drift, any changed unit and any
// missing tariff.
func DefaultThresholds() Thresholds {
	return Thresholds{
		TotalAbs:       1,
		TotalPct:       0,
		ChangedUnits:   1,
		MissingTariffs: 1,
	}
}

// LoadConfig loads config from yaml or env.
func LoadConfig() (Config, error) {
	cfg := Config{
		Defaults:      DefaultThresholds(),
		StorageRoot:   getenvDefault("SHADOWRUN_STORAGE_ROOT", filepath.FromSlash("var/reports/shadowrun")),
		WebhookURL:    os.Getenv("SHADOWRUN_WEBHOOK_URL"),
		PublicBaseURL: getenvDefault("SHADOWRUN_PUBLIC_BASE_URL", "http://localhost:8080"),
	}

	if path := os.Getenv("SHADOWRUN_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.Schedule.DailyAt == "" {
		cfg.Schedule.DailyAt = os.Getenv("SHADOWRUN_DAILY_AT")
	}
	if cfg.Schedule.Lookback == 0 {
		cfg.Schedule.Lookback = getenvIntDefault("SHADOWRUN_LOOKBACK", 0)
	}
	if cfg.WebhookURL == "" {
		cfg.WebhookURL = os.Getenv("SHADOWRUN_WEBHOOK_URL")
	}
	if cfg.NotifyTemplate == "" {
		cfg.NotifyTemplate = os.Getenv("SHADOWRUN_NOTIFY_TEMPLATE")
	}
	if cfg.StorageRoot == "" {
		return cfg, errors.New("shadowrun: storage root required")
	}
	if cfg.Schedule.Lookback < 0 {
		return cfg, errors.New("shadowrun: schedule lookback must be >= 0")
	}
	if cfg.Schedule.DailyAt != "" {
		if _, _, err := parseDailyAt(cfg.Schedule.DailyAt); err != nil {
			return cfg, errors.New("shadowrun: daily_at must be HH:MM")
		}
	}
	return cfg, nil
}

// Merge overlays the non-zero fields of override onto t.
func (t Thresholds) Merge(override Thresholds) Thresholds {
	if override.TotalAbs != 0 {
		t.TotalAbs = override.TotalAbs
	}
	if override.TotalPct != 0 {
		t.TotalPct = override.TotalPct
	}
	if override.ChangedUnits != 0 {
		t.ChangedUnits = override.ChangedUnits
	}
	if override.MissingTariffs != 0 {
		t.MissingTariffs = override.MissingTariffs
	}
	return t
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

func parseDailyAt(value string) (int, int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// WebhookURLs splits the comma-separated webhook setting.
func (c Config) WebhookURLs() []string {
	var urls []string
	for _, part := range strings.Split(c.WebhookURL, ",") {
		if part = strings.TrimSpace(part); part != "" {
			urls = append(urls, part)
		}
	}
	return urls
}
