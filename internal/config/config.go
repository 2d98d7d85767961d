package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"examprep-sync-service/internal/domain"
)

type QuotaPolicy struct {
	Limit   int    `yaml:"limit"`
	Period  string `yaml:"period"`
	Message string `yaml:"message"`
	Enabled bool   `yaml:"enabled"`
}

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	SQLite struct {
		Path string `yaml:"path"`
	} `yaml:"sqlite"`
	Session struct {
		TTL string `yaml:"ttl"`
	} `yaml:"session"`
	Sync struct {
		PhaseTimeout string `yaml:"phase_timeout"`
	} `yaml:"sync"`
	Room struct {
		StaleAfter      string `yaml:"stale_after"`
		PublishInterval string `yaml:"publish_interval"`
	} `yaml:"room"`
	Quotas map[string]QuotaPolicy `yaml:"quotas"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty
// or malformed.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// QuotaPolicies converts the configured per-role policies to domain form.
// An unrecognized period defaults to daily.
func (c Config) QuotaPolicies() map[string]domain.QuotaPolicy {
	policies := make(map[string]domain.QuotaPolicy, len(c.Quotas))
	for role, p := range c.Quotas {
		period := domain.PeriodKind(p.Period)
		if period != domain.PeriodDaily && period != domain.PeriodWeekly {
			period = domain.PeriodDaily
		}
		policies[role] = domain.QuotaPolicy{
			Limit:   p.Limit,
			Period:  period,
			Message: p.Message,
			Enabled: p.Enabled,
		}
	}
	return policies
}
