package main

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all skein daemon configuration.
// Priority: env vars > config file > defaults.
type Config struct {
	Engine struct {
		MaxConcurrentRuns int    `yaml:"max_concurrent_runs"`
		OverflowPolicy    string `yaml:"overflow_policy"` // queue | reject
		MaxRunDuration    string `yaml:"max_run_duration"`
	} `yaml:"engine"`

	Limits struct {
		APIPerMinute       int    `yaml:"api_per_minute"`
		APIPerHour         int    `yaml:"api_per_hour"`
		EmailPerHour       int    `yaml:"email_per_hour"`
		CompactionInterval string `yaml:"compaction_interval"`
	} `yaml:"limits"`

	Inference struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"inference"`

	Store struct {
		Path string `yaml:"path"` // empty = in-memory
	} `yaml:"store"`

	Email struct {
		SMTPAddr string `yaml:"smtp_addr"`
		From     string `yaml:"from"`
	} `yaml:"email"`

	Paths struct {
		InputRoot  string `yaml:"input_root"`
		ExportRoot string `yaml:"export_root"`
	} `yaml:"paths"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // text | json
	} `yaml:"log"`
}

func defaultConfig() Config {
	var cfg Config
	cfg.Engine.MaxConcurrentRuns = 10
	cfg.Engine.OverflowPolicy = "queue"
	cfg.Engine.MaxRunDuration = "10m"
	cfg.Limits.APIPerMinute = 60
	cfg.Limits.APIPerHour = 1000
	cfg.Limits.EmailPerHour = 50
	cfg.Limits.CompactionInterval = "5m"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv("SKEIN_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if v := os.Getenv("SKEIN_MAX_CONCURRENT_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.MaxConcurrentRuns = n
		}
	}
	if v := os.Getenv("SKEIN_OVERFLOW_POLICY"); v != "" {
		cfg.Engine.OverflowPolicy = v
	}
	if v := os.Getenv("SKEIN_MAX_RUN_DURATION"); v != "" {
		cfg.Engine.MaxRunDuration = v
	}
	if v := os.Getenv("SKEIN_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SKEIN_INFERENCE_URL"); v != "" {
		cfg.Inference.BaseURL = v
	}
	if v := os.Getenv("SKEIN_SMTP_ADDR"); v != "" {
		cfg.Email.SMTPAddr = v
	}
	if v := os.Getenv("SKEIN_EMAIL_FROM"); v != "" {
		cfg.Email.From = v
	}
	if v := os.Getenv("SKEIN_INPUT_ROOT"); v != "" {
		cfg.Paths.InputRoot = v
	}
	if v := os.Getenv("SKEIN_EXPORT_ROOT"); v != "" {
		cfg.Paths.ExportRoot = v
	}
	if v := os.Getenv("SKEIN_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SKEIN_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	return cfg, nil
}

// duration parses a config duration string, falling back when empty or bad.
func duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
