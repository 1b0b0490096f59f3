package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Bus struct {
		Driver  string `yaml:"driver"`
		NatsURL string `yaml:"nats_url"`
	} `yaml:"bus"`
	Session struct {
		QuestionWindow     string `yaml:"question_window"`
		GracePeriod        string `yaml:"grace_period"`
		BaseScore          int    `yaml:"base_score"`
		ParticipantTimeout string `yaml:"participant_timeout"`
		CodeLength         int    `yaml:"code_length"`
	} `yaml:"session"`
	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// Bus drivers.
const (
	BusMemory = "memory"
	BusRedis  = "redis"
	BusNATS   = "nats"
)

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

// TTLDuration parses a duration string or returns the fallback if empty or invalid.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// BusDriver returns the configured bus driver, defaulting to the in-process bus.
func (c Config) BusDriver() string {
	if c.Bus.Driver == "" {
		return BusMemory
	}
	return c.Bus.Driver
}
