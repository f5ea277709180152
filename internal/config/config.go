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
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Buffer struct {
		Path string `yaml:"path"`
		Cap  int    `yaml:"cap"`
	} `yaml:"buffer"`
	Questions struct {
		TTL string `yaml:"ttl"`
	} `yaml:"questions"`
	Exam struct {
		BudgetSeconds int `yaml:"budgetSeconds"`
	} `yaml:"exam"`
	Learning struct {
		AdvanceDelay string `yaml:"advanceDelay"`
	} `yaml:"learning"`
	Room struct {
		Window string `yaml:"window"`
	} `yaml:"room"`
	Reconcile struct {
		Interval string `yaml:"interval"`
	} `yaml:"reconcile"`
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

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
