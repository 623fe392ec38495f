package config

import (
	"fmt"
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
		// TTL caps how long an orphaned session record survives.
		TTL string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Questions struct {
		TTL string `yaml:"ttl"`
	} `yaml:"questions"`
	Exam struct {
		// Date of the target exam, YYYY-MM-DD. Drives the days-remaining
		// prediction signal.
		Date               string `yaml:"date"`
		SecondsPerQuestion int    `yaml:"seconds_per_question"`
		MaxQuestions       int    `yaml:"max_questions"`
	} `yaml:"exam"`
	Prediction struct {
		WorkerTimeout string `yaml:"worker_timeout"`
		// Disabled turns off the ensemble worker entirely; predictions then
		// always use the degraded in-process model.
		Disabled       bool               `yaml:"disabled"`
		SubjectWeights map[string]float64 `yaml:"subject_weights"`
	} `yaml:"prediction"`
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

// ExamDate parses the configured exam date. An empty date is allowed (the
// days-remaining signal then reads zero).
func (c Config) ExamDate() (time.Time, error) {
	if c.Exam.Date == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", c.Exam.Date)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse exam date: %w", err)
	}
	return t, nil
}
