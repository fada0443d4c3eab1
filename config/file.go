package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// fileConfig is the YAML shape of a config file. Zero values leave the
// current setting untouched.
type fileConfig struct {
	Categories             []string `yaml:"categories"`
	MaxPages               int      `yaml:"max_pages"`
	Parallelism            int      `yaml:"parallelism"`
	PerCategoryParallelism int      `yaml:"per_category_parallelism"`
	Delay                  string   `yaml:"delay"`
	RandomDelay            string   `yaml:"random_delay"`
	Timeout                string   `yaml:"timeout"`
	RequestTimeout         string   `yaml:"request_timeout"`
	FieldTimeout           string   `yaml:"field_timeout"`
	RunTimeout             string   `yaml:"run_timeout"`
	MaxRetries             *int     `yaml:"max_retries"`
	RetryBackoff           string   `yaml:"retry_backoff"`
	RetryBackoffMax        string   `yaml:"retry_backoff_max"`
	BlockedBackoff         string   `yaml:"blocked_backoff"`
	OutputDir              string   `yaml:"output_dir"`
	FingerprintLog         string   `yaml:"fingerprint_log"`
	FingerprintHeaders     []string `yaml:"fingerprint_headers"`
	UserAgents             []string `yaml:"user_agents"`
	Proxies                []string `yaml:"proxies"`
	Render                 *bool    `yaml:"render"`
	Headless               *bool    `yaml:"headless"`
	BrowserBin             string   `yaml:"browser_bin"`
	MetricsAddr            string   `yaml:"metrics_addr"`

	Redis struct {
		Addr string `yaml:"addr"`
		DB   int    `yaml:"db"`
		Key  string `yaml:"key"`
	} `yaml:"redis"`
}

// LoadFile overlays the YAML file at path onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return c.applyFile(fc)
}

func (c *Config) applyFile(fc fileConfig) error {
	if len(fc.Categories) > 0 {
		c.Categories = fc.Categories
	}
	if fc.MaxPages != 0 {
		c.MaxPages = fc.MaxPages
	}
	if fc.Parallelism != 0 {
		c.Parallelism = fc.Parallelism
	}
	if fc.PerCategoryParallelism != 0 {
		c.PerCategoryParallelism = fc.PerCategoryParallelism
	}
	if fc.MaxRetries != nil {
		c.MaxRetries = *fc.MaxRetries
	}
	if fc.OutputDir != "" {
		c.OutputDir = fc.OutputDir
	}
	if fc.FingerprintLog != "" {
		c.FingerprintLog = fc.FingerprintLog
	}
	if len(fc.FingerprintHeaders) > 0 {
		c.FingerprintHeaders = fc.FingerprintHeaders
	}
	if len(fc.UserAgents) > 0 {
		c.UserAgents = fc.UserAgents
	}
	if len(fc.Proxies) > 0 {
		c.Proxies = fc.Proxies
	}
	if fc.Render != nil {
		c.Render = *fc.Render
	}
	if fc.Headless != nil {
		c.Headless = *fc.Headless
	}
	if fc.BrowserBin != "" {
		c.BrowserBin = fc.BrowserBin
	}
	if fc.MetricsAddr != "" {
		c.MetricsAddr = fc.MetricsAddr
	}
	if fc.Redis.Addr != "" {
		c.RedisAddr = fc.Redis.Addr
		c.RedisDB = fc.Redis.DB
	}
	if fc.Redis.Key != "" {
		c.RedisKey = fc.Redis.Key
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"delay", fc.Delay, &c.Delay},
		{"random_delay", fc.RandomDelay, &c.RandomDelay},
		{"timeout", fc.Timeout, &c.Timeout},
		{"request_timeout", fc.RequestTimeout, &c.RequestTimeout},
		{"field_timeout", fc.FieldTimeout, &c.FieldTimeout},
		{"run_timeout", fc.RunTimeout, &c.RunTimeout},
		{"retry_backoff", fc.RetryBackoff, &c.RetryBackoff},
		{"retry_backoff_max", fc.RetryBackoffMax, &c.RetryBackoffMax},
		{"blocked_backoff", fc.BlockedBackoff, &c.BlockedBackoff},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}
