package config

import (
	"fmt"
	"net/url"
	"time"
)

// DefaultCategories are the catalog sections crawled when none are configured.
var DefaultCategories = []string{
	"https://fix-price.com/catalog/krasota-i-zdorove/dlya-litsa",
	"https://fix-price.com/catalog/igrushki/razvivayushchie-igry",
	"https://fix-price.com/catalog/kosmetika-i-gigiena/ukhod-za-polostyu-rta",
}

// DefaultUserAgents is the rotation pool used when none is configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

// Config holds scraper configuration.
type Config struct {
	Categories []string

	// MaxPages caps listing pages per category; 0 means no cap.
	MaxPages               int
	Parallelism            int
	PerCategoryParallelism int
	Delay                  time.Duration
	RandomDelay            time.Duration

	// Timeout bounds a single listing fetch.
	Timeout time.Duration
	// RequestTimeout bounds a whole detail request including rendering.
	RequestTimeout time.Duration
	// FieldTimeout bounds the wait for one detail field.
	FieldTimeout time.Duration
	// RunTimeout ends the run cleanly; 0 means none.
	RunTimeout time.Duration

	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
	BlockedBackoff  time.Duration

	OutputDir          string
	FingerprintLog     string
	FingerprintHeaders []string
	Fresh              bool
	RedisAddr          string
	RedisDB            int
	RedisKey           string

	UserAgents []string
	Proxies    []string

	Render     bool
	Headless   bool
	BrowserBin string

	PipelineBufferSize int
	BatchSize          int
	DedupeMaxSize      int

	MetricsAddr      string
	Verbose          bool
	RespectRobotsTxt bool
}

// DefaultConfig returns conservative defaults for the target catalog.
func DefaultConfig() *Config {
	return &Config{
		Categories:             append([]string(nil), DefaultCategories...),
		MaxPages:               0,
		Parallelism:            16,
		PerCategoryParallelism: 8,
		Delay:                  2 * time.Second,
		RandomDelay:            2 * time.Second,
		Timeout:                30 * time.Second,
		RequestTimeout:         90 * time.Second,
		FieldTimeout:           15 * time.Second,
		RunTimeout:             0,
		MaxRetries:             10,
		RetryBackoff:           500 * time.Millisecond,
		RetryBackoffMax:        30 * time.Second,
		BlockedBackoff:         20 * time.Second,
		OutputDir:              "output",
		FingerprintLog:         "output/.fingerprints",
		PipelineBufferSize:     512,
		BatchSize:              16,
		DedupeMaxSize:          100_000,
		RedisKey:               "fixprice:fingerprints",
		UserAgents:             append([]string(nil), DefaultUserAgents...),
		Render:                 true,
		Headless:               true,
		Verbose:                false,
		RespectRobotsTxt:       false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if len(c.Categories) == 0 {
		return fmt.Errorf("at least one category URL is required")
	}
	hosts := make(map[string]struct{})
	for _, raw := range c.Categories {
		parsedURL, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid category URL %q: %w", raw, err)
		}
		if parsedURL.Host == "" {
			return fmt.Errorf("category URL %q must include a host", raw)
		}
		if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			return fmt.Errorf("category URL %q must be http or https", raw)
		}
		hosts[parsedURL.Hostname()] = struct{}{}
	}
	if len(hosts) > 1 {
		return fmt.Errorf("category URLs must share one host, got %d", len(hosts))
	}

	if c.MaxPages < 0 {
		return fmt.Errorf("max pages cannot be negative")
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive")
	}
	if c.PerCategoryParallelism <= 0 {
		return fmt.Errorf("per-category parallelism must be positive")
	}
	if c.PerCategoryParallelism > c.Parallelism {
		return fmt.Errorf("per-category parallelism (%d) cannot exceed parallelism (%d)", c.PerCategoryParallelism, c.Parallelism)
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.FieldTimeout <= 0 {
		return fmt.Errorf("field timeout must be positive")
	}
	if c.FieldTimeout > c.RequestTimeout {
		return fmt.Errorf("field timeout (%s) cannot exceed request timeout (%s)", c.FieldTimeout, c.RequestTimeout)
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("run timeout cannot be negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.BlockedBackoff < 0 {
		return fmt.Errorf("blocked backoff cannot be negative")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if len(c.UserAgents) == 0 {
		return fmt.Errorf("at least one user agent is required")
	}
	for _, p := range c.Proxies {
		u, err := url.Parse(p)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid proxy %q", p)
		}
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}
	if c.RedisAddr != "" && c.RedisKey == "" {
		return fmt.Errorf("redis key cannot be empty when redis is enabled")
	}

	return nil
}
