package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files, or ./.env when none
// are named. Missing files are ignored; existing variables win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("load env files: %w", err)
	}
	return nil
}

// EnvString returns a trimmed, non-empty environment value.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses an integer environment value.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvBool parses a boolean environment value.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, true, fmt.Errorf("%s: %w", key, err)
	}
	return b, true, nil
}

// EnvDuration parses a duration such as "750ms" or "2m".
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, true, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

// EnvList splits a comma-separated value, dropping empty items.
func EnvList(key string) ([]string, bool) {
	value, ok := EnvString(key)
	if !ok {
		return nil, false
	}
	return SplitList(value), true
}

// SplitList splits on commas and trims each item.
func SplitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ApplyEnv overlays SCRAPER_* variables onto c.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvList("SCRAPER_CATEGORIES"); ok {
		c.Categories = v
	}
	if v, ok := EnvList("SCRAPER_USER_AGENTS"); ok {
		c.UserAgents = v
	}
	if v, ok := EnvList("SCRAPER_PROXIES"); ok {
		c.Proxies = v
	}
	if v, ok := EnvList("SCRAPER_FINGERPRINT_HEADERS"); ok {
		c.FingerprintHeaders = v
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"SCRAPER_OUTPUT_DIR", &c.OutputDir},
		{"SCRAPER_FINGERPRINT_LOG", &c.FingerprintLog},
		{"SCRAPER_REDIS_ADDR", &c.RedisAddr},
		{"SCRAPER_REDIS_KEY", &c.RedisKey},
		{"SCRAPER_METRICS_ADDR", &c.MetricsAddr},
		{"SCRAPER_BROWSER_BIN", &c.BrowserBin},
	}
	for _, s := range strs {
		if v, ok := EnvString(s.key); ok {
			*s.dst = v
		}
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"SCRAPER_PAGES", &c.MaxPages},
		{"SCRAPER_PARALLEL", &c.Parallelism},
		{"SCRAPER_PER_CATEGORY_PARALLEL", &c.PerCategoryParallelism},
		{"SCRAPER_MAX_RETRIES", &c.MaxRetries},
		{"SCRAPER_REDIS_DB", &c.RedisDB},
	}
	for _, i := range ints {
		v, ok, err := EnvInt(i.key)
		if err != nil {
			return err
		}
		if ok {
			*i.dst = v
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"SCRAPER_DELAY", &c.Delay},
		{"SCRAPER_RANDOM_DELAY", &c.RandomDelay},
		{"SCRAPER_TIMEOUT", &c.Timeout},
		{"SCRAPER_REQUEST_TIMEOUT", &c.RequestTimeout},
		{"SCRAPER_FIELD_TIMEOUT", &c.FieldTimeout},
		{"SCRAPER_RUN_TIMEOUT", &c.RunTimeout},
		{"SCRAPER_RETRY_BACKOFF", &c.RetryBackoff},
		{"SCRAPER_RETRY_BACKOFF_MAX", &c.RetryBackoffMax},
		{"SCRAPER_BLOCKED_BACKOFF", &c.BlockedBackoff},
	}
	for _, d := range durations {
		v, ok, err := EnvDuration(d.key)
		if err != nil {
			return err
		}
		if ok {
			*d.dst = v
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{"SCRAPER_RENDER", &c.Render},
		{"SCRAPER_HEADLESS", &c.Headless},
		{"SCRAPER_FRESH", &c.Fresh},
	}
	for _, b := range bools {
		v, ok, err := EnvBool(b.key)
		if err != nil {
			return err
		}
		if ok {
			*b.dst = v
		}
	}
	return nil
}
