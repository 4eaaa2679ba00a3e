package config

import (
	"embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

//go:embed default_config.yaml
var defaultConfigFS embed.FS

// Source is a single feed endpoint. Identity is the URL; the list order in the
// config file is the dedup tie-break order for articles syndicated across feeds.
type Source struct {
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	Category    string `yaml:"category"`
	MaxArticles int    `yaml:"max_articles,omitempty"`
	Enabled     bool   `yaml:"enabled"`
}

type FetchConfig struct {
	Timeout string `yaml:"timeout"`
	Workers int    `yaml:"workers"`
	MaxAge  string `yaml:"max_age"`
}

type SummarizerConfig struct {
	Provider       string  `yaml:"provider"` // "claude" or "openai"
	Model          string  `yaml:"model"`
	APIKey         string  `yaml:"api_key"`
	MaxConcurrent  int     `yaml:"max_concurrent"`
	MaxAttempts    int     `yaml:"max_attempts"`
	InitialBackoff string  `yaml:"initial_backoff"`
	RequestTimeout string  `yaml:"request_timeout"`
	RequestsPerSec float64 `yaml:"requests_per_second"`
	MaxWords       int     `yaml:"max_words"`
}

type Config struct {
	Retention   string           `yaml:"retention"`
	RunTimeout  string           `yaml:"run_timeout"`
	Categories  []string         `yaml:"categories"`
	Fetch       FetchConfig      `yaml:"fetch"`
	Summarizer  SummarizerConfig `yaml:"summarizer"`
	CachePath   string           `yaml:"cache_path,omitempty"`
	ArchivePath string           `yaml:"archive_path,omitempty"`
	Sources     []Source         `yaml:"sources"`
}

// apiKeyEnv maps providers to the environment variable checked when the config
// file does not carry a key.
var apiKeyEnv = map[string]string{
	"claude": "ANTHROPIC_API_KEY",
	"openai": "OPENAI_API_KEY",
}

// APIKey returns the resolved summarization API key (config or env var).
func (c *Config) APIKey() string {
	if c.Summarizer.APIKey != "" {
		return c.Summarizer.APIKey
	}
	return os.Getenv(apiKeyEnv[c.Summarizer.Provider])
}

// SummarizerEnabled reports whether a summarization key is available. Without
// one the pipeline still runs, substituting excerpt fallbacks for cache misses.
func (c *Config) SummarizerEnabled() bool {
	return c.APIKey() != ""
}

func (c *Config) RetentionDuration() time.Duration {
	return parseDaysOrDuration(c.Retention, 7*24*time.Hour)
}

func (c *Config) RunTimeoutDuration() time.Duration {
	return parseDaysOrDuration(c.RunTimeout, 5*time.Minute)
}

func (c *Config) FetchTimeout() time.Duration {
	return parseDaysOrDuration(c.Fetch.Timeout, 30*time.Second)
}

// FetchMaxAge is the window of entry publish dates worth ingesting; older
// entries are dropped at parse time.
func (c *Config) FetchMaxAge() time.Duration {
	return parseDaysOrDuration(c.Fetch.MaxAge, 7*24*time.Hour)
}

func (c *Config) FetchWorkers() int {
	if c.Fetch.Workers <= 0 {
		return 4
	}
	return c.Fetch.Workers
}

func (c *Config) SummarizeConcurrency() int {
	if c.Summarizer.MaxConcurrent <= 0 {
		return 2
	}
	return c.Summarizer.MaxConcurrent
}

func (c *Config) SummarizeAttempts() int {
	if c.Summarizer.MaxAttempts <= 0 {
		return 3
	}
	return c.Summarizer.MaxAttempts
}

func (c *Config) SummarizeBackoff() time.Duration {
	return parseDaysOrDuration(c.Summarizer.InitialBackoff, time.Second)
}

func (c *Config) SummarizeRequestTimeout() time.Duration {
	return parseDaysOrDuration(c.Summarizer.RequestTimeout, 30*time.Second)
}

func (c *Config) SummarizeRate() float64 {
	if c.Summarizer.RequestsPerSec <= 0 {
		return 1
	}
	return c.Summarizer.RequestsPerSec
}

func (c *Config) SummaryMaxWords() int {
	if c.Summarizer.MaxWords <= 0 {
		return 40
	}
	return c.Summarizer.MaxWords
}

func (c *Config) EnabledSources() []Source {
	var out []Source
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// ResolvedCachePath returns the summary cache file location.
func (c *Config) ResolvedCachePath() string {
	if c.CachePath != "" {
		return c.CachePath
	}
	return filepath.Join(xdg.CacheHome, "newsdigest", "summaries.json")
}

// ResolvedArchivePath returns the run-history database location.
func (c *Config) ResolvedArchivePath() string {
	if c.ArchivePath != "" {
		return c.ArchivePath
	}
	return filepath.Join(xdg.CacheHome, "newsdigest", "archive.db")
}

func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, "newsdigest", "config.yaml")
}

// parseDaysOrDuration accepts Go durations plus an "Nd" day suffix.
func parseDaysOrDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil {
			return time.Duration(days) * 24 * time.Hour
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func loadDefaults() (*Config, error) {
	data, err := defaultConfigFS.ReadFile("default_config.yaml")
	if err != nil {
		return nil, fmt.Errorf("reading embedded config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded config: %w", err)
	}
	return &cfg, nil
}

func Load(path string) (*Config, error) {
	defaults, err := loadDefaults()
	if err != nil {
		return nil, err
	}

	if path == "" {
		path = DefaultConfigPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Write defaults to config path on first run
			if err := writeDefaults(path); err != nil {
				// Non-fatal: just use embedded defaults
				return defaults, nil
			}
			return defaults, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func writeDefaults(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, _ := defaultConfigFS.ReadFile("default_config.yaml")
	return os.WriteFile(path, data, 0o644)
}

func validate(cfg *Config) error {
	validProviders := map[string]bool{"": true, "claude": true, "openai": true}
	if !validProviders[cfg.Summarizer.Provider] {
		return fmt.Errorf("summarizer: unknown provider %q (valid: claude, openai)", cfg.Summarizer.Provider)
	}
	seen := map[string]string{}
	for i, s := range cfg.Sources {
		if s.Name == "" {
			return fmt.Errorf("source %d: name is required", i)
		}
		if s.URL == "" {
			return fmt.Errorf("source %q: url is required", s.Name)
		}
		u, err := url.Parse(s.URL)
		if err != nil {
			return fmt.Errorf("source %q: invalid url: %w", s.Name, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("source %q: url scheme must be http or https, got %q", s.Name, u.Scheme)
		}
		if s.Category == "" {
			return fmt.Errorf("source %q: category is required", s.Name)
		}
		if prev, ok := seen[s.URL]; ok {
			return fmt.Errorf("source %q: url already used by %q", s.Name, prev)
		}
		seen[s.URL] = s.Name
	}
	return nil
}
