package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. INVCRAWLER_CRAWL_TARGET_COUNT
const EnvPrefix = "INVCRAWLER"

// DirectProxy is the proxy entry meaning "connect without a proxy"
const DirectProxy = "direct"

// Config holds all configuration options for the inventory crawler
type Config struct {
	// Upstream endpoints and request shaping
	Steam SteamConfig `yaml:"steam" json:"steam"`

	// Crawl targets, proxies and discovery seeds
	Crawl CrawlConfig `yaml:"crawl" json:"crawl"`

	// Shared rate-limit backoff
	Gate GateConfig `yaml:"gate" json:"gate"`

	// Persistence backend
	Store StoreConfig `yaml:"store" json:"store"`

	// Prometheus endpoint
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// SteamConfig holds upstream API settings
type SteamConfig struct {
	BaseURL           string        `yaml:"base_url" json:"base_url" split_words:"true"`
	Language          string        `yaml:"language" json:"language"`
	PageSize          int           `yaml:"page_size" json:"page_size" split_words:"true"`
	MaxPages          int           `yaml:"max_pages" json:"max_pages" split_words:"true"`
	MemberPageSize    int           `yaml:"member_page_size" json:"member_page_size" split_words:"true"`
	RequestTimeout    time.Duration `yaml:"request_timeout" json:"request_timeout" split_words:"true"`
	RequestsPerSecond float64       `yaml:"requests_per_second" json:"requests_per_second" split_words:"true"`
	UserAgent         string        `yaml:"user_agent" json:"user_agent" split_words:"true"`
}

// CrawlConfig holds the crawl run parameters
type CrawlConfig struct {
	TargetCount   int      `yaml:"target_count" json:"target_count" split_words:"true"`
	Proxies       []string `yaml:"proxies" json:"proxies"`
	Groups        []string `yaml:"groups" json:"groups"`
	SeedFile      string   `yaml:"seed_file" json:"seed_file" split_words:"true"`
	BatchCap      int      `yaml:"batch_cap" json:"batch_cap" split_words:"true"`
	DiscoveryStep int      `yaml:"discovery_step" json:"discovery_step" split_words:"true"`
	MaxAttempts   int      `yaml:"max_attempts" json:"max_attempts" split_words:"true"`
	StateDir      string   `yaml:"state_dir" json:"state_dir" split_words:"true"`
}

// GateConfig holds the rate-limit gate settings
type GateConfig struct {
	Shared       bool          `yaml:"shared" json:"shared"`
	MinBackoff   time.Duration `yaml:"min_backoff" json:"min_backoff" split_words:"true"`
	MaxBackoff   time.Duration `yaml:"max_backoff" json:"max_backoff" split_words:"true"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval" split_words:"true"`
}

// StoreConfig selects and configures the persistence backend
type StoreConfig struct {
	Driver       string `yaml:"driver" json:"driver"`
	Path         string `yaml:"path" json:"path"`
	DSN          string `yaml:"dsn" json:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns" json:"max_open_conns" split_words:"true"`
	SweepBatch   int    `yaml:"sweep_batch" json:"sweep_batch" split_words:"true"`
}

// MetricsConfig holds the Prometheus listener address. Empty disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
	JSON  bool   `yaml:"json" json:"json"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Steam: SteamConfig{
			BaseURL:           "https://steamcommunity.com",
			Language:          "english",
			PageSize:          500,
			MaxPages:          3,
			MemberPageSize:    1000,
			RequestTimeout:    30 * time.Second,
			RequestsPerSecond: 1,
			UserAgent:         "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		},
		Crawl: CrawlConfig{
			TargetCount:   1000,
			Proxies:       []string{DirectProxy},
			BatchCap:      50,
			DiscoveryStep: 1000,
			MaxAttempts:   3,
		},
		Gate: GateConfig{
			Shared:       true,
			MinBackoff:   2 * time.Minute,
			MaxBackoff:   4 * time.Minute,
			PollInterval: 5 * time.Second,
		},
		Store: StoreConfig{
			Driver:       "sqlite",
			Path:         "./data/invcrawler.db",
			MaxOpenConns: 10,
			SweepBatch:   500,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv overrides fields from INVCRAWLER_* environment variables.
// Unset variables leave the current value untouched.
func (c *Config) LoadFromEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("failed to process environment: %w", err)
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	// If path is empty, try default locations
	if path == "" {
		path = findConfigFile()
		if path == "" {
			return nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for a config file in standard locations
func findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		"invcrawler.yaml",
		".invcrawler.yaml",
		filepath.Join(home, ".config", "invcrawler", "config.yaml"),
		filepath.Join(home, ".invcrawler.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if _, err := url.ParseRequestURI(c.Steam.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("invalid steam base url: %w", err))
	}
	if c.Steam.PageSize <= 0 || c.Steam.PageSize > 5000 {
		errs = append(errs, errors.New("steam page size must be between 1 and 5000"))
	}
	if c.Steam.MaxPages <= 0 {
		errs = append(errs, errors.New("steam max pages must be positive"))
	}
	if c.Steam.MemberPageSize <= 0 {
		errs = append(errs, errors.New("member page size must be positive"))
	}
	if c.Steam.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.Steam.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("requests per second cannot be negative"))
	}

	if c.Crawl.TargetCount <= 0 {
		errs = append(errs, errors.New("target count must be positive"))
	}
	if len(c.Crawl.Proxies) == 0 {
		errs = append(errs, errors.New("at least one proxy is required (use \"direct\" for none)"))
	}
	for _, p := range c.Crawl.Proxies {
		if p == DirectProxy {
			continue
		}
		if u, err := url.Parse(p); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("invalid proxy url %q", p))
		}
	}
	if c.Crawl.BatchCap <= 0 {
		errs = append(errs, errors.New("batch cap must be positive"))
	}
	if c.Crawl.DiscoveryStep <= 0 {
		errs = append(errs, errors.New("discovery step must be positive"))
	}
	if c.Crawl.MaxAttempts <= 0 {
		errs = append(errs, errors.New("max attempts must be positive"))
	}

	if c.Gate.MinBackoff <= 0 {
		errs = append(errs, errors.New("gate min backoff must be positive"))
	}
	if c.Gate.MaxBackoff < c.Gate.MinBackoff {
		errs = append(errs, errors.New("gate max backoff must not be below min backoff"))
	}
	if c.Gate.PollInterval <= 0 {
		errs = append(errs, errors.New("gate poll interval must be positive"))
	}

	switch strings.ToLower(c.Store.Driver) {
	case "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, errors.New("store path is required for sqlite"))
		}
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store dsn is required for postgres"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if c.Store.SweepBatch <= 0 {
		errs = append(errs, errors.New("sweep batch must be positive"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges explicitly set command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if target, ok := flags["target"].(int); ok && target > 0 {
		c.Crawl.TargetCount = target
	}
	if proxies, ok := flags["proxies"].([]string); ok && len(proxies) > 0 {
		c.Crawl.Proxies = proxies
	}
	if groups, ok := flags["groups"].([]string); ok && len(groups) > 0 {
		c.Crawl.Groups = groups
	}
	if seed, ok := flags["seed-file"].(string); ok && seed != "" {
		c.Crawl.SeedFile = seed
	}
	if shared, ok := flags["shared-gate"].(bool); ok {
		c.Gate.Shared = shared
	}
	if driver, ok := flags["store-driver"].(string); ok && driver != "" {
		c.Store.Driver = driver
	}
	if path, ok := flags["store-path"].(string); ok && path != "" {
		c.Store.Path = path
	}
	if dsn, ok := flags["store-dsn"].(string); ok && dsn != "" {
		c.Store.DSN = dsn
	}
	if addr, ok := flags["metrics-addr"].(string); ok && addr != "" {
		c.Metrics.Addr = addr
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	// .env files are optional
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".invcrawler.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}
