// Package config loads and validates TokenPulse's YAML configuration tree,
// with environment-variable overrides for anything credential-shaped.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration tree: server, ambient stack, and the
// pipeline's own scraping/resolver/provider settings.
type Config struct {
	Environment string `yaml:"environment"`

	Server struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`

	Store struct {
		Dir           string `yaml:"dir"`
		ScrapeFile    string `yaml:"scrape_file"`
		SentimentFile string `yaml:"sentiment_file"`
		CoinFile      string `yaml:"coin_file"`
	} `yaml:"store"`

	Scrape struct {
		MaxPostAge     time.Duration `yaml:"max_post_age"`
		WallBudget     time.Duration `yaml:"wall_budget"`
		DebounceWindow time.Duration `yaml:"debounce_window"`
		MaxPages       int           `yaml:"max_pages"`
		CommentLimit   int           `yaml:"comment_limit"`
		Sources        []string      `yaml:"sources"`
	} `yaml:"scrape"`

	Resolver struct {
		BaseURL        string        `yaml:"base_url"`
		APIKey         string        `yaml:"api_key"`
		Model          string        `yaml:"model"`
		CommentsPerPost int          `yaml:"comments_per_post"`
		Timeout        time.Duration `yaml:"timeout"`
	} `yaml:"resolver"`

	Market struct {
		Parallelism     int           `yaml:"parallelism"`
		ProviderTimeout time.Duration `yaml:"provider_timeout"`
		Cooldown        time.Duration `yaml:"cooldown"`
		DexScreener struct {
			BaseURL string `yaml:"base_url"`
		} `yaml:"dexscreener"`
		Jupiter struct {
			BaseURL string `yaml:"base_url"`
			APIKey  string `yaml:"api_key"`
		} `yaml:"jupiter"`
		Moralis struct {
			BaseURL string `yaml:"base_url"`
			APIKey  string `yaml:"api_key"`
		} `yaml:"moralis"`
	} `yaml:"market"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		DSN              string        `yaml:"dsn"`
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides credential-shaped and
// deployment-shaped fields from the environment.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("TOKEN_ORACLE_API_KEY"); v != "" {
		c.Resolver.APIKey = v
	}
	if v := os.Getenv("DEXSCREENER_API_KEY"); v != "" {
		// DexScreener's search endpoint is keyless by default; a key here
		// only matters if a paid tier is configured downstream.
		c.Market.DexScreener.BaseURL = withAPIKeyParam(c.Market.DexScreener.BaseURL, v)
	}
	if v := os.Getenv("JUPITER_API_KEY"); v != "" {
		c.Market.Jupiter.APIKey = v
	}
	if v := os.Getenv("MORALIS_API_KEY"); v != "" {
		c.Market.Moralis.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		c.ClickHouse.DSN = v
		c.ClickHouse.Enabled = true
	}
	if v := os.Getenv("SCRAPE_SOURCES"); v != "" {
		c.Scrape.Sources = strings.Split(v, ",")
	}

	return c, nil
}

func withAPIKeyParam(baseURL, key string) string {
	if baseURL == "" {
		return baseURL
	}
	sep := "?"
	if strings.Contains(baseURL, "?") {
		sep = "&"
	}
	return baseURL + sep + "api_key=" + key
}

// Validate checks the fields the pipeline cannot run without. Provider and
// mirror credentials are intentionally excluded: an absent one disables
// exactly that optional feature rather than failing startup.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Store.Dir == "" {
		return fmt.Errorf("store.dir is required")
	}
	if len(c.Scrape.Sources) == 0 {
		return fmt.Errorf("scrape.sources cannot be empty")
	}
	return nil
}
