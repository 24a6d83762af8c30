// Package config loads house-scraper settings from config.yaml and HOUSE_*
// environment variables.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Paths       PathsConfig       `yaml:"paths" mapstructure:"paths"`
	LLM         LLMConfig         `yaml:"llm" mapstructure:"llm"`
	Anthropic   AnthropicConfig   `yaml:"anthropic" mapstructure:"anthropic"`
	Ollama      OllamaConfig      `yaml:"ollama" mapstructure:"ollama"`
	Fetch       FetchConfig       `yaml:"fetch" mapstructure:"fetch"`
	Standardize StandardizeConfig `yaml:"standardize" mapstructure:"standardize"`
	Batch       BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// PathsConfig locates the durable data files.
type PathsConfig struct {
	PendingFile  string `yaml:"pending_file" mapstructure:"pending_file"`
	LedgerFile   string `yaml:"ledger_file" mapstructure:"ledger_file"`
	ProfilesFile string `yaml:"profiles_file" mapstructure:"profiles_file"`
	// SchemaFile is optional; empty uses the built-in field list.
	SchemaFile string `yaml:"schema_file" mapstructure:"schema_file"`
}

// LLMConfig configures the extraction fallback.
type LLMConfig struct {
	Provider          string `yaml:"provider" mapstructure:"provider"`
	Model             string `yaml:"model" mapstructure:"model"`
	MaxTokens         int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs       int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxPromptChars    int    `yaml:"max_prompt_chars" mapstructure:"max_prompt_chars"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	Retries           int    `yaml:"retries" mapstructure:"retries"`
	// BreakerThreshold consecutive failures open the circuit for BreakerCooldownSecs.
	BreakerThreshold    int `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// OllamaConfig points at a local Ollama server.
type OllamaConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// FetchConfig configures page retrieval.
type FetchConfig struct {
	TimeoutSecs        int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MinHTMLChars       int    `yaml:"min_html_chars" mapstructure:"min_html_chars"`
	MaxTextChars       int    `yaml:"max_text_chars" mapstructure:"max_text_chars"`
	UserAgent          string `yaml:"user_agent" mapstructure:"user_agent"`
	Browser            bool   `yaml:"browser" mapstructure:"browser"`
	BrowserTimeoutSecs int    `yaml:"browser_timeout_secs" mapstructure:"browser_timeout_secs"`
	BrowserPath        string `yaml:"browser_path" mapstructure:"browser_path"`
}

// StandardizeConfig toggles value normalization, globally or per field.
type StandardizeConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Fields  map[string]bool `yaml:"fields" mapstructure:"fields"`
}

// BatchConfig configures batch processing.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HOUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "data/properties.db")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("paths.pending_file", "data/links-to-scrap.md")
	v.SetDefault("paths.ledger_file", "data/properties-status.md")
	v.SetDefault("paths.profiles_file", "data/site_profiles.json")
	v.SetDefault("paths.schema_file", "")
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("llm.model", "claude-haiku-4-5-20251001")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.timeout_secs", 120)
	v.SetDefault("llm.max_prompt_chars", 10000)
	v.SetDefault("llm.requests_per_minute", 50)
	v.SetDefault("llm.retries", 3)
	v.SetDefault("llm.breaker_threshold", 5)
	v.SetDefault("llm.breaker_cooldown_secs", 60)
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("ollama.base_url", "http://localhost:11434")
	v.SetDefault("ollama.model", "llama3.1")
	v.SetDefault("fetch.timeout_secs", 30)
	v.SetDefault("fetch.min_html_chars", 1000)
	v.SetDefault("fetch.max_text_chars", 50000)
	v.SetDefault("fetch.user_agent", "")
	v.SetDefault("fetch.browser", false)
	v.SetDefault("fetch.browser_path", "")
	v.SetDefault("fetch.browser_timeout_secs", 60)
	v.SetDefault("standardize.enabled", true)
	v.SetDefault("batch.concurrency", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Modes accepted by Validate.
const (
	ModeScrape = "scrape"
	ModeStore  = "store"
)

// Validate reports every setting the given mode cannot run without.
// ModeStore checks the database; ModeScrape also checks files and the LLM
// provider credentials.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		problems = append(problems, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		problems = append(problems, "store.database_url is required")
	}

	if mode == ModeScrape {
		if c.Paths.PendingFile == "" {
			problems = append(problems, "paths.pending_file is required")
		}
		if c.Paths.LedgerFile == "" {
			problems = append(problems, "paths.ledger_file is required")
		}
		if c.Paths.ProfilesFile == "" {
			problems = append(problems, "paths.profiles_file is required")
		}
		switch c.LLM.Provider {
		case "anthropic":
			if c.Anthropic.Key == "" {
				problems = append(problems, "anthropic.key is required (set HOUSE_ANTHROPIC_KEY)")
			}
		case "ollama":
			if c.Ollama.Model == "" {
				problems = append(problems, "ollama.model is required")
			}
		case "none":
		default:
			problems = append(problems, "llm.provider must be anthropic, ollama or none")
		}
		if c.Batch.Concurrency < 1 {
			problems = append(problems, "batch.concurrency must be at least 1")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
