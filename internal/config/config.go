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
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Oracle   OracleConfig   `yaml:"oracle" mapstructure:"oracle"`
	Executor ExecutorConfig `yaml:"executor" mapstructure:"executor"`
	Pipeline PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// OracleConfig holds Anthropic API settings.
type OracleConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ExecutorConfig tunes dispatch against the oracle.
type ExecutorConfig struct {
	SubBatchSize int     `yaml:"sub_batch_size" mapstructure:"sub_batch_size"`
	Concurrency  int     `yaml:"concurrency" mapstructure:"concurrency"`
	StaggerMS    int     `yaml:"stagger_ms" mapstructure:"stagger_ms"`
	CooldownMS   int     `yaml:"cooldown_ms" mapstructure:"cooldown_ms"`
	CallBudget   int64   `yaml:"call_budget" mapstructure:"call_budget"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	MaxAttempts  int     `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// PipelineConfig configures run behavior.
type PipelineConfig struct {
	WindowRadius int    `yaml:"window_radius" mapstructure:"window_radius"`
	DedupeChunk  int    `yaml:"dedupe_chunk" mapstructure:"dedupe_chunk"`
	TuningPath   string `yaml:"tuning_path" mapstructure:"tuning_path"`
}

// ServerConfig configures the control server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
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
	v.SetEnvPrefix("LEXIPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "lexipipe.db")
	v.SetDefault("oracle.model", "claude-haiku-4-5-20251001")
	v.SetDefault("oracle.max_tokens", 2048)
	v.SetDefault("executor.sub_batch_size", 5)
	v.SetDefault("executor.concurrency", 5)
	v.SetDefault("executor.stagger_ms", 100)
	v.SetDefault("executor.cooldown_ms", 500)
	v.SetDefault("executor.call_budget", 500)
	v.SetDefault("executor.rate_per_sec", 2)
	v.SetDefault("executor.max_attempts", 4)
	v.SetDefault("pipeline.window_radius", 2)
	v.SetDefault("pipeline.dedupe_chunk", 200)
	v.SetDefault("server.port", 8080)
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
