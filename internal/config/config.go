package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Graph     GraphConfig     `yaml:"graph" mapstructure:"graph"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Approval  ApprovalConfig  `yaml:"approval" mapstructure:"approval"`
	Ingest    IngestConfig    `yaml:"ingest" mapstructure:"ingest"`
	Bridge    BridgeConfig    `yaml:"bridge" mapstructure:"bridge"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key             string `yaml:"key" mapstructure:"key"`
	TranscribeModel string `yaml:"transcribe_model" mapstructure:"transcribe_model"`
	ClassifyModel   string `yaml:"classify_model" mapstructure:"classify_model"`
	ExtractModel    string `yaml:"extract_model" mapstructure:"extract_model"`
	MaxTokens       int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// GraphConfig holds Microsoft Graph app credentials and token storage.
type GraphConfig struct {
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string  `yaml:"client_secret" mapstructure:"client_secret"`
	TenantID     string  `yaml:"tenant_id" mapstructure:"tenant_id"`
	RedirectURL  string  `yaml:"redirect_url" mapstructure:"redirect_url"`
	TokenDir     string  `yaml:"token_dir" mapstructure:"token_dir"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// PipelineConfig configures document intake and extraction.
type PipelineConfig struct {
	BoundaryMarkers []string `yaml:"boundary_markers" mapstructure:"boundary_markers"`
	// OwnerColumns maps owner id to extra per-item columns injected into
	// every normalized row for that owner.
	OwnerColumns map[string][]InsertedColumn `yaml:"owner_columns" mapstructure:"owner_columns"`
}

// InsertedColumn is one constant per-item column the normalizer injects for
// an owner, pre-filled ERP data such as internal item codes.
type InsertedColumn struct {
	Name     string `yaml:"name" mapstructure:"name"`
	Value    string `yaml:"value" mapstructure:"value"`
	AfterIdx int    `yaml:"after_idx" mapstructure:"after_idx"`
}

// ApprovalConfig is the approval policy table: a global default plus
// per-owner overrides keyed by owner id.
type ApprovalConfig struct {
	AutoApprove bool            `yaml:"auto_approve" mapstructure:"auto_approve"`
	Owners      map[string]bool `yaml:"owners" mapstructure:"owners"`
}

// Policy resolves the approval policy for an owner: per-owner override
// first, then the global default.
func (c ApprovalConfig) Policy(ownerID string) bool {
	if v, ok := c.Owners[ownerID]; ok {
		return v
	}
	return c.AutoApprove
}

// IngestConfig configures the mailbox polling ingester.
type IngestConfig struct {
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
	FetchLimit   int `yaml:"fetch_limit" mapstructure:"fetch_limit"`
}

// Interval returns the per-account poll interval as a duration.
func (c IngestConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// BridgeConfig configures the ERP reconciliation process.
type BridgeConfig struct {
	APIURL       string `yaml:"api_url" mapstructure:"api_url"`
	Username     string `yaml:"username" mapstructure:"username"`
	Password     string `yaml:"password" mapstructure:"password"`
	IntervalSecs int    `yaml:"interval_secs" mapstructure:"interval_secs"`
	BackoffSecs  int    `yaml:"backoff_secs" mapstructure:"backoff_secs"`
}

// Interval returns the bridge poll interval as a duration.
func (c BridgeConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

// Backoff returns the reconnect backoff delay as a duration.
func (c BridgeConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSecs) * time.Second
}

// ServerConfig configures the order API server.
type ServerConfig struct {
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
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
	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "intake.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.transcribe_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.classify_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.extract_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("graph.tenant_id", "common")
	v.SetDefault("graph.token_dir", ".intake/tokens")
	v.SetDefault("graph.rate_limit_rps", 4.0)
	v.SetDefault("approval.auto_approve", false)
	v.SetDefault("ingest.interval_secs", 300)
	v.SetDefault("ingest.fetch_limit", 50)
	v.SetDefault("bridge.interval_secs", 2)
	v.SetDefault("bridge.backoff_secs", 10)

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
