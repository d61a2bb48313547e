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
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Timezone   string           `yaml:"timezone" mapstructure:"timezone"`
	PowerPlexy PowerPlexyConfig `yaml:"powerplexy" mapstructure:"powerplexy"`
	Registry   RegistryConfig   `yaml:"registry" mapstructure:"registry"`
	OpenData   OpenDataConfig   `yaml:"opendata" mapstructure:"opendata"`
	Enrich     EnrichConfig     `yaml:"enrich" mapstructure:"enrich"`
	Facebook   FacebookConfig   `yaml:"facebook" mapstructure:"facebook"`
}

// FacebookConfig holds the page-metrics sync credentials.
type FacebookConfig struct {
	Token string `yaml:"token" mapstructure:"token"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the usage-meter store and the task queue broker.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// QueueConfig configures the background worker.
type QueueConfig struct {
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	Queue       string `yaml:"queue" mapstructure:"queue"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// PowerPlexyConfig holds AI chat API settings and budget limits.
type PowerPlexyConfig struct {
	APIKey           string  `yaml:"api_key" mapstructure:"api_key"`
	Endpoint         string  `yaml:"endpoint" mapstructure:"endpoint"`
	Model            string  `yaml:"model" mapstructure:"model"`
	TimeoutSecs      int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxTokens        int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	MonthlyCostLimit float64 `yaml:"monthly_cost_limit" mapstructure:"monthly_cost_limit"`
	MonthlyCallLimit int64   `yaml:"monthly_call_limit" mapstructure:"monthly_call_limit"`
	CostPerRequest   float64 `yaml:"cost_per_request" mapstructure:"cost_per_request"`
	DailyRecordLimit int     `yaml:"daily_record_limit" mapstructure:"daily_record_limit"`
}

// EffectiveMonthlyCallLimit returns the explicit monthly call limit, or one
// derived from the cost budget when the limit is unset.
func (c PowerPlexyConfig) EffectiveMonthlyCallLimit() int64 {
	if c.MonthlyCallLimit > 0 {
		return c.MonthlyCallLimit
	}
	if c.CostPerRequest <= 0 {
		return 0
	}
	return int64(c.MonthlyCostLimit / c.CostPerRequest)
}

// EffectiveDailyRecordLimit returns the explicit daily record limit when
// set; otherwise the monthly call limit spread over the days of the current
// month (never below 1).
func (c PowerPlexyConfig) EffectiveDailyRecordLimit(now time.Time) int {
	if c.DailyRecordLimit > 0 {
		return c.DailyRecordLimit
	}
	monthly := c.EffectiveMonthlyCallLimit()
	if monthly <= 0 {
		return 1
	}
	days := daysInMonth(now)
	limit := int(monthly) / days
	if limit < 1 {
		limit = 1
	}
	return limit
}

func daysInMonth(t time.Time) int {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
	return firstOfNext.AddDate(0, 0, -1).Day()
}

// RegistryConfig holds corporate-number registry API settings.
type RegistryConfig struct {
	Token               string `yaml:"token" mapstructure:"token"`
	BaseURL             string `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs         int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxResults          int    `yaml:"max_results" mapstructure:"max_results"`
	DailyLimit          int    `yaml:"daily_limit" mapstructure:"daily_limit"`
	IntervalSecs        int    `yaml:"interval_secs" mapstructure:"interval_secs"`
	CompanyCooldownDays int    `yaml:"company_cooldown_days" mapstructure:"company_cooldown_days"`
}

// OpenDataConfig holds open-data source settings.
type OpenDataConfig struct {
	ConfigPath  string `yaml:"config_path" mapstructure:"config_path"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// EnrichConfig controls the AI enrichment batch wrapper.
type EnrichConfig struct {
	BatchSize     int `yaml:"batch_size" mapstructure:"batch_size"`
	APIDelaySecs  int `yaml:"api_delay_secs" mapstructure:"api_delay_secs"`
	CooldownDays  int `yaml:"cooldown_days" mapstructure:"cooldown_days"`
	MaxErrorNotes int `yaml:"max_error_notes" mapstructure:"max_error_notes"`
}

// Location resolves the configured timezone, defaulting to Asia/Tokyo.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Timezone
	if tz == "" {
		tz = "Asia/Tokyo"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %s", tz)
	}
	return loc, nil
}

// envBindings maps config keys to their well-known environment variables.
// These take precedence over the SALESLIST_* prefixed forms.
var envBindings = map[string]string{
	"powerplexy.api_key":            "POWERPLEXY_API_KEY",
	"powerplexy.endpoint":           "POWERPLEXY_API_ENDPOINT",
	"powerplexy.model":              "POWERPLEXY_MODEL",
	"powerplexy.timeout_secs":       "POWERPLEXY_TIMEOUT",
	"powerplexy.max_tokens":         "POWERPLEXY_MAX_TOKENS",
	"powerplexy.monthly_cost_limit": "POWERPLEXY_MONTHLY_COST_LIMIT",
	"powerplexy.monthly_call_limit": "POWERPLEXY_MONTHLY_CALL_LIMIT",
	"powerplexy.cost_per_request":   "POWERPLEXY_COST_PER_REQUEST",
	"powerplexy.daily_record_limit": "POWERPLEXY_DAILY_RECORD_LIMIT",
	"registry.token":                 "CORPORATE_NUMBER_API_TOKEN",
	"registry.base_url":              "CORPORATE_NUMBER_API_BASE_URL",
	"registry.timeout_secs":          "CORPORATE_NUMBER_API_TIMEOUT",
	"registry.max_results":           "CORPORATE_NUMBER_API_MAX_RESULTS",
	"registry.daily_limit":           "CORPORATE_NUMBER_API_DAILY_LIMIT",
	"registry.interval_secs":         "CORPORATE_NUMBER_API_INTERVAL_SECONDS",
	"registry.company_cooldown_days": "CORPORATE_NUMBER_API_COMPANY_COOLDOWN_DAYS",
	"enrich.batch_size":              "AI_ENRICH_BATCH_SIZE",
	"enrich.api_delay_secs":          "AI_ENRICH_API_DELAY_SECONDS",
	"facebook.token":                 "FACEBOOK_TOKEN",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("saleslist")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SALESLIST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", env)
		}
	}

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("timezone", "Asia/Tokyo")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.queue", "default")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("powerplexy.endpoint", "https://api.powerplexy.ai/chat/completions")
	v.SetDefault("powerplexy.model", "sonar-pro")
	v.SetDefault("powerplexy.timeout_secs", 30)
	v.SetDefault("powerplexy.max_tokens", 1000)
	v.SetDefault("powerplexy.monthly_cost_limit", 150.0)
	v.SetDefault("powerplexy.cost_per_request", 0.05)
	v.SetDefault("registry.base_url", "https://info.gbiz.go.jp/hojin/v1/hojin")
	v.SetDefault("registry.timeout_secs", 10)
	v.SetDefault("registry.max_results", 5)
	v.SetDefault("registry.daily_limit", 5000)
	v.SetDefault("registry.interval_secs", 2)
	v.SetDefault("registry.company_cooldown_days", 30)
	v.SetDefault("opendata.config_path", "config/opendata_sources.yaml")
	v.SetDefault("opendata.timeout_secs", 60)
	v.SetDefault("enrich.batch_size", 25)
	v.SetDefault("enrich.api_delay_secs", 2)
	v.SetDefault("enrich.cooldown_days", 30)
	v.SetDefault("enrich.max_error_notes", 10)

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
