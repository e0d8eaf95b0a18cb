package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/recruit-intake/internal/selector"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Review     ReviewConfig     `yaml:"review" mapstructure:"review"`
	Selector   selector.Config  `yaml:"selector" mapstructure:"selector"`
	Invoker    InvokerConfig    `yaml:"invoker" mapstructure:"invoker"`
	Intake     IntakeConfig     `yaml:"intake" mapstructure:"intake"`
	Reconcile  ReconcileConfig  `yaml:"reconcile" mapstructure:"reconcile"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the idempotency ledger backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	Username     string  `yaml:"username" mapstructure:"username"`
	KeyPath      string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL     string  `yaml:"login_url" mapstructure:"login_url"`
	LeadSource   string  `yaml:"lead_source" mapstructure:"lead_source"`
	RatePerSec   float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	FlagDegraded bool    `yaml:"flag_degraded" mapstructure:"flag_degraded"`
}

// NotionConfig holds Notion API credentials and the review database id.
type NotionConfig struct {
	Token    string `yaml:"token" mapstructure:"token"`
	ReviewDB string `yaml:"review_db" mapstructure:"review_db"`
}

// ReviewConfig configures manual review notifications.
type ReviewConfig struct {
	WebhookURL string `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// InvokerConfig configures retry/backoff for rate-limited calls.
type InvokerConfig struct {
	MaxRetries     int     `yaml:"max_retries" mapstructure:"max_retries"`
	InitialDelayMS int     `yaml:"initial_delay_ms" mapstructure:"initial_delay_ms"`
	MaxDelayMS     int     `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	Base           float64 `yaml:"base" mapstructure:"base"`
}

// IntakeConfig configures the processing pipeline.
type IntakeConfig struct {
	BudgetUSD          float64 `yaml:"budget_usd" mapstructure:"budget_usd"`
	QualityTarget      float64 `yaml:"quality_target" mapstructure:"quality_target"`
	ExtractTimeoutSecs int     `yaml:"extract_timeout_secs" mapstructure:"extract_timeout_secs"`
	CRMTimeoutSecs     int     `yaml:"crm_timeout_secs" mapstructure:"crm_timeout_secs"`
	ReplayRecheckSecs  int     `yaml:"replay_recheck_secs" mapstructure:"replay_recheck_secs"`
}

// ReconcileConfig configures the partial-failure sweep.
type ReconcileConfig struct {
	MinAgeMins         int `yaml:"min_age_mins" mapstructure:"min_age_mins"`
	EscalateAfterHours int `yaml:"escalate_after_hours" mapstructure:"escalate_after_hours"`
	StalePendingMins   int `yaml:"stale_pending_mins" mapstructure:"stale_pending_mins"`
	Concurrency        int `yaml:"concurrency" mapstructure:"concurrency"`
	BatchSize          int `yaml:"batch_size" mapstructure:"batch_size"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port              int `yaml:"port" mapstructure:"port"`
	MaxConcurrent     int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	MetricsLookbackHR int `yaml:"metrics_lookback_hours" mapstructure:"metrics_lookback_hours"`
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
	v.SetEnvPrefix("RECRUIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "intake.db")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.lead_source", "Email Intake")
	v.SetDefault("salesforce.rate_per_sec", 10.0)
	v.SetDefault("selector.threshold1", 2000)
	v.SetDefault("selector.threshold2", 12000)
	v.SetDefault("invoker.max_retries", 3)
	v.SetDefault("invoker.initial_delay_ms", 1000)
	v.SetDefault("invoker.max_delay_ms", 60000)
	v.SetDefault("invoker.base", 2.0)
	v.SetDefault("intake.budget_usd", 0.05)
	v.SetDefault("intake.quality_target", 0.0)
	v.SetDefault("intake.extract_timeout_secs", 90)
	v.SetDefault("intake.crm_timeout_secs", 30)
	v.SetDefault("intake.replay_recheck_secs", 2)
	v.SetDefault("reconcile.min_age_mins", 5)
	v.SetDefault("reconcile.escalate_after_hours", 24)
	v.SetDefault("reconcile.stale_pending_mins", 30)
	v.SetDefault("reconcile.concurrency", 4)
	v.SetDefault("reconcile.batch_size", 200)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_concurrent", 16)
	v.SetDefault("server.metrics_lookback_hours", 24)
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

// Validate checks that the fields a given mode needs are present. Modes
// are "process" (one-shot CLI), "serve" (webhook server), and
// "reconcile" (partial-failure sweep).
func (c *Config) Validate(mode string) error {
	var problems []string

	requireStore := func() {
		if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
			problems = append(problems, "store.driver must be sqlite or postgres")
		}
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	}
	requireDownstream := func() {
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.Salesforce.ClientID == "" {
			problems = append(problems, "salesforce.client_id is required")
		}
		if c.Salesforce.Username == "" {
			problems = append(problems, "salesforce.username is required")
		}
		if c.Salesforce.KeyPath == "" {
			problems = append(problems, "salesforce.key_path is required")
		}
	}

	switch mode {
	case "process":
		requireStore()
		requireDownstream()
	case "serve":
		requireStore()
		requireDownstream()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Server.MaxConcurrent < 1 || c.Server.MaxConcurrent > 256 {
			problems = append(problems, "server.max_concurrent must be between 1 and 256")
		}
	case "reconcile":
		requireStore()
		if c.Salesforce.ClientID == "" {
			problems = append(problems, "salesforce.client_id is required")
		}
		if c.Reconcile.Concurrency < 1 {
			problems = append(problems, "reconcile.concurrency must be >= 1")
		}
	case "ledger":
		requireStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Intake.BudgetUSD < 0 {
		problems = append(problems, "intake.budget_usd must be >= 0")
	}
	if c.Intake.QualityTarget < 0 || c.Intake.QualityTarget > 1 {
		problems = append(problems, "intake.quality_target must be between 0 and 1")
	}
	if c.Notion.Token != "" && c.Notion.ReviewDB == "" {
		problems = append(problems, "notion.review_db is required when notion.token is set")
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
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
