// Package config loads and validates runner configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Queue backends.
const (
	BackendATS      = "ats"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Browser engines.
const (
	EngineChromedp   = "chromedp"
	EnginePlaywright = "playwright"
)

// Config captures all runner configuration knobs loaded via Viper.
type Config struct {
	Queue    QueueConfig    `mapstructure:"queue"`
	ATS      ATSConfig      `mapstructure:"ats"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Pacing   PacingConfig   `mapstructure:"pacing"`
	Seed     SeedConfig     `mapstructure:"seed"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
}

// QueueConfig selects the workqueue backend.
type QueueConfig struct {
	Backend string `mapstructure:"backend"`
}

// ATSConfig locates the Automation Server session. The ATS_* environment
// variables set by the orchestrator populate it.
type ATSConfig struct {
	URL            string `mapstructure:"url"`
	Token          string `mapstructure:"token"`
	Session        string `mapstructure:"session"`
	Resource       string `mapstructure:"resource"`
	Process        string `mapstructure:"process"`
	Workqueue      string `mapstructure:"workqueue"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// PostgresConfig controls the self-hosted queue table.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	Queue                  string `mapstructure:"queue"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
	Migrate                bool   `mapstructure:"migrate"`
}

// BrowserConfig configures the headless browser.
type BrowserConfig struct {
	Engine                    string `mapstructure:"engine"`
	Headless                  bool   `mapstructure:"headless"`
	DisableSearchEngineChoice bool   `mapstructure:"disable_search_engine_choice"`
	NavTimeoutSec             int    `mapstructure:"nav_timeout_seconds"`
	ExecPath                  string `mapstructure:"exec_path"`
	Install                   bool   `mapstructure:"install"`
	NoSandbox                 bool   `mapstructure:"no_sandbox"`
	UserAgent                 string `mapstructure:"user_agent"`
}

// PacingConfig bounds the pause after each item, in whole seconds.
type PacingConfig struct {
	MinSeconds int `mapstructure:"min_seconds"`
	MaxSeconds int `mapstructure:"max_seconds"`
}

// SeedConfig lists the URLs enqueued in seed mode. Empty means the built-in list.
type SeedConfig struct {
	URLs []string `mapstructure:"urls"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Name        string `mapstructure:"name"`
}

// MetricsConfig exposes or pushes Prometheus metrics. Both are off when empty.
type MetricsConfig struct {
	ListenAddr     string `mapstructure:"listen_addr"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// TracingConfig enables per-item spans written to stdout.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

const envPrefix = "PAGECOUNTER"

// orchestratorEnv maps keys to the variables the Automation Server sets. The
// prefixed name of each key still wins when both are set.
var orchestratorEnv = map[string]string{
	"ats.url":       "ATS_URL",
	"ats.token":     "ATS_TOKEN",
	"ats.session":   "ATS_SESSION",
	"ats.resource":  "ATS_RESOURCE",
	"ats.process":   "ATS_PROCESS",
	"ats.workqueue": "ATS_WORKQUEUE",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()
	for key, env := range orchestratorEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(replacer.Replace(key))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("queue.backend", BackendATS)
	v.SetDefault("ats.timeout_seconds", 30)
	v.SetDefault("postgres.table", "work_items")
	v.SetDefault("postgres.queue", "pagecount")
	v.SetDefault("postgres.max_conns", 4)
	v.SetDefault("postgres.max_conn_lifetime_minutes", 30)
	v.SetDefault("postgres.migrate", true)
	v.SetDefault("browser.engine", EngineChromedp)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_search_engine_choice", true)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.install", false)
	v.SetDefault("browser.no_sandbox", false)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("pacing.min_seconds", 10)
	v.SetDefault("pacing.max_seconds", 40)
	v.SetDefault("seed.urls", []string{})
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.name", "pagecounter")
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "pagecounter")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "pagecounter")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Queue.Backend {
	case BackendATS:
		if c.ATS.URL == "" {
			return fmt.Errorf("ats.url must be set for the ats backend")
		}
		if c.ATS.Workqueue == "" && c.ATS.Process == "" {
			return fmt.Errorf("ats.workqueue or ats.process must be set for the ats backend")
		}
		if c.ATS.TimeoutSeconds <= 0 {
			return fmt.Errorf("ats.timeout_seconds must be > 0")
		}
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn must be set for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("queue.backend must be one of %s, %s, %s; got %q",
			BackendATS, BackendMemory, BackendPostgres, c.Queue.Backend)
	}
	switch c.Browser.Engine {
	case EngineChromedp, EnginePlaywright:
	default:
		return fmt.Errorf("browser.engine must be %s or %s; got %q", EngineChromedp, EnginePlaywright, c.Browser.Engine)
	}
	if c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Pacing.MinSeconds < 0 {
		return fmt.Errorf("pacing.min_seconds must be >= 0")
	}
	if c.Pacing.MaxSeconds < c.Pacing.MinSeconds {
		return fmt.Errorf("pacing.max_seconds must be >= pacing.min_seconds")
	}
	if c.Tracing.Enabled && c.Tracing.ServiceName == "" {
		return fmt.Errorf("tracing.service_name must be set when tracing is enabled")
	}
	if c.Metrics.PushgatewayURL != "" && c.Metrics.Job == "" {
		return fmt.Errorf("metrics.job must be set when metrics.pushgateway_url is set")
	}
	return nil
}

// NavTimeout converts the navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Browser.NavTimeoutSec) * time.Second
}

// ATSTimeout converts the Automation Server request timeout into a duration.
func (c Config) ATSTimeout() time.Duration {
	return time.Duration(c.ATS.TimeoutSeconds) * time.Second
}

// PostgresMaxConnLifetime converts the pool lifetime into a duration.
func (c Config) PostgresMaxConnLifetime() time.Duration {
	return time.Duration(c.Postgres.MaxConnLifetimeMinutes) * time.Minute
}
