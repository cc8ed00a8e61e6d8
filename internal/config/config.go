// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Database DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Graph    GraphConfig     `mapstructure:"graph" yaml:"graph"`
	LLM      LLMRouterConfig `mapstructure:"llm" yaml:"llm"`
	Workflow WorkflowConfig  `mapstructure:"workflow" yaml:"workflow"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names for different log levels in console format.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the PostgreSQL connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// Supported graph store backends.
const (
	GraphBackendMemory   = "memory"
	GraphBackendPostgres = "postgres"
)

// GraphConfig selects the graph store backend.
type GraphConfig struct {
	// Backend is "memory" or "postgres". Both satisfy the same contract and
	// conformance suite; postgres requires database.url.
	Backend string `mapstructure:"backend" yaml:"backend"`
}

// LLMProvider defines the supported LLM providers.
type LLMProvider string

const (
	// ProviderGemini talks to the Gemini REST API directly.
	ProviderGemini LLMProvider = "gemini"
	// ProviderGoogleGenAI uses the official google.golang.org/genai SDK.
	ProviderGoogleGenAI LLMProvider = "google-genai"
)

// LLMModelConfig configures one model endpoint.
type LLMModelConfig struct {
	Model         string            `mapstructure:"model" yaml:"model"`
	APIKey        string            `mapstructure:"api_key" yaml:"-"`
	Endpoint      string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout    time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxTokens     int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	TopP          float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK          int               `mapstructure:"top_k" yaml:"top_k"`
	SafetyFilters map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
}

// LLMRouterConfig configures the tiered LLM router.
type LLMRouterConfig struct {
	Provider LLMProvider    `mapstructure:"provider" yaml:"provider"`
	Fast     LLMModelConfig `mapstructure:"fast" yaml:"fast"`
	Powerful LLMModelConfig `mapstructure:"powerful" yaml:"powerful"`
	// RequestsPerSecond throttles outbound generation calls across tiers.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// WorkflowConfig tunes the request-processing state machine.
type WorkflowConfig struct {
	// MaxRetries bounds ToolSelection re-entries before escalation.
	MaxRetries int `mapstructure:"max_retries" yaml:"max_retries"`
	// DisclosureCap bounds context disclosure growth; reaching the cap forces
	// escalation consideration instead of further growth.
	DisclosureCap int `mapstructure:"disclosure_cap" yaml:"disclosure_cap"`
	// EscalationThreshold is the weighted-signal score above which a single
	// signal forces escalation.
	EscalationThreshold float64 `mapstructure:"escalation_threshold" yaml:"escalation_threshold"`
	// SignalWeights is the configurable per-signal weighting policy, keyed by
	// signal kind. Unknown kinds fall back to a small default weight.
	SignalWeights map[string]float64 `mapstructure:"signal_weights" yaml:"signal_weights"`

	ExtractionTimeout time.Duration `mapstructure:"extraction_timeout" yaml:"extraction_timeout"`
	PlanningTimeout   time.Duration `mapstructure:"planning_timeout" yaml:"planning_timeout"`
	StoreTimeout      time.Duration `mapstructure:"store_timeout" yaml:"store_timeout"`

	// MaxConcurrentRuns bounds how many runs execute at once in the service.
	MaxConcurrentRuns int64 `mapstructure:"max_concurrent_runs" yaml:"max_concurrent_runs"`
	// RunRetention is how long terminal run state is kept before archival.
	RunRetention time.Duration `mapstructure:"run_retention" yaml:"run_retention"`
}

// SetDefaults registers every default value on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "puntini")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "red")

	v.SetDefault("graph.backend", "memory")

	v.SetDefault("llm.provider", string(ProviderGemini))
	v.SetDefault("llm.fast.model", "gemini-2.0-flash")
	v.SetDefault("llm.fast.api_timeout", 30*time.Second)
	v.SetDefault("llm.fast.max_tokens", 4096)
	v.SetDefault("llm.powerful.model", "gemini-2.5-pro")
	v.SetDefault("llm.powerful.api_timeout", 120*time.Second)
	v.SetDefault("llm.powerful.max_tokens", 8192)
	v.SetDefault("llm.requests_per_second", 1.0)

	v.SetDefault("workflow.max_retries", 3)
	v.SetDefault("workflow.disclosure_cap", 3)
	v.SetDefault("workflow.escalation_threshold", 0.75)
	v.SetDefault("workflow.signal_weights", map[string]float64{
		"retry_threshold":            1.0,
		"repeated_identical_error":   0.9,
		"graph_constraint_rejection": 0.8,
		"capability_failure_pattern": 0.85,
	})
	v.SetDefault("workflow.extraction_timeout", 90*time.Second)
	v.SetDefault("workflow.planning_timeout", 60*time.Second)
	v.SetDefault("workflow.store_timeout", 15*time.Second)
	v.SetDefault("workflow.max_concurrent_runs", 8)
	v.SetDefault("workflow.run_retention", 24*time.Hour)
}

// Load reads configuration from the optional file path, PUNTINI_* environment
// variables and defaults, in that order of precedence (highest first: env).
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("PUNTINI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the workflow cannot run with.
func (c *Config) Validate() error {
	switch c.Graph.Backend {
	case GraphBackendMemory:
	case GraphBackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("graph backend %q requires database.url", c.Graph.Backend)
		}
	default:
		return fmt.Errorf("unknown graph backend %q (supported: memory, postgres)", c.Graph.Backend)
	}

	if c.Workflow.MaxRetries < 1 {
		return fmt.Errorf("workflow.max_retries must be at least 1, got %d", c.Workflow.MaxRetries)
	}
	if c.Workflow.DisclosureCap < 0 {
		return fmt.Errorf("workflow.disclosure_cap must not be negative, got %d", c.Workflow.DisclosureCap)
	}
	if c.Workflow.EscalationThreshold <= 0 || c.Workflow.EscalationThreshold > 1 {
		return fmt.Errorf("workflow.escalation_threshold must be in (0, 1], got %v", c.Workflow.EscalationThreshold)
	}
	if c.Workflow.MaxConcurrentRuns < 1 {
		return fmt.Errorf("workflow.max_concurrent_runs must be at least 1, got %d", c.Workflow.MaxConcurrentRuns)
	}
	return nil
}
