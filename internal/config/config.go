// Package config loads and validates the medic-agent runtime configuration:
// risk weights and thresholds, adaptive-learning parameters, storage and
// cache DSNs, and the enricher/executor backend selectors.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kase1111-hash/medic-agent/pkg/types"
)

// ServerConfig holds the admin/metrics HTTP listener ports.
type ServerConfig struct {
	AdminPort   string `yaml:"admin_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// StoreConfig selects and configures the OutcomeStore backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // "memory" or "postgres"
	DSN     string `yaml:"dsn"`
	CacheDSN string `yaml:"cache_dsn"` // redis address for module-history cache
}

// EnricherConfig selects and configures the Enricher collaborator.
type EnricherConfig struct {
	Backend  string        `yaml:"backend"` // "noop" or "rest"
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ExecutorConfig selects and configures the Executor collaborator.
type ExecutorConfig struct {
	Backend   string `yaml:"backend"` // "dryrun" or "kubernetes"
	Namespace string `yaml:"namespace"`
	Context   string `yaml:"context"`
}

// DecisionConfig holds mode and policy-gate settings for the DecisionEngine.
type DecisionConfig struct {
	ObserverMode        bool     `yaml:"observer_mode"`
	AutoApproveEnabled  bool     `yaml:"auto_approve_enabled"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	CriticalModules     []string `yaml:"critical_modules"`
	AlwaysDenyModules   []string `yaml:"always_deny_modules"`
}

// AdaptiveConfig configures the ThresholdAdapter learning loop.
type AdaptiveConfig struct {
	Enabled                   bool          `yaml:"enabled"`
	MinSamplesRequired        int           `yaml:"min_samples_required"`
	AnalysisWindow            time.Duration `yaml:"analysis_window"`
	MaxAdjustmentPercent      float64       `yaml:"max_adjustment_percent"`
	AdjustmentCooldown        time.Duration `yaml:"adjustment_cooldown"`
	TargetAutoApproveAccuracy float64       `yaml:"target_auto_approve_accuracy"`
	TargetSuccessRate         float64       `yaml:"target_success_rate"`
	RequireApproval           bool          `yaml:"require_approval"`
}

// LoggingConfig configures the zap/logrus sinks.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DispatcherConfig bounds the event-dispatcher worker pool.
type DispatcherConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	QueueDepth    int           `yaml:"queue_depth"`
	EventTimeout  time.Duration `yaml:"event_timeout"`
}

// Config is the root configuration document.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Enricher   EnricherConfig   `yaml:"enricher"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Decision   DecisionConfig   `yaml:"decision"`
	Adaptive   AdaptiveConfig   `yaml:"adaptive"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Logging    LoggingConfig    `yaml:"logging"`

	RiskWeights    types.RiskWeights    `yaml:"risk_weights"`
	RiskThresholds types.RiskThresholds `yaml:"risk_thresholds"`
}

// Load reads path, parses it as YAML, applies defaults and environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(config)

	if err := loadFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validate(config); err != nil {
		return nil, err
	}

	return config, nil
}

func applyDefaults(config *Config) {
	if config.Store.Backend == "" {
		config.Store.Backend = "memory"
	}
	if config.Enricher.Backend == "" {
		config.Enricher.Backend = "noop"
	}
	if config.Executor.Backend == "" {
		config.Executor.Backend = "dryrun"
	}
	if config.Executor.Namespace == "" {
		config.Executor.Namespace = "default"
	}
	if config.Dispatcher.MaxConcurrent <= 0 {
		config.Dispatcher.MaxConcurrent = 5
	}
	if config.Dispatcher.QueueDepth <= 0 {
		config.Dispatcher.QueueDepth = 100
	}
	if config.Decision.ConfidenceThreshold == 0 {
		config.Decision.ConfidenceThreshold = 0.7
	}
	if (config.RiskWeights == types.RiskWeights{}) {
		config.RiskWeights = types.DefaultRiskWeights()
	}
	if (config.RiskThresholds == types.RiskThresholds{}) {
		config.RiskThresholds = types.DefaultRiskThresholds()
	}
	if config.Adaptive.MinSamplesRequired <= 0 {
		config.Adaptive.MinSamplesRequired = 50
	}
	if config.Adaptive.MaxAdjustmentPercent <= 0 {
		config.Adaptive.MaxAdjustmentPercent = 10.0
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "json"
	}
}

// validate checks semantic constraints applyDefaults doesn't already cover.
func validate(config *Config) error {
	switch config.Store.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("unsupported store backend: %s", config.Store.Backend)
	}

	switch config.Enricher.Backend {
	case "noop", "rest":
	default:
		return fmt.Errorf("unsupported enricher backend: %s", config.Enricher.Backend)
	}

	switch config.Executor.Backend {
	case "dryrun", "kubernetes":
	default:
		return fmt.Errorf("unsupported executor backend: %s", config.Executor.Backend)
	}

	if config.Store.Backend == "postgres" && config.Store.DSN == "" {
		return fmt.Errorf("store DSN is required for the postgres backend")
	}

	if config.Decision.ConfidenceThreshold < 0 || config.Decision.ConfidenceThreshold > 1 {
		return fmt.Errorf("decision confidence threshold must be between 0.0 and 1.0")
	}

	if config.Dispatcher.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent events must be greater than 0")
	}

	return nil
}

func loadFromEnv(config *Config) error {
	if v := os.Getenv("STORE_BACKEND"); v != "" {
		config.Store.Backend = v
	}
	if v := os.Getenv("STORE_DSN"); v != "" {
		config.Store.DSN = v
	}
	if v := os.Getenv("ENRICHER_BACKEND"); v != "" {
		config.Enricher.Backend = v
	}
	if v := os.Getenv("EXECUTOR_BACKEND"); v != "" {
		config.Executor.Backend = v
	}
	if v := os.Getenv("ADMIN_PORT"); v != "" {
		config.Server.AdminPort = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		config.Server.MetricsPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("OBSERVER_MODE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid OBSERVER_MODE value %q: %w", v, err)
		}
		config.Decision.ObserverMode = b
	}
	if v := os.Getenv("AUTO_APPROVE_ENABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid AUTO_APPROVE_ENABLED value %q: %w", v, err)
		}
		config.Decision.AutoApproveEnabled = b
	}
	return nil
}
