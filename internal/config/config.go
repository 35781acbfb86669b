// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/hyen4320/JSSCanner-sub001/internal/chain"
	"github.com/hyen4320/JSSCanner-sub001/internal/session"
	"github.com/hyen4320/JSSCanner-sub001/internal/taint"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Taint    TaintConfig    `mapstructure:"taint" yaml:"taint"`
	Chain    ChainConfig    `mapstructure:"chain" yaml:"chain"`
	Replay   ReplayConfig   `mapstructure:"replay" yaml:"replay"`
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

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DatabaseConfig holds the database connection details. Persistence is
// disabled when URL is empty.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// TaintConfig configures the taint tracker.
type TaintConfig struct {
	MaxValues int    `mapstructure:"max_values" yaml:"max_values"`
	MatchMode string `mapstructure:"match_mode" yaml:"match_mode"`
	// PropagationFunctions pass taint from arguments to result.
	PropagationFunctions []string `mapstructure:"propagation_functions" yaml:"propagation_functions"`
}

// ChainConfig configures the chain detector.
type ChainConfig struct {
	DangerousFunctions   []string      `mapstructure:"dangerous_functions" yaml:"dangerous_functions"`
	DecoderFunctions     []string      `mapstructure:"decoder_functions" yaml:"decoder_functions"`
	ObfuscationPatterns  []string      `mapstructure:"obfuscation_patterns" yaml:"obfuscation_patterns"`
	MultiLayerPattern    []string      `mapstructure:"multi_layer_pattern" yaml:"multi_layer_pattern"`
	DangerousKeywords    []string      `mapstructure:"dangerous_keywords" yaml:"dangerous_keywords"`
	CorrelationWindow    time.Duration `mapstructure:"correlation_window" yaml:"correlation_window"`
	DecodedLevel         int           `mapstructure:"decoded_level" yaml:"decoded_level"`
	ObfuscatedLevel      int           `mapstructure:"obfuscated_level" yaml:"obfuscated_level"`
	KeywordEscalation    int           `mapstructure:"keyword_escalation" yaml:"keyword_escalation"`
	KeywordPreviewLength int           `mapstructure:"keyword_preview_length" yaml:"keyword_preview_length"`
	AnomalyLogInterval   time.Duration `mapstructure:"anomaly_log_interval" yaml:"anomaly_log_interval"`
}

// ReplayConfig controls how hook traces are read.
type ReplayConfig struct {
	// BufferSize is the per-session event queue length.
	BufferSize  int `mapstructure:"buffer_size" yaml:"buffer_size"`
	MaxLineSize int `mapstructure:"max_line_size" yaml:"max_line_size"`
}

// Tracker converts the section into tracker options.
func (t TaintConfig) Tracker() taint.Config {
	return taint.Config{MaxValues: t.MaxValues, MatchMode: t.MatchMode}
}

// Detector converts the section into detector options.
func (c ChainConfig) Detector() chain.Config {
	return chain.Config{
		Functions: chain.FunctionSets{
			Dangerous:           c.DangerousFunctions,
			Decoders:            c.DecoderFunctions,
			ObfuscationPatterns: c.ObfuscationPatterns,
		},
		MultiLayerPattern:    c.MultiLayerPattern,
		CorrelationWindow:    c.CorrelationWindow,
		DangerousKeywords:    c.DangerousKeywords,
		DecodedLevel:         c.DecodedLevel,
		ObfuscatedLevel:      c.ObfuscatedLevel,
		KeywordEscalation:    c.KeywordEscalation,
		KeywordPreviewLength: c.KeywordPreviewLength,
		AnomalyLogInterval:   c.AnomalyLogInterval,
	}
}

// Session returns the template used for every analysis session.
func (c *Config) Session() session.Config {
	return session.Config{
		Taint:                c.Taint.Tracker(),
		Chain:                c.Chain.Detector(),
		PropagationFunctions: c.Taint.PropagationFunctions,
	}
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "jsscanner")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Taint --
	v.SetDefault("taint.max_values", taint.DefaultMaxValues)
	v.SetDefault("taint.match_mode", taint.MatchIdentity)
	v.SetDefault("taint.propagation_functions", session.DefaultPropagationFunctions)

	// -- Chain --
	functions := chain.DefaultFunctionSets()
	v.SetDefault("chain.dangerous_functions", functions.Dangerous)
	v.SetDefault("chain.decoder_functions", functions.Decoders)
	v.SetDefault("chain.obfuscation_patterns", functions.ObfuscationPatterns)
	v.SetDefault("chain.multi_layer_pattern", chain.DefaultMultiLayerPattern)
	v.SetDefault("chain.dangerous_keywords", chain.DefaultDangerousKeywords)
	v.SetDefault("chain.correlation_window", "1s")
	v.SetDefault("chain.decoded_level", 6)
	v.SetDefault("chain.obfuscated_level", 5)
	v.SetDefault("chain.keyword_escalation", 3)
	v.SetDefault("chain.keyword_preview_length", 50)
	v.SetDefault("chain.anomaly_log_interval", "1s")

	// -- Replay --
	v.SetDefault("replay.buffer_size", session.DefaultBufferSize)
	v.SetDefault("replay.max_line_size", 4*1024*1024)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The connection string usually carries a password.
	_ = v.BindEnv("database.url", "JSSCANNER_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Logger.LogFile != "" {
		expanded, err := homedir.Expand(cfg.Logger.LogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to expand logger.log_file: %w", err)
		}
		cfg.Logger.LogFile = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	switch c.Taint.MatchMode {
	case taint.MatchIdentity, taint.MatchContent:
	default:
		return fmt.Errorf("taint.match_mode must be %q or %q, got %q", taint.MatchIdentity, taint.MatchContent, c.Taint.MatchMode)
	}
	if c.Taint.MaxValues <= 0 {
		return fmt.Errorf("taint.max_values must be a positive integer")
	}
	if err := c.Chain.Validate(); err != nil {
		return fmt.Errorf("chain configuration invalid: %w", err)
	}
	if c.Replay.BufferSize <= 0 {
		return fmt.Errorf("replay.buffer_size must be a positive integer")
	}
	if c.Replay.MaxLineSize <= 0 {
		return fmt.Errorf("replay.max_line_size must be a positive integer")
	}
	return nil
}

// Validate checks the detector settings.
func (c *ChainConfig) Validate() error {
	if c.CorrelationWindow <= 0 {
		return fmt.Errorf("correlation_window must be a positive duration")
	}
	levels := map[string]int{
		"decoded_level":    c.DecodedLevel,
		"obfuscated_level": c.ObfuscatedLevel,
	}
	for name, level := range levels {
		if level < taint.MinLevel || level > taint.MaxLevel {
			return fmt.Errorf("%s must be between %d and %d", name, taint.MinLevel, taint.MaxLevel)
		}
	}
	if c.KeywordEscalation < 1 {
		return fmt.Errorf("keyword_escalation must be a positive integer")
	}
	if len(c.DangerousFunctions) == 0 && len(c.DecoderFunctions) == 0 && len(c.ObfuscationPatterns) == 0 {
		return fmt.Errorf("at least one of dangerous_functions, decoder_functions or obfuscation_patterns is required")
	}
	return nil
}

// ExpandPath resolves a leading ~ in user supplied paths.
func ExpandPath(path string) (string, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return "", fmt.Errorf("failed to expand path %q: %w", path, err)
	}
	return expanded, nil
}
