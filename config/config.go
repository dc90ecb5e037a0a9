package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/opd-ai/mcuxfer/connparams"
	"github.com/opd-ai/mcuxfer/native"
	"github.com/opd-ai/mcuxfer/transfer"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Validation bounds.
const (
	// MinMaxTries is the smallest attempt budget.
	MinMaxTries = 1
	// MaxMaxTries is the largest attempt budget.
	MaxMaxTries = 100
	// MaxAttemptTimeout caps the per-attempt timeout.
	MaxAttemptTimeout = time.Hour
	// MaxRetryDelay caps the pause between attempts.
	MaxRetryDelay = time.Minute
	// MaxItemDelay caps the pause between batch items.
	MaxItemDelay = time.Minute
	// MinGracefulCancellationTimeout is the shortest grace period the native
	// layer gets to confirm a cancellation.
	MinGracefulCancellationTimeout = 100 * time.Millisecond
	// MaxGracefulCancellationTimeout caps the grace period.
	MaxGracefulCancellationTimeout = time.Minute
)

// ErrInvalidConfig is wrapped by every validation error.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete configuration.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	Connection ConnectionConfig `yaml:"connection"`
	Logging    LoggingConfig    `yaml:"logging"`
	Simulation SimulationConfig `yaml:"simulation"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// EngineConfig mirrors transfer.Config in a file-friendly form.
type EngineConfig struct {
	MaxTries                    int           `yaml:"max_tries"`
	AttemptTimeout              time.Duration `yaml:"attempt_timeout"`
	RetryDelay                  time.Duration `yaml:"retry_delay"`
	ItemDelay                   time.Duration `yaml:"item_delay"`
	GracefulCancellationTimeout time.Duration `yaml:"graceful_cancellation_timeout"`
	ContinueOnError             bool          `yaml:"continue_on_error"`
	MinimumNativeLogLevel       string        `yaml:"minimum_native_log_level"`
	SuspiciousProgressThreshold int           `yaml:"suspicious_progress_threshold"`
}

// ConnectionConfig configures the connection parameter selector.
type ConnectionConfig struct {
	// Failsafe overrides knobs of the built-in failsafe set.
	Failsafe connparams.Set `yaml:"failsafe"`
	// ProblematicDevices get the failsafe set from their first attempt.
	ProblematicDevices []connparams.Device `yaml:"problematic_devices"`
}

// LoggingConfig configures the logrus logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SimulationConfig configures the simulated device used instead of a real
// native layer.
type SimulationConfig struct {
	Enabled   bool          `yaml:"enabled"`
	StepDelay time.Duration `yaml:"step_delay"`
	// CancelMode is one of "confirm", "acknowledge" or "ignore".
	CancelMode string `yaml:"cancel_mode"`
	// Files pre-populates the simulated file system, path to content.
	Files map[string]string `yaml:"files"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// Default returns the built-in configuration.
//
// Default Value Rationale:
//   - Engine: the transfer package defaults
//   - Simulation: disabled; a real native proxy is expected in production
//   - Metrics: enabled on :9090, the usual exporter port
func Default() *Config {
	engine := transfer.DefaultConfig()
	return &Config{
		Engine: EngineConfig{
			MaxTries:                    engine.MaxTries,
			AttemptTimeout:              engine.AttemptTimeout,
			RetryDelay:                  engine.RetryDelay,
			ItemDelay:                   engine.ItemDelay,
			GracefulCancellationTimeout: engine.GracefulCancellationTimeout,
			ContinueOnError:             engine.ContinueOnError,
			MinimumNativeLogLevel:       engine.MinimumNativeLogLevel.String(),
			SuspiciousProgressThreshold: engine.SuspiciousProgressThreshold,
		},
		Logging: LoggingConfig{
			Level:  logrus.InfoLevel.String(),
			Format: "text",
		},
		Simulation: SimulationConfig{
			CancelMode: "confirm",
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
		},
	}
}

// Load reads path on top of the defaults, applies the environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":       "Load",
		"path":           path,
		"use_simulation": cfg.Simulation.Enabled,
		"max_tries":      cfg.Engine.MaxTries,
		"devices":        len(cfg.Connection.ProblematicDevices),
	}).Info("Loaded configuration")
	return cfg, nil
}

// Parse decodes YAML on top of the defaults, applies the environment
// overrides and validates the result. Unknown keys are rejected.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()

	expanded := os.ExpandEnv(string(raw))
	dec := yaml.NewDecoder(bytes.NewBufferString(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	ApplyEnvironmentOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field against its bounds.
func (c *Config) Validate() error {
	e := c.Engine
	if e.MaxTries < MinMaxTries || e.MaxTries > MaxMaxTries {
		return invalid("engine.max_tries %d outside [%d, %d]", e.MaxTries, MinMaxTries, MaxMaxTries)
	}
	if e.AttemptTimeout < 0 || e.AttemptTimeout > MaxAttemptTimeout {
		return invalid("engine.attempt_timeout %s outside [0, %s]", e.AttemptTimeout, MaxAttemptTimeout)
	}
	if e.RetryDelay < 0 || e.RetryDelay > MaxRetryDelay {
		return invalid("engine.retry_delay %s outside [0, %s]", e.RetryDelay, MaxRetryDelay)
	}
	if e.ItemDelay < 0 || e.ItemDelay > MaxItemDelay {
		return invalid("engine.item_delay %s outside [0, %s]", e.ItemDelay, MaxItemDelay)
	}
	if e.GracefulCancellationTimeout < MinGracefulCancellationTimeout || e.GracefulCancellationTimeout > MaxGracefulCancellationTimeout {
		return invalid("engine.graceful_cancellation_timeout %s outside [%s, %s]",
			e.GracefulCancellationTimeout, MinGracefulCancellationTimeout, MaxGracefulCancellationTimeout)
	}
	if _, err := native.ParseLogLevel(e.MinimumNativeLogLevel); err != nil {
		return invalid("engine.minimum_native_log_level: %v", err)
	}
	if e.SuspiciousProgressThreshold < 0 {
		return invalid("engine.suspicious_progress_threshold must not be negative")
	}

	if err := c.Connection.Failsafe.Validate(); err != nil {
		return invalid("connection.failsafe: %v", err)
	}
	for i, d := range c.Connection.ProblematicDevices {
		if err := d.Validate(); err != nil {
			return invalid("connection.problematic_devices[%d]: %v", i, err)
		}
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level: %v", err)
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return invalid("logging.format %q must be text or json", c.Logging.Format)
	}

	switch c.Simulation.CancelMode {
	case "confirm", "acknowledge", "ignore":
	default:
		return invalid("simulation.cancel_mode %q must be confirm, acknowledge or ignore", c.Simulation.CancelMode)
	}
	if c.Simulation.StepDelay < 0 {
		return invalid("simulation.step_delay must not be negative")
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return invalid("metrics.listen_address is required when metrics are enabled")
	}
	return nil
}

// TransferConfig converts the engine section into a transfer.Config.
func (c *Config) TransferConfig() (transfer.Config, error) {
	level, err := native.ParseLogLevel(c.Engine.MinimumNativeLogLevel)
	if err != nil {
		return transfer.Config{}, invalid("engine.minimum_native_log_level: %v", err)
	}
	return transfer.Config{
		MaxTries:                    c.Engine.MaxTries,
		AttemptTimeout:              c.Engine.AttemptTimeout,
		RetryDelay:                  c.Engine.RetryDelay,
		ItemDelay:                   c.Engine.ItemDelay,
		GracefulCancellationTimeout: c.Engine.GracefulCancellationTimeout,
		ContinueOnError:             c.Engine.ContinueOnError,
		MinimumNativeLogLevel:       level,
		SuspiciousProgressThreshold: c.Engine.SuspiciousProgressThreshold,
	}, nil
}

// Selector builds the connection parameter selector of the connection section.
func (c *Config) Selector() *connparams.Selector {
	return connparams.NewSelector(
		connparams.WithFailsafe(c.Connection.Failsafe),
		connparams.WithProblematicDevices(c.Connection.ProblematicDevices...),
	)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Connection.Failsafe = c.Connection.Failsafe.Clone()
	out.Connection.ProblematicDevices = append([]connparams.Device(nil), c.Connection.ProblematicDevices...)
	if c.Simulation.Files != nil {
		out.Simulation.Files = make(map[string]string, len(c.Simulation.Files))
		for k, v := range c.Simulation.Files {
			out.Simulation.Files[k] = v
		}
	}
	return &out
}

// Apply configures logger according to the logging section.
func (l LoggingConfig) Apply(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return invalid("logging.level: %v", err)
	}
	logger.SetLevel(level)

	switch l.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text", "":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return invalid("logging.format %q must be text or json", l.Format)
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}
