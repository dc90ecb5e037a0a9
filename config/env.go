package config

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Environment variables recognized by ApplyEnvironmentOverrides.
const (
	EnvUseSimulation               = "MCUXFER_USE_SIMULATION"
	EnvMaxTries                    = "MCUXFER_MAX_TRIES"
	EnvAttemptTimeout              = "MCUXFER_ATTEMPT_TIMEOUT"
	EnvRetryDelay                  = "MCUXFER_RETRY_DELAY"
	EnvItemDelay                   = "MCUXFER_ITEM_DELAY"
	EnvGracefulCancellationTimeout = "MCUXFER_GRACEFUL_CANCELLATION_TIMEOUT"
	EnvContinueOnError             = "MCUXFER_CONTINUE_ON_ERROR"
	EnvLogLevel                    = "MCUXFER_LOG_LEVEL"
	EnvMetricsAddress              = "MCUXFER_METRICS_ADDRESS"
)

// ApplyEnvironmentOverrides updates cfg from MCUXFER_* environment variables.
// Values that fail to parse or fall outside their bounds are logged and
// ignored, leaving the current value in place.
func ApplyEnvironmentOverrides(cfg *Config) {
	parseBoolSetting(EnvUseSimulation, &cfg.Simulation.Enabled)
	parseIntSetting(EnvMaxTries, &cfg.Engine.MaxTries, MinMaxTries, MaxMaxTries)
	parseDurationSetting(EnvAttemptTimeout, &cfg.Engine.AttemptTimeout, 0, MaxAttemptTimeout)
	parseDurationSetting(EnvRetryDelay, &cfg.Engine.RetryDelay, 0, MaxRetryDelay)
	parseDurationSetting(EnvItemDelay, &cfg.Engine.ItemDelay, 0, MaxItemDelay)
	parseDurationSetting(EnvGracefulCancellationTimeout, &cfg.Engine.GracefulCancellationTimeout,
		MinGracefulCancellationTimeout, MaxGracefulCancellationTimeout)
	parseBoolSetting(EnvContinueOnError, &cfg.Engine.ContinueOnError)
	parseLogLevelSetting(cfg)

	if addr := os.Getenv(EnvMetricsAddress); addr != "" {
		cfg.Metrics.ListenAddress = addr
	}
}

// parseBoolSetting updates target from envVar when it holds a valid boolean.
func parseBoolSetting(envVar string, target *bool) {
	value := os.Getenv(envVar)
	if value == "" {
		return
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseBoolSetting",
			"env_var":     envVar,
			"value":       value,
			"error":       err.Error(),
			"using_value": *target,
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	*target = parsed
}

// parseIntSetting updates target from envVar when it holds an integer in
// [lower, upper].
func parseIntSetting(envVar string, target *int, lower, upper int) {
	value := os.Getenv(envVar)
	if value == "" {
		return
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     envVar,
			"value":       value,
			"error":       err.Error(),
			"using_value": *target,
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	if parsed < lower || parsed > upper {
		logrus.WithFields(logrus.Fields{
			"function":    "parseIntSetting",
			"env_var":     envVar,
			"value":       parsed,
			"min":         lower,
			"max":         upper,
			"using_value": *target,
		}).Warn("Environment variable value out of bounds, using default")
		return
	}
	*target = parsed
}

// parseDurationSetting updates target from envVar when it holds a Go
// duration in [lower, upper]. A bare "0" is accepted.
func parseDurationSetting(envVar string, target *time.Duration, lower, upper time.Duration) {
	value := os.Getenv(envVar)
	if value == "" {
		return
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseDurationSetting",
			"env_var":     envVar,
			"value":       value,
			"error":       err.Error(),
			"using_value": target.String(),
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	if parsed < lower || parsed > upper {
		logrus.WithFields(logrus.Fields{
			"function":    "parseDurationSetting",
			"env_var":     envVar,
			"value":       parsed.String(),
			"min":         lower.String(),
			"max":         upper.String(),
			"using_value": target.String(),
		}).Warn("Environment variable value out of bounds, using default")
		return
	}
	*target = parsed
}

func parseLogLevelSetting(cfg *Config) {
	value := os.Getenv(EnvLogLevel)
	if value == "" {
		return
	}
	if _, err := logrus.ParseLevel(value); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "parseLogLevelSetting",
			"env_var":     EnvLogLevel,
			"value":       value,
			"error":       err.Error(),
			"using_value": cfg.Logging.Level,
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	cfg.Logging.Level = value
}
