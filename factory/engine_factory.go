package factory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/mcuxfer/config"
	"github.com/opd-ai/mcuxfer/native"
	"github.com/opd-ai/mcuxfer/simulated"
	"github.com/opd-ai/mcuxfer/transfer"
	"github.com/sirupsen/logrus"
)

// ErrProxyRequired is returned by CreateEngine without a proxy while
// simulation is disabled.
var ErrProxyRequired = errors.New("native proxy is required when simulation is disabled")

// EngineFactory creates transfer engines based on configuration.
// It is safe for concurrent use; all methods are protected by an internal mutex.
type EngineFactory struct {
	mu     sync.RWMutex
	config *config.Config
}

// NewEngineFactory creates a new factory with the default configuration and
// the environment overrides applied.
func NewEngineFactory() *EngineFactory {
	cfg := config.Default()
	config.ApplyEnvironmentOverrides(cfg)
	logConfigurationInfo(cfg)

	return &EngineFactory{config: cfg}
}

// NewEngineFactoryWithConfig creates a factory from an already loaded configuration.
func NewEngineFactoryWithConfig(cfg *config.Config) (*EngineFactory, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logConfigurationInfo(cfg)

	return &EngineFactory{config: cfg.Clone()}, nil
}

// logConfigurationInfo logs the effective factory configuration.
func logConfigurationInfo(cfg *config.Config) {
	logrus.WithFields(logrus.Fields{
		"function":            "NewEngineFactory",
		"use_simulation":      cfg.Simulation.Enabled,
		"max_tries":           cfg.Engine.MaxTries,
		"attempt_timeout":     cfg.Engine.AttemptTimeout,
		"retry_delay":         cfg.Engine.RetryDelay,
		"problematic_devices": len(cfg.Connection.ProblematicDevices),
		"metrics_enabled":     cfg.Metrics.Enabled,
	}).Info("Engine factory initialized")
}

// CreateEngine creates an engine on top of proxy. With simulation enabled a
// nil proxy is replaced by a simulated device built from the configuration.
// opts are applied after the configured ones and may override them.
func (f *EngineFactory) CreateEngine(proxy native.IProxy, opts ...transfer.Option) (*transfer.Engine, error) {
	cfg := f.GetCurrentConfig()

	if proxy == nil {
		if !cfg.Simulation.Enabled {
			return nil, ErrProxyRequired
		}
		logrus.WithFields(logrus.Fields{
			"function": "CreateEngine",
			"type":     "simulation",
		}).Info("Creating engine on a simulated device")
		proxy = newSimulatedDevice(cfg)
	} else {
		logrus.WithFields(logrus.Fields{
			"function": "CreateEngine",
			"type":     "real",
		}).Info("Creating engine on a native proxy")
	}

	return newEngine(cfg, proxy, opts...)
}

// CreateSimulatedEngine creates an engine on a fresh simulated device,
// regardless of the simulation flag. deviceOpts are applied after the
// configured simulation settings. The device is returned for inspection.
func (f *EngineFactory) CreateSimulatedEngine(deviceOpts ...simulated.Option) (*transfer.Engine, *simulated.Device, error) {
	cfg := f.GetCurrentConfig()

	logrus.WithFields(logrus.Fields{
		"function":   "CreateSimulatedEngine",
		"step_delay": cfg.Simulation.StepDelay,
		"files":      len(cfg.Simulation.Files),
	}).Info("Creating simulated engine")

	device := newSimulatedDevice(cfg, deviceOpts...)
	engine, err := newEngine(cfg, device)
	if err != nil {
		return nil, nil, err
	}
	return engine, device, nil
}

func newEngine(cfg *config.Config, proxy native.IProxy, opts ...transfer.Option) (*transfer.Engine, error) {
	engineConfig, err := cfg.TransferConfig()
	if err != nil {
		return nil, err
	}

	all := append([]transfer.Option{
		transfer.WithConfig(engineConfig),
		transfer.WithSelector(cfg.Selector()),
		transfer.WithMetrics(cfg.Metrics.Enabled),
	}, opts...)
	return transfer.New(proxy, all...)
}

func newSimulatedDevice(cfg *config.Config, extra ...simulated.Option) *simulated.Device {
	opts := []simulated.Option{
		simulated.WithStepDelay(cfg.Simulation.StepDelay),
		simulated.WithCancelMode(cancelMode(cfg.Simulation.CancelMode)),
	}
	for path, content := range cfg.Simulation.Files {
		opts = append(opts, simulated.WithFile(path, []byte(content)))
	}
	return simulated.NewDevice(append(opts, extra...)...)
}

func cancelMode(name string) simulated.CancelMode {
	switch name {
	case "acknowledge":
		return simulated.CancelAcknowledgeOnly
	case "ignore":
		return simulated.CancelIgnore
	default:
		return simulated.CancelConfirm
	}
}

// SwitchToSimulation switches the configuration to use simulation
func (f *EngineFactory) SwitchToSimulation() {
	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SwitchToSimulation",
		"previous": f.config.Simulation.Enabled,
	}).Info("Switching factory to simulation mode")

	f.config.Simulation.Enabled = true
}

// SwitchToReal switches the configuration to require a native proxy
func (f *EngineFactory) SwitchToReal() {
	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "SwitchToReal",
		"previous": f.config.Simulation.Enabled,
	}).Info("Switching factory to real mode")

	f.config.Simulation.Enabled = false
}

// IsUsingSimulation returns true if the factory is configured for simulation
func (f *EngineFactory) IsUsingSimulation() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.config.Simulation.Enabled
}

// GetCurrentConfig returns a copy of the current configuration
func (f *EngineFactory) GetCurrentConfig() *config.Config {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.config.Clone()
}

// UpdateConfig validates cfg and makes a copy of it the factory's configuration.
func (f *EngineFactory) UpdateConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":       "UpdateConfig",
		"old_simulation": f.config.Simulation.Enabled,
		"new_simulation": cfg.Simulation.Enabled,
		"old_max_tries":  f.config.Engine.MaxTries,
		"new_max_tries":  cfg.Engine.MaxTries,
	}).Info("Updating factory configuration")

	f.config = cfg.Clone()
	return nil
}
