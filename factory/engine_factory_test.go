package factory

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/mcuxfer/config"
	"github.com/opd-ai/mcuxfer/connparams"
	"github.com/opd-ai/mcuxfer/native"
	"github.com/opd-ai/mcuxfer/simulated"
	"github.com/opd-ai/mcuxfer/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var phone = connparams.Device{Manufacturer: "Acme", Model: "Phone 7"}

func TestNewEngineFactory(t *testing.T) {
	f := NewEngineFactory()
	require.NotNil(t, f)

	cfg := f.GetCurrentConfig()
	require.NotNil(t, cfg)
	if os.Getenv(config.EnvMaxTries) == "" {
		assert.Equal(t, transfer.DefaultMaxTries, cfg.Engine.MaxTries)
	}
	if os.Getenv(config.EnvUseSimulation) == "" {
		assert.False(t, f.IsUsingSimulation())
	}
}

func TestNewEngineFactoryFromEnvironment(t *testing.T) {
	t.Setenv(config.EnvUseSimulation, "true")
	t.Setenv(config.EnvMaxTries, "4")

	f := NewEngineFactory()
	assert.True(t, f.IsUsingSimulation())
	assert.Equal(t, 4, f.GetCurrentConfig().Engine.MaxTries)
}

func TestNewEngineFactoryWithConfig(t *testing.T) {
	_, err := NewEngineFactoryWithConfig(nil)
	assert.Error(t, err)

	bad := config.Default()
	bad.Engine.MaxTries = 0
	_, err = NewEngineFactoryWithConfig(bad)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	good := config.Default()
	f, err := NewEngineFactoryWithConfig(good)
	require.NoError(t, err)
	good.Engine.MaxTries = 99
	assert.Equal(t, transfer.DefaultMaxTries, f.GetCurrentConfig().Engine.MaxTries, "factory keeps its own copy")
}

func TestCreateEngineRequiresProxy(t *testing.T) {
	f, err := NewEngineFactoryWithConfig(config.Default())
	require.NoError(t, err)

	_, err = f.CreateEngine(nil)
	assert.ErrorIs(t, err, ErrProxyRequired)
}

func TestCreateEngineWithProxy(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.MaxTries = 3
	cfg.Metrics.Enabled = false
	f, err := NewEngineFactoryWithConfig(cfg)
	require.NoError(t, err)

	device := simulated.NewDevice(simulated.WithScript(simulated.AlwaysFail(native.ErrorCodeCorrupt, "x")))
	engine, err := f.CreateEngine(device, transfer.WithConfig(func() transfer.Config {
		c := transfer.DefaultConfig()
		c.MaxTries = 2
		c.RetryDelay = time.Millisecond
		return c
	}()))
	require.NoError(t, err)
	defer engine.Close()

	_, err = engine.Download(context.Background(), "/a.bin", phone)
	assert.ErrorIs(t, err, transfer.ErrAllAttemptsFailed)
	assert.Equal(t, 2, device.Attempts(), "caller options override the configured ones")
}

func TestCreateEngineFallsBackToSimulation(t *testing.T) {
	cfg := config.Default()
	cfg.Simulation.Enabled = true
	cfg.Simulation.Files = map[string]string{"/lfs/boot.log": "boot ok"}
	cfg.Metrics.Enabled = false
	f, err := NewEngineFactoryWithConfig(cfg)
	require.NoError(t, err)

	engine, err := f.CreateEngine(nil)
	require.NoError(t, err)
	defer engine.Close()

	data, err := engine.Download(context.Background(), "/LFS/boot.log", phone)
	require.NoError(t, err)
	assert.Equal(t, []byte("boot ok"), data)
}

func TestCreateSimulatedEngineAppliesConnectionConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Metrics.Enabled = false
	cfg.Connection.ProblematicDevices = []connparams.Device{phone}
	cfg.Connection.Failsafe = connparams.Set{MaxTransmissionSize: connparams.Int(64)}
	f, err := NewEngineFactoryWithConfig(cfg)
	require.NoError(t, err)

	engine, device, err := f.CreateSimulatedEngine()
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, engine.Upload(context.Background(), "/a.bin", []byte("x"), phone))
	reqs := device.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 64, *reqs[0].Parameters.MaxTransmissionSize)
	assert.Equal(t, connparams.FailsafePipelineDepth, *reqs[0].Parameters.PipelineDepth)
}

func TestCancelModeMapping(t *testing.T) {
	assert.Equal(t, simulated.CancelConfirm, cancelMode("confirm"))
	assert.Equal(t, simulated.CancelAcknowledgeOnly, cancelMode("acknowledge"))
	assert.Equal(t, simulated.CancelIgnore, cancelMode("ignore"))
}

func TestModeSwitching(t *testing.T) {
	f, err := NewEngineFactoryWithConfig(config.Default())
	require.NoError(t, err)

	f.SwitchToSimulation()
	assert.True(t, f.IsUsingSimulation())
	f.SwitchToReal()
	assert.False(t, f.IsUsingSimulation())
}

func TestUpdateConfig(t *testing.T) {
	f, err := NewEngineFactoryWithConfig(config.Default())
	require.NoError(t, err)

	assert.Error(t, f.UpdateConfig(nil))

	bad := config.Default()
	bad.Logging.Format = "xml"
	assert.ErrorIs(t, f.UpdateConfig(bad), config.ErrInvalidConfig)

	next := config.Default()
	next.Engine.MaxTries = 5
	require.NoError(t, f.UpdateConfig(next))
	assert.Equal(t, 5, f.GetCurrentConfig().Engine.MaxTries)
}

func TestConcurrentAccess(t *testing.T) {
	f, err := NewEngineFactoryWithConfig(config.Default())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.SwitchToSimulation()
			f.SwitchToReal()
		}()
		go func() {
			defer wg.Done()
			_ = f.GetCurrentConfig()
			_ = f.IsUsingSimulation()
		}()
	}
	wg.Wait()
}
