// Package factory builds transfer engines from configuration.
//
// The factory hides whether an engine drives a real native proxy or the
// in-memory simulated device, so consuming code does not change between
// production and tests.
//
// # Configuration
//
// NewEngineFactory starts from config.Default with the MCUXFER_* environment
// overrides applied. NewEngineFactoryWithConfig takes a loaded config.Config
// instead. The simulation section decides whether CreateEngine may fall back
// to a simulated device.
//
// # Usage
//
//	f := factory.NewEngineFactory()
//
//	// Real native proxy
//	engine, err := f.CreateEngine(proxy)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	// Or a simulated device, e.g. in tests
//	engine, device, err := f.CreateSimulatedEngine(simulated.WithScript(simulated.Succeed(3)))
//
// # Mode Switching
//
// SwitchToSimulation and SwitchToReal flip the simulation flag at runtime,
// which is convenient in integration tests.
package factory
