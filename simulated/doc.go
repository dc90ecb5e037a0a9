// Package simulated provides an in-memory native layer for deterministic
// testing and demos of the transfer engine.
//
// # Overview
//
// A Device implements native.IProxy. Every BeginOperation plays a script of
// actions (state transitions, progress, fatal errors, completion) on its own
// goroutine, delivering advertisements exactly like a real native layer
// would: asynchronously and possibly after the engine stopped listening.
//
// # Simulation vs Real Implementation
//
// A real native layer wraps a BLE SMP client. Both conform to
// native.IProxy, and the factory package picks one based on configuration.
//
// # Usage
//
//	dev := simulated.NewDevice(
//	    simulated.WithScript(simulated.FailFirst(2, native.ErrorCodeCorrupt, 0)),
//	    simulated.WithFile("/lfs/log.txt", []byte("boot ok")),
//	)
//	engine, _ := transfer.New(dev)
//	data, err := engine.Download(ctx, "/lfs/log.txt", device)
//
// The device records every BeginRequest, so tests can assert on the
// connection parameters each attempt used:
//
//	reqs := dev.Requests()
//	last := reqs[len(reqs)-1].Parameters
//
// # Cancellation Behaviour
//
// CancelConfirm acknowledges and confirms cancel requests, CancelAcknowledgeOnly
// acknowledges but never confirms (a dead link), and CancelIgnore refuses
// them outright.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Advertisements are never
// delivered while the device's lock is held.
package simulated
