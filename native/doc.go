// Package native defines the contract between the transfer engine and the
// native (firmware-protocol) layer that actually moves bytes over the link.
//
// The native layer is driven through [IProxy] and reports back exclusively
// through [ICallbacks] advertisements. Advertisements may arrive on any
// goroutine, in any interleaving, and after the operation that caused them
// has already been abandoned; implementations of ICallbacks must cope with
// that.
//
// # Driving an operation
//
//	proxy.Bind(callbacks)
//	verdict, err := proxy.BeginOperation(native.BeginRequest{
//	    Direction:  native.DirectionUpload,
//	    ResourceID: "/lfs/settings.bin",
//	    Payload:    data,
//	    Device:     connparams.Device{Manufacturer: "Acme", Model: "Phone"},
//	})
//	if err != nil || verdict != native.VerdictSuccess {
//	    // the operation never started
//	}
//
// A successful verdict only means the operation was accepted. The outcome
// arrives later as a StateChangedAdvertisement to [StateComplete] (with the
// downloaded bytes for downloads), a FatalErrorAdvertisement, or a
// CancelledAdvertisement.
//
// # Simulation
//
// The simulated package provides an in-memory IProxy that plays scripted
// advertisement sequences, for tests and demos.
package native
