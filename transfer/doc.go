// Package transfer implements the engine that drives resource uploads and
// downloads through a native (firmware-protocol) layer, adding retries with
// connection-parameter escalation, pause/resume, cooperative cancellation
// and deduplicating batches on top of it.
//
// # Overview
//
// The native layer is reached through a native.IProxy and reports back with
// advertisements. The Engine binds itself as the advertisement sink,
// re-emits every advertisement as a typed event and runs one operation at a
// time:
//
//	engine, err := transfer.New(proxy)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	unsubscribe := engine.OnProgress(func(ev transfer.ProgressEvent) {
//	    fmt.Printf("%s: %d%%\n", ev.Resource, ev.Percentage)
//	})
//	defer unsubscribe()
//
//	_, err = engine.Transfer(ctx, transfer.Request{
//	    Direction: native.DirectionUpload,
//	    Resource:  "/lfs/settings.bin",
//	    Payload:   data,
//	    Device:    connparams.Device{Manufacturer: "Acme", Model: "Phone 7"},
//	})
//
// # Retries
//
// Generic fatal errors are retried up to MaxTries. When the attempt history
// suggests a flaky link (early failures with little progress, or simply the
// last attempt) the attempt runs with the selector's failsafe connection
// parameters. Not-found errors, timeouts, cancellations and internal errors
// are never retried.
//
// # Pause, Resume and Cancel
//
// TryPause and TryResume close and open a gate that every attempt passes
// before reaching the native layer. TryCancel is a request: the engine waits
// for the native layer to confirm, and forces the confirmation itself (the
// deathknell) when the native layer reports cancelling but goes silent for
// longer than the graceful cancellation timeout.
//
// # Events
//
// Subscribers are called synchronously on whichever goroutine delivered the
// advertisement. A panicking subscriber is logged and skipped; it never
// affects the running operation.
//
// # Deterministic Testing
//
// Durations reported in logs and metrics come from a TimeProvider that can
// be replaced with WithTimeProvider.
package transfer
