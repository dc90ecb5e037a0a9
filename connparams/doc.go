// Package connparams describes the link-level tuning knobs handed to the
// native transfer layer and decides when they must be replaced with a
// conservative failsafe set.
//
// A Set leaves every knob optional: nil means "let the native layer pick".
// A Selector owns the failsafe set and a registry of host devices whose
// radios are known to misbehave, and answers two questions:
//
//	sel := connparams.NewSelector()
//	if override, ok := sel.ForDevice(dev, requested); ok {
//	    requested = override
//	}
//	if override, ok := sel.ForInstability(attempt, maxTries, suspicious); ok {
//	    requested = override
//	}
package connparams
