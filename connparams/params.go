package connparams

import (
	"fmt"
	"strconv"
	"strings"
)

// Failsafe values. They trade throughput for the best chance of getting a
// transfer through on a flaky link.
const (
	// FailsafeMaxTransmissionSize is the smallest MTU every BLE stack accepts.
	FailsafeMaxTransmissionSize = 23
	// FailsafeWindowCapacity disables SMP windowing.
	FailsafeWindowCapacity = 1
	// FailsafeMemoryAlignment disables memory alignment padding.
	FailsafeMemoryAlignment = 1
	// FailsafePipelineDepth sends one chunk at a time.
	FailsafePipelineDepth = 1
	// FailsafeByteAlignment disables byte alignment padding.
	FailsafeByteAlignment = 1
)

// Set is a group of optional connection parameters. A nil field means the
// native layer uses its own default for that knob.
type Set struct {
	MaxTransmissionSize *int `yaml:"max_transmission_size,omitempty"`
	PipelineDepth       *int `yaml:"pipeline_depth,omitempty"`
	ByteAlignment       *int `yaml:"byte_alignment,omitempty"`
	WindowCapacity      *int `yaml:"window_capacity,omitempty"`
	MemoryAlignment     *int `yaml:"memory_alignment,omitempty"`
}

// Int returns a pointer to v, for building Set literals.
func Int(v int) *int {
	return &v
}

// Failsafe returns the built-in conservative parameter set.
func Failsafe() Set {
	return Set{
		MaxTransmissionSize: Int(FailsafeMaxTransmissionSize),
		PipelineDepth:       Int(FailsafePipelineDepth),
		ByteAlignment:       Int(FailsafeByteAlignment),
		WindowCapacity:      Int(FailsafeWindowCapacity),
		MemoryAlignment:     Int(FailsafeMemoryAlignment),
	}
}

// IsZero reports whether no knob is set.
func (s Set) IsZero() bool {
	return s.MaxTransmissionSize == nil &&
		s.PipelineDepth == nil &&
		s.ByteAlignment == nil &&
		s.WindowCapacity == nil &&
		s.MemoryAlignment == nil
}

// IsUntuned reports whether the caller left the parameters at values the
// native layer would pick anyway. Only untuned sets may be replaced by the
// problematic-device override; explicit tuning always wins over the registry.
func (s Set) IsUntuned() bool {
	return s.MaxTransmissionSize == nil &&
		isNilOrOne(s.PipelineDepth) &&
		isNilOrOne(s.ByteAlignment) &&
		isNilOrOne(s.WindowCapacity) &&
		isNilOrOne(s.MemoryAlignment)
}

// Equal compares two sets knob by knob.
func (s Set) Equal(other Set) bool {
	return intPtrEqual(s.MaxTransmissionSize, other.MaxTransmissionSize) &&
		intPtrEqual(s.PipelineDepth, other.PipelineDepth) &&
		intPtrEqual(s.ByteAlignment, other.ByteAlignment) &&
		intPtrEqual(s.WindowCapacity, other.WindowCapacity) &&
		intPtrEqual(s.MemoryAlignment, other.MemoryAlignment)
}

// Clone returns a deep copy so callers can't alias each other's knobs.
func (s Set) Clone() Set {
	return Set{
		MaxTransmissionSize: clonePtr(s.MaxTransmissionSize),
		PipelineDepth:       clonePtr(s.PipelineDepth),
		ByteAlignment:       clonePtr(s.ByteAlignment),
		WindowCapacity:      clonePtr(s.WindowCapacity),
		MemoryAlignment:     clonePtr(s.MemoryAlignment),
	}
}

// Validate rejects non-positive knobs.
func (s Set) Validate() error {
	fields := []struct {
		name  string
		value *int
	}{
		{"max_transmission_size", s.MaxTransmissionSize},
		{"pipeline_depth", s.PipelineDepth},
		{"byte_alignment", s.ByteAlignment},
		{"window_capacity", s.WindowCapacity},
		{"memory_alignment", s.MemoryAlignment},
	}
	for _, f := range fields {
		if f.value != nil && *f.value <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidParameter, f.name, *f.value)
		}
	}
	return nil
}

func (s Set) String() string {
	return fmt.Sprintf("mtu=%s pipeline_depth=%s byte_alignment=%s window_capacity=%s memory_alignment=%s",
		formatKnob(s.MaxTransmissionSize),
		formatKnob(s.PipelineDepth),
		formatKnob(s.ByteAlignment),
		formatKnob(s.WindowCapacity),
		formatKnob(s.MemoryAlignment))
}

// Merge returns base with every knob that override sets replaced.
func Merge(base, override Set) Set {
	merged := base.Clone()
	if override.MaxTransmissionSize != nil {
		merged.MaxTransmissionSize = clonePtr(override.MaxTransmissionSize)
	}
	if override.PipelineDepth != nil {
		merged.PipelineDepth = clonePtr(override.PipelineDepth)
	}
	if override.ByteAlignment != nil {
		merged.ByteAlignment = clonePtr(override.ByteAlignment)
	}
	if override.WindowCapacity != nil {
		merged.WindowCapacity = clonePtr(override.WindowCapacity)
	}
	if override.MemoryAlignment != nil {
		merged.MemoryAlignment = clonePtr(override.MemoryAlignment)
	}
	return merged
}

// Device identifies the host device (phone, desktop) driving the link.
type Device struct {
	Manufacturer string `yaml:"manufacturer"`
	Model        string `yaml:"model"`
}

// Validate rejects devices with a blank manufacturer or model.
func (d Device) Validate() error {
	if strings.TrimSpace(d.Manufacturer) == "" {
		return fmt.Errorf("%w: manufacturer is blank", ErrInvalidDevice)
	}
	if strings.TrimSpace(d.Model) == "" {
		return fmt.Errorf("%w: model is blank", ErrInvalidDevice)
	}
	return nil
}

func (d Device) String() string {
	return strings.TrimSpace(d.Manufacturer) + "/" + strings.TrimSpace(d.Model)
}

// deviceKey is the registry key: trimmed and lower-cased on both halves.
type deviceKey struct {
	manufacturer string
	model        string
}

func (d Device) key() deviceKey {
	return deviceKey{
		manufacturer: strings.ToLower(strings.TrimSpace(d.Manufacturer)),
		model:        strings.ToLower(strings.TrimSpace(d.Model)),
	}
}

func isNilOrOne(v *int) bool {
	return v == nil || *v == 1
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func clonePtr(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func formatKnob(v *int) string {
	if v == nil {
		return "auto"
	}
	return strconv.Itoa(*v)
}
