// Package spec loads engine configuration from YAML and resolves it into
// concrete settings.
package spec

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/shaban/patchbay/engine"
)

// LatencyHint picks a default buffer size when none is given.
type LatencyHint string

const (
	LatencyLow    LatencyHint = "low"
	LatencyMedium LatencyHint = "medium"
	LatencyHigh   LatencyHint = "high"
)

// Limits applied by Resolve.
const (
	DefaultSampleRate = 48000
	MinSampleRate     = 8000
	MaxSampleRate     = 384000
	MinBufferSize     = 16
	MaxBufferSize     = 8192
	MaxChannels       = engine.MaxPlugins
)

// MapLatencyToBuffer maps a latency hint to a buffer size in frames.
func MapLatencyToBuffer(h LatencyHint) uint32 {
	switch h {
	case LatencyLow:
		return 256
	case LatencyHigh:
		return 1024
	default:
		return 512
	}
}

// MIDI lists external device names to connect at start in rack mode.
type MIDI struct {
	Inputs  []string `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs []string `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}

// Spec is the user-facing configuration. Zero fields take defaults.
type Spec struct {
	Name        string      `yaml:"name,omitempty" json:"name,omitempty"`
	Mode        string      `yaml:"mode,omitempty" json:"mode,omitempty"`
	SampleRate  float64     `yaml:"sample_rate,omitempty" json:"sample_rate,omitempty"`
	BufferSize  uint32      `yaml:"buffer_size,omitempty" json:"buffer_size,omitempty"`
	LatencyHint LatencyHint `yaml:"latency_hint,omitempty" json:"latency_hint,omitempty"`
	Inputs      *uint32     `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Outputs     *uint32     `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	Offline     bool        `yaml:"offline,omitempty" json:"offline,omitempty"`
	MIDI        MIDI        `yaml:"midi,omitempty" json:"midi,omitempty"`
}

// Resolved is a validated configuration with every field set.
type Resolved struct {
	Name       string
	Patchbay   bool
	SampleRate float64
	BufferSize uint32
	Inputs     uint32
	Outputs    uint32
	Offline    bool
	MIDI       MIDI
}

// Mode returns the configured mode name.
func (r Resolved) Mode() string {
	if r.Patchbay {
		return "patchbay"
	}
	return "rack"
}

// Load decodes a Spec. Unknown keys are rejected.
func Load(r io.Reader) (Spec, error) {
	var s Spec
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && err != io.EOF {
		return Spec{}, fmt.Errorf("decode config: %w", err)
	}
	return s, nil
}

// LoadFile reads and decodes a Spec from path.
func LoadFile(path string) (Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return Spec{}, err
	}
	defer f.Close()
	s, err := Load(f)
	if err != nil {
		return Spec{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Resolve applies defaults and validates. An explicit buffer size wins
// over the latency hint. Inputs and outputs default to stereo.
func Resolve(s Spec) (Resolved, error) {
	r := Resolved{
		Name:       s.Name,
		SampleRate: s.SampleRate,
		BufferSize: s.BufferSize,
		Inputs:     2,
		Outputs:    2,
		Offline:    s.Offline,
		MIDI:       s.MIDI,
	}
	if r.Name == "" {
		r.Name = "patchbay"
	}

	switch strings.ToLower(s.Mode) {
	case "", "rack":
	case "patchbay":
		r.Patchbay = true
	default:
		return Resolved{}, invalid("unknown mode %q", s.Mode)
	}

	if r.SampleRate == 0 {
		r.SampleRate = DefaultSampleRate
	} else if r.SampleRate < MinSampleRate || r.SampleRate > MaxSampleRate {
		return Resolved{}, invalid("sample rate %.0f outside %d-%d Hz", r.SampleRate, MinSampleRate, MaxSampleRate)
	}

	switch s.LatencyHint {
	case "", LatencyLow, LatencyMedium, LatencyHigh:
	default:
		return Resolved{}, invalid("unknown latency hint %q", s.LatencyHint)
	}
	if r.BufferSize == 0 {
		r.BufferSize = MapLatencyToBuffer(s.LatencyHint)
	} else if r.BufferSize < MinBufferSize || r.BufferSize > MaxBufferSize {
		return Resolved{}, invalid("buffer size %d outside %d-%d frames", r.BufferSize, MinBufferSize, MaxBufferSize)
	}

	if s.Inputs != nil {
		r.Inputs = *s.Inputs
	}
	if s.Outputs != nil {
		r.Outputs = *s.Outputs
	}
	if r.Inputs > MaxChannels || r.Outputs > MaxChannels {
		return Resolved{}, invalid("at most %d inputs and outputs", MaxChannels)
	}
	return r, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{engine.ErrInvalidArgument}, args...)...)
}
