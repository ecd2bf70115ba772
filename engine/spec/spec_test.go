package spec

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shaban/patchbay/engine"
)

func TestResolve_Defaults(t *testing.T) {
	got, err := Resolve(Spec{})
	if err != nil {
		t.Fatal(err)
	}
	if got.SampleRate != 48000 {
		t.Fatalf("rate: want 48000 got %v", got.SampleRate)
	}
	if got.BufferSize != 512 {
		t.Fatalf("buf: want 512 got %v", got.BufferSize)
	}
	if got.Inputs != 2 || got.Outputs != 2 {
		t.Fatalf("io: want 2/2 got %d/%d", got.Inputs, got.Outputs)
	}
	if got.Patchbay || got.Mode() != "rack" {
		t.Fatalf("mode: want rack got %s", got.Mode())
	}
}

func TestResolve_Overrides(t *testing.T) {
	zero := uint32(0)
	s := Spec{Mode: "Patchbay", SampleRate: 96000, LatencyHint: LatencyLow, Inputs: &zero}
	got, err := Resolve(s)
	if err != nil {
		t.Fatal(err)
	}
	if got.SampleRate != 96000 {
		t.Fatalf("rate: want 96000 got %v", got.SampleRate)
	}
	if got.BufferSize != 256 {
		t.Fatalf("buf: want 256 got %v", got.BufferSize)
	}
	if got.Inputs != 0 {
		t.Fatalf("inputs: want 0 got %d", got.Inputs)
	}
	if !got.Patchbay {
		t.Fatal("mode: want patchbay")
	}
}

func TestResolve_BufferHintBeatsLatency(t *testing.T) {
	got, err := Resolve(Spec{LatencyHint: LatencyHigh, BufferSize: 384})
	if err != nil {
		t.Fatal(err)
	}
	if got.BufferSize != 384 {
		t.Fatalf("buf: want 384 got %v", got.BufferSize)
	}
}

func TestResolve_Invalid(t *testing.T) {
	many := uint32(300)
	cases := map[string]Spec{
		"mode":        {Mode: "mixer"},
		"low rate":    {SampleRate: 4000},
		"high rate":   {SampleRate: 400000},
		"tiny buffer": {BufferSize: 8},
		"huge buffer": {BufferSize: 16384},
		"latency":     {LatencyHint: "ultra"},
		"outputs":     {Outputs: &many},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Resolve(s); !errors.Is(err, engine.ErrInvalidArgument) {
				t.Fatalf("want invalid argument, got %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	const doc = `
name: studio
mode: patchbay
sample_rate: 44100
latency_hint: high
outputs: 4
midi:
  inputs: [Keys]
  outputs: [Synth, Drums]
`
	s, err := Load(strings.NewReader(doc))
	if err != nil {
		t.Fatal(err)
	}
	r, err := Resolve(s)
	if err != nil {
		t.Fatal(err)
	}
	if r.Name != "studio" || !r.Patchbay || r.SampleRate != 44100 || r.BufferSize != 1024 {
		t.Fatalf("resolved %+v", r)
	}
	if r.Inputs != 2 || r.Outputs != 4 {
		t.Fatalf("io %d/%d", r.Inputs, r.Outputs)
	}
	if len(r.MIDI.Inputs) != 1 || len(r.MIDI.Outputs) != 2 || r.MIDI.Outputs[1] != "Drums" {
		t.Fatalf("midi %+v", r.MIDI)
	}
}

func TestLoad_EmptyAndUnknown(t *testing.T) {
	if _, err := Load(strings.NewReader("")); err != nil {
		t.Fatalf("empty doc: %v", err)
	}
	if _, err := Load(strings.NewReader("volume: 11\n")); err == nil {
		t.Fatal("unknown key accepted")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	if err := os.WriteFile(path, []byte("buffer_size: 128\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.BufferSize != 128 {
		t.Fatalf("buffer %d", s.BufferSize)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
