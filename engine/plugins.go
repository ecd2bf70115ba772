package engine

import (
	"math"
	"sync/atomic"

	"github.com/shaban/patchbay/engine/event"
)

// Limits shared by both graph modes.
const (
	// MaxPatchbayPlugins sizes the patchbay port offset bands.
	MaxPatchbayPlugins = 255
	// MaxPlugins is the plugin count limit; two slots are reserved for
	// external audio and MIDI I/O.
	MaxPlugins = MaxPatchbayPlugins - 2
	// MaxInternalEvents is the capacity of an engine event buffer.
	MaxInternalEvents = event.Capacity
)

// Plugin is the realtime contract a loaded plugin exposes to the graphs.
// How the plugin produces audio is opaque to the engine.
type Plugin interface {
	ID() uint32
	// SetID renumbers the plugin after a lower id was removed.
	SetID(id uint32)
	Name() string

	AudioInCount() uint32
	AudioOutCount() uint32
	MidiInCount() uint32
	MidiOutCount() uint32
	// AudioPortName names audio channel index of the given direction.
	AudioPortName(isInput bool, index uint32) string

	IsEnabled() bool
	// TryLock acquires the processing lock without blocking, unless
	// offline is true in which case it may wait.
	TryLock(offline bool) bool
	Unlock()

	// InitBuffers prepares the plugin's event ports for a new block.
	InitBuffers()
	// Process renders frames samples. The event buffers may be nil, in
	// which case the plugin reads and writes its default event ports.
	Process(in, out [][]float32, eventsIn, eventsOut *event.Buffer, frames uint32)

	// DefaultEventInPort returns the plugin's MIDI input buffer, or nil if
	// it takes no MIDI.
	DefaultEventInPort() *event.Buffer
	// DefaultEventOutPort returns the plugin's MIDI output buffer, or nil
	// if it produces no MIDI.
	DefaultEventOutPort() *event.Buffer
}

// PluginSlot is the per-plugin record the host keeps for processing.
// Peaks are written by the audio thread and read by anyone.
type PluginSlot struct {
	Plugin Plugin
	peaks  [4]atomic.Uint32
}

// SetPeaks stores input and output peaks, clamped to [0, 1].
func (s *PluginSlot) SetPeaks(ins, outs [2]float32) {
	s.peaks[0].Store(math.Float32bits(clampPeak(ins[0])))
	s.peaks[1].Store(math.Float32bits(clampPeak(ins[1])))
	s.peaks[2].Store(math.Float32bits(clampPeak(outs[0])))
	s.peaks[3].Store(math.Float32bits(clampPeak(outs[1])))
}

// InsPeak returns the last input peaks.
func (s *PluginSlot) InsPeak() [2]float32 {
	return [2]float32{math.Float32frombits(s.peaks[0].Load()), math.Float32frombits(s.peaks[1].Load())}
}

// OutsPeak returns the last output peaks.
func (s *PluginSlot) OutsPeak() [2]float32 {
	return [2]float32{math.Float32frombits(s.peaks[2].Load()), math.Float32frombits(s.peaks[3].Load())}
}

// ResetPeaks zeroes both peak pairs.
func (s *PluginSlot) ResetPeaks() {
	for i := range s.peaks {
		s.peaks[i].Store(0)
	}
}

func clampPeak(v float32) float32 {
	if v < 0 {
		v = -v
	}
	if v > 1 || v != v {
		return 1
	}
	return v
}

// ProcessData is what the host hands to a graph for one block.
type ProcessData struct {
	EventsIn  *event.Buffer
	EventsOut *event.Buffer
	// Plugins is indexed by plugin id; only the first CurPluginCount
	// entries are active.
	Plugins        []PluginSlot
	CurPluginCount int
	// TimeFrame is the absolute frame at which the block starts.
	TimeFrame uint64
}

// ActivePlugin returns the plugin in slot i, or nil.
func (d *ProcessData) ActivePlugin(i int) Plugin {
	if i < 0 || i >= d.CurPluginCount || i >= len(d.Plugins) {
		return nil
	}
	return d.Plugins[i].Plugin
}

// Host is the engine surface graphs call back into. Implementations must
// tolerate calls from the control thread only, except SetPluginPeaks which
// runs on the audio thread.
type Host interface {
	// Callback emits a notification stamped with the engine handle.
	Callback(op CallbackOpcode, id uint64, v1, v2, v3 int32, str string)
	// SetPluginPeaks publishes peaks for plugin id.
	SetPluginPeaks(id uint32, ins, outs [2]float32)

	// Rack MIDI routing hooks; they open or close an external port by name.
	ConnectRackMidiInPort(name string) bool
	ConnectRackMidiOutPort(name string) bool
	DisconnectRackMidiInPort(name string) bool
	DisconnectRackMidiOutPort(name string) bool
}
