package testutil

import (
	"sync"

	"github.com/shaban/patchbay/engine"
)

// Recorder is an engine.Host that records every callback and peak update
// and keeps track of the MIDI ports the rack asked to open.
type Recorder struct {
	mu     sync.Mutex
	events []engine.CallbackEvent
	peaks  map[uint32][2][2]float32

	// RejectMidi makes every MIDI hook fail.
	RejectMidi bool
	midiIns    map[string]bool
	midiOuts   map[string]bool
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		peaks:    make(map[uint32][2][2]float32),
		midiIns:  make(map[string]bool),
		midiOuts: make(map[string]bool),
	}
}

func (r *Recorder) Callback(op engine.CallbackOpcode, id uint64, v1, v2, v3 int32, str string) {
	r.Record(engine.CallbackEvent{Opcode: op, ID: id, Value1: v1, Value2: v2, Value3: v3, Str: str})
}

// Record appends ev; it matches engine.CallbackFunc.
func (r *Recorder) Record(ev engine.CallbackEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) SetPluginPeaks(id uint32, ins, outs [2]float32) {
	r.mu.Lock()
	r.peaks[id] = [2][2]float32{ins, outs}
	r.mu.Unlock()
}

// Peaks returns the last input and output peaks published for id.
func (r *Recorder) Peaks(id uint32) (ins, outs [2]float32, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peaks[id]
	return p[0], p[1], ok
}

func (r *Recorder) ConnectRackMidiInPort(name string) bool {
	return r.setMidi(r.midiIns, name, true)
}

func (r *Recorder) ConnectRackMidiOutPort(name string) bool {
	return r.setMidi(r.midiOuts, name, true)
}

func (r *Recorder) DisconnectRackMidiInPort(name string) bool {
	return r.setMidi(r.midiIns, name, false)
}

func (r *Recorder) DisconnectRackMidiOutPort(name string) bool {
	return r.setMidi(r.midiOuts, name, false)
}

func (r *Recorder) setMidi(m map[string]bool, name string, open bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RejectMidi || m[name] == open {
		return false
	}
	m[name] = open
	return true
}

// MidiOpen reports whether a MIDI port is currently open.
func (r *Recorder) MidiOpen(isInput bool, name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if isInput {
		return r.midiIns[name]
	}
	return r.midiOuts[name]
}

// Events returns a copy of every recorded event.
func (r *Recorder) Events() []engine.CallbackEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.CallbackEvent(nil), r.events...)
}

// Filter returns the recorded events with the given opcode.
func (r *Recorder) Filter(op engine.CallbackOpcode) []engine.CallbackEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []engine.CallbackEvent
	for _, ev := range r.events {
		if ev.Opcode == op {
			out = append(out, ev)
		}
	}
	return out
}

// Count returns how many events with the given opcode were recorded.
func (r *Recorder) Count(op engine.CallbackOpcode) int {
	return len(r.Filter(op))
}

// Reset forgets every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
