package plugins

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shaban/patchbay/engine/event"
)

// Base carries the bookkeeping every built-in plugin shares: identity,
// port counts, enable flag, the processing lock and the default event
// ports. Embed it and implement Process.
type Base struct {
	id      atomic.Uint32
	name    string
	enabled atomic.Bool
	lock    sync.Mutex

	audioIns  uint32
	audioOuts uint32
	midiIns   uint32
	midiOuts  uint32

	eventsIn  *event.Buffer
	eventsOut *event.Buffer
}

func (b *Base) init(id uint32, name string, audioIns, audioOuts, midiIns, midiOuts uint32) {
	b.name = name
	b.audioIns = audioIns
	b.audioOuts = audioOuts
	b.midiIns = midiIns
	b.midiOuts = midiOuts
	b.id.Store(id)
	b.enabled.Store(true)
	if midiIns > 0 {
		b.eventsIn = new(event.Buffer)
	}
	if midiOuts > 0 {
		b.eventsOut = new(event.Buffer)
	}
}

func (b *Base) ID() uint32      { return b.id.Load() }
func (b *Base) SetID(id uint32) { b.id.Store(id) }
func (b *Base) Name() string    { return b.name }

func (b *Base) AudioInCount() uint32  { return b.audioIns }
func (b *Base) AudioOutCount() uint32 { return b.audioOuts }
func (b *Base) MidiInCount() uint32   { return b.midiIns }
func (b *Base) MidiOutCount() uint32  { return b.midiOuts }

// AudioPortName returns "input_N" or "output_N", numbered from 1.
func (b *Base) AudioPortName(isInput bool, index uint32) string {
	if isInput {
		return fmt.Sprintf("input_%d", index+1)
	}
	return fmt.Sprintf("output_%d", index+1)
}

func (b *Base) IsEnabled() bool         { return b.enabled.Load() }
func (b *Base) SetEnabled(enabled bool) { b.enabled.Store(enabled) }

// TryLock takes the processing lock. Offline rendering waits for it.
func (b *Base) TryLock(offline bool) bool {
	if offline {
		b.lock.Lock()
		return true
	}
	return b.lock.TryLock()
}

func (b *Base) Unlock() { b.lock.Unlock() }

// Lock blocks until the processing lock is held. Control code uses it to
// keep the audio thread out while changing plugin state.
func (b *Base) Lock() { b.lock.Lock() }

// InitBuffers clears the default output event port.
func (b *Base) InitBuffers() {
	if b.eventsOut != nil {
		b.eventsOut.Clear()
	}
}

func (b *Base) DefaultEventInPort() *event.Buffer  { return b.eventsIn }
func (b *Base) DefaultEventOutPort() *event.Buffer { return b.eventsOut }

// eventPorts picks the buffers passed to Process, falling back to the
// default ports.
func (b *Base) eventPorts(in, out *event.Buffer) (*event.Buffer, *event.Buffer) {
	if in == nil {
		in = b.eventsIn
	}
	if out == nil {
		out = b.eventsOut
	}
	return in, out
}
