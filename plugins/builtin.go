package plugins

import (
	"math"
	"sync/atomic"

	"github.com/shaban/patchbay/engine/analyze"
	"github.com/shaban/patchbay/engine/event"
)

// Gain scales every channel by a fixed factor.
type Gain struct {
	Base
	gain atomic.Uint32
}

// NewGain returns a gain plugin with channels inputs and outputs.
func NewGain(id uint32, name string, channels uint32, gain float32) *Gain {
	g := &Gain{}
	g.init(id, name, channels, channels, 0, 0)
	g.SetGain(gain)
	return g
}

func (g *Gain) SetGain(gain float32) { g.gain.Store(math.Float32bits(gain)) }
func (g *Gain) Gain() float32        { return math.Float32frombits(g.gain.Load()) }

func (g *Gain) Process(in, out [][]float32, _, _ *event.Buffer, frames uint32) {
	gain := g.Gain()
	for c := 0; c < int(g.audioOuts) && c < len(out); c++ {
		dst := out[c][:frames]
		if c >= len(in) || c >= int(g.audioIns) {
			clear(dst)
			continue
		}
		copy(dst, in[c][:frames])
		analyze.Scale(dst, gain)
	}
}

// Generator writes a constant level to its outputs and takes no audio
// input. A level of zero makes it a silence source.
type Generator struct {
	Base
	level atomic.Uint32
}

// NewGenerator returns a source with channels outputs.
func NewGenerator(id uint32, name string, channels uint32, level float32) *Generator {
	g := &Generator{}
	g.init(id, name, 0, channels, 0, 0)
	g.SetLevel(level)
	return g
}

// NewSilence returns a generator that outputs zeros.
func NewSilence(id uint32, name string, channels uint32) *Generator {
	return NewGenerator(id, name, channels, 0)
}

func (g *Generator) SetLevel(level float32) { g.level.Store(math.Float32bits(level)) }
func (g *Generator) Level() float32         { return math.Float32frombits(g.level.Load()) }

func (g *Generator) Process(_, out [][]float32, _, _ *event.Buffer, frames uint32) {
	level := g.Level()
	for c := 0; c < int(g.audioOuts) && c < len(out); c++ {
		dst := out[c][:frames]
		for i := range dst {
			dst[i] = level
		}
	}
}

// MIDIThrough copies incoming events to its output, optionally forcing
// them onto one channel. It has no audio ports.
type MIDIThrough struct {
	Base
	channel atomic.Int32
}

// NewMIDIThrough returns a MIDI pass-through plugin.
func NewMIDIThrough(id uint32, name string) *MIDIThrough {
	m := &MIDIThrough{}
	m.init(id, name, 0, 0, 1, 1)
	m.channel.Store(-1)
	return m
}

// SetChannel rewrites every event onto ch; a negative ch keeps channels.
func (m *MIDIThrough) SetChannel(ch int) { m.channel.Store(int32(ch)) }

func (m *MIDIThrough) Process(_, _ [][]float32, eventsIn, eventsOut *event.Buffer, _ uint32) {
	eventsIn, eventsOut = m.eventPorts(eventsIn, eventsOut)
	if eventsIn == nil || eventsOut == nil {
		return
	}
	ch := m.channel.Load()
	for i := range eventsIn {
		e := eventsIn[i]
		if e.Type == event.TypeNull {
			break
		}
		if ch >= 0 {
			e.Channel = uint8(ch) & 0x0F
		}
		if !eventsOut.Append(e) {
			break
		}
	}
}

// NoteSource emits a fixed list of events every block and passes audio
// straight through. It declares MIDI output only.
type NoteSource struct {
	Base
	events []event.Event
}

// NewNoteSource returns a plugin that emits events each block. Events
// whose time falls outside the block are skipped.
func NewNoteSource(id uint32, name string, channels uint32, events ...event.Event) *NoteSource {
	n := &NoteSource{events: append([]event.Event(nil), events...)}
	n.init(id, name, channels, channels, 0, 1)
	return n
}

func (n *NoteSource) Process(in, out [][]float32, _, eventsOut *event.Buffer, frames uint32) {
	for c := 0; c < int(n.audioOuts) && c < len(out) && c < len(in); c++ {
		copy(out[c][:frames], in[c][:frames])
	}
	_, eventsOut = n.eventPorts(nil, eventsOut)
	if eventsOut == nil {
		return
	}
	for _, e := range n.events {
		if e.Time < frames {
			eventsOut.Append(e)
		}
	}
}
