package patchbay

import (
	"fmt"

	"github.com/shaban/patchbay/engine/event"
)

// Node is what the graph schedules. Audio is processed in place: the
// buffer passed to Process has max(AudioIns, AudioOuts) channels, holding
// the summed inputs on entry and the outputs on return. midi works the
// same way for events.
type Node interface {
	Name() string
	AudioIns() uint32
	AudioOuts() uint32
	AcceptsMIDI() bool
	ProducesMIDI() bool
	InputName(i uint32) string
	OutputName(i uint32) string
	Process(audio [][]float32, midi *event.Buffer, frames uint32)
}

// Names of the I/O nodes every graph starts with.
const (
	AudioInputName  = "Audio Input"
	AudioOutputName = "Audio Output"
	MidiInputName   = "Midi Input"
	MidiOutputName  = "Midi Output"
)

// external holds the host buffers of the block being processed. The I/O
// nodes read and write it.
type external struct {
	in      [][]float32
	out     [][]float32
	midiIn  event.Buffer
	midiOut event.Buffer
}

type ioKind int

const (
	ioAudioIn ioKind = iota
	ioAudioOut
	ioMidiIn
	ioMidiOut
)

// ioNode bridges the graph to the host's channels and event buffers.
type ioNode struct {
	kind     ioKind
	channels uint32
	ext      *external
}

func (n *ioNode) Name() string {
	switch n.kind {
	case ioAudioIn:
		return AudioInputName
	case ioAudioOut:
		return AudioOutputName
	case ioMidiIn:
		return MidiInputName
	}
	return MidiOutputName
}

func (n *ioNode) AudioIns() uint32 {
	if n.kind == ioAudioOut {
		return n.channels
	}
	return 0
}

func (n *ioNode) AudioOuts() uint32 {
	if n.kind == ioAudioIn {
		return n.channels
	}
	return 0
}

func (n *ioNode) AcceptsMIDI() bool  { return n.kind == ioMidiOut }
func (n *ioNode) ProducesMIDI() bool { return n.kind == ioMidiIn }

// The device's capture channels are the audio input node's outputs, so
// they are named "Input N"; playback channels are "Output N".
func (n *ioNode) InputName(i uint32) string  { return fmt.Sprintf("Output %d", i+1) }
func (n *ioNode) OutputName(i uint32) string { return fmt.Sprintf("Input %d", i+1) }

func (n *ioNode) Process(audio [][]float32, midi *event.Buffer, frames uint32) {
	switch n.kind {
	case ioAudioIn:
		for i, dst := range audio {
			if i < len(n.ext.in) {
				copy(dst, n.ext.in[i][:frames])
			} else {
				clear(dst)
			}
		}
	case ioAudioOut:
		for i, src := range audio {
			if i < len(n.ext.out) {
				copy(n.ext.out[i][:frames], src)
			}
		}
	case ioMidiIn:
		midi.CopyFrom(&n.ext.midiIn)
	case ioMidiOut:
		n.ext.midiOut.CopyFrom(midi)
	}
}
