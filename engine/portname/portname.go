// Package portname converts between numeric (group, port) addresses and the
// "Group:Port" full names used in connection lists and saved sessions.
package portname

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shaban/patchbay/engine"
)

// Rack groups.
const (
	GroupCarla uint32 = iota
	GroupAudioIn
	GroupAudioOut
	GroupMidiIn
	GroupMidiOut
	GroupMax
)

// Ports of the rack's own group.
const (
	CarlaPortNull uint32 = iota
	CarlaPortAudioIn1
	CarlaPortAudioIn2
	CarlaPortAudioOut1
	CarlaPortAudioOut2
	CarlaPortMidiIn
	CarlaPortMidiOut
	CarlaPortMax
)

var carlaPortNames = [CarlaPortMax][2]string{
	CarlaPortAudioIn1:  {"AudioIn1", "audio-in1"},
	CarlaPortAudioIn2:  {"AudioIn2", "audio-in2"},
	CarlaPortAudioOut1: {"AudioOut1", "audio-out1"},
	CarlaPortAudioOut2: {"AudioOut2", "audio-out2"},
	CarlaPortMidiIn:    {"MidiIn", "midi-in"},
	CarlaPortMidiOut:   {"MidiOut", "midi-out"},
}

// CarlaPortName returns the short name of a rack port, as used in full
// names, and its kebab-case alias used in port-added events.
func CarlaPortName(port uint32) (short, alias string) {
	if port == CarlaPortNull || port >= CarlaPortMax {
		return "", ""
	}
	return carlaPortNames[port][0], carlaPortNames[port][1]
}

// CarlaPortID resolves either spelling of a rack port name.
func CarlaPortID(name string) (uint32, bool) {
	for id := CarlaPortAudioIn1; id < CarlaPortMax; id++ {
		if name == carlaPortNames[id][0] || name == carlaPortNames[id][1] {
			return id, true
		}
	}
	return CarlaPortNull, false
}

// Split cuts a full name at its first colon.
func Split(fullName string) (group, port string, ok bool) {
	return strings.Cut(fullName, ":")
}

// RackFullName formats a rack endpoint. Hardware audio ports are numbered
// from 1; MIDI ports are named after their registered device.
func RackFullName(group, port uint32, midi *Registry) (string, bool) {
	switch group {
	case GroupCarla:
		short, _ := CarlaPortName(port)
		if short == "" {
			return "", false
		}
		return "Carla:" + short, true
	case GroupAudioIn:
		return fmt.Sprintf("AudioIn:%d", port), true
	case GroupAudioOut:
		return fmt.Sprintf("AudioOut:%d", port), true
	case GroupMidiIn:
		if name, ok := midi.Name(true, port); ok {
			return "MidiIn:" + name, true
		}
	case GroupMidiOut:
		if name, ok := midi.Name(false, port); ok {
			return "MidiOut:" + name, true
		}
	}
	return "", false
}

// ParseRack resolves a rack full name.
func ParseRack(fullName string, midi *Registry) (group, port uint32, ok bool) {
	prefix, rest, found := Split(fullName)
	if !found || rest == "" {
		return 0, 0, false
	}
	switch prefix {
	case "Carla":
		port, ok = CarlaPortID(rest)
		return GroupCarla, port, ok
	case "AudioIn", "AudioOut":
		n, err := strconv.ParseUint(rest, 10, 32)
		if err != nil || n == 0 {
			return 0, 0, false
		}
		if prefix == "AudioIn" {
			return GroupAudioIn, uint32(n), true
		}
		return GroupAudioOut, uint32(n), true
	case "MidiIn":
		port, ok = midi.PortID(true, rest)
		return GroupMidiIn, port, ok
	case "MidiOut":
		port, ok = midi.PortID(false, rest)
		return GroupMidiOut, port, ok
	}
	return 0, 0, false
}

// Patchbay port offset bands. A node's port id tells its kind and index.
const (
	AudioInputOffset  uint32 = engine.MaxPatchbayPlugins
	AudioOutputOffset uint32 = engine.MaxPatchbayPlugins * 2
	MidiInputOffset   uint32 = engine.MaxPatchbayPlugins * 3
	MidiOutputOffset  uint32 = engine.MaxPatchbayPlugins*3 + 1
)

// Kind is the band a patchbay port id falls into.
type Kind int

const (
	KindInvalid Kind = iota
	KindAudioIn
	KindAudioOut
	KindMidiIn
	KindMidiOut
)

// IsInput reports whether ports of this kind receive data.
func (k Kind) IsInput() bool { return k == KindAudioIn || k == KindMidiIn }

// IsMIDI reports whether ports of this kind carry events.
func (k Kind) IsMIDI() bool { return k == KindMidiIn || k == KindMidiOut }

// Decode splits a patchbay port id into its kind and channel index.
func Decode(port uint32) (Kind, uint32) {
	switch {
	case port == MidiOutputOffset:
		return KindMidiOut, 0
	case port == MidiInputOffset:
		return KindMidiIn, 0
	case port >= AudioOutputOffset && port < MidiInputOffset:
		return KindAudioOut, port - AudioOutputOffset
	case port >= AudioInputOffset && port < AudioOutputOffset:
		return KindAudioIn, port - AudioInputOffset
	}
	return KindInvalid, 0
}

// Encode builds a patchbay port id.
func Encode(kind Kind, index uint32) uint32 {
	switch kind {
	case KindAudioIn:
		return AudioInputOffset + index
	case KindAudioOut:
		return AudioOutputOffset + index
	case KindMidiIn:
		return MidiInputOffset
	case KindMidiOut:
		return MidiOutputOffset
	}
	return 0
}

// Patchbay MIDI port names.
const (
	EventsIn  = "events-in"
	EventsOut = "events-out"
)

// PatchbayFullName joins a node name and a port name.
func PatchbayFullName(node, port string) string {
	return node + ":" + port
}
