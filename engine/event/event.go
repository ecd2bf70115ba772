// Package event defines the engine's internal event model: fixed-capacity
// arrays of control and MIDI events that travel alongside audio blocks.
package event

import (
	"gitlab.com/gomidi/midi/v2"
)

// Capacity is the number of events held by one Buffer.
const Capacity = 512

// Type discriminates the payload of an Event.
type Type uint8

const (
	TypeNull Type = iota
	TypeControl
	TypeMIDI
)

// ControlType discriminates Control payloads.
type ControlType uint8

const (
	ControlNull ControlType = iota
	ControlParameter
	ControlMidiBank
	ControlMidiProgram
	ControlAllSoundOff
	ControlAllNotesOff
)

// MIDI controller numbers with dedicated control types.
const (
	ccBankSelect  = 0x00
	ccAllSoundOff = 0x78
	ccAllNotesOff = 0x7B
)

// MaxMIDISize is the largest raw MIDI message stored inline.
const MaxMIDISize = 4

// Control is a decoded controller, bank, program or panic message.
type Control struct {
	Type  ControlType
	Param uint16
	Value float32
}

// MIDI is a raw message. Data[0] holds the status byte with the channel
// nibble stripped for channel voice messages.
type MIDI struct {
	Port uint8
	Size uint8
	Data [MaxMIDISize]byte
}

// Event is one timed entry of a Buffer. A zero Event (TypeNull) terminates
// the buffer.
type Event struct {
	Type    Type
	Time    uint32
	Channel uint8
	Ctrl    Control
	Midi    MIDI
}

// FillFromMIDI decodes raw MIDI bytes into e. Controller, bank select,
// program change and the two panic controllers become control events;
// everything else is kept as raw MIDI. Messages longer than MaxMIDISize
// leave e as TypeNull.
func (e *Event) FillFromMIDI(port uint8, time uint32, data []byte) {
	*e = Event{}
	if len(data) == 0 || len(data) > MaxMIDISize {
		return
	}
	e.Time = time

	msg := midi.Message(data)
	var ch, a, b uint8

	switch {
	case msg.GetControlChange(&ch, &a, &b):
		e.Type = TypeControl
		e.Channel = ch
		switch a {
		case ccBankSelect:
			e.Ctrl = Control{Type: ControlMidiBank, Param: uint16(b)}
		case ccAllSoundOff:
			e.Ctrl = Control{Type: ControlAllSoundOff}
		case ccAllNotesOff:
			e.Ctrl = Control{Type: ControlAllNotesOff}
		default:
			if b > 127 {
				b = 127
			}
			e.Ctrl = Control{Type: ControlParameter, Param: uint16(a), Value: float32(b) / 127}
		}
	case msg.GetProgramChange(&ch, &a):
		e.Type = TypeControl
		e.Channel = ch
		e.Ctrl = Control{Type: ControlMidiProgram, Param: uint16(a)}
	default:
		e.Type = TypeMIDI
		e.Midi.Port = port
		e.Midi.Size = uint8(len(data))
		copy(e.Midi.Data[:], data)
		if data[0] < 0xF0 {
			e.Channel = data[0] & 0x0F
			e.Midi.Data[0] = data[0] & 0xF0
		}
	}
}

// ToMIDI encodes e into dst and returns the number of bytes written.
// It returns 0 for events that have no MIDI representation.
func (e *Event) ToMIDI(dst *[MaxMIDISize]byte) int {
	ch := e.Channel & 0x0F
	switch e.Type {
	case TypeMIDI:
		n := int(e.Midi.Size)
		if n == 0 || n > MaxMIDISize {
			return 0
		}
		copy(dst[:], e.Midi.Data[:n])
		if dst[0] < 0xF0 {
			dst[0] = (dst[0] & 0xF0) | ch
		}
		return n
	case TypeControl:
		return e.Ctrl.toMIDI(ch, dst)
	}
	return 0
}

func (c Control) toMIDI(ch uint8, dst *[MaxMIDISize]byte) int {
	cc := byte(0xB0) | ch
	switch c.Type {
	case ControlParameter:
		if c.Param > 127 {
			return 0
		}
		v := c.Value
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		dst[0], dst[1], dst[2] = cc, byte(c.Param), byte(v*127+0.5)
		return 3
	case ControlMidiBank:
		dst[0], dst[1], dst[2] = cc, ccBankSelect, byte(c.Param&0x7F)
		return 3
	case ControlMidiProgram:
		if c.Param > 127 {
			return 0
		}
		dst[0], dst[1] = byte(0xC0)|ch, byte(c.Param)
		return 2
	case ControlAllSoundOff:
		dst[0], dst[1], dst[2] = cc, ccAllSoundOff, 0
		return 3
	case ControlAllNotesOff:
		dst[0], dst[1], dst[2] = cc, ccAllNotesOff, 0
		return 3
	}
	return 0
}

// Message returns the event as a gomidi message. It allocates and is meant
// for non-realtime consumers such as logging and tests.
func (e *Event) Message() midi.Message {
	var buf [MaxMIDISize]byte
	n := e.ToMIDI(&buf)
	if n == 0 {
		return nil
	}
	return midi.Message(append([]byte(nil), buf[:n]...))
}
