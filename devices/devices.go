// Package devices connects the engine to external MIDI ports through a
// gomidi driver.
package devices

import (
	"sort"

	"gitlab.com/gomidi/midi/v2/drivers"
)

// MIDIDevice is one named MIDI endpoint. A device that appears on both
// sides of the driver is merged into one entry.
type MIDIDevice struct {
	Name         string `json:"name"`
	InputNumber  int    `json:"inputNumber"`
	OutputNumber int    `json:"outputNumber"`
	IsInput      bool   `json:"isInput"`
	IsOutput     bool   `json:"isOutput"`
}

func (m MIDIDevice) CanInput() bool      { return m.IsInput }
func (m MIDIDevice) CanOutput() bool     { return m.IsOutput }
func (m MIDIDevice) IsInputOutput() bool { return m.IsInput && m.IsOutput }

// MIDIDevices is a list of devices with filter helpers.
type MIDIDevices []MIDIDevice

// Inputs returns only devices the engine can read from.
func (devices MIDIDevices) Inputs() MIDIDevices {
	var inputs MIDIDevices
	for _, device := range devices {
		if device.CanInput() {
			inputs = append(inputs, device)
		}
	}
	return inputs
}

// Outputs returns only devices the engine can write to.
func (devices MIDIDevices) Outputs() MIDIDevices {
	var outputs MIDIDevices
	for _, device := range devices {
		if device.CanOutput() {
			outputs = append(outputs, device)
		}
	}
	return outputs
}

// InputOutput returns devices that work in both directions.
func (devices MIDIDevices) InputOutput() MIDIDevices {
	var ioDevices MIDIDevices
	for _, device := range devices {
		if device.IsInputOutput() {
			ioDevices = append(ioDevices, device)
		}
	}
	return ioDevices
}

// ByName returns the device with the given name.
func (devices MIDIDevices) ByName(name string) (MIDIDevice, bool) {
	for _, device := range devices {
		if device.Name == name {
			return device, true
		}
	}
	return MIDIDevice{}, false
}

// Names lists device names in order.
func (devices MIDIDevices) Names() []string {
	names := make([]string, len(devices))
	for i, device := range devices {
		names[i] = device.Name
	}
	return names
}

// GetMIDI enumerates the driver's ports, sorted by name.
func GetMIDI(drv drivers.Driver) (MIDIDevices, error) {
	ins, err := drv.Ins()
	if err != nil {
		return nil, err
	}
	outs, err := drv.Outs()
	if err != nil {
		return nil, err
	}

	index := make(map[string]int, len(ins)+len(outs))
	var devices MIDIDevices
	entry := func(name string) *MIDIDevice {
		i, ok := index[name]
		if !ok {
			i = len(devices)
			index[name] = i
			devices = append(devices, MIDIDevice{Name: name, InputNumber: -1, OutputNumber: -1})
		}
		return &devices[i]
	}
	for _, in := range ins {
		d := entry(in.String())
		d.IsInput = true
		d.InputNumber = in.Number()
	}
	for _, out := range outs {
		d := entry(out.String())
		d.IsOutput = true
		d.OutputNumber = out.Number()
	}
	sort.SliceStable(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}
