// Package plugins provides the built-in processors the engine can host
// without any plugin format adapter, plus a small catalog to look them up.
//
// Model:
//   - List() returns PluginInfo entries describing each built-in type.
//   - Filter chains (ByType/ByCategory/ByName) narrow the list.
//   - PluginInfo.Instantiate(id) creates a ready engine.Plugin.
package plugins

import (
	"fmt"
	"strings"

	"github.com/shaban/patchbay/engine"
)

// PluginInfo describes a built-in plugin type.
type PluginInfo struct {
	Name      string `json:"name" yaml:"name"`
	Type      string `json:"type" yaml:"type"`
	Category  string `json:"category" yaml:"category"`
	AudioIns  uint32 `json:"audioIns" yaml:"audioIns"`
	AudioOuts uint32 `json:"audioOuts" yaml:"audioOuts"`
	MidiIns   uint32 `json:"midiIns" yaml:"midiIns"`
	MidiOuts  uint32 `json:"midiOuts" yaml:"midiOuts"`
}

// PluginInfos is a filterable list of PluginInfo.
type PluginInfos []PluginInfo

// Built-in plugin types.
const (
	TypeGain        = "gain"
	TypeGenerator   = "generator"
	TypeSilence     = "silence"
	TypeMIDIThrough = "midi-through"
)

var catalog = PluginInfos{
	{Name: "Gain", Type: TypeGain, Category: "Effect", AudioIns: 2, AudioOuts: 2},
	{Name: "Generator", Type: TypeGenerator, Category: "Generator", AudioOuts: 2},
	{Name: "Silence", Type: TypeSilence, Category: "Generator", AudioOuts: 2},
	{Name: "MIDI Through", Type: TypeMIDIThrough, Category: "MIDI", MidiIns: 1, MidiOuts: 1},
}

// List returns every built-in plugin type.
func List() PluginInfos {
	return append(PluginInfos(nil), catalog...)
}

// ByType returns infos of a specific type.
func (infos PluginInfos) ByType(pluginType string) PluginInfos {
	var filtered PluginInfos
	for _, info := range infos {
		if info.Type == pluginType {
			filtered = append(filtered, info)
		}
	}
	return filtered
}

// ByCategory returns infos of a specific category (e.g. "Effect", "MIDI").
func (infos PluginInfos) ByCategory(category string) PluginInfos {
	var filtered PluginInfos
	for _, info := range infos {
		if info.Category == category {
			filtered = append(filtered, info)
		}
	}
	return filtered
}

// ByName returns infos whose name contains pattern, case-insensitively.
func (infos PluginInfos) ByName(pattern string) PluginInfos {
	var filtered PluginInfos
	for _, info := range infos {
		if strings.Contains(strings.ToLower(info.Name), strings.ToLower(pattern)) {
			filtered = append(filtered, info)
		}
	}
	return filtered
}

// Instantiate creates a plugin of this type with the given id. Gain starts
// at unity and Generator at full scale.
func (info PluginInfo) Instantiate(id uint32) (engine.Plugin, error) {
	switch info.Type {
	case TypeGain:
		return NewGain(id, info.Name, info.AudioOuts, 1), nil
	case TypeGenerator:
		return NewGenerator(id, info.Name, info.AudioOuts, 1), nil
	case TypeSilence:
		return NewSilence(id, info.Name, info.AudioOuts), nil
	case TypeMIDIThrough:
		return NewMIDIThrough(id, info.Name), nil
	}
	return nil, fmt.Errorf("unknown plugin type: %s", info.Type)
}

// New instantiates the first built-in plugin of pluginType.
func New(pluginType string, id uint32) (engine.Plugin, error) {
	infos := List().ByType(pluginType)
	if len(infos) == 0 {
		return nil, fmt.Errorf("unknown plugin type: %s", pluginType)
	}
	return infos[0].Instantiate(id)
}
