package patchbay

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/shaban/patchbay/engine/spec"
)

// EngineState is the persisted form of an engine: its configuration, the
// plugins it held and its connections as full port name pairs.
type EngineState struct {
	Version       string         `json:"version"`
	Configuration spec.Spec      `json:"configuration"`
	Plugins       []PluginState  `json:"plugins,omitempty"`
	Connections   [][2]string    `json:"connections"`
	Timestamp     int64          `json:"timestamp"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// PluginState records a loaded plugin. Plugins are not recreated on load;
// the host loads them before restoring connections.
type PluginState struct {
	ID   uint32 `json:"id"`
	Name string `json:"name"`
}

// Serializer saves and restores engine sessions.
type Serializer struct {
	engine  *Engine
	mu      sync.RWMutex
	version string
}

// NewSerializer creates a new serializer.
func NewSerializer(engine *Engine) *Serializer {
	return &Serializer{
		engine:  engine,
		version: "1.0.0",
	}
}

// GetState captures the current engine state.
func (s *Serializer) GetState() EngineState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg := s.engine.Config()
	inputs, outputs := cfg.Inputs, cfg.Outputs
	state := EngineState{
		Version: s.version,
		Configuration: spec.Spec{
			Name:       cfg.Name,
			Mode:       cfg.Mode(),
			SampleRate: cfg.SampleRate,
			BufferSize: cfg.BufferSize,
			Inputs:     &inputs,
			Outputs:    &outputs,
			Offline:    cfg.Offline,
			MIDI:       cfg.MIDI,
		},
		Connections: [][2]string{},
		Timestamp:   time.Now().Unix(),
	}

	for id := 0; id < s.engine.PluginCount(); id++ {
		if p := s.engine.Plugin(uint32(id)); p != nil {
			state.Plugins = append(state.Plugins, PluginState{ID: uint32(id), Name: p.Name()})
		}
	}

	names := s.engine.PatchbayConnections()
	for i := 0; i+1 < len(names); i += 2 {
		state.Connections = append(state.Connections, [2]string{names[i], names[i+1]})
	}
	return state
}

// SetState replaces the engine's connections with those in state and
// returns how many were restored. Connections whose ports no longer
// exist are skipped.
func (s *Serializer) SetState(state EngineState) (int, error) {
	if err := s.ValidateState(state); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.engine.ClearConnections() {
		return 0, fmt.Errorf("failed to clear connections: %s", s.engine.LastError())
	}
	// rack MIDI names resolve only after the device groups are rebuilt
	if !s.engine.Config().Patchbay && !s.engine.PatchbayRefresh() {
		return 0, fmt.Errorf("failed to refresh: %s", s.engine.LastError())
	}
	restored := 0
	for _, c := range state.Connections {
		if s.engine.RestorePatchbayConnection(c[0], c[1]) {
			restored++
		}
	}
	return restored, nil
}

// SaveToWriter writes the engine state as indented JSON.
func (s *Serializer) SaveToWriter(writer io.Writer) error {
	state := s.GetState()

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(state); err != nil {
		return fmt.Errorf("failed to encode engine state: %w", err)
	}
	return nil
}

// LoadFromReader reads a JSON engine state and applies it.
func (s *Serializer) LoadFromReader(reader io.Reader) (int, error) {
	var state EngineState

	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(&state); err != nil {
		return 0, fmt.Errorf("failed to decode engine state: %w", err)
	}
	return s.SetState(state)
}

// SaveToJSON returns the engine state as a JSON string.
func (s *Serializer) SaveToJSON() (string, error) {
	data, err := json.MarshalIndent(s.GetState(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal engine state: %w", err)
	}
	return string(data), nil
}

// LoadFromJSON applies an engine state given as a JSON string.
func (s *Serializer) LoadFromJSON(jsonData string) (int, error) {
	var state EngineState
	if err := json.Unmarshal([]byte(jsonData), &state); err != nil {
		return 0, fmt.Errorf("failed to unmarshal engine state: %w", err)
	}
	return s.SetState(state)
}

// GetVersion returns the state format version.
func (s *Serializer) GetVersion() string {
	return s.version
}

// IsCompatible reports whether a state version can be loaded.
func (s *Serializer) IsCompatible(version string) bool {
	return version == s.version
}

// ValidateState checks the version, that the state was saved in the
// engine's mode, and that no connection has an empty end.
func (s *Serializer) ValidateState(state EngineState) error {
	if !s.IsCompatible(state.Version) {
		return fmt.Errorf("incompatible state version: got %s, expected %s", state.Version, s.version)
	}
	resolved, err := spec.Resolve(spec.Spec{Mode: state.Configuration.Mode})
	if err != nil {
		return err
	}
	if mode := s.engine.Config().Mode(); resolved.Mode() != mode {
		return fmt.Errorf("state was saved in %s mode, engine runs in %s mode", resolved.Mode(), mode)
	}
	for i, c := range state.Connections {
		if c[0] == "" || c[1] == "" {
			return fmt.Errorf("connection %d has an empty port name", i)
		}
	}
	return nil
}
