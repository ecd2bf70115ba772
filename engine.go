// Package patchbay is the host around the internal audio/MIDI routing
// graph. An Engine owns the plugin slots, the event buffers, the MIDI
// bridge and the callback fan-out, and serializes every topology change
// against the audio callback.
package patchbay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gitlab.com/gomidi/midi/v2/drivers"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/shaban/patchbay/devices"
	"github.com/shaban/patchbay/engine"
	"github.com/shaban/patchbay/engine/event"
	"github.com/shaban/patchbay/engine/graph"
	"github.com/shaban/patchbay/engine/queue"
	"github.com/shaban/patchbay/engine/rack"
	"github.com/shaban/patchbay/engine/spec"
)

const (
	msgMaxPlugins    = "Maximum number of plugins reached"
	msgInvalidPlugin = "Invalid plugin"
	msgEngineRunning = "Engine is already running"
)

// EngineConfig holds what NewEngine needs. Only Spec is required; zero
// fields of Spec take their defaults.
type EngineConfig struct {
	Spec         spec.Spec
	Logger       *zap.Logger         // nil discards logs
	ErrorHandler ErrorHandler        // defaults to DefaultErrorHandler
	Callback     engine.CallbackFunc // may be set later with SetCallback
	MIDIDriver   drivers.Driver      // nil disables external MIDI
	// MIDIPollInterval enables hotplug polling of MIDIDriver while the
	// engine runs. Zero disables it.
	MIDIPollInterval time.Duration
}

// Engine hosts one internal graph.
type Engine struct {
	id   uuid.UUID
	name string

	mu        sync.RWMutex
	isRunning bool
	config    spec.Resolved

	logger       *zap.Logger
	errorHandler ErrorHandler

	cbMu     sync.RWMutex
	callback engine.CallbackFunc

	errMu     sync.Mutex
	lastError string

	graph      *graph.Graph
	ops        *queue.Dispatcher
	dispatcher *Dispatcher
	serializer *Serializer
	midi       *devices.Bridge
	monitor    *DeviceMonitor

	// procMu guards the plugin slots against the audio callback, which
	// only ever try-locks it.
	procMu    sync.Mutex
	data      engine.ProcessData
	eventsIn  event.Buffer
	eventsOut event.Buffer
	slots     [engine.MaxPlugins]engine.PluginSlot
	frame     uint64
}

// NewEngine resolves the configuration and builds the graph.
func NewEngine(config EngineConfig) (*Engine, error) {
	resolved, err := spec.Resolve(config.Spec)
	if err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ErrorHandler == nil {
		config.ErrorHandler = &DefaultErrorHandler{Logger: logger}
	}

	e := &Engine{
		id:           uuid.New(),
		name:         resolved.Name,
		config:       resolved,
		logger:       logger.With(zap.String("engine", resolved.Name)),
		errorHandler: config.ErrorHandler,
		callback:     config.Callback,
	}
	e.data = engine.ProcessData{
		EventsIn:  &e.eventsIn,
		EventsOut: &e.eventsOut,
		Plugins:   e.slots[:],
	}

	mode := graph.ModeRack
	if resolved.Patchbay {
		mode = graph.ModePatchbay
	}
	e.graph = graph.New(e, e.logger.Named("graph"))
	if err := e.graph.Create(mode, resolved.SampleRate, resolved.BufferSize, resolved.Inputs, resolved.Outputs); err != nil {
		return nil, fmt.Errorf("failed to create graph: %w", err)
	}
	if resolved.Offline {
		_ = e.graph.SetOffline(true)
	}

	e.midi = devices.NewBridge(config.MIDIDriver, e.logger.Named("midi"), e.reportError)
	e.ops = queue.NewDispatcher(e.graph, queue.New(64, e.logger.Named("queue")))
	e.dispatcher = NewDispatcher(e.ops, e.errorHandler, e.logger.Named("dispatcher"))
	if err := e.dispatcher.Start(); err != nil {
		return nil, fmt.Errorf("failed to start dispatcher: %w", err)
	}
	e.serializer = NewSerializer(e)
	if config.MIDIDriver != nil && config.MIDIPollInterval > 0 {
		e.monitor = NewDeviceMonitor(e)
		if err := e.monitor.SetPollingInterval(config.MIDIPollInterval); err != nil {
			return nil, err
		}
	}

	e.logger.Debug("engine created", zap.Stringer("id", e.id), zap.String("mode", resolved.Mode()),
		zap.Float64("sample_rate", resolved.SampleRate), zap.Uint32("buffer_size", resolved.BufferSize))
	return e, nil
}

// Start announces the engine and, in rack mode, opens the MIDI ports
// listed in the configuration.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.isRunning {
		e.mu.Unlock()
		return errors.New(msgEngineRunning)
	}
	e.isRunning = true
	cfg := e.config
	e.mu.Unlock()

	if !cfg.Patchbay && (len(cfg.MIDI.Inputs) > 0 || len(cfg.MIDI.Outputs) > 0) {
		e.PatchbayRefresh()
		for _, name := range cfg.MIDI.Inputs {
			e.RestorePatchbayConnection("MidiIn:"+name, "Carla:MidiIn")
		}
		for _, name := range cfg.MIDI.Outputs {
			e.RestorePatchbayConnection("Carla:MidiOut", "MidiOut:"+name)
		}
	}

	if e.monitor != nil {
		if err := e.monitor.Start(); err != nil {
			e.errorHandler.HandleError(err)
		}
	}

	mode, _ := e.graph.Mode()
	e.Callback(engine.CallbackEngineStarted, 0, int32(mode), int32(cfg.BufferSize), int32(cfg.SampleRate), cfg.Name)
	return nil
}

// Stop announces that processing has ended. It is a no-op when stopped.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.isRunning {
		e.mu.Unlock()
		return nil
	}
	e.isRunning = false
	e.mu.Unlock()

	if e.monitor != nil {
		_ = e.monitor.Stop()
	}
	e.Callback(engine.CallbackEngineStopped, 0, 0, 0, 0, "")
	return nil
}

// Close stops the engine, closes MIDI ports and drops the graph. The
// engine cannot be used afterwards.
func (e *Engine) Close() error {
	err := multierr.Append(e.Stop(), e.dispatcher.Stop())
	e.midi.Close()

	e.procMu.Lock()
	e.graph.Destroy()
	e.procMu.Unlock()
	return err
}

func (e *Engine) ID() uuid.UUID { return e.id }

func (e *Engine) Name() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.name
}

func (e *Engine) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.isRunning
}

// Config returns the resolved configuration, kept current by the
// buffer size, sample rate and offline setters.
func (e *Engine) Config() spec.Resolved {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config
}

// Mode returns the graph mode.
func (e *Engine) Mode() graph.Mode {
	m, _ := e.graph.Mode()
	return m
}

func (e *Engine) GetDispatcher() *Dispatcher { return e.dispatcher }
func (e *Engine) GetSerializer() *Serializer { return e.serializer }
func (e *Engine) MIDI() *devices.Bridge      { return e.midi }

// GetDeviceMonitor returns the MIDI hotplug monitor, or nil when polling
// is disabled.
func (e *Engine) GetDeviceMonitor() *DeviceMonitor { return e.monitor }

// SetCallback replaces the notification listener.
func (e *Engine) SetCallback(fn engine.CallbackFunc) {
	e.cbMu.Lock()
	e.callback = fn
	e.cbMu.Unlock()
}

// LastError returns the message of the most recent failed operation.
func (e *Engine) LastError() string {
	e.errMu.Lock()
	defer e.errMu.Unlock()
	return e.lastError
}

func (e *Engine) setLastError(msg string) {
	e.errMu.Lock()
	e.lastError = msg
	e.errMu.Unlock()
}

// fail records err as the last error and always returns false.
func (e *Engine) fail(err error) bool {
	e.setLastError(lastErrorText(err))
	e.errorHandler.HandleError(err)
	return false
}

// reportError forwards driver failures to the host.
func (e *Engine) reportError(err error) {
	e.errorHandler.HandleError(err)
	e.Callback(engine.CallbackError, 0, 0, 0, 0, err.Error())
}

// Callback implements engine.Host.
func (e *Engine) Callback(op engine.CallbackOpcode, id uint64, v1, v2, v3 int32, str string) {
	e.cbMu.RLock()
	fn := e.callback
	e.cbMu.RUnlock()
	if fn == nil {
		return
	}
	fn(engine.CallbackEvent{Engine: e.id, Opcode: op, ID: id, Value1: v1, Value2: v2, Value3: v3, Str: str})
}

// SetPluginPeaks implements engine.Host. It runs on the audio thread.
func (e *Engine) SetPluginPeaks(id uint32, ins, outs [2]float32) {
	if id < engine.MaxPlugins {
		e.slots[id].SetPeaks(ins, outs)
	}
}

func (e *Engine) ConnectRackMidiInPort(name string) bool     { return e.midi.ConnectIn(name) }
func (e *Engine) ConnectRackMidiOutPort(name string) bool    { return e.midi.ConnectOut(name) }
func (e *Engine) DisconnectRackMidiInPort(name string) bool  { return e.midi.DisconnectIn(name) }
func (e *Engine) DisconnectRackMidiOutPort(name string) bool { return e.midi.DisconnectOut(name) }

// Process renders one block. in and out hold one slice per external
// channel. Incoming MIDI is spliced in first and the graph's events are
// sent to the open MIDI outputs last. out is overwritten. If a control
// operation holds the plugin slots the block is silent.
func (e *Engine) Process(in, out [][]float32, frames uint32) {
	if !e.procMu.TryLock() {
		for _, ch := range out {
			clear(ch[:min(int(frames), len(ch))])
		}
		return
	}
	defer e.procMu.Unlock()

	for _, ch := range out {
		clear(ch[:min(int(frames), len(ch))])
	}
	e.eventsIn.Clear()
	e.eventsOut.Clear()
	e.midi.Splice(&e.eventsIn, e.frame, frames)

	e.data.TimeFrame = e.frame
	e.graph.Process(&e.data, in, out, frames)
	e.midi.Send(&e.eventsOut)
	e.frame += uint64(frames)
}

// Frame returns the absolute frame the next block starts at.
func (e *Engine) Frame() uint64 {
	e.procMu.Lock()
	defer e.procMu.Unlock()
	return e.frame
}

// PatchbayConnect joins two ports. The new connection is reported through
// the callback.
func (e *Engine) PatchbayConnect(groupA, portA, groupB, portB uint32) bool {
	err := e.dispatcher.run(OpConnect, func() error {
		_, err := e.ops.Connect(groupA, portA, groupB, portB)
		return err
	})
	if err != nil {
		return e.fail(err)
	}
	return true
}

// PatchbayDisconnect removes a connection by id.
func (e *Engine) PatchbayDisconnect(connectionID uint64) bool {
	if err := e.dispatcher.run(OpDisconnect, func() error { return e.ops.Disconnect(connectionID) }); err != nil {
		return e.fail(err)
	}
	return true
}

// ClearConnections drops every connection and restarts connection ids.
// In rack mode the external MIDI ports are closed as well and the MIDI
// groups stay empty until the next refresh.
func (e *Engine) ClearConnections() bool {
	if err := e.dispatcher.run(OpClearConnections, e.ops.ClearConnections); err != nil {
		return e.fail(err)
	}
	if e.Mode() == graph.ModeRack {
		e.midi.Close()
	}
	return true
}

// PatchbayRefresh re-announces every group, port and connection. In rack
// mode the MIDI groups are rebuilt from the devices the driver lists.
func (e *Engine) PatchbayRefresh() bool {
	info := rack.RefreshInfo{
		ClientName:   e.Name(),
		MidiIns:      e.midi.Inputs(),
		MidiOuts:     e.midi.Outputs(),
		OpenMidiIns:  e.midi.OpenInputs(),
		OpenMidiOuts: e.midi.OpenOutputs(),
	}
	if err := e.dispatcher.run(OpRefresh, func() error { return e.ops.Refresh(info) }); err != nil {
		return e.fail(err)
	}
	return true
}

// PatchbayConnections lists full port names in source, target pairs.
func (e *Engine) PatchbayConnections() []string {
	var out []string
	_ = e.ops.RunSync(func(context.Context) error {
		out = e.graph.Connections()
		return nil
	})
	return out
}

// RestorePatchbayConnection connects two ports given by full name. Names
// that do not resolve are skipped without recording an error so a partial
// session still loads.
func (e *Engine) RestorePatchbayConnection(source, target string) bool {
	err := e.dispatcher.run(OpConnect, func() error {
		_, err := e.ops.ConnectByName(source, target)
		return err
	})
	switch {
	case errors.Is(err, engine.ErrNotFound):
		e.logger.Debug("restore skipped", zap.String("source", source), zap.String("target", target), zap.Error(err))
		return false
	case err != nil:
		e.logger.Debug("restore failed", zap.String("source", source), zap.String("target", target), zap.Error(err))
		return false
	}
	return true
}

// PluginCount returns the number of loaded plugins.
func (e *Engine) PluginCount() int {
	e.procMu.Lock()
	defer e.procMu.Unlock()
	return e.data.CurPluginCount
}

// Plugin returns the plugin with the given id, or nil.
func (e *Engine) Plugin(id uint32) engine.Plugin {
	e.procMu.Lock()
	defer e.procMu.Unlock()
	return e.data.ActivePlugin(int(id))
}

// PatchbayNode returns the patchbay group carrying plugin id. It reports
// false in rack mode.
func (e *Engine) PatchbayNode(pluginID uint32) (uint32, bool) {
	var (
		node uint32
		ok   bool
	)
	_ = e.ops.RunSync(func(context.Context) error {
		if pb := e.graph.Patchbay(); pb != nil {
			node, ok = pb.NodeForPlugin(pluginID)
		}
		return nil
	})
	return node, ok
}

// PluginPeaks returns the last input and output peaks of a plugin.
func (e *Engine) PluginPeaks(id uint32) (ins, outs [2]float32, ok bool) {
	if e.Plugin(id) == nil {
		return ins, outs, false
	}
	return e.slots[id].InsPeak(), e.slots[id].OutsPeak(), true
}

// AddPlugin appends p to the plugin list and assigns it the next id.
func (e *Engine) AddPlugin(p engine.Plugin) bool {
	if p == nil {
		return e.fail(engine.NewError(engine.ErrInvalidArgument, msgInvalidPlugin))
	}
	err := e.dispatcher.run(OpAddPlugin, func() error {
		return e.ops.RunSync(func(context.Context) error {
			id := e.PluginCount()
			if id >= engine.MaxPlugins {
				return engine.NewError(engine.ErrInvalidArgument, msgMaxPlugins)
			}
			p.SetID(uint32(id))
			if e.Mode() == graph.ModePatchbay {
				if err := e.graph.AddPlugin(p); err != nil {
					return err
				}
			}
			e.procMu.Lock()
			e.slots[id].Plugin = p
			e.slots[id].ResetPeaks()
			e.data.CurPluginCount++
			e.procMu.Unlock()
			e.logger.Debug("plugin added", zap.Int("id", id), zap.String("name", p.Name()))
			return nil
		})
	})
	if err != nil {
		return e.fail(err)
	}
	return true
}

// ReplacePlugin puts p in the slot of plugin id. p takes over the id; in
// patchbay mode the old node's connections are dropped.
func (e *Engine) ReplacePlugin(id uint32, p engine.Plugin) bool {
	if p == nil {
		return e.fail(engine.NewError(engine.ErrInvalidArgument, msgInvalidPlugin))
	}
	err := e.dispatcher.run(OpReplacePlugin, func() error {
		return e.ops.RunSync(func(context.Context) error {
			old := e.Plugin(id)
			if old == nil || old == p {
				return engine.NewError(engine.ErrNotFound, msgInvalidPlugin)
			}
			p.SetID(id)
			if e.Mode() == graph.ModePatchbay {
				if err := e.graph.ReplacePlugin(old, p); err != nil {
					return err
				}
			}
			e.procMu.Lock()
			e.slots[id].Plugin = p
			e.slots[id].ResetPeaks()
			e.procMu.Unlock()
			return nil
		})
	})
	if err != nil {
		return e.fail(err)
	}
	return true
}

// RemovePlugin removes plugin id. Plugins above it move down one id.
func (e *Engine) RemovePlugin(id uint32) bool {
	err := e.dispatcher.run(OpRemovePlugin, func() error {
		return e.ops.RunSync(func(context.Context) error {
			p := e.Plugin(id)
			if p == nil {
				return engine.NewError(engine.ErrNotFound, msgInvalidPlugin)
			}
			if e.Mode() == graph.ModePatchbay {
				if err := e.graph.RemovePlugin(p); err != nil {
					return err
				}
			}
			e.procMu.Lock()
			n := e.data.CurPluginCount
			for i := int(id); i < n-1; i++ {
				e.slots[i].Plugin = e.slots[i+1].Plugin
				e.slots[i].Plugin.SetID(uint32(i))
				e.slots[i].SetPeaks(e.slots[i+1].InsPeak(), e.slots[i+1].OutsPeak())
			}
			e.slots[n-1].Plugin = nil
			e.slots[n-1].ResetPeaks()
			e.data.CurPluginCount--
			e.procMu.Unlock()
			return nil
		})
	})
	if err != nil {
		return e.fail(err)
	}
	return true
}

// RemoveAllPlugins unloads every plugin.
func (e *Engine) RemoveAllPlugins() bool {
	err := e.dispatcher.run(OpRemoveAllPlugins, func() error {
		return e.ops.RunSync(func(context.Context) error {
			if e.Mode() == graph.ModePatchbay {
				if err := e.graph.RemoveAllPlugins(); err != nil {
					return err
				}
			}
			e.procMu.Lock()
			for i := 0; i < e.data.CurPluginCount; i++ {
				e.slots[i].Plugin = nil
				e.slots[i].ResetPeaks()
			}
			e.data.CurPluginCount = 0
			e.procMu.Unlock()
			return nil
		})
	})
	if err != nil {
		return e.fail(err)
	}
	return true
}

// SetIgnorePatchbay mutes node announcements while a project is being
// loaded. Patchbay mode only.
func (e *Engine) SetIgnorePatchbay(ignore bool) bool {
	if err := e.ops.RunSync(func(context.Context) error { return e.graph.SetIgnorePatchbay(ignore) }); err != nil {
		return e.fail(err)
	}
	return true
}

// SetBufferSize reallocates every scratch buffer. Connections are kept.
func (e *Engine) SetBufferSize(bufferSize uint32) bool {
	if bufferSize < spec.MinBufferSize || bufferSize > spec.MaxBufferSize {
		return e.fail(engine.NewError(engine.ErrInvalidArgument, fmt.Sprintf("Invalid buffer size %d", bufferSize)))
	}
	err := e.dispatcher.run(OpSetBufferSize, func() error {
		return e.ops.RunSync(func(context.Context) error {
			e.procMu.Lock()
			defer e.procMu.Unlock()
			return e.graph.SetBufferSize(bufferSize)
		})
	})
	if err != nil {
		return e.fail(err)
	}
	e.mu.Lock()
	e.config.BufferSize = bufferSize
	e.mu.Unlock()
	return true
}

// SetSampleRate records a new sample rate and forwards it to the graph.
func (e *Engine) SetSampleRate(sampleRate float64) bool {
	if sampleRate < spec.MinSampleRate || sampleRate > spec.MaxSampleRate {
		return e.fail(engine.NewError(engine.ErrInvalidArgument, fmt.Sprintf("Invalid sample rate %.0f", sampleRate)))
	}
	err := e.dispatcher.run(OpSetSampleRate, func() error {
		return e.ops.RunSync(func(context.Context) error {
			e.procMu.Lock()
			defer e.procMu.Unlock()
			return e.graph.SetSampleRate(sampleRate)
		})
	})
	if err != nil {
		return e.fail(err)
	}
	e.mu.Lock()
	e.config.SampleRate = sampleRate
	e.mu.Unlock()
	return true
}

// SetOffline switches between realtime and offline rendering. Offline
// plugins are locked blocking so every block is rendered.
func (e *Engine) SetOffline(offline bool) bool {
	err := e.dispatcher.run(OpSetOffline, func() error {
		return e.ops.RunSync(func(context.Context) error {
			e.procMu.Lock()
			defer e.procMu.Unlock()
			return e.graph.SetOffline(offline)
		})
	})
	if err != nil {
		return e.fail(err)
	}
	e.mu.Lock()
	e.config.Offline = offline
	e.mu.Unlock()
	return true
}
