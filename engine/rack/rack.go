// Package rack implements the fixed stereo rack: external inputs are mixed
// onto two buses, plugins run as an in-place chain in id order, and the two
// result buses are scattered back to the external outputs.
package rack

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/shaban/patchbay/engine"
	"github.com/shaban/patchbay/engine/connection"
	"github.com/shaban/patchbay/engine/portname"
	"github.com/shaban/patchbay/internal/slab"
)

const (
	msgInvalidConnection = "Invalid rack connection"
	msgConnectionMissing = "Failed to find connection"
)

// Graph is the rack topology. Connect, Disconnect and the other topology
// methods belong to the control thread; Process and ProcessHelper to the
// audio thread.
type Graph struct {
	host    engine.Host
	logger  *zap.Logger
	inputs  uint32
	outputs uint32
	offline atomic.Bool

	conns *connection.Table
	midi  portname.Registry

	audio struct {
		mu            sync.Mutex
		connectedIn1  *slab.List[uint32]
		connectedIn2  *slab.List[uint32]
		connectedOut1 *slab.List[uint32]
		connectedOut2 *slab.List[uint32]
		// bus buffers used by ProcessHelper
		inBuf  [2][]float32
		outBuf [2][]float32
	}

	// per-block copy of the bus input that plugins read from
	inBufTmp [2][]float32
	procIn   [][]float32
	procOut  [][]float32
	busIn    [][]float32
	busOut   [][]float32
	bufSize  uint32
}

// New builds a rack for a device with the given external channel counts.
func New(host engine.Host, logger *zap.Logger, bufferSize, inputs, outputs uint32) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Graph{
		host:    host,
		logger:  logger.Named("rack"),
		inputs:  inputs,
		outputs: outputs,
		conns:   connection.NewTable(),
		procIn:  make([][]float32, 2),
		procOut: make([][]float32, 2),
		busIn:   make([][]float32, 2),
		busOut:  make([][]float32, 2),
	}
	g.audio.connectedIn1 = slab.New[uint32](int(max(inputs, 1)))
	g.audio.connectedIn2 = slab.New[uint32](int(max(inputs, 1)))
	g.audio.connectedOut1 = slab.New[uint32](int(max(outputs, 1)))
	g.audio.connectedOut2 = slab.New[uint32](int(max(outputs, 1)))
	g.SetBufferSize(bufferSize)
	return g
}

// Inputs returns the number of external input channels.
func (g *Graph) Inputs() uint32 { return g.inputs }

// Outputs returns the number of external output channels.
func (g *Graph) Outputs() uint32 { return g.outputs }

// MIDI returns the registry of external MIDI endpoints.
func (g *Graph) MIDI() *portname.Registry { return &g.midi }

// Table exposes the connection table.
func (g *Graph) Table() *connection.Table { return g.conns }

// SetBufferSize reallocates every scratch buffer. The audio thread must not
// be inside Process.
func (g *Graph) SetBufferSize(bufferSize uint32) {
	g.audio.mu.Lock()
	defer g.audio.mu.Unlock()

	g.bufSize = bufferSize
	for i := 0; i < 2; i++ {
		g.audio.inBuf[i] = make([]float32, bufferSize)
		g.audio.outBuf[i] = make([]float32, bufferSize)
		g.inBufTmp[i] = make([]float32, bufferSize)
	}
}

// SetOffline switches plugin locking to blocking mode.
func (g *Graph) SetOffline(offline bool) { g.offline.Store(offline) }

func (g *Graph) invalid(kind error, msg string, fields ...zap.Field) error {
	if len(fields) > 0 {
		g.logger.Error(msg, fields...)
	}
	return engine.NewError(kind, msg)
}

// Connect joins an external port to one of the rack's own ports and
// returns the new connection id. Exactly one endpoint must be the rack
// group, and its port must match the other endpoint's group.
func (g *Graph) Connect(groupA, portA, groupB, portB uint32) (uint64, error) {
	carlaPort, _, otherPort, err := g.split(groupA, portA, groupB, portB)
	if err != nil {
		return 0, err
	}

	var ok bool
	switch carlaPort {
	case portname.CarlaPortAudioIn1, portname.CarlaPortAudioIn2:
		if otherPort == 0 || otherPort > g.inputs {
			return 0, g.invalid(engine.ErrInvalidArgument, msgInvalidConnection,
				zap.Uint32("port", otherPort), zap.Uint32("inputs", g.inputs))
		}
		ok = g.appendAudio(g.audioList(carlaPort), otherPort)
	case portname.CarlaPortAudioOut1, portname.CarlaPortAudioOut2:
		if otherPort == 0 || otherPort > g.outputs {
			return 0, g.invalid(engine.ErrInvalidArgument, msgInvalidConnection,
				zap.Uint32("port", otherPort), zap.Uint32("outputs", g.outputs))
		}
		ok = g.appendAudio(g.audioList(carlaPort), otherPort)
	case portname.CarlaPortMidiIn, portname.CarlaPortMidiOut:
		isIn := carlaPort == portname.CarlaPortMidiIn
		name, found := g.midi.Name(isIn, otherPort)
		if !found {
			return 0, engine.NewError(engine.ErrNotFound, msgInvalidConnection)
		}
		if isIn {
			ok = g.host.ConnectRackMidiInPort(name)
		} else {
			ok = g.host.ConnectRackMidiOutPort(name)
		}
		if !ok {
			return 0, engine.NewError(engine.ErrBackendRejected, msgInvalidConnection)
		}
	}
	if !ok {
		return 0, engine.NewError(engine.ErrInvalidArgument, msgInvalidConnection)
	}

	c := g.conns.Add(groupA, portA, groupB, portB)
	g.host.Callback(engine.CallbackPatchbayConnectionAdded, c.ID, 0, 0, 0, c.String())
	g.logger.Debug("connected", zap.Uint64("id", c.ID), zap.String("ports", c.String()))
	return c.ID, nil
}

// split normalises a rack endpoint pair so that the rack side comes first.
func (g *Graph) split(groupA, portA, groupB, portB uint32) (carlaPort, otherGroup, otherPort uint32, err error) {
	switch {
	case groupA == portname.GroupCarla && groupB != portname.GroupCarla:
		carlaPort, otherGroup, otherPort = portA, groupB, portB
	case groupB == portname.GroupCarla && groupA != portname.GroupCarla:
		carlaPort, otherGroup, otherPort = portB, groupA, portA
	default:
		return 0, 0, 0, g.invalid(engine.ErrInvalidArgument, msgInvalidConnection,
			zap.Uint32("groupA", groupA), zap.Uint32("groupB", groupB))
	}

	if carlaPort == portname.CarlaPortNull || carlaPort >= portname.CarlaPortMax ||
		otherGroup >= portname.GroupMax {
		return 0, 0, 0, g.invalid(engine.ErrInvalidArgument, msgInvalidConnection,
			zap.Uint32("carlaPort", carlaPort), zap.Uint32("group", otherGroup))
	}
	if want := groupForCarlaPort(carlaPort); want != otherGroup {
		return 0, 0, 0, g.invalid(engine.ErrInvalidArgument, msgInvalidConnection,
			zap.Uint32("carlaPort", carlaPort), zap.Uint32("group", otherGroup), zap.Uint32("want", want))
	}
	return carlaPort, otherGroup, otherPort, nil
}

func groupForCarlaPort(port uint32) uint32 {
	switch port {
	case portname.CarlaPortAudioIn1, portname.CarlaPortAudioIn2:
		return portname.GroupAudioIn
	case portname.CarlaPortAudioOut1, portname.CarlaPortAudioOut2:
		return portname.GroupAudioOut
	case portname.CarlaPortMidiIn:
		return portname.GroupMidiIn
	case portname.CarlaPortMidiOut:
		return portname.GroupMidiOut
	}
	return portname.GroupMax
}

func (g *Graph) audioList(carlaPort uint32) *slab.List[uint32] {
	switch carlaPort {
	case portname.CarlaPortAudioIn1:
		return g.audio.connectedIn1
	case portname.CarlaPortAudioIn2:
		return g.audio.connectedIn2
	case portname.CarlaPortAudioOut1:
		return g.audio.connectedOut1
	case portname.CarlaPortAudioOut2:
		return g.audio.connectedOut2
	}
	return nil
}

func (g *Graph) appendAudio(l *slab.List[uint32], port uint32) bool {
	g.audio.mu.Lock()
	defer g.audio.mu.Unlock()
	if l.Contains(port) {
		return false
	}
	return l.Append(port)
}

// Disconnect removes the connection with the given id and undoes its
// routing.
func (g *Graph) Disconnect(id uint64) error {
	c, found := g.conns.Get(id)
	if !found {
		return engine.NewError(engine.ErrNotFound, msgConnectionMissing)
	}
	carlaPort, _, otherPort, err := g.split(c.GroupA, c.PortA, c.GroupB, c.PortB)
	if err != nil {
		return err
	}

	var ok bool
	switch carlaPort {
	case portname.CarlaPortMidiIn, portname.CarlaPortMidiOut:
		isIn := carlaPort == portname.CarlaPortMidiIn
		if name, found := g.midi.Name(isIn, otherPort); found {
			if isIn {
				ok = g.host.DisconnectRackMidiInPort(name)
			} else {
				ok = g.host.DisconnectRackMidiOutPort(name)
			}
		}
	default:
		l := g.audioList(carlaPort)
		g.audio.mu.Lock()
		ok = l.RemoveOne(otherPort)
		g.audio.mu.Unlock()
	}
	if !ok {
		return engine.NewError(engine.ErrBackendRejected, msgInvalidConnection)
	}

	g.conns.Remove(id)
	g.host.Callback(engine.CallbackPatchbayConnectionRemoved, id, 0, 0, 0, "")
	return nil
}

// ClearConnections drops all routing and the MIDI registry and restarts
// connection ids. External MIDI ports stay open; the host closes them.
func (g *Graph) ClearConnections() {
	g.conns.Clear()

	g.audio.mu.Lock()
	g.audio.connectedIn1.Clear()
	g.audio.connectedIn2.Clear()
	g.audio.connectedOut1.Clear()
	g.audio.connectedOut2.Clear()
	g.audio.mu.Unlock()

	g.midi.Clear()
}

// Connections lists every connection as consecutive source and target
// full names.
func (g *Graph) Connections() []string {
	all := g.conns.All()
	out := make([]string, 0, len(all)*2)
	for _, c := range all {
		carlaPort, otherGroup, otherPort, err := g.split(c.GroupA, c.PortA, c.GroupB, c.PortB)
		if err != nil {
			continue
		}
		carla, _ := portname.RackFullName(portname.GroupCarla, carlaPort, &g.midi)
		other, ok := portname.RackFullName(otherGroup, otherPort, &g.midi)
		if !ok {
			continue
		}
		switch carlaPort {
		case portname.CarlaPortAudioIn1, portname.CarlaPortAudioIn2, portname.CarlaPortMidiIn:
			out = append(out, other, carla)
		default:
			out = append(out, carla, other)
		}
	}
	return out
}

// GroupAndPortIDFromFullName resolves a rack full name.
func (g *Graph) GroupAndPortIDFromFullName(fullName string) (group, port uint32, ok bool) {
	return portname.ParseRack(fullName, &g.midi)
}

// RefreshInfo describes what a refresh should announce besides the rack's
// own audio routing.
type RefreshInfo struct {
	// ClientName names the rack's own group.
	ClientName string
	// MidiIns and MidiOuts are the external devices available.
	MidiIns  []string
	MidiOuts []string
	// OpenMidiIns and OpenMidiOuts are devices currently routed to the rack.
	OpenMidiIns  []string
	OpenMidiOuts []string
}

// Refresh re-announces every group, port and connection. The connection
// list is rebuilt with fresh ids and the MIDI registry is repopulated from
// info.
func (g *Graph) Refresh(info RefreshInfo) {
	g.conns.Truncate()

	cb := g.host.Callback
	cb(engine.CallbackPatchbayClientAdded, uint64(portname.GroupCarla), engine.IconCarla, -1, 0, info.ClientName)
	for port := portname.CarlaPortAudioIn1; port < portname.CarlaPortMax; port++ {
		_, alias := portname.CarlaPortName(port)
		cb(engine.CallbackPatchbayPortAdded, uint64(portname.GroupCarla), int32(port), carlaPortFlags(port), 0, alias)
	}

	cb(engine.CallbackPatchbayClientAdded, uint64(portname.GroupAudioIn), engine.IconHardware, -1, 0, "Capture")
	for i := uint32(1); i <= g.inputs; i++ {
		cb(engine.CallbackPatchbayPortAdded, uint64(portname.GroupAudioIn), int32(i), engine.PortTypeAudio, 0, fmt.Sprintf("capture_%d", i))
	}
	cb(engine.CallbackPatchbayClientAdded, uint64(portname.GroupAudioOut), engine.IconHardware, -1, 0, "Playback")
	for i := uint32(1); i <= g.outputs; i++ {
		cb(engine.CallbackPatchbayPortAdded, uint64(portname.GroupAudioOut), int32(i), engine.PortTypeAudio|engine.PortIsInput, 0, fmt.Sprintf("playback_%d", i))
	}

	g.midi.Clear()
	cb(engine.CallbackPatchbayClientAdded, uint64(portname.GroupMidiIn), engine.IconHardware, -1, 0, "Readable MIDI ports")
	for i, name := range info.MidiIns {
		port := uint32(i + 1)
		g.midi.Add(true, portname.Port{Group: portname.GroupMidiIn, Port: port, Name: name, FullName: "Readable MIDI ports:" + name})
		cb(engine.CallbackPatchbayPortAdded, uint64(portname.GroupMidiIn), int32(port), engine.PortTypeMIDI, 0, name)
	}
	cb(engine.CallbackPatchbayClientAdded, uint64(portname.GroupMidiOut), engine.IconHardware, -1, 0, "Writable MIDI ports")
	for i, name := range info.MidiOuts {
		port := uint32(i + 1)
		g.midi.Add(false, portname.Port{Group: portname.GroupMidiOut, Port: port, Name: name, FullName: "Writable MIDI ports:" + name})
		cb(engine.CallbackPatchbayPortAdded, uint64(portname.GroupMidiOut), int32(port), engine.PortTypeMIDI|engine.PortIsInput, 0, name)
	}

	g.audio.mu.Lock()
	in1 := g.audio.connectedIn1.Values()
	in2 := g.audio.connectedIn2.Values()
	out1 := g.audio.connectedOut1.Values()
	out2 := g.audio.connectedOut2.Values()
	g.audio.mu.Unlock()

	for _, p := range in1 {
		g.announce(portname.GroupAudioIn, p, portname.GroupCarla, portname.CarlaPortAudioIn1)
	}
	for _, p := range in2 {
		g.announce(portname.GroupAudioIn, p, portname.GroupCarla, portname.CarlaPortAudioIn2)
	}
	for _, p := range out1 {
		g.announce(portname.GroupCarla, portname.CarlaPortAudioOut1, portname.GroupAudioOut, p)
	}
	for _, p := range out2 {
		g.announce(portname.GroupCarla, portname.CarlaPortAudioOut2, portname.GroupAudioOut, p)
	}
	for _, name := range info.OpenMidiIns {
		if p, ok := g.midi.PortID(true, name); ok {
			g.announce(portname.GroupMidiIn, p, portname.GroupCarla, portname.CarlaPortMidiIn)
		}
	}
	for _, name := range info.OpenMidiOuts {
		if p, ok := g.midi.PortID(false, name); ok {
			g.announce(portname.GroupCarla, portname.CarlaPortMidiOut, portname.GroupMidiOut, p)
		}
	}
}

func (g *Graph) announce(groupA, portA, groupB, portB uint32) {
	c := g.conns.Add(groupA, portA, groupB, portB)
	g.host.Callback(engine.CallbackPatchbayConnectionAdded, c.ID, 0, 0, 0, c.String())
}

func carlaPortFlags(port uint32) int32 {
	switch port {
	case portname.CarlaPortAudioIn1, portname.CarlaPortAudioIn2:
		return engine.PortTypeAudio | engine.PortIsInput
	case portname.CarlaPortAudioOut1, portname.CarlaPortAudioOut2:
		return engine.PortTypeAudio
	case portname.CarlaPortMidiIn:
		return engine.PortTypeMIDI | engine.PortIsInput
	}
	return engine.PortTypeMIDI
}
