// Package patchbay implements the free-form routing graph: the host's audio
// and MIDI endpoints and every plugin are nodes, and any output may feed
// any compatible input as long as the graph stays acyclic.
package patchbay

import (
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/shaban/patchbay/engine"
	"github.com/shaban/patchbay/engine/connection"
	"github.com/shaban/patchbay/engine/portname"
)

const (
	msgGraphRejected     = "Failed from node graph"
	msgConnectionMissing = "Failed to find connection"
	msgInvalidPort       = "Invalid patchbay port"
)

// Node ids of the I/O nodes created by New.
const (
	AudioInputNode uint32 = iota + 1
	AudioOutputNode
	MidiInputNode
	MidiOutputNode
)

// Graph is the patchbay. Topology methods belong to the control thread;
// Process to the audio thread.
type Graph struct {
	host    engine.Host
	logger  *zap.Logger
	inputs  uint32
	outputs uint32

	conns *connection.Table
	nodes nodeGraph
	ext   external

	offline        atomic.Bool
	sampleRate     float64
	ignorePatchbay bool
}

// New builds a patchbay with the four I/O nodes. Channel counts are capped
// at engine.MaxPlugins.
func New(host engine.Host, logger *zap.Logger, bufferSize uint32, sampleRate float64, inputs, outputs uint32) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Graph{
		host:       host,
		logger:     logger.Named("patchbay"),
		inputs:     min(inputs, engine.MaxPlugins),
		outputs:    min(outputs, engine.MaxPlugins),
		conns:      connection.NewTable(),
		sampleRate: sampleRate,
	}
	g.nodes.bufSize = bufferSize
	g.nodes.add(&ioNode{kind: ioAudioIn, channels: g.inputs, ext: &g.ext}, -1)
	g.nodes.add(&ioNode{kind: ioAudioOut, channels: g.outputs, ext: &g.ext}, -1)
	g.nodes.add(&ioNode{kind: ioMidiIn, ext: &g.ext}, -1)
	g.nodes.add(&ioNode{kind: ioMidiOut, ext: &g.ext}, -1)
	return g
}

// Inputs returns the number of external input channels.
func (g *Graph) Inputs() uint32 { return g.inputs }

// Outputs returns the number of external output channels.
func (g *Graph) Outputs() uint32 { return g.outputs }

// Table exposes the connection table.
func (g *Graph) Table() *connection.Table { return g.conns }

// SampleRate returns the rate set by New or SetSampleRate.
func (g *Graph) SampleRate() float64 { return g.sampleRate }

// SetBufferSize reallocates the node buffers. Connections are kept.
func (g *Graph) SetBufferSize(bufferSize uint32) { g.nodes.resize(bufferSize) }

// SetSampleRate records the new rate. Node buffers are sized in frames, so
// nothing is reallocated.
func (g *Graph) SetSampleRate(sampleRate float64) { g.sampleRate = sampleRate }

// SetOffline makes plugin nodes wait for their lock instead of skipping.
func (g *Graph) SetOffline(offline bool) { g.offline.Store(offline) }

// SetIgnorePatchbay suppresses the notifications of plugin add, replace
// and remove while a project is being bulk loaded. Connect, Disconnect and
// RefreshConnections still report connections.
func (g *Graph) SetIgnorePatchbay(ignore bool) { g.ignorePatchbay = ignore }

// NodeForPlugin returns the node id carrying the plugin with that id.
func (g *Graph) NodeForPlugin(pluginID uint32) (uint32, bool) {
	if e := g.pluginEntry(pluginID); e != nil {
		return e.id, true
	}
	return 0, false
}

func (g *Graph) pluginEntry(pluginID uint32) *nodeEntry {
	for _, e := range g.nodes.nodes {
		if e.isPlugin() && uint32(e.pluginID) == pluginID {
			return e
		}
	}
	return nil
}

func (g *Graph) pluginCount() int {
	n := 0
	for _, e := range g.nodes.nodes {
		if e.isPlugin() {
			n++
		}
	}
	return n
}

// AddPlugin creates a node for p and announces it.
func (g *Graph) AddPlugin(p engine.Plugin) error {
	if p == nil {
		g.logger.Error("add plugin: nil plugin")
		return engine.NewError(engine.ErrInvalidArgument, "Invalid plugin")
	}
	if g.pluginCount() >= engine.MaxPlugins {
		return engine.NewError(engine.ErrInvalidArgument, "Maximum number of plugins reached")
	}
	e := g.nodes.add(newPluginNode(p, g.uniqueName(p.Name()), g.host, &g.offline), int(p.ID()))
	if !g.ignorePatchbay {
		g.announceNode(e)
	}
	g.logger.Debug("plugin added", zap.String("name", e.node.Name()), zap.Uint32("plugin", p.ID()), zap.Uint32("node", e.id))
	return nil
}

// ReplacePlugin swaps the node of oldPlugin for a fresh one carrying
// newPlugin. Both must have the same id. Connections of the old node are
// dropped, not rewired.
func (g *Graph) ReplacePlugin(oldPlugin, newPlugin engine.Plugin) error {
	if oldPlugin == nil || newPlugin == nil || oldPlugin == newPlugin || oldPlugin.ID() != newPlugin.ID() {
		g.logger.Error("replace plugin: invalid pair")
		return engine.NewError(engine.ErrInvalidArgument, "Invalid plugin")
	}
	old := g.pluginEntry(oldPlugin.ID())
	if old == nil {
		g.logger.Error("replace plugin: no node", zap.Uint32("plugin", oldPlugin.ID()))
		return engine.NewError(engine.ErrNotFound, "Invalid plugin")
	}
	g.dropNode(old)

	e := g.nodes.add(newPluginNode(newPlugin, g.uniqueName(newPlugin.Name()), g.host, &g.offline), int(newPlugin.ID()))
	if !g.ignorePatchbay {
		g.announceNode(e)
	}
	return nil
}

// RemovePlugin deletes the node of p. Plugins with a higher id move down
// by one, matching the host's renumbering.
func (g *Graph) RemovePlugin(p engine.Plugin) error {
	if p == nil {
		g.logger.Error("remove plugin: nil plugin")
		return engine.NewError(engine.ErrInvalidArgument, "Invalid plugin")
	}
	id := p.ID()
	e := g.pluginEntry(id)
	if e == nil {
		g.logger.Error("remove plugin: no node", zap.Uint32("plugin", id))
		return engine.NewError(engine.ErrNotFound, "Invalid plugin")
	}
	g.dropNode(e)

	for _, other := range g.nodes.nodes {
		if other.isPlugin() && uint32(other.pluginID) > id {
			other.pluginID--
		}
	}
	return nil
}

// RemoveAllPlugins deletes every plugin node.
func (g *Graph) RemoveAllPlugins() {
	var plugins []*nodeEntry
	for _, e := range g.nodes.nodes {
		if e.isPlugin() {
			plugins = append(plugins, e)
		}
	}
	for _, e := range plugins {
		g.dropNode(e)
	}
}

// dropNode disconnects and removes a node.
func (g *Graph) dropNode(e *nodeEntry) {
	g.disconnectGroup(e.id, !g.ignorePatchbay)
	if !g.ignorePatchbay {
		g.unannounceNode(e)
	}
	if err := g.nodes.remove(e.id); err != nil {
		g.logger.Error("remove node", zap.Uint32("node", e.id), zap.Error(err))
	}
}

func (g *Graph) announceNode(e *nodeEntry) {
	n := e.node
	icon, client := int32(engine.IconHardware), int32(-1)
	if e.isPlugin() {
		icon, client = engine.IconPlugin, int32(e.pluginID)
	}
	group := uint64(e.id)
	g.host.Callback(engine.CallbackPatchbayClientAdded, group, icon, client, 0, n.Name())
	for i := uint32(0); i < n.AudioIns(); i++ {
		g.host.Callback(engine.CallbackPatchbayPortAdded, group, int32(portname.AudioInputOffset+i),
			engine.PortTypeAudio|engine.PortIsInput, 0, n.InputName(i))
	}
	for i := uint32(0); i < n.AudioOuts(); i++ {
		g.host.Callback(engine.CallbackPatchbayPortAdded, group, int32(portname.AudioOutputOffset+i),
			engine.PortTypeAudio, 0, n.OutputName(i))
	}
	if n.AcceptsMIDI() {
		g.host.Callback(engine.CallbackPatchbayPortAdded, group, int32(portname.MidiInputOffset),
			engine.PortTypeMIDI|engine.PortIsInput, 0, portname.EventsIn)
	}
	if n.ProducesMIDI() {
		g.host.Callback(engine.CallbackPatchbayPortAdded, group, int32(portname.MidiOutputOffset),
			engine.PortTypeMIDI, 0, portname.EventsOut)
	}
}

func (g *Graph) unannounceNode(e *nodeEntry) {
	n := e.node
	group := uint64(e.id)
	for i := uint32(0); i < n.AudioIns(); i++ {
		g.host.Callback(engine.CallbackPatchbayPortRemoved, group, int32(portname.AudioInputOffset+i), 0, 0, "")
	}
	for i := uint32(0); i < n.AudioOuts(); i++ {
		g.host.Callback(engine.CallbackPatchbayPortRemoved, group, int32(portname.AudioOutputOffset+i), 0, 0, "")
	}
	if n.AcceptsMIDI() {
		g.host.Callback(engine.CallbackPatchbayPortRemoved, group, int32(portname.MidiInputOffset), 0, 0, "")
	}
	if n.ProducesMIDI() {
		g.host.Callback(engine.CallbackPatchbayPortRemoved, group, int32(portname.MidiOutputOffset), 0, 0, "")
	}
	g.host.Callback(engine.CallbackPatchbayClientRemoved, group, 0, 0, 0, "")
}

// toEdge translates an offset-encoded endpoint pair into a node graph
// edge. The output side becomes the source whichever order it was given.
func toEdge(groupA, portA, groupB, portB uint32) (edge, bool) {
	kindA, idxA := portname.Decode(portA)
	kindB, idxB := portname.Decode(portB)
	if kindA == portname.KindInvalid || kindB == portname.KindInvalid || kindA.IsInput() == kindB.IsInput() {
		return edge{}, false
	}
	if kindA.IsInput() {
		groupA, groupB = groupB, groupA
		kindA, kindB = kindB, kindA
		idxA, idxB = idxB, idxA
	}
	e := edge{src: groupA, srcCh: idxA, dst: groupB, dstCh: idxB}
	if kindA.IsMIDI() {
		e.srcCh = midiChannel
	}
	if kindB.IsMIDI() {
		e.dstCh = midiChannel
	}
	return e, true
}

// ports returns the offset-encoded ports of an edge.
func (e edge) ports() (portA, portB uint32) {
	if e.srcCh == midiChannel {
		portA = portname.MidiOutputOffset
	} else {
		portA = portname.AudioOutputOffset + e.srcCh
	}
	if e.dstCh == midiChannel {
		portB = portname.MidiInputOffset
	} else {
		portB = portname.AudioInputOffset + e.dstCh
	}
	return portA, portB
}

// Connect joins an output port to an input port and returns the
// connection id. The node graph refuses mismatched kinds, missing
// channels, duplicates and cycles.
func (g *Graph) Connect(groupA, portA, groupB, portB uint32) (uint64, error) {
	e, ok := toEdge(groupA, portA, groupB, portB)
	if !ok {
		g.logger.Error(msgInvalidPort, zap.Uint32("portA", portA), zap.Uint32("portB", portB))
		return 0, engine.NewError(engine.ErrInvalidArgument, msgInvalidPort)
	}
	if err := g.nodes.connect(e); err != nil {
		g.logger.Debug("connect refused", zap.Uint32("src", e.src), zap.Uint32("dst", e.dst), zap.Error(err))
		return 0, engine.NewError(engine.ErrBackendRejected, msgGraphRejected)
	}
	pa, pb := e.ports()
	c := g.conns.Add(e.src, pa, e.dst, pb)
	g.host.Callback(engine.CallbackPatchbayConnectionAdded, c.ID, 0, 0, 0, c.String())
	g.logger.Debug("connected", zap.Uint64("id", c.ID), zap.String("ports", c.String()))
	return c.ID, nil
}

// Disconnect removes the connection with the given id.
func (g *Graph) Disconnect(id uint64) error {
	c, found := g.conns.Get(id)
	if !found {
		return engine.NewError(engine.ErrNotFound, msgConnectionMissing)
	}
	e, ok := toEdge(c.GroupA, c.PortA, c.GroupB, c.PortB)
	if !ok {
		g.logger.Error(msgInvalidPort, zap.Uint64("id", id))
		return engine.NewError(engine.ErrInvalidArgument, msgInvalidPort)
	}
	if err := g.nodes.disconnect(e); err != nil {
		return engine.NewError(engine.ErrBackendRejected, msgGraphRejected)
	}
	g.conns.Remove(id)
	g.host.Callback(engine.CallbackPatchbayConnectionRemoved, id, 0, 0, 0, "")
	return nil
}

// DisconnectGroup removes every connection touching a node, from both the
// table and the node graph.
func (g *Graph) DisconnectGroup(group uint32) {
	g.disconnectGroup(group, true)
}

func (g *Graph) disconnectGroup(group uint32, notify bool) {
	for _, c := range g.conns.RemoveGroup(group) {
		if e, ok := toEdge(c.GroupA, c.PortA, c.GroupB, c.PortB); ok {
			if err := g.nodes.disconnect(e); err != nil {
				g.logger.Debug("edge already gone", zap.Uint64("id", c.ID), zap.Error(err))
			}
		}
		if notify {
			g.host.Callback(engine.CallbackPatchbayConnectionRemoved, c.ID, 0, 0, 0, "")
		}
	}
}

// ClearConnections drops every connection and restarts ids.
func (g *Graph) ClearConnections() {
	g.conns.Clear()
	g.nodes.clearEdges()
}

// RefreshConnections re-announces every node and edge. The table is
// rebuilt from the node graph with fresh ids; illegal edges are dropped
// first.
func (g *Graph) RefreshConnections() {
	g.conns.Truncate()
	if n := g.nodes.removeIllegal(); n > 0 {
		g.logger.Debug("dropped illegal connections", zap.Int("count", n))
	}

	if !g.ignorePatchbay {
		for _, e := range g.nodes.nodes {
			g.announceNode(e)
		}
	}
	for _, e := range g.nodes.edges {
		pa, pb := e.ports()
		c := g.conns.Add(e.src, pa, e.dst, pb)
		g.host.Callback(engine.CallbackPatchbayConnectionAdded, c.ID, 0, 0, 0, c.String())
	}
}

// Connections lists every connection as consecutive source and target
// full names.
func (g *Graph) Connections() []string {
	all := g.conns.All()
	out := make([]string, 0, len(all)*2)
	for _, c := range all {
		a, okA := g.fullName(c.GroupA, c.PortA)
		b, okB := g.fullName(c.GroupB, c.PortB)
		if !okA || !okB {
			g.logger.Error("connection names unresolved", zap.Uint64("id", c.ID))
			continue
		}
		out = append(out, a, b)
	}
	return out
}

func (g *Graph) fullName(group, port uint32) (string, bool) {
	e := g.nodes.node(group)
	if e == nil {
		return "", false
	}
	n := e.node
	kind, idx := portname.Decode(port)
	switch kind {
	case portname.KindMidiIn:
		return portname.PatchbayFullName(n.Name(), portname.EventsIn), true
	case portname.KindMidiOut:
		return portname.PatchbayFullName(n.Name(), portname.EventsOut), true
	case portname.KindAudioIn:
		if idx < n.AudioIns() {
			return portname.PatchbayFullName(n.Name(), n.InputName(idx)), true
		}
	case portname.KindAudioOut:
		if idx < n.AudioOuts() {
			return portname.PatchbayFullName(n.Name(), n.OutputName(idx)), true
		}
	}
	return "", false
}

// uniqueName returns name, or name with " (2)", " (3)" and so on appended
// when another node already uses it. Full port names identify nodes by
// name, so no two nodes share one.
func (g *Graph) uniqueName(name string) string {
	taken := func(s string) bool {
		for _, e := range g.nodes.nodes {
			if e.node.Name() == s {
				return true
			}
		}
		return false
	}
	if !taken(name) {
		return name
	}
	for i := 2; ; i++ {
		if c := fmt.Sprintf("%s (%d)", name, i); !taken(c) {
			return c
		}
	}
}

// GroupAndPortIDFromFullName resolves "<node>:<port>". Input channel names
// are tried before outputs.
func (g *Graph) GroupAndPortIDFromFullName(fullName string) (group, port uint32, ok bool) {
	nodeName, portName, found := portname.Split(fullName)
	if !found {
		return 0, 0, false
	}
	for _, e := range g.nodes.nodes {
		n := e.node
		if n.Name() != nodeName {
			continue
		}
		switch portName {
		case portname.EventsIn:
			return e.id, portname.MidiInputOffset, true
		case portname.EventsOut:
			return e.id, portname.MidiOutputOffset, true
		}
		for i := uint32(0); i < n.AudioIns(); i++ {
			if n.InputName(i) == portName {
				return e.id, portname.AudioInputOffset + i, true
			}
		}
		for i := uint32(0); i < n.AudioOuts(); i++ {
			if n.OutputName(i) == portName {
				return e.id, portname.AudioOutputOffset + i, true
			}
		}
	}
	return 0, 0, false
}

// Process renders one block: external channels and events enter through
// the input nodes, every node runs in dependency order, and the output
// nodes fill out and data.EventsOut.
func (g *Graph) Process(data *engine.ProcessData, in, out [][]float32, frames uint32) {
	if data == nil || data.EventsIn == nil || data.EventsOut == nil || frames == 0 {
		return
	}
	for i := 0; i < len(out) && i < int(g.outputs); i++ {
		clear(out[i][:frames])
	}

	g.ext.in = in
	g.ext.out = out
	g.ext.midiIn.CopyFrom(data.EventsIn)
	g.ext.midiOut.Clear()

	g.nodes.render(frames)

	data.EventsOut.CopyFrom(&g.ext.midiOut)
	g.ext.in, g.ext.out = nil, nil
}
