// Package graph selects the rack or the patchbay at creation time and
// gives the host one surface for both. Every call dispatches on the mode;
// calls that only make sense in the other mode fail with
// engine.ErrWrongMode.
package graph

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/shaban/patchbay/engine"
	"github.com/shaban/patchbay/engine/patchbay"
	"github.com/shaban/patchbay/engine/rack"
)

// Mode picks the routing graph.
type Mode int

const (
	ModeRack Mode = iota
	ModePatchbay
)

func (m Mode) String() string {
	if m == ModeRack {
		return "rack"
	}
	return "patchbay"
}

const msgUnsupported = "Unsupported operation"

// variant is the graph built by Create. Exactly one field is set.
type variant struct {
	mode     Mode
	rack     *rack.Graph
	patchbay *patchbay.Graph
}

// Graph is the internal graph of an engine.
type Graph struct {
	host   engine.Host
	logger *zap.Logger

	cur   atomic.Pointer[variant]
	ready atomic.Bool
}

// New returns an empty graph; call Create before processing.
func New(host engine.Host, logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{host: host, logger: logger}
}

// Create builds the graph for mode. It fails if a graph already exists.
func (g *Graph) Create(mode Mode, sampleRate float64, bufferSize, inputs, outputs uint32) error {
	if g.cur.Load() != nil {
		g.logger.Error("graph already created", zap.Stringer("mode", mode))
		return engine.NewError(engine.ErrInvalidArgument, "Graph already created")
	}
	v := &variant{mode: mode}
	switch mode {
	case ModeRack:
		v.rack = rack.New(g.host, g.logger.Named("rack"), bufferSize, inputs, outputs)
	case ModePatchbay:
		v.patchbay = patchbay.New(g.host, g.logger.Named("patchbay"), bufferSize, sampleRate, inputs, outputs)
	default:
		return engine.NewError(engine.ErrInvalidArgument, "Invalid processing mode")
	}
	g.cur.Store(v)
	g.ready.Store(true)
	g.logger.Debug("graph created", zap.Stringer("mode", mode),
		zap.Uint32("buffer_size", bufferSize), zap.Uint32("inputs", inputs), zap.Uint32("outputs", outputs))
	return nil
}

// Destroy clears every connection and drops the graph. Processing stops
// before anything is released.
func (g *Graph) Destroy() {
	if !g.ready.Swap(false) {
		return
	}
	v := g.cur.Swap(nil)
	if v == nil {
		return
	}
	if v.rack != nil {
		v.rack.ClearConnections()
	} else {
		v.patchbay.ClearConnections()
	}
}

// IsReady reports whether Process will run the graph.
func (g *Graph) IsReady() bool { return g.ready.Load() && g.cur.Load() != nil }

// Mode returns the mode of the current graph.
func (g *Graph) Mode() (Mode, bool) {
	v := g.cur.Load()
	if v == nil {
		return 0, false
	}
	return v.mode, true
}

// Rack returns the rack graph, or nil in patchbay mode.
func (g *Graph) Rack() *rack.Graph {
	if v := g.cur.Load(); v != nil {
		return v.rack
	}
	return nil
}

// Patchbay returns the patchbay graph, or nil in rack mode.
func (g *Graph) Patchbay() *patchbay.Graph {
	if v := g.cur.Load(); v != nil {
		return v.patchbay
	}
	return nil
}

func (g *Graph) current() (*variant, error) {
	v := g.cur.Load()
	if v == nil {
		return nil, engine.NewError(engine.ErrNotReady, "Graph not ready")
	}
	return v, nil
}

func (g *Graph) wrongMode(op string, want Mode) error {
	g.logger.Error("operation not valid in this mode", zap.String("op", op), zap.Stringer("want", want))
	return engine.NewError(engine.ErrWrongMode, msgUnsupported)
}

// quiesce runs fn with processing disabled. It does not wait for a block
// already in flight; callers exclude Process themselves.
func (g *Graph) quiesce(fn func(v *variant)) error {
	v, err := g.current()
	if err != nil {
		return err
	}
	g.ready.Store(false)
	defer g.ready.Store(true)
	fn(v)
	return nil
}

// SetBufferSize reallocates scratch buffers; topology is kept.
func (g *Graph) SetBufferSize(bufferSize uint32) error {
	return g.quiesce(func(v *variant) {
		if v.rack != nil {
			v.rack.SetBufferSize(bufferSize)
		} else {
			v.patchbay.SetBufferSize(bufferSize)
		}
	})
}

// SetSampleRate forwards the new rate. The rack does not depend on it.
func (g *Graph) SetSampleRate(sampleRate float64) error {
	return g.quiesce(func(v *variant) {
		if v.patchbay != nil {
			v.patchbay.SetSampleRate(sampleRate)
		}
	})
}

// SetOffline switches plugin locking between try-lock and blocking.
func (g *Graph) SetOffline(offline bool) error {
	return g.quiesce(func(v *variant) {
		if v.rack != nil {
			v.rack.SetOffline(offline)
		} else {
			v.patchbay.SetOffline(offline)
		}
	})
}

// Process renders one block against the device channels. When the graph
// is not ready the outputs are silenced.
func (g *Graph) Process(data *engine.ProcessData, in, out [][]float32, frames uint32) {
	v := g.cur.Load()
	if v == nil || !g.ready.Load() {
		silence(data, out, frames)
		return
	}
	if v.rack != nil {
		v.rack.ProcessHelper(data, in, out, frames)
	} else {
		v.patchbay.Process(data, in, out, frames)
	}
}

// ProcessRack runs the rack's plugin chain directly on two stereo
// buffers. It does nothing outside rack mode.
func (g *Graph) ProcessRack(data *engine.ProcessData, in, out [][]float32, frames uint32) {
	v := g.cur.Load()
	if v == nil || v.rack == nil || !g.ready.Load() {
		silence(data, out, frames)
		return
	}
	v.rack.Process(data, in, out, frames)
}

func silence(data *engine.ProcessData, out [][]float32, frames uint32) {
	for _, ch := range out {
		clear(ch[:min(int(frames), len(ch))])
	}
	if data != nil && data.EventsOut != nil {
		data.EventsOut.Clear()
	}
}

func (g *Graph) patchbayOnly(op string) (*patchbay.Graph, error) {
	v, err := g.current()
	if err != nil {
		return nil, err
	}
	if v.patchbay == nil {
		return nil, g.wrongMode(op, ModePatchbay)
	}
	return v.patchbay, nil
}

// AddPlugin adds a plugin node. Patchbay mode only.
func (g *Graph) AddPlugin(p engine.Plugin) error {
	pb, err := g.patchbayOnly("add plugin")
	if err != nil {
		return err
	}
	return pb.AddPlugin(p)
}

// ReplacePlugin swaps a plugin node. Patchbay mode only.
func (g *Graph) ReplacePlugin(oldPlugin, newPlugin engine.Plugin) error {
	pb, err := g.patchbayOnly("replace plugin")
	if err != nil {
		return err
	}
	return pb.ReplacePlugin(oldPlugin, newPlugin)
}

// RemovePlugin deletes a plugin node. Patchbay mode only.
func (g *Graph) RemovePlugin(p engine.Plugin) error {
	pb, err := g.patchbayOnly("remove plugin")
	if err != nil {
		return err
	}
	return pb.RemovePlugin(p)
}

// RemoveAllPlugins deletes every plugin node. Patchbay mode only.
func (g *Graph) RemoveAllPlugins() error {
	pb, err := g.patchbayOnly("remove all plugins")
	if err != nil {
		return err
	}
	pb.RemoveAllPlugins()
	return nil
}

// SetIgnorePatchbay toggles node notifications. Patchbay mode only.
func (g *Graph) SetIgnorePatchbay(ignore bool) error {
	pb, err := g.patchbayOnly("set ignore patchbay")
	if err != nil {
		return err
	}
	pb.SetIgnorePatchbay(ignore)
	return nil
}

// Connect joins two ports in whichever graph is active.
func (g *Graph) Connect(groupA, portA, groupB, portB uint32) (uint64, error) {
	v, err := g.current()
	if err != nil {
		return 0, err
	}
	if v.rack != nil {
		return v.rack.Connect(groupA, portA, groupB, portB)
	}
	return v.patchbay.Connect(groupA, portA, groupB, portB)
}

// Disconnect removes a connection by id.
func (g *Graph) Disconnect(id uint64) error {
	v, err := g.current()
	if err != nil {
		return err
	}
	if v.rack != nil {
		return v.rack.Disconnect(id)
	}
	return v.patchbay.Disconnect(id)
}

// ClearConnections drops every connection and restarts ids.
func (g *Graph) ClearConnections() error {
	v, err := g.current()
	if err != nil {
		return err
	}
	if v.rack != nil {
		v.rack.ClearConnections()
	} else {
		v.patchbay.ClearConnections()
	}
	return nil
}

// Refresh re-announces the whole topology. info is only used in rack
// mode, where the external MIDI devices come from the host.
func (g *Graph) Refresh(info rack.RefreshInfo) error {
	v, err := g.current()
	if err != nil {
		return err
	}
	if v.rack != nil {
		v.rack.Refresh(info)
	} else {
		v.patchbay.RefreshConnections()
	}
	return nil
}

// Connections lists source and target full names pairwise.
func (g *Graph) Connections() []string {
	v := g.cur.Load()
	if v == nil {
		return nil
	}
	if v.rack != nil {
		return v.rack.Connections()
	}
	return v.patchbay.Connections()
}

// GroupAndPortIDFromFullName resolves a full port name.
func (g *Graph) GroupAndPortIDFromFullName(fullName string) (group, port uint32, ok bool) {
	v := g.cur.Load()
	if v == nil {
		return 0, 0, false
	}
	if v.rack != nil {
		return v.rack.GroupAndPortIDFromFullName(fullName)
	}
	return v.patchbay.GroupAndPortIDFromFullName(fullName)
}
