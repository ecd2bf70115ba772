package patchbay

import (
	"errors"
	"slices"
	"sync"

	"github.com/shaban/patchbay/engine/analyze"
	"github.com/shaban/patchbay/engine/event"
)

// midiChannel is the channel index of a node's event bus in an edge.
const midiChannel uint32 = 0x1000

var (
	errNoNode      = errors.New("no such node")
	errSameNode    = errors.New("node connected to itself")
	errBadChannel  = errors.New("channel out of range")
	errKindClash   = errors.New("audio and midi channels cannot be joined")
	errNoMidi      = errors.New("node has no event bus in that direction")
	errDuplicate   = errors.New("connection exists")
	errCycle       = errors.New("connection would create a cycle")
	errNoSuchEdge  = errors.New("no such connection")
	errNodeMissing = errors.New("node not found")
)

// edge carries one audio channel, or the event bus when both channels are
// midiChannel, from src to dst.
type edge struct {
	src, srcCh uint32
	dst, dstCh uint32
}

func (e edge) touches(id uint32) bool { return e.src == id || e.dst == id }

// nodeEntry is a scheduled node with its own block buffers.
type nodeEntry struct {
	id   uint32
	node Node

	// pluginID is the engine plugin id, or -1 for the I/O nodes.
	pluginID int

	buf  [][]float32
	view [][]float32
	midi event.Buffer
}

func (e *nodeEntry) isPlugin() bool { return e.pluginID >= 0 }

func (e *nodeEntry) width() uint32 {
	return max(e.node.AudioIns(), e.node.AudioOuts())
}

func (e *nodeEntry) allocate(frames uint32) {
	w := e.width()
	e.buf = make([][]float32, w)
	e.view = make([][]float32, w)
	for i := range e.buf {
		e.buf[i] = make([]float32, frames)
	}
}

type source struct {
	from  *nodeEntry
	srcCh uint32
	dstCh uint32
}

type step struct {
	e     *nodeEntry
	audio []source
	midi  []*nodeEntry
}

// nodeGraph owns the nodes and edges and the render order derived from
// them. Mutations happen on the control thread; render runs on the audio
// thread. mu keeps a topology change atomic relative to a block.
type nodeGraph struct {
	mu sync.Mutex

	lastID  uint32
	nodes   []*nodeEntry
	edges   []edge
	plan    []step
	bufSize uint32
}

func (g *nodeGraph) node(id uint32) *nodeEntry {
	for _, e := range g.nodes {
		if e.id == id {
			return e
		}
	}
	return nil
}

// add inserts a node and returns its id. Ids start at 1 and are never
// reused.
func (g *nodeGraph) add(n Node, pluginID int) *nodeEntry {
	g.lastID++
	e := &nodeEntry{id: g.lastID, node: n, pluginID: pluginID}
	e.allocate(g.bufSize)

	nodes := append(slices.Clone(g.nodes), e)
	plan, _ := schedule(nodes, g.edges)

	g.mu.Lock()
	g.nodes = nodes
	g.plan = plan
	g.mu.Unlock()
	return e
}

// remove deletes a node and every edge touching it.
func (g *nodeGraph) remove(id uint32) error {
	i := slices.IndexFunc(g.nodes, func(e *nodeEntry) bool { return e.id == id })
	if i < 0 {
		return errNodeMissing
	}
	nodes := slices.Delete(slices.Clone(g.nodes), i, i+1)
	edges := slices.DeleteFunc(slices.Clone(g.edges), func(e edge) bool { return e.touches(id) })
	plan, _ := schedule(nodes, edges)

	g.mu.Lock()
	g.nodes = nodes
	g.edges = edges
	g.plan = plan
	g.mu.Unlock()
	return nil
}

// check reports why e cannot be added.
func (g *nodeGraph) check(e edge) error {
	if e.src == e.dst {
		return errSameNode
	}
	src, dst := g.node(e.src), g.node(e.dst)
	if src == nil || dst == nil {
		return errNoNode
	}
	return legal(e, src, dst)
}

func legal(e edge, src, dst *nodeEntry) error {
	srcMidi, dstMidi := e.srcCh == midiChannel, e.dstCh == midiChannel
	switch {
	case srcMidi != dstMidi:
		return errKindClash
	case srcMidi:
		if !src.node.ProducesMIDI() || !dst.node.AcceptsMIDI() {
			return errNoMidi
		}
	case e.srcCh >= src.node.AudioOuts() || e.dstCh >= dst.node.AudioIns():
		return errBadChannel
	}
	return nil
}

func (g *nodeGraph) connect(e edge) error {
	if err := g.check(e); err != nil {
		return err
	}
	if slices.Contains(g.edges, e) {
		return errDuplicate
	}
	edges := append(slices.Clone(g.edges), e)
	plan, ok := schedule(g.nodes, edges)
	if !ok {
		return errCycle
	}

	g.mu.Lock()
	g.edges = edges
	g.plan = plan
	g.mu.Unlock()
	return nil
}

func (g *nodeGraph) disconnect(e edge) error {
	i := slices.Index(g.edges, e)
	if i < 0 {
		return errNoSuchEdge
	}
	edges := slices.Delete(slices.Clone(g.edges), i, i+1)
	plan, _ := schedule(g.nodes, edges)

	g.mu.Lock()
	g.edges = edges
	g.plan = plan
	g.mu.Unlock()
	return nil
}

// clearEdges drops every edge.
func (g *nodeGraph) clearEdges() {
	plan, _ := schedule(g.nodes, nil)
	g.mu.Lock()
	g.edges = nil
	g.plan = plan
	g.mu.Unlock()
}

// removeIllegal drops edges whose endpoints no longer exist or no longer
// have the channels they refer to. It returns how many were dropped.
func (g *nodeGraph) removeIllegal() int {
	edges := slices.DeleteFunc(slices.Clone(g.edges), func(e edge) bool {
		return g.check(e) != nil
	})
	n := len(g.edges) - len(edges)
	if n == 0 {
		return 0
	}
	plan, _ := schedule(g.nodes, edges)
	g.mu.Lock()
	g.edges = edges
	g.plan = plan
	g.mu.Unlock()
	return n
}

// resize reallocates every node buffer for a new block size.
func (g *nodeGraph) resize(frames uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bufSize = frames
	for _, e := range g.nodes {
		e.allocate(frames)
	}
}

// schedule orders nodes so every edge runs from an earlier node to a later
// one (Kahn's algorithm). Ready nodes are taken in insertion order. ok is
// false when the edges contain a cycle.
func schedule(nodes []*nodeEntry, edges []edge) (plan []step, ok bool) {
	index := make(map[uint32]int, len(nodes))
	for i, e := range nodes {
		index[e.id] = i
	}
	indegree := make([]int, len(nodes))
	outgoing := make([][]int, len(nodes))
	steps := make([]step, len(nodes))
	for i, e := range nodes {
		steps[i].e = e
	}
	for _, e := range edges {
		si, sok := index[e.src]
		di, dok := index[e.dst]
		if !sok || !dok {
			continue
		}
		outgoing[si] = append(outgoing[si], di)
		indegree[di]++
		if e.srcCh == midiChannel {
			if !slices.Contains(steps[di].midi, nodes[si]) {
				steps[di].midi = append(steps[di].midi, nodes[si])
			}
		} else {
			steps[di].audio = append(steps[di].audio, source{from: nodes[si], srcCh: e.srcCh, dstCh: e.dstCh})
		}
	}

	queue := make([]int, 0, len(nodes))
	for i, d := range indegree {
		if d == 0 {
			queue = append(queue, i)
		}
	}
	plan = make([]step, 0, len(nodes))
	for len(queue) > 0 {
		slices.Sort(queue)
		i := queue[0]
		queue = queue[1:]
		plan = append(plan, steps[i])
		for _, j := range outgoing[i] {
			indegree[j]--
			if indegree[j] == 0 {
				queue = append(queue, j)
			}
		}
	}
	return plan, len(plan) == len(nodes)
}

// render processes one block. Each node's inputs are the sum of the
// channels feeding it; its events are the time-ordered merge of the
// buses feeding it.
func (g *nodeGraph) render(frames uint32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if frames > g.bufSize {
		return
	}
	for _, s := range g.plan {
		e := s.e
		for i, ch := range e.buf {
			e.view[i] = ch[:frames]
			clear(e.view[i])
		}
		for _, src := range s.audio {
			analyze.Add(e.view[src.dstCh], src.from.buf[src.srcCh][:frames])
		}
		e.midi.Clear()
		for _, from := range s.midi {
			e.midi.Merge(&from.midi)
		}
		e.node.Process(e.view, &e.midi, frames)
	}
}
