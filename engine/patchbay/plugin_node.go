package patchbay

import (
	"sync/atomic"

	"github.com/shaban/patchbay/engine"
	"github.com/shaban/patchbay/engine/analyze"
	"github.com/shaban/patchbay/engine/event"
)

// pluginNode adapts an engine.Plugin to the Node contract.
// The node name is fixed when the node is created and may carry a suffix
// the plugin's own name lacks.
type pluginNode struct {
	plugin  engine.Plugin
	name    string
	host    engine.Host
	offline *atomic.Bool
}

func newPluginNode(p engine.Plugin, name string, host engine.Host, offline *atomic.Bool) *pluginNode {
	return &pluginNode{plugin: p, name: name, host: host, offline: offline}
}

func (n *pluginNode) Name() string      { return n.name }
func (n *pluginNode) AudioIns() uint32  { return n.plugin.AudioInCount() }
func (n *pluginNode) AudioOuts() uint32 { return n.plugin.AudioOutCount() }

func (n *pluginNode) AcceptsMIDI() bool  { return n.plugin.DefaultEventInPort() != nil }
func (n *pluginNode) ProducesMIDI() bool { return n.plugin.DefaultEventOutPort() != nil }

func (n *pluginNode) InputName(i uint32) string  { return n.plugin.AudioPortName(true, i) }
func (n *pluginNode) OutputName(i uint32) string { return n.plugin.AudioPortName(false, i) }

// Process runs the plugin in place. A disabled plugin, or one whose lock
// is taken, outputs silence and no events for the block.
func (n *pluginNode) Process(audio [][]float32, midi *event.Buffer, frames uint32) {
	p := n.plugin
	if !p.IsEnabled() || !p.TryLock(n.offline.Load()) {
		for _, ch := range audio {
			clear(ch)
		}
		midi.Clear()
		return
	}
	defer p.Unlock()

	p.InitBuffers()
	if in := p.DefaultEventInPort(); in != nil {
		in.CopyFrom(midi)
	}
	midi.Clear()

	if len(audio) > 0 {
		if p.AudioInCount() == 0 {
			for _, ch := range audio {
				clear(ch)
			}
		}

		var ins, outs [2]float32
		for i := 0; i < len(audio) && i < 2; i++ {
			ins[i] = analyze.Peak(audio[i])
		}
		p.Process(audio, audio, nil, nil, frames)
		for i := 0; i < len(audio) && i < 2; i++ {
			outs[i] = analyze.Peak(audio[i])
		}
		n.host.SetPluginPeaks(p.ID(), ins, outs)
	} else {
		p.Process(nil, nil, nil, nil, frames)
	}

	if out := p.DefaultEventOutPort(); out != nil {
		midi.CopyFrom(out)
		out.Clear()
	}
}
