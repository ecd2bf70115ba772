package rack

import (
	"github.com/shaban/patchbay/engine"
	"github.com/shaban/patchbay/engine/analyze"
	"github.com/shaban/patchbay/internal/slab"
)

// Process runs the plugin chain over one stereo block. in and out hold two
// channels of at least frames samples; data carries the engine event
// buffers and the plugin slots. Plugins that fail to lock are skipped.
// When no plugin runs the rack behaves as a wire: audio and events pass
// straight through.
//
// Events reach the next plugin as follows: if the previous plugin declares
// MIDI outputs its output events replace the input events. Otherwise the
// input events are kept, and anything the previous plugin wrote to the
// output buffer anyway is merged into them by time.
func (g *Graph) Process(data *engine.ProcessData, in, out [][]float32, frames uint32) {
	if data == nil || data.EventsIn == nil || data.EventsOut == nil || len(in) < 2 || len(out) < 2 {
		return
	}
	if frames > g.bufSize {
		return
	}

	tmp0 := g.inBufTmp[0][:frames]
	tmp1 := g.inBufTmp[1][:frames]
	out0 := out[0][:frames]
	out1 := out[1][:frames]

	copy(tmp0, in[0][:frames])
	copy(tmp1, in[1][:frames])
	clear(out0)
	clear(out1)
	data.EventsOut.Clear()

	g.procIn[0], g.procIn[1] = tmp0, tmp1
	g.procOut[0], g.procOut[1] = out0, out1

	offline := g.offline.Load()
	processed := false
	var oldMidiOutCount uint32

	for i := 0; i < data.CurPluginCount && i < len(data.Plugins); i++ {
		plugin := data.Plugins[i].Plugin
		if plugin == nil || !plugin.IsEnabled() || !plugin.TryLock(offline) {
			continue
		}

		if processed {
			copy(tmp0, out0)
			copy(tmp1, out1)
			clear(out0)
			clear(out1)

			if oldMidiOutCount == 0 && !data.EventsIn.Empty() {
				if !data.EventsOut.Empty() {
					data.EventsIn.Merge(data.EventsOut)
					data.EventsOut.Clear()
				}
			} else {
				data.EventsIn.CopyFrom(data.EventsOut)
				data.EventsOut.Clear()
			}
		}

		audioIns := plugin.AudioInCount()
		oldMidiOutCount = plugin.MidiOutCount()

		plugin.InitBuffers()
		plugin.Process(g.procIn, g.procOut, data.EventsIn, data.EventsOut, frames)
		plugin.Unlock()

		if audioIns == 0 {
			analyze.Add(out0, tmp0)
			analyze.Add(out1, tmp1)
		}

		var ins, outs [2]float32
		if audioIns > 0 {
			ins[0] = analyze.Peak(tmp0)
			ins[1] = analyze.Peak(tmp1)
		}
		if plugin.AudioOutCount() > 0 {
			outs[0] = analyze.Peak(out0)
			outs[1] = analyze.Peak(out1)
		}
		data.Plugins[i].SetPeaks(ins, outs)

		processed = true
	}

	if !processed {
		copy(out0, tmp0)
		copy(out1, tmp1)
		data.EventsOut.CopyFrom(data.EventsIn)
	}
}

// ProcessHelper mixes the connected external inputs onto the two rack
// buses, runs Process, and adds the bus outputs into every connected
// external output. in and out are the device channels; out is accumulated
// into, not cleared. Hardware ports are numbered from 1.
func (g *Graph) ProcessHelper(data *engine.ProcessData, in, out [][]float32, frames uint32) {
	g.audio.mu.Lock()
	defer g.audio.mu.Unlock()

	if frames > g.bufSize {
		return
	}
	bus0 := g.audio.inBuf[0][:frames]
	bus1 := g.audio.inBuf[1][:frames]
	g.gather(bus0, g.audio.connectedIn1, in, frames)
	g.gather(bus1, g.audio.connectedIn2, in, frames)

	res0 := g.audio.outBuf[0][:frames]
	res1 := g.audio.outBuf[1][:frames]
	clear(res0)
	clear(res1)

	g.busIn[0], g.busIn[1] = bus0, bus1
	g.busOut[0], g.busOut[1] = res0, res1
	g.Process(data, g.busIn, g.busOut, frames)

	g.scatter(res0, g.audio.connectedOut1, out, frames)
	g.scatter(res1, g.audio.connectedOut2, out, frames)
}

func (g *Graph) gather(bus []float32, ports *slab.List[uint32], in [][]float32, frames uint32) {
	first := true
	for it := ports.First(); it != slab.End; it = ports.Next(it) {
		port := ports.Value(it)
		if port == 0 || int(port) > len(in) || port > g.inputs {
			continue
		}
		src := in[port-1][:frames]
		if first {
			copy(bus, src)
			first = false
		} else {
			analyze.Add(bus, src)
		}
	}
	if first {
		clear(bus)
	}
}

func (g *Graph) scatter(bus []float32, ports *slab.List[uint32], out [][]float32, frames uint32) {
	for it := ports.First(); it != slab.End; it = ports.Next(it) {
		port := ports.Value(it)
		if port == 0 || int(port) > len(out) || port > g.outputs {
			continue
		}
		analyze.Add(out[port-1][:frames], bus)
	}
}
