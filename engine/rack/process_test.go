package rack

import (
	"testing"

	"github.com/shaban/patchbay/engine"
	"github.com/shaban/patchbay/engine/event"
	"github.com/shaban/patchbay/engine/portname"
	"github.com/shaban/patchbay/internal/testutil"
	"github.com/shaban/patchbay/plugins"
)

func TestProcessHelper_Passthrough(t *testing.T) {
	g, _ := newRack(t, 2, 2)
	connectStereo(t, g)
	data := newData()

	in := testutil.ConstBlock(frames, 1, -0.5)
	out := testutil.Channels(2, frames)
	g.ProcessHelper(data, in, out, frames)

	testutil.RequireConst32(t, out[0], 1, 0)
	testutil.RequireConst32(t, out[1], -0.5, 0)
}

func TestProcessHelper_FanInFanOut(t *testing.T) {
	g, _ := newRack(t, 3, 3)
	for _, p := range []uint32{1, 3} {
		if _, err := g.Connect(portname.GroupAudioIn, p, portname.GroupCarla, portname.CarlaPortAudioIn1); err != nil {
			t.Fatal(err)
		}
	}
	for _, p := range []uint32{2, 3} {
		if _, err := g.Connect(portname.GroupCarla, portname.CarlaPortAudioOut1, portname.GroupAudioOut, p); err != nil {
			t.Fatal(err)
		}
	}

	in := testutil.ConstBlock(frames, 0.25, 9, 0.5)
	out := testutil.Channels(3, frames)
	g.ProcessHelper(newData(), in, out, frames)

	testutil.RequireConst32(t, out[0], 0, 0)
	testutil.RequireConst32(t, out[1], 0.75, 1e-6)
	testutil.RequireConst32(t, out[2], 0.75, 1e-6)
}

func TestProcessHelper_NoConnectionsIsSilent(t *testing.T) {
	g, _ := newRack(t, 2, 2)
	in := testutil.ConstBlock(frames, 1, 1)
	out := testutil.Channels(2, frames)
	g.ProcessHelper(newData(), in, out, frames)
	testutil.RequireConst32(t, out[0], 0, 0)
	testutil.RequireConst32(t, out[1], 0, 0)
}

func TestProcess_GainPlugin(t *testing.T) {
	g, _ := newRack(t, 2, 2)
	connectStereo(t, g)
	data := newData(plugins.NewGain(0, "half", 2, 0.5))

	in := testutil.ConstBlock(frames, 1, 0)
	out := testutil.Channels(2, frames)
	g.ProcessHelper(data, in, out, frames)

	testutil.RequireConst32(t, out[0], 0.5, 0)
	if got := data.Plugins[0].OutsPeak(); got[0] != 0.5 || got[1] != 0 {
		t.Fatalf("outs peak: got %v", got)
	}
	if got := data.Plugins[0].InsPeak(); got[0] != 1 || got[1] != 0 {
		t.Fatalf("ins peak: got %v", got)
	}
}

func TestProcess_GeneratorMixesUpstream(t *testing.T) {
	g, _ := newRack(t, 2, 2)
	connectStereo(t, g)
	data := newData(plugins.NewSilence(0, "silence", 2))

	in := testutil.ConstBlock(frames, 1, 0)
	out := testutil.Channels(2, frames)
	g.ProcessHelper(data, in, out, frames)

	testutil.RequireConst32(t, out[0], 1, 0)
	if got := data.Plugins[0].InsPeak(); got != [2]float32{} {
		t.Fatalf("generator has no inputs, ins peak should be zero: %v", got)
	}
	if got := data.Plugins[0].OutsPeak(); got[0] != 1 {
		t.Fatalf("outs peak should include mixed upstream: %v", got)
	}
}

func TestProcess_ChainAndSkips(t *testing.T) {
	g, _ := newRack(t, 2, 2)
	connectStereo(t, g)

	first := plugins.NewGain(0, "a", 2, 0.5)
	disabled := plugins.NewGain(1, "b", 2, 0)
	disabled.SetEnabled(false)
	busy := plugins.NewGain(2, "c", 2, 0)
	last := plugins.NewGain(3, "d", 2, 0.5)
	data := newData(first, disabled, busy, last)

	busy.Lock()
	defer busy.Unlock()

	in := testutil.ConstBlock(frames, 1, 1)
	out := testutil.Channels(2, frames)
	g.ProcessHelper(data, in, out, frames)

	testutil.RequireConst32(t, out[0], 0.25, 0)
	testutil.RequireConst32(t, out[1], 0.25, 0)
	if got := data.Plugins[3].InsPeak(); got[0] != 0.5 {
		t.Fatalf("last plugin should see the first plugin's output, ins peak %v", got)
	}
}

func TestProcess_PeaksClamped(t *testing.T) {
	g, _ := newRack(t, 2, 2)
	connectStereo(t, g)
	data := newData(plugins.NewGain(0, "loud", 2, 8))

	in := testutil.ConstBlock(frames, 1, -1)
	out := testutil.Channels(2, frames)
	g.ProcessHelper(data, in, out, frames)

	for _, p := range [][2]float32{data.Plugins[0].InsPeak(), data.Plugins[0].OutsPeak()} {
		for _, v := range p {
			if v < 0 || v > 1 {
				t.Fatalf("peak %v outside [0,1]", v)
			}
		}
	}
}

func TestProcess_EventsForwardBetweenMidiPlugins(t *testing.T) {
	g, _ := newRack(t, 2, 2)
	note := event.Event{Type: event.TypeMIDI, Time: 4, Midi: event.MIDI{Size: 3, Data: [4]byte{0x90, 60, 100}}}
	src := plugins.NewNoteSource(0, "notes", 2, note)
	thru := plugins.NewMIDIThrough(1, "thru")
	thru.SetChannel(7)
	data := newData(src, thru)

	in := testutil.Channels(2, frames)
	out := testutil.Channels(2, frames)
	g.Process(data, in, out, frames)

	if data.EventsOut.Len() != 1 {
		t.Fatalf("want 1 output event, got %d", data.EventsOut.Len())
	}
	if e := data.EventsOut[0]; e.Channel != 7 || e.Time != 4 {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestProcess_EventsBypassPluginWithoutMidiOut(t *testing.T) {
	g, _ := newRack(t, 2, 2)
	gain := plugins.NewGain(0, "gain", 2, 1)
	thru := plugins.NewMIDIThrough(1, "thru")
	data := newData(gain, thru)
	data.EventsIn.Append(event.Event{Type: event.TypeMIDI, Time: 1, Channel: 2})

	g.Process(data, testutil.Channels(2, frames), testutil.Channels(2, frames), frames)

	if data.EventsOut.Len() != 1 || data.EventsOut[0].Channel != 2 {
		t.Fatalf("input events should reach the MIDI plugin past the gain, got %d", data.EventsOut.Len())
	}
}

// leaky declares no MIDI outputs but writes to the event output anyway.
type leaky struct {
	*plugins.Gain
	ev event.Event
}

func (l leaky) Process(in, out [][]float32, evIn, evOut *event.Buffer, frames uint32) {
	l.Gain.Process(in, out, evIn, evOut, frames)
	evOut.Append(l.ev)
}

func TestProcess_StrayEventsMergedByTime(t *testing.T) {
	g, _ := newRack(t, 2, 2)
	l := leaky{Gain: plugins.NewGain(0, "leaky", 2, 1), ev: event.Event{Type: event.TypeMIDI, Time: 5, Channel: 9}}
	thru := plugins.NewMIDIThrough(1, "thru")
	data := newData(l, thru)
	data.EventsIn.Append(event.Event{Type: event.TypeMIDI, Time: 2, Channel: 1})
	data.EventsIn.Append(event.Event{Type: event.TypeMIDI, Time: 8, Channel: 1})

	g.Process(data, testutil.Channels(2, frames), testutil.Channels(2, frames), frames)

	want := []uint8{1, 9, 1}
	if data.EventsOut.Len() != len(want) {
		t.Fatalf("want %d events, got %d", len(want), data.EventsOut.Len())
	}
	for i, ch := range want {
		if data.EventsOut[i].Channel != ch {
			t.Fatalf("event %d: want channel %d got %d", i, ch, data.EventsOut[i].Channel)
		}
	}
}

func TestSetBufferSize_KeepsTopology(t *testing.T) {
	g, _ := newRack(t, 2, 2)
	connectStereo(t, g)
	before := g.Connections()
	g.SetBufferSize(256)
	after := g.Connections()
	if len(before) != len(after) {
		t.Fatalf("before %v after %v", before, after)
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("before %v after %v", before, after)
		}
	}

	in := testutil.ConstBlock(256, 0.5, 0.5)
	out := testutil.Channels(2, 256)
	g.ProcessHelper(newData(), in, out, 256)
	testutil.RequireConst32(t, out[0], 0.5, 0)
}

func TestProcess_DoesNotAllocate(t *testing.T) {
	g, _ := newRack(t, 2, 2)
	connectStereo(t, g)
	data := newData(plugins.NewGain(0, "g", 2, 0.5), plugins.NewSilence(1, "s", 2))
	in := testutil.ConstBlock(frames, 1, 1)
	out := testutil.Channels(2, frames)

	allocs := testing.AllocsPerRun(50, func() {
		g.ProcessHelper(data, in, out, frames)
	})
	if allocs != 0 {
		t.Fatalf("process allocated %.1f times per block", allocs)
	}
}

var _ engine.Plugin = leaky{}

func TestProcess_EmptyRackPassesEvents(t *testing.T) {
	g, _ := newRack(t, 2, 2)
	data := newData()
	data.EventsIn.Append(event.Event{Type: event.TypeControl, Ctrl: event.Control{Type: event.ControlAllNotesOff}})
	g.Process(data, testutil.ConstBlock(frames, 0.1, 0.2), testutil.Channels(2, frames), frames)
	if data.EventsOut.Len() != 1 {
		t.Fatalf("empty rack should forward events, got %d", data.EventsOut.Len())
	}
}
