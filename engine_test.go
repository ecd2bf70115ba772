package patchbay

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"gitlab.com/gomidi/midi/v2/drivers/testdrv"

	"github.com/shaban/patchbay/engine"
	"github.com/shaban/patchbay/engine/graph"
	"github.com/shaban/patchbay/engine/patchbay"
	"github.com/shaban/patchbay/engine/portname"
	"github.com/shaban/patchbay/engine/spec"
	"github.com/shaban/patchbay/internal/testutil"
	"github.com/shaban/patchbay/plugins"
)

const frames = 64

func newEngine(t *testing.T, s spec.Spec) (*Engine, *testutil.Recorder) {
	t.Helper()
	if s.BufferSize == 0 {
		s.BufferSize = frames
	}
	rec := testutil.NewRecorder()
	e, err := NewEngine(EngineConfig{Spec: s, Callback: rec.Record})
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e, rec
}

func rackPassthrough(t *testing.T, e *Engine) {
	t.Helper()
	pairs := [][4]uint32{
		{portname.GroupAudioIn, 1, portname.GroupCarla, portname.CarlaPortAudioIn1},
		{portname.GroupAudioIn, 2, portname.GroupCarla, portname.CarlaPortAudioIn2},
		{portname.GroupCarla, portname.CarlaPortAudioOut1, portname.GroupAudioOut, 1},
		{portname.GroupCarla, portname.CarlaPortAudioOut2, portname.GroupAudioOut, 2},
	}
	for _, p := range pairs {
		if !e.PatchbayConnect(p[0], p[1], p[2], p[3]) {
			t.Fatalf("connect %v: %s", p, e.LastError())
		}
	}
}

func TestEngineCreation(t *testing.T) {
	e, _ := newEngine(t, spec.Spec{})

	if e.IsRunning() {
		t.Error("Engine should not be running initially")
	}
	if e.Mode() != graph.ModeRack {
		t.Errorf("default mode should be rack, got %v", e.Mode())
	}
	cfg := e.Config()
	if cfg.Name != "patchbay" || cfg.SampleRate != spec.DefaultSampleRate || cfg.BufferSize != frames {
		t.Errorf("unexpected config %+v", cfg)
	}
	if e.Name() != cfg.Name {
		t.Errorf("name %q, config name %q", e.Name(), cfg.Name)
	}
	if e.PluginCount() != 0 || len(e.PatchbayConnections()) != 0 {
		t.Error("new engine should be empty")
	}
	if e.GetDispatcher() == nil || e.GetSerializer() == nil || e.MIDI() == nil {
		t.Fatal("engine parts not wired")
	}
	if !e.GetDispatcher().IsRunning() {
		t.Error("dispatcher should run after creation")
	}
}

func TestEngineInvalidSpec(t *testing.T) {
	cases := map[string]spec.Spec{
		"mode":        {Mode: "modular"},
		"buffer":      {BufferSize: 3},
		"sample rate": {SampleRate: 1},
	}
	for name, s := range cases {
		if _, err := NewEngine(EngineConfig{Spec: s}); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}
}

func TestEngineStartStop(t *testing.T) {
	e, rec := newEngine(t, spec.Spec{Mode: "patchbay"})

	if err := e.Start(); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}
	if !e.IsRunning() {
		t.Error("Engine should be running after start")
	}
	if err := e.Start(); err == nil {
		t.Error("second start should fail")
	}

	started := rec.Filter(engine.CallbackEngineStarted)
	if len(started) != 1 {
		t.Fatalf("expected one ENGINE_STARTED, got %d", len(started))
	}
	ev := started[0]
	if ev.Engine != e.ID() {
		t.Errorf("event engine %v, want %v", ev.Engine, e.ID())
	}
	if ev.Value1 != int32(graph.ModePatchbay) || ev.Value2 != frames || ev.Value3 != int32(spec.DefaultSampleRate) || ev.Str != "patchbay" {
		t.Errorf("unexpected ENGINE_STARTED %+v", ev)
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Failed to stop engine: %v", err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("second stop: %v", err)
	}
	if e.IsRunning() {
		t.Error("Engine should not be running after stop")
	}
	if n := rec.Count(engine.CallbackEngineStopped); n != 1 {
		t.Errorf("expected one ENGINE_STOPPED, got %d", n)
	}
}

func TestLastError(t *testing.T) {
	e, _ := newEngine(t, spec.Spec{})

	if _, ok := e.PatchbayNode(0); ok {
		t.Error("rack mode has no patchbay nodes")
	}
	if e.PatchbayConnect(portname.GroupCarla, portname.CarlaPortAudioIn1, portname.GroupCarla, portname.CarlaPortAudioOut1) {
		t.Fatal("carla to carla accepted")
	}
	if got := e.LastError(); got != "Invalid rack connection" {
		t.Errorf("last error %q", got)
	}
	if e.PatchbayDisconnect(42) {
		t.Fatal("unknown connection removed")
	}
	if got := e.LastError(); got != "Failed to find connection" {
		t.Errorf("last error %q", got)
	}
	if e.SetIgnorePatchbay(true) {
		t.Fatal("ignore patchbay accepted in rack mode")
	}
	if got := e.LastError(); got != "Unsupported operation" {
		t.Errorf("last error %q", got)
	}
	if e.AddPlugin(nil) {
		t.Fatal("nil plugin added")
	}
	if got := e.LastError(); got != "Invalid plugin" {
		t.Errorf("last error %q", got)
	}
	if e.SetBufferSize(3) || e.SetSampleRate(10) {
		t.Fatal("out of range settings accepted")
	}
}

func TestRackPassthrough(t *testing.T) {
	e, _ := newEngine(t, spec.Spec{})
	rackPassthrough(t, e)

	out := testutil.Channels(2, frames)
	e.Process(testutil.ConstBlock(frames, 1, -0.5), out, frames)
	testutil.RequireConst32(t, out[0], 1, 0)
	testutil.RequireConst32(t, out[1], -0.5, 0)

	if _, _, ok := e.PluginPeaks(0); ok {
		t.Error("peaks reported without plugins")
	}
	if e.Frame() != frames {
		t.Errorf("frame %d after one block", e.Frame())
	}
}

func TestRackGainPlugin(t *testing.T) {
	e, _ := newEngine(t, spec.Spec{})
	rackPassthrough(t, e)

	gain := plugins.NewGain(7, "gain", 2, 0.5)
	if !e.AddPlugin(gain) {
		t.Fatalf("add plugin: %s", e.LastError())
	}
	if gain.ID() != 0 {
		t.Errorf("plugin id %d, want 0", gain.ID())
	}

	out := testutil.Channels(2, frames)
	e.Process(testutil.ConstBlock(frames, 1, -0.5), out, frames)
	testutil.RequireConst32(t, out[0], 0.5, 1e-6)
	testutil.RequireConst32(t, out[1], -0.25, 1e-6)

	ins, outs, ok := e.PluginPeaks(0)
	if !ok {
		t.Fatal("no peaks for plugin 0")
	}
	if ins[0] != 1 || ins[1] != 0.5 {
		t.Errorf("input peaks %v", ins)
	}
	if outs[0] != 0.5 || outs[1] != 0.25 {
		t.Errorf("output peaks %v", outs)
	}
}

func TestRackGeneratorPassesUpstream(t *testing.T) {
	e, _ := newEngine(t, spec.Spec{})
	rackPassthrough(t, e)
	if !e.AddPlugin(plugins.NewSilence(0, "silence", 2)) {
		t.Fatal(e.LastError())
	}

	out := testutil.Channels(2, frames)
	e.Process(testutil.ConstBlock(frames, 1, 1), out, frames)
	testutil.RequireConst32(t, out[0], 1, 0)
	testutil.RequireConst32(t, out[1], 1, 0)
}

func TestRackDisconnectByID(t *testing.T) {
	e, rec := newEngine(t, spec.Spec{})
	pairs := [][4]uint32{
		{portname.GroupAudioIn, 1, portname.GroupCarla, portname.CarlaPortAudioIn1},
		{portname.GroupAudioIn, 2, portname.GroupCarla, portname.CarlaPortAudioIn2},
		{portname.GroupCarla, portname.CarlaPortAudioOut1, portname.GroupAudioOut, 1},
	}
	for _, p := range pairs {
		if !e.PatchbayConnect(p[0], p[1], p[2], p[3]) {
			t.Fatal(e.LastError())
		}
	}
	added := rec.Filter(engine.CallbackPatchbayConnectionAdded)
	if len(added) != 3 {
		t.Fatalf("expected 3 CONNECTION_ADDED, got %d", len(added))
	}
	a, b, c := added[0].ID, added[1].ID, added[2].ID
	if !(a < b && b < c) {
		t.Fatalf("ids not increasing: %d %d %d", a, b, c)
	}

	if !e.PatchbayDisconnect(b) {
		t.Fatal(e.LastError())
	}
	want := []string{"AudioIn:1", "Carla:AudioIn1", "Carla:AudioOut1", "AudioOut:1"}
	got := e.PatchbayConnections()
	if len(got) != len(want) {
		t.Fatalf("connections %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("connections %v, want %v", got, want)
		}
	}
	removed := rec.Filter(engine.CallbackPatchbayConnectionRemoved)
	if len(removed) != 1 || removed[0].ID != b {
		t.Errorf("CONNECTION_REMOVED %+v", removed)
	}

	if e.PatchbayDisconnect(b) {
		t.Fatal("second disconnect succeeded")
	}
	if e.LastError() != "Failed to find connection" {
		t.Errorf("last error %q", e.LastError())
	}
}

func TestPluginRenumbering(t *testing.T) {
	for _, mode := range []string{"rack", "patchbay"} {
		t.Run(mode, func(t *testing.T) {
			e, _ := newEngine(t, spec.Spec{Mode: mode})
			g := []*plugins.Gain{
				plugins.NewGain(0, "a", 2, 1),
				plugins.NewGain(0, "b", 2, 1),
				plugins.NewGain(0, "c", 2, 1),
			}
			for _, p := range g {
				if !e.AddPlugin(p) {
					t.Fatal(e.LastError())
				}
			}
			if e.PluginCount() != 3 {
				t.Fatalf("plugin count %d", e.PluginCount())
			}
			if !e.RemovePlugin(1) {
				t.Fatal(e.LastError())
			}
			if e.PluginCount() != 2 {
				t.Fatalf("plugin count %d after remove", e.PluginCount())
			}
			if e.Plugin(1) != engine.Plugin(g[2]) || g[2].ID() != 1 {
				t.Errorf("plugin c should move to id 1, has %d", g[2].ID())
			}
			if e.Plugin(2) != nil {
				t.Error("slot 2 should be empty")
			}
			if e.RemovePlugin(5) {
				t.Error("removed a missing plugin")
			}
			if e.LastError() != "Invalid plugin" {
				t.Errorf("last error %q", e.LastError())
			}
			if mode == "patchbay" {
				if _, ok := e.PatchbayNode(1); !ok {
					t.Error("node for renumbered plugin missing")
				}
				if _, ok := e.PatchbayNode(2); ok {
					t.Error("stale node for plugin 2")
				}
			}

			if !e.RemoveAllPlugins() || e.PluginCount() != 0 {
				t.Fatal("remove all plugins")
			}
		})
	}
}

func TestPluginLimit(t *testing.T) {
	e, _ := newEngine(t, spec.Spec{})
	for i := 0; i < engine.MaxPlugins; i++ {
		if !e.AddPlugin(plugins.NewGain(0, "g", 2, 1)) {
			t.Fatalf("add plugin %d: %s", i, e.LastError())
		}
	}
	if e.AddPlugin(plugins.NewGain(0, "g", 2, 1)) {
		t.Fatal("added a plugin past the limit")
	}
	if e.LastError() != "Maximum number of plugins reached" {
		t.Errorf("last error %q", e.LastError())
	}
}

func patchbayNode(t *testing.T, e *Engine, pluginID uint32) uint32 {
	t.Helper()
	node, ok := e.PatchbayNode(pluginID)
	if !ok {
		t.Fatalf("no node for plugin %d", pluginID)
	}
	return node
}

func TestPatchbayGainAndPeaks(t *testing.T) {
	e, _ := newEngine(t, spec.Spec{Mode: "patchbay"})
	if !e.AddPlugin(plugins.NewGain(0, "gain", 2, 0.5)) {
		t.Fatal(e.LastError())
	}
	node := patchbayNode(t, e, 0)
	for ch := uint32(0); ch < 2; ch++ {
		if !e.PatchbayConnect(patchbay.AudioInputNode, portname.AudioOutputOffset+ch, node, portname.AudioInputOffset+ch) {
			t.Fatal(e.LastError())
		}
		if !e.PatchbayConnect(node, portname.AudioOutputOffset+ch, patchbay.AudioOutputNode, portname.AudioInputOffset+ch) {
			t.Fatal(e.LastError())
		}
	}

	out := testutil.Channels(2, frames)
	e.Process(testutil.ConstBlock(frames, 1, -0.5), out, frames)
	testutil.RequireConst32(t, out[0], 0.5, 1e-6)
	testutil.RequireConst32(t, out[1], -0.25, 1e-6)

	ins, outs, ok := e.PluginPeaks(0)
	if !ok || ins[0] != 1 || outs[0] != 0.5 {
		t.Errorf("peaks %v %v %v", ins, outs, ok)
	}
}

func TestPatchbayCycleRejected(t *testing.T) {
	e, rec := newEngine(t, spec.Spec{Mode: "patchbay"})
	for _, name := range []string{"p1", "p2"} {
		if !e.AddPlugin(plugins.NewGain(0, name, 2, 1)) {
			t.Fatal(e.LastError())
		}
	}
	p1, p2 := patchbayNode(t, e, 0), patchbayNode(t, e, 1)

	if !e.PatchbayConnect(p1, portname.AudioOutputOffset, p2, portname.AudioInputOffset) {
		t.Fatal(e.LastError())
	}
	rec.Reset()
	if e.PatchbayConnect(p2, portname.AudioOutputOffset, p1, portname.AudioInputOffset) {
		t.Fatal("cycle accepted")
	}
	if e.LastError() != "Failed from node graph" {
		t.Errorf("last error %q", e.LastError())
	}
	if n := rec.Count(engine.CallbackPatchbayConnectionAdded); n != 0 {
		t.Errorf("rejected connect emitted %d events", n)
	}
}

func TestPatchbayReplacePlugin(t *testing.T) {
	e, rec := newEngine(t, spec.Spec{Mode: "patchbay"})
	p := plugins.NewGain(0, "p", 2, 1)
	if !e.AddPlugin(p) {
		t.Fatal(e.LastError())
	}
	if !e.PatchbayConnect(patchbay.AudioInputNode, portname.AudioOutputOffset, patchbayNode(t, e, 0), portname.AudioInputOffset) {
		t.Fatal(e.LastError())
	}

	if e.ReplacePlugin(0, p) {
		t.Fatal("replaced a plugin with itself")
	}
	rec.Reset()
	q := plugins.NewGain(0, "q", 2, 1)
	if !e.ReplacePlugin(0, q) {
		t.Fatal(e.LastError())
	}
	if e.Plugin(0) != engine.Plugin(q) || q.ID() != 0 {
		t.Fatal("replacement not in slot 0")
	}
	if !e.PatchbayRefresh() {
		t.Fatal(e.LastError())
	}
	if got := e.PatchbayConnections(); len(got) != 0 {
		t.Errorf("connections survived the replace: %v", got)
	}
	if n := rec.Count(engine.CallbackPatchbayConnectionRemoved); n != 1 {
		t.Errorf("expected one CONNECTION_REMOVED, got %d", n)
	}
	if rec.Count(engine.CallbackPatchbayClientRemoved) == 0 || rec.Count(engine.CallbackPatchbayClientAdded) == 0 {
		t.Error("replace should remove and add a client")
	}
}

func TestPatchbayIgnore(t *testing.T) {
	e, rec := newEngine(t, spec.Spec{Mode: "patchbay"})
	if !e.SetIgnorePatchbay(true) {
		t.Fatal(e.LastError())
	}
	rec.Reset()
	if !e.AddPlugin(plugins.NewGain(0, "quiet", 2, 1)) {
		t.Fatal(e.LastError())
	}
	if n := rec.Count(engine.CallbackPatchbayClientAdded); n != 0 {
		t.Errorf("ignored plugin announced %d clients", n)
	}
	if !e.SetIgnorePatchbay(false) {
		t.Fatal(e.LastError())
	}
	if !e.AddPlugin(plugins.NewGain(0, "loud", 2, 1)) {
		t.Fatal(e.LastError())
	}
	if n := rec.Count(engine.CallbackPatchbayClientAdded); n != 1 {
		t.Errorf("expected one CLIENT_ADDED, got %d", n)
	}
}

func TestSetBufferSizeKeepsConnections(t *testing.T) {
	for _, mode := range []string{"rack", "patchbay"} {
		t.Run(mode, func(t *testing.T) {
			e, _ := newEngine(t, spec.Spec{Mode: mode})
			if mode == "rack" {
				rackPassthrough(t, e)
			} else {
				if !e.AddPlugin(plugins.NewGain(0, "g", 2, 1)) {
					t.Fatal(e.LastError())
				}
				node := patchbayNode(t, e, 0)
				if !e.PatchbayConnect(patchbay.AudioInputNode, portname.AudioOutputOffset, node, portname.AudioInputOffset) ||
					!e.PatchbayConnect(node, portname.AudioOutputOffset, patchbay.AudioOutputNode, portname.AudioInputOffset) {
					t.Fatal(e.LastError())
				}
			}

			before := e.PatchbayConnections()
			if !e.SetBufferSize(256) {
				t.Fatal(e.LastError())
			}
			after := e.PatchbayConnections()
			if len(before) == 0 || len(before) != len(after) {
				t.Fatalf("before %v after %v", before, after)
			}
			for i := range before {
				if before[i] != after[i] {
					t.Fatalf("before %v after %v", before, after)
				}
			}
			if e.Config().BufferSize != 256 {
				t.Errorf("config buffer size %d", e.Config().BufferSize)
			}

			out := testutil.Channels(2, 256)
			e.Process(testutil.ConstBlock(256, 0.25, 0.25), out, 256)
			testutil.RequireConst32(t, out[0], 0.25, 1e-6)
		})
	}
}

func TestSettings(t *testing.T) {
	e, _ := newEngine(t, spec.Spec{Mode: "patchbay"})
	if !e.SetSampleRate(96000) || e.Config().SampleRate != 96000 {
		t.Fatal("sample rate not applied")
	}
	if e.graph.Patchbay().SampleRate() != 96000 {
		t.Error("graph did not see the sample rate")
	}
	if !e.SetOffline(true) || !e.Config().Offline {
		t.Fatal("offline not applied")
	}
}

// Settings that touch the graph must not race a block in flight.
func TestSettingsWhileProcessing(t *testing.T) {
	for _, mode := range []string{"rack", "patchbay"} {
		t.Run(mode, func(t *testing.T) {
			e, _ := newEngine(t, spec.Spec{Mode: mode})
			if !e.AddPlugin(plugins.NewGain(0, "gain", 2, 0.5)) {
				t.Fatal(e.LastError())
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			var blocks atomic.Int64
			audio := make(chan struct{})
			go func() {
				defer close(audio)
				in := testutil.ConstBlock(frames, 1, 1)
				out := testutil.Channels(2, frames)
				for ctx.Err() == nil {
					e.Process(in, out, frames)
					blocks.Add(1)
				}
			}()

			for i := 0; i < 200; i++ {
				if !e.SetOffline(i%2 == 0) {
					t.Fatalf("set offline: %s", e.LastError())
				}
				rate := 44100.0
				if i%2 == 0 {
					rate = 48000
				}
				if !e.SetSampleRate(rate) {
					t.Fatalf("set sample rate: %s", e.LastError())
				}
			}
			for blocks.Load() == 0 {
				time.Sleep(time.Millisecond)
			}
			cancel()
			<-audio

			cfg := e.Config()
			if cfg.Offline || cfg.SampleRate != 44100 {
				t.Errorf("final config offline=%v rate=%v", cfg.Offline, cfg.SampleRate)
			}
		})
	}
}

func TestRackMidiAutoConnect(t *testing.T) {
	drv := testdrv.New("engine")
	ins, err := drv.Ins()
	if err != nil || len(ins) == 0 {
		t.Fatalf("test driver inputs: %v %v", ins, err)
	}
	outs, err := drv.Outs()
	if err != nil || len(outs) == 0 {
		t.Fatalf("test driver outputs: %v %v", outs, err)
	}
	in, out := ins[0].String(), outs[0].String()

	rec := testutil.NewRecorder()
	e, err := NewEngine(EngineConfig{
		Spec:       spec.Spec{BufferSize: frames, MIDI: spec.MIDI{Inputs: []string{in}, Outputs: []string{out}}},
		Callback:   rec.Record,
		MIDIDriver: drv,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if got := e.MIDI().OpenInputs(); len(got) != 1 || got[0] != in {
		t.Errorf("open inputs %v", got)
	}
	if got := e.MIDI().OpenOutputs(); len(got) != 1 || got[0] != out {
		t.Errorf("open outputs %v", got)
	}
	want := []string{"MidiIn:" + in, "Carla:MidiIn", "Carla:MidiOut", "MidiOut:" + out}
	got := e.PatchbayConnections()
	if len(got) != len(want) {
		t.Fatalf("connections %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("connections %v, want %v", got, want)
		}
	}

	if !e.ClearConnections() {
		t.Fatal(e.LastError())
	}
	if len(e.MIDI().OpenInputs()) != 0 || len(e.MIDI().OpenOutputs()) != 0 {
		t.Error("clear left MIDI ports open")
	}
}

func TestEngineClose(t *testing.T) {
	rec := testutil.NewRecorder()
	e, err := NewEngine(EngineConfig{Spec: spec.Spec{BufferSize: frames}, Callback: rec.Record})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if e.IsRunning() || e.GetDispatcher().IsRunning() {
		t.Error("engine still running after close")
	}
	if rec.Count(engine.CallbackEngineStopped) != 1 {
		t.Error("close should stop the engine")
	}

	out := testutil.ConstBlock(frames, 1, 1)
	e.Process(testutil.ConstBlock(frames, 1, 1), out, frames)
	testutil.RequireConst32(t, out[0], 0, 0)
}
