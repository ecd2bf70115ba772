package devices

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"go.uber.org/zap"

	"github.com/shaban/patchbay/engine/event"
)

// MaxPending bounds the events waiting for the next block.
const MaxPending = 4 * event.Capacity

var ErrNoDriver = errors.New("no midi driver")

type pendingEvent struct {
	frame uint64
	size  uint8
	data  [event.MaxMIDISize]byte
}

type inPort struct {
	port drivers.In
	stop func()
}

type outPort struct {
	name   string
	port   drivers.Out
	send   func(midi.Message) error
	failed atomic.Uint64
}

// Bridge moves MIDI between driver ports and the engine's event buffers.
// Ports are opened and closed from the control thread. Incoming messages
// are stamped with an absolute frame and spliced into the next block by
// the audio thread; the splice never blocks.
type Bridge struct {
	drv     drivers.Driver
	logger  *zap.Logger
	onError func(error)

	mu  sync.Mutex
	ins map[string]*inPort

	outMu      sync.Mutex
	outs       []*outPort
	wire       [event.MaxMIDISize]byte
	sendFailed atomic.Uint64

	pendingMu sync.Mutex
	pending   []pendingEvent
	spare     []pendingEvent
	dropped   atomic.Uint64

	// nextFrame is the absolute frame the next block starts at.
	nextFrame atomic.Uint64
}

// NewBridge wraps drv. onError receives listener errors and the send
// failures collected by ReportSendFailures; it may be nil.
func NewBridge(drv drivers.Driver, logger *zap.Logger, onError func(error)) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Bridge{
		drv:     drv,
		logger:  logger,
		onError: onError,
		ins:     make(map[string]*inPort),
		pending: make([]pendingEvent, 0, MaxPending),
		spare:   make([]pendingEvent, 0, MaxPending),
	}
}

// Devices enumerates the driver's ports.
func (b *Bridge) Devices() (MIDIDevices, error) {
	if b.drv == nil {
		return nil, ErrNoDriver
	}
	return GetMIDI(b.drv)
}

// Inputs and Outputs list the port names the engine can route.
func (b *Bridge) Inputs() []string  { return b.names(true) }
func (b *Bridge) Outputs() []string { return b.names(false) }

func (b *Bridge) names(input bool) []string {
	devices, err := b.Devices()
	if err != nil {
		b.logger.Debug("midi enumeration failed", zap.Error(err))
		return nil
	}
	if input {
		return devices.Inputs().Names()
	}
	return devices.Outputs().Names()
}

// OpenInputs lists the inputs currently feeding the engine.
func (b *Bridge) OpenInputs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.ins))
	for name := range b.ins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenOutputs lists the outputs receiving engine events, in open order.
func (b *Bridge) OpenOutputs() []string {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	names := make([]string, len(b.outs))
	for i, o := range b.outs {
		names[i] = o.name
	}
	return names
}

func (b *Bridge) findIn(name string) (drivers.In, error) {
	if b.drv == nil {
		return nil, ErrNoDriver
	}
	ins, err := b.drv.Ins()
	if err != nil {
		return nil, err
	}
	for _, in := range ins {
		if in.String() == name {
			return in, nil
		}
	}
	return nil, fmt.Errorf("midi input %q not found", name)
}

func (b *Bridge) findOut(name string) (drivers.Out, error) {
	if b.drv == nil {
		return nil, ErrNoDriver
	}
	outs, err := b.drv.Outs()
	if err != nil {
		return nil, err
	}
	for _, out := range outs {
		if out.String() == name {
			return out, nil
		}
	}
	return nil, fmt.Errorf("midi output %q not found", name)
}

// ConnectIn starts listening on the named input. It fails if the port is
// unknown or already open.
func (b *Bridge) ConnectIn(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, open := b.ins[name]; open {
		return false
	}
	in, err := b.findIn(name)
	if err != nil {
		b.logger.Debug("midi input unavailable", zap.String("port", name), zap.Error(err))
		return false
	}
	stop, err := midi.ListenTo(in, func(msg midi.Message, _ int32) {
		b.Push(b.nextFrame.Load(), msg)
	}, midi.HandleError(func(err error) {
		b.onError(fmt.Errorf("midi input %s: %w", name, err))
	}))
	if err != nil {
		b.logger.Debug("midi listen failed", zap.String("port", name), zap.Error(err))
		return false
	}
	b.ins[name] = &inPort{port: in, stop: stop}
	b.logger.Debug("midi input opened", zap.String("port", name))
	return true
}

// DisconnectIn stops listening on the named input.
func (b *Bridge) DisconnectIn(name string) bool {
	b.mu.Lock()
	p, ok := b.ins[name]
	delete(b.ins, name)
	b.mu.Unlock()
	if !ok {
		return false
	}
	p.stop()
	_ = p.port.Close()
	b.logger.Debug("midi input closed", zap.String("port", name))
	return true
}

// ConnectOut starts sending engine events to the named output.
func (b *Bridge) ConnectOut(name string) bool {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	for _, o := range b.outs {
		if o.name == name {
			return false
		}
	}
	out, err := b.findOut(name)
	if err != nil {
		b.logger.Debug("midi output unavailable", zap.String("port", name), zap.Error(err))
		return false
	}
	send, err := midi.SendTo(out)
	if err != nil {
		b.logger.Debug("midi output open failed", zap.String("port", name), zap.Error(err))
		return false
	}
	b.outs = append(b.outs, &outPort{name: name, port: out, send: send})
	b.logger.Debug("midi output opened", zap.String("port", name))
	return true
}

// DisconnectOut stops sending to the named output.
func (b *Bridge) DisconnectOut(name string) bool {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	for i, o := range b.outs {
		if o.name != name {
			continue
		}
		b.outs = append(b.outs[:i], b.outs[i+1:]...)
		_ = o.port.Close()
		b.logger.Debug("midi output closed", zap.String("port", name))
		return true
	}
	return false
}

// Push queues one message at an absolute frame. Messages longer than the
// engine's MIDI size, or beyond MaxPending, are dropped.
func (b *Bridge) Push(frame uint64, data []byte) bool {
	if len(data) == 0 || len(data) > event.MaxMIDISize {
		return false
	}
	p := pendingEvent{frame: frame, size: uint8(len(data))}
	copy(p.data[:], data)

	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	if len(b.pending) == cap(b.pending) {
		b.dropped.Add(1)
		return false
	}
	b.pending = append(b.pending, p)
	return true
}

// Dropped reports how many messages were lost to a full queue, a full
// block or outputs that were busy being opened.
func (b *Bridge) Dropped() uint64 { return b.dropped.Load() }

// Splice moves queued messages into dst for the block starting at
// absolute frame start. Earlier messages land at time 0 and later ones on
// the last frame. If the queue is busy nothing is moved and the messages
// wait for the next block. dst must already be cleared.
func (b *Bridge) Splice(dst *event.Buffer, start uint64, frames uint32) {
	b.nextFrame.Store(start + uint64(frames))
	if frames == 0 || !b.pendingMu.TryLock() {
		return
	}
	b.pending, b.spare = b.spare[:0], b.pending
	b.pendingMu.Unlock()

	n := 0
	for i := range b.spare {
		p := &b.spare[i]
		var t uint32
		switch {
		case p.frame < start:
			t = 0
		case p.frame >= start+uint64(frames):
			t = frames - 1
		default:
			t = uint32(p.frame - start)
		}
		dst[n].FillFromMIDI(0, t, p.data[:p.size])
		if dst[n].Type == event.TypeNull {
			continue
		}
		n++
		if n == event.Capacity {
			b.dropped.Add(uint64(len(b.spare) - i - 1))
			break
		}
	}
	b.spare = b.spare[:0]
}

// Send writes every event of src to every open output. Events without a
// MIDI form are skipped. Send runs on the audio thread: it never blocks on
// the control thread and never reports. If the outputs are being changed
// the block's events are counted as dropped, and failed writes are only
// counted until ReportSendFailures picks them up.
func (b *Bridge) Send(src *event.Buffer) {
	if !b.outMu.TryLock() {
		b.dropped.Add(uint64(src.Len()))
		return
	}
	defer b.outMu.Unlock()
	if len(b.outs) == 0 {
		return
	}
	for i := range src {
		e := &src[i]
		if e.Type == event.TypeNull {
			break
		}
		n := e.ToMIDI(&b.wire)
		if n == 0 {
			continue
		}
		for _, o := range b.outs {
			if o.send(midi.Message(b.wire[:n])) != nil {
				o.failed.Add(1)
				b.sendFailed.Add(1)
			}
		}
	}
}

// SendFailures reports how many writes to an output have failed in total.
func (b *Bridge) SendFailures() uint64 { return b.sendFailed.Load() }

// ReportSendFailures hands one error per output with new failed writes to
// onError and returns how many outputs it reported. Control thread only.
func (b *Bridge) ReportSendFailures() int {
	b.outMu.Lock()
	var errs []error
	for _, o := range b.outs {
		if n := o.failed.Swap(0); n > 0 {
			errs = append(errs, fmt.Errorf("midi output %s: %d writes failed", o.name, n))
		}
	}
	b.outMu.Unlock()
	for _, err := range errs {
		b.onError(err)
	}
	return len(errs)
}

// Forget closes any input or output open on a device that has gone away.
func (b *Bridge) Forget(name string) {
	in := b.DisconnectIn(name)
	out := b.DisconnectOut(name)
	if in || out {
		b.logger.Debug("midi device gone", zap.String("port", name))
	}
}

// Close stops every listener and closes every output.
func (b *Bridge) Close() {
	for _, name := range b.OpenInputs() {
		b.DisconnectIn(name)
	}
	for _, name := range b.OpenOutputs() {
		b.DisconnectOut(name)
	}
}
