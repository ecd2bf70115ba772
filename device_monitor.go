package patchbay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shaban/patchbay/devices"
)

// DeviceMonitor polls the MIDI driver for hotplug changes. When the set of
// devices changes it reports additions and removals, closes ports left open
// on removed devices and, in rack mode, refreshes the engine so the MIDI
// groups follow the hardware.
type DeviceMonitor struct {
	engine *Engine
	list   func() (devices.MIDIDevices, error)

	mu              sync.RWMutex
	isRunning       bool
	cancel          context.CancelFunc
	done            chan struct{}
	pollingInterval time.Duration

	// Adaptive polling
	baseInterval  time.Duration
	maxInterval   time.Duration
	noChangeCount int

	known map[string]devices.MIDIDevice

	// Performance tracking
	averageCheckTime time.Duration
	maxCheckTime     time.Duration
	checkCount       int64

	onMidiDeviceAdded   func(device devices.MIDIDevice)
	onMidiDeviceRemoved func(name string)
}

// NewDeviceMonitor creates a monitor for the engine's MIDI driver.
func NewDeviceMonitor(engine *Engine) *DeviceMonitor {
	return &DeviceMonitor{
		engine:          engine,
		list:            engine.midi.Devices,
		pollingInterval: 50 * time.Millisecond,
		baseInterval:    50 * time.Millisecond,
		maxInterval:     200 * time.Millisecond,
	}
}

// Start records the current devices and begins polling.
func (dm *DeviceMonitor) Start() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if dm.isRunning {
		return fmt.Errorf("device monitor is already running")
	}
	current, err := dm.list()
	if err != nil {
		return fmt.Errorf("failed to list MIDI devices: %w", err)
	}
	dm.known = index(current)

	ctx, cancel := context.WithCancel(context.Background())
	dm.cancel = cancel
	dm.done = make(chan struct{})
	dm.isRunning = true
	go dm.monitorLoop(ctx, dm.done)
	return nil
}

// Stop halts polling and waits for the loop to exit.
func (dm *DeviceMonitor) Stop() error {
	dm.mu.Lock()
	if !dm.isRunning {
		dm.mu.Unlock()
		return nil
	}
	dm.isRunning = false
	cancel, done := dm.cancel, dm.done
	dm.mu.Unlock()

	cancel()
	<-done
	return nil
}

// IsRunning returns whether device monitoring is active
func (dm *DeviceMonitor) IsRunning() bool {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.isRunning
}

// SetCallbacks configures device event callbacks. Either may be nil.
func (dm *DeviceMonitor) SetCallbacks(onAdded func(devices.MIDIDevice), onRemoved func(string)) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.onMidiDeviceAdded = onAdded
	dm.onMidiDeviceRemoved = onRemoved
}

// GetPollingInterval returns the current polling interval
func (dm *DeviceMonitor) GetPollingInterval() time.Duration {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.pollingInterval
}

// SetPollingInterval updates the polling interval (minimum 10ms)
func (dm *DeviceMonitor) SetPollingInterval(interval time.Duration) error {
	if interval < 10*time.Millisecond {
		return fmt.Errorf("polling interval cannot be less than 10ms")
	}
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.pollingInterval = interval
	dm.baseInterval = interval
	if dm.maxInterval < interval {
		dm.maxInterval = interval
	}
	return nil
}

func (dm *DeviceMonitor) monitorLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	currentInterval := dm.GetPollingInterval()
	ticker := time.NewTicker(currentInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dm.checkDevices()
			if next := dm.GetPollingInterval(); next != currentInterval {
				ticker.Reset(next)
				currentInterval = next
			}
		}
	}
}

// checkDevices diffs the driver's devices against the last known set.
// It reports whether anything changed. Output write failures counted by
// the audio thread since the last poll are reported here as well.
func (dm *DeviceMonitor) checkDevices() bool {
	dm.engine.midi.ReportSendFailures()

	start := time.Now()
	current, err := dm.list()
	dm.updatePerformanceStats(time.Since(start))
	if err != nil {
		dm.engine.errorHandler.HandleError(fmt.Errorf("MIDI device enumeration failed: %w", err))
		return false
	}

	next := index(current)
	dm.mu.Lock()
	var added []devices.MIDIDevice
	var removed []string
	for name, d := range next {
		if old, ok := dm.known[name]; !ok || old.CanInput() != d.CanInput() || old.CanOutput() != d.CanOutput() {
			added = append(added, d)
		}
	}
	for name := range dm.known {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}
	dm.known = next
	onAdded, onRemoved := dm.onMidiDeviceAdded, dm.onMidiDeviceRemoved
	dm.mu.Unlock()

	if len(added) == 0 && len(removed) == 0 {
		dm.adaptiveSlowdown()
		return false
	}
	dm.adaptiveSpeedup()

	dm.engine.logger.Debug("MIDI devices changed", zap.Int("added", len(added)), zap.Int("removed", len(removed)))
	for _, name := range removed {
		dm.engine.midi.Forget(name)
		if onRemoved != nil {
			onRemoved(name)
		}
	}
	for _, d := range added {
		if onAdded != nil {
			onAdded(d)
		}
	}
	if !dm.engine.Config().Patchbay {
		dm.engine.PatchbayRefresh()
	}
	return true
}

func index(list devices.MIDIDevices) map[string]devices.MIDIDevice {
	m := make(map[string]devices.MIDIDevice, len(list))
	for _, d := range list {
		m[d.Name] = d
	}
	return m
}

func (dm *DeviceMonitor) updatePerformanceStats(elapsed time.Duration) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.checkCount++
	if dm.checkCount == 1 {
		dm.averageCheckTime = elapsed
	} else {
		// EMA with alpha = 0.1
		dm.averageCheckTime = time.Duration(float64(dm.averageCheckTime)*0.9 + float64(elapsed)*0.1)
	}
	if elapsed > dm.maxCheckTime {
		dm.maxCheckTime = elapsed
	}
}

// adaptiveSlowdown stretches the interval after ten quiet polls.
func (dm *DeviceMonitor) adaptiveSlowdown() {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	dm.noChangeCount++
	if dm.noChangeCount > 10 {
		next := time.Duration(float64(dm.pollingInterval) * 1.1)
		if next > dm.maxInterval {
			next = dm.maxInterval
		}
		dm.pollingInterval = next
	}
}

func (dm *DeviceMonitor) adaptiveSpeedup() {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	dm.noChangeCount = 0
	dm.pollingInterval = dm.baseInterval
}

// GetPerformanceStats returns device monitoring performance statistics
func (dm *DeviceMonitor) GetPerformanceStats() (avgTime, maxTime time.Duration, checkCount int64) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	return dm.averageCheckTime, dm.maxCheckTime, dm.checkCount
}

// ForceDeviceCheck runs one poll immediately and reports whether the
// device set changed.
func (dm *DeviceMonitor) ForceDeviceCheck() bool {
	return dm.checkDevices()
}
