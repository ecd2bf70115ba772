package patchbay

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shaban/patchbay/engine/queue"
)

// OperationType names a serialized control operation.
type OperationType string

const (
	OpConnect          OperationType = "connect"
	OpDisconnect       OperationType = "disconnect"
	OpRefresh          OperationType = "refresh"
	OpClearConnections OperationType = "clear_connections"
	OpAddPlugin        OperationType = "add_plugin"
	OpReplacePlugin    OperationType = "replace_plugin"
	OpRemovePlugin     OperationType = "remove_plugin"
	OpRemoveAllPlugins OperationType = "remove_all_plugins"
	OpSetBufferSize    OperationType = "set_buffer_size"
	OpSetSampleRate    OperationType = "set_sample_rate"
	OpSetOffline       OperationType = "set_offline"
)

// slowOperation is the duration above which an operation is reported.
const slowOperation = 300 * time.Millisecond

// Dispatcher runs topology changes one at a time on the queue worker and
// tracks how long they take.
type Dispatcher struct {
	ops          *queue.Dispatcher
	errorHandler ErrorHandler
	logger       *zap.Logger

	mu        sync.RWMutex
	isRunning bool

	// Performance tracking
	lastOperationDuration time.Duration
	maxOperationDuration  time.Duration
	counts                map[OperationType]uint64
}

// NewDispatcher creates a dispatcher over ops. It is not started.
func NewDispatcher(ops *queue.Dispatcher, errorHandler ErrorHandler, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		ops:          ops,
		errorHandler: errorHandler,
		logger:       logger,
		counts:       make(map[OperationType]uint64),
	}
}

// Start begins the worker goroutine.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isRunning {
		return fmt.Errorf("dispatcher is already running")
	}
	d.ops.Start()
	d.isRunning = true
	return nil
}

// Stop halts the worker. Operations submitted afterwards fail.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isRunning {
		return nil
	}
	d.ops.Close()
	d.isRunning = false
	return nil
}

// IsRunning returns whether the dispatcher is active.
func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isRunning
}

// GetPerformanceStats returns the last and the longest operation duration.
func (d *Dispatcher) GetPerformanceStats() (lastDuration, maxDuration time.Duration) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastOperationDuration, d.maxOperationDuration
}

// OperationCount returns how many operations of type op have run.
func (d *Dispatcher) OperationCount(op OperationType) uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.counts[op]
}

// run executes fn, which must itself go through the queue, and records
// its duration.
func (d *Dispatcher) run(op OperationType, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start)

	d.mu.Lock()
	d.lastOperationDuration = duration
	if duration > d.maxOperationDuration {
		d.maxOperationDuration = duration
	}
	d.counts[op]++
	d.mu.Unlock()

	if duration > slowOperation && d.errorHandler != nil {
		d.errorHandler.HandleError(fmt.Errorf("%s took %v, target is under %v", op, duration, slowOperation))
	}
	d.logger.Debug("operation", zap.String("op", string(op)), zap.Duration("took", duration), zap.Error(err))
	return err
}
