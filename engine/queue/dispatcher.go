package queue

import (
	"context"
	"fmt"

	"github.com/shaban/patchbay/engine"
	"github.com/shaban/patchbay/engine/graph"
	"github.com/shaban/patchbay/engine/rack"
)

// Dispatcher wraps the internal graph and applies topology changes via a
// Queue. Call Start once and Close when done. Graph methods run
// synchronously on the worker so callers keep their result.
type Dispatcher struct {
	G *graph.Graph
	Q *Queue
}

func NewDispatcher(g *graph.Graph, q *Queue) *Dispatcher {
	if q == nil {
		q = New(32, nil)
	}
	return &Dispatcher{G: g, Q: q}
}

func (d *Dispatcher) Start() { d.Q.Start() }
func (d *Dispatcher) Close() { d.Q.Close() }

// Enqueue schedules an operation without waiting for it.
func (d *Dispatcher) Enqueue(op Op) error {
	if d == nil || d.Q == nil {
		return nil
	}
	return d.Q.Enqueue(op)
}

// RunSync enqueues fn and waits for it to complete, returning its error.
// Before Start, fn runs on the caller's goroutine.
func (d *Dispatcher) RunSync(fn Func) error {
	if d == nil || d.Q == nil || !d.Q.Started() {
		return fn(context.Background())
	}
	done := make(chan error, 1)
	if err := d.Q.Enqueue(Func(func(ctx context.Context) error {
		err := fn(ctx)
		select {
		case done <- err:
		default:
		}
		return err
	})); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-d.Q.Done():
		// the drain may still have run it
		select {
		case err := <-done:
			return err
		default:
			return context.Canceled
		}
	}
}

func (d *Dispatcher) Connect(groupA, portA, groupB, portB uint32) (uint64, error) {
	var id uint64
	err := d.RunSync(func(ctx context.Context) error {
		var err error
		id, err = d.G.Connect(groupA, portA, groupB, portB)
		return err
	})
	return id, err
}

// ConnectByName resolves two full port names and connects them in one
// worker step, so a refresh cannot renumber the ports in between. A name
// that does not resolve yields engine.ErrNotFound.
func (d *Dispatcher) ConnectByName(source, target string) (uint64, error) {
	var id uint64
	err := d.RunSync(func(ctx context.Context) error {
		ga, pa, ok := d.G.GroupAndPortIDFromFullName(source)
		if !ok {
			return fmt.Errorf("port %q: %w", source, engine.ErrNotFound)
		}
		gb, pb, ok := d.G.GroupAndPortIDFromFullName(target)
		if !ok {
			return fmt.Errorf("port %q: %w", target, engine.ErrNotFound)
		}
		var err error
		id, err = d.G.Connect(ga, pa, gb, pb)
		return err
	})
	return id, err
}

func (d *Dispatcher) Disconnect(id uint64) error {
	return d.RunSync(func(ctx context.Context) error {
		return d.G.Disconnect(id)
	})
}

func (d *Dispatcher) ClearConnections() error {
	return d.RunSync(func(ctx context.Context) error {
		return d.G.ClearConnections()
	})
}

func (d *Dispatcher) Refresh(info rack.RefreshInfo) error {
	return d.RunSync(func(ctx context.Context) error {
		return d.G.Refresh(info)
	})
}
