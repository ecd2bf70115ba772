// Package connection keeps the list of reported connections of a graph and
// hands out their ids.
package connection

import (
	"fmt"

	"github.com/shaban/patchbay/internal/slab"
)

// Connection is one reported edge between two (group, port) endpoints.
type Connection struct {
	ID     uint64
	GroupA uint32
	PortA  uint32
	GroupB uint32
	PortB  uint32
}

// String formats the endpoints the way connection-added events carry them.
func (c Connection) String() string {
	return fmt.Sprintf("%d:%d:%d:%d", c.GroupA, c.PortA, c.GroupB, c.PortB)
}

// Touches reports whether either endpoint belongs to group.
func (c Connection) Touches(group uint32) bool {
	return c.GroupA == group || c.GroupB == group
}

const initialCapacity = 64

// Table is an append-only list of connections plus the id counter. It is
// mutated from the control thread only.
type Table struct {
	list   *slab.List[Connection]
	lastID uint64
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{list: slab.New[Connection](initialCapacity)}
}

// Add allocates the next id and appends the connection.
func (t *Table) Add(groupA, portA, groupB, portB uint32) Connection {
	t.lastID++
	c := Connection{ID: t.lastID, GroupA: groupA, PortA: portA, GroupB: groupB, PortB: portB}
	if !t.list.Append(c) {
		t.list.Reserve(t.list.Cap() * 2)
		t.list.Append(c)
	}
	return c
}

// Get returns the connection with the given id.
func (t *Table) Get(id uint64) (Connection, bool) {
	for i := t.list.First(); i != slab.End; i = t.list.Next(i) {
		if c := t.list.Value(i); c.ID == id {
			return c, true
		}
	}
	return Connection{}, false
}

// Remove drops the connection with the given id.
func (t *Table) Remove(id uint64) (Connection, bool) {
	for i := t.list.First(); i != slab.End; i = t.list.Next(i) {
		if c := t.list.Value(i); c.ID == id {
			t.list.Remove(i)
			return c, true
		}
	}
	return Connection{}, false
}

// Find returns the first connection joining the two endpoints in either
// orientation.
func (t *Table) Find(groupA, portA, groupB, portB uint32) (Connection, bool) {
	for i := t.list.First(); i != slab.End; i = t.list.Next(i) {
		c := t.list.Value(i)
		if c.GroupA == groupA && c.PortA == portA && c.GroupB == groupB && c.PortB == portB {
			return c, true
		}
		if c.GroupA == groupB && c.PortA == portB && c.GroupB == groupA && c.PortB == portA {
			return c, true
		}
	}
	return Connection{}, false
}

// RemoveGroup drops every connection touching group and returns them in
// table order.
func (t *Table) RemoveGroup(group uint32) []Connection {
	var removed []Connection
	for i := t.list.First(); i != slab.End; {
		next := t.list.Next(i)
		if c := t.list.Value(i); c.Touches(group) {
			removed = append(removed, c)
			t.list.Remove(i)
		}
		i = next
	}
	return removed
}

// Clear empties the table and restarts ids at 1.
func (t *Table) Clear() {
	t.list.Clear()
	t.lastID = 0
}

// Truncate empties the table but keeps counting ids from where it was.
func (t *Table) Truncate() {
	t.list.Clear()
}

// Len returns the number of connections.
func (t *Table) Len() int { return t.list.Len() }

// LastID returns the most recently allocated id.
func (t *Table) LastID() uint64 { return t.lastID }

// All returns a copy of the connections in insertion order.
func (t *Table) All() []Connection { return t.list.Values() }
