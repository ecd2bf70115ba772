// Package engine holds the contracts shared by the routing graphs, the
// plugins they run and the host that owns them: the Plugin and Host
// interfaces, per-block ProcessData, callback opcodes, port flags and the
// error kinds reported by topology operations.
//
// Subpackages implement the pieces:
//
//	event       engine event model and MIDI conversion
//	connection  connection table with stable ids
//	portname    full-name codec and MIDI port registry
//	rack        fixed stereo rack graph
//	patchbay    general node graph
//	graph       façade selecting rack or patchbay at construction
//	queue       serialised control-thread operation queue
//	spec        YAML configuration
//	analyze     block level metering helpers
package engine
