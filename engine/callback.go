package engine

import (
	"fmt"

	"github.com/google/uuid"
)

// CallbackOpcode identifies the kind of notification sent to the host's
// listener.
type CallbackOpcode int

const (
	CallbackPatchbayClientAdded CallbackOpcode = iota + 1
	CallbackPatchbayClientRemoved
	CallbackPatchbayPortAdded
	CallbackPatchbayPortRemoved
	CallbackPatchbayConnectionAdded
	CallbackPatchbayConnectionRemoved
	CallbackEngineStarted
	CallbackEngineStopped
	CallbackError
)

func (o CallbackOpcode) String() string {
	switch o {
	case CallbackPatchbayClientAdded:
		return "PATCHBAY_CLIENT_ADDED"
	case CallbackPatchbayClientRemoved:
		return "PATCHBAY_CLIENT_REMOVED"
	case CallbackPatchbayPortAdded:
		return "PATCHBAY_PORT_ADDED"
	case CallbackPatchbayPortRemoved:
		return "PATCHBAY_PORT_REMOVED"
	case CallbackPatchbayConnectionAdded:
		return "PATCHBAY_CONNECTION_ADDED"
	case CallbackPatchbayConnectionRemoved:
		return "PATCHBAY_CONNECTION_REMOVED"
	case CallbackEngineStarted:
		return "ENGINE_STARTED"
	case CallbackEngineStopped:
		return "ENGINE_STOPPED"
	case CallbackError:
		return "ERROR"
	}
	return fmt.Sprintf("CallbackOpcode(%d)", int(o))
}

// Port type flags sent with CallbackPatchbayPortAdded.
const (
	PortTypeAudio = 0x01
	PortTypeMIDI  = 0x02
	PortIsInput   = 0x80
)

// Client icons sent with CallbackPatchbayClientAdded.
const (
	IconApplication = iota
	IconPlugin
	IconHardware
	IconCarla
)

// CallbackEvent is one notification. ID holds the group id for client and
// port events, or the connection id for connection events.
//
//	ClientAdded       ID=group Value1=icon Value2=clientId Str=name
//	ClientRemoved     ID=group
//	PortAdded         ID=group Value1=port Value2=flags   Str=name
//	PortRemoved       ID=group Value1=port
//	ConnectionAdded   ID=conn  Str="ga:pa:gb:pb"
//	ConnectionRemoved ID=conn
type CallbackEvent struct {
	Engine uuid.UUID
	Opcode CallbackOpcode
	ID     uint64
	Value1 int32
	Value2 int32
	Value3 int32
	Str    string
}

// CallbackFunc receives engine notifications. It is never invoked from the
// realtime path.
type CallbackFunc func(CallbackEvent)
