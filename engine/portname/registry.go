package portname

// Port maps an external MIDI endpoint to its ids.
type Port struct {
	Group    uint32
	Port     uint32
	Name     string
	FullName string
}

// Registry holds the external MIDI endpoints known to a rack graph.
// Lookups are linear; the lists hold a handful of devices.
type Registry struct {
	ins  []Port
	outs []Port
}

// Add registers an endpoint on the input or output side.
func (r *Registry) Add(isInput bool, p Port) {
	if isInput {
		r.ins = append(r.ins, p)
	} else {
		r.outs = append(r.outs, p)
	}
}

// Clear forgets every endpoint.
func (r *Registry) Clear() {
	r.ins = r.ins[:0]
	r.outs = r.outs[:0]
}

// Ports returns the endpoints of one side.
func (r *Registry) Ports(isInput bool) []Port {
	if isInput {
		return append([]Port(nil), r.ins...)
	}
	return append([]Port(nil), r.outs...)
}

// Name returns the device name registered for port.
func (r *Registry) Name(isInput bool, port uint32) (string, bool) {
	for _, p := range r.side(isInput) {
		if p.Port == port {
			return p.Name, true
		}
	}
	return "", false
}

// PortID returns the port id registered for a device name.
func (r *Registry) PortID(isInput bool, name string) (uint32, bool) {
	for _, p := range r.side(isInput) {
		if p.Name == name {
			return p.Port, true
		}
	}
	return 0, false
}

func (r *Registry) side(isInput bool) []Port {
	if isInput {
		return r.ins
	}
	return r.outs
}
