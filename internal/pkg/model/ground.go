package model

// Ground is an idealized conductor node. Its potential is a solved unknown
// like any bus phase; the only equation it contributes is that the currents
// of its attached connections sum to zero.
type Ground struct {
	Base
	connections []*GroundConnection

	potential complex128
	solved    bool
}

// NewGround returns a free-standing ground node.
func NewGround(id string) (*Ground, error) {
	base, err := NewBase(id)
	if err != nil {
		return nil, err
	}
	return &Ground{Base: base}, nil
}

// Connections returns the ground's attached connections.
func (g *Ground) Connections() []*GroundConnection { return g.connections }

// SetPotential records the solved ground potential.
func (g *Ground) SetPotential(v complex128) {
	g.potential = v
	g.solved = true
}

// ResPotential returns the solved ground potential.
func (g *Ground) ResPotential() (complex128, error) {
	if !g.solved {
		return 0, ErrNoResults
	}
	return g.potential, CheckFresh(g)
}

// GroundConnection ties one phase of one element to a ground through an
// optional series impedance (zero by default). Several connections may share
// a ground.
type GroundConnection struct {
	Base
	ground    *Ground
	element   Element
	phase     byte
	impedance complex128

	current complex128
	solved  bool
}

// Phaser is any element exposing a phase set a ground connection can bind to.
type Phaser interface {
	Element
	HasPhase(ph byte) bool
}

// HasPhase reports whether the bus carries phase ph.
func (b *Bus) HasPhase(ph byte) bool { return b.phases.Index(ph) >= 0 }

// NewGroundConnection ties element's phase ph to the ground through
// impedance z (pass 0 for a bolted connection).
func NewGroundConnection(id string, g *Ground, el Phaser, ph byte, z complex128) (*GroundConnection, error) {
	base, err := NewBase(id)
	if err != nil {
		return nil, err
	}
	if !el.HasPhase(ph) {
		return nil, structuralf("ground connection %q: element %q has no phase %q", id, el.ID(), string(ph))
	}
	gc := &GroundConnection{Base: base, ground: g, element: el, phase: ph, impedance: z}
	Connect(gc, g)
	Connect(gc, el)
	g.connections = append(g.connections, gc)
	if err := PropagateOnAttach(gc); err != nil {
		Unlink(gc, g)
		Unlink(gc, el)
		g.connections = g.connections[:len(g.connections)-1]
		return nil, err
	}
	return gc, nil
}

// Ground returns the connected ground node.
func (gc *GroundConnection) Ground() *Ground { return gc.ground }

// Target returns the connected element and phase.
func (gc *GroundConnection) Target() (Element, byte) { return gc.element, gc.phase }

// Impedance returns the series impedance of the connection.
func (gc *GroundConnection) Impedance() complex128 { return gc.impedance }

// SetCurrent records the solved connection current, flowing toward ground.
func (gc *GroundConnection) SetCurrent(i complex128) {
	gc.current = i
	gc.solved = true
}

// ResCurrent returns the solved connection current.
func (gc *GroundConnection) ResCurrent() (complex128, error) {
	if !gc.solved {
		return 0, ErrNoResults
	}
	return gc.current, CheckFresh(gc)
}

// PotentialRef fixes the potential of exactly one target, a bus phase or a
// ground, to zero. Each galvanically isolated section must carry exactly
// one; the network validates that invariant at assembly.
type PotentialRef struct {
	Base
	bus    *Bus
	phase  byte
	ground *Ground
}

// NewBusRef fixes the potential of one phase of bus to zero.
func NewBusRef(id string, bus *Bus, ph byte) (*PotentialRef, error) {
	base, err := NewBase(id)
	if err != nil {
		return nil, err
	}
	if bus.phases.Index(ph) < 0 {
		return nil, structuralf("potential ref %q: bus %q has no phase %q", id, bus.ID(), string(ph))
	}
	pr := &PotentialRef{Base: base, bus: bus, phase: ph}
	Connect(pr, bus)
	if err := PropagateOnAttach(pr); err != nil {
		Unlink(pr, bus)
		return nil, err
	}
	return pr, nil
}

// NewGroundRef fixes the potential of a ground to zero.
func NewGroundRef(id string, g *Ground) (*PotentialRef, error) {
	base, err := NewBase(id)
	if err != nil {
		return nil, err
	}
	pr := &PotentialRef{Base: base, ground: g}
	Connect(pr, g)
	if err := PropagateOnAttach(pr); err != nil {
		Unlink(pr, g)
		return nil, err
	}
	return pr, nil
}

// BusTarget returns the referenced bus and phase, nil when the target is a
// ground.
func (pr *PotentialRef) BusTarget() (*Bus, byte) { return pr.bus, pr.phase }

// GroundTarget returns the referenced ground, nil when the target is a bus.
func (pr *PotentialRef) GroundTarget() *Ground { return pr.ground }

// PropagateOnAttach pulls a newly constructed element (and anything hanging
// off it) into the network of whichever neighbor already has one. Attaching
// across two different networks is structural.
func PropagateOnAttach(e Element) error {
	var owner Owner
	for _, l := range e.Links() {
		if o := l.Network(); o != nil {
			if owner != nil && owner.PID() != o.PID() {
				return structuralf("element %q bridges two networks", e.ID())
			}
			owner = o
		}
	}
	if owner == nil {
		return nil
	}
	return Propagate(e, owner)
}
