package model

import (
	"github.com/phasorlab/gridflow/internal/pkg/phasor"
)

// PhaseLoad is implemented by the ZIP load kinds. A short circuit may never
// share phases with one on the same bus: a constant-power load's current
// would be conj(S/V) with V forced to zero.
type PhaseLoad interface {
	Element
	LoadPhases() phasor.Phases
}

// ShortCircuit forces a set of phases of one bus (optionally plus a ground)
// to equal potential.
type ShortCircuit struct {
	Base
	bus    *Bus
	phases phasor.Phases
	ground *Ground
}

// NewShortCircuit declares a short between the given phases of bus, and the
// ground when g is non-nil. At least two phases, or one phase plus a ground,
// are required.
func NewShortCircuit(id string, bus *Bus, phases phasor.Phases, g *Ground) (*ShortCircuit, error) {
	base, err := NewBase(id)
	if err != nil {
		return nil, err
	}
	if err := phases.Check(); err != nil {
		return nil, structuralf("short circuit %q: %v", id, err)
	}
	if !bus.Phases().Contains(phases) {
		return nil, structuralf("short circuit %q: bus %q lacks phases %q", id, bus.ID(), string(phases))
	}
	if len(phases) < 2 && g == nil {
		return nil, structuralf("short circuit %q on bus %q needs at least two phases or one phase and a ground", id, bus.ID())
	}
	for _, e := range bus.Links() {
		pd, ok := e.(PhaseLoad)
		if !ok {
			continue
		}
		if pd.LoadPhases().Intersect(phases) != "" {
			return nil, structuralf("short circuit %q conflicts with load %q on bus %q", id, pd.ID(), bus.ID())
		}
	}
	sc := &ShortCircuit{Base: base, bus: bus, phases: phases, ground: g}
	Connect(sc, bus)
	if g != nil {
		Connect(sc, g)
	}
	if err := PropagateOnAttach(sc); err != nil {
		Unlink(sc, bus)
		if g != nil {
			Unlink(sc, g)
		}
		return nil, err
	}
	return sc, nil
}

// Bus returns the shorted bus.
func (sc *ShortCircuit) Bus() *Bus { return sc.bus }

// Phases returns the shorted phase set.
func (sc *ShortCircuit) Phases() phasor.Phases { return sc.phases }

// Ground returns the shorted ground, nil when the short is phase-to-phase
// only.
func (sc *ShortCircuit) Ground() *Ground { return sc.ground }
