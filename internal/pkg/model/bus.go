package model

import (
	"github.com/phasorlab/gridflow/internal/pkg/phasor"
)

// Bus is a connection node carrying an ordered phase set. Branches, loads
// and sources reference buses; a bus owns nothing.
type Bus struct {
	Base
	phases   phasor.Phases
	nominalU float64 // phase-to-phase, V; 0 when unset
	minU     float64
	maxU     float64

	potentials []complex128 // per phase, set after a solve
}

// NewBus validates the phase set and returns a free-standing bus.
func NewBus(id string, phases phasor.Phases) (*Bus, error) {
	base, err := NewBase(id)
	if err != nil {
		return nil, err
	}
	if err := phases.Check(); err != nil {
		return nil, structuralf("bus %q: %v", id, err)
	}
	return &Bus{Base: base, phases: phases}, nil
}

// Phases returns the bus's ordered phase set.
func (b *Bus) Phases() phasor.Phases { return b.phases }

// SetNominalVoltage records the nominal phase-to-phase voltage.
func (b *Bus) SetNominalVoltage(un float64) {
	b.nominalU = un
	b.Invalidate()
}

// SetVoltageLimits records the acceptable voltage band (0 disables a bound).
func (b *Bus) SetVoltageLimits(min, max float64) {
	b.minU = min
	b.maxU = max
	b.Invalidate()
}

// NominalVoltage returns the nominal phase-to-phase voltage, 0 when unset.
func (b *Bus) NominalVoltage() float64 { return b.nominalU }

// VoltageLimits returns the configured voltage band, zeros when unset.
func (b *Bus) VoltageLimits() (min, max float64) { return b.minU, b.maxU }

// SetPotentials records solved per-phase potentials. Called by the network
// when distributing a solver response.
func (b *Bus) SetPotentials(v []complex128) error {
	if len(v) != len(b.phases) {
		return structuralf("bus %q: got %d potentials for %d phases", b.ID(), len(v), len(b.phases))
	}
	b.potentials = append([]complex128(nil), v...)
	return nil
}

// ResPotentials returns the bus's solved per-phase potentials. A stale read
// returns the last-known values together with ErrResultsStale.
func (b *Bus) ResPotentials() ([]complex128, error) {
	if b.potentials == nil {
		return nil, ErrNoResults
	}
	return b.potentials, CheckFresh(b)
}

// Potential returns the solved potential of a single phase.
func (b *Bus) Potential(ph byte) (complex128, error) {
	i := b.phases.Index(ph)
	if i < 0 {
		return 0, structuralf("bus %q has no phase %q", b.ID(), string(ph))
	}
	v, err := b.ResPotentials()
	if v == nil {
		return 0, err
	}
	return v[i], err
}
