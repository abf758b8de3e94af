// Package source models an ideal voltage source: star when its phase set
// includes the neutral, delta otherwise.
package source

import (
	"math/cmplx"

	"github.com/phasorlab/gridflow/internal/pkg/model"
	"github.com/phasorlab/gridflow/internal/pkg/phasor"
)

// VoltageSource fixes target voltages on a bus. Star sources fix
// phase-to-neutral voltages, delta sources phase-to-phase voltages.
type VoltageSource struct {
	model.Base
	bus      *model.Bus
	phases   phasor.Phases
	voltages []complex128

	currents []complex128
	solved   bool
}

// New creates a voltage source on bus. voltages holds one target per
// non-neutral phase (star) or per phase pair (delta).
func New(id string, bus *model.Bus, phases phasor.Phases, voltages []complex128) (*VoltageSource, error) {
	base, err := model.NewBase(id)
	if err != nil {
		return nil, err
	}
	if err := phases.Check(); err != nil {
		return nil, model.Structuralf("source %q: %v", id, err)
	}
	if !bus.Phases().Contains(phases) {
		return nil, model.Structuralf("source %q: bus %q lacks phases %q", id, bus.ID(), string(phases))
	}
	if n := targetCount(phases); len(voltages) != n {
		return nil, model.Structuralf("source %q: %d voltages for %d targets", id, len(voltages), n)
	}
	s := &VoltageSource{Base: base, bus: bus, phases: phases, voltages: append([]complex128(nil), voltages...)}
	model.Connect(s, bus)
	if err := model.PropagateOnAttach(s); err != nil {
		model.Unlink(s, bus)
		return nil, err
	}
	return s, nil
}

func targetCount(phases phasor.Phases) int {
	if phases.HasNeutral() {
		return len(phases) - 1
	}
	if len(phases) == 3 {
		return 3
	}
	return 1
}

// Bus returns the sourced bus.
func (s *VoltageSource) Bus() *model.Bus { return s.bus }

// Phases returns the source's phase set.
func (s *VoltageSource) Phases() phasor.Phases { return s.phases }

// Star reports whether the source is star connected.
func (s *VoltageSource) Star() bool { return s.phases.HasNeutral() }

// Voltages returns the target voltage vector.
func (s *VoltageSource) Voltages() []complex128 { return s.voltages }

// SetVoltages replaces the target voltage vector.
func (s *VoltageSource) SetVoltages(v []complex128) error {
	if n := targetCount(s.phases); len(v) != n {
		return model.Structuralf("source %q: %d voltages for %d targets", s.ID(), len(v), n)
	}
	s.voltages = append([]complex128(nil), v...)
	s.Invalidate()
	return nil
}

// Disconnect removes the source, and only the source, from its network.
func (s *VoltageSource) Disconnect() {
	model.Detach(s)
}

// SetCurrents records the solved per-phase currents delivered by the source.
func (s *VoltageSource) SetCurrents(i []complex128) {
	s.currents = append([]complex128(nil), i...)
	s.solved = true
	model.MarkSolved(s)
}

// ResCurrents returns the solved source currents.
func (s *VoltageSource) ResCurrents() ([]complex128, error) {
	if !s.solved {
		return nil, model.ErrNoResults
	}
	return s.currents, model.CheckFresh(s)
}

// ResPowers returns the complex powers delivered per phase.
func (s *VoltageSource) ResPowers() ([]complex128, error) {
	if !s.solved {
		return nil, model.ErrNoResults
	}
	all, err := s.bus.ResPotentials()
	if all == nil {
		return nil, err
	}
	out := make([]complex128, len(s.currents))
	for i := 0; i < len(s.currents) && i < len(s.phases); i++ {
		v := all[s.bus.Phases().Index(s.phases[i])]
		out[i] = v * cmplx.Conj(s.currents[i])
	}
	return out, model.CheckFresh(s)
}
