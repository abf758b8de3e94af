// Package switchgear models an ideal switch branch: closed it enforces
// V1 = V2 and I1 = -I2 per phase, open it carries no current at all.
package switchgear

import (
	"github.com/phasorlab/gridflow/internal/pkg/model"
	"github.com/phasorlab/gridflow/internal/pkg/phasor"
)

// Switch is a two-terminal ideal branch.
type Switch struct {
	model.Base
	bus1   *model.Bus
	bus2   *model.Bus
	phases phasor.Phases
	open   bool

	current []complex128
	solved  bool
}

// New connects a switch between bus1 and bus2 over the given phases,
// initially closed.
func New(id string, bus1, bus2 *model.Bus, phases phasor.Phases) (*Switch, error) {
	base, err := model.NewBase(id)
	if err != nil {
		return nil, err
	}
	if err := phases.Check(); err != nil {
		return nil, model.Structuralf("switch %q: %v", id, err)
	}
	if !bus1.Phases().Contains(phases) || !bus2.Phases().Contains(phases) {
		return nil, model.Structuralf("switch %q: buses %q/%q lack phases %q", id, bus1.ID(), bus2.ID(), string(phases))
	}
	s := &Switch{Base: base, bus1: bus1, bus2: bus2, phases: phases}
	model.Connect(s, bus1)
	model.Connect(s, bus2)
	if err := model.PropagateOnAttach(s); err != nil {
		model.Unlink(s, bus1)
		model.Unlink(s, bus2)
		return nil, err
	}
	return s, nil
}

// Buses returns the two end buses.
func (s *Switch) Buses() (*model.Bus, *model.Bus) { return s.bus1, s.bus2 }

// Phases returns the switched conductors.
func (s *Switch) Phases() phasor.Phases { return s.phases }

// Open reports the switch state.
func (s *Switch) Open() bool { return s.open }

// SetOpen toggles the switch, invalidating cached results. The branch
// contribution is re-derived from the state at the next solve, the branch
// itself is never replaced.
func (s *Switch) SetOpen(open bool) {
	s.open = open
	s.Invalidate()
}

// Residual evaluates the ideal-switch equations: closed, the per-phase
// potential difference and current sum must vanish; open, both end currents
// must vanish.
func (s *Switch) Residual(v1, v2, i1, i2 []complex128) (rv, ri []complex128) {
	if s.open {
		return i1, i2
	}
	return phasor.SubVec(v1, v2), phasor.AddVec(i1, i2)
}

// SetCurrents records the solved per-phase currents entering bus1's end.
func (s *Switch) SetCurrents(i []complex128) {
	s.current = append([]complex128(nil), i...)
	s.solved = true
	model.MarkSolved(s)
}

// ResCurrents returns the solved currents entering each end.
func (s *Switch) ResCurrents() (i1, i2 []complex128, err error) {
	if !s.solved {
		return nil, nil, model.ErrNoResults
	}
	if s.open {
		zero := make([]complex128, len(s.phases))
		return zero, zero, model.CheckFresh(s)
	}
	return s.current, phasor.ScaleVec(-1, s.current), model.CheckFresh(s)
}
