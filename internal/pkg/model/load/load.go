/*
Package load models the ZIP load kinds: constant power, constant impedance
and constant current, star or delta connected, optionally flexible. A star
load's phase set includes the neutral and its neutral current is the
negative sum of its phase currents; a delta load works on adjacent phase
pairs and has no neutral term.
*/
package load

import (
	"math/cmplx"

	"github.com/phasorlab/gridflow/internal/pkg/control"
	"github.com/phasorlab/gridflow/internal/pkg/model"
	"github.com/phasorlab/gridflow/internal/pkg/phasor"
)

// Kind selects the ZIP behavior of a load.
type Kind int

const (
	// Power draws a constant complex power per phase.
	Power Kind = iota
	// Impedance draws through a constant impedance per phase.
	Impedance
	// Current draws a constant complex current per phase.
	Current
)

func (k Kind) String() string {
	switch k {
	case Power:
		return "power"
	case Impedance:
		return "impedance"
	case Current:
		return "current"
	}
	return "unknown"
}

// Load is a single- or multi-phase ZIP load on one bus. The connection is
// star when the phase set includes the neutral, delta otherwise.
type Load struct {
	model.Base
	bus    *model.Bus
	phases phasor.Phases
	kind   Kind
	values []complex128        // S (VA), Z (Ohm) or I (A) per branch
	flex   []control.Parameter // per branch, nil for a rigid load

	res *results
}

type results struct {
	currents []complex128 // per phase of the load, neutral last for star
	powers   []complex128 // per branch; controlled powers for flexible loads
}

// New creates a ZIP load of the given kind. values holds one entry per load
// branch: per non-neutral phase for star, per phase pair for delta.
func New(id string, bus *model.Bus, phases phasor.Phases, kind Kind, values []complex128) (*Load, error) {
	return construct(id, bus, phases, kind, values, nil)
}

// NewFlexible creates a constant-power load whose per-branch powers are
// governed by flexible control parameters, one per branch.
func NewFlexible(id string, bus *model.Bus, phases phasor.Phases, powers []complex128, params []control.Parameter) (*Load, error) {
	if len(params) != branchCount(phases) {
		return nil, model.Structuralf("flexible load %q: %d control parameters for %d branches", id, len(params), branchCount(phases))
	}
	return construct(id, bus, phases, Power, powers, params)
}

// branchCount returns the number of load branches for a phase set: the
// non-neutral phases for star, the adjacent pairs for delta.
func branchCount(phases phasor.Phases) int {
	if phases.HasNeutral() {
		return len(phases) - 1
	}
	if len(phases) == 3 {
		return 3 // ab, bc, ca
	}
	return 1 // a single phase pair
}

func construct(id string, bus *model.Bus, phases phasor.Phases, kind Kind, values []complex128, flex []control.Parameter) (*Load, error) {
	base, err := model.NewBase(id)
	if err != nil {
		return nil, err
	}
	if err := phases.Check(); err != nil {
		return nil, model.Structuralf("load %q: %v", id, err)
	}
	if phases == "n" {
		return nil, model.Structuralf("load %q: cannot load the neutral alone", id)
	}
	if !phases.HasNeutral() && len(phases) == 1 {
		return nil, model.Structuralf("load %q: a delta load needs at least two phases", id)
	}
	if !bus.Phases().Contains(phases) {
		return nil, model.Structuralf("load %q: bus %q lacks phases %q", id, bus.ID(), string(phases))
	}
	if len(values) != branchCount(phases) {
		return nil, model.Structuralf("load %q: %d values for %d branches", id, len(values), branchCount(phases))
	}
	l := &Load{Base: base, bus: bus, phases: phases, kind: kind, values: append([]complex128(nil), values...), flex: flex}
	for _, e := range bus.Links() {
		sc, ok := e.(*model.ShortCircuit)
		if !ok {
			continue
		}
		if sc.Phases().Intersect(phases) != "" {
			return nil, model.Structuralf("load %q conflicts with short circuit %q on bus %q", id, sc.ID(), bus.ID())
		}
	}
	model.Connect(l, bus)
	if err := model.PropagateOnAttach(l); err != nil {
		model.Unlink(l, bus)
		return nil, err
	}
	return l, nil
}

// LoadPhases implements model.PhaseLoad for the short-circuit exclusion.
func (l *Load) LoadPhases() phasor.Phases { return l.phases }

// Bus returns the loaded bus.
func (l *Load) Bus() *model.Bus { return l.bus }

// Phases returns the load's phase set.
func (l *Load) Phases() phasor.Phases { return l.phases }

// Kind returns the ZIP kind.
func (l *Load) Kind() Kind { return l.kind }

// Star reports whether the load is star connected.
func (l *Load) Star() bool { return l.phases.HasNeutral() }

// Flexible reports whether the load carries flexible control parameters.
func (l *Load) Flexible() bool { return l.flex != nil }

// FlexParams returns the per-branch control parameters, nil for rigid loads.
func (l *Load) FlexParams() []control.Parameter { return l.flex }

// Values returns the per-branch values: powers, impedances or currents.
func (l *Load) Values() []complex128 { return l.values }

// SetValues replaces the per-branch values.
func (l *Load) SetValues(values []complex128) error {
	if len(values) != branchCount(l.phases) {
		return model.Structuralf("load %q: %d values for %d branches", l.ID(), len(values), branchCount(l.phases))
	}
	l.values = append([]complex128(nil), values...)
	l.Invalidate()
	return nil
}

// Disconnect removes the load, and only the load, from its network.
func (l *Load) Disconnect() {
	model.Detach(l)
}

// branchVoltages returns the voltage across each load branch given the
// load-phase potentials (neutral last for star).
func (l *Load) branchVoltages(v []complex128) []complex128 {
	if l.Star() {
		n := len(v) - 1
		out := make([]complex128, n)
		for i := 0; i < n; i++ {
			out[i] = v[i] - v[n]
		}
		return out
	}
	if len(v) == 3 {
		return []complex128{v[0] - v[1], v[1] - v[2], v[2] - v[0]}
	}
	return []complex128{v[0] - v[1]}
}

// BranchCurrents computes the per-branch currents for the given load-phase
// potentials, applying flexible control when present.
func (l *Load) BranchCurrents(v []complex128) ([]complex128, error) {
	u := l.branchVoltages(v)
	out := make([]complex128, len(u))
	for i := range u {
		switch l.kind {
		case Power:
			if u[i] == 0 {
				return nil, model.Structuralf("load %q: zero voltage across branch %d", l.ID(), i)
			}
			s := l.values[i]
			if l.flex != nil {
				s = l.flex[i].Apply(s, cmplx.Abs(u[i]))
			}
			out[i] = cmplx.Conj(s / u[i])
		case Impedance:
			if l.values[i] == 0 {
				return nil, model.Structuralf("load %q: zero impedance on branch %d", l.ID(), i)
			}
			out[i] = u[i] / l.values[i]
		case Current:
			out[i] = l.values[i]
		}
	}
	return out, nil
}

// PhaseCurrents maps branch currents onto the load's phase conductors. For
// star the neutral current closes the sum; for delta each phase carries the
// difference of its adjacent pair currents.
func (l *Load) PhaseCurrents(branch []complex128) []complex128 {
	if l.Star() {
		out := make([]complex128, len(branch)+1)
		copy(out, branch)
		out[len(branch)] = -phasor.SumVec(branch)
		return out
	}
	if len(branch) == 3 {
		return []complex128{branch[0] - branch[2], branch[1] - branch[0], branch[2] - branch[1]}
	}
	return []complex128{branch[0], -branch[0]}
}

// Refresh recovers the load's currents and powers from solved bus
// potentials.
func (l *Load) Refresh() error {
	all, err := l.bus.ResPotentials()
	if all == nil {
		return err
	}
	v := make([]complex128, len(l.phases))
	for i := 0; i < len(l.phases); i++ {
		v[i] = all[l.bus.Phases().Index(l.phases[i])]
	}
	branch, err := l.BranchCurrents(v)
	if err != nil {
		return err
	}
	u := l.branchVoltages(v)
	powers := make([]complex128, len(branch))
	for i := range branch {
		powers[i] = u[i] * cmplx.Conj(branch[i])
	}
	l.res = &results{currents: l.PhaseCurrents(branch), powers: powers}
	model.MarkSolved(l)
	return nil
}

// ResCurrents returns the solved per-phase currents, neutral last for star.
func (l *Load) ResCurrents() ([]complex128, error) {
	if l.res == nil {
		return nil, model.ErrNoResults
	}
	return l.res.currents, model.CheckFresh(l)
}

// ResPowers returns the solved per-branch powers; for flexible loads these
// are the controlled powers.
func (l *Load) ResPowers() ([]complex128, error) {
	if l.res == nil {
		return nil, model.ErrNoResults
	}
	return l.res.powers, model.CheckFresh(l)
}
