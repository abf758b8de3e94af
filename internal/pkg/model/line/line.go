/*
Package line models a multi-conductor distribution line as a PI branch:
a series impedance matrix plus an optional shunt admittance matrix coupled
to a shared ground node.
*/
package line

import (
	"errors"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/phasorlab/gridflow/internal/pkg/model"
	"github.com/phasorlab/gridflow/internal/pkg/phasor"
)

// Parameters holds per-unit-length line constants. Parameters are immutable
// value objects shared by reference across any number of lines.
type Parameters struct {
	id         string
	phases     phasor.Phases
	z          *mat.CDense // Ohm/km, n×n series impedance
	y          *mat.CDense // S/km, n×n shunt admittance, nil when none
	ampacities []float64   // A per conductor, nil when unspecified
}

// NewParameters validates the matrices against the phase set. y may be nil
// for a series-only line model.
func NewParameters(id string, phases phasor.Phases, z, y *mat.CDense, ampacities []float64) (*Parameters, error) {
	if id == "" {
		return nil, model.Structuralf("line parameters id must not be empty")
	}
	if err := phases.Check(); err != nil {
		return nil, model.Structuralf("line parameters %q: %v", id, err)
	}
	n := len(phases)
	if r, c := z.Dims(); r != n || c != n {
		return nil, model.Structuralf("line parameters %q: z is %dx%d, want %dx%d", id, r, c, n, n)
	}
	if y != nil {
		if r, c := y.Dims(); r != n || c != n {
			return nil, model.Structuralf("line parameters %q: y is %dx%d, want %dx%d", id, r, c, n, n)
		}
	}
	if ampacities != nil && len(ampacities) != n {
		return nil, model.Structuralf("line parameters %q: %d ampacities for %d conductors", id, len(ampacities), n)
	}
	return &Parameters{id: id, phases: phases, z: z, y: y, ampacities: ampacities}, nil
}

// ID returns the catalogue id of the parameters.
func (p *Parameters) ID() string { return p.id }

// Phases returns the conductor set the matrices are expressed over.
func (p *Parameters) Phases() phasor.Phases { return p.phases }

// Z returns the per-km series impedance matrix.
func (p *Parameters) Z() *mat.CDense { return p.z }

// Y returns the per-km shunt admittance matrix, nil when the model has no
// shunt.
func (p *Parameters) Y() *mat.CDense { return p.y }

// Ampacities returns the per-conductor current ratings, nil when unset.
func (p *Parameters) Ampacities() []float64 { return p.ampacities }

// HasShunt reports whether the parameters carry a shunt admittance.
func (p *Parameters) HasShunt() bool { return p.y != nil }

// Catalogue is an id-indexed collection of line parameters.
type Catalogue map[string]*Parameters

// Get resolves an exact id, or a unique prefix of one. Missing and ambiguous
// lookups enumerate the nearest candidates.
func (c Catalogue) Get(id string) (*Parameters, error) {
	if p, ok := c[id]; ok {
		return p, nil
	}
	var near []string
	for k := range c {
		if len(k) >= len(id) && k[:len(id)] == id {
			near = append(near, k)
		}
	}
	sort.Strings(near)
	switch len(near) {
	case 1:
		return c[near[0]], nil
	case 0:
		all := make([]string, 0, len(c))
		for k := range c {
			all = append(all, k)
		}
		sort.Strings(all)
		return nil, model.Cataloguef(all, "no line parameters match %q", id)
	default:
		return nil, model.Cataloguef(near, "line parameters %q is ambiguous", id)
	}
}

// Line is a two-terminal branch over a phase subset of its end buses. The
// effective matrices scale with length and are re-derived from the per-km
// parameters on every change; the Parameters object is never mutated.
type Line struct {
	model.Base
	bus1   *model.Bus
	bus2   *model.Bus
	phases phasor.Phases
	params *Parameters
	length float64 // km
	ground *model.Ground
	open   bool

	// effective matrices and PI coefficients, derived
	z, y       *mat.CDense
	a, b, c, d *mat.CDense
	f, g, h    []complex128

	res *results
}

type results struct {
	i1, i2 []complex128
	ig     complex128
}

// New connects a line between bus1 and bus2 over the given phases. A ground
// is mandatory when the parameters carry a shunt admittance, and forbidden
// otherwise-meaningless coupling terms when they do not.
func New(id string, bus1, bus2 *model.Bus, phases phasor.Phases, params *Parameters, lengthKm float64, ground *model.Ground) (*Line, error) {
	base, err := model.NewBase(id)
	if err != nil {
		return nil, err
	}
	if err := phases.Check(); err != nil {
		return nil, model.Structuralf("line %q: %v", id, err)
	}
	if !bus1.Phases().Contains(phases) || !bus2.Phases().Contains(phases) {
		return nil, model.Structuralf("line %q: buses %q/%q lack phases %q", id, bus1.ID(), bus2.ID(), string(phases))
	}
	if params.Phases() != phases {
		return nil, model.Structuralf("line %q: parameters %q are for phases %q, line has %q",
			id, params.ID(), string(params.Phases()), string(phases))
	}
	if lengthKm <= 0 {
		return nil, model.Structuralf("line %q: length must be positive", id)
	}
	if params.HasShunt() && ground == nil {
		return nil, model.Structuralf("line %q: parameters %q have a shunt admittance, a ground is required", id, params.ID())
	}
	l := &Line{Base: base, bus1: bus1, bus2: bus2, phases: phases, params: params, length: lengthKm, ground: ground}
	l.derive()
	model.Connect(l, bus1)
	model.Connect(l, bus2)
	if ground != nil {
		model.Connect(l, ground)
	}
	if err := model.PropagateOnAttach(l); err != nil {
		model.Unlink(l, bus1)
		model.Unlink(l, bus2)
		if ground != nil {
			model.Unlink(l, ground)
		}
		return nil, err
	}
	return l, nil
}

// derive rebuilds the effective matrices and PI coefficients from the per-km
// parameters and the current length.
func (l *Line) derive() {
	n := len(l.phases)
	z := phasor.Scale(complex(l.length, 0), l.params.Z())
	l.z = z

	if !l.params.HasShunt() {
		l.y, l.a, l.b, l.c, l.d = nil, nil, nil, nil, nil
		l.f, l.g, l.h = nil, nil, nil
		return
	}
	y := phasor.Scale(complex(l.length, 0), l.params.Y())
	l.y = y

	// a = I + ZY/2, b = Z, c = Y + YZY/4, d = I + YZ/2
	zy := phasor.Mul(z, y)
	yz := phasor.Mul(y, z)
	yzy := phasor.Mul(yz, y)

	l.a = phasor.Add(phasor.Identity(n), phasor.Scale(0.5, zy))
	l.b = z
	l.c = phasor.Add(y, phasor.Scale(0.25, yzy))
	l.d = phasor.Add(phasor.Identity(n), phasor.Scale(0.5, yz))

	// f = -1/2 of the per-conductor shunt admittance to ground (row sums),
	// g = Z·f, h = 2f + YZ·f/2.
	l.f = phasor.ScaleVec(-0.5, phasor.RowSums(y))
	l.g = phasor.MulVec(z, l.f)
	l.h = phasor.AddVec(phasor.ScaleVec(2, l.f), phasor.ScaleVec(0.5, phasor.MulVec(yz, l.f)))
}

// Buses returns the two end buses.
func (l *Line) Buses() (*model.Bus, *model.Bus) { return l.bus1, l.bus2 }

// Phases returns the conductors spanned by the line.
func (l *Line) Phases() phasor.Phases { return l.phases }

// Parameters returns the shared per-km parameters.
func (l *Line) Parameters() *Parameters { return l.params }

// Length returns the line length in km.
func (l *Line) Length() float64 { return l.length }

// Ground returns the shunt coupling ground, nil for a series-only line.
func (l *Line) Ground() *model.Ground { return l.ground }

// SetLength rescales the effective matrices from the per-km parameters.
func (l *Line) SetLength(km float64) error {
	if km <= 0 {
		return model.Structuralf("line %q: length must be positive", l.ID())
	}
	l.length = km
	l.derive()
	l.Invalidate()
	return nil
}

// SetParameters swaps the shared parameters. The replacement must span the
// same phases as the line.
func (l *Line) SetParameters(p *Parameters) error {
	if p.Phases() != l.phases {
		return model.Structuralf("line %q: parameters %q are for phases %q, line has %q",
			l.ID(), p.ID(), string(p.Phases()), string(l.phases))
	}
	if p.HasShunt() && l.ground == nil {
		return model.Structuralf("line %q: parameters %q need a ground", l.ID(), p.ID())
	}
	l.params = p
	l.derive()
	l.Invalidate()
	return nil
}

// Open reports the embedded switching state.
func (l *Line) Open() bool { return l.open }

// SetOpen toggles the embedded switching state.
func (l *Line) SetOpen(open bool) {
	l.open = open
	l.Invalidate()
}

// Residual evaluates the branch equations for candidate terminal potentials
// and currents, returning the per-phase defects of the voltage and current
// relations. vg is the ground potential (ignored without a shunt).
//
// With a shunt: V1 = a·V2 − b·I2 + g·Vg and I1 = c·V2 − d·I2 + h·Vg.
// Without: V1 − V2 = Z·I1 and I2 = −I1.
func (l *Line) Residual(v1, v2, i1, i2 []complex128, vg complex128) (rv, ri []complex128) {
	if l.params.HasShunt() {
		want1 := phasor.AddVec(phasor.SubVec(phasor.MulVec(l.a, v2), phasor.MulVec(l.b, i2)), phasor.ScaleVec(vg, l.g))
		wantI1 := phasor.AddVec(phasor.SubVec(phasor.MulVec(l.c, v2), phasor.MulVec(l.d, i2)), phasor.ScaleVec(vg, l.h))
		return phasor.SubVec(v1, want1), phasor.SubVec(i1, wantI1)
	}
	rv = phasor.SubVec(phasor.SubVec(v1, v2), phasor.MulVec(l.z, i1))
	ri = phasor.AddVec(i2, i1)
	return rv, ri
}

// GroundCurrent evaluates Ig = fᵗ·(V1 + V2 − 2·Vg), the net current the
// line's shunt pushes into the ground node.
func (l *Line) GroundCurrent(v1, v2 []complex128, vg complex128) complex128 {
	if !l.params.HasShunt() {
		return 0
	}
	var ig complex128
	for i := range l.f {
		ig += l.f[i] * (v1[i] + v2[i] - 2*vg)
	}
	return ig
}

// Refresh recovers the line's currents from solved terminal potentials.
// Called by the network after distributing a solver response.
func (l *Line) Refresh() error {
	if l.open {
		n := len(l.phases)
		l.res = &results{i1: make([]complex128, n), i2: make([]complex128, n)}
		model.MarkSolved(l)
		return nil
	}
	v1, err := l.potentials(l.bus1)
	if err != nil {
		return err
	}
	v2, err := l.potentials(l.bus2)
	if err != nil {
		return err
	}
	if !l.params.HasShunt() {
		i1, err := phasor.Solve(l.z, phasor.SubVec(v1, v2))
		if err != nil {
			return model.Structuralf("line %q: %v", l.ID(), err)
		}
		l.res = &results{i1: i1, i2: phasor.ScaleVec(-1, i1)}
		model.MarkSolved(l)
		return nil
	}
	vg, err := l.ground.ResPotential()
	if errors.Is(err, model.ErrNoResults) {
		return err
	}
	// V1 = a·V2 − b·I2 + g·Vg  ⇒  b·I2 = a·V2 + g·Vg − V1
	rhs := phasor.SubVec(phasor.AddVec(phasor.MulVec(l.a, v2), phasor.ScaleVec(vg, l.g)), v1)
	i2, err := phasor.Solve(l.b, rhs)
	if err != nil {
		return model.Structuralf("line %q: %v", l.ID(), err)
	}
	i1 := phasor.AddVec(phasor.SubVec(phasor.MulVec(l.c, v2), phasor.MulVec(l.d, i2)), phasor.ScaleVec(vg, l.h))
	l.res = &results{i1: i1, i2: i2, ig: l.GroundCurrent(v1, v2, vg)}
	model.MarkSolved(l)
	return nil
}

func (l *Line) potentials(b *model.Bus) ([]complex128, error) {
	all, err := b.ResPotentials()
	if all == nil {
		return nil, err
	}
	out := make([]complex128, len(l.phases))
	for i := 0; i < len(l.phases); i++ {
		out[i] = all[b.Phases().Index(l.phases[i])]
	}
	return out, nil
}

// ResCurrents returns the solved per-phase currents entering each end.
func (l *Line) ResCurrents() (i1, i2 []complex128, err error) {
	if l.res == nil {
		return nil, nil, model.ErrNoResults
	}
	return l.res.i1, l.res.i2, model.CheckFresh(l)
}

// ResGroundCurrent returns the solved shunt current into the ground node.
func (l *Line) ResGroundCurrent() (complex128, error) {
	if l.res == nil {
		return 0, model.ErrNoResults
	}
	return l.res.ig, model.CheckFresh(l)
}

// ResPowers returns the complex powers flowing into each end of the line.
func (l *Line) ResPowers() (s1, s2 []complex128, err error) {
	if l.res == nil {
		return nil, nil, model.ErrNoResults
	}
	v1, e1 := l.potentials(l.bus1)
	if v1 == nil {
		return nil, nil, e1
	}
	v2, e2 := l.potentials(l.bus2)
	if v2 == nil {
		return nil, nil, e2
	}
	s1 = make([]complex128, len(l.phases))
	s2 = make([]complex128, len(l.phases))
	for i := range s1 {
		s1[i] = v1[i] * cmplx.Conj(l.res.i1[i])
		s2[i] = v2[i] * cmplx.Conj(l.res.i2[i])
	}
	return s1, s2, model.CheckFresh(l)
}

// ResLoading returns per-conductor current magnitude over ampacity, or nil
// when the parameters carry no ratings.
func (l *Line) ResLoading() ([]float64, error) {
	if l.res == nil {
		return nil, model.ErrNoResults
	}
	amp := l.params.Ampacities()
	if amp == nil {
		return nil, nil
	}
	out := make([]float64, len(amp))
	for i := range amp {
		out[i] = cmplx.Abs(l.res.i1[i]) / amp[i]
	}
	return out, model.CheckFresh(l)
}
