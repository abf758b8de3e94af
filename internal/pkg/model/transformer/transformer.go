/*
Package transformer models a two-winding three-phase transformer. Parameters
are derived once, at construction, from off-load and short-circuit test
data; the vector group fixes the winding transformation and permutation
matrices coupling the two sides.
*/
package transformer

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/phasorlab/gridflow/internal/pkg/model"
	"github.com/phasorlab/gridflow/internal/pkg/phasor"
)

// Winding identifies a winding connection topology.
type Winding byte

const (
	Delta  Winding = 'D'
	Wye    Winding = 'Y'
	Zigzag Winding = 'Z'
)

// Parameters holds the electrical model of a transformer family, shared by
// reference across any number of transformers. Immutable after construction.
type Parameters struct {
	id          string
	vectorGroup string
	w1, w2      Winding
	n1, n2      bool // neutral brought out per side
	clock       int

	sn       float64 // rated power, VA
	u1n, u2n float64 // rated phase-to-phase voltages, V
	td       TestData

	z2 complex128 // series impedance referred to side 2, Ohm
	ym complex128 // magnetizing admittance seen from side 1, S
}

// TestData carries the nameplate and test-report values the model is derived
// from.
type TestData struct {
	Sn  float64 `json:"sn"`  // rated power, VA
	U1n float64 `json:"u1n"` // rated primary voltage, V phase-to-phase
	U2n float64 `json:"u2n"` // rated secondary voltage, V phase-to-phase
	P0  float64 `json:"p0"`  // no-load losses, W
	I0  float64 `json:"i0"`  // no-load current, per unit
	Psc float64 `json:"psc"` // short-circuit losses, W
	Vsc float64 `json:"vsc"` // short-circuit voltage, per unit
}

// NewParameters parses the vector group (e.g. "Dyn11", "Yzn5", "Dd0") and
// derives Ym and Z2 from the test data.
func NewParameters(id, vectorGroup string, td TestData) (*Parameters, error) {
	if id == "" {
		return nil, model.Structuralf("transformer parameters id must not be empty")
	}
	p := &Parameters{id: id, vectorGroup: vectorGroup, sn: td.Sn, u1n: td.U1n, u2n: td.U2n, td: td}
	if err := p.parseVectorGroup(vectorGroup); err != nil {
		return nil, model.Structuralf("transformer parameters %q: %v", id, err)
	}
	if td.Sn <= 0 || td.U1n <= 0 || td.U2n <= 0 {
		return nil, model.Structuralf("transformer parameters %q: rated values must be positive", id)
	}

	// Magnetizing admittance from the off-load test. When the computed
	// susceptance discriminant is non-positive the branch degenerates to a
	// purely resistive admittance.
	g := td.P0 / (td.U1n * td.U1n)
	yMag := td.I0 * td.Sn / (td.U1n * td.U1n)
	if disc := yMag*yMag - g*g; disc > 0 {
		p.ym = complex(g, -math.Sqrt(disc))
	} else {
		p.ym = complex(g, 0)
	}

	// Series impedance from the short-circuit test, referred to side 2.
	zMag := td.Vsc * td.U2n * td.U2n / td.Sn
	r2 := td.Psc * (td.U2n / td.Sn) * (td.U2n / td.Sn)
	if r2 > zMag {
		return nil, model.Structuralf(
			"transformer parameters %q: short-circuit losses (r2=%g) exceed short-circuit impedance (z2=%g)", id, r2, zMag)
	}
	p.z2 = complex(r2, math.Sqrt(zMag*zMag-r2*r2))
	return p, nil
}

func (p *Parameters) parseVectorGroup(vg string) error {
	rest := vg
	if len(rest) == 0 {
		return fmt.Errorf("empty vector group")
	}
	switch rest[0] {
	case 'D', 'Y', 'Z':
		p.w1 = Winding(rest[0])
	default:
		return fmt.Errorf("unknown primary winding in %q", vg)
	}
	rest = rest[1:]
	if len(rest) > 0 && rest[0] == 'N' {
		if p.w1 == Delta {
			return fmt.Errorf("delta primary cannot expose a neutral in %q", vg)
		}
		p.n1 = true
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return fmt.Errorf("missing secondary winding in %q", vg)
	}
	switch rest[0] {
	case 'd', 'y', 'z':
		p.w2 = Winding(rest[0] - 'a' + 'A')
	default:
		return fmt.Errorf("unknown secondary winding in %q", vg)
	}
	rest = rest[1:]
	if len(rest) > 0 && rest[0] == 'n' {
		if p.w2 == Delta {
			return fmt.Errorf("delta secondary cannot expose a neutral in %q", vg)
		}
		p.n2 = true
		rest = rest[1:]
	}
	if _, err := fmt.Sscanf(rest, "%d", &p.clock); err != nil {
		return fmt.Errorf("missing clock number in %q", vg)
	}
	switch p.clock {
	case 0, 1, 5, 6, 7, 11:
	default:
		return fmt.Errorf("unsupported clock number %d in %q", p.clock, vg)
	}
	return nil
}

// ID returns the catalogue id of the parameters.
func (p *Parameters) ID() string { return p.id }

// VectorGroup returns the vector group designation.
func (p *Parameters) VectorGroup() string { return p.vectorGroup }

// Windings returns the winding kinds of the two sides.
func (p *Parameters) Windings() (Winding, Winding) { return p.w1, p.w2 }

// Clock returns the vector group clock number.
func (p *Parameters) Clock() int { return p.clock }

// Ratings returns the rated power and the two rated voltages.
func (p *Parameters) Ratings() (sn, u1n, u2n float64) { return p.sn, p.u1n, p.u2n }

// TestData returns the nameplate values the model was derived from.
func (p *Parameters) TestData() TestData { return p.td }

// Z2 returns the series impedance referred to side 2.
func (p *Parameters) Z2() complex128 { return p.z2 }

// Ym returns the magnetizing admittance seen from side 1.
func (p *Parameters) Ym() complex128 { return p.ym }

// Phases returns the terminal phase sets implied by the windings.
func (p *Parameters) Phases() (phasor.Phases, phasor.Phases) {
	ph := func(w Winding, n bool) phasor.Phases {
		if w != Delta && n {
			return phasor.ABCN
		}
		return phasor.ABC
	}
	return ph(p.w1, p.n1), ph(p.w2, p.n2)
}

// windingVoltage returns the rated per-winding voltage for a side.
func windingVoltage(u float64, w Winding) float64 {
	switch w {
	case Wye:
		return u / math.Sqrt(3)
	case Zigzag:
		return u / 3
	default:
		return u
	}
}

// Ratio returns the no-tap winding voltage transformation ratio.
func (p *Parameters) Ratio() float64 {
	return windingVoltage(p.u2n, p.w2) / windingVoltage(p.u1n, p.w1)
}

// orientation maps the clock number onto the sign of the diagonal (or
// circulant) transformation: Dd/Yy/Dy/Yd groups use ±k on the diagonal,
// Dz/Yz the signed circulant.
func (p *Parameters) orientation() float64 {
	switch p.clock {
	case 5, 6, 7:
		return -1
	default:
		return 1
	}
}

// TransformMatrix returns the 3×3 winding transformation M: diagonal ±1 for
// d/y secondaries, circulant for z secondaries, to be scaled by ratio·tap.
func (p *Parameters) TransformMatrix() *mat.CDense {
	sign := complex(p.orientation(), 0)
	m := mat.NewCDense(3, 3, nil)
	if p.w2 == Zigzag {
		for i := 0; i < 3; i++ {
			m.Set(i, i, sign)
			m.Set(i, (i+1)%3, -sign)
		}
		return m
	}
	for i := 0; i < 3; i++ {
		m.Set(i, i, sign)
	}
	return m
}

// VoltageMatrix returns the 3×n mapping from a side's terminal potentials to
// its winding voltages: wye/zigzag windings measure phase to neutral (or to
// the floating star point, taken as the terminal average), delta windings
// phase to phase.
func (p *Parameters) VoltageMatrix(side int) *mat.CDense {
	w, n := p.w1, p.n1
	if side == 2 {
		w, n = p.w2, p.n2
	}
	if w == Delta {
		m := mat.NewCDense(3, 3, nil)
		for i := 0; i < 3; i++ {
			m.Set(i, i, 1)
			m.Set(i, (i+1)%3, -1)
		}
		return m
	}
	if n {
		m := mat.NewCDense(3, 4, nil)
		for i := 0; i < 3; i++ {
			m.Set(i, i, 1)
			m.Set(i, 3, -1)
		}
		return m
	}
	m := mat.NewCDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			if i == j {
				m.Set(i, j, complex(2.0/3.0, 0))
			} else {
				m.Set(i, j, complex(-1.0/3.0, 0))
			}
		}
	}
	return m
}

// CurrentMatrix returns the n×3 mapping from a side's winding currents to
// its terminal currents. For wye/zigzag with neutral the last row is the
// neutral-selection vector: the neutral current is the negative sum of the
// winding currents.
func (p *Parameters) CurrentMatrix(side int) *mat.CDense {
	w, n := p.w1, p.n1
	if side == 2 {
		w, n = p.w2, p.n2
	}
	if w == Delta {
		m := mat.NewCDense(3, 3, nil)
		for i := 0; i < 3; i++ {
			m.Set(i, i, 1)
			m.Set((i+1)%3, i, -1)
		}
		return m
	}
	rows := 3
	if n {
		rows = 4
	}
	m := mat.NewCDense(rows, 3, nil)
	for i := 0; i < 3; i++ {
		m.Set(i, i, 1)
	}
	if n {
		for j := 0; j < 3; j++ {
			m.Set(3, j, -1)
		}
	}
	return m
}

// Catalogue is an id-indexed collection of transformer parameters.
type Catalogue map[string]*Parameters

// Get resolves an exact id or a unique prefix, enumerating candidates on a
// missing or ambiguous match.
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
		return nil, model.Cataloguef(all, "no transformer parameters match %q", id)
	default:
		return nil, model.Cataloguef(near, "transformer parameters %q is ambiguous", id)
	}
}

// Transformer is a two-winding branch between two buses with independent
// phase sets.
type Transformer struct {
	model.Base
	bus1, bus2       *model.Bus
	phases1, phases2 phasor.Phases
	params           *Parameters
	tap              float64

	gc1, gc2 *model.GroundConnection

	res *results
}

type results struct {
	i1, i2 []complex128 // terminal currents
}

// New connects a transformer between bus1 and bus2. A non-nil ground ties
// that side's neutral terminal to it through a bolted connection.
func New(id string, bus1, bus2 *model.Bus, params *Parameters, tap float64, g1, g2 *model.Ground) (*Transformer, error) {
	base, err := model.NewBase(id)
	if err != nil {
		return nil, err
	}
	if tap <= 0 {
		return nil, model.Structuralf("transformer %q: tap must be positive", id)
	}
	ph1, ph2 := params.Phases()
	if !bus1.Phases().Contains(ph1) {
		return nil, model.Structuralf("transformer %q: bus %q lacks phases %q", id, bus1.ID(), string(ph1))
	}
	if !bus2.Phases().Contains(ph2) {
		return nil, model.Structuralf("transformer %q: bus %q lacks phases %q", id, bus2.ID(), string(ph2))
	}
	if g1 != nil && !ph1.HasNeutral() {
		return nil, model.Structuralf("transformer %q: side 1 has no neutral to ground", id)
	}
	if g2 != nil && !ph2.HasNeutral() {
		return nil, model.Structuralf("transformer %q: side 2 has no neutral to ground", id)
	}
	t := &Transformer{Base: base, bus1: bus1, bus2: bus2, phases1: ph1, phases2: ph2, params: params, tap: tap}
	model.Connect(t, bus1)
	model.Connect(t, bus2)
	if err := model.PropagateOnAttach(t); err != nil {
		model.Unlink(t, bus1)
		model.Unlink(t, bus2)
		return nil, err
	}
	if g1 != nil {
		gc, err := model.NewGroundConnection(id+"_n1", g1, bus1, 'n', 0)
		if err != nil {
			return nil, err
		}
		t.gc1 = gc
	}
	if g2 != nil {
		gc, err := model.NewGroundConnection(id+"_n2", g2, bus2, 'n', 0)
		if err != nil {
			return nil, err
		}
		t.gc2 = gc
	}
	return t, nil
}

// Buses returns the two terminal buses.
func (t *Transformer) Buses() (*model.Bus, *model.Bus) { return t.bus1, t.bus2 }

// Phases returns the per-side terminal phase sets.
func (t *Transformer) Phases() (phasor.Phases, phasor.Phases) { return t.phases1, t.phases2 }

// Parameters returns the shared transformer parameters.
func (t *Transformer) Parameters() *Parameters { return t.params }

// Tap returns the tap ratio multiplier.
func (t *Transformer) Tap() float64 { return t.tap }

// SetTap changes the tap ratio multiplier.
func (t *Transformer) SetTap(tap float64) error {
	if tap <= 0 {
		return model.Structuralf("transformer %q: tap must be positive", t.ID())
	}
	t.tap = tap
	t.Invalidate()
	return nil
}

// NeutralConnections returns the per-side neutral ground connections, nil
// when absent.
func (t *Transformer) NeutralConnections() (*model.GroundConnection, *model.GroundConnection) {
	return t.gc1, t.gc2
}

// ratio returns the effective transformation ratio including tap.
func (t *Transformer) ratio() complex128 {
	return complex(t.params.Ratio()*t.tap, 0)
}

// WindingVoltages maps a side's terminal potentials to winding voltages.
func (t *Transformer) WindingVoltages(side int, v []complex128) []complex128 {
	return phasor.MulVec(t.params.VoltageMatrix(side), v)
}

// TerminalCurrents maps a side's winding currents to terminal currents; on
// wye/zigzag sides with a neutral the last entry is the neutral current.
func (t *Transformer) TerminalCurrents(side int, iw []complex128) []complex128 {
	return phasor.MulVec(t.params.CurrentMatrix(side), iw)
}

// Residual evaluates the two coupled branch equations in the winding domain:
//
//	U2w = kt·M·U1w + Z2·I2w
//	I1w = Ym·U1w − kt·Mᵀ·I2w
//
// where kt is the tap-adjusted ratio and winding currents flow into the
// branch on each side.
func (t *Transformer) Residual(v1, v2, iw1, iw2 []complex128) (rv, ri []complex128) {
	u1w := t.WindingVoltages(1, v1)
	u2w := t.WindingVoltages(2, v2)
	m := t.params.TransformMatrix()
	kt := t.ratio()
	z2 := t.params.Z2()
	ym := t.params.Ym()

	mu1 := phasor.MulVec(m, u1w)
	mti2 := mulVecT(m, iw2)

	rv = make([]complex128, 3)
	ri = make([]complex128, 3)
	for i := 0; i < 3; i++ {
		rv[i] = u2w[i] - (kt*mu1[i] + z2*iw2[i])
		ri[i] = iw1[i] - (ym*u1w[i] - kt*mti2[i])
	}
	return rv, ri
}

// mulVecT returns mᵗ·v.
func mulVecT(m *mat.CDense, v []complex128) []complex128 {
	r, c := m.Dims()
	out := make([]complex128, c)
	for j := 0; j < c; j++ {
		for i := 0; i < r; i++ {
			out[j] += m.At(i, j) * v[i]
		}
	}
	return out
}

// Refresh recovers the transformer's terminal currents from solved bus
// potentials.
func (t *Transformer) Refresh() error {
	v1, err := potentials(t.bus1, t.phases1)
	if err != nil {
		return err
	}
	v2, err := potentials(t.bus2, t.phases2)
	if err != nil {
		return err
	}
	u1w := t.WindingVoltages(1, v1)
	u2w := t.WindingVoltages(2, v2)
	m := t.params.TransformMatrix()
	kt := t.ratio()
	mu1 := phasor.MulVec(m, u1w)

	iw2 := make([]complex128, 3)
	for i := 0; i < 3; i++ {
		iw2[i] = (u2w[i] - kt*mu1[i]) / t.params.Z2()
	}
	mti2 := mulVecT(m, iw2)
	iw1 := make([]complex128, 3)
	for i := 0; i < 3; i++ {
		iw1[i] = t.params.Ym()*u1w[i] - kt*mti2[i]
	}
	t.res = &results{
		i1: t.TerminalCurrents(1, iw1),
		i2: t.TerminalCurrents(2, iw2),
	}
	model.MarkSolved(t)
	return nil
}

func potentials(b *model.Bus, ph phasor.Phases) ([]complex128, error) {
	all, err := b.ResPotentials()
	if all == nil {
		return nil, err
	}
	out := make([]complex128, len(ph))
	for i := 0; i < len(ph); i++ {
		out[i] = all[b.Phases().Index(ph[i])]
	}
	return out, nil
}

// ResCurrents returns the solved terminal currents per side.
func (t *Transformer) ResCurrents() (i1, i2 []complex128, err error) {
	if t.res == nil {
		return nil, nil, model.ErrNoResults
	}
	return t.res.i1, t.res.i2, model.CheckFresh(t)
}

// ResPowers returns the complex powers flowing into each side.
func (t *Transformer) ResPowers() (s1, s2 []complex128, err error) {
	if t.res == nil {
		return nil, nil, model.ErrNoResults
	}
	v1, e1 := potentials(t.bus1, t.phases1)
	if v1 == nil {
		return nil, nil, e1
	}
	v2, e2 := potentials(t.bus2, t.phases2)
	if v2 == nil {
		return nil, nil, e2
	}
	s1 = make([]complex128, len(v1))
	for i := range v1 {
		s1[i] = v1[i] * cmplx.Conj(t.res.i1[i])
	}
	s2 = make([]complex128, len(v2))
	for i := range v2 {
		s2[i] = v2[i] * cmplx.Conj(t.res.i2[i])
	}
	return s1, s2, model.CheckFresh(t)
}

// ResLosses returns the total active power dissipated in the transformer.
func (t *Transformer) ResLosses() (float64, error) {
	s1, s2, err := t.ResPowers()
	if s1 == nil {
		return 0, err
	}
	var p float64
	for i := range s1 {
		p += real(s1[i])
	}
	for i := range s2 {
		p += real(s2[i])
	}
	return p, err
}
