package transformer

import (
	"errors"
	"math"
	"math/cmplx"
	"testing"

	"github.com/google/uuid"
	"gotest.tools/assert"

	"github.com/phasorlab/gridflow/internal/pkg/model"
	"github.com/phasorlab/gridflow/internal/pkg/phasor"
)

type stubOwner struct {
	pid     uuid.UUID
	version uint64
}

func newStubOwner() *stubOwner { return &stubOwner{pid: uuid.New()} }

func (o *stubOwner) PID() uuid.UUID                 { return o.pid }
func (o *stubOwner) Version() uint64                { return o.version }
func (o *stubOwner) Mutated()                       { o.version++ }
func (o *stubOwner) Register(e model.Element) error { return nil }
func (o *stubOwner) Deregister(e model.Element)     {}

// 50 kVA 20 kV / 400 V distribution transformer test report.
func testData() TestData {
	return TestData{
		Sn:  50e3,
		U1n: 20e3,
		U2n: 400,
		P0:  145,
		I0:  0.01,
		Psc: 1350,
		Vsc: 0.04,
	}
}

func newParams(t *testing.T, vg string) *Parameters {
	p, err := NewParameters("tr-50", vg, testData())
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseVectorGroup(t *testing.T) {
	p := newParams(t, "Dyn11")
	w1, w2 := p.Windings()
	assert.Equal(t, w1, Delta)
	assert.Equal(t, w2, Wye)
	assert.Equal(t, p.Clock(), 11)
	ph1, ph2 := p.Phases()
	assert.Equal(t, ph1, phasor.ABC)
	assert.Equal(t, ph2, phasor.ABCN)

	p = newParams(t, "Yzn5")
	w1, w2 = p.Windings()
	assert.Equal(t, w1, Wye)
	assert.Equal(t, w2, Zigzag)
	assert.Equal(t, p.Clock(), 5)

	p = newParams(t, "Dd0")
	ph1, ph2 = p.Phases()
	assert.Equal(t, ph1, phasor.ABC)
	assert.Equal(t, ph2, phasor.ABC)

	p = newParams(t, "YNyn0")
	ph1, ph2 = p.Phases()
	assert.Equal(t, ph1, phasor.ABCN)
	assert.Equal(t, ph2, phasor.ABCN)
}

func TestParseVectorGroupRejects(t *testing.T) {
	bad := []string{"", "X", "Dy", "Dy3", "Dy12", "DNy11", "Ddn0", "D11"}
	for _, vg := range bad {
		_, err := NewParameters("tr-50", vg, testData())
		assert.Assert(t, errors.Is(err, model.ErrStructural), "expected %q to be rejected", vg)
	}
}

func TestDerivedImpedances(t *testing.T) {
	td := testData()
	p := newParams(t, "Dyn11")

	// short-circuit test referred to side 2
	zMag := td.Vsc * td.U2n * td.U2n / td.Sn
	r2 := td.Psc * (td.U2n / td.Sn) * (td.U2n / td.Sn)
	z2 := p.Z2()
	assert.Assert(t, math.Abs(real(z2)-r2) < 1e-12)
	assert.Assert(t, math.Abs(cmplx.Abs(z2)-zMag) < 1e-12)
	assert.Assert(t, imag(z2) > 0)

	// off-load test seen from side 1: conductance positive, susceptance
	// inductive
	ym := p.Ym()
	assert.Assert(t, real(ym) > 0)
	assert.Assert(t, imag(ym) < 0)
}

func TestDerivedYmResistiveGuard(t *testing.T) {
	// off-load losses dominate the off-load current: the susceptance
	// discriminant goes non-positive and the branch degenerates
	td := testData()
	td.I0 = 0.0001
	p, err := NewParameters("tr-50", "Dyn11", td)
	assert.NilError(t, err)
	assert.Equal(t, imag(p.Ym()), 0.0)
	assert.Assert(t, real(p.Ym()) > 0)
}

func TestExcessiveShortCircuitLosses(t *testing.T) {
	td := testData()
	td.Psc = 3000
	_, err := NewParameters("tr-50", "Dyn11", td)
	assert.Assert(t, errors.Is(err, model.ErrStructural))
}

func TestRatio(t *testing.T) {
	// Dyn: delta primary winding at U1n, wye secondary winding at U2n/√3
	p := newParams(t, "Dyn11")
	want := (400 / math.Sqrt(3)) / 20e3
	assert.Assert(t, math.Abs(p.Ratio()-want) < 1e-15)

	// Yy: both windings phase-to-neutral, ratio is the plain voltage ratio
	p = newParams(t, "Yyn0")
	assert.Assert(t, math.Abs(p.Ratio()-400.0/20e3) < 1e-15)
}

func TestTransformMatrixSign(t *testing.T) {
	for clock, sign := range map[string]complex128{"Dyn11": 1, "Dyn5": -1, "Dd0": 1, "Dd6": -1} {
		p := newParams(t, clock)
		m := p.TransformMatrix()
		for i := 0; i < 3; i++ {
			assert.Equal(t, m.At(i, i), sign)
		}
	}
}

func TestZigzagTransformMatrix(t *testing.T) {
	p := newParams(t, "Yzn5")
	m := p.TransformMatrix()
	assert.Equal(t, m.At(0, 0), complex128(-1))
	assert.Equal(t, m.At(0, 1), complex128(1))
	assert.Equal(t, m.At(0, 2), complex128(0))
}

func TestWindingVoltageWithoutNeutral(t *testing.T) {
	// a floating wye star point sits at the terminal average
	p := newParams(t, "Yy0")
	m := p.VoltageMatrix(2)
	v := []complex128{complex(10, 0), complex(4, 0), complex(4, 0)}
	u := phasor.MulVec(m, v)
	// star point at 6: winding voltages 4, -2, -2
	assert.Assert(t, cmplx.Abs(u[0]-4) < 1e-12)
	assert.Assert(t, cmplx.Abs(u[1]+2) < 1e-12)
	assert.Assert(t, cmplx.Abs(u[2]+2) < 1e-12)
}

func TestCatalogueGet(t *testing.T) {
	cat := Catalogue{}
	for _, id := range []string{"tr-50", "tr-100", "pole-25"} {
		p, err := NewParameters(id, "Dyn11", testData())
		assert.NilError(t, err)
		cat[id] = p
	}

	p, err := cat.Get("pole")
	assert.NilError(t, err)
	assert.Equal(t, p.ID(), "pole-25")

	_, err = cat.Get("tr-")
	assert.Assert(t, errors.Is(err, model.ErrCatalogue))
	assert.ErrorContains(t, err, "tr-100")
}

func newBus(t *testing.T, id string, phases phasor.Phases) *model.Bus {
	b, err := model.NewBus(id, phases)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestNewValidation(t *testing.T) {
	params := newParams(t, "Dyn11")
	b1 := newBus(t, "b1", phasor.ABC)
	b2 := newBus(t, "b2", phasor.ABCN)

	_, err := New("t1", b1, b2, params, 0, nil, nil)
	assert.Assert(t, errors.Is(err, model.ErrStructural))

	// secondary needs the neutral terminal
	b3 := newBus(t, "b3", phasor.ABC)
	_, err = New("t1", b1, b3, params, 1, nil, nil)
	assert.Assert(t, errors.Is(err, model.ErrStructural))

	// the delta side has no neutral to ground
	g, err := model.NewGround("earth")
	assert.NilError(t, err)
	_, err = New("t1", b1, b2, params, 1, g, nil)
	assert.Assert(t, errors.Is(err, model.ErrStructural))

	tr, err := New("t1", b1, b2, params, 1, nil, g)
	assert.NilError(t, err)
	gc1, gc2 := tr.NeutralConnections()
	assert.Assert(t, gc1 == nil)
	assert.Assert(t, gc2 != nil)
	assert.Equal(t, gc2.ID(), "t1_n2")
	assert.Equal(t, len(g.Connections()), 1)
}

func TestRefreshNoLoad(t *testing.T) {
	o := newStubOwner()
	params := newParams(t, "Dyn11")
	b1 := newBus(t, "b1", phasor.ABC)
	b2 := newBus(t, "b2", phasor.ABCN)
	assert.NilError(t, model.Propagate(b1, o))
	assert.NilError(t, model.Propagate(b2, o))

	tr, err := New("t1", b1, b2, params, 1, nil, nil)
	assert.NilError(t, err)

	// primary at rated voltage
	v1 := phasor.BalancedVoltages(20e3 / math.Sqrt(3))
	assert.NilError(t, b1.SetPotentials(v1))

	// secondary potentials placed exactly at the transformed voltages:
	// no secondary winding current flows
	u1w := tr.WindingVoltages(1, v1)
	kt := complex(params.Ratio(), 0)
	v2 := make([]complex128, 4)
	for i := 0; i < 3; i++ {
		v2[i] = kt * u1w[i]
	}
	assert.NilError(t, b2.SetPotentials(v2))
	model.MarkSolved(b1)
	model.MarkSolved(b2)

	assert.NilError(t, tr.Refresh())
	i1, i2, err := tr.ResCurrents()
	assert.NilError(t, err)

	for i := range i2 {
		assert.Assert(t, cmplx.Abs(i2[i]) < 1e-9)
	}

	// the primary carries only magnetizing current and its terminal
	// currents, being delta differences, sum to zero
	var sum complex128
	var mag float64
	for i := range i1 {
		sum += i1[i]
		mag += cmplx.Abs(i1[i])
	}
	assert.Assert(t, cmplx.Abs(sum) < 1e-9)
	assert.Assert(t, mag > 0)

	// the recovered winding currents satisfy the branch equations
	rv, ri := tr.Residual(v1, v2, windingFromTerminal(i1), make([]complex128, 3))
	for i := range rv {
		assert.Assert(t, cmplx.Abs(rv[i]) < 1e-6)
		assert.Assert(t, cmplx.Abs(ri[i]) < 1e-9)
	}
}

// windingFromTerminal inverts the delta terminal mapping It_i = Iw_i - Iw_i-1
// under the zero-sum winding condition of a balanced magnetizing current.
func windingFromTerminal(it []complex128) []complex128 {
	out := make([]complex128, 3)
	out[0] = (it[0] - it[1]) / 3
	out[1] = out[0] + it[1]
	out[2] = -out[0] - out[1]
	return out
}

func TestStaleAfterTapChange(t *testing.T) {
	o := newStubOwner()
	params := newParams(t, "Dyn11")
	b1 := newBus(t, "b1", phasor.ABC)
	b2 := newBus(t, "b2", phasor.ABCN)
	assert.NilError(t, model.Propagate(b1, o))
	assert.NilError(t, model.Propagate(b2, o))
	tr, err := New("t1", b1, b2, params, 1, nil, nil)
	assert.NilError(t, err)

	assert.NilError(t, b1.SetPotentials(phasor.BalancedVoltages(20e3/math.Sqrt(3))))
	assert.NilError(t, b2.SetPotentials(make([]complex128, 4)))
	model.MarkSolved(b1)
	model.MarkSolved(b2)
	assert.NilError(t, tr.Refresh())
	_, _, err = tr.ResCurrents()
	assert.NilError(t, err)

	assert.NilError(t, tr.SetTap(1.05))
	i1, _, err := tr.ResCurrents()
	assert.Assert(t, errors.Is(err, model.ErrResultsStale))
	assert.Assert(t, i1 != nil)
}
