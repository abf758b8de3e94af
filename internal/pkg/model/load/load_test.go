package load

import (
	"errors"
	"math/cmplx"
	"testing"

	"github.com/google/uuid"
	"gotest.tools/assert"

	"github.com/phasorlab/gridflow/internal/pkg/control"
	"github.com/phasorlab/gridflow/internal/pkg/model"
	"github.com/phasorlab/gridflow/internal/pkg/phasor"
)

type stubOwner struct {
	pid     uuid.UUID
	version uint64
	dropped int
}

func newStubOwner() *stubOwner { return &stubOwner{pid: uuid.New()} }

func (o *stubOwner) PID() uuid.UUID                 { return o.pid }
func (o *stubOwner) Version() uint64                { return o.version }
func (o *stubOwner) Mutated()                       { o.version++ }
func (o *stubOwner) Register(e model.Element) error { return nil }
func (o *stubOwner) Deregister(e model.Element)     { o.dropped++ }

func newBus(t *testing.T, id string, phases phasor.Phases) *model.Bus {
	b, err := model.NewBus(id, phases)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func solvedBus(t *testing.T, o *stubOwner, phases phasor.Phases, v []complex128) *model.Bus {
	b := newBus(t, "b1", phases)
	assert.NilError(t, model.Propagate(b, o))
	assert.NilError(t, b.SetPotentials(v))
	model.MarkSolved(b)
	return b
}

func TestConstructValidation(t *testing.T) {
	b := newBus(t, "b1", phasor.ABCN)

	// the neutral alone cannot be loaded
	_, err := New("l1", b, "n", Power, []complex128{1000})
	assert.Assert(t, errors.Is(err, model.ErrStructural))

	// a single-phase delta load is degenerate
	_, err = New("l1", b, "a", Power, []complex128{1000})
	assert.Assert(t, errors.Is(err, model.ErrStructural))

	// phases missing from the bus
	b2 := newBus(t, "b2", phasor.ABC)
	_, err = New("l1", b2, "an", Power, []complex128{1000})
	assert.Assert(t, errors.Is(err, model.ErrStructural))

	// value count must match the branch count
	_, err = New("l1", b, "abcn", Power, []complex128{1000})
	assert.Assert(t, errors.Is(err, model.ErrStructural))
	_, err = New("l1", b, "abc", Power, []complex128{1000, 1000})
	assert.Assert(t, errors.Is(err, model.ErrStructural))

	ld, err := New("l1", b, "abcn", Power, []complex128{1000, 1000, 1000})
	assert.NilError(t, err)
	assert.Assert(t, ld.Star())

	ld, err = New("l2", b, "abc", Power, []complex128{1000, 1000, 1000})
	assert.NilError(t, err)
	assert.Assert(t, !ld.Star())

	// a two-phase delta branch
	ld, err = New("l3", b, "bc", Power, []complex128{500})
	assert.NilError(t, err)
	assert.Equal(t, ld.Kind(), Power)

	// the wrap-around pair is a valid delta branch too
	ld, err = New("l4", b, "ca", Power, []complex128{500})
	assert.NilError(t, err)
	assert.Assert(t, !ld.Star())
}

func TestConstructShortCircuitConflict(t *testing.T) {
	b := newBus(t, "b1", phasor.ABCN)
	_, err := model.NewShortCircuit("sc1", b, "ab", nil)
	assert.NilError(t, err)

	_, err = New("l1", b, "an", Power, []complex128{1000})
	assert.Assert(t, errors.Is(err, model.ErrStructural))

	// disjoint phases coexist
	_, err = New("l2", b, "cn", Power, []complex128{1000})
	assert.NilError(t, err)
}

func TestStarNeutralClosesSum(t *testing.T) {
	o := newStubOwner()
	v := append(phasor.BalancedVoltages(230), 0)
	b := solvedBus(t, o, phasor.ABCN, v)

	for _, kind := range []Kind{Power, Impedance, Current} {
		values := []complex128{complex(1000, -300), complex(800, 200), complex(1200, 0)}
		if kind == Impedance {
			values = []complex128{complex(40, 10), complex(52, 0), complex(47, -5)}
		}
		ld, err := New("l_"+kind.String(), b, "abcn", kind, values)
		assert.NilError(t, err)
		assert.NilError(t, ld.Refresh())

		i, err := ld.ResCurrents()
		assert.NilError(t, err)
		assert.Equal(t, len(i), 4)
		assert.Assert(t, cmplx.Abs(i[0]+i[1]+i[2]+i[3]) < 1e-9, "neutral must close the sum for %v", kind)
	}
}

func TestPowerLoadCurrents(t *testing.T) {
	o := newStubOwner()
	b := solvedBus(t, o, phasor.AN, []complex128{230, 0})
	s := complex(1000, -300)
	ld, err := New("l1", b, "an", Power, []complex128{s})
	assert.NilError(t, err)
	assert.NilError(t, ld.Refresh())

	i, err := ld.ResCurrents()
	assert.NilError(t, err)
	// S = U·conj(I) with U = 230: I = conj(S/U)
	want := cmplx.Conj(s / 230)
	assert.Assert(t, cmplx.Abs(i[0]-want) < 1e-12)
	assert.Assert(t, cmplx.Abs(i[1]+want) < 1e-12)

	sp, err := ld.ResPowers()
	assert.NilError(t, err)
	assert.Assert(t, cmplx.Abs(sp[0]-s) < 1e-9)
}

func TestPowerLoadZeroVoltage(t *testing.T) {
	o := newStubOwner()
	b := solvedBus(t, o, phasor.AN, []complex128{0, 0})
	ld, err := New("l1", b, "an", Power, []complex128{1000})
	assert.NilError(t, err)
	err = ld.Refresh()
	assert.Assert(t, errors.Is(err, model.ErrStructural))
}

func TestImpedanceLoad(t *testing.T) {
	o := newStubOwner()
	b := solvedBus(t, o, phasor.AN, []complex128{230, 0})
	ld, err := New("l1", b, "an", Impedance, []complex128{complex(46, 0)})
	assert.NilError(t, err)
	assert.NilError(t, ld.Refresh())

	i, err := ld.ResCurrents()
	assert.NilError(t, err)
	assert.Assert(t, cmplx.Abs(i[0]-5) < 1e-12)
}

func TestDeltaLoadPhaseCurrents(t *testing.T) {
	o := newStubOwner()
	b := solvedBus(t, o, phasor.ABC, phasor.BalancedVoltages(230))
	ld, err := New("l1", b, "abc", Current, []complex128{2, 2, 2})
	assert.NilError(t, err)
	assert.NilError(t, ld.Refresh())

	i, err := ld.ResCurrents()
	assert.NilError(t, err)
	assert.Equal(t, len(i), 3)
	// equal circulating branch currents cancel at every terminal
	for k := range i {
		assert.Assert(t, cmplx.Abs(i[k]) < 1e-12)
	}
}

func TestFlexibleLoadCurtails(t *testing.T) {
	o := newStubOwner()
	param, err := control.NewPU(0.90*230, 0.96*230, 1.04*230, 1.10*230, 5000, control.Euclidean)
	assert.NilError(t, err)

	// voltage at the upper limit: production is fully curtailed
	b := solvedBus(t, o, phasor.AN, []complex128{1.10 * 230, 0})
	ld, err := NewFlexible("l1", b, "an", []complex128{complex(-3000, 0)}, []control.Parameter{param})
	assert.NilError(t, err)
	assert.Assert(t, ld.Flexible())
	assert.NilError(t, ld.Refresh())

	sp, err := ld.ResPowers()
	assert.NilError(t, err)
	assert.Assert(t, cmplx.Abs(sp[0]) < 1e-9)

	i, err := ld.ResCurrents()
	assert.NilError(t, err)
	assert.Assert(t, cmplx.Abs(i[0]) < 1e-12)
}

func TestNewFlexibleParamCount(t *testing.T) {
	b := newBus(t, "b1", phasor.ABCN)
	param, err := control.NewConstant(5000)
	assert.NilError(t, err)
	_, err = NewFlexible("l1", b, "abcn", []complex128{1000, 1000, 1000}, []control.Parameter{param})
	assert.Assert(t, errors.Is(err, model.ErrStructural))
}

func TestSetValuesInvalidates(t *testing.T) {
	o := newStubOwner()
	b := solvedBus(t, o, phasor.AN, []complex128{230, 0})
	ld, err := New("l1", b, "an", Power, []complex128{1000})
	assert.NilError(t, err)
	assert.NilError(t, ld.Refresh())
	_, err = ld.ResCurrents()
	assert.NilError(t, err)

	assert.NilError(t, ld.SetValues([]complex128{2000}))
	_, err = ld.ResCurrents()
	assert.Assert(t, errors.Is(err, model.ErrResultsStale))

	err = ld.SetValues([]complex128{1, 2})
	assert.Assert(t, errors.Is(err, model.ErrStructural))
}

func TestDisconnect(t *testing.T) {
	o := newStubOwner()
	b := solvedBus(t, o, phasor.AN, []complex128{230, 0})
	ld, err := New("l1", b, "an", Power, []complex128{1000})
	assert.NilError(t, err)
	assert.Equal(t, len(b.Links()), 1)

	ld.Disconnect()
	assert.Equal(t, len(b.Links()), 0)
	assert.Assert(t, ld.Network() == nil)
	assert.Equal(t, o.dropped, 1)

	// the bus stays a member of the network
	assert.Equal(t, b.Network(), model.Owner(o))
}
