package source

import (
	"errors"
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

func TestNewValidation(t *testing.T) {
	b := newBus(t, "b1", phasor.ABCN)

	// star: one target per non-neutral phase
	_, err := New("src1", b, "abcn", []complex128{230})
	assert.Assert(t, errors.Is(err, model.ErrStructural))

	s, err := New("src1", b, "abcn", phasor.BalancedVoltages(230))
	assert.NilError(t, err)
	assert.Assert(t, s.Star())

	// delta: one target per phase pair
	b2 := newBus(t, "b2", phasor.ABC)
	_, err = New("src2", b2, "abc", []complex128{400})
	assert.Assert(t, errors.Is(err, model.ErrStructural))

	s, err = New("src2", b2, "abc", phasor.BalancedVoltages(400))
	assert.NilError(t, err)
	assert.Assert(t, !s.Star())

	// phases missing from the bus
	_, err = New("src3", b2, "an", []complex128{230})
	assert.Assert(t, errors.Is(err, model.ErrStructural))
}

func TestSetVoltagesInvalidates(t *testing.T) {
	o := newStubOwner()
	b := newBus(t, "b1", phasor.AN)
	assert.NilError(t, model.Propagate(b, o))
	s, err := New("src1", b, "an", []complex128{230})
	assert.NilError(t, err)

	s.SetCurrents([]complex128{4, -4})
	_, err = s.ResCurrents()
	assert.NilError(t, err)

	assert.NilError(t, s.SetVoltages([]complex128{235}))
	_, err = s.ResCurrents()
	assert.Assert(t, errors.Is(err, model.ErrResultsStale))

	err = s.SetVoltages([]complex128{1, 2})
	assert.Assert(t, errors.Is(err, model.ErrStructural))
}

func TestResPowers(t *testing.T) {
	o := newStubOwner()
	b := newBus(t, "b1", phasor.AN)
	assert.NilError(t, model.Propagate(b, o))
	s, err := New("src1", b, "an", []complex128{230})
	assert.NilError(t, err)

	assert.NilError(t, b.SetPotentials([]complex128{230, 0}))
	model.MarkSolved(b)
	s.SetCurrents([]complex128{complex(-5, 1), complex(5, -1)})

	p, err := s.ResPowers()
	assert.NilError(t, err)
	want := 230 * cmplx.Conj(complex(-5, 1))
	assert.Assert(t, cmplx.Abs(p[0]-want) < 1e-9)
}

func TestDisconnect(t *testing.T) {
	o := newStubOwner()
	b := newBus(t, "b1", phasor.AN)
	assert.NilError(t, model.Propagate(b, o))
	s, err := New("src1", b, "an", []complex128{230})
	assert.NilError(t, err)
	assert.Equal(t, len(b.Links()), 1)

	s.Disconnect()
	assert.Equal(t, len(b.Links()), 0)
	assert.Assert(t, s.Network() == nil)
	assert.Equal(t, o.dropped, 1)
}
