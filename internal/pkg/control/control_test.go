package control

import (
	"math"
	"math/cmplx"
	"testing"

	"gotest.tools/assert"
)

// Standard EN 50160 style band around 230 V.
const (
	uMin = 0.90 * 230
	uDn  = 0.96 * 230
	uUp  = 1.04 * 230
	uMax = 1.10 * 230
	sMax = 5000.0
)

func newPU(t *testing.T) Parameter {
	p, err := NewPU(uMin, uDn, uUp, uMax, sMax, Euclidean)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func newQU(t *testing.T) Parameter {
	p, err := NewQU(uMin, uDn, uUp, uMax, sMax, Euclidean)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestThresholdOrdering(t *testing.T) {
	_, err := NewPU(220, 210, 240, 250, sMax, Euclidean)
	assert.Assert(t, err != nil)

	_, err = NewQU(210, 210, 240, 250, sMax, Euclidean)
	assert.Assert(t, err != nil)

	_, err = NewConstant(0)
	assert.Assert(t, err != nil)

	_, err = NewConstant(-1)
	assert.Assert(t, err != nil)
}

func TestConstantPassThrough(t *testing.T) {
	p, err := NewConstant(sMax)
	assert.NilError(t, err)
	s := complex(1000, -300)
	assert.Equal(t, p.Apply(s, 180), s)
	assert.Equal(t, p.Apply(s, 280), s)
}

func TestPUProductionCurtailment(t *testing.T) {
	p := newPU(t)
	sTh := complex(-3000, 0)

	// inside the band production is untouched
	assert.Equal(t, p.Apply(sTh, 230), sTh)
	assert.Equal(t, p.Apply(sTh, uUp), sTh)

	// fully curtailed at and above uMax
	assert.Equal(t, real(p.Apply(sTh, uMax)), 0.0)
	assert.Equal(t, real(p.Apply(sTh, uMax+10)), 0.0)

	// monotone non-increasing magnitude across the roll-off
	prev := math.Inf(-1)
	for u := uUp; u <= uMax; u += 0.1 {
		got := real(p.Apply(sTh, u))
		assert.Assert(t, got >= prev, "|P| must not grow with voltage at u=%v", u)
		assert.Assert(t, got <= 0 && got >= -3000)
		prev = got
	}
}

func TestPUConsumptionCurtailment(t *testing.T) {
	p := newPU(t)
	sTh := complex(3000, 0)

	assert.Equal(t, p.Apply(sTh, 230), sTh)
	assert.Equal(t, p.Apply(sTh, uDn), sTh)

	// fully curtailed at and below uMin
	assert.Equal(t, real(p.Apply(sTh, uMin)), 0.0)
	assert.Equal(t, real(p.Apply(sTh, uMin-10)), 0.0)

	prev := math.Inf(1)
	for u := uDn; u >= uMin; u -= 0.1 {
		got := real(p.Apply(sTh, u))
		assert.Assert(t, got <= prev, "P must not grow as voltage sags at u=%v", u)
		assert.Assert(t, got >= 0 && got <= 3000)
		prev = got
	}
}

func TestQUTable(t *testing.T) {
	p := newQU(t)
	sTh := complex128(0)

	// full injection at and below uMin
	assert.Equal(t, imag(p.Apply(sTh, uMin)), -sMax)
	assert.Equal(t, imag(p.Apply(sTh, uMin-5)), -sMax)

	// dead band
	assert.Equal(t, imag(p.Apply(sTh, uDn)), 0.0)
	assert.Equal(t, imag(p.Apply(sTh, 230)), 0.0)
	assert.Equal(t, imag(p.Apply(sTh, uUp)), 0.0)

	// full absorption at and above uMax
	assert.Equal(t, imag(p.Apply(sTh, uMax)), sMax)
	assert.Equal(t, imag(p.Apply(sTh, uMax+5)), sMax)

	// monotone non-decreasing over the whole range
	prev := math.Inf(-1)
	for u := uMin - 2; u <= uMax+2; u += 0.1 {
		q := imag(p.Apply(sTh, u))
		assert.Assert(t, q >= prev, "Q(U) must be monotone at u=%v", u)
		prev = q
	}
}

func TestQUPreservesP(t *testing.T) {
	p := newQU(t)
	s := p.Apply(complex(1000, 0), 230)
	assert.Equal(t, real(s), 1000.0)
}

func TestPQUCombined(t *testing.T) {
	p, err := NewPQU(uMin, uDn, uUp, uMax, sMax, Euclidean)
	assert.NilError(t, err)
	assert.Equal(t, p.Kind(), PQU)

	// high voltage: production curtailed and reactive absorbed
	s := p.Apply(complex(-3000, 0), uMax)
	assert.Equal(t, real(s), 0.0)
	assert.Equal(t, imag(s), sMax)

	// dead band: P untouched, Q driven to the table's zero
	s = p.Apply(complex(-3000, 500), 230)
	assert.Equal(t, s, complex(-3000, 0))
}

func TestProjectFeasibleNoOp(t *testing.T) {
	p := newPU(t)
	s := complex(3000, -2000)
	assert.Equal(t, p.Project(s), s)
	assert.Equal(t, p.Project(0), complex128(0))
}

func TestProjectEuclidean(t *testing.T) {
	p := newPU(t)
	s := complex(6000, 8000)
	got := p.Project(s)
	assert.Assert(t, cmplx.Abs(got) <= sMax+1e-6)
	// direction is preserved
	ratio := real(got) / imag(got)
	assert.Assert(t, math.Abs(ratio-6000.0/8000.0) < 1e-6)
	// idempotent up to the smoothing width
	assert.Assert(t, cmplx.Abs(p.Project(got)-got) < 1e-3)
}

func TestProjectKeepP(t *testing.T) {
	p, err := NewQU(uMin, uDn, uUp, uMax, sMax, KeepP)
	assert.NilError(t, err)

	got := p.Project(complex(3000, 9000))
	assert.Equal(t, real(got), 3000.0)
	assert.Assert(t, imag(got) > 0)
	assert.Assert(t, cmplx.Abs(got) <= sMax+1e-3)

	// |P| beyond the bound collapses Q entirely
	got = p.Project(complex(-7000, 1000))
	assert.Equal(t, got, complex(-sMax, 0))
}

func TestProjectKeepQ(t *testing.T) {
	p, err := NewQU(uMin, uDn, uUp, uMax, sMax, KeepQ)
	assert.NilError(t, err)

	got := p.Project(complex(9000, -3000))
	assert.Equal(t, imag(got), -3000.0)
	assert.Assert(t, real(got) > 0)
	assert.Assert(t, cmplx.Abs(got) <= sMax+1e-3)

	got = p.Project(complex(1000, 7000))
	assert.Equal(t, got, complex(0, sMax))
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, Constant.String(), "constant")
	assert.Equal(t, PU.String(), "p_u")
	assert.Equal(t, QU.String(), "q_u")
	assert.Equal(t, PQU.String(), "pq_u")
	assert.Equal(t, Euclidean.String(), "euclidean")
	assert.Equal(t, KeepP.String(), "keep_p")
	assert.Equal(t, KeepQ.String(), "keep_q")
}
