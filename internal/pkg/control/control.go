/*
Package control implements the per-phase control laws of flexible
(smart-inverter) loads and the feasible-domain projections that keep the
controlled power inside the |S| ≤ Smax disk.

Every function here is pure: the controlled power depends only on the
theoretical power, the measured voltage magnitude and the parameter values.
The law is evaluated once per outer solver iteration, so every transition is
kept continuously differentiable; a kink would stall the fixed point.
*/
package control

import (
	"fmt"
	"math"
	"math/cmplx"
)

// Kind selects the control law applied to one phase.
type Kind int

const (
	// Constant passes the theoretical power through untouched.
	Constant Kind = iota
	// PU curtails active power as voltage leaves its band.
	PU
	// QU drives reactive power from the four-threshold voltage table.
	QU
	// PQU applies QU first, using reactive headroom before PU curtails
	// the remaining active power.
	PQU
)

func (k Kind) String() string {
	switch k {
	case Constant:
		return "constant"
	case PU:
		return "p_u"
	case QU:
		return "q_u"
	case PQU:
		return "pq_u"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Projection selects how an infeasible controlled power is mapped back onto
// the |S| ≤ Smax disk.
type Projection int

const (
	// Euclidean scales S along the ray to the origin.
	Euclidean Projection = iota
	// KeepP holds active power and reduces |Q| only.
	KeepP
	// KeepQ holds reactive power and reduces |P| only.
	KeepQ
)

func (p Projection) String() string {
	switch p {
	case Euclidean:
		return "euclidean"
	case KeepP:
		return "keep_p"
	case KeepQ:
		return "keep_q"
	}
	return fmt.Sprintf("Projection(%d)", int(p))
}

// epsilon smooths the square root used by the projections at S = 0.
const epsilon = 1e-8

// Parameter is the immutable per-phase control description of a flexible
// load: the control kind with its voltage thresholds, the apparent power
// bound and the projection kind.
type Parameter struct {
	kind Kind
	proj Projection
	sMax float64

	// Voltage thresholds, V. PU production uses uUp/uMax, PU consumption
	// uMin/uDown, QU all four.
	uMin, uDown, uUp, uMax float64
}

// NewConstant returns a pass-through parameter bounded by sMax.
func NewConstant(sMax float64) (Parameter, error) {
	if sMax <= 0 {
		return Parameter{}, fmt.Errorf("control: smax must be positive")
	}
	return Parameter{kind: Constant, proj: Euclidean, sMax: sMax}, nil
}

// NewPU returns an active-power control: production is curtailed between
// uUp and uMax, consumption between uDown and uMin.
func NewPU(uMin, uDown, uUp, uMax, sMax float64, proj Projection) (Parameter, error) {
	if sMax <= 0 {
		return Parameter{}, fmt.Errorf("control: smax must be positive")
	}
	if !(uMin < uDown && uDown < uUp && uUp < uMax) {
		return Parameter{}, fmt.Errorf("control: thresholds must satisfy umin < udown < uup < umax")
	}
	return Parameter{kind: PU, proj: proj, sMax: sMax, uMin: uMin, uDown: uDown, uUp: uUp, uMax: uMax}, nil
}

// NewQU returns a reactive-power control over the four-threshold table:
// full injection below uMin, no action between uDown and uUp, full
// absorption above uMax.
func NewQU(uMin, uDown, uUp, uMax, sMax float64, proj Projection) (Parameter, error) {
	if sMax <= 0 {
		return Parameter{}, fmt.Errorf("control: smax must be positive")
	}
	if !(uMin < uDown && uDown < uUp && uUp < uMax) {
		return Parameter{}, fmt.Errorf("control: thresholds must satisfy umin < udown < uup < umax")
	}
	return Parameter{kind: QU, proj: proj, sMax: sMax, uMin: uMin, uDown: uDown, uUp: uUp, uMax: uMax}, nil
}

// NewPQU returns the combined control: QU first, then PU on the remaining
// active power.
func NewPQU(uMin, uDown, uUp, uMax, sMax float64, proj Projection) (Parameter, error) {
	p, err := NewQU(uMin, uDown, uUp, uMax, sMax, proj)
	if err != nil {
		return Parameter{}, err
	}
	p.kind = PQU
	return p, nil
}

// Kind returns the control kind.
func (p Parameter) Kind() Kind { return p.kind }

// ProjectionKind returns the projection kind.
func (p Parameter) ProjectionKind() Projection { return p.proj }

// SMax returns the apparent power bound.
func (p Parameter) SMax() float64 { return p.sMax }

// Thresholds returns the four voltage thresholds.
func (p Parameter) Thresholds() (uMin, uDown, uUp, uMax float64) {
	return p.uMin, p.uDown, p.uUp, p.uMax
}

// ramp is a C¹ monotone S-curve: 0 at or below lo, 1 at or above hi, the
// smoothstep cubic in between.
func ramp(u, lo, hi float64) float64 {
	if u <= lo {
		return 0
	}
	if u >= hi {
		return 1
	}
	t := (u - lo) / (hi - lo)
	return t * t * (3 - 2*t)
}

// smoothSqrt is √x with the kink at x = 0 replaced by a differentiable
// approximation, √(ε·e^(−x/ε) + x) for the squared input x.
func smoothSqrt(x float64) float64 {
	return math.Sqrt(epsilon*math.Exp(-x/epsilon) + x)
}

// Apply computes the controlled power for the theoretical power sTh at the
// measured voltage magnitude u, projection included.
func (p Parameter) Apply(sTh complex128, u float64) complex128 {
	var s complex128
	switch p.kind {
	case Constant:
		return sTh
	case PU:
		s = complex(p.controlP(real(sTh), u), imag(sTh))
	case QU:
		s = complex(real(sTh), p.controlQ(u))
	case PQU:
		// Reactive headroom first, then curtail what active power remains.
		s = complex(p.controlP(real(sTh), u), p.controlQ(u))
	default:
		return sTh
	}
	return p.Project(s)
}

// controlP curtails active power: production (negative P) rolls off to zero
// between uUp and uMax, consumption between uDown and uMin.
func (p Parameter) controlP(pTh float64, u float64) float64 {
	if pTh < 0 {
		s := 1 - ramp(u, p.uUp, p.uMax)
		return math.Max(-s*p.sMax, pTh)
	}
	s := ramp(u, p.uMin, p.uDown)
	return math.Min(s*p.sMax, pTh)
}

// controlQ follows the four-threshold table: -Smax (full injection) at or
// below uMin, zero between uDown and uUp, +Smax (full absorption) at or
// above uMax, smooth in between.
func (p Parameter) controlQ(u float64) float64 {
	return (ramp(u, p.uUp, p.uMax) - (1 - ramp(u, p.uMin, p.uDown))) * p.sMax
}

// Project maps s back onto the |S| ≤ Smax disk according to the projection
// kind. Feasible inputs are returned unchanged.
func (p Parameter) Project(s complex128) complex128 {
	if cmplx.Abs(s) <= p.sMax {
		return s
	}
	pw, q := real(s), imag(s)
	switch p.proj {
	case KeepP:
		head := p.sMax*p.sMax - pw*pw
		if head <= 0 {
			return complex(math.Copysign(p.sMax, pw), 0)
		}
		return complex(pw, math.Copysign(smoothSqrt(head), q))
	case KeepQ:
		head := p.sMax*p.sMax - q*q
		if head <= 0 {
			return complex(0, math.Copysign(p.sMax, q))
		}
		return complex(math.Copysign(smoothSqrt(head), pw), q)
	default:
		mag := smoothSqrt(pw*pw + q*q)
		return s * complex(p.sMax/mag, 0)
	}
}
