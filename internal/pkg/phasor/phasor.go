/*
Package phasor holds the electrical primitives shared by the element model:
phase sets, complex phase-vector helpers, symmetrical components and per-unit
bases. Everything here is a pure function over values.
*/
package phasor

import (
	"fmt"
	"math"
	"math/cmplx"
	"strings"
)

// Phases is an ordered subset of the conductors "a", "b", "c" and "n".
// The ordering is fixed: a before b before c before n.
type Phases string

const (
	ABC  Phases = "abc"
	ABCN Phases = "abcn"
	AN   Phases = "an"
	BN   Phases = "bn"
	CN   Phases = "cn"
)

const phaseOrder = "abcn"

// deltaPairs are the adjacent phase-to-phase pairs. "ca" wraps around and
// breaks the canonical ordering, so Check admits these explicitly.
var deltaPairs = map[Phases]bool{"ab": true, "bc": true, "ca": true}

// Check validates that p is a non-empty, duplicate-free, correctly ordered
// subset of "abcn", or one of the delta pairs ab, bc, ca.
func (p Phases) Check() error {
	if len(p) == 0 {
		return fmt.Errorf("empty phase set")
	}
	if deltaPairs[p] {
		return nil
	}
	last := -1
	for i := 0; i < len(p); i++ {
		idx := strings.IndexByte(phaseOrder, p[i])
		if idx < 0 {
			return fmt.Errorf("unknown phase %q in %q", string(p[i]), string(p))
		}
		if idx <= last {
			return fmt.Errorf("phases %q out of order or duplicated", string(p))
		}
		last = idx
	}
	return nil
}

// Contains reports whether every phase of sub appears in p.
func (p Phases) Contains(sub Phases) bool {
	for i := 0; i < len(sub); i++ {
		if strings.IndexByte(string(p), sub[i]) < 0 {
			return false
		}
	}
	return true
}

// Index returns the position of phase ph within p, or -1.
func (p Phases) Index(ph byte) int {
	return strings.IndexByte(string(p), ph)
}

// HasNeutral reports whether p includes the neutral conductor.
func (p Phases) HasNeutral() bool {
	return p.Index('n') >= 0
}

// NonNeutral returns p with the neutral conductor stripped.
func (p Phases) NonNeutral() Phases {
	return Phases(strings.TrimSuffix(string(p), "n"))
}

// Intersect returns the ordered phases common to p and q.
func (p Phases) Intersect(q Phases) Phases {
	var b strings.Builder
	for i := 0; i < len(p); i++ {
		if q.Index(p[i]) >= 0 {
			b.WriteByte(p[i])
		}
	}
	return Phases(b.String())
}

// BalancedVoltages returns the positive-sequence phase-to-neutral voltage
// vector of magnitude un for the a, b, c conductors: un∠0°, un∠-120°, un∠120°.
func BalancedVoltages(un float64) []complex128 {
	return []complex128{
		complex(un, 0),
		complex(un, 0) * cmplx.Exp(complex(0, -2*math.Pi/3)),
		complex(un, 0) * cmplx.Exp(complex(0, 2*math.Pi/3)),
	}
}

// alpha is the Fortescue rotation operator e^(j·120°).
var alpha = cmplx.Exp(complex(0, 2*math.Pi/3))

// SymComponents decomposes the three phase quantities v into their zero,
// positive and negative sequence components.
func SymComponents(v [3]complex128) (zero, pos, neg complex128) {
	a, a2 := alpha, alpha*alpha
	zero = (v[0] + v[1] + v[2]) / 3
	pos = (v[0] + a*v[1] + a2*v[2]) / 3
	neg = (v[0] + a2*v[1] + a*v[2]) / 3
	return zero, pos, neg
}

// FromSymComponents rebuilds phase quantities from sequence components.
func FromSymComponents(zero, pos, neg complex128) [3]complex128 {
	a, a2 := alpha, alpha*alpha
	return [3]complex128{
		zero + pos + neg,
		zero + a2*pos + a*neg,
		zero + a*pos + a2*neg,
	}
}

// PhaseToLine converts a phase-to-neutral magnitude to phase-to-phase.
func PhaseToLine(u float64) float64 { return u * math.Sqrt(3) }

// LineToPhase converts a phase-to-phase magnitude to phase-to-neutral.
func LineToPhase(u float64) float64 { return u / math.Sqrt(3) }

// Base collects the per-unit base quantities derived from a power and
// voltage base.
type Base struct {
	S float64 // VA
	U float64 // V, phase-to-phase
	Z float64 // Ohm
	I float64 // A
}

// NewBase derives the impedance and current bases from sBase and uBase.
func NewBase(sBase, uBase float64) Base {
	return Base{
		S: sBase,
		U: uBase,
		Z: uBase * uBase / sBase,
		I: sBase / (math.Sqrt(3) * uBase),
	}
}
