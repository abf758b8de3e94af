package phasor

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/mat"
)

// Identity returns the n×n complex identity matrix.
func Identity(n int) *mat.CDense {
	m := mat.NewCDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, i, 1)
	}
	return m
}

// Scale returns f·m as a new matrix. CDense carries no arithmetic methods,
// so the matrix algebra lives here next to the vector helpers.
func Scale(f complex128, m *mat.CDense) *mat.CDense {
	r, c := m.Dims()
	out := mat.NewCDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, f*m.At(i, j))
		}
	}
	return out
}

// Mul returns the matrix product a·b.
func Mul(a, b *mat.CDense) *mat.CDense {
	ar, ac := a.Dims()
	_, bc := b.Dims()
	out := mat.NewCDense(ar, bc, nil)
	for i := 0; i < ar; i++ {
		for j := 0; j < bc; j++ {
			var acc complex128
			for k := 0; k < ac; k++ {
				acc += a.At(i, k) * b.At(k, j)
			}
			out.Set(i, j, acc)
		}
	}
	return out
}

// Add returns a + b element-wise.
func Add(a, b *mat.CDense) *mat.CDense {
	r, c := a.Dims()
	out := mat.NewCDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, a.At(i, j)+b.At(i, j))
		}
	}
	return out
}

// MulVec returns m·v for an n×n matrix and a length-n vector.
func MulVec(m *mat.CDense, v []complex128) []complex128 {
	n, _ := m.Dims()
	out := make([]complex128, n)
	for i := 0; i < n; i++ {
		var acc complex128
		for j := 0; j < len(v); j++ {
			acc += m.At(i, j) * v[j]
		}
		out[i] = acc
	}
	return out
}

// RowSums returns the vector of row sums of m.
func RowSums(m *mat.CDense) []complex128 {
	r, c := m.Dims()
	out := make([]complex128, r)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out[i] += m.At(i, j)
		}
	}
	return out
}

// Solve solves m·x = b by Gaussian elimination with partial pivoting.
// gonum's factorizations cover real matrices only, and the systems here are
// small (at most 4×4), so a direct elimination is used for the complex case.
func Solve(m *mat.CDense, b []complex128) ([]complex128, error) {
	n, c := m.Dims()
	if n != c || len(b) != n {
		return nil, fmt.Errorf("solve: dimension mismatch %dx%d vs %d", n, c, len(b))
	}
	a := mat.NewCDense(n, n, nil)
	a.Copy(m)
	x := make([]complex128, n)
	copy(x, b)

	for k := 0; k < n; k++ {
		pivot := k
		for i := k + 1; i < n; i++ {
			if cmplx.Abs(a.At(i, k)) > cmplx.Abs(a.At(pivot, k)) {
				pivot = i
			}
		}
		if cmplx.Abs(a.At(pivot, k)) == 0 {
			return nil, fmt.Errorf("solve: singular matrix")
		}
		if pivot != k {
			for j := 0; j < n; j++ {
				ak, ap := a.At(k, j), a.At(pivot, j)
				a.Set(k, j, ap)
				a.Set(pivot, j, ak)
			}
			x[k], x[pivot] = x[pivot], x[k]
		}
		for i := k + 1; i < n; i++ {
			f := a.At(i, k) / a.At(k, k)
			if f == 0 {
				continue
			}
			for j := k; j < n; j++ {
				a.Set(i, j, a.At(i, j)-f*a.At(k, j))
			}
			x[i] -= f * x[k]
		}
	}
	for i := n - 1; i >= 0; i-- {
		acc := x[i]
		for j := i + 1; j < n; j++ {
			acc -= a.At(i, j) * x[j]
		}
		x[i] = acc / a.At(i, i)
	}
	return x, nil
}

// AddVec returns a + b element-wise.
func AddVec(a, b []complex128) []complex128 {
	out := make([]complex128, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

// SubVec returns a - b element-wise.
func SubVec(a, b []complex128) []complex128 {
	out := make([]complex128, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

// ScaleVec returns f·v.
func ScaleVec(f complex128, v []complex128) []complex128 {
	out := make([]complex128, len(v))
	for i := range v {
		out[i] = f * v[i]
	}
	return out
}

// SumVec returns the sum of the elements of v.
func SumVec(v []complex128) complex128 {
	var acc complex128
	for i := range v {
		acc += v[i]
	}
	return acc
}
