package halo2test

import (
	"math/big"

	fr_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// poly is a polynomial in coefficient form, lowest degree first.
type poly []fr_bn254.Element

func polyAdd(a, b poly) poly {
	out := make(poly, max(len(a), len(b)))
	for i := range out {
		if i < len(a) {
			out[i].Add(&out[i], &a[i])
		}
		if i < len(b) {
			out[i].Add(&out[i], &b[i])
		}
	}
	return out
}

func polyMul(a, b poly) poly {
	if len(a) == 0 || len(b) == 0 {
		return poly{}
	}
	out := make(poly, len(a)+len(b)-1)
	for i := range a {
		for j := range b {
			var t fr_bn254.Element
			t.Mul(&a[i], &b[j])
			out[i+j].Add(&out[i+j], &t)
		}
	}
	return out
}

func polyNeg(a poly) poly {
	out := make(poly, len(a))
	for i := range a {
		out[i].Neg(&a[i])
	}
	return out
}

func polyScale(a poly, s fr_bn254.Element) poly {
	out := make(poly, len(a))
	for i := range a {
		out[i].Mul(&a[i], &s)
	}
	return out
}

// polyRotate substitutes X -> omega^rot * X, so the rotated polynomial
// evaluated at x equals the original at omega^rot * x.
func polyRotate(a poly, omega fr_bn254.Element, rot int) poly {
	if rot == 0 {
		return append(poly(nil), a...)
	}
	var step fr_bn254.Element
	if rot > 0 {
		step.Exp(omega, big.NewInt(int64(rot)))
	} else {
		step.Inverse(&omega)
		step.Exp(step, big.NewInt(int64(-rot)))
	}
	out := make(poly, len(a))
	var pow fr_bn254.Element
	pow.SetOne()
	for i := range a {
		out[i].Mul(&a[i], &pow)
		pow.Mul(&pow, &step)
	}
	return out
}

func polyEval(a poly, x fr_bn254.Element) fr_bn254.Element {
	var acc fr_bn254.Element
	for i := len(a) - 1; i >= 0; i-- {
		acc.Mul(&acc, &x)
		acc.Add(&acc, &a[i])
	}
	return acc
}

// interpolate returns the coefficient form of the polynomial taking
// values[j] at omega^j, by inverse DFT: c_k = (1/n) sum_j v_j omega^(-jk).
// Quadratic in n, which the fixture domain sizes keep harmless.
func interpolate(values []fr_bn254.Element, omega fr_bn254.Element) poly {
	n := len(values)
	var omegaInv fr_bn254.Element
	omegaInv.Inverse(&omega)
	var nInv fr_bn254.Element
	nInv.SetUint64(uint64(n))
	nInv.Inverse(&nInv)

	out := make(poly, n)
	for k := 0; k < n; k++ {
		var acc, wk, pow fr_bn254.Element
		wk.Exp(omegaInv, big.NewInt(int64(k)))
		pow.SetOne()
		for j := 0; j < n; j++ {
			var t fr_bn254.Element
			t.Mul(&values[j], &pow)
			acc.Add(&acc, &t)
			pow.Mul(&pow, &wk)
		}
		acc.Mul(&acc, &nInv)
		out[k] = acc
	}
	return out
}

// divideByVanishing returns q with a = q * (X^n - 1), or ok=false when the
// division leaves a remainder.
func divideByVanishing(a poly, n int) (poly, bool) {
	rem := append(poly(nil), a...)
	if len(rem) <= n {
		for i := range rem {
			if !rem[i].IsZero() {
				return nil, false
			}
		}
		return poly{}, true
	}
	q := make(poly, len(rem)-n)
	for i := len(rem) - 1; i >= n; i-- {
		c := rem[i]
		q[i-n] = c
		rem[i].SetZero()
		rem[i-n].Add(&rem[i-n], &c)
	}
	for i := 0; i < n; i++ {
		if !rem[i].IsZero() {
			return nil, false
		}
	}
	return q, true
}
