package halo2test

import (
	"math/big"
	"testing"

	fr_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/require"

	"github.com/xiyu1984/halo2-solidity-verifier/protocol"
)

func TestWitnessSatisfiesGates(t *testing.T) {
	f, err := NewFixture()
	require.NoError(t, err)

	instances := f.Instances(5)
	witness := f.witness(instances)

	// selector and instance values row by row
	sel := make([]fr_bn254.Element, fixtureDomain)
	selOut := make([]fr_bn254.Element, fixtureDomain)
	inst := make([]fr_bn254.Element, fixtureDomain)
	for j := 0; j < 3; j++ {
		sel[j].SetOne()
	}
	selOut[0].SetOne()
	inst[0] = instances[0]

	for row := 0; row < fixtureDomain; row++ {
		bind := func(kind protocol.ColumnKind, index, rotation int) fr_bn254.Element {
			at := ((row+rotation)%fixtureDomain + fixtureDomain) % fixtureDomain
			switch kind {
			case protocol.Advice:
				return witness[index][at]
			case protocol.Fixed:
				if index == 0 {
					return sel[at]
				}
				return selOut[at]
			case protocol.Instance:
				return inst[at]
			}
			t.Fatalf("unexpected column kind %v", kind)
			return fr_bn254.Element{}
		}
		for _, g := range f.Protocol.Gates {
			for _, c := range g.Constraints {
				v := c.Evaluate(bind)
				require.True(t, v.IsZero(), "gate %s row %d", g.Name, row)
			}
		}
	}
}

func TestInterpolateRoundTrip(t *testing.T) {
	omega := protocol.RootOfUnity(8)
	values := make([]fr_bn254.Element, 8)
	for i := range values {
		values[i].SetUint64(uint64(i*i + 3))
	}
	p := interpolate(values, omega)

	var x fr_bn254.Element
	x.SetOne()
	for i := range values {
		require.Equal(t, values[i], polyEval(p, x), "row %d", i)
		x.Mul(&x, &omega)
	}
}

func TestPolyRotateShiftsArgument(t *testing.T) {
	omega := protocol.RootOfUnity(8)
	p := poly{}
	for i := 0; i < 5; i++ {
		var c fr_bn254.Element
		c.SetUint64(uint64(i + 7))
		p = append(p, c)
	}
	var x fr_bn254.Element
	x.SetUint64(12345)

	for _, rot := range []int{-2, -1, 0, 1, 3} {
		rotated := polyRotate(p, omega, rot)
		var w fr_bn254.Element
		if rot >= 0 {
			w.Exp(omega, big.NewInt(int64(rot)))
		} else {
			w.Inverse(&omega)
			w.Exp(w, big.NewInt(int64(-rot)))
		}
		var shifted fr_bn254.Element
		shifted.Mul(&x, &w)
		require.Equal(t, polyEval(p, shifted), polyEval(rotated, x), "rotation %d", rot)
	}
}

func TestDivideByVanishing(t *testing.T) {
	// (X^8 - 1) * (3X^2 + 1) divides exactly
	q := poly{}
	for _, c := range []uint64{1, 0, 3} {
		var e fr_bn254.Element
		e.SetUint64(c)
		q = append(q, e)
	}
	vanishing := make(poly, 9)
	vanishing[8].SetOne()
	var minusOne fr_bn254.Element
	minusOne.SetOne()
	minusOne.Neg(&minusOne)
	vanishing[0] = minusOne

	product := polyMul(vanishing, q)
	got, ok := divideByVanishing(product, 8)
	require.True(t, ok)
	for i := range q {
		require.Equal(t, q[i], got[i])
	}

	// adding a remainder breaks the division
	product[2].SetUint64(99)
	_, ok = divideByVanishing(product, 8)
	require.False(t, ok)
}

func TestArgumentWitnessShape(t *testing.T) {
	f, err := NewArgumentFixture()
	require.NoError(t, err)
	w := f.assign(f.Instances(9))

	// a1 is a0 one row ahead, a2 visits every table value exactly once
	for j := 0; j < fixtureDomain; j++ {
		require.Equal(t, w[0][(j+1)%fixtureDomain], w[1][j], "row %d", j)
	}
	seen := make(map[string]bool)
	for j := 0; j < fixtureDomain; j++ {
		seen[w[2][j].String()] = true
	}
	for j := 0; j < fixtureDomain; j++ {
		require.True(t, seen[f.fixedRows[0][j].String()], "table row %d unmatched", j)
	}
}

func TestAlignTable(t *testing.T) {
	el := func(v uint64) fr_bn254.Element {
		var e fr_bn254.Element
		e.SetUint64(v)
		return e
	}
	col := func(vs ...uint64) []fr_bn254.Element {
		out := make([]fr_bn254.Element, len(vs))
		for i, v := range vs {
			out[i] = el(v)
		}
		return out
	}

	sorted := col(2, 2, 2, 5, 5, 7, 7, 7)
	table := col(1, 2, 3, 4, 5, 6, 7, 8)
	out, err := alignTable(sorted, table)
	require.NoError(t, err)

	// wherever the sorted input changes (including the wrap to the last
	// row), the aligned table row carries the same value
	n := len(sorted)
	for j := 0; j < n; j++ {
		var d1, d2 fr_bn254.Element
		d1.Sub(&sorted[j], &out[j])
		d2.Sub(&sorted[j], &sorted[(j-1+n)%n])
		var prod fr_bn254.Element
		prod.Mul(&d1, &d2)
		require.True(t, prod.IsZero(), "row %d", j)
	}
	// the aligned column is a permutation of the table
	counts := make(map[string]int)
	for j := 0; j < n; j++ {
		counts[table[j].String()]++
		counts[out[j].String()]--
	}
	for v, c := range counts {
		require.Zero(t, c, "value %s", v)
	}

	_, err = alignTable(col(9, 9, 9, 9, 9, 9, 9, 9), table)
	require.Error(t, err)
}

func TestArgumentProveDeterministic(t *testing.T) {
	f, err := NewArgumentFixture()
	require.NoError(t, err)
	a, err := f.Prove(f.Instances(4))
	require.NoError(t, err)
	b, err := f.Prove(f.Instances(4))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestProveDeterministic(t *testing.T) {
	f, err := NewFixture()
	require.NoError(t, err)
	a, err := f.Prove(f.Instances(7))
	require.NoError(t, err)
	b, err := f.Prove(f.Instances(7))
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestProveRejectsUnsatisfiedWitness(t *testing.T) {
	_, err := NewFixture()
	require.NoError(t, err)
	// a tampered fixture cannot happen through the public API; instead,
	// check the quotient division itself flags a bad numerator
	bad := make(poly, 9)
	bad[0].SetUint64(1)
	bad[8].SetUint64(1)
	_, ok := divideByVanishing(bad, 8)
	require.False(t, ok)
}
