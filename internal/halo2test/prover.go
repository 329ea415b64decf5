package halo2test

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	fr_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/kzg"

	"github.com/xiyu1984/halo2-solidity-verifier/plan"
	"github.com/xiyu1984/halo2-solidity-verifier/protocol"
	"github.com/xiyu1984/halo2-solidity-verifier/transcript"
)

// Prove produces a proof for the fixture circuit and public values. The
// transcript interleaving mirrors the verification side move for move;
// any drift between the two shows up as a rejected proof in the tests.
func (f *Fixture) Prove(instances []fr_bn254.Element) ([]byte, error) {
	n := fixtureDomain
	p := f.Protocol
	witness := f.assign(instances)

	advice := make([]poly, len(witness))
	adviceCommits := make([]bn254.G1Affine, len(witness))
	for i, col := range witness {
		advice[i] = interpolate(col, f.omega)
		c, err := kzg.Commit(advice[i], f.srs.Pk)
		if err != nil {
			return nil, fmt.Errorf("advice commitment %d: %w", i, err)
		}
		adviceCommits[i] = c
	}

	instRows := make([]fr_bn254.Element, n)
	copy(instRows, instances)
	instancePoly := interpolate(instRows, f.omega)

	omegaPow := make([]fr_bn254.Element, n)
	omegaPow[0].SetOne()
	for j := 1; j < n; j++ {
		omegaPow[j].Mul(&omegaPow[j-1], &f.omega)
	}

	rowBinding := func(row int) protocol.Binding {
		return func(kind protocol.ColumnKind, index, rotation int) fr_bn254.Element {
			at := ((row+rotation)%n + n) % n
			switch kind {
			case protocol.Advice:
				return witness[index][at]
			case protocol.Fixed:
				return f.fixedRows[index][at]
			case protocol.Instance:
				return instRows[at]
			}
			panic(fmt.Sprintf("fixture has no %s rows", kind))
		}
	}

	var proof bytes.Buffer
	tr := transcript.New(p.Digest())
	appendPoint := func(pt bn254.G1Affine) {
		x := pt.X.Bytes()
		y := pt.Y.Bytes()
		proof.Write(x[:])
		proof.Write(y[:])
		tr.AbsorbPoint(&pt)
	}
	appendScalar := func(e fr_bn254.Element) {
		b := e.Bytes()
		proof.Write(b[:])
		tr.AbsorbScalar(e)
	}
	commitPoint := func(pl poly, what string) error {
		c, err := kzg.Commit(pl, f.srs.Pk)
		if err != nil {
			return fmt.Errorf("%s commitment: %w", what, err)
		}
		appendPoint(c)
		return nil
	}

	for _, v := range instances {
		tr.AbsorbScalar(v)
	}
	for _, c := range adviceCommits {
		appendPoint(c)
	}
	theta := tr.Squeeze()

	// lookups: the theta-compressed input column permuted into sorted
	// order, and the table column permuted to line up with it
	compressRow := func(exprs []protocol.Expression, row int) fr_bn254.Element {
		bind := rowBinding(row)
		acc := exprs[0].Evaluate(bind)
		for _, e := range exprs[1:] {
			acc.Mul(&acc, &theta)
			v := e.Evaluate(bind)
			acc.Add(&acc, &v)
		}
		return acc
	}
	type lookupState struct {
		inRows, tabRows []fr_bn254.Element
		aRows, sRows    []fr_bn254.Element
		aPoly, sPoly    poly
		zPoly           poly
	}
	lookups := make([]*lookupState, len(p.Lookups))
	for l, lk := range p.Lookups {
		st := &lookupState{
			inRows:  make([]fr_bn254.Element, n),
			tabRows: make([]fr_bn254.Element, n),
		}
		for j := 0; j < n; j++ {
			st.inRows[j] = compressRow(lk.Inputs, j)
			st.tabRows[j] = compressRow(lk.Tables, j)
		}
		st.aRows = append([]fr_bn254.Element(nil), st.inRows...)
		sort.Slice(st.aRows, func(i, k int) bool {
			bi, bk := st.aRows[i].Bytes(), st.aRows[k].Bytes()
			return bytes.Compare(bi[:], bk[:]) < 0
		})
		var err error
		st.sRows, err = alignTable(st.aRows, st.tabRows)
		if err != nil {
			return nil, fmt.Errorf("lookup %q: %w", lk.Name, err)
		}
		st.aPoly = interpolate(st.aRows, f.omega)
		st.sPoly = interpolate(st.sRows, f.omega)
		if err := commitPoint(st.aPoly, "permuted input"); err != nil {
			return nil, err
		}
		if err := commitPoint(st.sPoly, "permuted table"); err != nil {
			return nil, err
		}
		lookups[l] = st
	}
	beta := tr.Squeeze()
	gamma := tr.Squeeze()

	// permutation grand products; the coset shift exponent runs across
	// groups, never resetting per group
	delta := p.Delta()
	type permState struct {
		colRows   [][]fr_bn254.Element
		deltaPows []fr_bn254.Element
		zPoly     poly
	}
	perms := make([]*permState, len(p.Permutations))
	var deltaPow fr_bn254.Element
	deltaPow.SetOne()
	for g, group := range p.Permutations {
		st := &permState{}
		for _, col := range group.Columns {
			rows := make([]fr_bn254.Element, n)
			for j := 0; j < n; j++ {
				rows[j] = col.Evaluate(rowBinding(j))
			}
			st.colRows = append(st.colRows, rows)
			st.deltaPows = append(st.deltaPows, deltaPow)
			deltaPow.Mul(&deltaPow, &delta)
		}
		zRows := make([]fr_bn254.Element, n)
		zRows[0].SetOne()
		for j := 0; j < n-1; j++ {
			var num, den fr_bn254.Element
			num.SetOne()
			den.SetOne()
			for i := range group.Columns {
				var t fr_bn254.Element
				t.Mul(&beta, &st.deltaPows[i])
				t.Mul(&t, &omegaPow[j])
				t.Add(&t, &st.colRows[i][j])
				t.Add(&t, &gamma)
				num.Mul(&num, &t)

				sigmaAt := polyEval(f.sigmas[g][i], omegaPow[j])
				t.Mul(&beta, &sigmaAt)
				t.Add(&t, &st.colRows[i][j])
				t.Add(&t, &gamma)
				den.Mul(&den, &t)
			}
			den.Inverse(&den)
			num.Mul(&num, &den)
			zRows[j+1].Mul(&zRows[j], &num)
		}
		st.zPoly = interpolate(zRows, f.omega)
		perms[g] = st
	}
	for _, st := range lookups {
		zRows := make([]fr_bn254.Element, n)
		zRows[0].SetOne()
		for j := 0; j < n-1; j++ {
			var num, den, t fr_bn254.Element
			num.Add(&st.inRows[j], &beta)
			t.Add(&st.tabRows[j], &gamma)
			num.Mul(&num, &t)
			den.Add(&st.aRows[j], &beta)
			t.Add(&st.sRows[j], &gamma)
			den.Mul(&den, &t)
			den.Inverse(&den)
			num.Mul(&num, &den)
			zRows[j+1].Mul(&zRows[j], &num)
		}
		st.zPoly = interpolate(zRows, f.omega)
	}

	for g, st := range perms {
		if err := commitPoint(st.zPoly, fmt.Sprintf("permutation product %d", g)); err != nil {
			return nil, err
		}
	}
	for l, st := range lookups {
		if err := commitPoint(st.zPoly, fmt.Sprintf("lookup product %d", l)); err != nil {
			return nil, err
		}
	}
	y := tr.Squeeze()

	columnPoly := func(kind protocol.ColumnKind, index int) poly {
		switch kind {
		case protocol.Advice:
			return advice[index]
		case protocol.Fixed:
			return f.fixed[index]
		case protocol.Instance:
			return instancePoly
		}
		panic(fmt.Sprintf("fixture has no %s polynomials", kind))
	}
	var exprPoly func(e protocol.Expression) poly
	exprPoly = func(e protocol.Expression) poly {
		switch v := e.(type) {
		case protocol.Constant:
			return poly{v.Value}
		case protocol.ColumnQuery:
			return polyRotate(columnPoly(v.Kind, v.Index), f.omega, v.Rotation)
		case protocol.Sum:
			return polyAdd(exprPoly(v.A), exprPoly(v.B))
		case protocol.Product:
			return polyMul(exprPoly(v.A), exprPoly(v.B))
		case protocol.Negated:
			return polyNeg(exprPoly(v.A))
		case protocol.Scaled:
			return polyScale(exprPoly(v.A), v.Scalar)
		}
		panic("unreachable expression kind")
	}

	var one fr_bn254.Element
	one.SetOne()
	onePoly := poly{one}
	l0Rows := make([]fr_bn254.Element, n)
	l0Rows[0].SetOne()
	l0 := interpolate(l0Rows, f.omega)

	// residuals in the verifier's folding order: gates, then permutation
	// groups, then lookups
	var residuals []poly
	for _, g := range p.Gates {
		for _, c := range g.Constraints {
			residuals = append(residuals, exprPoly(c))
		}
	}
	for g, group := range p.Permutations {
		st := perms[g]
		zNext := polyRotate(st.zPoly, f.omega, 1)
		residuals = append(residuals, polyMul(l0, polyAdd(onePoly, polyNeg(st.zPoly))))

		left := zNext
		right := st.zPoly
		for i, col := range group.Columns {
			v := exprPoly(col)
			left = polyMul(left, polyAdd(polyAdd(v, polyScale(f.sigmas[g][i], beta)), poly{gamma}))
			var bd fr_bn254.Element
			bd.Mul(&beta, &st.deltaPows[i])
			right = polyMul(right, polyAdd(v, poly{gamma, bd}))
		}
		residuals = append(residuals, polyAdd(left, polyNeg(right)))
	}
	compressPoly := func(exprs []protocol.Expression) poly {
		acc := exprPoly(exprs[0])
		for _, e := range exprs[1:] {
			acc = polyAdd(polyScale(acc, theta), exprPoly(e))
		}
		return acc
	}
	for l, lk := range p.Lookups {
		st := lookups[l]
		zNext := polyRotate(st.zPoly, f.omega, 1)
		residuals = append(residuals, polyMul(l0, polyAdd(onePoly, polyNeg(st.zPoly))))

		left := polyMul(zNext, polyMul(polyAdd(st.aPoly, poly{beta}), polyAdd(st.sPoly, poly{gamma})))
		right := polyMul(st.zPoly, polyMul(
			polyAdd(compressPoly(lk.Inputs), poly{beta}),
			polyAdd(compressPoly(lk.Tables), poly{gamma}),
		))
		residuals = append(residuals, polyAdd(left, polyNeg(right)))

		aPrev := polyRotate(st.aPoly, f.omega, -1)
		residuals = append(residuals, polyMul(
			polyAdd(st.aPoly, polyNeg(st.sPoly)),
			polyAdd(st.aPoly, polyNeg(aPrev)),
		))
	}

	numerator := residuals[0]
	for _, r := range residuals[1:] {
		numerator = polyAdd(polyScale(numerator, y), r)
	}
	h, ok := divideByVanishing(numerator, n)
	if !ok {
		return nil, fmt.Errorf("witness does not satisfy the circuit")
	}
	if len(h) > p.QuotientPieces()*n {
		return nil, fmt.Errorf("quotient degree %d exceeds %d pieces", len(h)-1, p.QuotientPieces())
	}

	pieces := make([]poly, p.QuotientPieces())
	for i := range pieces {
		pieces[i] = make(poly, n)
		for j := 0; j < n; j++ {
			if i*n+j < len(h) {
				pieces[i][j] = h[i*n+j]
			}
		}
		if err := commitPoint(pieces[i], fmt.Sprintf("quotient %d", i)); err != nil {
			return nil, err
		}
	}
	x := tr.Squeeze()

	var xn fr_bn254.Element
	xn.Exp(x, new(big.Int).SetUint64(uint64(n)))
	hFold := make(poly, n)
	var xnPow fr_bn254.Element
	xnPow.SetOne()
	for _, piece := range pieces {
		hFold = polyAdd(hFold, polyScale(piece, xnPow))
		xnPow.Mul(&xnPow, &xn)
	}

	queries, rotations := plan.Openings(p)
	queryPoly := func(q plan.Query) poly {
		switch q.Kind {
		case protocol.AuxQuotient:
			return hFold
		case protocol.AuxPermutation:
			return f.sigmas[q.Index][q.Sub]
		case protocol.AuxPermutationZ:
			return perms[q.Index].zPoly
		case protocol.AuxLookupInput:
			return lookups[q.Index].aPoly
		case protocol.AuxLookupTable:
			return lookups[q.Index].sPoly
		case protocol.AuxLookupZ:
			return lookups[q.Index].zPoly
		}
		return columnPoly(q.Kind, q.Index)
	}
	zAt := func(rot int) fr_bn254.Element {
		z := x
		if rot != 0 {
			var w fr_bn254.Element
			if rot > 0 {
				w.Exp(f.omega, big.NewInt(int64(rot)))
			} else {
				w.Inverse(&f.omega)
				w.Exp(w, big.NewInt(int64(-rot)))
			}
			z.Mul(&z, &w)
		}
		return z
	}

	for _, q := range queries {
		if q.Kind == protocol.AuxQuotient {
			continue
		}
		appendScalar(polyEval(queryPoly(q), zAt(q.Rotation)))
	}
	v := tr.Squeeze()

	for _, rot := range rotations {
		folded := make(poly, 0)
		var vPow fr_bn254.Element
		vPow.SetOne()
		for _, q := range queries {
			if q.Rotation != rot {
				continue
			}
			folded = polyAdd(folded, polyScale(queryPoly(q), vPow))
			vPow.Mul(&vPow, &v)
		}
		opening, err := kzg.Open(folded, zAt(rot), f.srs.Pk)
		if err != nil {
			return nil, fmt.Errorf("opening at rotation %d: %w", rot, err)
		}
		appendPoint(opening.H)
	}
	tr.Squeeze() // u, consumed by the verifier's accumulator

	return proof.Bytes(), nil
}

// alignTable permutes the table rows to sit beside the sorted input column:
// wherever the input value changes, the table row must carry that value;
// repeated inputs take the leftover table rows in order.
func alignTable(sorted, table []fr_bn254.Element) ([]fr_bn254.Element, error) {
	n := len(sorted)
	out := make([]fr_bn254.Element, n)
	used := make([]bool, n)
	var repeats []int
	for j := 0; j < n; j++ {
		if j > 0 && sorted[j].Equal(&sorted[j-1]) {
			repeats = append(repeats, j)
			continue
		}
		found := -1
		for k := 0; k < n; k++ {
			if !used[k] && table[k].Equal(&sorted[j]) {
				found = k
				break
			}
		}
		if found < 0 {
			return nil, fmt.Errorf("input value %s not in table", sorted[j].String())
		}
		used[found] = true
		out[j] = table[found]
	}
	k := 0
	for _, j := range repeats {
		for used[k] {
			k++
		}
		out[j] = table[k]
		used[k] = true
	}
	return out, nil
}
