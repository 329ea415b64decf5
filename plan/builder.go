package plan

import (
	"fmt"
	"math/big"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	fr_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/xiyu1984/halo2-solidity-verifier/protocol"
)

type refKey struct {
	kind  protocol.ColumnKind
	index int
	sub   int
	rot   int
}

// instanceEvalSub marks computed instance evaluations in the slot map,
// keeping them apart from the raw per-row values that use sub >= 0.
const instanceEvalSub = -1

type binKey struct {
	code OpCode
	a, b int
}

type builder struct {
	p  *protocol.Protocol
	qp *queryPlan

	ops        []Op
	numScalars int
	numPoints  int

	consts      map[string]int
	constPoints map[string]int
	cse         map[binKey]int

	evalSlot  map[refKey]int // claimed or computed evaluations
	pointSlot map[refKey]int // proof commitment slots
	wSlot     map[int]int    // opening witness per rotation

	challenges     map[string]int
	layout         Layout
	transcriptSize int
}

// Build lowers the verification of p into a Program. The result is a pure
// function of the protocol: identical protocols yield identical programs.
func Build(p *protocol.Protocol) *Program {
	b := &builder{
		p:           p,
		qp:          newQueryPlan(p),
		consts:      make(map[string]int),
		constPoints: make(map[string]int),
		cse:         make(map[binKey]int),
		evalSlot:    make(map[refKey]int),
		pointSlot:   make(map[refKey]int),
		wSlot:       make(map[int]int),
		challenges:  make(map[string]int),
	}
	b.transcriptSize = 32 // seeded with the protocol digest
	b.layout.NumInstances = p.NumInstanceColumns * p.NumInstanceRows
	b.layout.ProofOffset = 32 * b.layout.NumInstances

	b.absorbInstances()
	b.replayProof()
	x := b.challenges["x"]
	vanishing := b.vanishing(x)
	b.bindInstanceEvals(x, vanishing)
	hEval := b.foldedIdentity(x, vanishing)
	b.accumulate(x, hEval)

	b.layout.ProofLen = b.layout.TotalLen - b.layout.ProofOffset
	negG2 := p.G2
	negG2.Neg(&negG2)
	return &Program{
		Ops:            b.ops,
		NumScalars:     b.numScalars,
		NumPoints:      b.numPoints,
		Layout:         b.layout,
		TranscriptSize: b.transcriptSize,
		Challenges:     b.challenges,
		Digest:         p.Digest(),
		TauG2:          p.TauG2,
		NegG2:          negG2,
	}
}

// absorbInstances loads every public value with a canonicity check and
// commits the whole instance region to the transcript before any proof
// byte, binding the instances to every challenge.
func (b *builder) absorbInstances() {
	for col := 0; col < b.p.NumInstanceColumns; col++ {
		for row := 0; row < b.p.NumInstanceRows; row++ {
			name := fmt.Sprintf("instance_%d_%d", col, row)
			slot := b.loadScalar(name)
			b.evalSlot[refKey{kind: protocol.Instance, index: col, sub: row}] = slot
		}
	}
	if b.layout.NumInstances > 0 {
		b.absorb(0, 32*b.layout.NumInstances)
	}
}

// replayProof walks the proof in prover emission order. Each phase absorbs
// a fixed set of proof fields and ends on its designated challenges;
// reordering anything here desynchronizes the transcript from the prover
// and every challenge after the first difference.
func (b *builder) replayProof() {
	p := b.p

	// phase 1: advice commitments -> theta
	for i := 0; i < p.NumAdvice; i++ {
		b.proofPoint(fmt.Sprintf("advice_commitment_%d", i), refKey{kind: protocol.Advice, index: i})
	}
	b.squeeze("theta")

	// phase 2: lookup permuted commitments -> beta, gamma
	for l := range p.Lookups {
		b.proofPoint(fmt.Sprintf("lookup_permuted_input_%d", l), refKey{kind: protocol.AuxLookupInput, index: l})
		b.proofPoint(fmt.Sprintf("lookup_permuted_table_%d", l), refKey{kind: protocol.AuxLookupTable, index: l})
	}
	b.squeeze("beta")
	b.squeeze("gamma")

	// phase 3: grand-product commitments -> y
	for g := range p.Permutations {
		b.proofPoint(fmt.Sprintf("permutation_z_%d", g), refKey{kind: protocol.AuxPermutationZ, index: g})
	}
	for l := range p.Lookups {
		b.proofPoint(fmt.Sprintf("lookup_z_%d", l), refKey{kind: protocol.AuxLookupZ, index: l})
	}
	b.squeeze("y")

	// phase 4: quotient piece commitments -> x
	for i := 0; i < p.QuotientPieces(); i++ {
		b.proofPoint(fmt.Sprintf("quotient_commitment_%d", i), refKey{kind: protocol.AuxQuotient, sub: i})
	}
	b.squeeze("x")

	// phase 5: claimed evaluations -> v
	for _, q := range b.qp.evalQueries() {
		name := fmt.Sprintf("eval_%s_%d_%d_rot%d", q.Kind, q.Index, q.Sub, q.Rotation)
		slot := b.loadScalar(name)
		b.absorb(b.layout.TotalLen-32, 32)
		b.evalSlot[refKey{kind: q.Kind, index: q.Index, sub: q.Sub, rot: q.Rotation}] = slot
	}
	b.squeeze("v")

	// phase 6: opening witnesses -> u
	for _, rot := range b.qp.rotations {
		off := b.layout.TotalLen
		slot := b.loadProofPoint(fmt.Sprintf("opening_witness_rot%d", rot), false)
		b.emit(Op{Code: OpAssertNonIdentity, A: slot})
		b.absorb(off, 64)
		b.wSlot[rot] = slot
	}
	b.squeeze("u")
}

// vanishing computes x^n - 1 with log2(n) squarings.
func (b *builder) vanishing(x int) int {
	xn := x
	for n := b.p.DomainSize; n > 1; n >>= 1 {
		xn = b.mul(xn, xn)
	}
	return b.sub(xn, b.one())
}

// bindInstanceEvals evaluates each referenced instance column at its
// rotated points by Lagrange interpolation over the public values:
// sum_j v_j * (omega^j / n) * (x^n - 1) / (z - omega^j).
func (b *builder) bindInstanceEvals(x, vanishing int) {
	omega := b.p.Omega()
	nInv := b.p.DomainSizeInv()
	for _, ref := range b.qp.instanceRefs {
		z := b.rotatedPoint(x, ref.Rotation)
		acc := b.zero()
		var omegaJ fr_bn254.Element
		omegaJ.SetOne()
		for j := 0; j < b.p.NumInstanceRows; j++ {
			var num fr_bn254.Element
			num.Mul(&omegaJ, &nInv)
			term := b.mul(b.evalSlot[refKey{kind: protocol.Instance, index: ref.Index, sub: j}], b.constantFr(num))
			term = b.mul(term, vanishing)
			term = b.mul(term, b.inv(b.sub(z, b.constantFr(omegaJ))))
			acc = b.add(acc, term)
			omegaJ.Mul(&omegaJ, &omega)
		}
		b.evalSlot[refKey{kind: protocol.Instance, index: ref.Index, sub: instanceEvalSub, rot: ref.Rotation}] = acc
	}
}

// foldedIdentity folds every gate constraint and argument residual with
// powers of y and divides by the vanishing polynomial, yielding the
// quotient evaluation the commitment must open to.
func (b *builder) foldedIdentity(x, vanishing int) int {
	var residuals []int
	for _, g := range b.p.Gates {
		for _, c := range g.Constraints {
			residuals = append(residuals, b.lowerExpr(c))
		}
	}
	residuals = append(residuals, b.permutationResiduals(x, vanishing)...)
	residuals = append(residuals, b.lookupResiduals(x, vanishing)...)
	if len(residuals) == 0 {
		residuals = append(residuals, b.zero())
	}

	y := b.challenges["y"]
	acc := residuals[0]
	for _, r := range residuals[1:] {
		acc = b.add(b.mul(acc, y), r)
	}
	return b.mul(acc, b.inv(vanishing))
}

// lowerExpr compiles a gate expression to ops by structural recursion.
// Shared (column, rotation) references and repeated subtrees collapse via
// common-subexpression elimination in the emit helpers.
func (b *builder) lowerExpr(e protocol.Expression) int {
	switch v := e.(type) {
	case protocol.Constant:
		return b.constantFr(v.Value)
	case protocol.ColumnQuery:
		key := refKey{kind: v.Kind, index: v.Index, rot: v.Rotation}
		if v.Kind == protocol.Instance {
			key.sub = instanceEvalSub
		}
		return b.evalSlot[key]
	case protocol.Sum:
		return b.add(b.lowerExpr(v.A), b.lowerExpr(v.B))
	case protocol.Product:
		return b.mul(b.lowerExpr(v.A), b.lowerExpr(v.B))
	case protocol.Negated:
		return b.neg(b.lowerExpr(v.A))
	case protocol.Scaled:
		return b.mul(b.lowerExpr(v.A), b.constantFr(v.Scalar))
	}
	panic("unreachable expression kind")
}

// permutationResiduals builds the grand-product argument checks: the first
// row fixes Z to one, and the running product relates the columns to their
// sigma polynomials under beta and gamma.
func (b *builder) permutationResiduals(x, vanishing int) []int {
	if len(b.p.Permutations) == 0 {
		return nil
	}
	beta := b.challenges["beta"]
	gamma := b.challenges["gamma"]
	l0 := b.l0(x, vanishing)

	var out []int
	deltaPower := 0
	for g, group := range b.p.Permutations {
		zCur := b.evalSlot[refKey{kind: protocol.AuxPermutationZ, index: g, rot: 0}]
		zNext := b.evalSlot[refKey{kind: protocol.AuxPermutationZ, index: g, rot: 1}]

		out = append(out, b.mul(l0, b.sub(b.one(), zCur)))

		left := zNext
		right := zCur
		for i, col := range group.Columns {
			v := b.lowerExpr(col)
			sigma := b.evalSlot[refKey{kind: protocol.AuxPermutation, index: g, sub: i}]

			term := b.add(v, b.add(b.mul(beta, sigma), gamma))
			left = b.mul(left, term)

			var deltaI fr_bn254.Element
			deltaI.Exp(b.p.Delta(), big.NewInt(int64(deltaPower)))
			shifted := b.mul(b.mul(beta, b.constantFr(deltaI)), x)
			right = b.mul(right, b.add(v, b.add(shifted, gamma)))
			deltaPower++
		}
		out = append(out, b.sub(left, right))
	}
	return out
}

// lookupResiduals builds the lookup product checks over the permuted input
// and table polynomials.
func (b *builder) lookupResiduals(x, vanishing int) []int {
	if len(b.p.Lookups) == 0 {
		return nil
	}
	theta := b.challenges["theta"]
	beta := b.challenges["beta"]
	gamma := b.challenges["gamma"]
	l0 := b.l0(x, vanishing)

	compress := func(exprs []protocol.Expression) int {
		acc := b.lowerExpr(exprs[0])
		for _, e := range exprs[1:] {
			acc = b.add(b.mul(acc, theta), b.lowerExpr(e))
		}
		return acc
	}

	var out []int
	for l, lookup := range b.p.Lookups {
		zCur := b.evalSlot[refKey{kind: protocol.AuxLookupZ, index: l, rot: 0}]
		zNext := b.evalSlot[refKey{kind: protocol.AuxLookupZ, index: l, rot: 1}]
		aCur := b.evalSlot[refKey{kind: protocol.AuxLookupInput, index: l, rot: 0}]
		aPrev := b.evalSlot[refKey{kind: protocol.AuxLookupInput, index: l, rot: -1}]
		sCur := b.evalSlot[refKey{kind: protocol.AuxLookupTable, index: l, rot: 0}]

		out = append(out, b.mul(l0, b.sub(b.one(), zCur)))

		left := b.mul(zNext, b.mul(b.add(aCur, beta), b.add(sCur, gamma)))
		right := b.mul(zCur, b.mul(b.add(compress(lookup.Inputs), beta), b.add(compress(lookup.Tables), gamma)))
		out = append(out, b.sub(left, right))

		out = append(out, b.mul(b.sub(aCur, sCur), b.sub(aCur, aPrev)))
	}
	return out
}

// l0 is the first Lagrange basis polynomial at x: (x^n - 1) / (n * (x - 1)).
func (b *builder) l0(x, vanishing int) int {
	num := b.mul(vanishing, b.constantFr(b.p.DomainSizeInv()))
	return b.mul(num, b.inv(b.sub(x, b.one())))
}

// accumulate folds all openings into the final pairing pair. Queries at one
// point combine with powers of v, points combine with powers of u:
//
//	A = sum_i u^i * W_i
//	B = sum_i u^i * (C_i + z_i*W_i - e_i*G1)
//
// and the proof is valid iff e(A, tau*G2) * e(B, -G2) == 1.
func (b *builder) accumulate(x, hEval int) {
	v := b.challenges["v"]
	u := b.challenges["u"]

	quotient := b.foldQuotientCommitment(x)

	commitment := func(q Query) int {
		switch q.Kind {
		case protocol.Advice:
			return b.pointSlot[refKey{kind: protocol.Advice, index: q.Index}]
		case protocol.Fixed:
			return b.constPoint(b.p.FixedCommitments[q.Index])
		case protocol.AuxPermutation:
			return b.constPoint(b.p.Permutations[q.Index].Sigmas[q.Sub])
		case protocol.AuxPermutationZ:
			return b.pointSlot[refKey{kind: protocol.AuxPermutationZ, index: q.Index}]
		case protocol.AuxLookupInput:
			return b.pointSlot[refKey{kind: protocol.AuxLookupInput, index: q.Index}]
		case protocol.AuxLookupTable:
			return b.pointSlot[refKey{kind: protocol.AuxLookupTable, index: q.Index}]
		case protocol.AuxLookupZ:
			return b.pointSlot[refKey{kind: protocol.AuxLookupZ, index: q.Index}]
		case protocol.AuxQuotient:
			return quotient
		}
		panic("unreachable query kind")
	}
	evaluation := func(q Query) int {
		if q.Kind == protocol.AuxQuotient {
			return hEval
		}
		return b.evalSlot[refKey{kind: q.Kind, index: q.Index, sub: q.Sub, rot: q.Rotation}]
	}

	g1 := b.constPoint(b.p.G1)

	var aAcc, bAcc int
	for i, rot := range b.qp.rotations {
		queries := b.qp.queriesAt(rot)

		// fold same-point queries with v, last to first
		last := queries[len(queries)-1]
		cFold := commitment(last)
		eFold := evaluation(last)
		for j := len(queries) - 2; j >= 0; j-- {
			cFold = b.ecAdd(b.ecMul(cFold, v), commitment(queries[j]))
			eFold = b.add(b.mul(eFold, v), evaluation(queries[j]))
		}

		w := b.wSlot[rot]
		z := b.rotatedPoint(x, rot)
		bi := b.ecAdd(cFold, b.ecAdd(b.ecMul(w, z), b.ecMul(g1, b.neg(eFold))))

		if i == 0 {
			aAcc, bAcc = w, bi
		} else {
			aAcc = b.ecAdd(b.ecMul(aAcc, u), w)
			bAcc = b.ecAdd(b.ecMul(bAcc, u), bi)
		}
	}
	b.emit(Op{Code: OpPairingCheck, A: aAcc, B: bAcc})
}

// foldQuotientCommitment combines the quotient pieces with powers of x^n:
// H = sum_i (x^n)^i * H_i.
func (b *builder) foldQuotientCommitment(x int) int {
	xn := x
	for n := b.p.DomainSize; n > 1; n >>= 1 {
		xn = b.mul(xn, xn)
	}
	pieces := b.p.QuotientPieces()
	acc := b.pointSlot[refKey{kind: protocol.AuxQuotient, sub: pieces - 1}]
	for i := pieces - 2; i >= 0; i-- {
		acc = b.ecAdd(b.ecMul(acc, xn), b.pointSlot[refKey{kind: protocol.AuxQuotient, sub: i}])
	}
	return acc
}

// rotatedPoint returns x * omega^rot.
func (b *builder) rotatedPoint(x, rot int) int {
	if rot == 0 {
		return x
	}
	var w fr_bn254.Element
	if rot > 0 {
		w.Exp(b.p.Omega(), big.NewInt(int64(rot)))
	} else {
		w.Exp(b.p.OmegaInv(), big.NewInt(int64(-rot)))
	}
	return b.mul(x, b.constantFr(w))
}

// --- emit helpers -----------------------------------------------------

func (b *builder) emit(op Op) {
	b.ops = append(b.ops, op)
}

func (b *builder) newScalar() int {
	s := b.numScalars
	b.numScalars++
	return s
}

func (b *builder) newPoint() int {
	s := b.numPoints
	b.numPoints++
	return s
}

func (b *builder) constantFr(v fr_bn254.Element) int {
	key := v.String()
	if slot, ok := b.consts[key]; ok {
		return slot
	}
	slot := b.newScalar()
	b.consts[key] = slot
	b.emit(Op{Code: OpConst, Out: slot, Imm: v.BigInt(new(big.Int))})
	return slot
}

func (b *builder) one() int {
	var one fr_bn254.Element
	one.SetOne()
	return b.constantFr(one)
}

func (b *builder) zero() int {
	var zero fr_bn254.Element
	return b.constantFr(zero)
}

func (b *builder) binOp(code OpCode, a, x int) int {
	if code == OpAdd || code == OpMul {
		if x < a {
			a, x = x, a
		}
	}
	key := binKey{code: code, a: a, b: x}
	if slot, ok := b.cse[key]; ok {
		return slot
	}
	slot := b.newScalar()
	b.cse[key] = slot
	b.emit(Op{Code: code, Out: slot, A: a, B: x})
	return slot
}

func (b *builder) add(a, x int) int { return b.binOp(OpAdd, a, x) }
func (b *builder) sub(a, x int) int { return b.binOp(OpSub, a, x) }
func (b *builder) mul(a, x int) int { return b.binOp(OpMul, a, x) }

func (b *builder) neg(a int) int {
	key := binKey{code: OpNeg, a: a, b: -1}
	if slot, ok := b.cse[key]; ok {
		return slot
	}
	slot := b.newScalar()
	b.cse[key] = slot
	b.emit(Op{Code: OpNeg, Out: slot, A: a})
	return slot
}

func (b *builder) inv(a int) int {
	key := binKey{code: OpInv, a: a, b: -1}
	if slot, ok := b.cse[key]; ok {
		return slot
	}
	slot := b.newScalar()
	b.cse[key] = slot
	b.emit(Op{Code: OpInv, Out: slot, A: a})
	return slot
}

func (b *builder) constPoint(p bn254.G1Affine) int {
	key := p.String()
	if slot, ok := b.constPoints[key]; ok {
		return slot
	}
	slot := b.newPoint()
	b.constPoints[key] = slot
	b.emit(Op{
		Code: OpConstPoint,
		Out:  slot,
		X:    p.X.BigInt(new(big.Int)),
		Y:    p.Y.BigInt(new(big.Int)),
	})
	return slot
}

func (b *builder) ecAdd(a, x int) int {
	key := binKey{code: OpEcAdd, a: a, b: x}
	if a > x {
		key = binKey{code: OpEcAdd, a: x, b: a}
	}
	if slot, ok := b.cse[key]; ok {
		return slot
	}
	slot := b.newPoint()
	b.cse[key] = slot
	b.emit(Op{Code: OpEcAdd, Out: slot, A: a, B: x})
	return slot
}

func (b *builder) ecMul(p, s int) int {
	key := binKey{code: OpEcMul, a: p, b: s}
	if slot, ok := b.cse[key]; ok {
		return slot
	}
	slot := b.newPoint()
	b.cse[key] = slot
	b.emit(Op{Code: OpEcMul, Out: slot, A: p, B: s})
	return slot
}

// loadScalar appends a 32-byte calldata field and loads it with the
// canonicity check.
func (b *builder) loadScalar(name string) int {
	off := b.layout.TotalLen
	b.layout.Fields = append(b.layout.Fields, Field{Name: name, Offset: off, Len: 32})
	b.layout.TotalLen += 32
	slot := b.newScalar()
	b.emit(Op{Code: OpLoadScalar, Out: slot, Off: off, Len: 32})
	return slot
}

// loadProofPoint appends a 64-byte calldata field and loads it with the
// curve membership check.
func (b *builder) loadProofPoint(name string, allowIdentity bool) int {
	off := b.layout.TotalLen
	b.layout.Fields = append(b.layout.Fields, Field{Name: name, Offset: off, Len: 64})
	b.layout.TotalLen += 64
	slot := b.newPoint()
	b.emit(Op{Code: OpLoadPoint, Out: slot, Off: off, Len: 64, AllowIdentity: allowIdentity})
	return slot
}

// proofPoint loads a commitment, absorbs it and records its slot.
func (b *builder) proofPoint(name string, key refKey) {
	off := b.layout.TotalLen
	slot := b.loadProofPoint(name, b.p.AllowIdentityCommitments)
	b.absorb(off, 64)
	b.pointSlot[key] = slot
}

func (b *builder) absorb(off, n int) {
	b.emit(Op{Code: OpAbsorb, Off: off, Len: n})
	b.transcriptSize += n
}

func (b *builder) squeeze(name string) int {
	slot := b.newScalar()
	b.emit(Op{Code: OpSqueeze, Out: slot})
	b.challenges[name] = slot
	b.transcriptSize += 1 + 32 // domain separator byte plus the new state
	return slot
}
