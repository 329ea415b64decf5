// Package plan lowers the verification of one protocol into a flat sequence
// of primitive field, curve and transcript operations. The same Program is
// interpreted natively by the verifier package and assembled into EVM
// bytecode by the codegen package, so the two execution contexts can never
// disagree on operation order.
package plan

import (
	"math/big"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
)

// OpCode enumerates the primitive operations. Scalar operands name scalar
// slots, point operands name point slots; the two spaces are independent.
type OpCode uint8

const (
	// OpConst sets scalar Out to the canonical constant Imm.
	OpConst OpCode = iota
	// OpLoadScalar reads calldata[Off:Off+32] into scalar Out; a
	// non-canonical word rejects the proof.
	OpLoadScalar
	// OpLoadPoint reads calldata[Off:Off+64] into point Out; a point not
	// on the curve rejects the proof. (0,0) decodes to the identity and is
	// accepted only when AllowIdentity is set.
	OpLoadPoint
	// OpConstPoint sets point Out to the constant (X, Y).
	OpConstPoint
	// OpAdd / OpSub / OpMul set scalar Out from scalar A and B.
	OpAdd
	OpSub
	OpMul
	// OpNeg sets scalar Out to -A.
	OpNeg
	// OpInv sets scalar Out to A^(r-2); the inverse of zero is zero.
	OpInv
	// OpAbsorb appends calldata[Off:Off+Len] to the transcript.
	OpAbsorb
	// OpSqueeze derives the next challenge into scalar Out.
	OpSqueeze
	// OpAssertNonIdentity rejects the proof if point A is the identity.
	OpAssertNonIdentity
	// OpEcAdd sets point Out to A + B.
	OpEcAdd
	// OpEcMul sets point Out to point A scaled by scalar B.
	OpEcMul
	// OpPairingCheck is terminal: the proof is accepted iff
	// e(A, tauG2) * e(B, -G2) == 1 over the points A and B.
	OpPairingCheck
)

// Op is one lowered operation.
type Op struct {
	Code          OpCode
	Out, A, B     int
	Off, Len      int
	Imm           *big.Int
	X, Y          *big.Int
	AllowIdentity bool
}

// Field describes one calldata field of the program's calling convention.
type Field struct {
	Name   string
	Offset int
	Len    int
}

// Layout is the declared calldata layout: instance words first, proof bytes
// after, in protocol-declared order.
type Layout struct {
	Fields       []Field
	NumInstances int
	ProofOffset  int
	ProofLen     int
	TotalLen     int
}

// Program is the lowered verification procedure for one protocol.
type Program struct {
	Ops        []Op
	NumScalars int
	NumPoints  int
	Layout     Layout

	// TranscriptSize is the byte length of the transcript working buffer,
	// all chained segments included.
	TranscriptSize int

	// Challenges maps challenge names (theta, beta, gamma, y, x, v, u) to
	// the scalar slot each squeeze writes.
	Challenges map[string]int

	// Digest seeds the transcript and keys the program cache.
	Digest [32]byte

	// Pairing constants: tau*G2 and the negated G2 generator.
	TauG2, NegG2 bn254.G2Affine
}
