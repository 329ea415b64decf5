// Package verifier executes a lowered verification program natively. It is
// the reference executor: the EVM bytecode produced by codegen runs the same
// operation sequence, so a proof accepted here is accepted on chain and vice
// versa.
package verifier

import (
	"errors"
	"fmt"
	"math/big"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	fr_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr"

	"github.com/xiyu1984/halo2-solidity-verifier/plan"
	"github.com/xiyu1984/halo2-solidity-verifier/transcript"
)

var (
	// ErrTruncatedProof reports calldata shorter than the declared layout.
	ErrTruncatedProof = errors.New("truncated proof")
	// ErrMalformedEncoding reports a non-canonical scalar or an off-curve
	// point.
	ErrMalformedEncoding = errors.New("malformed encoding")
	// ErrDegenerateCommitment reports a group identity where the protocol
	// forbids one.
	ErrDegenerateCommitment = errors.New("degenerate commitment")
	// ErrPairingCheckFailed reports a well-formed proof whose final
	// pairing product is not one.
	ErrPairingCheckFailed = errors.New("pairing check failed")
)

// Calldata assembles the program's calling convention from public values
// and proof bytes: one 32-byte word per instance value, proof bytes after.
func Calldata(prog *plan.Program, instances []fr_bn254.Element, proof []byte) ([]byte, error) {
	if len(instances) != prog.Layout.NumInstances {
		return nil, fmt.Errorf("%w: %d instance values, layout wants %d",
			ErrMalformedEncoding, len(instances), prog.Layout.NumInstances)
	}
	out := make([]byte, 0, prog.Layout.TotalLen)
	for i := range instances {
		word := instances[i].Bytes()
		out = append(out, word[:]...)
	}
	return append(out, proof...), nil
}

// Verify runs the program over the given public values and proof. A nil
// error means the proof is valid.
func Verify(prog *plan.Program, instances []fr_bn254.Element, proof []byte) error {
	calldata, err := Calldata(prog, instances, proof)
	if err != nil {
		return err
	}
	m := &machine{
		prog:     prog,
		calldata: calldata,
		scalars:  make([]fr_bn254.Element, prog.NumScalars),
		points:   make([]bn254.G1Affine, prog.NumPoints),
		tr:       transcript.New(prog.Digest),
	}
	return m.run()
}

type machine struct {
	prog     *plan.Program
	calldata []byte
	scalars  []fr_bn254.Element
	points   []bn254.G1Affine
	tr       *transcript.Transcript
}

func (m *machine) run() error {
	if len(m.calldata) < m.prog.Layout.TotalLen {
		return fmt.Errorf("%w: %d bytes, layout wants %d",
			ErrTruncatedProof, len(m.calldata), m.prog.Layout.TotalLen)
	}
	for _, op := range m.prog.Ops {
		if err := m.step(op); err != nil {
			return err
		}
	}
	return nil
}

func (m *machine) step(op plan.Op) error {
	switch op.Code {
	case plan.OpConst:
		m.scalars[op.Out].SetBigInt(op.Imm)

	case plan.OpLoadScalar:
		s, err := decodeScalar(m.calldata[op.Off : op.Off+32])
		if err != nil {
			return err
		}
		m.scalars[op.Out] = s

	case plan.OpLoadPoint:
		p, err := decodePoint(m.calldata[op.Off:op.Off+64], op.AllowIdentity)
		if err != nil {
			return err
		}
		m.points[op.Out] = p

	case plan.OpConstPoint:
		m.points[op.Out].X.SetBigInt(op.X)
		m.points[op.Out].Y.SetBigInt(op.Y)

	case plan.OpAdd:
		m.scalars[op.Out].Add(&m.scalars[op.A], &m.scalars[op.B])
	case plan.OpSub:
		m.scalars[op.Out].Sub(&m.scalars[op.A], &m.scalars[op.B])
	case plan.OpMul:
		m.scalars[op.Out].Mul(&m.scalars[op.A], &m.scalars[op.B])
	case plan.OpNeg:
		m.scalars[op.Out].Neg(&m.scalars[op.A])
	case plan.OpInv:
		m.scalars[op.Out].Inverse(&m.scalars[op.A])

	case plan.OpAbsorb:
		m.tr.Absorb(m.calldata[op.Off : op.Off+op.Len])
	case plan.OpSqueeze:
		m.scalars[op.Out] = m.tr.Squeeze()

	case plan.OpAssertNonIdentity:
		if m.points[op.A].IsInfinity() {
			return fmt.Errorf("%w: identity opening witness", ErrDegenerateCommitment)
		}

	case plan.OpEcAdd:
		m.points[op.Out].Add(&m.points[op.A], &m.points[op.B])
	case plan.OpEcMul:
		var s big.Int
		m.scalars[op.B].BigInt(&s)
		m.points[op.Out].ScalarMultiplication(&m.points[op.A], &s)

	case plan.OpPairingCheck:
		ok, err := bn254.PairingCheck(
			[]bn254.G1Affine{m.points[op.A], m.points[op.B]},
			[]bn254.G2Affine{m.prog.TauG2, m.prog.NegG2},
		)
		if err != nil {
			return fmt.Errorf("pairing: %w", err)
		}
		if !ok {
			return ErrPairingCheckFailed
		}

	default:
		return fmt.Errorf("unknown op code %d", op.Code)
	}
	return nil
}

func decodeScalar(word []byte) (fr_bn254.Element, error) {
	var e fr_bn254.Element
	v := new(big.Int).SetBytes(word)
	if v.Cmp(fr_bn254.Modulus()) >= 0 {
		return e, fmt.Errorf("%w: scalar not reduced", ErrMalformedEncoding)
	}
	e.SetBigInt(v)
	return e, nil
}

func decodePoint(word []byte, allowIdentity bool) (bn254.G1Affine, error) {
	var p bn254.G1Affine
	x := new(big.Int).SetBytes(word[:32])
	y := new(big.Int).SetBytes(word[32:64])
	if x.Cmp(fp.Modulus()) >= 0 || y.Cmp(fp.Modulus()) >= 0 {
		return p, fmt.Errorf("%w: point coordinate not reduced", ErrMalformedEncoding)
	}
	if x.Sign() == 0 && y.Sign() == 0 {
		if !allowIdentity {
			return p, fmt.Errorf("%w: identity commitment", ErrDegenerateCommitment)
		}
		return p, nil // affine zero value is the point at infinity
	}
	p.X.SetBigInt(x)
	p.Y.SetBigInt(y)
	if !p.IsOnCurve() {
		return p, fmt.Errorf("%w: point not on curve", ErrMalformedEncoding)
	}
	return p, nil
}
