package codegen

import (
	"fmt"
	"math/big"

	bn254 "github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	fr_bn254 "github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/xiyu1984/halo2-solidity-verifier/plan"
)

// Precompile addresses.
const (
	addrModExp  = 0x05
	addrEcAdd   = 0x06
	addrEcMul   = 0x07
	addrPairing = 0x08
)

// memoryLayout places every value class at a static byte offset. The first
// 384 bytes are the precompile staging area, sized for the pairing call,
// the largest input. The transcript buffer follows, then one 32-byte word
// per scalar slot and one 64-byte pair per point slot.
type memoryLayout struct {
	scratch    int
	transcript int
	scalars    int
	points     int
}

func newMemoryLayout(prog *plan.Program) memoryLayout {
	l := memoryLayout{scratch: 0x00, transcript: 0x180}
	l.scalars = l.transcript + align32(prog.TranscriptSize)
	l.points = l.scalars + 32*prog.NumScalars
	return l
}

func align32(n int) int { return (n + 31) &^ 31 }

func (l memoryLayout) scalar(slot int) int { return l.scalars + 32*slot }
func (l memoryLayout) point(slot int) int  { return l.points + 64*slot }

// lowerer turns a Program into runtime bytecode. It mirrors the builder's
// transcript bookkeeping: segment offsets are assembly-time constants, so
// the emitted code carries no transcript pointers at run time.
type lowerer struct {
	prog *plan.Program
	mem  memoryLayout
	a    *asm

	segStart int
	cursor   int
	nLabels  int
}

var (
	scalarModWord = fr_bn254.Modulus()
	baseModWord   = fp.Modulus()
	curveB        = big.NewInt(3)
)

func lower(prog *plan.Program) ([]byte, error) {
	lw := &lowerer{prog: prog, mem: newMemoryLayout(prog), a: newAsm()}
	lw.prologue()
	for _, op := range prog.Ops {
		if err := lw.lowerOp(op); err != nil {
			return nil, err
		}
	}
	lw.epilogue()
	return lw.a.assemble()
}

// prologue rejects short calldata and seeds the transcript with the
// protocol digest.
func (lw *lowerer) prologue() {
	a := lw.a
	a.op(vm.CALLDATASIZE)
	a.pushInt(lw.prog.Layout.TotalLen)
	a.op(vm.GT) // TotalLen > calldatasize
	a.jumpi("reject")

	digest := new(big.Int).SetBytes(lw.prog.Digest[:])
	a.push32(digest)
	a.pushInt(lw.mem.transcript)
	a.op(vm.MSTORE)
	lw.segStart = lw.mem.transcript
	lw.cursor = lw.mem.transcript + 32
}

// epilogue hosts the shared rejection path: every check jumps here, and the
// contract returns a zero word.
func (lw *lowerer) epilogue() {
	a := lw.a
	a.label("reject")
	a.pushInt(0)
	a.pushInt(0)
	a.op(vm.MSTORE)
	a.pushInt(32)
	a.pushInt(0)
	a.op(vm.RETURN)
}

func (lw *lowerer) freshLabel(prefix string) string {
	lw.nLabels++
	return fmt.Sprintf("%s_%d", prefix, lw.nLabels)
}

func (lw *lowerer) lowerOp(op plan.Op) error {
	a := lw.a
	switch op.Code {
	case plan.OpConst:
		a.push32(op.Imm)
		a.pushInt(lw.mem.scalar(op.Out))
		a.op(vm.MSTORE)

	case plan.OpLoadScalar:
		lw.loadCanonical(op.Off, scalarModWord)
		a.pushInt(lw.mem.scalar(op.Out))
		a.op(vm.MSTORE)

	case plan.OpLoadPoint:
		lw.lowerLoadPoint(op)

	case plan.OpConstPoint:
		a.push32(op.X)
		a.pushInt(lw.mem.point(op.Out))
		a.op(vm.MSTORE)
		a.push32(op.Y)
		a.pushInt(lw.mem.point(op.Out) + 32)
		a.op(vm.MSTORE)

	case plan.OpAdd:
		lw.lowerModBin(vm.ADDMOD, op)
	case plan.OpMul:
		lw.lowerModBin(vm.MULMOD, op)

	case plan.OpSub:
		// a - b = addmod(a, r - b, r)
		a.push32(scalarModWord)
		a.pushInt(lw.mem.scalar(op.B))
		a.op(vm.MLOAD)
		a.push32(scalarModWord)
		a.op(vm.SUB)
		a.pushInt(lw.mem.scalar(op.A))
		a.op(vm.MLOAD)
		a.op(vm.ADDMOD)
		a.pushInt(lw.mem.scalar(op.Out))
		a.op(vm.MSTORE)

	case plan.OpNeg:
		// -a = addmod(r - a, 0, r)
		a.push32(scalarModWord)
		a.pushInt(lw.mem.scalar(op.A))
		a.op(vm.MLOAD)
		a.push32(scalarModWord)
		a.op(vm.SUB)
		a.pushInt(0)
		a.op(vm.ADDMOD)
		a.pushInt(lw.mem.scalar(op.Out))
		a.op(vm.MSTORE)

	case plan.OpInv:
		lw.lowerInv(op)

	case plan.OpAbsorb:
		a.pushInt(op.Len)
		a.pushInt(op.Off)
		a.pushInt(lw.cursor)
		a.op(vm.CALLDATACOPY)
		lw.cursor += op.Len

	case plan.OpSqueeze:
		lw.lowerSqueeze(op)

	case plan.OpAssertNonIdentity:
		a.pushInt(lw.mem.point(op.A))
		a.op(vm.MLOAD)
		a.pushInt(lw.mem.point(op.A) + 32)
		a.op(vm.MLOAD)
		a.op(vm.OR, vm.ISZERO)
		a.jumpi("reject")

	case plan.OpEcAdd:
		lw.copyPointToScratch(op.A, 0x00)
		lw.copyPointToScratch(op.B, 0x40)
		lw.staticcall(addrEcAdd, 0x80, lw.mem.point(op.Out), 0x40)

	case plan.OpEcMul:
		lw.copyPointToScratch(op.A, 0x00)
		a.pushInt(lw.mem.scalar(op.B))
		a.op(vm.MLOAD)
		a.pushInt(0x40)
		a.op(vm.MSTORE)
		lw.staticcall(addrEcMul, 0x60, lw.mem.point(op.Out), 0x40)

	case plan.OpPairingCheck:
		lw.lowerPairing(op)

	default:
		return fmt.Errorf("cannot lower op code %d", op.Code)
	}
	return nil
}

// loadCanonical leaves calldata[off:off+32] on the stack, rejecting any
// word at or above the modulus.
func (lw *lowerer) loadCanonical(off int, modulus *big.Int) {
	a := lw.a
	a.pushInt(off)
	a.op(vm.CALLDATALOAD, vm.DUP1)
	a.push32(modulus)
	a.op(vm.GT, vm.ISZERO) // reject unless modulus > word
	a.jumpi("reject")
}

func (lw *lowerer) lowerLoadPoint(op plan.Op) {
	a := lw.a
	base := lw.mem.point(op.Out)

	lw.loadCanonical(op.Off, baseModWord)
	a.pushInt(base)
	a.op(vm.MSTORE)
	lw.loadCanonical(op.Off+32, baseModWord)
	a.pushInt(base + 32)
	a.op(vm.MSTORE)

	// (0, 0) is the encoded identity
	a.pushInt(base)
	a.op(vm.MLOAD)
	a.pushInt(base + 32)
	a.op(vm.MLOAD)
	a.op(vm.OR, vm.ISZERO)
	var skip string
	if op.AllowIdentity {
		skip = lw.freshLabel("onCurve")
		a.jumpi(skip)
	} else {
		a.jumpi("reject")
	}

	// y^2 == x^3 + 3 over the base field
	a.push32(baseModWord)
	a.pushInt(base + 32)
	a.op(vm.MLOAD, vm.DUP1)
	a.op(vm.MULMOD) // y^2

	a.push32(baseModWord)
	a.push(curveB)
	a.push32(baseModWord)
	a.push32(baseModWord)
	a.pushInt(base)
	a.op(vm.MLOAD, vm.DUP1)
	a.op(vm.MULMOD) // x^2
	a.pushInt(base)
	a.op(vm.MLOAD)
	a.op(vm.MULMOD) // x^3
	a.op(vm.ADDMOD) // x^3 + 3
	a.op(vm.EQ, vm.ISZERO)
	a.jumpi("reject")

	if op.AllowIdentity {
		a.label(skip)
	}
}

// lowerModBin emits addmod/mulmod of two scalar slots.
func (lw *lowerer) lowerModBin(opcode vm.OpCode, op plan.Op) {
	a := lw.a
	a.push32(scalarModWord)
	a.pushInt(lw.mem.scalar(op.B))
	a.op(vm.MLOAD)
	a.pushInt(lw.mem.scalar(op.A))
	a.op(vm.MLOAD)
	a.op(opcode)
	a.pushInt(lw.mem.scalar(op.Out))
	a.op(vm.MSTORE)
}

// lowerInv computes a^(r-2) mod r through the modexp precompile. Zero maps
// to zero, matching the native executor.
func (lw *lowerer) lowerInv(op plan.Op) {
	a := lw.a
	for i, word := range []int{32, 32, 32} {
		a.pushInt(word)
		a.pushInt(0x20 * i)
		a.op(vm.MSTORE)
	}
	a.pushInt(lw.mem.scalar(op.A))
	a.op(vm.MLOAD)
	a.pushInt(0x60)
	a.op(vm.MSTORE)
	exp := new(big.Int).Sub(scalarModWord, big.NewInt(2))
	a.push32(exp)
	a.pushInt(0x80)
	a.op(vm.MSTORE)
	a.push32(scalarModWord)
	a.pushInt(0xa0)
	a.op(vm.MSTORE)
	lw.staticcall(addrModExp, 0xc0, lw.mem.scalar(op.Out), 0x20)
}

// lowerSqueeze hashes the live transcript segment with a trailing zero
// domain separator, chains the unreduced digest as the next segment and
// stores the reduced challenge.
func (lw *lowerer) lowerSqueeze(op plan.Op) {
	a := lw.a
	a.pushInt(0)
	a.pushInt(lw.cursor)
	a.op(vm.MSTORE8)
	lw.cursor++

	a.pushInt(lw.cursor - lw.segStart)
	a.pushInt(lw.segStart)
	a.op(vm.KECCAK256, vm.DUP1)
	a.pushInt(lw.cursor)
	a.op(vm.MSTORE)

	a.push32(scalarModWord)
	a.op(vm.SWAP1, vm.MOD)
	a.pushInt(lw.mem.scalar(op.Out))
	a.op(vm.MSTORE)

	lw.segStart = lw.cursor
	lw.cursor = lw.segStart + 32
}

func (lw *lowerer) lowerPairing(op plan.Op) {
	a := lw.a
	lw.copyPointToScratch(op.A, 0x00)
	lw.storeG2(lw.prog.TauG2, 0x40)
	lw.copyPointToScratch(op.B, 0xc0)
	lw.storeG2(lw.prog.NegG2, 0x100)
	lw.staticcall(addrPairing, 0x180, 0x00, 0x20)

	a.pushInt(0x00)
	a.op(vm.MLOAD, vm.ISZERO)
	a.jumpi("reject")
	a.pushInt(1)
	a.pushInt(0)
	a.op(vm.MSTORE)
	a.pushInt(32)
	a.pushInt(0)
	a.op(vm.RETURN)
}

// storeG2 writes a G2 point to scratch in precompile order: imaginary limb
// before real limb for both coordinates.
func (lw *lowerer) storeG2(p bn254.G2Affine, off int) {
	a := lw.a
	words := []*big.Int{
		p.X.A1.BigInt(new(big.Int)),
		p.X.A0.BigInt(new(big.Int)),
		p.Y.A1.BigInt(new(big.Int)),
		p.Y.A0.BigInt(new(big.Int)),
	}
	for i, w := range words {
		a.push32(w)
		a.pushInt(off + 32*i)
		a.op(vm.MSTORE)
	}
}

func (lw *lowerer) copyPointToScratch(slot, off int) {
	a := lw.a
	a.pushInt(lw.mem.point(slot))
	a.op(vm.MLOAD)
	a.pushInt(off)
	a.op(vm.MSTORE)
	a.pushInt(lw.mem.point(slot) + 32)
	a.op(vm.MLOAD)
	a.pushInt(off + 32)
	a.op(vm.MSTORE)
}

// staticcall invokes a precompile on the staging area and rejects on
// failure.
func (lw *lowerer) staticcall(addr, inLen, retOff, retLen int) {
	a := lw.a
	a.pushInt(retLen)
	a.pushInt(retOff)
	a.pushInt(inLen)
	a.pushInt(0x00)
	a.pushInt(addr)
	a.op(vm.GAS, vm.STATICCALL)
	a.op(vm.ISZERO)
	a.jumpi("reject")
}
