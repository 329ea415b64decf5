package codegen

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/core/vm"
)

// asm is a two-pass EVM assembler. Jump targets are symbolic labels,
// emitted as fixed-width PUSH2 placeholders and patched once every label
// offset is known. PUSH2 bounds the code at 65536 bytes, far above the
// deployable ceiling, so a jump never needs a wider immediate.
type asm struct {
	code    []byte
	labels  map[string]int
	patches []patch
}

type patch struct {
	pos   int
	label string
}

func newAsm() *asm {
	return &asm{labels: make(map[string]int)}
}

func (a *asm) op(ops ...vm.OpCode) {
	for _, o := range ops {
		a.code = append(a.code, byte(o))
	}
}

// push emits the narrowest PUSH for v.
func (a *asm) push(v *big.Int) {
	b := v.Bytes()
	if len(b) == 0 {
		b = []byte{0}
	}
	a.code = append(a.code, byte(vm.PUSH1)+byte(len(b)-1))
	a.code = append(a.code, b...)
}

func (a *asm) pushInt(v int) {
	a.push(big.NewInt(int64(v)))
}

// push32 emits a full-width PUSH32, zero padded. Field constants keep full
// width so the assembly is readable next to the listing.
func (a *asm) push32(v *big.Int) {
	a.code = append(a.code, byte(vm.PUSH32))
	var word [32]byte
	v.FillBytes(word[:])
	a.code = append(a.code, word[:]...)
}

// label defines a jump destination at the current offset.
func (a *asm) label(name string) {
	a.labels[name] = len(a.code)
	a.op(vm.JUMPDEST)
}

func (a *asm) jump(name string) {
	a.pushLabel(name)
	a.op(vm.JUMP)
}

func (a *asm) jumpi(name string) {
	a.pushLabel(name)
	a.op(vm.JUMPI)
}

func (a *asm) pushLabel(name string) {
	a.code = append(a.code, byte(vm.PUSH2))
	a.patches = append(a.patches, patch{pos: len(a.code), label: name})
	a.code = append(a.code, 0, 0)
}

// assemble resolves label references and returns the final code.
func (a *asm) assemble() ([]byte, error) {
	for _, p := range a.patches {
		off, ok := a.labels[p.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", p.label)
		}
		if off > 0xffff {
			return nil, fmt.Errorf("label %q beyond PUSH2 range", p.label)
		}
		a.code[p.pos] = byte(off >> 8)
		a.code[p.pos+1] = byte(off)
	}
	return a.code, nil
}
