// Package evm deploys and calls generated verifiers on an in-process EVM.
// It backs the oracle tests that compare on-chain execution against the
// native executor; nothing in the verification path depends on it.
package evm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm/runtime"
	"github.com/holiman/uint256"
)

// Contract is one deployed verifier.
type Contract struct {
	Address common.Address
	cfg     *runtime.Config
}

// Deploy runs the creation payload and captures the resulting contract.
func Deploy(deployCode []byte) (*Contract, error) {
	cfg := &runtime.Config{
		GasLimit: 30_000_000,
		Origin:   common.HexToAddress("0x1"),
	}
	_, addr, _, err := runtime.Create(deployCode, cfg)
	if err != nil {
		return nil, fmt.Errorf("deploy: %w", err)
	}
	return &Contract{Address: addr, cfg: cfg}, nil
}

// Call invokes the verifier with raw calldata and returns its 32-byte
// word result plus the gas consumed.
func (c *Contract) Call(calldata []byte) (*uint256.Int, uint64, error) {
	ret, leftover, err := runtime.Call(c.Address, calldata, c.cfg)
	if err != nil {
		return nil, 0, fmt.Errorf("call: %w", err)
	}
	if len(ret) != 32 {
		return nil, 0, fmt.Errorf("call returned %d bytes, want 32", len(ret))
	}
	return new(uint256.Int).SetBytes(ret), c.cfg.GasLimit - leftover, nil
}

// Accepts reports whether the verifier returned the accepting word.
func (c *Contract) Accepts(calldata []byte) (bool, uint64, error) {
	word, gas, err := c.Call(calldata)
	if err != nil {
		return false, gas, err
	}
	return word.Eq(uint256.NewInt(1)), gas, nil
}
