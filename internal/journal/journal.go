// Package journal defines the public output committed by the guest program: the
// block hashes the replay depended on and the state difference it produced.
package journal

import (
	"bytes"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

type BlockHash struct {
	Number uint64
	Hash   common.Hash
}

type SlotDiff struct {
	Key  common.Hash
	From common.Hash
	To   common.Hash
}

type AccountDiff struct {
	Address     common.Address
	Deleted     bool
	NonceFrom   uint64
	NonceTo     uint64
	BalanceFrom *big.Int
	BalanceTo   *big.Int
	CodeFrom    common.Hash
	CodeTo      common.Hash
	Storage     []SlotDiff
}

// Changed reports whether the account differs between pre- and post-state.
func (d *AccountDiff) Changed() bool {
	return d.Deleted || d.NonceFrom != d.NonceTo || d.CodeFrom != d.CodeTo ||
		bigCmp(d.BalanceFrom, d.BalanceTo) != 0 || len(d.Storage) > 0
}

// BalanceDelta is BalanceTo - BalanceFrom.
func (d *AccountDiff) BalanceDelta() *big.Int {
	return new(big.Int).Sub(orZero(d.BalanceTo), orZero(d.BalanceFrom))
}

type StateDiff []AccountDiff

// Account returns the diff for address, or nil if it did not change.
func (s StateDiff) Account(address common.Address) *AccountDiff {
	for i := range s {
		if s[i].Address == address {
			return &s[i]
		}
	}
	return nil
}

// Output is the decoded journal.
type Output struct {
	BlockHashes []BlockHash
	StateDiff   StateDiff
}

func (o *Output) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(o)
}

func Decode(journal []byte) (*Output, error) {
	var output Output
	if err := rlp.DecodeBytes(journal, &output); err != nil {
		return nil, errors.Wrap(err, "failed to decode journal")
	}
	return &output, nil
}

// Equal compares the canonical encodings of two outputs.
func Equal(a, b *Output) bool {
	encA, errA := a.Encode()
	encB, errB := b.Encode()
	return errA == nil && errB == nil && bytes.Equal(encA, encB)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func bigCmp(a, b *big.Int) int { return orZero(a).Cmp(orZero(b)) }
