// Package witness replays one call against lazily fetched chain state and compacts the
// touched state into a bundle that is checkable against the block's state root.
package witness

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/core/vm/runtime"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/kroma-network/kroma-exploit-prover/internal/chain"
	"github.com/kroma-network/kroma-exploit-prover/internal/journal"
)

var (
	CallerAddress   = common.HexToAddress("0xca11e40000000000000000000000000000000000")
	ContractAddress = common.HexToAddress("0xc0de000000000000000000000000000000000000")
	// DefaultCallData calls exploit() on the contract under test.
	DefaultCallData = crypto.Keccak256([]byte("exploit()"))[:4]
)

const (
	DefaultGasCap = 1 << 30

	txGas                 = 21_000
	txDataZeroGas         = 4
	txDataNonZeroGas      = 16
	txCostFloorPerToken   = 10
	txTokenPerNonZeroByte = 4
)

type Config struct {
	// GasCap bounds execution independently of the block gas limit.
	GasCap uint64
	// CallData is sent to the contract. Nil selects DefaultCallData.
	CallData []byte
	// ChainID is returned by CHAINID. Nil means mainnet.
	ChainID *big.Int
}

var DefaultConfig = Config{GasCap: DefaultGasCap}

type Builder struct {
	source StateSource
	config Config
}

func NewBuilder(source StateSource, config Config) *Builder {
	if config.GasCap == 0 {
		config.GasCap = DefaultGasCap
	}
	if config.CallData == nil {
		config.CallData = DefaultCallData
	}
	return &Builder{source: source, config: config}
}

type Result struct {
	Witness *Bundle
	// Output is the journal the guest has to commit for this witness.
	Output  *journal.Output
	GasUsed uint64
}

// Build replays the call of the caller into target at header and returns the witness.
// It fails with an *ExecutionError when the call reverts, halts or could not have fit
// into the block, and with ErrStateRootMismatch when the fetched state is inconsistent
// with the header.
func (b *Builder) Build(ctx context.Context, target []byte, header *chain.Header, initialBalance *uint256.Int, author common.Address) (*Result, error) {
	if len(target) == 0 {
		return nil, errors.Wrap(ErrInvalidBytecode, "empty bytecode")
	}
	if target[0] == 0xef {
		return nil, errors.Wrap(ErrInvalidBytecode, "bytecode starts with 0xef")
	}
	if initialBalance == nil {
		initialBalance = new(uint256.Int)
	}
	store := NewStore(ctx, b.source, header.Number)
	store.Override(CallerAddress, Override{Nonce: 1})
	store.Override(ContractAddress, Override{Nonce: 1, Balance: initialBalance, Code: target})

	statedb, err := state.NewWithReader(types.EmptyRootHash, state.NewDatabase(triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil), nil), store)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open replay state")
	}
	fork := ForkAt(header.Number)
	cfg := &runtime.Config{
		ChainConfig: chainConfigAt(header.Number, b.config.ChainID),
		Origin:      CallerAddress,
		Coinbase:    header.Coinbase,
		BlockNumber: new(big.Int).SetUint64(header.Number),
		Time:        header.Timestamp,
		GasLimit:    b.config.GasCap,
		GasPrice:    new(big.Int),
		Value:       new(big.Int),
		Difficulty:  new(big.Int),
		BaseFee:     header.BaseFee,
		State:       statedb,
		GetHashFn:   store.BlockHash,
	}
	if fork.PostMerge() {
		random := header.MixDigest
		cfg.Random = &random
	}
	log.Debug("replaying call", "block", header.Number, "fork", fork, "target", len(target))
	_, leftOver, execErr := runtime.Call(ContractAddress, b.config.CallData, cfg)
	if err := store.Err(); err != nil {
		return nil, err
	}
	if err := statedb.Error(); err != nil {
		return nil, errors.Wrap(err, "replay state failed")
	}
	gasUsed := intrinsicGas(b.config.CallData) + (b.config.GasCap - leftOver)
	if fork >= Prague {
		gasUsed = max(gasUsed, floorDataGas(b.config.CallData))
	}
	switch {
	case errors.Is(execErr, vm.ErrExecutionReverted):
		return nil, &ExecutionError{Kind: Reverted, GasUsed: gasUsed}
	case execErr != nil:
		return nil, &ExecutionError{Kind: Halted, Reason: execErr.Error(), GasUsed: gasUsed}
	case gasUsed > header.GasLimit:
		return nil, &ExecutionError{Kind: GasLimitExceeded, GasUsed: gasUsed, GasLimit: header.GasLimit}
	}
	// a transaction bumps the sender's nonce
	statedb.SetNonce(CallerAddress, statedb.GetNonce(CallerAddress)+1, tracing.NonceChangeEoACall)

	diff := store.stateDiff(statedb)
	compacted, err := store.compact(header.StateRoot)
	if err != nil {
		return nil, err
	}
	bundle := &Bundle{
		Header:         *header,
		StateTrie:      compacted.stateTrie,
		StorageTrie:    compacted.storageTrie,
		Accounts:       compacted.accounts,
		BlockHashes:    compacted.blockHashes,
		Codes:          compacted.codes,
		Target:         target,
		Author:         author,
		InitialBalance: initialBalance.ToBig(),
		CallData:       b.config.CallData,
	}
	log.Info("built witness", "block", header.Number, "gasUsed", gasUsed, "accounts", len(bundle.Accounts),
		"stateNodes", len(bundle.StateTrie), "storageNodes", len(bundle.StorageTrie), "blockHashes", len(bundle.BlockHashes))
	return &Result{
		Witness: bundle,
		Output:  &journal.Output{BlockHashes: compacted.blockHashes, StateDiff: diff},
		GasUsed: gasUsed,
	}, nil
}

// stateDiff compares every touched account against the replayed state. Accounts that
// neither existed before nor survive the call have no diff.
func (s *Store) stateDiff(statedb *state.StateDB) journal.StateDiff {
	// statedb reads back through the store for accounts it does not hold, so the
	// lock is released before querying it
	s.mu.Lock()
	accounts := s.touchedAccounts()
	preSlots := make(map[common.Address][]common.Hash, len(accounts))
	for _, t := range accounts {
		for _, slot := range t.slots {
			preSlots[t.address] = append(preSlots[t.address], s.preSlot(t.address, slot))
		}
	}
	s.mu.Unlock()

	var diff journal.StateDiff
	for _, t := range accounts {
		pre := t.pre()
		deleted := statedb.HasSelfDestructed(t.address) || !statedb.Exist(t.address)
		if pre == nil && deleted {
			continue
		}
		d := journal.AccountDiff{Address: t.address, BalanceFrom: new(big.Int), BalanceTo: new(big.Int)}
		if pre != nil {
			d.NonceFrom = pre.Nonce
			d.BalanceFrom = pre.Balance.ToBig()
			d.CodeFrom = common.BytesToHash(pre.CodeHash)
		}
		if deleted {
			d.Deleted = true
		} else {
			d.NonceTo = statedb.GetNonce(t.address)
			d.BalanceTo = statedb.GetBalance(t.address).ToBig()
			d.CodeTo = statedb.GetCodeHash(t.address)
		}
		for i, slot := range t.slots {
			from := preSlots[t.address][i]
			var to common.Hash
			if !deleted {
				to = statedb.GetState(t.address, slot)
			}
			if from != to {
				d.Storage = append(d.Storage, journal.SlotDiff{Key: slot, From: from, To: to})
			}
		}
		if d.Changed() {
			diff = append(diff, d)
		}
	}
	return diff
}

func intrinsicGas(data []byte) uint64 {
	gas := uint64(txGas)
	for _, b := range data {
		if b == 0 {
			gas += txDataZeroGas
		} else {
			gas += txDataNonZeroGas
		}
	}
	return gas
}

func floorDataGas(data []byte) uint64 {
	var tokens uint64
	for _, b := range data {
		if b == 0 {
			tokens++
		} else {
			tokens += txTokenPerNonZeroByte
		}
	}
	return txGas + tokens*txCostFloorPerToken
}
