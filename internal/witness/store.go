package witness

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/state"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/kroma-network/kroma-exploit-prover/internal/chain"
	"github.com/kroma-network/kroma-exploit-prover/internal/journal"
)

// StateSource is the chain access the store reads through.
type StateSource interface {
	Proof(ctx context.Context, address common.Address, slots []common.Hash, number uint64) (*chain.AccountResult, error)
	Code(ctx context.Context, address common.Address, number uint64) ([]byte, error)
	HeaderByNumber(ctx context.Context, number uint64) (*chain.Header, error)
}

// Override is a synthetic account that shadows chain state for the whole session.
type Override struct {
	Nonce   uint64
	Balance *uint256.Int
	Code    []byte
}

func (o *Override) account() *types.StateAccount {
	balance := new(uint256.Int)
	if o.Balance != nil {
		balance.Set(o.Balance)
	}
	return &types.StateAccount{
		Nonce:    o.Nonce,
		Balance:  balance,
		Root:     types.EmptyRootHash,
		CodeHash: crypto.Keccak256(o.Code),
	}
}

type accountEntry struct {
	account *types.StateAccount // nil when absent on chain
	proof   [][]byte
}

type slotEntry struct {
	value common.Hash
	proof [][]byte // nil when implied by an empty storage root
}

// Store is the proxy cache in front of the chain client. Overrides take precedence,
// every other key is fetched once at the pinned block and never re-fetched.
// It implements state.Reader so a geth StateDB can execute directly on top of it.
type Store struct {
	ctx    context.Context
	source StateSource
	number uint64

	mu          sync.Mutex
	overrides   map[common.Address]*Override
	accounts    map[common.Address]*accountEntry
	slots       map[common.Address]map[common.Hash]*slotEntry
	codes       map[common.Hash][]byte
	blockHashes map[uint64]common.Hash
	compacted   bool
	err         error
}

var _ state.Reader = (*Store)(nil)

func NewStore(ctx context.Context, source StateSource, number uint64) *Store {
	return &Store{
		ctx:         ctx,
		source:      source,
		number:      number,
		overrides:   make(map[common.Address]*Override),
		accounts:    make(map[common.Address]*accountEntry),
		slots:       make(map[common.Address]map[common.Hash]*slotEntry),
		codes:       make(map[common.Hash][]byte),
		blockHashes: make(map[uint64]common.Hash),
	}
}

func (s *Store) Override(address common.Address, override Override) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[address] = &override
	if len(override.Code) > 0 {
		s.codes[crypto.Keccak256Hash(override.Code)] = override.Code
	}
}

// Err returns the first fetch failure. The EVM cannot surface reader errors itself,
// so the builder checks this after execution.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Store) fail(err error) error {
	if s.err == nil {
		s.err = err
	}
	return err
}

func (s *Store) Account(address common.Address) (*types.StateAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if override, ok := s.overrides[address]; ok {
		return override.account(), nil
	}
	entry, err := s.account(address)
	if err != nil {
		return nil, err
	}
	if entry.account == nil {
		return nil, nil
	}
	return entry.account.Copy(), nil
}

// account returns the cached chain entry, fetching it on first access.
func (s *Store) account(address common.Address) (*accountEntry, error) {
	if entry, ok := s.accounts[address]; ok {
		return entry, nil
	}
	result, err := s.source.Proof(s.ctx, address, nil, s.number)
	if err != nil {
		return nil, s.fail(errors.Wrapf(err, "failed to fetch account %s", address))
	}
	entry := &accountEntry{account: result.StateAccount(), proof: result.Nodes()}
	s.accounts[address] = entry
	log.Trace("fetched account", "address", address, "exists", entry.account != nil)
	return entry, nil
}

func (s *Store) Storage(address common.Address, slot common.Hash) (common.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.slots[address][slot]; ok {
		return cached.value, nil
	}
	if _, ok := s.overrides[address]; ok {
		// overrides start with empty storage
		s.putSlot(address, slot, &slotEntry{})
		return common.Hash{}, nil
	}
	entry, ok := s.accounts[address]
	if ok && (entry.account == nil || entry.account.Root == types.EmptyRootHash) {
		s.putSlot(address, slot, &slotEntry{})
		return common.Hash{}, nil
	}
	result, err := s.source.Proof(s.ctx, address, []common.Hash{slot}, s.number)
	if err != nil {
		return common.Hash{}, s.fail(errors.Wrapf(err, "failed to fetch slot %s of %s", slot, address))
	}
	if !ok {
		s.accounts[address] = &accountEntry{account: result.StateAccount(), proof: result.Nodes()}
	}
	value := result.StorageProof[0].Hash()
	s.putSlot(address, slot, &slotEntry{value: value, proof: result.StorageProof[0].Nodes()})
	return value, nil
}

func (s *Store) putSlot(address common.Address, slot common.Hash, entry *slotEntry) {
	if s.slots[address] == nil {
		s.slots[address] = make(map[common.Hash]*slotEntry)
	}
	s.slots[address][slot] = entry
}

func (s *Store) Code(address common.Address, codeHash common.Hash) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if override, ok := s.overrides[address]; ok {
		return override.Code, nil
	}
	if codeHash == types.EmptyCodeHash || codeHash == (common.Hash{}) {
		return nil, nil
	}
	if code, ok := s.codes[codeHash]; ok {
		return code, nil
	}
	code, err := s.source.Code(s.ctx, address, s.number)
	if err != nil {
		return nil, s.fail(errors.Wrapf(err, "failed to fetch code of %s", address))
	}
	if got := crypto.Keccak256Hash(code); got != codeHash {
		return nil, s.fail(errors.Wrapf(ErrCodeHashMismatch, "code of %s hashes to %s, account has %s", address, got, codeHash))
	}
	s.codes[codeHash] = code
	return code, nil
}

func (s *Store) CodeSize(address common.Address, codeHash common.Hash) (int, error) {
	code, err := s.Code(address, codeHash)
	return len(code), err
}

func (s *Store) Copy() state.Reader { return s }

// BlockHash serves the BLOCKHASH opcode and records every lookup for the witness.
func (s *Store) BlockHash(number uint64) common.Hash {
	s.mu.Lock()
	defer s.mu.Unlock()
	if hash, ok := s.blockHashes[number]; ok {
		return hash
	}
	header, err := s.source.HeaderByNumber(s.ctx, number)
	if err != nil {
		s.fail(errors.Wrapf(err, "failed to fetch hash of block %d", number))
		return common.Hash{}
	}
	s.blockHashes[number] = header.Hash
	return header.Hash
}

// touched is one account as seen by the replay.
type touched struct {
	address  common.Address
	override *Override
	chain    *accountEntry
	slots    []common.Hash
}

// pre returns the account the replay started from.
func (t *touched) pre() *types.StateAccount {
	if t.override != nil {
		return t.override.account()
	}
	if t.chain == nil {
		return nil
	}
	return t.chain.account
}

// touchedAccounts lists every key read or written, sorted by address and slot.
func (s *Store) touchedAccounts() []*touched {
	seen := make(map[common.Address]*touched)
	for address, entry := range s.accounts {
		seen[address] = &touched{address: address, chain: entry}
	}
	for address, override := range s.overrides {
		if t, ok := seen[address]; ok {
			t.override = override
		} else {
			seen[address] = &touched{address: address, override: override}
		}
	}
	for address, slots := range s.slots {
		t := seen[address]
		for slot := range slots {
			t.slots = append(t.slots, slot)
		}
		sort.Slice(t.slots, func(i, j int) bool { return bytes.Compare(t.slots[i][:], t.slots[j][:]) < 0 })
	}
	accounts := make([]*touched, 0, len(seen))
	for _, t := range seen {
		accounts = append(accounts, t)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return bytes.Compare(accounts[i].address[:], accounts[j].address[:]) < 0
	})
	return accounts
}

func (s *Store) preSlot(address common.Address, slot common.Hash) common.Hash {
	if entry, ok := s.slots[address][slot]; ok {
		return entry.value
	}
	return common.Hash{}
}

func (s *Store) blockHashRecords() []journal.BlockHash {
	records := make([]journal.BlockHash, 0, len(s.blockHashes))
	for number, hash := range s.blockHashes {
		records = append(records, journal.BlockHash{Number: number, Hash: hash})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Number < records[j].Number })
	return records
}
