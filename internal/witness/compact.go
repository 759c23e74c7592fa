package witness

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/pkg/errors"

	"github.com/kroma-network/kroma-exploit-prover/internal/journal"
)

type compaction struct {
	stateTrie   NodeSet
	storageTrie NodeSet
	accounts    []TouchedAccount
	codes       [][]byte
	blockHashes []journal.BlockHash
}

// compact emits exactly the touched keys, each checked against its proof from root.
// Overridden addresses are proven against their real chain state too, so the guest can
// see what the overrides replaced.
func (s *Store) compact(root common.Hash) (*compaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.compacted {
		return nil, errStoreAlreadyClosed
	}
	s.compacted = true

	addresses := make([]common.Address, 0, len(s.overrides))
	for address := range s.overrides {
		addresses = append(addresses, address)
	}
	sort.Slice(addresses, func(i, j int) bool { return bytes.Compare(addresses[i][:], addresses[j][:]) < 0 })
	for _, address := range addresses {
		if _, err := s.account(address); err != nil {
			return nil, err
		}
	}

	stateNodes, storageNodes := newNodeCollector(), newNodeCollector()
	result := &compaction{blockHashes: s.blockHashRecords()}
	for _, t := range s.touchedAccounts() {
		if err := verifyAccount(root, t); err != nil {
			return nil, err
		}
		stateNodes.add(t.chain.proof)
		if t.override != nil {
			// storage of an override is synthetic, the guest never resolves it from the trie
			result.accounts = append(result.accounts, TouchedAccount{Address: t.address})
			continue
		}
		for _, slot := range t.slots {
			entry := s.slots[t.address][slot]
			if err := verifySlot(t, slot, entry); err != nil {
				return nil, err
			}
			storageNodes.add(entry.proof)
		}
		result.accounts = append(result.accounts, TouchedAccount{Address: t.address, Slots: t.slots})
	}
	result.stateTrie = stateNodes.sorted()
	result.storageTrie = storageNodes.sorted()
	if got := result.stateTrie.Root(); got != root {
		return nil, errors.Wrapf(ErrStateRootMismatch, "recomputed %s, expected %s", got, root)
	}

	hashes := make([]common.Hash, 0, len(s.codes))
	for hash := range s.codes {
		hashes = append(hashes, hash)
	}
	sort.Slice(hashes, func(i, j int) bool { return bytes.Compare(hashes[i][:], hashes[j][:]) < 0 })
	for _, hash := range hashes {
		result.codes = append(result.codes, s.codes[hash])
	}
	return result, nil
}

func verifyAccount(root common.Hash, t *touched) error {
	if root == types.EmptyRootHash {
		if t.chain.account != nil || len(t.chain.proof) != 0 {
			return errors.Wrapf(ErrStateRootMismatch, "account %s present under an empty state root", t.address)
		}
		return nil
	}
	value, err := trie.VerifyProof(root, crypto.Keccak256(t.address[:]), proofDatabase(t.chain.proof))
	if err != nil {
		return errors.Wrapf(ErrStateRootMismatch, "invalid proof for %s: %v", t.address, err)
	}
	expected, err := encodeAccount(t.chain.account)
	if err != nil {
		return err
	}
	if !bytes.Equal(value, expected) {
		return errors.Wrapf(ErrStateRootMismatch, "account %s does not match its proof", t.address)
	}
	return nil
}

func verifySlot(t *touched, slot common.Hash, entry *slotEntry) error {
	account := t.chain.account
	if entry.proof == nil {
		if account != nil && account.Root != types.EmptyRootHash {
			return errors.Wrapf(ErrStateRootMismatch, "slot %s of %s has no proof", slot, t.address)
		}
		return nil
	}
	if account == nil {
		return errors.Wrapf(ErrStateRootMismatch, "slot %s of absent account %s", slot, t.address)
	}
	value, err := trie.VerifyProof(account.Root, crypto.Keccak256(slot[:]), proofDatabase(entry.proof))
	if err != nil {
		return errors.Wrapf(ErrStateRootMismatch, "invalid proof for slot %s of %s: %v", slot, t.address, err)
	}
	expected, err := encodeSlot(entry.value)
	if err != nil {
		return err
	}
	if !bytes.Equal(value, expected) {
		return errors.Wrapf(ErrStateRootMismatch, "slot %s of %s does not match its proof", slot, t.address)
	}
	return nil
}
