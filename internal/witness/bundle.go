package witness

import (
	"bytes"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethdb/memorydb"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/pkg/errors"

	"github.com/kroma-network/kroma-exploit-prover/internal/chain"
	"github.com/kroma-network/kroma-exploit-prover/internal/journal"
)

// NodeSet is a deduplicated set of trie nodes. For the state trie the root node comes first.
type NodeSet [][]byte

// Root recomputes the root hash of the set.
func (n NodeSet) Root() common.Hash {
	if len(n) == 0 {
		return types.EmptyRootHash
	}
	return crypto.Keccak256Hash(n[0])
}

// Database indexes the nodes by hash, the way trie.VerifyProof resolves them.
func (n NodeSet) Database() *memorydb.Database {
	db := memorydb.New()
	for _, node := range n {
		db.Put(crypto.Keccak256(node), node)
	}
	return db
}

type nodeCollector struct {
	root  []byte
	nodes map[common.Hash][]byte
}

func newNodeCollector() *nodeCollector {
	return &nodeCollector{nodes: make(map[common.Hash][]byte)}
}

func (c *nodeCollector) add(proof [][]byte) {
	for i, node := range proof {
		if i == 0 && c.root == nil {
			c.root = node
		}
		c.nodes[crypto.Keccak256Hash(node)] = node
	}
}

// sorted returns the nodes ordered by hash, with the first root seen placed in front.
func (c *nodeCollector) sorted() NodeSet {
	hashes := make([]common.Hash, 0, len(c.nodes))
	rootHash := crypto.Keccak256Hash(c.root)
	for hash := range c.nodes {
		if c.root != nil && hash == rootHash {
			continue
		}
		hashes = append(hashes, hash)
	}
	sort.Slice(hashes, func(i, j int) bool { return bytes.Compare(hashes[i][:], hashes[j][:]) < 0 })
	set := make(NodeSet, 0, len(c.nodes))
	if c.root != nil {
		set = append(set, c.root)
	}
	for _, hash := range hashes {
		set = append(set, c.nodes[hash])
	}
	return set
}

// TouchedAccount names one account key and the slots of it the replay touched.
type TouchedAccount struct {
	Address common.Address
	Slots   []common.Hash
}

// Bundle is the self-contained witness of one replay. Feeding it to a guest needs no
// further network access.
type Bundle struct {
	Header         chain.Header
	StateTrie      NodeSet
	StorageTrie    NodeSet
	Accounts       []TouchedAccount
	BlockHashes    []journal.BlockHash
	Codes          [][]byte
	Target         []byte
	Author         common.Address
	InitialBalance *big.Int
	CallData       []byte
}

func (b *Bundle) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(b)
}

func DecodeBundle(enc []byte) (*Bundle, error) {
	var bundle Bundle
	if err := rlp.DecodeBytes(enc, &bundle); err != nil {
		return nil, errors.Wrap(err, "failed to decode witness bundle")
	}
	return &bundle, nil
}

// Verify resolves every touched key through the bundled nodes from the header's state root.
func (b *Bundle) Verify() error {
	if root := b.StateTrie.Root(); root != b.Header.StateRoot {
		return errors.Wrapf(ErrStateRootMismatch, "witness root %s, header root %s", root, b.Header.StateRoot)
	}
	stateDb := b.StateTrie.Database()
	storageDb := b.StorageTrie.Database()
	for _, touched := range b.Accounts {
		account, err := resolveAccount(b.Header.StateRoot, touched.Address, stateDb)
		if err != nil {
			return err
		}
		for _, slot := range touched.Slots {
			if account == nil || account.Root == types.EmptyRootHash {
				continue
			}
			if _, err := trie.VerifyProof(account.Root, crypto.Keccak256(slot[:]), storageDb); err != nil {
				return errors.Wrapf(ErrStateRootMismatch, "slot %s of %s: %v", slot, touched.Address, err)
			}
		}
	}
	return nil
}

func resolveAccount(root common.Hash, address common.Address, db *memorydb.Database) (*types.StateAccount, error) {
	if root == types.EmptyRootHash {
		return nil, nil
	}
	enc, err := trie.VerifyProof(root, crypto.Keccak256(address[:]), db)
	if err != nil {
		return nil, errors.Wrapf(ErrStateRootMismatch, "account %s: %v", address, err)
	}
	if enc == nil {
		return nil, nil
	}
	var account types.StateAccount
	if err := rlp.DecodeBytes(enc, &account); err != nil {
		return nil, errors.Wrapf(ErrStateRootMismatch, "account %s: %v", address, err)
	}
	return &account, nil
}

func proofDatabase(proof [][]byte) *memorydb.Database {
	return NodeSet(proof).Database()
}

func encodeAccount(account *types.StateAccount) ([]byte, error) {
	if account == nil {
		return nil, nil
	}
	return rlp.EncodeToBytes(account)
}

func encodeSlot(value common.Hash) ([]byte, error) {
	if value == (common.Hash{}) {
		return nil, nil
	}
	return rlp.EncodeToBytes(common.TrimLeftZeroes(value[:]))
}
