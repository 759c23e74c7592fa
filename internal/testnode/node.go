// Package testnode serves the eth_* subset the prover uses from an in-memory trie,
// so tests run against genuine Merkle proofs.
package testnode

import (
	"fmt"
	"math/big"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/rawdb"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/trie"
	"github.com/ethereum/go-ethereum/triedb"
	"github.com/holiman/uint256"
)

type Account struct {
	Nonce   uint64
	Balance *uint256.Int
	Code    []byte
	Storage map[common.Hash]common.Hash
}

type Block struct {
	Number    uint64
	Hash      common.Hash
	Timestamp uint64
	GasLimit  uint64
}

type Node struct {
	URL  string
	Root common.Hash

	chainID  uint64
	accounts map[common.Address]Account
	state    *trie.Trie
	storage  map[common.Address]*trie.Trie

	mu     sync.Mutex
	blocks map[uint64]Block
	calls  map[string]int
}

// New builds the state trie from accounts and serves it over HTTP until the test ends.
func New(t testing.TB, chainID uint64, accounts map[common.Address]Account) *Node {
	t.Helper()
	db := triedb.NewDatabase(rawdb.NewMemoryDatabase(), nil)
	n := &Node{
		chainID:  chainID,
		accounts: accounts,
		state:    trie.NewEmpty(db),
		storage:  make(map[common.Address]*trie.Trie),
		blocks:   make(map[uint64]Block),
		calls:    make(map[string]int),
	}
	for addr, account := range accounts {
		root := types.EmptyRootHash
		if len(account.Storage) > 0 {
			st := trie.NewEmpty(db)
			for key, value := range account.Storage {
				enc, err := rlp.EncodeToBytes(common.TrimLeftZeroes(value[:]))
				if err != nil {
					t.Fatal(err)
				}
				st.MustUpdate(crypto.Keccak256(key[:]), enc)
			}
			root = st.Hash()
			n.storage[addr] = st
		}
		balance := account.Balance
		if balance == nil {
			balance = new(uint256.Int)
		}
		enc, err := rlp.EncodeToBytes(&types.StateAccount{
			Nonce:    account.Nonce,
			Balance:  balance,
			Root:     root,
			CodeHash: crypto.Keccak256(account.Code),
		})
		if err != nil {
			t.Fatal(err)
		}
		n.state.MustUpdate(crypto.Keccak256(addr[:]), enc)
	}
	n.Root = n.state.Hash()

	server := rpc.NewServer()
	if err := server.RegisterName("eth", &ethService{n}); err != nil {
		t.Fatal(err)
	}
	httpServer := httptest.NewServer(server)
	t.Cleanup(func() {
		httpServer.Close()
		server.Stop()
	})
	n.URL = httpServer.URL
	return n
}

// AddBlock registers a block whose state root is the node's root.
func (n *Node) AddBlock(block Block) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocks[block.Number] = block
}

// SetBlockHash replaces the hash reported for number, simulating a reorg.
func (n *Node) SetBlockHash(number uint64, hash common.Hash) {
	n.mu.Lock()
	defer n.mu.Unlock()
	block := n.blocks[number]
	block.Number = number
	block.Hash = hash
	n.blocks[number] = block
}

// Calls returns how often key was requested. Keys are the method name, or
// "method:address" and "eth_getProof:address:slot" for per-key counts.
func (n *Node) Calls(key string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[key]
}

func (n *Node) count(keys ...string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, key := range keys {
		n.calls[key]++
	}
}

type proofList [][]byte

func (l *proofList) Put(key []byte, value []byte) error {
	*l = append(*l, common.CopyBytes(value))
	return nil
}

func (l *proofList) Delete(key []byte) error { return fmt.Errorf("not supported") }

func (l proofList) hex() []hexutil.Bytes {
	nodes := make([]hexutil.Bytes, len(l))
	for i, node := range l {
		nodes[i] = node
	}
	return nodes
}

type ethService struct{ n *Node }

type storageResult struct {
	Key   string          `json:"key"`
	Value *hexutil.Big    `json:"value"`
	Proof []hexutil.Bytes `json:"proof"`
}

type accountResult struct {
	Address      common.Address  `json:"address"`
	AccountProof []hexutil.Bytes `json:"accountProof"`
	Balance      *hexutil.Big    `json:"balance"`
	CodeHash     common.Hash     `json:"codeHash"`
	Nonce        hexutil.Uint64  `json:"nonce"`
	StorageHash  common.Hash     `json:"storageHash"`
	StorageProof []storageResult `json:"storageProof"`
}

func (s *ethService) ChainId() hexutil.Uint64 {
	s.n.count("eth_chainId")
	return hexutil.Uint64(s.n.chainID)
}

func (s *ethService) BlockNumber() hexutil.Uint64 {
	s.n.count("eth_blockNumber")
	s.n.mu.Lock()
	defer s.n.mu.Unlock()
	var head uint64
	for number := range s.n.blocks {
		if number > head {
			head = number
		}
	}
	return hexutil.Uint64(head)
}

func (s *ethService) GetBlockByNumber(number hexutil.Uint64, fullTx bool) (map[string]any, error) {
	s.n.count("eth_getBlockByNumber", fmt.Sprintf("eth_getBlockByNumber:%d", number))
	s.n.mu.Lock()
	block, ok := s.n.blocks[uint64(number)]
	s.n.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return map[string]any{
		"number":        hexutil.Uint64(block.Number),
		"hash":          block.Hash,
		"timestamp":     hexutil.Uint64(block.Timestamp),
		"gasLimit":      hexutil.Uint64(block.GasLimit),
		"stateRoot":     s.n.Root,
		"miner":         common.Address{},
		"mixHash":       common.Hash{},
		"baseFeePerGas": (*hexutil.Big)(big.NewInt(1_000_000_000)),
	}, nil
}

func (s *ethService) GetProof(address common.Address, keys []string, number hexutil.Uint64) (*accountResult, error) {
	counts := []string{"eth_getProof", "eth_getProof:" + strings.ToLower(address.Hex())}
	for _, key := range keys {
		counts = append(counts, "eth_getProof:"+strings.ToLower(address.Hex())+":"+strings.ToLower(common.HexToHash(key).Hex()))
	}
	s.n.count(counts...)

	var accountProof proofList
	if err := s.n.state.Prove(crypto.Keccak256(address[:]), &accountProof); err != nil {
		return nil, err
	}
	result := &accountResult{
		Address:      address,
		AccountProof: accountProof.hex(),
		Balance:      (*hexutil.Big)(new(big.Int)),
		StorageProof: []storageResult{},
	}
	account, exists := s.n.accounts[address]
	if exists {
		result.Nonce = hexutil.Uint64(account.Nonce)
		if account.Balance != nil {
			result.Balance = (*hexutil.Big)(account.Balance.ToBig())
		}
		result.CodeHash = crypto.Keccak256Hash(account.Code)
		result.StorageHash = types.EmptyRootHash
	}
	st := s.n.storage[address]
	if st != nil {
		result.StorageHash = st.Hash()
	}
	for _, key := range keys {
		slot := common.HexToHash(key)
		var proof proofList
		if st != nil {
			if err := st.Prove(crypto.Keccak256(slot[:]), &proof); err != nil {
				return nil, err
			}
		}
		value := account.Storage[slot]
		result.StorageProof = append(result.StorageProof, storageResult{
			Key:   key,
			Value: (*hexutil.Big)(value.Big()),
			Proof: proof.hex(),
		})
	}
	return result, nil
}

func (s *ethService) GetCode(address common.Address, number hexutil.Uint64) (hexutil.Bytes, error) {
	s.n.count("eth_getCode", "eth_getCode:"+strings.ToLower(address.Hex()))
	return s.n.accounts[address].Code, nil
}
