package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/holiman/uint256"
)

// Header is the execution context and trust anchor of one witness.
type Header struct {
	Number    uint64
	Hash      common.Hash
	Timestamp uint64
	GasLimit  uint64
	StateRoot common.Hash
	Coinbase  common.Address
	MixDigest common.Hash
	BaseFee   *big.Int `rlp:"nil"`
}

type rpcHeader struct {
	Number    hexutil.Uint64 `json:"number"`
	Hash      common.Hash    `json:"hash"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
	GasLimit  hexutil.Uint64 `json:"gasLimit"`
	StateRoot common.Hash    `json:"stateRoot"`
	Miner     common.Address `json:"miner"`
	MixHash   common.Hash    `json:"mixHash"`
	BaseFee   *hexutil.Big   `json:"baseFeePerGas"`
}

func (h *rpcHeader) header() *Header {
	header := &Header{
		Number:    uint64(h.Number),
		Hash:      h.Hash,
		Timestamp: uint64(h.Timestamp),
		GasLimit:  uint64(h.GasLimit),
		StateRoot: h.StateRoot,
		Coinbase:  h.Miner,
		MixDigest: h.MixHash,
	}
	if h.BaseFee != nil {
		header.BaseFee = h.BaseFee.ToInt()
	}
	return header
}

// AccountResult is the eth_getProof response.
type AccountResult struct {
	Address      common.Address  `json:"address"`
	AccountProof []hexutil.Bytes `json:"accountProof"`
	Balance      *hexutil.Big    `json:"balance"`
	CodeHash     common.Hash     `json:"codeHash"`
	Nonce        hexutil.Uint64  `json:"nonce"`
	StorageHash  common.Hash     `json:"storageHash"`
	StorageProof []StorageResult `json:"storageProof"`
}

type StorageResult struct {
	Key   string          `json:"key"`
	Value *hexutil.Big    `json:"value"`
	Proof []hexutil.Bytes `json:"proof"`
}

// Empty reports whether the proof describes a non-existent account.
func (r *AccountResult) Empty() bool {
	return r.Nonce == 0 && (r.Balance == nil || r.Balance.ToInt().Sign() == 0) &&
		(r.CodeHash == (common.Hash{}) || r.CodeHash == types.EmptyCodeHash) &&
		(r.StorageHash == (common.Hash{}) || r.StorageHash == types.EmptyRootHash)
}

// StateAccount converts the result into its consensus form, or nil when absent.
func (r *AccountResult) StateAccount() *types.StateAccount {
	if r.Empty() {
		return nil
	}
	balance := new(uint256.Int)
	if r.Balance != nil {
		balance = uint256.MustFromBig(r.Balance.ToInt())
	}
	root := r.StorageHash
	if root == (common.Hash{}) {
		root = types.EmptyRootHash
	}
	codeHash := r.CodeHash
	if codeHash == (common.Hash{}) {
		codeHash = types.EmptyCodeHash
	}
	return &types.StateAccount{
		Nonce:    uint64(r.Nonce),
		Balance:  balance,
		Root:     root,
		CodeHash: codeHash.Bytes(),
	}
}

func proofBytes(proof []hexutil.Bytes) [][]byte {
	nodes := make([][]byte, len(proof))
	for i, node := range proof {
		nodes[i] = node
	}
	return nodes
}

// Nodes returns the raw account proof nodes.
func (r *AccountResult) Nodes() [][]byte { return proofBytes(r.AccountProof) }

// Nodes returns the raw storage proof nodes.
func (s *StorageResult) Nodes() [][]byte { return proofBytes(s.Proof) }

// Hash returns the slot value as a 32-byte word.
func (s *StorageResult) Hash() common.Hash {
	if s.Value == nil {
		return common.Hash{}
	}
	return common.BigToHash(s.Value.ToInt())
}
