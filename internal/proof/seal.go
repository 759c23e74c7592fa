package proof

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

var sealArguments = func() abi.Arguments {
	bytesType, err := abi.NewType("bytes", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Name: "seal", Type: bytesType}}
}()

// EncodeOnchain lays out a Groth16 receipt for the on-chain verifier:
// journal ‖ post state digest ‖ abi.encode(seal).
func EncodeOnchain(receipt *Receipt) ([]byte, error) {
	if receipt.Kind != Groth16 {
		return nil, errors.Errorf("%s receipts cannot be verified on chain", receipt.Kind)
	}
	seal, err := sealArguments.Pack(receipt.Seal)
	if err != nil {
		return nil, errors.Wrap(err, "failed to abi encode seal")
	}
	blob := make([]byte, 0, len(receipt.Journal)+common.HashLength+len(seal))
	blob = append(blob, receipt.Journal...)
	blob = append(blob, receipt.Claim.PostStateDigest[:]...)
	return append(blob, seal...), nil
}

// DecodeOnchain splits a blob produced by EncodeOnchain, given the journal length.
func DecodeOnchain(blob []byte, journalLen int) (journal []byte, postStateDigest common.Hash, seal []byte, err error) {
	if len(blob) < journalLen+common.HashLength {
		return nil, common.Hash{}, nil, errors.New("on-chain proof too short")
	}
	journal = blob[:journalLen]
	postStateDigest = common.BytesToHash(blob[journalLen : journalLen+common.HashLength])
	values, err := sealArguments.Unpack(blob[journalLen+common.HashLength:])
	if err != nil {
		return nil, common.Hash{}, nil, errors.Wrap(err, "failed to abi decode seal")
	}
	seal, ok := values[0].([]byte)
	if !ok {
		return nil, common.Hash{}, nil, errors.New("seal is not bytes")
	}
	return journal, postStateDigest, seal, nil
}
