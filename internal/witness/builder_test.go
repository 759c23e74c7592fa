package witness

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/kroma-network/kroma-exploit-prover/internal/chain"
	"github.com/kroma-network/kroma-exploit-prover/internal/journal"
	"github.com/kroma-network/kroma-exploit-prover/internal/retry"
	"github.com/kroma-network/kroma-exploit-prover/internal/testnode"
)

const testBlock = 18_000_000

var (
	holder = common.HexToAddress("0x1000000000000000000000000000000000000001")
	slot1  = common.HexToHash("0x01")
	slot2  = common.HexToHash("0x02")
	value1 = common.HexToHash("0x2a")

	// copies slot 1 into slot 2
	holderCode = []byte{0x60, 0x01, 0x54, 0x60, 0x02, 0x55, 0x00}
	// CALL holder with all gas, then STOP
	callHolder = append(append([]byte{0x60, 0x00, 0x60, 0x00, 0x60, 0x00, 0x60, 0x00, 0x60, 0x00, 0x73}, holder[:]...), 0x5a, 0xf1, 0x50, 0x00)
)

var testChainConfig = chain.Config{
	Retry: retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, RequestTimeout: 5 * time.Second},
}

func holderAccounts(balance uint64) map[common.Address]testnode.Account {
	return map[common.Address]testnode.Account{
		holder: {
			Nonce:   1,
			Balance: uint256.NewInt(balance),
			Code:    holderCode,
			Storage: map[common.Hash]common.Hash{slot1: value1},
		},
	}
}

func setup(t *testing.T, accounts map[common.Address]testnode.Account, gasLimit uint64) (*testnode.Node, *chain.Client, *chain.Header) {
	t.Helper()
	node := testnode.New(t, 1, accounts)
	node.AddBlock(testnode.Block{Number: testBlock - 1, Hash: common.Hash{0xaa}, Timestamp: 1_692_000_000, GasLimit: gasLimit})
	node.AddBlock(testnode.Block{Number: testBlock, Hash: common.Hash{0xbb}, Timestamp: 1_692_000_012, GasLimit: gasLimit})
	client, err := chain.Dial(context.Background(), node.URL, testChainConfig)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	header, err := client.HeaderByNumber(context.Background(), testBlock)
	require.NoError(t, err)
	return node, client, header
}

func TestBuildStopMatchesStateRoot(t *testing.T) {
	node, client, header := setup(t, holderAccounts(1), 30_000_000)
	builder := NewBuilder(client, Config{CallData: []byte{}})

	result, err := builder.Build(context.Background(), []byte{0x00}, header, uint256.NewInt(1e18), common.Address{0x77})
	require.NoError(t, err)
	require.Equal(t, uint64(21_000), result.GasUsed)
	require.Equal(t, node.Root, result.Witness.StateTrie.Root())
	require.NoError(t, result.Witness.Verify())

	// only the two synthetic accounts were touched
	require.Len(t, result.Witness.Accounts, 2)
	require.Empty(t, result.Witness.StorageTrie)
	require.Empty(t, result.Output.BlockHashes)
	caller := result.Output.StateDiff.Account(CallerAddress)
	require.NotNil(t, caller)
	require.Equal(t, uint64(1), caller.NonceFrom)
	require.Equal(t, uint64(2), caller.NonceTo)
	require.Nil(t, result.Output.StateDiff.Account(ContractAddress))
}

func TestBuildCapturesForeignState(t *testing.T) {
	node, client, header := setup(t, holderAccounts(1), 30_000_000)
	builder := NewBuilder(client, DefaultConfig)

	result, err := builder.Build(context.Background(), callHolder, header, nil, common.Address{})
	require.NoError(t, err)
	bundle := result.Witness
	require.Equal(t, header.StateRoot, bundle.StateTrie.Root())
	require.NoError(t, bundle.Verify())
	require.Equal(t, DefaultCallData, bundle.CallData)
	require.Len(t, bundle.Codes, 2)
	require.NotEmpty(t, bundle.StorageTrie)

	var touched *TouchedAccount
	for i := range bundle.Accounts {
		if bundle.Accounts[i].Address == holder {
			touched = &bundle.Accounts[i]
		}
	}
	require.NotNil(t, touched)
	require.Equal(t, []common.Hash{slot1, slot2}, touched.Slots)

	diff := result.Output.StateDiff.Account(holder)
	require.NotNil(t, diff)
	require.Equal(t, []journal.SlotDiff{{Key: slot2, From: common.Hash{}, To: value1}}, diff.Storage)

	// the account is fetched once, each slot once
	lower := strings.ToLower(holder.Hex())
	require.Equal(t, 1, node.Calls("eth_getProof:"+lower+":"+strings.ToLower(slot1.Hex())))
	require.Equal(t, 1, node.Calls("eth_getProof:"+lower+":"+strings.ToLower(slot2.Hex())))
	require.Equal(t, 1, node.Calls("eth_getCode:"+lower))

	enc, err := bundle.Encode()
	require.NoError(t, err)
	decoded, err := DecodeBundle(enc)
	require.NoError(t, err)
	require.NoError(t, decoded.Verify())
	reenc, err := decoded.Encode()
	require.NoError(t, err)
	require.Equal(t, enc, reenc)
}

func TestBuildRecordsBlockHashes(t *testing.T) {
	_, client, header := setup(t, holderAccounts(1), 30_000_000)
	// PUSH4 17999999 BLOCKHASH POP STOP
	code := []byte{0x63, 0x01, 0x12, 0xa8, 0x7f, 0x40, 0x50, 0x00}

	result, err := NewBuilder(client, DefaultConfig).Build(context.Background(), code, header, nil, common.Address{})
	require.NoError(t, err)
	expected := []journal.BlockHash{{Number: testBlock - 1, Hash: common.Hash{0xaa}}}
	require.Equal(t, expected, result.Witness.BlockHashes)
	require.Equal(t, expected, result.Output.BlockHashes)
}

func TestBuildRejectsPerturbedState(t *testing.T) {
	original := testnode.New(t, 1, holderAccounts(1))
	perturbed, client, header := setup(t, holderAccounts(2), 30_000_000)
	require.NotEqual(t, original.Root, perturbed.Root)

	header.StateRoot = original.Root
	_, err := NewBuilder(client, DefaultConfig).Build(context.Background(), callHolder, header, nil, common.Address{})
	require.ErrorIs(t, err, ErrStateRootMismatch)
}

func TestBuildGasLimitExceeded(t *testing.T) {
	_, client, header := setup(t, holderAccounts(1), 21_000)
	builder := NewBuilder(client, Config{CallData: []byte{}})

	// PUSH1 0 POP STOP costs 5 gas on top of the intrinsic 21000
	result, err := builder.Build(context.Background(), []byte{0x60, 0x00, 0x50, 0x00}, header, nil, common.Address{})
	require.ErrorIs(t, err, ErrGasLimitExceeded)
	require.Nil(t, result)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, uint64(21_005), execErr.GasUsed)
	require.Equal(t, uint64(21_000), execErr.GasLimit)
}

func TestBuildOutcomePolicy(t *testing.T) {
	_, client, header := setup(t, holderAccounts(1), 30_000_000)
	builder := NewBuilder(client, DefaultConfig)

	_, err := builder.Build(context.Background(), []byte{0x60, 0x00, 0x60, 0x00, 0xfd}, header, nil, common.Address{})
	require.ErrorIs(t, err, ErrExecutionReverted)
	require.NotErrorIs(t, err, ErrExecutionHalted)

	_, err = builder.Build(context.Background(), []byte{0xfe}, header, nil, common.Address{})
	require.ErrorIs(t, err, ErrExecutionHalted)
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	require.Equal(t, Halted, execErr.Kind)
	require.NotEmpty(t, execErr.Reason)

	_, err = builder.Build(context.Background(), nil, header, nil, common.Address{})
	require.ErrorIs(t, err, ErrInvalidBytecode)
}

func TestForkAt(t *testing.T) {
	require.Equal(t, PreMerge, ForkAt(15_537_393))
	require.Equal(t, Paris, ForkAt(15_537_394))
	require.Equal(t, Shanghai, ForkAt(testBlock))
	require.Equal(t, Cancun, ForkAt(20_000_000))
	require.Equal(t, Prague, ForkAt(22_431_084))

	config := chainConfigAt(testBlock, nil)
	require.True(t, config.IsShanghai(config.LondonBlock, 0))
	require.False(t, config.IsCancun(config.LondonBlock, 1<<40))
}
