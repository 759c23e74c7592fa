package witness

import (
	"math/big"

	"github.com/ethereum/go-ethereum/params"
)

type Fork int

const (
	PreMerge Fork = iota
	Paris
	Shanghai
	Cancun
	Prague
)

// First mainnet blocks of the forks activated by timestamp or difficulty.
const (
	parisBlock    = 15_537_394
	shanghaiBlock = 17_034_870
	cancunBlock   = 19_426_587
	pragueBlock   = 22_431_084
)

func (f Fork) String() string {
	switch f {
	case Paris:
		return "paris"
	case Shanghai:
		return "shanghai"
	case Cancun:
		return "cancun"
	case Prague:
		return "prague"
	}
	return "pre-merge"
}

// ForkAt selects the ruleset from the block number alone. PreMerge blocks run with the
// number-activated forks of the mainnet config.
func ForkAt(number uint64) Fork {
	switch {
	case number >= pragueBlock:
		return Prague
	case number >= cancunBlock:
		return Cancun
	case number >= shanghaiBlock:
		return Shanghai
	case number >= parisBlock:
		return Paris
	}
	return PreMerge
}

// PostMerge reports whether the fork executes with PREVRANDAO.
func (f Fork) PostMerge() bool { return f >= Paris }

// chainConfigAt pins the mainnet config so that only number decides the rules: every
// timestamp fork the number has passed is active from time zero, the rest are disabled.
func chainConfigAt(number uint64, chainID *big.Int) *params.ChainConfig {
	config := *params.MainnetChainConfig
	if chainID != nil {
		config.ChainID = new(big.Int).Set(chainID)
	}
	fork := ForkAt(number)
	config.ShanghaiTime = activeFrom(fork >= Shanghai)
	config.CancunTime = activeFrom(fork >= Cancun)
	config.PragueTime = activeFrom(fork >= Prague)
	config.OsakaTime = nil
	config.VerkleTime = nil
	return &config
}

func activeFrom(active bool) *uint64 {
	if !active {
		return nil
	}
	zero := uint64(0)
	return &zero
}
