package main

import (
	"bytes"
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/kroma-network/kroma-exploit-prover/internal/chain"
	"github.com/kroma-network/kroma-exploit-prover/internal/ec2"
	"github.com/kroma-network/kroma-exploit-prover/internal/journal"
	"github.com/kroma-network/kroma-exploit-prover/internal/proof"
	"github.com/kroma-network/kroma-exploit-prover/internal/verifier"
	"github.com/kroma-network/kroma-exploit-prover/internal/witness"
)

var chainNames = map[uint64]string{
	1:     "mainnet",
	10:    "optimism",
	56:    "bsc",
	137:   "polygon",
	8453:  "base",
	42161: "arbitrum",
}

func chainName(chainID uint64) string {
	if name, ok := chainNames[chainID]; ok {
		return name
	}
	return fmt.Sprintf("chain-%d", chainID)
}

// prover ties the chain client, the witness builder and the proof service together.
// It serves the JSON-RPC methods and the prove command.
type prover struct {
	client   *chain.Client
	builder  *witness.Builder
	service  *proof.Service
	verifier *verifier.Verifier
	remote   *proof.Remote
}

func newProver(runCtx context.Context, ctx *cli.Context) (*prover, error) {
	client, err := chain.Dial(runCtx, ctx.String(RpcUrl.Name), chain.DefaultConfig)
	if err != nil {
		return nil, err
	}
	program, err := proof.NewExecProgram(ctx.String(ProverPath.Name), ctx.String(GuestPath.Name))
	if err != nil {
		client.Close()
		return nil, err
	}
	remote, err := newRemote(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}
	var backend proof.Backend
	switch ctx.String(ProverBackend.Name) {
	case "local":
		backend = proof.NewLocal()
	case "remote":
		if remote == nil {
			client.Close()
			return nil, errors.Errorf("remote backend needs --%s or --%s", RemoteUrl.Name, AwsProverInstanceId.Name)
		}
		backend = remote
	default:
		client.Close()
		return nil, errors.Errorf("unknown prover backend %q", ctx.String(ProverBackend.Name))
	}
	var converter proof.Converter
	if remote != nil {
		converter = remote
	}
	repo, err := newRepository(ctx)
	if err != nil {
		client.Close()
		return nil, err
	}

	chainID := client.ChainIDHint()
	service := proof.NewService(program, backend, converter, repo, proof.Config{
		Chain:        chainName(chainID),
		Snark:        ctx.Bool(Snark.Name),
		SealVerifier: program,
	})
	log.Info("prover ready", "chain", chainName(chainID), "image", program.ImageID(), "backend", backend.Name())
	return &prover{
		client:   client,
		builder:  witness.NewBuilder(client, witness.Config{ChainID: new(big.Int).SetUint64(chainID)}),
		service:  service,
		verifier: verifier.New(program.ImageID(), program, client),
		remote:   remote,
	}, nil
}

// newRemote returns nil when no remote proving service is configured.
func newRemote(ctx *cli.Context) (*proof.Remote, error) {
	config := proof.DefaultRemoteConfig
	config.URL = ctx.String(RemoteUrl.Name)
	config.APIKey = ctx.String(RemoteApiKey.Name)
	config.Version = ctx.String(RemoteVersion.Name)
	config.PollInterval = ctx.Duration(RemotePollInterval.Name)
	if id := ctx.String(AwsProverInstanceId.Name); id != "" {
		host, err := ec2.NewController(ec2.Config{
			Region:      ctx.String(AwsRegion.Name),
			InstanceID:  id,
			AddressType: ctx.String(AwsProverAddressType.Name),
			Port:        ctx.Int(AwsProverPort.Name),
		})
		if err != nil {
			return nil, err
		}
		config.Host = host
	} else if config.URL == "" {
		return nil, nil
	}
	return proof.NewRemote(config), nil
}

func newRepository(ctx *cli.Context) (proof.Repository, error) {
	if bucket := ctx.String(S3Bucket.Name); bucket != "" {
		return proof.NewS3Repository(proof.S3Config{
			Region:   ctx.String(AwsRegion.Name),
			Bucket:   bucket,
			Prefix:   ctx.String(S3Prefix.Name),
			Endpoint: ctx.String(S3Endpoint.Name),
		})
	}
	if dir := ctx.String(ProofBaseDir.Name); dir != "" {
		return proof.NewDiskRepository(dir, ctx.Duration(ProofRetention.Name))
	}
	return nil, nil
}

// newVerifier checks seals with the local prover, so the guest binary is always needed.
func newVerifier(runCtx context.Context, ctx *cli.Context) (*verifier.Verifier, func(), error) {
	program, err := proof.NewExecProgram(ctx.String(ProverPath.Name), ctx.String(GuestPath.Name))
	if err != nil {
		return nil, nil, err
	}
	if hex := ctx.String(ImageId.Name); hex != "" {
		imageID, err := proof.ParseImageID(hex)
		if err != nil {
			return nil, nil, err
		}
		if imageID != program.ImageID() {
			return nil, nil, errors.Errorf("image id %s does not match guest %s", imageID, program.ImageID())
		}
	}
	client, err := chain.Dial(runCtx, ctx.String(RpcUrl.Name), chain.DefaultConfig)
	if err != nil {
		return nil, nil, err
	}
	return verifier.New(program.ImageID(), program, client), client.Close, nil
}

func proveParams(ctx *cli.Context) (*proof.ProveParams, error) {
	raw, err := os.ReadFile(ctx.String(BytecodeFile.Name))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read bytecode")
	}
	bytecode := raw
	if text := strings.TrimSpace(string(raw)); isHex(text) {
		if bytecode, err = hexutil.Decode(ensurePrefix(text)); err != nil {
			return nil, errors.Wrap(err, "invalid bytecode hex")
		}
	}
	balance, err := parseBalance(ctx.String(InitialBalance.Name))
	if err != nil {
		return nil, err
	}
	params := &proof.ProveParams{
		Bytecode:       bytecode,
		BlockNumber:    hexutil.Uint64(ctx.Uint64(BlockNumber.Name)),
		InitialBalance: (*hexutil.Big)(balance.ToBig()),
	}
	if author := ctx.String(Author.Name); author != "" {
		if !common.IsHexAddress(author) {
			return nil, errors.Errorf("invalid author address %q", author)
		}
		params.Author = common.HexToAddress(author)
	}
	return params, nil
}

func isHex(s string) bool {
	s = strings.TrimPrefix(s, "0x")
	if s == "" || len(s)%2 != 0 {
		return false
	}
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

func ensurePrefix(s string) string {
	if strings.HasPrefix(s, "0x") {
		return s
	}
	return "0x" + s
}

func parseBalance(s string) (*uint256.Int, error) {
	if strings.HasPrefix(s, "0x") {
		balance, err := uint256.FromHex(s)
		return balance, errors.Wrapf(err, "invalid balance %q", s)
	}
	balance, err := uint256.FromDecimal(s)
	return balance, errors.Wrapf(err, "invalid balance %q", s)
}

// header resolves the block to replay at. A block ahead of the chain is waited for.
func (p *prover) header(ctx context.Context, number uint64) (*chain.Header, error) {
	head, err := p.client.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	if number == 0 {
		number = head
	} else if number > head {
		log.Info("waiting for block", "block", number, "head", head)
		if _, err := p.client.WaitForBlock(ctx, number); err != nil {
			return nil, err
		}
	}
	return p.client.HeaderByNumber(ctx, number)
}

func (p *prover) build(ctx context.Context, params *proof.ProveParams) (*witness.Result, error) {
	header, err := p.header(ctx, uint64(params.BlockNumber))
	if err != nil {
		return nil, err
	}
	var balance *uint256.Int
	if params.InitialBalance != nil {
		var overflow bool
		if balance, overflow = uint256.FromBig(params.InitialBalance.ToInt()); overflow {
			return nil, errors.New("initial balance overflows 256 bits")
		}
	}
	result, err := p.builder.Build(ctx, params.Bytecode, header, balance, params.Author)
	if err != nil {
		return nil, err
	}
	enc, err := result.Witness.Encode()
	if err != nil {
		return nil, err
	}
	log.Info("witness built", "block", header.Number, "gasUsed", result.GasUsed, "witnessSize", len(enc),
		"accounts", len(result.Witness.Accounts), "blockHashes", len(result.Output.BlockHashes))
	return result, nil
}

func (p *prover) Execute(ctx context.Context, params *proof.ProveParams) (*journal.Output, error) {
	result, err := p.build(ctx, params)
	if err != nil {
		return nil, err
	}
	output, err := p.service.Execute(ctx, result.Witness)
	if err != nil {
		return nil, err
	}
	if !journal.Equal(result.Output, output) {
		log.Error("Output mismatch!", "image", p.service.ImageID())
	}
	return output, nil
}

func (p *prover) Prove(ctx context.Context, params *proof.ProveParams) (*proof.ProveResponse, error) {
	result, err := p.build(ctx, params)
	if err != nil {
		return nil, err
	}
	proved, err := p.service.Prove(ctx, &proof.Request{Witness: result.Witness, Expected: result.Output})
	if err != nil {
		return nil, err
	}
	var artifact bytes.Buffer
	if err := proved.Artifact.Save(&artifact); err != nil {
		return nil, err
	}
	response := &proof.ProveResponse{
		Artifact: artifact.Bytes(),
		ImageID:  proved.Artifact.ImageID.String(),
		JobID:    proved.JobID,
		GasUsed:  hexutil.Uint64(result.GasUsed),
		Cached:   proved.Cached,
	}
	if proved.Anomaly != nil {
		response.Anomaly = proved.Anomaly.Error()
	}
	if proved.Artifact.Receipt.Kind == proof.Groth16 {
		if response.Onchain, err = proof.EncodeOnchain(&proved.Artifact.Receipt); err != nil {
			return nil, err
		}
	}
	return response, nil
}

func (p *prover) Verify(ctx context.Context, enc []byte) (journal.StateDiff, error) {
	artifact, err := proof.DecodeArtifact(enc)
	if err != nil {
		return nil, err
	}
	return p.verifier.Verify(ctx, artifact)
}

func (p *prover) hostRunning() bool {
	return p.remote != nil && p.remote.Running()
}

func (p *prover) Close() {
	p.service.Close()
	p.client.Close()
}
