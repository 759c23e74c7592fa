package main

import (
	"time"

	"github.com/urfave/cli"
)

var (
	LogLevel = cli.StringFlag{
		Name:   "log.level",
		Usage:  "trace, debug, info, warn, error or crit",
		Value:  "info",
		EnvVar: "LOG_LEVEL",
	}
	LogFormat = cli.StringFlag{
		Name:   "log.format",
		Usage:  "terminal or json",
		Value:  "terminal",
		EnvVar: "LOG_FORMAT",
	}
	LogFile = cli.StringFlag{
		Name:   "log.file",
		Usage:  "Also write the log to this file, rotated",
		EnvVar: "LOG_FILE",
	}
)

var (
	RpcUrl = cli.StringFlag{
		Name:   "rpc.url",
		Usage:  "JSON-RPC endpoint of the chain node",
		Value:  "http://localhost:8545",
		EnvVar: "RPC_URL",
	}
	BlockNumber = cli.Uint64Flag{
		Name:   "block",
		Usage:  "Block to replay the call at, 0 for the latest",
		EnvVar: "BLOCK_NUMBER",
	}
	BytecodeFile = cli.StringFlag{
		Name:   "bytecode",
		Usage:  "File holding the contract bytecode, hex or raw",
		EnvVar: "BYTECODE_FILE",
	}
	InitialBalance = cli.StringFlag{
		Name:   "initial-balance",
		Usage:  "Wei balance of the contract before the call, decimal or 0x hex",
		Value:  "0",
		EnvVar: "INITIAL_BALANCE",
	}
	Author = cli.StringFlag{
		Name:   "author",
		Usage:  "Address the proof is attributed to",
		EnvVar: "AUTHOR",
	}
	ExecuteOnly = cli.BoolFlag{
		Name:   "execute-only",
		Usage:  "Run the guest without proving and print its journal",
		EnvVar: "EXECUTE_ONLY",
	}
	OutputFile = cli.StringFlag{
		Name:   "output",
		Usage:  "File the proof artifact is written to",
		Value:  "proof.bin",
		EnvVar: "OUTPUT_FILE",
	}
	ArtifactFile = cli.StringFlag{
		Name:   "artifact",
		Usage:  "Proof artifact to verify",
		Value:  "proof.bin",
		EnvVar: "ARTIFACT_FILE",
	}
	ImageId = cli.StringFlag{
		Name:   "image-id",
		Usage:  "Expected image id in hex, must match the guest binary when set",
		EnvVar: "IMAGE_ID",
	}
)

var (
	GuestPath = cli.StringFlag{
		Name:   "guest.path",
		Usage:  "Guest program binary",
		Value:  "./guest/exploit",
		EnvVar: "GUEST_PATH",
	}
	CertGuestPath = cli.StringFlag{
		Name:   "guest.cert-path",
		Usage:  "Certificate guest program binary",
		Value:  "./guest/cert",
		EnvVar: "CERT_GUEST_PATH",
	}
	ProverPath = cli.StringFlag{
		Name:   "prover.path",
		Usage:  "Executable that executes, proves and verifies guest programs locally",
		Value:  "prover",
		EnvVar: "PROVER_PATH",
	}
	ProverBackend = cli.StringFlag{
		Name:   "prover.backend",
		Usage:  "local or remote",
		Value:  "local",
		EnvVar: "PROVER_BACKEND",
	}
	Snark = cli.BoolFlag{
		Name:   "snark",
		Usage:  "Convert the proof into an on-chain verifiable Groth16 proof",
		EnvVar: "SNARK",
	}
	Prove = cli.BoolFlag{
		Name:   "prove",
		Usage:  "Prove remotely and print the on-chain proof",
		EnvVar: "PROVE",
	}
	CertFile = cli.StringFlag{
		Name:   "cert",
		Usage:  "Certificate file, DER or PEM",
		EnvVar: "CERT_FILE",
	}
	RemoteUrl = cli.StringFlag{
		Name:   "remote.url",
		Usage:  "Base URL of the remote proving service",
		EnvVar: "REMOTE_URL",
	}
	RemoteApiKey = cli.StringFlag{
		Name:   "remote.api-key",
		EnvVar: "REMOTE_API_KEY",
	}
	RemoteVersion = cli.StringFlag{
		Name:   "remote.version",
		Usage:  "Prover version sent to the remote proving service",
		Value:  "1.0",
		EnvVar: "REMOTE_VERSION",
	}
	RemotePollInterval = cli.DurationFlag{
		Name:   "remote.poll-interval",
		Value:  15 * time.Second,
		EnvVar: "REMOTE_POLL_INTERVAL",
	}
)

var (
	ProofBaseDir = cli.StringFlag{
		Name:   "proof.base-dir",
		Usage:  "A directory to cache generated proofs, empty to disable",
		Value:  "./proof",
		EnvVar: "PROOF_BASE_DIR",
	}
	ProofRetention = cli.DurationFlag{
		Name:   "proof.retention",
		Usage:  "Delete cached proofs older than this, 0 keeps them",
		EnvVar: "PROOF_RETENTION",
	}
	S3Bucket = cli.StringFlag{
		Name:   "s3.bucket",
		Usage:  "Cache proofs in this bucket instead of the base dir",
		EnvVar: "S3_BUCKET",
	}
	S3Prefix = cli.StringFlag{
		Name:   "s3.prefix",
		Value:  "proofs",
		EnvVar: "S3_PREFIX",
	}
	S3Endpoint = cli.StringFlag{
		Name:   "s3.endpoint",
		Usage:  "Custom S3 endpoint, path style",
		EnvVar: "S3_ENDPOINT",
	}
	AwsRegion = cli.StringFlag{
		Name:   "aws.region",
		Value:  "ap-northeast-2",
		EnvVar: "AWS_REGION",
	}
	AwsProverInstanceId = cli.StringFlag{
		Name:   "aws.prover-instance-id",
		Usage:  "EC2 instance running the proving service, started only while proving",
		EnvVar: "AWS_PROVER_INSTANCE_ID",
	}
	AwsProverAddressType = cli.StringFlag{
		Name:   "aws.prover-address-type",
		Usage:  "private or public",
		Value:  "private",
		EnvVar: "AWS_PROVER_ADDRESS_TYPE",
	}
	AwsProverPort = cli.IntFlag{
		Name:   "aws.prover-port",
		Value:  8081,
		EnvVar: "AWS_PROVER_PORT",
	}
)

var (
	JsonRpcAddr = cli.StringFlag{
		Name:   "jsonrpc.addr",
		Usage:  "JSON-RPC server listening address",
		Value:  "localhost",
		EnvVar: "JSONRPC_ADDR",
	}
	JsonRpcPort = cli.IntFlag{
		Name:   "jsonrpc.port",
		Usage:  "JSON-RPC server listening port",
		Value:  6000,
		EnvVar: "JSONRPC_PORT",
	}
)

func LogFlags() []cli.Flag {
	return []cli.Flag{LogLevel, LogFormat, LogFile}
}

func backendFlags() []cli.Flag {
	return []cli.Flag{
		GuestPath,
		ProverPath,
		ProverBackend,
		Snark,
		RemoteUrl,
		RemoteApiKey,
		RemoteVersion,
		RemotePollInterval,
		ProofBaseDir,
		ProofRetention,
		S3Bucket,
		S3Prefix,
		S3Endpoint,
		AwsRegion,
		AwsProverInstanceId,
		AwsProverAddressType,
		AwsProverPort,
	}
}

func ProveFlags() []cli.Flag {
	return append([]cli.Flag{
		RpcUrl,
		BlockNumber,
		BytecodeFile,
		InitialBalance,
		Author,
		ExecuteOnly,
		OutputFile,
	}, backendFlags()...)
}

func ServeFlags() []cli.Flag {
	return append([]cli.Flag{RpcUrl, JsonRpcAddr, JsonRpcPort}, backendFlags()...)
}

func VerifyFlags() []cli.Flag {
	return []cli.Flag{RpcUrl, ArtifactFile, ImageId, GuestPath, ProverPath}
}

func CertFlags() []cli.Flag {
	return []cli.Flag{
		CertFile,
		CertGuestPath,
		ProverPath,
		Prove,
		RemoteUrl,
		RemoteApiKey,
		RemoteVersion,
		RemotePollInterval,
		AwsRegion,
		AwsProverInstanceId,
		AwsProverAddressType,
		AwsProverPort,
	}
}
