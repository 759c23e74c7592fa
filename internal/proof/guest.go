package proof

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"os"
	"os/exec"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
)

// ImageID is the content-derived identity of a guest program.
type ImageID [8]uint32

// ComputeImageID derives the identity from the program binary.
func ComputeImageID(elf []byte) ImageID {
	return imageIDFromBytes(sha256.Sum256(elf))
}

func imageIDFromBytes(digest [32]byte) ImageID {
	var id ImageID
	for i := range id {
		id[i] = binary.LittleEndian.Uint32(digest[4*i:])
	}
	return id
}

func (id ImageID) Bytes() []byte {
	b := make([]byte, 32)
	for i, word := range id {
		binary.LittleEndian.PutUint32(b[4*i:], word)
	}
	return b
}

func (id ImageID) String() string { return hex.EncodeToString(id.Bytes()) }

func ParseImageID(s string) (ImageID, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 32 {
		return ImageID{}, errors.Errorf("invalid image id %q", s)
	}
	var digest [32]byte
	copy(digest[:], b)
	return imageIDFromBytes(digest), nil
}

// Program is the guest computation. Execute only runs it, Prove also attests the run.
type Program interface {
	ImageID() ImageID
	Binary() []byte
	Execute(ctx context.Context, input []uint32) ([]byte, error)
	Prove(ctx context.Context, input []uint32) (*Receipt, error)
}

// EncodeInput frames payload as the word stream the guest reads: the byte length
// followed by the bytes packed little endian and zero padded.
func EncodeInput(payload []byte) []uint32 {
	words := make([]uint32, 1, 1+(len(payload)+3)/4)
	words[0] = uint32(len(payload))
	for i := 0; i < len(payload); i += 4 {
		var word [4]byte
		copy(word[:], payload[i:])
		words = append(words, binary.LittleEndian.Uint32(word[:]))
	}
	return words
}

func DecodeInput(words []uint32) ([]byte, error) {
	if len(words) == 0 {
		return nil, errors.New("empty input stream")
	}
	size := int(words[0])
	if (size+3)/4 != len(words)-1 {
		return nil, errors.Errorf("input stream of %d words cannot hold %d bytes", len(words), size)
	}
	return InputBytes(words[1:])[:size], nil
}

// InputBytes is the raw byte view of a word stream, as uploaded to a remote prover.
func InputBytes(words []uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, word := range words {
		binary.LittleEndian.PutUint32(b[4*i:], word)
	}
	return b
}

// ExecProgram runs a guest binary through an external prover executable. The prover
// reads the input from stdin and writes the journal ("execute") or the encoded
// receipt ("prove") to stdout. In "verify" mode it reads an encoded receipt and
// exits non-zero unless the seal attests the claim for the guest.
type ExecProgram struct {
	prover string
	path   string
	elf    []byte
	id     ImageID
}

func NewExecProgram(prover string, path string) (*ExecProgram, error) {
	elf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read guest program")
	}
	return &ExecProgram{prover: prover, path: path, elf: elf, id: ComputeImageID(elf)}, nil
}

func (p *ExecProgram) ImageID() ImageID { return p.id }

func (p *ExecProgram) Binary() []byte { return p.elf }

func (p *ExecProgram) Execute(ctx context.Context, input []uint32) ([]byte, error) {
	return p.run(ctx, "execute", InputBytes(input))
}

func (p *ExecProgram) Prove(ctx context.Context, input []uint32) (*Receipt, error) {
	out, err := p.run(ctx, "prove", InputBytes(input))
	if err != nil {
		return nil, err
	}
	return DecodeReceipt(out)
}

// VerifySeal makes ExecProgram the SealVerifier of its own receipts.
func (p *ExecProgram) VerifySeal(ctx context.Context, receipt *Receipt) error {
	if receipt.Claim.ImageID != p.id {
		return errors.Errorf("receipt is for image %s, guest is %s", receipt.Claim.ImageID, p.id)
	}
	enc, err := receipt.Encode()
	if err != nil {
		return errors.Wrap(err, "failed to encode receipt")
	}
	_, err = p.run(ctx, "verify", enc)
	return err
}

func (p *ExecProgram) run(ctx context.Context, mode string, stdin []byte) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.prover, mode, p.path)
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	log.Debug("running guest", "mode", mode, "image", p.id, "stdin", len(stdin))
	if err := cmd.Run(); err != nil {
		return nil, errors.Wrapf(err, "guest %s failed: %s", mode, bytes.TrimSpace(stderr.Bytes()))
	}
	return stdout.Bytes(), nil
}
