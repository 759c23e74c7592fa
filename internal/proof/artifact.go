package proof

import (
	"io"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

// Version is written into every artifact.
const Version = "0.1.0"

// Artifact is the persisted result of one proof request.
type Artifact struct {
	Version string
	ImageID ImageID
	Chain   string
	Receipt Receipt
}

func NewArtifact(imageID ImageID, chain string, receipt *Receipt) *Artifact {
	return &Artifact{Version: Version, ImageID: imageID, Chain: chain, Receipt: *receipt}
}

func (a *Artifact) Save(w io.Writer) error {
	return errors.Wrap(rlp.Encode(w, a), "failed to encode artifact")
}

func LoadArtifact(r io.Reader) (*Artifact, error) {
	var artifact Artifact
	if err := rlp.Decode(r, &artifact); err != nil {
		return nil, errors.Wrap(err, "failed to decode artifact")
	}
	return &artifact, nil
}

func (a *Artifact) Encode() ([]byte, error) { return rlp.EncodeToBytes(a) }

func DecodeArtifact(enc []byte) (*Artifact, error) {
	var artifact Artifact
	if err := rlp.DecodeBytes(enc, &artifact); err != nil {
		return nil, errors.Wrap(err, "failed to decode artifact")
	}
	return &artifact, nil
}
