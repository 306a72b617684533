package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roundstep/roundstep/crypto"
	"github.com/roundstep/roundstep/crypto/merkle"
	tmbytes "github.com/roundstep/roundstep/libs/bytes"
)

// BlockID identifies a block by the hash of its header. A zero BlockID
// stands for "nil", i.e. a vote against any block in this round.
type BlockID struct {
	Hash tmbytes.HexBytes `json:"hash"`
}

// Equals returns true if the BlockID matches the given BlockID.
func (blockID BlockID) Equals(other BlockID) bool {
	return bytes.Equal(blockID.Hash, other.Hash)
}

// Key returns a machine-readable string representation of the BlockID,
// suitable for use as a map key.
func (blockID BlockID) Key() string {
	return string(blockID.Hash)
}

// IsNil returns true if this is the BlockID of a nil block.
func (blockID BlockID) IsNil() bool {
	return len(blockID.Hash) == 0
}

// IsComplete returns true if this is a valid BlockID of a non-nil block.
func (blockID BlockID) IsComplete() bool {
	return len(blockID.Hash) == crypto.HashSize
}

// ValidateBasic performs basic validation.
func (blockID BlockID) ValidateBasic() error {
	if err := ValidateHash(blockID.Hash); err != nil {
		return fmt.Errorf("wrong Hash: %w", err)
	}
	return nil
}

// String returns a human readable string representation of the BlockID.
func (blockID BlockID) String() string {
	if blockID.IsNil() {
		return "nil"
	}
	return blockID.Hash.String()
}

// ValidateHash returns an error if the hash is not empty, but its
// size != crypto.HashSize.
func ValidateHash(h []byte) error {
	if len(h) > 0 && len(h) != crypto.HashSize {
		return fmt.Errorf("expected size to be %d bytes, got %d bytes",
			crypto.HashSize,
			len(h),
		)
	}
	return nil
}

//-----------------------------------------------------------------------------

// Header defines the structure of a block header.
type Header struct {
	ChainID string    `json:"chain_id"`
	Height  int64     `json:"height,string"`
	Time    time.Time `json:"time"`

	// hashes of the previous block
	LastBlockID    BlockID          `json:"last_block_id"`
	LastCommitHash tmbytes.HexBytes `json:"last_commit_hash"`

	// hashes of this block's contents
	DataHash       tmbytes.HexBytes `json:"data_hash"`
	ValidatorsHash tmbytes.HexBytes `json:"validators_hash"`

	ProposerAddress crypto.Address `json:"proposer_address"`
}

// Hash returns the hash of the header, which uniquely identifies the block.
// It computes a Merkle root of the JSON encodings of the header fields.
// Returns nil if any mandatory field is unset.
func (h *Header) Hash() tmbytes.HexBytes {
	if h == nil || h.ChainID == "" || h.Height == 0 {
		return nil
	}
	fields := []interface{}{
		h.ChainID,
		h.Height,
		canonicalTime(h.Time),
		h.LastBlockID.Hash,
		h.LastCommitHash,
		h.DataHash,
		h.ValidatorsHash,
		h.ProposerAddress,
	}
	bzs := make([][]byte, len(fields))
	for i, f := range fields {
		bz, err := json.Marshal(f)
		if err != nil {
			panic(fmt.Errorf("marshaling header field %d: %w", i, err))
		}
		bzs[i] = bz
	}
	return merkle.HashFromByteSlices(bzs)
}

// ValidateBasic performs stateless validation on the header, checking only
// internal consistency.
func (h Header) ValidateBasic() error {
	if h.ChainID == "" {
		return errors.New("chain ID is empty")
	}
	if len(h.ChainID) > MaxChainIDLen {
		return fmt.Errorf("chain ID is too long; got: %d, max: %d", len(h.ChainID), MaxChainIDLen)
	}
	if h.Height <= 0 {
		return errors.New("non-positive Height")
	}
	if err := h.LastBlockID.ValidateBasic(); err != nil {
		return fmt.Errorf("wrong LastBlockID: %w", err)
	}
	if err := ValidateHash(h.LastCommitHash); err != nil {
		return fmt.Errorf("wrong LastCommitHash: %w", err)
	}
	if err := ValidateHash(h.DataHash); err != nil {
		return fmt.Errorf("wrong DataHash: %w", err)
	}
	if err := ValidateHash(h.ValidatorsHash); err != nil {
		return fmt.Errorf("wrong ValidatorsHash: %w", err)
	}
	if len(h.ProposerAddress) != crypto.AddressSize {
		return fmt.Errorf("invalid ProposerAddress length; got: %d, expected: %d",
			len(h.ProposerAddress), crypto.AddressSize)
	}
	return nil
}

//-----------------------------------------------------------------------------

// Block defines the atomic unit of the blockchain: a header, the transaction
// payload, and the commit that finalized the previous block.
type Block struct {
	Header     `json:"header"`
	Data       Txs     `json:"data"`
	LastCommit *Commit `json:"last_commit"`
}

// MakeBlock returns a new block with the given contents. The caller is
// responsible for filling in the remaining header fields before hashing.
func MakeBlock(height int64, txs Txs, lastCommit *Commit) *Block {
	return &Block{
		Header: Header{
			Height: height,
		},
		Data:       txs,
		LastCommit: lastCommit,
	}
}

// Hash computes and returns the block hash. If the block is incomplete
// (e.g. missing header fields), nil is returned.
func (b *Block) Hash() tmbytes.HexBytes {
	if b == nil {
		return nil
	}
	return b.Header.Hash()
}

// BlockID returns the BlockID identifying this block.
func (b *Block) BlockID() BlockID {
	return BlockID{Hash: b.Hash()}
}

// HashesTo is a convenience function that checks if a block hashes to the
// given argument. Returns false if the block is nil or the hash is empty.
func (b *Block) HashesTo(hash []byte) bool {
	if len(hash) == 0 {
		return false
	}
	if b == nil {
		return false
	}
	return bytes.Equal(b.Hash(), hash)
}

// ValidateBasic performs basic validation that doesn't involve state data.
// It checks the internal consistency of the block.
func (b *Block) ValidateBasic() error {
	if b == nil {
		return errors.New("nil block")
	}
	if err := b.Header.ValidateBasic(); err != nil {
		return fmt.Errorf("invalid header: %w", err)
	}

	if !bytes.Equal(b.DataHash, b.Data.Hash()) {
		return fmt.Errorf(
			"wrong Header.DataHash; expected %X, got %X",
			b.Data.Hash(), b.DataHash,
		)
	}

	// The first block has no commit to validate.
	if b.Height > 1 {
		if b.LastCommit == nil {
			return errors.New("nil LastCommit")
		}
		if err := b.LastCommit.ValidateBasic(); err != nil {
			return fmt.Errorf("wrong LastCommit: %w", err)
		}
	}
	if !bytes.Equal(b.LastCommitHash, b.LastCommit.Hash()) {
		return fmt.Errorf("wrong Header.LastCommitHash; expected %X, got %X",
			b.LastCommit.Hash(), b.LastCommitHash)
	}
	return nil
}

// String returns a one-line string fingerprint of the block.
func (b *Block) String() string {
	if b == nil {
		return "nil-Block"
	}
	return fmt.Sprintf("Block{H:%v T:%v #tx:%v %X}",
		b.Height, canonicalTime(b.Time), len(b.Data), tmbytes.Fingerprint(b.Hash()))
}

//-----------------------------------------------------------------------------

// BlockIDFlag indicates which BlockID a CommitSig endorses.
type BlockIDFlag byte

const (
	// BlockIDFlagAbsent - no vote was received from the validator.
	BlockIDFlagAbsent BlockIDFlag = iota + 1
	// BlockIDFlagCommit - the validator voted for the committed BlockID.
	BlockIDFlagCommit
	// BlockIDFlagNil - the validator voted for nil.
	BlockIDFlagNil
)

// CommitSig is a part of Commit committing to a single validator's precommit.
type CommitSig struct {
	BlockIDFlag      BlockIDFlag      `json:"block_id_flag"`
	ValidatorAddress crypto.Address   `json:"validator_address"`
	Timestamp        time.Time        `json:"timestamp"`
	Signature        tmbytes.HexBytes `json:"signature"`
}

// NewCommitSigAbsent returns a CommitSig for a validator whose precommit was
// never observed.
func NewCommitSigAbsent() CommitSig {
	return CommitSig{BlockIDFlag: BlockIDFlagAbsent}
}

// Absent returns true if the CommitSig carries no vote.
func (cs CommitSig) Absent() bool {
	return cs.BlockIDFlag == BlockIDFlagAbsent
}

// ForBlock returns true if the CommitSig endorses the committed block.
func (cs CommitSig) ForBlock() bool {
	return cs.BlockIDFlag == BlockIDFlagCommit
}

// BlockID returns the BlockID the CommitSig endorses, relative to the commit
// it belongs to.
func (cs CommitSig) BlockID(commitBlockID BlockID) BlockID {
	switch cs.BlockIDFlag {
	case BlockIDFlagCommit:
		return commitBlockID
	default:
		return BlockID{}
	}
}

// ValidateBasic performs basic validation.
func (cs CommitSig) ValidateBasic() error {
	switch cs.BlockIDFlag {
	case BlockIDFlagAbsent, BlockIDFlagCommit, BlockIDFlagNil:
	default:
		return fmt.Errorf("unknown BlockIDFlag: %v", cs.BlockIDFlag)
	}

	if cs.Absent() {
		if len(cs.ValidatorAddress) != 0 {
			return errors.New("validator address is present for absent CommitSig")
		}
		if len(cs.Signature) != 0 {
			return errors.New("signature is present for absent CommitSig")
		}
		return nil
	}

	if len(cs.ValidatorAddress) != crypto.AddressSize {
		return fmt.Errorf("expected ValidatorAddress size to be %d bytes, got %d bytes",
			crypto.AddressSize, len(cs.ValidatorAddress))
	}
	if len(cs.Signature) == 0 {
		return errors.New("signature is missing")
	}
	if len(cs.Signature) > MaxSignatureSize {
		return fmt.Errorf("signature is too big (max: %d)", MaxSignatureSize)
	}
	return nil
}

// Commit contains the precommit signatures that finalized a block. The
// signatures are ordered by the validator set that signed them.
type Commit struct {
	Height     int64       `json:"height,string"`
	Round      int32       `json:"round"`
	BlockID    BlockID     `json:"block_id"`
	Signatures []CommitSig `json:"signatures"`
}

// Hash returns the hash of the commit for inclusion in the next header.
// A nil commit hashes to the hash of an empty input.
func (commit *Commit) Hash() tmbytes.HexBytes {
	if commit == nil {
		return merkle.HashFromByteSlices(nil)
	}
	bzs := make([][]byte, len(commit.Signatures))
	for i, sig := range commit.Signatures {
		bz, err := json.Marshal(sig)
		if err != nil {
			panic(fmt.Errorf("marshaling commit signature %d: %w", i, err))
		}
		bzs[i] = bz
	}
	return merkle.HashFromByteSlices(bzs)
}

// GetVote reconstructs the precommit the validator at valIdx cast, as far
// as the commit preserves it.
func (commit *Commit) GetVote(valIdx int32) *Vote {
	commitSig := commit.Signatures[valIdx]
	return &Vote{
		Type:             PrecommitType,
		Height:           commit.Height,
		Round:            commit.Round,
		BlockID:          commitSig.BlockID(commit.BlockID),
		Timestamp:        commitSig.Timestamp,
		ValidatorAddress: commitSig.ValidatorAddress,
		ValidatorIndex:   valIdx,
		Signature:        commitSig.Signature,
	}
}

// Size returns the number of signature slots in the commit.
func (commit *Commit) Size() int {
	if commit == nil {
		return 0
	}
	return len(commit.Signatures)
}

// ValidateBasic performs basic validation that doesn't involve state data.
// Does not actually check the cryptographic signatures.
func (commit *Commit) ValidateBasic() error {
	if commit.Height < 0 {
		return errors.New("negative Height")
	}
	if commit.Round < 0 {
		return errors.New("negative Round")
	}
	if commit.Height >= 1 {
		if commit.BlockID.IsNil() {
			return errors.New("commit cannot be for nil block")
		}
		if len(commit.Signatures) == 0 {
			return errors.New("no signatures in commit")
		}
		for i, commitSig := range commit.Signatures {
			if err := commitSig.ValidateBasic(); err != nil {
				return fmt.Errorf("wrong CommitSig #%d: %w", i, err)
			}
		}
	}
	return nil
}

// String returns a one-line string fingerprint of the commit.
func (commit *Commit) String() string {
	if commit == nil {
		return "nil-Commit"
	}
	return fmt.Sprintf("Commit{H:%v R:%v BlockID:%v #sigs:%v}",
		commit.Height, commit.Round, commit.BlockID, len(commit.Signatures))
}
