package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/roundstep/roundstep/crypto"
	tmbytes "github.com/roundstep/roundstep/libs/bytes"
)

const (
	nilVoteStr string = "nil-Vote"

	// MaxSignatureSize is a maximum allowed signature size, accommodating
	// every supported key type with some slack.
	MaxSignatureSize = 96
)

var (
	ErrVoteUnexpectedStep            = errors.New("unexpected step")
	ErrVoteInvalidValidatorIndex     = errors.New("invalid validator index")
	ErrVoteInvalidValidatorAddress   = errors.New("invalid validator address")
	ErrVoteInvalidSignature          = errors.New("invalid signature")
	ErrVoteInvalidBlockHash          = errors.New("invalid block hash")
	ErrVoteNonDeterministicSignature = errors.New("non-deterministic signature")
	ErrVoteNil                       = errors.New("nil vote")
)

// Address is hex bytes.
type Address = crypto.Address

// Vote represents a prevote or precommit from a validator for consensus at a
// given height and round.
type Vote struct {
	Type             SignedMsgType    `json:"type"`
	Height           int64            `json:"height,string"`
	Round            int32            `json:"round"`
	BlockID          BlockID          `json:"block_id"` // zero if vote is nil.
	Timestamp        time.Time        `json:"timestamp"`
	ValidatorAddress Address          `json:"validator_address"`
	ValidatorIndex   int32            `json:"validator_index"`
	Signature        tmbytes.HexBytes `json:"signature"`
}

// SignBytes returns the canonical bytes a validator signs over for this
// vote. Two nodes holding logically identical votes must produce identical
// sign bytes, so the encoding goes through the Canonical* layer.
func (vote *Vote) SignBytes(chainID string) []byte {
	return marshalCanonical(CanonicalizeVote(chainID, vote))
}

// CommitSig converts the Vote to a CommitSig.
func (vote *Vote) CommitSig() CommitSig {
	if vote == nil {
		return NewCommitSigAbsent()
	}

	var blockIDFlag BlockIDFlag
	switch {
	case vote.BlockID.IsComplete():
		blockIDFlag = BlockIDFlagCommit
	case vote.BlockID.IsNil():
		blockIDFlag = BlockIDFlagNil
	default:
		panic(fmt.Sprintf("Invalid vote %v - expected BlockID to be either empty or complete", vote))
	}

	return CommitSig{
		BlockIDFlag:      blockIDFlag,
		ValidatorAddress: vote.ValidatorAddress,
		Timestamp:        vote.Timestamp,
		Signature:        vote.Signature,
	}
}

// Copy returns a shallow copy of the vote.
func (vote *Vote) Copy() *Vote {
	voteCopy := *vote
	return &voteCopy
}

// Verify checks the vote's signature against the given public key, ensuring
// the key belongs to the validator the vote claims to come from.
func (vote *Vote) Verify(chainID string, pubKey crypto.PubKey) error {
	if !pubKey.Address().Equal(vote.ValidatorAddress) {
		return ErrVoteInvalidValidatorAddress
	}
	if !pubKey.VerifySignature(vote.SignBytes(chainID), vote.Signature) {
		return ErrVoteInvalidSignature
	}
	return nil
}

// ValidateBasic checks whether the vote is well-formed. It does not check
// signature validity against a validator set.
func (vote *Vote) ValidateBasic() error {
	if !IsVoteTypeValid(vote.Type) {
		return errors.New("invalid Type")
	}
	if vote.Height <= 0 {
		return errors.New("non-positive Height")
	}
	if vote.Round < 0 {
		return errors.New("negative Round")
	}

	// NOTE: Timestamp validation is subtle and handled by the consensus
	// engine against its own clock, not here.
	if err := vote.BlockID.ValidateBasic(); err != nil {
		return fmt.Errorf("wrong BlockID: %w", err)
	}

	// BlockID.ValidateBasic would not err if we for instance have an empty
	// hash, which would be the case for nil votes.
	if !vote.BlockID.IsNil() && !vote.BlockID.IsComplete() {
		return fmt.Errorf("blockID must be either empty or complete, got: %v", vote.BlockID)
	}

	if len(vote.ValidatorAddress) != crypto.AddressSize {
		return fmt.Errorf("expected ValidatorAddress size to be %d bytes, got %d bytes",
			crypto.AddressSize,
			len(vote.ValidatorAddress),
		)
	}
	if vote.ValidatorIndex < 0 {
		return errors.New("negative ValidatorIndex")
	}
	if len(vote.Signature) == 0 {
		return errors.New("signature is missing")
	}
	if len(vote.Signature) > MaxSignatureSize {
		return fmt.Errorf("signature is too big (max: %d)", MaxSignatureSize)
	}
	return nil
}

// String returns a string representation of Vote.
//
// 1. validator index
// 2. first 6 bytes of validator address
// 3. height
// 4. round
// 5. type
// 6. first 6 bytes of block hash
// 7. first 6 bytes of signature
// 8. timestamp
func (vote *Vote) String() string {
	if vote == nil {
		return nilVoteStr
	}

	return fmt.Sprintf("Vote{%v:%X %v/%02d/%v(%v) %X %X @ %s}",
		vote.ValidatorIndex,
		tmbytes.Fingerprint(vote.ValidatorAddress),
		vote.Height,
		vote.Round,
		vote.Type,
		vote.Type.String(),
		tmbytes.Fingerprint(vote.BlockID.Hash),
		tmbytes.Fingerprint(vote.Signature),
		canonicalTime(vote.Timestamp),
	)
}

// MarshalZerologObject formats this object for logging purposes.
func (vote *Vote) MarshalZerologObject(e *zerolog.Event) {
	if vote == nil {
		return
	}

	e.Int64("height", vote.Height)
	e.Int32("round", vote.Round)
	e.Str("type", vote.Type.String())
	e.Str("block_id", vote.BlockID.String())
	e.Str("val_address", vote.ValidatorAddress.ShortString())
	e.Int32("val_index", vote.ValidatorIndex)
}
