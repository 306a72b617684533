package types

import (
	"errors"
	"fmt"
	"time"

	tmbytes "github.com/roundstep/roundstep/libs/bytes"
)

var (
	ErrProposalSignature = errors.New("error invalid proposal signature")
	ErrProposalRound     = errors.New("error invalid proposal round")
)

// Proposal defines a block proposal for the consensus. It must be signed by
// the correct proposer for the given (height, round) to be considered valid.
// If POLRound >= 0, the proposal re-proposes a block that obtained a 2/3+
// prevote quorum (a proof-of-lock) in POLRound at the same height.
type Proposal struct {
	Type      SignedMsgType    `json:"type"`
	Height    int64            `json:"height,string"`
	Round     int32            `json:"round"`
	POLRound  int32            `json:"pol_round"` // -1 if no proof-of-lock
	BlockID   BlockID          `json:"block_id"`
	Timestamp time.Time        `json:"timestamp"`
	Signature tmbytes.HexBytes `json:"signature"`
}

// NewProposal returns a new Proposal referencing the given block.
func NewProposal(height int64, round int32, polRound int32, blockID BlockID, ts time.Time) *Proposal {
	return &Proposal{
		Type:      ProposalType,
		Height:    height,
		Round:     round,
		POLRound:  polRound,
		BlockID:   blockID,
		Timestamp: ts,
	}
}

// SignBytes returns the canonical bytes the proposer signs over.
func (p *Proposal) SignBytes(chainID string) []byte {
	return marshalCanonical(CanonicalizeProposal(chainID, p))
}

// ValidateBasic performs basic validation.
func (p *Proposal) ValidateBasic() error {
	if p.Type != ProposalType {
		return errors.New("invalid Type")
	}
	if p.Height <= 0 {
		return errors.New("non-positive Height")
	}
	if p.Round < 0 {
		return errors.New("negative Round")
	}
	if p.POLRound < -1 {
		return errors.New("negative POLRound (exception: -1)")
	}
	if p.POLRound >= p.Round {
		return errors.New("POLRound >= Round")
	}
	if err := p.BlockID.ValidateBasic(); err != nil {
		return fmt.Errorf("wrong BlockID: %w", err)
	}
	// ValidateBasic above would pass even if the BlockID was empty:
	if !p.BlockID.IsComplete() {
		return fmt.Errorf("expected a complete, non-empty BlockID, got: %v", p.BlockID)
	}
	if len(p.Signature) == 0 {
		return errors.New("signature is missing")
	}
	if len(p.Signature) > MaxSignatureSize {
		return fmt.Errorf("signature is too big (max: %d)", MaxSignatureSize)
	}
	return nil
}

// String returns a string representation of the Proposal.
//
// 1. height
// 2. round
// 3. block ID
// 4. POL round
// 5. first 6 bytes of signature
// 6. timestamp
func (p *Proposal) String() string {
	return fmt.Sprintf("Proposal{%v/%v (%v, %v) %X @ %s}",
		p.Height,
		p.Round,
		p.BlockID,
		p.POLRound,
		tmbytes.Fingerprint(p.Signature),
		canonicalTime(p.Timestamp))
}
