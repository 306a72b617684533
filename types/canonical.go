package types

import (
	"encoding/json"
	"fmt"
	"time"

	tmbytes "github.com/roundstep/roundstep/libs/bytes"
)

// TimeFormat is the canonical textual encoding of timestamps inside signed
// messages. All nodes must produce byte-identical sign bytes for logically
// identical votes and proposals, so timestamps are rendered in UTC with
// nanosecond precision before signing.
const TimeFormat = time.RFC3339Nano

// Canonical* wrap the signable fields of votes and proposals for signing.
// Fields are declared in alphabetical order; encoding/json emits struct
// fields in declaration order, which fixes the byte layout. Every message
// embeds the chain ID so a signature can never be replayed on another chain.

type CanonicalBlockID struct {
	Hash tmbytes.HexBytes `json:"hash,omitempty"`
}

type CanonicalVote struct {
	BlockID   CanonicalBlockID `json:"block_id"`
	ChainID   string           `json:"chain_id"`
	Height    int64            `json:"height,string"`
	Round     int32            `json:"round"`
	Timestamp string           `json:"timestamp"`
	Type      SignedMsgType    `json:"type"`
}

type CanonicalProposal struct {
	BlockID   CanonicalBlockID `json:"block_id"`
	ChainID   string           `json:"chain_id"`
	Height    int64            `json:"height,string"`
	POLRound  int32            `json:"pol_round"`
	Round     int32            `json:"round"`
	Timestamp string           `json:"timestamp"`
	Type      SignedMsgType    `json:"type"`
}

// CanonicalizeBlockID returns the canonical form of the given BlockID.
func CanonicalizeBlockID(blockID BlockID) CanonicalBlockID {
	return CanonicalBlockID{Hash: blockID.Hash}
}

// CanonicalizeVote returns the canonical, signable form of the given vote.
func CanonicalizeVote(chainID string, vote *Vote) CanonicalVote {
	return CanonicalVote{
		BlockID:   CanonicalizeBlockID(vote.BlockID),
		ChainID:   chainID,
		Height:    vote.Height,
		Round:     vote.Round,
		Timestamp: canonicalTime(vote.Timestamp),
		Type:      vote.Type,
	}
}

// CanonicalizeProposal returns the canonical, signable form of the given
// proposal.
func CanonicalizeProposal(chainID string, proposal *Proposal) CanonicalProposal {
	return CanonicalProposal{
		BlockID:   CanonicalizeBlockID(proposal.BlockID),
		ChainID:   chainID,
		Height:    proposal.Height,
		POLRound:  proposal.POLRound,
		Round:     proposal.Round,
		Timestamp: canonicalTime(proposal.Timestamp),
		Type:      ProposalType,
	}
}

// canonicalTime encodes a time deterministically: UTC, no monotonic reading.
func canonicalTime(t time.Time) string {
	return t.Round(0).UTC().Format(TimeFormat)
}

func marshalCanonical(v interface{}) []byte {
	bz, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("marshaling canonical message: %w", err))
	}
	return bz
}
