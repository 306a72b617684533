package types

import (
	"fmt"
	"time"

	"github.com/roundstep/roundstep/types"
)

//-----------------------------------------------------------------------------
// RoundStepType enum type

// RoundStepType enumerates the state of the consensus state machine.
type RoundStepType uint8 // These must be numeric, ordered.

// RoundStepType
const (
	RoundStepNewHeight     = RoundStepType(0x01) // Wait til CommitTime + timeoutCommit
	RoundStepNewRound      = RoundStepType(0x02) // Setup new round and go to RoundStepPropose
	RoundStepPropose       = RoundStepType(0x03) // Did propose, gossip proposal
	RoundStepPrevote       = RoundStepType(0x04) // Did prevote, gossip prevotes
	RoundStepPrevoteWait   = RoundStepType(0x05) // Did receive any +2/3 prevotes, start timeout
	RoundStepPrecommit     = RoundStepType(0x06) // Did precommit, gossip precommits
	RoundStepPrecommitWait = RoundStepType(0x07) // Did receive any +2/3 precommits, start timeout
	RoundStepCommit        = RoundStepType(0x08) // Entered commit state machine
	// NOTE: RoundStepNewHeight acts as RoundStepCommitWait.

	// NOTE: Update IsValid method if you change this!
)

// IsValid returns true if the step is valid, false if unknown/undefined.
func (rs RoundStepType) IsValid() bool {
	return uint8(rs) >= 0x01 && uint8(rs) <= 0x08
}

// String returns a string
func (rs RoundStepType) String() string {
	switch rs {
	case RoundStepNewHeight:
		return "NewHeight"
	case RoundStepNewRound:
		return "NewRound"
	case RoundStepPropose:
		return "Propose"
	case RoundStepPrevote:
		return "Prevote"
	case RoundStepPrevoteWait:
		return "PrevoteWait"
	case RoundStepPrecommit:
		return "Precommit"
	case RoundStepPrecommitWait:
		return "PrecommitWait"
	case RoundStepCommit:
		return "Commit"
	default:
		return "RoundStepUnknown" // Cannot panic.
	}
}

//-----------------------------------------------------------------------------

// RoundState defines the internal consensus state. NOTE: Not thread safe.
// The engine's receive routine is the single writer; everything here is
// read-modified only from that goroutine.
//
// Locking semantics (the Tendermint rule): once this node precommits a
// non-nil block, LockedBlock binds it to that block for all later rounds of
// the same height. The lock is replaced only when a later round produces a
// 2/3+ prevote quorum for a different block, and cleared only when the
// height advances. ValidBlock tracks the most recent block known to have a
// prevote quorum, whether or not this node is locked on it; the proposer
// re-proposes it in later rounds.
type RoundState struct {
	Height    int64         `json:"height,string"` // Height we are working on
	Round     int32         `json:"round"`
	Step      RoundStepType `json:"step"`
	StartTime time.Time     `json:"start_time"`

	// Subjective time when +2/3 precommits for Block at Round were found
	CommitTime time.Time           `json:"commit_time"`
	Validators *types.ValidatorSet `json:"validators"`
	Proposal   *types.Proposal     `json:"proposal"`

	ProposalBlock *types.Block `json:"proposal_block"`

	// Last known round with POL for non-nil valid block.
	LockedRound int32        `json:"locked_round"`
	LockedBlock *types.Block `json:"locked_block"`

	// Last known block of POL mentioned above.
	ValidRound int32        `json:"valid_round"`
	ValidBlock *types.Block `json:"valid_block"`

	Votes       *HeightVoteSet `json:"votes"`
	CommitRound int32          `json:"commit_round"`
	LastCommit  *types.VoteSet `json:"last_commit"` // Last precommits at Height-1
}

// RoundStateEvent returns the H/R/S of the RoundState as an event.
func (rs *RoundState) RoundStateEvent() types.EventDataRoundState {
	return types.EventDataRoundState{
		Height: rs.Height,
		Round:  rs.Round,
		Step:   rs.Step.String(),
	}
}

// NewRoundEvent returns the RoundState with proposer information as an event.
func (rs *RoundState) NewRoundEvent() types.EventDataNewRound {
	proposer := rs.Validators.Proposer(rs.Height, rs.Round)
	idx, _ := rs.Validators.GetByAddress(proposer.Address)

	return types.EventDataNewRound{
		Height: rs.Height,
		Round:  rs.Round,
		Step:   rs.Step.String(),
		Proposer: types.ValidatorInfo{
			Address: proposer.Address,
			Index:   idx,
			Power:   proposer.VotingPower,
		},
	}
}

// CompleteProposalEvent returns information about a received proposal as an
// event.
func (rs *RoundState) CompleteProposalEvent() types.EventDataCompleteProposal {
	// We must construct BlockID from ProposalBlock and not use Proposal,
	// because Proposal is defined by the proposer.
	blockID := rs.ProposalBlock.BlockID()

	return types.EventDataCompleteProposal{
		Height:  rs.Height,
		Round:   rs.Round,
		Step:    rs.Step.String(),
		BlockID: blockID,
	}
}

// String returns a string
func (rs *RoundState) String() string {
	return fmt.Sprintf("RoundState{H:%v R:%v S:%v}", rs.Height, rs.Round, rs.Step)
}
