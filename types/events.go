package types

import (
	"fmt"
)

// Event types published on the event bus by the consensus engine. Reliable
// play-by-play of the state machine, consumed by tests and the simulator's
// progress reporting.
const (
	EventNewBlockValue         = "NewBlock"
	EventNewRoundValue         = "NewRound"
	EventNewRoundStepValue     = "NewRoundStep"
	EventCompleteProposalValue = "CompleteProposal"
	EventPolkaValue            = "Polka"
	EventLockValue             = "Lock"
	EventRelockValue           = "Relock"
	EventVoteValue             = "Vote"
	EventTimeoutProposeValue   = "TimeoutPropose"
	EventTimeoutWaitValue      = "TimeoutWait"
	EventValidBlockValue       = "ValidBlock"
	EventCommitFailureValue    = "CommitFailure"
)

// EventDataNewBlock is published exactly once per height, in strictly
// increasing height order, when a block is committed.
type EventDataNewBlock struct {
	Block   *Block  `json:"block"`
	BlockID BlockID `json:"block_id"`
}

// EventDataNewRound is published when the engine enters a new round.
type EventDataNewRound struct {
	Height int64  `json:"height,string"`
	Round  int32  `json:"round"`
	Step   string `json:"step"`

	Proposer ValidatorInfo `json:"proposer"`
}

// EventDataRoundState is published with every step transition.
type EventDataRoundState struct {
	Height int64  `json:"height,string"`
	Round  int32  `json:"round"`
	Step   string `json:"step"`
}

// EventDataCompleteProposal is published when a valid proposal for the
// current round has been received in full.
type EventDataCompleteProposal struct {
	Height int64  `json:"height,string"`
	Round  int32  `json:"round"`
	Step   string `json:"step"`

	BlockID BlockID `json:"block_id"`
}

// EventDataVote is published for every vote the engine accepts, own votes
// included.
type EventDataVote struct {
	Vote *Vote
}

// EventDataCommitFailure is published when handing a committed block to the
// application fails. The failure is surfaced to the operator; the engine
// itself retries via a new round.
type EventDataCommitFailure struct {
	Height  int64   `json:"height,string"`
	Round   int32   `json:"round"`
	BlockID BlockID `json:"block_id"`
	Err     string  `json:"err"`
}

// ValidatorInfo identifies a validator in event payloads.
type ValidatorInfo struct {
	Address Address `json:"address"`
	Index   int32   `json:"index"`
	Power   int64   `json:"power,string"`
}

func (v ValidatorInfo) String() string {
	return fmt.Sprintf("ValidatorInfo{%v P:%v}", v.Address.ShortString(), v.Power)
}
