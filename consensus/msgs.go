package consensus

import (
	"errors"
	"fmt"
	"time"

	cstypes "github.com/roundstep/roundstep/consensus/types"
	"github.com/roundstep/roundstep/types"
)

// Message defines an interface that the consensus domain types implement.
// When a proposal or vote is received, it is wrapped and added to the
// engine's queue to be processed in the receive routine.
type Message interface {
	ValidateBasic() error
}

// msgInfo carries a consensus message and the id of the peer it came from.
// Internally generated messages carry an empty peer id.
type msgInfo struct {
	Msg    Message `json:"msg"`
	PeerID string  `json:"peer_id"`
}

// ProposalMessage is sent when a new block is proposed. The full block
// travels with the proposal.
type ProposalMessage struct {
	Proposal *types.Proposal
	Block    *types.Block
}

// ValidateBasic performs basic validation.
func (m *ProposalMessage) ValidateBasic() error {
	if m.Proposal == nil {
		return errors.New("nil proposal")
	}
	if err := m.Proposal.ValidateBasic(); err != nil {
		return err
	}
	if m.Block == nil {
		return errors.New("nil proposal block")
	}
	if !m.Block.HashesTo(m.Proposal.BlockID.Hash) {
		return ErrProposalBlockHashMismatch
	}
	return nil
}

// String returns a string representation.
func (m *ProposalMessage) String() string {
	return fmt.Sprintf("[Proposal %v]", m.Proposal)
}

// VoteMessage is sent when voting for a proposal (or lack thereof).
type VoteMessage struct {
	Vote *types.Vote
}

// ValidateBasic performs basic validation.
func (m *VoteMessage) ValidateBasic() error {
	if m.Vote == nil {
		return errors.New("nil vote")
	}
	return m.Vote.ValidateBasic()
}

// String returns a string representation.
func (m *VoteMessage) String() string {
	return fmt.Sprintf("[Vote %v]", m.Vote)
}

//-----------------------------------------------------------------------------

// timeoutInfo carries a scheduled timeout and the height/round/step it was
// armed for, so stale timeouts can be told apart from live ones.
type timeoutInfo struct {
	Duration time.Duration         `json:"duration"`
	Height   int64                 `json:"height,string"`
	Round    int32                 `json:"round"`
	Step     cstypes.RoundStepType `json:"step"`
}

func (ti *timeoutInfo) String() string {
	return fmt.Sprintf("%v ; %d/%d %v", ti.Duration, ti.Height, ti.Round, ti.Step)
}
