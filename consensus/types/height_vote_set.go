package types

import (
	"fmt"
	"strings"
	"sync"

	"github.com/roundstep/roundstep/types"
)

// RoundVoteSet holds the prevotes and precommits collected for one round.
type RoundVoteSet struct {
	Prevotes   *types.VoteSet
	Precommits *types.VoteSet
}

/*
HeightVoteSet keeps track of all VoteSets from round 0 to the latest tracked
round of one height, keyed by (round, vote type).

Round advances never discard earlier rounds of the same height: a late 2/3+
prevote quorum in an old round can still justify re-proposing a block, and
POLInfo scans rounds newest-first for exactly that. The whole structure is
released when the height advances, which bounds memory to a single height
(plus the LastCommit the engine keeps separately for proposing).
*/
type HeightVoteSet struct {
	chainID string
	height  int64
	valSet  *types.ValidatorSet

	mtx           sync.Mutex
	round         int32                  // max tracked round
	roundVoteSets map[int32]RoundVoteSet // keys: [0...round]
}

// NewHeightVoteSet returns a HeightVoteSet tracking round 0 of the given
// height.
func NewHeightVoteSet(chainID string, height int64, valSet *types.ValidatorSet) *HeightVoteSet {
	hvs := &HeightVoteSet{
		chainID:       chainID,
		height:        height,
		valSet:        valSet,
		roundVoteSets: make(map[int32]RoundVoteSet),
	}
	hvs.addRound(0)
	hvs.round = 0
	return hvs
}

// Height returns the height the vote sets belong to.
func (hvs *HeightVoteSet) Height() int64 {
	hvs.mtx.Lock()
	defer hvs.mtx.Unlock()
	return hvs.height
}

// Round returns the highest tracked round.
func (hvs *HeightVoteSet) Round() int32 {
	hvs.mtx.Lock()
	defer hvs.mtx.Unlock()
	return hvs.round
}

// SetRound creates vote sets for all rounds up to and including round. The
// engine calls this with round+1 on every round transition so votes for the
// next round are never dropped on the floor.
func (hvs *HeightVoteSet) SetRound(round int32) {
	hvs.mtx.Lock()
	defer hvs.mtx.Unlock()
	if round < hvs.round {
		panic("SetRound() must increment hvs.round")
	}
	for r := hvs.round + 1; r <= round; r++ {
		hvs.addRound(r)
	}
	hvs.round = round
}

func (hvs *HeightVoteSet) addRound(round int32) {
	if _, ok := hvs.roundVoteSets[round]; ok {
		panic("addRound() for an existing round")
	}
	prevotes := types.NewVoteSet(hvs.chainID, hvs.height, round, types.PrevoteType, hvs.valSet)
	precommits := types.NewVoteSet(hvs.chainID, hvs.height, round, types.PrecommitType, hvs.valSet)
	hvs.roundVoteSets[round] = RoundVoteSet{
		Prevotes:   prevotes,
		Precommits: precommits,
	}
}

// AddVote routes the vote to the vote set for its (round, type). Votes for
// rounds the set does not track (more than one round ahead) are rejected
// with types.ErrVoteUnexpectedStep.
func (hvs *HeightVoteSet) AddVote(vote *types.Vote) (types.AddVoteResult, error) {
	hvs.mtx.Lock()
	defer hvs.mtx.Unlock()
	if !types.IsVoteTypeValid(vote.Type) {
		return types.VoteRejected, fmt.Errorf("invalid vote type %v: %w",
			vote.Type, types.ErrVoteUnexpectedStep)
	}
	voteSet := hvs.getVoteSet(vote.Round, vote.Type)
	if voteSet == nil {
		return types.VoteRejected, fmt.Errorf("no vote set for round %d (tracking 0..%d): %w",
			vote.Round, hvs.round, types.ErrVoteUnexpectedStep)
	}
	return voteSet.AddVote(vote)
}

// Prevotes returns the prevote set for the given round, or nil if untracked.
func (hvs *HeightVoteSet) Prevotes(round int32) *types.VoteSet {
	hvs.mtx.Lock()
	defer hvs.mtx.Unlock()
	return hvs.getVoteSet(round, types.PrevoteType)
}

// Precommits returns the precommit set for the given round, or nil if
// untracked.
func (hvs *HeightVoteSet) Precommits(round int32) *types.VoteSet {
	hvs.mtx.Lock()
	defer hvs.mtx.Unlock()
	return hvs.getVoteSet(round, types.PrecommitType)
}

// POLInfo returns the last round and block id for which there is a 2/3+
// prevote majority for a non-nil block, scanning newest round first.
// Returns (-1, zero BlockID) if no such quorum exists at this height.
func (hvs *HeightVoteSet) POLInfo() (polRound int32, polBlockID types.BlockID) {
	hvs.mtx.Lock()
	defer hvs.mtx.Unlock()
	for r := hvs.round; r >= 0; r-- {
		rvs := hvs.getVoteSet(r, types.PrevoteType)
		polBlockID, ok := rvs.TwoThirdsMajority()
		if ok && !polBlockID.IsNil() {
			return r, polBlockID
		}
	}
	return -1, types.BlockID{}
}

func (hvs *HeightVoteSet) getVoteSet(round int32, voteType types.SignedMsgType) *types.VoteSet {
	rvs, ok := hvs.roundVoteSets[round]
	if !ok {
		return nil
	}
	switch voteType {
	case types.PrevoteType:
		return rvs.Prevotes
	case types.PrecommitType:
		return rvs.Precommits
	default:
		panic(fmt.Sprintf("Unexpected vote type %X", voteType))
	}
}

func (hvs *HeightVoteSet) String() string {
	return hvs.StringIndented("")
}

// StringIndented returns an indented String.
func (hvs *HeightVoteSet) StringIndented(indent string) string {
	hvs.mtx.Lock()
	defer hvs.mtx.Unlock()
	vsStrings := make([]string, 0, (len(hvs.roundVoteSets)+1)*2)
	// rounds 0 ~ hvs.round inclusive
	for round := int32(0); round <= hvs.round; round++ {
		voteSetString := hvs.roundVoteSets[round].Prevotes.StringShort()
		vsStrings = append(vsStrings, voteSetString)
		voteSetString = hvs.roundVoteSets[round].Precommits.StringShort()
		vsStrings = append(vsStrings, voteSetString)
	}
	return fmt.Sprintf(`HeightVoteSet{H:%v R:0~%v
%s  %v
%s}`,
		hvs.height, hvs.round,
		indent, strings.Join(vsStrings, "\n"+indent+"  "),
		indent)
}
