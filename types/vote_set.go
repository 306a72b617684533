package types

import (
	"fmt"
	"strings"
	"sync"

	tmmath "github.com/roundstep/roundstep/libs/math"
)

// AddVoteResult reports the effect of VoteSet.AddVote.
type AddVoteResult byte

const (
	// VoteRejected - the vote was not stored: it failed validation or is an
	// exact duplicate of a vote already held.
	VoteRejected AddVoteResult = iota
	// VoteAdded - the first vote from this validator for this (height,
	// round, type) was stored.
	VoteAdded
	// VoteReplaced - a later vote from the same validator replaced an
	// earlier one for the same (height, round, type). Arrival order is
	// authoritative; the earlier vote's power was released before the new
	// vote's power was counted.
	VoteReplaced
)

func (r AddVoteResult) String() string {
	switch r {
	case VoteAdded:
		return "added"
	case VoteReplaced:
		return "replaced"
	default:
		return "rejected"
	}
}

/*
VoteSet collects the votes of one type (prevote or precommit) for one
(height, round) from the validators of a single validator set.

Vote accounting is by voting power, never by raw vote count, and is tracked
per candidate block: a 2/3+ majority exists only when the power behind one
specific block id (or nil) strictly exceeds two thirds of the set's total
power. Quorum is therefore a commutative aggregate - the order in which votes
arrive can never change the outcome for a fixed set of votes.

Exactly one effective vote is counted per validator. A later arrival from the
same validator for a different block replaces the earlier vote; the power
moves with it, so nothing is ever double counted.

It is safe for concurrent use.
*/
type VoteSet struct {
	chainID       string
	height        int64
	round         int32
	signedMsgType SignedMsgType
	valSet        *ValidatorSet

	mtx          sync.Mutex
	votes        []*Vote          // indexed by valIndex; nil until a vote arrives
	sum          int64            // power of all stored votes, regardless of block
	votesByBlock map[string]int64 // block key -> accumulated power
	maj23        *BlockID         // first block to strictly exceed 2/3 of total power
}

// NewVoteSet constructs a new VoteSet. Panics if the validator set is empty
// or the vote type is not Prevote or Precommit.
func NewVoteSet(chainID string, height int64, round int32,
	signedMsgType SignedMsgType, valSet *ValidatorSet) *VoteSet {
	if height == 0 {
		panic("Cannot make VoteSet for height == 0, doesn't make sense.")
	}
	if !IsVoteTypeValid(signedMsgType) {
		panic(fmt.Sprintf("Invalid vote type %v for VoteSet", signedMsgType))
	}
	return &VoteSet{
		chainID:       chainID,
		height:        height,
		round:         round,
		signedMsgType: signedMsgType,
		valSet:        valSet,
		votes:         make([]*Vote, valSet.Size()),
		sum:           0,
		votesByBlock:  make(map[string]int64, valSet.Size()),
	}
}

// ChainID returns the chain the votes belong to.
func (voteSet *VoteSet) ChainID() string { return voteSet.chainID }

// GetHeight returns the height the votes belong to.
func (voteSet *VoteSet) GetHeight() int64 {
	if voteSet == nil {
		return 0
	}
	return voteSet.height
}

// GetRound returns the round the votes belong to.
func (voteSet *VoteSet) GetRound() int32 {
	if voteSet == nil {
		return -1
	}
	return voteSet.round
}

// Type returns the vote type collected by this set.
func (voteSet *VoteSet) Type() byte {
	if voteSet == nil {
		return 0x00
	}
	return byte(voteSet.signedMsgType)
}

// Size returns the number of validators in the underlying validator set.
func (voteSet *VoteSet) Size() int {
	if voteSet == nil {
		return 0
	}
	return voteSet.valSet.Size()
}

// AddVote validates the vote and stores it, reporting whether it was added
// fresh, replaced an earlier vote from the same validator, or was rejected.
// A non-nil error accompanies VoteRejected except for the benign case of an
// exact duplicate, which is rejected silently.
//
// Rejection reasons:
//   - ErrVoteNil, ErrVoteUnexpectedStep (wrong height/round/type)
//   - ErrVoteInvalidValidatorIndex, ErrVoteInvalidValidatorAddress
//     (signer is not a member of the validator set)
//   - ErrVoteInvalidSignature
func (voteSet *VoteSet) AddVote(vote *Vote) (AddVoteResult, error) {
	if voteSet == nil {
		panic("AddVote() on nil VoteSet")
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()

	if vote == nil {
		return VoteRejected, ErrVoteNil
	}
	valIndex := vote.ValidatorIndex
	valAddr := vote.ValidatorAddress
	blockKey := vote.BlockID.Key()

	// Ensure that validator index was set
	if valIndex < 0 {
		return VoteRejected, fmt.Errorf("index < 0: %w", ErrVoteInvalidValidatorIndex)
	} else if len(valAddr) == 0 {
		return VoteRejected, fmt.Errorf("empty address: %w", ErrVoteInvalidValidatorAddress)
	}

	// Make sure the step matches.
	if (vote.Height != voteSet.height) ||
		(vote.Round != voteSet.round) ||
		(vote.Type != voteSet.signedMsgType) {
		return VoteRejected, fmt.Errorf("expected %d/%d/%d, but got %d/%d/%d: %w",
			voteSet.height, voteSet.round, voteSet.signedMsgType,
			vote.Height, vote.Round, vote.Type, ErrVoteUnexpectedStep)
	}

	// Ensure that signer is a validator.
	lookupIndex, val := voteSet.valSet.GetByAddress(valAddr)
	if val == nil {
		return VoteRejected, fmt.Errorf(
			"cannot find validator %X in valSet of size %d: %w",
			valAddr, voteSet.valSet.Size(), ErrVoteInvalidValidatorAddress)
	}
	// Ensure that the signer has the right index.
	if valIndex != lookupIndex {
		return VoteRejected, fmt.Errorf(
			"vote.ValidatorIndex (%d) does not match the index of validator %X (%d): %w",
			valIndex, valAddr, lookupIndex, ErrVoteInvalidValidatorIndex)
	}

	// Check signature.
	if err := vote.Verify(voteSet.chainID, val.PubKey); err != nil {
		return VoteRejected, fmt.Errorf("failed to verify vote with ChainID %s and PubKey %s: %w",
			voteSet.chainID, val.PubKey, err)
	}

	existing := voteSet.votes[valIndex]
	if existing != nil {
		if existing.BlockID.Equals(vote.BlockID) {
			// Exact re-delivery; nothing to do.
			return VoteRejected, nil
		}
		// Last write wins: release the earlier vote's power, then count the
		// new vote.
		voteSet.votesByBlock[existing.BlockID.Key()] -= val.VotingPower
		if voteSet.votesByBlock[existing.BlockID.Key()] == 0 {
			delete(voteSet.votesByBlock, existing.BlockID.Key())
		}
		voteSet.votes[valIndex] = vote
		voteSet.votesByBlock[blockKey] += val.VotingPower
		voteSet.rescanMaj23()
		return VoteReplaced, nil
	}

	voteSet.votes[valIndex] = vote
	voteSet.sum = tmmath.SafeAddClipInt64(voteSet.sum, val.VotingPower)
	voteSet.votesByBlock[blockKey] += val.VotingPower
	if voteSet.maj23 == nil && voteSet.valSet.HasQuorum(voteSet.votesByBlock[blockKey]) {
		maj23BlockID := vote.BlockID
		voteSet.maj23 = &maj23BlockID
	}
	return VoteAdded, nil
}

// rescanMaj23 recomputes the 2/3+ majority block after a replacement moved
// power between blocks. At most one block can hold a strict 2/3+ majority at
// any instant, so the scan is unambiguous.
func (voteSet *VoteSet) rescanMaj23() {
	voteSet.maj23 = nil
	for blockKey, power := range voteSet.votesByBlock {
		if voteSet.valSet.HasQuorum(power) {
			blockID := BlockID{}
			if blockKey != "" {
				blockID = BlockID{Hash: []byte(blockKey)}
			}
			voteSet.maj23 = &blockID
			return
		}
	}
}

// GetByIndex returns the vote stored for the validator with this index, or
// nil if none. Panics if the index is out of range.
func (voteSet *VoteSet) GetByIndex(valIndex int32) *Vote {
	if voteSet == nil {
		return nil
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	return voteSet.votes[valIndex]
}

// GetByAddress returns the vote stored for the validator with this address,
// or nil if none.
func (voteSet *VoteSet) GetByAddress(address []byte) *Vote {
	if voteSet == nil {
		return nil
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	valIndex, val := voteSet.valSet.GetByAddress(address)
	if val == nil {
		return nil
	}
	return voteSet.votes[valIndex]
}

// List returns a copy of the list of votes stored by the VoteSet, in
// validator index order.
func (voteSet *VoteSet) List() []Vote {
	if voteSet == nil {
		return nil
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	votes := make([]Vote, 0, len(voteSet.votes))
	for _, vote := range voteSet.votes {
		if vote != nil {
			votes = append(votes, *vote)
		}
	}
	return votes
}

// Count returns the number of distinct validators whose votes are stored.
func (voteSet *VoteSet) Count() int {
	if voteSet == nil {
		return 0
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	n := 0
	for _, vote := range voteSet.votes {
		if vote != nil {
			n++
		}
	}
	return n
}

// PowerForBlock returns the accumulated voting power behind the given block
// id (use an empty BlockID for nil votes).
func (voteSet *VoteSet) PowerForBlock(blockID BlockID) int64 {
	if voteSet == nil {
		return 0
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	return voteSet.votesByBlock[blockID.Key()]
}

// HasTwoThirdsMajority reports whether some single block id (possibly nil)
// holds a strict 2/3+ majority of the total voting power.
func (voteSet *VoteSet) HasTwoThirdsMajority() bool {
	if voteSet == nil {
		return false
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	return voteSet.maj23 != nil
}

// HasTwoThirdsAny reports whether the combined power of all stored votes,
// regardless of block, exceeds 2/3 of the total. Used only to arm the
// prevote/precommit wait timeouts; never as a commit condition.
func (voteSet *VoteSet) HasTwoThirdsAny() bool {
	if voteSet == nil {
		return false
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	return voteSet.valSet.HasQuorum(voteSet.sum)
}

// HasAll returns true if the set holds a vote from every validator.
func (voteSet *VoteSet) HasAll() bool {
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	return voteSet.sum == voteSet.valSet.TotalVotingPower()
}

// TwoThirdsMajority returns the block id that holds a strict 2/3+ majority,
// if one exists. The returned BlockID may be the nil block (empty hash).
func (voteSet *VoteSet) TwoThirdsMajority() (blockID BlockID, ok bool) {
	if voteSet == nil {
		return BlockID{}, false
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	if voteSet.maj23 != nil {
		return *voteSet.maj23, true
	}
	return BlockID{}, false
}

//--------------------------------------------------------------------------------
// Commit

// MakeCommit constructs a Commit from the VoteSet. Panics if the vote type
// is not PrecommitType or if there's no 2/3+ majority for a single non-nil
// block.
func (voteSet *VoteSet) MakeCommit() *Commit {
	if voteSet.signedMsgType != PrecommitType {
		panic("Cannot MakeCommit() unless VoteSet.Type is PrecommitType")
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()

	// Make sure we have a 2/3 majority
	if voteSet.maj23 == nil || voteSet.maj23.IsNil() {
		panic("Cannot MakeCommit() unless a blockhash has +2/3")
	}

	// For every validator, get the precommit
	commitSigs := make([]CommitSig, len(voteSet.votes))
	for i, v := range voteSet.votes {
		commitSig := v.CommitSig()
		// if block ID exists but doesn't match, exclude sig
		if commitSig.ForBlock() && !v.BlockID.Equals(*voteSet.maj23) {
			commitSig = NewCommitSigAbsent()
		}
		commitSigs[i] = commitSig
	}

	return &Commit{
		Height:     voteSet.height,
		Round:      voteSet.round,
		BlockID:    *voteSet.maj23,
		Signatures: commitSigs,
	}
}

// CommitToVoteSet reconstructs the VoteSet a Commit was made from, given the
// validator set that signed it. Absent signatures leave empty slots. Panics
// if any present signature fails verification, which indicates a corrupt
// commit.
func CommitToVoteSet(chainID string, commit *Commit, vals *ValidatorSet) *VoteSet {
	voteSet := NewVoteSet(chainID, commit.Height, commit.Round, PrecommitType, vals)
	for idx, commitSig := range commit.Signatures {
		if commitSig.Absent() {
			continue // OK, some precommits can be missing.
		}
		vote := &Vote{
			Type:             PrecommitType,
			Height:           commit.Height,
			Round:            commit.Round,
			BlockID:          commitSig.BlockID(commit.BlockID),
			Timestamp:        commitSig.Timestamp,
			ValidatorAddress: commitSig.ValidatorAddress,
			ValidatorIndex:   int32(idx),
			Signature:        commitSig.Signature,
		}
		result, err := voteSet.AddVote(vote)
		if err != nil {
			panic(fmt.Errorf("failed to reconstruct vote set from commit: %w", err))
		}
		if result != VoteAdded {
			panic(fmt.Errorf("failed to reconstruct vote set from commit: vote %v not added", vote))
		}
	}
	return voteSet
}

//--------------------------------------------------------------------------------
// Strings

func (voteSet *VoteSet) String() string {
	if voteSet == nil {
		return "nil-VoteSet"
	}
	return voteSet.StringIndented("")
}

// StringIndented returns an indented String.
func (voteSet *VoteSet) StringIndented(indent string) string {
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()

	voteStrings := make([]string, len(voteSet.votes))
	for i, vote := range voteSet.votes {
		if vote == nil {
			voteStrings[i] = nilVoteStr
		} else {
			voteStrings[i] = vote.String()
		}
	}
	return fmt.Sprintf(`VoteSet{
%s  H:%v R:%v T:%v
%s  %v
%s}`,
		indent, voteSet.height, voteSet.round, voteSet.signedMsgType,
		indent, strings.Join(voteStrings, "\n"+indent+"  "),
		indent)
}

// StringShort returns a short summary for logging.
func (voteSet *VoteSet) StringShort() string {
	if voteSet == nil {
		return "nil-VoteSet"
	}
	voteSet.mtx.Lock()
	defer voteSet.mtx.Unlock()
	return fmt.Sprintf(`VoteSet{H:%v R:%v T:%v +2/3:%v %v/%v}`,
		voteSet.height, voteSet.round, voteSet.signedMsgType,
		voteSet.maj23, voteSet.sum, voteSet.valSet.TotalVotingPower())
}
