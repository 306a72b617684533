package types

import (
	mrand "math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const testChainID = "test_chain_id"

func buildVoteSet(t testing.TB, numValidators int, votingPower int64,
	msgType SignedMsgType) (*VoteSet, *ValidatorSet, []PrivValidator) {
	t.Helper()
	valSet, privVals := RandValidatorSet(numValidators, votingPower)
	voteSet := NewVoteSet(testChainID, 1, 0, msgType, valSet)
	return voteSet, valSet, privVals
}

func signAddVote(t testing.TB, voteSet *VoteSet, val PrivValidator,
	valIndex int32, blockID BlockID) AddVoteResult {
	t.Helper()
	vote, err := MakeVote(val, voteSet.ChainID(), valIndex,
		voteSet.GetHeight(), voteSet.GetRound(),
		SignedMsgType(voteSet.Type()), blockID, time.Now())
	require.NoError(t, err)
	res, err := voteSet.AddVote(vote)
	require.NoError(t, err)
	return res
}

func TestVoteSetAddVote(t *testing.T) {
	voteSet, _, privVals := buildVoteSet(t, 4, 1, PrevoteType)
	blockID := RandBlockID()

	assert.False(t, voteSet.HasTwoThirdsAny())
	assert.False(t, voteSet.HasTwoThirdsMajority())

	res := signAddVote(t, voteSet, privVals[0], 0, blockID)
	assert.Equal(t, VoteAdded, res)
	assert.Equal(t, 1, voteSet.Count())
	assert.EqualValues(t, 1, voteSet.PowerForBlock(blockID))

	// 2 of 4 is not a quorum
	signAddVote(t, voteSet, privVals[1], 1, blockID)
	assert.False(t, voteSet.HasTwoThirdsMajority())

	// 3 of 4 is: 3*3=9 > 4*2=8
	res = signAddVote(t, voteSet, privVals[2], 2, blockID)
	assert.Equal(t, VoteAdded, res)
	require.True(t, voteSet.HasTwoThirdsMajority())
	maj23, ok := voteSet.TwoThirdsMajority()
	require.True(t, ok)
	assert.True(t, blockID.Equals(maj23))
}

func TestVoteSetRejectsBadVotes(t *testing.T) {
	voteSet, _, privVals := buildVoteSet(t, 4, 1, PrevoteType)
	blockID := RandBlockID()

	// wrong height
	vote, err := MakeVote(privVals[0], testChainID, 0, 2, 0, PrevoteType, blockID, time.Now())
	require.NoError(t, err)
	res, err := voteSet.AddVote(vote)
	assert.Equal(t, VoteRejected, res)
	assert.ErrorIs(t, err, ErrVoteUnexpectedStep)

	// wrong round
	vote, err = MakeVote(privVals[0], testChainID, 0, 1, 1, PrevoteType, blockID, time.Now())
	require.NoError(t, err)
	res, err = voteSet.AddVote(vote)
	assert.Equal(t, VoteRejected, res)
	assert.ErrorIs(t, err, ErrVoteUnexpectedStep)

	// wrong type
	vote, err = MakeVote(privVals[0], testChainID, 0, 1, 0, PrecommitType, blockID, time.Now())
	require.NoError(t, err)
	res, err = voteSet.AddVote(vote)
	assert.Equal(t, VoteRejected, res)
	assert.ErrorIs(t, err, ErrVoteUnexpectedStep)

	// unknown validator: only current members' votes count
	stranger := NewMockPV()
	vote, err = MakeVote(stranger, testChainID, 0, 1, 0, PrevoteType, blockID, time.Now())
	require.NoError(t, err)
	res, err = voteSet.AddVote(vote)
	assert.Equal(t, VoteRejected, res)
	assert.ErrorIs(t, err, ErrVoteInvalidValidatorAddress)

	// wrong index for a known validator
	vote, err = MakeVote(privVals[0], testChainID, 3, 1, 0, PrevoteType, blockID, time.Now())
	require.NoError(t, err)
	res, err = voteSet.AddVote(vote)
	assert.Equal(t, VoteRejected, res)
	assert.ErrorIs(t, err, ErrVoteInvalidValidatorIndex)

	// bad signature
	vote, err = MakeVote(privVals[0], "wrong_chain", 0, 1, 0, PrevoteType, blockID, time.Now())
	require.NoError(t, err)
	res, err = voteSet.AddVote(vote)
	assert.Equal(t, VoteRejected, res)
	assert.ErrorIs(t, err, ErrVoteInvalidSignature)

	assert.Zero(t, voteSet.Count(), "rejected votes must not be stored")
}

func TestVoteSetReplacement(t *testing.T) {
	voteSet, valSet, privVals := buildVoteSet(t, 4, 1, PrevoteType)
	blockA := RandBlockID()
	blockB := RandBlockID()

	signAddVote(t, voteSet, privVals[0], 0, blockA)
	signAddVote(t, voteSet, privVals[1], 1, blockA)
	signAddVote(t, voteSet, privVals[2], 2, blockA)
	require.True(t, voteSet.HasTwoThirdsMajority())

	// An exact duplicate changes nothing.
	res := signAddVote(t, voteSet, privVals[2], 2, blockA)
	assert.Equal(t, VoteRejected, res)
	assert.EqualValues(t, 3, voteSet.PowerForBlock(blockA))

	// A later vote for a different block replaces the earlier one. The
	// power moves; it is never counted twice.
	res = signAddVote(t, voteSet, privVals[2], 2, blockB)
	assert.Equal(t, VoteReplaced, res)
	assert.EqualValues(t, 2, voteSet.PowerForBlock(blockA))
	assert.EqualValues(t, 1, voteSet.PowerForBlock(blockB))
	assert.Equal(t, 3, voteSet.Count())

	// The replacement dissolved the majority.
	assert.False(t, voteSet.HasTwoThirdsMajority())
	assert.False(t, valSet.HasQuorum(voteSet.PowerForBlock(blockA)))

	// Re-assembling a majority on the new block works.
	signAddVote(t, voteSet, privVals[0], 0, blockB)
	signAddVote(t, voteSet, privVals[1], 1, blockB)
	maj23, ok := voteSet.TwoThirdsMajority()
	require.True(t, ok)
	assert.True(t, blockB.Equals(maj23))
}

func TestVoteSetNilMajority(t *testing.T) {
	voteSet, _, privVals := buildVoteSet(t, 4, 1, PrecommitType)
	nilBlockID := BlockID{}

	for i := 0; i < 3; i++ {
		signAddVote(t, voteSet, privVals[i], int32(i), nilBlockID)
	}

	maj23, ok := voteSet.TwoThirdsMajority()
	require.True(t, ok)
	assert.True(t, maj23.IsNil())
}

func TestVoteSetTwoThirdsAnyVsMajority(t *testing.T) {
	voteSet, _, privVals := buildVoteSet(t, 4, 1, PrevoteType)

	// Three votes split across three blocks: 2/3+ of the power has voted,
	// but no single block has a majority. HasTwoThirdsAny only arms wait
	// timeouts; it must never be mistaken for a quorum.
	signAddVote(t, voteSet, privVals[0], 0, RandBlockID())
	signAddVote(t, voteSet, privVals[1], 1, RandBlockID())
	signAddVote(t, voteSet, privVals[2], 2, RandBlockID())

	assert.True(t, voteSet.HasTwoThirdsAny())
	assert.False(t, voteSet.HasTwoThirdsMajority())
}

func TestVoteSetMakeCommit(t *testing.T) {
	voteSet, _, privVals := buildVoteSet(t, 4, 1, PrecommitType)
	blockID := RandBlockID()
	otherID := RandBlockID()

	// no quorum yet
	assert.Panics(t, func() { voteSet.MakeCommit() })

	signAddVote(t, voteSet, privVals[0], 0, blockID)
	signAddVote(t, voteSet, privVals[1], 1, blockID)
	signAddVote(t, voteSet, privVals[2], 2, blockID)
	signAddVote(t, voteSet, privVals[3], 3, otherID)

	commit := voteSet.MakeCommit()
	require.NotNil(t, commit)
	assert.EqualValues(t, 1, commit.Height)
	assert.EqualValues(t, 0, commit.Round)
	assert.True(t, blockID.Equals(commit.BlockID))
	require.Len(t, commit.Signatures, 4)

	forBlock := 0
	for _, sig := range commit.Signatures {
		require.NoError(t, sig.ValidateBasic())
		if sig.ForBlock() {
			forBlock++
		}
	}
	assert.Equal(t, 3, forBlock, "the stray precommit must not endorse the committed block")
	require.NoError(t, commit.ValidateBasic())
}

// TestVoteSetOrderInvariance checks that for a fixed set of votes the quorum
// outcome does not depend on arrival order: quorum decisions aggregate
// commutative voting power, not sequences.
func TestVoteSetOrderInvariance(t *testing.T) {
	const numVals = 7
	valSet, privVals := RandValidatorSet(numVals, 1)
	blockA := RandBlockID()
	blockB := RandBlockID()
	blocks := []BlockID{blockA, blockB, {}}

	rapid.Check(t, func(rt *rapid.T) {
		// each validator votes for A, B or nil
		choices := make([]int, numVals)
		for i := range choices {
			choices[i] = rapid.IntRange(0, 2).Draw(rt, "choice").(int)
		}
		order := make([]int, numVals)
		for i := range order {
			order[i] = i
		}
		seed := rapid.Int64().Draw(rt, "seed").(int64)
		mrand.New(mrand.NewSource(seed)).Shuffle(numVals, func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})

		votes := make([]*Vote, numVals)
		for i := 0; i < numVals; i++ {
			vote, err := MakeVote(privVals[i], testChainID, int32(i), 1, 0,
				PrevoteType, blocks[choices[i]], time.Now())
			if err != nil {
				rt.Fatal(err)
			}
			votes[i] = vote
		}

		voteSet := NewVoteSet(testChainID, 1, 0, PrevoteType, valSet)
		for _, idx := range order {
			if _, err := voteSet.AddVote(votes[idx]); err != nil {
				rt.Fatal(err)
			}
		}

		// reference outcome computed order-independently
		powerFor := make(map[string]int64)
		for i := 0; i < numVals; i++ {
			powerFor[blocks[choices[i]].Key()]++
		}
		var wantMaj *BlockID
		for _, b := range blocks {
			if valSet.HasQuorum(powerFor[b.Key()]) {
				b := b
				wantMaj = &b
				break
			}
		}

		gotMaj, ok := voteSet.TwoThirdsMajority()
		if wantMaj == nil {
			if ok {
				rt.Fatalf("unexpected majority %v", gotMaj)
			}
		} else {
			if !ok || !gotMaj.Equals(*wantMaj) {
				rt.Fatalf("majority mismatch: got (%v, %v), want %v", gotMaj, ok, *wantMaj)
			}
		}
	})
}
