package consensus

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/roundstep/roundstep/config"
	"github.com/roundstep/roundstep/eventbus"
	"github.com/roundstep/roundstep/libs/log"
	sm "github.com/roundstep/roundstep/state"
	"github.com/roundstep/roundstep/store"
	"github.com/roundstep/roundstep/types"
)

const (
	ensureTimeout = time.Second

	testMinPower int64 = 10
)

//-------------------------------------------------------------------------------
// validator stub (a consensus peer we control)

type validatorStub struct {
	Index  int32 // Validator index. The validator set never changes.
	Height int64
	Round  int32
	types.PrivValidator
	VotingPower int64
}

func newValidatorStub(privValidator types.PrivValidator, valIndex int32) *validatorStub {
	return &validatorStub{
		Index:         valIndex,
		PrivValidator: privValidator,
		VotingPower:   testMinPower,
	}
}

func (vs *validatorStub) signVote(
	t *testing.T,
	voteType types.SignedMsgType,
	chainID string,
	blockID types.BlockID,
) *types.Vote {
	t.Helper()

	pubKey, err := vs.PrivValidator.GetPubKey()
	require.NoError(t, err)

	vote := &types.Vote{
		Type:             voteType,
		Height:           vs.Height,
		Round:            vs.Round,
		BlockID:          blockID,
		Timestamp:        time.Now().Round(0).UTC(),
		ValidatorAddress: pubKey.Address(),
		ValidatorIndex:   vs.Index,
	}
	require.NoError(t, vs.PrivValidator.SignVote(chainID, vote))
	return vote
}

func signVotes(
	t *testing.T,
	voteType types.SignedMsgType,
	chainID string,
	blockID types.BlockID,
	vss ...*validatorStub,
) []*types.Vote {
	t.Helper()
	votes := make([]*types.Vote, len(vss))
	for i, vs := range vss {
		votes[i] = vs.signVote(t, voteType, chainID, blockID)
	}
	return votes
}

func incrementHeight(vss ...*validatorStub) {
	for _, vs := range vss {
		vs.Height++
		vs.Round = 0
	}
}

func incrementRound(vss ...*validatorStub) {
	for _, vs := range vss {
		vs.Round++
	}
}

//-------------------------------------------------------------------------------
// Functions for transitioning the consensus state

func startTestRound(ctx context.Context, cs *State, height int64, round int32) {
	cs.enterNewRound(ctx, height, round)
	cs.startRoutines(ctx)
}

// decideProposal builds a proposal block on top of cs1's state but signs the
// proposal with vs, so tests can impersonate the round's proposer.
func decideProposal(
	t *testing.T,
	cs1 *State,
	vs *validatorStub,
	height int64,
	round int32,
) (*types.Proposal, *types.Block) {
	t.Helper()

	pubKey, err := vs.GetPubKey()
	require.NoError(t, err)

	cs1.mtx.Lock()
	var commit *types.Commit
	if height != cs1.state.InitialHeight {
		require.True(t, cs1.LastCommit.HasTwoThirdsMajority(), "no last commit to propose on")
		commit = cs1.LastCommit.MakeCommit()
	}
	block := cs1.blockExec.CreateProposalBlock(height, cs1.state, commit, pubKey.Address())
	validRound := cs1.ValidRound
	chainID := cs1.state.ChainID
	cs1.mtx.Unlock()

	require.NotNil(t, block, "failed to create proposal block")

	proposal := types.NewProposal(height, round, validRound, block.BlockID(), block.Time)
	require.NoError(t, vs.SignProposal(chainID, proposal))

	return proposal, block
}

func addVotes(to *State, votes ...*types.Vote) {
	for _, vote := range votes {
		to.peerMsgQueue <- msgInfo{Msg: &VoteMessage{vote}}
	}
}

func signAddVotes(
	t *testing.T,
	to *State,
	voteType types.SignedMsgType,
	chainID string,
	blockID types.BlockID,
	vss ...*validatorStub,
) {
	t.Helper()
	addVotes(to, signVotes(t, voteType, chainID, blockID, vss...)...)
}

func validatePrevote(t *testing.T, cs *State, round int32, privVal *validatorStub, blockHash []byte) {
	t.Helper()

	cs.mtx.RLock()
	defer cs.mtx.RUnlock()

	prevotes := cs.Votes.Prevotes(round)
	pubKey, err := privVal.GetPubKey()
	require.NoError(t, err)

	vote := prevotes.GetByAddress(pubKey.Address())
	require.NotNil(t, vote, "failed to find prevote from validator")

	if blockHash == nil {
		require.Nil(t, vote.BlockID.Hash, "expected prevote to be for nil, got %X", vote.BlockID.Hash)
	} else {
		require.True(t, bytes.Equal(vote.BlockID.Hash, blockHash),
			"expected prevote to be for %X, got %X", blockHash, vote.BlockID.Hash)
	}
}

func validatePrecommit(
	t *testing.T,
	cs *State,
	thisRound,
	lockRound int32,
	privVal *validatorStub,
	votedBlockHash,
	lockedBlockHash []byte,
) {
	t.Helper()

	cs.mtx.RLock()
	precommits := cs.Votes.Precommits(thisRound)
	cs.mtx.RUnlock()

	pubKey, err := privVal.GetPubKey()
	require.NoError(t, err)

	vote := precommits.GetByAddress(pubKey.Address())
	require.NotNil(t, vote, "failed to find precommit from validator")

	if votedBlockHash == nil {
		require.Nil(t, vote.BlockID.Hash, "expected precommit to be for nil")
	} else {
		require.True(t, bytes.Equal(vote.BlockID.Hash, votedBlockHash),
			"expected precommit to be for proposal block")
	}

	rs := cs.GetRoundState()
	if lockedBlockHash == nil {
		require.False(t, rs.LockedRound != lockRound || rs.LockedBlock != nil,
			"expected to be locked on nil at round %d; got locked at round %d with block %v",
			lockRound, rs.LockedRound, rs.LockedBlock)
	} else {
		require.False(t, rs.LockedRound != lockRound || !bytes.Equal(rs.LockedBlock.Hash(), lockedBlockHash),
			"expected block to be locked on round %d, got %d; locked block %X, expected %X",
			lockRound, rs.LockedRound, rs.LockedBlock.Hash(), lockedBlockHash)
	}
}

//-------------------------------------------------------------------------------
// consensus states

func newState(
	ctx context.Context,
	t *testing.T,
	logger log.Logger,
	state sm.State,
	pv types.PrivValidator,
	app sm.Application,
) *State {
	t.Helper()

	blockStore := store.NewBlockStore(dbm.NewMemDB())
	stateStore := sm.NewStore(dbm.NewMemDB())
	require.NoError(t, stateStore.Save(state))

	eventBus := eventbus.NewBus(logger.With("module", "events"))
	require.NoError(t, eventBus.Start(ctx))

	blockExec := sm.NewBlockExecutor(stateStore, logger, app, nil)

	cs, err := NewState(logger.With("module", "consensus"),
		config.TestConsensusConfig(),
		state,
		blockExec,
		blockStore,
		NopTransport{},
		eventBus,
	)
	require.NoError(t, err)

	cs.SetPrivValidator(pv)

	return cs
}

// makeState builds a consensus state over a fresh genesis with the given
// number of equal-power validators. The returned stubs are ordered by
// validator index; the state itself signs as validator 0.
func makeState(ctx context.Context, t *testing.T, nVals int) (*State, []*validatorStub) {
	t.Helper()

	state, privVals := makeGenesisState(t, nVals)

	cs := newState(ctx, t, log.NewTestingLogger(t), state, privVals[0], sm.NoopApplication{})

	vss := make([]*validatorStub, nVals)
	for i := 0; i < nVals; i++ {
		vss[i] = newValidatorStub(privVals[i], int32(i))
		vss[i].Height = state.InitialHeight
	}

	return cs, vss
}

func makeGenesisState(t *testing.T, nVals int) (sm.State, []types.PrivValidator) {
	t.Helper()

	vals, privVals := types.RandValidatorSet(nVals, testMinPower)

	genVals := make([]types.GenesisValidator, nVals)
	for i, val := range vals.Validators {
		genVals[i] = types.GenesisValidator{
			Address: val.Address,
			PubKey:  val.PubKey,
			Power:   val.VotingPower,
			Name:    "test",
		}
	}

	state, err := sm.MakeGenesisState(&types.GenesisDoc{
		GenesisTime:   time.Now().Add(-time.Minute),
		ChainID:       "consensus-test-chain",
		InitialHeight: 1,
		Validators:    genVals,
	})
	require.NoError(t, err)

	return state, privVals
}

//-------------------------------------------------------------------------------
// event helpers

const testSubscriberCapacity = 128

func subscribe(t *testing.T, bus *eventbus.Bus, eventType string) <-chan eventbus.Message {
	t.Helper()
	sub := bus.Subscribe(eventType, testSubscriberCapacity)
	t.Cleanup(func() { _ = bus.Unsubscribe(sub) })
	return sub.Out()
}

func ensureMessageBeforeTimeout(t *testing.T, ch <-chan eventbus.Message, to time.Duration) eventbus.Message {
	t.Helper()
	select {
	case <-time.After(to):
		t.Fatalf("expected message to arrive within %v", to)
	case msg := <-ch:
		return msg
	}
	panic("unreachable")
}

func ensureNoMessageBeforeTimeout(t *testing.T, ch <-chan eventbus.Message, timeout time.Duration, errorMessage string) {
	t.Helper()
	select {
	case <-time.After(timeout):
	case msg := <-ch:
		t.Fatalf("%s: got %v", errorMessage, msg.Data())
	}
}

func ensureNoNewEventOnChannel(t *testing.T, ch <-chan eventbus.Message) {
	t.Helper()
	ensureNoMessageBeforeTimeout(t, ch, 100*time.Millisecond,
		"we should be stuck waiting, not receiving a new event on the channel")
}

func ensureNewEvent(t *testing.T, ch <-chan eventbus.Message, height int64, round int32) {
	t.Helper()
	msg := ensureMessageBeforeTimeout(t, ch, ensureTimeout)
	roundStateEvent, ok := msg.Data().(types.EventDataRoundState)
	require.True(t, ok, "expected EventDataRoundState, got %T", msg.Data())
	require.Equal(t, height, roundStateEvent.Height)
	require.Equal(t, round, roundStateEvent.Round)
}

func ensureNewRound(t *testing.T, roundCh <-chan eventbus.Message, height int64, round int32) {
	t.Helper()
	msg := ensureMessageBeforeTimeout(t, roundCh, ensureTimeout)
	newRoundEvent, ok := msg.Data().(types.EventDataNewRound)
	require.True(t, ok, "expected EventDataNewRound, got %T", msg.Data())
	require.Equal(t, height, newRoundEvent.Height)
	require.Equal(t, round, newRoundEvent.Round)
}

func ensureNewTimeout(t *testing.T, timeoutCh <-chan eventbus.Message, height int64, round int32) {
	t.Helper()
	ensureNewEvent(t, timeoutCh, height, round)
}

func ensureNewProposal(t *testing.T, proposalCh <-chan eventbus.Message, height int64, round int32) types.BlockID {
	t.Helper()
	msg := ensureMessageBeforeTimeout(t, proposalCh, ensureTimeout)
	proposalEvent, ok := msg.Data().(types.EventDataCompleteProposal)
	require.True(t, ok, "expected EventDataCompleteProposal, got %T", msg.Data())
	require.Equal(t, height, proposalEvent.Height)
	require.Equal(t, round, proposalEvent.Round)
	return proposalEvent.BlockID
}

func ensureNewValidBlock(t *testing.T, validBlockCh <-chan eventbus.Message, height int64, round int32) {
	t.Helper()
	ensureNewEvent(t, validBlockCh, height, round)
}

func ensureNewBlock(t *testing.T, blockCh <-chan eventbus.Message, height int64) *types.Block {
	t.Helper()
	msg := ensureMessageBeforeTimeout(t, blockCh, ensureTimeout)
	blockEvent, ok := msg.Data().(types.EventDataNewBlock)
	require.True(t, ok, "expected EventDataNewBlock, got %T", msg.Data())
	require.Equal(t, height, blockEvent.Block.Height)
	return blockEvent.Block
}

func ensureLock(t *testing.T, lockCh <-chan eventbus.Message, height int64, round int32) {
	t.Helper()
	ensureNewEvent(t, lockCh, height, round)
}

func ensureVote(t *testing.T, voteCh <-chan eventbus.Message, height int64, round int32, voteType types.SignedMsgType) *types.Vote {
	t.Helper()
	msg := ensureMessageBeforeTimeout(t, voteCh, ensureTimeout)
	voteEvent, ok := msg.Data().(types.EventDataVote)
	require.True(t, ok, "expected EventDataVote, got %T", msg.Data())
	vote := voteEvent.Vote
	require.Equal(t, height, vote.Height)
	require.Equal(t, round, vote.Round)
	require.Equal(t, voteType, vote.Type)
	return vote
}

func ensurePrevote(t *testing.T, voteCh <-chan eventbus.Message, height int64, round int32) *types.Vote {
	t.Helper()
	return ensureVote(t, voteCh, height, round, types.PrevoteType)
}

func ensurePrecommit(t *testing.T, voteCh <-chan eventbus.Message, height int64, round int32) *types.Vote {
	t.Helper()
	return ensureVote(t, voteCh, height, round, types.PrecommitType)
}

// subscribeToVoter relays only the votes signed by addr.
func subscribeToVoter(ctx context.Context, t *testing.T, cs *State, addr []byte) <-chan eventbus.Message {
	t.Helper()

	in := subscribe(t, cs.eventBus, types.EventVoteValue)
	out := make(chan eventbus.Message, testSubscriberCapacity)
	go func() {
		for {
			select {
			case msg := <-in:
				vote, ok := msg.Data().(types.EventDataVote)
				if ok && bytes.Equal(addr, vote.Vote.ValidatorAddress) {
					select {
					case out <- msg:
					case <-ctx.Done():
						return
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
