package consensus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/roundstep/roundstep/config"
	cstypes "github.com/roundstep/roundstep/consensus/types"
	"github.com/roundstep/roundstep/crypto"
	"github.com/roundstep/roundstep/eventbus"
	"github.com/roundstep/roundstep/libs/log"
	"github.com/roundstep/roundstep/libs/service"
	sm "github.com/roundstep/roundstep/state"
	"github.com/roundstep/roundstep/types"
)

const msgQueueSize = 1000

// BlockStore defines the block storage the engine needs: committed blocks
// and the commit that sealed the most recent one.
type BlockStore interface {
	Base() int64
	Height() int64
	LoadBlock(height int64) *types.Block
	LoadBlockCommit(height int64) *types.Commit
	LoadSeenCommit() *types.Commit
	SaveBlock(block *types.Block, seenCommit *types.Commit)
}

// BlockExecutor defines how the engine builds, validates and applies blocks.
// ApplyBlock must persist the resulting state before returning; a returned
// error means the block could not be handed to the application and the
// engine will retry consensus in a new round.
type BlockExecutor interface {
	CreateProposalBlock(height int64, state sm.State, commit *types.Commit, proposerAddr []byte) *types.Block
	ValidateBlock(state sm.State, block *types.Block) error
	ApplyBlock(ctx context.Context, state sm.State, blockID types.BlockID, block *types.Block) (sm.State, error)
}

// State handles execution of the consensus algorithm. It processes votes
// and proposals, and upon reaching agreement, commits blocks and executes
// them against the application. The internal state machine receives input
// from peers, the internal validator, and from a timer.
type State struct {
	service.BaseService
	logger log.Logger

	// config details
	config        *config.ConsensusConfig
	privValidator types.PrivValidator
	// cached from privValidator
	privValidatorPubKey crypto.PubKey

	// store blocks and commits
	blockStore BlockStore

	// create and execute blocks
	blockExec BlockExecutor

	// broadcast decisions to the other validators
	transport Transport

	// internal state
	mtx sync.RWMutex
	cstypes.RoundState
	state sm.State // State until height-1.

	// state changes may be triggered by: msgs from peers, msgs from
	// ourself, or by timeouts
	peerMsgQueue     chan msgInfo
	internalMsgQueue chan msgInfo
	timeoutTicker    TimeoutTicker

	// information about about added votes and block parts are written on
	// this channel so statistics can be computed by reactor
	eventBus *eventbus.Bus

	// closed when the receive routine exits; guards queue writers against
	// blocking on a stopped engine
	done chan struct{}

	// for tests where we want to limit the number of transitions the state
	// makes
	nSteps int

	// some functions can be overwritten for testing
	decideProposal func(ctx context.Context, height int64, round int32)
	doPrevote      func(ctx context.Context, height int64, round int32)
	setProposal    func(msg *ProposalMessage) error

	metrics *Metrics
}

// StateOption sets an optional parameter on the State.
type StateOption func(*State)

// StateMetrics sets the metrics.
func StateMetrics(metrics *Metrics) StateOption {
	return func(cs *State) { cs.metrics = metrics }
}

// NewState returns a new State.
func NewState(
	logger log.Logger,
	cfg *config.ConsensusConfig,
	state sm.State,
	blockExec BlockExecutor,
	blockStore BlockStore,
	transport Transport,
	eventBus *eventbus.Bus,
	options ...StateOption,
) (*State, error) {
	cs := &State{
		logger:           logger,
		config:           cfg,
		blockExec:        blockExec,
		blockStore:       blockStore,
		transport:        transport,
		eventBus:         eventBus,
		peerMsgQueue:     make(chan msgInfo, msgQueueSize),
		internalMsgQueue: make(chan msgInfo, msgQueueSize),
		timeoutTicker:    NewTimeoutTicker(logger),
		done:             make(chan struct{}),
		metrics:          NopMetrics(),
	}

	// set function defaults (may be overwritten before calling Start)
	cs.decideProposal = cs.defaultDecideProposal
	cs.doPrevote = cs.defaultDoPrevote
	cs.setProposal = cs.defaultSetProposal

	if err := cs.updateStateFromStore(state); err != nil {
		return nil, err
	}

	cs.BaseService = *service.NewBaseService(logger, "ConsensusState", cs)

	for _, option := range options {
		option(cs)
	}

	return cs, nil
}

// updateStateFromStore initializes the round state from the given committed
// state, preferring whatever the block store remembers about the last
// commit.
func (cs *State) updateStateFromStore(state sm.State) error {
	if state.IsEmpty() {
		return errors.New("cannot start consensus from an empty state")
	}
	cs.updateToState(state)
	return nil
}

// SetPrivValidator sets the private validator account for signing votes and
// proposals. A nil privValidator puts the node in observer mode.
func (cs *State) SetPrivValidator(priv types.PrivValidator) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	cs.privValidator = priv
	if priv == nil {
		cs.privValidatorPubKey = nil
		return
	}
	pubKey, err := priv.GetPubKey()
	if err != nil {
		cs.logger.Error("failed to get private validator pubkey", "err", err)
		return
	}
	cs.privValidatorPubKey = pubKey
}

// SetTransport replaces the transport used for broadcasting decisions. Must
// be called before Start.
func (cs *State) SetTransport(t Transport) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()
	cs.transport = t
}

// String returns a string. Both BaseService and RoundState are embedded, so
// the method set needs an explicit winner.
func (cs *State) String() string {
	// better not to access shared variables
	return "ConsensusState"
}

// GetState returns a copy of the last committed state.
func (cs *State) GetState() sm.State {
	cs.mtx.RLock()
	defer cs.mtx.RUnlock()
	return cs.state.Copy()
}

// GetRoundState returns a shallow copy of the internal consensus state.
func (cs *State) GetRoundState() *cstypes.RoundState {
	cs.mtx.RLock()
	defer cs.mtx.RUnlock()
	rs := cs.RoundState // copy
	return &rs
}

// GetValidators returns the current height and a copy of the validator set.
func (cs *State) GetValidators() (int64, []*types.Validator) {
	cs.mtx.RLock()
	defer cs.mtx.RUnlock()
	return cs.state.LastBlockHeight, cs.state.Validators.Copy().Validators
}

// OnStart implements service.Service. It starts the timeout ticker and the
// receive routine, and schedules the first round.
func (cs *State) OnStart(ctx context.Context) error {
	if err := cs.timeoutTicker.Start(ctx); err != nil {
		return err
	}

	go cs.receiveRoutine(ctx)

	// schedule the first round
	cs.scheduleRound0(cs.GetRoundState())

	return nil
}

// startRoutines starts the ticker and receive routine without scheduling
// round 0. Tests drive the first transition themselves.
func (cs *State) startRoutines(ctx context.Context) {
	if err := cs.timeoutTicker.Start(ctx); err != nil {
		cs.logger.Error("failed to start timeout ticker", "err", err)
		return
	}
	go cs.receiveRoutine(ctx)
}

// OnStop implements service.Service.
func (cs *State) OnStop() {
	if cs.timeoutTicker.IsRunning() {
		_ = cs.timeoutTicker.Stop()
	}
}

// Done is closed when the receive routine has exited.
func (cs *State) Done() <-chan struct{} {
	return cs.done
}

//-----------------------------------------------------------------------------
// Transport input

// ReceiveProposal implements Receiver. It queues a proposal received from a
// peer for the receive routine.
func (cs *State) ReceiveProposal(proposal *types.Proposal, block *types.Block, from string) {
	cs.queueMessage(msgInfo{&ProposalMessage{Proposal: proposal, Block: block}, from})
}

// ReceiveVote implements Receiver. It queues a vote received from a peer for
// the receive routine.
func (cs *State) ReceiveVote(vote *types.Vote, from string) {
	cs.queueMessage(msgInfo{&VoteMessage{Vote: vote}, from})
}

func (cs *State) queueMessage(mi msgInfo) {
	select {
	case cs.peerMsgQueue <- mi:
	case <-cs.done:
	}
}

// sendInternalMessage queues a message generated by this node itself.
// Internal messages must not be dropped, and must not deadlock the receive
// routine either, hence the goroutine fallback when the queue is full.
func (cs *State) sendInternalMessage(ctx context.Context, mi msgInfo) {
	select {
	case cs.internalMsgQueue <- mi:
	default:
		cs.logger.Debug("internal msg queue is full; using a go-routine")
		go func() {
			select {
			case cs.internalMsgQueue <- mi:
			case <-ctx.Done():
			}
		}()
	}
}

//-----------------------------------------------------------------------------
// Internal functions for managing the state

func (cs *State) updateHeight(height int64) {
	cs.metrics.Height.Set(float64(height))
	cs.Height = height
}

func (cs *State) updateRoundStep(round int32, step cstypes.RoundStepType) {
	cs.Round = round
	cs.Step = step
}

// enterNewRound(height, 0) at cs.StartTime.
func (cs *State) scheduleRound0(rs *cstypes.RoundState) {
	sleepDuration := time.Until(rs.StartTime)
	cs.scheduleTimeout(sleepDuration, rs.Height, 0, cstypes.RoundStepNewHeight)
}

// Attempt to schedule a timeout (by sending timeoutInfo on the tickChan).
func (cs *State) scheduleTimeout(duration time.Duration, height int64, round int32, step cstypes.RoundStepType) {
	cs.timeoutTicker.ScheduleTimeout(timeoutInfo{duration, height, round, step})
}

// reconstructLastCommit loads the seen commit from the block store and
// reconstructs the precommit vote set that produced it.
func (cs *State) reconstructLastCommit(state sm.State) *types.VoteSet {
	commit := cs.blockStore.LoadSeenCommit()
	if commit == nil || commit.Height != state.LastBlockHeight {
		// The seen commit may belong to a newer block; the canonical commit
		// stored with that block covers our height instead.
		commit = cs.blockStore.LoadBlockCommit(state.LastBlockHeight)
	}
	if commit == nil {
		panic(fmt.Sprintf(
			"failed to reconstruct last commit; commit for height %v not found",
			state.LastBlockHeight,
		))
	}
	return types.CommitToVoteSet(state.ChainID, commit, state.LastValidators)
}

// Updates State and increments height to match that of state.
// The round becomes 0 and cs.Step becomes cstypes.RoundStepNewHeight.
func (cs *State) updateToState(state sm.State) {
	if cs.CommitRound > -1 && 0 < cs.Height && cs.Height != state.LastBlockHeight {
		panic(fmt.Sprintf(
			"updateToState() expected state height of %v but found %v",
			cs.Height, state.LastBlockHeight,
		))
	}

	if !cs.state.IsEmpty() {
		if cs.state.LastBlockHeight > 0 && cs.state.LastBlockHeight+1 != cs.Height {
			panic(fmt.Sprintf(
				"inconsistent cs.state.LastBlockHeight+1 %v vs cs.Height %v",
				cs.state.LastBlockHeight+1, cs.Height,
			))
		}
		if state.LastBlockHeight <= cs.state.LastBlockHeight {
			cs.logger.Debug("ignoring updateToState()",
				"new_height", state.LastBlockHeight+1,
				"old_height", cs.state.LastBlockHeight+1,
			)
			return
		}
	}

	// Reset fields based on state.
	validators := state.Validators

	var lastPrecommits *types.VoteSet
	switch {
	case state.LastBlockHeight == 0:
		// There is no last commit at genesis.
	case cs.CommitRound > -1 && cs.Votes != nil:
		// We just committed a block through this engine.
		if !cs.Votes.Precommits(cs.CommitRound).HasTwoThirdsMajority() {
			panic(fmt.Sprintf(
				"wanted to form a commit, but precommits (H/R: %d/%d) didn't have 2/3+: %v",
				state.LastBlockHeight, cs.CommitRound, cs.Votes.Precommits(cs.CommitRound),
			))
		}
		lastPrecommits = cs.Votes.Precommits(cs.CommitRound)
	default:
		// Starting from a persisted state; rebuild from the stored commit.
		lastPrecommits = cs.reconstructLastCommit(state)
	}

	// Next desired block height.
	height := state.LastBlockHeight + 1
	if height == 1 {
		height = state.InitialHeight
	}

	// RoundState fields
	cs.updateHeight(height)
	cs.updateRoundStep(0, cstypes.RoundStepNewHeight)

	if cs.CommitTime.IsZero() {
		// "Now" makes it easier to sync up dev nodes; this time is not used
		// for anything consensus-critical.
		cs.StartTime = cs.config.Commit(time.Now())
	} else {
		cs.StartTime = cs.config.Commit(cs.CommitTime)
	}

	cs.Validators = validators
	cs.Proposal = nil
	cs.ProposalBlock = nil
	cs.LockedRound = -1
	cs.LockedBlock = nil
	cs.ValidRound = -1
	cs.ValidBlock = nil
	cs.Votes = cstypes.NewHeightVoteSet(state.ChainID, height, validators)
	cs.CommitRound = -1
	cs.LastCommit = lastPrecommits

	cs.state = state

	// Finally, broadcast RoundState.
	cs.newStep()

	cs.metrics.Validators.Set(float64(validators.Size()))
	cs.metrics.ValidatorsPower.Set(float64(validators.TotalVotingPower()))
}

func (cs *State) newStep() {
	if err := cs.eventBus.Publish(types.EventNewRoundStepValue, cs.RoundStateEvent()); err != nil {
		cs.logger.Error("failed publishing new round step", "err", err)
	}
	cs.nSteps++
	cs.metrics.MarkStep(cs.Step)
}

//-----------------------------------------
// The main routine

// receiveRoutine handles messages which may cause state transitions. It
// keeps the RoundState and is the only thing that updates it.
func (cs *State) receiveRoutine(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			cs.logger.Error("CONSENSUS FAILURE!!!", "err", r)
		}
		close(cs.done)
	}()

	for {
		select {
		case mi := <-cs.peerMsgQueue:
			cs.handleMsg(ctx, mi)

		case mi := <-cs.internalMsgQueue:
			cs.handleMsg(ctx, mi)

		case ti := <-cs.timeoutTicker.Chan(): // tockChan:
			// if the timeout is relevant to the rs
			// go to the next step
			cs.handleTimeout(ctx, ti, cs.RoundState)

		case <-ctx.Done():
			return
		}
	}
}

// state transitions on complete-proposal, 2/3-any, 2/3-one
func (cs *State) handleMsg(ctx context.Context, mi msgInfo) {
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	var err error

	msg, peerID := mi.Msg, mi.PeerID

	switch msg := msg.(type) {
	case *ProposalMessage:
		// will not cause transition.
		// once proposal is set, we can receive block parts
		err = cs.setProposal(msg)
		if err == nil && cs.Proposal != nil && cs.ProposalBlock != nil {
			cs.handleCompleteProposal(ctx, msg.Proposal.Height)
		}

	case *VoteMessage:
		// attempt to add the vote and dupeout the validator if its a
		// conflicting vote
		_, err = cs.tryAddVote(ctx, msg.Vote, peerID)

	default:
		cs.logger.Error("unknown msg type", "type", fmt.Sprintf("%T", msg))
		return
	}

	if err != nil {
		cs.logger.Error("failed to process message",
			"height", cs.Height,
			"round", cs.Round,
			"peer", peerID,
			"msg_type", fmt.Sprintf("%T", msg),
			"err", err,
		)
	}
}

func (cs *State) handleTimeout(ctx context.Context, ti timeoutInfo, rs cstypes.RoundState) {
	cs.logger.Debug("received tock", "timeout", ti.Duration, "height", ti.Height, "round", ti.Round, "step", ti.Step)

	// timeouts must be for current height, round, step
	if ti.Height != rs.Height || ti.Round < rs.Round || (ti.Round == rs.Round && ti.Step < rs.Step) {
		cs.logger.Debug("ignoring tock because we are ahead", "height", rs.Height, "round", rs.Round, "step", rs.Step)
		return
	}

	// the timeout will now cause a state transition
	cs.mtx.Lock()
	defer cs.mtx.Unlock()

	switch ti.Step {
	case cstypes.RoundStepNewHeight:
		// NewRound event fired from enterNewRound.
		cs.enterNewRound(ctx, ti.Height, 0)

	case cstypes.RoundStepNewRound:
		cs.enterPropose(ctx, ti.Height, 0)

	case cstypes.RoundStepPropose:
		if err := cs.eventBus.Publish(types.EventTimeoutProposeValue, cs.RoundStateEvent()); err != nil {
			cs.logger.Error("failed publishing timeout propose", "err", err)
		}
		cs.enterPrevote(ctx, ti.Height, ti.Round)

	case cstypes.RoundStepPrevote, cstypes.RoundStepPrevoteWait:
		if err := cs.eventBus.Publish(types.EventTimeoutWaitValue, cs.RoundStateEvent()); err != nil {
			cs.logger.Error("failed publishing timeout wait", "err", err)
		}
		cs.enterPrecommit(ctx, ti.Height, ti.Round)

	case cstypes.RoundStepPrecommit, cstypes.RoundStepPrecommitWait:
		if err := cs.eventBus.Publish(types.EventTimeoutWaitValue, cs.RoundStateEvent()); err != nil {
			cs.logger.Error("failed publishing timeout wait", "err", err)
		}
		cs.enterPrecommit(ctx, ti.Height, ti.Round)
		cs.enterNewRound(ctx, ti.Height, ti.Round+1)

	default:
		panic(fmt.Sprintf("invalid timeout step: %v", ti.Step))
	}
}

//-----------------------------------------------------------------------------
// State functions
// Used internally by handleTimeout and handleMsg to make state transitions

// Enter: +2/3 precommits for nil at (height,round-1)
// Enter: `timeoutPrecommits` after any +2/3 precommits from (height,round-1)
// Enter: `startTime = commitTime+timeoutCommit` from NewHeight(height)
// NOTE: cs.StartTime was already set for height.
func (cs *State) enterNewRound(ctx context.Context, height int64, round int32) {
	logger := cs.logger.With("height", height, "round", round)

	if cs.Height != height || round < cs.Round || (cs.Round == round && cs.Step != cstypes.RoundStepNewHeight) {
		logger.Debug("entering new round with invalid args",
			"current", fmt.Sprintf("%v/%v/%v", cs.Height, cs.Round, cs.Step))
		return
	}

	if now := time.Now(); cs.StartTime.After(now) {
		logger.Debug("need to set a buffer and log message here for sanity", "start_time", cs.StartTime, "now", now)
	}

	logger.Debug("entering new round", "current", fmt.Sprintf("%v/%v/%v", cs.Height, cs.Round, cs.Step))

	validators := cs.Validators

	if round != 0 {
		cs.metrics.MarkRound(cs.Round, cs.StartTime)
	}

	// Setup new round
	// we don't fire newStep for this step,
	// but we fire an event, so update the round step first
	cs.updateRoundStep(round, cstypes.RoundStepNewRound)
	cs.Validators = validators
	if round == 0 {
		// We've already reset these upon new height, and meanwhile we might
		// have received a proposal for round 0.
	} else {
		logger.Debug("resetting proposal info")
		cs.Proposal = nil
		cs.ProposalBlock = nil
	}

	cs.Votes.SetRound(round + 1) // also track next round (round+1) to allow round-skipping

	if err := cs.eventBus.Publish(types.EventNewRoundValue, cs.NewRoundEvent()); err != nil {
		cs.logger.Error("failed publishing new round", "err", err)
	}

	cs.enterPropose(ctx, height, round)
}

// Enter (CreateEmptyBlocks): from enterNewRound(height,round)
func (cs *State) enterPropose(ctx context.Context, height int64, round int32) {
	logger := cs.logger.With("height", height, "round", round)

	if cs.Height != height || round < cs.Round || (cs.Round == round && cstypes.RoundStepPropose <= cs.Step) {
		logger.Debug("entering propose step with invalid args",
			"current", fmt.Sprintf("%v/%v/%v", cs.Height, cs.Round, cs.Step))
		return
	}

	logger.Debug("entering propose step", "current", fmt.Sprintf("%v/%v/%v", cs.Height, cs.Round, cs.Step))

	defer func() {
		// Done enterPropose:
		cs.updateRoundStep(round, cstypes.RoundStepPropose)
		cs.newStep()

		// If we have the whole proposal, move onto prevote
		if cs.isProposalComplete() {
			cs.enterPrevote(ctx, height, cs.Round)
		}
	}()

	// If we don't get the proposal quick enough, enterPrevote
	cs.scheduleTimeout(cs.config.Propose(round), height, round, cstypes.RoundStepPropose)

	// Nothing more to do if we are not a validator
	if cs.privValidator == nil {
		logger.Debug("propose step; not proposing since node is not a validator")
		return
	}

	if cs.privValidatorPubKey == nil {
		// If this node is a validator & proposer in the current round, it
		// will miss the opportunity to create a block.
		logger.Error("propose step; empty priv validator public key", "err", errPubKeyIsNotSet)
		return
	}

	address := cs.privValidatorPubKey.Address()

	// if not a validator, we're done
	if !cs.Validators.HasAddress(address) {
		logger.Debug("propose step; not proposing since node is not in the validator set",
			"addr", address,
			"vals", cs.Validators)
		return
	}

	if cs.isProposer(address) {
		logger.Debug("propose step; our turn to propose", "proposer", address)
		cs.decideProposal(ctx, height, round)
	} else {
		logger.Debug("propose step; not our turn to propose",
			"proposer", cs.Validators.Proposer(height, round).Address)
	}
}

func (cs *State) isProposer(address []byte) bool {
	return bytes.Equal(cs.Validators.Proposer(cs.Height, cs.Round).Address, address)
}

func (cs *State) defaultDecideProposal(ctx context.Context, height int64, round int32) {
	var block *types.Block

	// Decide on block
	if cs.ValidBlock != nil {
		// If there is valid block, choose that.
		block = cs.ValidBlock
	} else {
		// Create a new proposal block from state/txs from the mempool.
		block = cs.createProposalBlock()
		if block == nil {
			return
		}
	}

	// Make proposal
	blockID := block.BlockID()
	proposal := types.NewProposal(height, round, cs.ValidRound, blockID, time.Now().Round(0).UTC())

	if err := cs.privValidator.SignProposal(cs.state.ChainID, proposal); err != nil {
		cs.logger.Error("propose step; failed signing proposal",
			"height", height, "round", round, "err", err)
		return
	}

	// send proposal on internal msg queue and to peers
	cs.sendInternalMessage(ctx, msgInfo{&ProposalMessage{Proposal: proposal, Block: block}, ""})
	if err := cs.transport.BroadcastProposal(ctx, proposal, block); err != nil {
		cs.logger.Error("failed broadcasting proposal", "err", err)
	}

	cs.logger.Debug("signed proposal", "height", height, "round", round, "proposal", proposal)
}

// Returns true if the proposal is complete, i.e. we have both the proposal
// and, when it carries a POL round, the prevotes justifying it.
func (cs *State) isProposalComplete() bool {
	if cs.Proposal == nil || cs.ProposalBlock == nil {
		return false
	}
	// we have the proposal. if there's a POLRound, make sure we have the
	// prevotes from it too
	if cs.Proposal.POLRound < 0 {
		return true
	}
	prevotes := cs.Votes.Prevotes(cs.Proposal.POLRound)
	return prevotes != nil && prevotes.HasTwoThirdsMajority()
}

// Create the next block to propose. Returns nil block upon error.
//
// NOTE: keep it side-effect free for clarity.
// CONTRACT: cs.privValidator is not nil.
func (cs *State) createProposalBlock() *types.Block {
	if cs.privValidator == nil {
		panic("entered createProposalBlock with privValidator being nil")
	}

	var commit *types.Commit
	switch {
	case cs.Height == cs.state.InitialHeight:
		// We're creating a proposal for the first block.
		commit = nil

	case cs.LastCommit.HasTwoThirdsMajority():
		// Make the commit from LastCommit.
		commit = cs.LastCommit.MakeCommit()

	default: // This shouldn't happen.
		cs.logger.Error("propose step; cannot propose anything without commit for the previous block")
		return nil
	}

	if cs.privValidatorPubKey == nil {
		// If this node is a validator & proposer in the current round, it
		// will miss the opportunity to create a block.
		cs.logger.Error("propose step; empty priv validator public key", "err", errPubKeyIsNotSet)
		return nil
	}

	proposerAddr := cs.privValidatorPubKey.Address()

	return cs.blockExec.CreateProposalBlock(cs.Height, cs.state, commit, proposerAddr)
}

// Enter: `timeoutPropose` after entering Propose.
// Enter: proposal block is valid.
// Enter: any +2/3 prevotes for future round.
// Prevote for LockedBlock if the proposal matches it, or ProposalBlock if
// valid. Otherwise vote nil.
func (cs *State) enterPrevote(ctx context.Context, height int64, round int32) {
	logger := cs.logger.With("height", height, "round", round)

	if cs.Height != height || round < cs.Round || (cs.Round == round && cstypes.RoundStepPrevote <= cs.Step) {
		logger.Debug("entering prevote step with invalid args",
			"current", fmt.Sprintf("%v/%v/%v", cs.Height, cs.Round, cs.Step))
		return
	}

	defer func() {
		// Done enterPrevote:
		cs.updateRoundStep(round, cstypes.RoundStepPrevote)
		cs.newStep()
	}()

	logger.Debug("entering prevote step", "current", fmt.Sprintf("%v/%v/%v", cs.Height, cs.Round, cs.Step))

	// Arm the step timeout now, not on +2/3 prevotes. If the prevotes never
	// come, this is what moves the round forward.
	cs.scheduleTimeout(cs.config.Prevote(round), height, round, cstypes.RoundStepPrevote)

	// Sign and broadcast vote as necessary
	cs.doPrevote(ctx, height, round)

	// Once `addVote` hits any +2/3 prevotes, we will go to PrevoteWait
	// (so we have more time to try and collect +2/3 prevotes for a single
	// block)
}

func (cs *State) defaultDoPrevote(ctx context.Context, height int64, round int32) {
	logger := cs.logger.With("height", height, "round", round)

	// If a block is locked, prevote it only when the round's proposal is for
	// that same block. A missing or different proposal gets a nil prevote;
	// the lock itself is only released by a later polka for another block.
	if cs.LockedBlock != nil {
		if cs.ProposalBlock.HashesTo(cs.LockedBlock.Hash()) {
			logger.Debug("prevote step; proposal matches our locked block; prevoting locked block")
			cs.signAddVote(ctx, types.PrevoteType, cs.LockedBlock.BlockID())
		} else {
			logger.Debug("prevote step; proposal does not match our locked block; prevoting nil")
			cs.signAddVote(ctx, types.PrevoteType, types.BlockID{})
		}
		return
	}

	// If ProposalBlock is nil, prevote nil.
	if cs.ProposalBlock == nil {
		logger.Debug("prevote step: ProposalBlock is nil")
		cs.signAddVote(ctx, types.PrevoteType, types.BlockID{})
		return
	}

	// Validate proposal block
	if err := cs.blockExec.ValidateBlock(cs.state, cs.ProposalBlock); err != nil {
		// ProposalBlock is invalid, prevote nil.
		logger.Error("prevote step: ProposalBlock is invalid", "err", err)
		cs.signAddVote(ctx, types.PrevoteType, types.BlockID{})
		return
	}

	// Prevote cs.ProposalBlock
	logger.Debug("prevote step: ProposalBlock is valid")
	cs.signAddVote(ctx, types.PrevoteType, cs.ProposalBlock.BlockID())
}

// Enter: any +2/3 prevotes at next round.
func (cs *State) enterPrevoteWait(ctx context.Context, height int64, round int32) {
	logger := cs.logger.With("height", height, "round", round)

	if cs.Height != height || round < cs.Round || (cs.Round == round && cstypes.RoundStepPrevoteWait <= cs.Step) {
		logger.Debug("entering prevote wait step with invalid args",
			"current", fmt.Sprintf("%v/%v/%v", cs.Height, cs.Round, cs.Step))
		return
	}

	if !cs.Votes.Prevotes(round).HasTwoThirdsAny() {
		panic(fmt.Sprintf(
			"entering prevote wait step (%v/%v), but prevotes does not have any +2/3 votes",
			height, round,
		))
	}

	logger.Debug("entering prevote wait step", "current", fmt.Sprintf("%v/%v/%v", cs.Height, cs.Round, cs.Step))

	defer func() {
		// Done enterPrevoteWait:
		cs.updateRoundStep(round, cstypes.RoundStepPrevoteWait)
		cs.newStep()
	}()

	// Wait for some more prevotes; enterPrecommit
	cs.scheduleTimeout(cs.config.Prevote(round), height, round, cstypes.RoundStepPrevoteWait)
}

// Enter: `timeoutPrevote` after any +2/3 prevotes.
// Enter: `timeoutPrecommit` after any +2/3 precommits.
// Enter: +2/3 precomits for block or nil.
// Lock & precommit the ProposalBlock if we have enough prevotes for it,
// relock & precommit the locked block if the quorum re-confirms it, or
// precommit nil otherwise. A nil polka never releases a lock; only a polka
// for a different block does.
func (cs *State) enterPrecommit(ctx context.Context, height int64, round int32) {
	logger := cs.logger.With("height", height, "round", round)

	if cs.Height != height || round < cs.Round || (cs.Round == round && cstypes.RoundStepPrecommit <= cs.Step) {
		logger.Debug("entering precommit step with invalid args",
			"current", fmt.Sprintf("%v/%v/%v", cs.Height, cs.Round, cs.Step))
		return
	}

	logger.Debug("entering precommit step", "current", fmt.Sprintf("%v/%v/%v", cs.Height, cs.Round, cs.Step))

	defer func() {
		// Done enterPrecommit:
		cs.updateRoundStep(round, cstypes.RoundStepPrecommit)
		cs.newStep()
	}()

	// Same as the prevote step: the timeout is armed unconditionally so the
	// round ends even if no precommits arrive.
	cs.scheduleTimeout(cs.config.Precommit(round), height, round, cstypes.RoundStepPrecommit)

	// check for a polka
	blockID, ok := cs.Votes.Prevotes(round).TwoThirdsMajority()

	// If we don't have a polka, we must precommit nil. The lock, if any,
	// stays: silence is not evidence the quorum moved on.
	if !ok {
		logger.Debug("precommit step; no +2/3 prevotes for a block; precommitting nil",
			"locked", cs.LockedBlock != nil)
		cs.signAddVote(ctx, types.PrecommitType, types.BlockID{})
		return
	}

	// At this point +2/3 prevoted for a particular block or nil.
	if err := cs.eventBus.Publish(types.EventPolkaValue, cs.RoundStateEvent()); err != nil {
		logger.Error("failed publishing polka", "err", err)
	}

	// +2/3 prevoted nil. Precommit nil, keeping any lock.
	if blockID.IsNil() {
		logger.Debug("precommit step; +2/3 prevoted for nil; precommitting nil",
			"locked", cs.LockedBlock != nil)
		cs.signAddVote(ctx, types.PrecommitType, types.BlockID{})
		return
	}

	// At this point, +2/3 prevoted for a particular block.

	// If we're already locked on that block, precommit it, and update the
	// LockedRound.
	if cs.LockedBlock.HashesTo(blockID.Hash) {
		logger.Debug("precommit step; +2/3 prevoted locked block; relocking")
		cs.LockedRound = round

		if err := cs.eventBus.Publish(types.EventRelockValue, cs.RoundStateEvent()); err != nil {
			logger.Error("failed publishing event relock", "err", err)
		}

		cs.signAddVote(ctx, types.PrecommitType, blockID)
		return
	}

	// If +2/3 prevoted for proposal block, stage and precommit it. This
	// replaces any lock held for an earlier round.
	if cs.ProposalBlock.HashesTo(blockID.Hash) {
		logger.Debug("precommit step; +2/3 prevoted proposal block; locking", "hash", blockID.Hash)

		// Validate the block.
		if err := cs.blockExec.ValidateBlock(cs.state, cs.ProposalBlock); err != nil {
			panic(fmt.Sprintf("precommit step; +2/3 prevoted for an invalid block: %v", err))
		}

		cs.LockedRound = round
		cs.LockedBlock = cs.ProposalBlock

		if err := cs.eventBus.Publish(types.EventLockValue, cs.RoundStateEvent()); err != nil {
			logger.Error("failed publishing event lock", "err", err)
		}

		cs.signAddVote(ctx, types.PrecommitType, blockID)
		return
	}

	// There was a polka in this round for a block we don't have. The quorum
	// has moved past whatever we were locked on, so drop the lock and
	// precommit nil; the valid block machinery will fetch the new block via
	// a re-proposal.
	logger.Debug("precommit step; +2/3 prevotes for a block we do not have; precommitting nil",
		"block_id", blockID)

	cs.LockedRound = -1
	cs.LockedBlock = nil

	cs.signAddVote(ctx, types.PrecommitType, types.BlockID{})
}

// Enter: any +2/3 precommits for next round.
func (cs *State) enterPrecommitWait(ctx context.Context, height int64, round int32) {
	logger := cs.logger.With("height", height, "round", round)

	if cs.Height != height || round < cs.Round || (cs.Round == round && cstypes.RoundStepPrecommitWait <= cs.Step) {
		logger.Debug("entering precommit wait step with invalid args",
			"current", fmt.Sprintf("%v/%v/%v", cs.Height, cs.Round, cs.Step))
		return
	}

	if !cs.Votes.Precommits(round).HasTwoThirdsAny() {
		panic(fmt.Sprintf(
			"entering precommit wait step (%v/%v), but precommits does not have any +2/3 votes",
			height, round,
		))
	}

	logger.Debug("entering precommit wait step", "current", fmt.Sprintf("%v/%v/%v", cs.Height, cs.Round, cs.Step))

	defer func() {
		// Done enterPrecommitWait:
		cs.updateRoundStep(round, cstypes.RoundStepPrecommitWait)
		cs.newStep()
	}()

	// wait for some more precommits; enterNewRound
	cs.scheduleTimeout(cs.config.Precommit(round), height, round, cstypes.RoundStepPrecommitWait)
}

// Enter: +2/3 precommits for block
func (cs *State) enterCommit(ctx context.Context, height int64, commitRound int32) {
	logger := cs.logger.With("height", height, "commit_round", commitRound)

	if cs.Height != height || cstypes.RoundStepCommit <= cs.Step {
		logger.Debug("entering commit step with invalid args",
			"current", fmt.Sprintf("%v/%v/%v", cs.Height, cs.Round, cs.Step))
		return
	}

	logger.Debug("entering commit step", "current", fmt.Sprintf("%v/%v/%v", cs.Height, cs.Round, cs.Step))

	defer func() {
		// Done enterCommit:
		// keep cs.Round the same, commitRound points to the right Precommits set.
		cs.updateRoundStep(cs.Round, cstypes.RoundStepCommit)
		cs.CommitRound = commitRound
		cs.CommitTime = time.Now()
		cs.newStep()

		// Maybe finalize immediately.
		cs.tryFinalizeCommit(ctx, height)
	}()

	blockID, ok := cs.Votes.Precommits(commitRound).TwoThirdsMajority()
	if !ok {
		panic("RunActionCommit() expects +2/3 precommits")
	}

	// The Locked* fields no longer matter.
	// Move them over to ProposalBlock if they match the commit.
	// NOTE: this prevents us from losing the block we locked on.
	if cs.LockedBlock.HashesTo(blockID.Hash) {
		logger.Debug("commit is for a locked block; set ProposalBlock=LockedBlock", "block_hash", blockID.Hash)
		cs.ProposalBlock = cs.LockedBlock
	}

	// If we don't have the block being committed, keep waiting.
	if !cs.ProposalBlock.HashesTo(blockID.Hash) {
		logger.Info("commit is for a block we do not know about; waiting for its proposal",
			"proposal", cs.ProposalBlock.Hash(),
			"commit", blockID.Hash)
	}
}

// If we have the block AND +2/3 commits for it, finalize.
func (cs *State) tryFinalizeCommit(ctx context.Context, height int64) {
	logger := cs.logger.With("height", height)

	if cs.Height != height {
		panic(fmt.Sprintf("tryFinalizeCommit() cs.Height: %v vs height: %v", cs.Height, height))
	}

	blockID, ok := cs.Votes.Precommits(cs.CommitRound).TwoThirdsMajority()
	if !ok || blockID.IsNil() {
		logger.Error("failed attempt to finalize commit; there was no +2/3 majority or +2/3 was for nil")
		return
	}

	if !cs.ProposalBlock.HashesTo(blockID.Hash) {
		// TODO: this happens every time if we're not a validator (could use
		// phase-specific logging, though)
		logger.Debug("failed attempt to finalize commit; we do not have the commit block",
			"proposal_block", cs.ProposalBlock.Hash(),
			"commit_block", blockID.Hash)
		return
	}

	cs.finalizeCommit(ctx, height)
}

// Increment height and goto cstypes.RoundStepNewHeight. If applying the
// block to the application fails, the failure is published, the engine
// abandons the commit attempt and moves to the next round of the same
// height.
func (cs *State) finalizeCommit(ctx context.Context, height int64) {
	logger := cs.logger.With("height", height)

	if cs.Height != height || cs.Step != cstypes.RoundStepCommit {
		logger.Debug("entering finalize commit step with invalid args",
			"current", fmt.Sprintf("%v/%v/%v", cs.Height, cs.Round, cs.Step))
		return
	}

	blockID, ok := cs.Votes.Precommits(cs.CommitRound).TwoThirdsMajority()
	if !ok {
		panic("cannot finalize commit; commit does not have 2/3 majority")
	}

	block := cs.ProposalBlock
	if !block.HashesTo(blockID.Hash) {
		panic("cannot finalize commit; proposal block does not hash to commit hash")
	}

	logger.Info("finalizing commit of block",
		"block_hash", blockID.Hash,
		"root", block.ValidatorsHash,
		"num_txs", len(block.Data))

	precommits := cs.Votes.Precommits(cs.CommitRound)
	seenCommit := precommits.MakeCommit()

	// Save the block and the commit that sealed it before touching the
	// application. If we crash between the two, restart finds the decided
	// block in the store and replays it instead of losing it.
	if cs.blockStore.Height() < block.Height {
		cs.blockStore.SaveBlock(block, seenCommit)
	} else {
		// Happens during replay if we already saved the block but didn't commit
		logger.Debug("calling finalizeCommit on already stored block", "height", block.Height)
	}

	// Apply the block against the application. If that fails, this height is
	// not over: surface the failure and try again in a new round.
	stateCopy := cs.state.Copy()
	newState, err := cs.blockExec.ApplyBlock(ctx, stateCopy, blockID, block)
	if err != nil {
		logger.Error("failed to apply block", "err", err)
		cs.metrics.CommitFailures.Add(1)

		if pubErr := cs.eventBus.Publish(types.EventCommitFailureValue, types.EventDataCommitFailure{
			Height:  height,
			Round:   cs.CommitRound,
			BlockID: blockID,
			Err:     err.Error(),
		}); pubErr != nil {
			logger.Error("failed publishing commit failure", "err", pubErr)
		}

		cs.enterNewRound(ctx, height, cs.Round+1)
		return
	}

	if err := cs.eventBus.Publish(types.EventNewBlockValue, types.EventDataNewBlock{
		Block:   block,
		BlockID: blockID,
	}); err != nil {
		logger.Error("failed publishing new block", "err", err)
	}

	cs.recordCommitMetrics(block)

	// NewHeightStep!
	cs.updateToState(newState)

	// cs.StartTime is already set.
	// Schedule Round0 to start soon.
	cs.scheduleRound0(&cs.RoundState)

	// By here,
	// * cs.Height has been increment to height+1
	// * cs.Step is now cstypes.RoundStepNewHeight
	// * cs.StartTime is set to when we will start round0.
}

func (cs *State) recordCommitMetrics(block *types.Block) {
	if cs.state.LastBlockHeight > 0 {
		cs.metrics.BlockIntervalSeconds.Observe(block.Time.Sub(cs.state.LastBlockTime).Seconds())
	}

	// count validators whose precommit is missing from the seen commit
	precommits := cs.Votes.Precommits(cs.CommitRound)
	var (
		missingValidators      int
		missingValidatorsPower int64
	)
	for i, val := range cs.Validators.Validators {
		if precommits.GetByIndex(int32(i)) == nil {
			missingValidators++
			missingValidatorsPower += val.VotingPower
		}
	}
	cs.metrics.MissingValidators.Set(float64(missingValidators))
	cs.metrics.MissingValidatorsPower.Set(float64(missingValidatorsPower))

	cs.metrics.RecordBlockMetrics(block)
}

//-----------------------------------------------------------------------------

func (cs *State) defaultSetProposal(msg *ProposalMessage) error {
	proposal := msg.Proposal

	// Already have one
	// TODO: possibly catch double proposals
	if cs.Proposal != nil || proposal == nil {
		return nil
	}

	// Does not apply
	if proposal.Height != cs.Height || proposal.Round != cs.Round {
		return nil
	}

	// Verify POLRound, which must be -1 or in range [0, proposal.Round).
	if proposal.POLRound < -1 ||
		(proposal.POLRound >= 0 && proposal.POLRound >= proposal.Round) {
		return ErrInvalidProposalPOLRound
	}

	// Verify signature
	proposer := cs.Validators.Proposer(proposal.Height, proposal.Round)
	if !proposer.PubKey.VerifySignature(proposal.SignBytes(cs.state.ChainID), proposal.Signature) {
		return ErrInvalidProposalSignature
	}

	// The block must be the one the proposal names.
	if msg.Block == nil || !msg.Block.HashesTo(proposal.BlockID.Hash) {
		return ErrProposalBlockHashMismatch
	}

	cs.Proposal = proposal
	cs.ProposalBlock = msg.Block

	cs.logger.Info("received proposal", "proposal", proposal)

	if err := cs.eventBus.Publish(types.EventCompleteProposalValue, cs.CompleteProposalEvent()); err != nil {
		cs.logger.Error("failed publishing complete proposal", "err", err)
	}

	return nil
}

// Once we have the full proposal, consider advancing.
func (cs *State) handleCompleteProposal(ctx context.Context, height int64) {
	// Update Valid* if we can.
	prevotes := cs.Votes.Prevotes(cs.Round)
	blockID, hasTwoThirds := prevotes.TwoThirdsMajority()
	if hasTwoThirds && !blockID.IsNil() && (cs.ValidRound < cs.Round) {
		if cs.ProposalBlock.HashesTo(blockID.Hash) {
			cs.logger.Debug("updating valid block to new proposal block",
				"valid_round", cs.Round,
				"valid_block_hash", cs.ProposalBlock.Hash())

			cs.ValidRound = cs.Round
			cs.ValidBlock = cs.ProposalBlock
		}
		// TODO: In case there is +2/3 majority in Prevotes set for some
		// block and cs.ProposalBlock contains different block, either
		// proposer is faulty or voting power of faulty processes is more
		// than 1/3. We should trigger in the future accountability
		// procedure at this point.
	}

	if cs.Step <= cstypes.RoundStepPropose && cs.isProposalComplete() {
		// Move onto the next step
		cs.enterPrevote(ctx, height, cs.Round)
		if hasTwoThirds { // this is optimisation as this will be triggered when prevote is added
			cs.enterPrecommit(ctx, height, cs.Round)
		}
	} else if cs.Step == cstypes.RoundStepCommit {
		// If we're waiting on the proposal block...
		cs.tryFinalizeCommit(ctx, height)
	}
}

// Attempt to add the vote. if its a duplicate signature, dupeout the
// validator.
func (cs *State) tryAddVote(ctx context.Context, vote *types.Vote, peerID string) (bool, error) {
	added, err := cs.addVote(ctx, vote, peerID)
	if err != nil {
		// Either an unexpected round (benign) or a genuinely bad vote.
		if errors.Is(err, types.ErrVoteUnexpectedStep) {
			cs.logger.Debug("vote for an untracked round ignored", "vote", vote, "err", err)
			return added, nil
		}
		return added, fmt.Errorf("%w: %v", ErrAddingVote, err)
	}

	return added, nil
}

func (cs *State) addVote(ctx context.Context, vote *types.Vote, peerID string) (added bool, err error) {
	cs.logger.Debug("adding vote",
		"vote_height", vote.Height,
		"vote_round", vote.Round,
		"vote_type", vote.Type,
		"val_index", vote.ValidatorIndex,
		"cs_height", cs.Height,
	)

	// A precommit for the previous height?
	// These come in while we wait timeoutCommit
	if vote.Height+1 == cs.Height && vote.Type == types.PrecommitType {
		if cs.Step != cstypes.RoundStepNewHeight {
			// Late precommit at prior height is ignored
			cs.logger.Debug("precommit vote came in after commit timeout and has been ignored", "vote", vote)
			return false, nil
		}
		if cs.LastCommit == nil {
			return false, nil
		}

		result, err := cs.LastCommit.AddVote(vote)
		if err != nil || result != types.VoteAdded {
			return false, err
		}

		cs.logger.Debug("added vote to last precommits", "last_commit", cs.LastCommit.StringShort())
		if err := cs.eventBus.Publish(types.EventVoteValue, types.EventDataVote{Vote: vote}); err != nil {
			return true, err
		}

		// if we can skip timeoutCommit and have all the votes now,
		if cs.config.SkipTimeoutCommit && cs.LastCommit.HasAll() {
			// go straight to new round (skip timeout commit)
			// cs.scheduleTimeout(time.Duration(0), cs.Height, 0, cstypes.RoundStepNewHeight)
			cs.enterNewRound(ctx, cs.Height, 0)
		}

		return true, nil
	}

	// Height mismatch is ignored.
	// Not necessarily a bad peer, but not favorable behavior.
	if vote.Height != cs.Height {
		cs.logger.Debug("vote ignored and not added",
			"vote_height", vote.Height, "cs_height", cs.Height, "peer", peerID)
		return false, nil
	}

	height := cs.Height
	result, err := cs.Votes.AddVote(vote)
	if err != nil {
		return false, err
	}
	if result != types.VoteAdded && result != types.VoteReplaced {
		// Duplicate vote; nothing more to do.
		return false, nil
	}
	// A replaced vote changes the tally the same way a fresh one does, so it
	// runs through the same transition checks below.

	if err := cs.eventBus.Publish(types.EventVoteValue, types.EventDataVote{Vote: vote}); err != nil {
		return true, err
	}

	switch vote.Type {
	case types.PrevoteType:
		prevotes := cs.Votes.Prevotes(vote.Round)
		cs.logger.Debug("added vote to prevote", "vote", vote, "prevotes", prevotes.StringShort())

		// If +2/3 prevotes for a block or nil for *any* round:
		if blockID, ok := prevotes.TwoThirdsMajority(); ok && !blockID.IsNil() {
			// A later-round polka for a different block supersedes our
			// lock: adopt the new block if we have it, or drop the lock
			// so the nil precommit in enterPrecommit is safe.
			if (cs.LockedBlock != nil) &&
				(cs.LockedRound < vote.Round) &&
				(vote.Round <= cs.Round) &&
				!cs.LockedBlock.HashesTo(blockID.Hash) {
				if cs.ProposalBlock.HashesTo(blockID.Hash) {
					cs.logger.Debug("lock superseded by newer polka; relocking on its block", "locked_round", cs.LockedRound, "pol_round", vote.Round)
					cs.LockedRound = vote.Round
					cs.LockedBlock = cs.ProposalBlock

					if err := cs.eventBus.Publish(types.EventLockValue, cs.RoundStateEvent()); err != nil {
						cs.logger.Error("failed publishing event lock", "err", err)
					}
				} else {
					cs.logger.Debug("lock superseded by newer polka for a block we do not have; unlocking", "locked_round", cs.LockedRound, "pol_round", vote.Round)
					cs.LockedRound = -1
					cs.LockedBlock = nil
				}
			}

			// Update Valid* if we can.
			// NOTE: our proposal block may be nil or not what received a
			// polka
			if cs.ValidRound < vote.Round && vote.Round == cs.Round {
				if cs.ProposalBlock.HashesTo(blockID.Hash) {
					cs.logger.Debug("updating valid block because of POL", "valid_round", cs.ValidRound, "pol_round", vote.Round)
					cs.ValidRound = vote.Round
					cs.ValidBlock = cs.ProposalBlock

					if err := cs.eventBus.Publish(types.EventValidBlockValue, cs.RoundStateEvent()); err != nil {
						cs.logger.Error("failed publishing valid block", "err", err)
					}
				} else {
					cs.logger.Debug("valid block we do not know about; set ProposalBlock=nil",
						"proposal", cs.ProposalBlock.Hash(),
						"block_id", blockID.Hash)

					// we're getting the wrong block
					cs.ProposalBlock = nil
					cs.Proposal = nil
				}
			}
		}

		// If +2/3 prevotes for *anything* for future round:
		switch {
		case cs.Round < vote.Round && prevotes.HasTwoThirdsAny():
			// Round-skip if there is any 2/3+ of votes ahead of us
			cs.enterNewRound(ctx, height, vote.Round)

		case cs.Round == vote.Round && cstypes.RoundStepPrevote <= cs.Step: // current round
			blockID, ok := prevotes.TwoThirdsMajority()
			if ok && (cs.isProposalComplete() || blockID.IsNil()) {
				cs.enterPrecommit(ctx, height, vote.Round)
			} else if prevotes.HasTwoThirdsAny() {
				cs.enterPrevoteWait(ctx, height, vote.Round)
			}

		case cs.Proposal != nil && 0 <= cs.Proposal.POLRound && cs.Proposal.POLRound == vote.Round:
			// If the proposal is now complete, enter prevote of cs.Round.
			if cs.isProposalComplete() {
				cs.enterPrevote(ctx, height, cs.Round)
			}
		}

	case types.PrecommitType:
		precommits := cs.Votes.Precommits(vote.Round)
		cs.logger.Debug("added vote to precommit",
			"height", vote.Height,
			"round", vote.Round,
			"validator", vote.ValidatorAddress.String(),
			"vote_timestamp", vote.Timestamp,
			"data", precommits.StringShort())

		blockID, ok := precommits.TwoThirdsMajority()
		if ok {
			// Executed as TwoThirdsMajority could be from a higher round
			cs.enterNewRound(ctx, height, vote.Round)
			cs.enterPrecommit(ctx, height, vote.Round)

			if !blockID.IsNil() {
				cs.enterCommit(ctx, height, vote.Round)
				if cs.config.SkipTimeoutCommit && precommits.HasAll() {
					cs.enterNewRound(ctx, cs.Height, 0)
				}
			} else {
				cs.enterPrecommitWait(ctx, height, vote.Round)
			}
		} else if cs.Round <= vote.Round && precommits.HasTwoThirdsAny() {
			cs.enterNewRound(ctx, height, vote.Round)
			cs.enterPrecommitWait(ctx, height, vote.Round)
		}

	default:
		panic(fmt.Sprintf("unexpected vote type %v", vote.Type))
	}

	return true, nil
}

// CONTRACT: cs.privValidator is not nil.
func (cs *State) signVote(msgType types.SignedMsgType, blockID types.BlockID) (*types.Vote, error) {
	if cs.privValidatorPubKey == nil {
		return nil, errPubKeyIsNotSet
	}

	addr := cs.privValidatorPubKey.Address()
	valIdx, _ := cs.Validators.GetByAddress(addr)

	vote := &types.Vote{
		ValidatorAddress: addr,
		ValidatorIndex:   valIdx,
		Height:           cs.Height,
		Round:            cs.Round,
		Timestamp:        cs.voteTime(),
		Type:             msgType,
		BlockID:          blockID,
	}

	if err := cs.privValidator.SignVote(cs.state.ChainID, vote); err != nil {
		return nil, err
	}

	cs.metrics.VotesSigned.Add(1)
	return vote, nil
}

// voteTime returns this node's subjective time for its vote, nudged
// forward if needed to stay after the block time it may be voting on.
func (cs *State) voteTime() time.Time {
	now := time.Now().Round(0).UTC()
	minVoteTime := now

	// Minimum time increment between blocks
	const timeIota = time.Millisecond
	if cs.LockedBlock != nil {
		minVoteTime = cs.LockedBlock.Time.Add(timeIota)
	} else if cs.ProposalBlock != nil {
		minVoteTime = cs.ProposalBlock.Time.Add(timeIota)
	}

	if now.After(minVoteTime) {
		return now
	}
	return minVoteTime
}

// sign the vote, publish on internalMsgQueue and broadcast
func (cs *State) signAddVote(ctx context.Context, msgType types.SignedMsgType, blockID types.BlockID) *types.Vote {
	if cs.privValidator == nil { // the node does not have a key
		return nil
	}

	if cs.privValidatorPubKey == nil {
		// Vote won't be signed, but it's not critical.
		cs.logger.Error("signAddVote", "err", errPubKeyIsNotSet)
		return nil
	}

	// If the node not in the validator set, do nothing.
	if !cs.Validators.HasAddress(cs.privValidatorPubKey.Address()) {
		return nil
	}

	vote, err := cs.signVote(msgType, blockID)
	if err != nil {
		cs.logger.Error("failed signing vote", "height", cs.Height, "round", cs.Round, "vote", vote, "err", err)
		return nil
	}

	cs.sendInternalMessage(ctx, msgInfo{&VoteMessage{vote}, ""})
	if err := cs.transport.BroadcastVote(ctx, vote); err != nil {
		cs.logger.Error("failed broadcasting vote", "err", err)
	}

	cs.logger.Debug("signed and pushed vote", "height", cs.Height, "round", cs.Round, "vote", vote)
	return vote
}
