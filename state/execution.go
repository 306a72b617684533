package state

import (
	"context"
	"fmt"
	"time"

	"github.com/roundstep/roundstep/libs/log"
	"github.com/roundstep/roundstep/types"
)

//-----------------------------------------------------------------------------
// BlockExecutor handles block execution and state updates.
// It exposes a ValidateBlock/ApplyBlock pair: the consensus engine first
// validates a proposed block against the current state, and once a block is
// decided hands it over for application and state persistence.

// Application consumes committed blocks. Implementations live outside the
// consensus boundary; the executor treats application failures as
// recoverable and reports them to the caller.
type Application interface {
	ApplyBlock(ctx context.Context, block *types.Block) error
}

// TxProvider supplies the transaction payload for a block this node
// proposes at the given height.
type TxProvider func(height int64) types.Txs

// NoopApplication accepts every block and does nothing with it. Used by
// tests and the in-process simulator.
type NoopApplication struct{}

func (NoopApplication) ApplyBlock(ctx context.Context, block *types.Block) error { return nil }

// BlockExecutor provides the context and accessories for properly executing
// a block.
type BlockExecutor struct {
	// save state, validators, after block application
	store Store

	// hand committed blocks to the application
	app Application

	// payload source for proposals
	txProvider TxProvider

	logger log.Logger
}

// NewBlockExecutor returns a new BlockExecutor. A nil txProvider yields
// empty blocks.
func NewBlockExecutor(
	stateStore Store,
	logger log.Logger,
	app Application,
	txProvider TxProvider,
) *BlockExecutor {
	if txProvider == nil {
		txProvider = func(int64) types.Txs { return nil }
	}
	return &BlockExecutor{
		store:      stateStore,
		app:        app,
		txProvider: txProvider,
		logger:     logger,
	}
}

// Store returns the state store used to persist post-commit states.
func (blockExec *BlockExecutor) Store() Store {
	return blockExec.store
}

// CreateProposalBlock builds a block this node proposes at the given height,
// on top of the given state, carrying the commit that finalized the
// previous block.
func (blockExec *BlockExecutor) CreateProposalBlock(
	height int64,
	state State,
	commit *types.Commit,
	proposerAddr []byte,
) *types.Block {
	txs := blockExec.txProvider(height)
	return state.MakeBlock(height, txs, commit, proposerAddr)
}

// ValidateBlock validates the given block against the given state. If the
// block is invalid, it returns an error.
func (blockExec *BlockExecutor) ValidateBlock(state State, block *types.Block) error {
	return validateBlock(state, block)
}

// ApplyBlock validates the block against the state, hands it to the
// application, and persists the updated state. It returns the new state.
//
// The state is persisted before the result is returned: if the node dies
// right after, it resumes from the height it committed, never before it.
func (blockExec *BlockExecutor) ApplyBlock(
	ctx context.Context,
	state State,
	blockID types.BlockID,
	block *types.Block,
) (State, error) {
	if err := validateBlock(state, block); err != nil {
		return state, fmt.Errorf("invalid block: %w", err)
	}

	startTime := time.Now()
	if err := blockExec.app.ApplyBlock(ctx, block); err != nil {
		return state, fmt.Errorf("application rejected block: %w", err)
	}
	blockExec.logger.Debug("applied block to application",
		"height", block.Height,
		"block_hash", block.Hash(),
		"elapsed", time.Since(startTime),
	)

	newState, err := updateState(state, blockID, block)
	if err != nil {
		return state, fmt.Errorf("commit failed for application: %w", err)
	}

	if err := blockExec.store.Save(newState); err != nil {
		return state, fmt.Errorf("saving state: %w", err)
	}

	blockExec.logger.Info("committed state",
		"height", block.Height,
		"num_txs", len(block.Data),
		"block_hash", block.Hash(),
	)

	return newState, nil
}

// updateState returns a new State updated according to the block just
// committed. The validator set is static, so it is carried over, but the
// set used to validate the next LastCommit shifts by one height.
func updateState(
	state State,
	blockID types.BlockID,
	block *types.Block,
) (State, error) {
	if !blockID.Equals(block.BlockID()) {
		return state, fmt.Errorf("blockID %v does not match block %v", blockID, block.BlockID())
	}

	return State{
		ChainID:       state.ChainID,
		InitialHeight: state.InitialHeight,

		LastBlockHeight: block.Height,
		LastBlockID:     blockID,
		LastBlockTime:   block.Time,

		Validators:     state.Validators.Copy(),
		LastValidators: state.Validators.Copy(),
	}, nil
}
