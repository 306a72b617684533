package state

import (
	"bytes"
	"fmt"

	"github.com/roundstep/roundstep/types"
)

//-----------------------------------------------------
// Validate block

func validateBlock(state State, block *types.Block) error {
	// Validate internal consistency.
	if err := block.ValidateBasic(); err != nil {
		return err
	}

	// Validate basic info.
	if block.ChainID != state.ChainID {
		return fmt.Errorf("wrong Block.Header.ChainID. Expected %v, got %v",
			state.ChainID,
			block.ChainID,
		)
	}
	if state.LastBlockHeight == 0 && block.Height != state.InitialHeight {
		return fmt.Errorf("wrong Block.Header.Height. Expected %v for initial block, got %v",
			state.InitialHeight, block.Height)
	}
	if state.LastBlockHeight > 0 && block.Height != state.LastBlockHeight+1 {
		return fmt.Errorf("wrong Block.Header.Height. Expected %v, got %v",
			state.LastBlockHeight+1,
			block.Height,
		)
	}

	// Validate prev block info.
	if !block.LastBlockID.Equals(state.LastBlockID) {
		return fmt.Errorf("wrong Block.Header.LastBlockID. Expected %v, got %v",
			state.LastBlockID,
			block.LastBlockID,
		)
	}

	if !bytes.Equal(block.ValidatorsHash, state.Validators.Hash()) {
		return fmt.Errorf("wrong Block.Header.ValidatorsHash. Expected %X, got %v",
			state.Validators.Hash(),
			block.ValidatorsHash,
		)
	}

	// Validate block LastCommit.
	if block.Height == state.InitialHeight {
		if block.LastCommit != nil && len(block.LastCommit.Signatures) != 0 {
			return fmt.Errorf("initial block can't have LastCommit signatures")
		}
	} else {
		if err := state.LastValidators.VerifyCommit(
			state.ChainID, state.LastBlockID, block.Height-1, block.LastCommit); err != nil {
			return fmt.Errorf("error validating block: %w", err)
		}
	}

	// The proposer must be a current validator.
	if !state.Validators.HasAddress(block.ProposerAddress) {
		return fmt.Errorf("block.Header.ProposerAddress %X is not a validator",
			block.ProposerAddress,
		)
	}

	// The block must be newer than the one it builds on.
	if state.LastBlockHeight > 0 && !block.Time.After(state.LastBlockTime) {
		return fmt.Errorf("block time %v not greater than last block time %v",
			block.Time,
			state.LastBlockTime,
		)
	}

	return nil
}
