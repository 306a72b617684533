package state

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/roundstep/roundstep/types"
)

// State is a short description of the latest committed block of the chain.
// It keeps all information necessary to validate new blocks, including the
// last validator set. All fields are exposed so the struct can be easily
// serialized, but none of them should be mutated directly. Instead, use
// state.Copy().
//
// NOTE: not goroutine-safe.
type State struct {
	// immutable
	ChainID       string `json:"chain_id"`
	InitialHeight int64  `json:"initial_height,string"` // should be 1, not 0, when starting from height 1

	// LastBlockHeight=0 at genesis (i.e. block(H=0) does not exist)
	LastBlockHeight int64         `json:"last_block_height,string"`
	LastBlockID     types.BlockID `json:"last_block_id"`
	LastBlockTime   time.Time     `json:"last_block_time"`

	// LastValidators is used to validate block.LastCommit.
	Validators     *types.ValidatorSet `json:"validators"`
	LastValidators *types.ValidatorSet `json:"last_validators"`
}

// Copy makes a copy of the State for mutating.
func (state State) Copy() State {
	return State{
		ChainID:       state.ChainID,
		InitialHeight: state.InitialHeight,

		LastBlockHeight: state.LastBlockHeight,
		LastBlockID:     state.LastBlockID,
		LastBlockTime:   state.LastBlockTime,

		Validators:     state.Validators.Copy(),
		LastValidators: state.LastValidators.Copy(),
	}
}

// Equals returns true if the States are identical.
func (state State) Equals(state2 State) (bool, error) {
	sbz, err := state.Bytes()
	if err != nil {
		return false, err
	}
	s2bz, err := state2.Bytes()
	if err != nil {
		return false, err
	}
	return string(sbz) == string(s2bz), nil
}

// Bytes serializes the State using JSON.
func (state State) Bytes() ([]byte, error) {
	return json.Marshal(state)
}

// IsEmpty returns true if the State is equal to the empty State.
func (state State) IsEmpty() bool {
	return state.Validators == nil
}

//------------------------------------------------------------------------
// Create a block from the latest state

// MakeBlock builds a block from the current state with the given txs and
// commit, filling in header fields the proposer is responsible for.
func (state State) MakeBlock(
	height int64,
	txs types.Txs,
	commit *types.Commit,
	proposerAddress []byte,
) *types.Block {
	block := types.MakeBlock(height, txs, commit)

	block.ChainID = state.ChainID
	block.Time = time.Now().Round(0).UTC()
	block.LastBlockID = state.LastBlockID
	block.LastCommitHash = commit.Hash()
	block.DataHash = txs.Hash()
	block.ValidatorsHash = state.Validators.Hash()
	block.ProposerAddress = proposerAddress

	return block
}

//------------------------------------------------------------------------
// Genesis

// MakeGenesisStateFromFile reads and unmarshals state from the given file.
//
// Used during node setup and in tests.
func MakeGenesisStateFromFile(genDocFile string) (State, error) {
	genDoc, err := MakeGenesisDocFromFile(genDocFile)
	if err != nil {
		return State{}, err
	}
	return MakeGenesisState(genDoc)
}

// MakeGenesisDocFromFile reads and unmarshals genesis doc from the given
// file.
func MakeGenesisDocFromFile(genDocFile string) (*types.GenesisDoc, error) {
	genDocJSON, err := os.ReadFile(genDocFile)
	if err != nil {
		return nil, fmt.Errorf("couldn't read GenesisDoc file: %w", err)
	}
	genDoc, err := types.GenesisDocFromJSON(genDocJSON)
	if err != nil {
		return nil, fmt.Errorf("error reading GenesisDoc: %w", err)
	}
	return genDoc, nil
}

// MakeGenesisState creates state from types.GenesisDoc.
func MakeGenesisState(genDoc *types.GenesisDoc) (State, error) {
	if err := genDoc.ValidateAndComplete(); err != nil {
		return State{}, fmt.Errorf("error in genesis doc: %w", err)
	}

	validatorSet := genDoc.ValidatorSet()
	if err := validatorSet.ValidateBasic(); err != nil {
		return State{}, fmt.Errorf("error in genesis validators: %w", err)
	}

	return State{
		ChainID:       genDoc.ChainID,
		InitialHeight: genDoc.InitialHeight,

		LastBlockHeight: 0,
		LastBlockID:     types.BlockID{},
		LastBlockTime:   genDoc.GenesisTime,

		Validators:     validatorSet,
		LastValidators: types.NewValidatorSet(nil),
	}, nil
}
