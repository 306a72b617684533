package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/orderedcode"
	dbm "github.com/tendermint/tm-db"
)

// Store defines the state store interface. It is used by the block executor
// to persist the post-commit state before the engine advances to the next
// height, so a restart never resumes from a height whose state was lost.
type Store interface {
	// Load loads the current state of the blockchain.
	Load() (State, error)
	// Save overwrites the previous state with the updated one.
	Save(State) error
	// Bootstrap is used for bootstrapping state when not starting from a
	// genesis.
	Bootstrap(State) error
	// Close closes the connection with the database.
	Close() error
}

// dbStore wraps a tm-db backend.
type dbStore struct {
	db dbm.DB
}

var _ Store = (*dbStore)(nil)

// NewStore creates the dbStore of the state pkg.
func NewStore(db dbm.DB) Store {
	return dbStore{db}
}

// Load loads the State from the database.
func (store dbStore) Load() (State, error) {
	bz, err := store.db.Get(stateKey())
	if err != nil {
		return State{}, err
	}
	if len(bz) == 0 {
		return State{}, nil
	}

	var state State
	if err := json.Unmarshal(bz, &state); err != nil {
		return State{}, fmt.Errorf("loadState: data has been corrupted or its format has changed: %w", err)
	}
	return state, nil
}

// Save persists the State to the database, synchronously.
func (store dbStore) Save(state State) error {
	if state.IsEmpty() {
		return errors.New("cannot save empty state")
	}
	bz, err := state.Bytes()
	if err != nil {
		return err
	}
	return store.db.SetSync(stateKey(), bz)
}

// Bootstrap saves a new state, used e.g. by state sync when starting from
// non-zero height.
func (store dbStore) Bootstrap(state State) error {
	return store.Save(state)
}

// Close closes the state database.
func (store dbStore) Close() error {
	return store.db.Close()
}

//----------------------------------------------------------------------------

const prefixState = int64(8)

func stateKey() []byte {
	key, err := orderedcode.Append(nil, prefixState)
	if err != nil {
		panic(err)
	}
	return key
}
