package state_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	sm "github.com/roundstep/roundstep/state"
)

func TestStoreLoadEmpty(t *testing.T) {
	stateStore := sm.NewStore(dbm.NewMemDB())

	state, err := stateStore.Load()
	require.NoError(t, err)
	assert.True(t, state.IsEmpty())
}

func TestStoreSaveLoad(t *testing.T) {
	stateStore := sm.NewStore(dbm.NewMemDB())
	state, _ := makeTestState(t, 4)

	require.NoError(t, stateStore.Save(state))

	loaded, err := stateStore.Load()
	require.NoError(t, err)
	eq, err := state.Equals(loaded)
	require.NoError(t, err)
	assert.True(t, eq, "loaded state should equal the saved one")

	// Save overwrites.
	state.LastBlockHeight = 7
	require.NoError(t, stateStore.Save(state))
	loaded, err = stateStore.Load()
	require.NoError(t, err)
	assert.EqualValues(t, 7, loaded.LastBlockHeight)
}

func TestStoreSaveEmpty(t *testing.T) {
	stateStore := sm.NewStore(dbm.NewMemDB())
	assert.Error(t, stateStore.Save(sm.State{}))
}

func TestStoreBootstrap(t *testing.T) {
	stateStore := sm.NewStore(dbm.NewMemDB())
	state, _ := makeTestState(t, 4)
	state.LastBlockHeight = 100

	require.NoError(t, stateStore.Bootstrap(state))

	loaded, err := stateStore.Load()
	require.NoError(t, err)
	assert.EqualValues(t, 100, loaded.LastBlockHeight)
}
