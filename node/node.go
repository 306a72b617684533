// Package node assembles a validator node from its parts: config, stores,
// private validator, event bus and the consensus engine.
package node

import (
	"context"
	"fmt"

	dbm "github.com/tendermint/tm-db"

	"github.com/roundstep/roundstep/config"
	"github.com/roundstep/roundstep/consensus"
	"github.com/roundstep/roundstep/eventbus"
	"github.com/roundstep/roundstep/libs/log"
	"github.com/roundstep/roundstep/libs/service"
	"github.com/roundstep/roundstep/privval"
	sm "github.com/roundstep/roundstep/state"
	"github.com/roundstep/roundstep/store"
	"github.com/roundstep/roundstep/types"
)

// Node is the highest level interface to a full consensus node. It includes
// all configuration information and running services.
type Node struct {
	service.BaseService
	logger log.Logger

	config     *config.Config
	genesisDoc *types.GenesisDoc

	privValidator types.PrivValidator

	stateStore sm.Store
	blockStore *store.BlockStore
	blockDB    dbm.DB
	stateDB    dbm.DB

	eventBus  *eventbus.Bus
	consensus *consensus.State
}

// Option sets an optional parameter on the Node.
type Option func(*Node)

// WithPrivValidator overrides the file-based private validator the node
// would otherwise load from its config paths. Pass nil for an observer node
// that follows consensus without voting.
func WithPrivValidator(pv types.PrivValidator) Option {
	return func(n *Node) { n.privValidator = pv }
}

// New constructs a node from the given config. The application receives every
// committed block; a nil txProvider produces empty blocks. The node starts
// with a transport that drops all broadcasts; call Join to connect it to
// other nodes before (or instead of) running it standalone.
func New(
	logger log.Logger,
	cfg *config.Config,
	app sm.Application,
	txProvider sm.TxProvider,
	options ...Option,
) (*Node, error) {
	n := &Node{
		logger: logger,
		config: cfg,
	}

	pv, err := privval.LoadOrGenFilePV(cfg.PrivValidatorKeyFile(), cfg.PrivValidatorStateFile())
	if err != nil {
		return nil, fmt.Errorf("loading private validator: %w", err)
	}
	n.privValidator = pv

	for _, option := range options {
		option(n)
	}

	genDoc, err := types.GenesisDocFromFile(cfg.GenesisFile())
	if err != nil {
		return nil, err
	}
	n.genesisDoc = genDoc

	backend := dbm.BackendType(cfg.DBBackend)
	n.blockDB, err = dbm.NewDB("blockstore", backend, cfg.DBDir())
	if err != nil {
		return nil, fmt.Errorf("opening block store: %w", err)
	}
	n.stateDB, err = dbm.NewDB("state", backend, cfg.DBDir())
	if err != nil {
		n.blockDB.Close()
		return nil, fmt.Errorf("opening state store: %w", err)
	}

	n.blockStore = store.NewBlockStore(n.blockDB)
	n.stateStore = sm.NewStore(n.stateDB)

	state, err := loadStateFromDBOrGenesis(n.stateStore, genDoc)
	if err != nil {
		n.closeStores()
		return nil, err
	}

	n.eventBus = eventbus.NewBus(logger.With("module", "events"))

	blockExec := sm.NewBlockExecutor(n.stateStore, logger.With("module", "state"), app, txProvider)

	csState, err := consensus.NewState(
		logger.With("module", "consensus"),
		cfg.Consensus,
		state,
		blockExec,
		n.blockStore,
		consensus.NopTransport{},
		n.eventBus,
	)
	if err != nil {
		n.closeStores()
		return nil, fmt.Errorf("creating consensus state: %w", err)
	}
	csState.SetPrivValidator(n.privValidator)
	n.consensus = csState

	n.BaseService = *service.NewBaseService(logger, "Node", n)
	return n, nil
}

// loadStateFromDBOrGenesis returns the persisted state if the store holds
// one, falling back to the genesis state for a fresh node. A persisted state
// always wins: finality must survive restarts, so a node may never re-derive
// an earlier state from genesis once it has committed past it.
func loadStateFromDBOrGenesis(stateStore sm.Store, genDoc *types.GenesisDoc) (sm.State, error) {
	state, err := stateStore.Load()
	if err != nil {
		return sm.State{}, fmt.Errorf("loading state: %w", err)
	}
	if state.IsEmpty() {
		state, err = sm.MakeGenesisState(genDoc)
		if err != nil {
			return sm.State{}, err
		}
		if err := stateStore.Bootstrap(state); err != nil {
			return sm.State{}, fmt.Errorf("bootstrapping state: %w", err)
		}
	} else if state.ChainID != genDoc.ChainID {
		return sm.State{}, fmt.Errorf("persisted state chain id %q does not match genesis %q",
			state.ChainID, genDoc.ChainID)
	}
	return state, nil
}

// Join connects the node to an in-process network. Must be called before
// Start.
func (n *Node) Join(network *consensus.LocalNetwork) {
	n.consensus.SetTransport(network.Join(n.config.Moniker, n.consensus))
}

// OnStart implements service.Implementation. It starts the event bus and
// then the consensus engine.
func (n *Node) OnStart(ctx context.Context) error {
	if err := n.eventBus.Start(ctx); err != nil {
		return err
	}
	if err := n.consensus.Start(ctx); err != nil {
		return err
	}

	n.logger.Info("started node",
		"moniker", n.config.Moniker,
		"chain_id", n.genesisDoc.ChainID,
		"last_height", n.blockStore.Height(),
	)
	return nil
}

// OnStop implements service.Implementation.
func (n *Node) OnStop() {
	if n.consensus.IsRunning() {
		_ = n.consensus.Stop()
	}
	if n.eventBus.IsRunning() {
		_ = n.eventBus.Stop()
	}
	n.closeStores()
}

func (n *Node) closeStores() {
	if err := n.stateStore.Close(); err != nil {
		n.logger.Error("failed closing state store", "err", err)
	}
	if err := n.blockDB.Close(); err != nil {
		n.logger.Error("failed closing block store", "err", err)
	}
}

// EventBus returns the node's event bus. Subscribe before Start to observe
// every event.
func (n *Node) EventBus() *eventbus.Bus {
	return n.eventBus
}

// Consensus returns the node's consensus engine.
func (n *Node) Consensus() *consensus.State {
	return n.consensus
}

// BlockStore returns the node's block store.
func (n *Node) BlockStore() *store.BlockStore {
	return n.blockStore
}

// GenesisDoc returns the node's genesis document.
func (n *Node) GenesisDoc() *types.GenesisDoc {
	return n.genesisDoc
}
