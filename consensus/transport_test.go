package consensus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	dbm "github.com/tendermint/tm-db"

	"github.com/roundstep/roundstep/config"
	"github.com/roundstep/roundstep/eventbus"
	"github.com/roundstep/roundstep/libs/log"
	sm "github.com/roundstep/roundstep/state"
	"github.com/roundstep/roundstep/store"
	"github.com/roundstep/roundstep/types"
)

// recordingReceiver collects deliveries on channels so tests can assert on
// them.
type recordingReceiver struct {
	proposals chan *types.Proposal
	votes     chan *types.Vote
}

func newRecordingReceiver() *recordingReceiver {
	return &recordingReceiver{
		proposals: make(chan *types.Proposal, 16),
		votes:     make(chan *types.Vote, 16),
	}
}

func (r *recordingReceiver) ReceiveProposal(proposal *types.Proposal, block *types.Block, from string) {
	r.proposals <- proposal
}

func (r *recordingReceiver) ReceiveVote(vote *types.Vote, from string) {
	r.votes <- vote
}

func (r *recordingReceiver) expectVote(t *testing.T) *types.Vote {
	t.Helper()
	select {
	case vote := <-r.votes:
		return vote
	case <-time.After(ensureTimeout):
		t.Fatal("expected a vote delivery")
	}
	panic("unreachable")
}

func (r *recordingReceiver) expectNoVote(t *testing.T) {
	t.Helper()
	select {
	case vote := <-r.votes:
		t.Fatalf("unexpected vote delivery: %v", vote)
	case <-time.After(50 * time.Millisecond):
	}
}

func makeTestVote(t *testing.T) *types.Vote {
	t.Helper()

	vals, privVals := types.RandValidatorSet(1, testMinPower)
	vote, err := types.MakeVote(privVals[0], "transport-test-chain", 0, 1, 0,
		types.PrevoteType, types.RandBlockID(), time.Now().Round(0).UTC())
	require.NoError(t, err)
	require.True(t, vals.HasAddress(vote.ValidatorAddress))
	return vote
}

func TestLocalNetworkDelivery(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	net := NewLocalNetwork(log.NewTestingLogger(t))
	defer net.Close()

	ra, rb, rc := newRecordingReceiver(), newRecordingReceiver(), newRecordingReceiver()
	ta := net.Join("a", ra)
	net.Join("b", rb)
	net.Join("c", rc)

	vote := makeTestVote(t)
	require.NoError(t, ta.BroadcastVote(context.Background(), vote))

	// everyone but the sender receives the vote
	assert.Equal(t, vote, rb.expectVote(t))
	assert.Equal(t, vote, rc.expectVote(t))
	ra.expectNoVote(t)
}

func TestLocalNetworkFilterDropsLinks(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	net := NewLocalNetwork(log.NewTestingLogger(t))
	defer net.Close()

	ra, rb, rc := newRecordingReceiver(), newRecordingReceiver(), newRecordingReceiver()
	ta := net.Join("a", ra)
	net.Join("b", rb)
	net.Join("c", rc)

	// partition a from b, leave a-c intact
	net.SetFilter(func(from, to string) bool {
		return !(from == "a" && to == "b")
	})

	vote := makeTestVote(t)
	require.NoError(t, ta.BroadcastVote(context.Background(), vote))

	assert.Equal(t, vote, rc.expectVote(t))
	rb.expectNoVote(t)
}

func TestLocalNetworkCloseStopsDelayedDeliveries(t *testing.T) {
	defer leaktest.CheckTimeout(t, time.Second)()

	net := NewLocalNetwork(log.NewTestingLogger(t))

	ra, rb := newRecordingReceiver(), newRecordingReceiver()
	ta := net.Join("a", ra)
	net.Join("b", rb)

	net.SetDelay(time.Hour)
	require.NoError(t, ta.BroadcastVote(context.Background(), makeTestVote(t)))

	// Close interrupts the delayed delivery and waits it out.
	net.Close()
	rb.expectNoVote(t)
}

func TestLocalTransportRejectsIncompleteMessages(t *testing.T) {
	net := NewLocalNetwork(log.NewNopLogger())
	defer net.Close()

	tr := net.Join("a", newRecordingReceiver())

	require.Error(t, tr.BroadcastVote(context.Background(), nil))
	require.Error(t, tr.BroadcastProposal(context.Background(), nil, nil))

	proposal := types.NewProposal(1, 0, -1, types.RandBlockID(), time.Now().Round(0).UTC())
	require.Error(t, tr.BroadcastProposal(context.Background(), proposal, nil))
}

//-----------------------------------------------------------------------------
// network integration: several engines reach consensus over a LocalNetwork

func startNetworkNode(
	ctx context.Context,
	t *testing.T,
	net *LocalNetwork,
	id string,
	state sm.State,
	pv types.PrivValidator,
) *State {
	t.Helper()

	logger := log.NewTestingLogger(t).With("node", id)

	blockStore := store.NewBlockStore(dbm.NewMemDB())
	stateStore := sm.NewStore(dbm.NewMemDB())
	require.NoError(t, stateStore.Save(state))

	eventBus := eventbus.NewBus(logger.With("module", "events"))
	require.NoError(t, eventBus.Start(ctx))

	blockExec := sm.NewBlockExecutor(stateStore, logger, sm.NoopApplication{}, nil)

	// the transport handle only needs the hub and an id, so the engine can
	// be constructed before it joins the network
	transport := &localTransport{net: net, id: id}

	cs, err := NewState(logger.With("module", "consensus"),
		config.TestConsensusConfig(),
		state,
		blockExec,
		blockStore,
		transport,
		eventBus,
	)
	require.NoError(t, err)
	cs.SetPrivValidator(pv)

	net.Join(id, cs)
	return cs
}

// Four engines connected by a LocalNetwork decide the same blocks for
// several heights.
func TestNetworkConsensus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network consensus test in short mode")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const (
		nVals     = 4
		endHeight = 3
	)

	state, privVals := makeGenesisState(t, nVals)

	net := NewLocalNetwork(log.NewTestingLogger(t))
	t.Cleanup(net.Close) // after the engines have shut down

	css := make([]*State, nVals)
	blockChs := make([]<-chan eventbus.Message, nVals)
	for i := 0; i < nVals; i++ {
		cs := startNetworkNode(ctx, t, net, fmt.Sprintf("node%d", i), state, privVals[i])
		blockChs[i] = subscribe(t, cs.eventBus, types.EventNewBlockValue)
		css[i] = cs
	}
	for _, cs := range css {
		cs := cs
		require.NoError(t, cs.Start(ctx))
		t.Cleanup(func() {
			_ = cs.Stop()
			cancel()
			cs.Wait()
		})
	}

	// every node must decide the same block at every height
	hashes := make(map[int64][]byte, endHeight)
	for height := int64(1); height <= endHeight; height++ {
		for i, ch := range blockChs {
			msg := ensureMessageBeforeTimeout(t, ch, 10*time.Second)
			blockEvent, ok := msg.Data().(types.EventDataNewBlock)
			require.True(t, ok, "expected EventDataNewBlock, got %T", msg.Data())
			require.Equal(t, height, blockEvent.Block.Height, "node %d", i)

			if expected, seen := hashes[height]; seen {
				require.EqualValues(t, expected, blockEvent.Block.Hash(), "node %d decided a different block at height %d", i, height)
			} else {
				hashes[height] = blockEvent.Block.Hash()
			}
		}
	}
}
