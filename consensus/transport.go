package consensus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/creachadair/taskgroup"

	"github.com/roundstep/roundstep/libs/log"
	"github.com/roundstep/roundstep/types"
)

// Transport broadcasts consensus messages to the other validators. The
// engine treats it as fire-and-forget: delivery is best-effort and the
// protocol's timeouts cover losses.
type Transport interface {
	BroadcastProposal(ctx context.Context, proposal *types.Proposal, block *types.Block) error
	BroadcastVote(ctx context.Context, vote *types.Vote) error
}

// Receiver consumes consensus messages a transport delivers. The engine
// implements it; a transport calls it from delivery goroutines, so
// implementations must be safe for concurrent use.
type Receiver interface {
	ReceiveProposal(proposal *types.Proposal, block *types.Block, from string)
	ReceiveVote(vote *types.Vote, from string)
}

// NopTransport drops every broadcast. Used by single-validator nodes and
// tests that drive the engine directly.
type NopTransport struct{}

var _ Transport = NopTransport{}

func (NopTransport) BroadcastProposal(context.Context, *types.Proposal, *types.Block) error {
	return nil
}
func (NopTransport) BroadcastVote(context.Context, *types.Vote) error { return nil }

//-----------------------------------------------------------------------------

// LinkFilter decides whether a message from one node reaches another.
// Returning false drops the delivery. Used to simulate partitions and
// faulty links.
type LinkFilter func(from, to string) bool

// LocalNetwork is an in-process message hub connecting consensus engines.
// Each delivery runs in its own goroutine, so nodes observe messages in
// nondeterministic order, like they would on a real network. An optional
// per-hub delay and link filter simulate latency and partitions.
type LocalNetwork struct {
	logger log.Logger

	ctx    context.Context
	cancel context.CancelFunc
	g      *taskgroup.Group

	mtx    sync.RWMutex
	nodes  map[string]Receiver
	delay  time.Duration
	filter LinkFilter
}

// NewLocalNetwork returns an empty hub. Nodes join with Join; Close stops
// all in-flight deliveries.
func NewLocalNetwork(logger log.Logger) *LocalNetwork {
	ctx, cancel := context.WithCancel(context.Background())
	return &LocalNetwork{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		g:      taskgroup.New(nil),
		nodes:  make(map[string]Receiver),
	}
}

// SetDelay sets the simulated one-way latency for every link.
func (net *LocalNetwork) SetDelay(d time.Duration) {
	net.mtx.Lock()
	defer net.mtx.Unlock()
	net.delay = d
}

// SetFilter installs a link filter. A nil filter delivers everything.
func (net *LocalNetwork) SetFilter(f LinkFilter) {
	net.mtx.Lock()
	defer net.mtx.Unlock()
	net.filter = f
}

// Join registers a node under the given id and returns the transport it
// should broadcast through.
func (net *LocalNetwork) Join(id string, r Receiver) Transport {
	net.mtx.Lock()
	defer net.mtx.Unlock()
	net.nodes[id] = r
	return &localTransport{net: net, id: id}
}

// Close stops all pending deliveries and waits for the delivery goroutines
// to finish.
func (net *LocalNetwork) Close() {
	net.cancel()
	_ = net.g.Wait()
}

// broadcast fans deliver out to every node except the sender.
func (net *LocalNetwork) broadcast(from string, deliver func(r Receiver)) {
	net.mtx.RLock()
	delay := net.delay
	filter := net.filter
	targets := make(map[string]Receiver, len(net.nodes))
	for id, r := range net.nodes {
		if id != from {
			targets[id] = r
		}
	}
	net.mtx.RUnlock()

	for id, r := range targets {
		id, r := id, r
		net.g.Go(func() error {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-net.ctx.Done():
					return nil
				}
			}
			if filter != nil && !filter(from, id) {
				net.logger.Debug("dropping delivery", "from", from, "to", id)
				return nil
			}
			deliver(r)
			return nil
		})
	}
}

// localTransport is one node's handle on the hub.
type localTransport struct {
	net *LocalNetwork
	id  string
}

var _ Transport = (*localTransport)(nil)

func (t *localTransport) BroadcastProposal(ctx context.Context, proposal *types.Proposal, block *types.Block) error {
	if proposal == nil || block == nil {
		return fmt.Errorf("cannot broadcast incomplete proposal")
	}
	from := t.id
	t.net.broadcast(from, func(r Receiver) {
		r.ReceiveProposal(proposal, block, from)
	})
	return nil
}

func (t *localTransport) BroadcastVote(ctx context.Context, vote *types.Vote) error {
	if vote == nil {
		return fmt.Errorf("cannot broadcast nil vote")
	}
	from := t.id
	t.net.broadcast(from, func(r Receiver) {
		r.ReceiveVote(vote, from)
	})
	return nil
}
