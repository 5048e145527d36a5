// Package mock provides in-memory raft.Network and raft.Storage
// implementations for the property-test harness of spec.md §8.
// Grounded on mblichar-raft-playground's raftNetworkingMock (a
// registry of per-node response mocks under one mutex, with recorded
// sent commands) and other_examples/divtxt-raft's in-process network
// interface, generalized from per-call scripted responses to a live
// routing table between real Member instances plus partition control.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/mansa-labs/raft/pkg/raft"
)

// Network is a fully-connected in-memory router between a fixed set
// of members, registered after construction via Register. Partition
// lets tests sever connectivity between arbitrary pairs without
// tearing down members, exercising spec.md §4.6.
type Network struct {
	mu          sync.Mutex
	receivers   map[raft.MemberId]func(ctx context.Context, req raft.RPCRequest) (raft.RPCReply, error)
	partitioned map[raft.MemberId]map[raft.MemberId]struct{}
	views       map[raft.MemberId]*view
}

// view is the per-observer ConnectedMembers watchable: each member
// sees its own reachability picture, so a partition is not
// necessarily symmetric.
type view struct {
	watchable *raft.Watchable[map[raft.MemberId]struct{}]
}

func NewNetwork() *Network {
	return &Network{
		receivers:   make(map[raft.MemberId]func(ctx context.Context, req raft.RPCRequest) (raft.RPCReply, error)),
		partitioned: make(map[raft.MemberId]map[raft.MemberId]struct{}),
		views:       make(map[raft.MemberId]*view),
	}
}

// Register associates a member id with the handler that receives its
// inbound RPCs (typically (*raft.Member).OnRPC), and returns the
// per-member Network handle to pass into raft.MemberCfg.
func (n *Network) Register(id raft.MemberId, receiver func(ctx context.Context, req raft.RPCRequest) (raft.RPCReply, error)) *View {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.receivers[id] = receiver

	if _, found := n.views[id]; !found {
		n.views[id] = &view{watchable: raft.NewWatchable(map[raft.MemberId]struct{}{})}
	}

	n.recomputeAllLocked()

	return &View{net: n, self: id}
}

// SetReceiver rebinds the inbound handler for an already-registered
// id, without disturbing its connectivity watchable -- needed when a
// Member must be constructed before its own OnRPC can be wired in,
// since construction itself subscribes to ConnectedMembers().
func (n *Network) SetReceiver(id raft.MemberId, receiver func(ctx context.Context, req raft.RPCRequest) (raft.RPCReply, error)) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.receivers[id] = receiver
}

// Partition cuts connectivity from 'from' to 'to' in one direction;
// call it twice to sever both directions, matching how real network
// partitions are rarely symmetric.
func (n *Network) Partition(from, to raft.MemberId) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.partitioned[from] == nil {
		n.partitioned[from] = make(map[raft.MemberId]struct{})
	}
	n.partitioned[from][to] = struct{}{}

	n.recomputeAllLocked()
}

// Heal restores connectivity from 'from' to 'to'.
func (n *Network) Heal(from, to raft.MemberId) {
	n.mu.Lock()
	defer n.mu.Unlock()

	delete(n.partitioned[from], to)

	n.recomputeAllLocked()
}

// HealAll restores full connectivity between every registered member.
func (n *Network) HealAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.partitioned = make(map[raft.MemberId]map[raft.MemberId]struct{})

	n.recomputeAllLocked()
}

func (n *Network) recomputeAllLocked() {
	for id, v := range n.views {
		connected := make(map[raft.MemberId]struct{})

		for peer := range n.receivers {
			if peer == id {
				continue
			}

			if n.reachableLocked(id, peer) {
				connected[peer] = struct{}{}
			}
		}

		v.watchable.Set(connected)
	}
}

func (n *Network) reachableLocked(from, to raft.MemberId) bool {
	_, cut := n.partitioned[from][to]
	return !cut
}

func (n *Network) sendRPC(ctx context.Context, from, dest raft.MemberId, req raft.RPCRequest) (raft.RPCReply, error) {
	n.mu.Lock()
	receiver, found := n.receivers[dest]
	reachable := found && n.reachableLocked(from, dest)
	n.mu.Unlock()

	if !found {
		return nil, fmt.Errorf("unknown destination member %s", dest)
	}

	if !reachable {
		return nil, raft.ErrDeliveryFailure
	}

	return receiver(ctx, req)
}

// View is the per-member raft.Network handle returned by Register.
type View struct {
	net  *Network
	self raft.MemberId
}

func (v *View) SendRPC(ctx context.Context, dest raft.MemberId, req raft.RPCRequest) (raft.RPCReply, error) {
	return v.net.sendRPC(ctx, v.self, dest, req)
}

func (v *View) ConnectedMembers() *raft.Watchable[map[raft.MemberId]struct{}] {
	v.net.mu.Lock()
	defer v.net.mu.Unlock()

	return v.net.views[v.self].watchable
}
