package raft

import (
	"context"
	"errors"
	"fmt"
)

// ErrDeliveryFailure is returned by Network.SendRPC when the request
// could not be delivered. Per spec.md §6 this does not imply
// non-delivery -- the peer may have received and even acted on the
// request before the failure surfaced.
var ErrDeliveryFailure = errors.New("raft: rpc delivery failure")

// Network is the unary RPC + connectivity port. Concrete
// implementations live in pkg/transport (wire transports) and
// pkg/mock (in-memory, for the property-test harness). Grounded on
// the teacher's sendMsg/broadcastMsg plus original_source's
// raft_network_interface_t for connected_members().
type Network interface {
	SendRPC(ctx context.Context, dest MemberId, req RPCRequest) (RPCReply, error)

	// ConnectedMembers is the observable set of members currently
	// reachable. Implementations must support change notification via
	// the returned Watchable.
	ConnectedMembers() *Watchable[map[MemberId]struct{}]
}

// RPCRequest is the sum type of the four wire requests.
type RPCRequest interface {
	rpcRequest()
	GetTerm() Term
	fmt.Stringer
}

// RPCReply is the sum type of the four wire replies.
type RPCReply interface {
	rpcReply()
	fmt.Stringer
}

type RequestVoteRequest struct {
	Term         Term
	CandidateId  MemberId
	LastLogIndex LogIndex
	LastLogTerm  Term
}

func (RequestVoteRequest) rpcRequest()  {}
func (r RequestVoteRequest) GetTerm() Term { return r.Term }
func (r RequestVoteRequest) String() string {
	return fmt.Sprintf("RequestVote{term: %d, candidate: %s, lastLogIndex: %d, lastLogTerm: %d}",
		r.Term, r.CandidateId, r.LastLogIndex, r.LastLogTerm)
}

type RequestVoteReply struct {
	Term    Term
	Granted bool
}

func (RequestVoteReply) rpcReply() {}
func (r RequestVoteReply) String() string {
	return fmt.Sprintf("RequestVoteReply{term: %d, granted: %v}", r.Term, r.Granted)
}

type AppendEntriesRequest struct {
	Term         Term
	LeaderId     MemberId
	Log          Log
	LeaderCommit LogIndex
}

func (AppendEntriesRequest) rpcRequest()  {}
func (r AppendEntriesRequest) GetTerm() Term { return r.Term }
func (r AppendEntriesRequest) String() string {
	return fmt.Sprintf("AppendEntries{term: %d, leader: %s, prevIndex: %d, prevTerm: %d, %d entries, leaderCommit: %d}",
		r.Term, r.LeaderId, r.Log.PrevIndex, r.Log.PrevTerm, len(r.Log.Entries), r.LeaderCommit)
}

type AppendEntriesReply struct {
	Term    Term
	Success bool
}

func (AppendEntriesReply) rpcReply() {}
func (r AppendEntriesReply) String() string {
	return fmt.Sprintf("AppendEntriesReply{term: %d, success: %v}", r.Term, r.Success)
}

type InstallSnapshotRequest struct {
	Term              Term
	LeaderId          MemberId
	LastIncludedIndex LogIndex
	LastIncludedTerm  Term
	State             []byte
	Config            ComplexConfig
}

func (InstallSnapshotRequest) rpcRequest()  {}
func (r InstallSnapshotRequest) GetTerm() Term { return r.Term }
func (r InstallSnapshotRequest) String() string {
	return fmt.Sprintf("InstallSnapshot{term: %d, leader: %s, lastIncludedIndex: %d, lastIncludedTerm: %d, %d bytes of state}",
		r.Term, r.LeaderId, r.LastIncludedIndex, r.LastIncludedTerm, len(r.State))
}

type InstallSnapshotReply struct {
	Term Term
}

func (InstallSnapshotReply) rpcReply() {}
func (r InstallSnapshotReply) String() string {
	return fmt.Sprintf("InstallSnapshotReply{term: %d}", r.Term)
}

type StepDownRequest struct {
	Term     Term
	LeaderId MemberId
}

func (StepDownRequest) rpcRequest()  {}
func (r StepDownRequest) GetTerm() Term { return r.Term }
func (r StepDownRequest) String() string {
	return fmt.Sprintf("StepDown{term: %d, leader: %s}", r.Term, r.LeaderId)
}

type StepDownReply struct{}

func (StepDownReply) rpcReply() {}
func (StepDownReply) String() string { return "StepDownReply{}" }
