package raft

import "context"

// PersistentState is the full record that must be durable before the
// acting method returns, per spec.md §3: term, vote, snapshot, and
// log. Serialized layout is caller-defined (see pkg/storage/file and
// pkg/storage/pgstorage); the core only requires a faithful
// round-trip.
type PersistentState struct {
	CurrentTerm     Term
	VotedFor        MemberId
	SnapshotState   []byte
	SnapshotConfig  ComplexConfig
	Log             Log
}

func (ps PersistentState) Clone() PersistentState {
	clone := ps
	clone.SnapshotState = append([]byte(nil), ps.SnapshotState...)
	clone.SnapshotConfig = ps.SnapshotConfig.Clone()
	clone.Log = ps.Log.Clone()

	return clone
}

// Storage is the write-through persistence port. Implementations
// (pkg/storage/file, pkg/storage/pgstorage) must return only once the
// record is durable on disk; an optional append-only fast path is
// permitted but not required by the core. Grounded on the teacher's
// PersistentStore.Write, generalized to accept a cancellation signal
// per spec.md §6.
type Storage interface {
	WritePersistentState(ctx context.Context, state PersistentState) error
}
