package raft

// StateMachine is the application-defined collaborator consumed
// through a change-application hook, per spec.md §1: the core never
// interprets Change bytes itself. Implementations must be
// deterministic given the same sequence of Apply calls, and must
// support Clone for snapshotting and taking/installing opaque byte
// snapshots.
type StateMachine interface {
	// Apply applies a single committed change in place.
	Apply(change []byte)

	// Snapshot returns an opaque byte encoding of the current state,
	// suitable for InstallSnapshot on another member.
	Snapshot() []byte

	// Restore replaces the current state with the decoded contents of
	// a snapshot previously produced by Snapshot.
	Restore(snapshot []byte)

	// Clone returns a deep, independent copy -- used to derive
	// latest_view from committed_view (or vice versa) without
	// mutating either while entries are replayed.
	Clone() StateMachine
}

// View is a (log_index, state, config) triple: either the committed
// view or the latest (all-entries-applied) view of spec.md §3.
type View struct {
	LogIndex LogIndex
	State    StateMachine
	Config   ComplexConfig
}
