package raft

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// maxConcurrentSnapshots bounds how many InstallSnapshot transfers a
// leader sends at once, across all peers: a follower rejoining after
// a long partition, or several followers falling behind the log
// retention window together, should not be able to saturate the
// leader's outbound bandwidth all at once.
const maxConcurrentSnapshots = 3

// Config of a Member at construction time.
type MemberCfg struct {
	Id      MemberId
	Storage Storage
	Network Network
	Logger  Logger

	// NewStateMachine constructs a fresh, zero-valued application state
	// machine. The core calls Restore on it to bring it up to the
	// persisted snapshot before replaying the log.
	NewStateMachine func() StateMachine

	// InitialState seeds a brand-new member (an empty log, a snapshot
	// config that is the whole initial cluster, and a zero-valued
	// snapshot state). A rejoining member instead passes the state it
	// persisted before, read back in by the caller.
	InitialState PersistentState

	Tunables Tunables

	Clock Clock
}

// Member is the per-member consensus engine of spec.md. Construction,
// RPC handling, the proposal path, and destruction are its public
// surface (spec.md §6).
type Member struct {
	id      MemberId
	storage Storage
	network Network
	log     Logger
	newSM   func() StateMachine
	tunables Tunables
	clock   Clock
	rand    *rand.Rand

	mu sync.Mutex

	mode Mode

	currentTerm Term
	votedFor    *MemberId

	raftLog Log

	snapshotState  StateMachine
	snapshotConfig ComplexConfig

	committedIndex  LogIndex
	committedState  StateMachine
	committedConfig ComplexConfig

	latestIndex  LogIndex
	latestState  StateMachine
	latestConfig ComplexConfig

	committedView *Watchable[View]
	latestView    *Watchable[View]

	readinessForChange       *Watchable[bool]
	readinessForConfigChange *Watchable[bool]

	matchIndex map[MemberId]LogIndex
	nextIndex  map[MemberId]LogIndex

	replicationTasks map[MemberId]*replicationTask
	snapshotSem      *semaphore.Weighted

	currentTermLeaderId      MemberId
	currentTermLeaderInvalid bool
	lastLeaderTime           time.Time

	changeTokens *changeTokenMultimap

	leaderTask *leaderTaskHandle

	connSub    <-chan map[MemberId]struct{}
	connCancel func()

	stopped bool
	wg      sync.WaitGroup
}

// NewMember constructs a member from persisted (or fresh) state and
// immediately starts it in FollowerUnled mode -- per spec.md §4.2 the
// election/leader task exists whenever mode != FollowerLed, so a
// freshly constructed member starts its election clock right away.
func NewMember(cfg MemberCfg) (*Member, error) {
	if cfg.Id.IsNil() {
		return nil, fmt.Errorf("missing member id")
	}

	if cfg.Storage == nil {
		return nil, fmt.Errorf("missing storage port")
	}

	if cfg.Network == nil {
		return nil, fmt.Errorf("missing network port")
	}

	if cfg.Logger == nil {
		return nil, fmt.Errorf("missing logger")
	}

	if cfg.NewStateMachine == nil {
		return nil, fmt.Errorf("missing state machine factory")
	}

	tunables := cfg.Tunables
	tunables.applyDefaults()

	clock := cfg.Clock
	if clock == nil {
		clock = RealClock{}
	}

	snapshotState := cfg.NewStateMachine()
	snapshotState.Restore(cfg.InitialState.SnapshotState)

	m := &Member{
		id:       cfg.Id,
		storage:  cfg.Storage,
		network:  cfg.Network,
		log:      cfg.Logger,
		newSM:    cfg.NewStateMachine,
		tunables: tunables,
		clock:    clock,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(firstUint64(cfg.Id)))),

		mode: FollowerUnled,

		currentTerm: cfg.InitialState.CurrentTerm,

		raftLog: cfg.InitialState.Log.Clone(),

		snapshotState:  snapshotState,
		snapshotConfig: cfg.InitialState.SnapshotConfig.Clone(),

		changeTokens: newChangeTokenMultimap(),
		snapshotSem:  semaphore.NewWeighted(maxConcurrentSnapshots),
	}

	if !cfg.InitialState.VotedFor.IsNil() {
		v := cfg.InitialState.VotedFor
		m.votedFor = &v
	}

	m.committedIndex = cfg.InitialState.Log.PrevIndex
	m.committedState = snapshotState.Clone()
	m.committedConfig = m.snapshotConfig.Clone()

	m.latestIndex = cfg.InitialState.Log.PrevIndex
	m.latestState = snapshotState.Clone()
	m.latestConfig = m.snapshotConfig.Clone()

	m.replayLatest()

	m.committedView = NewWatchable(m.makeCommittedView())
	m.latestView = NewWatchable(m.makeLatestView())
	m.readinessForChange = NewWatchable(false)
	m.readinessForConfigChange = NewWatchable(false)

	m.lastLeaderTime = clock.Now()

	sub, cancel := cfg.Network.ConnectedMembers().Subscribe()
	m.connSub = sub
	m.connCancel = cancel

	m.startElectionTask()

	m.wg.Add(1)
	go m.watchConnectivity()

	return m, nil
}

func firstUint64(id MemberId) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(id[i])
	}
	return v
}

// Destruct cancels the election/leader task and every replication
// subtask and waits for them to exit, per spec.md §5. The member must
// not be used afterwards.
func (m *Member) Destruct() {
	m.mu.Lock()
	m.stopped = true
	m.stopElectionTask()
	m.mu.Unlock()

	m.connCancel()
	m.wg.Wait()
}

func (m *Member) Id() MemberId { return m.id }

// GetCommittedView returns the observable committed_view (spec.md §3).
func (m *Member) GetCommittedView() *Watchable[View] { return m.committedView }

// GetLatestView returns the observable latest_view (spec.md §3).
func (m *Member) GetLatestView() *Watchable[View] { return m.latestView }

func (m *Member) GetReadinessForChange() *Watchable[bool] { return m.readinessForChange }

func (m *Member) GetReadinessForConfigChange() *Watchable[bool] { return m.readinessForConfigChange }

// GetStateForInit produces an initial persistent record suitable for
// a fresh joiner: the current snapshot plus an empty log starting
// right after it, so a new member can bootstrap without replaying
// history it doesn't need.
func (m *Member) GetStateForInit() PersistentState {
	m.mu.Lock()
	defer m.mu.Unlock()

	return PersistentState{
		CurrentTerm:    0,
		SnapshotState:  m.latestState.Snapshot(),
		SnapshotConfig: m.latestConfig.Clone(),
		Log:            NewLog(m.latestIndex, m.termAtLocked(m.latestIndex), nil),
	}
}

func (m *Member) makeCommittedView() View {
	return View{LogIndex: m.committedIndex, State: m.committedState.Clone(), Config: m.committedConfig.Clone()}
}

func (m *Member) makeLatestView() View {
	return View{LogIndex: m.latestIndex, State: m.latestState.Clone(), Config: m.latestConfig.Clone()}
}

func (m *Member) publishViews() {
	m.committedView.Set(m.makeCommittedView())
	m.latestView.Set(m.makeLatestView())
	m.publishReadiness()
}

func (m *Member) publishReadiness() {
	ready := m.mode == Leader && m.hasQuorumContactLocked()
	m.readinessForChange.Set(ready)
	m.readinessForConfigChange.Set(ready && !m.latestConfig.IsJointConsensus() && !m.changeTokens.hasPendingConfigChange())
}

func (m *Member) hasQuorumContactLocked() bool {
	connected := m.network.ConnectedMembers().Get()

	reachable := map[MemberId]struct{}{m.id: {}}
	for id := range connected {
		reachable[id] = struct{}{}
	}

	return m.latestConfig.IsQuorum(reachable)
}

// replayLatest replays every log entry onto latestState/latestConfig,
// per invariant 2 of spec.md §3.
func (m *Member) replayLatest() {
	for i := m.raftLog.PrevIndex + 1; i <= m.raftLog.LatestIndex(); i++ {
		m.applyToLatest(m.raftLog.EntryAt(i), i)
	}
}

func (m *Member) replayCommittedUpTo(index LogIndex) {
	for i := m.committedIndex + 1; i <= index && i <= m.raftLog.LatestIndex(); i++ {
		m.applyToCommitted(m.raftLog.EntryAt(i), i)
	}

	if index > m.committedIndex {
		m.committedIndex = index
	}
}

func (m *Member) applyToLatest(entry LogEntry, index LogIndex) {
	switch entry.Type {
	case LogEntryRegular:
		m.latestState.Apply(entry.Change)
	case LogEntryConfigChange:
		m.latestConfig = entry.Config.Clone()
	case LogEntryNoOp:
	}

	m.latestIndex = index
}

func (m *Member) applyToCommitted(entry LogEntry, index LogIndex) {
	switch entry.Type {
	case LogEntryRegular:
		m.committedState.Apply(entry.Change)
	case LogEntryConfigChange:
		m.committedConfig = entry.Config.Clone()
	case LogEntryNoOp:
	}

	m.committedIndex = index
}

func (m *Member) termAtLocked(i LogIndex) Term {
	return m.raftLog.TermAt(i)
}

// persistLocked writes the current in-memory persistent fields
// through the storage port. Must be called with m.mu held; per
// spec.md §5 the mutex is legitimately held across this I/O.
func (m *Member) persistLocked(ctx context.Context) error {
	state := PersistentState{
		CurrentTerm:    m.currentTerm,
		SnapshotState:  m.snapshotState.Snapshot(),
		SnapshotConfig: m.snapshotConfig,
		Log:            m.raftLog,
	}

	if m.votedFor != nil {
		state.VotedFor = *m.votedFor
	}

	if err := m.storage.WritePersistentState(ctx, state); err != nil {
		m.log.Error("cannot persist state: %v", err)
		return err
	}

	return nil
}

// adoptTermLocked bumps to a higher observed term, clearing the vote
// and leader tracking, per the common RPC prologue of spec.md §4.3.
// Caller must persist afterwards.
func (m *Member) adoptTermLocked(term Term) {
	m.currentTerm = term
	m.votedFor = nil
	m.currentTermLeaderId = MemberId{}
	m.currentTermLeaderInvalid = false
}

func (m *Member) transitionToFollowerUnledLocked() {
	wasFollowerLed := m.mode == FollowerLed

	m.stopLeaderStateLocked()
	m.mode = FollowerUnled
	m.lastLeaderTime = m.clock.Now()

	if wasFollowerLed {
		m.startElectionTask()
	}
}

func (m *Member) transitionToFollowerLedLocked(leaderId MemberId) {
	m.stopLeaderStateLocked()

	if m.mode != FollowerLed {
		m.stopElectionTask()
	}

	m.mode = FollowerLed
	m.currentTermLeaderId = leaderId
	m.currentTermLeaderInvalid = false
	m.lastLeaderTime = m.clock.Now()
}

func (m *Member) stopLeaderStateLocked() {
	m.matchIndex = nil
	m.changeTokens.abandonAll()
}
