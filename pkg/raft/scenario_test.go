package raft_test

import (
	"context"
	"testing"
	"time"

	"github.com/mansa-labs/raft/pkg/mock"
	"github.com/mansa-labs/raft/pkg/raft"
)

// counterState is a minimal application state machine for the
// scenario tests: it records every applied change in order, which is
// enough to check convergence across members without pulling in a
// full kv store.
type counterState struct {
	applied [][]byte
}

var _ raft.StateMachine = (*counterState)(nil)

func (s *counterState) Apply(change []byte) {
	s.applied = append(s.applied, append([]byte(nil), change...))
}

func (s *counterState) Snapshot() []byte {
	out := make([]byte, 0)
	for _, c := range s.applied {
		out = append(out, byte(len(c)))
		out = append(out, c...)
	}
	return out
}

func (s *counterState) Restore(snapshot []byte) {
	s.applied = nil
	for i := 0; i < len(snapshot); {
		n := int(snapshot[i])
		i++
		s.applied = append(s.applied, append([]byte(nil), snapshot[i:i+n]...))
		i += n
	}
}

func (s *counterState) Clone() raft.StateMachine {
	clone := &counterState{applied: make([][]byte, len(s.applied))}
	copy(clone.applied, s.applied)
	return clone
}

func testTunables() raft.Tunables {
	return raft.Tunables{
		ElectionTimeoutMin:  30 * time.Millisecond,
		ElectionTimeoutMax:  60 * time.Millisecond,
		HeartbeatInterval:   10 * time.Millisecond,
		MaxEntriesPerAppend: 64,
	}
}

type testCluster struct {
	net     *mock.Network
	members map[raft.MemberId]*raft.Member
	ids     []raft.MemberId
}

func newTestCluster(t *testing.T, n int) *testCluster {
	t.Helper()

	net := mock.NewNetwork()

	ids := make([]raft.MemberId, n)
	for i := range ids {
		ids[i] = raft.NewMemberId()
	}

	initialConfig := raft.SimpleComplexConfig(raft.NewConfig(ids, nil))

	cluster := &testCluster{net: net, members: make(map[raft.MemberId]*raft.Member), ids: ids}

	for _, id := range ids {
		view := net.Register(id, nil)

		member, err := raft.NewMember(raft.MemberCfg{
			Id:      id,
			Storage: mock.NewStorage(raft.PersistentState{}),
			Network: view,
			Logger:  noopLogger{},
			NewStateMachine: func() raft.StateMachine {
				return &counterState{}
			},
			InitialState: raft.PersistentState{
				SnapshotConfig: initialConfig,
			},
			Tunables: testTunables(),
		})
		if err != nil {
			t.Fatalf("cannot create member %s: %v", id, err)
		}

		net.SetReceiver(id, member.OnRPC)
		cluster.members[id] = member
	}

	t.Cleanup(func() {
		for _, m := range cluster.members {
			m.Destruct()
		}
	})

	return cluster
}

func (c *testCluster) awaitLeader(t *testing.T, timeout time.Duration) *raft.Member {
	t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		for _, m := range c.members {
			if m.GetReadinessForChange().Get() {
				return m
			}
		}

		time.Sleep(2 * time.Millisecond)
	}

	t.Fatalf("no leader elected within %s", timeout)
	return nil
}

func (c *testCluster) awaitCommittedCount(t *testing.T, member *raft.Member, count int, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		view := member.GetCommittedView().Get()
		if state, ok := view.State.(*counterState); ok && len(state.applied) >= count {
			return
		}

		time.Sleep(2 * time.Millisecond)
	}

	t.Fatalf("member %s did not observe %d committed changes within %s", member.Id(), count, timeout)
}

type noopLogger struct{}

func (noopLogger) Debug(int, string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})       {}
func (noopLogger) Error(string, ...interface{})      {}

// TestThreeNodeHappyPath is scenario S1: propose a change on the
// elected leader and expect every member to converge on it.
func TestThreeNodeHappyPath(t *testing.T) {
	cluster := newTestCluster(t, 3)

	leader := cluster.awaitLeader(t, time.Second)

	lock := leader.AcquireChangeLock()
	token := leader.ProposeChange(lock, []byte("x=1"))
	lock.Release()

	if token == nil {
		t.Fatalf("expected leader to accept the proposal")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := token.Wait(ctx); err != nil {
		t.Fatalf("expected the change to commit, got %v", err)
	}

	for _, m := range cluster.members {
		cluster.awaitCommittedCount(t, m, 1, time.Second)
	}
}

// TestLeaderFailurePromotesNewLeader is scenario S2: partitioning the
// leader away from the rest of the cluster should produce a new
// leader at a higher term among the remaining majority.
func TestLeaderFailurePromotesNewLeader(t *testing.T) {
	cluster := newTestCluster(t, 3)

	leader := cluster.awaitLeader(t, time.Second)

	for _, id := range cluster.ids {
		if id == leader.Id() {
			continue
		}

		cluster.net.Partition(leader.Id(), id)
		cluster.net.Partition(id, leader.Id())
	}

	deadline := time.Now().Add(2 * time.Second)
	var newLeader *raft.Member

	for time.Now().Before(deadline) {
		for _, m := range cluster.members {
			if m.Id() == leader.Id() {
				continue
			}

			if m.GetReadinessForChange().Get() {
				newLeader = m
				break
			}
		}

		if newLeader != nil {
			break
		}

		time.Sleep(5 * time.Millisecond)
	}

	if newLeader == nil {
		t.Fatalf("expected a new leader to emerge from the remaining majority")
	}
}

// TestReconfigurationAdd is scenario S3: a ready leader accepts adding
// a voting member, and once the joint-consensus entry commits its
// latest configuration is already the plain second-phase one that
// includes the new member.
func TestReconfigurationAdd(t *testing.T) {
	cluster := newTestCluster(t, 3)

	leader := cluster.awaitLeader(t, time.Second)

	newId := raft.NewMemberId()
	votingWithNewMember := append(append([]raft.MemberId(nil), cluster.ids...), newId)

	lock := leader.AcquireChangeLock()
	ready := leader.GetReadinessForConfigChange().Get()
	token := leader.ProposeConfigChange(lock, votingWithNewMember)
	lock.Release()

	if !ready {
		t.Fatalf("expected the leader to be ready for a config change before proposing")
	}

	if token == nil {
		t.Fatalf("expected the leader to accept the reconfiguration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := token.Wait(ctx); err != nil {
		t.Fatalf("expected the reconfiguration to commit, got %v", err)
	}

	view := leader.GetLatestView().Get()
	if view.Config.IsJointConsensus() {
		t.Errorf("expected the second phase to have already landed, leaving a plain configuration")
	}

	if !view.Config.IsMember(newId) {
		t.Errorf("expected the new member to be part of the committed configuration")
	}
}

// TestReconfigurationRemoveLeader is scenario S4: a leader that
// proposes removing itself commits both reconfiguration phases and
// then steps down, letting a new leader emerge from the survivors.
func TestReconfigurationRemoveLeader(t *testing.T) {
	cluster := newTestCluster(t, 3)

	leader := cluster.awaitLeader(t, time.Second)
	leaderId := leader.Id()

	remaining := make([]raft.MemberId, 0, 2)
	for _, id := range cluster.ids {
		if id != leaderId {
			remaining = append(remaining, id)
		}
	}

	lock := leader.AcquireChangeLock()
	token := leader.ProposeConfigChange(lock, remaining)
	lock.Release()

	if token == nil {
		t.Fatalf("expected the leader to accept removing itself")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := token.Wait(ctx); err != nil {
		t.Fatalf("expected the reconfiguration to commit, got %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && leader.GetReadinessForChange().Get() {
		time.Sleep(2 * time.Millisecond)
	}

	if leader.GetReadinessForChange().Get() {
		t.Fatalf("expected the removed leader to have stepped down")
	}

	var newLeader *raft.Member
	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, id := range remaining {
			m := cluster.members[id]
			if m.GetReadinessForChange().Get() {
				newLeader = m
				break
			}
		}

		if newLeader != nil {
			break
		}

		time.Sleep(5 * time.Millisecond)
	}

	if newLeader == nil {
		t.Fatalf("expected a new leader to emerge among the surviving members")
	}

	if newLeader.GetLatestView().Get().Config.IsMember(leaderId) {
		t.Errorf("expected the removed member to no longer be part of the configuration")
	}
}

// TestSnapshotCatchUp is scenario S5: a member partitioned away while
// the rest of the cluster commits a run of proposals must converge on
// the same committed state once healed. The leader's log is not
// compacted here, so the catch-up goes through AppendEntries rather
// than InstallSnapshot.
func TestSnapshotCatchUp(t *testing.T) {
	cluster := newTestCluster(t, 3)

	leader := cluster.awaitLeader(t, time.Second)

	var laggard raft.MemberId
	for _, id := range cluster.ids {
		if id != leader.Id() {
			laggard = id
			break
		}
	}

	cluster.net.Partition(leader.Id(), laggard)
	cluster.net.Partition(laggard, leader.Id())

	const numChanges = 50
	for i := 0; i < numChanges; i++ {
		lock := leader.AcquireChangeLock()
		token := leader.ProposeChange(lock, []byte("x"))
		lock.Release()

		if token == nil {
			t.Fatalf("expected the leader to keep accepting proposals during the partition")
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := token.Wait(ctx)
		cancel()

		if err != nil {
			t.Fatalf("expected proposal %d to commit among the reachable majority, got %v", i, err)
		}
	}

	cluster.net.HealAll()

	cluster.awaitCommittedCount(t, cluster.members[laggard], numChanges, 2*time.Second)

	leaderApplied := leader.GetCommittedView().Get().State.(*counterState).applied
	laggardApplied := cluster.members[laggard].GetCommittedView().Get().State.(*counterState).applied

	if len(laggardApplied) != len(leaderApplied) {
		t.Fatalf("expected the recovered member to converge on %d entries, got %d", len(leaderApplied), len(laggardApplied))
	}
}

// TestSplitVoteEventuallyElects is scenario S6: even a four-node
// cluster where randomized election timeouts might initially collide
// must eventually converge on exactly one leader per term.
func TestSplitVoteEventuallyElects(t *testing.T) {
	cluster := newTestCluster(t, 4)

	leader := cluster.awaitLeader(t, 2*time.Second)

	leaderCount := 0
	for _, m := range cluster.members {
		if m.GetReadinessForChange().Get() {
			leaderCount++
		}
	}

	if leaderCount != 1 {
		t.Fatalf("expected exactly one leader, found %d", leaderCount)
	}

	if leader == nil {
		t.Fatalf("expected a leader to be elected")
	}
}
