package raft_test

import (
	"context"
	"testing"
	"time"

	"github.com/mansa-labs/raft/pkg/raft"
)

func (c *testCluster) allMembers() []*raft.Member {
	members := make([]*raft.Member, 0, len(c.members))
	for _, m := range c.members {
		members = append(members, m)
	}
	return members
}

// TestInvariantsHoldDuringNormalOperation checks the structural
// invariants of a running cluster both at rest and while proposals
// are actively committing.
func TestInvariantsHoldDuringNormalOperation(t *testing.T) {
	cluster := newTestCluster(t, 3)

	leader := cluster.awaitLeader(t, time.Second)

	if err := raft.CheckInvariants(cluster.allMembers()); err != nil {
		t.Fatalf("invariants violated right after election: %v", err)
	}

	for i := 0; i < 5; i++ {
		lock := leader.AcquireChangeLock()
		token := leader.ProposeChange(lock, []byte("v"))
		lock.Release()

		if token == nil {
			t.Fatalf("expected the leader to accept proposal %d", i)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := token.Wait(ctx)
		cancel()

		if err != nil {
			t.Fatalf("expected proposal %d to commit, got %v", i, err)
		}

		if err := raft.CheckInvariants(cluster.allMembers()); err != nil {
			t.Fatalf("invariants violated after proposal %d: %v", i, err)
		}
	}
}

// TestInvariantsHoldAcrossPartitionAndHeal checks that the structural
// invariants survive a leader failover triggered by a partition.
func TestInvariantsHoldAcrossPartitionAndHeal(t *testing.T) {
	cluster := newTestCluster(t, 3)

	leader := cluster.awaitLeader(t, time.Second)

	for _, id := range cluster.ids {
		if id == leader.Id() {
			continue
		}

		cluster.net.Partition(leader.Id(), id)
		cluster.net.Partition(id, leader.Id())
	}

	time.Sleep(200 * time.Millisecond)

	if err := raft.CheckInvariants(cluster.allMembers()); err != nil {
		t.Fatalf("invariants violated during partition: %v", err)
	}

	cluster.net.HealAll()

	time.Sleep(200 * time.Millisecond)

	if err := raft.CheckInvariants(cluster.allMembers()); err != nil {
		t.Fatalf("invariants violated after heal: %v", err)
	}
}
