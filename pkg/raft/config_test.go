package raft

import "testing"

func idsN(n int) []MemberId {
	ids := make([]MemberId, n)
	for i := range ids {
		ids[i] = NewMemberId()
	}
	return ids
}

func TestConfigIsQuorum(t *testing.T) {
	members := idsN(5)
	cfg := NewConfig(members, nil)

	majority := map[MemberId]struct{}{
		members[0]: {}, members[1]: {}, members[2]: {},
	}

	if !cfg.IsQuorum(majority) {
		t.Errorf("expected 3 of 5 to be a quorum")
	}

	minority := map[MemberId]struct{}{
		members[0]: {}, members[1]: {},
	}

	if cfg.IsQuorum(minority) {
		t.Errorf("expected 2 of 5 not to be a quorum")
	}
}

func TestComplexConfigJointQuorumRequiresBothHalves(t *testing.T) {
	oldMembers := idsN(3)
	newMembers := idsN(3)

	current := NewConfig(oldMembers, nil)
	next := NewConfig(newMembers, nil)

	joint := ComplexConfig{Current: current, Next: &next}

	oldQuorumOnly := map[MemberId]struct{}{
		oldMembers[0]: {}, oldMembers[1]: {},
	}

	if joint.IsQuorum(oldQuorumOnly) {
		t.Errorf("quorum in only the old configuration must not satisfy joint consensus")
	}

	both := map[MemberId]struct{}{
		oldMembers[0]: {}, oldMembers[1]: {},
		newMembers[0]: {}, newMembers[1]: {},
	}

	if !joint.IsQuorum(both) {
		t.Errorf("expected majority in both halves to be a joint quorum")
	}
}

func TestComplexConfigIsValidLeaderDuringJointConsensus(t *testing.T) {
	oldMembers := idsN(2)
	newMembers := idsN(2)

	current := NewConfig(oldMembers, nil)
	next := NewConfig(newMembers, nil)

	joint := ComplexConfig{Current: current, Next: &next}

	if !joint.IsValidLeader(oldMembers[0]) {
		t.Errorf("expected a member of the outgoing configuration to remain a valid leader during joint consensus")
	}

	if !joint.IsValidLeader(newMembers[0]) {
		t.Errorf("expected a member of the incoming configuration to be a valid leader during joint consensus")
	}

	outsider := NewMemberId()
	if joint.IsValidLeader(outsider) {
		t.Errorf("expected a non-member not to be a valid leader")
	}
}

func TestConfigCloneIsIndependent(t *testing.T) {
	members := idsN(2)
	cfg := NewConfig(members, nil)

	clone := cfg.Clone()
	clone.Voting[NewMemberId()] = struct{}{}

	if len(cfg.Voting) == len(clone.Voting) {
		t.Errorf("expected clone mutation not to affect the original")
	}
}
