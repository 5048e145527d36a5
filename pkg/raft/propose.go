package raft

import "context"

// appendAsLeaderLocked is the shared helper behind becomeLeaderLocked,
// ProposeChange, ProposeConfigChange, and the reconfiguration-driving
// second-phase append: it appends the entry, folds it into
// latest_view, and returns the index it landed at. Grounded on
// original_source's leader_append_log_entry. Must be called with
// m.mu held, leader only.
func (m *Member) appendAsLeaderLocked(entry LogEntry) LogIndex {
	m.raftLog.Append(entry)
	index := m.raftLog.LatestIndex()
	m.applyToLatest(entry, index)

	return index
}

// ProposeChange implements spec.md §4.5. lock must have been acquired
// via AcquireChangeLock on this member. Returns nil if this member is
// not a ready leader.
func (m *Member) ProposeChange(lock *ChangeLock, change []byte) *ChangeToken {
	if lock.member != m {
		Panicf("change lock belongs to a different member")
	}

	if m.mode != Leader || !m.hasQuorumContactLocked() {
		return nil
	}

	index := m.appendAsLeaderLocked(NewRegularEntry(m.currentTerm, change))

	if err := m.persistLocked(context.Background()); err != nil {
		return nil
	}

	token := newChangeToken(index, false)
	m.changeTokens.insert(token)

	m.publishViews()
	m.ensureReplicationTasksLocked()

	return token
}

// ProposeConfigChange implements spec.md §4.5. Requires the current
// latest_view configuration not already be a joint consensus and that
// no config-change token is already pending (spec.md §8 property 9).
func (m *Member) ProposeConfigChange(lock *ChangeLock, newVoting []MemberId) *ChangeToken {
	if lock.member != m {
		Panicf("change lock belongs to a different member")
	}

	if m.mode != Leader || !m.hasQuorumContactLocked() {
		return nil
	}

	if m.latestConfig.IsJointConsensus() {
		return nil
	}

	if m.changeTokens.hasPendingConfigChange() {
		return nil
	}

	next := NewConfig(newVoting, nil)
	joint := ComplexConfig{Current: m.latestConfig.Current.Clone(), Next: &next}

	index := m.appendAsLeaderLocked(NewConfigChangeEntry(m.currentTerm, joint))

	if err := m.persistLocked(context.Background()); err != nil {
		return nil
	}

	token := newChangeToken(index, true)
	m.changeTokens.insert(token)

	m.publishViews()
	m.ensureReplicationTasksLocked()

	return token
}
