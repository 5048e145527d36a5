package raft

import (
	"context"
	"time"
)

// replicationTask tracks one per-peer replication subtask, per
// spec.md §9 ("model as a map from MemberId to a cancellable task
// handle").
type replicationTask struct {
	cancel context.CancelFunc
}

// ensureReplicationTasksLocked reconciles the set of running
// replication subtasks against the union of latest-config members and
// existing matchIndex keys, per spec.md §9. Must be called with m.mu
// held and only while leader.
func (m *Member) ensureReplicationTasksLocked() {
	if m.mode != Leader {
		return
	}

	if m.replicationTasks == nil {
		m.replicationTasks = make(map[MemberId]*replicationTask)
	}

	wanted := m.latestConfig.AllMembers()
	for id := range m.matchIndex {
		wanted[id] = struct{}{}
	}
	delete(wanted, m.id)

	for id := range wanted {
		if _, exists := m.replicationTasks[id]; exists {
			continue
		}

		if _, ok := m.matchIndex[id]; !ok {
			m.matchIndex[id] = 0
		}

		if _, ok := m.nextIndex[id]; !ok {
			m.nextIndex[id] = m.raftLog.LatestIndex() + 1
		}

		ctx, cancel := context.WithCancel(context.Background())
		m.replicationTasks[id] = &replicationTask{cancel: cancel}

		m.wg.Add(1)
		go m.runReplication(ctx, id)
	}

	for id, task := range m.replicationTasks {
		if _, stillWanted := wanted[id]; !stillWanted {
			task.cancel()
			delete(m.replicationTasks, id)
			delete(m.matchIndex, id)
			delete(m.nextIndex, id)
		}
	}
}

func (m *Member) stopReplicationTasksLocked() {
	for id, task := range m.replicationTasks {
		task.cancel()
		delete(m.replicationTasks, id)
	}
}

// runReplication is the per-peer replication subtask of spec.md §4.4.
func (m *Member) runReplication(ctx context.Context, peer MemberId) {
	defer m.wg.Done()
	defer m.recoverPanic("replication to " + peer.String())

	var lastSend time.Time

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.mu.Lock()
		if m.mode != Leader || m.stopped {
			m.mu.Unlock()
			return
		}

		next, ok := m.nextIndex[peer]
		if !ok {
			m.mu.Unlock()
			return
		}

		if next <= m.raftLog.PrevIndex {
			req := InstallSnapshotRequest{
				Term:              m.currentTerm,
				LeaderId:          m.id,
				LastIncludedIndex: m.raftLog.PrevIndex,
				LastIncludedTerm:  m.raftLog.PrevTerm,
				State:             m.snapshotState.Snapshot(),
				Config:            m.snapshotConfig.Clone(),
			}
			m.mu.Unlock()

			m.sendInstallSnapshot(ctx, peer, req, &lastSend)

			continue
		}

		prevIndex := next - 1
		prevTerm := m.raftLog.TermAt(prevIndex)
		entries := m.raftLog.EntriesFrom(next, m.tunables.MaxEntriesPerAppend)
		leaderCommit := m.committedIndex
		term := m.currentTerm

		haveData := len(entries) > 0
		needHeartbeat := !haveData && m.clock.Now().Sub(lastSend) >= m.tunables.ElectionTimeoutMin/2

		if !haveData && !needHeartbeat {
			m.mu.Unlock()

			select {
			case <-ctx.Done():
				return
			case <-time.After(m.tunables.HeartbeatInterval):
			}

			continue
		}

		m.mu.Unlock()

		req := AppendEntriesRequest{
			Term:         term,
			LeaderId:     m.id,
			Log:          NewLog(prevIndex, prevTerm, entries),
			LeaderCommit: leaderCommit,
		}

		m.sendAppendEntries(ctx, peer, req, prevIndex, len(entries), &lastSend)
	}
}

func (m *Member) sendAppendEntries(ctx context.Context, peer MemberId, req AppendEntriesRequest, prevIndex LogIndex, numEntries int, lastSend *time.Time) {
	reqCtx, cancel := context.WithTimeout(ctx, m.tunables.ElectionTimeoutMax)
	reply, err := m.network.SendRPC(reqCtx, peer, req)
	cancel()

	*lastSend = m.clock.Now()

	if err != nil {
		select {
		case <-ctx.Done():
		case <-time.After(m.tunables.HeartbeatInterval):
		}

		return
	}

	aeReply, ok := reply.(AppendEntriesReply)
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if aeReply.Term > m.currentTerm {
		m.adoptTermLocked(aeReply.Term)
		m.stepDownLocked()

		return
	}

	if m.mode != Leader {
		return
	}

	if aeReply.Success {
		newMatch := prevIndex + LogIndex(numEntries)
		if newMatch > m.matchIndex[peer] {
			m.matchIndex[peer] = newMatch
		}
		m.nextIndex[peer] = newMatch + 1

		m.tryAdvanceCommitLocked()
	} else if m.nextIndex[peer] > m.raftLog.PrevIndex+1 {
		// Paper-faithful linear decrement (spec.md §9 open question b);
		// exponential back-search would also be correct here.
		m.nextIndex[peer]--
	}
}

func (m *Member) sendInstallSnapshot(ctx context.Context, peer MemberId, req InstallSnapshotRequest, lastSend *time.Time) {
	if err := m.snapshotSem.Acquire(ctx, 1); err != nil {
		return
	}
	defer m.snapshotSem.Release(1)

	reqCtx, cancel := context.WithTimeout(ctx, m.tunables.ElectionTimeoutMax)
	reply, err := m.network.SendRPC(reqCtx, peer, req)
	cancel()

	*lastSend = m.clock.Now()

	if err != nil {
		select {
		case <-ctx.Done():
		case <-time.After(m.tunables.HeartbeatInterval):
		}

		return
	}

	isReply, ok := reply.(InstallSnapshotReply)
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if isReply.Term > m.currentTerm {
		m.adoptTermLocked(isReply.Term)
		m.stepDownLocked()

		return
	}

	if m.mode != Leader {
		return
	}

	if m.matchIndex[peer] < req.LastIncludedIndex {
		m.matchIndex[peer] = req.LastIncludedIndex
	}
	m.nextIndex[peer] = req.LastIncludedIndex + 1

	m.tryAdvanceCommitLocked()
}

// tryAdvanceCommitLocked implements spec.md §4.4's commit advance:
// find the largest N such that a quorum (under the complex config)
// has matchIndex >= N and term_at(N) == current_term, then advance
// commit and apply. Must be called with m.mu held, leader only.
func (m *Member) tryAdvanceCommitLocked() {
	if m.mode != Leader {
		return
	}

	best := m.committedIndex

	for n := m.raftLog.LatestIndex(); n > m.committedIndex; n-- {
		if m.raftLog.TermAt(n) != m.currentTerm {
			continue
		}

		reached := map[MemberId]struct{}{m.id: {}}
		for id, match := range m.matchIndex {
			if match >= n {
				reached[id] = struct{}{}
			}
		}

		if m.latestConfig.IsQuorum(reached) {
			best = n
			break
		}
	}

	if best <= m.committedIndex {
		return
	}

	old := m.committedIndex

	// Walk newly committed entries in order, driving reconfiguration
	// (spec.md §4.4 step 6) before folding them into committedState.
	for i := old + 1; i <= best; i++ {
		entry := m.raftLog.EntryAt(i)
		m.applyToCommitted(entry, i)

		if entry.Type == LogEntryConfigChange {
			m.onCommittedConfigChangeLocked(*entry.Config)
		}
	}

	m.changeTokens.resolveUpTo(best)
	m.publishViews()
}

// onCommittedConfigChangeLocked drives the two-phase joint-consensus
// reconfiguration of spec.md §4.4 step 6: once the joint-consensus
// entry commits, append the transition-completing entry containing
// only the Next half. Once a plain (non-joint) config commits and no
// longer includes this member as a valid leader, step down.
func (m *Member) onCommittedConfigChangeLocked(cfg ComplexConfig) {
	if cfg.IsJointConsensus() {
		m.appendAsLeaderLocked(NewConfigChangeEntry(m.currentTerm, SimpleComplexConfig(*cfg.Next)))
		m.ensureReplicationTasksLocked()

		return
	}

	if !cfg.IsValidLeader(m.id) {
		m.log.Info("committed configuration removes self as leader, stepping down")
		m.stepDownLocked()

		return
	}

	m.ensureReplicationTasksLocked()
}
