package raft

import "context"

// OnRPC is the single entry point external transports call into
// (spec.md §6). It runs under the member mutex; long blocking
// persistence I/O is allowed while holding it because only one RPC
// can be in flight per member (spec.md §4.3).
func (m *Member) OnRPC(ctx context.Context, req RPCRequest) (RPCReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrDeliveryFailure
	}

	term := req.GetTerm()

	if term > m.currentTerm {
		m.log.Debug(1, "observed term %d > current term %d, adopting", term, m.currentTerm)

		m.adoptTermLocked(term)

		if m.mode == Leader || m.mode == Candidate {
			m.restartElectionTaskLocked()
		}

		if err := m.persistLocked(ctx); err != nil {
			return nil, err
		}
	}

	switch r := req.(type) {
	case RequestVoteRequest:
		return m.handleRequestVote(ctx, r)
	case AppendEntriesRequest:
		return m.handleAppendEntries(ctx, r)
	case InstallSnapshotRequest:
		return m.handleInstallSnapshot(ctx, r)
	case StepDownRequest:
		return m.handleStepDown(r)
	default:
		return nil, ErrDeliveryFailure
	}
}

func (m *Member) handleRequestVote(ctx context.Context, req RequestVoteRequest) (RPCReply, error) {
	if req.Term < m.currentTerm {
		return RequestVoteReply{Term: m.currentTerm, Granted: false}, nil
	}

	noVoteYet := m.votedFor == nil
	sameCandidate := m.votedFor != nil && *m.votedFor == req.CandidateId

	ourLastTerm := m.raftLog.TermAt(m.raftLog.LatestIndex())
	ourLastIndex := m.raftLog.LatestIndex()

	logUpToDate := req.LastLogTerm > ourLastTerm ||
		(req.LastLogTerm == ourLastTerm && req.LastLogIndex >= ourLastIndex)

	granted := (noVoteYet || sameCandidate) && logUpToDate

	if granted {
		v := req.CandidateId
		m.votedFor = &v

		if err := m.persistLocked(ctx); err != nil {
			return nil, err
		}

		m.lastLeaderTime = m.clock.Now()
	}

	return RequestVoteReply{Term: m.currentTerm, Granted: granted}, nil
}

func (m *Member) handleAppendEntries(ctx context.Context, req AppendEntriesRequest) (RPCReply, error) {
	if req.Term < m.currentTerm {
		return AppendEntriesReply{Term: m.currentTerm, Success: false}, nil
	}

	sameInvalidatedLeader := req.LeaderId == m.currentTermLeaderId && m.currentTermLeaderInvalid

	if sameInvalidatedLeader {
		// This leader was told to step down; we still integrate its
		// entries (they may already be safely committed elsewhere) but
		// we do not treat it as "a leader exists" again.
		if m.mode == FollowerLed {
			m.transitionToFollowerUnledLocked()
		}
	} else if req.LeaderId != m.currentTermLeaderId || m.mode != FollowerLed {
		m.transitionToFollowerLedLocked(req.LeaderId)
	} else {
		m.lastLeaderTime = m.clock.Now()
	}

	prevIndex := req.Log.PrevIndex

	if prevIndex < m.raftLog.PrevIndex || prevIndex > m.raftLog.LatestIndex() {
		return AppendEntriesReply{Term: m.currentTerm, Success: false}, nil
	}

	if m.raftLog.TermAt(prevIndex) != req.Log.PrevTerm {
		return AppendEntriesReply{Term: m.currentTerm, Success: false}, nil
	}

	nextIndex := prevIndex
	for _, entry := range req.Log.Entries {
		nextIndex++

		if nextIndex <= m.raftLog.LatestIndex() {
			if m.raftLog.TermAt(nextIndex) == entry.Term {
				continue
			}

			m.raftLog.TruncateSuffixFrom(nextIndex)
			if m.latestIndex >= nextIndex {
				m.rebuildLatestAfterTruncation()
			}
		}

		m.raftLog.Append(entry)
		m.applyToLatest(entry, nextIndex)
	}

	if req.LeaderCommit > m.committedIndex {
		newCommit := req.LeaderCommit
		if newCommit > m.raftLog.LatestIndex() {
			newCommit = m.raftLog.LatestIndex()
		}

		if newCommit > m.committedIndex {
			m.replayCommittedUpTo(newCommit)
			m.changeTokens.resolveUpTo(newCommit)
		}
	}

	if err := m.persistLocked(ctx); err != nil {
		return nil, err
	}

	m.publishViews()

	return AppendEntriesReply{Term: m.currentTerm, Success: true}, nil
}

// rebuildLatestAfterTruncation recomputes latestIndex/latestState/
// latestConfig from the snapshot forward after a suffix truncation
// invalidated entries that had already been folded into latest_view.
func (m *Member) rebuildLatestAfterTruncation() {
	m.latestState = m.snapshotState.Clone()
	m.latestConfig = m.snapshotConfig.Clone()
	m.latestIndex = m.raftLog.PrevIndex
	m.replayLatest()
}

func (m *Member) handleInstallSnapshot(ctx context.Context, req InstallSnapshotRequest) (RPCReply, error) {
	if req.Term < m.currentTerm {
		return InstallSnapshotReply{Term: m.currentTerm}, nil
	}

	if req.LeaderId != m.currentTermLeaderId || m.mode != FollowerLed {
		m.transitionToFollowerLedLocked(req.LeaderId)
	} else {
		m.lastLeaderTime = m.clock.Now()
	}

	if req.LastIncludedIndex <= m.committedIndex {
		return InstallSnapshotReply{Term: m.currentTerm}, nil
	}

	newState := m.newSM()
	newState.Restore(req.State)
	m.snapshotState = newState
	m.snapshotConfig = req.Config.Clone()

	if req.LastIncludedIndex >= m.raftLog.PrevIndex &&
		req.LastIncludedIndex <= m.raftLog.LatestIndex() &&
		m.raftLog.TermAt(req.LastIncludedIndex) == req.LastIncludedTerm {
		m.raftLog.TruncatePrefixTo(req.LastIncludedIndex)
	} else {
		m.raftLog.ResetToSnapshot(req.LastIncludedIndex, req.LastIncludedTerm)
	}

	m.committedIndex = req.LastIncludedIndex
	m.committedState = m.snapshotState.Clone()
	m.committedConfig = m.snapshotConfig.Clone()

	m.latestIndex = m.raftLog.PrevIndex
	m.latestState = m.snapshotState.Clone()
	m.latestConfig = m.snapshotConfig.Clone()
	m.replayLatest()

	m.changeTokens.resolveUpTo(m.committedIndex)

	if err := m.persistLocked(ctx); err != nil {
		return nil, err
	}

	m.publishViews()

	return InstallSnapshotReply{Term: m.currentTerm}, nil
}

func (m *Member) handleStepDown(req StepDownRequest) (RPCReply, error) {
	if req.Term == m.currentTerm && req.LeaderId == m.currentTermLeaderId {
		m.currentTermLeaderInvalid = true

		if m.mode == FollowerLed {
			m.transitionToFollowerUnledLocked()
			m.publishViews()
		}
	}

	return StepDownReply{}, nil
}
