package raft

// watchConnectivity implements spec.md §4.6: reacting to the
// observable set of reachable members changing. It runs for the
// lifetime of the member (unlike the election/leader task, which
// starts and stops with mode).
func (m *Member) watchConnectivity() {
	defer m.wg.Done()
	defer m.recoverPanic("connectivity watcher")

	for connected := range m.connSub {
		m.onConnectivityChange(connected)
	}
}

func (m *Member) onConnectivityChange(connected map[MemberId]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	_, leaderReachable := connected[m.currentTermLeaderId]

	if m.mode == FollowerLed && !m.currentTermLeaderId.IsNil() && !leaderReachable {
		m.log.Debug(1, "lost contact with leader %s, reverting to unled", m.currentTermLeaderId)
		m.currentTermLeaderInvalid = true
		m.transitionToFollowerUnledLocked()
		m.publishViews()
		return
	}

	if m.mode == Leader {
		if !m.hasQuorumContactLocked() {
			m.log.Info("lost quorum contact, stepping down")
			m.stepDownLocked()
		} else {
			m.publishReadiness()
			m.ensureReplicationTasksLocked()
		}
	}
}
