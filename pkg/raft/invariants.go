package raft

import "fmt"

// CheckInvariants asserts the structural invariants of spec.md §3
// across a collection of members. It is read-only and debug-only;
// callers should not run it on a hot path. Grounded on
// original_source's check_invariants: briefly acquire each member's
// mutex in a fixed order (by MemberId) to avoid deadlock.
func CheckInvariants(members []*Member) error {
	ordered := append([]*Member(nil), members...)
	sortMembersById(ordered)

	for _, m := range ordered {
		if err := m.checkOwnInvariants(); err != nil {
			return err
		}
	}

	return checkStateMachineSafety(ordered)
}

func sortMembersById(members []*Member) {
	for i := 1; i < len(members); i++ {
		for j := i; j > 0; j-- {
			if lessMemberId(members[j].id, members[j-1].id) {
				members[j], members[j-1] = members[j-1], members[j]
			} else {
				break
			}
		}
	}
}

func lessMemberId(a, b MemberId) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}

	return false
}

func (m *Member) checkOwnInvariants() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.committedIndex > m.latestIndex {
		return fmt.Errorf("member %s: committed_view.log_index (%d) > latest_view.log_index (%d)",
			m.id, m.committedIndex, m.latestIndex)
	}

	if m.latestIndex > m.raftLog.LatestIndex() {
		return fmt.Errorf("member %s: latest_view.log_index (%d) > log.latest_index (%d)",
			m.id, m.latestIndex, m.raftLog.LatestIndex())
	}

	if m.mode != Leader {
		if len(m.matchIndex) != 0 {
			return fmt.Errorf("member %s: not leader but match_index has %d entries",
				m.id, len(m.matchIndex))
		}
	} else {
		expected := m.latestConfig.AllMembers()
		if len(m.matchIndex) != len(expected) {
			return fmt.Errorf("member %s: leader but match_index has %d entries, want %d",
				m.id, len(m.matchIndex), len(expected))
		}

		for id := range expected {
			if _, found := m.matchIndex[id]; !found {
				return fmt.Errorf("member %s: leader match_index missing entry for %s", m.id, id)
			}
		}
	}

	taskRunning := m.leaderTask != nil
	shouldRun := m.mode != FollowerLed

	if taskRunning != shouldRun {
		return fmt.Errorf("member %s: mode %s but election task running = %v",
			m.id, m.mode, taskRunning)
	}

	if m.votedFor != nil && !m.latestConfig.IsMember(*m.votedFor) {
		return fmt.Errorf("member %s: voted_for %s is not a member of the latest configuration",
			m.id, *m.votedFor)
	}

	return nil
}

// checkStateMachineSafety asserts spec.md §8 property 5: if two
// members have both applied the entry at index i, it is the same
// entry. We approximate this by comparing term_at(i) across every
// member whose log extends that far and who has committed past i --
// Log Matching (enforced by the replication protocol) guarantees
// agreement at (index, term) implies agreement on the entry content.
func checkStateMachineSafety(members []*Member) error {
	byIndex := make(map[LogIndex]Term)

	for _, m := range members {
		m.mu.Lock()
		committed := m.committedIndex
		prevIndex := m.raftLog.PrevIndex

		for i := prevIndex + 1; i <= committed && i <= m.raftLog.LatestIndex(); i++ {
			term := m.raftLog.TermAt(i)

			if existing, found := byIndex[i]; found && existing != term {
				m.mu.Unlock()
				return fmt.Errorf("state machine safety violated at index %d: term %d vs %d",
					i, existing, term)
			}

			byIndex[i] = term
		}

		m.mu.Unlock()
	}

	return nil
}
