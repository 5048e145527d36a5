package raft

// ChangeLock is a scoped exclusive acquisition of the member mutex
// that suspends RPC processing, per spec.md §4.5. It guarantees that
// latest_view cannot change except through proposals made under the
// same lock. Grounded on original_source's change_lock_t.
//
// It is legal to block while holding a ChangeLock, but callers should
// release promptly since RPC handling (and therefore the member's
// ability to make progress) is blocked for the duration.
type ChangeLock struct {
	member *Member
}

// AcquireChangeLock blocks until the member mutex is available, then
// holds it. The caller must call Release exactly once.
func (m *Member) AcquireChangeLock() *ChangeLock {
	m.mu.Lock()
	return &ChangeLock{member: m}
}

func (l *ChangeLock) Release() {
	l.member.mu.Unlock()
}
