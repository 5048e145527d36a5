package mock

import (
	"context"
	"sync"

	"github.com/mansa-labs/raft/pkg/raft"
)

// Storage is an in-memory raft.Storage, for tests that want to
// inspect exactly what a member persisted without touching disk.
type Storage struct {
	mu    sync.Mutex
	state raft.PersistentState
	fail  bool
}

func NewStorage(initial raft.PersistentState) *Storage {
	return &Storage{state: initial.Clone()}
}

// FailWrites makes subsequent WritePersistentState calls return an
// error, simulating a storage outage (spec.md §4.3 treats a failed
// persist as the RPC failing outright).
func (s *Storage) FailWrites(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

func (s *Storage) WritePersistentState(ctx context.Context, state raft.PersistentState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail {
		return errStorageFailure
	}

	s.state = state.Clone()
	return nil
}

// Read returns the last successfully persisted state, for assertions
// and for reconstructing a member after a simulated restart.
func (s *Storage) Read() raft.PersistentState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.Clone()
}

var errStorageFailure = &storageError{"mock: simulated storage failure"}

type storageError struct{ msg string }

func (e *storageError) Error() string { return e.msg }
