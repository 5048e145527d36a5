package main

import (
	"encoding/json"
	"sync"

	"github.com/mansa-labs/raft/pkg/raft"
)

// Store is the application state machine kept in step by every
// member's log: a plain string-to-string map, mutated only through
// committed OpPut/OpDelete entries.
type Store struct {
	mu      sync.RWMutex
	Entries map[string]string
}

var _ raft.StateMachine = (*Store)(nil)

func NewStore() *Store {
	return &Store{Entries: make(map[string]string)}
}

func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, found := s.Entries[key]
	return value, found
}

func (s *Store) List() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make(map[string]string, len(s.Entries))
	for k, v := range s.Entries {
		entries[k] = v
	}

	return entries
}

// Apply implements raft.StateMachine. change is an encoded Op; an
// undecodable change is a programming error in the proposer, not a
// runtime condition to recover from.
func (s *Store) Apply(change []byte) {
	op, err := DecodeOp(change)
	if err != nil {
		raft.Panicf("cannot decode op: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch op := op.(type) {
	case *OpPut:
		s.Entries[op.Key] = op.Value
	case *OpDelete:
		delete(s.Entries, op.Key)
	}
}

func (s *Store) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := json.Marshal(s.Entries)
	if err != nil {
		raft.Panicf("cannot encode snapshot: %v", err)
	}

	return data
}

func (s *Store) Restore(snapshot []byte) {
	entries := make(map[string]string)

	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &entries); err != nil {
			raft.Panicf("cannot decode snapshot: %v", err)
		}
	}

	s.mu.Lock()
	s.Entries = entries
	s.mu.Unlock()
}

func (s *Store) Clone() raft.StateMachine {
	return &Store{Entries: s.List()}
}
