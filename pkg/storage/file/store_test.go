package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-test/deep"

	"github.com/mansa-labs/raft/pkg/raft"
)

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	store := New(path)
	if err := store.Open(); err != nil {
		t.Fatalf("cannot open store: %v", err)
	}
	defer store.Close()

	id := raft.NewMemberId()
	state := raft.PersistentState{
		CurrentTerm: 7,
		VotedFor:    id,
		Log:         raft.NewLog(0, 0, []raft.LogEntry{raft.NewRegularEntry(1, []byte("a"))}),
	}

	if err := store.WritePersistentState(context.Background(), state); err != nil {
		t.Fatalf("cannot write state: %v", err)
	}

	read, err := store.Read()
	if err != nil {
		t.Fatalf("cannot read state: %v", err)
	}

	if read.CurrentTerm != state.CurrentTerm {
		t.Errorf("expected term %d, got %d", state.CurrentTerm, read.CurrentTerm)
	}

	if read.VotedFor != state.VotedFor {
		t.Errorf("expected voted for %s, got %s", state.VotedFor, read.VotedFor)
	}

	if diff := deep.Equal(read.Log.Entries, state.Log.Entries); diff != nil {
		t.Errorf("unexpected log entries after round trip: %v", diff)
	}
}

func TestStoreReopenPreservesState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	store := New(path)
	if err := store.Open(); err != nil {
		t.Fatalf("cannot open store: %v", err)
	}

	state := raft.PersistentState{CurrentTerm: 3}
	if err := store.WritePersistentState(context.Background(), state); err != nil {
		t.Fatalf("cannot write state: %v", err)
	}
	store.Close()

	reopened := New(path)
	if err := reopened.Open(); err != nil {
		t.Fatalf("cannot reopen store: %v", err)
	}
	defer reopened.Close()

	read, err := reopened.Read()
	if err != nil {
		t.Fatalf("cannot read state: %v", err)
	}

	if read.CurrentTerm != 3 {
		t.Errorf("expected term 3 to survive reopen, got %d", read.CurrentTerm)
	}
}

func TestStoreOpenCreatesFileWithDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fresh.json")

	store := New(path)
	if err := store.Open(); err != nil {
		t.Fatalf("cannot open store: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected file to be created: %v", err)
	}

	state, err := store.Read()
	if err != nil {
		t.Fatalf("cannot read default state: %v", err)
	}

	if state.CurrentTerm != 0 {
		t.Errorf("expected zero-valued default term, got %d", state.CurrentTerm)
	}
}
