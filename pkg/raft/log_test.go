package raft

import (
	"github.com/go-test/deep"
	"testing"
)

func mkEntries(terms ...Term) []LogEntry {
	entries := make([]LogEntry, len(terms))
	for i, term := range terms {
		entries[i] = NewRegularEntry(term, nil)
	}
	return entries
}

func TestLogLatestIndex(t *testing.T) {
	l := NewLog(3, 2, mkEntries(2, 3))

	if got := l.LatestIndex(); got != 5 {
		t.Errorf("expected latest index 5, got %d", got)
	}
}

func TestLogTermAt(t *testing.T) {
	l := NewLog(3, 2, mkEntries(2, 3))

	if got := l.TermAt(3); got != 2 {
		t.Errorf("expected term 2 at prev index, got %d", got)
	}

	if got := l.TermAt(5); got != 3 {
		t.Errorf("expected term 3 at latest index, got %d", got)
	}
}

func TestLogTermAtOutOfRangePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("expected TermAt out of range to panic")
		}
	}()

	l := NewLog(3, 2, mkEntries(2))
	l.TermAt(10)
}

func TestLogTruncateSuffixFrom(t *testing.T) {
	l := NewLog(0, 0, mkEntries(1, 1, 2, 2))

	l.TruncateSuffixFrom(3)

	if diff := deep.Equal(l.Entries, mkEntries(1, 1)); diff != nil {
		t.Errorf("unexpected entries after truncation: %v", diff)
	}

	if got := l.LatestIndex(); got != 2 {
		t.Errorf("expected latest index 2 after truncation, got %d", got)
	}
}

func TestLogTruncatePrefixTo(t *testing.T) {
	l := NewLog(0, 0, mkEntries(1, 1, 2, 2))

	l.TruncatePrefixTo(2)

	if l.PrevIndex != 2 || l.PrevTerm != 1 {
		t.Errorf("expected prev (2, 1), got (%d, %d)", l.PrevIndex, l.PrevTerm)
	}

	if diff := deep.Equal(l.Entries, mkEntries(2, 2)); diff != nil {
		t.Errorf("unexpected entries after prefix truncation: %v", diff)
	}
}

func TestLogEntriesFromRespectsMaxCount(t *testing.T) {
	l := NewLog(0, 0, mkEntries(1, 1, 2, 2, 3))

	entries := l.EntriesFrom(2, 2)

	if diff := deep.Equal(entries, mkEntries(1, 2)); diff != nil {
		t.Errorf("unexpected entries: %v", diff)
	}
}

func TestLogAppendAndResetToSnapshot(t *testing.T) {
	l := NewLog(0, 0, nil)
	l.Append(NewRegularEntry(1, []byte("a")))
	l.Append(NewRegularEntry(1, []byte("b")))

	if got := l.LatestIndex(); got != 2 {
		t.Errorf("expected latest index 2, got %d", got)
	}

	l.ResetToSnapshot(2, 1)

	if len(l.Entries) != 0 {
		t.Errorf("expected empty entries after reset, got %d", len(l.Entries))
	}

	if got := l.LatestIndex(); got != 2 {
		t.Errorf("expected latest index 2 after reset, got %d", got)
	}
}
