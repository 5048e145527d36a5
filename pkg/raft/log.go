package raft

// Log is the in-memory suffix of the logical log strictly after
// PrevIndex: a snapshot prefix boundary plus the entries that follow
// it. Grounded on the teacher's LogStore (LastIndex/LastTerm/
// AppendEntry), generalized to the slice-over-snapshot model spec.md
// §4.1 asks for.
type Log struct {
	PrevIndex LogIndex
	PrevTerm  Term
	Entries   []LogEntry
}

func NewLog(prevIndex LogIndex, prevTerm Term, entries []LogEntry) Log {
	cloned := make([]LogEntry, len(entries))
	copy(cloned, entries)

	return Log{PrevIndex: prevIndex, PrevTerm: prevTerm, Entries: cloned}
}

// LatestIndex is the index of the last entry in the slice, or
// PrevIndex if the slice is empty.
func (l *Log) LatestIndex() LogIndex {
	return l.PrevIndex + LogIndex(len(l.Entries))
}

// TermAt returns the term of the entry at index i, which must satisfy
// PrevIndex <= i <= LatestIndex(). Out-of-range access is a
// programming error.
func (l *Log) TermAt(i LogIndex) Term {
	if i == l.PrevIndex {
		return l.PrevTerm
	}

	if i < l.PrevIndex || i > l.LatestIndex() {
		Panicf("TermAt(%d): out of range [%d, %d]", i, l.PrevIndex, l.LatestIndex())
	}

	return l.Entries[i-l.PrevIndex-1].Term
}

// EntryAt returns the entry at index i, which must satisfy
// PrevIndex < i <= LatestIndex().
func (l *Log) EntryAt(i LogIndex) LogEntry {
	if i <= l.PrevIndex || i > l.LatestIndex() {
		Panicf("EntryAt(%d): out of range (%d, %d]", i, l.PrevIndex, l.LatestIndex())
	}

	return l.Entries[i-l.PrevIndex-1]
}

// TruncateSuffixFrom deletes the entry at index i and everything
// after it.
func (l *Log) TruncateSuffixFrom(i LogIndex) {
	if i <= l.PrevIndex || i > l.LatestIndex()+1 {
		Panicf("TruncateSuffixFrom(%d): out of range (%d, %d]", i, l.PrevIndex, l.LatestIndex()+1)
	}

	l.Entries = l.Entries[:i-l.PrevIndex-1]
}

// TruncatePrefixTo folds everything up to and including index i into
// the snapshot prefix, advancing PrevIndex/PrevTerm. The caller is
// responsible for having captured the corresponding application state
// into a snapshot before calling this.
func (l *Log) TruncatePrefixTo(i LogIndex) {
	if i < l.PrevIndex || i > l.LatestIndex() {
		Panicf("TruncatePrefixTo(%d): out of range [%d, %d]", i, l.PrevIndex, l.LatestIndex())
	}

	if i == l.PrevIndex {
		return
	}

	newTerm := l.TermAt(i)
	l.Entries = l.Entries[i-l.PrevIndex:]
	l.PrevIndex = i
	l.PrevTerm = newTerm
}

func (l *Log) Append(entry LogEntry) {
	l.Entries = append(l.Entries, entry)
}

// ResetToSnapshot replaces the whole slice, as spec.md §4.1 requires
// snapshot installation to do: the log becomes whatever trails the
// snapshot point (nothing, from the point of view of whoever sent it).
func (l *Log) ResetToSnapshot(lastIncludedIndex LogIndex, lastIncludedTerm Term) {
	l.PrevIndex = lastIncludedIndex
	l.PrevTerm = lastIncludedTerm
	l.Entries = nil
}

func (l *Log) Clone() Log {
	return NewLog(l.PrevIndex, l.PrevTerm, l.Entries)
}

// EntriesFrom returns a copy of the entries starting at index i
// (i must be > PrevIndex), capped at maxCount entries (0 means
// unlimited).
func (l *Log) EntriesFrom(i LogIndex, maxCount int) []LogEntry {
	if i <= l.PrevIndex {
		Panicf("EntriesFrom(%d): at or before snapshot prefix %d", i, l.PrevIndex)
	}

	if i > l.LatestIndex()+1 {
		Panicf("EntriesFrom(%d): past latest index+1 %d", i, l.LatestIndex()+1)
	}

	start := int(i - l.PrevIndex - 1)
	entries := l.Entries[start:]

	if maxCount > 0 && len(entries) > maxCount {
		entries = entries[:maxCount]
	}

	out := make([]LogEntry, len(entries))
	copy(out, entries)

	return out
}
