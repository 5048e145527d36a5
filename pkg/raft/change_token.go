package raft

import (
	"context"
	"errors"
)

// ErrChangeAbandoned is the error a ChangeToken resolves with when
// the leader loses contact with quorum, observes a higher term, or
// otherwise cannot guarantee progress on the entry it was tracking.
// Per spec.md §4.5, abandonment does not imply the change was not or
// will not be committed -- callers must reconcile via observation of
// get_committed_view / get_latest_view.
var ErrChangeAbandoned = errors.New("raft: change token abandoned")

// ChangeToken is the single-shot promise described in spec.md §4.5,
// grounded on original_source's change_token_t (a promise_t<bool>
// keyed by the log index it awaits). Wait returns richer error
// reporting than the original's bare bool, which spec.md §9(c)
// explicitly permits.
type ChangeToken struct {
	index    LogIndex
	isConfig bool
	done     chan struct{}
	err      error
}

func newChangeToken(index LogIndex, isConfig bool) *ChangeToken {
	return &ChangeToken{
		index:    index,
		isConfig: isConfig,
		done:     make(chan struct{}),
	}
}

// Index is the log index of the entry this token tracks.
func (t *ChangeToken) Index() LogIndex { return t.index }

func (t *ChangeToken) resolve(err error) {
	select {
	case <-t.done:
		// already resolved; single-shot, ignore subsequent calls
		return
	default:
	}

	t.err = err
	close(t.done)
}

// Wait blocks until the tracked entry commits (err == nil) or the
// token is abandoned (err == ErrChangeAbandoned), or ctx is done.
func (t *ChangeToken) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// changeTokenMultimap tracks ChangeTokens keyed by the index they
// await, per original_source's std::multimap<raft_log_index_t,
// change_token_t *>.
type changeTokenMultimap struct {
	byIndex map[LogIndex][]*ChangeToken
}

func newChangeTokenMultimap() *changeTokenMultimap {
	return &changeTokenMultimap{byIndex: make(map[LogIndex][]*ChangeToken)}
}

func (m *changeTokenMultimap) insert(token *ChangeToken) {
	m.byIndex[token.index] = append(m.byIndex[token.index], token)
}

// resolveUpTo resolves every token whose index is <= commitIndex as
// committed, and removes them from the map.
func (m *changeTokenMultimap) resolveUpTo(commitIndex LogIndex) {
	for index, tokens := range m.byIndex {
		if index > commitIndex {
			continue
		}

		for _, token := range tokens {
			token.resolve(nil)
		}

		delete(m.byIndex, index)
	}
}

// abandonAll resolves every remaining token as abandoned and clears
// the map. Called on leader-loss per spec.md §4.4 step 7.
func (m *changeTokenMultimap) abandonAll() {
	for index, tokens := range m.byIndex {
		for _, token := range tokens {
			token.resolve(ErrChangeAbandoned)
		}

		delete(m.byIndex, index)
	}
}

func (m *changeTokenMultimap) hasPendingConfigChange() bool {
	for _, tokens := range m.byIndex {
		for _, token := range tokens {
			if token.isConfig {
				return true
			}
		}
	}

	return false
}
