package raft

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// leaderTaskHandle tracks the single cooperative task whose lifetime
// equals the span during which mode != FollowerLed (spec.md §4.2,
// §9 "Owning the long-running task").
type leaderTaskHandle struct {
	cancel context.CancelFunc
}

// startElectionTask launches the candidate/leader task. Must be
// called with m.mu held, and only when no such task is currently
// running.
func (m *Member) startElectionTask() {
	ctx, cancel := context.WithCancel(context.Background())
	m.leaderTask = &leaderTaskHandle{cancel: cancel}

	m.wg.Add(1)
	go m.runElectionAndLeaderTask(ctx)
}

// stopElectionTask cancels the running task (if any) along with every
// replication subtask. It does not wait for them to exit -- callers
// holding m.mu cannot block on that without risking deadlock, since
// the tasks themselves acquire m.mu on their way out. Destruct is
// responsible for the actual wait, after releasing the lock.
func (m *Member) stopElectionTask() {
	if m.leaderTask != nil {
		m.leaderTask.cancel()
		m.leaderTask = nil
	}

	m.stopReplicationTasksLocked()
}

// restartElectionTaskLocked is used by external callers (RPC handler,
// connectivity watcher, a replication subtask) to force a Leader or
// Candidate member back to FollowerUnled. Because the caller is not
// the task goroutine itself, the running task must be cancelled and a
// fresh one started to pick up the candidate-phase loop.
func (m *Member) restartElectionTaskLocked() {
	m.stopElectionTask()
	m.stopLeaderStateLocked()
	m.mode = FollowerUnled
	m.lastLeaderTime = m.clock.Now()
	m.startElectionTask()
}

// stepDownLocked implements spec.md §4.4 step 7: on loss of quorum
// contact, a higher term observed, or self-removal, send StepDown to
// all peers asynchronously, fail outstanding change-tokens, clear
// match_index, and transition mode.
func (m *Member) stepDownLocked() {
	if m.mode == Leader {
		term := m.currentTerm
		self := m.id
		targets := make([]MemberId, 0)
		for id := range m.latestConfig.AllMembers() {
			if id != self {
				targets = append(targets, id)
			}
		}

		go m.broadcastStepDown(term, self, targets)
	}

	m.restartElectionTaskLocked()
	m.publishViews()
}

func (m *Member) broadcastStepDown(term Term, self MemberId, targets []MemberId) {
	for _, id := range targets {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, _ = m.network.SendRPC(ctx, id, StepDownRequest{Term: term, LeaderId: self})
		cancel()
	}
}

// runElectionAndLeaderTask is the single cooperative task driving
// candidate and leader phases, per spec.md §4.4.
func (m *Member) runElectionAndLeaderTask(ctx context.Context) {
	defer m.wg.Done()
	defer m.recoverPanic("election/leader task")

	for {
		if ctx.Err() != nil {
			return
		}

		elected := m.runCandidatePhase(ctx)

		if ctx.Err() != nil {
			return
		}

		if elected {
			m.runLeaderPhase(ctx)
			return
		}
	}
}

// runCandidatePhase implements spec.md §4.4 steps 1-3: sleep, begin
// election, tally votes. It returns true iff this member became
// leader for the term it tallied. The same goroutine keeps running
// regardless of outcome (loop, retry with a bumped term, or proceed
// to runLeaderPhase); no task restart is needed for these internal
// transitions since this IS the task.
func (m *Member) runCandidatePhase(ctx context.Context) bool {
	timeout := randomElectionTimeout(m.rand, m.tunables)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(timeout):
	}

	m.mu.Lock()
	if m.stopped || (m.mode != FollowerUnled && m.mode != Candidate) {
		m.mu.Unlock()
		return false
	}

	m.currentTerm++
	self := m.id
	m.votedFor = &self
	m.mode = Candidate

	term := m.currentTerm
	lastIndex := m.raftLog.LatestIndex()
	lastTerm := m.raftLog.TermAt(lastIndex)
	cfg := m.latestConfig.Clone()

	if err := m.persistLocked(context.Background()); err != nil {
		m.mu.Unlock()
		return false
	}

	m.log.Info("starting election for term %d", term)
	m.publishViews()
	m.mu.Unlock()

	targets := votingMembersExcept(cfg, self)

	type voteResult struct {
		id    MemberId
		reply RequestVoteReply
		err   error
	}

	results := make(chan voteResult, len(targets))

	var eg errgroup.Group
	for _, target := range targets {
		target := target
		eg.Go(func() error {
			reqCtx, cancel := context.WithTimeout(ctx, m.tunables.ElectionTimeoutMax)
			defer cancel()

			reply, err := m.network.SendRPC(reqCtx, target, RequestVoteRequest{
				Term:         term,
				CandidateId:  self,
				LastLogIndex: lastIndex,
				LastLogTerm:  lastTerm,
			})

			rv, _ := reply.(RequestVoteReply)
			results <- voteResult{id: target, reply: rv, err: err}

			return nil
		})
	}

	go func() {
		eg.Wait()
		close(results)
	}()

	granted := map[MemberId]struct{}{self: {}}
	deadline := time.After(m.tunables.ElectionTimeoutMax)

	for {
		select {
		case <-ctx.Done():
			return false

		case <-deadline:
			return false

		case res, ok := <-results:
			if !ok {
				// Channel drained with no quorum yet; keep waiting for
				// the deadline -- a closed nil channel blocks forever
				// in a select, which is what we want here.
				results = nil
				continue
			}

			if res.err != nil {
				continue
			}

			if res.reply.Term > term {
				m.mu.Lock()
				if res.reply.Term > m.currentTerm {
					m.adoptTermLocked(res.reply.Term)
					m.mode = FollowerUnled
					m.lastLeaderTime = m.clock.Now()
					_ = m.persistLocked(context.Background())
					m.publishViews()
				}
				m.mu.Unlock()

				return false
			}

			if !res.reply.Granted {
				continue
			}

			granted[res.id] = struct{}{}

			if cfg.IsQuorum(granted) {
				m.mu.Lock()
				defer m.mu.Unlock()

				if m.stopped || m.mode != Candidate || m.currentTerm != term {
					return false
				}

				m.log.Info("obtained quorum of votes for term %d, becoming leader", term)
				m.becomeLeaderLocked()

				return true
			}
		}
	}
}

// becomeLeaderLocked implements spec.md §4.4 step 4: append a NoOp
// entry at the new term (Section 8 of the Raft paper) and initialize
// per-peer replication bookkeeping.
func (m *Member) becomeLeaderLocked() {
	m.mode = Leader
	m.currentTermLeaderId = m.id
	m.currentTermLeaderInvalid = false

	m.appendAsLeaderLocked(NewNoOpEntry(m.currentTerm))

	m.matchIndex = make(map[MemberId]LogIndex)
	m.nextIndex = make(map[MemberId]LogIndex)

	for id := range m.latestConfig.AllMembers() {
		m.matchIndex[id] = 0
		m.nextIndex[id] = m.raftLog.LatestIndex() + 1
	}

	_ = m.persistLocked(context.Background())
	m.publishViews()
	m.ensureReplicationTasksLocked()
}

// runLeaderPhase implements spec.md §4.4 steps 5-7. Steps 5 (spawn
// replication subtasks) and 6 (drive reconfiguration via commit
// advance) already happened in becomeLeaderLocked and
// tryAdvanceCommitLocked respectively; this function's job is simply
// to represent "the leader task is alive" until something cancels its
// context, at which point mode has already been flipped by whichever
// caller did the cancelling (stepDownLocked / restartElectionTaskLocked).
func (m *Member) runLeaderPhase(ctx context.Context) {
	<-ctx.Done()
}

func votingMembersExcept(cfg ComplexConfig, self MemberId) []MemberId {
	all := cfg.Current.Voting
	var members []MemberId

	for id := range all {
		if id != self {
			members = append(members, id)
		}
	}

	if cfg.Next != nil {
		for id := range cfg.Next.Voting {
			if id == self {
				continue
			}

			found := false
			for _, existing := range members {
				if existing == id {
					found = true
					break
				}
			}

			if !found {
				members = append(members, id)
			}
		}
	}

	return members
}
