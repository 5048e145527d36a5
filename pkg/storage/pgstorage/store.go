// Package pgstorage implements the raft.Storage port on top of
// PostgreSQL via pgx, for deployments that already run pgx as their
// driver (the teacher's go-service stack pulls it in transitively; a
// multi-member cluster sharing one database server gets a centrally
// backed-up persistent record instead of N scattered files).
package pgstorage

import (
	"context"
	"encoding/json"
	"fmt"

	jsonvalidator "github.com/galdor/go-json-validator"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mansa-labs/raft/pkg/raft"
)

// Cfg configures a Store. MemberKey namespaces the persistent record
// row so that several members can share one database and table.
type Cfg struct {
	URI       string `json:"uri"`
	Table     string `json:"table"`
	MemberKey string `json:"memberKey"`
}

func (cfg *Cfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.CheckStringNotEmpty("uri", cfg.URI)
	v.CheckStringNotEmpty("table", cfg.Table)
	v.CheckStringNotEmpty("memberKey", cfg.MemberKey)
}

func (cfg *Cfg) applyDefaults() {
	if cfg.Table == "" {
		cfg.Table = "raft_persistent_state"
	}
}

// Store is a Postgres-backed raft.Storage. One row per MemberKey,
// overwritten in place inside a transaction on every write.
type Store struct {
	cfg  Cfg
	pool *pgxpool.Pool
}

func New(cfg Cfg) *Store {
	cfg.applyDefaults()
	return &Store{cfg: cfg}
}

func (s *Store) Open(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, s.cfg.URI)
	if err != nil {
		return fmt.Errorf("cannot create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("cannot reach database: %w", err)
	}

	createTable := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	member_key TEXT PRIMARY KEY,
	data JSONB NOT NULL
)`, pgx.Identifier{s.cfg.Table}.Sanitize())

	if _, err := pool.Exec(ctx, createTable); err != nil {
		pool.Close()
		return fmt.Errorf("cannot create table %q: %w", s.cfg.Table, err)
	}

	s.pool = pool
	return nil
}

func (s *Store) Close() {
	s.pool.Close()
}

type wireState struct {
	CurrentTerm    raft.Term          `json:"currentTerm"`
	VotedFor       raft.MemberId      `json:"votedFor"`
	SnapshotState  []byte             `json:"snapshotState"`
	SnapshotConfig raft.ComplexConfig `json:"snapshotConfig"`
	LogPrevIndex   raft.LogIndex      `json:"logPrevIndex"`
	LogPrevTerm    raft.Term          `json:"logPrevTerm"`
	LogEntries     []raft.LogEntry    `json:"logEntries"`
}

// Read loads the persisted state for this store's MemberKey. Returns
// a zero-valued PersistentState (empty log, nil snapshot) if no row
// exists yet, so a fresh member can bootstrap from it directly.
func (s *Store) Read(ctx context.Context) (raft.PersistentState, error) {
	query := fmt.Sprintf("SELECT data FROM %s WHERE member_key = $1",
		pgx.Identifier{s.cfg.Table}.Sanitize())

	var raw []byte
	err := s.pool.QueryRow(ctx, query, s.cfg.MemberKey).Scan(&raw)
	if err == pgx.ErrNoRows {
		return raft.PersistentState{}, nil
	}
	if err != nil {
		return raft.PersistentState{}, fmt.Errorf("cannot query persistent state: %w", err)
	}

	var w wireState
	if err := json.Unmarshal(raw, &w); err != nil {
		return raft.PersistentState{}, fmt.Errorf("cannot decode persistent state: %w", err)
	}

	return raft.PersistentState{
		CurrentTerm:    w.CurrentTerm,
		VotedFor:       w.VotedFor,
		SnapshotState:  w.SnapshotState,
		SnapshotConfig: w.SnapshotConfig,
		Log:            raft.NewLog(w.LogPrevIndex, w.LogPrevTerm, w.LogEntries),
	}, nil
}

// WritePersistentState implements raft.Storage with an upsert inside
// a single round trip, so partial writes cannot corrupt the record.
func (s *Store) WritePersistentState(ctx context.Context, state raft.PersistentState) error {
	w := wireState{
		CurrentTerm:    state.CurrentTerm,
		VotedFor:       state.VotedFor,
		SnapshotState:  state.SnapshotState,
		SnapshotConfig: state.SnapshotConfig,
		LogPrevIndex:   state.Log.PrevIndex,
		LogPrevTerm:    state.Log.PrevTerm,
		LogEntries:     state.Log.Entries,
	}

	data, err := json.Marshal(&w)
	if err != nil {
		return fmt.Errorf("cannot encode persistent state: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (member_key, data) VALUES ($1, $2)
ON CONFLICT (member_key) DO UPDATE SET data = EXCLUDED.data`,
		pgx.Identifier{s.cfg.Table}.Sanitize())

	if _, err := s.pool.Exec(ctx, query, s.cfg.MemberKey, data); err != nil {
		return fmt.Errorf("cannot write persistent state: %w", err)
	}

	return nil
}
