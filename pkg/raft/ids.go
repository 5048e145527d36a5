package raft

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"
)

// Term is a monotonically non-decreasing election epoch. At most one
// leader may exist for a given term.
type Term uint64

// LogIndex is a 1-based position in the replicated log. Index 0 means
// "before the first entry".
type LogIndex uint64

// MemberId identifies a single join-instance of a cluster member. A
// process that leaves and rejoins the cluster gets a fresh MemberId;
// reusing the same one would violate Election Safety if the old
// instance's votes and log were still considered valid.
type MemberId [16]byte

var joinCounter uint64

// NewMemberId returns a fresh, globally unique id. Each call folds a
// random 128-bit value together with a process-local monotonic
// counter through blake2b, so that two members minted back-to-back in
// the same process (as the mock-network test harness does constantly)
// are provably distinct even if the underlying RNG were ever seeded
// deterministically.
func NewMemberId() MemberId {
	var seed [16]byte
	if _, err := rand.Read(seed[:]); err != nil {
		Panicf("cannot read random bytes: %v", err)
	}

	counter := atomic.AddUint64(&joinCounter, 1)

	var input [24]byte
	copy(input[:16], seed[:])
	input[16] = byte(counter)
	input[17] = byte(counter >> 8)
	input[18] = byte(counter >> 16)
	input[19] = byte(counter >> 24)
	input[20] = byte(counter >> 32)
	input[21] = byte(counter >> 40)
	input[22] = byte(counter >> 48)
	input[23] = byte(counter >> 56)

	sum := blake2b.Sum256(input[:])

	var id MemberId
	copy(id[:], sum[:16])

	return id
}

func (id MemberId) IsNil() bool {
	return id == MemberId{}
}

func (id MemberId) String() string {
	return hex.EncodeToString(id[:])
}

func (id MemberId) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *MemberId) UnmarshalText(text []byte) error {
	data, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("invalid member id %q: %w", text, err)
	}

	if len(data) != len(id) {
		return fmt.Errorf("invalid member id %q: wrong length", text)
	}

	copy(id[:], data)

	return nil
}
