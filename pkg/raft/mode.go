package raft

// Mode is the member's position in the state machine of spec.md §4.2.
type Mode string

const (
	// FollowerLed believes a leader exists for the current term.
	FollowerLed Mode = "followerLed"
	// FollowerUnled has no known live leader this term.
	FollowerUnled Mode = "followerUnled"
	Candidate     Mode = "candidate"
	Leader        Mode = "leader"
)
