package httptransport

import (
	"encoding/json"
	"fmt"

	"github.com/mansa-labs/raft/pkg/raft"
)

// Tagged-envelope encoding, one JSON object per request/reply,
// grounded on the teacher's pkg/raft/protocol.go EncodeRPCMsg/
// DecodeRPCMsg.

const (
	typeRequestVote     = "requestVote"
	typeAppendEntries   = "appendEntries"
	typeInstallSnapshot = "installSnapshot"
	typeStepDown        = "stepDown"
)

func encodeRequest(req raft.RPCRequest) ([]byte, error) {
	var typ string

	switch req.(type) {
	case raft.RequestVoteRequest:
		typ = typeRequestVote
	case raft.AppendEntriesRequest:
		typ = typeAppendEntries
	case raft.InstallSnapshotRequest:
		typ = typeInstallSnapshot
	case raft.StepDownRequest:
		typ = typeStepDown
	default:
		return nil, fmt.Errorf("unknown request type %T", req)
	}

	return json.Marshal(struct {
		Type  string         `json:"type"`
		Value raft.RPCRequest `json:"value"`
	}{Type: typ, Value: req})
}

func decodeRequest(data []byte) (raft.RPCRequest, error) {
	var envelope struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}

	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("cannot decode envelope: %w", err)
	}

	switch envelope.Type {
	case typeRequestVote:
		var r raft.RequestVoteRequest
		if err := json.Unmarshal(envelope.Value, &r); err != nil {
			return nil, err
		}
		return r, nil

	case typeAppendEntries:
		var r raft.AppendEntriesRequest
		if err := json.Unmarshal(envelope.Value, &r); err != nil {
			return nil, err
		}
		return r, nil

	case typeInstallSnapshot:
		var r raft.InstallSnapshotRequest
		if err := json.Unmarshal(envelope.Value, &r); err != nil {
			return nil, err
		}
		return r, nil

	case typeStepDown:
		var r raft.StepDownRequest
		if err := json.Unmarshal(envelope.Value, &r); err != nil {
			return nil, err
		}
		return r, nil

	default:
		return nil, fmt.Errorf("unknown request type %q", envelope.Type)
	}
}

func encodeReply(reply raft.RPCReply) ([]byte, error) {
	var typ string

	switch reply.(type) {
	case raft.RequestVoteReply:
		typ = typeRequestVote
	case raft.AppendEntriesReply:
		typ = typeAppendEntries
	case raft.InstallSnapshotReply:
		typ = typeInstallSnapshot
	case raft.StepDownReply:
		typ = typeStepDown
	default:
		return nil, fmt.Errorf("unknown reply type %T", reply)
	}

	return json.Marshal(struct {
		Type  string       `json:"type"`
		Value raft.RPCReply `json:"value"`
	}{Type: typ, Value: reply})
}

func decodeReply(data []byte) (raft.RPCReply, error) {
	var envelope struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}

	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("cannot decode envelope: %w", err)
	}

	switch envelope.Type {
	case typeRequestVote:
		var r raft.RequestVoteReply
		if err := json.Unmarshal(envelope.Value, &r); err != nil {
			return nil, err
		}
		return r, nil

	case typeAppendEntries:
		var r raft.AppendEntriesReply
		if err := json.Unmarshal(envelope.Value, &r); err != nil {
			return nil, err
		}
		return r, nil

	case typeInstallSnapshot:
		var r raft.InstallSnapshotReply
		if err := json.Unmarshal(envelope.Value, &r); err != nil {
			return nil, err
		}
		return r, nil

	case typeStepDown:
		var r raft.StepDownReply
		if err := json.Unmarshal(envelope.Value, &r); err != nil {
			return nil, err
		}
		return r, nil

	default:
		return nil, fmt.Errorf("unknown reply type %q", envelope.Type)
	}
}
