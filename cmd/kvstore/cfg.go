package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/mansa-labs/raft/pkg/raft"
)

// Topology is the cluster membership fixture: a yaml file mapping a
// stable, human-chosen instance name to the join-instance id and
// network address that name currently resolves to. Kept separate
// from the JSON service configuration since it describes cluster
// shape rather than this one process's settings, and is naturally
// hand-edited or generated by an operator tool.
type Topology struct {
	Members map[string]TopologyMember `yaml:"members"`
}

type TopologyMember struct {
	Id      string `yaml:"id"`
	Address string `yaml:"address"`
}

func LoadTopology(filePath string) (*Topology, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", filePath, err)
	}

	var topology Topology
	if err := yaml.Unmarshal(data, &topology); err != nil {
		return nil, fmt.Errorf("cannot decode yaml data: %w", err)
	}

	return &topology, nil
}

// Addresses returns the join-instance id to network address table
// used to configure the httptransport.
func (t *Topology) Addresses() (map[raft.MemberId]string, error) {
	addresses := make(map[raft.MemberId]string, len(t.Members))

	for name, member := range t.Members {
		var id raft.MemberId
		if err := id.UnmarshalText([]byte(member.Id)); err != nil {
			return nil, fmt.Errorf("member %q: %w", name, err)
		}

		addresses[id] = member.Address
	}

	return addresses, nil
}

// VotingMembers returns every member id in the topology, for seeding
// the initial cluster configuration of a brand-new deployment.
func (t *Topology) VotingMembers() ([]raft.MemberId, error) {
	ids := make([]raft.MemberId, 0, len(t.Members))

	for name, member := range t.Members {
		var id raft.MemberId
		if err := id.UnmarshalText([]byte(member.Id)); err != nil {
			return nil, fmt.Errorf("member %q: %w", name, err)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func (t *Topology) ResolveId(instanceName string) (raft.MemberId, error) {
	member, found := t.Members[instanceName]
	if !found {
		return raft.MemberId{}, fmt.Errorf("unknown instance %q", instanceName)
	}

	var id raft.MemberId
	if err := id.UnmarshalText([]byte(member.Id)); err != nil {
		return raft.MemberId{}, fmt.Errorf("member %q: %w", instanceName, err)
	}

	return id, nil
}
