package raft

// Config describes the set of members involved in the cluster at a
// point in the log. Members in Voting count for quorum and leader
// eligibility; members in NonVoting receive log entries but neither.
type Config struct {
	Voting    map[MemberId]struct{} `json:"voting"`
	NonVoting map[MemberId]struct{} `json:"nonVoting"`
}

func NewConfig(voting, nonVoting []MemberId) Config {
	cfg := Config{
		Voting:    make(map[MemberId]struct{}, len(voting)),
		NonVoting: make(map[MemberId]struct{}, len(nonVoting)),
	}

	for _, id := range voting {
		cfg.Voting[id] = struct{}{}
	}

	for _, id := range nonVoting {
		cfg.NonVoting[id] = struct{}{}
	}

	return cfg
}

func (c Config) Clone() Config {
	clone := Config{
		Voting:    make(map[MemberId]struct{}, len(c.Voting)),
		NonVoting: make(map[MemberId]struct{}, len(c.NonVoting)),
	}

	for id := range c.Voting {
		clone.Voting[id] = struct{}{}
	}

	for id := range c.NonVoting {
		clone.NonVoting[id] = struct{}{}
	}

	return clone
}

// AllMembers returns the union of voting and non-voting members.
func (c Config) AllMembers() map[MemberId]struct{} {
	members := make(map[MemberId]struct{}, len(c.Voting)+len(c.NonVoting))

	for id := range c.Voting {
		members[id] = struct{}{}
	}

	for id := range c.NonVoting {
		members[id] = struct{}{}
	}

	return members
}

func (c Config) IsMember(id MemberId) bool {
	if _, found := c.Voting[id]; found {
		return true
	}

	_, found := c.NonVoting[id]
	return found
}

// IsQuorum reports whether members constitutes a strict majority of
// the voting set.
func (c Config) IsQuorum(members map[MemberId]struct{}) bool {
	votes := 0

	for id := range members {
		if _, found := c.Voting[id]; found {
			votes++
		}
	}

	return votes*2 > len(c.Voting)
}

func (c Config) IsValidLeader(id MemberId) bool {
	_, found := c.Voting[id]
	return found
}

// ComplexConfig is either a plain Config (Next is nil) or a joint
// consensus between Current and Next, per Raft paper §6. Both halves
// must agree before an entry can commit while a reconfiguration is in
// flight.
type ComplexConfig struct {
	Current Config  `json:"current"`
	Next    *Config `json:"next,omitempty"`
}

func SimpleComplexConfig(cfg Config) ComplexConfig {
	return ComplexConfig{Current: cfg}
}

func (cc ComplexConfig) IsJointConsensus() bool {
	return cc.Next != nil
}

func (cc ComplexConfig) Clone() ComplexConfig {
	clone := ComplexConfig{Current: cc.Current.Clone()}

	if cc.Next != nil {
		next := cc.Next.Clone()
		clone.Next = &next
	}

	return clone
}

func (cc ComplexConfig) AllMembers() map[MemberId]struct{} {
	members := cc.Current.AllMembers()

	if cc.Next != nil {
		for id := range cc.Next.AllMembers() {
			members[id] = struct{}{}
		}
	}

	return members
}

func (cc ComplexConfig) IsMember(id MemberId) bool {
	if cc.Current.IsMember(id) {
		return true
	}

	return cc.Next != nil && cc.Next.IsMember(id)
}

// IsQuorum requires a majority in Current AND, during joint
// consensus, a majority in Next too -- two independent checks ANDed
// together, not a merged-set approximation (original_source
// raft_complex_config_t::is_quorum).
func (cc ComplexConfig) IsQuorum(members map[MemberId]struct{}) bool {
	if !cc.Current.IsQuorum(members) {
		return false
	}

	if cc.Next != nil && !cc.Next.IsQuorum(members) {
		return false
	}

	return true
}

func (cc ComplexConfig) IsValidLeader(id MemberId) bool {
	if cc.Current.IsValidLeader(id) {
		return true
	}

	return cc.Next != nil && cc.Next.IsValidLeader(id)
}
