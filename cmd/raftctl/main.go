// Command raftctl inspects a running kvstore member over HTTP:
// committed/latest log index, readiness for proposing changes, and
// whether the member is currently mid-reconfiguration. Grounded on
// the teacher's cmd/kvstore's use of go-program for argument parsing,
// applied here to a standalone diagnostic binary instead of a service.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/galdor/go-program"
)

func main() {
	p := program.NewProgram("raftctl", "inspect a raft member's status over http")

	p.AddArgument("address", "the member's api address (host:port)")

	p.ParseCommandLine()

	address := p.ArgumentValue("address")

	if err := run(address); err != nil {
		p.Fatal("%v", err)
	}
}

func run(address string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	res, err := client.Get(fmt.Sprintf("http://%s/raft/status", address))
	if err != nil {
		return fmt.Errorf("cannot query %s: %w", address, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("cannot read response: %w", err)
	}

	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("member replied with status %d: %s", res.StatusCode, body)
	}

	var status struct {
		MemberId             string `json:"memberId"`
		CommittedIndex       uint64 `json:"committedIndex"`
		LatestIndex          uint64 `json:"latestIndex"`
		ReadyForChange       bool   `json:"readyForChange"`
		ReadyForConfigChange bool   `json:"readyForConfigChange"`
		JointConsensus       bool   `json:"jointConsensus"`
	}

	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("cannot decode response: %w", err)
	}

	fmt.Fprintf(os.Stdout, "member:                  %s\n", status.MemberId)
	fmt.Fprintf(os.Stdout, "committed index:         %d\n", status.CommittedIndex)
	fmt.Fprintf(os.Stdout, "latest index:            %d\n", status.LatestIndex)
	fmt.Fprintf(os.Stdout, "ready for change:        %v\n", status.ReadyForChange)
	fmt.Fprintf(os.Stdout, "ready for config change: %v\n", status.ReadyForConfigChange)
	fmt.Fprintf(os.Stdout, "joint consensus:         %v\n", status.JointConsensus)

	return nil
}
