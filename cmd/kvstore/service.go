package main

import (
	"fmt"
	"net"
	"path/filepath"

	jsonvalidator "github.com/galdor/go-json-validator"
	"github.com/galdor/go-log"
	"github.com/galdor/go-program"
	"github.com/galdor/go-service/pkg/service"
	"github.com/galdor/go-service/pkg/shttp"

	"github.com/mansa-labs/raft/pkg/raft"
	"github.com/mansa-labs/raft/pkg/storage/file"
	"github.com/mansa-labs/raft/pkg/transport/httptransport"
)

type ServiceCfg struct {
	Service service.ServiceCfg `json:"service"`
	Raft    RaftCfg            `json:"raft"`
}

type RaftCfg struct {
	TopologyFile  string `json:"topologyFile"`
	DataDirectory string `json:"dataDirectory"`
}

type Service struct {
	Cfg     ServiceCfg
	Program *program.Program
	Service *service.Service
	Log     *log.Logger

	topology *Topology
	selfId   raft.MemberId

	store     *Store
	fileStore *file.Store
	transport *httptransport.Transport
	member    *raft.Member
	apiServer *APIServer
}

func (cfg *ServiceCfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.CheckObject("service", &cfg.Service)
	v.CheckObject("raft", &cfg.Raft)
}

func (cfg *RaftCfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.CheckStringNotEmpty("topologyFile", cfg.TopologyFile)
	v.CheckStringNotEmpty("dataDirectory", cfg.DataDirectory)
}

func NewService() *Service {
	return &Service{}
}

func (s *Service) InitProgram(p *program.Program) {
	s.Program = p

	p.AddArgument("id", "the instance name of this member, as it appears in the topology file")
}

func (s *Service) DefaultCfg() interface{} {
	return &s.Cfg
}

func (s *Service) ValidateCfg() error {
	return nil
}

func (s *Service) ServiceCfg() *service.ServiceCfg {
	cfg := &s.Cfg.Service

	instanceName := s.Program.ArgumentValue("id")

	if cfg.HTTPServers == nil {
		cfg.HTTPServers = make(map[string]*shttp.ServerCfg)
	}

	address := s.topologyAddress(instanceName)
	host, _, _ := net.SplitHostPort(address)

	cfg.HTTPServers["api"] = &shttp.ServerCfg{
		Address:               net.JoinHostPort(host, "8081"),
		LogSuccessfulRequests: true,
		ErrorHandler:          shttp.JSONErrorHandler,
	}

	return cfg
}

// topologyAddress loads the topology file eagerly so that ServiceCfg
// (called before Init) can compute the HTTP listen address. Errors
// are surfaced again, fatally, in Init.
func (s *Service) topologyAddress(instanceName string) string {
	topology, err := LoadTopology(s.Cfg.Raft.TopologyFile)
	if err != nil {
		return ""
	}

	s.topology = topology

	member, found := topology.Members[instanceName]
	if !found {
		return ""
	}

	return member.Address
}

func (s *Service) Init(ss *service.Service) error {
	s.Service = ss
	s.Log = ss.Log

	instanceName := s.Program.ArgumentValue("id")

	if s.topology == nil {
		topology, err := LoadTopology(s.Cfg.Raft.TopologyFile)
		if err != nil {
			return fmt.Errorf("cannot load topology: %w", err)
		}

		s.topology = topology
	}

	selfId, err := s.topology.ResolveId(instanceName)
	if err != nil {
		return fmt.Errorf("cannot resolve instance %q: %w", instanceName, err)
	}
	s.selfId = selfId

	s.store = NewStore()

	if err := s.initTransport(); err != nil {
		return err
	}

	if err := s.initMember(); err != nil {
		return err
	}

	if err := s.initAPIServer(); err != nil {
		return err
	}

	return nil
}

func (s *Service) initTransport() error {
	addresses, err := s.topology.Addresses()
	if err != nil {
		return fmt.Errorf("cannot resolve topology addresses: %w", err)
	}

	logger := s.Log.Child("transport", log.Data{"instance": s.selfId.String()})

	s.transport = httptransport.New(httptransport.Cfg{
		Self:      s.selfId,
		Addresses: addresses,
	}, logger)

	s.Service.HTTPServer("api").Route("/raft/rpc", "POST", s.forwardToTransport)
	s.Service.HTTPServer("api").Route("/raft/ping", "GET", s.forwardToTransport)

	return nil
}

// forwardToTransport lets the Transport's own httprouter.Handler
// serve requests mounted on the service's shared "api" HTTP server,
// rather than opening a second listener.
func (s *Service) forwardToTransport(h *shttp.Handler) {
	s.transport.Handler().ServeHTTP(h.ResponseWriter, h.Request)
}

func (s *Service) initMember() error {
	dataFilePath := filepath.Join(s.Cfg.Raft.DataDirectory, s.selfId.String()+".json")

	s.fileStore = file.New(dataFilePath)
	if err := s.fileStore.Open(); err != nil {
		return fmt.Errorf("cannot open persistent state file: %w", err)
	}

	initialState, err := s.fileStore.Read()
	if err != nil {
		return fmt.Errorf("cannot read persistent state: %w", err)
	}

	if len(initialState.SnapshotConfig.Current.Voting) == 0 {
		voting, err := s.topology.VotingMembers()
		if err != nil {
			return fmt.Errorf("cannot resolve topology members: %w", err)
		}

		initialState.SnapshotConfig = raft.SimpleComplexConfig(raft.NewConfig(voting, nil))
	}

	logger := s.Log.Child("raft", log.Data{"instance": s.selfId.String()})

	member, err := raft.NewMember(raft.MemberCfg{
		Id:              s.selfId,
		Storage:         s.fileStore,
		Network:         s.transport,
		Logger:          logger,
		NewStateMachine: func() raft.StateMachine { return NewStore() },
		InitialState:    initialState,
	})
	if err != nil {
		return fmt.Errorf("cannot create raft member: %w", err)
	}

	s.member = member

	s.transport.SetReceiver(member.OnRPC)

	return nil
}

func (s *Service) initAPIServer() error {
	api, err := NewAPIServer(s)
	if err != nil {
		return fmt.Errorf("cannot create api server: %w", err)
	}

	s.apiServer = api

	return nil
}

func (s *Service) Start(ss *service.Service) error {
	s.transport.Start()

	if err := s.apiServer.Init(); err != nil {
		return fmt.Errorf("cannot initialize api server: %w", err)
	}

	return nil
}

func (s *Service) Stop(ss *service.Service) {
	s.transport.Stop()
	s.member.Destruct()
	s.fileStore.Close()
}

func (s *Service) Terminate(ss *service.Service) {
}
