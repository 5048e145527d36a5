package main

import (
	"context"
	"time"

	"github.com/galdor/go-service/pkg/shttp"

	"github.com/mansa-labs/raft/pkg/raft"
)

const proposeTimeout = 5 * time.Second

type APIServer struct {
	Service *Service
}

func NewAPIServer(s *Service) (*APIServer, error) {
	api := APIServer{
		Service: s,
	}

	return &api, nil
}

func (api *APIServer) Init() error {
	api.initRoutes()
	return nil
}

func (api *APIServer) initRoutes() {
	api.Route("/store", "GET", api.hStoreGET)
	api.Route("/store/:key", "GET", api.hStoreKeyGET)
	api.Route("/store/:key", "PUT", api.hStoreKeyPUT)
	api.Route("/store/:key", "DELETE", api.hStoreKeyDELETE)
	api.Route("/raft/status", "GET", api.hRaftStatusGET)
}

type raftStatus struct {
	MemberId              string `json:"memberId"`
	CommittedIndex        uint64 `json:"committedIndex"`
	LatestIndex           uint64 `json:"latestIndex"`
	ReadyForChange        bool   `json:"readyForChange"`
	ReadyForConfigChange  bool   `json:"readyForConfigChange"`
	JointConsensus        bool   `json:"jointConsensus"`
}

func (api *APIServer) hRaftStatusGET(h *shttp.Handler) {
	member := api.Service.member

	committed := member.GetCommittedView().Get()
	latest := member.GetLatestView().Get()

	h.ReplyJSON(200, raftStatus{
		MemberId:             member.Id().String(),
		CommittedIndex:       uint64(committed.LogIndex),
		LatestIndex:          uint64(latest.LogIndex),
		ReadyForChange:       member.GetReadinessForChange().Get(),
		ReadyForConfigChange: member.GetReadinessForConfigChange().Get(),
		JointConsensus:       latest.Config.IsJointConsensus(),
	})
}

func (api *APIServer) Route(pathPattern, method string, routeFunc shttp.RouteFunc) {
	s := api.Service.Service.HTTPServer("api")
	s.Route(pathPattern, method, routeFunc)
}

func (api *APIServer) hStoreGET(h *shttp.Handler) {
	view := api.Service.member.GetCommittedView().Get()

	store, ok := view.State.(*Store)
	if !ok {
		h.ReplyError(500, "internal_error", "committed state is not a *Store")
		return
	}

	h.ReplyJSON(200, store.List())
}

func (api *APIServer) hStoreKeyGET(h *shttp.Handler) {
	key := h.PathVariable("key")

	view := api.Service.member.GetCommittedView().Get()

	store, ok := view.State.(*Store)
	if !ok {
		h.ReplyError(500, "internal_error", "committed state is not a *Store")
		return
	}

	value, found := store.Get(key)
	if !found {
		h.ReplyError(404, "unknown_key", "unknown key %q", key)
		return
	}

	h.ReplyJSON(200, struct {
		Value string `json:"value"`
	}{Value: value})
}

func (api *APIServer) hStoreKeyPUT(h *shttp.Handler) {
	key := h.PathVariable("key")

	var body struct {
		Value string `json:"value"`
	}

	if err := h.JSONRequestData(&body); err != nil {
		h.ReplyError(400, "invalid_request_body", "%v", err)
		return
	}

	change, err := EncodeOp(&OpPut{Key: key, Value: body.Value})
	if err != nil {
		h.ReplyError(500, "internal_error", "cannot encode op: %v", err)
		return
	}

	if err := api.proposeAndWait(h, change); err != nil {
		return
	}

	h.ReplyEmpty(204)
}

func (api *APIServer) hStoreKeyDELETE(h *shttp.Handler) {
	key := h.PathVariable("key")

	change, err := EncodeOp(&OpDelete{Key: key})
	if err != nil {
		h.ReplyError(500, "internal_error", "cannot encode op: %v", err)
		return
	}

	if err := api.proposeAndWait(h, change); err != nil {
		return
	}

	h.ReplyEmpty(204)
}

// proposeAndWait acquires the change lock just long enough to append
// the entry, releases it, then waits for commit outside the lock so
// the member can keep replicating and handling RPCs while this
// request is in flight (spec.md §4.5).
func (api *APIServer) proposeAndWait(h *shttp.Handler, change []byte) error {
	member := api.Service.member

	lock := member.AcquireChangeLock()
	token := member.ProposeChange(lock, change)
	lock.Release()

	if token == nil {
		h.ReplyError(503, "not_leader", "this member is not currently able to accept changes")
		return errNotLeader
	}

	ctx, cancel := context.WithTimeout(context.Background(), proposeTimeout)
	defer cancel()

	if err := token.Wait(ctx); err != nil {
		if err == raft.ErrChangeAbandoned {
			h.ReplyError(503, "change_abandoned", "the proposed change was abandoned before it committed")
		} else {
			h.ReplyError(504, "change_timed_out", "timed out waiting for the proposed change to commit: %v", err)
		}

		return err
	}

	return nil
}

var errNotLeader = &apiError{"not currently the leader"}

type apiError struct{ msg string }

func (e *apiError) Error() string { return e.msg }
