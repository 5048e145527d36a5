// Package httptransport implements raft.Network over plain HTTP,
// grounded on the teacher's pkg/raft/transport.go (client tuning,
// X-Raft-Source-Id header, ServeHTTP dispatch) but rerouted through
// julienschmidt/httprouter for request dispatch and turned into a
// synchronous request/reply exchange since the core's RPCs carry
// replies (vote granted, success, term) the teacher's fire-and-forget
// messages never needed.
package httptransport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	jsonvalidator "github.com/galdor/go-json-validator"
	"github.com/julienschmidt/httprouter"

	"github.com/mansa-labs/raft/pkg/raft"
)

// Cfg is the static addressing table: every member's HTTP endpoint,
// including this transport's own member.
type Cfg struct {
	Self      raft.MemberId            `json:"-"`
	Addresses map[raft.MemberId]string `json:"addresses"`

	// PingInterval governs how often peers are health-checked to
	// maintain ConnectedMembers. Defaults to 1s.
	PingInterval time.Duration `json:"-"`
}

func (cfg *Cfg) ValidateJSON(v *jsonvalidator.Validator) {
	v.WithChild("addresses", func() {
		for id, address := range cfg.Addresses {
			v.CheckStringNotEmpty(id.String(), address)
		}
	})
}

// Transport is a raft.Network backed by HTTP. It owns both the
// outbound client and the inbound httprouter handler; callers mount
// Handler() on their own HTTP server (the teacher's Service wires its
// api server the same way, via go-service's shttp).
type Transport struct {
	cfg    Cfg
	log    raft.Logger
	client *http.Client
	router *httprouter.Router

	receiverMu sync.RWMutex
	receiver   func(ctx context.Context, req raft.RPCRequest) (raft.RPCReply, error)

	connected *raft.Watchable[map[raft.MemberId]struct{}]

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func New(cfg Cfg, log raft.Logger) *Transport {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = time.Second
	}

	t := &Transport{
		cfg:       cfg,
		log:       log,
		client:    newHTTPClient(),
		connected: raft.NewWatchable(map[raft.MemberId]struct{}{}),
		stopChan:  make(chan struct{}),
	}

	router := httprouter.New()
	router.POST("/raft/rpc", t.handleRPC)
	router.GET("/raft/ping", t.handlePing)
	t.router = router

	return t
}

// SetReceiver wires the member whose OnRPC will handle inbound
// requests. Must be called before the HTTP server starts accepting.
func (t *Transport) SetReceiver(receiver func(ctx context.Context, req raft.RPCRequest) (raft.RPCReply, error)) {
	t.receiverMu.Lock()
	defer t.receiverMu.Unlock()
	t.receiver = receiver
}

// Handler exposes the httprouter.Router for mounting on an existing
// HTTP server.
func (t *Transport) Handler() http.Handler {
	return t.router
}

// Start launches the background connectivity poller. Stop must be
// called to release it.
func (t *Transport) Start() {
	t.wg.Add(1)
	go t.pingLoop()
}

func (t *Transport) Stop() {
	close(t.stopChan)
	t.wg.Wait()
}

func newHTTPClient() *http.Client {
	transport := http.Transport{
		Proxy: http.ProxyFromEnvironment,

		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 10 * time.Second,
		}).DialContext,

		MaxIdleConns:          30,
		IdleConnTimeout:       60 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   5 * time.Second,
		Transport: &transport,
	}
}

// SendRPC implements raft.Network.
func (t *Transport) SendRPC(ctx context.Context, dest raft.MemberId, req raft.RPCRequest) (raft.RPCReply, error) {
	address, found := t.cfg.Addresses[dest]
	if !found {
		return nil, fmt.Errorf("unknown destination member %s", dest)
	}

	data, err := encodeRequest(req)
	if err != nil {
		return nil, fmt.Errorf("cannot encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("http://%s/raft/rpc", address), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("cannot create http request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Raft-Source-Id", t.cfg.Self.String())

	res, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", raft.ErrDeliveryFailure, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read response body: %v", raft.ErrDeliveryFailure, err)
	}

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: peer replied with status %d", raft.ErrDeliveryFailure, res.StatusCode)
	}

	reply, err := decodeReply(body)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot decode reply: %v", raft.ErrDeliveryFailure, err)
	}

	return reply, nil
}

func (t *Transport) ConnectedMembers() *raft.Watchable[map[raft.MemberId]struct{}] {
	return t.connected
}

func (t *Transport) handleRPC(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	sourceId := r.Header.Get("X-Raft-Source-Id")
	if sourceId == "" {
		http.Error(w, "missing X-Raft-Source-Id header field", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("cannot read request body: %v", err), http.StatusInternalServerError)
		return
	}

	req, err := decodeRequest(data)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}

	t.receiverMu.RLock()
	receiver := t.receiver
	t.receiverMu.RUnlock()

	if receiver == nil {
		http.Error(w, "no receiver configured", http.StatusServiceUnavailable)
		return
	}

	reply, err := receiver(r.Context(), req)
	if err != nil {
		t.log.Error("cannot handle rpc from %s: %v", sourceId, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	replyData, err := encodeReply(reply)
	if err != nil {
		http.Error(w, fmt.Sprintf("cannot encode reply: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(replyData)
}

func (t *Transport) handlePing(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	w.WriteHeader(http.StatusNoContent)
}

func (t *Transport) pingLoop() {
	defer t.wg.Done()
	defer func() {
		if value := recover(); value != nil {
			t.log.Error("panic in ping loop: %v", value)
		}
	}()

	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopChan:
			return
		case <-ticker.C:
			t.pingAll()
		}
	}
}

func (t *Transport) pingAll() {
	connected := make(map[raft.MemberId]struct{})

	var mu sync.Mutex
	var wg sync.WaitGroup

	for id, address := range t.cfg.Addresses {
		if id == t.cfg.Self {
			continue
		}

		id, address := id, address

		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), t.cfg.PingInterval)
			defer cancel()

			req, err := http.NewRequestWithContext(ctx, http.MethodGet,
				fmt.Sprintf("http://%s/raft/ping", address), nil)
			if err != nil {
				return
			}

			res, err := t.client.Do(req)
			if err != nil {
				return
			}
			res.Body.Close()

			if res.StatusCode == http.StatusNoContent {
				mu.Lock()
				connected[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	t.connected.Set(connected)
}
