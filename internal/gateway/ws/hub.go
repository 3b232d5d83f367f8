package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/dohr-michael/storybook/internal/events"
)

const (
	sendQueue    = 256
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	maxReplay    = 200
)

// RequestHandler answers request frames. The returned value becomes the
// response payload; an error becomes the response error.
type RequestHandler func(ctx context.Context, method Method, params json.RawMessage) (any, error)

// Hub streams pipeline events to websocket peers and serves their requests.
type Hub struct {
	bus         *events.Bus
	mu          sync.RWMutex
	peers       map[*peer]struct{}
	handler     RequestHandler
	unsubscribe func()
}

// NewHub creates a hub fed by bus.
func NewHub(bus *events.Bus) *Hub {
	h := &Hub{bus: bus, peers: make(map[*peer]struct{})}
	h.unsubscribe = bus.Subscribe(h.fanOut)
	return h
}

// SetHandler installs the request handler.
func (h *Hub) SetHandler(fn RequestHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = fn
}

// ClientCount returns the number of connected peers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

func (h *Hub) fanOut(e events.Event) {
	data, ok := encodeEvent(e)
	if !ok {
		return
	}
	h.mu.RLock()
	var slow []*peer
	for p := range h.peers {
		if !p.wants(e) {
			continue
		}
		if !p.enqueue(data) {
			slow = append(slow, p)
		}
	}
	h.mu.RUnlock()

	for _, p := range slow {
		slog.Warn("ws peer too slow, disconnecting", "remote", p.remote)
		p.close(websocket.StatusPolicyViolation, "slow consumer")
	}
}

// encodeEvent builds the wire form of e. LLM call events stay internal.
func encodeEvent(e events.Event) ([]byte, bool) {
	if e.Type == events.EventLLMCall {
		return nil, false
	}
	frame, err := NewEventFrame(string(e.Type), e.RunID, e)
	if err != nil {
		slog.Error("marshal event frame", "type", e.Type, "error", err)
		return nil, false
	}
	data, err := MarshalFrame(frame)
	if err != nil {
		slog.Error("marshal frame", "type", e.Type, "error", err)
		return nil, false
	}
	return data, true
}

// ServeWS upgrades the request and serves the peer until it disconnects.
// A replay=N query parameter first sends up to N recent events.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	p := &peer{
		conn:   conn,
		remote: r.RemoteAddr,
		out:    make(chan []byte, sendQueue),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	h.replay(p, r.URL.Query().Get("replay"))
	h.add(p)
	defer h.remove(p)

	go p.writeLoop(ctx)
	h.readLoop(ctx, p)
}

func (h *Hub) replay(p *peer, param string) {
	n, err := strconv.Atoi(param)
	if err != nil || n <= 0 {
		return
	}
	for _, e := range h.bus.History(min(n, maxReplay)) {
		if data, ok := encodeEvent(e); ok && !p.enqueue(data) {
			return
		}
	}
}

func (h *Hub) add(p *peer) {
	h.mu.Lock()
	h.peers[p] = struct{}{}
	n := len(h.peers)
	h.mu.Unlock()
	slog.Info("ws client connected", "remote", p.remote, "clients", n)
}

func (h *Hub) remove(p *peer) {
	h.mu.Lock()
	_, ok := h.peers[p]
	delete(h.peers, p)
	n := len(h.peers)
	h.mu.Unlock()
	if ok {
		p.close(websocket.StatusNormalClosure, "")
		slog.Info("ws client disconnected", "remote", p.remote, "clients", n)
	}
}

// readLoop keeps reading so control frames are processed. Requests are
// served concurrently; the peer waits for them before it goes away.
func (h *Hub) readLoop(ctx context.Context, p *peer) {
	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		_, data, err := p.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status != -1 {
				slog.Debug("ws read closed", "status", status)
			} else if !errors.Is(err, context.Canceled) {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Warn("ws bad frame", "remote", p.remote, "error", err)
			continue
		}
		if frame.Type != FrameTypeRequest {
			slog.Debug("ws frame ignored", "type", frame.Type)
			continue
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			h.serve(ctx, p, frame)
		}()
	}
}

func (h *Hub) serve(ctx context.Context, p *peer, frame Frame) {
	if Method(frame.Method) == MethodFollow {
		var params struct {
			RunID string `json:"run_id"`
		}
		if len(frame.Params) > 0 {
			if err := json.Unmarshal(frame.Params, &params); err != nil {
				p.respond(frame.ID, nil, errors.New("invalid params"))
				return
			}
		}
		p.follow(params.RunID)
		p.respond(frame.ID, map[string]string{"run_id": params.RunID}, nil)
		return
	}

	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()
	if handler == nil {
		p.respond(frame.ID, nil, errors.New("requests not supported"))
		return
	}
	payload, err := handler(ctx, Method(frame.Method), frame.Params)
	p.respond(frame.ID, payload, err)
}

// Close disconnects every peer and detaches the hub from the bus.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	peers := h.peers
	h.peers = make(map[*peer]struct{})
	h.mu.Unlock()
	for p := range peers {
		p.close(websocket.StatusGoingAway, "server shutdown")
	}
}

// peer is one websocket connection.
type peer struct {
	conn   *websocket.Conn
	remote string
	out    chan []byte
	done   chan struct{}
	once   sync.Once
	cancel context.CancelFunc

	mu    sync.RWMutex
	runID string // events of other runs are filtered out when set
}

func (p *peer) follow(runID string) {
	p.mu.Lock()
	p.runID = runID
	p.mu.Unlock()
}

func (p *peer) wants(e events.Event) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.runID == "" || p.runID == e.RunID
}

// enqueue reports false when the peer is closed or its queue is full.
func (p *peer) enqueue(data []byte) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.out <- data:
		return true
	default:
		return false
	}
}

func (p *peer) respond(id string, payload any, err error) {
	var f Frame
	var ferr error
	if err != nil {
		f, ferr = NewResponseFrame(id, false, nil, err.Error())
	} else {
		f, ferr = NewResponseFrame(id, true, payload, "")
	}
	if ferr != nil {
		slog.Error("marshal response", "id", id, "error", ferr)
		f, _ = NewResponseFrame(id, false, nil, "response not encodable")
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	if !p.enqueue(data) {
		slog.Warn("ws response dropped", "remote", p.remote, "id", id)
	}
}

func (p *peer) writeLoop(ctx context.Context) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case data := <-p.out:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := p.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				p.cancel()
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := p.conn.Ping(pctx)
			cancel()
			if err != nil {
				slog.Debug("ws ping failed", "remote", p.remote, "error", err)
				p.cancel()
				return
			}
		case <-p.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *peer) close(code websocket.StatusCode, reason string) {
	p.once.Do(func() {
		close(p.done)
		p.conn.Close(code, reason)
		p.cancel()
	})
}
