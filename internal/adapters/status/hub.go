// Package status streams client state and errors to local observers over
// websockets.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/roomlink/internal/core"
	"github.com/dkeye/roomlink/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event is one message on the stream.
type Event struct {
	Type  string `json:"type"`
	State string `json:"state,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Error string `json:"error,omitempty"`
	Time  int64  `json:"time"`
}

// SnapshotFunc answers "snapshot" requests from observers.
type SnapshotFunc func(ctx context.Context) (core.Snapshot, error)

// Hub implements core.Observer by fanning events out to every connected
// websocket.
type Hub struct {
	policy   Policy
	limiter  *RateLimiter
	snapshot SnapshotFunc

	mu      sync.RWMutex
	conns   map[string]*WsConn
	dropped map[string]int
	state   domain.ConnectionState
}

var _ core.Observer = (*Hub)(nil)

func NewHub(policy Policy, snapshot SnapshotFunc) *Hub {
	if policy == nil {
		policy = SimplePolicy{MaxDropped: 16}
	}
	return &Hub{
		policy:   policy,
		limiter:  NewRateLimiter(10, time.Second),
		snapshot: snapshot,
		conns:    make(map[string]*WsConn),
		dropped:  make(map[string]int),
	}
}

func (h *Hub) OnStateChange(s domain.ConnectionState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
	h.Broadcast(Event{Type: "state", State: s.String()})
}

func (h *Hub) OnError(err error) {
	ev := Event{Type: "error", Error: err.Error()}
	if kind, ok := core.KindOf(err); ok {
		ev.Kind = kind.String()
	}
	h.Broadcast(ev)
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) Broadcast(ev Event) {
	if ev.Time == 0 {
		ev.Time = time.Now().Unix()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "status").Msg("broadcast marshal")
		return
	}

	h.mu.RLock()
	conns := make([]*WsConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := c.TrySend(b); err != nil {
			h.onSendFailed(c, err)
		}
	}
}

func (h *Hub) onSendFailed(c *WsConn, err error) {
	h.mu.Lock()
	h.dropped[c.ID()]++
	dropped := h.dropped[c.ID()]
	h.mu.Unlock()

	switch h.policy.OnBackPressure(c.ID(), dropped) {
	case Disconnect:
		log.Warn().Err(err).Str("module", "status").Str("conn", c.ID()).Int("dropped", dropped).Msg("disconnecting slow observer")
		h.remove(c)
	case DropEvent, NoAction:
	}
}

func (h *Hub) add(c *WsConn) {
	h.mu.Lock()
	h.conns[c.ID()] = c
	h.mu.Unlock()
	log.Info().Str("module", "status").Str("conn", c.ID()).Msg("observer connected")
}

func (h *Hub) remove(c *WsConn) {
	h.mu.Lock()
	delete(h.conns, c.ID())
	delete(h.dropped, c.ID())
	h.mu.Unlock()
	h.limiter.Forget(c.ID())
	c.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleEvents upgrades the request and streams events until the observer
// goes away or ctx ends.
func (h *Hub) HandleEvents(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "status").Msg("ws upgrade")
		return
	}
	conn := newWsConn(uuid.NewString(), ws, 32)
	h.add(conn)

	h.mu.RLock()
	state := h.state
	h.mu.RUnlock()
	h.sendJSON(conn, Event{Type: "state", State: state.String(), Time: time.Now().Unix()})

	ctx, cancel := context.WithCancel(ctx)
	go h.writePump(ctx, conn)
	go func() {
		defer cancel()
		h.readPump(ctx, conn)
	}()
}

func (h *Hub) sendJSON(c *WsConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "status").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		h.onSendFailed(c, err)
	}
}
