package status

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (h *Hub) writePump(ctx context.Context, c *WsConn) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "status").Str("conn", c.ID()).Msg("writePump ctx done")
			h.remove(c)
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "status").Msg("writePump set deadline")
				h.remove(c)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "status").Msg("writePump write error")
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, c *WsConn) {
	defer func() {
		log.Info().Str("module", "status").Str("conn", c.ID()).Msg("observer disconnected")
		h.remove(c)
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleMessage(ctx, c, data)
	}
}

func (h *Hub) handleMessage(ctx context.Context, c *WsConn, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "status").Msg("bad json")
		return
	}
	if !h.limiter.Allow(c.ID()) {
		h.sendJSON(c, map[string]any{"type": "error", "error": "rate_limited"})
		return
	}

	switch env.Type {
	case "ping":
		h.sendJSON(c, map[string]any{"type": "pong"})
	case "snapshot":
		if h.snapshot == nil {
			h.sendJSON(c, map[string]any{"type": "error", "error": "snapshot unavailable"})
			return
		}
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		snap, err := h.snapshot(ctx)
		if err != nil {
			h.sendJSON(c, map[string]any{"type": "error", "error": err.Error()})
			return
		}
		h.sendJSON(c, map[string]any{"type": "snapshot", "snapshot": snap})
	default:
		log.Warn().Str("module", "status").Str("type", env.Type).Msg("unknown request")
	}
}
