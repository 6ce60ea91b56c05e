package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gofiber/contrib/websocket"

	"github.com/keepcontext/mnemo/core"
)

const wsReadTimeout = 90 * time.Second

// handleWS serves the WebSocket transport: the same JSON-RPC messages as
// POST /mcp, one per frame. The read deadline is reset on every message
// and on pongs so hung connections are detected.
func (s *Server) handleWS(c *websocket.Conn) {
	ident, _ := c.Locals(identityKey).(core.Identity)
	if !ident.Valid() {
		c.WriteJSON(errorResponse(nil, codeInvalidRequest, "authentication required"))
		c.Close()
		return
	}
	slog.Info("ws connected", "user", ident.UserID, "auth", ident.Method)

	c.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.SetPongHandler(func(string) error {
		c.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		_, raw, err := c.ReadMessage()
		if err != nil {
			slog.Info("ws disconnected", "user", ident.UserID, "err", err)
			return
		}
		c.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var req rpcRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			c.WriteJSON(errorResponse(nil, codeParseError, "parse error"))
			continue
		}
		resp := s.dispatchRPC(context.Background(), ident, &req)
		if resp == nil {
			continue
		}
		if err := c.WriteJSON(resp); err != nil {
			slog.Warn("ws write failed", "user", ident.UserID, "err", err)
			return
		}
	}
}
