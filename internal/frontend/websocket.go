package frontend

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/parley-org/parley/internal/logger"
)

// writeDeadline bounds one frame write; a consumer that cannot take a
// frame within it gets disconnected.
const writeDeadline = 5 * time.Second

// handleEvents upgrades to WebSocket and relays bus events as flat JSON
// frames. An optional ?discussionId= query filters to one discussion.
// Delivery is fire-and-forget: a slow consumer loses frames at the bus
// queue or gets closed on write timeout.
func (srv *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		logger.Warn(r.Context(), "WebSocket accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	filter := r.URL.Query().Get("discussionId")
	ctx := r.Context()
	sub := srv.bus.Subscribe(ctx)
	defer sub.Close()

	logger.Debug(ctx, "Event stream connected", "remote", r.RemoteAddr, "filter", filter)

	// Drain client frames so pings and close frames are processed; the
	// stream itself is one-way.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		ev, ok := sub.Next(ctx)
		if !ok {
			return
		}
		if filter != "" && ev.DiscussionID != filter {
			continue
		}

		frame, err := json.Marshal(ev)
		if err != nil {
			logger.Error(ctx, "Failed to marshal event", "type", ev.Type, "err", err)
			continue
		}

		writeCtx, cancel := context.WithTimeout(ctx, writeDeadline)
		err = conn.Write(writeCtx, websocket.MessageText, frame)
		cancel()
		if err != nil {
			logger.Debug(ctx, "Event stream write failed, closing", "remote", r.RemoteAddr, "err", err)
			return
		}
	}
}
