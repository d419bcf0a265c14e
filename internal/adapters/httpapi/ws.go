package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"fulfillment/internal/realtime"
)

// newEventsHandler upgrades GET /events to a WebSocket and subscribes
// the connection to the transaction event feed. The read loop exists
// only to notice the peer going away.
func newEventsHandler(hub *realtime.Hub, logger *slog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
			return
		}
		hub.Register <- conn

		go func() {
			defer func() {
				hub.Unregister <- conn
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}
}
