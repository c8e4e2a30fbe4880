package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// handleEvents streams every message appended to the session's conversation
// store over a websocket. Delivery is best-effort: a client that cannot
// keep up misses messages rather than stalling the daemon.
func handleEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			slog.Warn("websocket accept failed", "error", err)
			return
		}
		defer conn.CloseNow()

		store := sessionStore(deps, r)
		events, cancel := store.Subscribe()
		defer cancel()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				conn.Close(websocket.StatusNormalClosure, "server shutting down")
				return
			case msg, ok := <-events:
				if !ok {
					conn.Close(websocket.StatusNormalClosure, "feed closed")
					return
				}
				writeCtx, cancelWrite := context.WithTimeout(ctx, 5*time.Second)
				err := wsjson.Write(writeCtx, conn, msg)
				cancelWrite()
				if err != nil {
					return
				}
			}
		}
	}
}
