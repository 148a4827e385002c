package controller

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/watchparty/server/pkg/ctxlogger"
	"github.com/watchparty/server/pkg/wsrouter"
)

func (c *controller) GetMux() http.Handler {
	r := chi.NewRouter()

	r.Use(c.requestIdMw)
	r.Use(c.requestLoggingMw)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.HandleFunc("/ws", c.serveWS)

	allowedOrigin := c.corsOrigin
	if allowedOrigin == "" {
		allowedOrigin = "*"
	}

	return cors.New(cors.Options{
		AllowedOrigins:   []string{allowedOrigin},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowCredentials: true,
	}).Handler(r)
}

func (c *controller) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.WarnContext(r.Context(), "failed to upgrade to websocket", "error", err)
		return
	}

	conn := wsrouter.NewConn(ws)
	ctx := ctxlogger.AppendCtx(r.Context(), slog.String("connection_id", uuid.NewString()))

	defer c.disconnect(ctx, conn)

	if err := c.wsmux.ServeConn(ctx, conn); err != nil {
		c.logger.DebugContext(ctx, "connection closed", "error", err)
	}
}

// disconnect is the single teardown path: an abnormal socket loss and
// an explicit leave produce the same roster update for the survivors.
func (c *controller) disconnect(ctx context.Context, conn *wsrouter.Conn) {
	defer conn.Close()

	resp, err := c.roomService.LeaveRoom(ctx, conn)
	if err != nil {
		// the connection never joined a room, nothing to announce
		return
	}

	if resp.IsRoomDeleted {
		return
	}

	c.broadcast(ctx, resp.Conns, &Output{
		Type:    "update-members",
		Payload: resp.Members,
	})
	c.broadcast(ctx, resp.Conns, &Output{
		Type: "send-notification",
		Payload: notificationPayload{
			Title:   "Member left",
			Message: resp.LeftMember.Username + " left the room",
		},
	})
}
