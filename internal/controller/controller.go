package controller

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/watchparty/server/internal/service/room"
	"github.com/watchparty/server/pkg/validator"
	"github.com/watchparty/server/pkg/wsrouter"
)

type iRoomService interface {
	JoinRoom(context.Context, *room.JoinRoomParams) (room.JoinRoomResponse, error)
	LeaveRoom(context.Context, *wsrouter.Conn) (room.LeaveRoomResponse, error)
	ChangeVideo(context.Context, *room.ChangeVideoParams) (room.ChangeVideoResponse, error)
	Relay(context.Context, *room.RelayParams) (room.RelayResponse, error)
	ClientReady(context.Context, *room.ClientReadyParams) (room.ClientReadyResponse, error)
	SubmitPlayerState(context.Context, *room.SubmitPlayerStateParams) error
}

type Config struct {
	CORSOrigin string
}

type controller struct {
	roomService iRoomService
	logger      *slog.Logger
	validate    *validator.Validator
	upgrader    websocket.Upgrader
	wsmux       *wsrouter.WSRouter
	corsOrigin  string
}

func NewController(roomService iRoomService, logger *slog.Logger, cfg *Config) *controller {
	c := &controller{
		roomService: roomService,
		logger:      logger,
		validate:    validator.New(),
		corsOrigin:  cfg.CORSOrigin,
	}

	c.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if c.corsOrigin == "" || c.corsOrigin == "*" {
				return true
			}
			return r.Header.Get("Origin") == c.corsOrigin
		},
	}
	c.wsmux = c.getWSRouter()

	return c
}
