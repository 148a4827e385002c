package controller

import (
	"context"
	"errors"

	"github.com/watchparty/server/internal/service/room"
	"github.com/watchparty/server/pkg/wsrouter"
)

type Output struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func (c *controller) writeToConn(ctx context.Context, conn *wsrouter.Conn, out *Output) error {
	if err := conn.SendJSON(out); err != nil {
		c.logger.DebugContext(ctx, "failed to write to conn", "type", out.Type, "error", err)
		return err
	}

	return nil
}

// broadcast fans out to every conn in the snapshot. A failed connection
// only loses its own copy; its read loop will tear it down.
func (c *controller) broadcast(ctx context.Context, conns []*wsrouter.Conn, out *Output) {
	for _, conn := range conns {
		//nolint:errcheck // logged in writeToConn
		c.writeToConn(ctx, conn, out)
	}
}

// broadcastExcept fans out to everyone but the given connection.
func (c *controller) broadcastExcept(ctx context.Context, conns []*wsrouter.Conn, except *wsrouter.Conn, out *Output) {
	for _, conn := range conns {
		if conn == except {
			continue
		}
		//nolint:errcheck
		c.writeToConn(ctx, conn, out)
	}
}

func (c *controller) writeInvalidData(ctx context.Context, conn *wsrouter.Conn, message string) {
	//nolint:errcheck
	c.writeToConn(ctx, conn, &Output{
		Type:    "invalid-data",
		Payload: errorPayload{Message: message},
	})
}

func (c *controller) writeRoomNotFound(ctx context.Context, conn *wsrouter.Conn, message string) {
	//nolint:errcheck
	c.writeToConn(ctx, conn, &Output{
		Type:    "room-not-found",
		Payload: errorPayload{Message: message},
	})
}

// writeServiceError reports a failed operation to the requester alone.
// Nothing here is fatal to the connection, let alone the process.
func (c *controller) writeServiceError(ctx context.Context, conn *wsrouter.Conn, err error) {
	switch {
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrRoomMismatch):
		c.writeRoomNotFound(ctx, conn, err.Error())
	case errors.Is(err, room.ErrNotJoined), errors.Is(err, room.ErrAlreadyJoined), errors.Is(err, room.ErrMembersLimitReached):
		c.writeInvalidData(ctx, conn, err.Error())
	case errors.Is(err, wsrouter.ErrUnknownMessageType):
		c.writeInvalidData(ctx, conn, err.Error())
	default:
		c.logger.WarnContext(ctx, "unhandled service error", "error", err)
	}
}
