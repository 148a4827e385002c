package wsrouter

import (
	"context"
	"encoding/json"
	"errors"
)

// Message is the wire envelope for every frame in both directions.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

var ErrUnknownMessageType = errors.New("unknown message type")

type HandlerFunc func(ctx context.Context, conn *Conn, payload json.RawMessage) error

// ErrorFunc is invoked when a handler returns an error or a frame names
// an unregistered type. The read loop keeps running afterwards: one bad
// message must only affect that message, not the connection.
type ErrorFunc func(ctx context.Context, conn *Conn, messageType string, err error)

type WSRouter struct {
	routes  map[string]HandlerFunc
	onError ErrorFunc
}

func New() *WSRouter {
	return &WSRouter{routes: make(map[string]HandlerFunc)}
}

func (r *WSRouter) Handle(messageType string, handler HandlerFunc) {
	r.routes[messageType] = handler
}

func (r *WSRouter) OnError(f ErrorFunc) {
	r.onError = f
}

// ServeConn reads frames from conn until the connection fails and routes
// each one to its registered handler. The returned error is the read
// error that terminated the loop.
func (r *WSRouter) ServeConn(ctx context.Context, conn *Conn) error {
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		handler, exists := r.routes[msg.Type]
		if !exists {
			r.handleError(ctx, conn, msg.Type, ErrUnknownMessageType)
			continue
		}

		if err := handler(ctx, conn, msg.Payload); err != nil {
			r.handleError(ctx, conn, msg.Type, err)
		}
	}
}

func (r *WSRouter) handleError(ctx context.Context, conn *Conn, messageType string, err error) {
	if r.onError != nil {
		r.onError(ctx, conn, messageType, err)
	}
}
