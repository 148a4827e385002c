package wsrouter

import (
	"sync"

	"github.com/gorilla/websocket"
)

// Conn wraps a websocket connection with a write mutex so that broadcast
// fan-out and per-message replies from different goroutines do not
// interleave frames.
type Conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func NewConn(ws *websocket.Conn) *Conn {
	return &Conn{ws: ws}
}

func (c *Conn) SendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.ws.WriteJSON(v)
}

// ReadJSON must only be called from the connection's single reader
// goroutine.
func (c *Conn) ReadJSON(v any) error {
	return c.ws.ReadJSON(v)
}

func (c *Conn) Close() error {
	return c.ws.Close()
}
