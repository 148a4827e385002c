package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchparty/server/internal/controller"
	connInmemory "github.com/watchparty/server/internal/repository/connection/inmemory"
	roomInmemory "github.com/watchparty/server/internal/repository/room/inmemory"
	"github.com/watchparty/server/internal/service/room"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	roomService := room.NewService(roomInmemory.NewRepo(), connInmemory.NewRepo(), logger, clockwork.NewRealClock(), &room.Config{
		MembersLimit:     9,
		ReconcileTimeout: 3 * time.Second,
	})
	ctrl := controller.NewController(roomService, logger, &controller.Config{})

	server := httptest.NewServer(ctrl.GetMux())
	t.Cleanup(server.Close)

	return server
}

type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialWS(t *testing.T, server *httptest.Server) *wsClient {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(context.Background(), url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(msgType string, payload any) {
	c.t.Helper()

	raw, err := json.Marshal(payload)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.WriteJSON(wsFrame{Type: msgType, Payload: raw}))
}

// expect reads the next frame and requires its type, decoding the
// payload into v when given. Frame order per connection is guaranteed
// by the server's sequential writes.
func (c *wsClient) expect(msgType string, v any) {
	c.t.Helper()

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame wsFrame
	require.NoError(c.t, c.conn.ReadJSON(&frame))
	require.Equal(c.t, msgType, frame.Type)
	if v != nil {
		require.NoError(c.t, json.Unmarshal(frame.Payload, v))
	}
}

type memberView struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

type roomJoinedView struct {
	Member  memberView   `json:"member"`
	Members []memberView `json:"members"`
}

func TestWatchPartySession(t *testing.T) {
	server := newTestServer(t)

	// alice opens the room
	alice := dialWS(t, server)
	alice.send("join-room", map[string]string{"roomId": "room-1", "username": "alice"})

	var aliceJoined roomJoinedView
	alice.expect("room-joined", &aliceJoined)
	assert.Equal(t, "alice", aliceJoined.Member.Username)
	assert.True(t, aliceJoined.Member.IsAdmin)
	require.Len(t, aliceJoined.Members, 1)
	alice.expect("update-members", nil)

	// bob joins late
	bob := dialWS(t, server)
	bob.send("join-room", map[string]string{"roomId": "room-1", "username": "bob"})

	var bobJoined roomJoinedView
	bob.expect("room-joined", &bobJoined)
	assert.False(t, bobJoined.Member.IsAdmin)
	require.Len(t, bobJoined.Members, 2)
	assert.Equal(t, "alice", bobJoined.Members[0].Username)
	assert.True(t, bobJoined.Members[0].IsAdmin)
	bob.expect("update-members", nil)

	var aliceRoster []memberView
	alice.expect("update-members", &aliceRoster)
	require.Len(t, aliceRoster, 2)
	alice.expect("send-notification", nil)

	// alice picks a video; the change echoes to everyone, herself included
	alice.send("video-change", map[string]string{"roomId": "room-1", "url": "v1"})

	var videoPayload struct {
		URL string `json:"url"`
	}
	alice.expect("video-change-from-server", &videoPayload)
	assert.Equal(t, "v1", videoPayload.URL)
	bob.expect("video-change-from-server", &videoPayload)
	assert.Equal(t, "v1", videoPayload.URL)

	// bob's player is ready: the server asks alice for her state and
	// forwards the answer to bob
	bob.send("client-ready", "room-1")
	alice.expect("get-player-state", nil)

	alice.send("send-player-state", map[string]any{
		"roomId":      "room-1",
		"url":         "v1",
		"currentTime": 12.0,
	})

	var statePayload struct {
		URL         string  `json:"url"`
		CurrentTime float64 `json:"currentTime"`
	}
	bob.expect("player-state-from-server", &statePayload)
	assert.Equal(t, "v1", statePayload.URL)
	assert.Equal(t, 12.0, statePayload.CurrentTime)

	// intents reach everyone but their sender
	alice.send("player-pause", map[string]any{"roomId": "room-1", "position": 12.0})

	var pausePayload struct {
		Position float64 `json:"position"`
	}
	bob.expect("player-pause-from-server", &pausePayload)
	assert.Equal(t, 12.0, pausePayload.Position)

	bob.send("player-play", map[string]string{"roomId": "room-1"})
	// alice's next frame is bob's play intent, so her own pause was
	// never echoed back to her
	alice.expect("player-play-from-server", nil)

	bob.send("playback-rate-change", map[string]any{"roomId": "room-1", "rate": 1.5})
	var ratePayload struct {
		Rate float64 `json:"rate"`
	}
	alice.expect("playback-rate-change-from-server", &ratePayload)
	assert.Equal(t, 1.5, ratePayload.Rate)

	// bob leaves; alice is alone and admin again
	bob.send("leave-room", struct{}{})
	alice.expect("update-members", &aliceRoster)
	require.Len(t, aliceRoster, 1)
	assert.Equal(t, "alice", aliceRoster[0].Username)
	assert.True(t, aliceRoster[0].IsAdmin)
	alice.expect("send-notification", nil)
}

func TestInvalidJoinPayload(t *testing.T) {
	server := newTestServer(t)

	client := dialWS(t, server)
	client.send("join-room", map[string]string{"roomId": "room-1"})

	var errPayload struct {
		Message string `json:"message"`
	}
	client.expect("invalid-data", &errPayload)
	assert.NotEmpty(t, errPayload.Message)

	// the connection survives a rejected payload
	client.send("join-room", map[string]string{"roomId": "room-1", "username": "alice"})
	client.expect("room-joined", nil)
}

func TestSecondJoinRejected(t *testing.T) {
	server := newTestServer(t)

	client := dialWS(t, server)
	client.send("join-room", map[string]string{"roomId": "room-1", "username": "alice"})
	client.expect("room-joined", nil)
	client.expect("update-members", nil)

	// an already-joined connection is told, not silently ignored
	client.send("join-room", map[string]string{"roomId": "room-2", "username": "alice"})

	var errPayload struct {
		Message string `json:"message"`
	}
	client.expect("invalid-data", &errPayload)
	assert.NotEmpty(t, errPayload.Message)
}

func TestRelayBeforeJoin(t *testing.T) {
	server := newTestServer(t)

	client := dialWS(t, server)
	client.send("player-play", map[string]string{"roomId": "room-1"})
	client.expect("invalid-data", nil)
}
