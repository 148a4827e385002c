package syncclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePlayer struct {
	mu       sync.Mutex
	position float64
	playing  bool
	rate     float64
	videoURL string
}

func (p *fakePlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *fakePlayer) SeekTo(position float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = position
}

func (p *fakePlayer) SetPlaying(playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = playing
}

func (p *fakePlayer) SetRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate = rate
}

func (p *fakePlayer) LoadVideo(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.videoURL = url
}

func (p *fakePlayer) snapshot() fakePlayer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fakePlayer{
		position: p.position,
		playing:  p.playing,
		rate:     p.rate,
		videoURL: p.videoURL,
	}
}

// newScriptedServer runs script against the first websocket connection
// and forwards every frame the client sends into the returned channel.
func newScriptedServer(t *testing.T, script func(conn *websocket.Conn)) (*httptest.Server, string) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn)
	}))
	t.Cleanup(server.Close)

	return server, "ws" + strings.TrimPrefix(server.URL, "http")
}

func writeFrame(conn *websocket.Conn, msgType string, payload any) {
	raw, _ := json.Marshal(payload)
	//nolint:errcheck
	conn.WriteJSON(frame{Type: msgType, Payload: raw})
}

// serveHandshake consumes the join-room and client-ready frames and
// answers the join, reporting the received join payload.
func serveHandshake(conn *websocket.Conn, joins chan<- map[string]string) bool {
	var f frame
	if err := conn.ReadJSON(&f); err != nil || f.Type != "join-room" {
		return false
	}

	var join map[string]string
	if err := json.Unmarshal(f.Payload, &join); err != nil {
		return false
	}
	if joins != nil {
		joins <- join
	}

	writeFrame(conn, "room-joined", map[string]any{
		"member": Member{Id: "m1", Username: join["username"], IsAdmin: true},
		"members": []Member{
			{Id: "m1", Username: join["username"], IsAdmin: true},
		},
	})

	if err := conn.ReadJSON(&f); err != nil || f.Type != "client-ready" {
		return false
	}

	return true
}

func TestDialHandshake(t *testing.T) {
	joins := make(chan map[string]string, 1)
	done := make(chan struct{})
	_, url := newScriptedServer(t, func(conn *websocket.Conn) {
		defer close(done)
		serveHandshake(conn, joins)
	})

	client, err := Dial(context.Background(), url, "room-1", "alice", &fakePlayer{}, nil)
	require.NoError(t, err)
	defer client.Close()

	select {
	case join := <-joins:
		assert.Equal(t, "room-1", join["roomId"])
		assert.Equal(t, "alice", join["username"])
	case <-time.After(time.Second):
		t.Fatal("server never saw the join")
	}

	self := client.Self()
	assert.Equal(t, "m1", self.Id)
	assert.True(t, self.IsAdmin)
	assert.Len(t, client.Members(), 1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("server script did not finish")
	}
}

func TestDialRejected(t *testing.T) {
	_, url := newScriptedServer(t, func(conn *websocket.Conn) {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		writeFrame(conn, "invalid-data", map[string]string{"message": "username is required"})
	})

	_, err := Dial(context.Background(), url, "room-1", "", &fakePlayer{}, nil)
	assert.ErrorIs(t, err, ErrJoinRejected)
}

func TestAnswersGetPlayerState(t *testing.T) {
	states := make(chan map[string]any, 1)
	_, url := newScriptedServer(t, func(conn *websocket.Conn) {
		if !serveHandshake(conn, nil) {
			return
		}

		writeFrame(conn, "video-change-from-server", map[string]string{"url": "v1"})
		writeFrame(conn, "get-player-state", struct{}{})

		var f frame
		if err := conn.ReadJSON(&f); err != nil || f.Type != "send-player-state" {
			return
		}
		var state map[string]any
		if err := json.Unmarshal(f.Payload, &state); err != nil {
			return
		}
		states <- state
	})

	player := &fakePlayer{position: 42.0}
	client, err := Dial(context.Background(), url, "room-1", "alice", player, nil)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	select {
	case state := <-states:
		assert.Equal(t, "room-1", state["roomId"])
		assert.Equal(t, "v1", state["url"])
		assert.Equal(t, 42.0, state["currentTime"])
	case <-time.After(time.Second):
		t.Fatal("no player state sent")
	}
	assert.Equal(t, "v1", client.VideoURL())
}

func TestRemotePauseSeeksWithGrace(t *testing.T) {
	proceed := make(chan struct{})
	_, url := newScriptedServer(t, func(conn *websocket.Conn) {
		if !serveHandshake(conn, nil) {
			return
		}
		writeFrame(conn, "player-pause-from-server", map[string]float64{"position": 12.0})
		<-proceed
	})
	defer close(proceed)

	player := &fakePlayer{playing: true}
	client, err := Dial(context.Background(), url, "room-1", "alice", player, nil)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	require.Eventually(t, func() bool {
		snap := player.snapshot()
		return !snap.playing && snap.position == 12.5
	}, time.Second, 10*time.Millisecond)
}

func TestSnapshotAppliedToPlayer(t *testing.T) {
	proceed := make(chan struct{})
	_, url := newScriptedServer(t, func(conn *websocket.Conn) {
		if !serveHandshake(conn, nil) {
			return
		}
		writeFrame(conn, "player-state-from-server", map[string]any{
			"url":         "v1",
			"currentTime": 12.0,
		})
		<-proceed
	})
	defer close(proceed)

	player := &fakePlayer{}
	client, err := Dial(context.Background(), url, "room-1", "alice", player, nil)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	require.Eventually(t, func() bool {
		snap := player.snapshot()
		return snap.playing && snap.position == 12.0 && snap.videoURL == "v1"
	}, time.Second, 10*time.Millisecond)
}

func TestLocalResumeRestoresDriftCorrection(t *testing.T) {
	frames := make(chan frame, 4)
	_, url := newScriptedServer(t, func(conn *websocket.Conn) {
		if !serveHandshake(conn, nil) {
			return
		}
		writeFrame(conn, "player-pause-from-server", map[string]float64{"position": 12.0})
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			frames <- f
		}
	})

	clock := clockwork.NewFakeClock()
	player := &fakePlayer{playing: true}
	client, err := Dial(context.Background(), url, "room-1", "alice", player, &Config{Clock: clock})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	require.Eventually(t, func() bool {
		snap := player.snapshot()
		return !snap.playing && snap.position == 12.5
	}, time.Second, 10*time.Millisecond)

	// the local resume is never echoed back, so it alone must restart
	// drift measurement
	require.NoError(t, client.Play())

	select {
	case f := <-frames:
		require.Equal(t, "player-play", f.Type)
	case <-time.After(time.Second):
		t.Fatal("server never received the play intent")
	}

	// rendered position stays frozen while expected progress runs on
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)

	select {
	case f := <-frames:
		require.Equal(t, "player-pause", f.Type)
		var pause struct {
			Position float64 `json:"position"`
		}
		require.NoError(t, json.Unmarshal(f.Payload, &pause))
		assert.Equal(t, 12.5, pause.Position)
	case <-time.After(time.Second):
		t.Fatal("no corrective pause despite drift after local resume")
	}
}

func TestLocalIntentsReachServer(t *testing.T) {
	frames := make(chan frame, 4)
	_, url := newScriptedServer(t, func(conn *websocket.Conn) {
		if !serveHandshake(conn, nil) {
			return
		}
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			frames <- f
		}
	})

	player := &fakePlayer{playing: true}
	client, err := Dial(context.Background(), url, "room-1", "alice", player, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Pause(3.0))
	require.NoError(t, client.Play())
	require.NoError(t, client.SetRate(1.5))
	require.NoError(t, client.ChangeVideo("v2"))

	expectFrame := func(msgType string) frame {
		select {
		case f := <-frames:
			require.Equal(t, msgType, f.Type)
			return f
		case <-time.After(time.Second):
			t.Fatalf("server never received %s", msgType)
			return frame{}
		}
	}

	var pause struct {
		RoomId   string  `json:"roomId"`
		Position float64 `json:"position"`
	}
	require.NoError(t, json.Unmarshal(expectFrame("player-pause").Payload, &pause))
	assert.Equal(t, "room-1", pause.RoomId)
	assert.Equal(t, 3.0, pause.Position)

	expectFrame("player-play")
	expectFrame("playback-rate-change")
	expectFrame("video-change")

	// the local player holds its current video until the echo arrives
	assert.Empty(t, player.snapshot().videoURL)
	assert.Equal(t, 1.5, player.snapshot().rate)
}
