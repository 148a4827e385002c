// Package syncclient is a headless room participant. It dials a server,
// joins a room, and binds a local playback surface to the relay
// protocol, with a playersync.Corrector keeping the surface in step
// with the rest of the room.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/watchparty/server/pkg/playersync"
)

var ErrJoinRejected = errors.New("join rejected by server")

// Player extends the corrector's playback surface with video loading,
// which sits outside the corrector's remit.
type Player interface {
	playersync.Player
	LoadVideo(url string)
}

type Member struct {
	Id       string `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
}

type ChatMessage struct {
	Name     string `json:"name"`
	Message  string `json:"message"`
	TimeSent string `json:"timeSent"`
}

type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	// Corrector overrides the drift corrector's defaults. Its Clock and
	// Logger fall back to the client's when unset.
	Corrector *playersync.Config

	// OnChat and OnNotification observe relayed chat and notification
	// frames. Nil callbacks drop the frames.
	OnChat         func(ChatMessage)
	OnNotification func(Notification)
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type Client struct {
	conn      *websocket.Conn
	roomId    string
	logger    *slog.Logger
	corrector *playersync.Corrector
	player    Player

	onChat         func(ChatMessage)
	onNotification func(Notification)

	writeMu sync.Mutex

	mu       sync.Mutex
	self     Member
	members  []Member
	videoURL string
}

// Dial connects to a server, joins the given room, and announces
// readiness so the room reconciles the player against existing members.
// The returned client does not process further frames until Run is
// called.
func Dial(ctx context.Context, url, roomId, username string, player Player, cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	c := &Client{
		conn:           conn,
		roomId:         roomId,
		logger:         logger,
		player:         player,
		onChat:         cfg.OnChat,
		onNotification: cfg.OnNotification,
	}

	correctorCfg := cfg.Corrector
	if correctorCfg == nil {
		correctorCfg = &playersync.Config{}
	}
	if correctorCfg.Clock == nil {
		correctorCfg.Clock = clock
	}
	if correctorCfg.Logger == nil {
		correctorCfg.Logger = logger
	}
	c.corrector = playersync.NewCorrector(player, (*relaySink)(c), correctorCfg)

	if err := c.join(username); err != nil {
		conn.Close()
		return nil, err
	}

	if err := c.send("client-ready", roomId); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to announce readiness: %w", err)
	}

	return c, nil
}

func (c *Client) join(username string) error {
	if err := c.send("join-room", map[string]string{
		"roomId":   c.roomId,
		"username": username,
	}); err != nil {
		return fmt.Errorf("failed to send join: %w", err)
	}

	// the join response is the first frame addressed to this connection
	var f frame
	if err := c.conn.ReadJSON(&f); err != nil {
		return fmt.Errorf("failed to read join response: %w", err)
	}
	if f.Type != "room-joined" {
		return fmt.Errorf("%w: %s", ErrJoinRejected, f.Type)
	}

	var joined struct {
		Member  Member   `json:"member"`
		Members []Member `json:"members"`
	}
	if err := json.Unmarshal(f.Payload, &joined); err != nil {
		return fmt.Errorf("failed to decode join response: %w", err)
	}

	c.mu.Lock()
	c.self = joined.Member
	c.members = joined.Members
	c.mu.Unlock()

	return nil
}

// Run processes incoming frames and drives the drift corrector until
// ctx is cancelled or the connection fails.
func (c *Client) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.corrector.Run(ctx)

	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to read frame: %w", err)
		}

		if err := c.dispatch(f); err != nil {
			c.logger.Warn("failed to handle frame", "type", f.Type, "error", err)
		}
	}
}

func (c *Client) dispatch(f frame) error {
	switch f.Type {
	case "update-members":
		var members []Member
		if err := json.Unmarshal(f.Payload, &members); err != nil {
			return err
		}
		c.mu.Lock()
		c.members = members
		for _, m := range members {
			if m.Id == c.self.Id {
				c.self = m
			}
		}
		c.mu.Unlock()

	case "video-change-from-server":
		var payload struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			return err
		}
		c.mu.Lock()
		c.videoURL = payload.URL
		c.mu.Unlock()
		c.player.LoadVideo(payload.URL)
		c.player.SeekTo(0)
		c.corrector.Reset(0)

	case "player-pause-from-server":
		var payload struct {
			Position float64 `json:"position"`
		}
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			return err
		}
		c.corrector.OnPauseRelay(payload.Position)

	case "player-play-from-server":
		c.corrector.OnPlayRelay()

	case "playback-rate-change-from-server":
		var payload struct {
			Rate float64 `json:"rate"`
		}
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			return err
		}
		c.corrector.OnRateRelay(payload.Rate)

	case "get-player-state":
		c.mu.Lock()
		url := c.videoURL
		c.mu.Unlock()
		return c.send("send-player-state", map[string]any{
			"roomId":      c.roomId,
			"url":         url,
			"currentTime": c.player.Position(),
		})

	case "player-state-from-server":
		var payload struct {
			URL         string  `json:"url"`
			CurrentTime float64 `json:"currentTime"`
		}
		if err := json.Unmarshal(f.Payload, &payload); err != nil {
			return err
		}
		c.applySnapshot(payload.URL, payload.CurrentTime)

	case "live-chat-text-from-server", "action-message-from-server":
		if c.onChat == nil {
			return nil
		}
		var msg ChatMessage
		if err := json.Unmarshal(f.Payload, &msg); err != nil {
			return err
		}
		c.onChat(msg)

	case "send-notification":
		if c.onNotification == nil {
			return nil
		}
		var n Notification
		if err := json.Unmarshal(f.Payload, &n); err != nil {
			return err
		}
		c.onNotification(n)

	case "invalid-data", "room-not-found":
		c.logger.Warn("server rejected a message", "type", f.Type, "payload", string(f.Payload))

	default:
		c.logger.Debug("ignoring unknown frame", "type", f.Type)
	}

	return nil
}

// applySnapshot lands the reconciled room state on the local player.
func (c *Client) applySnapshot(url string, currentTime float64) {
	c.mu.Lock()
	c.videoURL = url
	c.mu.Unlock()

	if url != "" {
		c.player.LoadVideo(url)
	}
	c.player.SeekTo(currentTime)
	c.player.SetPlaying(true)
	c.corrector.Reset(currentTime)
	c.corrector.SetLocalPlaying(true)
}

// Play announces a locally initiated resume to the room. The resume
// also ends any correction in flight: the relay never echoes the play
// back to us, so nobody else will.
func (c *Client) Play() error {
	c.player.SetPlaying(true)
	c.corrector.Resume()
	return c.send("player-play", map[string]string{"roomId": c.roomId})
}

// Pause announces a locally initiated pause at position.
func (c *Client) Pause(position float64) error {
	c.player.SetPlaying(false)
	c.corrector.SetLocalPlaying(false)
	return c.send("player-pause", map[string]any{
		"roomId":   c.roomId,
		"position": position,
	})
}

// SetRate announces a locally initiated playback rate change.
func (c *Client) SetRate(rate float64) error {
	c.corrector.OnRateRelay(rate)
	return c.send("playback-rate-change", map[string]any{
		"roomId": c.roomId,
		"rate":   rate,
	})
}

// ChangeVideo proposes a new video for the room. The local player is
// not touched until the change echoes back from the server.
func (c *Client) ChangeVideo(url string) error {
	return c.send("video-change", map[string]string{
		"roomId": c.roomId,
		"url":    url,
	})
}

// SendChat relays a chat line to the rest of the room.
func (c *Client) SendChat(msg ChatMessage) error {
	return c.send("live-chat-text", map[string]string{
		"roomId":   c.roomId,
		"name":     msg.Name,
		"message":  msg.Message,
		"timeSent": msg.TimeSent,
	})
}

// Leave exits the room without closing the connection.
func (c *Client) Leave() error {
	return c.send("leave-room", struct{}{})
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) Self() Member {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Client) Members() []Member {
	c.mu.Lock()
	defer c.mu.Unlock()

	members := make([]Member, len(c.members))
	copy(members, c.members)
	return members
}

func (c *Client) VideoURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.videoURL
}

func (c *Client) send(msgType string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	return c.conn.WriteJSON(frame{Type: msgType, Payload: raw})
}

// relaySink feeds the corrector's corrective intents into the room
// relay as ordinary pause frames.
type relaySink Client

func (s *relaySink) Pause(position float64) error {
	c := (*Client)(s)
	c.player.SetPlaying(false)
	return c.send("player-pause", map[string]any{
		"roomId":   c.roomId,
		"position": position,
	})
}
