package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/watchparty/server/internal/service/room"
	"github.com/watchparty/server/pkg/wsrouter"
)

type notificationPayload struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// unmarshalInput decodes a payload and reports malformed JSON to the
// sender. A false return means the error is already handled.
func (c *controller) unmarshalInput(ctx context.Context, conn *wsrouter.Conn, payload json.RawMessage, v any) bool {
	if err := json.Unmarshal(payload, v); err != nil {
		c.writeInvalidData(ctx, conn, "malformed payload")
		return false
	}

	return true
}

// validateInput checks struct tags and reports the first violation to
// the sender.
func (c *controller) validateInput(ctx context.Context, conn *wsrouter.Conn, v any) bool {
	if validationErrors, ok := c.validate.Validate(v); !ok {
		c.writeInvalidData(ctx, conn, validationErrors[0].Message)
		return false
	}

	return true
}

type JoinRoomInput struct {
	RoomId   string `json:"roomId" validate:"required,max=64"`
	Username string `json:"username" validate:"required,max=32"`
}

type RoomJoinedOutput struct {
	Member  room.Member   `json:"member"`
	Members []room.Member `json:"members"`
}

func (c *controller) handleJoinRoom(ctx context.Context, conn *wsrouter.Conn, payload json.RawMessage) error {
	var input JoinRoomInput
	if !c.unmarshalInput(ctx, conn, payload, &input) {
		return nil
	}
	input.Username = strings.TrimSpace(input.Username)
	input.RoomId = strings.TrimSpace(input.RoomId)
	if !c.validateInput(ctx, conn, &input) {
		return nil
	}

	joinRoomResp, err := c.roomService.JoinRoom(ctx, &room.JoinRoomParams{
		RoomId:   input.RoomId,
		Username: input.Username,
		Conn:     conn,
	})
	if err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}

	// the joiner gets its snapshot directly so it can render without
	// racing the roster broadcast
	if err := c.writeToConn(ctx, conn, &Output{
		Type: "room-joined",
		Payload: RoomJoinedOutput{
			Member:  joinRoomResp.JoinedMember,
			Members: joinRoomResp.Members,
		},
	}); err != nil {
		return fmt.Errorf("failed to write room-joined: %w", err)
	}

	c.broadcast(ctx, joinRoomResp.Conns, &Output{
		Type:    "update-members",
		Payload: joinRoomResp.Members,
	})
	c.broadcastExcept(ctx, joinRoomResp.Conns, conn, &Output{
		Type: "send-notification",
		Payload: notificationPayload{
			Title:   "Member joined",
			Message: joinRoomResp.JoinedMember.Username + " joined the room",
		},
	})

	return nil
}

func (c *controller) handleLeaveRoom(ctx context.Context, conn *wsrouter.Conn, payload json.RawMessage) error {
	leaveRoomResp, err := c.roomService.LeaveRoom(ctx, conn)
	if err != nil {
		return fmt.Errorf("failed to leave room: %w", err)
	}

	if leaveRoomResp.IsRoomDeleted {
		return nil
	}

	c.broadcast(ctx, leaveRoomResp.Conns, &Output{
		Type:    "update-members",
		Payload: leaveRoomResp.Members,
	})
	c.broadcast(ctx, leaveRoomResp.Conns, &Output{
		Type: "send-notification",
		Payload: notificationPayload{
			Title:   "Member left",
			Message: leaveRoomResp.LeftMember.Username + " left the room",
		},
	})

	return nil
}

type VideoChangeInput struct {
	RoomId string `json:"roomId" validate:"required"`
	URL    string `json:"url" validate:"required"`
}

type VideoChangeOutput struct {
	URL string `json:"url"`
}

func (c *controller) handleVideoChange(ctx context.Context, conn *wsrouter.Conn, payload json.RawMessage) error {
	var input VideoChangeInput
	if !c.unmarshalInput(ctx, conn, payload, &input) {
		return nil
	}
	if !c.validateInput(ctx, conn, &input) {
		return nil
	}

	changeVideoResp, err := c.roomService.ChangeVideo(ctx, &room.ChangeVideoParams{
		RoomId:   input.RoomId,
		VideoURL: input.URL,
		Conn:     conn,
	})
	if err != nil {
		return fmt.Errorf("failed to change video: %w", err)
	}

	// everyone, originator included: re-rendering the same reference is
	// idempotent on the client
	c.broadcast(ctx, changeVideoResp.Conns, &Output{
		Type:    "video-change-from-server",
		Payload: VideoChangeOutput{URL: changeVideoResp.VideoURL},
	})

	return nil
}

type PlayerPauseInput struct {
	RoomId   string  `json:"roomId" validate:"required"`
	Position float64 `json:"position"`
}

type PlayerPauseOutput struct {
	Position float64 `json:"position"`
}

func (c *controller) handlePlayerPause(ctx context.Context, conn *wsrouter.Conn, payload json.RawMessage) error {
	var input PlayerPauseInput
	if !c.unmarshalInput(ctx, conn, payload, &input) {
		return nil
	}
	if !c.validateInput(ctx, conn, &input) {
		return nil
	}

	relayResp, err := c.roomService.Relay(ctx, &room.RelayParams{RoomId: input.RoomId, Conn: conn})
	if err != nil {
		return fmt.Errorf("failed to relay pause: %w", err)
	}

	c.broadcast(ctx, relayResp.Conns, &Output{
		Type:    "player-pause-from-server",
		Payload: PlayerPauseOutput{Position: input.Position},
	})

	return nil
}

type PlayerPlayInput struct {
	RoomId string `json:"roomId" validate:"required"`
}

func (c *controller) handlePlayerPlay(ctx context.Context, conn *wsrouter.Conn, payload json.RawMessage) error {
	var input PlayerPlayInput
	if !c.unmarshalInput(ctx, conn, payload, &input) {
		return nil
	}
	if !c.validateInput(ctx, conn, &input) {
		return nil
	}

	relayResp, err := c.roomService.Relay(ctx, &room.RelayParams{RoomId: input.RoomId, Conn: conn})
	if err != nil {
		return fmt.Errorf("failed to relay play: %w", err)
	}

	c.broadcast(ctx, relayResp.Conns, &Output{
		Type:    "player-play-from-server",
		Payload: struct{}{},
	})

	return nil
}

type PlaybackRateChangeInput struct {
	RoomId string  `json:"roomId" validate:"required"`
	Rate   float64 `json:"rate" validate:"required,gt=0"`
}

type PlaybackRateChangeOutput struct {
	Rate float64 `json:"rate"`
}

func (c *controller) handlePlaybackRateChange(ctx context.Context, conn *wsrouter.Conn, payload json.RawMessage) error {
	var input PlaybackRateChangeInput
	if !c.unmarshalInput(ctx, conn, payload, &input) {
		return nil
	}
	if !c.validateInput(ctx, conn, &input) {
		return nil
	}

	relayResp, err := c.roomService.Relay(ctx, &room.RelayParams{RoomId: input.RoomId, Conn: conn})
	if err != nil {
		return fmt.Errorf("failed to relay rate change: %w", err)
	}

	c.broadcast(ctx, relayResp.Conns, &Output{
		Type:    "playback-rate-change-from-server",
		Payload: PlaybackRateChangeOutput{Rate: input.Rate},
	})

	return nil
}

type PlayerStateOutput struct {
	URL         string  `json:"url"`
	CurrentTime float64 `json:"currentTime"`
}

func (c *controller) handleClientReady(ctx context.Context, conn *wsrouter.Conn, payload json.RawMessage) error {
	// client-ready carries the bare room id
	var roomId string
	if !c.unmarshalInput(ctx, conn, payload, &roomId) {
		return nil
	}

	clientReadyResp, err := c.roomService.ClientReady(ctx, &room.ClientReadyParams{
		RoomId: roomId,
		Conn:   conn,
		Deliver: func(state room.PlayerState) {
			//nolint:errcheck
			c.writeToConn(ctx, conn, &Output{
				Type: "player-state-from-server",
				Payload: PlayerStateOutput{
					URL:         state.VideoURL,
					CurrentTime: state.CurrentTime,
				},
			})
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start reconciliation: %w", err)
	}

	c.broadcast(ctx, clientReadyResp.Conns, &Output{
		Type:    "get-player-state",
		Payload: struct{}{},
	})

	return nil
}

type SendPlayerStateInput struct {
	RoomId      string  `json:"roomId" validate:"required"`
	URL         string  `json:"url"`
	CurrentTime float64 `json:"currentTime"`
}

func (c *controller) handleSendPlayerState(ctx context.Context, conn *wsrouter.Conn, payload json.RawMessage) error {
	var input SendPlayerStateInput
	if !c.unmarshalInput(ctx, conn, payload, &input) {
		return nil
	}
	if !c.validateInput(ctx, conn, &input) {
		return nil
	}

	if err := c.roomService.SubmitPlayerState(ctx, &room.SubmitPlayerStateParams{
		RoomId:      input.RoomId,
		VideoURL:    input.URL,
		CurrentTime: input.CurrentTime,
		Conn:        conn,
	}); err != nil {
		return fmt.Errorf("failed to submit player state: %w", err)
	}

	return nil
}

type ChatMessageInput struct {
	RoomId   string `json:"roomId" validate:"required"`
	Name     string `json:"name" validate:"required,max=32"`
	Message  string `json:"message" validate:"required,max=512"`
	TimeSent string `json:"timeSent"`
}

type ChatMessageOutput struct {
	Name     string `json:"name"`
	Message  string `json:"message"`
	TimeSent string `json:"timeSent"`
}

// relayChat is the stateless broadcast path shared by chat and action
// messages: no coordination state, just the roster lookup.
func (c *controller) relayChat(ctx context.Context, conn *wsrouter.Conn, payload json.RawMessage, outputType string) error {
	var input ChatMessageInput
	if !c.unmarshalInput(ctx, conn, payload, &input) {
		return nil
	}
	if !c.validateInput(ctx, conn, &input) {
		return nil
	}

	relayResp, err := c.roomService.Relay(ctx, &room.RelayParams{RoomId: input.RoomId, Conn: conn})
	if err != nil {
		return fmt.Errorf("failed to relay chat message: %w", err)
	}

	c.broadcast(ctx, relayResp.Conns, &Output{
		Type: outputType,
		Payload: ChatMessageOutput{
			Name:     input.Name,
			Message:  input.Message,
			TimeSent: input.TimeSent,
		},
	})

	return nil
}

func (c *controller) handleLiveChatText(ctx context.Context, conn *wsrouter.Conn, payload json.RawMessage) error {
	return c.relayChat(ctx, conn, payload, "live-chat-text-from-server")
}

func (c *controller) handleActionMessage(ctx context.Context, conn *wsrouter.Conn, payload json.RawMessage) error {
	return c.relayChat(ctx, conn, payload, "action-message-from-server")
}
