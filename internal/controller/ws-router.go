package controller

import (
	"context"

	"github.com/watchparty/server/pkg/wsrouter"
)

func (c *controller) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New()

	// membership
	mux.Handle("join-room", c.handleJoinRoom)
	mux.Handle("leave-room", c.handleLeaveRoom)

	// playback
	mux.Handle("video-change", c.handleVideoChange)
	mux.Handle("player-pause", c.handlePlayerPause)
	mux.Handle("player-play", c.handlePlayerPlay)
	mux.Handle("playback-rate-change", c.handlePlaybackRateChange)

	// late-join reconciliation
	mux.Handle("client-ready", c.handleClientReady)
	mux.Handle("send-player-state", c.handleSendPlayerState)

	// chat
	mux.Handle("live-chat-text", c.handleLiveChatText)
	mux.Handle("action-message", c.handleActionMessage)

	mux.OnError(func(ctx context.Context, conn *wsrouter.Conn, messageType string, err error) {
		c.logger.DebugContext(ctx, "message failed", "type", messageType, "error", err)
		c.writeServiceError(ctx, conn, err)
	})

	return mux
}
