package room

import (
	"context"
	"fmt"

	"github.com/watchparty/server/internal/repository/room"
	"github.com/watchparty/server/pkg/wsrouter"
)

type ChangeVideoParams struct {
	RoomId   string
	VideoURL string
	Conn     *wsrouter.Conn
}

type ChangeVideoResponse struct {
	VideoURL string
	// Conns includes the originator: a video change is echoed back so
	// every client renders the same reference idempotently.
	Conns []*wsrouter.Conn
}

// ChangeVideo updates the room's stored video reference, the one piece
// of playback state the server owns, then hands back the full roster
// for fan-out.
func (s *service) ChangeVideo(ctx context.Context, params *ChangeVideoParams) (ChangeVideoResponse, error) {
	session, err := s.sessionFor(params.Conn, params.RoomId)
	if err != nil {
		return ChangeVideoResponse{}, err
	}

	s.roomLocks.Lock(session.RoomId)
	defer s.roomLocks.Unlock(session.RoomId)

	if err := s.roomRepo.SetVideo(ctx, &room.SetVideoParams{
		RoomId:   session.RoomId,
		VideoURL: params.VideoURL,
	}); err != nil {
		return ChangeVideoResponse{}, fmt.Errorf("failed to set video: %w", err)
	}

	conns, err := s.getConnsByRoomId(ctx, session.RoomId, "")
	if err != nil {
		return ChangeVideoResponse{}, fmt.Errorf("failed to get conns: %w", err)
	}

	return ChangeVideoResponse{
		VideoURL: params.VideoURL,
		Conns:    conns,
	}, nil
}

type RelayParams struct {
	RoomId string
	Conn   *wsrouter.Conn
}

type RelayResponse struct {
	// Conns is every member except the originator: intents are never
	// echoed back to their sender.
	Conns []*wsrouter.Conn
}

// Relay resolves the fan-out set for a play/pause/rate intent. The
// intent payload itself passes through the controller verbatim.
func (s *service) Relay(ctx context.Context, params *RelayParams) (RelayResponse, error) {
	session, err := s.sessionFor(params.Conn, params.RoomId)
	if err != nil {
		return RelayResponse{}, err
	}

	s.roomLocks.Lock(session.RoomId)
	defer s.roomLocks.Unlock(session.RoomId)

	conns, err := s.getConnsByRoomId(ctx, session.RoomId, session.MemberId)
	if err != nil {
		return RelayResponse{}, fmt.Errorf("failed to get conns: %w", err)
	}

	return RelayResponse{Conns: conns}, nil
}
