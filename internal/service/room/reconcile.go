package room

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"

	"github.com/watchparty/server/pkg/wsrouter"
)

// pendingPull is one in-flight late-join state request, keyed by the
// requesting member. It is a single-assignment future: the 1-buffered
// channel accepts the first snapshot and drops every later one.
type pendingPull struct {
	roomId   string
	memberId string
	stateCh  chan PlayerState
	cancelCh chan struct{}
}

// tryResolve offers a snapshot to the pull. Only the first offer wins.
func (p *pendingPull) tryResolve(state PlayerState) bool {
	select {
	case p.stateCh <- state:
		return true
	default:
		return false
	}
}

type ClientReadyParams struct {
	RoomId string
	Conn   *wsrouter.Conn
	// Deliver receives the reconciled snapshot exactly once: the first
	// peer response, or the stored-video fallback after the timeout. It
	// is never called if the requester disconnects first.
	Deliver func(PlayerState)
}

type ClientReadyResponse struct {
	// Conns is the set of existing members to ask for their player
	// state. Empty when the requester is alone in the room: there is
	// nobody to reconcile against.
	Conns []*wsrouter.Conn
}

// ClientReady starts the late-join reconciliation handshake. The server
// holds no playback clock, so it asks the room's existing members for a
// snapshot and forwards whichever answer arrives first.
func (s *service) ClientReady(ctx context.Context, params *ClientReadyParams) (ClientReadyResponse, error) {
	session, err := s.sessionFor(params.Conn, params.RoomId)
	if err != nil {
		return ClientReadyResponse{}, err
	}

	s.roomLocks.Lock(session.RoomId)
	defer s.roomLocks.Unlock(session.RoomId)

	conns, err := s.getConnsByRoomId(ctx, session.RoomId, session.MemberId)
	if err != nil {
		return ClientReadyResponse{}, fmt.Errorf("failed to get conns: %w", err)
	}
	if len(conns) == 0 {
		return ClientReadyResponse{}, nil
	}

	pull := &pendingPull{
		roomId:   session.RoomId,
		memberId: session.MemberId,
		stateCh:  make(chan PlayerState, 1),
		cancelCh: make(chan struct{}),
	}

	s.pendingMu.Lock()
	if previous, ok := s.pending[session.MemberId]; ok {
		// a repeated client-ready supersedes the old request
		delete(s.pending, session.MemberId)
		close(previous.cancelCh)
	}
	s.pending[session.MemberId] = pull
	s.pendingMu.Unlock()

	timer := s.clock.NewTimer(s.reconcileTimeout)
	go s.awaitPull(pull, timer, params.Deliver)

	return ClientReadyResponse{Conns: conns}, nil
}

// awaitPull waits for the first of: a peer snapshot, the timeout, or
// cancellation by disconnect.
func (s *service) awaitPull(pull *pendingPull, timer clockwork.Timer, deliver func(PlayerState)) {
	defer s.forgetPendingPull(pull)

	select {
	case state := <-pull.stateCh:
		timer.Stop()
		deliver(state)
	case <-timer.Chan():
		// prefer a response that squeaked in just before the deadline
		select {
		case state := <-pull.stateCh:
			deliver(state)
		default:
			url, err := s.roomRepo.GetVideo(context.Background(), pull.roomId)
			if err != nil {
				// room is gone, nothing sensible to send
				s.logger.Debug("reconcile fallback with no room", "room_id", pull.roomId)
				return
			}
			deliver(PlayerState{VideoURL: url, CurrentTime: 0})
		}
	case <-pull.cancelCh:
		timer.Stop()
	}
}

type SubmitPlayerStateParams struct {
	RoomId      string
	VideoURL    string
	CurrentTime float64
	Conn        *wsrouter.Conn
}

// SubmitPlayerState answers the room's pending state pulls with one
// member's observed snapshot. Later responses for an already resolved
// pull are dropped.
func (s *service) SubmitPlayerState(ctx context.Context, params *SubmitPlayerStateParams) error {
	session, err := s.sessionFor(params.Conn, params.RoomId)
	if err != nil {
		return err
	}

	state := PlayerState{
		VideoURL:    params.VideoURL,
		CurrentTime: params.CurrentTime,
	}

	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	for _, pull := range s.pending {
		if pull.roomId != session.RoomId || pull.memberId == session.MemberId {
			continue
		}
		pull.tryResolve(state)
	}

	return nil
}

// cancelPendingPull discards the member's in-flight pull, if any,
// without delivering anything.
func (s *service) cancelPendingPull(memberId string) {
	s.pendingMu.Lock()
	pull, ok := s.pending[memberId]
	if ok {
		delete(s.pending, memberId)
	}
	s.pendingMu.Unlock()

	if ok {
		close(pull.cancelCh)
	}
}

func (s *service) forgetPendingPull(pull *pendingPull) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if current, ok := s.pending[pull.memberId]; ok && current == pull {
		delete(s.pending, pull.memberId)
	}
}
