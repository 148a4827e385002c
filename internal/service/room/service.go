// Package room is the room coordinator: membership lifecycle, playback
// intent relay, and the late-join state reconciliation handshake. All
// state mutations for a given room run under that room's lock; rooms
// never contend with each other.
package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/watchparty/server/internal/repository/connection"
	"github.com/watchparty/server/internal/repository/room"
	"github.com/watchparty/server/pkg/keylock"
	"github.com/watchparty/server/pkg/wsrouter"
)

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrNotJoined           = errors.New("connection has not joined a room")
	ErrAlreadyJoined       = errors.New("connection already joined a room")
	ErrRoomMismatch        = errors.New("room id does not match the joined room")
	ErrMembersLimitReached = errors.New("members limit reached")
)

type iRoomRepo interface {
	AddMember(context.Context, *room.AddMemberParams) error
	RemoveMember(context.Context, *room.RemoveMemberParams) (bool, error)
	GetMembers(context.Context, string) ([]room.Member, error)
	SetVideo(context.Context, *room.SetVideoParams) error
	GetVideo(context.Context, string) (string, error)
}

type iConnRepo interface {
	Add(*wsrouter.Conn, connection.Session) error
	RemoveByConn(*wsrouter.Conn) (connection.Session, error)
	GetConn(string) (*wsrouter.Conn, error)
	GetSession(*wsrouter.Conn) (connection.Session, error)
}

type Config struct {
	MembersLimit     int
	ReconcileTimeout time.Duration
}

type service struct {
	roomRepo iRoomRepo
	connRepo iConnRepo
	logger   *slog.Logger
	clock    clockwork.Clock

	membersLimit     int
	reconcileTimeout time.Duration

	roomLocks *keylock.KeyLock

	pendingMu sync.Mutex
	pending   map[string]*pendingPull
}

func NewService(roomRepo iRoomRepo, connRepo iConnRepo, logger *slog.Logger, clock clockwork.Clock, cfg *Config) *service {
	return &service{
		roomRepo:         roomRepo,
		connRepo:         connRepo,
		logger:           logger,
		clock:            clock,
		membersLimit:     cfg.MembersLimit,
		reconcileTimeout: cfg.ReconcileTimeout,
		roomLocks:        keylock.New(),
		pending:          make(map[string]*pendingPull),
	}
}

// sessionFor resolves the joined session for conn and checks that the
// payload's room id refers to it.
func (s *service) sessionFor(conn *wsrouter.Conn, roomId string) (connection.Session, error) {
	session, err := s.connRepo.GetSession(conn)
	if err != nil {
		return connection.Session{}, ErrNotJoined
	}
	if roomId != session.RoomId {
		return connection.Session{}, ErrRoomMismatch
	}

	return session, nil
}

// getMembers returns the roster in join order with admin status derived
// from position.
func (s *service) getMembers(ctx context.Context, roomId string) ([]Member, error) {
	repoMembers, err := s.roomRepo.GetMembers(ctx, roomId)
	if err != nil {
		return nil, err
	}

	members := make([]Member, 0, len(repoMembers))
	for i, m := range repoMembers {
		members = append(members, Member{
			Id:       m.Id,
			Username: m.Username,
			IsAdmin:  i == 0,
		})
	}

	return members, nil
}

func (s *service) getConnsByRoomId(ctx context.Context, roomId string, exclude string) ([]*wsrouter.Conn, error) {
	members, err := s.roomRepo.GetMembers(ctx, roomId)
	if err != nil {
		return nil, err
	}

	conns := make([]*wsrouter.Conn, 0, len(members))
	for _, member := range members {
		if member.Id == exclude {
			continue
		}

		conn, err := s.connRepo.GetConn(member.Id)
		if err != nil {
			// the member is mid-disconnect, skip it
			s.logger.DebugContext(ctx, "no conn for member", "member_id", member.Id)
			continue
		}

		conns = append(conns, conn)
	}

	return conns, nil
}
