package room

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/watchparty/server/internal/repository/connection"
	"github.com/watchparty/server/internal/repository/room"
	"github.com/watchparty/server/pkg/wsrouter"
)

type JoinRoomParams struct {
	RoomId   string
	Username string
	Conn     *wsrouter.Conn
}

type JoinRoomResponse struct {
	JoinedMember Member
	Members      []Member
	// Conns is every member of the room, the joiner included, for the
	// roster broadcast.
	Conns []*wsrouter.Conn
}

// JoinRoom appends a new member to the room, creating the room when it
// does not exist yet. The roster snapshot in the response is captured
// under the room lock, so it cannot race a concurrent leave.
func (s *service) JoinRoom(ctx context.Context, params *JoinRoomParams) (JoinRoomResponse, error) {
	if _, err := s.connRepo.GetSession(params.Conn); err == nil {
		return JoinRoomResponse{}, ErrAlreadyJoined
	}

	s.roomLocks.Lock(params.RoomId)
	defer s.roomLocks.Unlock(params.RoomId)

	existing, err := s.roomRepo.GetMembers(ctx, params.RoomId)
	if err != nil && !errors.Is(err, room.ErrRoomNotFound) {
		return JoinRoomResponse{}, fmt.Errorf("failed to get members: %w", err)
	}
	if len(existing) >= s.membersLimit {
		return JoinRoomResponse{}, ErrMembersLimitReached
	}

	memberId := uuid.NewString()
	if err := s.roomRepo.AddMember(ctx, &room.AddMemberParams{
		RoomId:   params.RoomId,
		MemberId: memberId,
		Username: params.Username,
	}); err != nil {
		return JoinRoomResponse{}, fmt.Errorf("failed to add member: %w", err)
	}

	if err := s.connRepo.Add(params.Conn, connection.Session{
		MemberId: memberId,
		RoomId:   params.RoomId,
	}); err != nil {
		// roll the membership back so the room cannot hold a member
		// nobody can reach
		if _, removeErr := s.roomRepo.RemoveMember(ctx, &room.RemoveMemberParams{
			RoomId:   params.RoomId,
			MemberId: memberId,
		}); removeErr != nil {
			s.logger.WarnContext(ctx, "failed to roll back member", "error", removeErr)
		}
		return JoinRoomResponse{}, fmt.Errorf("failed to register conn: %w", err)
	}

	members, err := s.getMembers(ctx, params.RoomId)
	if err != nil {
		return JoinRoomResponse{}, fmt.Errorf("failed to get members: %w", err)
	}

	conns, err := s.getConnsByRoomId(ctx, params.RoomId, "")
	if err != nil {
		return JoinRoomResponse{}, fmt.Errorf("failed to get conns: %w", err)
	}

	return JoinRoomResponse{
		JoinedMember: Member{
			Id:       memberId,
			Username: params.Username,
			IsAdmin:  len(members) == 1,
		},
		Members: members,
		Conns:   conns,
	}, nil
}

type LeaveRoomResponse struct {
	RoomId        string
	LeftMember    Member
	Members       []Member
	Conns         []*wsrouter.Conn
	IsRoomDeleted bool
}

// LeaveRoom removes the connection's member from its room. Explicit
// leave and abnormal disconnect both land here; the caller only decides
// whether the connection itself survives. When the last member leaves,
// the room is destroyed in the same critical section.
func (s *service) LeaveRoom(ctx context.Context, conn *wsrouter.Conn) (LeaveRoomResponse, error) {
	session, err := s.connRepo.RemoveByConn(conn)
	if err != nil {
		return LeaveRoomResponse{}, ErrNotJoined
	}

	// a pending state pull must never be forwarded to a gone connection
	s.cancelPendingPull(session.MemberId)

	s.roomLocks.Lock(session.RoomId)
	defer s.roomLocks.Unlock(session.RoomId)

	member := Member{Id: session.MemberId}
	if repoMembers, err := s.roomRepo.GetMembers(ctx, session.RoomId); err == nil {
		for _, m := range repoMembers {
			if m.Id == session.MemberId {
				member.Username = m.Username
			}
		}
	}

	deleted, err := s.roomRepo.RemoveMember(ctx, &room.RemoveMemberParams{
		RoomId:   session.RoomId,
		MemberId: session.MemberId,
	})
	if err != nil {
		return LeaveRoomResponse{}, fmt.Errorf("failed to remove member: %w", err)
	}

	if deleted {
		return LeaveRoomResponse{
			RoomId:        session.RoomId,
			LeftMember:    member,
			IsRoomDeleted: true,
		}, nil
	}

	members, err := s.getMembers(ctx, session.RoomId)
	if err != nil {
		return LeaveRoomResponse{}, fmt.Errorf("failed to get members: %w", err)
	}

	conns, err := s.getConnsByRoomId(ctx, session.RoomId, "")
	if err != nil {
		return LeaveRoomResponse{}, fmt.Errorf("failed to get conns: %w", err)
	}

	return LeaveRoomResponse{
		RoomId:     session.RoomId,
		LeftMember: member,
		Members:    members,
		Conns:      conns,
	}, nil
}
