package inmemory

import (
	"context"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/watchparty/server/internal/repository/room"
)

type roomState struct {
	mu       sync.Mutex
	videoURL string
	members  []room.Member
}

// repo is the default, process-lifetime room store. The registry mutex
// guards only the map structure; each room carries its own lock, so
// operations on different rooms do not contend.
type repo struct {
	mu    sync.RWMutex
	rooms map[string]*roomState
}

func NewRepo() *repo {
	return &repo{rooms: make(map[string]*roomState)}
}

// AddMember appends a member to the room, creating the room when
// absent. Join order is insertion order.
func (r *repo) AddMember(ctx context.Context, params *room.AddMemberParams) error {
	r.mu.Lock()
	rs, ok := r.rooms[params.RoomId]
	if !ok {
		rs = &roomState{}
		r.rooms[params.RoomId] = rs
	}
	rs.mu.Lock()
	r.mu.Unlock()
	defer rs.mu.Unlock()

	for _, m := range rs.members {
		if m.Id == params.MemberId {
			return room.ErrMemberExists
		}
	}

	rs.members = append(rs.members, room.Member{
		Id:       params.MemberId,
		Username: params.Username,
	})

	return nil
}

// RemoveMember removes the member and, when the room empties, destroys
// the room entry in the same critical section so a subsequent AddMember
// with the same room id starts fresh. Returns whether the room was
// destroyed.
func (r *repo) RemoveMember(ctx context.Context, params *room.RemoveMemberParams) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rs, ok := r.rooms[params.RoomId]
	if !ok {
		return false, room.ErrRoomNotFound
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	idx := slices.IndexFunc(rs.members, func(m room.Member) bool {
		return m.Id == params.MemberId
	})
	if idx == -1 {
		return false, room.ErrMemberNotFound
	}

	rs.members = append(rs.members[:idx], rs.members[idx+1:]...)
	if len(rs.members) == 0 {
		delete(r.rooms, params.RoomId)
		return true, nil
	}

	return false, nil
}

// GetMembers returns the room's members in join order.
func (r *repo) GetMembers(ctx context.Context, roomId string) ([]room.Member, error) {
	r.mu.RLock()
	rs, ok := r.rooms[roomId]
	r.mu.RUnlock()
	if !ok {
		return nil, room.ErrRoomNotFound
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	return slices.Clone(rs.members), nil
}

func (r *repo) SetVideo(ctx context.Context, params *room.SetVideoParams) error {
	r.mu.RLock()
	rs, ok := r.rooms[params.RoomId]
	r.mu.RUnlock()
	if !ok {
		return room.ErrRoomNotFound
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.videoURL = params.VideoURL

	return nil
}

func (r *repo) GetVideo(ctx context.Context, roomId string) (string, error) {
	r.mu.RLock()
	rs, ok := r.rooms[roomId]
	r.mu.RUnlock()
	if !ok {
		return "", room.ErrRoomNotFound
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	return rs.videoURL, nil
}
