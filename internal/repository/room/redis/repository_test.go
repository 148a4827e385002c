package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchparty/server/internal/repository/room"
)

func newTestRepo(t *testing.T) *repo {
	t.Helper()

	s := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { rc.Close() })

	return NewRepo(rc, time.Hour)
}

func TestMembersKeepJoinOrder(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	for _, m := range []struct{ id, username string }{
		{"m1", "alice"}, {"m2", "bob"}, {"m3", "carol"},
	} {
		require.NoError(t, r.AddMember(ctx, &room.AddMemberParams{
			RoomId:   "abc",
			MemberId: m.id,
			Username: m.username,
		}))
	}

	members, err := r.GetMembers(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "alice", members[0].Username)
	assert.Equal(t, "carol", members[2].Username)

	// remove the first member and re-add: it must go to the back
	_, err = r.RemoveMember(ctx, &room.RemoveMemberParams{RoomId: "abc", MemberId: "m1"})
	require.NoError(t, err)
	require.NoError(t, r.AddMember(ctx, &room.AddMemberParams{
		RoomId:   "abc",
		MemberId: "m1",
		Username: "alice",
	}))

	members, err = r.GetMembers(ctx, "abc")
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "bob", members[0].Username)
	assert.Equal(t, "alice", members[2].Username)
}

func TestEmptyRoomDestroyedAndRecreatedFresh(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.AddMember(ctx, &room.AddMemberParams{
		RoomId:   "abc",
		MemberId: "m1",
		Username: "alice",
	}))
	require.NoError(t, r.SetVideo(ctx, &room.SetVideoParams{RoomId: "abc", VideoURL: "v1"}))

	deleted, err := r.RemoveMember(ctx, &room.RemoveMemberParams{RoomId: "abc", MemberId: "m1"})
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = r.GetMembers(ctx, "abc")
	assert.ErrorIs(t, err, room.ErrRoomNotFound)

	require.NoError(t, r.AddMember(ctx, &room.AddMemberParams{
		RoomId:   "abc",
		MemberId: "m2",
		Username: "bob",
	}))
	url, err := r.GetVideo(ctx, "abc")
	require.NoError(t, err)
	assert.Empty(t, url, "recreated room must not inherit a stale video reference")
}

func TestDuplicateMemberRejected(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, r.AddMember(ctx, &room.AddMemberParams{
		RoomId:   "abc",
		MemberId: "m1",
		Username: "alice",
	}))
	err := r.AddMember(ctx, &room.AddMemberParams{
		RoomId:   "abc",
		MemberId: "m1",
		Username: "alice",
	})
	assert.ErrorIs(t, err, room.ErrMemberExists)
}

func TestVideoOnUnknownRoom(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	assert.ErrorIs(t, r.SetVideo(ctx, &room.SetVideoParams{RoomId: "abc", VideoURL: "v"}), room.ErrRoomNotFound)

	_, err := r.GetVideo(ctx, "abc")
	assert.ErrorIs(t, err, room.ErrRoomNotFound)
}

func TestRemoveUnknownMember(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	_, err := r.RemoveMember(ctx, &room.RemoveMemberParams{RoomId: "abc", MemberId: "m1"})
	assert.ErrorIs(t, err, room.ErrRoomNotFound)

	require.NoError(t, r.AddMember(ctx, &room.AddMemberParams{
		RoomId:   "abc",
		MemberId: "m1",
		Username: "alice",
	}))
	_, err = r.RemoveMember(ctx, &room.RemoveMemberParams{RoomId: "abc", MemberId: "m2"})
	assert.ErrorIs(t, err, room.ErrMemberNotFound)
}
