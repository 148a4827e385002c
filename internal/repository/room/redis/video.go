package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/watchparty/server/internal/repository/room"
)

func (r repo) SetVideo(ctx context.Context, params *room.SetVideoParams) error {
	exists, err := r.rc.Exists(ctx, r.membersKey(params.RoomId)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return room.ErrRoomNotFound
	}

	return r.rc.Set(ctx, r.videoKey(params.RoomId), params.VideoURL, r.ttl).Err()
}

func (r repo) GetVideo(ctx context.Context, roomId string) (string, error) {
	exists, err := r.rc.Exists(ctx, r.membersKey(roomId)).Result()
	if err != nil {
		return "", err
	}
	if exists == 0 {
		return "", room.ErrRoomNotFound
	}

	url, err := r.rc.Get(ctx, r.videoKey(roomId)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return url, nil
}
