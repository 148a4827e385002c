package redis

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/watchparty/server/internal/repository/room"
)

func (r repo) AddMember(ctx context.Context, params *room.AddMemberParams) error {
	membersKey := r.membersKey(params.RoomId)

	err := r.rc.ZScore(ctx, membersKey, params.MemberId).Err()
	if err == nil {
		return room.ErrMemberExists
	}
	if err != redis.Nil {
		return err
	}

	// join order survives removals: the counter only ever increases
	seq, err := r.rc.Incr(ctx, r.joinSeqKey(params.RoomId)).Result()
	if err != nil {
		return err
	}

	pipe := r.rc.TxPipeline()
	pipe.ZAdd(ctx, membersKey, redis.Z{Score: float64(seq), Member: params.MemberId})
	pipe.HSet(ctx, r.memberKey(params.MemberId), "username", params.Username)
	pipe.Expire(ctx, membersKey, r.ttl)
	pipe.Expire(ctx, r.joinSeqKey(params.RoomId), r.ttl)
	pipe.Expire(ctx, r.memberKey(params.MemberId), r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	return nil
}

func (r repo) RemoveMember(ctx context.Context, params *room.RemoveMemberParams) (bool, error) {
	membersKey := r.membersKey(params.RoomId)

	exists, err := r.rc.Exists(ctx, membersKey).Result()
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, room.ErrRoomNotFound
	}

	removed, err := r.rc.ZRem(ctx, membersKey, params.MemberId).Result()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		return false, room.ErrMemberNotFound
	}

	if err := r.rc.Del(ctx, r.memberKey(params.MemberId)).Err(); err != nil {
		return false, err
	}

	left, err := r.rc.ZCard(ctx, membersKey).Result()
	if err != nil {
		return false, err
	}
	if left > 0 {
		return false, nil
	}

	// last member gone: drop every key the room owned
	if err := r.rc.Del(ctx,
		membersKey,
		r.videoKey(params.RoomId),
		r.joinSeqKey(params.RoomId),
	).Err(); err != nil {
		return false, err
	}

	return true, nil
}

func (r repo) GetMembers(ctx context.Context, roomId string) ([]room.Member, error) {
	memberIds, err := r.rc.ZRange(ctx, r.membersKey(roomId), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(memberIds) == 0 {
		return nil, room.ErrRoomNotFound
	}

	members := make([]room.Member, 0, len(memberIds))
	for _, memberId := range memberIds {
		username, err := r.rc.HGet(ctx, r.memberKey(memberId), "username").Result()
		if err == redis.Nil {
			// member hash expired out from under the list
			continue
		}
		if err != nil {
			return nil, err
		}

		members = append(members, room.Member{
			Id:       memberId,
			Username: username,
		})
	}

	return members, nil
}
