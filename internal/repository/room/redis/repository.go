// Package redis is the Redis-backed room directory. Join order is a
// sorted set scored by a per-room join counter; the video reference is
// a plain string key. All keys carry a TTL so abandoned rooms cannot
// outlive the deployment's retention window.
package redis

import (
	"time"

	"github.com/redis/go-redis/v9"
)

type repo struct {
	rc  *redis.Client
	ttl time.Duration
}

func NewRepo(rc *redis.Client, ttl time.Duration) *repo {
	return &repo{
		rc:  rc,
		ttl: ttl,
	}
}

func (r repo) videoKey(roomId string) string {
	return "room:" + roomId + ":video"
}

func (r repo) membersKey(roomId string) string {
	return "room:" + roomId + ":members"
}

func (r repo) joinSeqKey(roomId string) string {
	return "room:" + roomId + ":joinseq"
}

func (r repo) memberKey(memberId string) string {
	return "member:" + memberId
}
