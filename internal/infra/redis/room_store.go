package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RoomStore marks competition room liveness in Redis so other instances can
// see which codes are live. Markers are best effort: a failed write never
// blocks the room itself.
type RoomStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRoomStore(client *redis.Client, ttl time.Duration) *RoomStore {
	return &RoomStore{client: client, ttl: ttl}
}

func (s *RoomStore) MarkOpen(ctx context.Context, roomID string) {
	_ = s.client.Set(ctx, s.key(roomID), "1", s.ttl).Err()
}

func (s *RoomStore) MarkClosed(ctx context.Context, roomID string) {
	_ = s.client.Del(ctx, s.key(roomID)).Err()
}

// IsLive reports whether a room marker exists, for cross-instance lookups.
func (s *RoomStore) IsLive(ctx context.Context, roomID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(roomID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RoomStore) key(roomID string) string {
	return "room:live:" + roomID
}
