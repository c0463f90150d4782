package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/nftpayments/internal/domain"
)

// CursorStore implements domain.CursorStore with plain string keys.
type CursorStore struct {
	rdb *redis.Client
}

// NewCursorStore creates a CursorStore backed by the given Client.
func NewCursorStore(c *Client) *CursorStore {
	return &CursorStore{rdb: c.Underlying()}
}

func cursorKey(name string) string {
	return "cursor:" + name
}

// GetCursor returns the stored value, or "" when none has been set.
func (cs *CursorStore) GetCursor(ctx context.Context, name string) (string, error) {
	v, err := cs.rdb.Get(ctx, cursorKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis: get cursor %s: %w", name, err)
	}
	return v, nil
}

// SetCursor stores value without expiry.
func (cs *CursorStore) SetCursor(ctx context.Context, name, value string) error {
	if err := cs.rdb.Set(ctx, cursorKey(name), value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set cursor %s: %w", name, err)
	}
	return nil
}

var _ domain.CursorStore = (*CursorStore)(nil)
