package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"boardsync/domain"
)

// InvalidateBoard is a no-op on the plain store; the cache wrapper overrides
// it. The command core calls it after every board-affecting mutation.
func (s *Storage) InvalidateBoard(ctx context.Context, boardID string) {}

// Cache wraps a Storage instance with Redis-backed caching for board
// snapshots. Redis failures degrade to the backing store.
type Cache struct {
	*Storage
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Storage wrapper using the provided Redis client and TTL.
func NewCache(base *Storage, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{Storage: base, redis: client, ttl: ttl}
}

func (c *Cache) BoardTree(ctx context.Context, boardID string) (*domain.BoardTree, error) {
	if tree, ok := c.loadTree(ctx, boardID); ok {
		return tree, nil
	}

	tree, err := c.Storage.BoardTree(ctx, boardID)
	if err != nil {
		return nil, err
	}

	c.storeTree(ctx, boardID, tree)
	return tree, nil
}

// InvalidateBoard drops the cached snapshot for the board.
func (c *Cache) InvalidateBoard(ctx context.Context, boardID string) {
	if c.redis == nil {
		return
	}
	_ = c.redis.Del(ctx, treeCacheKey(boardID)).Err()
}

func (c *Cache) loadTree(ctx context.Context, boardID string) (*domain.BoardTree, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, treeCacheKey(boardID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			_ = c.redis.Del(ctx, treeCacheKey(boardID)).Err()
		}
		return nil, false
	}
	var tree domain.BoardTree
	if err := json.Unmarshal(data, &tree); err != nil {
		_ = c.redis.Del(ctx, treeCacheKey(boardID)).Err()
		return nil, false
	}
	return &tree, true
}

func (c *Cache) storeTree(ctx context.Context, boardID string, tree *domain.BoardTree) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, treeCacheKey(boardID), data, c.ttl).Err()
}

func treeCacheKey(boardID string) string {
	return "boardtree:" + boardID
}
