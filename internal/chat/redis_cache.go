package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"league-chat/internal/models"
)

// setIfNewer compares the stored "key" field against ARGV[2] and writes
// ARGV[3] only when the new key sorts strictly after it.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if cur then
  local ok, decoded = pcall(cjson.decode, cur)
  if ok and decoded['key'] and decoded['key'] >= ARGV[2] then
    return 0
  end
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
return 1
`)

type redisPreview struct {
	models.InboxPreview
	Key string `json:"key"`
}

// RedisPreviewCache keeps previews in one hash per user, field per league.
type RedisPreviewCache struct {
	client redis.UniversalClient
	key    string
}

// NewRedisPreviewCache parses url (redis://...) and returns a cache scoped to userID.
func NewRedisPreviewCache(url, userID string) (*RedisPreviewCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisPreviewCacheWithClient(redis.NewClient(opts), userID), nil
}

func NewRedisPreviewCacheWithClient(client redis.UniversalClient, userID string) *RedisPreviewCache {
	return &RedisPreviewCache{client: client, key: "leaguechat:inbox:" + userID}
}

// Ping checks connectivity.
func (c *RedisPreviewCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisPreviewCache) Close() error {
	return c.client.Close()
}

func (c *RedisPreviewCache) Get(ctx context.Context, leagueID string) (models.InboxPreview, bool, error) {
	raw, err := c.client.HGet(ctx, c.key, leagueID).Result()
	if errors.Is(err, redis.Nil) {
		return models.InboxPreview{}, false, nil
	}
	if err != nil {
		return models.InboxPreview{}, false, err
	}
	var p redisPreview
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return models.InboxPreview{}, false, fmt.Errorf("decode preview: %w", err)
	}
	return p.InboxPreview, true, nil
}

func (c *RedisPreviewCache) SetIfNewer(ctx context.Context, p models.InboxPreview) (bool, error) {
	key := models.PreviewKey(p.CreatedAt)
	payload, err := json.Marshal(redisPreview{InboxPreview: p, Key: key})
	if err != nil {
		return false, err
	}
	n, err := setIfNewer.Run(ctx, c.client, []string{c.key}, p.LeagueID, key, string(payload)).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *RedisPreviewCache) List(ctx context.Context, leagueIDs []string) ([]models.InboxPreview, error) {
	if len(leagueIDs) == 0 {
		return nil, nil
	}
	vals, err := c.client.HMGet(ctx, c.key, leagueIDs...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.InboxPreview, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var p redisPreview
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			continue
		}
		out = append(out, p.InboxPreview)
	}
	return out, nil
}
