package report

import (
	"context"
	"github.com/redis/go-redis/v9"
	"golang.org/x/xerrors"
)

const DefaultRedisChannelPrefix = "vhm.replies."

// Publisher is the part of a redis client used by Redis.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Redis publishes replies on the pub/sub channel <prefix><routeKey>.
type Redis struct {
	client Publisher
	prefix string
}

func NewRedis(client Publisher, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisChannelPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Publish(ctx context.Context, routeKey string, data []byte) error {
	if err := r.client.Publish(ctx, r.prefix+routeKey, data).Err(); err != nil {
		return xerrors.Errorf("publish reply %s: %w", routeKey, err)
	}
	return nil
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}
