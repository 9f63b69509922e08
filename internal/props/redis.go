package props

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/keithlinneman/headerguard/internal/xerrors"
)

// RedisHashReader is the subset of redis.Cmdable the fetcher needs.
type RedisHashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// RedisFetcher reads properties from the fields of one Redis hash so a fleet
// of instances can be reconfigured together with a single HSET.
type RedisFetcher struct {
	client RedisHashReader
	key    string
}

func NewRedisFetcher(client RedisHashReader, key string) (*RedisFetcher, error) {
	if client == nil {
		return nil, xerrors.New("redis client is required")
	}
	if key == "" {
		return nil, xerrors.New("redis hash key is required")
	}
	return &RedisFetcher{client: client, key: key}, nil
}

func (f *RedisFetcher) Name() string { return "redis" }

func (f *RedisFetcher) Fetch(ctx context.Context) (map[string]string, error) {
	m, err := f.client.HGetAll(ctx, f.key).Result()
	if err != nil {
		return nil, xerrors.Wrapf(err, "redis hgetall %s", f.key)
	}
	return m, nil
}
