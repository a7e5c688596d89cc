package switchcost

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient adapts *redis.Client to RedisBackend, grounded on the
// teacher's store.RedisStore (store/redis.go) connection setup — a plain
// redis.NewClient plus a startup Ping, without the Lua-script preloading
// that store's distributed-lock operations need but ours don't.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient connects to addr and verifies reachability with Ping.
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisClient{client: client}, nil
}

func (r *RedisClient) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}
