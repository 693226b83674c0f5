package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/Sivtheng/message-maxy/pkg/logger"
)

const redisChannelPrefix = "maxy:changes:"

// RedisNotifier fans change signals out across processes over Redis pub/sub.
type RedisNotifier struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisNotifier wraps an existing client.
func NewRedisNotifier(client *redis.Client, log *logger.Logger) *RedisNotifier {
	if log == nil {
		log = logger.NewDefault("live-redis")
	}
	return &RedisNotifier{client: client, log: log}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

func channelFor(collection string) string {
	return redisChannelPrefix + collection
}

// Publish announces a change to collection.
func (n *RedisNotifier) Publish(ctx context.Context, collection string) error {
	if err := n.client.Publish(ctx, channelFor(collection), "changed").Err(); err != nil {
		return fmt.Errorf("publish %s change: %w", collection, err)
	}
	return nil
}

// Subscribe listens for changes to collection until cancel is called or ctx
// ends.
func (n *RedisNotifier) Subscribe(ctx context.Context, collection string) (<-chan struct{}, func(), error) {
	pubsub := n.client.Subscribe(ctx, channelFor(collection))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", collection, err)
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(out)
		msgs := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				signal(out)
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			if err := pubsub.Close(); err != nil {
				n.log.WithError(err).WithField("collection", collection).Warn("close redis subscription")
			}
		})
	}
	return out, cancel, nil
}
