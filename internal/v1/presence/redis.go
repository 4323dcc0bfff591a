package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/parcade/arena/internal/v1/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// redisSubscription tracks one channel subscription and its reader goroutine.
type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	handlers []Handler
}

// RedisPresence is the cluster-shared Presence backed by a Redis server.
// Unary operations run through a circuit breaker so a dying Redis does not
// pile up goroutines behind slow calls.
type RedisPresence struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker

	mu   sync.Mutex
	subs map[string]*redisSubscription
}

// Client returns the underlying Redis client, for components that share the
// connection (driver, rate limiter).
func (p *RedisPresence) Client() *redis.Client {
	if p == nil {
		return nil
	}
	return p.client
}

// NewRedisPresence creates a Redis-backed presence and verifies connectivity.
func NewRedisPresence(addr, password string) (*RedisPresence, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // Default DB
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis-presence",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("Connected to Redis presence", "addr", addr)
	return &RedisPresence{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
		subs:   make(map[string]*redisSubscription),
	}, nil
}

// NewRedisPresenceFromClient wraps an existing client. Used by tests.
func NewRedisPresenceFromClient(client *redis.Client) *RedisPresence {
	return &RedisPresence{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: "redis-presence"}),
		subs:   make(map[string]*redisSubscription),
	}
}

func (p *RedisPresence) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	res, err := p.cb.Execute(fn)
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("Redis circuit breaker open", "op", op)
		}
		return nil, err
	}
	return res, nil
}

func (p *RedisPresence) SAdd(ctx context.Context, key, member string) error {
	_, err := p.execute("sadd", func() (interface{}, error) {
		return nil, p.client.SAdd(ctx, key, member).Err()
	})
	return err
}

func (p *RedisPresence) SRem(ctx context.Context, key, member string) error {
	_, err := p.execute("srem", func() (interface{}, error) {
		return nil, p.client.SRem(ctx, key, member).Err()
	})
	return err
}

func (p *RedisPresence) SMembers(ctx context.Context, key string) ([]string, error) {
	res, err := p.execute("smembers", func() (interface{}, error) {
		return p.client.SMembers(ctx, key).Result()
	})
	if err != nil {
		return nil, err
	}
	return res.([]string), nil
}

func (p *RedisPresence) HSet(ctx context.Context, key, field, value string) error {
	_, err := p.execute("hset", func() (interface{}, error) {
		return nil, p.client.HSet(ctx, key, field, value).Err()
	})
	return err
}

// HGet returns an empty string when either the key or the field is absent.
func (p *RedisPresence) HGet(ctx context.Context, key, field string) (string, error) {
	res, err := p.execute("hget", func() (interface{}, error) {
		v, err := p.client.HGet(ctx, key, field).Result()
		if err == redis.Nil {
			return "", nil
		}
		return v, err
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (p *RedisPresence) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	res, err := p.execute("hgetall", func() (interface{}, error) {
		return p.client.HGetAll(ctx, key).Result()
	})
	if err != nil {
		return nil, err
	}
	return res.(map[string]string), nil
}

func (p *RedisPresence) HIncrBy(ctx context.Context, key, field string, by int64) (int64, error) {
	res, err := p.execute("hincrby", func() (interface{}, error) {
		return p.client.HIncrBy(ctx, key, field, by).Result()
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

func (p *RedisPresence) HDel(ctx context.Context, key, field string) error {
	_, err := p.execute("hdel", func() (interface{}, error) {
		return nil, p.client.HDel(ctx, key, field).Err()
	})
	return err
}

func (p *RedisPresence) Incr(ctx context.Context, key string) (int64, error) {
	res, err := p.execute("incr", func() (interface{}, error) {
		return p.client.Incr(ctx, key).Result()
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

func (p *RedisPresence) Decr(ctx context.Context, key string) (int64, error) {
	res, err := p.execute("decr", func() (interface{}, error) {
		return p.client.Decr(ctx, key).Result()
	})
	if err != nil {
		return 0, err
	}
	return res.(int64), nil
}

func (p *RedisPresence) Del(ctx context.Context, key string) error {
	_, err := p.execute("del", func() (interface{}, error) {
		return nil, p.client.Del(ctx, key).Err()
	})
	return err
}

func (p *RedisPresence) Publish(ctx context.Context, channel string, message []byte) error {
	_, err := p.execute("publish", func() (interface{}, error) {
		return nil, p.client.Publish(ctx, channel, message).Err()
	})
	if err != nil {
		slog.Error("Redis publish failed", "channel", channel, "error", err)
	}
	return err
}

// Subscribe installs handler on channel. The subscription is confirmed with
// the server before Subscribe returns, so a publish performed by the caller
// immediately afterwards will be observed.
func (p *RedisPresence) Subscribe(ctx context.Context, channel string, handler Handler) error {
	p.mu.Lock()
	if sub, ok := p.subs[channel]; ok {
		sub.mu.Lock()
		sub.handlers = append(sub.handlers, handler)
		sub.mu.Unlock()
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	subCtx, cancel := context.WithCancel(context.Background())
	pubsub := p.client.Subscribe(subCtx, channel)

	// Wait for the server-side subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %q: %w", channel, err)
	}

	sub := &redisSubscription{
		pubsub:   pubsub,
		cancel:   cancel,
		done:     make(chan struct{}),
		handlers: []Handler{handler},
	}

	p.mu.Lock()
	if winner, ok := p.subs[channel]; ok {
		// Lost a concurrent Subscribe on the same channel. Fold the handler
		// into the winner and drop the extra server-side subscription.
		p.mu.Unlock()
		winner.mu.Lock()
		winner.handlers = append(winner.handlers, handler)
		winner.mu.Unlock()
		cancel()
		_ = pubsub.Close()
		return nil
	}
	p.subs[channel] = sub
	p.mu.Unlock()

	go func() {
		defer close(sub.done)
		ch := pubsub.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				sub.mu.Lock()
				handlers := make([]Handler, len(sub.handlers))
				copy(handlers, sub.handlers)
				sub.mu.Unlock()
				for _, h := range handlers {
					h([]byte(msg.Payload))
				}
			}
		}
	}()

	return nil
}

// Unsubscribe drops the channel subscription. It does not wait for the
// reader goroutine, so handlers may unsubscribe their own channel.
func (p *RedisPresence) Unsubscribe(channel string) error {
	p.mu.Lock()
	sub, ok := p.subs[channel]
	if ok {
		delete(p.subs, channel)
	}
	p.mu.Unlock()

	if !ok {
		return nil
	}

	sub.cancel()
	return sub.pubsub.Close()
}

// Ping checks Redis connectivity. Used by health checks.
func (p *RedisPresence) Ping(ctx context.Context) error {
	_, err := p.execute("ping", func() (interface{}, error) {
		return nil, p.client.Ping(ctx).Err()
	})
	return err
}

// Close tears down all subscriptions and the client connection.
func (p *RedisPresence) Close() error {
	p.mu.Lock()
	subs := p.subs
	p.subs = make(map[string]*redisSubscription)
	p.mu.Unlock()

	for _, sub := range subs {
		sub.cancel()
		_ = sub.pubsub.Close()
		<-sub.done
	}
	return p.client.Close()
}
