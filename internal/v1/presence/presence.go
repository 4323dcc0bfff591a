// Package presence is the shared substrate the cluster coordinates through:
// plain key-value structures (sets, hashes, counters) plus pub/sub channels.
// Two implementations exist: LocalPresence for single-node deployments and
// RedisPresence for clusters.
package presence

import "context"

// Handler receives a single raw message published on a subscribed channel.
type Handler func(message []byte)

// Presence abstracts the cluster-state backend. All operations are
// asynchronous from the cluster's point of view and may fail with transport
// errors.
//
// Guarantees the matchmaker relies on:
//   - Subscribe installs the handler before returning.
//   - Publish fan-out is best-effort; messages on channels nobody subscribed
//     to are dropped.
//   - Messages on one channel are delivered to a given subscriber in publish
//     order. No ordering across channels or publishers.
type Presence interface {
	SAdd(ctx context.Context, key, member string) error
	SRem(ctx context.Context, key, member string) error
	SMembers(ctx context.Context, key string) ([]string, error)

	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, by int64) (int64, error)
	HDel(ctx context.Context, key, field string) error

	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	Del(ctx context.Context, key string) error

	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler Handler) error
	Unsubscribe(channel string) error

	Ping(ctx context.Context) error
	Close() error
}
