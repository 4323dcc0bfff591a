package driver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// roomcachesKey is the hash holding one JSON blob per room, keyed by roomId.
// Layout is shared with other cluster tooling; do not change it.
const roomcachesKey = "roomcaches"

// RedisDriver stores listings as JSON blobs in a Redis hash. Queries pull the
// full hash and filter client-side: room counts are small enough that a
// secondary index isn't worth its consistency burden.
type RedisDriver struct {
	client *redis.Client
}

// NewRedisDriver wraps an existing Redis client, typically the one the
// presence layer already holds.
func NewRedisDriver(client *redis.Client) *RedisDriver {
	return &RedisDriver{client: client}
}

func (d *RedisDriver) CreateInstance(_ context.Context, initial RoomListing) *RoomListing {
	listing := initial
	listing.CreatedAt = time.Now().UTC()
	listing.store = d
	return &listing
}

func (d *RedisDriver) Find(ctx context.Context, conditions map[string]any, sortBy []Sort) ([]*RoomListing, error) {
	all, err := d.client.HGetAll(ctx, roomcachesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("driver: failed to load room listings: %w", err)
	}

	var out []*RoomListing
	for roomID, blob := range all {
		listing := &RoomListing{store: d}
		if err := json.Unmarshal([]byte(blob), listing); err != nil {
			// A corrupt blob must not poison every query; skip it.
			continue
		}
		listing.RoomID = roomID
		if listing.matches(conditions) {
			out = append(out, listing)
		}
	}
	applySort(out, sortBy)
	return out, nil
}

func (d *RedisDriver) FindOne(ctx context.Context, conditions map[string]any) (*RoomListing, error) {
	// Fast path: querying by roomId maps straight onto the hash field.
	if roomID, ok := conditions["roomId"].(string); ok && len(conditions) == 1 {
		blob, err := d.client.HGet(ctx, roomcachesKey, roomID).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("driver: failed to load room %q: %w", roomID, err)
		}
		listing := &RoomListing{store: d}
		if err := json.Unmarshal([]byte(blob), listing); err != nil {
			return nil, fmt.Errorf("driver: corrupt listing for room %q: %w", roomID, err)
		}
		listing.RoomID = roomID
		return listing, nil
	}

	listings, err := d.Find(ctx, conditions, nil)
	if err != nil {
		return nil, err
	}
	if len(listings) == 0 {
		return nil, nil
	}
	return listings[0], nil
}

func (d *RedisDriver) CleanupProcess(ctx context.Context, processID string) error {
	listings, err := d.Find(ctx, map[string]any{"processId": processID}, nil)
	if err != nil {
		return err
	}
	for _, l := range listings {
		if err := l.Remove(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (d *RedisDriver) Close() error {
	// The client is owned by the presence layer.
	return nil
}

func (d *RedisDriver) save(ctx context.Context, listing *RoomListing) error {
	blob, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("driver: failed to encode listing: %w", err)
	}
	return d.client.HSet(ctx, roomcachesKey, listing.RoomID, blob).Err()
}

func (d *RedisDriver) remove(ctx context.Context, listing *RoomListing) error {
	return d.client.HDel(ctx, roomcachesKey, listing.RoomID).Err()
}
