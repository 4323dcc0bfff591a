package driver

import (
	"context"
	"sync"
	"time"
)

// LocalDriver keeps listings in memory. Single-node mode and tests.
type LocalDriver struct {
	mu       sync.Mutex
	listings []*RoomListing
}

// NewLocalDriver creates an empty in-memory listing store.
func NewLocalDriver() *LocalDriver {
	return &LocalDriver{}
}

func (d *LocalDriver) CreateInstance(_ context.Context, initial RoomListing) *RoomListing {
	listing := initial
	listing.CreatedAt = time.Now().UTC()
	listing.store = d
	return &listing
}

func (d *LocalDriver) Find(_ context.Context, conditions map[string]any, sortBy []Sort) ([]*RoomListing, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []*RoomListing
	for _, l := range d.listings {
		if l.matches(conditions) {
			out = append(out, l)
		}
	}
	applySort(out, sortBy)
	return out, nil
}

func (d *LocalDriver) FindOne(ctx context.Context, conditions map[string]any) (*RoomListing, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, l := range d.listings {
		if l.matches(conditions) {
			return l, nil
		}
	}
	return nil, nil
}

func (d *LocalDriver) CleanupProcess(_ context.Context, processID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.listings[:0]
	for _, l := range d.listings {
		if l.ProcessID != processID {
			kept = append(kept, l)
		}
	}
	d.listings = kept
	return nil
}

func (d *LocalDriver) Close() error {
	return nil
}

func (d *LocalDriver) save(_ context.Context, listing *RoomListing) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, l := range d.listings {
		if l == listing {
			return nil
		}
	}
	d.listings = append(d.listings, listing)
	return nil
}

func (d *LocalDriver) remove(_ context.Context, listing *RoomListing) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, l := range d.listings {
		if l == listing || l.RoomID == listing.RoomID {
			d.listings = append(d.listings[:i], d.listings[i+1:]...)
			return nil
		}
	}
	return nil
}
