// Package driver stores the cluster-visible room listings. The driver is
// deliberately separate from presence: deployments may back both with the
// same Redis server, but the matchmaker only ever talks to the interfaces.
package driver

import (
	"context"
	"sort"
	"time"
)

// Sort orders query results by one listing field.
type Sort struct {
	Field string
	Desc  bool
}

// RoomListing is the mutable cluster-visible record describing one room.
// Fields not covered by the fixed schema (the handler's filter projections)
// live in Metadata.
type RoomListing struct {
	RoomID     string         `json:"roomId"`
	Name       string         `json:"name"`
	ProcessID  string         `json:"processId"`
	Locked     bool           `json:"locked"`
	Private    bool           `json:"private"`
	Unlisted   bool           `json:"unlisted"`
	Clients    int            `json:"clients"`
	MaxClients int            `json:"maxClients"`
	CreatedAt  time.Time      `json:"createdAt"`
	Metadata   map[string]any `json:"metadata,omitempty"`

	store store
}

type store interface {
	save(ctx context.Context, listing *RoomListing) error
	remove(ctx context.Context, listing *RoomListing) error
}

// Save persists the listing's current fields.
func (l *RoomListing) Save(ctx context.Context) error {
	return l.store.save(ctx, l)
}

// Remove deletes the listing from the store. Removing an already-removed
// listing is a no-op.
func (l *RoomListing) Remove(ctx context.Context) error {
	return l.store.remove(ctx, l)
}

// Driver is the queryable listing store. FindOne is best-effort: under
// concurrent creation two processes may both observe "no room" and create
// duplicates, which the matchmaker tolerates and later reaps.
type Driver interface {
	CreateInstance(ctx context.Context, initial RoomListing) *RoomListing
	Find(ctx context.Context, conditions map[string]any, sortBy []Sort) ([]*RoomListing, error)
	FindOne(ctx context.Context, conditions map[string]any) (*RoomListing, error)

	// CleanupProcess drops every listing owned by processID. Run at boot to
	// clear leftovers from a previous ungraceful shutdown of this node.
	CleanupProcess(ctx context.Context, processID string) error

	Close() error
}

// fieldValue resolves a condition or sort key against the fixed schema first
// and the metadata projection second.
func (l *RoomListing) fieldValue(key string) any {
	switch key {
	case "roomId":
		return l.RoomID
	case "name":
		return l.Name
	case "processId":
		return l.ProcessID
	case "locked":
		return l.Locked
	case "private":
		return l.Private
	case "unlisted":
		return l.Unlisted
	case "clients":
		return l.Clients
	case "maxClients":
		return l.MaxClients
	default:
		return l.Metadata[key]
	}
}

func (l *RoomListing) matches(conditions map[string]any) bool {
	for key, want := range conditions {
		if !looseEqual(l.fieldValue(key), want) {
			return false
		}
	}
	return true
}

// looseEqual compares condition values against listing fields. Numeric types
// are compared by value regardless of width: JSON decoding produces float64
// where callers hand us ints.
func looseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// less orders two field values for sorting; mixed types fall back to stable
// input order.
func less(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af < bf
		}
		return false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return as < bs
	}
	ab, aok := a.(bool)
	bb, bok := b.(bool)
	if aok && bok {
		return !ab && bb
	}
	return false
}

func applySort(listings []*RoomListing, sortBy []Sort) {
	if len(sortBy) == 0 {
		return
	}
	sort.SliceStable(listings, func(i, j int) bool {
		for _, s := range sortBy {
			a := listings[i].fieldValue(s.Field)
			b := listings[j].fieldValue(s.Field)
			if looseEqual(a, b) {
				continue
			}
			if s.Desc {
				return less(b, a)
			}
			return less(a, b)
		}
		return false
	})
}
