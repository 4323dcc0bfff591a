package matchmaker

import (
	"context"
	"sync"
	"time"

	"github.com/parcade/arena/internal/v1/driver"
	"github.com/parcade/arena/internal/v1/metrics"
	"github.com/parcade/arena/internal/v1/presence"
)

type roomState int

const (
	stateCreating roomState = iota
	stateCreated
	stateDisposing
)

// Room is what the matchmaker requires of every room implementation: access
// to the embedded RoomCore. Game rooms embed *RoomCore and add their own
// behavior on top.
type Room interface {
	Core() *RoomCore
}

// OnCreateHandler is implemented by rooms that run setup logic when the
// matchmaker instantiates them.
type OnCreateHandler interface {
	OnCreate(ctx context.Context, options ClientOptions) error
}

// roomCallbacks is the typed transition table the matchmaker installs on
// every room it owns. Zero-value callbacks are skipped.
type roomCallbacks struct {
	onLock       func(ctx context.Context)
	onUnlock     func(ctx context.Context)
	onJoin       func(ctx context.Context, sessionID string)
	onLeave      func(ctx context.Context, sessionID string)
	onDispose    func(ctx context.Context)
	onDisconnect func()
}

// RoomCore carries the matchmaker-facing state of one room: identity,
// listing, seat reservations and the lock/dispose state machine.
//
// Locking discipline: mu is never held while invoking callbacks, and the
// matchmaker never holds its own mutex while calling into a room.
type RoomCore struct {
	RoomID     string
	RoomName   string
	MaxClients int

	mu           sync.Mutex
	presence     presence.Presence
	listing      *driver.RoomListing
	state        roomState
	reservations map[string]*time.Timer
	reservedTTL  time.Duration
	autoLocked   bool
	callbacks    roomCallbacks

	disposeOnce    sync.Once
	disconnectOnce sync.Once
}

// Core satisfies the Room interface for every embedding type.
func (c *RoomCore) Core() *RoomCore { return c }

// Listing returns the cluster-visible record for this room.
func (c *RoomCore) Listing() *driver.RoomListing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listing
}

// Presence returns the presence substrate the room was created on.
func (c *RoomCore) Presence() presence.Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presence
}

func (c *RoomCore) init(roomID, roomName string, p presence.Presence, reservedTTL time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RoomID = roomID
	c.RoomName = roomName
	c.presence = p
	c.state = stateCreating
	c.reservations = make(map[string]*time.Timer)
	c.reservedTTL = reservedTTL
}

func (c *RoomCore) setListing(listing *driver.RoomListing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listing = listing
}

func (c *RoomCore) setCreated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = stateCreated
}

func (c *RoomCore) setCallbacks(cb roomCallbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = cb
}

func (c *RoomCore) currentCallbacks() roomCallbacks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callbacks
}

// clearListeners detaches the room from the matchmaker. Installed as the
// disconnect transition.
func (c *RoomCore) clearListeners() {
	c.setCallbacks(roomCallbacks{})
}

// ReserveSeat books sessionID into the room. It succeeds only while the room
// is accepting: created, unlocked and under capacity. Reservations not
// consumed within the reservation TTL are released again.
func (c *RoomCore) ReserveSeat(ctx context.Context, sessionID string, _ ClientOptions) bool {
	c.mu.Lock()
	if c.state != stateCreated || c.listing == nil || c.listing.Locked {
		c.mu.Unlock()
		return false
	}
	if _, dup := c.reservations[sessionID]; dup {
		c.mu.Unlock()
		return false
	}
	if c.MaxClients > 0 && c.listing.Clients >= c.MaxClients {
		c.mu.Unlock()
		return false
	}

	var timer *time.Timer
	if c.reservedTTL > 0 {
		timer = time.AfterFunc(c.reservedTTL, func() {
			c.ReleaseSeat(context.Background(), sessionID)
		})
	}
	c.reservations[sessionID] = timer
	c.listing.Clients++

	full := c.MaxClients > 0 && c.listing.Clients >= c.MaxClients
	if full {
		c.listing.Locked = true
		c.autoLocked = true
	}
	listing := c.listing
	c.mu.Unlock()

	_ = listing.Save(ctx)
	metrics.SeatReservations.WithLabelValues(c.RoomName).Inc()

	if full {
		if cb := c.currentCallbacks(); cb.onLock != nil {
			cb.onLock(ctx)
		}
	}
	return true
}

// HasReservedSeat reports whether sessionID holds an unconsumed reservation.
func (c *RoomCore) HasReservedSeat(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.reservations[sessionID]
	return ok
}

// ReleaseSeat drops an unconsumed reservation, reopening the seat. Called on
// reservation expiry.
func (c *RoomCore) ReleaseSeat(ctx context.Context, sessionID string) {
	c.mu.Lock()
	timer, ok := c.reservations[sessionID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.reservations, sessionID)
	c.listing.Clients--
	reopened := c.autoLocked && (c.MaxClients == 0 || c.listing.Clients < c.MaxClients)
	if reopened {
		c.listing.Locked = false
		c.autoLocked = false
	}
	listing := c.listing
	c.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	_ = listing.Save(ctx)
	metrics.SeatReservations.WithLabelValues(c.RoomName).Dec()

	if reopened {
		if cb := c.currentCallbacks(); cb.onUnlock != nil {
			cb.onUnlock(ctx)
		}
	}
}

// ClientJoined consumes sessionID's reservation once the client actually
// connects. The seat count was already taken at reservation time.
func (c *RoomCore) ClientJoined(ctx context.Context, sessionID string) {
	c.mu.Lock()
	timer, ok := c.reservations[sessionID]
	if ok {
		delete(c.reservations, sessionID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	if timer != nil {
		timer.Stop()
	}
	metrics.SeatReservations.WithLabelValues(c.RoomName).Dec()

	if cb := c.currentCallbacks(); cb.onJoin != nil {
		cb.onJoin(ctx, sessionID)
	}
}

// ClientLeft returns a consumed seat to the room.
func (c *RoomCore) ClientLeft(ctx context.Context, sessionID string) {
	c.mu.Lock()
	if c.listing.Clients > 0 {
		c.listing.Clients--
	}
	reopened := c.autoLocked && (c.MaxClients == 0 || c.listing.Clients < c.MaxClients)
	if reopened {
		c.listing.Locked = false
		c.autoLocked = false
	}
	listing := c.listing
	c.mu.Unlock()

	_ = listing.Save(ctx)

	cb := c.currentCallbacks()
	if cb.onLeave != nil {
		cb.onLeave(ctx, sessionID)
	}
	if reopened && cb.onUnlock != nil {
		cb.onUnlock(ctx)
	}
}

// Lock closes the room to matchmaking until Unlock is called. Locking an
// already-locked room is a no-op.
func (c *RoomCore) Lock(ctx context.Context) error {
	c.mu.Lock()
	if c.listing == nil || c.listing.Locked {
		c.mu.Unlock()
		return nil
	}
	c.listing.Locked = true
	c.autoLocked = false
	listing := c.listing
	c.mu.Unlock()

	if err := listing.Save(ctx); err != nil {
		return err
	}
	if cb := c.currentCallbacks(); cb.onLock != nil {
		cb.onLock(ctx)
	}
	return nil
}

// Unlock reopens a locked room to matchmaking.
func (c *RoomCore) Unlock(ctx context.Context) error {
	c.mu.Lock()
	if c.listing == nil || !c.listing.Locked {
		c.mu.Unlock()
		return nil
	}
	c.listing.Locked = false
	c.autoLocked = false
	listing := c.listing
	c.mu.Unlock()

	if err := listing.Save(ctx); err != nil {
		return err
	}
	if cb := c.currentCallbacks(); cb.onUnlock != nil {
		cb.onUnlock(ctx)
	}
	return nil
}

// SetPrivate hides or exposes the room in criteria-based lookup. Private
// rooms are still reachable by id.
func (c *RoomCore) SetPrivate(ctx context.Context, private bool) error {
	c.mu.Lock()
	c.listing.Private = private
	listing := c.listing
	c.mu.Unlock()
	return listing.Save(ctx)
}

// SetMetadata updates one projected listing field.
func (c *RoomCore) SetMetadata(ctx context.Context, key string, value any) error {
	c.mu.Lock()
	if c.listing.Metadata == nil {
		c.listing.Metadata = make(map[string]any)
	}
	c.listing.Metadata[key] = value
	listing := c.listing
	c.mu.Unlock()
	return listing.Save(ctx)
}

// Disconnect tears the room down: pending reservations are cancelled and the
// dispose and disconnect transitions fire exactly once each. Safe to call
// repeatedly.
func (c *RoomCore) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == stateDisposing {
		c.mu.Unlock()
		return nil
	}
	c.state = stateDisposing
	timers := c.reservations
	c.reservations = make(map[string]*time.Timer)
	c.mu.Unlock()

	for _, timer := range timers {
		if timer != nil {
			timer.Stop()
		}
	}
	if n := len(timers); n > 0 {
		metrics.SeatReservations.WithLabelValues(c.RoomName).Sub(float64(n))
	}

	cb := c.currentCallbacks()
	c.disposeOnce.Do(func() {
		if cb.onDispose != nil {
			cb.onDispose(ctx)
		}
	})
	c.disconnectOnce.Do(func() {
		if cb.onDisconnect != nil {
			cb.onDisconnect()
		}
	})
	return nil
}
