package matchmaker

import (
	"sync"

	"github.com/parcade/arena/internal/v1/driver"
)

// RoomConstructor allocates a fresh, uninitialized room. The matchmaker
// assigns identity, presence and listing before the room is used.
type RoomConstructor func() Room

// HandlerEvents is the explicit listener table for one room type. Listeners
// are registered per event kind; there is no string-keyed emitter.
type HandlerEvents struct {
	mu        sync.Mutex
	onCreate  []func(listing *driver.RoomListing)
	onJoin    []func(roomID, sessionID string)
	onLeave   []func(roomID, sessionID string)
	onLock    []func(roomID string)
	onUnlock  []func(roomID string)
	onDispose []func(roomID string)
}

// OnCreate registers a listener for room creation.
func (e *HandlerEvents) OnCreate(fn func(listing *driver.RoomListing)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCreate = append(e.onCreate, fn)
}

// OnJoin registers a listener for seats being taken.
func (e *HandlerEvents) OnJoin(fn func(roomID, sessionID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onJoin = append(e.onJoin, fn)
}

// OnLeave registers a listener for clients leaving.
func (e *HandlerEvents) OnLeave(fn func(roomID, sessionID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLeave = append(e.onLeave, fn)
}

// OnLock registers a listener for rooms locking.
func (e *HandlerEvents) OnLock(fn func(roomID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLock = append(e.onLock, fn)
}

// OnUnlock registers a listener for rooms unlocking.
func (e *HandlerEvents) OnUnlock(fn func(roomID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onUnlock = append(e.onUnlock, fn)
}

// OnDispose registers a listener for room disposal.
func (e *HandlerEvents) OnDispose(fn func(roomID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDispose = append(e.onDispose, fn)
}

func (e *HandlerEvents) emitCreate(listing *driver.RoomListing) {
	e.mu.Lock()
	fns := append([]func(*driver.RoomListing){}, e.onCreate...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(listing)
	}
}

func (e *HandlerEvents) emitJoin(roomID, sessionID string) {
	e.mu.Lock()
	fns := append([]func(string, string){}, e.onJoin...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(roomID, sessionID)
	}
}

func (e *HandlerEvents) emitLeave(roomID, sessionID string) {
	e.mu.Lock()
	fns := append([]func(string, string){}, e.onLeave...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(roomID, sessionID)
	}
}

func (e *HandlerEvents) emitLock(roomID string) {
	e.mu.Lock()
	fns := append([]func(string){}, e.onLock...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(roomID)
	}
}

func (e *HandlerEvents) emitUnlock(roomID string) {
	e.mu.Lock()
	fns := append([]func(string){}, e.onUnlock...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(roomID)
	}
}

func (e *HandlerEvents) emitDispose(roomID string) {
	e.mu.Lock()
	fns := append([]func(string){}, e.onDispose...)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(roomID)
	}
}

// RegisteredHandler binds a room type name to its constructor, default
// options, filter projection and sort order.
type RegisteredHandler struct {
	name      string
	construct RoomConstructor
	options   ClientOptions
	filterBy  []string
	sortBy    []driver.Sort
	events    HandlerEvents
}

// Filter declares which client option keys are projected into the listing
// and matched on lookup. Returns the handler for chaining.
func (h *RegisteredHandler) Filter(keys ...string) *RegisteredHandler {
	h.filterBy = keys
	return h
}

// SortBy declares the result order for room lookup. Returns the handler for
// chaining.
func (h *RegisteredHandler) SortBy(sortBy ...driver.Sort) *RegisteredHandler {
	h.sortBy = sortBy
	return h
}

// Events exposes the handler's listener table.
func (h *RegisteredHandler) Events() *HandlerEvents {
	return &h.events
}

// FilterOptions projects the declared filter keys out of the client options.
// Keys the client did not send are skipped.
func (h *RegisteredHandler) FilterOptions(opts ClientOptions) map[string]any {
	out := make(map[string]any, len(h.filterBy))
	for _, key := range h.filterBy {
		if v, ok := opts[key]; ok {
			out[key] = v
		}
	}
	return out
}
