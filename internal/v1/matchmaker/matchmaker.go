// Package matchmaker places clients into rooms across a cluster of game
// server processes. Cluster state (node set, room counts, listings) lives in
// presence and the driver; each room is owned by exactly one process and is
// reached from other processes through IPC over pub/sub.
package matchmaker

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parcade/arena/internal/v1/discovery"
	"github.com/parcade/arena/internal/v1/driver"
	"github.com/parcade/arena/internal/v1/ipc"
	"github.com/parcade/arena/internal/v1/logging"
	"github.com/parcade/arena/internal/v1/metrics"
	"github.com/parcade/arena/internal/v1/presence"
)

// Cluster key layout, shared with other backend implementations. Bit-exact;
// do not change.
const (
	roomCountKey = "roomcount"
	lobbyChannel = "$lobby"
)

func processChannel(processID string) string { return "p:" + processID }
func roomChannel(roomID string) string       { return "$" + roomID }
func concurrencyKey(roomName string) string  { return "c:" + roomName }

// Remote room methods form a closed set. New capabilities are new constants
// dispatched below, never free-form strings.
const (
	roomMethodReserveSeat     = "_reserveSeat"
	roomMethodHasReservedSeat = "hasReservedSeat"
	roomMethodRoomID          = "roomId"
	roomMethodDisconnect      = "disconnect"
)

const (
	maxSeatRetries   = 5
	seatRetryBackoff = 10 * time.Millisecond
	gateStepDelay    = 100 * time.Millisecond

	defaultRemoteRoomTimeout  = 2 * time.Second
	defaultSeatReservationTTL = 15 * time.Second
)

// ErrShuttingDown is returned by a second GracefulShutdown call and by
// operations refused during shutdown.
var ErrShuttingDown = errors.New("matchmaker: shutting down")

// SeatReservation is the result of every placement operation: the room the
// client should connect to and the session id booked for it.
type SeatReservation struct {
	Room      *driver.RoomListing `json:"room"`
	SessionID string              `json:"sessionId"`
}

// Config carries per-process matchmaker settings. Zero values get defaults.
type Config struct {
	ProcessID          string
	PublicAddress      string
	Port               int
	RemoteRoomTimeout  time.Duration
	SeatReservationTTL time.Duration
}

// MatchMaker owns this process's room table and handler registry and
// coordinates placement with its peers through presence and the driver.
//
// mu guards handlers, rooms, refs and shuttingDown. It is never held across
// presence, driver or room calls.
type MatchMaker struct {
	ProcessID string

	presence presence.Presence
	driver   driver.Driver
	node     discovery.Node

	remoteRoomTimeout  time.Duration
	seatReservationTTL time.Duration

	mu       sync.Mutex
	handlers map[string]*RegisteredHandler
	rooms    map[string]Room // every room this process owns
	refs     map[string]Room // subset subscribed on $<roomId>; locked rooms are absent
	shutting bool
}

// New creates a matchmaker bound to the given presence and driver. Call
// Listen before serving requests.
func New(p presence.Presence, d driver.Driver, cfg Config) *MatchMaker {
	if cfg.ProcessID == "" {
		cfg.ProcessID = uuid.NewString()
	}
	if cfg.PublicAddress == "" {
		cfg.PublicAddress = "::"
	}
	if cfg.RemoteRoomTimeout <= 0 {
		cfg.RemoteRoomTimeout = defaultRemoteRoomTimeout
	}
	if cfg.SeatReservationTTL <= 0 {
		cfg.SeatReservationTTL = defaultSeatReservationTTL
	}
	return &MatchMaker{
		ProcessID: cfg.ProcessID,
		presence:  p,
		driver:    d,
		node: discovery.Node{
			ProcessID: cfg.ProcessID,
			Address:   cfg.PublicAddress,
			Port:      cfg.Port,
		},
		remoteRoomTimeout:  cfg.RemoteRoomTimeout,
		seatReservationTTL: cfg.SeatReservationTTL,
		handlers:           make(map[string]*RegisteredHandler),
		rooms:              make(map[string]Room),
		refs:               make(map[string]Room),
	}
}

// Listen wires the process into the cluster: leftover listings from a
// previous crash of this process id are reaped, the process inbox starts
// accepting remote create requests, and the node is advertised to proxies.
func (m *MatchMaker) Listen(ctx context.Context) error {
	if err := m.driver.CleanupProcess(ctx, m.ProcessID); err != nil {
		logging.Warn(ctx, "Failed to clean up leftover room listings",
			zap.String("processId", m.ProcessID), zap.Error(err))
	}
	if err := ipc.Subscribe(ctx, m.presence, processChannel(m.ProcessID), m.processDispatch); err != nil {
		return err
	}
	return discovery.Register(ctx, m.presence, m.node)
}

// DefineRoomType registers a room type under name and reaps stale listings
// left by dead owners. The returned handler configures filtering, sorting and
// event listeners.
func (m *MatchMaker) DefineRoomType(name string, construct RoomConstructor, defaultOptions ClientOptions) *RegisteredHandler {
	handler := &RegisteredHandler{
		name:      name,
		construct: construct,
		options:   defaultOptions,
	}
	m.mu.Lock()
	m.handlers[name] = handler
	m.mu.Unlock()

	m.cleanupStaleRooms(context.Background(), name)
	return handler
}

// RemoveRoomType unregisters a room type. Existing rooms keep running.
func (m *MatchMaker) RemoveRoomType(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, name)
}

// HasHandler reports whether name is a registered room type.
func (m *MatchMaker) HasHandler(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[name]
	return ok
}

func (m *MatchMaker) handlerFor(roomName string) (*RegisteredHandler, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handler, ok := m.handlers[roomName]
	if !ok {
		return nil, NewError(CodeNoHandler, "no available handler for %q", roomName)
	}
	return handler, nil
}

// JoinOrCreate places the client into an available room of the given type,
// creating one when none matches. Losing the last seat to a concurrent
// joiner is retried up to 5 times with a small backoff.
func (m *MatchMaker) JoinOrCreate(ctx context.Context, roomName string, options ClientOptions) (*SeatReservation, error) {
	return m.withSeatRetry(ctx, func() (*SeatReservation, error) {
		listing, err := m.findOneRoomAvailable(ctx, roomName, options)
		if err != nil {
			return nil, err
		}
		if listing == nil {
			listing, err = m.createRoom(ctx, roomName, options)
			if err != nil {
				return nil, err
			}
		}
		return m.reserveSeatFor(ctx, listing, options)
	})
}

// Join places the client into an existing room of the given type. Fails when
// no room matches the criteria.
func (m *MatchMaker) Join(ctx context.Context, roomName string, options ClientOptions) (*SeatReservation, error) {
	return m.withSeatRetry(ctx, func() (*SeatReservation, error) {
		listing, err := m.findOneRoomAvailable(ctx, roomName, options)
		if err != nil {
			return nil, err
		}
		if listing == nil {
			return nil, NewError(CodeInvalidCriteria, "no rooms found with provided criteria")
		}
		return m.reserveSeatFor(ctx, listing, options)
	})
}

// Create always creates a fresh room and reserves a seat in it.
func (m *MatchMaker) Create(ctx context.Context, roomName string, options ClientOptions) (*SeatReservation, error) {
	listing, err := m.createRoom(ctx, roomName, options)
	if err != nil {
		return nil, err
	}
	return m.reserveSeatFor(ctx, listing, options)
}

// JoinByID places the client into a specific room. When options carry a
// sessionId this is a reconnection: the existing reservation is checked
// instead of making a new one.
func (m *MatchMaker) JoinByID(ctx context.Context, roomID string, options ClientOptions) (*SeatReservation, error) {
	listing, err := m.driver.FindOne(ctx, map[string]any{"roomId": roomID})
	if err != nil {
		return nil, err
	}
	if listing == nil {
		return nil, NewError(CodeInvalidRoomID, "room %q not found", roomID)
	}

	if sessionID := options.String("sessionId"); sessionID != "" {
		raw, err := m.remoteRoomCall(ctx, roomID, roomMethodHasReservedSeat, []any{sessionID})
		if err != nil {
			return nil, err
		}
		var reserved bool
		if err := json.Unmarshal(raw, &reserved); err != nil {
			return nil, err
		}
		if !reserved {
			return nil, NewError(CodeExpired, "session expired: %s", sessionID)
		}
		return &SeatReservation{Room: listing, SessionID: sessionID}, nil
	}

	if listing.Locked {
		return nil, NewError(CodeInvalidRoomID, "room %q is locked", roomID)
	}
	return m.reserveSeatFor(ctx, listing, options)
}

// Query returns listings matching conditions, unfiltered by lock or privacy.
func (m *MatchMaker) Query(ctx context.Context, conditions map[string]any) ([]*driver.RoomListing, error) {
	return m.driver.Find(ctx, conditions, nil)
}

func (m *MatchMaker) withSeatRetry(ctx context.Context, attempt func() (*SeatReservation, error)) (*SeatReservation, error) {
	var lastErr error
	for i := 0; i < maxSeatRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(i) * seatRetryBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		reservation, err := attempt()
		var seatErr *SeatReservationError
		if err != nil && errors.As(err, &seatErr) {
			lastErr = err
			continue
		}
		return reservation, err
	}
	return nil, lastErr
}

// findOneRoomAvailable queries for an open room of the given type through the
// concurrency gate: near-simultaneous joiners on this process are staggered
// so they observe each other's creations instead of all spawning rooms.
func (m *MatchMaker) findOneRoomAvailable(ctx context.Context, roomName string, options ClientOptions) (*driver.RoomListing, error) {
	handler, err := m.handlerFor(roomName)
	if err != nil {
		return nil, err
	}

	key := concurrencyKey(roomName)
	n, err := m.presence.Incr(ctx, key)
	if err != nil {
		return nil, err
	}
	defer func() {
		if _, err := m.presence.Decr(context.Background(), key); err != nil {
			logging.Warn(ctx, "Failed to release concurrency gate",
				zap.String("roomName", roomName), zap.Error(err))
		}
	}()

	if n > 1 {
		delay := time.Duration(n-1) * gateStepDelay
		if delay > m.remoteRoomTimeout {
			delay = m.remoteRoomTimeout
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	conditions := map[string]any{
		"locked":  false,
		"name":    roomName,
		"private": false,
	}
	for k, v := range handler.FilterOptions(options) {
		conditions[k] = v
	}
	listings, err := m.driver.Find(ctx, conditions, handler.sortBy)
	if err != nil {
		return nil, err
	}
	if len(listings) == 0 {
		return nil, nil
	}
	return listings[0], nil
}

// createRoom picks the least-loaded process from the room-count hash and asks
// it to create the room; ties break by process id order and an empty hash
// means us (bootstrap, before the first registration lands). A failed or slow
// peer never fails the client: we fall back to creating locally.
func (m *MatchMaker) createRoom(ctx context.Context, roomName string, options ClientOptions) (*driver.RoomListing, error) {
	target := m.ProcessID
	counts, err := m.presence.HGetAll(ctx, roomCountKey)
	if err == nil && len(counts) > 0 {
		ids := make([]string, 0, len(counts))
		for id := range counts {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		target = ids[0]
		best, _ := strconv.ParseInt(counts[target], 10, 64)
		for _, id := range ids[1:] {
			n, _ := strconv.ParseInt(counts[id], 10, 64)
			if n < best {
				target, best = id, n
			}
		}
	}

	if target == m.ProcessID {
		return m.handleCreateRoom(ctx, roomName, options)
	}

	raw, err := ipc.Request(ctx, m.presence, m.ProcessID, processChannel(target),
		ipc.DefaultMethod, []any{roomName, options}, m.remoteRoomTimeout)
	if err != nil {
		if errors.Is(err, ipc.ErrTimeout) {
			metrics.IPCTimeouts.WithLabelValues("createRoom").Inc()
		}
		logging.Warn(ctx, "Remote room creation failed, creating locally",
			zap.String("target", target), zap.String("roomName", roomName), zap.Error(err))
		return m.handleCreateRoom(ctx, roomName, options)
	}

	listing := &driver.RoomListing{}
	if err := json.Unmarshal(raw, listing); err != nil {
		return nil, err
	}
	return listing, nil
}

// handleCreateRoom instantiates a room owned by this process and publishes
// its listing. Invoked locally and by peers through the process inbox.
func (m *MatchMaker) handleCreateRoom(ctx context.Context, roomName string, options ClientOptions) (*driver.RoomListing, error) {
	if m.isShuttingDown() {
		return nil, ErrShuttingDown
	}
	handler, err := m.handlerFor(roomName)
	if err != nil {
		return nil, err
	}

	room := handler.construct()
	core := room.Core()
	core.init(uuid.NewString(), roomName, m.presence, m.seatReservationTTL)

	listing := m.driver.CreateInstance(ctx, driver.RoomListing{
		Name:      roomName,
		ProcessID: m.ProcessID,
		CreatedAt: time.Now().UTC(),
		Metadata:  handler.FilterOptions(options),
	})
	core.setListing(listing)

	if hook, ok := room.(OnCreateHandler); ok {
		if err := hook.OnCreate(ctx, options.Merge(handler.options)); err != nil {
			_ = listing.Remove(ctx)
			return nil, NewError(CodeUnhandled, "%s", err.Error())
		}
	}
	if _, err := m.presence.HIncrBy(ctx, roomCountKey, m.ProcessID, 1); err != nil {
		logging.Warn(ctx, "Failed to increment room count",
			zap.String("processId", m.ProcessID), zap.Error(err))
	}

	core.setCreated()
	listing.RoomID = core.RoomID
	listing.MaxClients = core.MaxClients

	core.setCallbacks(roomCallbacks{
		onLock:   func(ctx context.Context) { m.lockRoom(ctx, room, handler) },
		onUnlock: func(ctx context.Context) { m.unlockRoom(ctx, room, handler) },
		onJoin: func(_ context.Context, sessionID string) {
			handler.events.emitJoin(core.RoomID, sessionID)
		},
		onLeave: func(_ context.Context, sessionID string) {
			handler.events.emitLeave(core.RoomID, sessionID)
		},
		onDispose:    func(ctx context.Context) { m.disposeRoom(ctx, room, handler) },
		onDisconnect: core.clearListeners,
	})

	if err := m.createRoomReferences(ctx, room); err != nil {
		_ = listing.Remove(ctx)
		return nil, err
	}

	if err := listing.Save(ctx); err != nil {
		// Nothing points at an unlisted room: undo the references and the
		// count so the room does not linger half-created.
		m.clearRoomReferences(core.RoomID)
		m.mu.Lock()
		delete(m.rooms, core.RoomID)
		m.mu.Unlock()
		if _, derr := m.presence.HIncrBy(ctx, roomCountKey, m.ProcessID, -1); derr != nil {
			logging.Warn(ctx, "Failed to decrement room count",
				zap.String("processId", m.ProcessID), zap.Error(derr))
		}
		_ = listing.Remove(ctx)
		return nil, err
	}
	m.notifyLobby(ctx, listing, false)
	metrics.RoomsHosted.Inc()
	handler.events.emitCreate(listing)

	logging.Info(ctx, "Room created",
		zap.String("roomId", core.RoomID), zap.String("roomName", roomName))
	return listing, nil
}

// createRoomReferences places the room in the local tables and subscribes its
// inbox so peers can call into it.
func (m *MatchMaker) createRoomReferences(ctx context.Context, room Room) error {
	core := room.Core()
	if err := ipc.Subscribe(ctx, m.presence, roomChannel(core.RoomID), func(method string, args []json.RawMessage) (any, error) {
		return m.dispatchRoomMethod(context.Background(), room, method, args)
	}); err != nil {
		return err
	}
	m.mu.Lock()
	m.rooms[core.RoomID] = room
	m.refs[core.RoomID] = room
	m.mu.Unlock()
	return nil
}

// clearRoomReferences is the inverse: the room's inbox goes away so nobody
// can reserve a seat in it anymore.
func (m *MatchMaker) clearRoomReferences(roomID string) {
	m.mu.Lock()
	delete(m.refs, roomID)
	m.mu.Unlock()
	_ = m.presence.Unsubscribe(roomChannel(roomID))
}

// dispatchRoomMethod resolves one remote room call against the closed method
// set. Unknown methods are rejected, never looked up dynamically.
func (m *MatchMaker) dispatchRoomMethod(ctx context.Context, room Room, method string, args []json.RawMessage) (any, error) {
	core := room.Core()
	switch method {
	case roomMethodReserveSeat:
		var sessionID string
		var options ClientOptions
		if len(args) > 0 {
			if err := json.Unmarshal(args[0], &sessionID); err != nil {
				return nil, err
			}
		}
		if len(args) > 1 {
			if err := json.Unmarshal(args[1], &options); err != nil {
				return nil, err
			}
		}
		return core.ReserveSeat(ctx, sessionID, options), nil

	case roomMethodHasReservedSeat:
		var sessionID string
		if len(args) > 0 {
			if err := json.Unmarshal(args[0], &sessionID); err != nil {
				return nil, err
			}
		}
		return core.HasReservedSeat(sessionID), nil

	case roomMethodRoomID:
		return core.RoomID, nil

	case roomMethodDisconnect:
		return true, core.Disconnect(ctx)

	default:
		return nil, NewError(CodeUnhandled, "unknown remote room method %q", method)
	}
}

// remoteRoomCall invokes method on the owning process of roomID: directly for
// rooms we own, over IPC otherwise. IPC timeouts surface as user-facing
// errors since a dead owner and a slow owner look the same.
func (m *MatchMaker) remoteRoomCall(ctx context.Context, roomID, method string, args []any) (json.RawMessage, error) {
	m.mu.Lock()
	room, local := m.rooms[roomID]
	m.mu.Unlock()

	if local {
		rawArgs := make([]json.RawMessage, 0, len(args))
		for _, a := range args {
			data, err := json.Marshal(a)
			if err != nil {
				return nil, err
			}
			rawArgs = append(rawArgs, data)
		}
		value, err := m.dispatchRoomMethod(ctx, room, method, rawArgs)
		if err != nil {
			return nil, err
		}
		return json.Marshal(value)
	}

	raw, err := ipc.Request(ctx, m.presence, m.ProcessID, roomChannel(roomID), method, args, m.remoteRoomTimeout)
	if err != nil {
		if errors.Is(err, ipc.ErrTimeout) {
			metrics.IPCTimeouts.WithLabelValues(method).Inc()
			argsJSON, _ := json.Marshal(args)
			return nil, NewError(CodeUnhandled,
				"remote room (%s) timed out, requesting %q with args %s (%dms exceeded)",
				roomID, method, argsJSON, m.remoteRoomTimeout.Milliseconds())
		}
		return nil, err
	}
	return raw, nil
}

// reserveSeatFor books a fresh session id into the listed room. Every failure
// mode collapses to SeatReservationError so joinOrCreate can retry.
func (m *MatchMaker) reserveSeatFor(ctx context.Context, listing *driver.RoomListing, options ClientOptions) (*SeatReservation, error) {
	sessionID := uuid.NewString()

	raw, err := m.remoteRoomCall(ctx, listing.RoomID, roomMethodReserveSeat, []any{sessionID, options})
	ok := false
	if err == nil {
		_ = json.Unmarshal(raw, &ok)
	} else {
		logging.Debug(ctx, "Seat reservation call failed",
			zap.String("roomId", listing.RoomID), zap.Error(err))
	}
	if !ok {
		return nil, &SeatReservationError{RoomID: listing.RoomID}
	}
	return &SeatReservation{Room: listing, SessionID: sessionID}, nil
}

func (m *MatchMaker) lockRoom(ctx context.Context, room Room, handler *RegisteredHandler) {
	core := room.Core()
	m.clearRoomReferences(core.RoomID)
	handler.events.emitLock(core.RoomID)
	logging.Debug(ctx, "Room locked", zap.String("roomId", core.RoomID))
}

func (m *MatchMaker) unlockRoom(ctx context.Context, room Room, handler *RegisteredHandler) {
	core := room.Core()

	m.mu.Lock()
	_, subscribed := m.refs[core.RoomID]
	m.mu.Unlock()
	if !subscribed {
		if err := m.createRoomReferences(ctx, room); err != nil {
			logging.Error(ctx, "Failed to reinstate room references",
				zap.String("roomId", core.RoomID), zap.Error(err))
			return
		}
	}
	handler.events.emitUnlock(core.RoomID)
	logging.Debug(ctx, "Room unlocked", zap.String("roomId", core.RoomID))
}

// disposeRoom finalizes a room after its disconnect: the listing disappears
// from the cluster and the room leaves the local tables. During graceful
// shutdown the room-count entry was already deleted wholesale, so the
// decrement is skipped.
func (m *MatchMaker) disposeRoom(ctx context.Context, room Room, handler *RegisteredHandler) {
	core := room.Core()

	if !m.isShuttingDown() {
		if _, err := m.presence.HIncrBy(ctx, roomCountKey, m.ProcessID, -1); err != nil {
			logging.Warn(ctx, "Failed to decrement room count",
				zap.String("processId", m.ProcessID), zap.Error(err))
		}
	}

	listing := core.Listing()
	if err := listing.Remove(ctx); err != nil {
		logging.Warn(ctx, "Failed to remove room listing",
			zap.String("roomId", core.RoomID), zap.Error(err))
	}
	m.notifyLobby(ctx, listing, true)

	handler.events.emitDispose(core.RoomID)

	if err := m.presence.Del(ctx, concurrencyKey(core.RoomName)); err != nil {
		logging.Warn(ctx, "Failed to delete concurrency key",
			zap.String("roomName", core.RoomName), zap.Error(err))
	}

	m.clearRoomReferences(core.RoomID)
	m.mu.Lock()
	delete(m.rooms, core.RoomID)
	m.mu.Unlock()

	metrics.RoomsHosted.Dec()
	logging.Info(ctx, "Room disposed",
		zap.String("roomId", core.RoomID), zap.String("roomName", core.RoomName))
}

// notifyLobby announces a listing add (0) or removal (1) unless the room opted
// out of listing. Lobby subscribers fetch the full listing through Query.
func (m *MatchMaker) notifyLobby(ctx context.Context, listing *driver.RoomListing, removed bool) {
	if listing.Unlisted {
		return
	}
	flag := "0"
	if removed {
		flag = "1"
	}
	if err := m.presence.Publish(ctx, lobbyChannel, []byte(listing.RoomID+","+flag)); err != nil {
		logging.Warn(ctx, "Failed to notify lobby",
			zap.String("roomId", listing.RoomID), zap.Error(err))
	}
}

// cleanupStaleRooms reaps listings whose owner no longer answers a cheap
// probe. Runs on every room type definition, clearing leftovers from
// ungraceful shutdowns elsewhere in the cluster.
func (m *MatchMaker) cleanupStaleRooms(ctx context.Context, roomName string) {
	listings, err := m.driver.Find(ctx, map[string]any{"name": roomName}, nil)
	if err != nil {
		logging.Warn(ctx, "Stale room scan failed",
			zap.String("roomName", roomName), zap.Error(err))
		return
	}
	if err := m.presence.Del(ctx, concurrencyKey(roomName)); err != nil {
		logging.Warn(ctx, "Failed to reset concurrency key",
			zap.String("roomName", roomName), zap.Error(err))
	}

	for _, listing := range listings {
		if _, err := m.remoteRoomCall(ctx, listing.RoomID, roomMethodRoomID, nil); err != nil {
			logging.Warn(ctx, "Reaping stale room",
				zap.String("roomId", listing.RoomID),
				zap.String("processId", listing.ProcessID))
			if err := listing.Remove(ctx); err != nil {
				logging.Warn(ctx, "Failed to remove stale listing",
					zap.String("roomId", listing.RoomID), zap.Error(err))
			}
			m.notifyLobby(ctx, listing, true)
			m.clearRoomReferences(listing.RoomID)
		}
	}
}

// processDispatch answers this process's inbox. The only request peers send
// here is the default method: create a room on our behalf.
func (m *MatchMaker) processDispatch(method string, args []json.RawMessage) (any, error) {
	if method != ipc.DefaultMethod {
		return nil, NewError(CodeUnhandled, "unknown process method %q", method)
	}
	var roomName string
	var options ClientOptions
	if len(args) > 0 {
		if err := json.Unmarshal(args[0], &roomName); err != nil {
			return nil, err
		}
	}
	if len(args) > 1 {
		if err := json.Unmarshal(args[1], &options); err != nil {
			return nil, err
		}
	}
	return m.handleCreateRoom(context.Background(), roomName, options)
}

func (m *MatchMaker) isShuttingDown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shutting
}

// RoomByID returns a room owned by this process, or nil.
func (m *MatchMaker) RoomByID(roomID string) Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms[roomID]
}

// LocalRoomCount reports how many rooms this process currently owns.
func (m *MatchMaker) LocalRoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// GracefulShutdown withdraws the process from the cluster and disconnects
// every owned room, waiting for all of them to settle. A second call fails.
func (m *MatchMaker) GracefulShutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.shutting {
		m.mu.Unlock()
		return ErrShuttingDown
	}
	m.shutting = true
	rooms := make([]Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.Unlock()

	if err := m.presence.HDel(ctx, roomCountKey, m.ProcessID); err != nil {
		logging.Warn(ctx, "Failed to drop room count entry",
			zap.String("processId", m.ProcessID), zap.Error(err))
	}
	if err := m.presence.Unsubscribe(processChannel(m.ProcessID)); err != nil {
		logging.Warn(ctx, "Failed to unsubscribe process inbox",
			zap.String("processId", m.ProcessID), zap.Error(err))
	}

	var wg sync.WaitGroup
	for _, room := range rooms {
		wg.Add(1)
		go func(r Room) {
			defer wg.Done()
			if err := r.Core().Disconnect(ctx); err != nil {
				logging.Warn(ctx, "Room disconnect failed during shutdown",
					zap.String("roomId", r.Core().RoomID), zap.Error(err))
			}
		}(room)
	}
	wg.Wait()

	return discovery.Unregister(ctx, m.presence, m.node)
}
