package matchmaker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parcade/arena/internal/v1/driver"
	"github.com/parcade/arena/internal/v1/presence"
)

func newTestCore(t *testing.T, maxClients int, reservedTTL time.Duration) *RoomCore {
	t.Helper()
	p := presence.NewLocalPresence()
	t.Cleanup(func() { _ = p.Close() })
	d := driver.NewLocalDriver()

	core := &RoomCore{MaxClients: maxClients}
	core.init("room-1", "chat", p, reservedTTL)
	listing := d.CreateInstance(context.Background(), driver.RoomListing{
		RoomID:     "room-1",
		Name:       "chat",
		MaxClients: maxClients,
	})
	core.setListing(listing)
	core.setCreated()
	return core
}

func TestReserveSeat_CapacityAndAutoLock(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t, 2, time.Minute)

	var locks, unlocks atomic.Int32
	core.setCallbacks(roomCallbacks{
		onLock:   func(context.Context) { locks.Add(1) },
		onUnlock: func(context.Context) { unlocks.Add(1) },
	})

	assert.True(t, core.ReserveSeat(ctx, "s1", nil))
	assert.False(t, core.Listing().Locked)

	assert.True(t, core.ReserveSeat(ctx, "s2", nil))
	assert.True(t, core.Listing().Locked)
	assert.Equal(t, int32(1), locks.Load())

	assert.False(t, core.ReserveSeat(ctx, "s3", nil))

	// Releasing a seat reopens an auto-locked room.
	core.ReleaseSeat(ctx, "s2")
	assert.False(t, core.Listing().Locked)
	assert.Equal(t, int32(1), unlocks.Load())
	assert.True(t, core.ReserveSeat(ctx, "s3", nil))
}

func TestReserveSeat_DuplicateSessionRejected(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t, 0, time.Minute)

	assert.True(t, core.ReserveSeat(ctx, "s1", nil))
	assert.False(t, core.ReserveSeat(ctx, "s1", nil))
	assert.Equal(t, 1, core.Listing().Clients)
}

func TestReserveSeat_RejectedWhileExplicitlyLocked(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t, 0, time.Minute)

	require.NoError(t, core.Lock(ctx))
	assert.False(t, core.ReserveSeat(ctx, "s1", nil))

	require.NoError(t, core.Unlock(ctx))
	assert.True(t, core.ReserveSeat(ctx, "s1", nil))
}

func TestReservationExpires(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t, 0, 30*time.Millisecond)

	require.True(t, core.ReserveSeat(ctx, "s1", nil))
	require.True(t, core.HasReservedSeat("s1"))

	assert.Eventually(t, func() bool {
		return !core.HasReservedSeat("s1") && core.Listing().Clients == 0
	}, time.Second, 5*time.Millisecond)
}

func TestClientJoinedConsumesReservation(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t, 0, 30*time.Millisecond)

	var joins atomic.Int32
	core.setCallbacks(roomCallbacks{
		onJoin: func(context.Context, string) { joins.Add(1) },
	})

	require.True(t, core.ReserveSeat(ctx, "s1", nil))
	core.ClientJoined(ctx, "s1")
	assert.False(t, core.HasReservedSeat("s1"))
	assert.Equal(t, 1, core.Listing().Clients)
	assert.Equal(t, int32(1), joins.Load())

	// The expiry timer was cancelled; the consumed seat stays taken.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, core.Listing().Clients)

	// Joining without a reservation is ignored.
	core.ClientJoined(ctx, "s2")
	assert.Equal(t, int32(1), joins.Load())
}

func TestClientLeftReopensAutoLockedRoom(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t, 1, time.Minute)

	var leaves atomic.Int32
	core.setCallbacks(roomCallbacks{
		onLeave: func(context.Context, string) { leaves.Add(1) },
	})

	require.True(t, core.ReserveSeat(ctx, "s1", nil))
	core.ClientJoined(ctx, "s1")
	require.True(t, core.Listing().Locked)

	core.ClientLeft(ctx, "s1")
	assert.Equal(t, 0, core.Listing().Clients)
	assert.False(t, core.Listing().Locked)
	assert.Equal(t, int32(1), leaves.Load())
}

func TestExplicitLockSurvivesSeatRelease(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t, 0, time.Minute)

	require.True(t, core.ReserveSeat(ctx, "s1", nil))
	require.NoError(t, core.Lock(ctx))

	core.ReleaseSeat(ctx, "s1")
	assert.True(t, core.Listing().Locked)
}

func TestDisconnectFiresOnceAndCancelsReservations(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t, 0, time.Minute)

	var disposes, disconnects atomic.Int32
	core.setCallbacks(roomCallbacks{
		onDispose:    func(context.Context) { disposes.Add(1) },
		onDisconnect: func() { disconnects.Add(1) },
	})

	require.True(t, core.ReserveSeat(ctx, "s1", nil))
	require.True(t, core.ReserveSeat(ctx, "s2", nil))

	require.NoError(t, core.Disconnect(ctx))
	require.NoError(t, core.Disconnect(ctx))

	assert.Equal(t, int32(1), disposes.Load())
	assert.Equal(t, int32(1), disconnects.Load())
	assert.False(t, core.HasReservedSeat("s1"))
	assert.False(t, core.ReserveSeat(ctx, "s3", nil))
}

func TestSetMetadataPersists(t *testing.T) {
	ctx := context.Background()
	core := newTestCore(t, 0, time.Minute)

	require.NoError(t, core.SetMetadata(ctx, "map", "dust2"))
	assert.Equal(t, "dust2", core.Listing().Metadata["map"])
}
