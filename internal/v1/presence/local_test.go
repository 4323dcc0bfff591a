package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPresence_SetOperations(t *testing.T) {
	p := NewLocalPresence()
	defer func() { _ = p.Close() }()

	ctx := context.Background()

	require.NoError(t, p.SAdd(ctx, "nodes", "a"))
	require.NoError(t, p.SAdd(ctx, "nodes", "b"))
	require.NoError(t, p.SAdd(ctx, "nodes", "b")) // duplicate is a no-op

	members, err := p.SMembers(ctx, "nodes")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)

	require.NoError(t, p.SRem(ctx, "nodes", "a"))
	members, err = p.SMembers(ctx, "nodes")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b"}, members)
}

func TestLocalPresence_HashOperations(t *testing.T) {
	p := NewLocalPresence()
	defer func() { _ = p.Close() }()

	ctx := context.Background()

	require.NoError(t, p.HSet(ctx, "roomcount", "proc-1", "3"))

	v, err := p.HGet(ctx, "roomcount", "proc-1")
	require.NoError(t, err)
	assert.Equal(t, "3", v)

	// Missing field reads as empty
	v, err = p.HGet(ctx, "roomcount", "proc-2")
	require.NoError(t, err)
	assert.Empty(t, v)

	n, err := p.HIncrBy(ctx, "roomcount", "proc-1", 2)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	n, err = p.HIncrBy(ctx, "roomcount", "proc-2", -1)
	require.NoError(t, err)
	assert.EqualValues(t, -1, n)

	all, err := p.HGetAll(ctx, "roomcount")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"proc-1": "5", "proc-2": "-1"}, all)

	require.NoError(t, p.HDel(ctx, "roomcount", "proc-1"))
	all, err = p.HGetAll(ctx, "roomcount")
	require.NoError(t, err)
	assert.NotContains(t, all, "proc-1")
}

func TestLocalPresence_Counters(t *testing.T) {
	p := NewLocalPresence()
	defer func() { _ = p.Close() }()

	ctx := context.Background()

	n, err := p.Incr(ctx, "c:chat")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = p.Incr(ctx, "c:chat")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = p.Decr(ctx, "c:chat")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	require.NoError(t, p.Del(ctx, "c:chat"))
	n, err = p.Incr(ctx, "c:chat")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestLocalPresence_PublishSubscribe(t *testing.T) {
	p := NewLocalPresence()
	defer func() { _ = p.Close() }()

	ctx := context.Background()
	received := make(chan []byte, 4)

	require.NoError(t, p.Subscribe(ctx, "ch", func(msg []byte) {
		received <- msg
	}))

	require.NoError(t, p.Publish(ctx, "ch", []byte("hello")))

	select {
	case msg := <-received:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestLocalPresence_PublishWithoutSubscriberIsDropped(t *testing.T) {
	p := NewLocalPresence()
	defer func() { _ = p.Close() }()

	// Must not block or error
	require.NoError(t, p.Publish(context.Background(), "nobody", []byte("x")))
}

func TestLocalPresence_OrderingWithinChannel(t *testing.T) {
	p := NewLocalPresence()
	defer func() { _ = p.Close() }()

	ctx := context.Background()
	const n = 100

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	require.NoError(t, p.Subscribe(ctx, "ordered", func(msg []byte) {
		mu.Lock()
		got = append(got, string(msg))
		if len(got) == n {
			close(done)
		}
		mu.Unlock()
	}))

	for i := 0; i < n; i++ {
		require.NoError(t, p.Publish(ctx, "ordered", []byte{byte(i)}))
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all messages")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < n; i++ {
		assert.Equal(t, byte(i), got[i][0])
	}
}

func TestLocalPresence_Unsubscribe(t *testing.T) {
	p := NewLocalPresence()
	defer func() { _ = p.Close() }()

	ctx := context.Background()
	received := make(chan []byte, 1)

	require.NoError(t, p.Subscribe(ctx, "ch", func(msg []byte) {
		received <- msg
	}))
	require.NoError(t, p.Unsubscribe("ch"))

	require.NoError(t, p.Publish(ctx, "ch", []byte("late")))

	select {
	case <-received:
		t.Fatal("received message after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestLocalPresence_MultipleSubscribers(t *testing.T) {
	p := NewLocalPresence()
	defer func() { _ = p.Close() }()

	ctx := context.Background()
	a := make(chan []byte, 1)
	b := make(chan []byte, 1)

	require.NoError(t, p.Subscribe(ctx, "fan", func(msg []byte) { a <- msg }))
	require.NoError(t, p.Subscribe(ctx, "fan", func(msg []byte) { b <- msg }))

	require.NoError(t, p.Publish(ctx, "fan", []byte("out")))

	for _, ch := range []chan []byte{a, b} {
		select {
		case msg := <-ch:
			assert.Equal(t, "out", string(msg))
		case <-time.After(time.Second):
			t.Fatal("subscriber missed fan-out")
		}
	}
}

func TestLocalPresence_Close(t *testing.T) {
	p := NewLocalPresence()
	ctx := context.Background()

	require.NoError(t, p.Subscribe(ctx, "ch", func([]byte) {}))
	require.NoError(t, p.Close())

	assert.ErrorIs(t, p.SAdd(ctx, "k", "m"), ErrClosed)
	assert.ErrorIs(t, p.Publish(ctx, "ch", []byte("x")), ErrClosed)
	assert.ErrorIs(t, p.Ping(ctx), ErrClosed)

	// Second close is a no-op
	require.NoError(t, p.Close())
}
