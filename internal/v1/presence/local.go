package presence

import (
	"context"
	"errors"
	"strconv"
	"sync"
)

// ErrClosed is returned by operations on a presence instance after Close.
var ErrClosed = errors.New("presence: closed")

// localChannel owns one dispatch goroutine so that subscribers observe
// messages in publish order. stop never waits for the dispatcher, so a
// handler may unsubscribe its own channel without deadlocking.
type localChannel struct {
	mu       sync.Mutex
	handlers []Handler
	queue    chan []byte
	quit     chan struct{}
	stopOnce sync.Once
}

func newLocalChannel() *localChannel {
	ch := &localChannel{
		queue: make(chan []byte, 256),
		quit:  make(chan struct{}),
	}
	go ch.dispatch()
	return ch
}

func (ch *localChannel) dispatch() {
	for {
		select {
		case <-ch.quit:
			return
		case msg := <-ch.queue:
			ch.mu.Lock()
			handlers := make([]Handler, len(ch.handlers))
			copy(handlers, ch.handlers)
			ch.mu.Unlock()

			for _, h := range handlers {
				h(msg)
			}
		}
	}
}

func (ch *localChannel) publish(message []byte) {
	select {
	case ch.queue <- message:
	case <-ch.quit:
	}
}

func (ch *localChannel) stop() {
	ch.stopOnce.Do(func() { close(ch.quit) })
}

// LocalPresence is a process-private, deterministic Presence used in
// single-node mode and in tests. Several components may share one instance to
// emulate a cluster inside a single process.
type LocalPresence struct {
	mu       sync.Mutex
	sets     map[string]map[string]struct{}
	hashes   map[string]map[string]string
	counters map[string]int64
	channels map[string]*localChannel
	closed   bool
}

// NewLocalPresence creates an empty in-memory presence.
func NewLocalPresence() *LocalPresence {
	return &LocalPresence{
		sets:     make(map[string]map[string]struct{}),
		hashes:   make(map[string]map[string]string),
		counters: make(map[string]int64),
		channels: make(map[string]*localChannel),
	}
}

func (p *LocalPresence) SAdd(_ context.Context, key, member string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	set, ok := p.sets[key]
	if !ok {
		set = make(map[string]struct{})
		p.sets[key] = set
	}
	set[member] = struct{}{}
	return nil
}

func (p *LocalPresence) SRem(_ context.Context, key, member string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if set, ok := p.sets[key]; ok {
		delete(set, member)
		if len(set) == 0 {
			delete(p.sets, key)
		}
	}
	return nil
}

func (p *LocalPresence) SMembers(_ context.Context, key string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	set := p.sets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}

func (p *LocalPresence) HSet(_ context.Context, key, field, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	hash, ok := p.hashes[key]
	if !ok {
		hash = make(map[string]string)
		p.hashes[key] = hash
	}
	hash[field] = value
	return nil
}

// HGet returns an empty string when either the key or the field is absent.
func (p *LocalPresence) HGet(_ context.Context, key, field string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return "", ErrClosed
	}
	return p.hashes[key][field], nil
}

func (p *LocalPresence) HGetAll(_ context.Context, key string) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	out := make(map[string]string, len(p.hashes[key]))
	for f, v := range p.hashes[key] {
		out[f] = v
	}
	return out, nil
}

func (p *LocalPresence) HIncrBy(_ context.Context, key, field string, by int64) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	hash, ok := p.hashes[key]
	if !ok {
		hash = make(map[string]string)
		p.hashes[key] = hash
	}
	cur := parseInt64(hash[field])
	cur += by
	hash[field] = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (p *LocalPresence) HDel(_ context.Context, key, field string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if hash, ok := p.hashes[key]; ok {
		delete(hash, field)
		if len(hash) == 0 {
			delete(p.hashes, key)
		}
	}
	return nil
}

func (p *LocalPresence) Incr(_ context.Context, key string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	p.counters[key]++
	return p.counters[key], nil
}

func (p *LocalPresence) Decr(_ context.Context, key string) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	p.counters[key]--
	return p.counters[key], nil
}

func (p *LocalPresence) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	delete(p.counters, key)
	delete(p.sets, key)
	delete(p.hashes, key)
	return nil
}

func (p *LocalPresence) Publish(_ context.Context, channel string, message []byte) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	ch := p.channels[channel]
	p.mu.Unlock()

	if ch == nil {
		// Nobody listening; drop.
		return nil
	}
	ch.publish(message)
	return nil
}

func (p *LocalPresence) Subscribe(_ context.Context, channel string, handler Handler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	ch, ok := p.channels[channel]
	if !ok {
		ch = newLocalChannel()
		p.channels[channel] = ch
	}
	ch.mu.Lock()
	ch.handlers = append(ch.handlers, handler)
	ch.mu.Unlock()
	return nil
}

func (p *LocalPresence) Unsubscribe(channel string) error {
	p.mu.Lock()
	ch, ok := p.channels[channel]
	if ok {
		delete(p.channels, channel)
	}
	p.mu.Unlock()

	if ok {
		ch.stop()
	}
	return nil
}

func (p *LocalPresence) Ping(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	return nil
}

// Close stops every channel dispatcher and rejects further operations.
func (p *LocalPresence) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	channels := p.channels
	p.channels = make(map[string]*localChannel)
	p.mu.Unlock()

	for _, ch := range channels {
		ch.stop()
	}
	return nil
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
