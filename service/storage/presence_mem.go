package storage

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	handle   Handle
	expireAt time.Time
}

// memPresence is the single-process twin of the redis store, used in
// tests and single-node deployments. Same semantics, including TTL.
type memPresence struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	clock   func() time.Time
}

func NewMemPresence() PresenceStore {
	return NewMemPresenceWithClock(time.Now)
}

func NewMemPresenceWithClock(clock func() time.Time) PresenceStore {
	return &memPresence{entries: make(map[string]memEntry), clock: clock}
}

func (p *memPresence) SetOnline(_ context.Context, uid string, h Handle, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[uid] = memEntry{handle: h, expireAt: p.clock().Add(ttl)}
	return nil
}

func (p *memPresence) Lookup(_ context.Context, uid string) (Handle, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[uid]
	if !ok || p.clock().After(e.expireAt) {
		return Handle{}, false, nil
	}
	return e.handle, true, nil
}

func (p *memPresence) LookupMany(_ context.Context, uids []string) (map[string]Handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Handle, len(uids))
	now := p.clock()
	for _, uid := range uids {
		if e, ok := p.entries[uid]; ok && !now.After(e.expireAt) {
			out[uid] = e.handle
		}
	}
	return out, nil
}

func (p *memPresence) ClearIfCurrent(_ context.Context, uid string, h Handle) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[uid]
	if !ok || e.handle != h {
		return false, nil
	}
	delete(p.entries, uid)
	return true, nil
}

func (p *memPresence) Refresh(_ context.Context, uid string, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.entries[uid]; ok {
		e.expireAt = p.clock().Add(ttl)
		p.entries[uid] = e
	}
	return nil
}

func (p *memPresence) Close() error { return nil }
