package storage

import (
	"context"
	"strings"
	"time"
)

// Handle addresses one live connection: the gateway node that owns the
// socket, the connection id on that node, and the character ident the
// user logged in with. The string form is what gets replicated, so it
// must round-trip. None of the parts may contain ':'.
type Handle struct {
	GatewayID string
	ConnID    string
	Ident     string
}

func (h Handle) String() string {
	return h.GatewayID + ":" + h.ConnID + ":" + h.Ident
}

func (h Handle) IsZero() bool { return h.GatewayID == "" && h.ConnID == "" }

func ParseHandle(s string) Handle {
	parts := strings.SplitN(s, ":", 3)
	h := Handle{GatewayID: parts[0]}
	if len(parts) > 1 {
		h.ConnID = parts[1]
	}
	if len(parts) > 2 {
		h.Ident = parts[2]
	}
	return h
}

// PresenceStore is the replicated uid -> handle map. At most one entry
// per user; absence is a normal value everywhere, never an error.
type PresenceStore interface {
	// SetOnline upserts the handle for uid. Last connect wins: an
	// existing entry from a superseded connection is overwritten.
	SetOnline(ctx context.Context, uid string, h Handle, ttl time.Duration) error

	// Lookup returns the current handle, or ok=false when offline.
	Lookup(ctx context.Context, uid string) (Handle, bool, error)

	// LookupMany resolves a batch in one round trip. Offline uids are
	// simply absent from the result.
	LookupMany(ctx context.Context, uids []string) (map[string]Handle, error)

	// ClearIfCurrent removes the entry only if it still holds h.
	// Returns true when the entry was removed. A stale disconnect
	// handler must never evict a newer connection's record.
	ClearIfCurrent(ctx context.Context, uid string, h Handle) (bool, error)

	// Refresh extends the TTL without touching the value. No-op when
	// the entry is gone.
	Refresh(ctx context.Context, uid string, ttl time.Duration) error

	Close() error
}
