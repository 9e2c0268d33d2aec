package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHandleRoundTrip(t *testing.T) {
	h := Handle{GatewayID: "main-1", ConnID: "12345", Ident: "abcdef"}
	require.Equal(t, h, ParseHandle(h.String()))

	empty := Handle{GatewayID: "main-1", ConnID: "12345"}
	require.Equal(t, empty, ParseHandle(empty.String()))
}

func TestLastConnectWins(t *testing.T) {
	ctx := context.Background()
	p := NewMemPresence()

	first := Handle{GatewayID: "gw1", ConnID: "c1"}
	second := Handle{GatewayID: "gw2", ConnID: "c2"}
	require.NoError(t, p.SetOnline(ctx, "u1", first, time.Minute))
	require.NoError(t, p.SetOnline(ctx, "u1", second, time.Minute))

	got, ok, err := p.Lookup(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, second, got)
}

func TestClearIfCurrentGuardsStaleHandles(t *testing.T) {
	ctx := context.Background()
	p := NewMemPresence()

	old := Handle{GatewayID: "gw1", ConnID: "c1"}
	current := Handle{GatewayID: "gw1", ConnID: "c2"}
	require.NoError(t, p.SetOnline(ctx, "u1", current, time.Minute))

	// a stale disconnect must not evict the newer connection
	cleared, err := p.ClearIfCurrent(ctx, "u1", old)
	require.NoError(t, err)
	require.False(t, cleared)

	_, ok, err := p.Lookup(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)

	cleared, err = p.ClearIfCurrent(ctx, "u1", current)
	require.NoError(t, err)
	require.True(t, cleared)

	_, ok, err = p.Lookup(ctx, "u1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAbsenceIsNotAnError(t *testing.T) {
	ctx := context.Background()
	p := NewMemPresence()

	_, ok, err := p.Lookup(ctx, "nobody")
	require.NoError(t, err)
	require.False(t, ok)

	cleared, err := p.ClearIfCurrent(ctx, "nobody", Handle{GatewayID: "gw", ConnID: "c"})
	require.NoError(t, err)
	require.False(t, cleared)

	require.NoError(t, p.Refresh(ctx, "nobody", time.Minute))
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	clock := func() time.Time { return now }
	p := NewMemPresenceWithClock(clock)

	h := Handle{GatewayID: "gw", ConnID: "c"}
	require.NoError(t, p.SetOnline(ctx, "u1", h, time.Minute))

	now = now.Add(30 * time.Second)
	_, ok, err := p.Lookup(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, p.Refresh(ctx, "u1", time.Minute))
	now = now.Add(45 * time.Second)
	_, ok, err = p.Lookup(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, err = p.Lookup(ctx, "u1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLookupMany(t *testing.T) {
	ctx := context.Background()
	p := NewMemPresence()

	require.NoError(t, p.SetOnline(ctx, "a", Handle{GatewayID: "gw", ConnID: "1"}, time.Minute))
	require.NoError(t, p.SetOnline(ctx, "b", Handle{GatewayID: "gw", ConnID: "2"}, time.Minute))

	got, err := p.LookupMany(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "1", got["a"].ConnID)
	require.Equal(t, "2", got["b"].ConnID)
	_, ok := got["c"]
	require.False(t, ok)
}
