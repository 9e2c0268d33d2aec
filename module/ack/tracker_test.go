package ack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestTracker(clock func() time.Time) *Tracker {
	return NewTracker(Conf{
		Retention:  5 * time.Minute,
		SweepEvery: time.Hour, // sweeps driven manually in tests
		Clock:      clock,
	})
}

func TestSessionLifecycle(t *testing.T) {
	tr := newTestTracker(nil)
	defer tr.Close()

	id := tr.CreateSession("fp1", "sender", []string{"r1", "r2"})
	require.NotEmpty(t, id)
	require.NotContains(t, id, "-")

	s, ok := tr.Acknowledge(id, "r1")
	require.True(t, ok)
	require.Equal(t, "sender", s.SenderUID)
	require.Equal(t, 1, s.Remaining())
	require.False(t, tr.IsComplete(id))

	_, ok = tr.Acknowledge(id, "r2")
	require.True(t, ok)
	require.True(t, tr.IsComplete(id))

	tr.Complete(id)
	require.Equal(t, 0, tr.SessionCount())

	// completed session also released its legacy claim
	_, ok = tr.ClaimLegacy("fp1")
	require.False(t, ok)
}

func TestDuplicateAndUnknownAcksAreSilent(t *testing.T) {
	tr := newTestTracker(nil)
	defer tr.Close()

	id := tr.CreateSession("fp1", "sender", []string{"r1"})

	_, ok := tr.Acknowledge(id, "r1")
	require.True(t, ok)

	_, ok = tr.Acknowledge(id, "r1") // duplicate
	require.False(t, ok)
	_, ok = tr.Acknowledge(id, "r9") // never a recipient
	require.False(t, ok)
	_, ok = tr.Acknowledge("missing", "r1") // unknown session
	require.False(t, ok)
}

func TestLegacyClaimFirstWins(t *testing.T) {
	tr := newTestTracker(nil)
	defer tr.Close()

	tr.CreateSession("fp1", "sender", []string{"r1", "r2"})

	uid, ok := tr.ClaimLegacy("fp1")
	require.True(t, ok)
	require.Equal(t, "sender", uid)

	// the claim removed the entry; a second claim cannot deliver again
	_, ok = tr.ClaimLegacy("fp1")
	require.False(t, ok)
}

func TestCleanupForSender(t *testing.T) {
	tr := newTestTracker(nil)
	defer tr.Close()

	id1 := tr.CreateSession("fp1", "alice", []string{"r1"})
	id2 := tr.CreateSession("fp2", "bob", []string{"r1"})

	tr.CleanupForSender("alice")

	_, ok := tr.Acknowledge(id1, "r1")
	require.False(t, ok)
	_, ok = tr.ClaimLegacy("fp1")
	require.False(t, ok)

	// bob's state survives
	_, ok = tr.Acknowledge(id2, "r1")
	require.True(t, ok)
	require.Equal(t, 1, tr.SessionCount())
}

func TestSweepExpired(t *testing.T) {
	now := time.Unix(1000, 0)
	tr := newTestTracker(func() time.Time { return now })
	defer tr.Close()

	old := tr.CreateSession("fp-old", "sender", []string{"r1"})
	now = now.Add(4 * time.Minute)
	fresh := tr.CreateSession("fp-new", "sender", []string{"r1"})

	now = now.Add(2 * time.Minute) // old is 6m, fresh is 2m
	tr.SweepExpired()

	_, ok := tr.Acknowledge(old, "r1")
	require.False(t, ok)
	_, ok = tr.ClaimLegacy("fp-old")
	require.False(t, ok)

	_, ok = tr.Acknowledge(fresh, "r1")
	require.True(t, ok)
}
