package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SpheneDev/SpheneServer/module/sync/model"
	"github.com/SpheneDev/SpheneServer/module/sync/store"
)

func pairBoth(t *testing.T, st *store.MemStore, a, b string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.AddPair(ctx, a, b))
	require.NoError(t, st.AddPair(ctx, b, a))
}

func TestSyncedIndividualPair(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	g := NewGraph(st)

	pairBoth(t, st, "alice", "bob")

	ok, err := g.Synced(ctx, "alice", "bob")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestOneDirectionalPairIsNotSynced(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	g := NewGraph(st)

	require.NoError(t, st.AddPair(ctx, "alice", "bob"))

	ok, err := g.Synced(ctx, "alice", "bob")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPauseBreaksIndividualSync(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	g := NewGraph(st)

	pairBoth(t, st, "alice", "bob")
	require.NoError(t, st.UpsertPermissionSet(ctx, &model.PermissionSet{
		UserUID: "bob", OtherUserUID: "alice", IsPaused: true, Sticky: true,
	}))

	ok, err := g.Synced(ctx, "alice", "bob")
	require.NoError(t, err)
	require.False(t, ok, "either direction paused breaks the pair path")
}

func TestSharedGroupSyncs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	g := NewGraph(st)

	seedGroupPair(t, st, "G1", "alice", "bob")

	ok, err := g.Synced(ctx, "alice", "bob")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGroupPauseFiltersSharedGIDs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	g := NewGraph(st)

	seedGroupPair(t, st, "G1", "alice", "bob")
	seedGroupPair(t, st, "G2", "alice", "bob")
	require.NoError(t, st.UpsertGroupPreferredPermission(ctx, &model.GroupPreferredPermission{
		GroupGID: "G1", UserUID: "alice", IsPaused: true,
	}))

	info, err := g.PairInfo(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Equal(t, []string{"G2"}, info.SharedGIDs)
	require.True(t, info.Synced())

	require.NoError(t, st.UpsertGroupPreferredPermission(ctx, &model.GroupPreferredPermission{
		GroupGID: "G2", UserUID: "bob", IsPaused: true,
	}))
	info, err = g.PairInfo(ctx, "alice", "bob")
	require.NoError(t, err)
	require.Empty(t, info.SharedGIDs)
	require.False(t, info.Synced())
}

func TestPausedPairStillSyncedThroughGroup(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	g := NewGraph(st)

	pairBoth(t, st, "alice", "bob")
	require.NoError(t, st.UpsertPermissionSet(ctx, &model.PermissionSet{
		UserUID: "alice", OtherUserUID: "bob", IsPaused: true, Sticky: true,
	}))
	seedGroupPair(t, st, "G1", "alice", "bob")

	ok, err := g.Synced(ctx, "alice", "bob")
	require.NoError(t, err)
	require.True(t, ok, "the group path is independent of individual pausing")
}

func TestSyncedUIDs(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	g := NewGraph(st)

	pairBoth(t, st, "alice", "bob")
	require.NoError(t, st.AddPair(ctx, "alice", "carol")) // one-directional
	seedGroupPair(t, st, "G1", "alice", "dave")

	got, err := g.SyncedUIDs(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"bob", "dave"}, got)

	related, err := g.RelatedUIDs(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"bob", "carol", "dave"}, related)
}
