package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SpheneDev/SpheneServer/global/config"
	"github.com/SpheneDev/SpheneServer/module/ack"
	"github.com/SpheneDev/SpheneServer/module/sync/model"
	"github.com/SpheneDev/SpheneServer/module/sync/store"
	"github.com/SpheneDev/SpheneServer/service/dispatcher/kafka"
	"github.com/SpheneDev/SpheneServer/service/notify"
	"github.com/SpheneDev/SpheneServer/service/storage"
	"github.com/SpheneDev/SpheneServer/tools/errs"
)

type fileCapture struct {
	events []kafka.FileAvailableEvent
}

func (f *fileCapture) NotifyFileAvailable(ev kafka.FileAvailableEvent) error {
	f.events = append(f.events, ev)
	return nil
}

type testEnv struct {
	svc      *Service
	st       *store.MemStore
	presence storage.PresenceStore
	notes    *notify.MemNotifier
	tracker  *ack.Tracker
	files    *fileCapture

	alice, bob, carol *model.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		st:       store.NewMemStore(),
		presence: storage.NewMemPresence(),
		notes:    notify.NewMemNotifier(),
		tracker:  ack.NewTracker(ack.Conf{SweepEvery: time.Hour}),
		files:    &fileCapture{},
		alice:    &model.User{UID: "alice"},
		bob:      &model.User{UID: "bob", Alias: "bobby"},
		carol:    &model.User{UID: "carol"},
	}
	t.Cleanup(e.tracker.Close)
	for _, u := range []*model.User{e.alice, e.bob, e.carol} {
		e.st.PutUser(u)
	}
	e.svc = NewService(e.st, e.presence, e.notes, e.tracker, e.files)
	return e
}

func (e *testEnv) setOnline(t *testing.T, uid string) {
	t.Helper()
	h := storage.Handle{GatewayID: "gw", ConnID: "c-" + uid, Ident: "ident-" + uid}
	require.NoError(t, e.presence.SetOnline(context.Background(), uid, h, time.Minute))
}

func TestAddPairRejections(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	require.True(t, errors.Is(e.svc.AddPair(ctx, e.alice, "alice"), errs.ErrNotAllowed))
	require.True(t, errors.Is(e.svc.AddPair(ctx, e.alice, "  "), errs.ErrNotAllowed))
	require.True(t, errors.Is(e.svc.AddPair(ctx, e.alice, "nobody"), errs.ErrNotAllowed))

	require.NoError(t, e.svc.AddPair(ctx, e.alice, "bob"))
	require.True(t, errors.Is(e.svc.AddPair(ctx, e.alice, "bob"), errs.ErrNotAllowed))
}

func TestAddPairResolvesAlias(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	require.NoError(t, e.svc.AddPair(ctx, e.alice, "bobby"))
	ok, err := e.st.PairExists(ctx, "alice", "bob")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAddPairCompletingBothDirectionsGoesOnline(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setOnline(t, "alice")
	e.setOnline(t, "bob")

	require.NoError(t, e.svc.AddPair(ctx, e.bob, "alice"))
	e.notes.Reset()

	require.NoError(t, e.svc.AddPair(ctx, e.alice, "bob"))

	require.Len(t, e.notes.Of("alice", notify.KindPairAdded), 1)
	require.Len(t, e.notes.Of("bob", notify.KindPairAdded), 1)

	toAlice := e.notes.Of("alice", notify.KindOnline)
	require.Len(t, toAlice, 1)
	payload := toAlice[0].Env.Payload.(notify.OnlinePayload)
	require.Equal(t, "bob", payload.User.UID)
	require.Equal(t, "ident-bob", payload.CharaIdent)

	require.Len(t, e.notes.Of("bob", notify.KindOnline), 1)
}

func TestOneDirectionalAddPairStaysInvisible(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setOnline(t, "alice")
	e.setOnline(t, "bob")

	require.NoError(t, e.svc.AddPair(ctx, e.alice, "bob"))
	require.Empty(t, e.notes.Of("alice", notify.KindOnline))
	require.Empty(t, e.notes.Of("bob", notify.KindOnline))
}

func TestRemovePairGoesOffline(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setOnline(t, "alice")
	e.setOnline(t, "bob")
	require.NoError(t, e.svc.AddPair(ctx, e.bob, "alice"))
	require.NoError(t, e.svc.AddPair(ctx, e.alice, "bob"))
	e.notes.Reset()

	require.NoError(t, e.svc.RemovePair(ctx, e.alice, "bob"))

	require.Len(t, e.notes.Of("alice", notify.KindPairRemoved), 1)
	require.Len(t, e.notes.Of("bob", notify.KindPairRemoved), 1)
	require.Len(t, e.notes.Of("alice", notify.KindOffline), 1)
	require.Len(t, e.notes.Of("bob", notify.KindOffline), 1)
}

func TestRemovePairKeepsGroupPathAlive(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setOnline(t, "alice")
	e.setOnline(t, "bob")
	require.NoError(t, e.svc.AddPair(ctx, e.bob, "alice"))
	require.NoError(t, e.svc.AddPair(ctx, e.alice, "bob"))
	seedGroupPair(t, e.st, "G1", "alice", "bob")
	e.notes.Reset()

	require.NoError(t, e.svc.RemovePair(ctx, e.alice, "bob"))
	require.Empty(t, e.notes.Of("alice", notify.KindOffline))
	require.Empty(t, e.notes.Of("bob", notify.KindOffline))
}

func TestSetPairPermissionPauseBoundary(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setOnline(t, "alice")
	e.setOnline(t, "bob")
	require.NoError(t, e.svc.AddPair(ctx, e.bob, "alice"))
	require.NoError(t, e.svc.AddPair(ctx, e.alice, "bob"))
	e.notes.Reset()

	require.NoError(t, e.svc.SetPairPermission(ctx, e.alice, "bob", model.Permissions{IsPaused: true}))
	require.Len(t, e.notes.Of("bob", notify.KindPermissionUpdate), 1)
	require.Len(t, e.notes.Of("alice", notify.KindOffline), 1)
	require.Len(t, e.notes.Of("bob", notify.KindOffline), 1)
	e.notes.Reset()

	// repeating the same state crosses no boundary
	require.NoError(t, e.svc.SetPairPermission(ctx, e.alice, "bob", model.Permissions{IsPaused: true}))
	require.Empty(t, e.notes.Of("alice", notify.KindOffline))
	e.notes.Reset()

	require.NoError(t, e.svc.SetPairPermission(ctx, e.alice, "bob", model.Permissions{}))
	require.Len(t, e.notes.Of("alice", notify.KindOnline), 1)
	require.Len(t, e.notes.Of("bob", notify.KindOnline), 1)

	// user-set rows are sticky
	row, err := e.st.GetPermissionSet(ctx, "alice", "bob")
	require.NoError(t, err)
	require.True(t, row.Sticky)
}

func TestJoinGroupSeedsTemplateAndGoesOnline(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setOnline(t, "alice")
	e.setOnline(t, "bob")

	e.st.PutGroup(&model.Group{GID: "G1", OwnerUID: "bob", InvitesEnabled: true})
	require.NoError(t, e.st.AddGroupMember(ctx, &model.GroupMember{GroupGID: "G1", UserUID: "bob"}))
	require.NoError(t, e.st.UpsertDefaultPermissions(ctx, &model.DefaultPermissions{
		UserUID: "alice", DisableGroupSounds: true,
	}))

	require.NoError(t, e.svc.JoinGroup(ctx, e.alice, "G1"))

	tmpl, err := e.st.GetGroupPreferredPermission(ctx, "G1", "alice")
	require.NoError(t, err)
	require.True(t, tmpl.DisableSounds)

	require.Len(t, e.notes.Of("bob", notify.KindGroupJoined), 1)
	require.Len(t, e.notes.Of("alice", notify.KindGroupJoined), 1)
	require.Len(t, e.notes.Of("alice", notify.KindOnline), 1)
	require.Len(t, e.notes.Of("bob", notify.KindOnline), 1)

	// the non-sticky row towards bob reflects alice's template
	row, err := e.st.GetPermissionSet(ctx, "alice", "bob")
	require.NoError(t, err)
	require.True(t, row.DisableSounds)
	require.False(t, row.Sticky)

	require.True(t, errors.Is(e.svc.JoinGroup(ctx, e.alice, "G1"), errs.ErrNotAllowed))
}

func TestCreateGroupLimits(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	require.NoError(t, config.Apply(`{"max_groups_created_by_user":1}`))
	t.Cleanup(func() { require.NoError(t, config.Apply(`{}`)) })

	dto, err := e.svc.CreateGroup(ctx, e.alice)
	require.NoError(t, err)
	require.Contains(t, dto.GID, "SSS-")
	require.Equal(t, "alice", dto.OwnerUID)

	// the creator is a member with a seeded template
	members, err := e.st.ListGroupMembers(ctx, dto.GID)
	require.NoError(t, err)
	require.Len(t, members, 1)
	tmpl, err := e.st.GetGroupPreferredPermission(ctx, dto.GID, "alice")
	require.NoError(t, err)
	require.NotNil(t, tmpl)

	_, err = e.svc.CreateGroup(ctx, e.alice)
	require.True(t, errors.Is(err, errs.ErrNotAllowed))
}

func TestJoinGroupRespectsJoinLimit(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	require.NoError(t, config.Apply(`{"max_joined_groups_by_user":1}`))
	t.Cleanup(func() { require.NoError(t, config.Apply(`{}`)) })

	e.st.PutGroup(&model.Group{GID: "G1", OwnerUID: "bob", InvitesEnabled: true})
	e.st.PutGroup(&model.Group{GID: "G2", OwnerUID: "bob", InvitesEnabled: true})

	require.NoError(t, e.svc.JoinGroup(ctx, e.alice, "G1"))
	require.True(t, errors.Is(e.svc.JoinGroup(ctx, e.alice, "G2"), errs.ErrNotAllowed))
}

func TestLeaveGroupBreaksLastPath(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setOnline(t, "alice")
	e.setOnline(t, "bob")
	seedGroupPair(t, e.st, "G1", "alice", "bob")
	e.notes.Reset()

	require.NoError(t, e.svc.LeaveGroup(ctx, e.alice, "G1"))

	require.Len(t, e.notes.Of("bob", notify.KindGroupLeft), 1)
	require.Len(t, e.notes.Of("alice", notify.KindOffline), 1)
	require.Len(t, e.notes.Of("bob", notify.KindOffline), 1)

	require.True(t, errors.Is(e.svc.LeaveGroup(ctx, e.alice, "G1"), errs.ErrNotAllowed))
}

func TestSetGroupPermissionPauseBoundary(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setOnline(t, "alice")
	e.setOnline(t, "bob")
	seedGroupPair(t, e.st, "G1", "alice", "bob")
	e.notes.Reset()

	require.NoError(t, e.svc.SetGroupPermission(ctx, e.alice, "G1", GroupPermissionDTO{IsPaused: true}))
	require.Len(t, e.notes.Of("alice", notify.KindOffline), 1)
	require.Len(t, e.notes.Of("bob", notify.KindOffline), 1)
	e.notes.Reset()

	require.NoError(t, e.svc.SetGroupPermission(ctx, e.alice, "G1", GroupPermissionDTO{DisableVFX: true}))
	require.Len(t, e.notes.Of("alice", notify.KindOnline), 1)
	require.Len(t, e.notes.Of("bob", notify.KindOnline), 1)

	require.True(t, errors.Is(
		e.svc.SetGroupPermission(ctx, e.carol, "G1", GroupPermissionDTO{}), errs.ErrNotAllowed))
}

const validHash = "A94A8FE5CCB19BA61C4C0873D391E987982FBBD3"

func TestPushDataValidation(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	cases := []struct {
		name string
		fr   FileReplacement
	}{
		{"bad hash", FileReplacement{Hash: "xyz", GamePaths: []string{"chara/body.tex"}}},
		{"bad path", FileReplacement{Hash: validHash, GamePaths: []string{"chara/body"}}},
		{"forbidden extension", FileReplacement{Hash: validHash, GamePaths: []string{"chara/body.exe"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.svc.PushData(ctx, e.alice, PushRequest{
				Recipients:       []string{"bob"},
				DataHash:         validHash,
				FileReplacements: []FileReplacement{tc.fr},
			})
			require.True(t, errors.Is(err, errs.ErrDataRejected))
		})
	}
	require.Equal(t, 0, e.tracker.SessionCount(), "rejected pushes open no session")
}

func TestPushDataAllRecipientsOfflineOpensNoSession(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	pairBoth(t, e.st, "alice", "bob")

	res, err := e.svc.PushData(ctx, e.alice, PushRequest{
		Recipients: []string{"bob"},
		DataHash:   validHash,
		CharaData:  []byte(`{"glamour":1}`),
	})
	require.NoError(t, err)
	require.Empty(t, res.SessionID)
	require.Empty(t, res.SentTo)
	require.Equal(t, 0, e.tracker.SessionCount())
	_, ok := e.tracker.ClaimLegacy(validHash)
	require.False(t, ok, "no fingerprint to claim for an empty fan-out")
}

func TestPushDataFansOutToOnlineSyncedPeers(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setOnline(t, "alice")
	e.setOnline(t, "bob")
	// carol stays offline, dave is not synced
	e.st.PutUser(&model.User{UID: "dave"})
	pairBoth(t, e.st, "alice", "bob")
	pairBoth(t, e.st, "alice", "carol")
	e.notes.Reset()

	res, err := e.svc.PushData(ctx, e.alice, PushRequest{
		Recipients: []string{"bob", "carol", "dave", "alice"},
		DataHash:   validHash,
		CharaData:  []byte(`{"glamour":1}`),
		FileReplacements: []FileReplacement{
			{Hash: validHash, GamePaths: []string{"chara/equipment/e0001/model.mdl"}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"bob"}, res.SentTo)
	require.NotEmpty(t, res.SessionID)

	got := e.notes.Of("bob", notify.KindData)
	require.Len(t, got, 1)
	payload := got[0].Env.Payload.(notify.DataPayload)
	require.Equal(t, "alice", payload.User.UID)
	require.Equal(t, res.SessionID, payload.SessionID)
	require.Empty(t, e.notes.Of("carol", notify.KindData))
	require.Empty(t, e.notes.Of("dave", notify.KindData))

	require.Len(t, e.files.events, 1)
	require.Equal(t, "bob", e.files.events[0].RecipientUID)
	require.Equal(t, []string{validHash}, e.files.events[0].Hashes)

	require.Equal(t, 1, e.tracker.SessionCount())
}

func TestAckDataSessionCompletes(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setOnline(t, "alice")
	e.setOnline(t, "bob")
	pairBoth(t, e.st, "alice", "bob")

	res, err := e.svc.PushData(ctx, e.alice, PushRequest{
		Recipients: []string{"bob"},
		DataHash:   validHash,
	})
	require.NoError(t, err)
	e.notes.Reset()

	require.NoError(t, e.svc.AckData(ctx, e.bob, AckRequest{SessionID: res.SessionID}))

	acks := e.notes.Of("alice", notify.KindAck)
	require.Len(t, acks, 1)
	payload := acks[0].Env.Payload.(notify.AckPayload)
	require.Equal(t, res.SessionID, payload.SessionID)
	require.Equal(t, "bob", payload.User.UID)
	require.True(t, payload.Complete)
	require.Equal(t, 0, e.tracker.SessionCount())

	// duplicate acks after completion are silent
	e.notes.Reset()
	require.NoError(t, e.svc.AckData(ctx, e.bob, AckRequest{SessionID: res.SessionID}))
	require.Empty(t, e.notes.Of("alice", notify.KindAck))
}

func TestAckDataLegacyFingerprint(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setOnline(t, "alice")
	e.setOnline(t, "bob")
	pairBoth(t, e.st, "alice", "bob")

	_, err := e.svc.PushData(ctx, e.alice, PushRequest{
		Recipients: []string{"bob"},
		DataHash:   validHash,
	})
	require.NoError(t, err)
	e.notes.Reset()

	require.NoError(t, e.svc.AckData(ctx, e.bob, AckRequest{Fingerprint: validHash}))
	acks := e.notes.Of("alice", notify.KindAck)
	require.Len(t, acks, 1)
	payload := acks[0].Env.Payload.(notify.AckPayload)
	require.Equal(t, validHash, payload.Fingerprint)

	// the first claim consumed the fingerprint
	e.notes.Reset()
	require.NoError(t, e.svc.AckData(ctx, e.bob, AckRequest{Fingerprint: validHash}))
	require.Empty(t, e.notes.Of("alice", notify.KindAck))
}

func TestDisconnectCleanupDropsSenderState(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.setOnline(t, "alice")
	e.setOnline(t, "bob")
	pairBoth(t, e.st, "alice", "bob")
	e.st.PutUpload("alice", validHash)

	_, err := e.svc.PushData(ctx, e.alice, PushRequest{
		Recipients: []string{"bob"},
		DataHash:   validHash,
	})
	require.NoError(t, err)

	e.svc.CleanupOnDisconnect(ctx, "alice")
	require.Equal(t, 0, e.tracker.SessionCount())
	require.Equal(t, 0, e.st.UnfinishedUploads("alice"))
}

func TestProfileAccessAndModeration(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)

	require.NoError(t, e.svc.SetProfile(ctx, e.bob, "hello", false))

	// strangers cannot read it
	_, err := e.svc.GetProfile(ctx, e.alice, "bob")
	require.True(t, errors.Is(err, errs.ErrNotAllowed))

	pairBoth(t, e.st, "alice", "bob")
	dto, err := e.svc.GetProfile(ctx, e.alice, "bob")
	require.NoError(t, err)
	require.Equal(t, "hello", dto.Description)

	// flagged profiles render a stock text for others, and lock edits
	require.NoError(t, e.st.UpsertProfile(ctx, &model.Profile{
		UserUID: "bob", Description: "hello", Flagged: true,
	}))
	dto, err = e.svc.GetProfile(ctx, e.alice, "bob")
	require.NoError(t, err)
	require.Equal(t, flaggedProfileText, dto.Description)

	err = e.svc.SetProfile(ctx, e.bob, "edit", false)
	require.True(t, errors.Is(err, errs.ErrNotAllowed))
}

func TestSendOnlineToAllSyncedPeersTargetsConnectedOnly(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	pairBoth(t, e.st, "alice", "bob")
	pairBoth(t, e.st, "alice", "carol")
	e.setOnline(t, "bob") // carol offline

	require.NoError(t, e.svc.SendOnlineToAllSyncedPeers(ctx, e.alice, "ident-alice"))
	require.Len(t, e.notes.Of("bob", notify.KindOnline), 1)
	require.Empty(t, e.notes.Of("carol", notify.KindOnline))

	e.notes.Reset()
	require.NoError(t, e.svc.SendOfflineToAllSyncedPeers(ctx, e.alice))
	require.Len(t, e.notes.Of("bob", notify.KindOffline), 1)
	require.Empty(t, e.notes.Of("carol", notify.KindOffline))
}
