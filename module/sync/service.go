package sync

import (
	"context"

	"github.com/SpheneDev/SpheneServer/global/config"
	"github.com/SpheneDev/SpheneServer/logger"
	"github.com/SpheneDev/SpheneServer/module/ack"
	"github.com/SpheneDev/SpheneServer/module/sync/model"
	"github.com/SpheneDev/SpheneServer/module/sync/store"
	"github.com/SpheneDev/SpheneServer/service/dispatcher/kafka"
	"github.com/SpheneDev/SpheneServer/service/notify"
	"github.com/SpheneDev/SpheneServer/service/storage"
)

// FileEvents records which files became visible to which recipient.
// The file service consumes these downstream.
type FileEvents interface {
	NotifyFileAvailable(ev kafka.FileAvailableEvent) error
}

// NopFileEvents drops events; single-node and test setups.
type NopFileEvents struct{}

func (NopFileEvents) NotifyFileAvailable(kafka.FileAvailableEvent) error { return nil }

// Service implements the user-facing sync operations. All methods take
// the already-authenticated self user; the gateway resolves it once per
// connection.
type Service struct {
	store    store.Store
	resolver *Resolver
	graph    *Graph
	presence storage.PresenceStore
	notifier notify.Notifier
	acks     *ack.Tracker
	files    FileEvents
}

func NewService(st store.Store, presence storage.PresenceStore, notifier notify.Notifier, acks *ack.Tracker, files FileEvents) *Service {
	if files == nil {
		files = NopFileEvents{}
	}
	return &Service{
		store:    st,
		resolver: NewResolver(st),
		graph:    NewGraph(st),
		presence: presence,
		notifier: notifier,
		acks:     acks,
		files:    files,
	}
}

func (s *Service) Graph() *Graph       { return s.graph }
func (s *Service) Resolver() *Resolver { return s.resolver }

// notifyUser is best effort; a failed publish is logged, never
// propagated into the calling operation.
func (s *Service) notifyUser(ctx context.Context, toUID string, env notify.Envelope) {
	if err := s.notifier.Send(ctx, toUID, env); err != nil {
		logger.Warnf("[sync] notify %s kind=%s: %v", toUID, env.Kind, err)
	}
}

// sendOnlinePair tells a that b is now visible, using b's replicated
// presence ident. Silent no-op while b is offline.
func (s *Service) sendOnlinePair(ctx context.Context, a string, b *model.User) {
	h, online, err := s.presence.Lookup(ctx, b.UID)
	if err != nil {
		logger.Warnf("[sync] presence lookup %s: %v", b.UID, err)
		return
	}
	if !online {
		return
	}
	s.notifyUser(ctx, a, notify.Envelope{
		Kind:    notify.KindOnline,
		Payload: notify.OnlinePayload{User: b.Ref(), CharaIdent: h.Ident},
	})
}

func (s *Service) sendOfflinePair(ctx context.Context, a string, b *model.User) {
	s.notifyUser(ctx, a, notify.Envelope{
		Kind:    notify.KindOffline,
		Payload: notify.OfflinePayload{User: b.Ref()},
	})
}

// crossNotifyOnline sends online both ways when both sides are
// currently connected.
func (s *Service) crossNotifyOnline(ctx context.Context, a, b *model.User) {
	s.sendOnlinePair(ctx, a.UID, b)
	s.sendOnlinePair(ctx, b.UID, a)
}

func (s *Service) crossNotifyOffline(ctx context.Context, a, b *model.User) {
	s.sendOfflinePair(ctx, a.UID, b)
	s.sendOfflinePair(ctx, b.UID, a)
}

// SendOnlineToAllSyncedPeers announces self to every currently synced
// and connected peer. Called from connection setup.
func (s *Service) SendOnlineToAllSyncedPeers(ctx context.Context, self *model.User, ident string) error {
	peers, err := s.graph.SyncedUIDs(ctx, self.UID)
	if err != nil {
		return err
	}
	handles, err := s.presence.LookupMany(ctx, peers)
	if err != nil {
		return err
	}
	env := notify.Envelope{
		Kind:    notify.KindOnline,
		Payload: notify.OnlinePayload{User: self.Ref(), CharaIdent: ident},
	}
	for uid := range handles {
		s.notifyUser(ctx, uid, env)
	}
	return nil
}

// SendOfflineToAllSyncedPeers announces self's departure. Called from
// teardown, before the presence entry is cleared locally it uses the
// graph only, so a half-gone presence record cannot hide peers.
func (s *Service) SendOfflineToAllSyncedPeers(ctx context.Context, self *model.User) error {
	peers, err := s.graph.SyncedUIDs(ctx, self.UID)
	if err != nil {
		return err
	}
	handles, err := s.presence.LookupMany(ctx, peers)
	if err != nil {
		return err
	}
	env := notify.Envelope{
		Kind:    notify.KindOffline,
		Payload: notify.OfflinePayload{User: self.Ref()},
	}
	for uid := range handles {
		s.notifyUser(ctx, uid, env)
	}
	return nil
}

// RefreshPresence extends the caller's replicated online entry; the
// liveness probe calls this so an idle but healthy connection never
// ages out.
func (s *Service) RefreshPresence(ctx context.Context, uid string) error {
	return s.presence.Refresh(ctx, uid, config.Get().PresenceTTL())
}

// CleanupOnDisconnect drops everything only this connection's user was
// holding: unfinished uploads and in-flight acknowledgment sessions.
func (s *Service) CleanupOnDisconnect(ctx context.Context, uid string) {
	if err := s.store.DeleteUnfinishedUploads(ctx, uid); err != nil {
		logger.Warnf("[sync] delete unfinished uploads %s: %v", uid, err)
	}
	s.acks.CleanupForSender(uid)
}
