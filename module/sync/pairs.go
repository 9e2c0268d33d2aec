package sync

import (
	"context"
	"strings"

	"github.com/SpheneDev/SpheneServer/module/sync/model"
	"github.com/SpheneDev/SpheneServer/service/notify"
	"github.com/SpheneDev/SpheneServer/tools/errs"
)

// PairDTO is one entry of the pair list a client renders.
type PairDTO struct {
	User               model.UserRef     `json:"user"`
	OwnPermissions     model.Permissions `json:"ownPermissions"`
	OtherPermissions   model.Permissions `json:"otherPermissions"`
	IndividuallyPaired bool              `json:"individuallyPaired"`
	Synced             bool              `json:"synced"`
	SharedGIDs         []string          `json:"sharedGids,omitempty"`
}

// OnlinePairDTO is a currently connected synced peer.
type OnlinePairDTO struct {
	User       model.UserRef `json:"user"`
	CharaIdent string        `json:"charaIdent"`
}

func pairDTO(info *model.PairInfo) PairDTO {
	return PairDTO{
		User:               model.UserRef{UID: info.OtherUID, Alias: info.OtherAlias},
		OwnPermissions:     info.OwnPermissions.Wire(),
		OtherPermissions:   info.OtherPermissions.Wire(),
		IndividuallyPaired: info.IndividuallyPaired(),
		Synced:             info.Synced(),
		SharedGIDs:         info.SharedGIDs,
	}
}

// AddPair adds an individual pair row from self towards the user
// addressed by uid or alias. Self-pairing and re-pairing are rejected;
// the target not existing is rejected the same way so the caller
// cannot probe for uids.
func (s *Service) AddPair(ctx context.Context, self *model.User, otherUIDOrAlias string) error {
	target := strings.TrimSpace(otherUIDOrAlias)
	if target == "" || target == self.UID || (self.Alias != "" && target == self.Alias) {
		return errs.ErrNotAllowed.WithDetail("cannot pair with yourself")
	}
	other, err := s.store.FindUser(ctx, target)
	if err != nil {
		return err
	}
	if other == nil {
		return errs.ErrNotAllowed.WithDetail("cannot pair with " + target)
	}
	exists, err := s.store.PairExists(ctx, self.UID, other.UID)
	if err != nil {
		return err
	}
	if exists {
		return errs.ErrNotAllowed.WithDetail("already paired with " + target)
	}

	if err := s.store.AddPair(ctx, self.UID, other.UID); err != nil {
		return err
	}
	ownPerms, err := s.resolver.SeedIndividual(ctx, self.UID, other.UID)
	if err != nil {
		return err
	}

	info, err := s.graph.PairInfo(ctx, self.UID, other.UID)
	if err != nil {
		return err
	}
	otherPerms := info.OtherPermissions

	s.notifyUser(ctx, self.UID, notify.Envelope{
		Kind: notify.KindPairAdded,
		Payload: notify.PairPayload{
			User:             other.Ref(),
			OwnPermissions:   ownPerms.Wire(),
			OtherPermissions: otherPerms.Wire(),
		},
	})
	s.notifyUser(ctx, other.UID, notify.Envelope{
		Kind: notify.KindPairAdded,
		Payload: notify.PairPayload{
			User:             self.Ref(),
			OwnPermissions:   otherPerms.Wire(),
			OtherPermissions: ownPerms.Wire(),
		},
	})

	// the pair becomes visible only once both directions exist and
	// neither side paused
	if info.IndividuallyPaired() && !ownPerms.Paused() && !otherPerms.Paused() {
		s.crossNotifyOnline(ctx, self, other)
	}
	return nil
}

// RemovePair removes self's pair row towards otherUID. The peer drops
// out of sight only when the removal actually broke the last sync
// path.
func (s *Service) RemovePair(ctx context.Context, self *model.User, otherUID string) error {
	before, err := s.graph.PairInfo(ctx, self.UID, otherUID)
	if err != nil {
		return err
	}
	removed, err := s.store.RemovePair(ctx, self.UID, otherUID)
	if err != nil {
		return err
	}
	if !removed {
		return errs.ErrNotAllowed.WithDetail("not paired with " + otherUID)
	}

	s.notifyUser(ctx, self.UID, notify.Envelope{
		Kind:    notify.KindPairRemoved,
		Payload: notify.OfflinePayload{User: model.UserRef{UID: otherUID, Alias: before.OtherAlias}},
	})
	s.notifyUser(ctx, otherUID, notify.Envelope{
		Kind:    notify.KindPairRemoved,
		Payload: notify.OfflinePayload{User: self.Ref()},
	})

	wasPausedEitherSide := before.OwnPermissions.Paused() || before.OtherPermissions.Paused()
	if !before.IndividuallyPaired() || wasPausedEitherSide {
		return nil
	}
	stillSynced, err := s.graph.Synced(ctx, self.UID, otherUID)
	if err != nil {
		return err
	}
	if stillSynced {
		return nil
	}
	other, err := s.store.GetUser(ctx, otherUID)
	if err != nil || other == nil {
		return err
	}
	s.crossNotifyOffline(ctx, self, other)
	return nil
}

// SetPairPermission writes the row self applies towards otherUID.
// A user-set row is always sticky. Crossing the sync boundary in
// either direction emits the matching presence transition to both
// sides.
func (s *Service) SetPairPermission(ctx context.Context, self *model.User, otherUID string, perms model.Permissions) error {
	other, err := s.store.GetUser(ctx, otherUID)
	if err != nil {
		return err
	}
	if other == nil {
		return errs.ErrNotAllowed.WithDetail("unknown user " + otherUID)
	}

	wasSynced, err := s.graph.Synced(ctx, self.UID, otherUID)
	if err != nil {
		return err
	}

	row := &model.PermissionSet{
		UserUID:           self.UID,
		OtherUserUID:      otherUID,
		DisableAnimations: perms.DisableAnimations,
		DisableSounds:     perms.DisableSounds,
		DisableVFX:        perms.DisableVFX,
		DisableVFXInDuty:  perms.DisableVFXInDuty,
		IsPaused:          perms.IsPaused,
		AckYou:            perms.AckYou,
		Sticky:            true,
	}
	if err := s.store.UpsertPermissionSet(ctx, row); err != nil {
		return err
	}

	update := notify.Envelope{
		Kind:    notify.KindPermissionUpdate,
		Payload: notify.PermissionPayload{User: self.Ref(), Permissions: row.Wire()},
	}
	s.notifyUser(ctx, otherUID, update)
	s.notifyUser(ctx, self.UID, notify.Envelope{
		Kind:    notify.KindPermissionUpdate,
		Payload: notify.PermissionPayload{User: other.Ref(), Permissions: row.Wire()},
	})

	nowSynced, err := s.graph.Synced(ctx, self.UID, otherUID)
	if err != nil {
		return err
	}
	switch {
	case wasSynced && !nowSynced:
		s.crossNotifyOffline(ctx, self, other)
	case !wasSynced && nowSynced:
		s.crossNotifyOnline(ctx, self, other)
	}
	return nil
}

// GetPairs returns the full relationship list for self.
func (s *Service) GetPairs(ctx context.Context, self *model.User) ([]PairDTO, error) {
	related, err := s.graph.RelatedUIDs(ctx, self.UID)
	if err != nil {
		return nil, err
	}
	out := make([]PairDTO, 0, len(related))
	for _, uid := range related {
		info, err := s.graph.PairInfo(ctx, self.UID, uid)
		if err != nil {
			return nil, err
		}
		out = append(out, pairDTO(info))
	}
	return out, nil
}

// GetOnlinePairs returns the synced peers that are currently
// connected, with their character idents. The caller typically invokes
// this once right after connecting.
func (s *Service) GetOnlinePairs(ctx context.Context, self *model.User) ([]OnlinePairDTO, error) {
	peers, err := s.graph.SyncedUIDs(ctx, self.UID)
	if err != nil {
		return nil, err
	}
	handles, err := s.presence.LookupMany(ctx, peers)
	if err != nil {
		return nil, err
	}
	out := make([]OnlinePairDTO, 0, len(handles))
	for _, uid := range peers {
		h, ok := handles[uid]
		if !ok {
			continue
		}
		ref := model.UserRef{UID: uid}
		if u, err := s.store.GetUser(ctx, uid); err == nil && u != nil {
			ref = u.Ref()
		}
		out = append(out, OnlinePairDTO{User: ref, CharaIdent: h.Ident})
	}
	return out, nil
}

// SetDefaultPermissions stores the defaults used to seed future pairs
// and group templates.
func (s *Service) SetDefaultPermissions(ctx context.Context, self *model.User, d model.DefaultPermissions) error {
	d.UserUID = self.UID
	return s.store.UpsertDefaultPermissions(ctx, &d)
}
