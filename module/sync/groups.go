package sync

import (
	"context"

	"github.com/SpheneDev/SpheneServer/global/config"
	"github.com/SpheneDev/SpheneServer/logger"
	"github.com/SpheneDev/SpheneServer/module/sync/model"
	"github.com/SpheneDev/SpheneServer/service/notify"
	"github.com/SpheneDev/SpheneServer/tools/errs"
	"github.com/SpheneDev/SpheneServer/tools/ids"
)

// GroupPermissionDTO is the member-facing shape of a group template.
type GroupPermissionDTO struct {
	DisableAnimations bool `json:"disableAnimations"`
	DisableSounds     bool `json:"disableSounds"`
	DisableVFX        bool `json:"disableVFX"`
	IsPaused          bool `json:"isPaused"`
}

// GroupDTO is what the creator gets back for a fresh group.
type GroupDTO struct {
	GID      string `json:"gid"`
	OwnerUID string `json:"ownerUid"`
}

// CreateGroup opens a new syncshell owned by self, with self as its
// first member. Creation counts against both the owned-group and the
// joined-group limits.
func (s *Service) CreateGroup(ctx context.Context, self *model.User) (*GroupDTO, error) {
	cfg := config.Get()
	owned, err := s.store.CountOwnedGroups(ctx, self.UID)
	if err != nil {
		return nil, err
	}
	if owned >= cfg.MaxGroupsCreatedByUser {
		return nil, errs.ErrNotAllowed.WithDetail("owned group limit reached")
	}
	joined, err := s.store.CountJoinedGroups(ctx, self.UID)
	if err != nil {
		return nil, err
	}
	if joined >= cfg.MaxJoinedGroupsByUser {
		return nil, errs.ErrNotAllowed.WithDetail("joined group limit reached")
	}

	group := &model.Group{
		GID:            "SSS-" + ids.GenerateString(),
		OwnerUID:       self.UID,
		InvitesEnabled: true,
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	if err := s.store.AddGroupMember(ctx, &model.GroupMember{
		GroupGID: group.GID, UserUID: self.UID, IsPinned: true,
	}); err != nil {
		return nil, err
	}
	if err := s.seedGroupTemplate(ctx, group.GID, self.UID); err != nil {
		return nil, err
	}

	s.notifyUser(ctx, self.UID, notify.Envelope{
		Kind:    notify.KindGroupJoined,
		Payload: notify.GroupPayload{GID: group.GID, User: self.Ref()},
	})
	return &GroupDTO{GID: group.GID, OwnerUID: self.UID}, nil
}

// syncedWith snapshots self's sync state towards every listed member.
func (s *Service) syncedWith(ctx context.Context, selfUID string, members []model.GroupMember) (map[string]bool, error) {
	out := make(map[string]bool, len(members))
	for _, m := range members {
		if m.UserUID == selfUID {
			continue
		}
		ok, err := s.graph.Synced(ctx, selfUID, m.UserUID)
		if err != nil {
			return nil, err
		}
		out[m.UserUID] = ok
	}
	return out, nil
}

// JoinGroup adds self to a group, seeds a template from self's
// defaults, refreshes non-sticky rows towards every member, and
// surfaces the members that just became visible.
func (s *Service) JoinGroup(ctx context.Context, self *model.User, gidOrAlias string) error {
	group, err := s.store.GetGroup(ctx, gidOrAlias)
	if err != nil {
		return err
	}
	if group == nil || !group.InvitesEnabled {
		return errs.ErrNotAllowed.WithDetail("cannot join " + gidOrAlias)
	}

	members, err := s.store.ListGroupMembers(ctx, group.GID)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.UserUID == self.UID {
			return errs.ErrNotAllowed.WithDetail("already a member of " + group.GID)
		}
	}

	cfg := config.Get()
	joined, err := s.store.CountJoinedGroups(ctx, self.UID)
	if err != nil {
		return err
	}
	if joined >= cfg.MaxJoinedGroupsByUser {
		return errs.ErrNotAllowed.WithDetail("joined group limit reached")
	}
	if len(members) >= cfg.MaxGroupUserCount {
		return errs.ErrNotAllowed.WithDetail("group is full")
	}

	// boundary detection needs the pre-join state
	syncedBefore, err := s.syncedWith(ctx, self.UID, members)
	if err != nil {
		return err
	}

	if err := s.store.AddGroupMember(ctx, &model.GroupMember{GroupGID: group.GID, UserUID: self.UID}); err != nil {
		return err
	}
	if err := s.seedGroupTemplate(ctx, group.GID, self.UID); err != nil {
		return err
	}

	joinedEnv := notify.Envelope{
		Kind:    notify.KindGroupJoined,
		Payload: notify.GroupPayload{GID: group.GID, User: self.Ref()},
	}
	s.notifyUser(ctx, self.UID, joinedEnv)

	for _, m := range members {
		if _, err := s.resolver.RefreshFromGroups(ctx, self.UID, m.UserUID); err != nil {
			return err
		}
		if _, err := s.resolver.RefreshFromGroups(ctx, m.UserUID, self.UID); err != nil {
			return err
		}
		s.notifyUser(ctx, m.UserUID, joinedEnv)

		if syncedBefore[m.UserUID] {
			continue
		}
		nowSynced, err := s.graph.Synced(ctx, self.UID, m.UserUID)
		if err != nil {
			return err
		}
		if !nowSynced {
			continue
		}
		other, err := s.store.GetUser(ctx, m.UserUID)
		if err != nil {
			return err
		}
		if other != nil {
			s.crossNotifyOnline(ctx, self, other)
		}
	}
	return nil
}

// seedGroupTemplate creates self's template for a freshly joined group
// from the group half of the defaults. An existing template (rejoin)
// is kept.
func (s *Service) seedGroupTemplate(ctx context.Context, gid, uid string) error {
	existing, err := s.store.GetGroupPreferredPermission(ctx, gid, uid)
	if err != nil || existing != nil {
		return err
	}
	tmpl := &model.GroupPreferredPermission{GroupGID: gid, UserUID: uid}
	defaults, err := s.store.GetDefaultPermissions(ctx, uid)
	if err != nil {
		return err
	}
	if defaults != nil {
		tmpl.DisableAnimations = defaults.DisableGroupAnimations
		tmpl.DisableSounds = defaults.DisableGroupSounds
		tmpl.DisableVFX = defaults.DisableGroupVFX
	}
	return s.store.UpsertGroupPreferredPermission(ctx, tmpl)
}

// LeaveGroup removes self from a group. Members that are no longer
// reachable through any pair or group drop offline on both sides.
func (s *Service) LeaveGroup(ctx context.Context, self *model.User, gid string) error {
	members, err := s.store.ListGroupMembers(ctx, gid)
	if err != nil {
		return err
	}
	syncedBefore, err := s.syncedWith(ctx, self.UID, members)
	if err != nil {
		return err
	}

	removed, err := s.store.RemoveGroupMember(ctx, gid, self.UID)
	if err != nil {
		return err
	}
	if !removed {
		return errs.ErrNotAllowed.WithDetail("not a member of " + gid)
	}

	leftEnv := notify.Envelope{
		Kind:    notify.KindGroupLeft,
		Payload: notify.GroupPayload{GID: gid, User: self.Ref()},
	}
	s.notifyUser(ctx, self.UID, leftEnv)

	for _, m := range members {
		if m.UserUID == self.UID {
			continue
		}
		s.notifyUser(ctx, m.UserUID, leftEnv)
		if !syncedBefore[m.UserUID] {
			continue
		}
		stillSynced, err := s.graph.Synced(ctx, self.UID, m.UserUID)
		if err != nil {
			return err
		}
		if stillSynced {
			continue
		}
		other, err := s.store.GetUser(ctx, m.UserUID)
		if err != nil {
			return err
		}
		if other != nil {
			s.crossNotifyOffline(ctx, self, other)
		}
	}
	return nil
}

// SetGroupPermission rewrites self's template for a group and pushes
// the refreshed non-sticky rows out to every member. Pausing or
// unpausing within the group can move members across the sync
// boundary.
func (s *Service) SetGroupPermission(ctx context.Context, self *model.User, gid string, pref GroupPermissionDTO) error {
	members, err := s.store.ListGroupMembers(ctx, gid)
	if err != nil {
		return err
	}
	isMember := false
	for _, m := range members {
		if m.UserUID == self.UID {
			isMember = true
			break
		}
	}
	if !isMember {
		return errs.ErrNotAllowed.WithDetail("not a member of " + gid)
	}

	syncedBefore, err := s.syncedWith(ctx, self.UID, members)
	if err != nil {
		return err
	}

	tmpl := &model.GroupPreferredPermission{
		GroupGID:          gid,
		UserUID:           self.UID,
		DisableAnimations: pref.DisableAnimations,
		DisableSounds:     pref.DisableSounds,
		DisableVFX:        pref.DisableVFX,
		IsPaused:          pref.IsPaused,
	}
	if err := s.store.UpsertGroupPreferredPermission(ctx, tmpl); err != nil {
		return err
	}

	for _, m := range members {
		if m.UserUID == self.UID {
			continue
		}
		refreshed, err := s.resolver.RefreshFromGroups(ctx, self.UID, m.UserUID)
		if err != nil {
			return err
		}
		if _, err := s.resolver.RefreshFromGroups(ctx, m.UserUID, self.UID); err != nil {
			return err
		}
		if refreshed != nil {
			s.notifyUser(ctx, m.UserUID, notify.Envelope{
				Kind:    notify.KindPermissionUpdate,
				Payload: notify.PermissionPayload{User: self.Ref(), Permissions: refreshed.Wire()},
			})
		}

		nowSynced, err := s.graph.Synced(ctx, self.UID, m.UserUID)
		if err != nil {
			return err
		}
		if syncedBefore[m.UserUID] == nowSynced {
			continue
		}
		other, err := s.store.GetUser(ctx, m.UserUID)
		if err != nil {
			return err
		}
		if other == nil {
			logger.Warnf("[sync] group %s member %s has no user row", gid, m.UserUID)
			continue
		}
		if nowSynced {
			s.crossNotifyOnline(ctx, self, other)
		} else {
			s.crossNotifyOffline(ctx, self, other)
		}
	}
	return nil
}
