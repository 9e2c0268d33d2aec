package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SpheneDev/SpheneServer/module/sync/model"
)

// MemStore is the in-memory twin of the pg store, used by tests.
// Same contract: absence is (nil, nil), upserts are row-atomic under
// one lock.
type MemStore struct {
	mu sync.RWMutex

	users      map[string]*model.User
	pairs      map[string]map[string]struct{} // uid -> set of otherUID
	perms      map[string]*model.PermissionSet
	defaults   map[string]*model.DefaultPermissions
	groups     map[string]*model.Group
	members    map[string]map[string]*model.GroupMember // gid -> uid -> member
	groupPerms map[string]*model.GroupPreferredPermission
	profiles   map[string]*model.Profile
	uploads    map[string][]string // uid -> unfinished upload fingerprints
}

func NewMemStore() *MemStore {
	return &MemStore{
		users:      make(map[string]*model.User),
		pairs:      make(map[string]map[string]struct{}),
		perms:      make(map[string]*model.PermissionSet),
		defaults:   make(map[string]*model.DefaultPermissions),
		groups:     make(map[string]*model.Group),
		members:    make(map[string]map[string]*model.GroupMember),
		groupPerms: make(map[string]*model.GroupPreferredPermission),
		profiles:   make(map[string]*model.Profile),
		uploads:    make(map[string][]string),
	}
}

func permKey(uid, other string) string { return uid + "|" + other }
func gpKey(gid, uid string) string     { return gid + "|" + uid }

// seeding helpers for tests

func (s *MemStore) PutUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.UID] = &cp
}

func (s *MemStore) PutGroup(g *model.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.groups[g.GID] = &cp
}

func (s *MemStore) PutUpload(uid, fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[uid] = append(s.uploads[uid], fingerprint)
}

func (s *MemStore) UnfinishedUploads(uid string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uploads[uid])
}

func (s *MemStore) GetUser(_ context.Context, uid string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[uid]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *MemStore) FindUser(_ context.Context, uidOrAlias string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[uidOrAlias]; ok {
		cp := *u
		return &cp, nil
	}
	for _, u := range s.users {
		if u.Alias == uidOrAlias {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemStore) TouchLastLogin(_ context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[uid]; ok {
		u.LastLoggedIn = time.Now()
	}
	return nil
}

func (s *MemStore) AddPair(_ context.Context, uid, otherUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pairs[uid] == nil {
		s.pairs[uid] = make(map[string]struct{})
	}
	s.pairs[uid][otherUID] = struct{}{}
	return nil
}

func (s *MemStore) RemovePair(_ context.Context, uid, otherUID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pairs[uid][otherUID]; !ok {
		return false, nil
	}
	delete(s.pairs[uid], otherUID)
	return true, nil
}

func (s *MemStore) PairExists(_ context.Context, uid, otherUID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pairs[uid][otherUID]
	return ok, nil
}

func (s *MemStore) AnyPair(_ context.Context, a, b string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.pairs[a][b]; ok {
		return true, nil
	}
	_, ok := s.pairs[b][a]
	return ok, nil
}

func (s *MemStore) ListPairedUIDs(_ context.Context, uid string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.pairs[uid]))
	for other := range s.pairs[uid] {
		out = append(out, other)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemStore) ListReversePairedUIDs(_ context.Context, uid string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for owner, set := range s.pairs {
		if _, ok := set[uid]; ok {
			out = append(out, owner)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemStore) GetPermissionSet(_ context.Context, uid, otherUID string) (*model.PermissionSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.perms[permKey(uid, otherUID)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) UpsertPermissionSet(_ context.Context, p *model.PermissionSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.perms[permKey(p.UserUID, p.OtherUserUID)] = &cp
	return nil
}

func (s *MemStore) GetDefaultPermissions(_ context.Context, uid string) (*model.DefaultPermissions, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.defaults[uid]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *MemStore) UpsertDefaultPermissions(_ context.Context, d *model.DefaultPermissions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *d
	s.defaults[d.UserUID] = &cp
	return nil
}

func (s *MemStore) CreateGroup(_ context.Context, g *model.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.groups[g.GID] = &cp
	return nil
}

func (s *MemStore) CountOwnedGroups(_ context.Context, uid string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, g := range s.groups {
		if g.OwnerUID == uid {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) GetGroup(_ context.Context, gidOrAlias string) (*model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.groups[gidOrAlias]; ok {
		cp := *g
		return &cp, nil
	}
	for _, g := range s.groups {
		if g.Alias == gidOrAlias {
			cp := *g
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemStore) ListGroupMembers(_ context.Context, gid string) ([]model.GroupMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.GroupMember, 0, len(s.members[gid]))
	for _, m := range s.members[gid] {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserUID < out[j].UserUID })
	return out, nil
}

func (s *MemStore) ListGroupsForUser(_ context.Context, uid string) ([]model.GroupMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.GroupMember
	for _, byUID := range s.members {
		if m, ok := byUID[uid]; ok {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GroupGID < out[j].GroupGID })
	return out, nil
}

func (s *MemStore) CountGroupMembers(_ context.Context, gid string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members[gid]), nil
}

func (s *MemStore) CountJoinedGroups(_ context.Context, uid string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, byUID := range s.members {
		if _, ok := byUID[uid]; ok {
			n++
		}
	}
	return n, nil
}

func (s *MemStore) AddGroupMember(_ context.Context, m *model.GroupMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[m.GroupGID] == nil {
		s.members[m.GroupGID] = make(map[string]*model.GroupMember)
	}
	cp := *m
	s.members[m.GroupGID][m.UserUID] = &cp
	return nil
}

func (s *MemStore) RemoveGroupMember(_ context.Context, gid, uid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.members[gid][uid]; !ok {
		return false, nil
	}
	delete(s.members[gid], uid)
	return true, nil
}

func (s *MemStore) ListSharedGroups(_ context.Context, a, b string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for gid, byUID := range s.members {
		_, hasA := byUID[a]
		_, hasB := byUID[b]
		if hasA && hasB {
			out = append(out, gid)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemStore) GetGroupPreferredPermission(_ context.Context, gid, uid string) (*model.GroupPreferredPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.groupPerms[gpKey(gid, uid)]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) UpsertGroupPreferredPermission(_ context.Context, p *model.GroupPreferredPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.groupPerms[gpKey(p.GroupGID, p.UserUID)] = &cp
	return nil
}

func (s *MemStore) GetProfile(_ context.Context, uid string) (*model.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[uid]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemStore) UpsertProfile(_ context.Context, p *model.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.profiles[p.UserUID] = &cp
	return nil
}

func (s *MemStore) DeleteUnfinishedUploads(_ context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, uid)
	return nil
}

func (s *MemStore) Close() {}
