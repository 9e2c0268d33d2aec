package sync

import (
	"context"
	"sort"

	"github.com/SpheneDev/SpheneServer/module/sync/model"
	"github.com/SpheneDev/SpheneServer/module/sync/store"
)

// Graph answers "who is synced with whom". Two users are synced when
// they are individually paired with neither direction paused, or when
// they share at least one group in which neither is group-paused.
type Graph struct {
	store store.Store
}

func NewGraph(st store.Store) *Graph {
	return &Graph{store: st}
}

// unpausedSharedGIDs filters the shared groups of (a, b) down to those
// where neither side set IsPaused on its group template.
func (g *Graph) unpausedSharedGIDs(ctx context.Context, a, b string) ([]string, error) {
	gids, err := g.store.ListSharedGroups(ctx, a, b)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, gid := range gids {
		pa, err := g.store.GetGroupPreferredPermission(ctx, gid, a)
		if err != nil {
			return nil, err
		}
		if pa != nil && pa.IsPaused {
			continue
		}
		pb, err := g.store.GetGroupPreferredPermission(ctx, gid, b)
		if err != nil {
			return nil, err
		}
		if pb != nil && pb.IsPaused {
			continue
		}
		out = append(out, gid)
	}
	return out, nil
}

// PairInfo aggregates everything one side needs to render the
// relationship with other: both pair directions, both permission rows
// and the surviving shared groups.
func (g *Graph) PairInfo(ctx context.Context, selfUID, otherUID string) (*model.PairInfo, error) {
	info := &model.PairInfo{OtherUID: otherUID}

	if u, err := g.store.GetUser(ctx, otherUID); err != nil {
		return nil, err
	} else if u != nil {
		info.OtherAlias = u.Alias
	}

	var err error
	if info.OwnEntry, err = g.store.PairExists(ctx, selfUID, otherUID); err != nil {
		return nil, err
	}
	if info.OtherEntry, err = g.store.PairExists(ctx, otherUID, selfUID); err != nil {
		return nil, err
	}
	if info.OwnPermissions, err = g.store.GetPermissionSet(ctx, selfUID, otherUID); err != nil {
		return nil, err
	}
	if info.OtherPermissions, err = g.store.GetPermissionSet(ctx, otherUID, selfUID); err != nil {
		return nil, err
	}
	if info.SharedGIDs, err = g.unpausedSharedGIDs(ctx, selfUID, otherUID); err != nil {
		return nil, err
	}
	return info, nil
}

// Synced reports whether a and b currently see each other's data.
func (g *Graph) Synced(ctx context.Context, a, b string) (bool, error) {
	info, err := g.PairInfo(ctx, a, b)
	if err != nil {
		return false, err
	}
	return info.Synced(), nil
}

// RelatedUIDs is every user uid has any relationship with: either pair
// direction or a shared group. Sorted ascending, self excluded.
func (g *Graph) RelatedUIDs(ctx context.Context, uid string) ([]string, error) {
	seen := make(map[string]struct{})

	own, err := g.store.ListPairedUIDs(ctx, uid)
	if err != nil {
		return nil, err
	}
	for _, u := range own {
		seen[u] = struct{}{}
	}
	reverse, err := g.store.ListReversePairedUIDs(ctx, uid)
	if err != nil {
		return nil, err
	}
	for _, u := range reverse {
		seen[u] = struct{}{}
	}

	memberships, err := g.store.ListGroupsForUser(ctx, uid)
	if err != nil {
		return nil, err
	}
	for _, m := range memberships {
		members, err := g.store.ListGroupMembers(ctx, m.GroupGID)
		if err != nil {
			return nil, err
		}
		for _, gm := range members {
			seen[gm.UserUID] = struct{}{}
		}
	}

	delete(seen, uid)
	out := make([]string, 0, len(seen))
	for u := range seen {
		out = append(out, u)
	}
	sort.Strings(out)
	return out, nil
}

// SyncedUIDs is RelatedUIDs filtered to users currently synced with
// uid. This is the fan-out set for data pushes and presence
// transitions.
func (g *Graph) SyncedUIDs(ctx context.Context, uid string) ([]string, error) {
	related, err := g.RelatedUIDs(ctx, uid)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, other := range related {
		ok, err := g.Synced(ctx, uid, other)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, other)
		}
	}
	return out, nil
}
