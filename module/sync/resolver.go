package sync

import (
	"context"

	"github.com/SpheneDev/SpheneServer/module/sync/model"
	"github.com/SpheneDev/SpheneServer/module/sync/store"
)

// Resolver computes the effective permission row one user applies
// towards another and keeps non-sticky rows in step with group
// templates. Precedence: an existing sticky row always wins; otherwise
// the template of the shared unpaused group with the lowest gid; with
// no shared group an absent row means "no restrictions".
type Resolver struct {
	store store.Store
}

func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// Effective returns the row uid currently applies towards otherUID.
// A nil result with nil error means no restrictions apply.
func (r *Resolver) Effective(ctx context.Context, uid, otherUID string) (*model.PermissionSet, error) {
	p, err := r.store.GetPermissionSet(ctx, uid, otherUID)
	if err != nil {
		return nil, err
	}
	if p != nil && p.Sticky {
		return p, nil
	}
	tmpl, err := r.groupTemplate(ctx, uid, otherUID)
	if err != nil {
		return nil, err
	}
	if tmpl != nil {
		return tmpl, nil
	}
	return p, nil
}

// groupTemplate derives a non-sticky row from uid's preferred
// permissions in the first shared unpaused group. Shared gids come
// back ascending from the store, so the selection is deterministic
// across nodes.
func (r *Resolver) groupTemplate(ctx context.Context, uid, otherUID string) (*model.PermissionSet, error) {
	gid, pref, err := r.firstUnpausedShared(ctx, uid, otherUID)
	if err != nil || gid == "" {
		return nil, err
	}
	row := &model.PermissionSet{
		UserUID:      uid,
		OtherUserUID: otherUID,
		IsPaused:     false,
		Sticky:       false,
	}
	if pref != nil {
		row.DisableAnimations = pref.DisableAnimations
		row.DisableSounds = pref.DisableSounds
		row.DisableVFX = pref.DisableVFX
	}
	return row, nil
}

// firstUnpausedShared walks shared groups in ascending gid order and
// returns the first one where neither side is group-paused, together
// with uid's template for it.
func (r *Resolver) firstUnpausedShared(ctx context.Context, uid, otherUID string) (string, *model.GroupPreferredPermission, error) {
	gids, err := r.store.ListSharedGroups(ctx, uid, otherUID)
	if err != nil {
		return "", nil, err
	}
	for _, gid := range gids {
		own, err := r.store.GetGroupPreferredPermission(ctx, gid, uid)
		if err != nil {
			return "", nil, err
		}
		if own != nil && own.IsPaused {
			continue
		}
		other, err := r.store.GetGroupPreferredPermission(ctx, gid, otherUID)
		if err != nil {
			return "", nil, err
		}
		if other != nil && other.IsPaused {
			continue
		}
		return gid, own, nil
	}
	return "", nil, nil
}

// RefreshFromGroups recomputes the non-sticky row uid holds towards
// otherUID from group templates and writes it back. Sticky rows are
// left untouched. Repeated calls with unchanged group state write the
// same row, so the operation converges.
func (r *Resolver) RefreshFromGroups(ctx context.Context, uid, otherUID string) (*model.PermissionSet, error) {
	existing, err := r.store.GetPermissionSet(ctx, uid, otherUID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Sticky {
		return existing, nil
	}
	tmpl, err := r.groupTemplate(ctx, uid, otherUID)
	if err != nil {
		return nil, err
	}
	if tmpl == nil {
		return existing, nil
	}
	if err := r.store.UpsertPermissionSet(ctx, tmpl); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// SeedIndividual creates the row uid applies towards a newly added
// individual pair from uid's defaults. An existing row is kept as-is:
// re-pairing must not reset what the user configured before.
func (r *Resolver) SeedIndividual(ctx context.Context, uid, otherUID string) (*model.PermissionSet, error) {
	existing, err := r.store.GetPermissionSet(ctx, uid, otherUID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	defaults, err := r.store.GetDefaultPermissions(ctx, uid)
	if err != nil {
		return nil, err
	}
	row := &model.PermissionSet{
		UserUID:      uid,
		OtherUserUID: otherUID,
		IsPaused:     false,
		Sticky:       true,
	}
	if defaults != nil {
		row.DisableAnimations = defaults.DisableIndividualAnimations
		row.DisableSounds = defaults.DisableIndividualSounds
		row.DisableVFX = defaults.DisableIndividualVFX
		row.Sticky = defaults.IndividualIsSticky || row.Sticky
	}
	if err := r.store.UpsertPermissionSet(ctx, row); err != nil {
		return nil, err
	}
	return row, nil
}
