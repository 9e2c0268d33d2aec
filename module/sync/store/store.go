package store

import (
	"context"

	"github.com/SpheneDev/SpheneServer/module/sync/model"
)

// Store is the external relational collaborator. Every method is a
// simple CRUD-style query; absence comes back as (nil, nil) or
// (false, nil), never as an error, because concurrent callers race on
// these rows routinely.
type Store interface {
	// users
	GetUser(ctx context.Context, uid string) (*model.User, error)
	// FindUser resolves by uid or alias, the way clients address peers.
	FindUser(ctx context.Context, uidOrAlias string) (*model.User, error)
	TouchLastLogin(ctx context.Context, uid string) error

	// pairs (directional rows)
	AddPair(ctx context.Context, uid, otherUID string) error
	RemovePair(ctx context.Context, uid, otherUID string) (bool, error)
	PairExists(ctx context.Context, uid, otherUID string) (bool, error)
	// AnyPair is true when a row exists in either direction.
	AnyPair(ctx context.Context, a, b string) (bool, error)
	// ListPairedUIDs returns everyone self has a pair row towards.
	ListPairedUIDs(ctx context.Context, uid string) ([]string, error)
	// ListReversePairedUIDs returns everyone with a pair row towards self.
	ListReversePairedUIDs(ctx context.Context, uid string) ([]string, error)

	// individual permissions
	GetPermissionSet(ctx context.Context, uid, otherUID string) (*model.PermissionSet, error)
	// UpsertPermissionSet is a row-atomic read-modify-write; the
	// implementation must not lose a concurrent update.
	UpsertPermissionSet(ctx context.Context, p *model.PermissionSet) error
	GetDefaultPermissions(ctx context.Context, uid string) (*model.DefaultPermissions, error)
	UpsertDefaultPermissions(ctx context.Context, d *model.DefaultPermissions) error

	// groups
	CreateGroup(ctx context.Context, g *model.Group) error
	GetGroup(ctx context.Context, gidOrAlias string) (*model.Group, error)
	CountOwnedGroups(ctx context.Context, uid string) (int, error)
	ListGroupMembers(ctx context.Context, gid string) ([]model.GroupMember, error)
	ListGroupsForUser(ctx context.Context, uid string) ([]model.GroupMember, error)
	CountGroupMembers(ctx context.Context, gid string) (int, error)
	CountJoinedGroups(ctx context.Context, uid string) (int, error)
	AddGroupMember(ctx context.Context, m *model.GroupMember) error
	RemoveGroupMember(ctx context.Context, gid, uid string) (bool, error)
	// ListSharedGroups returns gids containing both users, ascending.
	ListSharedGroups(ctx context.Context, a, b string) ([]string, error)

	// group permission templates
	GetGroupPreferredPermission(ctx context.Context, gid, uid string) (*model.GroupPreferredPermission, error)
	UpsertGroupPreferredPermission(ctx context.Context, p *model.GroupPreferredPermission) error

	// profiles
	GetProfile(ctx context.Context, uid string) (*model.Profile, error)
	UpsertProfile(ctx context.Context, p *model.Profile) error

	// uploads: discard any unfinished upload rows attributed to a
	// disconnecting user
	DeleteUnfinishedUploads(ctx context.Context, uid string) error

	Close()
}
