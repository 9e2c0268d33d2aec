package model

import "time"

// User is the lightweight in-memory reference to a durable identity.
// The relational store owns the full record.
type User struct {
	UID          string    `db:"uid"`            // opaque short id, PK
	Alias        string    `db:"alias"`          // optional vanity alias
	IsAdmin      bool      `db:"is_admin"`       // administrative role
	IsModerator  bool      `db:"is_moderator"`   // moderation role
	LastLoggedIn time.Time `db:"last_logged_in"` // refreshed on connect
}

// AliasOrUID is what gets shown to other users.
func (u *User) AliasOrUID() string {
	if u.Alias != "" {
		return u.Alias
	}
	return u.UID
}

// UserRef is the wire shape of a user reference in notifications.
type UserRef struct {
	UID   string `json:"uid"`
	Alias string `json:"alias,omitempty"`
}

func (u *User) Ref() UserRef { return UserRef{UID: u.UID, Alias: u.Alias} }

// PermissionSet is one direction of an individual pairing:
// what owner UserUID currently applies towards OtherUserUID.
// Sticky rows are owned by their user and are never overwritten by
// group-derived refreshes.
type PermissionSet struct {
	UserUID      string `db:"user_uid"`       // owner side, PK part
	OtherUserUID string `db:"other_user_uid"` // target side, PK part

	DisableAnimations bool `db:"disable_animations"`
	DisableSounds     bool `db:"disable_sounds"`
	DisableVFX        bool `db:"disable_vfx"`
	DisableVFXInDuty  bool `db:"disable_vfx_in_duty"`
	IsPaused          bool `db:"is_paused"`
	AckYou            bool `db:"ack_you"` // acknowledge visibility to the target
	Sticky            bool `db:"sticky"`  // locked against group-driven refresh
}

// Permissions is the flag subset sent over the wire.
type Permissions struct {
	DisableAnimations bool `json:"disableAnimations"`
	DisableSounds     bool `json:"disableSounds"`
	DisableVFX        bool `json:"disableVFX"`
	DisableVFXInDuty  bool `json:"disableVFXInDuty"`
	IsPaused          bool `json:"isPaused"`
	AckYou            bool `json:"ackYou"`
	Sticky            bool `json:"sticky"`
}

// Wire converts a row to its wire shape; nil means "no restrictions".
func (p *PermissionSet) Wire() Permissions {
	if p == nil {
		return Permissions{}
	}
	return Permissions{
		DisableAnimations: p.DisableAnimations,
		DisableSounds:     p.DisableSounds,
		DisableVFX:        p.DisableVFX,
		DisableVFXInDuty:  p.DisableVFXInDuty,
		IsPaused:          p.IsPaused,
		AckYou:            p.AckYou,
		Sticky:            p.Sticky,
	}
}

// Paused is nil-safe; an absent row is not paused.
func (p *PermissionSet) Paused() bool { return p != nil && p.IsPaused }

// DefaultPermissions seeds new individual pairs and group templates for
// a user. One row per user, created lazily on first connect.
type DefaultPermissions struct {
	UserUID string `db:"user_uid"` // PK

	DisableIndividualAnimations bool `db:"disable_individual_animations"`
	DisableIndividualSounds     bool `db:"disable_individual_sounds"`
	DisableIndividualVFX        bool `db:"disable_individual_vfx"`
	IndividualIsSticky          bool `db:"individual_is_sticky"`

	DisableGroupAnimations bool `db:"disable_group_animations"`
	DisableGroupSounds     bool `db:"disable_group_sounds"`
	DisableGroupVFX        bool `db:"disable_group_vfx"`
}

// Group is a syncshell: a named member set sharing permission
// templates.
type Group struct {
	GID            string `db:"gid"` // PK
	Alias          string `db:"alias"`
	OwnerUID       string `db:"owner_uid"`
	InvitesEnabled bool   `db:"invites_enabled"`
}

// GroupMember is one (group, user) membership with role flags.
type GroupMember struct {
	GroupGID    string `db:"group_gid"` // PK part
	UserUID     string `db:"user_uid"`  // PK part
	IsModerator bool   `db:"is_moderator"`
	IsPinned    bool   `db:"is_pinned"`
}

// GroupPreferredPermission is the member-supplied template used to
// seed/refresh non-sticky individual rows towards other members.
type GroupPreferredPermission struct {
	GroupGID string `db:"group_gid"` // PK part
	UserUID  string `db:"user_uid"`  // PK part

	DisableAnimations bool `db:"disable_animations"`
	DisableSounds     bool `db:"disable_sounds"`
	DisableVFX        bool `db:"disable_vfx"`
	IsPaused          bool `db:"is_paused"` // pauses this member within the group
}

// Profile is the user-authored profile text, gated on pair state.
type Profile struct {
	UserUID     string `db:"user_uid"` // PK
	Description string `db:"description"`
	IsNSFW      bool   `db:"is_nsfw"`
	Flagged     bool   `db:"flagged"`  // pending report evaluation
	Disabled    bool   `db:"disabled"` // permanently disabled
}

// PairInfo is the aggregated view of one (self, other) relationship.
type PairInfo struct {
	OtherUID   string
	OtherAlias string

	OwnPermissions   *PermissionSet // self -> other, nil when never interacted
	OtherPermissions *PermissionSet // other -> self

	OwnEntry   bool // self has a pair row towards other
	OtherEntry bool // other has a pair row towards self

	SharedGIDs []string // groups containing both, sorted ascending
}

// IndividuallyPaired means both directions of the pair row exist.
func (p *PairInfo) IndividuallyPaired() bool { return p.OwnEntry && p.OtherEntry }

// Synced is the derived sync state: individually paired with neither
// side paused, or at least one shared group. Group-side pausing is
// already folded into SharedGIDs by the graph (only groups where both
// members are unpaused survive).
func (p *PairInfo) Synced() bool {
	if p.IndividuallyPaired() && !p.OwnPermissions.Paused() && !p.OtherPermissions.Paused() {
		return true
	}
	return len(p.SharedGIDs) > 0
}
