package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/SpheneDev/SpheneServer/module/sync/model"
)

// PgStore implements Store on postgres through pgxpool. Upserts use
// INSERT ... ON CONFLICT so a concurrent group event and user edit
// cannot produce a lost update or a half-written row.
type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(ctx context.Context, dsn string) (*PgStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "store: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "store: ping")
	}
	return &PgStore{pool: pool}, nil
}

func (s *PgStore) Close() { s.pool.Close() }

func (s *PgStore) GetUser(ctx context.Context, uid string) (*model.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT uid, COALESCE(alias,''), is_admin, is_moderator, last_logged_in
		   FROM users WHERE uid = $1`, uid)
	return scanUser(row)
}

func (s *PgStore) FindUser(ctx context.Context, uidOrAlias string) (*model.User, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT uid, COALESCE(alias,''), is_admin, is_moderator, last_logged_in
		   FROM users WHERE uid = $1 OR alias = $1`, uidOrAlias)
	return scanUser(row)
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.UID, &u.Alias, &u.IsAdmin, &u.IsModerator, &u.LastLoggedIn)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PgStore) TouchLastLogin(ctx context.Context, uid string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET last_logged_in = now() WHERE uid = $1`, uid)
	return err
}

func (s *PgStore) AddPair(ctx context.Context, uid, otherUID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO client_pairs (user_uid, other_user_uid)
		 VALUES ($1, $2) ON CONFLICT DO NOTHING`, uid, otherUID)
	return err
}

func (s *PgStore) RemovePair(ctx context.Context, uid, otherUID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM client_pairs WHERE user_uid = $1 AND other_user_uid = $2`, uid, otherUID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PgStore) PairExists(ctx context.Context, uid, otherUID string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM client_pairs WHERE user_uid = $1 AND other_user_uid = $2)`,
		uid, otherUID).Scan(&ok)
	return ok, err
}

func (s *PgStore) AnyPair(ctx context.Context, a, b string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM client_pairs
		  WHERE (user_uid = $1 AND other_user_uid = $2)
		     OR (user_uid = $2 AND other_user_uid = $1))`, a, b).Scan(&ok)
	return ok, err
}

func (s *PgStore) ListPairedUIDs(ctx context.Context, uid string) ([]string, error) {
	return s.listStrings(ctx,
		`SELECT other_user_uid FROM client_pairs WHERE user_uid = $1 ORDER BY other_user_uid`, uid)
}

func (s *PgStore) ListReversePairedUIDs(ctx context.Context, uid string) ([]string, error) {
	return s.listStrings(ctx,
		`SELECT user_uid FROM client_pairs WHERE other_user_uid = $1 ORDER BY user_uid`, uid)
}

func (s *PgStore) listStrings(ctx context.Context, sql string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PgStore) GetPermissionSet(ctx context.Context, uid, otherUID string) (*model.PermissionSet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_uid, other_user_uid, disable_animations, disable_sounds,
		        disable_vfx, disable_vfx_in_duty, is_paused, ack_you, sticky
		   FROM permission_sets WHERE user_uid = $1 AND other_user_uid = $2`, uid, otherUID)
	var p model.PermissionSet
	err := row.Scan(&p.UserUID, &p.OtherUserUID, &p.DisableAnimations, &p.DisableSounds,
		&p.DisableVFX, &p.DisableVFXInDuty, &p.IsPaused, &p.AckYou, &p.Sticky)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PgStore) UpsertPermissionSet(ctx context.Context, p *model.PermissionSet) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO permission_sets
		   (user_uid, other_user_uid, disable_animations, disable_sounds,
		    disable_vfx, disable_vfx_in_duty, is_paused, ack_you, sticky)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (user_uid, other_user_uid) DO UPDATE SET
		   disable_animations = EXCLUDED.disable_animations,
		   disable_sounds = EXCLUDED.disable_sounds,
		   disable_vfx = EXCLUDED.disable_vfx,
		   disable_vfx_in_duty = EXCLUDED.disable_vfx_in_duty,
		   is_paused = EXCLUDED.is_paused,
		   ack_you = EXCLUDED.ack_you,
		   sticky = EXCLUDED.sticky`,
		p.UserUID, p.OtherUserUID, p.DisableAnimations, p.DisableSounds,
		p.DisableVFX, p.DisableVFXInDuty, p.IsPaused, p.AckYou, p.Sticky)
	return err
}

func (s *PgStore) GetDefaultPermissions(ctx context.Context, uid string) (*model.DefaultPermissions, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_uid, disable_individual_animations, disable_individual_sounds,
		        disable_individual_vfx, individual_is_sticky,
		        disable_group_animations, disable_group_sounds, disable_group_vfx
		   FROM default_permissions WHERE user_uid = $1`, uid)
	var d model.DefaultPermissions
	err := row.Scan(&d.UserUID, &d.DisableIndividualAnimations, &d.DisableIndividualSounds,
		&d.DisableIndividualVFX, &d.IndividualIsSticky,
		&d.DisableGroupAnimations, &d.DisableGroupSounds, &d.DisableGroupVFX)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PgStore) UpsertDefaultPermissions(ctx context.Context, d *model.DefaultPermissions) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO default_permissions
		   (user_uid, disable_individual_animations, disable_individual_sounds,
		    disable_individual_vfx, individual_is_sticky,
		    disable_group_animations, disable_group_sounds, disable_group_vfx)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (user_uid) DO UPDATE SET
		   disable_individual_animations = EXCLUDED.disable_individual_animations,
		   disable_individual_sounds = EXCLUDED.disable_individual_sounds,
		   disable_individual_vfx = EXCLUDED.disable_individual_vfx,
		   individual_is_sticky = EXCLUDED.individual_is_sticky,
		   disable_group_animations = EXCLUDED.disable_group_animations,
		   disable_group_sounds = EXCLUDED.disable_group_sounds,
		   disable_group_vfx = EXCLUDED.disable_group_vfx`,
		d.UserUID, d.DisableIndividualAnimations, d.DisableIndividualSounds,
		d.DisableIndividualVFX, d.IndividualIsSticky,
		d.DisableGroupAnimations, d.DisableGroupSounds, d.DisableGroupVFX)
	return err
}

func (s *PgStore) CreateGroup(ctx context.Context, g *model.Group) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO groups (gid, alias, owner_uid, invites_enabled)
		 VALUES ($1, NULLIF($2,''), $3, $4)`,
		g.GID, g.Alias, g.OwnerUID, g.InvitesEnabled)
	return err
}

func (s *PgStore) CountOwnedGroups(ctx context.Context, uid string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM groups WHERE owner_uid = $1`, uid).Scan(&n)
	return n, err
}

func (s *PgStore) GetGroup(ctx context.Context, gidOrAlias string) (*model.Group, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT gid, COALESCE(alias,''), owner_uid, invites_enabled
		   FROM groups WHERE gid = $1 OR alias = $1`, gidOrAlias)
	var g model.Group
	err := row.Scan(&g.GID, &g.Alias, &g.OwnerUID, &g.InvitesEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PgStore) ListGroupMembers(ctx context.Context, gid string) ([]model.GroupMember, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT group_gid, user_uid, is_moderator, is_pinned
		   FROM group_members WHERE group_gid = $1 ORDER BY user_uid`, gid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMembers(rows)
}

func (s *PgStore) ListGroupsForUser(ctx context.Context, uid string) ([]model.GroupMember, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT group_gid, user_uid, is_moderator, is_pinned
		   FROM group_members WHERE user_uid = $1 ORDER BY group_gid`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMembers(rows)
}

func scanMembers(rows pgx.Rows) ([]model.GroupMember, error) {
	var out []model.GroupMember
	for rows.Next() {
		var m model.GroupMember
		if err := rows.Scan(&m.GroupGID, &m.UserUID, &m.IsModerator, &m.IsPinned); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PgStore) CountGroupMembers(ctx context.Context, gid string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM group_members WHERE group_gid = $1`, gid).Scan(&n)
	return n, err
}

func (s *PgStore) CountJoinedGroups(ctx context.Context, uid string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM group_members WHERE user_uid = $1`, uid).Scan(&n)
	return n, err
}

func (s *PgStore) AddGroupMember(ctx context.Context, m *model.GroupMember) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO group_members (group_gid, user_uid, is_moderator, is_pinned)
		 VALUES ($1,$2,$3,$4) ON CONFLICT DO NOTHING`,
		m.GroupGID, m.UserUID, m.IsModerator, m.IsPinned)
	return err
}

func (s *PgStore) RemoveGroupMember(ctx context.Context, gid, uid string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM group_members WHERE group_gid = $1 AND user_uid = $2`, gid, uid)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PgStore) ListSharedGroups(ctx context.Context, a, b string) ([]string, error) {
	return s.listStrings(ctx,
		`SELECT m1.group_gid FROM group_members m1
		   JOIN group_members m2 ON m1.group_gid = m2.group_gid
		  WHERE m1.user_uid = $1 AND m2.user_uid = $2
		  ORDER BY m1.group_gid`, a, b)
}

func (s *PgStore) GetGroupPreferredPermission(ctx context.Context, gid, uid string) (*model.GroupPreferredPermission, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT group_gid, user_uid, disable_animations, disable_sounds, disable_vfx, is_paused
		   FROM group_preferred_permissions WHERE group_gid = $1 AND user_uid = $2`, gid, uid)
	var p model.GroupPreferredPermission
	err := row.Scan(&p.GroupGID, &p.UserUID, &p.DisableAnimations, &p.DisableSounds,
		&p.DisableVFX, &p.IsPaused)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PgStore) UpsertGroupPreferredPermission(ctx context.Context, p *model.GroupPreferredPermission) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO group_preferred_permissions
		   (group_gid, user_uid, disable_animations, disable_sounds, disable_vfx, is_paused)
		 VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (group_gid, user_uid) DO UPDATE SET
		   disable_animations = EXCLUDED.disable_animations,
		   disable_sounds = EXCLUDED.disable_sounds,
		   disable_vfx = EXCLUDED.disable_vfx,
		   is_paused = EXCLUDED.is_paused`,
		p.GroupGID, p.UserUID, p.DisableAnimations, p.DisableSounds, p.DisableVFX, p.IsPaused)
	return err
}

func (s *PgStore) GetProfile(ctx context.Context, uid string) (*model.Profile, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT user_uid, COALESCE(description,''), is_nsfw, flagged, disabled
		   FROM profiles WHERE user_uid = $1`, uid)
	var p model.Profile
	err := row.Scan(&p.UserUID, &p.Description, &p.IsNSFW, &p.Flagged, &p.Disabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PgStore) UpsertProfile(ctx context.Context, p *model.Profile) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO profiles (user_uid, description, is_nsfw, flagged, disabled)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (user_uid) DO UPDATE SET
		   description = EXCLUDED.description,
		   is_nsfw = EXCLUDED.is_nsfw`,
		p.UserUID, p.Description, p.IsNSFW, p.Flagged, p.Disabled)
	return err
}

func (s *PgStore) DeleteUnfinishedUploads(ctx context.Context, uid string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM files WHERE uploader_uid = $1 AND NOT uploaded`, uid)
	return err
}
