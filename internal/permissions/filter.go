package permissions

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gridframe/server/internal/identity"
)

// FilterSpec describes the queried kind's permission-relevant shape
type FilterSpec struct {
	Kind         string
	System       bool
	HasUserOwner bool
	HasTeamOwner bool
}

// Scope is a gorm query restriction
type Scope func(*gorm.DB) *gorm.DB

func passAll(tx *gorm.DB) *gorm.DB { return tx }

func passNone(tx *gorm.DB) *gorm.DB { return tx.Where("1 = 0") }

// Filter yields a predicate restricting a list query to records the principal
// can access at the level. Reference inheritance is not expanded here: list
// results are a conservative superset over ownership, team membership and
// explicit grants, and exact callers post-filter through Check.
func (e *Engine) Filter(ctx context.Context, principal uuid.UUID, spec FilterSpec, level Level) (Scope, error) {
	ids := identity.IDs()

	if principal == ids.Root {
		return passAll, nil
	}
	if spec.System && level > LevelView {
		if principal == ids.System {
			return passAll, nil
		}
		return passNone, nil
	}
	if principal == ids.System {
		// SYSTEM reads everything; mutation filters fall through to the
		// ordinary ownership conditions below.
		if level <= LevelView {
			return passAll, nil
		}
	}

	memberships, err := e.activeMemberships(ctx, principal)
	if err != nil {
		return nil, err
	}

	// Teams whose records the principal may touch at this level: every team
	// at or below a membership whose role dominates the minimum role.
	minRole, _ := e.hierarchy.RoleIDByName(MinimumRoleFor(level))
	var teamClosure []uuid.UUID
	memberTeams := make([]uuid.UUID, 0, len(memberships))
	roleSet := make(map[uuid.UUID]struct{})
	for _, m := range memberships {
		memberTeams = append(memberTeams, m.TeamID)
		for _, r := range e.hierarchy.RoleAncestors(m.RoleID) {
			roleSet[r] = struct{}{}
		}
		if minRole != uuid.Nil && e.hierarchy.RoleDominates(m.RoleID, minRole) {
			teamClosure = append(teamClosure, e.hierarchy.TeamDescendants(m.TeamID)...)
		}
	}
	roleIDs := make([]uuid.UUID, 0, len(roleSet))
	for r := range roleSet {
		roleIDs = append(roleIDs, r)
	}

	now := e.now()
	col := grantColumn(level)

	return func(tx *gorm.DB) *gorm.DB {
		db := tx.Session(&gorm.Session{NewDB: true})

		// Root-owned records are invisible to everyone else.
		tx = tx.Where("created_by <> ?", ids.Root)
		if level > LevelView {
			tx = tx.Where("created_by <> ?", ids.System)
		}
		if level == LevelEdit || level == LevelDelete {
			tx = tx.Where("created_by <> ?", ids.Template)
		}

		grantSub := db.Model(&Grant{}).
			Select("resource_id").
			Where("resource_kind = ?", spec.Kind).
			Where("(expires_at IS NULL OR expires_at > ?)", now).
			Where(col+" = ?", true)
		subjects := db.Where("user_id = ?", principal).
			Or("user_id IS NULL AND team_id IS NULL AND role_id IS NULL")
		if len(memberTeams) > 0 {
			subjects = subjects.Or("team_id IN ?", memberTeams)
		}
		if len(roleIDs) > 0 {
			subjects = subjects.Or("role_id IN ?", roleIDs)
		}
		grantSub = grantSub.Where(subjects)

		owned := db.Where("id IN (?)", grantSub)
		if spec.HasUserOwner {
			owned = owned.Or("user_id = ?", principal)
		}
		if spec.HasTeamOwner && len(teamClosure) > 0 {
			owned = owned.Or("team_id IN ?", teamClosure)
		}
		if level <= LevelView {
			owned = owned.Or("created_by = ?", ids.System)
		}
		if level != LevelEdit && level != LevelDelete {
			owned = owned.Or("created_by = ?", ids.Template)
		}

		return tx.Where(owned)
	}, nil
}
