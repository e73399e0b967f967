package permissions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gridframe/server/internal/identity"
	"gridframe/server/pkg/errors"
)

// RecordRef identifies one record of one kind
type RecordRef struct {
	Kind string
	ID   uuid.UUID
}

// RecordMeta is the permission-relevant projection of a record. The entity
// registry resolves these so the engine never depends on concrete types.
type RecordMeta struct {
	ID         uuid.UUID
	CreatedBy  uuid.UUID
	Deleted    bool
	UserID     *uuid.UUID
	TeamID     *uuid.UUID
	References []RecordRef
}

// Resolver looks up record metadata and kind flags by name. Implemented by
// the entity manager registry (late-bound to break the dependency cycle).
type Resolver interface {
	// ResolveRecord returns nil when the record does not exist.
	ResolveRecord(ctx context.Context, kind string, id uuid.UUID) (*RecordMeta, error)
	// KindSystem reports the system flag of a kind; errors on unknown kinds.
	KindSystem(kind string) (bool, error)
}

// CreateCheck carries what the engine needs to authorize a create
type CreateCheck struct {
	Kind            string
	System          bool
	UserID          *uuid.UUID
	TeamID          *uuid.UUID
	CreateReference *RecordRef
	References      []RecordRef
}

// Engine evaluates permission decisions against the hierarchy cache and the
// grant and membership tables.
type Engine struct {
	db        *gorm.DB
	hierarchy *identity.HierarchyCache
	resolver  Resolver
	now       func() time.Time
}

// NewEngine creates a permission engine
func NewEngine(db *gorm.DB, hierarchy *identity.HierarchyCache, resolver Resolver) *Engine {
	return &Engine{db: db, hierarchy: hierarchy, resolver: resolver, now: time.Now}
}

// SetClock overrides the engine clock; tests use it for expiry cases.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Check decides whether principal holds level on (kind, recordID). The first
// granting rule wins; a nil return means granted.
func (e *Engine) Check(ctx context.Context, principal uuid.UUID, kind string, recordID uuid.UUID, level Level) error {
	visited := make(map[RecordRef]struct{})
	return e.check(ctx, principal, kind, recordID, level, visited)
}

func (e *Engine) check(ctx context.Context, principal uuid.UUID, kind string, recordID uuid.UUID, level Level, visited map[RecordRef]struct{}) error {
	ref := RecordRef{Kind: kind, ID: recordID}
	if _, seen := visited[ref]; seen {
		return errors.NewPermissionDenied("reference cycle")
	}
	visited[ref] = struct{}{}

	ids := identity.IDs()

	// ROOT bypasses every check.
	if principal == ids.Root {
		return nil
	}

	meta, err := e.resolver.ResolveRecord(ctx, kind, recordID)
	if err != nil {
		return fmt.Errorf("failed to resolve %s/%s: %w", kind, recordID, err)
	}
	// Missing and soft-deleted records are indistinguishable from absent for
	// everyone but ROOT.
	if meta == nil || meta.Deleted {
		return errors.NewNotFoundError(kind, recordID.String())
	}

	isSystemKind, err := e.resolver.KindSystem(kind)
	if err != nil {
		return fmt.Errorf("unknown kind %s: %w", kind, err)
	}
	if isSystemKind {
		if principal == ids.System {
			return nil
		}
		if level > LevelView {
			return errors.NewPermissionDenied("system kind is read-only")
		}
	}

	// SYSTEM reads everything.
	if principal == ids.System && level <= LevelView {
		return nil
	}

	switch meta.CreatedBy {
	case ids.Root:
		return errors.NewPermissionDenied("owned by root")
	case ids.System:
		if level <= LevelView {
			return nil
		}
		if principal != ids.System {
			return errors.NewPermissionDenied("system-owned record")
		}
		return nil
	case ids.Template:
		// Template-owned records are readable, executable, copyable and
		// shareable by everyone; only ROOT/SYSTEM mutate them.
		if level == LevelEdit || level == LevelDelete {
			if principal == ids.System {
				return nil
			}
			return errors.NewPermissionDenied("template-owned record")
		}
		return nil
	}

	// Direct ownership.
	if meta.UserID != nil && *meta.UserID == principal {
		return nil
	}

	// Team ownership through the hierarchy.
	if meta.TeamID != nil {
		if ok, err := e.teamGrants(ctx, principal, *meta.TeamID, level); err != nil {
			return err
		} else if ok {
			return nil
		}
	}

	// Explicit grants.
	if ok, err := e.grantAllows(ctx, principal, kind, recordID, level); err != nil {
		return err
	} else if ok {
		return nil
	}

	// Reference inheritance: any reference granting yields granted.
	for _, r := range meta.References {
		if err := e.check(ctx, principal, r.Kind, r.ID, level, visited); err == nil {
			return nil
		}
	}

	return errors.NewPermissionDenied("no rule grants " + level.String())
}

// teamGrants walks the record team's lineage for the nearest membership and
// checks role dominance against the level's minimum role.
func (e *Engine) teamGrants(ctx context.Context, principal uuid.UUID, recordTeam uuid.UUID, level Level) (bool, error) {
	memberships, err := e.activeMemberships(ctx, principal)
	if err != nil {
		return false, err
	}
	if len(memberships) == 0 {
		return false, nil
	}
	byTeam := make(map[uuid.UUID]TeamMembership, len(memberships))
	for _, m := range memberships {
		byTeam[m.TeamID] = m
	}

	minRole, ok := e.hierarchy.RoleIDByName(MinimumRoleFor(level))
	if !ok {
		return false, fmt.Errorf("minimum role %q is not seeded", MinimumRoleFor(level))
	}

	// Lineage is nearest-first, so the first matching membership is the
	// nearest one and the only one that counts.
	for _, teamID := range e.hierarchy.TeamLineage(recordTeam) {
		if m, found := byTeam[teamID]; found {
			return e.hierarchy.RoleDominates(m.RoleID, minRole), nil
		}
	}
	return false, nil
}

// grantAllows checks explicit grants targeting the principal, one of the
// principal's teams, or a role dominating one of the principal's roles.
// Earlier-expiring grants are evaluated first.
func (e *Engine) grantAllows(ctx context.Context, principal uuid.UUID, kind string, recordID uuid.UUID, level Level) (bool, error) {
	memberships, err := e.activeMemberships(ctx, principal)
	if err != nil {
		return false, err
	}
	teamIDs := make(map[uuid.UUID]struct{}, len(memberships))
	roleIDs := make(map[uuid.UUID]struct{})
	for _, m := range memberships {
		teamIDs[m.TeamID] = struct{}{}
		for _, r := range e.hierarchy.RoleAncestors(m.RoleID) {
			roleIDs[r] = struct{}{}
		}
	}

	var grants []Grant
	err = e.db.WithContext(ctx).
		Where("resource_kind = ? AND resource_id = ?", kind, recordID).
		Where("expires_at IS NULL OR expires_at > ?", e.now()).
		Order("expires_at ASC").
		Find(&grants).Error
	if err != nil {
		return false, fmt.Errorf("failed to load grants: %w", err)
	}

	for _, g := range grants {
		if !g.Allows(level) {
			continue
		}
		switch {
		case g.UserID != nil:
			if *g.UserID == principal {
				return true, nil
			}
		case g.TeamID != nil:
			if _, ok := teamIDs[*g.TeamID]; ok {
				return true, nil
			}
		case g.RoleID != nil:
			if _, ok := roleIDs[*g.RoleID]; ok {
				return true, nil
			}
		default:
			// Subject-less grants are global: they apply to every principal.
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) activeMemberships(ctx context.Context, principal uuid.UUID) ([]TeamMembership, error) {
	var memberships []TeamMembership
	err := e.db.WithContext(ctx).
		Where("user_id = ? AND enabled = ?", principal, true).
		Where("expires_at IS NULL OR expires_at > ?", e.now()).
		Find(&memberships).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}
	return memberships, nil
}

// CanCreate authorizes creation of a draft. The create-permission-reference
// requires EDIT; every other populated reference requires VIEW.
func (e *Engine) CanCreate(ctx context.Context, principal uuid.UUID, chk CreateCheck) error {
	ids := identity.IDs()
	if principal == ids.Root || principal == ids.System {
		return nil
	}
	if chk.System {
		return errors.NewPermissionDenied("system kind is read-only")
	}

	if chk.CreateReference != nil {
		if err := e.Check(ctx, principal, chk.CreateReference.Kind, chk.CreateReference.ID, LevelEdit); err != nil {
			return err
		}
	}
	for _, r := range chk.References {
		if err := e.Check(ctx, principal, r.Kind, r.ID, LevelView); err != nil {
			return err
		}
	}

	if chk.UserID != nil && *chk.UserID != principal {
		return errors.NewPermissionDenied("cannot create for another user")
	}

	if chk.TeamID != nil {
		memberships, err := e.activeMemberships(ctx, principal)
		if err != nil {
			return err
		}
		byTeam := make(map[uuid.UUID]TeamMembership, len(memberships))
		for _, m := range memberships {
			byTeam[m.TeamID] = m
		}
		minRole, ok := e.hierarchy.RoleIDByName(identity.RoleUser)
		if !ok {
			return fmt.Errorf("role %q is not seeded", identity.RoleUser)
		}
		for _, teamID := range e.hierarchy.TeamLineage(*chk.TeamID) {
			if m, found := byTeam[teamID]; found {
				if e.hierarchy.RoleDominates(m.RoleID, minRole) {
					return nil
				}
				break
			}
		}
		return errors.NewPermissionDenied("not a member of the owning team")
	}

	return nil
}
