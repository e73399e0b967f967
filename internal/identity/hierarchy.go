package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// snapshot is an immutable view of both forests. Readers always observe a
// consistent snapshot; Invalidate swaps in a new one atomically.
type snapshot struct {
	roleParent map[uuid.UUID]*uuid.UUID
	roleByName map[string]uuid.UUID
	teamParent map[uuid.UUID]*uuid.UUID
	teamKids   map[uuid.UUID][]uuid.UUID
}

// HierarchyCache caches the role and team forests. Structural changes to
// roles or teams must call Invalidate.
type HierarchyCache struct {
	db       *gorm.DB
	maxDepth int

	mu   sync.RWMutex
	snap *snapshot
}

// NewHierarchyCache creates an unloaded cache; call Load before use.
func NewHierarchyCache(db *gorm.DB, maxTeamDepth int) *HierarchyCache {
	return &HierarchyCache{db: db, maxDepth: maxTeamDepth}
}

// Load reads both forests from the database and validates them. A cycle in
// either forest is a fatal configuration error.
func (c *HierarchyCache) Load(ctx context.Context) error {
	var roles []Role
	if err := c.db.WithContext(ctx).Find(&roles).Error; err != nil {
		return fmt.Errorf("failed to load roles: %w", err)
	}
	var teams []Team
	if err := c.db.WithContext(ctx).Find(&teams).Error; err != nil {
		return fmt.Errorf("failed to load teams: %w", err)
	}

	snap := &snapshot{
		roleParent: make(map[uuid.UUID]*uuid.UUID, len(roles)),
		roleByName: make(map[string]uuid.UUID, len(roles)),
		teamParent: make(map[uuid.UUID]*uuid.UUID, len(teams)),
		teamKids:   make(map[uuid.UUID][]uuid.UUID),
	}
	for _, r := range roles {
		snap.roleParent[r.ID] = r.ParentRoleID
		snap.roleByName[r.Name] = r.ID
	}
	for _, t := range teams {
		snap.teamParent[t.ID] = t.ParentTeamID
		if t.ParentTeamID != nil {
			snap.teamKids[*t.ParentTeamID] = append(snap.teamKids[*t.ParentTeamID], t.ID)
		}
	}

	if id, ok := detectCycle(snap.roleParent, len(snap.roleParent)+1); ok {
		return fmt.Errorf("role hierarchy contains a cycle through %s", id)
	}
	if id, ok := detectCycle(snap.teamParent, c.maxDepth); ok {
		return fmt.Errorf("team hierarchy exceeds depth %d at %s", c.maxDepth, id)
	}

	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
	return nil
}

// Invalidate reloads both forests. Readers keep seeing the old snapshot
// until the reload succeeds.
func (c *HierarchyCache) Invalidate(ctx context.Context) error {
	return c.Load(ctx)
}

func (c *HierarchyCache) snapshot() *snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// detectCycle walks every parent chain up to maxSteps; exceeding it means a
// cycle (or, for teams, a too-deep chain).
func detectCycle(parent map[uuid.UUID]*uuid.UUID, maxSteps int) (uuid.UUID, bool) {
	for start := range parent {
		cur := start
		for steps := 0; ; steps++ {
			p := parent[cur]
			if p == nil {
				break
			}
			if steps >= maxSteps {
				return start, true
			}
			cur = *p
		}
	}
	return uuid.Nil, false
}

// RoleDominates reports whether role a dominates role b: a is b or an
// ancestor of b in the role forest.
func (c *HierarchyCache) RoleDominates(a, b uuid.UUID) bool {
	snap := c.snapshot()
	if snap == nil {
		return false
	}
	cur := b
	for steps := 0; steps <= len(snap.roleParent); steps++ {
		if cur == a {
			return true
		}
		p, ok := snap.roleParent[cur]
		if !ok || p == nil {
			return false
		}
		cur = *p
	}
	return false
}

// RoleIDByName resolves a role name against the cached forest
func (c *HierarchyCache) RoleIDByName(name string) (uuid.UUID, bool) {
	snap := c.snapshot()
	if snap == nil {
		return uuid.Nil, false
	}
	id, ok := snap.roleByName[name]
	return id, ok
}

// RoleAncestors returns the role and its ancestors, nearest first.
func (c *HierarchyCache) RoleAncestors(roleID uuid.UUID) []uuid.UUID {
	snap := c.snapshot()
	if snap == nil {
		return nil
	}
	var out []uuid.UUID
	cur := roleID
	for steps := 0; steps <= len(snap.roleParent); steps++ {
		if _, ok := snap.roleParent[cur]; !ok {
			break
		}
		out = append(out, cur)
		p := snap.roleParent[cur]
		if p == nil {
			break
		}
		cur = *p
	}
	return out
}

// TeamLineage returns the team and its ancestors, nearest first, bounded by
// the configured depth.
func (c *HierarchyCache) TeamLineage(teamID uuid.UUID) []uuid.UUID {
	snap := c.snapshot()
	if snap == nil {
		return nil
	}
	var out []uuid.UUID
	cur := teamID
	for depth := 0; depth < c.maxDepth; depth++ {
		if _, ok := snap.teamParent[cur]; !ok {
			break
		}
		out = append(out, cur)
		p := snap.teamParent[cur]
		if p == nil {
			break
		}
		cur = *p
	}
	return out
}

// TeamDescendants returns the team and every team below it, bounded by the
// configured depth.
func (c *HierarchyCache) TeamDescendants(teamID uuid.UUID) []uuid.UUID {
	snap := c.snapshot()
	if snap == nil {
		return nil
	}
	if _, ok := snap.teamParent[teamID]; !ok {
		return nil
	}
	out := []uuid.UUID{teamID}
	frontier := []uuid.UUID{teamID}
	for depth := 1; depth < c.maxDepth && len(frontier) > 0; depth++ {
		var next []uuid.UUID
		for _, id := range frontier {
			next = append(next, snap.teamKids[id]...)
		}
		out = append(out, next...)
		frontier = next
	}
	return out
}

// MaxTeamDepth returns the configured inheritance depth bound
func (c *HierarchyCache) MaxTeamDepth() int {
	return c.maxDepth
}
