package permissions

import (
	"time"

	"github.com/google/uuid"
)

// Grant gives a subject (user, team or role — at most one) explicit access to
// one record of one kind. A grant with no subject is global and applies to
// every principal. An expired grant is equivalent to absent.
type Grant struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ResourceKind string     `gorm:"not null;index:idx_grants_resource" json:"resource_kind"`
	ResourceID   uuid.UUID  `gorm:"type:uuid;not null;index:idx_grants_resource" json:"resource_id"`
	UserID       *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	TeamID       *uuid.UUID `gorm:"type:uuid;index" json:"team_id,omitempty"`
	RoleID       *uuid.UUID `gorm:"type:uuid;index" json:"role_id,omitempty"`
	CanView      bool       `json:"can_view"`
	CanExecute   bool       `json:"can_execute"`
	CanCopy      bool       `json:"can_copy"`
	CanEdit      bool       `json:"can_edit"`
	CanDelete    bool       `json:"can_delete"`
	CanShare     bool       `json:"can_share"`
	ExpiresAt    *time.Time `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CreatedBy    uuid.UUID  `gorm:"type:uuid" json:"created_by"`
}

// IsExpired checks whether the grant has lapsed
func (g *Grant) IsExpired(now time.Time) bool {
	return g.ExpiresAt != nil && !g.ExpiresAt.After(now)
}

// Allows reports whether the grant's boolean for the level is set
func (g *Grant) Allows(level Level) bool {
	switch level {
	case LevelView:
		return g.CanView
	case LevelExecute:
		return g.CanExecute
	case LevelCopy:
		return g.CanCopy
	case LevelEdit:
		return g.CanEdit
	case LevelDelete:
		return g.CanDelete
	case LevelShare:
		return g.CanShare
	default:
		return false
	}
}

// SubjectCount returns how many subject columns are populated; valid grants
// have exactly one, except global grants which have none.
func (g *Grant) SubjectCount() int {
	n := 0
	if g.UserID != nil {
		n++
	}
	if g.TeamID != nil {
		n++
	}
	if g.RoleID != nil {
		n++
	}
	return n
}

// TeamMembership binds a principal to a team with a role. Disabled or
// expired memberships are equivalent to absent.
type TeamMembership struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index:idx_membership_user" json:"user_id"`
	TeamID    uuid.UUID  `gorm:"type:uuid;not null;index:idx_membership_team" json:"team_id"`
	RoleID    uuid.UUID  `gorm:"type:uuid;not null" json:"role_id"`
	Enabled   bool       `gorm:"not null" json:"enabled"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive reports whether the membership currently counts
func (m *TeamMembership) IsActive(now time.Time) bool {
	if !m.Enabled {
		return false
	}
	return m.ExpiresAt == nil || m.ExpiresAt.After(now)
}
