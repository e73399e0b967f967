package identity

import (
	"time"

	"github.com/google/uuid"
)

// Well-known role names. Additional roles may be created at runtime; these
// three always exist after seeding.
const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperadmin = "superadmin"
)

// Role represents a node in the role forest. A role dominates another iff it
// is an ancestor of it (or equal) in the forest.
type Role struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string     `gorm:"uniqueIndex;not null" json:"name"`
	ParentRoleID *uuid.UUID `gorm:"type:uuid;index" json:"parent_role_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// Principal is an authenticated subject. The three distinguished principals
// (ROOT, SYSTEM, TEMPLATE) are seeded with the configured IDs; audit fields
// always reference a row in this table.
type Principal struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name      string    `gorm:"uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Team represents a node in the team forest
type Team struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string     `gorm:"not null" json:"name"`
	ParentTeamID *uuid.UUID `gorm:"type:uuid;index" json:"parent_team_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
