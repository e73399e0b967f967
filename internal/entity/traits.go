package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base carries the primary key every managed record has
type Base struct {
	ID uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
}

func (b *Base) GetID() uuid.UUID   { return b.ID }
func (b *Base) SetID(id uuid.UUID) { b.ID = id }

// Audit carries creation and mutation stamps. The pipeline stamps these
// itself; gorm's automatic timestamps are disabled so audit semantics stay
// in one place.
type Audit struct {
	CreatedAt time.Time  `gorm:"autoCreateTime:false;index" json:"created_at"`
	CreatedBy uuid.UUID  `gorm:"type:uuid" json:"created_by"`
	UpdatedAt *time.Time `gorm:"autoUpdateTime:false" json:"updated_at,omitempty"`
	UpdatedBy *uuid.UUID `gorm:"type:uuid" json:"updated_by,omitempty"`
}

func (a *Audit) AuditFields() *Audit { return a }

// SoftDelete marks logical deletion. Rows with DeletedAt set are invisible
// to every principal except ROOT.
type SoftDelete struct {
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
	DeletedBy *uuid.UUID     `gorm:"type:uuid" json:"deleted_by,omitempty"`
}

func (s *SoftDelete) SoftDeleteFields() *SoftDelete { return s }

// UserOwned gives a record a direct owning user
type UserOwned struct {
	UserID *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
}

func (u *UserOwned) OwnerUserID() *uuid.UUID      { return u.UserID }
func (u *UserOwned) SetOwnerUserID(id *uuid.UUID) { u.UserID = id }

// TeamOwned gives a record an owning team
type TeamOwned struct {
	TeamID *uuid.UUID `gorm:"type:uuid;index" json:"team_id,omitempty"`
}

func (t *TeamOwned) OwnerTeamID() *uuid.UUID      { return t.TeamID }
func (t *TeamOwned) SetOwnerTeamID(id *uuid.UUID) { t.TeamID = id }

// Record is the minimum contract the pipeline requires of a managed record
type Record interface {
	GetID() uuid.UUID
	SetID(uuid.UUID)
	AuditFields() *Audit
}

// SoftDeletable is implemented by records embedding SoftDelete
type SoftDeletable interface {
	SoftDeleteFields() *SoftDelete
}

// UserScoped is implemented by records embedding UserOwned
type UserScoped interface {
	OwnerUserID() *uuid.UUID
	SetOwnerUserID(*uuid.UUID)
}

// TeamScoped is implemented by records embedding TeamOwned
type TeamScoped interface {
	OwnerTeamID() *uuid.UUID
	SetOwnerTeamID(*uuid.UUID)
}
