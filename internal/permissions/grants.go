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

// GrantService creates and revokes grants, enforcing delegation rules: a
// principal may only share records it holds SHARE on, and subject-less
// (global) grants are reserved to ROOT/SYSTEM.
type GrantService struct {
	db     *gorm.DB
	engine *Engine
}

// NewGrantService creates a grant service
func NewGrantService(db *gorm.DB, engine *Engine) *GrantService {
	return &GrantService{db: db, engine: engine}
}

// Create persists a grant on behalf of principal
func (s *GrantService) Create(ctx context.Context, principal uuid.UUID, grant *Grant) error {
	if grant.ResourceKind == "" || grant.ResourceID == uuid.Nil {
		return errors.NewValidationError("grant target is required", "resource_kind and resource_id must be set")
	}
	if grant.SubjectCount() > 1 {
		return errors.NewValidationError("invalid grant subject", "at most one of user_id, team_id, role_id may be set")
	}
	if grant.ExpiresAt != nil && !grant.ExpiresAt.After(s.engine.now()) {
		return errors.NewValidationError("invalid expiry", "expires_at must be in the future")
	}

	if grant.SubjectCount() == 0 && !identity.IsPrivileged(principal) {
		return errors.NewPermissionDenied("global grants require root or system")
	}
	if !identity.IsPrivileged(principal) {
		if err := s.engine.Check(ctx, principal, grant.ResourceKind, grant.ResourceID, LevelShare); err != nil {
			return err
		}
	}

	if grant.ID == uuid.Nil {
		grant.ID = uuid.New()
	}
	grant.CreatedAt = s.engine.now()
	grant.CreatedBy = principal

	if err := s.db.WithContext(ctx).Create(grant).Error; err != nil {
		return fmt.Errorf("failed to create grant: %w", err)
	}
	return nil
}

// Revoke removes a grant. The revoker needs SHARE on the target, or to be
// the grant's creator.
func (s *GrantService) Revoke(ctx context.Context, principal uuid.UUID, grantID uuid.UUID) error {
	var grant Grant
	if err := s.db.WithContext(ctx).First(&grant, "id = ?", grantID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return errors.NewNotFoundError("grant", grantID.String())
		}
		return fmt.Errorf("failed to load grant: %w", err)
	}

	if !identity.IsPrivileged(principal) && grant.CreatedBy != principal {
		if err := s.engine.Check(ctx, principal, grant.ResourceKind, grant.ResourceID, LevelShare); err != nil {
			return err
		}
	}

	if err := s.db.WithContext(ctx).Delete(&Grant{}, "id = ?", grantID).Error; err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	return nil
}

// ListForResource returns the still-valid grants on one record, earliest
// expiry first.
func (s *GrantService) ListForResource(ctx context.Context, principal uuid.UUID, kind string, resourceID uuid.UUID) ([]Grant, error) {
	if !identity.IsPrivileged(principal) {
		if err := s.engine.Check(ctx, principal, kind, resourceID, LevelShare); err != nil {
			return nil, err
		}
	}
	var grants []Grant
	err := s.db.WithContext(ctx).
		Where("resource_kind = ? AND resource_id = ?", kind, resourceID).
		Where("expires_at IS NULL OR expires_at > ?", s.engine.now()).
		Order("expires_at ASC").
		Find(&grants).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	return grants, nil
}

// PurgeExpired deletes grants that lapsed before the cutoff. Invoked by the
// maintenance service under the SYSTEM principal.
func (s *GrantService) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", cutoff).
		Delete(&Grant{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge expired grants: %w", res.Error)
	}
	return res.RowsAffected, nil
}
