package database

import (
	"fmt"

	"gorm.io/gorm"

	"gridframe/server/internal/identity"
	"gridframe/server/internal/permissions"
	"gridframe/server/pkg/logger"
)

// AutoMigrate creates or updates the core schema plus every registered
// entity model. Extension-owned tables migrate during extension load.
func AutoMigrate(db *gorm.DB, entityModels ...any) error {
	logger.Info("Running database migrations...")

	core := []any{
		&identity.Principal{},
		&identity.Role{},
		&identity.Team{},
		&permissions.TeamMembership{},
		&permissions.Grant{},
	}
	if err := db.AutoMigrate(core...); err != nil {
		return fmt.Errorf("failed to migrate core models: %w", err)
	}
	if len(entityModels) > 0 {
		if err := db.AutoMigrate(entityModels...); err != nil {
			return fmt.Errorf("failed to migrate entity models: %w", err)
		}
	}
	return nil
}
