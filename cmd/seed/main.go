package main

import (
	"context"

	"gridframe/server/internal/identity"
	"gridframe/server/internal/seed"
	"gridframe/server/pkg/config"
	"gridframe/server/pkg/database"
	"gridframe/server/pkg/logger"
)

// Standalone seeding entrypoint; reseeding is idempotent.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", err)
	}
	logger.Configure(cfg.Logging.Level, cfg.Logging.Format)

	root, system, template, err := cfg.System.ParseIDs()
	if err != nil {
		logger.Fatal("Invalid system principal configuration", err)
	}
	if err := identity.Configure(identity.SystemIDs{Root: root, System: system, Template: template}); err != nil {
		logger.Fatal("Failed to configure system principals", err)
	}

	db, err := database.Connect(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", err)
	}
	defer database.Close(db)

	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("Failed to run migrations", err)
	}

	seeder := seed.NewSeeder(db)
	for _, src := range seed.CoreSources() {
		seeder.Add(src)
	}
	inserted, err := seeder.Run(context.Background())
	if err != nil {
		logger.Fatal("Seeding failed", err)
	}
	logger.Info("Seed run finished", logger.Int("inserted", inserted))
}
