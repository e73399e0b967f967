package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gridframe/server/internal/entity"
	"gridframe/server/internal/extensions"
	"gridframe/server/internal/identity"
	"gridframe/server/internal/permissions"
	"gridframe/server/internal/seed"
	"gridframe/server/internal/services"
	"gridframe/server/pkg/config"
	"gridframe/server/pkg/database"
	"gridframe/server/pkg/logger"
)

// version is injected at build time via:
//
//	go build -ldflags "-X main.version=1.2.3"
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", err)
	}
	logger.Configure(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Starting Gridframe server", logger.String("version", version))

	root, system, template, err := cfg.System.ParseIDs()
	if err != nil {
		logger.Fatal("Invalid system principal configuration", err)
	}
	if err := identity.Configure(identity.SystemIDs{Root: root, System: system, Template: template}); err != nil {
		logger.Fatal("Failed to configure system principals", err)
	}

	gin.SetMode(cfg.Server.GinMode)

	db, err := database.Connect(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			logger.Error("Failed to close database", err)
		}
	}()

	if err := database.AutoMigrate(db); err != nil {
		logger.Fatal("Failed to run migrations", err)
	}

	// Core wiring: hooks → registry → permission engine, late-bound so the
	// engine resolves records through the registry.
	hooks := entity.NewHooks()
	registry := entity.NewRegistry(db, hooks)
	hierarchy := identity.NewHierarchyCache(db, cfg.System.MaxTeamDepth)
	engine := permissions.NewEngine(db, hierarchy, registry)
	registry.BindEngine(engine)

	// Extensions register kinds, hooks and abilities before any request or
	// service runs; the hook registry seals afterwards.
	abilities := extensions.NewAbilityRegistry(50, 10)
	loader := extensions.NewLoader(db, registry, abilities)
	ctx := context.Background()
	resolution, err := loader.Load(ctx, cfg.Extensions.Dir, cfg.Extensions.EnabledNames())
	if err != nil {
		logger.Fatal("Extension loading failed", err)
	}
	for name, reason := range resolution.Unloadable {
		logger.Warn("extension not loaded", logger.String("extension", name), logger.String("reason", reason))
	}

	if models := registry.Models(); len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			logger.Fatal("Failed to migrate registered entity models", err)
		}
	}

	if cfg.SeedData {
		seeder := seed.NewSeeder(db)
		for _, src := range seed.CoreSources() {
			seeder.Add(src)
		}
		for _, kind := range registry.Kinds() {
			addKindSeeds(seeder, registry, kind)
		}
		if _, err := seeder.Run(ctx); err != nil {
			logger.Fatal("Seeding failed", err)
		}
	}

	if err := hierarchy.Load(ctx); err != nil {
		logger.Fatal("Failed to load role and team hierarchy", err)
	}

	metricsStop := make(chan struct{})
	database.StartPoolMetrics(db, 15*time.Second, metricsStop)
	defer close(metricsStop)

	// Background services run under the SYSTEM principal.
	grants := permissions.NewGrantService(db, engine)
	svcRegistry := services.NewRegistry()
	if err := svcRegistry.Add(permissions.NewPurgeService(grants, time.Hour)); err != nil {
		logger.Fatal("Failed to register services", err)
	}
	if err := svcRegistry.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start services", err)
	}
	defer svcRegistry.CleanupAll()

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/healthz", func(c *gin.Context) {
		if err := database.HealthCheck(c.Request.Context(), db); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version})
	})
	router.GET("/readyz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"extensions": loader.Loaded(),
			"services":   svcRegistry.Names(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP server listening", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", err)
	}
}

// addKindSeeds turns a registered kind's declared seed records into a seed
// source named after the kind.
func addKindSeeds(seeder *seed.Seeder, registry *entity.Registry, kind string) {
	records := registry.SeedsFor(kind)
	if len(records) == 0 {
		return
	}
	seeder.Add(seed.Source{
		Name:      "kind:" + kind,
		DependsOn: []string{"principals", "roles"},
		Entries: func() []seed.Entry {
			entries := make([]seed.Entry, 0, len(records))
			for _, rec := range records {
				entries = append(entries, seed.Entry{ID: rec.GetID(), Row: rec})
			}
			return entries
		},
	})
}
