package extensions

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"

	"gorm.io/gorm"

	"gridframe/server/internal/entity"
	"gridframe/server/pkg/logger"
)

// Extension is the in-process contract an extension implements. Manifests
// live on disk; implementations are registered with the loader by name.
type Extension interface {
	Init(ctx context.Context, host *Host) error
}

// Factory constructs one extension instance
type Factory func() Extension

// Host is what an extension initializer gets to register against. All
// registrations are namespaced by the extension's name.
type Host struct {
	extID     string
	db        *gorm.DB
	registry  *entity.Registry
	abilities *AbilityRegistry
	log       *logger.Logger
}

// Name returns the extension's own name
func (h *Host) Name() string { return h.extID }

// DB returns the database handle for extension-owned tables
func (h *Host) DB() *gorm.DB { return h.db }

// Registry exposes the entity kind registry so extensions can register
// managers of their own.
func (h *Host) Registry() *entity.Registry { return h.registry }

// Log returns a logger tagged with the extension name
func (h *Host) Log() *logger.Logger { return h.log }

// RegisterHook attaches a pipeline hook under this extension's identity
func (h *Host) RegisterHook(reg entity.Registration) error {
	reg.ExtensionID = h.extID
	return h.registry.Hooks().Register(reg)
}

// RegisterAbility exposes a named callable, optionally gated on a provider
// capability.
func (h *Host) RegisterAbility(name string, fn Ability, capability string) error {
	return h.abilities.Register(h.extID, name, fn, capability)
}

// DeclareCapabilities records what this extension's providers support
func (h *Host) DeclareCapabilities(caps ...string) {
	h.abilities.DeclareCapabilities(h.extID, caps...)
}

// Migrate runs the extension's namespaced migrations
func (h *Host) Migrate(models ...any) error {
	if err := h.db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("extension %s migration failed: %w", h.extID, err)
	}
	return nil
}

// Loader discovers manifests, resolves dependency order and initializes
// extensions against the pipeline.
type Loader struct {
	db        *gorm.DB
	registry  *entity.Registry
	abilities *AbilityRegistry
	factories map[string]Factory
	log       *logger.Logger

	loaded []string
}

// NewLoader creates an extension loader
func NewLoader(db *gorm.DB, registry *entity.Registry, abilities *AbilityRegistry) *Loader {
	return &Loader{
		db:        db,
		registry:  registry,
		abilities: abilities,
		factories: make(map[string]Factory),
		log:       logger.Default().WithComponent("extensions"),
	}
}

// RegisterFactory binds an in-process implementation to a manifest name
func (l *Loader) RegisterFactory(name string, f Factory) {
	l.factories[name] = f
}

// Loaded returns the names of successfully initialized extensions in order
func (l *Loader) Loaded() []string {
	return append([]string(nil), l.loaded...)
}

// Load reads the enabled manifests from dir, resolves their order and
// initializes each extension. Unsatisfied extensions are reported in the
// resolution, not fatal; a dependency cycle is.
func (l *Loader) Load(ctx context.Context, dir string, enabled []string) (*Resolution, error) {
	manifests := make(map[string]*Manifest, len(enabled))
	broken := make(map[string]string)
	for _, name := range enabled {
		m, err := LoadManifest(filepath.Join(dir, name))
		if err != nil {
			broken[name] = err.Error()
			l.log.Warn("skipping extension with unreadable manifest",
				logger.String("extension", name), logger.Err(err))
			continue
		}
		if m.Name != name {
			broken[name] = fmt.Sprintf("manifest name %q does not match directory %q", m.Name, name)
			continue
		}
		manifests[name] = m
	}

	res, err := Resolve(manifests)
	if err != nil {
		return nil, err
	}
	for name, reason := range broken {
		res.Unloadable[name] = reason
	}

	for _, name := range res.Order {
		m := manifests[name]
		l.checkSystemPackages(m)

		factory, ok := l.factories[name]
		if !ok {
			res.Unloadable[name] = "no implementation registered"
			l.log.Warn("extension has a manifest but no implementation", logger.String("extension", name))
			continue
		}

		host := &Host{
			extID:     name,
			db:        l.db,
			registry:  l.registry,
			abilities: l.abilities,
			log:       l.log.WithFields(logger.String("extension", name)),
		}
		if err := factory().Init(ctx, host); err != nil {
			res.Unloadable[name] = fmt.Sprintf("init failed: %v", err)
			l.log.Error("extension initialization failed", err, logger.String("extension", name))
			continue
		}
		l.loaded = append(l.loaded, name)
		l.log.Info("extension loaded",
			logger.String("extension", name),
			logger.String("version", m.SemVer()))
	}

	// The hook registry is append-only once loading completes.
	l.registry.Hooks().Seal()
	return res, nil
}

// checkSystemPackages is an advisory presence check for declared apt
// dependencies; absence is logged, never fatal.
func (l *Loader) checkSystemPackages(m *Manifest) {
	for _, pkg := range m.AptDependencies {
		if _, err := exec.LookPath(pkg); err != nil {
			l.log.Warn("declared system package not found on PATH",
				logger.String("extension", m.Name),
				logger.String("package", pkg))
		}
	}
}
