package seed

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gridframe/server/pkg/logger"
)

// Seed IDs live in a reserved high-F range so seeded rows are recognizable.
const idPrefix = "fffffff0-0000-4000-8000-"

// ID derives the nth reserved seed UUID
func ID(n uint32) uuid.UUID {
	return uuid.MustParse(fmt.Sprintf("%s%012x", idPrefix, n))
}

// IsSeedID reports whether id falls in the reserved seed range
func IsSeedID(id uuid.UUID) bool {
	return strings.HasPrefix(id.String(), idPrefix)
}

// Entry is one declarative seed row. Row must be a gorm model whose primary
// key is already set; insertion is keyed by it.
type Entry struct {
	ID  uuid.UUID
	Row any
}

// Source is a named group of seeds with dependencies on other sources.
// Sources run in topological order of their declared dependencies.
type Source struct {
	Name      string
	DependsOn []string
	Entries   func() []Entry
}

// Seeder applies seed sources idempotently: an entry whose ID already
// exists is left untouched, so reseeding produces no duplicates.
type Seeder struct {
	db      *gorm.DB
	sources []Source
	log     *logger.Logger
}

// NewSeeder creates an empty seeder
func NewSeeder(db *gorm.DB) *Seeder {
	return &Seeder{db: db, log: logger.Default().WithComponent("seed")}
}

// Add registers a source
func (s *Seeder) Add(src Source) {
	s.sources = append(s.sources, src)
}

// Run applies every source in dependency order inside one transaction and
// returns the number of rows inserted.
func (s *Seeder) Run(ctx context.Context) (int, error) {
	ordered, err := s.orderSources()
	if err != nil {
		return 0, err
	}

	inserted := 0
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, src := range ordered {
			n, err := s.apply(tx, src)
			if err != nil {
				return fmt.Errorf("seed source %s: %w", src.Name, err)
			}
			inserted += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("seeding complete", logger.Int("inserted", inserted))
	return inserted, nil
}

func (s *Seeder) apply(tx *gorm.DB, src Source) (int, error) {
	inserted := 0
	for _, entry := range src.Entries() {
		if entry.ID == uuid.Nil {
			return inserted, fmt.Errorf("entry without an id")
		}
		var count int64
		if err := tx.Model(entry.Row).Unscoped().Where("id = ?", entry.ID).Count(&count).Error; err != nil {
			return inserted, fmt.Errorf("failed to probe %s: %w", entry.ID, err)
		}
		if count > 0 {
			continue
		}
		if err := tx.Create(entry.Row).Error; err != nil {
			return inserted, fmt.Errorf("failed to insert %s: %w", entry.ID, err)
		}
		inserted++
	}
	return inserted, nil
}

// orderSources topologically sorts sources by DependsOn, names breaking ties
// so the order is deterministic.
func (s *Seeder) orderSources() ([]Source, error) {
	byName := make(map[string]Source, len(s.sources))
	for _, src := range s.sources {
		if _, dup := byName[src.Name]; dup {
			return nil, fmt.Errorf("duplicate seed source %q", src.Name)
		}
		byName[src.Name] = src
	}

	indegree := make(map[string]int, len(byName))
	dependents := make(map[string][]string)
	for name, src := range byName {
		for _, dep := range src.DependsOn {
			if _, known := byName[dep]; !known {
				return nil, fmt.Errorf("seed source %q depends on unknown source %q", name, dep)
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name := range byName {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var ordered []Source
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		ordered = append(ordered, byName[name])
		var unlocked []string
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		sort.Strings(unlocked)
		ready = append(ready, unlocked...)
		sort.Strings(ready)
	}

	if len(ordered) != len(byName) {
		return nil, fmt.Errorf("seed sources contain a dependency cycle")
	}
	return ordered, nil
}
