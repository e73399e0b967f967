package entity

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"gridframe/server/internal/permissions"
)

// Handle is the untyped manager contract: the kind → vtable entry used by
// transports, extensions and services that address managers by name.
type Handle interface {
	Kind() string
	Create(ctx context.Context, draft Record) (Record, error)
	Get(ctx context.Context, id uuid.UUID, opts ...QueryOption) (Record, error)
	List(ctx context.Context, params ListParams) ([]Record, error)
	Search(ctx context.Context, params SearchParams) ([]Record, error)
	Update(ctx context.Context, id uuid.UUID, changes map[string]any, opts ...UpdateOption) (Record, error)
	Delete(ctx context.Context, id uuid.UUID) error
	BatchUpdate(ctx context.Context, items []BatchUpdateItem) (*BatchUpdateResult, error)
	BatchDelete(ctx context.Context, ids []uuid.UUID) (*BatchDeleteResult, error)
}

type kindEntry struct {
	desc    Description
	resolve func(ctx context.Context, id uuid.UUID) (*permissions.RecordMeta, error)
	open    func(requester uuid.UUID, opts ...ManagerOption) Handle
	seeds   func() []Record
	models  []any
}

// Registry is the late-binding table of entity kinds. Managers publish their
// identity here at registration, the permission engine resolves references
// through it, and hooks attach by kind name rather than object reference.
type Registry struct {
	db     *gorm.DB
	hooks  *Hooks
	engine *permissions.Engine

	mu    sync.RWMutex
	kinds map[string]*kindEntry
}

// NewRegistry creates an empty kind registry
func NewRegistry(db *gorm.DB, hooks *Hooks) *Registry {
	return &Registry{db: db, hooks: hooks, kinds: make(map[string]*kindEntry)}
}

// BindEngine attaches the permission engine once it exists; the engine is
// constructed after the registry because it resolves records through it.
func (r *Registry) BindEngine(e *permissions.Engine) {
	r.mu.Lock()
	r.engine = e
	r.mu.Unlock()
}

// Hooks returns the process-wide hook registry
func (r *Registry) Hooks() *Hooks { return r.hooks }

// DB returns the base database handle
func (r *Registry) DB() *gorm.DB { return r.db }

func (r *Registry) permissionEngine() *permissions.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engine
}

// Description looks up a registered kind's description
func (r *Registry) Description(kind string) (Description, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.kinds[kind]
	if !ok {
		return Description{}, false
	}
	return e.desc, true
}

// Kinds lists the registered kind names
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	return out
}

// Models returns every registered record type for migration
func (r *Registry) Models() []any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []any
	for _, e := range r.kinds {
		out = append(out, e.models...)
	}
	return out
}

// SeedsFor returns a kind's declared seed records, if any
func (r *Registry) SeedsFor(kind string) []Record {
	r.mu.RLock()
	e, ok := r.kinds[kind]
	r.mu.RUnlock()
	if !ok || e.seeds == nil {
		return nil
	}
	return e.seeds()
}

// ManagerFor opens an untyped manager for a registered kind
func (r *Registry) ManagerFor(kind string, requester uuid.UUID, opts ...ManagerOption) (Handle, error) {
	r.mu.RLock()
	e, ok := r.kinds[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("kind %q is not registered", kind)
	}
	return e.open(requester, opts...), nil
}

// ResolveRecord implements permissions.Resolver
func (r *Registry) ResolveRecord(ctx context.Context, kind string, id uuid.UUID) (*permissions.RecordMeta, error) {
	r.mu.RLock()
	e, ok := r.kinds[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("kind %q is not registered", kind)
	}
	return e.resolve(ctx, id)
}

// KindSystem implements permissions.Resolver
func (r *Registry) KindSystem(kind string) (bool, error) {
	r.mu.RLock()
	e, ok := r.kinds[kind]
	r.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("kind %q is not registered", kind)
	}
	return e.desc.System, nil
}

// metaFor projects a loaded record into its permission-relevant shape
func metaFor(desc *Description, rec Record) *permissions.RecordMeta {
	meta := &permissions.RecordMeta{
		ID:        rec.GetID(),
		CreatedBy: rec.AuditFields().CreatedBy,
	}
	if sd, ok := rec.(SoftDeletable); ok {
		meta.Deleted = sd.SoftDeleteFields().DeletedAt.Valid
	}
	if us, ok := rec.(UserScoped); ok {
		meta.UserID = us.OwnerUserID()
	}
	if ts, ok := rec.(TeamScoped); ok {
		meta.TeamID = ts.OwnerTeamID()
	}
	for _, ref := range desc.References {
		if id := ref.Extract(rec); id != nil {
			meta.References = append(meta.References, permissions.RecordRef{Kind: ref.Kind, ID: *id})
		}
	}
	return meta
}

// Binding pairs a registered description with its record type. Bindings are
// created once at startup (or extension load) and open per-request managers.
type Binding[T Record] struct {
	registry     *Registry
	desc         Description
	factory      func() T
	transformers map[string]Transformer
}

// RegisterKind registers a kind with the registry and returns its binding
func RegisterKind[T Record](r *Registry, desc Description, factory func() T) (*Binding[T], error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	b := &Binding[T]{
		registry:     r,
		desc:         desc,
		factory:      factory,
		transformers: make(map[string]Transformer),
	}

	entry := &kindEntry{
		desc:   desc,
		models: []any{factory()},
		resolve: func(ctx context.Context, id uuid.UUID) (*permissions.RecordMeta, error) {
			rec := factory()
			err := r.db.WithContext(ctx).Unscoped().First(rec, "id = ?", id).Error
			if err == gorm.ErrRecordNotFound {
				return nil, nil
			}
			if err != nil {
				return nil, fmt.Errorf("failed to load %s/%s: %w", desc.Kind, id, err)
			}
			return metaFor(&b.desc, rec), nil
		},
		open: func(requester uuid.UUID, opts ...ManagerOption) Handle {
			return &handleAdapter[T]{m: b.Manager(requester, opts...)}
		},
	}
	if desc.SeedRecords != nil {
		entry.seeds = desc.SeedRecords
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.kinds[desc.Kind]; dup {
		return nil, fmt.Errorf("kind %q is already registered", desc.Kind)
	}
	r.kinds[desc.Kind] = entry
	return b, nil
}

// RegisterTransformer attaches a named search transformer to the binding
func (b *Binding[T]) RegisterTransformer(name string, fn Transformer) {
	b.transformers[name] = fn
}

// Description returns the binding's entity description
func (b *Binding[T]) Description() Description { return b.desc }

// handleAdapter erases a typed manager into the Handle vtable
type handleAdapter[T Record] struct {
	m *Manager[T]
}

func (a *handleAdapter[T]) Kind() string { return a.m.binding.desc.Kind }

func (a *handleAdapter[T]) Create(ctx context.Context, draft Record) (Record, error) {
	typed, ok := draft.(T)
	if !ok {
		return nil, fmt.Errorf("draft is not a %s record", a.m.binding.desc.Kind)
	}
	created, err := a.m.Create(ctx, typed)
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (a *handleAdapter[T]) Get(ctx context.Context, id uuid.UUID, opts ...QueryOption) (Record, error) {
	rec, err := a.m.Get(ctx, id, opts...)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (a *handleAdapter[T]) List(ctx context.Context, params ListParams) ([]Record, error) {
	items, err := a.m.List(ctx, params)
	if err != nil {
		return nil, err
	}
	return erase(items), nil
}

func (a *handleAdapter[T]) Search(ctx context.Context, params SearchParams) ([]Record, error) {
	items, err := a.m.Search(ctx, params)
	if err != nil {
		return nil, err
	}
	return erase(items), nil
}

func (a *handleAdapter[T]) Update(ctx context.Context, id uuid.UUID, changes map[string]any, opts ...UpdateOption) (Record, error) {
	rec, err := a.m.Update(ctx, id, changes, opts...)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (a *handleAdapter[T]) Delete(ctx context.Context, id uuid.UUID) error {
	return a.m.Delete(ctx, id)
}

func (a *handleAdapter[T]) BatchUpdate(ctx context.Context, items []BatchUpdateItem) (*BatchUpdateResult, error) {
	return a.m.BatchUpdate(ctx, items)
}

func (a *handleAdapter[T]) BatchDelete(ctx context.Context, ids []uuid.UUID) (*BatchDeleteResult, error) {
	return a.m.BatchDelete(ctx, ids)
}

func erase[T Record](items []T) []Record {
	out := make([]Record, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}
