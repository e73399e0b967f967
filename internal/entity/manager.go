package entity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"gridframe/server/internal/identity"
	"gridframe/server/internal/permissions"
	domainerrors "gridframe/server/pkg/errors"
)

var structValidator = validator.New()

// ManagerOption configures a per-request manager
type ManagerOption func(*managerConfig)

type managerConfig struct {
	session    *gorm.DB
	targetUser *uuid.UUID
	targetTeam *uuid.UUID
	guard      bool
}

// WithSession joins the caller's database session; the pipeline then commits
// only on outermost exit.
func WithSession(tx *gorm.DB) ManagerOption {
	return func(c *managerConfig) { c.session = tx }
}

// WithTargetUser makes the manager act on behalf of another user. Permission
// checks still run against the requester.
func WithTargetUser(id uuid.UUID) ManagerOption {
	return func(c *managerConfig) { c.targetUser = &id }
}

// WithTargetTeam makes the manager act on behalf of a team
func WithTargetTeam(id uuid.UUID) ManagerOption {
	return func(c *managerConfig) { c.targetTeam = &id }
}

// WithUpdatedAtGuard opts updates into optimistic concurrency: an update
// must carry the expected updated_at or it fails with PreconditionFailed.
func WithUpdatedAtGuard() ManagerOption {
	return func(c *managerConfig) { c.guard = true }
}

// QueryOption narrows a read
type QueryOption func(*queryConfig)

type queryConfig struct {
	fields         []string
	include        []string
	includeDeleted bool
}

// WithFields projects the result onto a field whitelist
func WithFields(fields ...string) QueryOption {
	return func(c *queryConfig) { c.fields = fields }
}

// WithInclude eagerly hydrates the named relations
func WithInclude(relations ...string) QueryOption {
	return func(c *queryConfig) { c.include = relations }
}

// WithDeleted includes soft-deleted rows; honored only for ROOT.
func WithDeleted() QueryOption {
	return func(c *queryConfig) { c.includeDeleted = true }
}

// UpdateOption configures a single update
type UpdateOption func(*updateConfig)

type updateConfig struct {
	expectedUpdatedAt *time.Time
}

// WithExpectedUpdatedAt supplies the guard timestamp for managers opted into
// optimistic concurrency.
func WithExpectedUpdatedAt(t time.Time) UpdateOption {
	return func(c *updateConfig) { c.expectedUpdatedAt = &t }
}

// SortField orders a listing
type SortField struct {
	Field string
	Desc  bool
}

// ListParams drive the list operation
type ListParams struct {
	Filters        map[string]any
	Sort           []SortField
	Limit          int
	Offset         int
	Fields         []string
	Include        []string
	IncludeDeleted bool
	// Exact post-filters results through Check so reference inheritance is
	// honored at the cost of one check per row.
	Exact bool
}

// SearchParams drive the search operation
type SearchParams struct {
	Clauses map[string]Clause
	Sort    []SortField
	Limit   int
	Offset  int
	Fields  []string
	Include []string
	Exact   bool
}

// BatchUpdateItem is one element of a batch update
type BatchUpdateItem struct {
	ID      uuid.UUID
	Changes map[string]any
}

// BatchError records a per-item failure keyed by id
type BatchError struct {
	ID  uuid.UUID `json:"id"`
	Err error     `json:"error"`
}

// BatchUpdateResult aggregates per-item outcomes; each success committed in
// its own transaction.
type BatchUpdateResult struct {
	Succeeded []Record
	Errors    []BatchError
}

// BatchDeleteResult aggregates per-item delete outcomes
type BatchDeleteResult struct {
	DeletedIDs []uuid.UUID
	Errors     []BatchError
}

const defaultListLimit = 100

// Manager is the CRUD pipeline instance for one entity kind, scoped to one
// requesting principal.
type Manager[T Record] struct {
	binding   *Binding[T]
	requester uuid.UUID
	cfg       managerConfig
}

// Manager opens a per-request manager for this binding
func (b *Binding[T]) Manager(requester uuid.UUID, opts ...ManagerOption) *Manager[T] {
	var cfg managerConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Manager[T]{binding: b, requester: requester, cfg: cfg}
}

func (m *Manager[T]) db() *gorm.DB {
	if m.cfg.session != nil {
		return m.cfg.session
	}
	return m.binding.registry.db
}

// inTransaction joins the supplied session when present (the outermost owner
// commits), otherwise owns a transaction itself.
func (m *Manager[T]) inTransaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if m.cfg.session != nil {
		return fn(m.cfg.session.WithContext(ctx))
	}
	return m.binding.registry.db.WithContext(ctx).Transaction(fn)
}

func (m *Manager[T]) engine() *permissions.Engine {
	return m.binding.registry.permissionEngine()
}

func (m *Manager[T]) runValidators(rec Record) error {
	if err := structValidator.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return domainerrors.NewValidationError("invalid "+m.binding.desc.Kind, verrs.Error())
		}
		return domainerrors.NewValidationError("invalid "+m.binding.desc.Kind, err.Error())
	}
	for _, v := range m.binding.desc.Validators {
		if err := v(rec); err != nil {
			return domainerrors.Wrap(err)
		}
	}
	return nil
}

func (m *Manager[T]) createCheck(draft T) permissions.CreateCheck {
	desc := &m.binding.desc
	chk := permissions.CreateCheck{Kind: desc.Kind, System: desc.System}
	if us, ok := any(draft).(UserScoped); ok {
		chk.UserID = us.OwnerUserID()
	}
	if ts, ok := any(draft).(TeamScoped); ok {
		chk.TeamID = ts.OwnerTeamID()
	}
	for _, ref := range desc.References {
		id := ref.Extract(draft)
		if id == nil {
			continue
		}
		target := permissions.RecordRef{Kind: ref.Kind, ID: *id}
		if ref.Name == desc.CreateReference {
			chk.CreateReference = &target
		} else {
			chk.References = append(chk.References, target)
		}
	}
	return chk
}

// Create validates the draft, authorizes creation, stamps audit fields and
// persists inside one transaction with the before/after hooks.
func (m *Manager[T]) Create(ctx context.Context, draft T) (T, error) {
	var zero T
	desc := &m.binding.desc

	// Default ownership before validation so validators see final state.
	if us, ok := any(draft).(UserScoped); ok && us.OwnerUserID() == nil {
		owner := m.requester
		if m.cfg.targetUser != nil {
			owner = *m.cfg.targetUser
		}
		us.SetOwnerUserID(&owner)
	}
	if ts, ok := any(draft).(TeamScoped); ok && ts.OwnerTeamID() == nil && m.cfg.targetTeam != nil {
		team := *m.cfg.targetTeam
		ts.SetOwnerTeamID(&team)
	}

	if err := m.runValidators(draft); err != nil {
		opCounter(desc.Kind, OpCreate, "validation_error")
		return zero, err
	}
	if err := m.engine().CanCreate(ctx, m.requester, m.createCheck(draft)); err != nil {
		opCounter(desc.Kind, OpCreate, "denied")
		return zero, err
	}

	if draft.GetID() == uuid.Nil {
		draft.SetID(uuid.New())
	}
	audit := draft.AuditFields()
	audit.CreatedAt = time.Now().UTC()
	audit.CreatedBy = m.requester

	err := m.inTransaction(ctx, func(tx *gorm.DB) error {
		ev := &Event{Kind: desc.Kind, Op: OpCreate, Phase: PhaseBefore, Principal: m.requester, Record: draft}
		if err := m.binding.registry.hooks.run(ctx, tx, ev); err != nil {
			return err
		}
		if err := tx.Create(draft).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domainerrors.NewConflictError("duplicate "+desc.Kind, draft.GetID().String())
			}
			return fmt.Errorf("failed to create %s: %w", desc.Kind, err)
		}
		ev.Phase = PhaseAfter
		return m.binding.registry.hooks.run(ctx, tx, ev)
	})
	if err != nil {
		opCounter(desc.Kind, OpCreate, "error")
		return zero, domainerrors.Wrap(err)
	}
	opCounter(desc.Kind, OpCreate, "ok")
	return draft, nil
}

func (m *Manager[T]) validateProjection(fields, include []string) error {
	desc := &m.binding.desc
	for _, f := range fields {
		if !desc.hasField(f) {
			return domainerrors.NewValidationError("unknown field", f)
		}
	}
	for _, rel := range include {
		if !desc.hasRelation(rel) {
			return domainerrors.NewValidationError("unknown relation", rel)
		}
	}
	return nil
}

func (m *Manager[T]) applyProjection(tx *gorm.DB, fields, include []string) *gorm.DB {
	if len(fields) > 0 {
		// The primary key always rides along.
		tx = tx.Select(append([]string{"id"}, fields...))
	}
	for _, rel := range include {
		tx = tx.Preload(rel)
	}
	return tx
}

// Get checks VIEW, loads the record and applies projection and inclusion.
// Denials surface as NotFound-shaped errors so callers cannot probe.
func (m *Manager[T]) Get(ctx context.Context, id uuid.UUID, opts ...QueryOption) (T, error) {
	var zero T
	var cfg queryConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := &m.binding.desc

	if err := m.validateProjection(cfg.fields, cfg.include); err != nil {
		return zero, err
	}
	if err := m.engine().Check(ctx, m.requester, desc.Kind, id, permissions.LevelView); err != nil {
		opCounter(desc.Kind, "get", "denied")
		return zero, err
	}

	tx := m.db().WithContext(ctx)
	if cfg.includeDeleted && identity.IsRoot(m.requester) {
		tx = tx.Unscoped()
	}
	tx = m.applyProjection(tx, cfg.fields, cfg.include)

	rec := m.binding.factory()
	if err := tx.First(rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return zero, domainerrors.NewNotFoundError(desc.Kind, id.String())
		}
		return zero, fmt.Errorf("failed to load %s: %w", desc.Kind, err)
	}
	opCounter(desc.Kind, "get", "ok")
	return rec, nil
}

func (m *Manager[T]) applySort(tx *gorm.DB, sort []SortField) (*gorm.DB, error) {
	if len(sort) == 0 {
		return tx.Order("created_at DESC").Order("id ASC"), nil
	}
	for _, s := range sort {
		if !m.binding.desc.hasField(s.Field) && s.Field != "created_at" && s.Field != "updated_at" {
			return nil, domainerrors.NewValidationError("unknown sort field", s.Field)
		}
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		tx = tx.Order(s.Field + " " + dir)
	}
	return tx.Order("id ASC"), nil
}

func (m *Manager[T]) paged(tx *gorm.DB, limit, offset int) *gorm.DB {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return tx.Limit(limit).Offset(offset)
}

// exactFilter drops rows the full Check (including reference inheritance)
// does not grant.
func (m *Manager[T]) exactFilter(ctx context.Context, items []T) []T {
	out := items[:0]
	for _, it := range items {
		if err := m.engine().Check(ctx, m.requester, m.binding.desc.Kind, it.GetID(), permissions.LevelView); err == nil {
			out = append(out, it)
		}
	}
	return out
}

// List applies search transformers, the permission filter, sorting and
// paging. Results are a conservative superset unless Exact is set.
func (m *Manager[T]) List(ctx context.Context, params ListParams) ([]T, error) {
	desc := &m.binding.desc
	if err := m.validateProjection(params.Fields, params.Include); err != nil {
		return nil, err
	}

	tx := m.db().WithContext(ctx)
	if params.IncludeDeleted && identity.IsRoot(m.requester) {
		tx = tx.Unscoped()
	}

	// Transformers run before the permission filter.
	for name, value := range params.Filters {
		if fn, ok := m.binding.transformers[name]; ok {
			preds, err := fn(value)
			if err != nil {
				return nil, domainerrors.Wrap(err)
			}
			for _, p := range preds {
				tx = tx.Where(p.Query, p.Args...)
			}
			continue
		}
		if !desc.hasField(name) {
			return nil, domainerrors.NewValidationError("unknown filter", name)
		}
		tx = tx.Where(name+" = ?", value)
	}

	scope, err := m.engine().Filter(ctx, m.requester, permissions.FilterSpec{
		Kind:         desc.Kind,
		System:       desc.System,
		HasUserOwner: m.hasUserOwner(),
		HasTeamOwner: m.hasTeamOwner(),
	}, permissions.LevelView)
	if err != nil {
		return nil, err
	}
	tx = scope(tx)

	tx = m.applyProjection(tx, params.Fields, params.Include)
	tx, err = m.applySort(tx, params.Sort)
	if err != nil {
		return nil, err
	}
	tx = m.paged(tx, params.Limit, params.Offset)

	var items []T
	if err := tx.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", desc.Plural, err)
	}
	if params.Exact {
		items = m.exactFilter(ctx, items)
	}
	opCounter(desc.Kind, "list", "ok")
	return items, nil
}

// Search is list with per-field clause matching
func (m *Manager[T]) Search(ctx context.Context, params SearchParams) ([]T, error) {
	desc := &m.binding.desc
	if err := m.validateProjection(params.Fields, params.Include); err != nil {
		return nil, err
	}

	tx := m.db().WithContext(ctx)
	for field, clause := range params.Clauses {
		ft, ok := desc.Searchable[field]
		if !ok {
			return nil, domainerrors.NewValidationError("unknown search field", field)
		}
		var err error
		tx, err = applyClause(tx, field, ft, clause)
		if err != nil {
			return nil, err
		}
	}

	scope, err := m.engine().Filter(ctx, m.requester, permissions.FilterSpec{
		Kind:         desc.Kind,
		System:       desc.System,
		HasUserOwner: m.hasUserOwner(),
		HasTeamOwner: m.hasTeamOwner(),
	}, permissions.LevelView)
	if err != nil {
		return nil, err
	}
	tx = scope(tx)

	tx = m.applyProjection(tx, params.Fields, params.Include)
	tx, err = m.applySort(tx, params.Sort)
	if err != nil {
		return nil, err
	}
	tx = m.paged(tx, params.Limit, params.Offset)

	var items []T
	if err := tx.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", desc.Plural, err)
	}
	if params.Exact {
		items = m.exactFilter(ctx, items)
	}
	opCounter(desc.Kind, "search", "ok")
	return items, nil
}

func (m *Manager[T]) hasUserOwner() bool {
	_, ok := any(m.binding.factory()).(UserScoped)
	return ok
}

func (m *Manager[T]) hasTeamOwner() bool {
	_, ok := any(m.binding.factory()).(TeamScoped)
	return ok
}

// Update checks EDIT, loads the pre-image and persists the diff with audit
// stamps inside one transaction with the hooks.
func (m *Manager[T]) Update(ctx context.Context, id uuid.UUID, changes map[string]any, opts ...UpdateOption) (T, error) {
	var zero T
	var cfg updateConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	desc := &m.binding.desc

	for field := range changes {
		if !desc.hasField(field) {
			return zero, domainerrors.NewValidationError("unknown field", field)
		}
	}

	if err := m.engine().Check(ctx, m.requester, desc.Kind, id, permissions.LevelEdit); err != nil {
		opCounter(desc.Kind, OpUpdate, "denied")
		return zero, err
	}

	rec := m.binding.factory()
	if err := m.db().WithContext(ctx).First(rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return zero, domainerrors.NewNotFoundError(desc.Kind, id.String())
		}
		return zero, fmt.Errorf("failed to load %s: %w", desc.Kind, err)
	}

	if m.cfg.guard {
		current := rec.AuditFields().UpdatedAt
		if cfg.expectedUpdatedAt == nil {
			return zero, domainerrors.NewPreconditionFailed("expected updated_at is required")
		}
		if current == nil || !current.Equal(*cfg.expectedUpdatedAt) {
			return zero, domainerrors.NewPreconditionFailed("record was modified concurrently")
		}
	}

	previous := m.binding.factory()
	if err := m.db().WithContext(ctx).First(previous, "id = ?", id).Error; err != nil {
		return zero, fmt.Errorf("failed to snapshot %s: %w", desc.Kind, err)
	}

	err := m.inTransaction(ctx, func(tx *gorm.DB) error {
		ev := &Event{Kind: desc.Kind, Op: OpUpdate, Phase: PhaseBefore, Principal: m.requester, Record: rec, Previous: previous, Changes: changes}
		if err := m.binding.registry.hooks.run(ctx, tx, ev); err != nil {
			return err
		}

		now := time.Now().UTC()
		stamped := make(map[string]any, len(changes)+2)
		for k, v := range changes {
			stamped[k] = v
		}
		stamped["updated_at"] = &now
		stamped["updated_by"] = m.requester

		if err := tx.Model(rec).Updates(stamped).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domainerrors.NewConflictError("duplicate "+desc.Kind, id.String())
			}
			return fmt.Errorf("failed to update %s: %w", desc.Kind, err)
		}
		if err := tx.First(rec, "id = ?", id).Error; err != nil {
			return fmt.Errorf("failed to reload %s: %w", desc.Kind, err)
		}
		if err := m.runValidators(rec); err != nil {
			return err
		}

		ev.Phase = PhaseAfter
		ev.Record = rec
		return m.binding.registry.hooks.run(ctx, tx, ev)
	})
	if err != nil {
		opCounter(desc.Kind, OpUpdate, "error")
		return zero, domainerrors.Wrap(err)
	}
	opCounter(desc.Kind, OpUpdate, "ok")
	return rec, nil
}

// Delete checks DELETE and stamps the tombstone. Hard deletion is reserved
// to ROOT and has no public operation.
func (m *Manager[T]) Delete(ctx context.Context, id uuid.UUID) error {
	desc := &m.binding.desc

	if err := m.engine().Check(ctx, m.requester, desc.Kind, id, permissions.LevelDelete); err != nil {
		opCounter(desc.Kind, OpDelete, "denied")
		return err
	}

	rec := m.binding.factory()
	if err := m.db().WithContext(ctx).First(rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domainerrors.NewNotFoundError(desc.Kind, id.String())
		}
		return fmt.Errorf("failed to load %s: %w", desc.Kind, err)
	}

	err := m.inTransaction(ctx, func(tx *gorm.DB) error {
		ev := &Event{Kind: desc.Kind, Op: OpDelete, Phase: PhaseBefore, Principal: m.requester, Record: rec}
		if err := m.binding.registry.hooks.run(ctx, tx, ev); err != nil {
			return err
		}

		if _, ok := any(rec).(SoftDeletable); ok {
			if err := tx.Model(rec).UpdateColumn("deleted_by", m.requester).Error; err != nil {
				return fmt.Errorf("failed to stamp deleted_by on %s: %w", desc.Kind, err)
			}
		}
		if err := tx.Delete(rec).Error; err != nil {
			return fmt.Errorf("failed to delete %s: %w", desc.Kind, err)
		}

		ev.Phase = PhaseAfter
		return m.binding.registry.hooks.run(ctx, tx, ev)
	})
	if err != nil {
		opCounter(desc.Kind, OpDelete, "error")
		return domainerrors.Wrap(err)
	}
	opCounter(desc.Kind, OpDelete, "ok")
	return nil
}

// BatchUpdate applies each diff in its own transaction and aggregates
// per-item errors. It fails outright only when every item failed.
func (m *Manager[T]) BatchUpdate(ctx context.Context, items []BatchUpdateItem) (*BatchUpdateResult, error) {
	result := &BatchUpdateResult{}
	for _, item := range items {
		rec, err := m.Update(ctx, item.ID, item.Changes)
		if err != nil {
			result.Errors = append(result.Errors, BatchError{ID: item.ID, Err: err})
			continue
		}
		result.Succeeded = append(result.Succeeded, rec)
	}
	if len(items) > 0 && len(result.Succeeded) == 0 {
		return result, domainerrors.NewValidationError("batch update failed", fmt.Sprintf("all %d items failed", len(items)))
	}
	return result, nil
}

// BatchDelete deletes each id in its own transaction and aggregates
// per-item errors.
func (m *Manager[T]) BatchDelete(ctx context.Context, ids []uuid.UUID) (*BatchDeleteResult, error) {
	result := &BatchDeleteResult{}
	for _, id := range ids {
		if err := m.Delete(ctx, id); err != nil {
			result.Errors = append(result.Errors, BatchError{ID: id, Err: err})
			continue
		}
		result.DeletedIDs = append(result.DeletedIDs, id)
	}
	if len(ids) > 0 && len(result.DeletedIDs) == 0 {
		return result, domainerrors.NewValidationError("batch delete failed", fmt.Sprintf("all %d items failed", len(ids)))
	}
	return result, nil
}
