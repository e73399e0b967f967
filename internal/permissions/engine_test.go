package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"gridframe/server/internal/identity"
	"gridframe/server/pkg/errors"
)

// fakeResolver serves record metadata from memory so the engine rules are
// exercised in isolation.
type fakeResolver struct {
	records map[RecordRef]*RecordMeta
	system  map[string]bool
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		records: make(map[RecordRef]*RecordMeta),
		system:  make(map[string]bool),
	}
}

func (f *fakeResolver) add(kind string, meta *RecordMeta) {
	f.records[RecordRef{Kind: kind, ID: meta.ID}] = meta
}

func (f *fakeResolver) ResolveRecord(_ context.Context, kind string, id uuid.UUID) (*RecordMeta, error) {
	return f.records[RecordRef{Kind: kind, ID: id}], nil
}

func (f *fakeResolver) KindSystem(kind string) (bool, error) {
	return f.system[kind], nil
}

type engineFixture struct {
	engine    *Engine
	db        *gorm.DB
	resolver  *fakeResolver
	hierarchy *identity.HierarchyCache
	ids       identity.SystemIDs

	superadminRole, adminRole, userRole uuid.UUID
}

func setupEngine(t *testing.T) *engineFixture {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&identity.Role{}, &identity.Team{}, &TeamMembership{}, &Grant{}))

	ids := identity.SystemIDs{Root: uuid.New(), System: uuid.New(), Template: uuid.New()}
	require.NoError(t, identity.Configure(ids))

	superadmin := uuid.New()
	admin := uuid.New()
	user := uuid.New()
	require.NoError(t, db.Create(&identity.Role{ID: superadmin, Name: identity.RoleSuperadmin}).Error)
	require.NoError(t, db.Create(&identity.Role{ID: admin, Name: identity.RoleAdmin, ParentRoleID: &superadmin}).Error)
	require.NoError(t, db.Create(&identity.Role{ID: user, Name: identity.RoleUser, ParentRoleID: &admin}).Error)

	hierarchy := identity.NewHierarchyCache(db, 5)
	require.NoError(t, hierarchy.Load(context.Background()))

	resolver := newFakeResolver()
	engine := NewEngine(db, hierarchy, resolver)

	return &engineFixture{
		engine:         engine,
		db:             db,
		resolver:       resolver,
		hierarchy:      hierarchy,
		ids:            ids,
		superadminRole: superadmin,
		adminRole:      admin,
		userRole:       user,
	}
}

func (f *engineFixture) addRecord(t *testing.T, kind string, createdBy uuid.UUID, mutate ...func(*RecordMeta)) uuid.UUID {
	t.Helper()
	meta := &RecordMeta{ID: uuid.New(), CreatedBy: createdBy}
	for _, m := range mutate {
		m(meta)
	}
	f.resolver.add(kind, meta)
	return meta.ID
}

func ownedBy(userID uuid.UUID) func(*RecordMeta) {
	return func(m *RecordMeta) { m.UserID = &userID }
}

func teamOwned(teamID uuid.UUID) func(*RecordMeta) {
	return func(m *RecordMeta) { m.TeamID = &teamID }
}

func TestRootBypassesEverything(t *testing.T) {
	f := setupEngine(t)
	// Even a record that does not exist.
	assert.NoError(t, f.engine.Check(context.Background(), f.ids.Root, "project", uuid.New(), LevelDelete))
}

func TestMissingAndDeletedAreNotFound(t *testing.T) {
	f := setupEngine(t)
	user := uuid.New()

	err := f.engine.Check(context.Background(), user, "project", uuid.New(), LevelView)
	assert.True(t, errors.IsNotFound(err))

	id := f.addRecord(t, "project", user, ownedBy(user), func(m *RecordMeta) { m.Deleted = true })
	err = f.engine.Check(context.Background(), user, "project", id, LevelView)
	assert.True(t, errors.IsNotFound(err), "soft-deleted records are invisible even to their owner")
}

func TestSystemKindReadOnly(t *testing.T) {
	f := setupEngine(t)
	f.resolver.system["provider"] = true
	user := uuid.New()
	id := f.addRecord(t, "provider", f.ids.System)

	assert.NoError(t, f.engine.Check(context.Background(), user, "provider", id, LevelView))
	for _, level := range []Level{LevelExecute, LevelCopy, LevelEdit, LevelDelete, LevelShare} {
		err := f.engine.Check(context.Background(), user, "provider", id, level)
		assert.True(t, errors.IsPermissionDenied(err), "level %s must be denied", level)
	}
	assert.NoError(t, f.engine.Check(context.Background(), f.ids.System, "provider", id, LevelEdit))
}

func TestCreatedByDistinguishedPrincipals(t *testing.T) {
	f := setupEngine(t)
	user := uuid.New()
	ctx := context.Background()

	rootOwned := f.addRecord(t, "project", f.ids.Root)
	assert.True(t, errors.IsPermissionDenied(f.engine.Check(ctx, user, "project", rootOwned, LevelView)))

	systemOwned := f.addRecord(t, "project", f.ids.System)
	assert.NoError(t, f.engine.Check(ctx, user, "project", systemOwned, LevelView))
	assert.True(t, errors.IsPermissionDenied(f.engine.Check(ctx, user, "project", systemOwned, LevelEdit)))

	templateOwned := f.addRecord(t, "project", f.ids.Template)
	for _, level := range []Level{LevelView, LevelExecute, LevelCopy, LevelShare} {
		assert.NoError(t, f.engine.Check(ctx, user, "project", templateOwned, level), "template grants %s to everyone", level)
	}
	assert.True(t, errors.IsPermissionDenied(f.engine.Check(ctx, user, "project", templateOwned, LevelEdit)))
	assert.True(t, errors.IsPermissionDenied(f.engine.Check(ctx, user, "project", templateOwned, LevelDelete)))
	assert.NoError(t, f.engine.Check(ctx, f.ids.System, "project", templateOwned, LevelEdit))
}

func TestDirectOwnership(t *testing.T) {
	f := setupEngine(t)
	owner := uuid.New()
	stranger := uuid.New()
	id := f.addRecord(t, "project", owner, ownedBy(owner))
	ctx := context.Background()

	assert.NoError(t, f.engine.Check(ctx, owner, "project", id, LevelShare))
	assert.True(t, errors.IsPermissionDenied(f.engine.Check(ctx, stranger, "project", id, LevelView)))
}

func (f *engineFixture) addMembership(t *testing.T, user, team, role uuid.UUID, mutate ...func(*TeamMembership)) {
	t.Helper()
	m := &TeamMembership{ID: uuid.New(), UserID: user, TeamID: team, RoleID: role, Enabled: true}
	for _, fn := range mutate {
		fn(m)
	}
	require.NoError(t, f.db.Create(m).Error)
}

func TestTeamMembershipRoles(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	team := uuid.New()
	require.NoError(t, f.db.Create(&identity.Team{ID: team, Name: "t"}).Error)
	require.NoError(t, f.hierarchy.Invalidate(ctx))

	member := uuid.New()
	admin := uuid.New()
	creator := uuid.New()
	f.addMembership(t, member, team, f.userRole)
	f.addMembership(t, admin, team, f.adminRole)

	id := f.addRecord(t, "conversation", creator, teamOwned(team))

	assert.NoError(t, f.engine.Check(ctx, member, "conversation", id, LevelView))
	assert.True(t, errors.IsPermissionDenied(f.engine.Check(ctx, member, "conversation", id, LevelEdit)),
		"edit requires admin in the owning team")
	assert.NoError(t, f.engine.Check(ctx, admin, "conversation", id, LevelEdit))
	assert.NoError(t, f.engine.Check(ctx, admin, "conversation", id, LevelDelete))
}

func TestTeamHierarchyInheritance(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	parent := uuid.New()
	child := uuid.New()
	require.NoError(t, f.db.Create(&identity.Team{ID: parent, Name: "parent"}).Error)
	require.NoError(t, f.db.Create(&identity.Team{ID: child, Name: "child", ParentTeamID: &parent}).Error)
	require.NoError(t, f.hierarchy.Invalidate(ctx))

	parentAdmin := uuid.New()
	f.addMembership(t, parentAdmin, parent, f.adminRole)

	id := f.addRecord(t, "conversation", uuid.New(), teamOwned(child))
	assert.NoError(t, f.engine.Check(ctx, parentAdmin, "conversation", id, LevelEdit),
		"membership in an ancestor team covers child-team records")

	// Membership in the child does not reach records of the parent team.
	childMember := uuid.New()
	f.addMembership(t, childMember, child, f.adminRole)
	parentRecord := f.addRecord(t, "conversation", uuid.New(), teamOwned(parent))
	assert.True(t, errors.IsPermissionDenied(f.engine.Check(ctx, childMember, "conversation", parentRecord, LevelView)))
}

func TestDisabledAndExpiredMembership(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	team := uuid.New()
	require.NoError(t, f.db.Create(&identity.Team{ID: team, Name: "t"}).Error)
	require.NoError(t, f.hierarchy.Invalidate(ctx))
	id := f.addRecord(t, "conversation", uuid.New(), teamOwned(team))

	disabled := uuid.New()
	f.addMembership(t, disabled, team, f.adminRole, func(m *TeamMembership) { m.Enabled = false })
	assert.True(t, errors.IsPermissionDenied(f.engine.Check(ctx, disabled, "conversation", id, LevelView)))

	expired := uuid.New()
	past := time.Now().Add(-time.Hour)
	f.addMembership(t, expired, team, f.adminRole, func(m *TeamMembership) { m.ExpiresAt = &past })
	assert.True(t, errors.IsPermissionDenied(f.engine.Check(ctx, expired, "conversation", id, LevelView)))
}

func TestGrantLifecycle(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	owner := uuid.New()
	viewer := uuid.New()
	id := f.addRecord(t, "project", owner, ownedBy(owner))

	assert.True(t, errors.IsPermissionDenied(f.engine.Check(ctx, viewer, "project", id, LevelView)))

	expiry := time.Now().Add(time.Hour)
	require.NoError(t, f.db.Create(&Grant{
		ID: uuid.New(), ResourceKind: "project", ResourceID: id,
		UserID: &viewer, CanView: true, ExpiresAt: &expiry, CreatedBy: owner,
	}).Error)

	assert.NoError(t, f.engine.Check(ctx, viewer, "project", id, LevelView))
	assert.True(t, errors.IsPermissionDenied(f.engine.Check(ctx, viewer, "project", id, LevelEdit)),
		"a view grant does not imply edit")

	// After expiry the grant is equivalent to absent.
	f.engine.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	assert.True(t, errors.IsPermissionDenied(f.engine.Check(ctx, viewer, "project", id, LevelView)))
}

func TestRoleTargetedGrants(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	team := uuid.New()
	require.NoError(t, f.db.Create(&identity.Team{ID: team, Name: "t"}).Error)
	require.NoError(t, f.hierarchy.Invalidate(ctx))

	member := uuid.New()
	f.addMembership(t, member, team, f.userRole)

	id := f.addRecord(t, "report", uuid.New())

	// A grant targeting a role that dominates the member's role applies.
	require.NoError(t, f.db.Create(&Grant{
		ID: uuid.New(), ResourceKind: "report", ResourceID: id,
		RoleID: &f.adminRole, CanExecute: true, CreatedBy: uuid.New(),
	}).Error)
	assert.NoError(t, f.engine.Check(ctx, member, "report", id, LevelExecute))
	assert.True(t, errors.IsPermissionDenied(f.engine.Check(ctx, member, "report", id, LevelView)),
		"the grant only covers execute")
}

func TestReferenceInheritanceChain(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	owner := uuid.New()
	reader := uuid.New()

	// workspace ← folder ← document, access granted on the far end only.
	workspace := f.addRecord(t, "workspace", owner, ownedBy(owner))
	folder := f.addRecord(t, "folder", owner, func(m *RecordMeta) {
		m.References = []RecordRef{{Kind: "workspace", ID: workspace}}
	})
	document := f.addRecord(t, "document", owner, func(m *RecordMeta) {
		m.References = []RecordRef{{Kind: "folder", ID: folder}}
	})

	assert.True(t, errors.IsPermissionDenied(f.engine.Check(ctx, reader, "document", document, LevelView)))

	require.NoError(t, f.db.Create(&Grant{
		ID: uuid.New(), ResourceKind: "workspace", ResourceID: workspace,
		UserID: &reader, CanView: true, CreatedBy: owner,
	}).Error)
	assert.NoError(t, f.engine.Check(ctx, reader, "document", document, LevelView),
		"access flows through the reference chain")
	assert.True(t, errors.IsPermissionDenied(f.engine.Check(ctx, reader, "document", document, LevelEdit)))
}

func TestReferenceCycleTerminates(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	owner := uuid.New()
	stranger := uuid.New()

	a := uuid.New()
	b := uuid.New()
	f.resolver.add("node", &RecordMeta{ID: a, CreatedBy: owner, References: []RecordRef{{Kind: "node", ID: b}}})
	f.resolver.add("node", &RecordMeta{ID: b, CreatedBy: owner, References: []RecordRef{{Kind: "node", ID: a}}})

	err := f.engine.Check(ctx, stranger, "node", a, LevelView)
	assert.True(t, errors.IsPermissionDenied(err), "cyclic references terminate and deny")
}

func TestCanCreate(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	user := uuid.New()

	// System kinds are closed to ordinary principals.
	err := f.engine.CanCreate(ctx, user, CreateCheck{Kind: "provider", System: true})
	assert.True(t, errors.IsPermissionDenied(err))
	assert.NoError(t, f.engine.CanCreate(ctx, f.ids.System, CreateCheck{Kind: "provider", System: true}))

	// The create reference needs EDIT; other references need VIEW.
	owner := uuid.New()
	parent := f.addRecord(t, "project", owner, ownedBy(owner))
	linked := f.addRecord(t, "project", owner, ownedBy(owner))

	err = f.engine.CanCreate(ctx, user, CreateCheck{
		Kind:            "task",
		CreateReference: &RecordRef{Kind: "project", ID: parent},
	})
	assert.Error(t, err)

	require.NoError(t, f.db.Create(&Grant{
		ID: uuid.New(), ResourceKind: "project", ResourceID: parent,
		UserID: &user, CanEdit: true, CreatedBy: owner,
	}).Error)
	assert.NoError(t, f.engine.CanCreate(ctx, user, CreateCheck{
		Kind:            "task",
		CreateReference: &RecordRef{Kind: "project", ID: parent},
	}))

	// A second reference without VIEW blocks creation: ALL references must
	// be accessible for create.
	err = f.engine.CanCreate(ctx, user, CreateCheck{
		Kind:            "task",
		CreateReference: &RecordRef{Kind: "project", ID: parent},
		References:      []RecordRef{{Kind: "project", ID: linked}},
	})
	assert.Error(t, err)

	// User-scoped drafts must belong to the requester.
	other := uuid.New()
	err = f.engine.CanCreate(ctx, user, CreateCheck{Kind: "note", UserID: &other})
	assert.True(t, errors.IsPermissionDenied(err))
	assert.NoError(t, f.engine.CanCreate(ctx, user, CreateCheck{Kind: "note", UserID: &user}))
}

func TestGrantDelegation(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	svc := NewGrantService(f.db, f.engine)

	owner := uuid.New()
	viewer := uuid.New()
	id := f.addRecord(t, "project", owner, ownedBy(owner))

	// The owner holds SHARE and may delegate.
	grant := &Grant{ResourceKind: "project", ResourceID: id, UserID: &viewer, CanView: true}
	require.NoError(t, svc.Create(ctx, owner, grant))

	// A mere viewer may not share onward.
	other := uuid.New()
	err := svc.Create(ctx, viewer, &Grant{ResourceKind: "project", ResourceID: id, UserID: &other, CanView: true})
	assert.Error(t, err)

	// Global grants are reserved to ROOT/SYSTEM and apply to everyone.
	err = svc.Create(ctx, owner, &Grant{ResourceKind: "project", ResourceID: id, CanExecute: true})
	assert.True(t, errors.IsPermissionDenied(err))
	require.NoError(t, svc.Create(ctx, f.ids.Root, &Grant{ResourceKind: "project", ResourceID: id, CanExecute: true}))
	assert.NoError(t, f.engine.Check(ctx, other, "project", id, LevelExecute))

	// Revocation by the creator.
	require.NoError(t, svc.Revoke(ctx, owner, grant.ID))
	assert.True(t, errors.IsPermissionDenied(f.engine.Check(ctx, viewer, "project", id, LevelView)))
}
