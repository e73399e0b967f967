package seed

import (
	"github.com/google/uuid"

	"gridframe/server/internal/identity"
)

// Reserved seed ids for the role forest
var (
	RoleSuperadminID = ID(0x01)
	RoleAdminID      = ID(0x02)
	RoleUserID       = ID(0x03)
)

// CoreSources declares the seeds every deployment carries: the three
// distinguished principals and the default role forest
// (superadmin → admin → user).
func CoreSources() []Source {
	return []Source{
		{
			Name: "principals",
			Entries: func() []Entry {
				ids := identity.IDs()
				return []Entry{
					{ID: ids.Root, Row: &identity.Principal{ID: ids.Root, Name: "root"}},
					{ID: ids.System, Row: &identity.Principal{ID: ids.System, Name: "system"}},
					{ID: ids.Template, Row: &identity.Principal{ID: ids.Template, Name: "template"}},
				}
			},
		},
		{
			Name: "roles",
			Entries: func() []Entry {
				superadmin := RoleSuperadminID
				admin := RoleAdminID
				return []Entry{
					{ID: superadmin, Row: &identity.Role{ID: superadmin, Name: identity.RoleSuperadmin}},
					{ID: admin, Row: &identity.Role{ID: admin, Name: identity.RoleAdmin, ParentRoleID: ptr(superadmin)}},
					{ID: RoleUserID, Row: &identity.Role{ID: RoleUserID, Name: identity.RoleUser, ParentRoleID: ptr(admin)}},
				}
			},
		},
	}
}

func ptr(id uuid.UUID) *uuid.UUID { return &id }
