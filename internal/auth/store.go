package auth

import "context"

// TenantReader exposes the accessors aggregation needs. A reader observes one
// committed state of the tenant tables for its whole lifetime.
type TenantReader interface {
	// ListRolesForUser returns the user's grants resolved to role and
	// organization, in grant creation order.
	ListRolesForUser(ctx context.Context, userID string) ([]RoleGrant, error)
	// ListPermissionsForRoles returns the permissions attached to each role,
	// keyed by role ID. Roles without permissions may be absent from the map.
	ListPermissionsForRoles(ctx context.Context, roleIDs []string) (map[string][]Permission, error)
}

// Store persists the tenant model. Every write is atomic and rejects references
// to rows that do not exist with ErrReferentialViolation.
type Store interface {
	// Snapshot runs fn against a read-only view of a single committed state.
	Snapshot(ctx context.Context, fn func(TenantReader) error) error

	CreateOrganization(ctx context.Context, org Organization) (Organization, error)
	GetOrganization(ctx context.Context, id string) (Organization, error)
	FindOrganizationByName(ctx context.Context, name string) (Organization, error)
	ListOrganizations(ctx context.Context) ([]Organization, error)
	UpdateOrganization(ctx context.Context, id string, upd OrganizationUpdate) (Organization, error)
	DeleteOrganization(ctx context.Context, id string) error

	CreateUser(ctx context.Context, user User) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	FindUserByEmail(ctx context.Context, email string) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error)
	DeleteUser(ctx context.Context, id string) error

	CreateRole(ctx context.Context, role Role) (Role, error)
	GetRole(ctx context.Context, id string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error)
	DeleteRole(ctx context.Context, id string) error

	CreatePermission(ctx context.Context, perm Permission) (Permission, error)
	GetPermission(ctx context.Context, id string) (Permission, error)
	FindPermissionByName(ctx context.Context, name string) (Permission, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	DeletePermission(ctx context.Context, id string) error

	// AttachPermission links a permission to a role. created is false when the
	// link already existed.
	AttachPermission(ctx context.Context, roleID, permissionID string) (rp RolePermission, created bool, err error)
	DetachPermission(ctx context.Context, roleID, permissionID string) error
	ListRolePermissions(ctx context.Context, roleID string) ([]Permission, error)

	// GrantRole records a grant. created is false when the triple already existed,
	// in which case the stored grant is returned.
	GrantRole(ctx context.Context, grant Grant) (g Grant, created bool, err error)
	RevokeRole(ctx context.Context, grant Grant) error
	ListGrants(ctx context.Context, userID string) ([]Grant, error)
}
