package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// RBACService validates administrative input before it reaches the store.
type RBACService struct {
	store         Store
	onUserChanged []func(userID string)
}

type RBACOption func(*RBACService)

// WithUserChangeHook registers fn to run after a user is updated or deleted.
// Caches of identity flags use it to drop stale entries.
func WithUserChangeHook(fn func(userID string)) RBACOption {
	return func(s *RBACService) {
		if fn != nil {
			s.onUserChanged = append(s.onUserChanged, fn)
		}
	}
}

func NewRBACService(store Store, opts ...RBACOption) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	s := &RBACService{store: store}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RBACService) userChanged(id string) {
	for _, fn := range s.onUserChanged {
		fn(id)
	}
}

func requireID(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	}
	return v, nil
}

func (s *RBACService) CreateOrganization(ctx context.Context, name, parentID string) (Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Organization{}, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	return s.store.CreateOrganization(ctx, Organization{
		Name:     name,
		ParentID: strings.TrimSpace(parentID),
		IsActive: true,
	})
}

func (s *RBACService) ListOrganizations(ctx context.Context) ([]Organization, error) {
	return s.store.ListOrganizations(ctx)
}

func (s *RBACService) GetOrganization(ctx context.Context, id string) (Organization, error) {
	id, err := requireID("organization_id", id)
	if err != nil {
		return Organization{}, err
	}
	return s.store.GetOrganization(ctx, id)
}

func (s *RBACService) FindOrganizationByName(ctx context.Context, name string) (Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Organization{}, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	return s.store.FindOrganizationByName(ctx, name)
}

func (s *RBACService) UpdateOrganization(ctx context.Context, id string, upd OrganizationUpdate) (Organization, error) {
	id, err := requireID("organization_id", id)
	if err != nil {
		return Organization{}, err
	}
	if upd.Name != nil {
		trimmed := strings.TrimSpace(*upd.Name)
		if trimmed == "" {
			return Organization{}, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
		}
		upd.Name = &trimmed
	}
	if upd.ParentID != nil {
		parent := strings.TrimSpace(*upd.ParentID)
		if parent == id {
			return Organization{}, fmt.Errorf("%w: organization %s cannot be its own parent", ErrCycle, id)
		}
		upd.ParentID = &parent
	}
	return s.store.UpdateOrganization(ctx, id, upd)
}

// DeleteOrganization removes the organization and every grant made in it.
// Organizations that still have children are rejected with ErrConflict.
func (s *RBACService) DeleteOrganization(ctx context.Context, id string) error {
	id, err := requireID("organization_id", id)
	if err != nil {
		return err
	}
	return s.store.DeleteOrganization(ctx, id)
}

// NewUser is the input for CreateUser. An empty Password creates an account
// that cannot log in.
type NewUser struct {
	Name        string
	Email       string
	Password    string
	IsActive    *bool
	IsStaff     bool
	IsSuperuser bool
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return "", fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	return email, nil
}

func (s *RBACService) CreateUser(ctx context.Context, in NewUser) (User, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return User{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return User{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	return s.store.CreateUser(ctx, User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		IsActive:     active,
		IsStaff:      in.IsStaff || in.IsSuperuser,
		IsSuperuser:  in.IsSuperuser,
	})
}

func (s *RBACService) ListUsers(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx)
}

func (s *RBACService) GetUser(ctx context.Context, id string) (User, error) {
	id, err := requireID("user_id", id)
	if err != nil {
		return User{}, err
	}
	return s.store.GetUser(ctx, id)
}

func (s *RBACService) FindUserByEmail(ctx context.Context, email string) (User, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return User{}, err
	}
	return s.store.FindUserByEmail(ctx, email)
}

func (s *RBACService) UpdateUser(ctx context.Context, id string, upd UserUpdate) (User, error) {
	id, err := requireID("user_id", id)
	if err != nil {
		return User{}, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return User{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Email != nil {
		email, err := normalizeEmail(*upd.Email)
		if err != nil {
			return User{}, err
		}
		upd.Email = &email
	}
	if upd.Password != nil {
		hash, err := HashPassword(*upd.Password)
		if err != nil {
			return User{}, fmt.Errorf("hash password: %w", err)
		}
		upd.PasswordHash = &hash
		upd.Password = nil
	}
	u, err := s.store.UpdateUser(ctx, id, upd)
	if err != nil {
		return User{}, err
	}
	s.userChanged(id)
	return u, nil
}

// DeleteUser removes the user and all of the user's grants.
func (s *RBACService) DeleteUser(ctx context.Context, id string) error {
	id, err := requireID("user_id", id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, id); err != nil {
		return err
	}
	s.userChanged(id)
	return nil
}

func (s *RBACService) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	return s.store.CreateRole(ctx, Role{Name: name, Description: strings.TrimSpace(description)})
}

func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

func (s *RBACService) GetRole(ctx context.Context, id string) (Role, error) {
	id, err := requireID("role_id", id)
	if err != nil {
		return Role{}, err
	}
	return s.store.GetRole(ctx, id)
}

func (s *RBACService) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error) {
	id, err := requireID("role_id", id)
	if err != nil {
		return Role{}, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Role{}, fmt.Errorf("%w: role name is required", ErrInvalidInput)
		}
		upd.Name = &name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	return s.store.UpdateRole(ctx, id, upd)
}

// DeleteRole removes the role together with its grants and permission links.
func (s *RBACService) DeleteRole(ctx context.Context, id string) error {
	id, err := requireID("role_id", id)
	if err != nil {
		return err
	}
	return s.store.DeleteRole(ctx, id)
}

func (s *RBACService) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if err := ValidatePermissionName(name); err != nil {
		return Permission{}, err
	}
	return s.store.CreatePermission(ctx, Permission{Name: name, Description: strings.TrimSpace(description)})
}

// EnsurePermission returns the permission called name, creating it first if
// needed.
func (s *RBACService) EnsurePermission(ctx context.Context, name, description string) (Permission, error) {
	name = strings.TrimSpace(name)
	if err := ValidatePermissionName(name); err != nil {
		return Permission{}, err
	}
	p, err := s.store.FindPermissionByName(ctx, name)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Permission{}, err
	}
	p, err = s.store.CreatePermission(ctx, Permission{Name: name, Description: strings.TrimSpace(description)})
	if errors.Is(err, ErrConflict) {
		return s.store.FindPermissionByName(ctx, name)
	}
	return p, err
}

func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

func (s *RBACService) GetPermission(ctx context.Context, id string) (Permission, error) {
	id, err := requireID("permission_id", id)
	if err != nil {
		return Permission{}, err
	}
	return s.store.GetPermission(ctx, id)
}

// DeletePermission removes the permission from the catalog and from every
// role it was attached to.
func (s *RBACService) DeletePermission(ctx context.Context, id string) error {
	id, err := requireID("permission_id", id)
	if err != nil {
		return err
	}
	return s.store.DeletePermission(ctx, id)
}

// AttachPermission is idempotent: attaching an existing link succeeds with
// created set to false.
func (s *RBACService) AttachPermission(ctx context.Context, roleID, permissionID string) (RolePermission, bool, error) {
	roleID, err := requireID("role_id", roleID)
	if err != nil {
		return RolePermission{}, false, err
	}
	permissionID, err = requireID("permission_id", permissionID)
	if err != nil {
		return RolePermission{}, false, err
	}
	return s.store.AttachPermission(ctx, roleID, permissionID)
}

func (s *RBACService) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	roleID, err := requireID("role_id", roleID)
	if err != nil {
		return err
	}
	permissionID, err = requireID("permission_id", permissionID)
	if err != nil {
		return err
	}
	return s.store.DetachPermission(ctx, roleID, permissionID)
}

func (s *RBACService) ListRolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	roleID, err := requireID("role_id", roleID)
	if err != nil {
		return nil, err
	}
	return s.store.ListRolePermissions(ctx, roleID)
}

func normalizeGrant(g Grant) (Grant, error) {
	var err error
	if g.RoleID, err = requireID("role_id", g.RoleID); err != nil {
		return Grant{}, err
	}
	if g.OrganizationID, err = requireID("organization_id", g.OrganizationID); err != nil {
		return Grant{}, err
	}
	if g.UserID, err = requireID("user_id", g.UserID); err != nil {
		return Grant{}, err
	}
	return g, nil
}

// GrantRole is idempotent: repeating an existing grant returns the stored
// grant with created set to false.
func (s *RBACService) GrantRole(ctx context.Context, g Grant) (Grant, bool, error) {
	g, err := normalizeGrant(g)
	if err != nil {
		return Grant{}, false, err
	}
	return s.store.GrantRole(ctx, g)
}

func (s *RBACService) RevokeRole(ctx context.Context, g Grant) error {
	g, err := normalizeGrant(g)
	if err != nil {
		return err
	}
	return s.store.RevokeRole(ctx, g)
}

func (s *RBACService) ListGrants(ctx context.Context, userID string) ([]Grant, error) {
	userID, err := requireID("user_id", userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListGrants(ctx, userID)
}
