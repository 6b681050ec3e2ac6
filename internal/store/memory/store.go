// Package memory is an in-process implementation of auth.Store. It is used
// when no database is configured and throughout the tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"authserver.org/internal/auth"
	"authserver.org/internal/ids"
)

var _ auth.Store = (*Store)(nil)

// Store keeps every table in maps guarded by one RWMutex. Writers hold the
// write lock for the whole operation, so cascades are atomic; Snapshot holds
// the read lock for the whole callback.
type Store struct {
	mu sync.RWMutex

	orgs      map[string]auth.Organization
	users     map[string]auth.User
	roles     map[string]auth.Role
	perms     map[string]auth.Permission
	grants    []auth.Grant
	rolePerms []auth.RolePermission

	now func() time.Time
}

func New() *Store {
	return &Store{
		orgs:  make(map[string]auth.Organization),
		users: make(map[string]auth.User),
		roles: make(map[string]auth.Role),
		perms: make(map[string]auth.Permission),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Snapshot(ctx context.Context, fn func(auth.TenantReader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(reader{s})
}

type reader struct{ s *Store }

func (r reader) ListRolesForUser(ctx context.Context, userID string) ([]auth.RoleGrant, error) {
	var out []auth.RoleGrant
	for _, g := range r.s.grants {
		if g.UserID != userID {
			continue
		}
		out = append(out, auth.RoleGrant{Role: r.s.roles[g.RoleID], Organization: r.s.orgs[g.OrganizationID]})
	}
	return out, nil
}

func (r reader) ListPermissionsForRoles(ctx context.Context, roleIDs []string) (map[string][]auth.Permission, error) {
	wanted := make(map[string]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		wanted[id] = struct{}{}
	}
	out := make(map[string][]auth.Permission, len(roleIDs))
	for _, rp := range r.s.rolePerms {
		if _, ok := wanted[rp.RoleID]; ok {
			out[rp.RoleID] = append(out[rp.RoleID], r.s.perms[rp.PermissionID])
		}
	}
	return out, nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", auth.ErrNotFound, kind, id)
}

func missingRef(kind, id string) error {
	return fmt.Errorf("%w: %s %s", auth.ErrReferentialViolation, kind, id)
}

// Organizations

func (s *Store) CreateOrganization(ctx context.Context, org auth.Organization) (auth.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orgs {
		if existing.Name == org.Name {
			return auth.Organization{}, fmt.Errorf("%w: organization %q already exists", auth.ErrConflict, org.Name)
		}
	}
	if org.ParentID != "" {
		if _, ok := s.orgs[org.ParentID]; !ok {
			return auth.Organization{}, missingRef("organization", org.ParentID)
		}
	}
	now := s.now()
	org.ID = ids.New()
	org.CreatedAt, org.UpdatedAt = now, now
	s.orgs[org.ID] = org
	return org, nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (auth.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return auth.Organization{}, notFound("organization", id)
	}
	return org, nil
}

func (s *Store) FindOrganizationByName(ctx context.Context, name string) (auth.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, org := range s.orgs {
		if org.Name == name {
			return org, nil
		}
	}
	return auth.Organization{}, notFound("organization", name)
}

func (s *Store) ListOrganizations(ctx context.Context) ([]auth.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByID(s.orgs, func(o auth.Organization) string { return o.ID }), nil
}

func (s *Store) UpdateOrganization(ctx context.Context, id string, upd auth.OrganizationUpdate) (auth.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return auth.Organization{}, notFound("organization", id)
	}
	if upd.Name != nil && *upd.Name != org.Name {
		for _, existing := range s.orgs {
			if existing.Name == *upd.Name {
				return auth.Organization{}, fmt.Errorf("%w: organization %q already exists", auth.ErrConflict, *upd.Name)
			}
		}
		org.Name = *upd.Name
	}
	if upd.ParentID != nil {
		parent := *upd.ParentID
		if parent != "" {
			if _, ok := s.orgs[parent]; !ok {
				return auth.Organization{}, missingRef("organization", parent)
			}
			for cur := parent; cur != ""; cur = s.orgs[cur].ParentID {
				if cur == id {
					return auth.Organization{}, fmt.Errorf("%w: %s is an ancestor of %s", auth.ErrCycle, id, parent)
				}
			}
		}
		org.ParentID = parent
	}
	if upd.IsActive != nil {
		org.IsActive = *upd.IsActive
	}
	org.UpdatedAt = s.now()
	s.orgs[id] = org
	return org, nil
}

func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[id]; !ok {
		return notFound("organization", id)
	}
	for _, org := range s.orgs {
		if org.ParentID == id {
			return fmt.Errorf("%w: organization %s has child organizations", auth.ErrConflict, id)
		}
	}
	delete(s.orgs, id)
	s.grants = filterGrants(s.grants, func(g auth.Grant) bool { return g.OrganizationID != id })
	return nil
}

// Users

func (s *Store) CreateUser(ctx context.Context, user auth.User) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Email == user.Email {
			return auth.User{}, fmt.Errorf("%w: user %q already exists", auth.ErrConflict, user.Email)
		}
	}
	now := s.now()
	user.ID = ids.New()
	user.DateJoined, user.UpdatedAt = now, now
	s.users[user.ID] = user
	return user, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, notFound("user", id)
	}
	return u, nil
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return auth.User{}, notFound("user", email)
}

func (s *Store) ListUsers(ctx context.Context) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByID(s.users, func(u auth.User) string { return u.ID }), nil
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd auth.UserUpdate) (auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.User{}, notFound("user", id)
	}
	if upd.Email != nil && *upd.Email != u.Email {
		for _, existing := range s.users {
			if existing.Email == *upd.Email {
				return auth.User{}, fmt.Errorf("%w: user %q already exists", auth.ErrConflict, *upd.Email)
			}
		}
		u.Email = *upd.Email
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.IsActive != nil {
		u.IsActive = *upd.IsActive
	}
	if upd.IsStaff != nil {
		u.IsStaff = *upd.IsStaff
	}
	if upd.IsSuperuser != nil {
		u.IsSuperuser = *upd.IsSuperuser
	}
	u.UpdatedAt = s.now()
	s.users[id] = u
	return u, nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return notFound("user", id)
	}
	delete(s.users, id)
	s.grants = filterGrants(s.grants, func(g auth.Grant) bool { return g.UserID != id })
	return nil
}

// Roles

func (s *Store) CreateRole(ctx context.Context, role auth.Role) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	role.ID = ids.New()
	role.CreatedAt, role.UpdatedAt = now, now
	s.roles[role.ID] = role
	return role, nil
}

func (s *Store) GetRole(ctx context.Context, id string) (auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return auth.Role{}, notFound("role", id)
	}
	return r, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedByID(s.roles, func(r auth.Role) string { return r.ID }), nil
}

func (s *Store) UpdateRole(ctx context.Context, id string, upd auth.RoleUpdate) (auth.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[id]
	if !ok {
		return auth.Role{}, notFound("role", id)
	}
	if upd.Name != nil {
		r.Name = *upd.Name
	}
	if upd.Description != nil {
		r.Description = *upd.Description
	}
	r.UpdatedAt = s.now()
	s.roles[id] = r
	return r, nil
}

func (s *Store) DeleteRole(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return notFound("role", id)
	}
	delete(s.roles, id)
	s.grants = filterGrants(s.grants, func(g auth.Grant) bool { return g.RoleID != id })
	s.rolePerms = filterRolePerms(s.rolePerms, func(rp auth.RolePermission) bool { return rp.RoleID != id })
	return nil
}

// Permissions

func (s *Store) CreatePermission(ctx context.Context, perm auth.Permission) (auth.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.perms {
		if existing.Name == perm.Name {
			return auth.Permission{}, fmt.Errorf("%w: permission %q already exists", auth.ErrConflict, perm.Name)
		}
	}
	now := s.now()
	perm.ID = ids.New()
	perm.CreatedAt, perm.UpdatedAt = now, now
	s.perms[perm.ID] = perm
	return perm, nil
}

func (s *Store) GetPermission(ctx context.Context, id string) (auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.perms[id]
	if !ok {
		return auth.Permission{}, notFound("permission", id)
	}
	return p, nil
}

func (s *Store) FindPermissionByName(ctx context.Context, name string) (auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.perms {
		if p.Name == name {
			return p, nil
		}
	}
	return auth.Permission{}, notFound("permission", name)
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Permission, 0, len(s.perms))
	for _, p := range s.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) DeletePermission(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[id]; !ok {
		return notFound("permission", id)
	}
	delete(s.perms, id)
	s.rolePerms = filterRolePerms(s.rolePerms, func(rp auth.RolePermission) bool { return rp.PermissionID != id })
	return nil
}

func (s *Store) AttachPermission(ctx context.Context, roleID, permissionID string) (auth.RolePermission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return auth.RolePermission{}, false, missingRef("role", roleID)
	}
	if _, ok := s.perms[permissionID]; !ok {
		return auth.RolePermission{}, false, missingRef("permission", permissionID)
	}
	for _, rp := range s.rolePerms {
		if rp.RoleID == roleID && rp.PermissionID == permissionID {
			return rp, false, nil
		}
	}
	rp := auth.RolePermission{ID: ids.New(), RoleID: roleID, PermissionID: permissionID, CreatedAt: s.now()}
	s.rolePerms = append(s.rolePerms, rp)
	return rp, true, nil
}

func (s *Store) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.rolePerms)
	s.rolePerms = filterRolePerms(s.rolePerms, func(rp auth.RolePermission) bool {
		return rp.RoleID != roleID || rp.PermissionID != permissionID
	})
	if len(s.rolePerms) == before {
		return notFound("role permission", roleID+"/"+permissionID)
	}
	return nil
}

func (s *Store) ListRolePermissions(ctx context.Context, roleID string) ([]auth.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.roles[roleID]; !ok {
		return nil, notFound("role", roleID)
	}
	out := make([]auth.Permission, 0)
	for _, rp := range s.rolePerms {
		if rp.RoleID == roleID {
			out = append(out, s.perms[rp.PermissionID])
		}
	}
	return out, nil
}

// Grants

func (s *Store) GrantRole(ctx context.Context, g auth.Grant) (auth.Grant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[g.RoleID]; !ok {
		return auth.Grant{}, false, missingRef("role", g.RoleID)
	}
	if _, ok := s.orgs[g.OrganizationID]; !ok {
		return auth.Grant{}, false, missingRef("organization", g.OrganizationID)
	}
	if _, ok := s.users[g.UserID]; !ok {
		return auth.Grant{}, false, missingRef("user", g.UserID)
	}
	for _, existing := range s.grants {
		if sameTriple(existing, g) {
			return existing, false, nil
		}
	}
	g.ID = ids.New()
	g.CreatedAt = s.now()
	s.grants = append(s.grants, g)
	return g, true, nil
}

func (s *Store) RevokeRole(ctx context.Context, g auth.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := len(s.grants)
	s.grants = filterGrants(s.grants, func(existing auth.Grant) bool { return !sameTriple(existing, g) })
	if len(s.grants) == before {
		return notFound("grant", g.RoleID+"/"+g.OrganizationID+"/"+g.UserID)
	}
	return nil
}

func (s *Store) ListGrants(ctx context.Context, userID string) ([]auth.Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.Grant, 0)
	for _, g := range s.grants {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

func sameTriple(a, b auth.Grant) bool {
	return a.RoleID == b.RoleID && a.OrganizationID == b.OrganizationID && a.UserID == b.UserID
}

func filterGrants(in []auth.Grant, keep func(auth.Grant) bool) []auth.Grant {
	out := in[:0]
	for _, g := range in {
		if keep(g) {
			out = append(out, g)
		}
	}
	return out
}

func filterRolePerms(in []auth.RolePermission, keep func(auth.RolePermission) bool) []auth.RolePermission {
	out := in[:0]
	for _, rp := range in {
		if keep(rp) {
			out = append(out, rp)
		}
	}
	return out
}

func sortedByID[T any](m map[string]T, id func(T) string) []T {
	out := make([]T, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return id(out[i]) < id(out[j]) })
	return out
}
