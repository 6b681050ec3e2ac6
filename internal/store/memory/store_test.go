package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"authserver.org/internal/auth"
)

type fixture struct {
	store *Store
	org   auth.Organization
	child auth.Organization
	user  auth.User
	role  auth.Role
	perm  auth.Permission
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	s := New()
	org, err := s.CreateOrganization(ctx, auth.Organization{Name: "Group", IsActive: true})
	require.NoError(t, err)
	child, err := s.CreateOrganization(ctx, auth.Organization{Name: "Branch", ParentID: org.ID, IsActive: true})
	require.NoError(t, err)
	user, err := s.CreateUser(ctx, auth.User{Name: "Doc", Email: "doc@example.com", IsActive: true})
	require.NoError(t, err)
	role, err := s.CreateRole(ctx, auth.Role{Name: "Clinic-Doctor"})
	require.NoError(t, err)
	perm, err := s.CreatePermission(ctx, auth.Permission{Name: "Patient-GET"})
	require.NoError(t, err)
	return fixture{store: s, org: org, child: child, user: user, role: role, perm: perm}
}

func TestGrantRoleIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	g, created, err := f.store.GrantRole(ctx, auth.Grant{RoleID: f.role.ID, OrganizationID: f.org.ID, UserID: f.user.ID})
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := f.store.GrantRole(ctx, auth.Grant{RoleID: f.role.ID, OrganizationID: f.org.ID, UserID: f.user.ID})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, g.ID, again.ID)

	grants, err := f.store.ListGrants(ctx, f.user.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)
}

func TestGrantRoleRejectsMissingReferences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.store.GrantRole(ctx, auth.Grant{RoleID: "nope", OrganizationID: f.org.ID, UserID: f.user.ID})
	require.ErrorIs(t, err, auth.ErrReferentialViolation)
	_, _, err = f.store.GrantRole(ctx, auth.Grant{RoleID: f.role.ID, OrganizationID: "nope", UserID: f.user.ID})
	require.ErrorIs(t, err, auth.ErrReferentialViolation)
	_, _, err = f.store.AttachPermission(ctx, f.role.ID, "nope")
	require.ErrorIs(t, err, auth.ErrReferentialViolation)
}

func TestDeleteCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.store.GrantRole(ctx, auth.Grant{RoleID: f.role.ID, OrganizationID: f.child.ID, UserID: f.user.ID})
	require.NoError(t, err)
	_, _, err = f.store.AttachPermission(ctx, f.role.ID, f.perm.ID)
	require.NoError(t, err)

	require.NoError(t, f.store.DeletePermission(ctx, f.perm.ID))
	perms, err := f.store.ListRolePermissions(ctx, f.role.ID)
	require.NoError(t, err)
	require.Empty(t, perms)

	require.NoError(t, f.store.DeleteOrganization(ctx, f.child.ID))
	grants, err := f.store.ListGrants(ctx, f.user.ID)
	require.NoError(t, err)
	require.Empty(t, grants)
}

func TestDeleteOrganizationWithChildrenConflicts(t *testing.T) {
	f := newFixture(t)
	err := f.store.DeleteOrganization(context.Background(), f.org.ID)
	require.ErrorIs(t, err, auth.ErrConflict)
}

func TestUpdateOrganizationRejectsCycle(t *testing.T) {
	f := newFixture(t)
	parent := f.child.ID
	_, err := f.store.UpdateOrganization(context.Background(), f.org.ID, auth.OrganizationUpdate{ParentID: &parent})
	require.ErrorIs(t, err, auth.ErrCycle)

	missing := "missing"
	_, err = f.store.UpdateOrganization(context.Background(), f.org.ID, auth.OrganizationUpdate{ParentID: &missing})
	require.ErrorIs(t, err, auth.ErrReferentialViolation)
}

func TestUniqueNames(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.store.CreateOrganization(ctx, auth.Organization{Name: "Group"})
	require.ErrorIs(t, err, auth.ErrConflict)
	_, err = f.store.CreateUser(ctx, auth.User{Name: "Other", Email: "doc@example.com"})
	require.ErrorIs(t, err, auth.ErrConflict)
	_, err = f.store.CreatePermission(ctx, auth.Permission{Name: "Patient-GET"})
	require.ErrorIs(t, err, auth.ErrConflict)
}

func TestSnapshotReadsGrantOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.store.GrantRole(ctx, auth.Grant{RoleID: f.role.ID, OrganizationID: f.child.ID, UserID: f.user.ID})
	require.NoError(t, err)
	_, _, err = f.store.GrantRole(ctx, auth.Grant{RoleID: f.role.ID, OrganizationID: f.org.ID, UserID: f.user.ID})
	require.NoError(t, err)

	err = f.store.Snapshot(ctx, func(r auth.TenantReader) error {
		grants, err := r.ListRolesForUser(ctx, f.user.ID)
		require.NoError(t, err)
		require.Len(t, grants, 2)
		require.Equal(t, f.child.ID, grants[0].Organization.ID)
		require.Equal(t, f.org.ID, grants[1].Organization.ID)
		return nil
	})
	require.NoError(t, err)
}
