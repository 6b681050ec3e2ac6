//go:build integration

package pg

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"authserver.org/internal/auth"
	"authserver.org/internal/migrate"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("authserver_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	s, err := Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Ping(ctx))

	_, err = migrate.NewManager(s.DB(), nil).Up(ctx)
	require.NoError(t, err, "apply migrations")
	return s
}

func TestIntegrationTenantLifecycle(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	rbac, err := auth.NewRBACService(s)
	require.NoError(t, err)

	group, err := rbac.CreateOrganization(ctx, "ABC Clinic Group", "")
	require.NoError(t, err)
	b1, err := rbac.CreateOrganization(ctx, "Branch 1", group.ID)
	require.NoError(t, err)
	b2, err := rbac.CreateOrganization(ctx, "Branch 2", group.ID)
	require.NoError(t, err)

	parent := b1.ID
	_, err = rbac.UpdateOrganization(ctx, group.ID, auth.OrganizationUpdate{ParentID: &parent})
	require.ErrorIs(t, err, auth.ErrCycle)

	doctor, err := rbac.CreateRole(ctx, "Clinic-Doctor", "")
	require.NoError(t, err)
	empty, err := rbac.CreateRole(ctx, "Group-Owner", "")
	require.NoError(t, err)
	for _, name := range []string{"Patient-GET", "Patient-POST"} {
		p, err := rbac.EnsurePermission(ctx, name, "")
		require.NoError(t, err)
		_, created, err := rbac.AttachPermission(ctx, doctor.ID, p.ID)
		require.NoError(t, err)
		require.True(t, created)
	}

	u, err := rbac.CreateUser(ctx, auth.NewUser{Name: "Doc", Email: "doc@example.com", Password: "password"})
	require.NoError(t, err)

	for _, g := range []auth.Grant{
		{RoleID: doctor.ID, OrganizationID: b2.ID, UserID: u.ID},
		{RoleID: doctor.ID, OrganizationID: b1.ID, UserID: u.ID},
		{RoleID: empty.ID, OrganizationID: b2.ID, UserID: u.ID},
	} {
		_, created, err := rbac.GrantRole(ctx, g)
		require.NoError(t, err)
		require.True(t, created)
	}
	_, created, err := rbac.GrantRole(ctx, auth.Grant{RoleID: doctor.ID, OrganizationID: b1.ID, UserID: u.ID})
	require.NoError(t, err)
	require.False(t, created)

	_, _, err = rbac.GrantRole(ctx, auth.Grant{RoleID: doctor.ID, OrganizationID: "missing", UserID: u.ID})
	require.ErrorIs(t, err, auth.ErrReferentialViolation)

	var breakdown []auth.OrganizationRoles
	require.NoError(t, s.Snapshot(ctx, func(r auth.TenantReader) error {
		var err error
		breakdown, err = auth.OrganizationBreakdown(ctx, r, u.ID)
		return err
	}))
	require.Len(t, breakdown, 2)
	require.Equal(t, b2.ID, breakdown[0].Organization.ID)
	require.Len(t, breakdown[0].Roles, 2)
	require.Empty(t, breakdown[0].Roles[1].Permissions)

	require.ErrorIs(t, rbac.DeleteOrganization(ctx, group.ID), auth.ErrConflict)
	require.NoError(t, rbac.DeleteOrganization(ctx, b2.ID))
	grants, err := rbac.ListGrants(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, grants, 1)

	require.NoError(t, rbac.DeleteRole(ctx, doctor.ID))
	grants, err = rbac.ListGrants(ctx, u.ID)
	require.NoError(t, err)
	require.Empty(t, grants)
}

func TestIntegrationConcurrentGrants(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	rbac, err := auth.NewRBACService(s)
	require.NoError(t, err)
	org, err := rbac.CreateOrganization(ctx, "Org", "")
	require.NoError(t, err)
	role, err := rbac.CreateRole(ctx, "Role", "")
	require.NoError(t, err)
	u, err := rbac.CreateUser(ctx, auth.NewUser{Name: "U", Email: "u@example.com"})
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := rbac.GrantRole(ctx, auth.Grant{RoleID: role.ID, OrganizationID: org.ID, UserID: u.ID})
			require.NoError(t, err)
			if ok {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, created)
}
