package decision

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"authserver.org/internal/auth"
	"authserver.org/internal/store/memory"
)

type countingResolver struct {
	calls int
	err   error
}

func (r *countingResolver) Resolve(_ context.Context, userID string) (auth.Identity, error) {
	r.calls++
	if r.err != nil {
		return auth.Identity{}, r.err
	}
	return auth.Identity{UserID: userID, IsActive: true}, nil
}

func TestCachedResolverMemoizes(t *testing.T) {
	next := &countingResolver{}
	c := NewCachedResolver(next, 8, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := c.Resolve(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, "u1", id.UserID)
	}
	require.Equal(t, 1, next.calls)

	c.Invalidate("u1")
	_, err := c.Resolve(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
}

func TestCachedResolverDoesNotCacheFailures(t *testing.T) {
	next := &countingResolver{err: auth.ErrNotFound}
	c := NewCachedResolver(next, 8, time.Minute)
	ctx := context.Background()

	_, err := c.Resolve(ctx, "ghost")
	require.ErrorIs(t, err, auth.ErrNotFound)
	_, err = c.Resolve(ctx, "ghost")
	require.ErrorIs(t, err, auth.ErrNotFound)
	require.Equal(t, 2, next.calls)
	require.Zero(t, c.Len())
}

func TestCachedResolverExpires(t *testing.T) {
	next := &countingResolver{}
	c := NewCachedResolver(next, 8, 20*time.Millisecond)
	ctx := context.Background()

	_, err := c.Resolve(ctx, "u1")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, err := c.Resolve(ctx, "u1")
		return err == nil && next.calls >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestCachedResolverEvictedByUserChanges(t *testing.T) {
	st := memory.New()
	c := NewCachedResolver(StoreResolver{Users: st}, 8, time.Hour)
	rbac, err := auth.NewRBACService(st, auth.WithUserChangeHook(c.Invalidate))
	require.NoError(t, err)
	ctx := context.Background()

	u, err := rbac.CreateUser(ctx, auth.NewUser{Name: "root", Email: "root@example.com", IsSuperuser: true})
	require.NoError(t, err)
	id, err := c.Resolve(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, id.IsSuperuser)
	require.Equal(t, 1, c.Len())

	demote := false
	_, err = rbac.UpdateUser(ctx, u.ID, auth.UserUpdate{IsSuperuser: &demote, IsActive: &demote})
	require.NoError(t, err)
	id, err = c.Resolve(ctx, u.ID)
	require.NoError(t, err)
	require.False(t, id.IsSuperuser)
	require.False(t, id.IsActive)

	require.NoError(t, rbac.DeleteUser(ctx, u.ID))
	require.Zero(t, c.Len())
	_, err = c.Resolve(ctx, u.ID)
	require.ErrorIs(t, err, auth.ErrNotFound)
}
