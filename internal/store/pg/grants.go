package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"authserver.org/internal/auth"
	"authserver.org/internal/ids"
)

const grantColumns = `id, role_id, organization_id, user_id, created_at`

func scanGrant(row scanner) (auth.Grant, error) {
	var g auth.Grant
	err := row.Scan(&g.ID, &g.RoleID, &g.OrganizationID, &g.UserID, &g.CreatedAt)
	return g, err
}

// GrantRole inserts the triple or returns the existing row. Foreign keys make
// the insert fail with ErrReferentialViolation if any referenced row is gone,
// including one deleted concurrently. A revoke racing between the insert and
// the lookup causes one retry, then ErrConflict.
func (s *Store) GrantRole(ctx context.Context, g auth.Grant) (auth.Grant, bool, error) {
	if s.db == nil {
		return auth.Grant{}, false, errUnavailable
	}
	for attempt := 0; attempt < 2; attempt++ {
		created, err := scanGrant(s.db.QueryRowContext(ctx, `
			insert into roles_users_org (id, role_id, organization_id, user_id)
			values ($1, $2, $3, $4)
			on conflict (role_id, organization_id, user_id) do nothing
			returning `+grantColumns, ids.New(), g.RoleID, g.OrganizationID, g.UserID))
		if err == nil {
			return created, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return auth.Grant{}, false, mapError(err)
		}
		existing, err := scanGrant(s.db.QueryRowContext(ctx, `
			select `+grantColumns+` from roles_users_org
			where role_id = $1 and organization_id = $2 and user_id = $3
		`, g.RoleID, g.OrganizationID, g.UserID))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return auth.Grant{}, false, mapError(err)
		}
	}
	return auth.Grant{}, false, fmt.Errorf("%w: grant %s/%s/%s changed concurrently", auth.ErrConflict, g.RoleID, g.OrganizationID, g.UserID)
}

func (s *Store) RevokeRole(ctx context.Context, g auth.Grant) error {
	if s.db == nil {
		return errUnavailable
	}
	res, err := s.db.ExecContext(ctx, `
		delete from roles_users_org
		where role_id = $1 and organization_id = $2 and user_id = $3
	`, g.RoleID, g.OrganizationID, g.UserID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return notFound("grant", g.RoleID+"/"+g.OrganizationID+"/"+g.UserID)
	}
	return nil
}

func (s *Store) ListGrants(ctx context.Context, userID string) ([]auth.Grant, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `select `+grantColumns+` from roles_users_org where user_id = $1 order by id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]auth.Grant, 0)
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, g)
	}
	return result, rows.Err()
}
