package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"authserver.org/internal/auth"
	"authserver.org/internal/ids"
)

const (
	permColumns  = `id, name, description, created_at, updated_at`
	permColumnsP = `p.id, p.name, p.description, p.created_at, p.updated_at`
)

func scanPermission(row scanner) (auth.Permission, error) {
	var p auth.Permission
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (s *Store) CreatePermission(ctx context.Context, perm auth.Permission) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errUnavailable
	}
	created, err := scanPermission(s.db.QueryRowContext(ctx, `
		insert into permissions (id, name, description)
		values ($1, $2, $3)
		returning `+permColumns, ids.New(), perm.Name, perm.Description))
	if err != nil {
		return auth.Permission{}, mapError(err)
	}
	return created, nil
}

func (s *Store) GetPermission(ctx context.Context, id string) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errUnavailable
	}
	p, err := scanPermission(s.db.QueryRowContext(ctx, `select `+permColumns+` from permissions where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Permission{}, notFound("permission", id)
	}
	return p, err
}

func (s *Store) FindPermissionByName(ctx context.Context, name string) (auth.Permission, error) {
	if s.db == nil {
		return auth.Permission{}, errUnavailable
	}
	p, err := scanPermission(s.db.QueryRowContext(ctx, `select `+permColumns+` from permissions where name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Permission{}, notFound("permission", name)
	}
	return p, err
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `select `+permColumns+` from permissions order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}

func collectPermissions(rows *sql.Rows) ([]auth.Permission, error) {
	result := make([]auth.Permission, 0)
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// DeletePermission removes the permission from every role by cascade.
func (s *Store) DeletePermission(ctx context.Context, id string) error {
	if s.db == nil {
		return errUnavailable
	}
	return deleteByID(ctx, s.db, "permissions", "permission", id)
}

func (s *Store) AttachPermission(ctx context.Context, roleID, permissionID string) (auth.RolePermission, bool, error) {
	if s.db == nil {
		return auth.RolePermission{}, false, errUnavailable
	}
	rp := auth.RolePermission{RoleID: roleID, PermissionID: permissionID}
	for attempt := 0; attempt < 2; attempt++ {
		err := s.db.QueryRowContext(ctx, `
			insert into roles_permissions (id, role_id, permission_id)
			values ($1, $2, $3)
			on conflict (role_id, permission_id) do nothing
			returning id, created_at
		`, ids.New(), roleID, permissionID).Scan(&rp.ID, &rp.CreatedAt)
		if err == nil {
			return rp, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return auth.RolePermission{}, false, mapError(err)
		}
		err = s.db.QueryRowContext(ctx, `
			select id, created_at from roles_permissions
			where role_id = $1 and permission_id = $2
		`, roleID, permissionID).Scan(&rp.ID, &rp.CreatedAt)
		if err == nil {
			return rp, false, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return auth.RolePermission{}, false, mapError(err)
		}
	}
	return auth.RolePermission{}, false, fmt.Errorf("%w: role permission %s/%s changed concurrently", auth.ErrConflict, roleID, permissionID)
}

func (s *Store) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	if s.db == nil {
		return errUnavailable
	}
	res, err := s.db.ExecContext(ctx, `delete from roles_permissions where role_id = $1 and permission_id = $2`, roleID, permissionID)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return notFound("role permission", roleID+"/"+permissionID)
	}
	return nil
}

func (s *Store) ListRolePermissions(ctx context.Context, roleID string) ([]auth.Permission, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `select exists(select 1 from roles where id = $1)`, roleID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, notFound("role", roleID)
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+permColumnsP+`
		from roles_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by rp.id
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPermissions(rows)
}
