package pg

import (
	"context"
	"database/sql"
	"errors"

	"authserver.org/internal/auth"
	"authserver.org/internal/ids"
)

const (
	roleColumns  = `id, name, description, created_at, updated_at`
	roleColumnsR = `r.id, r.name, r.description, r.created_at, r.updated_at`
)

func scanRole(row scanner) (auth.Role, error) {
	var r auth.Role
	err := row.Scan(&r.ID, &r.Name, &r.Description, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func (s *Store) CreateRole(ctx context.Context, role auth.Role) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errUnavailable
	}
	created, err := scanRole(s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description)
		values ($1, $2, $3)
		returning `+roleColumns, ids.New(), role.Name, role.Description))
	if err != nil {
		return auth.Role{}, mapError(err)
	}
	return created, nil
}

func (s *Store) GetRole(ctx context.Context, id string) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errUnavailable
	}
	r, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, notFound("role", id)
	}
	return r, err
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]auth.Role, 0)
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) UpdateRole(ctx context.Context, id string, upd auth.RoleUpdate) (auth.Role, error) {
	if s.db == nil {
		return auth.Role{}, errUnavailable
	}
	var b setBuilder
	if upd.Name != nil {
		b.add("name", *upd.Name)
	}
	if upd.Description != nil {
		b.add("description", *upd.Description)
	}
	if b.empty() {
		return s.GetRole(ctx, id)
	}
	query, args := b.update("roles", id, roleColumns)
	r, err := scanRole(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Role{}, notFound("role", id)
	}
	if err != nil {
		return auth.Role{}, mapError(err)
	}
	return r, nil
}

// DeleteRole drops the role's grants and permission links by cascade.
func (s *Store) DeleteRole(ctx context.Context, id string) error {
	if s.db == nil {
		return errUnavailable
	}
	return deleteByID(ctx, s.db, "roles", "role", id)
}
