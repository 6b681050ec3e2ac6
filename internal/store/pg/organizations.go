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
	orgColumns  = `id, name, parent_id, is_active, created_at, updated_at`
	orgColumnsO = `o.id, o.name, o.parent_id, o.is_active, o.created_at, o.updated_at`
)

func scanOrganization(row scanner) (auth.Organization, error) {
	var (
		org    auth.Organization
		parent sql.NullString
	)
	if err := row.Scan(&org.ID, &org.Name, &parent, &org.IsActive, &org.CreatedAt, &org.UpdatedAt); err != nil {
		return auth.Organization{}, err
	}
	org.ParentID = parent.String
	return org, nil
}

func (s *Store) CreateOrganization(ctx context.Context, org auth.Organization) (auth.Organization, error) {
	if s.db == nil {
		return auth.Organization{}, errUnavailable
	}
	created, err := scanOrganization(s.db.QueryRowContext(ctx, `
		insert into organizations (id, name, parent_id, is_active)
		values ($1, $2, $3, $4)
		returning `+orgColumns, ids.New(), org.Name, nullIfEmpty(org.ParentID), org.IsActive))
	if err != nil {
		return auth.Organization{}, mapError(err)
	}
	return created, nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (auth.Organization, error) {
	if s.db == nil {
		return auth.Organization{}, errUnavailable
	}
	org, err := scanOrganization(s.db.QueryRowContext(ctx, `select `+orgColumns+` from organizations where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Organization{}, notFound("organization", id)
	}
	return org, err
}

func (s *Store) FindOrganizationByName(ctx context.Context, name string) (auth.Organization, error) {
	if s.db == nil {
		return auth.Organization{}, errUnavailable
	}
	org, err := scanOrganization(s.db.QueryRowContext(ctx, `select `+orgColumns+` from organizations where name = $1`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Organization{}, notFound("organization", name)
	}
	return org, err
}

func (s *Store) ListOrganizations(ctx context.Context) ([]auth.Organization, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `select `+orgColumns+` from organizations order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]auth.Organization, 0)
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, org)
	}
	return result, rows.Err()
}

// UpdateOrganization runs SERIALIZABLE so that two concurrent re-parentings
// cannot close a cycle between them.
func (s *Store) UpdateOrganization(ctx context.Context, id string, upd auth.OrganizationUpdate) (auth.Organization, error) {
	if s.db == nil {
		return auth.Organization{}, errUnavailable
	}
	var b setBuilder
	if upd.Name != nil {
		b.add("name", *upd.Name)
	}
	if upd.ParentID != nil {
		b.add("parent_id", nullIfEmpty(*upd.ParentID))
	}
	if upd.IsActive != nil {
		b.add("is_active", *upd.IsActive)
	}
	if b.empty() {
		return s.GetOrganization(ctx, id)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return auth.Organization{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if upd.ParentID != nil && *upd.ParentID != "" {
		var cycle bool
		err := tx.QueryRowContext(ctx, `
			with recursive ancestors(id, parent_id) as (
				select id, parent_id from organizations where id = $1
				union all
				select o.id, o.parent_id from organizations o join ancestors a on o.id = a.parent_id
			)
			select exists(select 1 from ancestors where id = $2)
		`, *upd.ParentID, id).Scan(&cycle)
		if err != nil {
			return auth.Organization{}, err
		}
		if cycle {
			return auth.Organization{}, fmt.Errorf("%w: %s is an ancestor of %s", auth.ErrCycle, id, *upd.ParentID)
		}
	}

	query, args := b.update("organizations", id, orgColumns)
	org, err := scanOrganization(tx.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Organization{}, notFound("organization", id)
	}
	if err != nil {
		return auth.Organization{}, mapError(err)
	}
	if err := tx.Commit(); err != nil {
		return auth.Organization{}, err
	}
	return org, nil
}

// DeleteOrganization refuses while child organizations exist; grants made in
// the organization go with it through ON DELETE CASCADE.
func (s *Store) DeleteOrganization(ctx context.Context, id string) error {
	if s.db == nil {
		return errUnavailable
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var children bool
	if err := tx.QueryRowContext(ctx, `select exists(select 1 from organizations where parent_id = $1)`, id).Scan(&children); err != nil {
		return err
	}
	if children {
		return fmt.Errorf("%w: organization %s has child organizations", auth.ErrConflict, id)
	}
	res, err := tx.ExecContext(ctx, `delete from organizations where id = $1`, id)
	if err != nil {
		if err := mapError(err); errors.Is(err, auth.ErrReferentialViolation) {
			return fmt.Errorf("%w: organization %s has child organizations", auth.ErrConflict, id)
		}
		return mapError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return notFound("organization", id)
	}
	return tx.Commit()
}
