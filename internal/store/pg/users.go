package pg

import (
	"context"
	"database/sql"
	"errors"

	"authserver.org/internal/auth"
	"authserver.org/internal/ids"
)

const userColumns = `id, name, email, password_hash, is_active, is_staff, is_superuser, date_joined, updated_at`

func scanUser(row scanner) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.IsActive, &u.IsStaff, &u.IsSuperuser, &u.DateJoined, &u.UpdatedAt)
	return u, err
}

func (s *Store) CreateUser(ctx context.Context, user auth.User) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errUnavailable
	}
	created, err := scanUser(s.db.QueryRowContext(ctx, `
		insert into users (id, name, email, password_hash, is_active, is_staff, is_superuser)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning `+userColumns,
		ids.New(), user.Name, user.Email, user.PasswordHash, user.IsActive, user.IsStaff, user.IsSuperuser))
	if err != nil {
		return auth.User{}, mapError(err)
	}
	return created, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errUnavailable
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, notFound("user", id)
	}
	return u, err
}

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errUnavailable
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where email = $1`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, notFound("user", email)
	}
	return u, err
}

func (s *Store) ListUsers(ctx context.Context) ([]auth.User, error) {
	if s.db == nil {
		return nil, errUnavailable
	}
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]auth.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) UpdateUser(ctx context.Context, id string, upd auth.UserUpdate) (auth.User, error) {
	if s.db == nil {
		return auth.User{}, errUnavailable
	}
	var b setBuilder
	if upd.Name != nil {
		b.add("name", *upd.Name)
	}
	if upd.Email != nil {
		b.add("email", *upd.Email)
	}
	if upd.PasswordHash != nil {
		b.add("password_hash", *upd.PasswordHash)
	}
	if upd.IsActive != nil {
		b.add("is_active", *upd.IsActive)
	}
	if upd.IsStaff != nil {
		b.add("is_staff", *upd.IsStaff)
	}
	if upd.IsSuperuser != nil {
		b.add("is_superuser", *upd.IsSuperuser)
	}
	if b.empty() {
		return s.GetUser(ctx, id)
	}
	query, args := b.update("users", id, userColumns)
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, notFound("user", id)
	}
	if err != nil {
		return auth.User{}, mapError(err)
	}
	return u, nil
}

// DeleteUser relies on ON DELETE CASCADE to drop the user's grants in the
// same statement.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if s.db == nil {
		return errUnavailable
	}
	return deleteByID(ctx, s.db, "users", "user", id)
}

func deleteByID(ctx context.Context, q queryer, table, kind, id string) error {
	res, err := q.ExecContext(ctx, `delete from `+table+` where id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return notFound(kind, id)
	}
	return nil
}
