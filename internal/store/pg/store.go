// Package pg implements auth.Store on PostgreSQL through database/sql and the
// pgx driver.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"authserver.org/internal/auth"
)

var _ auth.Store = (*Store)(nil)

var errUnavailable = errors.New("database connection unavailable")

type Store struct {
	db *sql.DB
}

// Open connects with pool defaults suited to a small auth service.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping reports whether the database answers.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errUnavailable
	}
	return s.db.PingContext(ctx)
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Snapshot runs fn inside a read-only REPEATABLE READ transaction so that
// every query fn issues sees the same committed state.
func (s *Store) Snapshot(ctx context.Context, fn func(auth.TenantReader) error) error {
	if s.db == nil {
		return errUnavailable
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(reader{q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type reader struct{ q queryer }

func (r reader) ListRolesForUser(ctx context.Context, userID string) ([]auth.RoleGrant, error) {
	rows, err := r.q.QueryContext(ctx, `
		select `+roleColumnsR+`, `+orgColumnsO+`
		from roles_users_org g
		join roles r on r.id = g.role_id
		join organizations o on o.id = g.organization_id
		where g.user_id = $1
		order by g.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.RoleGrant
	for rows.Next() {
		var (
			rg     auth.RoleGrant
			parent sql.NullString
		)
		if err := rows.Scan(
			&rg.Role.ID, &rg.Role.Name, &rg.Role.Description, &rg.Role.CreatedAt, &rg.Role.UpdatedAt,
			&rg.Organization.ID, &rg.Organization.Name, &parent, &rg.Organization.IsActive,
			&rg.Organization.CreatedAt, &rg.Organization.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rg.Organization.ParentID = parent.String
		out = append(out, rg)
	}
	return out, rows.Err()
}

func (r reader) ListPermissionsForRoles(ctx context.Context, roleIDs []string) (map[string][]auth.Permission, error) {
	out := make(map[string][]auth.Permission, len(roleIDs))
	if len(roleIDs) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(roleIDs))
	args := make([]any, len(roleIDs))
	for i, id := range roleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := r.q.QueryContext(ctx, `
		select rp.role_id, `+permColumnsP+`
		from roles_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id in (`+strings.Join(placeholders, ", ")+`)
		order by rp.id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			roleID string
			p      auth.Permission
		)
		if err := rows.Scan(&roleID, &p.ID, &p.Name, &p.Description, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out[roleID] = append(out[roleID], p)
	}
	return out, rows.Err()
}

// mapError translates constraint violations into auth sentinels.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %s", auth.ErrConflict, pgErr.ConstraintName)
	case pgerrcode.ForeignKeyViolation:
		return fmt.Errorf("%w: %s", auth.ErrReferentialViolation, pgErr.ConstraintName)
	case pgerrcode.RestrictViolation:
		return fmt.Errorf("%w: %s", auth.ErrConflict, pgErr.ConstraintName)
	}
	return err
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", auth.ErrNotFound, kind, id)
}

func nullIfEmpty(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// setBuilder accumulates "col = $n" clauses for partial updates.
type setBuilder struct {
	clauses []string
	args    []any
}

func (b *setBuilder) add(column string, value any) {
	b.args = append(b.args, value)
	b.clauses = append(b.clauses, fmt.Sprintf("%s = $%d", column, len(b.args)))
}

func (b *setBuilder) empty() bool { return len(b.clauses) == 0 }

// update renders "update table set ... where id = $n returning cols".
func (b *setBuilder) update(table, id, returning string) (string, []any) {
	clauses := append(b.clauses, "updated_at = now()")
	args := append(b.args, id)
	return fmt.Sprintf(`update %s set %s where id = $%d returning %s`,
		table, strings.Join(clauses, ", "), len(args), returning), args
}
