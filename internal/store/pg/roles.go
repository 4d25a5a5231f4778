package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/YvesL-Web/project-manager/internal/auth"
	"github.com/YvesL-Web/project-manager/internal/ids"
)

const roleColumns = `id, name, coalesce(description, ''), rights, created_at, updated_at`

type roleStore struct{ db *sql.DB }

func scanRole(row scanner) (*auth.Role, error) {
	var r auth.Role
	if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.Rights, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func (s roleStore) Create(ctx context.Context, r *auth.Role) error {
	if s.db == nil {
		return errNoDB
	}
	if r.ID == "" {
		r.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description, rights)
		values ($1, $2, $3, $4)
		returning created_at, updated_at
	`, r.ID, r.Name, nullIfEmpty(r.Description), r.Rights)
	if err := row.Scan(&r.CreatedAt, &r.UpdatedAt); err != nil {
		return mapWriteError(err, auth.ErrNotFound)
	}
	return nil
}

func (s roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	r, err := scanRole(s.db.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return r, err
}

func (s roleStore) List(ctx context.Context) ([]*auth.Role, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s roleStore) Update(ctx context.Context, r *auth.Role) error {
	if s.db == nil {
		return errNoDB
	}
	err := s.db.QueryRowContext(ctx, `
		update roles
		set name = $2, description = $3, rights = $4, updated_at = now()
		where id = $1
		returning updated_at
	`, r.ID, r.Name, nullIfEmpty(r.Description), r.Rights).Scan(&r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if err != nil {
		return mapWriteError(err, auth.ErrNotFound)
	}
	return nil
}

// Delete removes a role. A role still referenced by users is reported as ErrConflict.
func (s roleStore) Delete(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from roles where id = $1`, id)
	if err != nil {
		return mapWriteError(err, auth.ErrConflict)
	}
	return requireAffected(res)
}
