package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/YvesL-Web/project-manager/internal/auth"
	"github.com/YvesL-Web/project-manager/internal/ids"
)

const userColumns = `id, username, email, password, role_id, created_at, updated_at`

type userStore struct{ db *sql.DB }

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.RoleID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s userStore) Create(ctx context.Context, u *auth.User) error {
	if s.db == nil {
		return errNoDB
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	row := s.db.QueryRowContext(ctx, `
		insert into users (id, username, email, password, role_id)
		values ($1, $2, $3, $4, $5)
		returning created_at, updated_at
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.RoleID)
	if err := row.Scan(&u.CreatedAt, &u.UpdatedAt); err != nil {
		return mapWriteError(err, auth.ErrNotFound)
	}
	return nil
}

func (s userStore) findOne(ctx context.Context, where string, arg any) (*auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	return u, err
}

func (s userStore) FindByID(ctx context.Context, id string) (*auth.User, error) {
	return s.findOne(ctx, `id = $1`, id)
}

func (s userStore) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return s.findOne(ctx, `username = $1`, username)
}

func (s userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.findOne(ctx, `lower(email) = $1`, strings.ToLower(email))
}

func (s userStore) List(ctx context.Context) ([]*auth.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*auth.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s userStore) Update(ctx context.Context, u *auth.User) error {
	if s.db == nil {
		return errNoDB
	}
	err := s.db.QueryRowContext(ctx, `
		update users
		set username = $2, email = $3, password = $4, role_id = $5, updated_at = now()
		where id = $1
		returning updated_at
	`, u.ID, u.Username, u.Email, u.PasswordHash, u.RoleID).Scan(&u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrNotFound
	}
	if err != nil {
		return mapWriteError(err, auth.ErrNotFound)
	}
	return nil
}

func (s userStore) Delete(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}
