package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tapeoutops/internal/domain"
)

const userColumns = `id,email,password_hash,COALESCE(full_name,''),role,is_active,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var active int
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Role, &active, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	u.IsActive = active == 1
	return u, err
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(id,email,password_hash,full_name,role,is_active,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		u.ID, strings.ToLower(u.Email), u.PasswordHash, nullable(u.FullName), u.Role, boolToInt(u.IsActive), u.CreatedAt, u.UpdatedAt)
	return mapWriteErr(err)
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, strings.ToLower(strings.TrimSpace(email))))
}

func (r Repo) CountUsers(ctx context.Context, tx *sql.Tx) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

// UserUpdate holds optional user fields; nil leaves a column unchanged.
type UserUpdate struct {
	FullName     *string
	Role         *string
	IsActive     *bool
	PasswordHash *string
	UpdatedAt    string
}

func (r Repo) UpdateUser(ctx context.Context, tx *sql.Tx, id string, upd UserUpdate) error {
	fields := []string{"updated_at=?"}
	args := []any{upd.UpdatedAt}
	if upd.FullName != nil {
		fields = append(fields, "full_name=?")
		args = append(args, nullable(*upd.FullName))
	}
	if upd.Role != nil {
		fields = append(fields, "role=?")
		args = append(args, *upd.Role)
	}
	if upd.IsActive != nil {
		fields = append(fields, "is_active=?")
		args = append(args, boolToInt(*upd.IsActive))
	}
	if upd.PasswordHash != nil {
		fields = append(fields, "password_hash=?")
		args = append(args, *upd.PasswordHash)
	}
	args = append(args, id)
	res, err := r.q(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE users SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
