package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"tapeoutops/internal/domain"
)

const companyColumns = `id,name,COALESCE(description,''),owner_id,status,created_at,updated_at`

func scanCompany(row rowScanner) (domain.Company, error) {
	var c domain.Company
	err := row.Scan(&c.ID, &c.Name, &c.Description, &c.OwnerID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) InsertCompany(ctx context.Context, tx *sql.Tx, c domain.Company) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO companies(id,name,description,owner_id,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.Name, nullable(c.Description), c.OwnerID, c.Status, c.CreatedAt, c.UpdatedAt)
	return mapWriteErr(err)
}

func (r Repo) GetCompany(ctx context.Context, id string) (domain.Company, error) {
	return scanCompany(r.DB.QueryRowContext(ctx, `SELECT `+companyColumns+` FROM companies WHERE id=?`, id))
}

// ListCompanies returns all companies, or only those owned by ownerID when set.
func (r Repo) ListCompanies(ctx context.Context, ownerID string) ([]domain.Company, error) {
	var (
		clauses []string
		args    []any
	)
	if ownerID != "" {
		clauses = append(clauses, "owner_id=?")
		args = append(args, ownerID)
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+companyColumns+` FROM companies`+where(clauses)+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateCompany(ctx context.Context, tx *sql.Tx, id string, name, description, status *string, updatedAt string) error {
	fields := []string{"updated_at=?"}
	args := []any{updatedAt}
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if status != nil {
		fields = append(fields, "status=?")
		args = append(args, *status)
	}
	args = append(args, id)
	res, err := r.q(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE companies SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteCompany(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM companies WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) CountProjects(ctx context.Context, tx *sql.Tx, companyID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE company_id=?`, companyID).Scan(&n)
	return n, err
}

const projectColumns = `id,name,COALESCE(description,''),company_id,created_at,updated_at`

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CompanyID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO projects(id,name,description,company_id,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, nullable(p.Description), p.CompanyID, p.CreatedAt, p.UpdatedAt)
	return mapWriteErr(err)
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

// ListProjects filters by company when companyID is set, and by company owner when ownerID is set.
func (r Repo) ListProjects(ctx context.Context, companyID, ownerID string) ([]domain.Project, error) {
	var (
		clauses []string
		args    []any
	)
	if companyID != "" {
		clauses = append(clauses, "p.company_id=?")
		args = append(args, companyID)
	}
	if ownerID != "" {
		clauses = append(clauses, "c.owner_id=?")
		args = append(args, ownerID)
	}
	query := `SELECT p.id,p.name,COALESCE(p.description,''),p.company_id,p.created_at,p.updated_at
FROM projects p JOIN companies c ON c.id=p.company_id` + where(clauses) + ` ORDER BY p.created_at DESC, p.id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) UpdateProject(ctx context.Context, tx *sql.Tx, id string, name, description *string, updatedAt string) error {
	fields := []string{"updated_at=?"}
	args := []any{updatedAt}
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, *name)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	args = append(args, id)
	res, err := r.q(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteProject(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}
