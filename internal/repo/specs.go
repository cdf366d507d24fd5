package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"tapeoutops/internal/domain"
)

const specColumns = `id,name,COALESCE(description,''),version,status,project_id,author_id,metadata_json,file_path,approved_by,rejected_by,created_at,updated_at`

func scanSpec(row rowScanner) (domain.Spec, error) {
	var (
		s                  domain.Spec
		meta               sql.NullString
		approved, rejected sql.NullString
	)
	err := row.Scan(&s.ID, &s.Name, &s.Description, &s.Version, &s.Status, &s.ProjectID, &s.AuthorID,
		&meta, &s.FilePath, &approved, &rejected, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.Metadata = decodeJSONMap(meta)
	s.ApprovedBy = stringPtr(approved)
	s.RejectedBy = stringPtr(rejected)
	return s, nil
}

func (r Repo) InsertSpec(ctx context.Context, tx *sql.Tx, s domain.Spec) error {
	meta, err := encodeJSONMap(s.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO specs(id,name,description,version,status,project_id,author_id,metadata_json,file_path,approved_by,rejected_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.Name, nullable(s.Description), s.Version, s.Status, s.ProjectID, s.AuthorID, meta, s.FilePath,
		nullableStringPtr(s.ApprovedBy), nullableStringPtr(s.RejectedBy), s.CreatedAt, s.UpdatedAt)
	return mapWriteErr(err)
}

func (r Repo) GetSpec(ctx context.Context, id string) (domain.Spec, error) {
	return scanSpec(r.DB.QueryRowContext(ctx, `SELECT `+specColumns+` FROM specs WHERE id=?`, id))
}

func (r Repo) SpecFileInUse(ctx context.Context, filePath string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM specs WHERE file_path=?`, filePath).Scan(&n)
	return n > 0, err
}

// ListSpecs returns specs for a project, newest first.
func (r Repo) ListSpecs(ctx context.Context, projectID, status string, page Page) ([]domain.Spec, error) {
	clauses := []string{"project_id=?"}
	args := []any{projectID}
	if status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, status)
	}
	clauses, args = page.apply(clauses, args, "")
	limit, args := page.limitClause(args)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+specColumns+` FROM specs`+where(clauses)+` ORDER BY created_at DESC, id DESC`+limit, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Spec
	for rows.Next() {
		s, err := scanSpec(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// SpecFilesForProject lists stored document keys of a project's specs.
func (r Repo) SpecFilesForProject(ctx context.Context, projectID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT file_path FROM specs WHERE project_id=?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// SpecUpdate lists optional spec columns; nil leaves a column unchanged.
type SpecUpdate struct {
	Name        *string
	Description *string
	Status      *string
	Metadata    *map[string]any
	ApprovedBy  **string
	RejectedBy  **string
	UpdatedAt   string
}

func (r Repo) UpdateSpec(ctx context.Context, tx *sql.Tx, id string, upd SpecUpdate) error {
	fields := []string{"updated_at=?"}
	args := []any{upd.UpdatedAt}
	if upd.Name != nil {
		fields = append(fields, "name=?")
		args = append(args, *upd.Name)
	}
	if upd.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*upd.Description))
	}
	if upd.Status != nil {
		fields = append(fields, "status=?")
		args = append(args, *upd.Status)
	}
	if upd.Metadata != nil {
		meta, err := encodeJSONMap(*upd.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		fields = append(fields, "metadata_json=?")
		args = append(args, meta)
	}
	if upd.ApprovedBy != nil {
		fields = append(fields, "approved_by=?")
		args = append(args, nullableStringPtr(*upd.ApprovedBy))
	}
	if upd.RejectedBy != nil {
		fields = append(fields, "rejected_by=?")
		args = append(args, nullableStringPtr(*upd.RejectedBy))
	}
	args = append(args, id)
	res, err := r.q(tx).ExecContext(ctx, fmt.Sprintf(`UPDATE specs SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) DeleteSpec(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM specs WHERE id=?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res)
}

func (r Repo) InsertLintResult(ctx context.Context, tx *sql.Tx, lr domain.LintResult) error {
	issues := lr.Issues
	if issues == nil {
		issues = []domain.LintIssue{}
	}
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return fmt.Errorf("encode issues: %w", err)
	}
	meta, err := encodeJSONMap(lr.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO lint_results(id,spec_id,issues_json,summary,metadata_json,created_at) VALUES (?,?,?,?,?,?)`,
		lr.ID, lr.SpecID, string(issuesJSON), lr.Summary, meta, lr.CreatedAt)
	return err
}

const lintColumns = `id,spec_id,issues_json,summary,metadata_json,created_at`

func scanLintResult(row rowScanner) (domain.LintResult, error) {
	var (
		lr     domain.LintResult
		issues string
		meta   sql.NullString
	)
	err := row.Scan(&lr.ID, &lr.SpecID, &issues, &lr.Summary, &meta, &lr.CreatedAt)
	if err == sql.ErrNoRows {
		return lr, ErrNotFound
	}
	if err != nil {
		return lr, err
	}
	if err := json.Unmarshal([]byte(issues), &lr.Issues); err != nil {
		return lr, fmt.Errorf("decode issues for %s: %w", lr.ID, err)
	}
	lr.Metadata = decodeJSONMap(meta)
	return lr, nil
}

func (r Repo) GetLintResult(ctx context.Context, id string) (domain.LintResult, error) {
	return scanLintResult(r.DB.QueryRowContext(ctx, `SELECT `+lintColumns+` FROM lint_results WHERE id=?`, id))
}

// ListLintResults returns a spec's lint history, newest first.
func (r Repo) ListLintResults(ctx context.Context, specID string, page Page) ([]domain.LintResult, error) {
	clauses := []string{"spec_id=?"}
	args := []any{specID}
	clauses, args = page.apply(clauses, args, "")
	limit, args := page.limitClause(args)
	rows, err := r.DB.QueryContext(ctx, `SELECT `+lintColumns+` FROM lint_results`+where(clauses)+` ORDER BY created_at DESC, id DESC`+limit, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.LintResult
	for rows.Next() {
		lr, err := scanLintResult(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, lr)
	}
	return res, rows.Err()
}
