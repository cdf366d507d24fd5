package repo

import (
	"context"
	"database/sql"
	"strings"

	"tapeoutops/internal/domain"
)

const likeEscaper = `\`

// likePattern builds a substring pattern with LIKE wildcards in term escaped.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

// Search matches names case-insensitively (ASCII) across companies, projects
// and specs. ownerID limits matches to companies that user owns.
func (r Repo) Search(ctx context.Context, ownerID, term string, limit int) (domain.SearchResults, error) {
	res := domain.SearchResults{Companies: []domain.Company{}, Projects: []domain.Project{}, Specs: []domain.Spec{}}
	pattern := likePattern(term)
	match := `name LIKE ? ESCAPE '` + likeEscaper + `'`

	companyClauses, companyArgs := []string{match}, []any{pattern}
	projectClauses, projectArgs := []string{match}, []any{pattern}
	specClauses, specArgs := []string{match}, []any{pattern}
	if ownerID != "" {
		companyClauses = append(companyClauses, "owner_id=?")
		companyArgs = append(companyArgs, ownerID)
		projectClauses = append(projectClauses, "company_id IN (SELECT id FROM companies WHERE owner_id=?)")
		projectArgs = append(projectArgs, ownerID)
		specClauses = append(specClauses, "project_id IN (SELECT p.id FROM projects p JOIN companies c ON c.id=p.company_id WHERE c.owner_id=?)")
		specArgs = append(specArgs, ownerID)
	}
	const order = ` ORDER BY name, id LIMIT ?`

	if err := collect(ctx, r.DB, `SELECT `+companyColumns+` FROM companies`+where(companyClauses)+order,
		append(companyArgs, limit), scanCompany, &res.Companies); err != nil {
		return res, err
	}
	if err := collect(ctx, r.DB, `SELECT `+projectColumns+` FROM projects`+where(projectClauses)+order,
		append(projectArgs, limit), scanProject, &res.Projects); err != nil {
		return res, err
	}
	if err := collect(ctx, r.DB, `SELECT `+specColumns+` FROM specs`+where(specClauses)+order,
		append(specArgs, limit), scanSpec, &res.Specs); err != nil {
		return res, err
	}
	return res, nil
}

func collect[T any](ctx context.Context, db *sql.DB, query string, args []any, scan func(rowScanner) (T, error), out *[]T) error {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return err
		}
		*out = append(*out, v)
	}
	return rows.Err()
}
