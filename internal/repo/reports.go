package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"tapeoutops/internal/domain"
)

// ReportScope restricts a report. OwnerID limits rows to companies that user
// owns; Start and End bound the created_at of the counted entity.
type ReportScope struct {
	OwnerID   string
	CompanyID string
	ProjectID string
	Start     string
	End       string
}

// clauses expects the query to alias projects as p and companies as c.
func (s ReportScope) clauses(tsCol string) ([]string, []any) {
	var (
		clauses []string
		args    []any
	)
	if s.OwnerID != "" {
		clauses = append(clauses, "c.owner_id=?")
		args = append(args, s.OwnerID)
	}
	if s.CompanyID != "" {
		clauses = append(clauses, "c.id=?")
		args = append(args, s.CompanyID)
	}
	if s.ProjectID != "" {
		clauses = append(clauses, "p.id=?")
		args = append(args, s.ProjectID)
	}
	if s.Start != "" {
		clauses = append(clauses, tsCol+" >= ?")
		args = append(args, s.Start)
	}
	if s.End != "" {
		clauses = append(clauses, tsCol+" <= ?")
		args = append(args, s.End)
	}
	return clauses, args
}

func (r Repo) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// countBy runs a query returning (key, count) rows.
func (r Repo) countBy(ctx context.Context, query string, args ...any) ([]domain.KeyCount, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.KeyCount{}
	for rows.Next() {
		var kc domain.KeyCount
		if err := rows.Scan(&kc.Key, &kc.Count); err != nil {
			return nil, err
		}
		res = append(res, kc)
	}
	return res, rows.Err()
}

const projectScopeFrom = ` FROM projects p JOIN companies c ON c.id=p.company_id`

func (r Repo) ProjectReport(ctx context.Context, scope ReportScope) (domain.ProjectReport, error) {
	var rep domain.ProjectReport
	clauses, args := scope.clauses("p.created_at")
	w := where(clauses)
	var err error
	if rep.TotalProjects, err = r.count(ctx, `SELECT COUNT(*)`+projectScopeFrom+w, args...); err != nil {
		return rep, err
	}
	active := append(append([]string{}, clauses...), "EXISTS (SELECT 1 FROM specs s WHERE s.project_id=p.id)")
	if rep.ActiveProjects, err = r.count(ctx, `SELECT COUNT(*)`+projectScopeFrom+where(active), args...); err != nil {
		return rep, err
	}
	if rep.ByCompany, err = r.countBy(ctx, `SELECT c.name, COUNT(p.id)`+projectScopeFrom+w+` GROUP BY c.id ORDER BY COUNT(p.id) DESC, c.name`, args...); err != nil {
		return rep, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT p.id, p.name, c.name, (SELECT COUNT(*) FROM specs s WHERE s.project_id=p.id), p.created_at`+
		projectScopeFrom+w+` ORDER BY p.created_at DESC, p.id DESC LIMIT 5`, args...)
	if err != nil {
		return rep, err
	}
	defer rows.Close()
	rep.Recent = []domain.RecentProject{}
	for rows.Next() {
		var rp domain.RecentProject
		if err := rows.Scan(&rp.ID, &rp.Name, &rp.Company, &rp.SpecCount, &rp.CreatedAt); err != nil {
			return rep, err
		}
		rep.Recent = append(rep.Recent, rp)
	}
	return rep, rows.Err()
}

const specScopeFrom = ` FROM specs s JOIN projects p ON p.id=s.project_id JOIN companies c ON c.id=p.company_id`

func (r Repo) SpecReport(ctx context.Context, scope ReportScope) (domain.SpecReport, error) {
	var rep domain.SpecReport
	clauses, args := scope.clauses("s.created_at")
	w := where(clauses)
	var err error
	if rep.TotalSpecs, err = r.count(ctx, `SELECT COUNT(*)`+specScopeFrom+w, args...); err != nil {
		return rep, err
	}
	if rep.ByStatus, err = r.countBy(ctx, `SELECT s.status, COUNT(*)`+specScopeFrom+w+` GROUP BY s.status ORDER BY s.status`, args...); err != nil {
		return rep, err
	}
	if rep.ByProject, err = r.countBy(ctx, `SELECT p.name, COUNT(*)`+specScopeFrom+w+` GROUP BY p.id ORDER BY COUNT(*) DESC, p.name`, args...); err != nil {
		return rep, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT s.id, s.name, p.name, s.status, s.updated_at`+specScopeFrom+w+
		` ORDER BY s.updated_at DESC, s.id DESC LIMIT 5`, args...)
	if err != nil {
		return rep, err
	}
	defer rows.Close()
	rep.RecentUpdates = []domain.RecentSpec{}
	for rows.Next() {
		var rs domain.RecentSpec
		if err := rows.Scan(&rs.ID, &rs.Name, &rs.Project, &rs.Status, &rs.UpdatedAt); err != nil {
			return rep, err
		}
		rep.RecentUpdates = append(rep.RecentUpdates, rs)
	}
	return rep, rows.Err()
}

// DashboardStats counts specs by lifecycle stage. Active means not archived.
func (r Repo) DashboardStats(ctx context.Context, scope ReportScope) (domain.DashboardStats, error) {
	var st domain.DashboardStats
	clauses, args := scope.clauses("s.created_at")
	withStatus := func(cond string) string {
		return where(append(append([]string{}, clauses...), cond))
	}
	var err error
	if st.ActiveSpecs, err = r.count(ctx, `SELECT COUNT(*)`+specScopeFrom+withStatus("s.status<>'archived'"), args...); err != nil {
		return st, err
	}
	if st.PendingReviews, err = r.count(ctx, `SELECT COUNT(*)`+specScopeFrom+withStatus("s.status='review'"), args...); err != nil {
		return st, err
	}
	if st.ApprovedSpecs, err = r.count(ctx, `SELECT COUNT(*)`+specScopeFrom+withStatus("s.status='approved'"), args...); err != nil {
		return st, err
	}
	pclauses, pargs := scope.clauses("p.created_at")
	st.TotalProjects, err = r.count(ctx, `SELECT COUNT(*)`+projectScopeFrom+where(pclauses), pargs...)
	return st, err
}

const lintScopeFrom = ` FROM lint_results l JOIN specs s ON s.id=l.spec_id JOIN projects p ON p.id=s.project_id JOIN companies c ON c.id=p.company_id`

// LintReport tallies issues by decoding each stored result; severities and
// types live inside issues_json.
func (r Repo) LintReport(ctx context.Context, scope ReportScope) (domain.LintReport, error) {
	var rep domain.LintReport
	clauses, args := scope.clauses("l.created_at")
	w := where(clauses)
	rows, err := r.DB.QueryContext(ctx, `SELECT l.id, l.issues_json`+lintScopeFrom+w, args...)
	if err != nil {
		return rep, err
	}
	severity := map[string]int{}
	types := map[string]int{}
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			rows.Close()
			return rep, err
		}
		var issues []domain.LintIssue
		if err := json.Unmarshal([]byte(raw), &issues); err != nil {
			rows.Close()
			return rep, fmt.Errorf("decode issues for %s: %w", id, err)
		}
		rep.TotalResults++
		for _, is := range issues {
			rep.TotalIssues++
			severity[is.Severity]++
			types[is.Type]++
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return rep, err
	}
	rep.BySeverity = sortedCounts(severity)
	rep.ByType = sortedCounts(types)
	if rep.OverTime, err = r.countBy(ctx, `SELECT substr(l.created_at,1,10) AS day, COUNT(*)`+lintScopeFrom+w+` GROUP BY day ORDER BY day`, args...); err != nil {
		return rep, err
	}
	if rep.TopProjects, err = r.countBy(ctx, `SELECT p.name, COUNT(*)`+lintScopeFrom+w+` GROUP BY p.id ORDER BY COUNT(*) DESC, p.name LIMIT 5`, args...); err != nil {
		return rep, err
	}
	return rep, nil
}

// commentScopeFrom resolves the owning project of each comment whatever its entity type.
const commentScopeFrom = ` FROM comments cm
LEFT JOIN projects p ON p.id = CASE cm.entity_type
  WHEN 'project' THEN cm.entity_id
  WHEN 'spec' THEN (SELECT project_id FROM specs WHERE id=cm.entity_id)
  WHEN 'lint_result' THEN (SELECT s.project_id FROM lint_results l JOIN specs s ON s.id=l.spec_id WHERE l.id=cm.entity_id)
END
LEFT JOIN companies c ON c.id=p.company_id`

func (r Repo) CommentReport(ctx context.Context, scope ReportScope) (domain.CommentReport, error) {
	var rep domain.CommentReport
	clauses, args := scope.clauses("cm.created_at")
	w := where(clauses)
	var err error
	if rep.TotalComments, err = r.count(ctx, `SELECT COUNT(*)`+commentScopeFrom+w, args...); err != nil {
		return rep, err
	}
	if rep.ByEntity, err = r.countBy(ctx, `SELECT cm.entity_type, COUNT(*)`+commentScopeFrom+w+` GROUP BY cm.entity_type ORDER BY cm.entity_type`, args...); err != nil {
		return rep, err
	}
	if rep.OverTime, err = r.countBy(ctx, `SELECT substr(cm.created_at,1,10) AS day, COUNT(*)`+commentScopeFrom+w+` GROUP BY day ORDER BY day`, args...); err != nil {
		return rep, err
	}
	if rep.TopCommenters, err = r.countBy(ctx, `SELECT COALESCE(NULLIF(u.full_name,''), u.email), COUNT(*)`+commentScopeFrom+
		` JOIN users u ON u.id=cm.author_id`+w+` GROUP BY u.id ORDER BY COUNT(*) DESC, u.email LIMIT 5`, args...); err != nil {
		return rep, err
	}
	return rep, nil
}

// UsageReport counts rows system-wide.
func (r Repo) UsageReport(ctx context.Context) (domain.UsageReport, error) {
	var rep domain.UsageReport
	counts := []struct {
		dst   *int
		query string
	}{
		{&rep.TotalUsers, `SELECT COUNT(*) FROM users`},
		{&rep.ActiveUsers, `SELECT COUNT(*) FROM users WHERE is_active=1`},
		{&rep.Companies, `SELECT COUNT(*) FROM companies`},
		{&rep.Projects, `SELECT COUNT(*) FROM projects`},
		{&rep.Specs, `SELECT COUNT(*) FROM specs`},
		{&rep.LintRuns, `SELECT COUNT(*) FROM lint_results`},
		{&rep.Comments, `SELECT COUNT(*) FROM comments`},
		{&rep.Checklists, `SELECT COUNT(*) FROM active_checklists`},
	}
	for _, c := range counts {
		n, err := r.count(ctx, c.query)
		if err != nil {
			return rep, err
		}
		*c.dst = n
	}
	var err error
	if rep.UsersByRole, err = r.countBy(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role ORDER BY role`); err != nil {
		return rep, err
	}
	if rep.ItemsByStatus, err = r.countBy(ctx, `SELECT status, COUNT(*) FROM active_checklist_items GROUP BY status ORDER BY status`); err != nil {
		return rep, err
	}
	return rep, nil
}

func sortedCounts(m map[string]int) []domain.KeyCount {
	res := make([]domain.KeyCount, 0, len(m))
	for k, v := range m {
		res = append(res, domain.KeyCount{Key: k, Count: v})
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Count != res[j].Count {
			return res[i].Count > res[j].Count
		}
		return res[i].Key < res[j].Key
	})
	return res
}
