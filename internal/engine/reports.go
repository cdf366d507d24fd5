package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"tapeoutops/internal/domain"
	"tapeoutops/internal/engine/auth"
	"tapeoutops/internal/repo"
)

const (
	ReportProjects = "projects"
	ReportSpecs    = "specs"
	ReportLint     = "lint"
	ReportComments = "comments"
	ReportUsage    = "usage"
)

const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
	FormatPDF  = "pdf"
)

// ReportFilter narrows a report. Start and End accept RFC3339 or YYYY-MM-DD.
type ReportFilter struct {
	CompanyID string
	ProjectID string
	Start     string
	End       string
}

func (e Engine) reportScope(actor domain.Actor, f ReportFilter) (repo.ReportScope, error) {
	scope := repo.ReportScope{CompanyID: f.CompanyID, ProjectID: f.ProjectID}
	if !actor.IsAdmin() {
		scope.OwnerID = actor.UserID
	}
	var err error
	if scope.Start, err = normalizeBound("start", f.Start, false); err != nil {
		return scope, err
	}
	if scope.End, err = normalizeBound("end", f.End, true); err != nil {
		return scope, err
	}
	if scope.Start != "" && scope.End != "" && scope.Start > scope.End {
		return scope, ValidationError{Field: "start", Message: "must not be after end"}
	}
	return scope, nil
}

// normalizeBound turns a date or timestamp into the RFC3339 form stored in
// the database. A bare end date covers the whole day.
func normalizeBound(field, v string, end bool) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC().Format(time.RFC3339), nil
	}
	d, err := time.Parse("2006-01-02", v)
	if err != nil {
		return "", ValidationError{Field: field, Message: "must be RFC3339 or YYYY-MM-DD"}
	}
	if end {
		d = d.Add(24*time.Hour - time.Second)
	}
	return d.UTC().Format(time.RFC3339), nil
}

func (e Engine) ProjectReport(ctx context.Context, actor domain.Actor, f ReportFilter) (domain.ProjectReport, error) {
	scope, err := e.reportScope(actor, f)
	if err != nil {
		return domain.ProjectReport{}, err
	}
	return e.Repo.ProjectReport(ctx, scope)
}

func (e Engine) SpecReport(ctx context.Context, actor domain.Actor, f ReportFilter) (domain.SpecReport, error) {
	scope, err := e.reportScope(actor, f)
	if err != nil {
		return domain.SpecReport{}, err
	}
	return e.Repo.SpecReport(ctx, scope)
}

func (e Engine) LintReport(ctx context.Context, actor domain.Actor, f ReportFilter) (domain.LintReport, error) {
	scope, err := e.reportScope(actor, f)
	if err != nil {
		return domain.LintReport{}, err
	}
	return e.Repo.LintReport(ctx, scope)
}

func (e Engine) CommentReport(ctx context.Context, actor domain.Actor, f ReportFilter) (domain.CommentReport, error) {
	scope, err := e.reportScope(actor, f)
	if err != nil {
		return domain.CommentReport{}, err
	}
	return e.Repo.CommentReport(ctx, scope)
}

// DashboardStats summarizes spec activity over the same scope as the reports.
func (e Engine) DashboardStats(ctx context.Context, actor domain.Actor, f ReportFilter) (domain.DashboardStats, error) {
	scope, err := e.reportScope(actor, f)
	if err != nil {
		return domain.DashboardStats{}, err
	}
	return e.Repo.DashboardStats(ctx, scope)
}

// UsageReport is system-wide and admin only.
func (e Engine) UsageReport(ctx context.Context, actor domain.Actor) (domain.UsageReport, error) {
	if err := auth.RequireAdmin(actor, "view usage report"); err != nil {
		return domain.UsageReport{}, err
	}
	return e.Repo.UsageReport(ctx)
}

type reportSection struct {
	Name   string
	Header []string
	Rows   [][]string
}

func keyCountSection(name, keyHeader string, kcs []domain.KeyCount) reportSection {
	s := reportSection{Name: name, Header: []string{keyHeader, "count"}}
	for _, kc := range kcs {
		s.Rows = append(s.Rows, []string{kc.Key, strconv.Itoa(kc.Count)})
	}
	return s
}

func totalsSection(pairs ...any) reportSection {
	s := reportSection{Name: "summary", Header: []string{"metric", "value"}}
	for i := 0; i+1 < len(pairs); i += 2 {
		s.Rows = append(s.Rows, []string{fmt.Sprint(pairs[i]), fmt.Sprint(pairs[i+1])})
	}
	return s
}

// reportSections builds the tabular form of a report used by every export format.
func (e Engine) reportSections(ctx context.Context, actor domain.Actor, kind string, f ReportFilter) ([]reportSection, error) {
	switch kind {
	case ReportProjects:
		rep, err := e.ProjectReport(ctx, actor, f)
		if err != nil {
			return nil, err
		}
		recent := reportSection{Name: "recent_projects", Header: []string{"id", "name", "company", "spec_count", "created_at"}}
		for _, p := range rep.Recent {
			recent.Rows = append(recent.Rows, []string{p.ID, p.Name, p.Company, strconv.Itoa(p.SpecCount), p.CreatedAt})
		}
		return []reportSection{
			totalsSection("total_projects", rep.TotalProjects, "active_projects", rep.ActiveProjects),
			keyCountSection("projects_by_company", "company", rep.ByCompany),
			recent,
		}, nil
	case ReportSpecs:
		rep, err := e.SpecReport(ctx, actor, f)
		if err != nil {
			return nil, err
		}
		recent := reportSection{Name: "recent_updates", Header: []string{"id", "name", "project", "status", "updated_at"}}
		for _, s := range rep.RecentUpdates {
			recent.Rows = append(recent.Rows, []string{s.ID, s.Name, s.Project, s.Status, s.UpdatedAt})
		}
		return []reportSection{
			totalsSection("total_specs", rep.TotalSpecs),
			keyCountSection("specs_by_status", "status", rep.ByStatus),
			keyCountSection("specs_by_project", "project", rep.ByProject),
			recent,
		}, nil
	case ReportLint:
		rep, err := e.LintReport(ctx, actor, f)
		if err != nil {
			return nil, err
		}
		return []reportSection{
			totalsSection("total_results", rep.TotalResults, "total_issues", rep.TotalIssues),
			keyCountSection("issues_by_severity", "severity", rep.BySeverity),
			keyCountSection("issues_by_type", "type", rep.ByType),
			keyCountSection("results_over_time", "day", rep.OverTime),
			keyCountSection("top_projects", "project", rep.TopProjects),
		}, nil
	case ReportComments:
		rep, err := e.CommentReport(ctx, actor, f)
		if err != nil {
			return nil, err
		}
		return []reportSection{
			totalsSection("total_comments", rep.TotalComments),
			keyCountSection("comments_by_entity", "entity_type", rep.ByEntity),
			keyCountSection("comments_over_time", "day", rep.OverTime),
			keyCountSection("most_active_users", "user", rep.TopCommenters),
		}, nil
	case ReportUsage:
		rep, err := e.UsageReport(ctx, actor)
		if err != nil {
			return nil, err
		}
		return []reportSection{
			totalsSection(
				"total_users", rep.TotalUsers,
				"active_users", rep.ActiveUsers,
				"companies", rep.Companies,
				"projects", rep.Projects,
				"specs", rep.Specs,
				"lint_runs", rep.LintRuns,
				"comments", rep.Comments,
				"checklists", rep.Checklists,
			),
			keyCountSection("users_by_role", "role", rep.UsersByRole),
			keyCountSection("checklist_items_by_status", "status", rep.ItemsByStatus),
		}, nil
	}
	return nil, ValidationError{Field: "report", Message: "must be one of projects, specs, lint, comments, usage"}
}

// Export is a rendered report ready to be sent as a download.
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

// ExportReport renders a report as csv or xlsx. PDF is accepted but not
// implemented.
func (e Engine) ExportReport(ctx context.Context, actor domain.Actor, kind, format string, f ReportFilter) (Export, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	switch format {
	case FormatCSV, FormatXLSX:
	case FormatPDF:
		return Export{}, ErrNotImplemented
	default:
		return Export{}, ValidationError{Field: "format", Message: "must be one of csv, xlsx, pdf"}
	}
	sections, err := e.reportSections(ctx, actor, kind, f)
	if err != nil {
		return Export{}, err
	}
	name := fmt.Sprintf("%s-report-%s.%s", kind, e.now().UTC().Format("20060102"), format)
	if format == FormatCSV {
		data, err := renderCSV(sections)
		if err != nil {
			return Export{}, err
		}
		return Export{Filename: name, ContentType: "text/csv", Data: data}, nil
	}
	data, err := renderXLSX(sections)
	if err != nil {
		return Export{}, err
	}
	return Export{Filename: name, ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", Data: data}, nil
}

// renderCSV writes sections one after another, separated by a blank line and
// introduced by a single-cell title row.
func renderCSV(sections []reportSection) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for i, s := range sections {
		if i > 0 {
			if err := w.Write([]string{""}); err != nil {
				return nil, err
			}
		}
		if err := w.Write([]string{s.Name}); err != nil {
			return nil, err
		}
		if err := w.Write(s.Header); err != nil {
			return nil, err
		}
		if err := w.WriteAll(s.Rows); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// renderXLSX puts each section on its own sheet.
func renderXLSX(sections []reportSection) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	for i, s := range sections {
		if i == 0 {
			if err := f.SetSheetName("Sheet1", s.Name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(s.Name); err != nil {
			return nil, err
		}
		rows := append([][]string{s.Header}, s.Rows...)
		for r, row := range rows {
			for c, v := range row {
				cell, err := excelize.CoordinatesToCellName(c+1, r+1)
				if err != nil {
					return nil, err
				}
				var val any = v
				if n, err := strconv.Atoi(v); err == nil && r > 0 {
					val = n
				}
				if err := f.SetCellValue(s.Name, cell, val); err != nil {
					return nil, err
				}
			}
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
