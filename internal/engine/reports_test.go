package engine_test

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"tapeoutops/internal/domain"
	"tapeoutops/internal/engine"
	"tapeoutops/internal/engine/auth"
)

func TestReportsAreScopedToOwnedCompanies(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	s := env.seedSpec(t, p, "1.0.0", `{"name":"PLL"}`)
	_, err := env.Engine.LintSpec(env.Ctx, env.Owner, s.ID)
	require.NoError(t, err)

	mine, err := env.Engine.SpecReport(env.Ctx, env.Owner, engine.ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, mine.TotalSpecs)

	theirs, err := env.Engine.SpecReport(env.Ctx, env.Stranger, engine.ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, theirs.TotalSpecs)

	lintRep, err := env.Engine.LintReport(env.Ctx, env.Admin, engine.ReportFilter{ProjectID: p.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, lintRep.TotalResults)
	assert.Equal(t, 2, lintRep.TotalIssues)

	later, err := env.Engine.ProjectReport(env.Ctx, env.Owner, engine.ReportFilter{Start: "2024-02-01"})
	require.NoError(t, err)
	assert.Equal(t, 0, later.TotalProjects)
	same, err := env.Engine.ProjectReport(env.Ctx, env.Owner, engine.ReportFilter{Start: "2024-01-01", End: "2024-01-01"})
	require.NoError(t, err)
	assert.Equal(t, 1, same.TotalProjects)
	assert.Equal(t, 1, same.ActiveProjects)

	_, err = env.Engine.ProjectReport(env.Ctx, env.Owner, engine.ReportFilter{Start: "yesterday"})
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestUsageReportIsAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	var forbidden auth.ForbiddenError
	_, err := env.Engine.UsageReport(env.Ctx, env.Owner)
	require.ErrorAs(t, err, &forbidden)

	rep, err := env.Engine.UsageReport(env.Ctx, env.Admin)
	require.NoError(t, err)
	assert.Equal(t, 3, rep.TotalUsers)
	assert.Equal(t, 3, rep.ActiveUsers)
}

func TestExportReportFormats(t *testing.T) {
	env := newTestEnv(t)
	env.seedProject(t)

	out, err := env.Engine.ExportReport(env.Ctx, env.Owner, engine.ReportProjects, "csv", engine.ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, "projects-report-20240101.csv", out.Filename)
	r := csv.NewReader(bytes.NewReader(out.Data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"summary"}, records[0])
	assert.Equal(t, []string{"total_projects", "1"}, records[2])

	out, err = env.Engine.ExportReport(env.Ctx, env.Owner, engine.ReportProjects, "xlsx", engine.ReportFilter{})
	require.NoError(t, err)
	f, err := excelize.OpenReader(bytes.NewReader(out.Data))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{"summary", "projects_by_company", "recent_projects"}, f.GetSheetList())
	v, err := f.GetCellValue("projects_by_company", "A2")
	require.NoError(t, err)
	assert.Equal(t, "Acme Silicon", v)

	_, err = env.Engine.ExportReport(env.Ctx, env.Owner, engine.ReportProjects, "pdf", engine.ReportFilter{})
	require.ErrorIs(t, err, engine.ErrNotImplemented)

	_, err = env.Engine.ExportReport(env.Ctx, env.Owner, "weather", "csv", engine.ReportFilter{})
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestDashboardStatsCountsLifecycleStages(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	archived := env.seedSpec(t, p, "1.0.0", validSpecJSON)
	inReview := env.seedSpec(t, p, "2.0.0", validSpecJSON)
	approved := env.seedSpec(t, p, "3.0.0", validSpecJSON)
	env.seedSpec(t, p, "4.0.0", validSpecJSON)

	for id, status := range map[string]string{archived.ID: domain.SpecArchived, inReview.ID: domain.SpecReview} {
		st := status
		_, err := env.Engine.UpdateSpec(env.Ctx, env.Owner, id, engine.SpecUpdateInput{Status: &st})
		require.NoError(t, err)
	}
	_, err := env.Engine.ApproveSpec(env.Ctx, env.Owner, approved.ID)
	require.NoError(t, err)

	stats, err := env.Engine.DashboardStats(env.Ctx, env.Owner, engine.ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, domain.DashboardStats{ActiveSpecs: 3, PendingReviews: 1, ApprovedSpecs: 1, TotalProjects: 1}, stats)

	all, err := env.Engine.DashboardStats(env.Ctx, env.Admin, engine.ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, stats, all)

	none, err := env.Engine.DashboardStats(env.Ctx, env.Stranger, engine.ReportFilter{})
	require.NoError(t, err)
	assert.Equal(t, domain.DashboardStats{}, none)
}

func TestSearchMatchesNamesWithinOwnedCompanies(t *testing.T) {
	env := newTestEnv(t)
	p := env.seedProject(t)
	s := env.seedSpec(t, p, "1.0.0", validSpecJSON)

	res, err := env.Engine.Search(env.Ctx, env.Owner, "pll", 0)
	require.NoError(t, err)
	require.Len(t, res.Specs, 1)
	assert.Equal(t, s.ID, res.Specs[0].ID)
	assert.Empty(t, res.Companies)
	assert.Empty(t, res.Projects)

	res, err = env.Engine.Search(env.Ctx, env.Owner, "ACME", 0)
	require.NoError(t, err)
	require.Len(t, res.Companies, 1)
	assert.Equal(t, p.CompanyID, res.Companies[0].ID)

	res, err = env.Engine.Search(env.Ctx, env.Owner, "tapeout", 0)
	require.NoError(t, err)
	require.Len(t, res.Projects, 1)
	assert.Equal(t, p.ID, res.Projects[0].ID)

	res, err = env.Engine.Search(env.Ctx, env.Stranger, "pll", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Specs)

	res, err = env.Engine.Search(env.Ctx, env.Admin, "pll", 0)
	require.NoError(t, err)
	assert.Len(t, res.Specs, 1)

	res, err = env.Engine.Search(env.Ctx, env.Owner, "%", 0)
	require.NoError(t, err)
	assert.Empty(t, res.Specs)
	assert.Empty(t, res.Companies)

	_, err = env.Engine.Search(env.Ctx, env.Owner, "   ", 0)
	var verr engine.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "q", verr.Field)
}
