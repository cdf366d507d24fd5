package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"tapeoutops/internal/domain"
	"tapeoutops/internal/engine"
)

type ReportQuery struct {
	CompanyID string `query:"company_id"`
	ProjectID string `query:"project_id"`
	Start     string `query:"start" doc:"RFC3339 timestamp or YYYY-MM-DD"`
	End       string `query:"end" doc:"RFC3339 timestamp or YYYY-MM-DD; a bare date includes the whole day"`
}

func (q ReportQuery) filter() engine.ReportFilter {
	return engine.ReportFilter{CompanyID: q.CompanyID, ProjectID: q.ProjectID, Start: q.Start, End: q.End}
}

func registerReport[T any](api huma.API, h handlers, kind, summary string, fn func(context.Context, domain.Actor, engine.ReportFilter) (T, error)) {
	huma.Register(api, huma.Operation{
		OperationID: "get-" + kind + "-report",
		Method:      http.MethodGet,
		Path:        "/reports/" + kind,
		Summary:     summary,
		Tags:        []string{"reports"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *ReportQuery) (*struct {
		Body T `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := fn(ctx, actor, input.filter())
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body T `json:"body"`
		}{Body: rep}, nil
	})
}

func registerReports(api huma.API, h handlers) {
	registerReport(api, h, engine.ReportProjects, "Project roll-up", h.e.ProjectReport)
	registerReport(api, h, engine.ReportSpecs, "Specification roll-up", h.e.SpecReport)
	registerReport(api, h, engine.ReportLint, "Lint roll-up", h.e.LintReport)
	registerReport(api, h, engine.ReportComments, "Comment roll-up", h.e.CommentReport)
	registerReport(api, h, engine.ReportUsage, "System usage (admin)",
		func(ctx context.Context, actor domain.Actor, _ engine.ReportFilter) (domain.UsageReport, error) {
			return h.e.UsageReport(ctx, actor)
		})

	huma.Register(api, huma.Operation{
		OperationID: "export-report",
		Method:      http.MethodGet,
		Path:        "/reports/{kind}/export",
		Summary:     "Download a report",
		Description: "csv and xlsx are supported. pdf answers 501.",
		Tags:        []string{"reports"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotImplemented},
	}, func(ctx context.Context, input *struct {
		Kind   string `path:"kind" enum:"projects,specs,lint,comments,usage"`
		Format string `query:"format" enum:"csv,xlsx,pdf" default:"csv"`
		ReportQuery
	}) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := h.e.ExportReport(ctx, actor, input.Kind, input.Format, input.filter())
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        out.ContentType,
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", out.Filename),
			Body:               out.Data,
		}, nil
	})
}

func registerDashboard(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "get-dashboard-stats",
		Method:      http.MethodGet,
		Path:        "/dashboard/stats",
		Summary:     "Spec counts by lifecycle stage",
		Tags:        []string{"reports"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *ReportQuery) (*struct {
		Body domain.DashboardStats `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := h.e.DashboardStats(ctx, actor, input.filter())
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.DashboardStats `json:"body"`
		}{Body: stats}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search",
		Method:      http.MethodGet,
		Path:        "/search",
		Summary:     "Find companies, projects and specs by name",
		Tags:        []string{"search"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Q     string `query:"q" required:"true" doc:"Case-insensitive substring of the name"`
		Limit int    `query:"limit" minimum:"0" maximum:"100" doc:"Per-kind cap, default 20"`
	}) (*struct {
		Body domain.SearchResults `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := h.e.Search(ctx, actor, input.Q, input.Limit)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.SearchResults `json:"body"`
		}{Body: res}, nil
	})
}
