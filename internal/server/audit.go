package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"tapeoutops/internal/repo"
)

func registerAudit(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit-events",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "Audit log, newest first",
		Tags:        []string{"audit"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type         string `query:"type"`
		ActorID      string `query:"actor_id"`
		ResourceType string `query:"resource_type"`
		ResourceID   string `query:"resource_id"`
		Outcome      string `query:"outcome" enum:"success,failure"`
		Limit        int    `query:"limit"`
		Cursor       string `query:"cursor"`
	}) (*struct {
		Body AuditListResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, err := h.e.ListAudit(ctx, actor, repo.AuditFilter{
			Type:         input.Type,
			ActorID:      input.ActorID,
			ResourceType: input.ResourceType,
			ResourceID:   input.ResourceID,
			Outcome:      input.Outcome,
			Limit:        input.Limit,
		}, input.Cursor)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body AuditListResponse `json:"body"`
		}{Body: AuditListResponse{Items: nonNilSlice(page.Events), NextCursor: page.NextCursor}}, nil
	})
}
