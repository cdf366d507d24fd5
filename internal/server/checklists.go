package server

import (
	"context"
	"mime/multipart"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"tapeoutops/internal/domain"
	"tapeoutops/internal/engine"
)

const maxEvidenceUploadBytes = 64 << 20

func registerTemplates(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-checklist-template",
		Method:        http.MethodPost,
		Path:          "/checklist-templates",
		Summary:       "Create checklist template",
		Tags:          []string{"checklists"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CreateTemplateRequest `json:"body"`
	}) (*struct {
		Body domain.ChecklistTemplate `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		t, err := h.e.CreateTemplate(ctx, actor, input.Body.input())
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.ChecklistTemplate `json:"body"`
		}{Body: templateResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-checklist-templates",
		Method:      http.MethodGet,
		Path:        "/checklist-templates",
		Summary:     "List checklist templates",
		Tags:        []string{"checklists"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.ChecklistTemplate `json:"body"`
	}, error) {
		items, err := h.e.ListTemplates(ctx)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.ChecklistTemplate `json:"body"`
		}{Body: mapTemplates(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-checklist-template",
		Method:      http.MethodGet,
		Path:        "/checklist-templates/{id}",
		Summary:     "Get checklist template",
		Tags:        []string{"checklists"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.ChecklistTemplate `json:"body"`
	}, error) {
		t, err := h.e.GetTemplate(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.ChecklistTemplate `json:"body"`
		}{Body: templateResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-checklist-template",
		Method:        http.MethodDelete,
		Path:          "/checklist-templates/{id}",
		Summary:       "Delete checklist template",
		Description:   "Checklists created from the template keep their items.",
		Tags:          []string{"checklists"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.DeleteTemplate(ctx, actor, input.ID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerChecklists(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-checklist",
		Method:        http.MethodPost,
		Path:          "/checklists",
		Summary:       "Instantiate a checklist from a template",
		Tags:          []string{"checklists"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateChecklistRequest `json:"body"`
	}) (*struct {
		Body ChecklistResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := h.e.InstantiateChecklist(ctx, actor, engine.InstantiateInput{
			TemplateID:   input.Body.TemplateID,
			LinkedSpecID: input.Body.LinkedSpecID,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body ChecklistResponse `json:"body"`
		}{Body: checklistResponse(c, 0)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-checklists",
		Method:      http.MethodGet,
		Path:        "/checklists",
		Summary:     "List checklists",
		Tags:        []string{"checklists"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status       string `query:"status"`
		LinkedSpecID string `query:"linked_spec_id"`
		Limit        int    `query:"limit"`
		Cursor       string `query:"cursor"`
	}) (*struct {
		Body ChecklistListResponse `json:"body"`
	}, error) {
		page, limit, perr := pageFor(input.Limit, input.Cursor)
		if perr != nil {
			return nil, perr
		}
		items, err := h.e.ListChecklists(ctx, input.Status, input.LinkedSpecID, page)
		if err != nil {
			return nil, h.handleError(err)
		}
		items, next := trimPage(items, limit, func(c domain.ActiveChecklist) (string, string) { return c.CreatedAt, c.ID })
		return &struct {
			Body ChecklistListResponse `json:"body"`
		}{Body: ChecklistListResponse{Items: items, NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-checklist",
		Method:      http.MethodGet,
		Path:        "/checklists/{id}",
		Summary:     "Get checklist with items and completion",
		Tags:        []string{"checklists"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ChecklistResponse `json:"body"`
	}, error) {
		c, pct, err := h.e.GetChecklist(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body ChecklistResponse `json:"body"`
		}{Body: checklistResponse(c, pct)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-checklist",
		Method:      http.MethodPatch,
		Path:        "/checklists/{id}",
		Summary:     "Change checklist status",
		Tags:        []string{"checklists"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                    `path:"id"`
		Body SetChecklistStatusRequest `json:"body"`
	}) (*struct {
		Body ChecklistResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := h.e.UpdateChecklistStatus(ctx, actor, input.ID, input.Body.Status); err != nil {
			return nil, h.handleError(err)
		}
		c, pct, err := h.e.GetChecklist(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body ChecklistResponse `json:"body"`
		}{Body: checklistResponse(c, pct)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-checklist",
		Method:        http.MethodDelete,
		Path:          "/checklists/{id}",
		Summary:       "Delete checklist",
		Tags:          []string{"checklists"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.DeleteChecklist(ctx, actor, input.ID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-checklist-completion",
		Method:      http.MethodGet,
		Path:        "/checklists/{id}/completion",
		Summary:     "Completion percentage",
		Tags:        []string{"checklists"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body CompletionResponse `json:"body"`
	}, error) {
		pct, err := h.e.Completion(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body CompletionResponse `json:"body"`
		}{Body: CompletionResponse{ChecklistID: input.ID, Completion: pct}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-checklist-assignments",
		Method:      http.MethodGet,
		Path:        "/checklists/{id}/assignments",
		Summary:     "Assigned items of a checklist",
		Tags:        []string{"checklists"},
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.ActiveChecklistItem `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.ChecklistAssignments(ctx, actor, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.ActiveChecklistItem `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	registerChecklistItems(api, h)
}

func registerChecklistItems(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "update-checklist-item",
		Method:      http.MethodPatch,
		Path:        "/checklist-items/{id}",
		Summary:     "Update checklist item",
		Description: "Only the assignee or an admin may update an item. An empty assigned_to_user_id clears the assignment.",
		Tags:        []string{"checklists"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateItemRequest `json:"body"`
	}) (*struct {
		Body domain.ActiveChecklistItem `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := h.e.UpdateItem(ctx, actor, input.ID, engine.ItemUpdateInput{
			Status:     input.Body.Status,
			Comment:    input.Body.Comment,
			AssignedTo: input.Body.AssignedToUserID,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.ActiveChecklistItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-checklist-item",
		Method:      http.MethodPost,
		Path:        "/checklist-items/{id}/assign",
		Summary:     "Assign checklist item",
		Tags:        []string{"checklists"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body AssignItemRequest `json:"body"`
	}) (*struct {
		Body domain.ActiveChecklistItem `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := h.e.AssignItem(ctx, actor, input.ID, input.Body.UserID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.ActiveChecklistItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:  "upload-evidence",
		Method:       http.MethodPost,
		Path:         "/checklist-items/{id}/evidence",
		Summary:      "Attach evidence to a checklist item",
		Description:  "Multipart form with a single file field. Replaces any previous evidence.",
		Tags:         []string{"checklists"},
		MaxBodyBytes: maxEvidenceUploadBytes,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		RawBody multipart.Form
	}) (*struct {
		Body domain.ActiveChecklistItem `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		fh, ferr := formFile(&input.RawBody, "file")
		if ferr != nil {
			return nil, ferr
		}
		f, err := fh.Open()
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unreadable file", nil)
		}
		defer f.Close()
		it, err := h.e.UploadEvidence(ctx, actor, input.ID, fh.Filename, fh.Size, f)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.ActiveChecklistItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-evidence-url",
		Method:      http.MethodGet,
		Path:        "/checklist-items/{id}/evidence",
		Summary:     "Signed link to an item's evidence",
		Tags:        []string{"checklists"},
		Errors:      []int{http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body URLResponse `json:"body"`
	}, error) {
		u, err := h.e.EvidenceURL(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body URLResponse `json:"body"`
		}{Body: URLResponse{URL: u}}, nil
	})
}
