package server

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sirupsen/logrus"

	"tapeoutops/internal/domain"
	"tapeoutops/internal/engine"
	"tapeoutops/internal/logging"
)

const maxSpecUploadBytes = 32 << 20

// specResponse resolves the decorations for s, logging instead of failing.
func (h handlers) specResponse(ctx context.Context, s domain.Spec) SpecResponse {
	fileURL, err := h.e.SpecFileURL(ctx, s)
	if err != nil {
		logging.LogError(h.logger, "server", "specResponse", "sign spec document", logrus.Fields{"spec_id": s.ID}, err)
	}
	owner, err := h.e.SpecOwnerEmail(ctx, s.ID)
	if err != nil {
		logging.LogError(h.logger, "server", "specResponse", "resolve spec owner", logrus.Fields{"spec_id": s.ID}, err)
	}
	return specResponse(s, fileURL, owner)
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return ""
}

func formFile(form *multipart.Form, key string) (*multipart.FileHeader, huma.StatusError) {
	files := form.File[key]
	if len(files) == 0 {
		return nil, newAPIError(http.StatusBadRequest, "validation_error", key+": is required", map[string]any{"field": key})
	}
	return files[0], nil
}

func registerSpecs(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-spec",
		Method:        http.MethodPost,
		Path:          "/specs",
		Summary:       "Upload a specification",
		Description:   "Multipart form with project_id, name, version, description, metadata (JSON object) and file.",
		Tags:          []string{"specs"},
		DefaultStatus: http.StatusCreated,
		MaxBodyBytes:  maxSpecUploadBytes,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		RawBody multipart.Form
	}) (*struct {
		Body SpecResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		form := &input.RawBody
		fh, ferr := formFile(form, "file")
		if ferr != nil {
			return nil, ferr
		}
		var metadata map[string]any
		if raw := formValue(form, "metadata"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "validation_error", "metadata: must be a JSON object", map[string]any{"field": "metadata"})
			}
		}
		f, err := fh.Open()
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unreadable file", nil)
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unreadable file", nil)
		}
		s, err := h.e.CreateSpec(ctx, actor, engine.CreateSpecInput{
			ProjectID:   formValue(form, "project_id"),
			Name:        formValue(form, "name"),
			Version:     formValue(form, "version"),
			Description: formValue(form, "description"),
			Metadata:    metadata,
			Filename:    fh.Filename,
			Content:     content,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body SpecResponse `json:"body"`
		}{Body: h.specResponse(ctx, s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-project-specs",
		Method:      http.MethodGet,
		Path:        "/projects/{id}/specs",
		Summary:     "List specifications of a project",
		Tags:        []string{"specs"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Status string `query:"status"`
		Limit  int    `query:"limit"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body SpecListResponse `json:"body"`
	}, error) {
		page, limit, perr := pageFor(input.Limit, input.Cursor)
		if perr != nil {
			return nil, perr
		}
		items, err := h.e.ListSpecs(ctx, input.ID, input.Status, page)
		if err != nil {
			return nil, h.handleError(err)
		}
		items, next := trimPage(items, limit, func(s domain.Spec) (string, string) { return s.CreatedAt, s.ID })
		return &struct {
			Body SpecListResponse `json:"body"`
		}{Body: SpecListResponse{Items: items, NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-spec",
		Method:      http.MethodGet,
		Path:        "/specs/{id}",
		Summary:     "Get specification",
		Tags:        []string{"specs"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body SpecResponse `json:"body"`
	}, error) {
		s, err := h.e.GetSpec(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body SpecResponse `json:"body"`
		}{Body: h.specResponse(ctx, s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-spec",
		Method:      http.MethodPatch,
		Path:        "/specs/{id}",
		Summary:     "Update specification",
		Tags:        []string{"specs"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateSpecRequest `json:"body"`
	}) (*struct {
		Body SpecResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := h.e.UpdateSpec(ctx, actor, input.ID, engine.SpecUpdateInput{
			Name:        input.Body.Name,
			Description: input.Body.Description,
			Status:      input.Body.Status,
			Metadata:    input.Body.Metadata,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body SpecResponse `json:"body"`
		}{Body: h.specResponse(ctx, s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-spec",
		Method:        http.MethodDelete,
		Path:          "/specs/{id}",
		Summary:       "Delete specification",
		Description:   "The stored document is removed first; if that fails the spec is kept and 503 is returned.",
		Tags:          []string{"specs"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.DeleteSpec(ctx, actor, input.ID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})

	for _, tr := range []struct {
		id, verb, summary string
		fn                func(context.Context, domain.Actor, string) (domain.Spec, error)
	}{
		{"approve-spec", "approve", "Approve specification", h.e.ApproveSpec},
		{"reject-spec", "reject", "Reject specification", h.e.RejectSpec},
	} {
		huma.Register(api, huma.Operation{
			OperationID: tr.id,
			Method:      http.MethodPost,
			Path:        "/specs/{id}/" + tr.verb,
			Summary:     tr.summary,
			Tags:        []string{"specs"},
			Errors:      []int{http.StatusForbidden, http.StatusNotFound},
		}, func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*struct {
			Body SpecResponse `json:"body"`
		}, error) {
			actor, authErr := actorFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			s, err := tr.fn(ctx, actor, input.ID)
			if err != nil {
				return nil, h.handleError(err)
			}
			return &struct {
				Body SpecResponse `json:"body"`
			}{Body: h.specResponse(ctx, s)}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID:   "lint-spec",
		Method:        http.MethodPost,
		Path:          "/specs/{id}/lint",
		Summary:       "Lint the stored specification document",
		Tags:          []string{"specs", "lint"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.LintResult `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := h.e.LintSpec(ctx, actor, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.LintResult `json:"body"`
		}{Body: lintResultResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-lint-results",
		Method:      http.MethodGet,
		Path:        "/specs/{id}/lint-results",
		Summary:     "Lint history of a specification",
		Tags:        []string{"lint"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Limit  int    `query:"limit"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body LintResultListResponse `json:"body"`
	}, error) {
		page, limit, perr := pageFor(input.Limit, input.Cursor)
		if perr != nil {
			return nil, perr
		}
		items, err := h.e.ListLintResults(ctx, input.ID, page)
		if err != nil {
			return nil, h.handleError(err)
		}
		items, next := trimPage(items, limit, func(r domain.LintResult) (string, string) { return r.CreatedAt, r.ID })
		return &struct {
			Body LintResultListResponse `json:"body"`
		}{Body: LintResultListResponse{Items: mapLintResults(items), NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-lint-result",
		Method:      http.MethodGet,
		Path:        "/lint-results/{id}",
		Summary:     "Get lint result",
		Tags:        []string{"lint"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.LintResult `json:"body"`
	}, error) {
		res, err := h.e.GetLintResult(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.LintResult `json:"body"`
		}{Body: lintResultResponse(res)}, nil
	})
}
