package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"tapeoutops/internal/domain"
	"tapeoutops/internal/engine"
)

func registerComments(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-comment",
		Method:        http.MethodPost,
		Path:          "/comments",
		Summary:       "Comment on a spec, project or lint result",
		Tags:          []string{"collaboration"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateCommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := h.e.CreateComment(ctx, actor, engine.CommentInput{
			Content:    input.Body.Content,
			EntityType: input.Body.EntityType,
			EntityID:   input.Body.EntityID,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-comments",
		Method:      http.MethodGet,
		Path:        "/comments",
		Summary:     "List comments on an entity",
		Tags:        []string{"collaboration"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		EntityType string `query:"entity_type" required:"true" enum:"spec,project,lint_result"`
		EntityID   string `query:"entity_id" required:"true"`
	}) (*struct {
		Body []domain.Comment `json:"body"`
	}, error) {
		items, err := h.e.ListComments(ctx, input.EntityType, input.EntityID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.Comment `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-comment",
		Method:      http.MethodGet,
		Path:        "/comments/{id}",
		Summary:     "Get comment",
		Tags:        []string{"collaboration"},
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		c, err := h.e.GetComment(ctx, input.ID)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-comment",
		Method:      http.MethodPatch,
		Path:        "/comments/{id}",
		Summary:     "Edit a comment",
		Tags:        []string{"collaboration"},
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body UpdateCommentRequest `json:"body"`
	}) (*struct {
		Body domain.Comment `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := h.e.UpdateComment(ctx, actor, input.ID, input.Body.Content)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.Comment `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-comment",
		Method:        http.MethodDelete,
		Path:          "/comments/{id}",
		Summary:       "Delete a comment",
		Tags:          []string{"collaboration"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.DeleteComment(ctx, actor, input.ID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerNotifications(api huma.API, h handlers) {
	huma.Register(api, huma.Operation{
		OperationID: "list-notifications",
		Method:      http.MethodGet,
		Path:        "/notifications",
		Summary:     "My notifications, newest first",
		Tags:        []string{"collaboration"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Unread bool   `query:"unread"`
		Limit  int    `query:"limit"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body NotificationListResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, limit, perr := pageFor(input.Limit, input.Cursor)
		if perr != nil {
			return nil, perr
		}
		items, err := h.e.ListNotifications(ctx, actor, input.Unread, page)
		if err != nil {
			return nil, h.handleError(err)
		}
		items, next := trimPage(items, limit, func(n domain.Notification) (string, string) { return n.CreatedAt, n.ID })
		return &struct {
			Body NotificationListResponse `json:"body"`
		}{Body: NotificationListResponse{Items: items, NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "mark-notification-read",
		Method:        http.MethodPost,
		Path:          "/notifications/{id}/read",
		Summary:       "Mark one notification read",
		Tags:          []string{"collaboration"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := h.e.MarkNotificationRead(ctx, actor, input.ID); err != nil {
			return nil, h.handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "mark-all-notifications-read",
		Method:      http.MethodPost,
		Path:        "/notifications/read-all",
		Summary:     "Mark every notification read",
		Tags:        []string{"collaboration"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body MarkedResponse `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := h.e.MarkAllNotificationsRead(ctx, actor)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body MarkedResponse `json:"body"`
		}{Body: MarkedResponse{Updated: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-notification-preferences",
		Method:      http.MethodGet,
		Path:        "/notification-preferences",
		Summary:     "My notification preferences",
		Tags:        []string{"collaboration"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.NotificationPreference `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.ListPreferences(ctx, actor)
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body []domain.NotificationPreference `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-notification-preference",
		Method:      http.MethodPut,
		Path:        "/notification-preferences/{type}",
		Summary:     "Enable or disable channels for a notification type",
		Tags:        []string{"collaboration"},
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type string                  `path:"type" enum:"comment,assignment,lint,spec_status"`
		Body UpdatePreferenceRequest `json:"body"`
	}) (*struct {
		Body domain.NotificationPreference `json:"body"`
	}, error) {
		actor, authErr := actorFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := h.e.UpdatePreference(ctx, actor, engine.PreferenceInput{
			Type:  input.Type,
			InApp: input.Body.InApp,
			Email: input.Body.Email,
		})
		if err != nil {
			return nil, h.handleError(err)
		}
		return &struct {
			Body domain.NotificationPreference `json:"body"`
		}{Body: p}, nil
	})
}
