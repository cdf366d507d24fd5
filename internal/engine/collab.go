package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"tapeoutops/internal/domain"
	"tapeoutops/internal/engine/auth"
	"tapeoutops/internal/events"
	"tapeoutops/internal/notify"
	"tapeoutops/internal/repo"
)

type outgoingNotification struct {
	UserID     string
	Type       string
	Title      string
	Message    string
	EntityType string
	EntityID   string
}

type pendingMail = notify.Message

// notifyTx records an in-app notification inside tx when the recipient's
// preference allows it. The returned message, if any, is enqueued by the
// caller after commit.
func (e Engine) notifyTx(ctx context.Context, tx *sql.Tx, n outgoingNotification) (*pendingMail, error) {
	if n.UserID == "" {
		return nil, nil
	}
	pref, err := e.Repo.GetPreference(ctx, tx, n.UserID, n.Type)
	if err != nil {
		return nil, err
	}
	if pref.InApp {
		if err := e.Repo.InsertNotification(ctx, tx, domain.Notification{
			ID:         uuid.New().String(),
			UserID:     n.UserID,
			Type:       n.Type,
			Title:      n.Title,
			Message:    n.Message,
			EntityType: n.EntityType,
			EntityID:   n.EntityID,
			CreatedAt:  e.timestamp(),
		}); err != nil {
			return nil, err
		}
	}
	if !pref.Email || e.Mailer == nil {
		return nil, nil
	}
	u, err := e.Repo.GetUser(ctx, n.UserID)
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, nil
	}
	return &pendingMail{To: u.Email, Subject: n.Title, Body: n.Message}, nil
}

func (e Engine) flushMail(m *pendingMail) {
	if m == nil {
		return
	}
	e.sendMail(m.To, m.Subject, m.Body)
}

const (
	EntitySpec       = "spec"
	EntityProject    = "project"
	EntityLintResult = "lint_result"
)

type CommentInput struct {
	Content    string `json:"content" validate:"required,max=10000"`
	EntityType string `json:"entity_type" validate:"required,oneof=spec project lint_result"`
	EntityID   string `json:"entity_id" validate:"required"`
}

// commentTarget checks the entity exists and returns who should hear about
// new comments on it.
func (e Engine) commentTarget(ctx context.Context, entityType, entityID string) (notifyUser, label string, err error) {
	switch entityType {
	case EntitySpec:
		s, err := e.Repo.GetSpec(ctx, entityID)
		if err != nil {
			return "", "", err
		}
		return s.AuthorID, s.Name + " " + s.Version, nil
	case EntityProject:
		p, err := e.Repo.GetProject(ctx, entityID)
		return "", p.Name, err
	case EntityLintResult:
		_, err := e.Repo.GetLintResult(ctx, entityID)
		return "", "", err
	}
	return "", "", ValidationError{Field: "entity_type", Message: "must be one of spec, project, lint_result"}
}

// CreateComment attaches a comment to an existing entity. Comments on a
// spec notify its author unless the author wrote the comment.
func (e Engine) CreateComment(ctx context.Context, actor domain.Actor, in CommentInput) (domain.Comment, error) {
	in.Content = strings.TrimSpace(in.Content)
	if err := e.validate(in); err != nil {
		return domain.Comment{}, err
	}
	recipient, label, err := e.commentTarget(ctx, in.EntityType, in.EntityID)
	if err != nil {
		return domain.Comment{}, err
	}
	now := e.timestamp()
	c := domain.Comment{
		ID:         uuid.New().String(),
		Content:    in.Content,
		AuthorID:   actor.UserID,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertComment(ctx, tx, c); err != nil {
		return domain.Comment{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "comment.created", ActorID: actor.UserID, ResourceType: "comment", ResourceID: c.ID, Action: "create",
		Payload: events.EventPayload{"entity_type": c.EntityType, "entity_id": c.EntityID},
	}); err != nil {
		return domain.Comment{}, err
	}
	var mail *pendingMail
	if recipient != "" && recipient != actor.UserID {
		if mail, err = e.notifyTx(ctx, tx, outgoingNotification{
			UserID:     recipient,
			Type:       "comment",
			Title:      "New comment",
			Message:    actor.Email + " commented on " + label,
			EntityType: c.EntityType,
			EntityID:   c.EntityID,
		}); err != nil {
			return domain.Comment{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	e.flushMail(mail)
	return c, nil
}

func (e Engine) GetComment(ctx context.Context, id string) (domain.Comment, error) {
	return e.Repo.GetComment(ctx, id)
}

func (e Engine) ListComments(ctx context.Context, entityType, entityID string) ([]domain.Comment, error) {
	if _, _, err := e.commentTarget(ctx, entityType, entityID); err != nil {
		return nil, err
	}
	return e.Repo.ListComments(ctx, entityType, entityID)
}

// UpdateComment is limited to the comment's author.
func (e Engine) UpdateComment(ctx context.Context, actor domain.Actor, id, content string) (domain.Comment, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return domain.Comment{}, ValidationError{Field: "content", Message: "is required"}
	}
	c, err := e.Repo.GetComment(ctx, id)
	if err != nil {
		return c, err
	}
	if c.AuthorID != actor.UserID {
		return c, auth.ForbiddenError{Action: "edit comment"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateComment(ctx, tx, id, content, e.timestamp()); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "comment.updated", ActorID: actor.UserID, ResourceType: "comment", ResourceID: id, Action: "update",
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return e.Repo.GetComment(ctx, id)
}

func (e Engine) DeleteComment(ctx context.Context, actor domain.Actor, id string) error {
	c, err := e.Repo.GetComment(ctx, id)
	if err != nil {
		return err
	}
	if err := auth.RequireOwnerOrAdmin(actor, c.AuthorID, "delete comment"); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteComment(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "comment.deleted", ActorID: actor.UserID, ResourceType: "comment", ResourceID: id, Action: "delete",
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListNotifications(ctx context.Context, actor domain.Actor, unreadOnly bool, page repo.Page) ([]domain.Notification, error) {
	return e.Repo.ListNotifications(ctx, actor.UserID, unreadOnly, page)
}

func (e Engine) MarkNotificationRead(ctx context.Context, actor domain.Actor, id string) error {
	return e.Repo.MarkNotificationRead(ctx, actor.UserID, id)
}

func (e Engine) MarkAllNotificationsRead(ctx context.Context, actor domain.Actor) (int64, error) {
	return e.Repo.MarkAllNotificationsRead(ctx, actor.UserID)
}

func (e Engine) ListPreferences(ctx context.Context, actor domain.Actor) ([]domain.NotificationPreference, error) {
	return e.Repo.ListPreferences(ctx, actor.UserID)
}

type PreferenceInput struct {
	Type  string `json:"type" validate:"required,oneof=comment assignment lint spec_status"`
	InApp *bool  `json:"in_app"`
	Email *bool  `json:"email"`
}

// UpdatePreference changes the supplied channels for one notification type.
func (e Engine) UpdatePreference(ctx context.Context, actor domain.Actor, in PreferenceInput) (domain.NotificationPreference, error) {
	if err := e.validate(in); err != nil {
		return domain.NotificationPreference{}, err
	}
	p, err := e.Repo.GetPreference(ctx, nil, actor.UserID, in.Type)
	if err != nil {
		return p, err
	}
	if in.InApp != nil {
		p.InApp = *in.InApp
	}
	if in.Email != nil {
		p.Email = *in.Email
	}
	if err := e.Repo.UpsertPreference(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}
