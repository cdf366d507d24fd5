package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"tapeoutops/internal/domain"
	"tapeoutops/internal/events"
	"tapeoutops/internal/lint"
	"tapeoutops/internal/repo"
	"tapeoutops/internal/storage"
)

type CreateSpecInput struct {
	ProjectID   string         `json:"project_id" validate:"required"`
	Name        string         `json:"name" validate:"required,max=200"`
	Version     string         `json:"version" validate:"required,semver"`
	Description string         `json:"description" validate:"max=5000"`
	Metadata    map[string]any `json:"metadata"`
	Filename    string         `json:"filename" validate:"required"`
	Content     []byte         `json:"-"`
}

// SpecKey is the document store key for a spec file.
func SpecKey(projectID, version, filename string) string {
	return fmt.Sprintf("specs/%s/%s/%s", projectID, version, filename)
}

func specBasename(filename string) (string, error) {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if base == "." || base == "/" || base == ".." || base == "" {
		return "", ValidationError{Field: "filename", Message: "is invalid"}
	}
	return base, nil
}

// CreateSpec stores the document and then records it as a draft. A failed
// store write leaves no record; a failed insert leaves an unreferenced object.
func (e Engine) CreateSpec(ctx context.Context, actor domain.Actor, in CreateSpecInput) (domain.Spec, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Version = strings.TrimSpace(in.Version)
	if err := e.validate(in); err != nil {
		return domain.Spec{}, err
	}
	if err := requireAuthenticated(actor); err != nil {
		return domain.Spec{}, err
	}
	base, err := specBasename(in.Filename)
	if err != nil {
		return domain.Spec{}, err
	}
	if _, err := e.Repo.GetProject(ctx, in.ProjectID); err != nil {
		return domain.Spec{}, err
	}
	key := SpecKey(in.ProjectID, in.Version, base)
	inUse, err := e.Repo.SpecFileInUse(ctx, key)
	if err != nil {
		return domain.Spec{}, err
	}
	if inUse {
		return domain.Spec{}, ConflictError{Message: fmt.Sprintf("a spec already uses %s", key)}
	}
	evt := events.Event{Type: "spec.created", ActorID: actor.UserID, ResourceType: "spec", Action: "create",
		Payload: events.EventPayload{"project_id": in.ProjectID, "file_path": key}}
	if err := e.Documents.Put(ctx, key, bytes.NewReader(in.Content), storage.ContentType(key)); err != nil {
		serr := StorageError{Op: "put", Key: key, Err: err}
		e.auditFailure(ctx, evt, serr)
		return domain.Spec{}, serr
	}
	now := e.timestamp()
	s := domain.Spec{
		ID:          uuid.New().String(),
		Name:        in.Name,
		Description: strings.TrimSpace(in.Description),
		Version:     in.Version,
		Status:      domain.SpecDraft,
		ProjectID:   in.ProjectID,
		AuthorID:    actor.UserID,
		Metadata:    in.Metadata,
		FilePath:    key,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	evt.ResourceID = s.ID
	if err := e.insertSpec(ctx, s, evt); err != nil {
		e.logError("CreateSpec", "insert spec after store write", logrus.Fields{"file_path": key}, err)
		if errors.Is(err, repo.ErrDuplicate) {
			return domain.Spec{}, ConflictError{Message: fmt.Sprintf("a spec already uses %s", key)}
		}
		return domain.Spec{}, err
	}
	return s, nil
}

func (e Engine) insertSpec(ctx context.Context, s domain.Spec, evt events.Event) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSpec(ctx, tx, s); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetSpec(ctx context.Context, id string) (domain.Spec, error) {
	return e.Repo.GetSpec(ctx, id)
}

func (e Engine) ListSpecs(ctx context.Context, projectID, status string, page repo.Page) ([]domain.Spec, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if status != "" && !validSpecStatus(status) {
		return nil, ValidationError{Field: "status", Message: "is not a known status"}
	}
	return e.Repo.ListSpecs(ctx, projectID, status, page)
}

func validSpecStatus(s string) bool {
	switch s {
	case domain.SpecDraft, domain.SpecReview, domain.SpecApproved, domain.SpecArchived:
		return true
	}
	return false
}

type SpecUpdateInput struct {
	Name        *string         `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string         `json:"description" validate:"omitempty,max=5000"`
	Status      *string         `json:"status" validate:"omitempty,oneof=draft review approved archived"`
	Metadata    *map[string]any `json:"metadata"`
}

// UpdateSpec changes only the supplied fields. Version and file path are
// fixed at creation.
func (e Engine) UpdateSpec(ctx context.Context, actor domain.Actor, id string, in SpecUpdateInput) (domain.Spec, error) {
	in.Name = trimmed(in.Name)
	if in.Name != nil && *in.Name == "" {
		return domain.Spec{}, ValidationError{Field: "name", Message: "is required"}
	}
	if err := e.validate(in); err != nil {
		return domain.Spec{}, err
	}
	if err := e.Auth.RequireSpecOwner(ctx, actor, id, "update spec"); err != nil {
		return domain.Spec{}, err
	}
	payload := events.EventPayload{}
	if in.Status != nil {
		payload["status"] = *in.Status
	}
	err := e.updateSpec(ctx, id, repo.SpecUpdate{
		Name:        in.Name,
		Description: in.Description,
		Status:      in.Status,
		Metadata:    in.Metadata,
		UpdatedAt:   e.timestamp(),
	}, events.Event{Type: "spec.updated", ActorID: actor.UserID, ResourceType: "spec", ResourceID: id, Action: "update", Payload: payload}, nil)
	if err != nil {
		return domain.Spec{}, err
	}
	return e.Repo.GetSpec(ctx, id)
}

func (e Engine) updateSpec(ctx context.Context, id string, upd repo.SpecUpdate, evt events.Event, note *outgoingNotification) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateSpec(ctx, tx, id, upd); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evt); err != nil {
		return err
	}
	var mail *pendingMail
	if note != nil {
		if mail, err = e.notifyTx(ctx, tx, *note); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.flushMail(mail)
	return nil
}

// DeleteSpec removes the stored document first; if that fails the record
// stays so it never points at a missing file.
func (e Engine) DeleteSpec(ctx context.Context, actor domain.Actor, id string) error {
	if err := e.Auth.RequireSpecOwner(ctx, actor, id, "delete spec"); err != nil {
		return err
	}
	s, err := e.Repo.GetSpec(ctx, id)
	if err != nil {
		return err
	}
	evt := events.Event{Type: "spec.deleted", ActorID: actor.UserID, ResourceType: "spec", ResourceID: id, Action: "delete",
		Payload: events.EventPayload{"file_path": s.FilePath}}
	if err := e.Documents.Delete(ctx, s.FilePath); err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		serr := StorageError{Op: "delete", Key: s.FilePath, Err: err}
		e.auditFailure(ctx, evt, serr)
		return serr
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteSpecComments(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Repo.DeleteSpec(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit()
}

// ApproveSpec marks the spec approved by the actor and clears any rejection.
func (e Engine) ApproveSpec(ctx context.Context, actor domain.Actor, id string) (domain.Spec, error) {
	return e.review(ctx, actor, id, true)
}

// RejectSpec sends the spec back to draft and clears any approval.
func (e Engine) RejectSpec(ctx context.Context, actor domain.Actor, id string) (domain.Spec, error) {
	return e.review(ctx, actor, id, false)
}

func (e Engine) review(ctx context.Context, actor domain.Actor, id string, approve bool) (domain.Spec, error) {
	action := "reject spec"
	if approve {
		action = "approve spec"
	}
	if err := e.Auth.RequireSpecOwner(ctx, actor, id, action); err != nil {
		return domain.Spec{}, err
	}
	s, err := e.Repo.GetSpec(ctx, id)
	if err != nil {
		return domain.Spec{}, err
	}
	email := actor.Email
	var none *string
	upd := repo.SpecUpdate{UpdatedAt: e.timestamp()}
	status := domain.SpecDraft
	evtType, verb, act := "spec.rejected", "rejected", "reject"
	if approve {
		status = domain.SpecApproved
		evtType, verb, act = "spec.approved", "approved", "approve"
		by := &email
		upd.ApprovedBy, upd.RejectedBy = &by, &none
	} else {
		by := &email
		upd.RejectedBy, upd.ApprovedBy = &by, &none
	}
	upd.Status = &status
	note := &outgoingNotification{
		UserID:     s.AuthorID,
		Type:       "spec_status",
		Title:      fmt.Sprintf("Spec %s", verb),
		Message:    fmt.Sprintf("%s %s %s %s", actor.Email, verb, s.Name, s.Version),
		EntityType: "spec",
		EntityID:   s.ID,
	}
	if err := e.updateSpec(ctx, id, upd, events.Event{
		Type: evtType, ActorID: actor.UserID, ResourceType: "spec", ResourceID: id, Action: act,
		Payload: events.EventPayload{"by": email},
	}, note); err != nil {
		return domain.Spec{}, err
	}
	return e.Repo.GetSpec(ctx, id)
}

// LintSpec runs the lint rules over the stored document and records the
// result. A store failure is an error, never a lint issue.
func (e Engine) LintSpec(ctx context.Context, actor domain.Actor, id string) (domain.LintResult, error) {
	if err := e.Auth.RequireSpecOwner(ctx, actor, id, "lint spec"); err != nil {
		return domain.LintResult{}, err
	}
	s, err := e.Repo.GetSpec(ctx, id)
	if err != nil {
		return domain.LintResult{}, err
	}
	evt := events.Event{Type: "spec.linted", ActorID: actor.UserID, ResourceType: "spec", ResourceID: id, Action: "lint"}
	content, err := e.Documents.Get(ctx, s.FilePath)
	if err != nil {
		serr := StorageError{Op: "get", Key: s.FilePath, Err: err}
		e.auditFailure(ctx, evt, serr)
		return domain.LintResult{}, serr
	}
	res := lint.Run(content)
	errs, warns, infos := res.Counts()
	lintRunsTotal.WithLabelValues(lintOutcome(res)).Inc()
	lr := domain.LintResult{
		ID:      uuid.New().String(),
		SpecID:  s.ID,
		Issues:  res.Issues,
		Summary: res.Summary,
		Metadata: map[string]any{
			"spec_version": s.Version,
			"file_path":    s.FilePath,
		},
		CreatedAt: e.timestamp(),
	}
	evt.Payload = events.EventPayload{"lint_result_id": lr.ID, "errors": errs, "warnings": warns, "infos": infos}
	note := outgoingNotification{
		UserID:     s.AuthorID,
		Type:       "lint",
		Title:      "Lint finished",
		Message:    fmt.Sprintf("%s %s: %s", s.Name, s.Version, res.Summary),
		EntityType: "lint_result",
		EntityID:   lr.ID,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.LintResult{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertLintResult(ctx, tx, lr); err != nil {
		return domain.LintResult{}, err
	}
	if err := e.Events.Append(ctx, tx, evt); err != nil {
		return domain.LintResult{}, err
	}
	mail, err := e.notifyTx(ctx, tx, note)
	if err != nil {
		return domain.LintResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.LintResult{}, err
	}
	e.flushMail(mail)
	return lr, nil
}

func lintOutcome(res lint.Result) string {
	switch {
	case len(res.Issues) == 0:
		return "clean"
	case res.Issues[0].Type == lint.TypeInvalidJSON:
		return "invalid_json"
	default:
		return "issues"
	}
}

func (e Engine) ListLintResults(ctx context.Context, specID string, page repo.Page) ([]domain.LintResult, error) {
	if _, err := e.Repo.GetSpec(ctx, specID); err != nil {
		return nil, err
	}
	return e.Repo.ListLintResults(ctx, specID, page)
}

func (e Engine) GetLintResult(ctx context.Context, id string) (domain.LintResult, error) {
	return e.Repo.GetLintResult(ctx, id)
}

// SpecFileURL returns a time-limited read link to the spec document.
func (e Engine) SpecFileURL(ctx context.Context, s domain.Spec) (string, error) {
	u, err := e.Documents.SignedURL(ctx, s.FilePath, e.Config.Storage.SignedURLTTL)
	if err != nil {
		return "", StorageError{Op: "sign", Key: s.FilePath, Err: err}
	}
	return u, nil
}

// SpecOwnerEmail resolves the e-mail of the company owner behind a spec.
func (e Engine) SpecOwnerEmail(ctx context.Context, specID string) (string, error) {
	ownerID, err := e.Auth.SpecOwner(ctx, specID)
	if err != nil {
		return "", err
	}
	u, err := e.Repo.GetUser(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return u.Email, nil
}
