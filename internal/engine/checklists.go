package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"tapeoutops/internal/domain"
	"tapeoutops/internal/engine/auth"
	"tapeoutops/internal/events"
	"tapeoutops/internal/repo"
	"tapeoutops/internal/storage"
)

type TemplateItemInput struct {
	Title       string `json:"title" validate:"required,max=300"`
	Description string `json:"description" validate:"max=5000"`
	Order       int    `json:"order"`
}

type TemplateInput struct {
	Name  string              `json:"name" validate:"required,max=200"`
	Items []TemplateItemInput `json:"items" validate:"dive"`
}

func (e Engine) CreateTemplate(ctx context.Context, actor domain.Actor, in TemplateInput) (domain.ChecklistTemplate, error) {
	in.Name = strings.TrimSpace(in.Name)
	for i := range in.Items {
		in.Items[i].Title = strings.TrimSpace(in.Items[i].Title)
	}
	if err := e.validate(in); err != nil {
		return domain.ChecklistTemplate{}, err
	}
	t := domain.ChecklistTemplate{
		ID:        uuid.New().String(),
		Name:      in.Name,
		CreatedBy: actor.Email,
		CreatedAt: e.timestamp(),
	}
	for _, it := range in.Items {
		t.Items = append(t.Items, domain.ChecklistTemplateItem{
			ID:          uuid.New().String(),
			TemplateID:  t.ID,
			Title:       it.Title,
			Description: strings.TrimSpace(it.Description),
			Order:       it.Order,
		})
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ChecklistTemplate{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTemplate(ctx, tx, t); err != nil {
		return domain.ChecklistTemplate{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "checklist_template.created", ActorID: actor.UserID, ResourceType: "checklist_template", ResourceID: t.ID, Action: "create",
		Payload: events.EventPayload{"items": len(t.Items)},
	}); err != nil {
		return domain.ChecklistTemplate{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ChecklistTemplate{}, err
	}
	return e.Repo.GetTemplate(ctx, nil, t.ID)
}

func (e Engine) GetTemplate(ctx context.Context, id string) (domain.ChecklistTemplate, error) {
	return e.Repo.GetTemplate(ctx, nil, id)
}

func (e Engine) ListTemplates(ctx context.Context) ([]domain.ChecklistTemplate, error) {
	return e.Repo.ListTemplates(ctx)
}

// DeleteTemplate leaves instantiated checklists untouched; their template_id
// no longer resolves.
func (e Engine) DeleteTemplate(ctx context.Context, actor domain.Actor, id string) error {
	t, err := e.Repo.GetTemplate(ctx, nil, id)
	if err != nil {
		return err
	}
	if err := requireCreator(actor, t.CreatedBy, "delete checklist template"); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTemplate(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "checklist_template.deleted", ActorID: actor.UserID, ResourceType: "checklist_template", ResourceID: id, Action: "delete",
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func requireCreator(actor domain.Actor, createdBy, action string) error {
	if actor.IsAdmin() || (actor.Email != "" && strings.EqualFold(actor.Email, createdBy)) {
		return nil
	}
	return auth.ForbiddenError{Action: action}
}

type InstantiateInput struct {
	TemplateID   string  `json:"template_id" validate:"required"`
	LinkedSpecID *string `json:"linked_spec_id"`
}

// InstantiateChecklist snapshots a template into an active checklist with
// one pending item per template item. LinkedSpecID is stored as given.
func (e Engine) InstantiateChecklist(ctx context.Context, actor domain.Actor, in InstantiateInput) (domain.ActiveChecklist, error) {
	if err := e.validate(in); err != nil {
		return domain.ActiveChecklist{}, err
	}
	in.LinkedSpecID = trimmed(in.LinkedSpecID)
	if in.LinkedSpecID != nil && *in.LinkedSpecID == "" {
		in.LinkedSpecID = nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ActiveChecklist{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTemplate(ctx, tx, in.TemplateID)
	if err != nil {
		return domain.ActiveChecklist{}, err
	}
	now := e.timestamp()
	c := domain.ActiveChecklist{
		ID:           uuid.New().String(),
		TemplateID:   t.ID,
		Name:         t.Name,
		LinkedSpecID: in.LinkedSpecID,
		CreatedBy:    actor.Email,
		Status:       domain.ChecklistActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.Repo.InsertChecklist(ctx, tx, c); err != nil {
		return domain.ActiveChecklist{}, err
	}
	c.Items = make([]domain.ActiveChecklistItem, 0, len(t.Items))
	for i, ti := range t.Items {
		it := domain.ActiveChecklistItem{
			ID:             uuid.New().String(),
			ChecklistID:    c.ID,
			TemplateItemID: ti.ID,
			Title:          ti.Title,
			Description:    ti.Description,
			Order:          ti.Order,
			Status:         domain.ItemPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := e.Repo.InsertChecklistItem(ctx, tx, i, it); err != nil {
			return domain.ActiveChecklist{}, fmt.Errorf("insert checklist item %d: %w", i, err)
		}
		c.Items = append(c.Items, it)
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "checklist.created", ActorID: actor.UserID, ResourceType: "checklist", ResourceID: c.ID, Action: "create",
		Payload: events.EventPayload{"template_id": t.ID, "items": len(c.Items)},
	}); err != nil {
		return domain.ActiveChecklist{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ActiveChecklist{}, err
	}
	return c, nil
}

// GetChecklist returns the checklist with its ordered items and completion
// percentage.
func (e Engine) GetChecklist(ctx context.Context, id string) (domain.ActiveChecklist, float64, error) {
	c, err := e.Repo.GetChecklist(ctx, id)
	if err != nil {
		return c, 0, err
	}
	if c.Items, err = e.Repo.ListChecklistItems(ctx, id); err != nil {
		return c, 0, err
	}
	return c, completionOf(c.Items), nil
}

func (e Engine) ListChecklists(ctx context.Context, status, linkedSpecID string, page repo.Page) ([]domain.ActiveChecklist, error) {
	if status != "" && !validChecklistStatus(status) {
		return nil, ValidationError{Field: "status", Message: "is not a known status"}
	}
	return e.Repo.ListChecklists(ctx, status, linkedSpecID, page)
}

func validChecklistStatus(s string) bool {
	switch s {
	case domain.ChecklistActive, domain.ChecklistCompleted, domain.ChecklistArchived:
		return true
	}
	return false
}

// Completion is done items over all items as a percentage; zero items is 0.
func (e Engine) Completion(ctx context.Context, checklistID string) (float64, error) {
	if _, err := e.Repo.GetChecklist(ctx, checklistID); err != nil {
		return 0, err
	}
	total, done, err := e.Repo.CountChecklistItems(ctx, checklistID)
	if err != nil {
		return 0, err
	}
	return percent(done, total), nil
}

func completionOf(items []domain.ActiveChecklistItem) float64 {
	done := 0
	for _, it := range items {
		if it.Status == domain.ItemDone {
			done++
		}
	}
	return percent(done, len(items))
}

func percent(done, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(done) / float64(total) * 100
}

func (e Engine) UpdateChecklistStatus(ctx context.Context, actor domain.Actor, id, status string) (domain.ActiveChecklist, error) {
	if !validChecklistStatus(status) {
		return domain.ActiveChecklist{}, ValidationError{Field: "status", Message: "must be one of active, completed, archived"}
	}
	c, err := e.Repo.GetChecklist(ctx, id)
	if err != nil {
		return c, err
	}
	if err := requireCreator(actor, c.CreatedBy, "update checklist"); err != nil {
		return c, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateChecklistStatus(ctx, tx, id, status, e.timestamp()); err != nil {
		return c, err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "checklist.status_changed", ActorID: actor.UserID, ResourceType: "checklist", ResourceID: id, Action: "update",
		Payload: events.EventPayload{"from": c.Status, "to": status},
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return e.Repo.GetChecklist(ctx, id)
}

// DeleteChecklist removes the checklist and its items; evidence files go
// after commit.
func (e Engine) DeleteChecklist(ctx context.Context, actor domain.Actor, id string) error {
	c, err := e.Repo.GetChecklist(ctx, id)
	if err != nil {
		return err
	}
	if err := requireCreator(actor, c.CreatedBy, "delete checklist"); err != nil {
		return err
	}
	paths, err := e.Repo.EvidencePaths(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteChecklist(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "checklist.deleted", ActorID: actor.UserID, ResourceType: "checklist", ResourceID: id, Action: "delete",
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, p := range paths {
		e.removeQuietly(ctx, e.Evidence, p)
	}
	return nil
}

type ItemUpdateInput struct {
	Status     *string `json:"status" validate:"omitempty,oneof=pending in_progress done"`
	Comment    *string `json:"comment" validate:"omitempty,max=5000"`
	AssignedTo *string `json:"assigned_to_user_id"`
}

func requireAssigneeOrAdmin(actor domain.Actor, it domain.ActiveChecklistItem, action string) error {
	if actor.IsAdmin() {
		return nil
	}
	if it.AssignedToUserID != nil && *it.AssignedToUserID == actor.UserID {
		return nil
	}
	return auth.ForbiddenError{Action: action}
}

// UpdateItem sets any supplied field. Status moves freely between the three
// values.
func (e Engine) UpdateItem(ctx context.Context, actor domain.Actor, itemID string, in ItemUpdateInput) (domain.ActiveChecklistItem, error) {
	if err := e.validate(in); err != nil {
		return domain.ActiveChecklistItem{}, err
	}
	it, err := e.Repo.GetChecklistItem(ctx, itemID)
	if err != nil {
		return it, err
	}
	if err := requireAssigneeOrAdmin(actor, it, "update checklist item"); err != nil {
		return it, err
	}
	upd := repo.ItemUpdate{Status: in.Status, UpdatedAt: e.timestamp()}
	payload := events.EventPayload{}
	if in.Status != nil {
		payload["status"] = *in.Status
	}
	if in.Comment != nil {
		upd.Comment = &in.Comment
	}
	if in.AssignedTo != nil {
		assignee := trimmed(in.AssignedTo)
		if *assignee == "" {
			assignee = nil
		} else if _, err := e.Repo.GetUser(ctx, *assignee); err != nil {
			return it, err
		}
		upd.AssignedToUserID = &assignee
		payload["assigned_to"] = assignee
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return it, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateChecklistItem(ctx, tx, itemID, upd); err != nil {
		return it, err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "checklist_item.updated", ActorID: actor.UserID, ResourceType: "checklist_item", ResourceID: itemID, Action: "update", Payload: payload,
	}); err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	return e.Repo.GetChecklistItem(ctx, itemID)
}

func (e Engine) evidenceExtensionAllowed(ext string) bool {
	for _, allowed := range e.Config.Uploads.EvidenceExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

func (e Engine) newEvidenceName(ext string) string {
	return ulid.MustNew(ulid.Timestamp(e.now()), ulid.DefaultEntropy()).String() + ext
}

// UploadEvidence stores a file against an item. Type and size are checked
// before anything else. If the item update fails the new file is removed,
// so no reference ever points at a missing object and no object is left
// behind.
func (e Engine) UploadEvidence(ctx context.Context, actor domain.Actor, itemID, filename string, size int64, r io.Reader) (domain.ActiveChecklistItem, error) {
	evt := events.Event{Type: "checklist_item.evidence_uploaded", ActorID: actor.UserID, ResourceType: "checklist_item", ResourceID: itemID, Action: "upload",
		Payload: events.EventPayload{"filename": filename, "size": size}}
	fail := func(err error) (domain.ActiveChecklistItem, error) {
		evidenceUploadsTotal.WithLabelValues("failure").Inc()
		e.auditFailure(ctx, evt, err)
		return domain.ActiveChecklistItem{}, err
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !e.evidenceExtensionAllowed(ext) {
		return fail(ValidationError{Field: "file", Message: fmt.Sprintf("file type %q is not allowed", ext)})
	}
	limit := e.Config.Uploads.MaxEvidenceBytes
	if size > limit {
		return fail(ValidationError{Field: "file", Message: fmt.Sprintf("file exceeds %d bytes", limit)})
	}
	content, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return fail(fmt.Errorf("read evidence: %w", err))
	}
	if int64(len(content)) > limit {
		return fail(ValidationError{Field: "file", Message: fmt.Sprintf("file exceeds %d bytes", limit)})
	}

	it, err := e.Repo.GetChecklistItem(ctx, itemID)
	if err != nil {
		return fail(err)
	}
	if err := requireAssigneeOrAdmin(actor, it, "upload evidence"); err != nil {
		return fail(err)
	}

	name := e.newEvidenceName(ext)
	evt.Payload["evidence_file_path"] = name
	if err := e.Evidence.Put(ctx, name, bytes.NewReader(content), storage.ContentType(name)); err != nil {
		return fail(StorageError{Op: "put", Key: name, Err: err})
	}
	if err := e.attachEvidence(ctx, itemID, name, evt); err != nil {
		if derr := e.Evidence.Delete(ctx, name); derr != nil {
			e.logError("UploadEvidence", "remove evidence after failed update", logrus.Fields{"key": name}, derr)
		}
		return fail(err)
	}
	evidenceUploadsTotal.WithLabelValues("success").Inc()
	if it.EvidenceFilePath != nil && *it.EvidenceFilePath != name {
		e.removeQuietly(ctx, e.Evidence, *it.EvidenceFilePath)
	}
	return e.Repo.GetChecklistItem(ctx, itemID)
}

func (e Engine) attachEvidence(ctx context.Context, itemID, name string, evt events.Event) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	path := &name
	if err := e.Repo.UpdateChecklistItem(ctx, tx, itemID, repo.ItemUpdate{EvidenceFilePath: &path, UpdatedAt: e.timestamp()}); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, evt); err != nil {
		return err
	}
	return tx.Commit()
}

// EvidenceURL returns a time-limited read link to an item's evidence.
func (e Engine) EvidenceURL(ctx context.Context, itemID string) (string, error) {
	it, err := e.Repo.GetChecklistItem(ctx, itemID)
	if err != nil {
		return "", err
	}
	if it.EvidenceFilePath == nil {
		return "", repo.ErrNotFound
	}
	u, err := e.Evidence.SignedURL(ctx, *it.EvidenceFilePath, e.Config.Storage.SignedURLTTL)
	if err != nil {
		return "", StorageError{Op: "sign", Key: *it.EvidenceFilePath, Err: err}
	}
	return u, nil
}

// AssignItem is limited to admins and the checklist creator. The assignee
// is notified in-app and by e-mail per their preferences.
func (e Engine) AssignItem(ctx context.Context, actor domain.Actor, itemID, userID string) (domain.ActiveChecklistItem, error) {
	it, err := e.Repo.GetChecklistItem(ctx, itemID)
	if err != nil {
		return it, err
	}
	c, err := e.Repo.GetChecklist(ctx, it.ChecklistID)
	if err != nil {
		return it, err
	}
	if err := requireCreator(actor, c.CreatedBy, "assign checklist item"); err != nil {
		return it, err
	}
	assignee, err := e.Repo.GetUser(ctx, userID)
	if err != nil {
		return it, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return it, err
	}
	defer tx.Rollback()
	id := &assignee.ID
	if err := e.Repo.UpdateChecklistItem(ctx, tx, itemID, repo.ItemUpdate{AssignedToUserID: &id, UpdatedAt: e.timestamp()}); err != nil {
		return it, err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "checklist_item.assigned", ActorID: actor.UserID, ResourceType: "checklist_item", ResourceID: itemID, Action: "assign",
		Payload: events.EventPayload{"assigned_to": assignee.ID},
	}); err != nil {
		return it, err
	}
	mail, err := e.notifyTx(ctx, tx, outgoingNotification{
		UserID:     assignee.ID,
		Type:       "assignment",
		Title:      "New checklist assignment",
		Message:    fmt.Sprintf("You were assigned %q on checklist %q", it.Title, c.Name),
		EntityType: "checklist_item",
		EntityID:   itemID,
	})
	if err != nil {
		return it, err
	}
	if err := tx.Commit(); err != nil {
		return it, err
	}
	e.flushMail(mail)
	return e.Repo.GetChecklistItem(ctx, itemID)
}

// UserAssignments lists items assigned to userID; callers see their own
// unless they are admins.
func (e Engine) UserAssignments(ctx context.Context, actor domain.Actor, userID string) ([]domain.ActiveChecklistItem, error) {
	if err := auth.RequireOwnerOrAdmin(actor, userID, "view assignments"); err != nil {
		return nil, err
	}
	return e.Repo.ListItemsAssignedTo(ctx, userID)
}

func (e Engine) ChecklistAssignments(ctx context.Context, actor domain.Actor, checklistID string) ([]domain.ActiveChecklistItem, error) {
	if err := auth.RequireAdmin(actor, "view checklist assignments"); err != nil {
		return nil, err
	}
	if _, err := e.Repo.GetChecklist(ctx, checklistID); err != nil {
		return nil, err
	}
	return e.Repo.ListAssignedItems(ctx, checklistID)
}
