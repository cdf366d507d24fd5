package engine

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"tapeoutops/internal/domain"
	"tapeoutops/internal/engine/auth"
	"tapeoutops/internal/events"
	"tapeoutops/internal/repo"
)

const defaultCompanyStatus = "Active"

type CompanyInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

func (e Engine) CreateCompany(ctx context.Context, actor domain.Actor, in CompanyInput) (domain.Company, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := e.validate(in); err != nil {
		return domain.Company{}, err
	}
	now := e.timestamp()
	c := domain.Company{
		ID:          uuid.New().String(),
		Name:        in.Name,
		Description: strings.TrimSpace(in.Description),
		OwnerID:     actor.UserID,
		Status:      defaultCompanyStatus,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Company{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCompany(ctx, tx, c); err != nil {
		return domain.Company{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "company.created", ActorID: actor.UserID, ResourceType: "company", ResourceID: c.ID, Action: "create",
		Payload: events.EventPayload{"name": c.Name},
	}); err != nil {
		return domain.Company{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Company{}, err
	}
	return c, nil
}

func (e Engine) GetCompany(ctx context.Context, id string) (domain.Company, error) {
	return e.Repo.GetCompany(ctx, id)
}

// ListCompanies returns every company to admins and owned companies to everyone else.
func (e Engine) ListCompanies(ctx context.Context, actor domain.Actor) ([]domain.Company, error) {
	owner := actor.UserID
	if actor.IsAdmin() {
		owner = ""
	}
	return e.Repo.ListCompanies(ctx, owner)
}

type CompanyUpdateInput struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	Status      *string `json:"status" validate:"omitempty,max=50"`
}

func (e Engine) UpdateCompany(ctx context.Context, actor domain.Actor, id string, in CompanyUpdateInput) (domain.Company, error) {
	in.Name = trimmed(in.Name)
	if in.Name != nil && *in.Name == "" {
		return domain.Company{}, ValidationError{Field: "name", Message: "is required"}
	}
	if err := e.validate(in); err != nil {
		return domain.Company{}, err
	}
	if err := e.Auth.RequireCompanyOwner(ctx, actor, id, "update company"); err != nil {
		return domain.Company{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Company{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateCompany(ctx, tx, id, in.Name, in.Description, in.Status, e.timestamp()); err != nil {
		return domain.Company{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "company.updated", ActorID: actor.UserID, ResourceType: "company", ResourceID: id, Action: "update",
	}); err != nil {
		return domain.Company{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Company{}, err
	}
	return e.Repo.GetCompany(ctx, id)
}

// DeleteCompany refuses while the company still has projects.
func (e Engine) DeleteCompany(ctx context.Context, actor domain.Actor, id string) error {
	if err := e.Auth.RequireCompanyOwner(ctx, actor, id, "delete company"); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	n, err := e.Repo.CountProjects(ctx, tx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return ConflictError{Message: "company has projects"}
	}
	if err := e.Repo.DeleteCompany(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "company.deleted", ActorID: actor.UserID, ResourceType: "company", ResourceID: id, Action: "delete",
	}); err != nil {
		return err
	}
	return tx.Commit()
}

type ProjectInput struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
	CompanyID   string `json:"company_id" validate:"required"`
}

func (e Engine) CreateProject(ctx context.Context, actor domain.Actor, in ProjectInput) (domain.Project, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := e.validate(in); err != nil {
		return domain.Project{}, err
	}
	if err := e.Auth.RequireCompanyOwner(ctx, actor, in.CompanyID, "create project"); err != nil {
		return domain.Project{}, err
	}
	now := e.timestamp()
	p := domain.Project{
		ID:          uuid.New().String(),
		Name:        in.Name,
		Description: strings.TrimSpace(in.Description),
		CompanyID:   in.CompanyID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "project.created", ActorID: actor.UserID, ResourceType: "project", ResourceID: p.ID, Action: "create",
		Payload: events.EventPayload{"company_id": p.CompanyID},
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return e.Repo.GetProject(ctx, id)
}

// ListProjects lists a company's projects, or every visible project when
// companyID is empty.
func (e Engine) ListProjects(ctx context.Context, actor domain.Actor, companyID string) ([]domain.Project, error) {
	owner := actor.UserID
	if actor.IsAdmin() {
		owner = ""
	}
	if companyID != "" {
		if _, err := e.Repo.GetCompany(ctx, companyID); err != nil {
			return nil, err
		}
		owner = ""
	}
	return e.Repo.ListProjects(ctx, companyID, owner)
}

type ProjectUpdateInput struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
}

func (e Engine) UpdateProject(ctx context.Context, actor domain.Actor, id string, in ProjectUpdateInput) (domain.Project, error) {
	in.Name = trimmed(in.Name)
	if in.Name != nil && *in.Name == "" {
		return domain.Project{}, ValidationError{Field: "name", Message: "is required"}
	}
	if err := e.validate(in); err != nil {
		return domain.Project{}, err
	}
	if err := e.Auth.RequireProjectOwner(ctx, actor, id, "update project"); err != nil {
		return domain.Project{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProject(ctx, tx, id, in.Name, in.Description, e.timestamp()); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "project.updated", ActorID: actor.UserID, ResourceType: "project", ResourceID: id, Action: "update",
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, id)
}

// DeleteProject removes the project with its specs, lint results and
// comments. Stored documents are removed after commit.
func (e Engine) DeleteProject(ctx context.Context, actor domain.Actor, id string) error {
	if err := e.Auth.RequireProjectOwner(ctx, actor, id, "delete project"); err != nil {
		return err
	}
	files, err := e.Repo.SpecFilesForProject(ctx, id)
	if err != nil {
		return err
	}
	specs, err := e.Repo.ListSpecs(ctx, id, "", repo.Page{})
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, s := range specs {
		if err := e.Repo.DeleteSpecComments(ctx, tx, s.ID); err != nil {
			return err
		}
	}
	if err := e.Repo.DeleteCommentsFor(ctx, tx, "project", id); err != nil {
		return err
	}
	if err := e.Repo.DeleteProject(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.Event{
		Type: "project.deleted", ActorID: actor.UserID, ResourceType: "project", ResourceID: id, Action: "delete",
		Payload: events.EventPayload{"specs": len(specs)},
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	for _, f := range files {
		e.removeQuietly(ctx, e.Documents, f)
	}
	return nil
}

// requireAuthenticated is a guard for operations open to any signed-in user.
func requireAuthenticated(actor domain.Actor) error {
	if actor.UserID == "" {
		return auth.ForbiddenError{Action: "act without a user"}
	}
	return nil
}
