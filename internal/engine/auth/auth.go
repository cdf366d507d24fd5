package auth

import (
	"context"
	"database/sql"
	"fmt"

	"tapeoutops/internal/domain"
	"tapeoutops/internal/repo"
)

// ForbiddenError indicates the actor may not perform Action.
type ForbiddenError struct {
	Action string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("not allowed to %s", e.Action)
}

// Service resolves ownership chains (spec → project → company → owner)
// backed by SQL.
type Service struct {
	DB *sql.DB
}

func (s Service) ownerOf(ctx context.Context, query, id string) (string, error) {
	var owner string
	err := s.DB.QueryRowContext(ctx, query, id).Scan(&owner)
	if err == sql.ErrNoRows {
		return "", repo.ErrNotFound
	}
	return owner, err
}

func (s Service) CompanyOwner(ctx context.Context, companyID string) (string, error) {
	return s.ownerOf(ctx, `SELECT owner_id FROM companies WHERE id=?`, companyID)
}

func (s Service) ProjectOwner(ctx context.Context, projectID string) (string, error) {
	return s.ownerOf(ctx, `SELECT c.owner_id FROM projects p JOIN companies c ON c.id=p.company_id WHERE p.id=?`, projectID)
}

func (s Service) SpecOwner(ctx context.Context, specID string) (string, error) {
	return s.ownerOf(ctx, `SELECT c.owner_id FROM specs s
JOIN projects p ON p.id=s.project_id
JOIN companies c ON c.id=p.company_id
WHERE s.id=?`, specID)
}

// RequireAdmin fails unless the actor holds the admin role.
func RequireAdmin(actor domain.Actor, action string) error {
	if actor.IsAdmin() {
		return nil
	}
	return ForbiddenError{Action: action}
}

// RequireOwnerOrAdmin passes admins and the given owner.
func RequireOwnerOrAdmin(actor domain.Actor, ownerID, action string) error {
	if actor.IsAdmin() || (ownerID != "" && actor.UserID == ownerID) {
		return nil
	}
	return ForbiddenError{Action: action}
}

// RequireOwner passes only the given owner. The admin role grants nothing here.
func RequireOwner(actor domain.Actor, ownerID, action string) error {
	if ownerID != "" && actor.UserID == ownerID {
		return nil
	}
	return ForbiddenError{Action: action}
}

func (s Service) RequireCompanyOwner(ctx context.Context, actor domain.Actor, companyID, action string) error {
	owner, err := s.CompanyOwner(ctx, companyID)
	if err != nil {
		return err
	}
	return RequireOwnerOrAdmin(actor, owner, action)
}

func (s Service) RequireProjectOwner(ctx context.Context, actor domain.Actor, projectID, action string) error {
	owner, err := s.ProjectOwner(ctx, projectID)
	if err != nil {
		return err
	}
	return RequireOwnerOrAdmin(actor, owner, action)
}

// RequireSpecOwner passes only the owner of the spec's company.
func (s Service) RequireSpecOwner(ctx context.Context, actor domain.Actor, specID, action string) error {
	owner, err := s.SpecOwner(ctx, specID)
	if err != nil {
		return err
	}
	return RequireOwner(actor, owner, action)
}
