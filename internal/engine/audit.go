package engine

import (
	"context"
	"strconv"

	"tapeoutops/internal/domain"
	"tapeoutops/internal/engine/auth"
	"tapeoutops/internal/repo"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditPage is one page of audit events plus the cursor for the next one.
type AuditPage struct {
	Events     []domain.AuditEvent
	NextCursor string
}

// ListAudit is admin only. Pages run newest first.
func (e Engine) ListAudit(ctx context.Context, actor domain.Actor, f repo.AuditFilter, cursor string) (AuditPage, error) {
	if err := auth.RequireAdmin(actor, "read audit log"); err != nil {
		return AuditPage{}, err
	}
	return e.AuditEvents(ctx, f, cursor)
}

// AuditEvents reads the log without an authorization check; used by the CLI.
func (e Engine) AuditEvents(ctx context.Context, f repo.AuditFilter, cursor string) (AuditPage, error) {
	before, err := repo.ParseAuditCursor(cursor)
	if err != nil {
		return AuditPage{}, ValidationError{Field: "cursor", Message: "is invalid"}
	}
	f.BeforeID = before
	switch {
	case f.Limit <= 0:
		f.Limit = defaultAuditLimit
	case f.Limit > maxAuditLimit:
		f.Limit = maxAuditLimit
	}
	evts, err := e.Repo.ListAuditEvents(ctx, f)
	if err != nil {
		return AuditPage{}, err
	}
	page := AuditPage{Events: evts}
	if len(evts) == f.Limit {
		page.NextCursor = strconv.FormatInt(evts[len(evts)-1].ID, 10)
	}
	return page, nil
}
