package engine

import (
	"context"
	"strings"
	"unicode/utf8"

	"tapeoutops/internal/domain"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
	maxSearchTermLen   = 100
)

// Search finds companies, projects and specs whose name contains term.
// Non-admins only see what belongs to companies they own.
func (e Engine) Search(ctx context.Context, actor domain.Actor, term string, limit int) (domain.SearchResults, error) {
	if err := requireAuthenticated(actor); err != nil {
		return domain.SearchResults{}, err
	}
	term = strings.TrimSpace(term)
	if term == "" {
		return domain.SearchResults{}, ValidationError{Field: "q", Message: "is required"}
	}
	if utf8.RuneCountInString(term) > maxSearchTermLen {
		return domain.SearchResults{}, ValidationError{Field: "q", Message: "is too long"}
	}
	switch {
	case limit <= 0:
		limit = defaultSearchLimit
	case limit > maxSearchLimit:
		limit = maxSearchLimit
	}
	owner := actor.UserID
	if actor.IsAdmin() {
		owner = ""
	}
	return e.Repo.Search(ctx, owner, term, limit)
}
