package repo

import (
	"context"
	"fmt"
	"strconv"

	"tapeoutops/internal/domain"
)

// AuditFilter narrows an audit listing. Zero values match everything.
type AuditFilter struct {
	Type         string
	ActorID      string
	ResourceType string
	ResourceID   string
	Outcome      string
	BeforeID     int64
	Limit        int
}

// ListAuditEvents returns events newest first, keyed by the autoincrement id.
func (r Repo) ListAuditEvents(ctx context.Context, f AuditFilter) ([]domain.AuditEvent, error) {
	var (
		clauses []string
		args    []any
	)
	add := func(col, val string) {
		if val != "" {
			clauses = append(clauses, col+"=?")
			args = append(args, val)
		}
	}
	add("type", f.Type)
	add("actor_id", f.ActorID)
	add("resource_type", f.ResourceType)
	add("resource_id", f.ResourceID)
	add("outcome", f.Outcome)
	if f.BeforeID > 0 {
		clauses = append(clauses, "id < ?")
		args = append(args, f.BeforeID)
	}
	query := `SELECT id,ts,type,actor_id,resource_type,COALESCE(resource_id,''),action,outcome,payload_json FROM audit_events` +
		where(clauses) + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ActorID, &e.ResourceType, &e.ResourceID, &e.Action, &e.Outcome, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// ParseAuditCursor decodes the opaque audit cursor (the last seen id).
func ParseAuditCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid cursor")
	}
	return id, nil
}
