package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Writer appends audit events to audit_events and mirrors each one as a
// structured log line.
type Writer struct {
	DB     *sql.DB
	Now    func() time.Time
	Logger *logrus.Logger
}

type EventPayload map[string]any

type Event struct {
	Type         string
	ActorID      string
	ResourceType string
	ResourceID   string
	Action       string
	Outcome      string
	Payload      EventPayload
}

// Append writes the event inside tx so it commits or rolls back with the
// operation it records.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evt Event) error {
	return w.insert(ctx, tx, evt)
}

// AppendNow writes outside any transaction. Failure outcomes use it because
// the operation's own transaction has been rolled back.
func (w Writer) AppendNow(ctx context.Context, evt Event) error {
	return w.insert(ctx, w.DB, evt)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (w Writer) insert(ctx context.Context, db execer, evt Event) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if evt.Payload == nil {
		evt.Payload = EventPayload{}
	}
	if evt.Outcome == "" {
		evt.Outcome = OutcomeSuccess
	}
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO audit_events(ts,type,actor_id,resource_type,resource_id,action,outcome,payload_json) VALUES (?,?,?,?,?,?,?,?)`,
		ts, evt.Type, evt.ActorID, evt.ResourceType, nullable(evt.ResourceID), evt.Action, evt.Outcome, string(data))
	if err != nil {
		return err
	}
	if w.Logger != nil {
		w.Logger.WithFields(logrus.Fields{
			"audit":         true,
			"type":          evt.Type,
			"actor_id":      evt.ActorID,
			"resource_type": evt.ResourceType,
			"resource_id":   evt.ResourceID,
			"action":        evt.Action,
			"outcome":       evt.Outcome,
		}).Info("audit event")
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
