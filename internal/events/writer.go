package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

const (
	DepartmentCreated     = "department.created"
	ProjectCreated        = "project.created"
	ProjectUpdated        = "project.updated"
	ProjectDeleted        = "project.deleted"
	ConflictDetected      = "conflict.detected"
	ConflictCleared       = "conflict.cleared"
	ConflictReopened      = "conflict.reopened"
	ConflictStatusChanged = "conflict.status_changed"
	ScanCompleted         = "scan.completed"
)

// Execer is satisfied by both *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one audit event. Pass the transaction that carries the change
// so the event commits or rolls back with it.
func (w Writer) Append(ctx context.Context, ex Execer, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	if actorID == "" {
		actorID = "system"
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "marshal event payload")
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		now().UTC().Format(time.RFC3339), evtType, entityKind, nullable(entityID), actorID, string(data))
	return errors.Wrapf(err, "append %s event", evtType)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
