package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types appended by the engine. Every state transition writes one of
// these in the same transaction as the state change.
const (
	TypeJobCreated              = "job.created"
	TypeResearchDispatched      = "research.dispatched"
	TypeResearchCompleted       = "research.completed"
	TypeResearchFailed          = "research.failed"
	TypeResearchStaleCompletion = "research.stale_completion"
	TypeDossierApproved         = "dossier.approved"
	TypeDossierRevisionAsked    = "dossier.revision_requested"
	TypeSynthesisDispatched     = "synthesis.dispatched"
	TypeSynthesisCompleted      = "synthesis.completed"
	TypeSynthesisFailed         = "synthesis.failed"
	TypeSynthesisStale          = "synthesis.stale_completion"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, jobID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,job_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, evtType, nullable(jobID), entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
