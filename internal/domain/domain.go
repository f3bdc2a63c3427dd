package domain

// Job statuses. A job's status is always derived from its two dossiers plus
// the synthesis state and failure marker; it is stored only as a snapshot.
const (
	JobPending              = "PENDING"
	JobResearching          = "RESEARCHING"
	JobAwaitingVerification = "AWAITING_VERIFICATION"
	JobRevisingThesis       = "REVISING_THESIS"
	JobRevisingAntithesis   = "REVISING_ANTITHESIS"
	JobRevisingBoth         = "REVISING_BOTH"
	JobSynthesizing         = "SYNTHESIZING"
	JobComplete             = "COMPLETE"
	JobFailed               = "FAILED"
)

// Synthesis states. DISPATCHED is never reset, even on worker failure.
const (
	SynthesisNotStarted = "NOT_STARTED"
	SynthesisDispatched = "DISPATCHED"
	SynthesisDone       = "DONE"
)

// Dossier statuses. APPROVED is terminal.
const (
	DossierPending              = "PENDING"
	DossierResearching          = "RESEARCHING"
	DossierAwaitingVerification = "AWAITING_VERIFICATION"
	DossierRevisionRequested    = "REVISION_REQUESTED"
	DossierApproved             = "APPROVED"
)

// Dossier kinds.
const (
	KindThesis     = "thesis"
	KindAntithesis = "antithesis"
)

type Job struct {
	ID                  string  `json:"id"`
	Query               string  `json:"query"`
	Status              string  `json:"status" enum:"PENDING,RESEARCHING,AWAITING_VERIFICATION,REVISING_THESIS,REVISING_ANTITHESIS,REVISING_BOTH,SYNTHESIZING,COMPLETE,FAILED"`
	SynthesisState      string  `json:"synthesis_state" enum:"NOT_STARTED,DISPATCHED,DONE"`
	ThesisDossierID     string  `json:"thesis_dossier_id"`
	AntithesisDossierID string  `json:"antithesis_dossier_id"`
	Report              *string `json:"report,omitempty"`
	Failure             *string `json:"failure,omitempty"`
	CreatedAt           string  `json:"created_at" format:"date-time"`
	UpdatedAt           string  `json:"updated_at" format:"date-time"`
}

type Dossier struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	Kind      string `json:"kind" enum:"thesis,antithesis"`
	Mission   string `json:"mission"`
	Status    string `json:"status" enum:"PENDING,RESEARCHING,AWAITING_VERIFICATION,REVISION_REQUESTED,APPROVED"`
	Summary   string `json:"summary,omitempty"`
	Cycle     int    `json:"cycle"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// PlanStep is one entry of a dossier's research plan. The annotations past
// Description are opaque worker output; the engine never interprets them.
type PlanStep struct {
	ID              string `json:"id"`
	DossierID       string `json:"dossier_id"`
	StepNumber      int    `json:"step_number"`
	Description     string `json:"description"`
	Status          string `json:"status" enum:"pending,in_progress,completed,failed"`
	ToolUsed        string `json:"tool_used,omitempty"`
	Justification   string `json:"justification,omitempty"`
	DataGap         string `json:"data_gap,omitempty"`
	ProxyHypothesis string `json:"proxy_hypothesis,omitempty"`
}

type EvidenceItem struct {
	ID         string   `json:"id"`
	DossierID  string   `json:"dossier_id"`
	Title      string   `json:"title"`
	Finding    string   `json:"finding"`
	Source     string   `json:"source"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags,omitempty"`
	CreatedAt  string   `json:"created_at" format:"date-time"`
}

type RevisionEntry struct {
	DossierID string `json:"dossier_id"`
	Feedback  string `json:"feedback"`
	TS        string `json:"ts" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	JobID      string `json:"job_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
