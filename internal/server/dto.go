package server

import (
	"dialectica/internal/domain"
	"dialectica/internal/engine"
)

type CreateResearchRequest struct {
	Query string `json:"query" example:"remote work improves productivity" doc:"Claim to research from both sides"`
}

type ReviewRequest struct {
	Action   string `json:"action" enum:"approve,revise" doc:"Verifier decision"`
	Feedback string `json:"feedback,omitempty" doc:"Required when action is revise"`
}

type JobResponse struct {
	ID                  string  `json:"id"`
	Query               string  `json:"query"`
	Status              string  `json:"status"`
	SynthesisState      string  `json:"synthesis_state"`
	ThesisDossierID     string  `json:"thesis_dossier_id"`
	AntithesisDossierID string  `json:"antithesis_dossier_id"`
	Failure             *string `json:"failure,omitempty"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
}

type DossierResponse struct {
	ID        string `json:"id"`
	JobID     string `json:"job_id"`
	Kind      string `json:"kind"`
	Mission   string `json:"mission"`
	Status    string `json:"status"`
	Summary   string `json:"summary,omitempty"`
	Cycle     int    `json:"cycle"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type JobDetailResponse struct {
	JobResponse
	Thesis     DossierResponse `json:"thesis"`
	Antithesis DossierResponse `json:"antithesis"`
}

type PlanStepResponse struct {
	ID              string `json:"id" required:"false"`
	StepNumber      int    `json:"step_number"`
	Description     string `json:"description"`
	Status          string `json:"status"`
	ToolUsed        string `json:"tool_used,omitempty"`
	Justification   string `json:"justification,omitempty"`
	DataGap         string `json:"data_gap,omitempty"`
	ProxyHypothesis string `json:"proxy_hypothesis,omitempty"`
}

type EvidenceResponse struct {
	ID         string   `json:"id" required:"false"`
	Title      string   `json:"title"`
	Finding    string   `json:"finding"`
	Source     string   `json:"source"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags,omitempty"`
	CreatedAt  string   `json:"created_at" required:"false"`
}

type RevisionResponse struct {
	Feedback string `json:"feedback"`
	TS       string `json:"ts"`
}

type DossierDetailResponse struct {
	DossierResponse
	Plan      []PlanStepResponse `json:"plan"`
	Evidence  []EvidenceResponse `json:"evidence"`
	Revisions []RevisionResponse `json:"revisions"`
}

type ReviewResponse struct {
	Dossier             DossierResponse `json:"dossier"`
	Job                 JobResponse     `json:"job"`
	SynthesisDispatched bool            `json:"synthesis_dispatched"`
}

type VerificationResponse struct {
	JobID              string `json:"job_id"`
	ThesisApproved     bool   `json:"thesis_approved"`
	AntithesisApproved bool   `json:"antithesis_approved"`
	CanSynthesize      bool   `json:"can_synthesize"`
	SynthesisState     string `json:"synthesis_state"`
}

type ReportResponse struct {
	JobID  string `json:"job_id"`
	Query  string `json:"query"`
	Report string `json:"report"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

func jobResponse(j domain.Job) JobResponse {
	return JobResponse{
		ID:                  j.ID,
		Query:               j.Query,
		Status:              j.Status,
		SynthesisState:      j.SynthesisState,
		ThesisDossierID:     j.ThesisDossierID,
		AntithesisDossierID: j.AntithesisDossierID,
		Failure:             j.Failure,
		CreatedAt:           j.CreatedAt,
		UpdatedAt:           j.UpdatedAt,
	}
}

func dossierResponse(d domain.Dossier) DossierResponse {
	return DossierResponse{
		ID:        d.ID,
		JobID:     d.JobID,
		Kind:      d.Kind,
		Mission:   d.Mission,
		Status:    d.Status,
		Summary:   d.Summary,
		Cycle:     d.Cycle,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func jobDetailResponse(snap engine.JobSnapshot) JobDetailResponse {
	return JobDetailResponse{
		JobResponse: jobResponse(snap.Job),
		Thesis:      dossierResponse(snap.Thesis),
		Antithesis:  dossierResponse(snap.Antithesis),
	}
}

func dossierDetailResponse(detail engine.DossierDetail) DossierDetailResponse {
	out := DossierDetailResponse{
		DossierResponse: dossierResponse(detail.Dossier),
		Plan:            []PlanStepResponse{},
		Evidence:        []EvidenceResponse{},
		Revisions:       []RevisionResponse{},
	}
	for _, s := range detail.Plan {
		out.Plan = append(out.Plan, PlanStepResponse{
			ID:              s.ID,
			StepNumber:      s.StepNumber,
			Description:     s.Description,
			Status:          s.Status,
			ToolUsed:        s.ToolUsed,
			Justification:   s.Justification,
			DataGap:         s.DataGap,
			ProxyHypothesis: s.ProxyHypothesis,
		})
	}
	for _, e := range detail.Evidence {
		out.Evidence = append(out.Evidence, EvidenceResponse{
			ID:         e.ID,
			Title:      e.Title,
			Finding:    e.Finding,
			Source:     e.Source,
			Confidence: e.Confidence,
			Tags:       e.Tags,
			CreatedAt:  e.CreatedAt,
		})
	}
	for _, r := range detail.Revisions {
		out.Revisions = append(out.Revisions, RevisionResponse{Feedback: r.Feedback, TS: r.TS})
	}
	return out
}

func planStepFromResponse(s PlanStepResponse) domain.PlanStep {
	return domain.PlanStep{
		ID:              s.ID,
		StepNumber:      s.StepNumber,
		Description:     s.Description,
		Status:          s.Status,
		ToolUsed:        s.ToolUsed,
		Justification:   s.Justification,
		DataGap:         s.DataGap,
		ProxyHypothesis: s.ProxyHypothesis,
	}
}

func evidenceFromResponse(e EvidenceResponse) domain.EvidenceItem {
	return domain.EvidenceItem{
		ID:         e.ID,
		Title:      e.Title,
		Finding:    e.Finding,
		Source:     e.Source,
		Confidence: e.Confidence,
		Tags:       e.Tags,
		CreatedAt:  e.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}
