package worker

import "dialectica/internal/domain"

// ResearchAssignment is handed to the research side of the pool when a
// dossier enters its researching state. Cycle ties the eventual result
// back to the invocation that produced it.
type ResearchAssignment struct {
	JobID     string
	DossierID string
	Kind      string
	Mission   string
	Cycle     int
	Feedback  string
	PriorPlan []domain.PlanStep
}

// ResearchResult is the worker's report for one research invocation.
// A non-empty Err marks the invocation as failed.
type ResearchResult struct {
	DossierID string
	Cycle     int
	Plan      []domain.PlanStep
	Evidence  []domain.EvidenceItem
	Summary   string
	Err       string
}

// DossierBundle is the full material of one approved dossier, handed to
// the synthesis worker.
type DossierBundle struct {
	Dossier  domain.Dossier
	Plan     []domain.PlanStep
	Evidence []domain.EvidenceItem
}

type SynthesisAssignment struct {
	JobID      string
	Query      string
	Thesis     DossierBundle
	Antithesis DossierBundle
}

type SynthesisResult struct {
	JobID  string
	Report string
	Err    string
}

// Dispatcher accepts work after the originating transaction has
// committed. Implementations must not block the caller.
type Dispatcher interface {
	DispatchResearch(a ResearchAssignment)
	DispatchSynthesis(a SynthesisAssignment)
}
