package verify

import (
	"context"
	"fmt"
	"strings"

	"dialectica/internal/config"
	"dialectica/internal/domain"
)

// Input is everything a checklist may inspect about one dossier.
type Input struct {
	Dossier  domain.Dossier
	Plan     []domain.PlanStep
	Evidence []domain.EvidenceItem
}

// Result reports whether a dossier may be approved, and why not.
type Result struct {
	Satisfied bool     `json:"satisfied"`
	Missing   []string `json:"missing,omitempty"`
}

// Checklist is the precondition a reviewer's approval is gated on. The
// engine treats it as opaque; callers supply the implementation.
type Checklist interface {
	Evaluate(ctx context.Context, in Input) (Result, error)
}

// Rules is the config-driven checklist.
type Rules struct {
	cfg config.ChecklistConfig
}

func NewRules(cfg config.ChecklistConfig) Rules {
	return Rules{cfg: cfg}
}

func (r Rules) Evaluate(_ context.Context, in Input) (Result, error) {
	var missing []string
	if n := len(in.Evidence); n < r.cfg.MinEvidence {
		missing = append(missing, fmt.Sprintf("evidence: %d of %d required items", n, r.cfg.MinEvidence))
	}
	if r.cfg.RequireSummary && strings.TrimSpace(in.Dossier.Summary) == "" {
		missing = append(missing, "summary: none recorded")
	}
	if r.cfg.RequireStepsDone {
		for _, step := range in.Plan {
			if step.Status != "completed" && step.Status != "failed" {
				missing = append(missing, fmt.Sprintf("plan: step %d still %s", step.StepNumber, step.Status))
			}
		}
	}
	if r.cfg.MinMeanConfidence != nil && len(in.Evidence) > 0 {
		var sum float64
		for _, item := range in.Evidence {
			sum += item.Confidence
		}
		if mean := sum / float64(len(in.Evidence)); mean < *r.cfg.MinMeanConfidence {
			missing = append(missing, fmt.Sprintf("confidence: mean %.2f below %.2f", mean, *r.cfg.MinMeanConfidence))
		}
	}
	return Result{Satisfied: len(missing) == 0, Missing: missing}, nil
}

// Always approves regardless of dossier contents. Useful in tests and for
// deployments that rely on the reviewer alone.
type Always struct{}

func (Always) Evaluate(context.Context, Input) (Result, error) {
	return Result{Satisfied: true}, nil
}
