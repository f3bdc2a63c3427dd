package verify

import (
	"context"
	"strings"
	"testing"

	"dialectica/internal/config"
	"dialectica/internal/domain"
)

func TestRulesEvaluate(t *testing.T) {
	minConf := 0.6
	cfg := config.ChecklistConfig{
		MinEvidence:       2,
		RequireSummary:    true,
		RequireStepsDone:  true,
		MinMeanConfidence: &minConf,
	}
	rules := NewRules(cfg)

	in := Input{
		Dossier: domain.Dossier{Summary: "findings"},
		Plan: []domain.PlanStep{
			{StepNumber: 1, Status: "completed"},
			{StepNumber: 2, Status: "completed"},
		},
		Evidence: []domain.EvidenceItem{
			{Confidence: 0.7},
			{Confidence: 0.8},
		},
	}
	res, err := rules.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Satisfied {
		t.Fatalf("want satisfied, missing: %v", res.Missing)
	}

	in.Dossier.Summary = ""
	in.Evidence = in.Evidence[:1]
	in.Plan[1].Status = "in_progress"
	res, err = rules.Evaluate(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if res.Satisfied || len(res.Missing) != 3 {
		t.Fatalf("want 3 missing items, got %v", res.Missing)
	}
	joined := strings.Join(res.Missing, "\n")
	for _, want := range []string{"evidence", "summary", "plan"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("missing list lacks %q: %v", want, res.Missing)
		}
	}
}

func TestRulesMeanConfidence(t *testing.T) {
	minConf := 0.9
	rules := NewRules(config.ChecklistConfig{MinEvidence: 1, MinMeanConfidence: &minConf})

	res, err := rules.Evaluate(context.Background(), Input{
		Evidence: []domain.EvidenceItem{{Confidence: 0.5}, {Confidence: 0.6}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Satisfied {
		t.Fatal("low confidence accepted")
	}
}
