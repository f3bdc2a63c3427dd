// Package agent provides the research and synthesis workers. Canned is a
// deterministic offline agent; Claude calls the Anthropic API.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dialectica/internal/domain"
	"dialectica/internal/worker"
)

// Canned produces deterministic dossiers without any network access.
// Delay, when set, simulates agent latency.
type Canned struct {
	Delay time.Duration
}

func (c Canned) wait(ctx context.Context) error {
	if c.Delay <= 0 {
		return nil
	}
	select {
	case <-time.After(c.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c Canned) Research(ctx context.Context, a worker.ResearchAssignment) (worker.ResearchFindings, error) {
	if err := c.wait(ctx); err != nil {
		return worker.ResearchFindings{}, err
	}

	stance := "supporting"
	if a.Kind == domain.KindAntithesis {
		stance = "opposing"
	}

	steps := []domain.PlanStep{
		{
			StepNumber:    1,
			Description:   fmt.Sprintf("Identify the strongest %s arguments", stance),
			Status:        "completed",
			ToolUsed:      "literature_search",
			Justification: "establishes the argumentative frame before gathering evidence",
		},
		{
			StepNumber:  2,
			Description: "Collect primary sources and quantitative findings",
			Status:      "completed",
			ToolUsed:    "web_search",
			DataGap:     "no access to paywalled studies",
		},
		{
			StepNumber:      3,
			Description:     "Stress-test each claim against known counterexamples",
			Status:          "completed",
			ToolUsed:        "analysis",
			ProxyHypothesis: "industry surveys stand in for unavailable longitudinal data",
		},
	}
	evidence := []domain.EvidenceItem{
		{
			Title:      fmt.Sprintf("Core %s finding", stance),
			Finding:    fmt.Sprintf("Synthetic evidence %s the position under review (cycle %d).", stance, a.Cycle),
			Source:     "https://example.org/studies/primary",
			Confidence: 0.8,
			Tags:       []string{"primary", a.Kind},
		},
		{
			Title:      "Corroborating survey data",
			Finding:    "Aggregated survey responses point in the same direction as the core finding.",
			Source:     "https://example.org/surveys/2025",
			Confidence: 0.65,
			Tags:       []string{"survey"},
		},
	}

	if a.Feedback != "" {
		steps = append(steps, domain.PlanStep{
			StepNumber:    len(steps) + 1,
			Description:   fmt.Sprintf("Address reviewer feedback: %s", a.Feedback),
			Status:        "completed",
			ToolUsed:      "targeted_search",
			Justification: "reviewer sent the dossier back",
		})
		evidence = append(evidence, domain.EvidenceItem{
			Title:      "Follow-up evidence",
			Finding:    fmt.Sprintf("Additional material gathered in response to: %s", a.Feedback),
			Source:     "https://example.org/followup",
			Confidence: 0.75,
			Tags:       []string{"revision"},
		})
	}

	summary := fmt.Sprintf("Cycle %d research for the %s mission produced %d evidence items across %d plan steps.",
		a.Cycle, a.Kind, len(evidence), len(steps))

	return worker.ResearchFindings{Plan: steps, Evidence: evidence, Summary: summary}, nil
}

func (c Canned) Synthesize(ctx context.Context, a worker.SynthesisAssignment) (string, error) {
	if err := c.wait(ctx); err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Dialectical Report\n\n## Query\n\n%s\n\n", a.Query)
	writeSide := func(title string, bundle worker.DossierBundle) {
		fmt.Fprintf(&b, "## %s\n\n%s\n\n", title, bundle.Dossier.Summary)
		for _, item := range bundle.Evidence {
			fmt.Fprintf(&b, "- **%s** (%.2f): %s\n", item.Title, item.Confidence, item.Finding)
		}
		b.WriteString("\n")
	}
	writeSide("Thesis", a.Thesis)
	writeSide("Antithesis", a.Antithesis)
	b.WriteString("## Resolution\n\nBoth cases carry weight. The supporting evidence establishes the claim under favorable conditions, while the opposing evidence marks the boundaries where it breaks down. The defensible position is conditional: the claim holds within the contexts the thesis documents and fails outside them.\n")
	return b.String(), nil
}
