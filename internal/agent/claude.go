package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"dialectica/internal/domain"
	"dialectica/internal/worker"
)

const researchSystemPrompt = `You are a rigorous research analyst. You receive one mission and must
build the strongest evidence-based case for it, including an explicit
research plan. Respond with a single JSON object, no prose and no code
fences, of the shape:
{
  "plan": [{"description": "...", "status": "completed", "tool_used": "...",
            "justification": "...", "data_gap": "...", "proxy_hypothesis": "..."}],
  "evidence": [{"title": "...", "finding": "...", "source": "...",
                "confidence": 0.0, "tags": ["..."]}],
  "summary": "..."
}
Mark unverifiable claims with a data_gap and state the proxy you used.`

const synthesisSystemPrompt = `You are a dialectical synthesist. You receive two opposing, human-approved
dossiers on the same query. Write a balanced Markdown report that weighs
both cases, names where each is strongest, and ends with a conditional
resolution. Respond with the Markdown report only.`

// Claude runs research and synthesis through the Anthropic Messages API.
type Claude struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

func NewClaude(model string, maxTokens int) (Claude, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return Claude{}, fmt.Errorf("ANTHROPIC_API_KEY is not set")
	}
	if model == "" {
		model = string(anthropic.ModelClaudeSonnet4_20250514)
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return Claude{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: int64(maxTokens),
	}, nil
}

func (c Claude) complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic: %w", err)
	}
	var b strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(variant.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("anthropic: empty response")
	}
	return text, nil
}

type researchWire struct {
	Plan []struct {
		Description     string `json:"description"`
		Status          string `json:"status"`
		ToolUsed        string `json:"tool_used"`
		Justification   string `json:"justification"`
		DataGap         string `json:"data_gap"`
		ProxyHypothesis string `json:"proxy_hypothesis"`
	} `json:"plan"`
	Evidence []struct {
		Title      string   `json:"title"`
		Finding    string   `json:"finding"`
		Source     string   `json:"source"`
		Confidence float64  `json:"confidence"`
		Tags       []string `json:"tags"`
	} `json:"evidence"`
	Summary string `json:"summary"`
}

func (c Claude) Research(ctx context.Context, a worker.ResearchAssignment) (worker.ResearchFindings, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Mission: %s\n", a.Mission)
	if a.Feedback != "" {
		fmt.Fprintf(&prompt, "\nA human reviewer sent the previous dossier back. Their feedback:\n%s\n", a.Feedback)
		if len(a.PriorPlan) > 0 {
			prompt.WriteString("\nPrevious plan for context:\n")
			for _, step := range a.PriorPlan {
				fmt.Fprintf(&prompt, "%d. %s (%s)\n", step.StepNumber, step.Description, step.Status)
			}
		}
		prompt.WriteString("\nProduce a revised dossier that addresses the feedback.\n")
	}

	text, err := c.complete(ctx, researchSystemPrompt, prompt.String())
	if err != nil {
		return worker.ResearchFindings{}, err
	}

	var wire researchWire
	if err := json.Unmarshal([]byte(stripFences(text)), &wire); err != nil {
		return worker.ResearchFindings{}, fmt.Errorf("parse research output: %w", err)
	}
	if len(wire.Evidence) == 0 {
		return worker.ResearchFindings{}, fmt.Errorf("research output carries no evidence")
	}

	findings := worker.ResearchFindings{Summary: wire.Summary}
	for i, s := range wire.Plan {
		status := s.Status
		if status == "" {
			status = "completed"
		}
		findings.Plan = append(findings.Plan, domain.PlanStep{
			StepNumber:      i + 1,
			Description:     s.Description,
			Status:          status,
			ToolUsed:        s.ToolUsed,
			Justification:   s.Justification,
			DataGap:         s.DataGap,
			ProxyHypothesis: s.ProxyHypothesis,
		})
	}
	for _, e := range wire.Evidence {
		findings.Evidence = append(findings.Evidence, domain.EvidenceItem{
			Title:      e.Title,
			Finding:    e.Finding,
			Source:     e.Source,
			Confidence: e.Confidence,
			Tags:       e.Tags,
		})
	}
	return findings, nil
}

func (c Claude) Synthesize(ctx context.Context, a worker.SynthesisAssignment) (string, error) {
	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Query: %s\n", a.Query)
	writeSide := func(title string, bundle worker.DossierBundle) {
		fmt.Fprintf(&prompt, "\n## %s dossier\n\nMission: %s\nSummary: %s\n\nEvidence:\n",
			title, bundle.Dossier.Mission, bundle.Dossier.Summary)
		for _, item := range bundle.Evidence {
			fmt.Fprintf(&prompt, "- %s (confidence %.2f, source %s): %s\n",
				item.Title, item.Confidence, item.Source, item.Finding)
		}
	}
	writeSide("Thesis", a.Thesis)
	writeSide("Antithesis", a.Antithesis)

	return c.complete(ctx, synthesisSystemPrompt, prompt.String())
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
