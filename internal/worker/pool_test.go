package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dialectica/internal/domain"
)

type stubAgent struct {
	researchErr error
}

func (s stubAgent) Research(_ context.Context, a ResearchAssignment) (ResearchFindings, error) {
	if s.researchErr != nil {
		return ResearchFindings{}, s.researchErr
	}
	return ResearchFindings{
		Plan:     []domain.PlanStep{{StepNumber: 1, Description: "look", Status: "completed"}},
		Evidence: []domain.EvidenceItem{{Title: "found", Finding: "it", Confidence: 0.9}},
		Summary:  "done",
	}, nil
}

func (s stubAgent) Synthesize(context.Context, SynthesisAssignment) (string, error) {
	return "report", nil
}

type capturingCompleter struct {
	mu        sync.Mutex
	research  []ResearchResult
	synthesis []SynthesisResult
}

func (c *capturingCompleter) CompleteResearch(_ context.Context, res ResearchResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.research = append(c.research, res)
	return nil
}

func (c *capturingCompleter) CompleteSynthesis(_ context.Context, res SynthesisResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.synthesis = append(c.synthesis, res)
	return nil
}

func TestPoolRunsResearchAndPostsResult(t *testing.T) {
	sink := &capturingCompleter{}
	pool := NewPool(stubAgent{}, stubAgent{}, sink, 2)

	pool.DispatchResearch(ResearchAssignment{DossierID: "dossier-thesis-1", Cycle: 1})
	pool.DispatchSynthesis(SynthesisAssignment{JobID: "job-1"})
	pool.Wait()

	if len(sink.research) != 1 || len(sink.synthesis) != 1 {
		t.Fatalf("results = %d research, %d synthesis", len(sink.research), len(sink.synthesis))
	}
	res := sink.research[0]
	if res.DossierID != "dossier-thesis-1" || res.Cycle != 1 || res.Err != "" || res.Summary != "done" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if sink.synthesis[0].Report != "report" {
		t.Fatalf("unexpected synthesis: %+v", sink.synthesis[0])
	}
}

func TestPoolReportsAgentFailure(t *testing.T) {
	sink := &capturingCompleter{}
	pool := NewPool(stubAgent{researchErr: errors.New("boom")}, stubAgent{}, sink, 1)

	pool.DispatchResearch(ResearchAssignment{DossierID: "dossier-antithesis-1", Cycle: 3})
	pool.Wait()

	if len(sink.research) != 1 {
		t.Fatalf("results = %d, want 1", len(sink.research))
	}
	res := sink.research[0]
	if res.Err != "boom" || res.Cycle != 3 {
		t.Fatalf("unexpected failure result: %+v", res)
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	var mu sync.Mutex
	inFlight, peak := 0, 0
	blocker := researcherFunc(func(context.Context, ResearchAssignment) (ResearchFindings, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return ResearchFindings{Summary: "ok"}, nil
	})

	sink := &capturingCompleter{}
	pool := NewPool(blocker, stubAgent{}, sink, 2)
	for i := 0; i < 8; i++ {
		pool.DispatchResearch(ResearchAssignment{DossierID: "d", Cycle: i + 1})
	}
	pool.Wait()

	if peak > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak)
	}
	if len(sink.research) != 8 {
		t.Fatalf("results = %d, want 8", len(sink.research))
	}
}

type researcherFunc func(context.Context, ResearchAssignment) (ResearchFindings, error)

func (f researcherFunc) Research(ctx context.Context, a ResearchAssignment) (ResearchFindings, error) {
	return f(ctx, a)
}
