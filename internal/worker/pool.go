package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"dialectica/internal/domain"
)

// ResearchFindings is what a research agent produces on success.
type ResearchFindings struct {
	Plan     []domain.PlanStep
	Evidence []domain.EvidenceItem
	Summary  string
}

// Researcher executes one research mission.
type Researcher interface {
	Research(ctx context.Context, a ResearchAssignment) (ResearchFindings, error)
}

// Synthesizer reconciles two approved dossiers into a final report.
type Synthesizer interface {
	Synthesize(ctx context.Context, a SynthesisAssignment) (string, error)
}

// Completer receives worker results once an invocation finishes.
type Completer interface {
	CompleteResearch(ctx context.Context, res ResearchResult) error
	CompleteSynthesis(ctx context.Context, res SynthesisResult) error
}

// Pool runs agent invocations on a bounded set of goroutines and posts
// the results back through the Completer. Dispatch never blocks the
// caller.
type Pool struct {
	Researcher  Researcher
	Synthesizer Synthesizer
	Completer   Completer
	Timeout     time.Duration

	sem chan struct{}
	wg  sync.WaitGroup
}

func NewPool(r Researcher, s Synthesizer, c Completer, concurrency int) *Pool {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Pool{
		Researcher:  r,
		Synthesizer: s,
		Completer:   c,
		Timeout:     5 * time.Minute,
		sem:         make(chan struct{}, concurrency),
	}
}

func (p *Pool) DispatchResearch(a ResearchAssignment) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
		defer cancel()

		res := ResearchResult{DossierID: a.DossierID, Cycle: a.Cycle}
		findings, err := p.Researcher.Research(ctx, a)
		if err != nil {
			res.Err = err.Error()
		} else {
			res.Plan = findings.Plan
			res.Evidence = findings.Evidence
			res.Summary = findings.Summary
		}
		if err := p.Completer.CompleteResearch(ctx, res); err != nil {
			log.Printf("worker: record research result for %s: %v", a.DossierID, err)
		}
	}()
}

func (p *Pool) DispatchSynthesis(a SynthesisAssignment) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		ctx, cancel := context.WithTimeout(context.Background(), p.Timeout)
		defer cancel()

		res := SynthesisResult{JobID: a.JobID}
		report, err := p.Synthesizer.Synthesize(ctx, a)
		if err != nil {
			res.Err = err.Error()
		} else {
			res.Report = report
		}
		if err := p.Completer.CompleteSynthesis(ctx, res); err != nil {
			log.Printf("worker: record synthesis result for %s: %v", a.JobID, err)
		}
	}()
}

// Wait blocks until all in-flight invocations have finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}
