package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"dialectica/internal/config"
	"dialectica/internal/domain"
	"dialectica/internal/engine/verify"
	"dialectica/internal/events"
	"dialectica/internal/repo"
	"dialectica/internal/worker"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrMissingFeedback   = errors.New("revision feedback required")
	ErrResearchInFlight  = errors.New("research in flight")
	ErrNotReady          = errors.New("not ready")
)

// ChecklistError carries the unmet checklist items back to the reviewer.
type ChecklistError struct {
	Missing []string
}

func (e *ChecklistError) Error() string {
	return "verification checklist unsatisfied: " + strings.Join(e.Missing, "; ")
}

// Review actions.
const (
	ActionApprove = "approve"
	ActionRevise  = "revise"
)

// Engine owns the job state machine. Every mutation runs inside one SQL
// transaction under a per-job lock; worker dispatch happens only after
// the transaction has committed.
type Engine struct {
	DB         *sql.DB
	Repo       repo.Repo
	Events     events.Writer
	Config     *config.Config
	Checklist  verify.Checklist
	Dispatcher worker.Dispatcher
	Now        func() time.Time

	locks *lockTable
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db, Now: time.Now},
		Config:    cfg,
		Checklist: verify.NewRules(cfg.Checklist),
		Now:       time.Now,
		locks:     newLockTable(),
	}
}

func (e Engine) timestamp() string {
	return e.Now().UTC().Format(time.RFC3339Nano)
}

func newID(prefix string) string {
	hex := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + "-" + hex[:8]
}

// lockTable serializes mutations per job. Cross-job work never contends.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: map[string]*sync.Mutex{}}
}

func (t *lockTable) lock(id string) func() {
	t.mu.Lock()
	m, ok := t.locks[id]
	if !ok {
		m = &sync.Mutex{}
		t.locks[id] = m
	}
	t.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// CreateJob opens a job with its thesis and antithesis dossiers and sends
// both missions to the research workers.
func (e Engine) CreateJob(ctx context.Context, query, actorID string) (domain.Job, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.Job{}, fmt.Errorf("%w: query must not be empty", ErrInvalidInput)
	}
	now := e.timestamp()
	jobID := newID("job")
	thesis := domain.Dossier{
		ID:        newID("dossier-thesis"),
		JobID:     jobID,
		Kind:      domain.KindThesis,
		Mission:   e.Config.ThesisMission(query),
		Status:    domain.DossierResearching,
		Cycle:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	antithesis := domain.Dossier{
		ID:        newID("dossier-antithesis"),
		JobID:     jobID,
		Kind:      domain.KindAntithesis,
		Mission:   e.Config.AntithesisMission(query),
		Status:    domain.DossierResearching,
		Cycle:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	job := domain.Job{
		ID:                  jobID,
		Query:               query,
		Status:              domain.JobResearching,
		SynthesisState:      domain.SynthesisNotStarted,
		ThesisDossierID:     thesis.ID,
		AntithesisDossierID: antithesis.ID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Job{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertJobTx(ctx, tx, job); err != nil {
		return domain.Job{}, err
	}
	for _, d := range []domain.Dossier{thesis, antithesis} {
		if err := e.Repo.InsertDossierTx(ctx, tx, d); err != nil {
			return domain.Job{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, events.TypeJobCreated, jobID, "job", jobID, actorID, events.EventPayload{"query": query}); err != nil {
		return domain.Job{}, err
	}
	for _, d := range []domain.Dossier{thesis, antithesis} {
		if err := e.Events.Append(ctx, tx, events.TypeResearchDispatched, jobID, "dossier", d.ID, actorID, events.EventPayload{"kind": d.Kind, "cycle": d.Cycle}); err != nil {
			return domain.Job{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Job{}, err
	}

	e.dispatchResearch(thesis, "", nil)
	e.dispatchResearch(antithesis, "", nil)
	return job, nil
}

func (e Engine) dispatchResearch(d domain.Dossier, feedback string, prior []domain.PlanStep) {
	if e.Dispatcher == nil {
		return
	}
	e.Dispatcher.DispatchResearch(worker.ResearchAssignment{
		JobID:     d.JobID,
		DossierID: d.ID,
		Kind:      d.Kind,
		Mission:   d.Mission,
		Cycle:     d.Cycle,
		Feedback:  feedback,
		PriorPlan: prior,
	})
}

// ReviewOutcome is the verifier-visible result of a review call.
type ReviewOutcome struct {
	Dossier             domain.Dossier
	Job                 domain.Job
	SynthesisDispatched bool
}

// Review applies a verifier decision to one dossier. Approve requires the
// dossier to be awaiting verification and the checklist to hold; revise
// additionally requires feedback and sends the dossier straight back to
// the workers with a bumped cycle.
func (e Engine) Review(ctx context.Context, dossierID, action, feedback, actorID string) (ReviewOutcome, error) {
	d, err := e.Repo.GetDossier(ctx, dossierID)
	if err != nil {
		return ReviewOutcome{}, err
	}
	unlock := e.locks.lock(d.JobID)
	defer unlock()

	switch action {
	case ActionApprove:
		return e.approve(ctx, d.JobID, dossierID, actorID)
	case ActionRevise:
		return e.revise(ctx, d.JobID, dossierID, feedback, actorID)
	default:
		return ReviewOutcome{}, fmt.Errorf("%w: unknown review action %q", ErrInvalidInput, action)
	}
}

func (e Engine) approve(ctx context.Context, jobID, dossierID, actorID string) (ReviewOutcome, error) {
	job, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return ReviewOutcome{}, err
	}
	d, err := e.Repo.GetDossier(ctx, dossierID)
	if err != nil {
		return ReviewOutcome{}, err
	}
	if job.Failure != nil {
		return ReviewOutcome{}, fmt.Errorf("%w: job %s has failed", ErrInvalidTransition, jobID)
	}
	if d.Status == domain.DossierApproved {
		return ReviewOutcome{Dossier: d, Job: job}, nil
	}
	if d.Status == domain.DossierResearching || d.Status == domain.DossierRevisionRequested {
		return ReviewOutcome{}, fmt.Errorf("%w: dossier %s is still being researched", ErrResearchInFlight, dossierID)
	}
	if d.Status != domain.DossierAwaitingVerification {
		return ReviewOutcome{}, fmt.Errorf("%w: dossier %s is %s", ErrInvalidTransition, dossierID, d.Status)
	}

	plan, err := e.Repo.ListPlanSteps(ctx, dossierID)
	if err != nil {
		return ReviewOutcome{}, err
	}
	evidence, err := e.Repo.ListEvidence(ctx, dossierID)
	if err != nil {
		return ReviewOutcome{}, err
	}
	check, err := e.Checklist.Evaluate(ctx, verify.Input{Dossier: d, Plan: plan, Evidence: evidence})
	if err != nil {
		return ReviewOutcome{}, err
	}
	if !check.Satisfied {
		return ReviewOutcome{}, &ChecklistError{Missing: check.Missing}
	}

	now := e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ReviewOutcome{}, err
	}
	defer tx.Rollback()

	d.Status = domain.DossierApproved
	d.UpdatedAt = now
	if err := e.Repo.UpdateDossierTx(ctx, tx, d); err != nil {
		return ReviewOutcome{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeDossierApproved, jobID, "dossier", d.ID, actorID, events.EventPayload{"kind": d.Kind}); err != nil {
		return ReviewOutcome{}, err
	}

	other, err := e.Repo.GetDossierTx(ctx, tx, otherDossierID(job, d.ID))
	if err != nil {
		return ReviewOutcome{}, err
	}

	outcome := ReviewOutcome{Dossier: d}
	if other.Status == domain.DossierApproved {
		claimed, err := e.Repo.ClaimSynthesisTx(ctx, tx, jobID, now)
		if err != nil {
			return ReviewOutcome{}, err
		}
		if claimed {
			job.SynthesisState = domain.SynthesisDispatched
			outcome.SynthesisDispatched = true
			if err := e.Events.Append(ctx, tx, events.TypeSynthesisDispatched, jobID, "job", jobID, actorID, nil); err != nil {
				return ReviewOutcome{}, err
			}
		}
	}

	thesis, antithesis := orient(job, d, other)
	job.Status = DeriveJobStatus(sideOf(thesis), sideOf(antithesis), job.SynthesisState, job.Failure != nil)
	job.UpdatedAt = now
	if err := e.Repo.UpdateJobTx(ctx, tx, job); err != nil {
		return ReviewOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return ReviewOutcome{}, err
	}

	outcome.Job = job
	if outcome.SynthesisDispatched {
		if err := e.dispatchSynthesis(ctx, job, thesis, antithesis); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

func (e Engine) revise(ctx context.Context, jobID, dossierID, feedback, actorID string) (ReviewOutcome, error) {
	if strings.TrimSpace(feedback) == "" {
		return ReviewOutcome{}, ErrMissingFeedback
	}
	job, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return ReviewOutcome{}, err
	}
	d, err := e.Repo.GetDossier(ctx, dossierID)
	if err != nil {
		return ReviewOutcome{}, err
	}
	if job.Failure != nil {
		return ReviewOutcome{}, fmt.Errorf("%w: job %s has failed", ErrInvalidTransition, jobID)
	}
	if d.Status == domain.DossierResearching || d.Status == domain.DossierRevisionRequested {
		return ReviewOutcome{}, fmt.Errorf("%w: dossier %s is still being researched", ErrResearchInFlight, dossierID)
	}
	if d.Status != domain.DossierAwaitingVerification {
		return ReviewOutcome{}, fmt.Errorf("%w: dossier %s is %s", ErrInvalidTransition, dossierID, d.Status)
	}

	now := e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ReviewOutcome{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertRevisionTx(ctx, tx, domain.RevisionEntry{DossierID: dossierID, Feedback: feedback, TS: now}); err != nil {
		return ReviewOutcome{}, err
	}
	d.Cycle++
	d.Status = domain.DossierResearching
	d.UpdatedAt = now
	if err := e.Repo.UpdateDossierTx(ctx, tx, d); err != nil {
		return ReviewOutcome{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeDossierRevisionAsked, jobID, "dossier", d.ID, actorID, events.EventPayload{"feedback": feedback, "cycle": d.Cycle}); err != nil {
		return ReviewOutcome{}, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeResearchDispatched, jobID, "dossier", d.ID, actorID, events.EventPayload{"kind": d.Kind, "cycle": d.Cycle}); err != nil {
		return ReviewOutcome{}, err
	}

	other, err := e.Repo.GetDossierTx(ctx, tx, otherDossierID(job, d.ID))
	if err != nil {
		return ReviewOutcome{}, err
	}
	thesis, antithesis := orient(job, d, other)
	job.Status = DeriveJobStatus(sideOf(thesis), sideOf(antithesis), job.SynthesisState, job.Failure != nil)
	job.UpdatedAt = now
	if err := e.Repo.UpdateJobTx(ctx, tx, job); err != nil {
		return ReviewOutcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return ReviewOutcome{}, err
	}

	prior, err := e.Repo.ListPlanSteps(ctx, dossierID)
	if err != nil {
		return ReviewOutcome{}, err
	}
	e.dispatchResearch(d, feedback, prior)
	return ReviewOutcome{Dossier: d, Job: job}, nil
}

// CompleteResearch records a worker's result for one research invocation.
// Results from a superseded cycle are discarded and only leave an audit
// event behind.
func (e Engine) CompleteResearch(ctx context.Context, res worker.ResearchResult) error {
	d, err := e.Repo.GetDossier(ctx, res.DossierID)
	if err != nil {
		return err
	}
	unlock := e.locks.lock(d.JobID)
	defer unlock()

	now := e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	d, err = e.Repo.GetDossierTx(ctx, tx, res.DossierID)
	if err != nil {
		return err
	}
	job, err := e.Repo.GetJobTx(ctx, tx, d.JobID)
	if err != nil {
		return err
	}

	if res.Cycle != d.Cycle || d.Status != domain.DossierResearching || job.Failure != nil {
		err := e.Events.Append(ctx, tx, events.TypeResearchStaleCompletion, job.ID, "dossier", d.ID, "worker", events.EventPayload{
			"reported_cycle": res.Cycle,
			"current_cycle":  d.Cycle,
			"status":         d.Status,
		})
		if err != nil {
			return err
		}
		return tx.Commit()
	}

	if res.Err != "" {
		msg := fmt.Sprintf("research failed for %s (cycle %d): %s", d.ID, res.Cycle, res.Err)
		job.Failure = &msg
		job.Status = domain.JobFailed
		job.UpdatedAt = now
		if err := e.Events.Append(ctx, tx, events.TypeResearchFailed, job.ID, "dossier", d.ID, "worker", events.EventPayload{"reason": res.Err, "cycle": res.Cycle}); err != nil {
			return err
		}
		if err := e.Repo.UpdateJobTx(ctx, tx, job); err != nil {
			return err
		}
		return tx.Commit()
	}

	plan := normalizePlan(res.DossierID, res.Plan)
	evidence := normalizeEvidence(res.DossierID, res.Evidence, now)
	if err := e.Repo.ReplacePlanTx(ctx, tx, d.ID, plan); err != nil {
		return err
	}
	if err := e.Repo.ReplaceEvidenceTx(ctx, tx, d.ID, evidence); err != nil {
		return err
	}
	d.Summary = res.Summary
	d.Status = domain.DossierAwaitingVerification
	d.UpdatedAt = now
	if err := e.Repo.UpdateDossierTx(ctx, tx, d); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.TypeResearchCompleted, job.ID, "dossier", d.ID, "worker", events.EventPayload{"cycle": res.Cycle, "evidence": len(evidence)}); err != nil {
		return err
	}

	other, err := e.Repo.GetDossierTx(ctx, tx, otherDossierID(job, d.ID))
	if err != nil {
		return err
	}
	thesis, antithesis := orient(job, d, other)
	job.Status = DeriveJobStatus(sideOf(thesis), sideOf(antithesis), job.SynthesisState, job.Failure != nil)
	job.UpdatedAt = now
	if err := e.Repo.UpdateJobTx(ctx, tx, job); err != nil {
		return err
	}
	return tx.Commit()
}

// CompleteSynthesis stores the final report, or marks the job failed if
// the synthesis worker reported an error. The dispatch marker is never
// rolled back.
func (e Engine) CompleteSynthesis(ctx context.Context, res worker.SynthesisResult) error {
	unlock := e.locks.lock(res.JobID)
	defer unlock()

	now := e.timestamp()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	job, err := e.Repo.GetJobTx(ctx, tx, res.JobID)
	if err != nil {
		return err
	}
	if job.SynthesisState != domain.SynthesisDispatched || job.Failure != nil {
		err := e.Events.Append(ctx, tx, events.TypeSynthesisStale, job.ID, "job", job.ID, "worker", events.EventPayload{"synthesis_state": job.SynthesisState})
		if err != nil {
			return err
		}
		return tx.Commit()
	}

	if res.Err != "" {
		msg := fmt.Sprintf("synthesis failed for %s: %s", job.ID, res.Err)
		job.Failure = &msg
		job.Status = domain.JobFailed
		job.UpdatedAt = now
		if err := e.Events.Append(ctx, tx, events.TypeSynthesisFailed, job.ID, "job", job.ID, "worker", events.EventPayload{"reason": res.Err}); err != nil {
			return err
		}
		if err := e.Repo.UpdateJobTx(ctx, tx, job); err != nil {
			return err
		}
		return tx.Commit()
	}

	job.Report = &res.Report
	job.SynthesisState = domain.SynthesisDone
	job.Status = domain.JobComplete
	job.UpdatedAt = now
	if err := e.Events.Append(ctx, tx, events.TypeSynthesisCompleted, job.ID, "job", job.ID, "worker", nil); err != nil {
		return err
	}
	if err := e.Repo.UpdateJobTx(ctx, tx, job); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) dispatchSynthesis(ctx context.Context, job domain.Job, thesis, antithesis domain.Dossier) error {
	if e.Dispatcher == nil {
		return nil
	}
	tb, err := e.bundle(ctx, thesis)
	if err != nil {
		return err
	}
	ab, err := e.bundle(ctx, antithesis)
	if err != nil {
		return err
	}
	e.Dispatcher.DispatchSynthesis(worker.SynthesisAssignment{
		JobID:      job.ID,
		Query:      job.Query,
		Thesis:     tb,
		Antithesis: ab,
	})
	return nil
}

func (e Engine) bundle(ctx context.Context, d domain.Dossier) (worker.DossierBundle, error) {
	plan, err := e.Repo.ListPlanSteps(ctx, d.ID)
	if err != nil {
		return worker.DossierBundle{}, err
	}
	evidence, err := e.Repo.ListEvidence(ctx, d.ID)
	if err != nil {
		return worker.DossierBundle{}, err
	}
	return worker.DossierBundle{Dossier: d, Plan: plan, Evidence: evidence}, nil
}

func otherDossierID(job domain.Job, id string) string {
	if id == job.ThesisDossierID {
		return job.AntithesisDossierID
	}
	return job.ThesisDossierID
}

func orient(job domain.Job, a, b domain.Dossier) (thesis, antithesis domain.Dossier) {
	if a.ID == job.ThesisDossierID {
		return a, b
	}
	return b, a
}

func normalizePlan(dossierID string, steps []domain.PlanStep) []domain.PlanStep {
	out := make([]domain.PlanStep, len(steps))
	for i, s := range steps {
		s.DossierID = dossierID
		if s.ID == "" {
			s.ID = newID("step")
		}
		if s.StepNumber == 0 {
			s.StepNumber = i + 1
		}
		if s.Status == "" {
			s.Status = "completed"
		}
		out[i] = s
	}
	return out
}

func normalizeEvidence(dossierID string, items []domain.EvidenceItem, now string) []domain.EvidenceItem {
	out := make([]domain.EvidenceItem, len(items))
	for i, item := range items {
		item.DossierID = dossierID
		if item.ID == "" {
			item.ID = newID("ev")
		}
		if item.CreatedAt == "" {
			item.CreatedAt = now
		}
		out[i] = item
	}
	return out
}
