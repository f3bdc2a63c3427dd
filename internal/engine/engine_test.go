package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"dialectica/internal/config"
	"dialectica/internal/db"
	"dialectica/internal/domain"
	"dialectica/internal/migrate"
	"dialectica/internal/worker"
)

type recordingDispatcher struct {
	mu        sync.Mutex
	research  []worker.ResearchAssignment
	synthesis []worker.SynthesisAssignment
}

func (d *recordingDispatcher) DispatchResearch(a worker.ResearchAssignment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.research = append(d.research, a)
}

func (d *recordingDispatcher) DispatchSynthesis(a worker.SynthesisAssignment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.synthesis = append(d.synthesis, a)
}

func (d *recordingDispatcher) researchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.research)
}

func (d *recordingDispatcher) synthesisCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.synthesis)
}

type testEnv struct {
	eng  Engine
	disp *recordingDispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	disp := &recordingDispatcher{}
	eng := New(conn, config.Default())
	eng.Dispatcher = disp
	return &testEnv{eng: eng, disp: disp}
}

func goodResult(dossierID string, cycle int) worker.ResearchResult {
	return worker.ResearchResult{
		DossierID: dossierID,
		Cycle:     cycle,
		Plan: []domain.PlanStep{
			{Description: "survey primary sources", Status: "completed", ToolUsed: "search"},
			{Description: "cross-check claims", Status: "completed", ToolUsed: "search"},
		},
		Evidence: []domain.EvidenceItem{
			{Title: "finding one", Finding: "supports the mission", Source: "https://example.com/a", Confidence: 0.8, Tags: []string{"primary"}},
			{Title: "finding two", Finding: "corroborates finding one", Source: "https://example.com/b", Confidence: 0.7},
		},
		Summary: fmt.Sprintf("cycle %d findings", cycle),
	}
}

func (env *testEnv) finishResearch(t *testing.T, dossierID string, cycle int) {
	t.Helper()
	if err := env.eng.CompleteResearch(context.Background(), goodResult(dossierID, cycle)); err != nil {
		t.Fatalf("complete research %s: %v", dossierID, err)
	}
}

func (env *testEnv) newJob(t *testing.T) domain.Job {
	t.Helper()
	job, err := env.eng.CreateJob(context.Background(), "remote work improves productivity", "tester")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func (env *testEnv) jobAwaiting(t *testing.T) domain.Job {
	t.Helper()
	job := env.newJob(t)
	env.finishResearch(t, job.ThesisDossierID, 1)
	env.finishResearch(t, job.AntithesisDossierID, 1)
	return env.mustJob(t, job.ID)
}

func (env *testEnv) mustJob(t *testing.T, id string) domain.Job {
	t.Helper()
	job, err := env.eng.GetJob(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return job
}

func (env *testEnv) hasEvent(t *testing.T, jobID, evtType string) bool {
	t.Helper()
	evts, err := env.eng.Repo.ListEvents(context.Background(), jobID, 200, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	for _, e := range evts {
		if e.Type == evtType {
			return true
		}
	}
	return false
}

func TestCreateJobDispatchesBothMissions(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t)

	if job.Status != domain.JobResearching {
		t.Fatalf("status = %s, want RESEARCHING", job.Status)
	}
	if !strings.HasPrefix(job.ID, "job-") {
		t.Fatalf("unexpected job id %q", job.ID)
	}
	snap, err := env.eng.GetJobSnapshot(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Thesis.Kind != domain.KindThesis || snap.Antithesis.Kind != domain.KindAntithesis {
		t.Fatalf("dossier kinds wrong: %s / %s", snap.Thesis.Kind, snap.Antithesis.Kind)
	}
	if !strings.Contains(snap.Thesis.Mission, "FOR") || !strings.Contains(snap.Antithesis.Mission, "AGAINST") {
		t.Fatalf("missions not rendered: %q / %q", snap.Thesis.Mission, snap.Antithesis.Mission)
	}
	for _, d := range []domain.Dossier{snap.Thesis, snap.Antithesis} {
		if d.Status != domain.DossierResearching || d.Cycle != 1 {
			t.Fatalf("dossier %s: status=%s cycle=%d", d.ID, d.Status, d.Cycle)
		}
	}
	if n := env.disp.researchCount(); n != 2 {
		t.Fatalf("research dispatches = %d, want 2", n)
	}
	if !env.hasEvent(t, job.ID, "job.created") {
		t.Fatal("missing job.created event")
	}
}

func TestCreateJobRejectsEmptyQuery(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.eng.CreateJob(context.Background(), "   ", "tester"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestResearchCompletionMovesJobThroughStatuses(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t)

	env.finishResearch(t, job.ThesisDossierID, 1)
	if got := env.mustJob(t, job.ID).Status; got != domain.JobResearching {
		t.Fatalf("after one side: %s, want RESEARCHING", got)
	}

	env.finishResearch(t, job.AntithesisDossierID, 1)
	if got := env.mustJob(t, job.ID).Status; got != domain.JobAwaitingVerification {
		t.Fatalf("after both sides: %s, want AWAITING_VERIFICATION", got)
	}

	detail, err := env.eng.GetDossierDetail(context.Background(), job.ThesisDossierID)
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.Plan) != 2 || len(detail.Evidence) != 2 || detail.Dossier.Summary == "" {
		t.Fatalf("dossier material not stored: plan=%d evidence=%d summary=%q",
			len(detail.Plan), len(detail.Evidence), detail.Dossier.Summary)
	}
}

func TestApproveWhileResearchingRejected(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t)

	_, err := env.eng.Review(context.Background(), job.ThesisDossierID, ActionApprove, "", "tester")
	if !errors.Is(err, ErrResearchInFlight) {
		t.Fatalf("err = %v, want ErrResearchInFlight", err)
	}
}

func TestApproveBlockedByChecklist(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t)

	res := goodResult(job.ThesisDossierID, 1)
	res.Evidence = nil
	if err := env.eng.CompleteResearch(context.Background(), res); err != nil {
		t.Fatal(err)
	}

	_, err := env.eng.Review(context.Background(), job.ThesisDossierID, ActionApprove, "", "tester")
	var cerr *ChecklistError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want ChecklistError", err)
	}
	if len(cerr.Missing) == 0 {
		t.Fatal("ChecklistError carries no missing items")
	}
}

func TestApprovingBothSidesDispatchesSynthesisOnce(t *testing.T) {
	env := newTestEnv(t)
	job := env.jobAwaiting(t)

	out, err := env.eng.Review(context.Background(), job.ThesisDossierID, ActionApprove, "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if out.SynthesisDispatched {
		t.Fatal("synthesis dispatched with only one side approved")
	}
	if out.Job.Status != domain.JobAwaitingVerification {
		t.Fatalf("job status = %s, want AWAITING_VERIFICATION", out.Job.Status)
	}

	out, err = env.eng.Review(context.Background(), job.AntithesisDossierID, ActionApprove, "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if !out.SynthesisDispatched {
		t.Fatal("synthesis not dispatched after second approval")
	}
	if out.Job.Status != domain.JobSynthesizing || out.Job.SynthesisState != domain.SynthesisDispatched {
		t.Fatalf("job = %s/%s, want SYNTHESIZING/DISPATCHED", out.Job.Status, out.Job.SynthesisState)
	}
	if n := env.disp.synthesisCount(); n != 1 {
		t.Fatalf("synthesis dispatches = %d, want 1", n)
	}
	a := env.disp.synthesis[0]
	if a.JobID != job.ID || len(a.Thesis.Evidence) != 2 || len(a.Antithesis.Evidence) != 2 {
		t.Fatalf("synthesis assignment incomplete: %+v", a)
	}

	// Approving an already approved dossier is a no-op.
	out, err = env.eng.Review(context.Background(), job.ThesisDossierID, ActionApprove, "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if n := env.disp.synthesisCount(); n != 1 {
		t.Fatalf("repeat approval re-dispatched synthesis: %d", n)
	}

	if err := env.eng.CompleteSynthesis(context.Background(), worker.SynthesisResult{JobID: job.ID, Report: "# Final Report"}); err != nil {
		t.Fatal(err)
	}
	got := env.mustJob(t, job.ID)
	if got.Status != domain.JobComplete || got.SynthesisState != domain.SynthesisDone {
		t.Fatalf("job = %s/%s, want COMPLETE/DONE", got.Status, got.SynthesisState)
	}
	report, err := env.eng.GetReport(context.Background(), job.ID)
	if err != nil || report != "# Final Report" {
		t.Fatalf("report = %q, %v", report, err)
	}
}

func TestReviseRequiresFeedback(t *testing.T) {
	env := newTestEnv(t)
	job := env.jobAwaiting(t)

	_, err := env.eng.Review(context.Background(), job.ThesisDossierID, ActionRevise, "  ", "tester")
	if !errors.Is(err, ErrMissingFeedback) {
		t.Fatalf("err = %v, want ErrMissingFeedback", err)
	}
}

func TestReviseBumpsCycleAndRedispatches(t *testing.T) {
	env := newTestEnv(t)
	job := env.jobAwaiting(t)

	if _, err := env.eng.Review(context.Background(), job.AntithesisDossierID, ActionApprove, "", "tester"); err != nil {
		t.Fatal(err)
	}
	out, err := env.eng.Review(context.Background(), job.ThesisDossierID, ActionRevise, "needs stronger sources", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if out.Dossier.Cycle != 2 || out.Dossier.Status != domain.DossierResearching {
		t.Fatalf("dossier = %s cycle %d, want RESEARCHING cycle 2", out.Dossier.Status, out.Dossier.Cycle)
	}
	if out.Job.Status != domain.JobRevisingThesis {
		t.Fatalf("job status = %s, want REVISING_THESIS", out.Job.Status)
	}
	last := env.disp.research[env.disp.researchCount()-1]
	if last.Cycle != 2 || last.Feedback != "needs stronger sources" || len(last.PriorPlan) == 0 {
		t.Fatalf("revision assignment wrong: %+v", last)
	}

	// A completion from the superseded cycle is discarded.
	if err := env.eng.CompleteResearch(context.Background(), goodResult(job.ThesisDossierID, 1)); err != nil {
		t.Fatal(err)
	}
	d, err := env.eng.Repo.GetDossier(context.Background(), job.ThesisDossierID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.DossierResearching || d.Cycle != 2 {
		t.Fatalf("stale completion applied: %s cycle %d", d.Status, d.Cycle)
	}
	if !env.hasEvent(t, job.ID, "research.stale_completion") {
		t.Fatal("missing research.stale_completion event")
	}

	env.finishResearch(t, job.ThesisDossierID, 2)
	out, err = env.eng.Review(context.Background(), job.ThesisDossierID, ActionApprove, "", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if !out.SynthesisDispatched {
		t.Fatal("synthesis not dispatched after revised side approved")
	}

	detail, err := env.eng.GetDossierDetail(context.Background(), job.ThesisDossierID)
	if err != nil {
		t.Fatal(err)
	}
	if len(detail.Revisions) != 1 || detail.Revisions[0].Feedback != "needs stronger sources" {
		t.Fatalf("revision history wrong: %+v", detail.Revisions)
	}
}

func TestRevisingBothSides(t *testing.T) {
	env := newTestEnv(t)
	job := env.jobAwaiting(t)

	for _, id := range []string{job.ThesisDossierID, job.AntithesisDossierID} {
		if _, err := env.eng.Review(context.Background(), id, ActionRevise, "dig deeper", "tester"); err != nil {
			t.Fatal(err)
		}
	}
	if got := env.mustJob(t, job.ID).Status; got != domain.JobRevisingBoth {
		t.Fatalf("job status = %s, want REVISING_BOTH", got)
	}
}

func TestReviseApprovedDossierRejected(t *testing.T) {
	env := newTestEnv(t)
	job := env.jobAwaiting(t)

	if _, err := env.eng.Review(context.Background(), job.ThesisDossierID, ActionApprove, "", "tester"); err != nil {
		t.Fatal(err)
	}
	_, err := env.eng.Review(context.Background(), job.ThesisDossierID, ActionRevise, "too late", "tester")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestResearchFailureFailsJob(t *testing.T) {
	env := newTestEnv(t)
	job := env.newJob(t)

	res := worker.ResearchResult{DossierID: job.ThesisDossierID, Cycle: 1, Err: "provider unreachable"}
	if err := env.eng.CompleteResearch(context.Background(), res); err != nil {
		t.Fatal(err)
	}
	got := env.mustJob(t, job.ID)
	if got.Status != domain.JobFailed || got.Failure == nil {
		t.Fatalf("job = %s failure=%v, want FAILED with reason", got.Status, got.Failure)
	}
	if !strings.Contains(*got.Failure, "provider unreachable") {
		t.Fatalf("failure = %q", *got.Failure)
	}

	// A failed job accepts no further reviews.
	env.finishResearch(t, job.AntithesisDossierID, 1)
	d, err := env.eng.Repo.GetDossier(context.Background(), job.AntithesisDossierID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != domain.DossierResearching {
		t.Fatalf("completion applied to failed job: %s", d.Status)
	}
	_, err = env.eng.Review(context.Background(), job.AntithesisDossierID, ActionApprove, "", "tester")
	if !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrResearchInFlight) {
		t.Fatalf("err = %v, want rejection", err)
	}
}

func TestSynthesisFailureFailsJobButKeepsDispatchMarker(t *testing.T) {
	env := newTestEnv(t)
	job := env.jobAwaiting(t)
	for _, id := range []string{job.ThesisDossierID, job.AntithesisDossierID} {
		if _, err := env.eng.Review(context.Background(), id, ActionApprove, "", "tester"); err != nil {
			t.Fatal(err)
		}
	}

	if err := env.eng.CompleteSynthesis(context.Background(), worker.SynthesisResult{JobID: job.ID, Err: "model overloaded"}); err != nil {
		t.Fatal(err)
	}
	got := env.mustJob(t, job.ID)
	if got.Status != domain.JobFailed || got.SynthesisState != domain.SynthesisDispatched {
		t.Fatalf("job = %s/%s, want FAILED/DISPATCHED", got.Status, got.SynthesisState)
	}
	if _, err := env.eng.GetReport(context.Background(), job.ID); !errors.Is(err, ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestVerificationStatus(t *testing.T) {
	env := newTestEnv(t)
	job := env.jobAwaiting(t)

	vs, err := env.eng.GetVerificationStatus(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if vs.ThesisApproved || vs.AntithesisApproved || vs.CanSynthesize {
		t.Fatalf("fresh job reads approved: %+v", vs)
	}

	if _, err := env.eng.Review(context.Background(), job.ThesisDossierID, ActionApprove, "", "tester"); err != nil {
		t.Fatal(err)
	}
	vs, err = env.eng.GetVerificationStatus(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !vs.ThesisApproved || vs.AntithesisApproved || vs.CanSynthesize {
		t.Fatalf("after one approval: %+v", vs)
	}
}

// Concurrent approvals of both dossiers must produce exactly one
// synthesis dispatch no matter how the calls interleave.
func TestConcurrentApprovalsDispatchSynthesisExactlyOnce(t *testing.T) {
	for round := 0; round < 10; round++ {
		env := newTestEnv(t)
		job := env.jobAwaiting(t)

		ids := []string{
			job.ThesisDossierID, job.AntithesisDossierID,
			job.AntithesisDossierID, job.ThesisDossierID,
			job.ThesisDossierID, job.AntithesisDossierID,
		}
		var wg sync.WaitGroup
		errs := make([]error, len(ids))
		for i, id := range ids {
			wg.Add(1)
			go func(i int, id string) {
				defer wg.Done()
				_, errs[i] = env.eng.Review(context.Background(), id, ActionApprove, "", "tester")
			}(i, id)
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Fatalf("round %d: review %d: %v", round, i, err)
			}
		}
		if n := env.disp.synthesisCount(); n != 1 {
			t.Fatalf("round %d: synthesis dispatches = %d, want 1", round, n)
		}
		if got := env.mustJob(t, job.ID).Status; got != domain.JobSynthesizing {
			t.Fatalf("round %d: job status = %s", round, got)
		}
	}
}
