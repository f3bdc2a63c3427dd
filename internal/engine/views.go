package engine

import (
	"context"
	"fmt"

	"dialectica/internal/domain"
)

// JobSnapshot is a job together with both of its dossiers.
type JobSnapshot struct {
	Job        domain.Job
	Thesis     domain.Dossier
	Antithesis domain.Dossier
}

// DossierDetail is one dossier with its full material.
type DossierDetail struct {
	Dossier   domain.Dossier
	Plan      []domain.PlanStep
	Evidence  []domain.EvidenceItem
	Revisions []domain.RevisionEntry
}

// VerificationStatus summarizes the human gate for one job.
type VerificationStatus struct {
	JobID              string
	ThesisApproved     bool
	AntithesisApproved bool
	CanSynthesize      bool
	SynthesisState     string
}

func (e Engine) GetJob(ctx context.Context, id string) (domain.Job, error) {
	return e.Repo.GetJob(ctx, id)
}

func (e Engine) GetJobSnapshot(ctx context.Context, id string) (JobSnapshot, error) {
	job, err := e.Repo.GetJob(ctx, id)
	if err != nil {
		return JobSnapshot{}, err
	}
	thesis, err := e.Repo.GetDossier(ctx, job.ThesisDossierID)
	if err != nil {
		return JobSnapshot{}, err
	}
	antithesis, err := e.Repo.GetDossier(ctx, job.AntithesisDossierID)
	if err != nil {
		return JobSnapshot{}, err
	}
	return JobSnapshot{Job: job, Thesis: thesis, Antithesis: antithesis}, nil
}

func (e Engine) GetDossierDetail(ctx context.Context, id string) (DossierDetail, error) {
	d, err := e.Repo.GetDossier(ctx, id)
	if err != nil {
		return DossierDetail{}, err
	}
	plan, err := e.Repo.ListPlanSteps(ctx, id)
	if err != nil {
		return DossierDetail{}, err
	}
	evidence, err := e.Repo.ListEvidence(ctx, id)
	if err != nil {
		return DossierDetail{}, err
	}
	revisions, err := e.Repo.ListRevisions(ctx, id)
	if err != nil {
		return DossierDetail{}, err
	}
	return DossierDetail{Dossier: d, Plan: plan, Evidence: evidence, Revisions: revisions}, nil
}

func (e Engine) GetVerificationStatus(ctx context.Context, jobID string) (VerificationStatus, error) {
	snap, err := e.GetJobSnapshot(ctx, jobID)
	if err != nil {
		return VerificationStatus{}, err
	}
	vs := VerificationStatus{
		JobID:              jobID,
		ThesisApproved:     snap.Thesis.Status == domain.DossierApproved,
		AntithesisApproved: snap.Antithesis.Status == domain.DossierApproved,
		SynthesisState:     snap.Job.SynthesisState,
	}
	vs.CanSynthesize = vs.ThesisApproved && vs.AntithesisApproved && snap.Job.Failure == nil
	return vs, nil
}

// GetReport returns the synthesized report once the job is complete.
func (e Engine) GetReport(ctx context.Context, jobID string) (string, error) {
	job, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return "", err
	}
	if job.Status != domain.JobComplete || job.Report == nil {
		return "", fmt.Errorf("%w: job %s is %s", ErrNotReady, jobID, job.Status)
	}
	return *job.Report, nil
}
