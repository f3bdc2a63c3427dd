package engine

import "dialectica/internal/domain"

// SideState is the derivation-relevant slice of one dossier: its status
// and whether it has been sent back at least once.
type SideState struct {
	Status  string
	Revised bool
}

func sideOf(d domain.Dossier) SideState {
	return SideState{Status: d.Status, Revised: d.Cycle > 1}
}

func active(s SideState) bool {
	return s.Status == domain.DossierResearching || s.Status == domain.DossierRevisionRequested
}

// DeriveJobStatus computes the job status from its parts. Job status is
// never stored independently of the facts it is derived from, so every
// mutation recomputes it through here.
func DeriveJobStatus(thesis, antithesis SideState, synthesis string, failed bool) string {
	if failed {
		return domain.JobFailed
	}
	switch synthesis {
	case domain.SynthesisDone:
		return domain.JobComplete
	case domain.SynthesisDispatched:
		return domain.JobSynthesizing
	}
	if thesis.Status == domain.DossierApproved && antithesis.Status == domain.DossierApproved {
		return domain.JobSynthesizing
	}
	switch {
	case active(thesis) && thesis.Revised && active(antithesis) && antithesis.Revised:
		return domain.JobRevisingBoth
	case active(thesis) && thesis.Revised && antithesis.Status == domain.DossierApproved:
		return domain.JobRevisingThesis
	case active(antithesis) && antithesis.Revised && thesis.Status == domain.DossierApproved:
		return domain.JobRevisingAntithesis
	}
	if thesis.Status == domain.DossierPending && antithesis.Status == domain.DossierPending {
		return domain.JobPending
	}
	if thesis.Status == domain.DossierPending || antithesis.Status == domain.DossierPending ||
		active(thesis) || active(antithesis) {
		return domain.JobResearching
	}
	return domain.JobAwaitingVerification
}
