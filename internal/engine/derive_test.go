package engine

import (
	"testing"

	"dialectica/internal/domain"
)

func TestDeriveJobStatus(t *testing.T) {
	pending := SideState{Status: domain.DossierPending}
	researching := SideState{Status: domain.DossierResearching}
	revising := SideState{Status: domain.DossierResearching, Revised: true}
	awaiting := SideState{Status: domain.DossierAwaitingVerification}
	approved := SideState{Status: domain.DossierApproved}

	cases := []struct {
		name       string
		thesis     SideState
		antithesis SideState
		synthesis  string
		failed     bool
		want       string
	}{
		{"both pending", pending, pending, domain.SynthesisNotStarted, false, domain.JobPending},
		{"one researching", researching, pending, domain.SynthesisNotStarted, false, domain.JobResearching},
		{"both researching", researching, researching, domain.SynthesisNotStarted, false, domain.JobResearching},
		{"one done one researching", awaiting, researching, domain.SynthesisNotStarted, false, domain.JobResearching},
		{"both awaiting", awaiting, awaiting, domain.SynthesisNotStarted, false, domain.JobAwaitingVerification},
		{"one approved one awaiting", approved, awaiting, domain.SynthesisNotStarted, false, domain.JobAwaitingVerification},
		{"revising thesis", revising, approved, domain.SynthesisNotStarted, false, domain.JobRevisingThesis},
		{"revising antithesis", approved, revising, domain.SynthesisNotStarted, false, domain.JobRevisingAntithesis},
		{"revising both", revising, revising, domain.SynthesisNotStarted, false, domain.JobRevisingBoth},
		{"revising while other awaits", revising, awaiting, domain.SynthesisNotStarted, false, domain.JobResearching},
		{"both approved", approved, approved, domain.SynthesisNotStarted, false, domain.JobSynthesizing},
		{"synthesis dispatched", approved, approved, domain.SynthesisDispatched, false, domain.JobSynthesizing},
		{"synthesis done", approved, approved, domain.SynthesisDone, false, domain.JobComplete},
		{"failure wins", approved, approved, domain.SynthesisDispatched, true, domain.JobFailed},
		{"failure mid research", researching, awaiting, domain.SynthesisNotStarted, true, domain.JobFailed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveJobStatus(tc.thesis, tc.antithesis, tc.synthesis, tc.failed)
			if got != tc.want {
				t.Fatalf("got %s, want %s", got, tc.want)
			}
		})
	}
}
