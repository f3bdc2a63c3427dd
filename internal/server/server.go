package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"dialectica/internal/engine"
	"dialectica/internal/repo"
	"dialectica/internal/worker"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"dossier is not awaiting verification"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Dialectica API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema validation errors read as bad requests.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Dialectica API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerResearch(group, cfg.Engine)
	registerDossiers(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerCompletions(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var cerr *engine.ChecklistError
	if errors.As(err, &cerr) {
		return newAPIError(http.StatusUnprocessableEntity, "checklist_unsatisfied", err.Error(), map[string]any{"missing": cerr.Missing})
	}
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, engine.ErrMissingFeedback):
		return newAPIError(http.StatusBadRequest, "feedback_required", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidInput):
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	case errors.Is(err, engine.ErrResearchInFlight):
		return newAPIError(http.StatusConflict, "research_in_flight", err.Error(), nil)
	case errors.Is(err, engine.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), nil)
	case errors.Is(err, engine.ErrNotReady):
		return newAPIError(http.StatusConflict, "not_ready", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerResearch(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-research-job",
		Method:        http.MethodPost,
		Path:          "/research",
		Summary:       "Start a dialectical research job",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateResearchRequest `json:"body"`
	}) (*struct {
		Body JobDetailResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		job, err := e.CreateJob(ctx, input.Body.Query, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		snap, err := e.GetJobSnapshot(ctx, job.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobDetailResponse `json:"body"`
		}{Body: jobDetailResponse(snap)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-research-jobs",
		Method:      http.MethodGet,
		Path:        "/research",
		Summary:     "List research jobs",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
	}) (*struct {
		Body []JobResponse `json:"body"`
	}, error) {
		jobs, err := e.Repo.ListJobs(ctx, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]JobResponse, 0, len(jobs))
		for _, j := range jobs {
			out = append(out, jobResponse(j))
		}
		return &struct {
			Body []JobResponse `json:"body"`
		}{Body: out}, nil
	})

	type jobPath struct {
		JobID string `path:"job_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-research-job",
		Method:      http.MethodGet,
		Path:        "/research/{job_id}",
		Summary:     "Get one research job with both dossiers",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *jobPath) (*struct {
		Body JobDetailResponse `json:"body"`
	}, error) {
		snap, err := e.GetJobSnapshot(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobDetailResponse `json:"body"`
		}{Body: jobDetailResponse(snap)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-job-dossiers",
		Method:      http.MethodGet,
		Path:        "/research/{job_id}/dossiers",
		Summary:     "Both dossiers of a research job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *jobPath) (*struct {
		Body struct {
			Thesis     DossierResponse `json:"thesis"`
			Antithesis DossierResponse `json:"antithesis"`
		} `json:"body"`
	}, error) {
		snap, err := e.GetJobSnapshot(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		out := &struct {
			Body struct {
				Thesis     DossierResponse `json:"thesis"`
				Antithesis DossierResponse `json:"antithesis"`
			} `json:"body"`
		}{}
		out.Body.Thesis = dossierResponse(snap.Thesis)
		out.Body.Antithesis = dossierResponse(snap.Antithesis)
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-verification-status",
		Method:      http.MethodGet,
		Path:        "/research/{job_id}/verification",
		Summary:     "Verification gate status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *jobPath) (*struct {
		Body VerificationResponse `json:"body"`
	}, error) {
		vs, err := e.GetVerificationStatus(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body VerificationResponse `json:"body"`
		}{Body: VerificationResponse{
			JobID:              vs.JobID,
			ThesisApproved:     vs.ThesisApproved,
			AntithesisApproved: vs.AntithesisApproved,
			CanSynthesize:      vs.CanSynthesize,
			SynthesisState:     vs.SynthesisState,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-final-report",
		Method:      http.MethodGet,
		Path:        "/research/{job_id}/report",
		Summary:     "Final synthesized report",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *jobPath) (*struct {
		Body ReportResponse `json:"body"`
	}, error) {
		job, err := e.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		report, err := e.GetReport(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReportResponse `json:"body"`
		}{Body: ReportResponse{JobID: job.ID, Query: job.Query, Report: report}}, nil
	})
}

func registerDossiers(api huma.API, e engine.Engine) {
	type DossierPath struct {
		DossierID string `path:"dossier_id"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-dossier",
		Method:      http.MethodGet,
		Path:        "/dossiers/{dossier_id}",
		Summary:     "Get one dossier with plan, evidence and revision history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *DossierPath) (*struct {
		Body DossierDetailResponse `json:"body"`
	}, error) {
		detail, err := e.GetDossierDetail(ctx, input.DossierID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DossierDetailResponse `json:"body"`
		}{Body: dossierDetailResponse(detail)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-dossier",
		Method:      http.MethodPost,
		Path:        "/dossiers/{dossier_id}/review",
		Summary:     "Approve a dossier or send it back with feedback",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		DossierPath
		Body ReviewRequest `json:"body"`
	}) (*struct {
		Body ReviewResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		out, err := e.Review(ctx, input.DossierID, input.Body.Action, input.Body.Feedback, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReviewResponse `json:"body"`
		}{Body: ReviewResponse{
			Dossier:             dossierResponse(out.Dossier),
			Job:                 jobResponse(out.Job),
			SynthesisDispatched: out.SynthesisDispatched,
		}}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-job-events",
		Method:      http.MethodGet,
		Path:        "/research/{job_id}/events",
		Summary:     "Audit log for one job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID   string `path:"job_id"`
		Limit   int    `query:"limit" default:"100" minimum:"1" maximum:"1000"`
		AfterID int64  `query:"after_id" default:"0"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetJob(ctx, input.JobID); err != nil {
			return nil, handleError(err)
		}
		evts, err := e.Repo.ListEvents(ctx, input.JobID, input.Limit, input.AfterID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(evts))
		for _, evt := range evts {
			out = append(out, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

// Completion endpoints let out-of-process workers post results back. The
// in-process pool calls the engine directly and never goes through here.
func registerCompletions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "post-research-completion",
		Method:        http.MethodPost,
		Path:          "/internal/research-completions",
		Summary:       "Record a research worker result",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body struct {
			DossierID string             `json:"dossier_id"`
			Cycle     int                `json:"cycle" minimum:"1"`
			Plan      []PlanStepResponse `json:"plan,omitempty"`
			Evidence  []EvidenceResponse `json:"evidence,omitempty"`
			Summary   string             `json:"summary,omitempty"`
			Error     string             `json:"error,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		res := worker.ResearchResult{
			DossierID: input.Body.DossierID,
			Cycle:     input.Body.Cycle,
			Summary:   input.Body.Summary,
			Err:       input.Body.Error,
		}
		for _, s := range input.Body.Plan {
			res.Plan = append(res.Plan, planStepFromResponse(s))
		}
		for _, item := range input.Body.Evidence {
			res.Evidence = append(res.Evidence, evidenceFromResponse(item))
		}
		if err := e.CompleteResearch(ctx, res); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "accepted"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "post-synthesis-completion",
		Method:        http.MethodPost,
		Path:          "/internal/synthesis-completions",
		Summary:       "Record a synthesis worker result",
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body struct {
			JobID  string `json:"job_id"`
			Report string `json:"report,omitempty"`
			Error  string `json:"error,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		err := e.CompleteSynthesis(ctx, worker.SynthesisResult{
			JobID:  input.Body.JobID,
			Report: input.Body.Report,
			Err:    input.Body.Error,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "accepted"}}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Dialectica API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt;.
    </p>
  </body>
</html>`, specURL)
}
