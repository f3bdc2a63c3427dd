// Package dialecticasdk is a minimal client for the Dialectica HTTP API.
package dialecticasdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a Dialectica server.
type Client struct {
	BaseURL     string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Job is the API job model.
type Job struct {
	ID                  string  `json:"id"`
	Query               string  `json:"query"`
	Status              string  `json:"status"`
	SynthesisState      string  `json:"synthesis_state"`
	ThesisDossierID     string  `json:"thesis_dossier_id"`
	AntithesisDossierID string  `json:"antithesis_dossier_id"`
	Failure             *string `json:"failure,omitempty"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
}

// Dossier is the API dossier model.
type Dossier struct {
	ID      string `json:"id"`
	JobID   string `json:"job_id"`
	Kind    string `json:"kind"`
	Mission string `json:"mission"`
	Status  string `json:"status"`
	Summary string `json:"summary,omitempty"`
	Cycle   int    `json:"cycle"`
}

// JobDetail is a job with both dossiers.
type JobDetail struct {
	Job
	Thesis     Dossier `json:"thesis"`
	Antithesis Dossier `json:"antithesis"`
}

// PlanStep is one entry of a dossier's research plan.
type PlanStep struct {
	StepNumber      int    `json:"step_number"`
	Description     string `json:"description"`
	Status          string `json:"status"`
	ToolUsed        string `json:"tool_used,omitempty"`
	Justification   string `json:"justification,omitempty"`
	DataGap         string `json:"data_gap,omitempty"`
	ProxyHypothesis string `json:"proxy_hypothesis,omitempty"`
}

// Evidence is one research finding.
type Evidence struct {
	Title      string   `json:"title"`
	Finding    string   `json:"finding"`
	Source     string   `json:"source"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags,omitempty"`
}

// Revision is one reviewer send-back.
type Revision struct {
	Feedback string `json:"feedback"`
	TS       string `json:"ts"`
}

// DossierDetail is a dossier with its full material.
type DossierDetail struct {
	Dossier
	Plan      []PlanStep `json:"plan"`
	Evidence  []Evidence `json:"evidence"`
	Revisions []Revision `json:"revisions"`
}

// ReviewResult is what a review call returns.
type ReviewResult struct {
	Dossier             Dossier `json:"dossier"`
	Job                 Job     `json:"job"`
	SynthesisDispatched bool    `json:"synthesis_dispatched"`
}

// Verification summarizes the human gate for one job.
type Verification struct {
	JobID              string `json:"job_id"`
	ThesisApproved     bool   `json:"thesis_approved"`
	AntithesisApproved bool   `json:"antithesis_approved"`
	CanSynthesize      bool   `json:"can_synthesize"`
	SynthesisState     string `json:"synthesis_state"`
}

// Report is the final synthesized output.
type Report struct {
	JobID  string `json:"job_id"`
	Query  string `json:"query"`
	Report string `json:"report"`
}

// Event is one audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateResearch starts a new job.
func (c *Client) CreateResearch(ctx context.Context, query string) (JobDetail, error) {
	var resp JobDetail
	err := c.do(ctx, http.MethodPost, "v1/research", map[string]string{"query": query}, &resp)
	return resp, err
}

// ListJobs returns recent jobs.
func (c *Client) ListJobs(ctx context.Context) ([]Job, error) {
	var resp []Job
	err := c.do(ctx, http.MethodGet, "v1/research", nil, &resp)
	return resp, err
}

// GetJob fetches a job with both dossiers.
func (c *Client) GetJob(ctx context.Context, jobID string) (JobDetail, error) {
	var resp JobDetail
	err := c.do(ctx, http.MethodGet, "v1/research/"+url.PathEscape(jobID), nil, &resp)
	return resp, err
}

// GetVerification fetches the verification gate status.
func (c *Client) GetVerification(ctx context.Context, jobID string) (Verification, error) {
	var resp Verification
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/research/%s/verification", url.PathEscape(jobID)), nil, &resp)
	return resp, err
}

// GetReport fetches the final report once the job is complete.
func (c *Client) GetReport(ctx context.Context, jobID string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/research/%s/report", url.PathEscape(jobID)), nil, &resp)
	return resp, err
}

// ListEvents returns the audit log for one job.
func (c *Client) ListEvents(ctx context.Context, jobID string) ([]Event, error) {
	var resp []Event
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/research/%s/events", url.PathEscape(jobID)), nil, &resp)
	return resp, err
}

// GetDossier fetches one dossier with its full material.
func (c *Client) GetDossier(ctx context.Context, dossierID string) (DossierDetail, error) {
	var resp DossierDetail
	err := c.do(ctx, http.MethodGet, "v1/dossiers/"+url.PathEscape(dossierID), nil, &resp)
	return resp, err
}

// Approve marks a dossier as verified.
func (c *Client) Approve(ctx context.Context, dossierID string) (ReviewResult, error) {
	return c.review(ctx, dossierID, "approve", "")
}

// Revise sends a dossier back to research with feedback.
func (c *Client) Revise(ctx context.Context, dossierID, feedback string) (ReviewResult, error) {
	return c.review(ctx, dossierID, "revise", feedback)
}

func (c *Client) review(ctx context.Context, dossierID, action, feedback string) (ReviewResult, error) {
	body := map[string]string{"action": action}
	if feedback != "" {
		body["feedback"] = feedback
	}
	var resp ReviewResult
	endpoint := fmt.Sprintf("v1/dossiers/%s/review", url.PathEscape(dossierID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
