package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"dialectica/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier abstracts *sql.DB and *sql.Tx so reads work inside and outside
// engine transactions.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const jobColumns = `id,query,status,synthesis_state,thesis_dossier_id,antithesis_dossier_id,report,failure,created_at,updated_at`

func scanJob(row *sql.Row) (domain.Job, error) {
	var j domain.Job
	var report, failure sql.NullString
	err := row.Scan(&j.ID, &j.Query, &j.Status, &j.SynthesisState, &j.ThesisDossierID, &j.AntithesisDossierID, &report, &failure, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	if report.Valid {
		j.Report = &report.String
	}
	if failure.Valid {
		j.Failure = &failure.String
	}
	return j, err
}

func (r Repo) InsertJobTx(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO jobs(id,query,status,synthesis_state,thesis_dossier_id,antithesis_dossier_id,report,failure,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.Query, j.Status, j.SynthesisState, j.ThesisDossierID, j.AntithesisDossierID, j.Report, j.Failure, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r Repo) GetJob(ctx context.Context, id string) (domain.Job, error) {
	return getJob(ctx, r.DB, id)
}

func (r Repo) GetJobTx(ctx context.Context, tx *sql.Tx, id string) (domain.Job, error) {
	return getJob(ctx, tx, id)
}

func getJob(ctx context.Context, q querier, id string) (domain.Job, error) {
	return scanJob(q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id=?`, id))
}

func (r Repo) ListJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		var j domain.Job
		var report, failure sql.NullString
		if err := rows.Scan(&j.ID, &j.Query, &j.Status, &j.SynthesisState, &j.ThesisDossierID, &j.AntithesisDossierID, &report, &failure, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, err
		}
		if report.Valid {
			j.Report = &report.String
		}
		if failure.Valid {
			j.Failure = &failure.String
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// UpdateJobTx writes back the mutable job columns.
func (r Repo) UpdateJobTx(ctx context.Context, tx *sql.Tx, j domain.Job) error {
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status=?,synthesis_state=?,report=?,failure=?,updated_at=? WHERE id=?`,
		j.Status, j.SynthesisState, j.Report, j.Failure, j.UpdatedAt, j.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimSynthesisTx is the compare-and-set guarding the synthesis dispatch:
// it flips NOT_STARTED to DISPATCHED and reports whether this caller won.
func (r Repo) ClaimSynthesisTx(ctx context.Context, tx *sql.Tx, jobID, updatedAt string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET synthesis_state=?, updated_at=? WHERE id=? AND synthesis_state=?`,
		domain.SynthesisDispatched, updatedAt, jobID, domain.SynthesisNotStarted)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) DeleteJob(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

const dossierColumns = `id,job_id,kind,mission,status,COALESCE(summary,'') AS summary,cycle,created_at,updated_at`

func scanDossier(row *sql.Row) (domain.Dossier, error) {
	var d domain.Dossier
	err := row.Scan(&d.ID, &d.JobID, &d.Kind, &d.Mission, &d.Status, &d.Summary, &d.Cycle, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) InsertDossierTx(ctx context.Context, tx *sql.Tx, d domain.Dossier) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO dossiers(id,job_id,kind,mission,status,summary,cycle,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		d.ID, d.JobID, d.Kind, d.Mission, d.Status, nullable(d.Summary), d.Cycle, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDossier(ctx context.Context, id string) (domain.Dossier, error) {
	return getDossier(ctx, r.DB, id)
}

func (r Repo) GetDossierTx(ctx context.Context, tx *sql.Tx, id string) (domain.Dossier, error) {
	return getDossier(ctx, tx, id)
}

func getDossier(ctx context.Context, q querier, id string) (domain.Dossier, error) {
	return scanDossier(q.QueryRowContext(ctx, `SELECT `+dossierColumns+` FROM dossiers WHERE id=?`, id))
}

func (r Repo) UpdateDossierTx(ctx context.Context, tx *sql.Tx, d domain.Dossier) error {
	res, err := tx.ExecContext(ctx, `UPDATE dossiers SET status=?,summary=?,cycle=?,updated_at=? WHERE id=?`,
		d.Status, nullable(d.Summary), d.Cycle, d.UpdatedAt, d.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplacePlanTx swaps the dossier's plan for the worker-reported snapshot.
func (r Repo) ReplacePlanTx(ctx context.Context, tx *sql.Tx, dossierID string, steps []domain.PlanStep) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_steps WHERE dossier_id=?`, dossierID); err != nil {
		return err
	}
	for _, s := range steps {
		if _, err := tx.ExecContext(ctx, `INSERT INTO plan_steps(id,dossier_id,step_number,description,status,tool_used,justification,data_gap,proxy_hypothesis) VALUES (?,?,?,?,?,?,?,?,?)`,
			s.ID, dossierID, s.StepNumber, s.Description, s.Status, nullable(s.ToolUsed), nullable(s.Justification), nullable(s.DataGap), nullable(s.ProxyHypothesis)); err != nil {
			return fmt.Errorf("insert plan step %s: %w", s.ID, err)
		}
	}
	return nil
}

func (r Repo) ListPlanSteps(ctx context.Context, dossierID string) ([]domain.PlanStep, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,dossier_id,step_number,description,status,COALESCE(tool_used,''),COALESCE(justification,''),COALESCE(data_gap,''),COALESCE(proxy_hypothesis,'') FROM plan_steps WHERE dossier_id=? ORDER BY step_number`, dossierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PlanStep
	for rows.Next() {
		var s domain.PlanStep
		if err := rows.Scan(&s.ID, &s.DossierID, &s.StepNumber, &s.Description, &s.Status, &s.ToolUsed, &s.Justification, &s.DataGap, &s.ProxyHypothesis); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ReplaceEvidenceTx swaps the dossier's evidence for the worker-reported
// snapshot. Only called while the dossier is owned by a research cycle.
func (r Repo) ReplaceEvidenceTx(ctx context.Context, tx *sql.Tx, dossierID string, items []domain.EvidenceItem) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM evidence_items WHERE dossier_id=?`, dossierID); err != nil {
		return err
	}
	for _, item := range items {
		tags, err := marshalTags(item.Tags)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO evidence_items(id,dossier_id,title,finding,source,confidence,tags_json,created_at) VALUES (?,?,?,?,?,?,?,?)`,
			item.ID, dossierID, item.Title, item.Finding, item.Source, item.Confidence, tags, item.CreatedAt); err != nil {
			return fmt.Errorf("insert evidence %s: %w", item.ID, err)
		}
	}
	return nil
}

func (r Repo) ListEvidence(ctx context.Context, dossierID string) ([]domain.EvidenceItem, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,dossier_id,title,finding,source,confidence,COALESCE(tags_json,''),created_at FROM evidence_items WHERE dossier_id=? ORDER BY created_at, id`, dossierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EvidenceItem
	for rows.Next() {
		var item domain.EvidenceItem
		var tags string
		if err := rows.Scan(&item.ID, &item.DossierID, &item.Title, &item.Finding, &item.Source, &item.Confidence, &tags, &item.CreatedAt); err != nil {
			return nil, err
		}
		if tags != "" {
			_ = json.Unmarshal([]byte(tags), &item.Tags)
		}
		res = append(res, item)
	}
	return res, rows.Err()
}

func (r Repo) InsertRevisionTx(ctx context.Context, tx *sql.Tx, e domain.RevisionEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO revision_entries(dossier_id,feedback,ts) VALUES (?,?,?)`,
		e.DossierID, e.Feedback, e.TS)
	return err
}

func (r Repo) ListRevisions(ctx context.Context, dossierID string) ([]domain.RevisionEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT dossier_id,feedback,ts FROM revision_entries WHERE dossier_id=? ORDER BY id`, dossierID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RevisionEntry
	for rows.Next() {
		var e domain.RevisionEntry
		if err := rows.Scan(&e.DossierID, &e.Feedback, &e.TS); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func marshalTags(tags []string) (any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return nil, fmt.Errorf("marshal tags: %w", err)
	}
	return string(b), nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
