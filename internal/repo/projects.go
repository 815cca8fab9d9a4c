package repo

import (
	"context"
	"database/sql"
	"strings"

	"solaire/internal/domain"
)

const projectCols = `id,reference,lead_id,COALESCE(company,'') AS company,contact_name,COALESCE(email,'') AS email,COALESCE(phone,'') AS phone,COALESCE(address,'') AS address,COALESCE(city,'') AS city,COALESCE(postal_code,'') AS postal_code,power_kwc,panels_count,pack,status,progress,created_at,updated_at`

type projectScanner interface {
	Scan(dest ...any) error
}

func scanProject(row projectScanner) (domain.Project, error) {
	var p domain.Project
	var leadID sql.NullString
	var power sql.NullFloat64
	var panels, progress sql.NullInt64
	err := row.Scan(&p.ID, &p.Reference, &leadID, &p.Beneficiary.Company, &p.Beneficiary.ContactName, &p.Beneficiary.Email, &p.Beneficiary.Phone,
		&p.Installation.Address, &p.Installation.City, &p.Installation.PostalCode, &power, &panels,
		&p.Pack, &p.Status, &progress, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	p.LeadID = strPtr(leadID)
	if power.Valid {
		v := power.Float64
		p.Installation.PowerKWC = &v
	}
	if panels.Valid {
		v := int(panels.Int64)
		p.Installation.PanelsCount = &v
	}
	if progress.Valid {
		v := int(progress.Int64)
		p.Progress = &v
	}
	return p, err
}

func (r Repo) InsertProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,reference,lead_id,company,contact_name,email,phone,address,city,postal_code,power_kwc,panels_count,pack,status,progress,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Reference, nullablePtr(p.LeadID), nullable(p.Beneficiary.Company), p.Beneficiary.ContactName, nullable(p.Beneficiary.Email), nullable(p.Beneficiary.Phone),
		nullable(p.Installation.Address), nullable(p.Installation.City), nullable(p.Installation.PostalCode),
		nullableFloat(p.Installation.PowerKWC), nullableInt(p.Installation.PanelsCount),
		p.Pack, p.Status, nullableInt(p.Progress), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	for _, key := range stageKeys() {
		state, _ := p.Workflow.Stage(key)
		step := state.CurrentStep
		if step == "" {
			step = "pending"
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO stage_states(project_id,stage,current_step) VALUES (?,?,?)`, p.ID, key, step); err != nil {
			return err
		}
	}
	return nil
}

func stageKeys() []string {
	return []string{"dp", "consuel", "enedis", "edfOa"}
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	p, err := scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	if err := r.loadWorkflow(ctx, r.DB.QueryContext, &p); err != nil {
		return p, err
	}
	return p, nil
}

func (r Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, id string) (domain.Project, error) {
	p, err := scanProject(tx.QueryRowContext(ctx, `SELECT `+projectCols+` FROM projects WHERE id=?`, id))
	if err != nil {
		return p, err
	}
	if err := r.loadWorkflow(ctx, tx.QueryContext, &p); err != nil {
		return p, err
	}
	return p, nil
}

type queryFn func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func (r Repo) loadWorkflow(ctx context.Context, query queryFn, p *domain.Project) error {
	rows, err := query(ctx, `SELECT stage,current_step FROM stage_states WHERE project_id=?`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	wf := domain.NewWorkflow()
	for rows.Next() {
		var stage, step string
		if err := rows.Scan(&stage, &step); err != nil {
			return err
		}
		wf.SetStage(stage, domain.StageState{CurrentStep: step})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	trows, err := query(ctx, `SELECT stage,from_step,to_step,at,COALESCE(notes,'') AS notes FROM stage_transitions WHERE project_id=? ORDER BY id ASC`, p.ID)
	if err != nil {
		return err
	}
	defer trows.Close()
	for trows.Next() {
		var stage string
		var t domain.Transition
		if err := trows.Scan(&stage, &t.From, &t.To, &t.At, &t.Notes); err != nil {
			return err
		}
		state, ok := wf.Stage(stage)
		if !ok {
			continue
		}
		state.History = append(state.History, t)
		wf.SetStage(stage, state)
	}
	if err := trows.Err(); err != nil {
		return err
	}
	p.Workflow = wf
	return nil
}

type ProjectFilters struct {
	Status          string
	Pack            string
	LeadID          string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Pack != "" {
		clauses = append(clauses, "pack=?")
		args = append(args, f.Pack)
	}
	if f.LeadID != "" {
		clauses = append(clauses, "lead_id=?")
		args = append(args, f.LeadID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + projectCols + ` FROM projects ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var projects []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range projects {
		if err := r.loadWorkflow(ctx, r.DB.QueryContext, &projects[i]); err != nil {
			return nil, err
		}
	}
	return projects, nil
}

func (r Repo) UpdateProjectTx(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	res, err := tx.ExecContext(ctx, `UPDATE projects SET company=?,contact_name=?,email=?,phone=?,address=?,city=?,postal_code=?,power_kwc=?,panels_count=?,pack=?,status=?,progress=?,updated_at=? WHERE id=?`,
		nullable(p.Beneficiary.Company), p.Beneficiary.ContactName, nullable(p.Beneficiary.Email), nullable(p.Beneficiary.Phone),
		nullable(p.Installation.Address), nullable(p.Installation.City), nullable(p.Installation.PostalCode),
		nullableFloat(p.Installation.PowerKWC), nullableInt(p.Installation.PanelsCount),
		p.Pack, p.Status, nullableInt(p.Progress), p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

func (r Repo) TouchProjectTx(ctx context.Context, tx *sql.Tx, id, updatedAt string) error {
	_, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at=? WHERE id=?`, updatedAt, id)
	return err
}

// SetStageStepTx records the new current step for a stage and appends the
// transition to the history.
func (r Repo) SetStageStepTx(ctx context.Context, tx *sql.Tx, projectID, stage, fromStep, toStep, at, notes string) error {
	res, err := tx.ExecContext(ctx, `UPDATE stage_states SET current_step=? WHERE project_id=? AND stage=?`, toStep, projectID, stage)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO stage_transitions(project_id,stage,from_step,to_step,at,notes) VALUES (?,?,?,?,?,?)`,
		projectID, stage, fromStep, toStep, at, nullable(notes))
	return err
}

// ActiveProjectForLeadTx reports whether an open project already exists
// for the lead.
func (r Repo) ActiveProjectForLeadTx(ctx context.Context, tx *sql.Tx, leadID string) (bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM projects WHERE lead_id=? AND status='en_cours' LIMIT 1`, leadID).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}
